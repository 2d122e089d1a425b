package core

// Frame is a raw binary payload.
type Frame []byte

// SignalSender abstracts the outbound half of the signaling channel.
// Owned by the adapter; the adapter must Close() it.
type SignalSender interface {
	TrySend(Frame) error
	Close()
}
