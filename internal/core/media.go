package core

import (
	"github.com/pion/webrtc/v4"
)

// MediaTransport abstracts one peer connection handle. The session state
// machine is its sole owner: a handle is built, used and discarded wholesale,
// never rebound to another session generation.
type MediaTransport interface {
	// Close should stop all underlying media resources. Best-effort.
	Close() error

	// CreateAndSetOffer creates a local offer and applies it as the local
	// description.
	CreateAndSetOffer() (*webrtc.SessionDescription, error)
	// CreateAndSetAnswer creates an answer for the current remote offer and
	// applies it as the local description.
	CreateAndSetAnswer() (*webrtc.SessionDescription, error)
	// SetRemoteDescription applies a remote offer or answer.
	SetRemoteDescription(webrtc.SessionDescription) error
	// Rollback discards a pending local offer, returning the signaling state
	// to stable.
	Rollback() error
	// SignalingState reports the underlying signaling state.
	SignalingState() webrtc.SignalingState
	// AddICECandidate applies a remote ICE candidate. The caller must hold
	// candidates back until a remote description has been applied.
	AddICECandidate(webrtc.ICECandidateInit) error

	// WriteEncoded sends one encoded audio payload to the peer.
	WriteEncoded(payload []byte) error

	// OnNegotiationNeeded sets a callback for local renegotiation demand.
	OnNegotiationNeeded(func())
	// OnICECandidate sets a callback for newly gathered local ICE candidates.
	OnICECandidate(func(webrtc.ICECandidateInit))
	// OnConnectionStateChange sets a callback for peer connection state.
	OnConnectionStateChange(func(webrtc.PeerConnectionState))
	// OnRemoteAudio sets a callback invoked with each inbound encoded payload
	// and the stream's synchronization source, in arrival order.
	OnRemoteAudio(func(payload []byte, ssrc uint32))
	// OnFormatKnown sets a callback fired once the negotiated audio format of
	// the remote track is known.
	OnFormatKnown(func(codecName string, clockRate int, channels int))
}

// TransportFactory builds a fresh MediaTransport. The session calls it at
// standup and again on every restart; each handle belongs to exactly one
// session generation.
type TransportFactory func() (MediaTransport, error)
