package core

import "github.com/airband/gateway/internal/domain"

// Events is the collaborator interface the radio side implements. It replaces
// ad hoc event subscription: the single consumer is injected at session
// construction and receives every lifecycle and media notification.
//
// OnTxSamples is called from the media reader path and must not block;
// blocking stalls in-order decode of the TX direction.
type Events interface {
	// OnAudioFormatNegotiated fires once per successful negotiation.
	OnAudioFormatNegotiated(f domain.AudioFormat)
	// OnConnect fires when the peer session reaches the connected state.
	OnConnect()
	// OnClose fires when the peer session is closed or fails.
	OnClose()
	// OnTxSamples delivers decoded peer audio as PCM16 at the configured
	// consumer rate.
	OnTxSamples(samples []int16)
}

// NopEvents is an Events implementation that ignores everything. Useful as a
// default and in tests.
type NopEvents struct{}

func (NopEvents) OnAudioFormatNegotiated(domain.AudioFormat) {}
func (NopEvents) OnConnect()                                 {}
func (NopEvents) OnClose()                                   {}
func (NopEvents) OnTxSamples([]int16)                        {}
