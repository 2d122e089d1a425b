package session

import (
	"context"

	"github.com/looplab/fsm"
	"github.com/rs/zerolog/log"
)

const (
	stateNew        = "new"
	stateConnecting = "connecting"
	stateConnected  = "connected"
	stateFailed     = "failed"
	stateClosed     = "closed"
)

const (
	evNegotiate = "negotiate"
	evConnect   = "connect"
	evFail      = "fail"
	evClose     = "close"
)

// newLifecycle builds the session state machine. A closed session may be
// revived by an administrative restart, which is why closed appears as a
// negotiate source; autonomous triggers only ever fire on a live transport.
func newLifecycle() *fsm.FSM {
	return fsm.NewFSM(
		stateNew,
		fsm.Events{
			{Name: evNegotiate, Src: []string{stateNew, stateConnected, stateFailed, stateClosed}, Dst: stateConnecting},
			{Name: evConnect, Src: []string{stateConnecting}, Dst: stateConnected},
			{Name: evFail, Src: []string{stateNew, stateConnecting, stateConnected}, Dst: stateFailed},
			{Name: evClose, Src: []string{stateNew, stateConnecting, stateConnected, stateFailed}, Dst: stateClosed},
		},
		fsm.Callbacks{
			"after_event": func(_ context.Context, e *fsm.Event) {
				log.Info().Str("module", "session").
					Str("from", e.Src).
					Str("to", e.Dst).
					Msg("state changed")
			},
		},
	)
}
