// Package session drives one peer connection to the console: perfect
// negotiation over the signaling channel, liveness watchdogs, failure-driven
// restarts, and the audio pipeline between the radio side and the peer.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bep/debounce"
	"github.com/looplab/fsm"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/airband/gateway/internal/audio"
	"github.com/airband/gateway/internal/core"
	"github.com/airband/gateway/internal/domain"
	"github.com/airband/gateway/internal/metrics"
	"github.com/airband/gateway/internal/record"
	"github.com/airband/gateway/internal/watchdog"
)

var (
	// ErrClosed is returned by operations on a session whose loop has
	// terminated.
	ErrClosed = errors.New("session closed")
	// ErrNotReady is returned while no transport or negotiated format
	// exists to carry media.
	ErrNotReady = errors.New("media session not ready")
)

const (
	defaultWatchdogTimeout  = 500 * time.Millisecond
	defaultOfferDebounce    = 150 * time.Millisecond
	defaultFailureThreshold = 3
)

// Config carries the per-deployment session settings.
type Config struct {
	// Polite fixes the perfect-negotiation role. The gateway defaults to
	// the polite side; the console browser is impolite.
	Polite bool
	// Codec names the payload format offered to the peer.
	Codec string
	// ConsumerRate is the fixed PCM rate handed to the TX consumer; zero
	// means the negotiated clock rate.
	ConsumerRate int
	// Label tags recordings when the caller does not provide one.
	Label string

	RxTimeout     time.Duration
	TxTimeout     time.Duration
	OfferDebounce time.Duration
}

// generation is one transport incarnation. Restart replaces it wholesale;
// filters, codec state and watchdogs never cross generations.
type generation struct {
	id        uint64
	transport core.MediaTransport
	pipeline  atomic.Pointer[audio.Pipeline]
	rx, tx    *watchdog.Timer
	debounce  func(func())
	ssrc      atomic.Uint32
	connected bool
}

// Session owns the negotiation state machine and the live generation. All
// state mutations run on a single mailbox goroutine; media packets take the
// fast path through the pipeline's own locks.
type Session struct {
	cfg     Config
	events  core.Events
	signal  core.SignalSender
	factory core.TransportFactory
	rec     *record.Recorder
	sink    *FailSink

	mailbox   chan func()
	done      chan struct{}
	finished  chan struct{}
	closeOnce sync.Once

	live atomic.Pointer[generation]

	// Loop-owned negotiation state.
	gen         uint64
	lifecycle   *fsm.FSM
	makingOffer bool
	ignoreOffer bool
	remoteSet   bool
	pending     []webrtc.ICECandidateInit
}

// New validates the configuration and starts the session loop. The offered
// codec is checked here so a bad setup fails before any transport exists.
// Start must be called to build the first transport.
func New(cfg Config, events core.Events, sender core.SignalSender, factory core.TransportFactory, rec *record.Recorder, sink *FailSink) (*Session, error) {
	c, err := domain.ParseCodec(cfg.Codec)
	if err != nil {
		return nil, fmt.Errorf("session: %w", err)
	}
	if _, err := domain.FormatFor(c); err != nil {
		return nil, fmt.Errorf("session: %w", err)
	}

	if cfg.RxTimeout <= 0 {
		cfg.RxTimeout = defaultWatchdogTimeout
	}
	if cfg.TxTimeout <= 0 {
		cfg.TxTimeout = defaultWatchdogTimeout
	}
	if cfg.OfferDebounce <= 0 {
		cfg.OfferDebounce = defaultOfferDebounce
	}
	if events == nil {
		events = core.NopEvents{}
	}
	if rec == nil {
		rec = record.New()
	}
	if sink == nil {
		sink = NewFailSink(defaultFailureThreshold)
	}

	s := &Session{
		cfg:       cfg,
		events:    events,
		signal:    sender,
		factory:   factory,
		rec:       rec,
		sink:      sink,
		mailbox:   make(chan func(), 64),
		done:      make(chan struct{}),
		finished:  make(chan struct{}),
		lifecycle: newLifecycle(),
	}
	sink.OnThreshold(func() {
		s.enqueue(func() { s.onFailureThreshold() })
	})

	go s.run()
	return s, nil
}

// Start builds the first transport. It returns once the transport exists;
// the offer exchange continues asynchronously.
func (s *Session) Start() error {
	errc := make(chan error, 1)
	if !s.enqueue(func() { errc <- s.standUp() }) {
		return ErrClosed
	}
	return <-errc
}

// Close tears the session down and stops the loop. Blocks until the loop
// has exited.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.enqueue(func() {
			s.teardown()
			s.fire(evClose)
			close(s.done)
		})
	})
	<-s.finished
	return nil
}

// State reports the lifecycle state for status surfaces.
func (s *Session) State() string {
	return s.lifecycle.Current()
}

// NegotiatedFormat returns the current audio format, zero before
// negotiation completes.
func (s *Session) NegotiatedFormat() domain.AudioFormat {
	if g := s.live.Load(); g != nil {
		if pl := g.pipeline.Load(); pl != nil {
			return pl.Format()
		}
	}
	return domain.AudioFormat{}
}

// RecordingStatus exposes the recorder state for status surfaces.
func (s *Session) RecordingStatus() record.Status {
	return s.rec.Status()
}

// HandleSignal ingests one raw signaling message from the control channel.
// Parse errors are returned to the caller; handling errors past parsing are
// logged on the session loop, keeping the session itself alive.
func (s *Session) HandleSignal(raw []byte) error {
	msg, err := parseSignal(raw)
	if err != nil {
		log.Warn().Err(err).Str("module", "session").Msg("malformed signaling message")
		return err
	}
	metrics.SignalMessages.WithLabelValues(msg.kind(), "in").Inc()
	if !s.enqueue(func() { s.dispatchSignal(msg) }) {
		return ErrClosed
	}
	return nil
}

// RestartSession rebuilds the transport with the same procedure as the
// autonomous triggers and blocks until the single attempt finishes. Must
// not be called from the session's own event callbacks.
func (s *Session) RestartSession(reason string) error {
	errc := make(chan error, 1)
	if !s.enqueue(func() { errc <- s.restart(reason) }) {
		return ErrClosed
	}
	return <-errc
}

// SubmitPcmTx encodes local PCM at sourceRate and sends it to the peer.
// Runs on the caller's goroutine; callers must keep per-direction ordering.
func (s *Session) SubmitPcmTx(samples []int16, sourceRate int) error {
	g := s.live.Load()
	if g == nil {
		return ErrNotReady
	}
	pl := g.pipeline.Load()
	if pl == nil {
		return ErrNotReady
	}
	payload, err := pl.EncodePCM(samples, sourceRate)
	if err != nil {
		return err
	}
	if len(payload) == 0 {
		return nil
	}
	if err := g.transport.WriteEncoded(payload); err != nil {
		return fmt.Errorf("write encoded: %w", err)
	}
	g.rx.Reset()
	metrics.AudioPackets.WithLabelValues("rx").Inc()
	metrics.AudioSamples.WithLabelValues("rx").Add(float64(len(samples)))
	return nil
}

// SubmitEncodedTx sends an already-encoded payload in the negotiated format
// to the peer, feeding the recording tap through the recording decoder.
func (s *Session) SubmitEncodedTx(payload []byte) error {
	g := s.live.Load()
	if g == nil {
		return ErrNotReady
	}
	if pl := g.pipeline.Load(); pl != nil {
		pl.TapEncoded(payload)
	}
	if err := g.transport.WriteEncoded(payload); err != nil {
		return fmt.Errorf("write encoded: %w", err)
	}
	g.rx.Reset()
	metrics.AudioPackets.WithLabelValues("rx").Inc()
	return nil
}

// StartRecording opens a WAV writer for the direction at the negotiated
// rate. The opposite direction stops first.
func (s *Session) StartRecording(dir domain.Direction, label string) error {
	f := s.NegotiatedFormat()
	if f.IsZero() {
		return fmt.Errorf("start recording: %w", ErrNotReady)
	}
	if label == "" {
		label = s.cfg.Label
	}
	if err := s.rec.Start(dir, label, f.ClockRate); err != nil {
		return err
	}
	metrics.RecordingActive.WithLabelValues(dir.String()).Set(1)
	metrics.RecordingActive.WithLabelValues(dir.Opposite().String()).Set(0)
	return nil
}

// StopRecording closes any open writers. Idempotent.
func (s *Session) StopRecording() {
	s.rec.Stop()
	metrics.RecordingActive.WithLabelValues("rx").Set(0)
	metrics.RecordingActive.WithLabelValues("tx").Set(0)
}

// SetRecordingGain adjusts the per-direction recording gain in decibels.
func (s *Session) SetRecordingGain(rxDb, txDb float64) {
	s.rec.SetGainDB(rxDb, txDb)
}

// EnableRecording switches the recording subsystem and its target directory.
func (s *Session) EnableRecording(enabled bool, path, tsFormat string) {
	s.rec.Configure(enabled, path, tsFormat)
	if !enabled {
		metrics.RecordingActive.WithLabelValues("rx").Set(0)
		metrics.RecordingActive.WithLabelValues("tx").Set(0)
	}
}

func (s *Session) enqueue(fn func()) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.mailbox <- fn:
		return true
	case <-s.done:
		return false
	}
}

func (s *Session) run() {
	defer close(s.finished)
	for {
		select {
		case fn := <-s.mailbox:
			fn()
		case <-s.done:
			return
		}
	}
}

func (s *Session) fire(event string) {
	if err := s.lifecycle.Event(context.Background(), event); err != nil {
		log.Debug().Err(err).Str("module", "session").
			Str("event", event).
			Msg("lifecycle transition skipped")
	}
}

func (s *Session) isCurrent(g *generation) bool {
	return s.live.Load() == g
}

// standUp builds a fresh generation: transport, callbacks, watchdogs, reset
// negotiation flags and failure counter. Loop-only.
func (s *Session) standUp() error {
	t, err := s.factory()
	if err != nil {
		return fmt.Errorf("session transport: %w", err)
	}

	s.gen++
	g := &generation{
		id:        s.gen,
		transport: t,
		debounce:  debounce.New(s.cfg.OfferDebounce),
	}
	g.rx = watchdog.New(s.cfg.RxTimeout, func() {
		s.enqueue(func() { s.onWatchdogExpiry(g, domain.DirectionRX) })
	})
	g.tx = watchdog.New(s.cfg.TxTimeout, func() {
		s.enqueue(func() { s.onWatchdogExpiry(g, domain.DirectionTX) })
	})

	s.bind(g)
	s.live.Store(g)
	s.makingOffer = false
	s.ignoreOffer = false
	s.remoteSet = false
	s.pending = nil
	s.sink.Reset()
	s.fire(evNegotiate)

	log.Info().Str("module", "session").
		Uint64("generation", g.id).
		Bool("polite", s.cfg.Polite).
		Msg("session transport ready")
	return nil
}

// bind registers transport callbacks against one generation. Everything
// except media goes through the mailbox and is dropped once the generation
// is replaced.
func (s *Session) bind(g *generation) {
	t := g.transport

	t.OnNegotiationNeeded(func() {
		g.debounce(func() {
			s.enqueue(func() {
				if !s.isCurrent(g) {
					return
				}
				if err := s.sendOffer(g); err != nil {
					log.Error().Err(err).Str("module", "session").Msg("negotiation-needed offer failed")
				}
			})
		})
	})

	t.OnICECandidate(func(c webrtc.ICECandidateInit) {
		s.enqueue(func() {
			if !s.isCurrent(g) {
				return
			}
			if err := s.sendCandidate(c); err != nil {
				log.Warn().Err(err).Str("module", "session").Msg("sending local candidate failed")
			}
		})
	})

	t.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		s.enqueue(func() {
			if !s.isCurrent(g) {
				log.Debug().Str("module", "session").
					Str("state", state.String()).
					Uint64("generation", g.id).
					Msg("stale connection state dropped")
				return
			}
			s.onConnectionState(g, state)
		})
	})

	t.OnFormatKnown(func(name string, clockRate, channels int) {
		s.enqueue(func() {
			if !s.isCurrent(g) {
				return
			}
			s.onFormatKnown(g, name, clockRate, channels)
		})
	})

	// Media bypasses the mailbox: the reader goroutine preserves arrival
	// order and the pipeline carries its own locks. A stale generation's
	// reader only ever touches its own discarded pipeline and stopped
	// watchdogs.
	t.OnRemoteAudio(func(payload []byte, ssrc uint32) {
		s.onRemoteAudio(g, payload, ssrc)
	})
}

// sendOffer creates and sends a local offer. makingOffer stays set until
// the answer lands; rollback and setup failure clear it early.
func (s *Session) sendOffer(g *generation) error {
	if s.makingOffer {
		return nil
	}
	s.makingOffer = true

	offer, err := g.transport.CreateAndSetOffer()
	if err != nil {
		s.makingOffer = false
		return fmt.Errorf("create offer: %w", err)
	}
	if err := s.sendSDP(*offer); err != nil {
		s.makingOffer = false
		return err
	}
	log.Info().Str("module", "session").Uint64("generation", g.id).Msg("offer sent")
	return nil
}

func (s *Session) sendSDP(desc webrtc.SessionDescription) error {
	frame, err := encodeSDP(desc)
	if err != nil {
		return err
	}
	if err := s.signal.TrySend(frame); err != nil {
		return fmt.Errorf("signal send: %w", err)
	}
	metrics.SignalMessages.WithLabelValues(desc.Type.String(), "out").Inc()
	return nil
}

func (s *Session) sendCandidate(c webrtc.ICECandidateInit) error {
	frame, err := encodeCandidate(c)
	if err != nil {
		return err
	}
	if err := s.signal.TrySend(frame); err != nil {
		return fmt.Errorf("signal send: %w", err)
	}
	metrics.SignalMessages.WithLabelValues(kindCandidate, "out").Inc()
	return nil
}

func (s *Session) dispatchSignal(msg signalMessage) {
	// Pings probe the signaling channel itself and need no transport.
	switch msg.kind() {
	case kindPing:
		if err := s.signal.TrySend(encodePong()); err != nil {
			log.Debug().Err(err).Str("module", "session").Msg("pong send failed")
			return
		}
		metrics.SignalMessages.WithLabelValues(kindPong, "out").Inc()
		return
	case kindPong:
		return
	}

	g := s.live.Load()
	if g == nil {
		log.Debug().Str("module", "session").
			Str("type", msg.kind()).
			Msg("signal before transport ready dropped")
		return
	}

	var err error
	switch msg.kind() {
	case kindOffer:
		err = s.handleOffer(g, msg.SDP)
	case kindAnswer:
		err = s.handleAnswer(g, msg.SDP)
	case kindCandidate:
		err = s.handleCandidate(g, msg.candidateInit())
	}
	if err != nil {
		log.Error().Err(err).Str("module", "session").
			Str("type", msg.kind()).
			Msg("signaling message failed")
	}
}

// handleOffer implements the remote-offer side of perfect negotiation: the
// impolite peer drops colliding offers, the polite peer rolls its own offer
// back and answers.
func (s *Session) handleOffer(g *generation, sdp string) error {
	collision := g.transport.SignalingState() != webrtc.SignalingStateStable && s.makingOffer
	s.ignoreOffer = !s.cfg.Polite && collision
	if s.ignoreOffer {
		metrics.NegotiationGlare.Inc()
		log.Info().Str("module", "session").Msg("offer collision, dropping remote offer")
		return nil
	}

	if collision {
		if err := g.transport.Rollback(); err != nil {
			return fmt.Errorf("rollback: %w", err)
		}
		s.makingOffer = false
		log.Info().Str("module", "session").Msg("offer collision, rolled back local offer")
	}

	if err := g.transport.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeOffer, SDP: sdp,
	}); err != nil {
		return fmt.Errorf("set remote offer: %w", err)
	}
	s.remoteSet = true
	s.flushPending(g)

	answer, err := g.transport.CreateAndSetAnswer()
	if err != nil {
		return fmt.Errorf("create answer: %w", err)
	}
	if err := s.sendSDP(*answer); err != nil {
		return err
	}
	log.Info().Str("module", "session").Uint64("generation", g.id).Msg("answer sent")
	return nil
}

func (s *Session) handleAnswer(g *generation, sdp string) error {
	if !s.makingOffer {
		// Answers without an outstanding local offer reference a
		// discarded generation; never apply them to the live handle.
		log.Warn().Str("module", "session").Msg("answer with no outstanding offer ignored")
		return nil
	}

	err := g.transport.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeAnswer, SDP: sdp,
	})
	s.makingOffer = false
	if err != nil {
		return fmt.Errorf("set remote answer: %w", err)
	}
	s.remoteSet = true
	s.flushPending(g)
	return nil
}

func (s *Session) handleCandidate(g *generation, c webrtc.ICECandidateInit) error {
	if strings.TrimSpace(c.Candidate) == "" {
		log.Debug().Str("module", "session").Msg("empty candidate ignored")
		return nil
	}
	if !s.remoteSet {
		s.pending = append(s.pending, c)
		return nil
	}
	if err := g.transport.AddICECandidate(c); err != nil {
		if s.ignoreOffer {
			log.Debug().Err(err).Str("module", "session").Msg("candidate for ignored offer dropped")
			return nil
		}
		return fmt.Errorf("add candidate: %w", err)
	}
	return nil
}

func (s *Session) flushPending(g *generation) {
	for _, c := range s.pending {
		if err := g.transport.AddICECandidate(c); err != nil {
			log.Warn().Err(err).Str("module", "session").Msg("queued candidate rejected")
		}
	}
	s.pending = nil
}

func (s *Session) onFormatKnown(g *generation, name string, clockRate, channels int) {
	c, err := domain.ParseCodec(name)
	if err != nil {
		log.Error().Err(err).Str("module", "session").
			Str("codec", name).
			Msg("negotiated codec not supported")
		return
	}
	f, err := domain.FormatFor(c)
	if err != nil {
		log.Error().Err(err).Str("module", "session").Str("codec", name).Msg("no format for codec")
		return
	}

	pl, err := audio.New(f, s.cfg.ConsumerRate, s.rec)
	if err != nil {
		log.Error().Err(err).Str("module", "session").Msg("pipeline build failed")
		return
	}
	g.pipeline.Store(pl)

	log.Info().Str("module", "session").
		Str("codec", string(f.Codec)).
		Int("clock_rate", f.ClockRate).
		Int("wire_clock_rate", clockRate).
		Int("channels", channels).
		Msg("audio format negotiated")
	s.events.OnAudioFormatNegotiated(f)
}

func (s *Session) onConnectionState(g *generation, state webrtc.PeerConnectionState) {
	log.Info().Str("module", "session").
		Str("state", state.String()).
		Uint64("generation", g.id).
		Msg("connection state changed")

	switch state {
	case webrtc.PeerConnectionStateConnected:
		s.fire(evConnect)
		g.connected = true
		g.rx.Start()
		g.tx.Start()
		metrics.SessionConnected.Set(1)
		s.events.OnConnect()
	case webrtc.PeerConnectionStateDisconnected:
		log.Warn().Str("module", "session").Msg("peer connection degraded")
	case webrtc.PeerConnectionStateFailed:
		// ICE or DTLS failure closes the session. Restart is reserved
		// for the srtp sink and the tx watchdog.
		s.fire(evFail)
		s.teardown()
		s.fire(evClose)
	case webrtc.PeerConnectionStateClosed:
	}
}

func (s *Session) onWatchdogExpiry(g *generation, dir domain.Direction) {
	if !s.isCurrent(g) {
		return
	}
	metrics.WatchdogExpiries.WithLabelValues(dir.String()).Inc()

	if dir == domain.DirectionRX {
		// RX silence is expected on an idle radio channel; log and
		// keep going.
		log.Warn().Str("module", "session").
			Str("direction", "rx").
			Dur("timeout", s.cfg.RxTimeout).
			Msg("no rx samples within timeout")
		return
	}

	log.Error().Str("module", "session").
		Str("direction", "tx").
		Dur("timeout", s.cfg.TxTimeout).
		Msg("no tx samples within timeout, restarting session")
	if err := s.restart("tx-watchdog"); err != nil {
		log.Error().Err(err).Str("module", "session").Msg("restart after tx watchdog failed")
	}
}

func (s *Session) onFailureThreshold() {
	if s.live.Load() == nil {
		return
	}
	log.Error().Str("module", "session").
		Int("failures", s.sink.Count()).
		Msg("srtp unprotect failures over threshold, restarting session")
	if err := s.restart("srtp-failures"); err != nil {
		log.Error().Err(err).Str("module", "session").Msg("restart after srtp failures failed")
	}
}

// restart tears the current generation down and stands a new one up,
// finishing with an unconditional fresh offer. Exactly one attempt; on
// failure the session is left closed and the error is returned.
func (s *Session) restart(reason string) error {
	metrics.SessionRestarts.WithLabelValues(reason).Inc()
	log.Warn().Str("module", "session").Str("reason", reason).Msg("restarting session")

	s.teardown()
	if err := s.standUp(); err != nil {
		s.fire(evFail)
		s.fire(evClose)
		return fmt.Errorf("session restart: %w", err)
	}

	g := s.live.Load()
	if err := s.sendOffer(g); err != nil {
		return fmt.Errorf("session restart: %w", err)
	}
	return nil
}

// teardown closes and discards the live generation. Close errors are
// logged, never propagated.
func (s *Session) teardown() {
	g := s.live.Load()
	s.live.Store(nil)
	if g == nil {
		return
	}

	g.rx.Stop()
	g.tx.Stop()
	if err := g.transport.Close(); err != nil {
		log.Warn().Err(err).Str("module", "session").
			Uint64("generation", g.id).
			Msg("closing transport")
	}
	metrics.SessionConnected.Set(0)
	if g.connected {
		g.connected = false
		s.events.OnClose()
	}
}

// onRemoteAudio runs on the transport reader goroutine.
func (s *Session) onRemoteAudio(g *generation, payload []byte, ssrc uint32) {
	if !s.isCurrent(g) {
		return
	}
	pl := g.pipeline.Load()
	if pl == nil {
		return
	}

	if prev := g.ssrc.Swap(ssrc); prev != 0 && prev != ssrc {
		log.Info().Str("module", "session").
			Uint32("from", prev).
			Uint32("to", ssrc).
			Msg("remote stream ssrc changed")
	}

	samples, err := pl.DecodePayload(payload)
	if err != nil {
		log.Warn().Err(err).Str("module", "session").Msg("decode inbound payload")
		return
	}
	g.tx.Reset()
	metrics.AudioPackets.WithLabelValues("tx").Inc()
	metrics.AudioSamples.WithLabelValues("tx").Add(float64(len(samples)))
	s.events.OnTxSamples(samples)
}
