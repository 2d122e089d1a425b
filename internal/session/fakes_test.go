package session

import (
	"errors"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/airband/gateway/internal/core"
	"github.com/airband/gateway/internal/domain"
)

// fakeTransport is a scriptable stand-in for the rtc adapter. Callback
// firing methods run the handlers synchronously on the caller's goroutine,
// like pion does.
type fakeTransport struct {
	mu          sync.Mutex
	state       webrtc.SignalingState
	closed      bool
	rollbacks   int
	remoteDescs []webrtc.SessionDescription
	candidates  []webrtc.ICECandidateInit
	written     [][]byte
	failOffer   bool

	onNegotiationNeeded func()
	onICECandidate      func(webrtc.ICECandidateInit)
	onConnState         func(webrtc.PeerConnectionState)
	onRemoteAudio       func([]byte, uint32)
	onFormatKnown       func(string, int, int)
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{state: webrtc.SignalingStateStable}
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeTransport) CreateAndSetOffer() (*webrtc.SessionDescription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failOffer {
		return nil, errors.New("offer refused")
	}
	f.state = webrtc.SignalingStateHaveLocalOffer
	return &webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0 local-offer"}, nil
}

func (f *fakeTransport) CreateAndSetAnswer() (*webrtc.SessionDescription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state = webrtc.SignalingStateStable
	return &webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "v=0 local-answer"}, nil
}

func (f *fakeTransport) SetRemoteDescription(desc webrtc.SessionDescription) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.remoteDescs = append(f.remoteDescs, desc)
	if desc.Type == webrtc.SDPTypeOffer {
		f.state = webrtc.SignalingStateHaveRemoteOffer
	} else {
		f.state = webrtc.SignalingStateStable
	}
	return nil
}

func (f *fakeTransport) Rollback() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rollbacks++
	f.state = webrtc.SignalingStateStable
	return nil
}

func (f *fakeTransport) SignalingState() webrtc.SignalingState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeTransport) AddICECandidate(c webrtc.ICECandidateInit) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.candidates = append(f.candidates, c)
	return nil
}

func (f *fakeTransport) WriteEncoded(payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.written = append(f.written, append([]byte(nil), payload...))
	return nil
}

func (f *fakeTransport) OnNegotiationNeeded(fn func()) { f.onNegotiationNeeded = fn }

func (f *fakeTransport) OnICECandidate(fn func(webrtc.ICECandidateInit)) { f.onICECandidate = fn }

func (f *fakeTransport) OnConnectionStateChange(fn func(webrtc.PeerConnectionState)) {
	f.onConnState = fn
}

func (f *fakeTransport) OnRemoteAudio(fn func([]byte, uint32)) { f.onRemoteAudio = fn }

func (f *fakeTransport) OnFormatKnown(fn func(string, int, int)) { f.onFormatKnown = fn }

func (f *fakeTransport) fireNegotiationNeeded() { f.onNegotiationNeeded() }

func (f *fakeTransport) fireConnected() { f.onConnState(webrtc.PeerConnectionStateConnected) }

func (f *fakeTransport) fireFailed() { f.onConnState(webrtc.PeerConnectionStateFailed) }

func (f *fakeTransport) fireFormat(name string, rate, ch int) { f.onFormatKnown(name, rate, ch) }

func (f *fakeTransport) fireAudio(payload []byte, ssrc uint32) { f.onRemoteAudio(payload, ssrc) }

func (f *fakeTransport) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeTransport) remoteCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.remoteDescs)
}

func (f *fakeTransport) candidateCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.candidates)
}

func (f *fakeTransport) rollbackCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rollbacks
}

func (f *fakeTransport) writtenCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.written)
}

// fakeFactory hands out fresh transports and remembers them in build order.
type fakeFactory struct {
	mu       sync.Mutex
	built    []*fakeTransport
	failNext bool
}

func (f *fakeFactory) create() (core.MediaTransport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNext {
		f.failNext = false
		return nil, errors.New("transport refused")
	}
	t := newFakeTransport()
	f.built = append(f.built, t)
	return t, nil
}

func (f *fakeFactory) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.built)
}

func (f *fakeFactory) transport(i int) *fakeTransport {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.built[i]
}

// fakeSender collects outbound signaling frames.
type fakeSender struct {
	mu     sync.Mutex
	frames []core.Frame
}

func (s *fakeSender) TrySend(frame core.Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = append(s.frames, append(core.Frame(nil), frame...))
	return nil
}

func (s *fakeSender) Close() {}

func (s *fakeSender) kinds() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.frames))
	for _, fr := range s.frames {
		m, err := parseSignal(fr)
		if err != nil {
			out = append(out, fmt.Sprintf("invalid(%v)", err))
			continue
		}
		out = append(out, m.kind())
	}
	return out
}

func (s *fakeSender) countKind(kind string) int {
	n := 0
	for _, k := range s.kinds() {
		if k == kind {
			n++
		}
	}
	return n
}

// eventsRecorder captures collaborator callbacks.
type eventsRecorder struct {
	mu       sync.Mutex
	formats  []domain.AudioFormat
	connects int
	closes   int
	samples  [][]int16
}

func (e *eventsRecorder) OnAudioFormatNegotiated(f domain.AudioFormat) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.formats = append(e.formats, f)
}

func (e *eventsRecorder) OnConnect() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.connects++
}

func (e *eventsRecorder) OnClose() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closes++
}

func (e *eventsRecorder) OnTxSamples(samples []int16) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.samples = append(e.samples, append([]int16(nil), samples...))
}

func (e *eventsRecorder) connectCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.connects
}

func (e *eventsRecorder) closeCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closes
}

func (e *eventsRecorder) sampleBatches() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.samples)
}

func (e *eventsRecorder) formatCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.formats)
}
