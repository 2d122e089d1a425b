package rtc

import (
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"sync"

	"github.com/pion/rtp"
	"github.com/pion/sdp/v3"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/airband/gateway/internal/core"
	"github.com/airband/gateway/internal/domain"
)

var errNoAudioSection = errors.New("remote description has no audio section")

// Transport owns one PeerConnection and the single outbound audio track.
// It implements core.MediaTransport for the session layer.
type Transport struct {
	pc          *webrtc.PeerConnection
	track       *webrtc.TrackLocalStaticRTP
	payloadType uint8

	mu   sync.Mutex
	seq  uint16
	ts   uint32
	ssrc uint32

	cbMu        sync.Mutex
	negotiate   func()
	needOffer   bool
	onICE       func(webrtc.ICECandidateInit)
	onConnState func(webrtc.PeerConnectionState)
	onAudio     func(payload []byte, ssrc uint32)
	onFormat    func(mimeType string, clockRate, channels int)
	formatOnce  sync.Once

	closeOnce sync.Once
}

func DefaultConfig() webrtc.Configuration {
	return webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{
			{
				URLs: []string{"stun:stun.l.google.com:19302"},
			},
		},
	}
}

// ConfigWithServers builds a Configuration from plain STUN/TURN URLs,
// falling back to DefaultConfig when none are given.
func ConfigWithServers(urls []string) webrtc.Configuration {
	if len(urls) == 0 {
		return DefaultConfig()
	}
	return webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{{URLs: urls}},
	}
}

// codecParameters maps a codec onto its RTP/AVP registration. The static
// payload types match the IANA audio assignments, and G722's wire clock
// stays at the historical 8000 even though it carries 16 kHz audio.
func codecParameters(c domain.Codec) (webrtc.RTPCodecParameters, error) {
	switch c {
	case domain.CodecPCMU:
		return webrtc.RTPCodecParameters{
			RTPCodecCapability: webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypePCMU, ClockRate: 8000},
			PayloadType:        0,
		}, nil
	case domain.CodecPCMA:
		return webrtc.RTPCodecParameters{
			RTPCodecCapability: webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypePCMA, ClockRate: 8000},
			PayloadType:        8,
		}, nil
	case domain.CodecG722:
		return webrtc.RTPCodecParameters{
			RTPCodecCapability: webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeG722, ClockRate: 8000},
			PayloadType:        9,
		}, nil
	default:
		return webrtc.RTPCodecParameters{}, domain.ErrUnsupportedCodec
	}
}

// New builds a PeerConnection restricted to exactly one audio codec and
// attaches the outbound track. The observer, when non-nil, is fed SRTP
// failures spotted in the transport's internal logs.
func New(cfg webrtc.Configuration, codec domain.Codec, sink Observer) (*Transport, error) {
	params, err := codecParameters(codec)
	if err != nil {
		return nil, err
	}

	media := &webrtc.MediaEngine{}
	if err := media.RegisterCodec(params, webrtc.RTPCodecTypeAudio); err != nil {
		return nil, err
	}

	settings := webrtc.SettingEngine{}
	settings.LoggerFactory = &loggerFactory{sink: sink}

	api := webrtc.NewAPI(webrtc.WithMediaEngine(media), webrtc.WithSettingEngine(settings))
	pc, err := api.NewPeerConnection(cfg)
	if err != nil {
		return nil, err
	}

	track, err := webrtc.NewTrackLocalStaticRTP(params.RTPCodecCapability, "audio", "gateway")
	if err != nil {
		_ = pc.Close()
		return nil, err
	}
	if _, err := pc.AddTrack(track); err != nil {
		_ = pc.Close()
		return nil, err
	}

	t := &Transport{
		pc:          pc,
		track:       track,
		payloadType: uint8(params.PayloadType),
		seq:         uint16(rand.Uint32()),
		ts:          rand.Uint32(),
		ssrc:        rand.Uint32(),
	}

	pc.OnNegotiationNeeded(func() {
		t.cbMu.Lock()
		fn := t.negotiate
		if fn == nil {
			// Fired before the session bound its handler. Latch it so
			// the registration replays the event.
			t.needOffer = true
		}
		t.cbMu.Unlock()
		if fn != nil {
			fn()
		}
	})

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		t.cbMu.Lock()
		fn := t.onICE
		t.cbMu.Unlock()
		if fn != nil {
			fn(c.ToJSON())
		}
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		log.Debug().Str("module", "webrtc").Str("state", state.String()).Msg("connection state changed")
		t.cbMu.Lock()
		fn := t.onConnState
		t.cbMu.Unlock()
		if fn != nil {
			fn(state)
		}
	})

	pc.OnTrack(func(remote *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		params := remote.Codec()
		log.Info().
			Str("module", "webrtc").
			Str("codec", params.MimeType).
			Uint32("clock_rate", params.ClockRate).
			Msg("remote track started")
		t.formatOnce.Do(func() {
			t.cbMu.Lock()
			fn := t.onFormat
			t.cbMu.Unlock()
			if fn != nil {
				fn(params.MimeType, int(params.ClockRate), int(params.Channels))
			}
		})
		t.readLoop(remote)
	})

	log.Debug().Str("module", "webrtc").Str("codec", params.MimeType).Msg("transport created")
	return t, nil
}

// readLoop drains inbound RTP until the track or connection dies. It runs
// on pion's OnTrack goroutine so packets stay ordered.
func (t *Transport) readLoop(remote *webrtc.TrackRemote) {
	for {
		pkt, _, err := remote.ReadRTP()
		if err != nil {
			log.Debug().Str("module", "webrtc").Err(err).Msg("track reader stopped")
			return
		}
		if len(pkt.Payload) == 0 {
			continue
		}
		t.cbMu.Lock()
		fn := t.onAudio
		t.cbMu.Unlock()
		if fn != nil {
			fn(pkt.Payload, pkt.SSRC)
		}
	}
}

func (t *Transport) OnNegotiationNeeded(fn func()) {
	t.cbMu.Lock()
	t.negotiate = fn
	replay := t.needOffer
	t.needOffer = false
	t.cbMu.Unlock()
	if replay && fn != nil {
		fn()
	}
}

func (t *Transport) OnICECandidate(fn func(webrtc.ICECandidateInit)) {
	t.cbMu.Lock()
	t.onICE = fn
	t.cbMu.Unlock()
}

func (t *Transport) OnConnectionStateChange(fn func(webrtc.PeerConnectionState)) {
	t.cbMu.Lock()
	t.onConnState = fn
	t.cbMu.Unlock()
}

func (t *Transport) OnRemoteAudio(fn func(payload []byte, ssrc uint32)) {
	t.cbMu.Lock()
	t.onAudio = fn
	t.cbMu.Unlock()
}

func (t *Transport) OnFormatKnown(fn func(mimeType string, clockRate, channels int)) {
	t.cbMu.Lock()
	t.onFormat = fn
	t.cbMu.Unlock()
}

// CreateAndSetOffer produces a local offer. Candidates trickle through
// OnICECandidate, so the description is returned without waiting for
// gathering to finish.
func (t *Transport) CreateAndSetOffer() (*webrtc.SessionDescription, error) {
	offer, err := t.pc.CreateOffer(nil)
	if err != nil {
		return nil, err
	}
	if err := t.pc.SetLocalDescription(offer); err != nil {
		return nil, err
	}
	return t.pc.LocalDescription(), nil
}

func (t *Transport) CreateAndSetAnswer() (*webrtc.SessionDescription, error) {
	answer, err := t.pc.CreateAnswer(nil)
	if err != nil {
		return nil, err
	}
	if err := t.pc.SetLocalDescription(answer); err != nil {
		return nil, err
	}
	return t.pc.LocalDescription(), nil
}

// validateRemoteOffer rejects offers with no audio section up front;
// applying one would negotiate an empty session and stall until the
// watchdogs notice.
func validateRemoteOffer(raw string) error {
	var sd sdp.SessionDescription
	if err := sd.Unmarshal([]byte(raw)); err != nil {
		return fmt.Errorf("parse remote sdp: %w", err)
	}
	for _, md := range sd.MediaDescriptions {
		if md.MediaName.Media == "audio" {
			return nil
		}
	}
	return errNoAudioSection
}

func (t *Transport) SetRemoteDescription(desc webrtc.SessionDescription) error {
	if desc.Type == webrtc.SDPTypeOffer {
		if err := validateRemoteOffer(desc.SDP); err != nil {
			return err
		}
	}
	return t.pc.SetRemoteDescription(desc)
}

// Rollback abandons the pending local offer so a remote one can be
// applied cleanly.
func (t *Transport) Rollback() error {
	return t.pc.SetLocalDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeRollback})
}

func (t *Transport) SignalingState() webrtc.SignalingState {
	return t.pc.SignalingState()
}

func (t *Transport) AddICECandidate(candidate webrtc.ICECandidateInit) error {
	return t.pc.AddICECandidate(candidate)
}

// WriteEncoded sends one encoded frame as a single RTP packet. All three
// supported codecs emit one octet per timestamp tick on their RTP clock,
// so the timestamp advances by the payload length.
func (t *Transport) WriteEncoded(payload []byte) error {
	if len(payload) == 0 {
		return nil
	}
	t.mu.Lock()
	pkt := &rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			PayloadType:    t.payloadType,
			SequenceNumber: t.seq,
			Timestamp:      t.ts,
			SSRC:           t.ssrc,
		},
		Payload: payload,
	}
	t.seq++
	t.ts += uint32(len(payload))
	t.mu.Unlock()

	// Writes racing a teardown surface as closed-pipe errors from the
	// dying binding. Those are not actionable.
	if err := t.track.WriteRTP(pkt); err != nil && !errors.Is(err, io.ErrClosedPipe) {
		return err
	}
	return nil
}

func (t *Transport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		log.Debug().Str("module", "webrtc").Msg("closing transport")
		err = t.pc.Close()
		if err != nil {
			log.Warn().Str("module", "webrtc").Err(err).Msg("transport close failed")
		}
	})
	return err
}

// NewFactory binds a fixed configuration and codec into a factory the
// session layer calls once per connection generation.
func NewFactory(cfg webrtc.Configuration, codec domain.Codec, sink Observer) core.TransportFactory {
	return func() (core.MediaTransport, error) {
		return New(cfg, codec, sink)
	}
}
