package rtc

import (
	"sync"
	"testing"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/airband/gateway/internal/domain"
)

type countingObserver struct {
	mu sync.Mutex
	n  int
}

func (o *countingObserver) Observe() {
	o.mu.Lock()
	o.n++
	o.mu.Unlock()
}

func (o *countingObserver) count() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.n
}

func TestCodecParameters(t *testing.T) {
	tests := []struct {
		codec domain.Codec
		mime  string
		pt    webrtc.PayloadType
	}{
		{domain.CodecPCMU, webrtc.MimeTypePCMU, 0},
		{domain.CodecPCMA, webrtc.MimeTypePCMA, 8},
		{domain.CodecG722, webrtc.MimeTypeG722, 9},
	}
	for _, tt := range tests {
		t.Run(string(tt.codec), func(t *testing.T) {
			params, err := codecParameters(tt.codec)
			require.NoError(t, err)
			assert.Equal(t, tt.mime, params.MimeType)
			assert.Equal(t, tt.pt, params.PayloadType)
			assert.Equal(t, uint32(8000), params.ClockRate)
		})
	}
}

func TestCodecParametersRejectsUnknown(t *testing.T) {
	_, err := codecParameters(domain.Codec("OPUS"))
	assert.ErrorIs(t, err, domain.ErrUnsupportedCodec)
}

func TestNewRejectsUnknownCodec(t *testing.T) {
	_, err := New(DefaultConfig(), domain.Codec("OPUS"), nil)
	assert.ErrorIs(t, err, domain.ErrUnsupportedCodec)
}

func TestConfigWithServers(t *testing.T) {
	cfg := ConfigWithServers([]string{"stun:stun.example.org:3478"})
	require.Len(t, cfg.ICEServers, 1)
	assert.Equal(t, []string{"stun:stun.example.org:3478"}, cfg.ICEServers[0].URLs)

	assert.Equal(t, DefaultConfig(), ConfigWithServers(nil))
}

func TestWriteEncodedAdvancesClock(t *testing.T) {
	track, err := webrtc.NewTrackLocalStaticRTP(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypePCMU, ClockRate: 8000},
		"audio", "test",
	)
	require.NoError(t, err)

	tr := &Transport{track: track, seq: 10, ts: 100}
	require.NoError(t, tr.WriteEncoded(make([]byte, 160)))
	assert.Equal(t, uint16(11), tr.seq)
	assert.Equal(t, uint32(260), tr.ts)

	// Empty payloads do not consume sequence numbers or clock ticks.
	require.NoError(t, tr.WriteEncoded(nil))
	assert.Equal(t, uint16(11), tr.seq)
	assert.Equal(t, uint32(260), tr.ts)
}

func TestNegotiationNeededReplaysLatchedEvent(t *testing.T) {
	tr := &Transport{needOffer: true}
	fired := 0
	tr.OnNegotiationNeeded(func() { fired++ })
	assert.Equal(t, 1, fired, "event latched before registration must replay")
	assert.False(t, tr.needOffer)

	// Re-registration without a pending event stays silent.
	tr.OnNegotiationNeeded(func() { fired++ })
	assert.Equal(t, 1, fired)
}

func TestLoggerObservesSrtpFailures(t *testing.T) {
	sink := &countingObserver{}
	factory := &loggerFactory{sink: sink}

	srtp := factory.NewLogger("srtp")
	ice := factory.NewLogger("ice")

	srtp.Warn("contextual failure")
	assert.Equal(t, 1, sink.count(), "any srtp warning counts")

	srtp.Error("bad state")
	assert.Equal(t, 2, sink.count())

	ice.Warn("failed to unprotect packet")
	assert.Equal(t, 3, sink.count(), "unprotect wording counts from any scope")

	ice.Warn("connection checks in progress")
	assert.Equal(t, 3, sink.count(), "unrelated warnings pass through")

	srtp.Info("stream started")
	assert.Equal(t, 3, sink.count(), "info level never counts")
}

func TestLoggerNilSink(t *testing.T) {
	factory := &loggerFactory{}
	logger := factory.NewLogger("srtp")
	assert.NotPanics(t, func() { logger.Warn("failure with no observer") })
}

func TestValidateRemoteOffer(t *testing.T) {
	audioOffer := "v=0\r\n" +
		"o=- 1 1 IN IP4 127.0.0.1\r\n" +
		"s=-\r\n" +
		"c=IN IP4 127.0.0.1\r\n" +
		"t=0 0\r\n" +
		"m=audio 9 UDP/TLS/RTP/SAVPF 0\r\n" +
		"a=rtpmap:0 PCMU/8000\r\n"
	assert.NoError(t, validateRemoteOffer(audioOffer))

	videoOnly := "v=0\r\n" +
		"o=- 1 1 IN IP4 127.0.0.1\r\n" +
		"s=-\r\n" +
		"c=IN IP4 127.0.0.1\r\n" +
		"t=0 0\r\n" +
		"m=video 9 UDP/TLS/RTP/SAVPF 96\r\n" +
		"a=rtpmap:96 VP8/90000\r\n"
	assert.ErrorIs(t, validateRemoteOffer(videoOnly), errNoAudioSection)

	assert.Error(t, validateRemoteOffer("not sdp at all"))
}
