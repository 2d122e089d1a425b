package session

import (
	"encoding/json"
	"testing"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSignalKinds(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		kind string
	}{
		{name: "offer", raw: `{"type":"offer","sdp":"v=0"}`, kind: kindOffer},
		{name: "answer", raw: `{"type":"answer","sdp":"v=0"}`, kind: kindAnswer},
		{name: "candidate", raw: `{"candidate":"candidate:1","sdpMid":"0","sdpMLineIndex":0}`, kind: kindCandidate},
		{name: "candidate with nulls", raw: `{"candidate":"candidate:1","sdpMid":null,"sdpMLineIndex":null}`, kind: kindCandidate},
		{name: "end of candidates", raw: `{"candidate":""}`, kind: kindCandidate},
		{name: "ping", raw: `{"type":"ping"}`, kind: kindPing},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := parseSignal([]byte(tt.raw))
			require.NoError(t, err)
			assert.Equal(t, tt.kind, m.kind())
		})
	}
}

func TestParseSignalRejectsMalformed(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{name: "not json", raw: `{`},
		{name: "offer without sdp", raw: `{"type":"offer"}`},
		{name: "answer without sdp", raw: `{"type":"answer"}`},
		{name: "unknown type", raw: `{"type":"bye","sdp":"v=0"}`},
		{name: "empty object", raw: `{}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseSignal([]byte(tt.raw))
			assert.Error(t, err)
		})
	}
}

func TestCandidateInitRoundTrip(t *testing.T) {
	mid := "audio"
	idx := uint16(0)
	frame, err := encodeCandidate(webrtc.ICECandidateInit{
		Candidate:     "candidate:1 1 udp 2130706431 10.0.0.1 5000 typ host",
		SDPMid:        &mid,
		SDPMLineIndex: &idx,
	})
	require.NoError(t, err)

	m, err := parseSignal(frame)
	require.NoError(t, err)
	require.Equal(t, kindCandidate, m.kind())

	c := m.candidateInit()
	assert.Equal(t, "candidate:1 1 udp 2130706431 10.0.0.1 5000 typ host", c.Candidate)
	require.NotNil(t, c.SDPMid)
	assert.Equal(t, "audio", *c.SDPMid)
	require.NotNil(t, c.SDPMLineIndex)
	assert.Equal(t, uint16(0), *c.SDPMLineIndex)
}

func TestEncodeCandidateEmitsExplicitNulls(t *testing.T) {
	frame, err := encodeCandidate(webrtc.ICECandidateInit{Candidate: "candidate:1"})
	require.NoError(t, err)

	var m map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(frame, &m))
	assert.Contains(t, m, "sdpMid")
	assert.Contains(t, m, "sdpMLineIndex")
	assert.Equal(t, "null", string(m["sdpMid"]))
}

func TestEncodeSDPShape(t *testing.T) {
	frame, err := encodeSDP(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"offer","sdp":"v=0"}`, string(frame))
}
