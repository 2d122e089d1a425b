package session

import (
	"encoding/json"
	"fmt"

	"github.com/pion/webrtc/v4"

	"github.com/airband/gateway/internal/core"
)

// Signaling wire schema. SDP messages carry a type tag; candidate messages
// are recognized by the candidate field instead, mirroring the browser's
// RTCIceCandidateInit shape.
type signalMessage struct {
	Type          string  `json:"type,omitempty"`
	SDP           string  `json:"sdp,omitempty"`
	Candidate     *string `json:"candidate,omitempty"`
	SDPMid        *string `json:"sdpMid,omitempty"`
	SDPMLineIndex *uint16 `json:"sdpMLineIndex,omitempty"`
}

type sdpEnvelope struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

type candidateEnvelope struct {
	Candidate     string  `json:"candidate"`
	SDPMid        *string `json:"sdpMid"`
	SDPMLineIndex *uint16 `json:"sdpMLineIndex"`
}

const (
	kindOffer     = "offer"
	kindAnswer    = "answer"
	kindCandidate = "candidate"
	kindPing      = "ping"
	kindPong      = "pong"
)

func (m signalMessage) kind() string {
	if m.Candidate != nil {
		return kindCandidate
	}
	return m.Type
}

func (m signalMessage) candidateInit() webrtc.ICECandidateInit {
	return webrtc.ICECandidateInit{
		Candidate:     *m.Candidate,
		SDPMid:        m.SDPMid,
		SDPMLineIndex: m.SDPMLineIndex,
	}
}

func parseSignal(raw []byte) (signalMessage, error) {
	var m signalMessage
	if err := json.Unmarshal(raw, &m); err != nil {
		return signalMessage{}, fmt.Errorf("signal message: %w", err)
	}
	switch m.kind() {
	case kindOffer, kindAnswer:
		if m.SDP == "" {
			return signalMessage{}, fmt.Errorf("signal message: %s without sdp", m.Type)
		}
	case kindCandidate, kindPing, kindPong:
	default:
		return signalMessage{}, fmt.Errorf("signal message: unknown type %q", m.Type)
	}
	return m, nil
}

func encodePong() core.Frame {
	return core.Frame(`{"type":"pong"}`)
}

func encodeSDP(desc webrtc.SessionDescription) (core.Frame, error) {
	raw, err := json.Marshal(sdpEnvelope{
		Type: desc.Type.String(),
		SDP:  desc.SDP,
	})
	if err != nil {
		return nil, fmt.Errorf("signal message: %w", err)
	}
	return raw, nil
}

func encodeCandidate(c webrtc.ICECandidateInit) (core.Frame, error) {
	raw, err := json.Marshal(candidateEnvelope{
		Candidate:     c.Candidate,
		SDPMid:        c.SDPMid,
		SDPMLineIndex: c.SDPMLineIndex,
	})
	if err != nil {
		return nil, fmt.Errorf("signal message: %w", err)
	}
	return raw, nil
}
