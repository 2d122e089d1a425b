// Package domain contains entities without logic, just meta-data.
package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrUnsupportedCodec = errors.New("unsupported codec")
	ErrUnsupportedRate  = errors.New("unsupported sample rate conversion")
)

// Codec names the fixed audio codec of a deployment.
type Codec string

const (
	CodecPCMU Codec = "PCMU"
	CodecPCMA Codec = "PCMA"
	CodecG722 Codec = "G722"
)

// ParseCodec maps a configured or negotiated codec name (optionally a full
// mime type like "audio/PCMU") to a Codec.
func ParseCodec(name string) (Codec, error) {
	n := strings.ToUpper(strings.TrimPrefix(strings.TrimSpace(name), "audio/"))
	switch Codec(n) {
	case CodecPCMU, CodecPCMA, CodecG722:
		return Codec(n), nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedCodec, name)
}

// AudioFormat describes the negotiated audio stream. ClockRate is the PCM
// sample rate the codec operates at; channels is always 1 for the supported
// codecs. Immutable once negotiated, replacing it requires a new negotiation.
type AudioFormat struct {
	Codec     Codec
	ClockRate int
	Channels  int
}

// FormatFor returns the AudioFormat a codec runs at. Note G.722 samples at
// 16 kHz even though its RTP clock advertises 8 kHz; ClockRate here is the
// sample rate the transcoding pipeline must use.
func FormatFor(c Codec) (AudioFormat, error) {
	switch c {
	case CodecPCMU, CodecPCMA:
		return AudioFormat{Codec: c, ClockRate: 8000, Channels: 1}, nil
	case CodecG722:
		return AudioFormat{Codec: c, ClockRate: 16000, Channels: 1}, nil
	}
	return AudioFormat{}, fmt.Errorf("%w: %q", ErrUnsupportedCodec, c)
}

func (f AudioFormat) String() string {
	return fmt.Sprintf("%s/%d/%d", f.Codec, f.ClockRate, f.Channels)
}

// IsZero reports whether no format has been negotiated yet.
func (f AudioFormat) IsZero() bool {
	return f.Codec == "" && f.ClockRate == 0
}
