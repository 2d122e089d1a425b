// Package codec provides audio encoders and decoders for the payload
// formats negotiated over the media transport.
package codec

import (
	"fmt"

	"github.com/airband/gateway/internal/domain"
)

// Encoder turns PCM16 samples at the codec clock rate into a wire payload.
// Implementations may be stateful; one instance serves one stream.
type Encoder interface {
	Encode(pcm []int16) ([]byte, error)
}

// Decoder turns a wire payload into PCM16 samples at the codec clock rate.
// Implementations may be stateful; one instance serves one stream.
type Decoder interface {
	Decode(payload []byte) ([]int16, error)
}

// NewEncoder builds a fresh encoder instance for the format.
func NewEncoder(f domain.AudioFormat) (Encoder, error) {
	switch f.Codec {
	case domain.CodecPCMU:
		return ulawCodec{}, nil
	case domain.CodecPCMA:
		return alawCodec{}, nil
	case domain.CodecG722:
		return newG722Encoder(), nil
	default:
		return nil, fmt.Errorf("encoder for %q: %w", f.Codec, domain.ErrUnsupportedCodec)
	}
}

// NewDecoder builds a fresh decoder instance for the format.
func NewDecoder(f domain.AudioFormat) (Decoder, error) {
	switch f.Codec {
	case domain.CodecPCMU:
		return ulawCodec{}, nil
	case domain.CodecPCMA:
		return alawCodec{}, nil
	case domain.CodecG722:
		return newG722Decoder(), nil
	default:
		return nil, fmt.Errorf("decoder for %q: %w", f.Codec, domain.ErrUnsupportedCodec)
	}
}
