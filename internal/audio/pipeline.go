// Package audio implements the transcoding pipeline between the local PCM
// world and the negotiated wire format, with recording taps on both
// directions.
package audio

import (
	"fmt"
	"sync"

	"github.com/airband/gateway/internal/codec"
	"github.com/airband/gateway/internal/domain"
	"github.com/airband/gateway/internal/dsp"
	"github.com/airband/gateway/internal/record"
)

// Pipeline transcodes between local PCM and the negotiated payload format.
// It holds four codec instances: live encoder and decoder, plus a decoder
// per direction feeding the recording taps, kept apart because stateful
// codecs must not mix live and recording history.
//
// The two directions lock independently. Within a direction, callers must
// submit packets in arrival order; filter and codec state depend on it.
type Pipeline struct {
	format       domain.AudioFormat
	consumerRate int
	rec          *record.Recorder

	encMu     sync.Mutex
	enc       codec.Encoder
	recRxDec  codec.Decoder
	encFilter *dsp.Chain

	decMu     sync.Mutex
	dec       codec.Decoder
	recTxDec  codec.Decoder
	decFilter *dsp.Chain
}

// New builds a pipeline for the negotiated format. consumerRate is the fixed
// rate decoded audio is delivered at; zero means the negotiated rate.
func New(f domain.AudioFormat, consumerRate int, rec *record.Recorder) (*Pipeline, error) {
	if consumerRate == 0 {
		consumerRate = f.ClockRate
	}

	enc, err := codec.NewEncoder(f)
	if err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}
	dec, err := codec.NewDecoder(f)
	if err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}
	recRx, err := codec.NewDecoder(f)
	if err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}
	recTx, err := codec.NewDecoder(f)
	if err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}

	return &Pipeline{
		format:       f,
		consumerRate: consumerRate,
		rec:          rec,
		enc:          enc,
		dec:          dec,
		recRxDec:     recRx,
		recTxDec:     recTx,
	}, nil
}

// Format returns the negotiated format the pipeline was built for.
func (p *Pipeline) Format() domain.AudioFormat {
	return p.format
}

// EncodePCM converts local samples at sourceRate into a wire payload.
// Below the negotiated rate the signal is upsampled and low-pass filtered
// (cutoff 0.95 of the source Nyquist); above it is rejected. The pre-encode
// PCM feeds the RX recording tap.
func (p *Pipeline) EncodePCM(samples []int16, sourceRate int) ([]byte, error) {
	p.encMu.Lock()
	defer p.encMu.Unlock()

	pcm := samples
	switch {
	case sourceRate > p.format.ClockRate:
		return nil, fmt.Errorf("encode: source rate %d over negotiated %d: %w",
			sourceRate, p.format.ClockRate, domain.ErrUnsupportedRate)
	case sourceRate < p.format.ClockRate:
		pcm = dsp.Resample(samples, sourceRate, p.format.ClockRate)
		if p.encFilter == nil {
			p.encFilter = dsp.NewLowPass(float64(p.format.ClockRate), 0.95*float64(sourceRate)/2)
		}
		pcm = p.encFilter.ProcessPCM16(pcm)
	}

	p.rec.Tap(domain.DirectionRX, pcm)

	payload, err := p.enc.Encode(pcm)
	if err != nil {
		return nil, fmt.Errorf("encode: %w", err)
	}
	return payload, nil
}

// TapEncoded feeds a pre-encoded outbound payload to the RX recording tap by
// decoding it on the recording instance. The payload itself is forwarded by
// the caller unchanged.
func (p *Pipeline) TapEncoded(payload []byte) {
	p.encMu.Lock()
	defer p.encMu.Unlock()

	if !p.rec.Active(domain.DirectionRX) {
		return
	}
	pcm, err := p.recRxDec.Decode(payload)
	if err != nil {
		return
	}
	p.rec.Tap(domain.DirectionRX, pcm)
}

// DecodePayload converts a peer payload into PCM at the consumer rate.
// Below the negotiated rate the decoded signal is low-pass filtered (cutoff
// 0.95 of the target Nyquist) before downsampling; above is rejected. The
// post-decode PCM feeds the TX recording tap through its own decoder
// instance.
func (p *Pipeline) DecodePayload(payload []byte) ([]int16, error) {
	p.decMu.Lock()
	defer p.decMu.Unlock()

	if p.rec.Active(domain.DirectionTX) {
		if pcm, err := p.recTxDec.Decode(payload); err == nil {
			p.rec.Tap(domain.DirectionTX, pcm)
		}
	}

	pcm, err := p.dec.Decode(payload)
	if err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}

	switch {
	case p.consumerRate > p.format.ClockRate:
		return nil, fmt.Errorf("decode: consumer rate %d over negotiated %d: %w",
			p.consumerRate, p.format.ClockRate, domain.ErrUnsupportedRate)
	case p.consumerRate < p.format.ClockRate:
		if p.decFilter == nil {
			p.decFilter = dsp.NewLowPass(float64(p.format.ClockRate), 0.95*float64(p.consumerRate)/2)
		}
		pcm = p.decFilter.ProcessPCM16(pcm)
		pcm = dsp.Resample(pcm, p.format.ClockRate, p.consumerRate)
	}
	return pcm, nil
}
