// Package dsp implements the low-pass filtering and sample-rate conversion
// used by the audio transcoding pipeline.
package dsp

import "math"

// pcmScale converts between 16-bit PCM and the normalized [-1,1] float range
// the filter runs in.
const pcmScale = 32768.0

// butterworthQ holds the section Q values realizing a 4th-order Butterworth
// response as two cascaded biquads.
var butterworthQ = [2]float64{0.54119610, 1.30656296}

// biquad is one second-order IIR low-pass section (direct form II transposed).
type biquad struct {
	b0, b1, b2 float64
	a1, a2     float64
	z1, z2     float64
}

func newLowPassBiquad(sampleRate, cutoff, q float64) biquad {
	w0 := 2 * math.Pi * cutoff / sampleRate
	alpha := math.Sin(w0) / (2 * q)
	cosw0 := math.Cos(w0)

	a0 := 1 + alpha
	return biquad{
		b0: (1 - cosw0) / 2 / a0,
		b1: (1 - cosw0) / a0,
		b2: (1 - cosw0) / 2 / a0,
		a1: -2 * cosw0 / a0,
		a2: (1 - alpha) / a0,
	}
}

func (s *biquad) process(x float64) float64 {
	y := s.b0*x + s.z1
	s.z1 = s.b1*x - s.a1*y + s.z2
	s.z2 = s.b2*x - s.a2*y
	return y
}

// Chain is a 4th-order low-pass filter (two cascaded biquad sections).
// Filter state persists across calls and is order-dependent: a Chain belongs
// to exactly one stream direction within one session generation and must see
// its samples in arrival order.
type Chain struct {
	sections [2]biquad
}

// NewLowPass builds a 4th-order Butterworth low-pass chain with the given
// cutoff, for a signal sampled at sampleRate.
func NewLowPass(sampleRate, cutoff float64) *Chain {
	c := &Chain{}
	for i, q := range butterworthQ {
		c.sections[i] = newLowPassBiquad(sampleRate, cutoff, q)
	}
	return c
}

// Process filters a single normalized sample.
func (c *Chain) Process(x float64) float64 {
	for i := range c.sections {
		x = c.sections[i].process(x)
	}
	return x
}

// ProcessPCM16 filters PCM16 samples sample-by-sample, normalizing to [-1,1]
// around the filter and scaling back to 16-bit range. A new slice is
// returned; the input is left untouched.
func (c *Chain) ProcessPCM16(samples []int16) []int16 {
	out := make([]int16, len(samples))
	for i, s := range samples {
		y := c.Process(float64(s)/pcmScale) * pcmScale
		out[i] = clampPCM16(y)
	}
	return out
}

func clampPCM16(v float64) int16 {
	switch {
	case v > math.MaxInt16:
		return math.MaxInt16
	case v < math.MinInt16:
		return math.MinInt16
	default:
		return int16(v)
	}
}
