package dsp

// Resample converts PCM16 samples between clock rates by linear
// interpolation. Each call is self-contained: interpolation phase starts at
// zero for every packet, so a packet of n samples always yields exactly
// n*to/from samples (integer division). Callers decide which rate directions
// are legal; this function handles any positive pair.
func Resample(samples []int16, from, to int) []int16 {
	if from == to || len(samples) == 0 {
		out := make([]int16, len(samples))
		copy(out, samples)
		return out
	}

	n := len(samples)
	outLen := n * to / from
	out := make([]int16, outLen)

	step := float64(from) / float64(to)
	for i := 0; i < outLen; i++ {
		pos := float64(i) * step
		i0 := int(pos)
		if i0 >= n-1 {
			out[i] = samples[n-1]
			continue
		}
		frac := pos - float64(i0)
		a := float64(samples[i0])
		b := float64(samples[i0+1])
		out[i] = clampPCM16(a + (b-a)*frac)
	}
	return out
}
