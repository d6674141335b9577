package audio

import "math"

// Resample converts samples from one rate to another with linear
// interpolation. It returns the input unchanged when the rates match.
func Resample(samples []int, from, to int) []int {
	if from == to || from <= 0 || to <= 0 || len(samples) == 0 {
		return samples
	}

	n := int(math.Round(float64(len(samples)) * float64(to) / float64(from)))
	if n == 0 {
		return nil
	}
	out := make([]int, n)
	step := float64(from) / float64(to)
	last := len(samples) - 1
	for i := range out {
		pos := float64(i) * step
		j := int(pos)
		if j >= last {
			out[i] = samples[last]
			continue
		}
		frac := pos - float64(j)
		out[i] = int(math.Round(float64(samples[j])*(1-frac) + float64(samples[j+1])*frac))
	}
	return out
}
