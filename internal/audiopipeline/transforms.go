package audiopipeline

import "math"

// downmix combines interleaved stereo int16 samples to mono by arithmetic
// mean of each L/R pair. A mono input is returned unchanged.
func downmix(samples []int16, stereo bool) []int16 {
	if !stereo {
		return samples
	}
	out := make([]int16, len(samples)/2)
	for i := range out {
		l := int32(samples[2*i])
		r := int32(samples[2*i+1])
		out[i] = int16((l + r) / 2)
	}
	return out
}

// resample performs linear-interpolation resampling from sourceRate to
// targetRate. Returns samples unchanged if the rates already match.
func resample(samples []int16, sourceRate, targetRate int) []int16 {
	if sourceRate <= 0 || targetRate <= 0 || sourceRate == targetRate || len(samples) == 0 {
		return samples
	}

	ratio := float64(targetRate) / float64(sourceRate)
	outLen := int(float64(len(samples)) * ratio)
	if outLen <= 0 {
		return nil
	}
	out := make([]int16, outLen)

	for i := range out {
		srcPos := float64(i) / ratio
		i0 := int(srcPos)
		frac := srcPos - float64(i0)
		i1 := i0 + 1
		if i1 >= len(samples) {
			i1 = len(samples) - 1
		}
		if i0 >= len(samples) {
			i0 = len(samples) - 1
		}
		interp := float64(samples[i0])*(1-frac) + float64(samples[i1])*frac
		out[i] = int16(interp)
	}
	return out
}

// rms returns the root-mean-square amplitude of samples, normalized to
// [0,1] against the int16 range.
func rms(samples []int16) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sumSq float64
	for _, s := range samples {
		v := float64(s) / int16Max
		sumSq += v * v
	}
	return math.Sqrt(sumSq / float64(len(samples)))
}

// normalize scales samples so their RMS reaches targetLevel, with gain
// capped at maxGain. No-op if current RMS is already at or above target.
func normalize(samples []int16, targetLevel, maxGain float64) []int16 {
	current := rms(samples)
	if current <= 0 || targetLevel <= 0 {
		return samples
	}
	gain := targetLevel / current
	if gain > maxGain {
		gain = maxGain
	}
	if gain <= 1.0 {
		return samples
	}

	out := make([]int16, len(samples))
	for i, s := range samples {
		scaled := float64(s) * gain
		out[i] = clampInt16(scaled)
	}
	return out
}

// noiseGate zeros samples whose magnitude falls below threshold*32767.
func noiseGate(samples []int16, threshold float64) []int16 {
	cutoff := threshold * int16Max
	out := make([]int16, len(samples))
	for i, s := range samples {
		if absFloat(float64(s)) < cutoff {
			out[i] = 0
		} else {
			out[i] = s
		}
	}
	return out
}

func clampInt16(v float64) int16 {
	if v > int16Max {
		return int16Max
	}
	if v < -int16Max-1 {
		return -int16Max - 1
	}
	return int16(v)
}

func absFloat(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
