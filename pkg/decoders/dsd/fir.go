package dsd

import "math"

const (
	firTaps      = 64
	maxChannels  = 8
	firCutoffHz  = 20000.0
)

// firFilter is a 64-tap windowed-sinc lowpass used to decimate the popcount
// stream produced from raw DSD bits down to a clean 44.1kHz PCM signal. The
// Blackman-Harris window gives roughly 92dB of stopband attenuation.
type firFilter struct {
	coeffs [firTaps]float32
	buffer [maxChannels][firTaps]float32
	pos    [maxChannels]int
}

// design computes the filter coefficients for a cutoff of cutoffHz at
// outputRate, normalized for unity gain at DC.
func (f *firFilter) design(cutoffHz, outputRate float64) {
	fc := cutoffHz / outputRate

	var sum float64
	for i := 0; i < firTaps; i++ {
		n := float64(i) - float64(firTaps-1)/2.0

		var h float64
		if math.Abs(n) < 0.0001 {
			h = 2.0 * math.Pi * fc
		} else {
			h = math.Sin(2.0*math.Pi*fc*n) / (math.Pi * n)
		}

		w := 0.35875 -
			0.48829*math.Cos(2.0*math.Pi*float64(i)/float64(firTaps-1)) +
			0.14128*math.Cos(4.0*math.Pi*float64(i)/float64(firTaps-1)) -
			0.01168*math.Cos(6.0*math.Pi*float64(i)/float64(firTaps-1))

		f.coeffs[i] = float32(h * w)
		sum += h * w
	}

	invSum := float32(1.0 / sum)
	for i := range f.coeffs {
		f.coeffs[i] *= invSum
	}
}

func (f *firFilter) reset() {
	for ch := range f.buffer {
		for i := range f.buffer[ch] {
			f.buffer[ch][i] = 0
		}
		f.pos[ch] = 0
	}
}

func (f *firFilter) process(channel int, input float32) float32 {
	f.buffer[channel][f.pos[channel]] = input

	var output float32
	p := f.pos[channel]
	for i := 0; i < firTaps; i++ {
		output += f.buffer[channel][p] * f.coeffs[i]
		p--
		if p < 0 {
			p = firTaps - 1
		}
	}

	f.pos[channel]++
	if f.pos[channel] >= firTaps {
		f.pos[channel] = 0
	}

	return output
}
