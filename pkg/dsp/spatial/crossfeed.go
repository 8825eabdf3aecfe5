// Package spatial holds the stereo-widening and room/headphone-correction
// stages that sit between HeadroomGain and the equaliser in the render
// chain: Crossfeed, block Convolution, and HRTF. Crossfeed and HRTF are
// mutually exclusive; Convolution may run alongside either.
package spatial

import "math"

// CrossfeedPreset names a fixed attenuation/cutoff pair matching the three
// user-facing presets.
type CrossfeedPreset int

const (
	CrossfeedLight CrossfeedPreset = iota
	CrossfeedMedium
	CrossfeedStrong
)

func (p CrossfeedPreset) attenuationDB() float64 {
	switch p {
	case CrossfeedMedium:
		return -4.5
	case CrossfeedStrong:
		return -3.0
	default:
		return -6.0
	}
}

const crossfeedCutoffHz = 700.0

// Crossfeed blends a lowpassed, attenuated copy of each channel into the
// other, approximating the natural interaural crosstalk headphones remove,
// using a single-pole lowpass per channel ahead of the mix.
type Crossfeed struct {
	sampleRate float64
	preset     CrossfeedPreset
	gain       float32 // linear attenuation applied to the crossfed copy

	lpCoeff float32 // single-pole smoothing coefficient
	lpL, lpR float32
	bypassed bool
}

// NewCrossfeed builds a Crossfeed stage for the given sample rate and preset.
func NewCrossfeed(sampleRate float64, preset CrossfeedPreset) *Crossfeed {
	cf := &Crossfeed{sampleRate: sampleRate}
	cf.SetPreset(preset)
	return cf
}

// SetPreset reconfigures attenuation; safe to call from the main thread
// between render callbacks only (not atomic, matching the other DSP
// stages' batch-update discipline).
func (cf *Crossfeed) SetPreset(preset CrossfeedPreset) {
	cf.preset = preset
	cf.gain = float32(math.Pow(10, preset.attenuationDB()/20))

	// One-pole lowpass coefficient: y += coeff*(x-y), coeff = 1-exp(-2*pi*fc/fs).
	omega := 2 * math.Pi * crossfeedCutoffHz / cf.sampleRate
	cf.lpCoeff = float32(1 - math.Exp(-omega))
}

func (cf *Crossfeed) SetBypassed(v bool) { cf.bypassed = v }
func (cf *Crossfeed) Bypassed() bool     { return cf.bypassed }

// Process applies crossfeed to a stereo buffer; channels other than 2 pass
// through untouched (crossfeed is inherently a stereo-headphone concept).
func (cf *Crossfeed) Process(buf []float32, frames, channels int) {
	if cf.bypassed || channels != 2 {
		return
	}

	for f := 0; f < frames; f++ {
		idx := f * 2
		l := buf[idx]
		r := buf[idx+1]

		cf.lpL += cf.lpCoeff * (r - cf.lpL)
		cf.lpR += cf.lpCoeff * (l - cf.lpR)

		buf[idx] = l + cf.gain*cf.lpL
		buf[idx+1] = r + cf.gain*cf.lpR
	}
}

func (cf *Crossfeed) Reset() {
	cf.lpL, cf.lpR = 0, 0
}
