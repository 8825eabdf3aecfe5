// Package gain implements the three gain-staging blocks that run late in
// the render chain: HeadroomGain (pre-emptive attenuation ahead of stages
// that can clip, such as upsampling and convolution), LevelingGain
// (ReplayGain/R128 track normalization), and Limiter (a soft-clip safety
// net).
package gain

import "math"

// HeadroomMode selects how HeadroomGain picks its attenuation.
type HeadroomMode int

const (
	HeadroomOff HeadroomMode = iota
	HeadroomAuto
	HeadroomManual
)

// defaultAutoHeadroomDB is applied in Auto mode whenever any downstream
// stage that can overshoot unity gain is active (upsampling, or the
// leveling, crossfeed, HRTF or convolution stages RenderChain reports),
// matching the conservative auto-configuration
// documented for the original Auto criterion.
const defaultAutoHeadroomDB = -3.0

// HeadroomGain applies a single broadband linear gain ahead of stages that
// can add headroom-consuming gain of their own.
type HeadroomGain struct {
	mode     HeadroomMode
	manualDB float64
	gain     float32
	bypassed bool
}

// NewHeadroomGain returns a HeadroomGain in Off mode (unity gain).
func NewHeadroomGain() *HeadroomGain {
	return &HeadroomGain{gain: 1}
}

// SetMode switches between Off, Auto and Manual.
func (h *HeadroomGain) SetMode(mode HeadroomMode) {
	h.mode = mode
	h.recompute(false, false)
}

// SetManualDB sets the attenuation used in Manual mode.
func (h *HeadroomGain) SetManualDB(db float64) {
	h.manualDB = db
	if h.mode == HeadroomManual {
		h.gain = float32(math.Pow(10, db/20))
	}
}

// UpdateAutoCriteria recomputes the Auto-mode gain from whether any stage
// downstream that can exceed unity gain is currently active. upsampling is
// included in this criterion (per the resolved reading that upsampling can
// also introduce inter-sample overs), alongside positiveEqGainActive, which
// RenderChain.UpdateHeadroomGain sets from leveling, crossfeed, HRTF and
// convolution activity (the equaliser's own band gains are not included).
func (h *HeadroomGain) UpdateAutoCriteria(upsamplingActive, positiveEqGainActive bool) {
	h.recompute(upsamplingActive, positiveEqGainActive)
}

func (h *HeadroomGain) recompute(upsamplingActive, positiveEqGainActive bool) {
	switch h.mode {
	case HeadroomOff:
		h.gain = 1
	case HeadroomManual:
		h.gain = float32(math.Pow(10, h.manualDB/20))
	case HeadroomAuto:
		if upsamplingActive || positiveEqGainActive {
			h.gain = float32(math.Pow(10, defaultAutoHeadroomDB/20))
		} else {
			h.gain = 1
		}
	}
}

func (h *HeadroomGain) SetBypassed(v bool) { h.bypassed = v }
func (h *HeadroomGain) Bypassed() bool     { return h.bypassed }

// Process scales buf by the active linear gain.
func (h *HeadroomGain) Process(buf []float32, frames, channels int) {
	if h.bypassed || h.gain == 1 {
		return
	}
	n := frames * channels
	for i := 0; i < n; i++ {
		buf[i] *= h.gain
	}
}

func (h *HeadroomGain) Reset() {}
