// Package renderchain composes the fixed-order DSP pipeline that runs
// between a decoder's output and AudioOutput: Upsampler, HeadroomGain,
// Crossfeed (skipped while HRTF is active), Convolution, HRTF, Equaliser,
// LevelingGain, and Limiter.
package renderchain

import (
	"github.com/hifiplayer/audiocore/pkg/dsp/biquad"
	"github.com/hifiplayer/audiocore/pkg/dsp/gain"
	"github.com/hifiplayer/audiocore/pkg/dsp/spatial"
	"github.com/hifiplayer/audiocore/pkg/dsp/upsampler"
)

// RenderChain owns one instance of every DSP stage and applies them in a
// fixed order on each render callback.
type RenderChain struct {
	Upsampler  *upsampler.Upsampler
	Headroom   *gain.HeadroomGain
	Crossfeed  *spatial.Crossfeed
	Hrtf       *spatial.Hrtf
	Convolution *spatial.Convolution
	Equaliser  *biquad.Equaliser
	Leveling   *gain.LevelingGain
	Limiter    *gain.Limiter

	// BitPerfect skips every stage except HeadroomGain and the peak limiter
	// (the minimum safety net); DopPassthrough skips the entire chain since DoP-packed
	// samples are not real audio and must reach the DAC unmodified.
	BitPerfect    bool
	DopPassthrough bool

	sampleRate float64
	channels   int
}

// New wires a RenderChain for the given sample rate and channel count. Any
// stage that depends on supplementary data (convolution impulse response,
// HRTF pairs) starts nil/bypassed and is attached later via SetConvolution
// or SetHrtf once that data is loaded.
func New(sampleRate float64, channels int, eqMode biquad.PhaseMode, upsamplerSettings upsampler.Settings) *RenderChain {
	return &RenderChain{
		Upsampler: upsampler.New(upsamplerSettings),
		Headroom:  gain.NewHeadroomGain(),
		Crossfeed: spatial.NewCrossfeed(sampleRate, spatial.CrossfeedLight),
		Equaliser: biquad.NewEqualiser(sampleRate, channels, eqMode),
		Leveling:  gain.NewLevelingGain(sampleRate),
		Limiter:   gain.NewLimiter(),

		sampleRate: sampleRate,
		channels:   channels,
	}
}

// SetConvolution attaches (or replaces) the convolution stage; pass nil to
// disable it.
func (rc *RenderChain) SetConvolution(c *spatial.Convolution) { rc.Convolution = c }

// SetHrtf attaches (or replaces) the HRTF stage; pass nil to disable it.
func (rc *RenderChain) SetHrtf(h *spatial.Hrtf) { rc.Hrtf = h }

// UpdateHeadroomGain recomputes HeadroomGain's Auto-mode criterion from the
// chain's own current state: leveling enabled, crossfeed/HRTF enabled,
// convolution loaded, or upsampling active. Unlike the narrower original
// reading, upsampling counts here too (resolved per this repository's
// headroom policy), since resampling can also introduce inter-sample overs.
func (rc *RenderChain) UpdateHeadroomGain() {
	positiveGainActive := !rc.Leveling.Bypassed() ||
		(rc.Crossfeed != nil && !rc.Crossfeed.Bypassed()) ||
		(rc.Hrtf != nil && !rc.Hrtf.Bypassed()) ||
		(rc.Convolution != nil && !rc.Convolution.Bypassed())
	rc.Headroom.UpdateAutoCriteria(rc.Upsampler.Active(), positiveGainActive)
}

// Process runs buf (frames*channels float32, already at the chain's working
// sample rate — Upsampler is applied separately by the caller before
// RenderChain.Process since it changes the frame count) through every
// enabled stage in order.
func (rc *RenderChain) Process(buf []float32, frames, channels int) {
	if frames <= 0 || rc.DopPassthrough {
		return
	}

	rc.Headroom.Process(buf, frames, channels)

	if rc.BitPerfect {
		rc.Limiter.Process(buf, frames, channels)
		return
	}

	hrtfActive := rc.Hrtf != nil && !rc.Hrtf.Bypassed()
	if channels == 2 && !hrtfActive {
		rc.Crossfeed.Process(buf, frames, channels)
	}

	if rc.Convolution != nil {
		rc.Convolution.Process(buf, frames, channels)
	}

	if hrtfActive {
		rc.Hrtf.Process(buf, frames, channels)
	}

	rc.Equaliser.Process(buf, frames, channels)
	rc.Leveling.Process(buf, frames, channels)
	rc.Limiter.Process(buf, frames, channels)
}

// Reset clears every stage's persistent filter/ramp state, called on seek,
// track change, and sample-rate change.
func (rc *RenderChain) Reset() {
	rc.Headroom.Reset()
	rc.Crossfeed.Reset()
	if rc.Hrtf != nil {
		rc.Hrtf.Reset()
	}
	if rc.Convolution != nil {
		rc.Convolution.Reset()
	}
	rc.Equaliser.Reset()
	rc.Leveling.Reset()
	rc.Limiter.Reset()
}
