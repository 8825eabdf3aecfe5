package spatial

import "fmt"

// HrtfPair is one measured head-related impulse-response pair (left-ear and
// right-ear) at a given azimuth, as loaded from a SOFA dataset.
type HrtfPair struct {
	AzimuthDeg float64
	Left       []float32
	Right      []float32
}

// maxProcessFrames bounds the RT-path scratch buffers NewHrtf/SetAzimuth
// pre-size: it matches AudioEngine's maxCallbackFrames, the largest frame
// count any single renderAudio call will ever ask Process to convert.
const maxProcessFrames = 8192

// Hrtf renders a virtual speaker position by convolving the input with a
// pair of measured impulse responses interpolated between the two nearest
// loaded azimuths. Mutually exclusive with Crossfeed in the render chain:
// both approximate binaural crosstalk and stacking them double-applies it.
type Hrtf struct {
	pairs      []HrtfPair // sorted ascending by AzimuthDeg, covering 10-90 degrees
	azimuthDeg float64
	leftConv   *Convolution
	rightConv  *Convolution
	bypassed   bool

	// mono/left/right are scratch buffers sized once so Process never
	// allocates on the render thread.
	mono  []float32
	left  []float32
	right []float32
}

// NewHrtf builds an Hrtf stage from a SOFA-sourced set of measured pairs
// spanning the supported 10-90 degree azimuth range, initially pointed at
// azimuthDeg.
func NewHrtf(pairs []HrtfPair, azimuthDeg float64) (*Hrtf, error) {
	if len(pairs) == 0 {
		return nil, fmt.Errorf("spatial: no HRTF pairs supplied")
	}
	h := &Hrtf{
		pairs: pairs,
		mono:  make([]float32, maxProcessFrames),
		left:  make([]float32, maxProcessFrames),
		right: make([]float32, maxProcessFrames),
	}
	if err := h.SetAzimuth(azimuthDeg); err != nil {
		return nil, err
	}
	return h, nil
}

// SetAzimuth rebuilds the active impulse response pair by linearly
// interpolating the two measured pairs bracketing degrees, clamped to the
// supported 10-90 degree range.
func (h *Hrtf) SetAzimuth(degrees float64) error {
	if degrees < 10 {
		degrees = 10
	}
	if degrees > 90 {
		degrees = 90
	}

	lo, hi, t := h.bracket(degrees)
	left := lerpIR(h.pairs[lo].Left, h.pairs[hi].Left, t)
	right := lerpIR(h.pairs[lo].Right, h.pairs[hi].Right, t)

	leftConv, err := NewConvolution(left, 1)
	if err != nil {
		return fmt.Errorf("spatial: hrtf left IR: %w", err)
	}
	rightConv, err := NewConvolution(right, 1)
	if err != nil {
		return fmt.Errorf("spatial: hrtf right IR: %w", err)
	}

	h.azimuthDeg = degrees
	h.leftConv = leftConv
	h.rightConv = rightConv
	return nil
}

func (h *Hrtf) bracket(degrees float64) (lo, hi int, t float64) {
	for i := 0; i < len(h.pairs)-1; i++ {
		if degrees >= h.pairs[i].AzimuthDeg && degrees <= h.pairs[i+1].AzimuthDeg {
			span := h.pairs[i+1].AzimuthDeg - h.pairs[i].AzimuthDeg
			if span <= 0 {
				return i, i, 0
			}
			return i, i + 1, (degrees - h.pairs[i].AzimuthDeg) / span
		}
	}
	last := len(h.pairs) - 1
	return last, last, 0
}

func lerpIR(a, b []float32, t float64) []float32 {
	n := len(a)
	if len(b) > n {
		n = len(b)
	}
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		var av, bv float32
		if i < len(a) {
			av = a[i]
		}
		if i < len(b) {
			bv = b[i]
		}
		out[i] = av + float32(t)*(bv-av)
	}
	return out
}

func (h *Hrtf) SetBypassed(v bool) { h.bypassed = v }
func (h *Hrtf) Bypassed() bool     { return h.bypassed }

// Process renders a stereo image from buf, whose input may be mono or
// stereo; stereo input is downmixed to mono before binaural rendering since
// the measured impulse responses model a single virtual source position.
func (h *Hrtf) Process(buf []float32, frames, channels int) {
	if h.bypassed {
		return
	}
	if frames > maxProcessFrames {
		frames = maxProcessFrames
	}

	mono := h.mono[:frames]
	for f := 0; f < frames; f++ {
		var sum float32
		for ch := 0; ch < channels; ch++ {
			sum += buf[f*channels+ch]
		}
		mono[f] = sum / float32(channels)
	}

	left := h.left[:frames]
	right := h.right[:frames]
	copy(left, mono)
	copy(right, mono)
	h.leftConv.Process(left, frames, 1)
	h.rightConv.Process(right, frames, 1)

	for f := 0; f < frames; f++ {
		if channels >= 2 {
			buf[f*channels] = left[f]
			buf[f*channels+1] = right[f]
			for ch := 2; ch < channels; ch++ {
				buf[f*channels+ch] = 0
			}
		} else {
			buf[f*channels] = (left[f] + right[f]) / 2
		}
	}
}

func (h *Hrtf) Reset() {
	h.leftConv.Reset()
	h.rightConv.Reset()
}
