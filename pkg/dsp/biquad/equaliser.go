package biquad

import (
	"math"
	"sync"
	"sync/atomic"

	"github.com/hifiplayer/audiocore/pkg/dsp/fft"
)

const (
	// MaxBands bounds the cascade so per-channel state arrays stay fixed
	// size and allocation-free on the render thread.
	MaxBands = 20

	linearPhaseTaps = 4096
)

// PhaseMode selects between the zero-latency IIR cascade and a
// linear-phase FIR built from the cascade's combined response.
type PhaseMode int

const (
	MinimumPhase PhaseMode = iota
	LinearPhase
)

// Equaliser cascades up to MaxBands EqBand filters plus a broadband preamp
// gain. Coefficient updates happen on the main thread inside
// BeginBatchUpdate/EndBatchUpdate; Process on the render thread always
// reads a fully-built, atomically-published set.
type Equaliser struct {
	sampleRate float64
	channels   int
	mode       PhaseMode

	mu      sync.Mutex // guards bands/preamp during batch update; render thread never blocks on it
	bands   []EqBand
	preampDB float64

	active atomic.Pointer[cascade]

	// Linear-phase convolution state (render-thread only).
	linBuf   [][]float64 // per-channel history ring, length linearPhaseTaps
	linPos   []int
	bypassed bool

	// Minimum-phase filter state, pre-allocated at construction so
	// Process never allocates on the render thread. lastCascade lets
	// Process detect a swapped-in cascade and reset section state
	// without reallocating the backing arrays.
	secState    [][MaxBands]section
	lastCascade *cascade
}

type cascade struct {
	coeffs  []biquadCoeffs   // one per enabled band, minimum-phase mode
	preamp  float64          // linear gain
	linTaps []float64        // linear-phase impulse response, only set in LinearPhase mode
}

// NewEqualiser returns an Equaliser with no bands enabled (unity gain).
func NewEqualiser(sampleRate float64, channels int, mode PhaseMode) *Equaliser {
	eq := &Equaliser{
		sampleRate: sampleRate,
		channels:   channels,
		mode:       mode,
	}
	if mode == LinearPhase {
		eq.linBuf = make([][]float64, channels)
		eq.linPos = make([]int, channels)
		for c := range eq.linBuf {
			eq.linBuf[c] = make([]float64, linearPhaseTaps)
		}
	}
	eq.secState = make([][MaxBands]section, channels)
	eq.publish(&cascade{preamp: 1})
	return eq
}

func (eq *Equaliser) publish(c *cascade) {
	eq.active.Store(c)
}

// BeginBatchUpdate and EndBatchUpdate bracket a burst of SetBand calls from
// the UI/settings thread so the render thread only ever observes a
// complete, self-consistent cascade rather than a partially-edited one.
func (eq *Equaliser) BeginBatchUpdate() {
	eq.mu.Lock()
}

// SetBands replaces the full band list; must be called between
// BeginBatchUpdate and EndBatchUpdate.
func (eq *Equaliser) SetBands(bands []EqBand) {
	if len(bands) > MaxBands {
		bands = bands[:MaxBands]
	}
	eq.bands = append(eq.bands[:0], bands...)
}

// SetPreampDB sets the broadband gain applied after the cascade.
func (eq *Equaliser) SetPreampDB(db float64) {
	eq.preampDB = db
}

// EndBatchUpdate rebuilds coefficients for every enabled band and publishes
// the new cascade atomically, then releases the update lock.
func (eq *Equaliser) EndBatchUpdate() {
	defer eq.mu.Unlock()

	c := &cascade{preamp: math.Pow(10, eq.preampDB/20)}
	for _, b := range eq.bands {
		if !b.Enabled {
			continue
		}
		c.coeffs = append(c.coeffs, design(b, eq.sampleRate))
	}

	if eq.mode == LinearPhase {
		c.linTaps = eq.designLinearPhaseTaps(c.coeffs, c.preamp)
	}

	eq.publish(c)
}

// designLinearPhaseTaps derives a linear-phase FIR approximating the
// cascade's magnitude response: it measures |H(w)| from the minimum-phase
// coefficients via a fresh impulse response and FFT, then constructs a
// symmetric-phase FIR of the same magnitude by taking the IFFT of that
// magnitude spectrum and centering it, trading the cascade's natural
// (minimal) latency for zero phase distortion.
func (eq *Equaliser) designLinearPhaseTaps(coeffs []biquadCoeffs, preamp float64) []float64 {
	n := fft.NextPow2(linearPhaseTaps)

	// Impulse response of the minimum-phase cascade.
	impulse := make([]float64, n)
	secs := make([]section, len(coeffs))
	for i, c := range coeffs {
		secs[i].coeffs = c
	}
	for i := 0; i < n; i++ {
		x := 0.0
		if i == 0 {
			x = preamp
		}
		for j := range secs {
			x = secs[j].process(x)
		}
		impulse[i] = x
	}

	spec := make([]complex128, n)
	for i, v := range impulse {
		spec[i] = complex(v, 0)
	}
	fft.Forward(spec)

	mag := make([]float64, n)
	for i, v := range spec {
		mag[i] = math.Hypot(real(v), imag(v))
	}

	// Zero-phase spectrum: magnitude only, no phase term.
	zeroPhase := make([]complex128, n)
	for i, m := range mag {
		zeroPhase[i] = complex(m, 0)
	}
	fft.Inverse(zeroPhase)

	// fftshift so the symmetric kernel is centered in the output slice.
	taps := make([]float64, linearPhaseTaps)
	half := linearPhaseTaps / 2
	for i := 0; i < linearPhaseTaps; i++ {
		src := (i + n - half) % n
		taps[i] = real(zeroPhase[src])
	}
	return taps
}

// Process runs the active cascade over buf in place.
func (eq *Equaliser) Process(buf []float32, frames, channels int) {
	if eq.Bypassed() {
		return
	}
	c := eq.active.Load()
	if c == nil {
		return
	}

	if eq.mode == LinearPhase && len(c.linTaps) > 0 {
		eq.processLinearPhase(buf, frames, channels, c)
		return
	}
	eq.processMinimumPhase(buf, frames, channels, c)
}

func (eq *Equaliser) processMinimumPhase(buf []float32, frames, channels int, c *cascade) {
	if c != eq.lastCascade {
		nBands := len(c.coeffs)
		for ch := range eq.secState {
			for i := 0; i < nBands; i++ {
				eq.secState[ch][i] = section{coeffs: c.coeffs[i]}
			}
		}
		eq.lastCascade = c
	}

	nBands := len(c.coeffs)
	for ch := 0; ch < channels && ch < len(eq.secState); ch++ {
		secs := &eq.secState[ch]
		for f := 0; f < frames; f++ {
			idx := f*channels + ch
			x := float64(buf[idx]) * c.preamp
			for i := 0; i < nBands; i++ {
				x = secs[i].process(x)
			}
			buf[idx] = float32(x)
		}
	}
}

func (eq *Equaliser) processLinearPhase(buf []float32, frames, channels int, c *cascade) {
	taps := c.linTaps
	for ch := 0; ch < channels && ch < len(eq.linBuf); ch++ {
		ring := eq.linBuf[ch]
		pos := eq.linPos[ch]
		for f := 0; f < frames; f++ {
			idx := f*channels + ch
			ring[pos] = float64(buf[idx]) * c.preamp

			var acc float64
			p := pos
			for _, tap := range taps {
				acc += ring[p] * tap
				p--
				if p < 0 {
					p = len(ring) - 1
				}
			}
			buf[idx] = float32(acc)

			pos++
			if pos >= len(ring) {
				pos = 0
			}
		}
		eq.linPos[ch] = pos
	}
}

// Reset clears the linear-phase ring buffer history and the minimum-phase
// sections' per-channel filter state; the published cascade is unchanged.
func (eq *Equaliser) Reset() {
	for ch := range eq.linBuf {
		for i := range eq.linBuf[ch] {
			eq.linBuf[ch][i] = 0
		}
		eq.linPos[ch] = 0
	}
	for ch := range eq.secState {
		for i := range eq.secState[ch] {
			eq.secState[ch][i].reset()
		}
	}
}

// SetBypassed toggles whether Process is a no-op, used for bit-perfect mode.
func (eq *Equaliser) SetBypassed(v bool) { eq.bypassed = v }

func (eq *Equaliser) Bypassed() bool { return eq.bypassed }

// FrequencyResponse samples the active cascade's magnitude response in dB
// at each of freqsHz, for UI display.
func (eq *Equaliser) FrequencyResponse(freqsHz []float64) []float64 {
	c := eq.active.Load()
	out := make([]float64, len(freqsHz))
	for i, f := range freqsHz {
		w := 2 * math.Pi * f / eq.sampleRate
		h := complex(c.preamp, 0)
		for _, co := range c.coeffs {
			h *= biquadResponse(co, w)
		}
		mag := math.Hypot(real(h), imag(h))
		out[i] = 20 * math.Log10(math.Max(mag, 1e-9))
	}
	return out
}

func biquadResponse(c biquadCoeffs, w float64) complex128 {
	ejw := complex(math.Cos(w), math.Sin(w))
	ej2w := ejw * ejw
	num := complex(c.b0, 0) + complex(c.b1, 0)/ejw + complex(c.b2, 0)/ej2w
	den := complex(1, 0) + complex(c.a1, 0)/ejw + complex(c.a2, 0)/ej2w
	return num / den
}
