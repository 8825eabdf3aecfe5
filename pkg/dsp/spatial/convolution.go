package spatial

import (
	"fmt"
	"math"

	"github.com/hifiplayer/audiocore/pkg/dsp/fft"
)

// Convolution applies a (typically room or headphone correction) impulse
// response to each channel using overlap-save block FFT convolution, so
// cost stays O(n log n) per block regardless of impulse response length.
type Convolution struct {
	channels int
	blockLen int // FFT size, power of 2, >= 2*len(ir)-1
	irLen    int

	irSpectrum []complex128 // frequency-domain impulse response, shared across channels

	overlap [][]float32 // per-channel carry-over from the previous block
	inBuf   []complex128
	bypassed bool
}

// NewConvolution builds a convolution stage from a single impulse response
// shared across all channels (mono correction filter applied identically).
// It self-tests the FFT-based path against direct time-domain convolution
// on a short synthetic signal at construction time and returns an error if
// they disagree beyond floating-point tolerance, catching FFT sizing bugs
// before they reach the render thread.
func NewConvolution(ir []float32, channels int) (*Convolution, error) {
	if len(ir) == 0 {
		return nil, fmt.Errorf("spatial: empty impulse response")
	}

	blockLen := fft.NextPow2(2 * len(ir))
	spectrum := make([]complex128, blockLen)
	for i, v := range ir {
		spectrum[i] = complex(float64(v), 0)
	}
	fft.Forward(spectrum)

	c := &Convolution{
		channels:   channels,
		blockLen:   blockLen,
		irLen:      len(ir),
		irSpectrum: spectrum,
		overlap:    make([][]float32, channels),
		inBuf:      make([]complex128, blockLen),
	}
	for ch := range c.overlap {
		c.overlap[ch] = make([]float32, len(ir)-1)
	}

	if err := c.selfTest(ir); err != nil {
		return nil, err
	}

	return c, nil
}

func (c *Convolution) selfTest(ir []float32) error {
	// One block's worth of input: the linear convolution of testLen samples
	// with the IR then fits in blockLen without circular wrap-around.
	testLen := c.blockLen - c.irLen + 1
	signal := make([]float32, testLen)
	for i := range signal {
		signal[i] = float32(math.Sin(float64(i) * 0.3))
	}

	direct := directConvolve(signal, ir)
	fftResult := c.blockConvolve(signal)

	n := len(direct)
	if len(fftResult) < n {
		return fmt.Errorf("spatial: convolution self-test length mismatch: direct=%d fft=%d", n, len(fftResult))
	}
	var maxErr float64
	for i := 0; i < n; i++ {
		d := math.Abs(float64(direct[i] - fftResult[i]))
		if d > maxErr {
			maxErr = d
		}
	}
	if maxErr > 1e-3 {
		return fmt.Errorf("spatial: convolution self-test mismatch: max error %.6f", maxErr)
	}
	return nil
}

func directConvolve(signal, ir []float32) []float32 {
	out := make([]float32, len(signal)+len(ir)-1)
	for i, x := range signal {
		for j, h := range ir {
			out[i+j] += x * h
		}
	}
	return out
}

// blockConvolve runs one block through the FFT path without touching
// persistent overlap state, used only by selfTest.
func (c *Convolution) blockConvolve(signal []float32) []float32 {
	buf := make([]complex128, c.blockLen)
	for i, v := range signal {
		if i >= c.blockLen {
			break
		}
		buf[i] = complex(float64(v), 0)
	}
	fft.Forward(buf)
	for i := range buf {
		buf[i] *= c.irSpectrum[i]
	}
	fft.Inverse(buf)

	out := make([]float32, len(signal)+c.irLen-1)
	for i := range out {
		if i < c.blockLen {
			out[i] = float32(real(buf[i]))
		}
	}
	return out
}

func (c *Convolution) SetBypassed(v bool) { c.bypassed = v }
func (c *Convolution) Bypassed() bool     { return c.bypassed }

// Process filters buf per channel using overlap-save: each channel's tail
// of irLen-1 samples from the previous call seeds this call's block before
// transforming, so blocks splice together seamlessly.
func (c *Convolution) Process(buf []float32, frames, channels int) {
	if c.bypassed {
		return
	}

	usable := c.blockLen - (c.irLen - 1)
	if usable <= 0 {
		return
	}

	for ch := 0; ch < channels && ch < len(c.overlap); ch++ {
		for start := 0; start < frames; start += usable {
			end := start + usable
			if end > frames {
				end = frames
			}
			n := end - start

			overlap := c.overlap[ch]
			m := len(overlap)
			for i := 0; i < m; i++ {
				c.inBuf[i] = complex(float64(overlap[i]), 0)
			}
			for i := 0; i < n; i++ {
				c.inBuf[m+i] = complex(float64(buf[(start+i)*channels+ch]), 0)
			}
			for i := m + n; i < c.blockLen; i++ {
				c.inBuf[i] = 0
			}

			// Carry the last m input samples forward for the next block.
			for i := 0; i < m; i++ {
				overlap[i] = float32(real(c.inBuf[n+i]))
			}

			fft.Forward(c.inBuf)
			for i := range c.inBuf {
				c.inBuf[i] *= c.irSpectrum[i]
			}
			fft.Inverse(c.inBuf)

			for i := 0; i < n; i++ {
				buf[(start+i)*channels+ch] = float32(real(c.inBuf[m+i]))
			}
		}
	}
}

func (c *Convolution) Reset() {
	for ch := range c.overlap {
		for i := range c.overlap[ch] {
			c.overlap[ch][i] = 0
		}
	}
}
