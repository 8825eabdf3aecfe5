// Package upsampler wraps zaf/resample (libsoxr) to convert a render
// chain's sample rate ahead of AudioOutput, in one of several target-rate
// selection modes matching a typical "oversampling" preference UI.
package upsampler

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"

	soxr "github.com/zaf/resample"
)

// Mode selects how the target output rate is derived from the source rate.
type Mode int

const (
	None Mode = iota
	Double
	Quadruple
	MaxRate
	PowerOf2
	Dsd256Rate
	Fixed
)

// Quality maps to a libsoxr quality recipe.
type Quality int

const (
	Quick Quality = iota
	Low
	Medium
	High
	VeryHigh
)

// FilterPhase maps to a libsoxr phase/rolloff flag combination.
type FilterPhase int

const (
	LinearPhase FilterPhase = iota
	MinimumPhase
	SteepFilter
	SlowRolloff
)

func (q Quality) soxrQuality() soxr.Quality {
	switch q {
	case Quick:
		return soxr.Quick
	case Low:
		return soxr.LowQ
	case Medium:
		return soxr.MediumQ
	case VeryHigh:
		return soxr.VeryHighQ
	default:
		return soxr.HighQ
	}
}

// Settings is the user-facing configuration surface for an Upsampler.
type Settings struct {
	Mode          Mode
	Quality       Quality
	Filter        FilterPhase
	FixedRateHz   int
	MaxDacRateHz  int
	DeviceIsBuiltIn bool
}

// maxProcessFrames bounds the RT-path scratch buffers Configure pre-sizes:
// it matches AudioEngine's maxCallbackFrames, the largest frame count any
// single renderAudio call will ever ask Process to convert.
const maxProcessFrames = 8192

// Upsampler rate-converts a fixed-channel float32 stream using libsoxr via
// zaf/resample. Unlike the other render-chain stages, input and output
// frame counts differ, so Upsampler does not implement dsp.Stage directly;
// RenderChain calls it first and sizes everything downstream off its
// output.
type Upsampler struct {
	settings   Settings
	inputRate  int
	channels   int
	outputRate int

	buf    bytes.Buffer
	res    *soxr.Resampler
	active bool

	// rawBuf/outBuf are scratch conversion buffers sized once in Configure
	// so Process never allocates on the render thread.
	rawBuf []byte
	outBuf []byte
}

// New returns an Upsampler with no resampler configured; call Configure
// once the source format is known.
func New(settings Settings) *Upsampler {
	return &Upsampler{settings: settings}
}

// SetSettings replaces the configuration and forces a reconfigure on the
// next Configure call.
func (u *Upsampler) SetSettings(s Settings) {
	u.settings = s
	u.active = false
}

// OutputRate reports the currently configured output sample rate (equal to
// the input rate when passthrough).
func (u *Upsampler) OutputRate() int {
	if u.outputRate == 0 {
		return u.inputRate
	}
	return u.outputRate
}

// calculateTargetRate picks the output rate for sourceRate under the active
// mode and device constraints, preferring to stay within the source's
// 44.1kHz or 48kHz family and never crossing families.
func (u *Upsampler) calculateTargetRate(sourceRate int) int {
	is44Family := sourceRate%44100 == 0 || sourceRate == 88200 || sourceRate == 176400 || sourceRate == 352800

	if u.settings.DeviceIsBuiltIn && u.settings.MaxDacRateHz > 0 && u.settings.Mode != None {
		best := sourceRate
		if is44Family {
			for _, r := range []int{352800, 176400, 88200, 44100} {
				if r <= u.settings.MaxDacRateHz {
					best = r
					break
				}
			}
		} else {
			for _, r := range []int{384000, 192000, 96000, 48000} {
				if r <= u.settings.MaxDacRateHz {
					best = r
					break
				}
			}
		}
		return best
	}

	switch u.settings.Mode {
	case None:
		return sourceRate
	case Double:
		target := sourceRate * 2
		if target <= u.settings.MaxDacRateHz {
			return target
		}
		return sourceRate
	case Quadruple:
		target := sourceRate * 4
		if target <= u.settings.MaxDacRateHz {
			return target
		}
		return sourceRate
	case PowerOf2, MaxRate:
		if is44Family {
			switch {
			case u.settings.MaxDacRateHz >= 352800:
				return 352800
			case u.settings.MaxDacRateHz >= 176400:
				return 176400
			case u.settings.MaxDacRateHz >= 88200:
				return 88200
			default:
				return sourceRate
			}
		}
		switch {
		case u.settings.MaxDacRateHz >= 384000:
			return 384000
		case u.settings.MaxDacRateHz >= 192000:
			return 192000
		case u.settings.MaxDacRateHz >= 96000:
			return 96000
		default:
			return sourceRate
		}
	case Dsd256Rate:
		if is44Family {
			return 352800
		}
		return 384000
	case Fixed:
		if u.settings.FixedRateHz <= u.settings.MaxDacRateHz {
			return u.settings.FixedRateHz
		}
		return u.settings.MaxDacRateHz
	}
	return sourceRate
}

// Configure (re)builds the soxr resampler for inputRate/channels. Mode None,
// a same-rate target, or a downsample target on a non-built-in (external)
// DAC all resolve to passthrough, matching the conservative "never
// downsample an external DAC" rule.
func (u *Upsampler) Configure(inputRate, channels int) error {
	u.inputRate = inputRate
	u.channels = channels
	u.res = nil
	u.buf.Reset()
	u.rawBuf = make([]byte, maxProcessFrames*channels*4)
	u.outBuf = make([]byte, maxProcessFrames*channels*4)

	if u.settings.Mode == None {
		u.outputRate = inputRate
		u.active = true
		return nil
	}

	target := u.calculateTargetRate(inputRate)
	if target == inputRate {
		u.outputRate = inputRate
		u.active = true
		return nil
	}
	if target < inputRate && !u.settings.DeviceIsBuiltIn {
		u.outputRate = inputRate
		u.active = true
		return nil
	}

	res, err := soxr.New(&u.buf, float64(inputRate), float64(target), channels, soxr.F32, u.settings.Quality.soxrQuality())
	if err != nil {
		// Silent passthrough degradation: a soxr creation failure must
		// not take playback down, only forfeit the rate conversion.
		u.outputRate = inputRate
		u.active = true
		return fmt.Errorf("upsampler: soxr create failed, degrading to passthrough: %w", err)
	}

	u.res = res
	u.outputRate = target
	u.active = true
	return nil
}

// Process converts inputFrames of interleaved float32 in, writing as many
// resampled frames as are ready into out (which must be sized for the
// worst-case ratio) and returning the count actually written.
func (u *Upsampler) Process(in []float32, inputFrames int, out []float32, maxOutputFrames int) int {
	if !u.active || u.res == nil || u.outputRate == u.inputRate {
		n := inputFrames
		if n > maxOutputFrames {
			n = maxOutputFrames
		}
		copy(out[:n*u.channels], in[:n*u.channels])
		return n
	}

	if inputFrames > maxProcessFrames {
		inputFrames = maxProcessFrames
	}
	raw := u.rawBuf[:inputFrames*u.channels*4]
	for i := 0; i < inputFrames*u.channels; i++ {
		binary.LittleEndian.PutUint32(raw[i*4:], math.Float32bits(in[i]))
	}

	if _, err := u.res.Write(raw); err != nil {
		return 0
	}

	available := u.buf.Len() / 4 / u.channels
	if available > maxOutputFrames {
		available = maxOutputFrames
	}
	if available > maxProcessFrames {
		available = maxProcessFrames
	}
	outBytes := u.outBuf[:available*u.channels*4]
	n, _ := u.buf.Read(outBytes)
	n -= n % 4
	for i := 0; i < n/4; i++ {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(outBytes[i*4:]))
	}

	return n / 4 / u.channels
}

// Close flushes and releases the underlying soxr instance.
func (u *Upsampler) Close() error {
	if u.res != nil {
		err := u.res.Close()
		u.res = nil
		return err
	}
	return nil
}

// Active reports whether rate conversion is in effect (false under any
// passthrough resolution, including degraded-on-error).
func (u *Upsampler) Active() bool {
	return u.active && u.res != nil && u.outputRate != u.inputRate
}
