// Package audioformat holds the stream-format descriptor shared by every
// decoder and DSP stage in audiocore, plus the handful of format tables
// (lossless codec list, DSD rate bands) referenced from more than one
// package.
package audioformat

// StreamFormat describes a decoded PCM stream.
//
// Invariant: SampleRate > 0 whenever a decoder is open; Channels is one of
// {1, 2, 3, 4, 6, 8}.
type StreamFormat struct {
	SampleRate    float64 // Hz
	Channels      int
	BitsPerSample int     // informational only; internal DSP is always float32
	TotalFrames   int64   // -1 if unknown
	DurationSecs  float64
}

// Duration returns DurationSecs, recomputing it from TotalFrames/SampleRate
// when the caller hasn't already populated it.
func (f StreamFormat) Duration() float64 {
	if f.DurationSecs > 0 {
		return f.DurationSecs
	}
	if f.TotalFrames > 0 && f.SampleRate > 0 {
		return float64(f.TotalFrames) / f.SampleRate
	}
	return 0
}

// LosslessCodecs is the explicit list of codec identifiers treated as
// lossless for the auto-sample-rate feature. Per spec §11 this is a literal
// list, extended explicitly rather than inferred heuristically.
var LosslessCodecs = map[string]bool{
	"flac":      true,
	"alac":      true,
	"wav":       true,
	"pcm_s16le": true,
	"pcm_s24le": true,
	"pcm_s32le": true,
	"pcm_f32le": true,
}

// IsLossless reports whether codec is in the lossless set.
func IsLossless(codec string) bool {
	return LosslessCodecs[codec]
}

// DSDRate names the standard DSD multiples of the CD rate (44.1 kHz).
type DSDRate int

const (
	DSDUnknown DSDRate = iota
	DSD64
	DSD128
	DSD256
	DSD512
	DSD1024
	DSD2048
)

func (r DSDRate) String() string {
	switch r {
	case DSD64:
		return "DSD64"
	case DSD128:
		return "DSD128"
	case DSD256:
		return "DSD256"
	case DSD512:
		return "DSD512"
	case DSD1024:
		return "DSD1024"
	case DSD2048:
		return "DSD2048"
	default:
		return "unknown"
	}
}

// ClassifyDSDRate buckets a raw DSD sample rate (Hz) into its standard
// multiple using half-open intervals whose lower bounds sit just below each
// standard rate (2.8 MHz for DSD64's 2.8224 MHz, 5.6 MHz for DSD128's
// 5.6448 MHz, and so on), so a clock running slightly slow still classifies
// correctly; every rate from 90 MHz up is DSD2048.
func ClassifyDSDRate(hz float64) DSDRate {
	switch {
	case hz >= 2_800_000 && hz < 5_600_000:
		return DSD64
	case hz >= 5_600_000 && hz < 11_200_000:
		return DSD128
	case hz >= 11_200_000 && hz < 22_400_000:
		return DSD256
	case hz >= 22_400_000 && hz < 45_000_000:
		return DSD512
	case hz >= 45_000_000 && hz < 90_000_000:
		return DSD1024
	case hz >= 90_000_000:
		return DSD2048
	default:
		return DSDUnknown
	}
}

// ValidChannelCounts lists the channel counts StreamFormat.Channels may take.
var ValidChannelCounts = map[int]bool{1: true, 2: true, 3: true, 4: true, 6: true, 8: true}
