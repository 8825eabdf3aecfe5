package gain

import (
	"math"
	"sync/atomic"

	"github.com/hifiplayer/audiocore/pkg/decoders"
)

// LevelingMode selects which tag set drives track-vs-album gain selection
// when both are available.
type LevelingMode int

const (
	LevelingTrack LevelingMode = iota
	LevelingAlbum
)

const (
	replayGainReferenceLUFS = -18.0
	gainClampDB             = 12.0
	rampMillis              = 20.0
)

// LevelingGain normalizes perceived loudness to a target LUFS using
// ReplayGain tags when present, falling back to R128 integrated loudness,
// with peak limiting so a gain boost never pushes a track's known peak
// above full scale. Gain changes (on track change) ramp linearly over
// rampMillis rather than stepping, avoiding a zipper click.
type LevelingGain struct {
	enabled      bool
	targetLUFS   float64
	mode         LevelingMode
	sampleRate   float64

	targetGain atomic.Uint32 // float32 bits, written by main thread, read by render thread

	currentGain float32 // render-thread-only ramp state
	rampStep    float32
	rampLeft    int

	bypassed bool
}

// NewLevelingGain returns a LevelingGain at unity, disabled.
func NewLevelingGain(sampleRate float64) *LevelingGain {
	lg := &LevelingGain{sampleRate: sampleRate, currentGain: 1}
	lg.targetGain.Store(math.Float32bits(1))
	return lg
}

func (lg *LevelingGain) SetEnabled(v bool)            { lg.enabled = v }
func (lg *LevelingGain) SetTargetLoudnessLUFS(v float64) { lg.targetLUFS = v }
func (lg *LevelingGain) SetMode(mode LevelingMode)    { lg.mode = mode }

// UpdateTrack recomputes and publishes the target gain for meta, called on
// the main thread whenever a track becomes current (or R128 analysis
// completes in the background and arrives late).
func (lg *LevelingGain) UpdateTrack(meta decoders.TrackMeta) {
	if !lg.enabled || meta.FilePath == "" {
		lg.targetGain.Store(math.Float32bits(1))
		return
	}

	var gainDB float64

	switch {
	case meta.HasReplayGain:
		rgGain := meta.ReplayGainTrackDB
		peak := meta.ReplayGainTrackPeak
		if lg.mode == LevelingAlbum && meta.ReplayGainAlbumDB != 0 {
			rgGain = meta.ReplayGainAlbumDB
		}
		if lg.mode == LevelingAlbum && meta.ReplayGainAlbumPeak != 1.0 {
			peak = meta.ReplayGainAlbumPeak
		}
		gainDB = rgGain + (lg.targetLUFS - replayGainReferenceLUFS)

		linear := math.Pow(10, gainDB/20)
		if peak > 0 && peak*linear > 1.0 {
			linear = 1.0 / peak
			gainDB = 20 * math.Log10(linear)
		}
	case meta.HasR128 && meta.R128LoudnessLUFS != 0:
		gainDB = lg.targetLUFS - meta.R128LoudnessLUFS
	default:
		lg.targetGain.Store(math.Float32bits(1))
		return
	}

	gainDB = math.Max(-gainClampDB, math.Min(gainClampDB, gainDB))
	linear := float32(math.Pow(10, gainDB/20))
	lg.targetGain.Store(math.Float32bits(linear))
}

func (lg *LevelingGain) SetBypassed(v bool) { lg.bypassed = v }
func (lg *LevelingGain) Bypassed() bool     { return lg.bypassed }

// Process applies the current ramped gain, starting a new ramp whenever the
// published target differs from the in-flight value.
func (lg *LevelingGain) Process(buf []float32, frames, channels int) {
	if lg.bypassed {
		return
	}

	target := math.Float32frombits(lg.targetGain.Load())
	if target != lg.currentGain && lg.rampLeft == 0 {
		rampFrames := int(lg.sampleRate * rampMillis / 1000.0)
		if rampFrames < 1 {
			rampFrames = 1
		}
		lg.rampStep = (target - lg.currentGain) / float32(rampFrames)
		lg.rampLeft = rampFrames
	}

	n := frames * channels
	frame := 0
	for i := 0; i < n; i += channels {
		if lg.rampLeft > 0 {
			lg.currentGain += lg.rampStep
			lg.rampLeft--
			if lg.rampLeft == 0 {
				lg.currentGain = target
			}
		}
		for ch := 0; ch < channels; ch++ {
			buf[i+ch] *= lg.currentGain
		}
		frame++
	}
}

func (lg *LevelingGain) Reset() {
	lg.currentGain = math.Float32frombits(lg.targetGain.Load())
	lg.rampLeft = 0
}
