package gain

import (
	"math"
	"testing"

	"github.com/hifiplayer/audiocore/pkg/decoders"
)

func TestLimiterPassesQuietSamples(t *testing.T) {
	l := NewLimiter()
	buf := []float32{0.1, -0.2, 0.5}
	want := append([]float32{}, buf...)
	l.Process(buf, 3, 1)
	for i := range buf {
		if buf[i] != want[i] {
			t.Errorf("sample %d: got %v, want unchanged %v", i, buf[i], want[i])
		}
	}
}

func TestLimiterSoftClipsLoudSamples(t *testing.T) {
	l := NewLimiter()
	buf := []float32{1.5, -1.5}
	l.Process(buf, 2, 1)
	for i, v := range buf {
		if v < -1 || v > 1 {
			t.Errorf("sample %d: %v not clamped within [-1,1]", i, v)
		}
	}
	if buf[0] <= 0 {
		t.Errorf("positive overshoot should stay positive, got %v", buf[0])
	}
	if buf[1] >= 0 {
		t.Errorf("negative overshoot should stay negative, got %v", buf[1])
	}
}

func TestLimiterBypass(t *testing.T) {
	l := NewLimiter()
	l.SetBypassed(true)
	buf := []float32{2.0}
	l.Process(buf, 1, 1)
	if buf[0] != 2.0 {
		t.Errorf("bypassed limiter modified sample: got %v", buf[0])
	}
}

func TestHeadroomGainOffIsUnity(t *testing.T) {
	h := NewHeadroomGain()
	buf := []float32{0.5, 0.5}
	h.Process(buf, 2, 1)
	if buf[0] != 0.5 || buf[1] != 0.5 {
		t.Errorf("Off-mode headroom should be unity, got %v", buf)
	}
}

func TestHeadroomGainManual(t *testing.T) {
	h := NewHeadroomGain()
	h.SetMode(HeadroomManual)
	h.SetManualDB(-6.0)
	buf := []float32{1.0}
	h.Process(buf, 1, 1)
	want := float32(math.Pow(10, -6.0/20))
	if math.Abs(float64(buf[0]-want)) > 1e-4 {
		t.Errorf("manual headroom: got %v, want %v", buf[0], want)
	}
}

func TestHeadroomGainAutoCriterion(t *testing.T) {
	h := NewHeadroomGain()
	h.SetMode(HeadroomAuto)
	h.UpdateAutoCriteria(false, false)
	buf := []float32{1.0}
	h.Process(buf, 1, 1)
	if buf[0] != 1.0 {
		t.Errorf("Auto with no active criteria should be unity, got %v", buf[0])
	}

	h.UpdateAutoCriteria(true, false)
	buf = []float32{1.0}
	h.Process(buf, 1, 1)
	if buf[0] >= 1.0 {
		t.Errorf("Auto with upsampling active should attenuate, got %v", buf[0])
	}
}

func TestLevelingGainDisabledKeepsUnity(t *testing.T) {
	lg := NewLevelingGain(44100)
	lg.SetEnabled(false)
	lg.UpdateTrack(decoders.TrackMeta{FilePath: "track.flac", HasReplayGain: true, ReplayGainTrackDB: -10})
	buf := []float32{1.0}
	lg.Process(buf, 1, 1)
	if buf[0] != 1.0 {
		t.Errorf("disabled leveling changed gain: got %v", buf[0])
	}
}

func TestLevelingGainReplayGainRespectsPeak(t *testing.T) {
	lg := NewLevelingGain(44100)
	lg.SetEnabled(true)
	lg.SetTargetLoudnessLUFS(replayGainReferenceLUFS)
	lg.UpdateTrack(decoders.TrackMeta{
		FilePath:            "track.flac",
		HasReplayGain:       true,
		ReplayGainTrackDB:   20, // would overshoot full scale without the peak clamp
		ReplayGainTrackPeak: 0.5,
	})
	target := math.Float32frombits(lg.targetGain.Load())
	// Peak clamp caps gain at 1/peak = 2.0 regardless of the requested +20dB.
	if target > 2.01 {
		t.Errorf("expected peak-clamped gain <= 2.0, got %v", target)
	}
}
