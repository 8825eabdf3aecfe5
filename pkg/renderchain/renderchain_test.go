package renderchain

import (
	"testing"

	"github.com/hifiplayer/audiocore/pkg/dsp/biquad"
	"github.com/hifiplayer/audiocore/pkg/dsp/gain"
	"github.com/hifiplayer/audiocore/pkg/dsp/upsampler"
)

func newTestChain() *RenderChain {
	return New(44100, 2, biquad.MinimumPhase, upsampler.Settings{Mode: upsampler.None})
}

func TestDopPassthroughSkipsEveryStage(t *testing.T) {
	rc := newTestChain()
	rc.DopPassthrough = true
	buf := []float32{1, 2, 3, 4}
	want := append([]float32{}, buf...)
	rc.Process(buf, 2, 2)
	for i := range buf {
		if buf[i] != want[i] {
			t.Errorf("DoP passthrough modified sample %d: got %v, want %v", i, buf[i], want[i])
		}
	}
}

func TestBitPerfectOnlyRunsHeadroomAndLimiter(t *testing.T) {
	rc := newTestChain()
	rc.BitPerfect = true
	rc.Crossfeed.SetBypassed(false) // would bleed channels if not skipped
	buf := []float32{1.0, 0.0}
	rc.Process(buf, 1, 2)
	if buf[1] != 0.0 {
		t.Errorf("bit-perfect mode should skip crossfeed, got right channel %v", buf[1])
	}
}

func TestCrossfeedRunsWhenNoHrtfAttached(t *testing.T) {
	rc := newTestChain()
	// With no Hrtf attached, hrtfActive is false and crossfeed runs normally
	// for stereo input; this just exercises the ordinary path without panic.
	buf := []float32{1.0, 0.0}
	rc.Process(buf, 1, 2)
}

func TestUpdateHeadroomGainReactsToLeveling(t *testing.T) {
	rc := newTestChain()
	rc.Headroom.SetMode(gain.HeadroomAuto)

	rc.Leveling.SetBypassed(true)
	rc.UpdateHeadroomGain()
	buf := []float32{1.0}
	rc.Headroom.Process(buf, 1, 1)
	unityGain := buf[0]

	rc.Leveling.SetBypassed(false)
	rc.UpdateHeadroomGain()
	buf = []float32{1.0}
	rc.Headroom.Process(buf, 1, 1)
	if buf[0] >= unityGain {
		t.Errorf("expected headroom to attenuate once leveling is active: unity=%v, leveling-active=%v", unityGain, buf[0])
	}
}

func TestResetClearsStageHistory(t *testing.T) {
	rc := newTestChain()
	buf := make([]float32, 8)
	for i := range buf {
		buf[i] = 1.0
	}
	rc.Process(buf, 4, 2)
	rc.Reset() // must not panic with nil Hrtf/Convolution
}
