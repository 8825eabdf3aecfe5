package audiooutput

import (
	"math"
	"testing"
)

func TestDopIdleSampleAlternatesMarker(t *testing.T) {
	low := dopIdleSample(false)
	high := dopIdleSample(true)
	if low == high {
		t.Error("expected different samples for the two marker parities")
	}
	for _, v := range []float32{low, high} {
		if v <= -1 || v >= 1 {
			t.Errorf("DoP idle sample out of normalized float range: %v", v)
		}
	}
}

func TestDopIdleSampleDeterministic(t *testing.T) {
	a := dopIdleSample(true)
	b := dopIdleSample(true)
	if a != b {
		t.Errorf("dopIdleSample should be pure: got %v then %v", a, b)
	}
}

func TestNearestSupportedRateSnapsToLadder(t *testing.T) {
	o := New()
	got := o.NearestSupportedRate(45000)
	if got != 44100 {
		t.Errorf("NearestSupportedRate(45000) = %v, want 44100", got)
	}
	got = o.NearestSupportedRate(100000)
	if got != 96000 {
		t.Errorf("NearestSupportedRate(100000) = %v, want 96000", got)
	}
}

func TestMaxSupportedRateHz(t *testing.T) {
	o := New()
	if o.MaxSupportedRateHz() != standardRates[len(standardRates)-1] {
		t.Errorf("MaxSupportedRateHz mismatch: got %v", o.MaxSupportedRateHz())
	}
}

func TestSetVolumeClampsRange(t *testing.T) {
	o := New()
	o.SetVolume(-1)
	if math.Float32frombits(o.volumeTarget.Load()) != 0 {
		t.Error("negative volume should clamp to 0")
	}
	o.SetVolume(5)
	if math.Float32frombits(o.volumeTarget.Load()) != 1 {
		t.Error("volume above 1 should clamp to 1")
	}
}

func TestApplyVolumeRampReachesTargetExactly(t *testing.T) {
	o := New()
	o.channels = 1
	o.volumeCurrent = 0
	o.SetVolume(1)

	buf := make([]float32, 10)
	for i := range buf {
		buf[i] = 1
	}
	o.applyVolumeRamp(buf, 10)

	if o.volumeCurrent != 1 {
		t.Errorf("ramp should land exactly on target, got %v", o.volumeCurrent)
	}
	if buf[9] < 0.99 {
		t.Errorf("last ramped sample should be near target gain, got %v", buf[9])
	}
	if buf[0] >= buf[9] {
		t.Errorf("ramp should increase monotonically from 0 toward 1: buf[0]=%v buf[9]=%v", buf[0], buf[9])
	}
}

func TestFillIdleLeavesBufferUntouchedWhenNotDoP(t *testing.T) {
	o := New()
	o.channels = 2
	buf := make([]float32, 4)
	for i := range buf {
		buf[i] = 9 // pre-populate to make sure fillIdle leaves it alone
	}
	o.fillIdle(buf, 2)
	for i, v := range buf {
		if v != 9 {
			t.Errorf("non-DoP fillIdle should be a no-op, sample %d changed to %v", i, v)
		}
	}
}

func TestFillIdleWritesDopIdlePattern(t *testing.T) {
	o := New()
	o.channels = 2
	o.dopPassthrough.Store(true)
	buf := make([]float32, 4)
	o.fillIdle(buf, 2)
	if buf[0] == 0 || buf[1] != buf[0] {
		t.Errorf("expected both channels in frame 0 to carry the same DoP idle sample, got %v", buf[:2])
	}
	if buf[2] == buf[0] {
		t.Error("expected DoP marker parity to alternate between frames")
	}
}

func TestWriteOutputRoundTrips(t *testing.T) {
	o := New()
	buf := []float32{0.5, -0.25}
	out := make([]byte, 8)
	o.writeOutput(out, buf, 2)

	back := math.Float32frombits(uint32(out[0]) | uint32(out[1])<<8 | uint32(out[2])<<16 | uint32(out[3])<<24)
	if back != 0.5 {
		t.Errorf("writeOutput round-trip: got %v, want 0.5", back)
	}
}

func TestSetRenderCallbackSwapsUnderLock(t *testing.T) {
	o := New()
	called := false
	o.SetRenderCallback(func(out []float32, frames int) int {
		called = true
		return frames
	})
	if o.callback == nil {
		t.Fatal("expected a non-nil callback after SetRenderCallback")
	}
	o.callback(make([]float32, 2), 2)
	if !called {
		t.Error("expected installed callback to run")
	}
}
