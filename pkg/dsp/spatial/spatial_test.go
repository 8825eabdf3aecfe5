package spatial

import (
	"math"
	"testing"
)

func TestCrossfeedBypassesMonoPassthroughUnchanged(t *testing.T) {
	cf := NewCrossfeed(44100, CrossfeedMedium)
	buf := []float32{0.5}
	cf.Process(buf, 1, 1) // not stereo, must be a no-op
	if buf[0] != 0.5 {
		t.Errorf("non-stereo crossfeed modified buffer: got %v", buf[0])
	}
}

func TestCrossfeedBlendsChannels(t *testing.T) {
	cf := NewCrossfeed(44100, CrossfeedStrong)
	buf := []float32{1.0, 0.0, 1.0, 0.0}
	cf.Process(buf, 2, 2)
	if buf[1] == 0 {
		t.Errorf("expected crossfeed to bleed left into right channel, got %v", buf[1])
	}
}

func TestCrossfeedBypassed(t *testing.T) {
	cf := NewCrossfeed(44100, CrossfeedLight)
	cf.SetBypassed(true)
	buf := []float32{1.0, 0.0}
	want := append([]float32{}, buf...)
	cf.Process(buf, 1, 2)
	for i := range buf {
		if buf[i] != want[i] {
			t.Errorf("bypassed crossfeed modified sample %d", i)
		}
	}
}

func TestCrossfeedResetClearsHistory(t *testing.T) {
	cf := NewCrossfeed(44100, CrossfeedStrong)
	buf := []float32{1.0, 1.0}
	cf.Process(buf, 1, 2)
	cf.Reset()
	if cf.lpL != 0 || cf.lpR != 0 {
		t.Errorf("Reset did not clear lowpass history: lpL=%v lpR=%v", cf.lpL, cf.lpR)
	}
}

func TestConvolutionIdentityImpulse(t *testing.T) {
	ir := []float32{1.0}
	conv, err := NewConvolution(ir, 1)
	if err != nil {
		t.Fatalf("NewConvolution: %v", err)
	}
	buf := []float32{0.1, 0.2, 0.3, 0.4}
	conv.Process(buf, len(buf), 1)
	want := []float32{0.1, 0.2, 0.3, 0.4}
	for i := range buf {
		if math.Abs(float64(buf[i]-want[i])) > 1e-5 {
			t.Errorf("identity impulse sample %d: got %v, want %v", i, buf[i], want[i])
		}
	}
}

func TestConvolutionRejectsEmptyIR(t *testing.T) {
	if _, err := NewConvolution(nil, 1); err == nil {
		t.Error("expected error for empty impulse response")
	}
}

func TestHrtfClampsAzimuth(t *testing.T) {
	pairs := []HrtfPair{
		{AzimuthDeg: 10, Left: []float32{1}, Right: []float32{0.5}},
		{AzimuthDeg: 90, Left: []float32{0.5}, Right: []float32{1}},
	}
	h, err := NewHrtf(pairs, 50)
	if err != nil {
		t.Fatalf("NewHrtf: %v", err)
	}
	if err := h.SetAzimuth(200); err != nil {
		t.Fatalf("SetAzimuth: %v", err)
	}
	if h.azimuthDeg != 90 {
		t.Errorf("expected azimuth clamped to 90, got %v", h.azimuthDeg)
	}
	if err := h.SetAzimuth(-10); err != nil {
		t.Fatalf("SetAzimuth: %v", err)
	}
	if h.azimuthDeg != 10 {
		t.Errorf("expected azimuth clamped to 10, got %v", h.azimuthDeg)
	}
}

func TestHrtfRendersStereoFromMono(t *testing.T) {
	pairs := []HrtfPair{
		{AzimuthDeg: 10, Left: []float32{1}, Right: []float32{0.25}},
		{AzimuthDeg: 90, Left: []float32{1}, Right: []float32{0.25}},
	}
	h, err := NewHrtf(pairs, 10)
	if err != nil {
		t.Fatalf("NewHrtf: %v", err)
	}
	buf := []float32{1.0, 1.0}
	h.Process(buf, 1, 2)
	if buf[0] == buf[1] {
		t.Errorf("expected asymmetric left/right IRs to produce different channels, got %v", buf)
	}
}
