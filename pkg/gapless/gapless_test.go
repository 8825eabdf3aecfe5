package gapless

import (
	"encoding/binary"
	"math"
	"sync"
	"testing"

	"github.com/hifiplayer/audiocore/pkg/audioframe"
)

func TestCrossfadeGainsEqualPower(t *testing.T) {
	var mu sync.Mutex
	m := New(&mu)
	m.crossfadeTotal = 100

	cases := []int{0, 25, 50, 75, 100}
	for _, progress := range cases {
		m.crossfadeProgress = progress
		fadeOut, fadeIn := m.CrossfadeGains()
		sumSquares := float64(fadeOut*fadeOut + fadeIn*fadeIn)
		if math.Abs(sumSquares-1.0) > 1e-3 {
			t.Errorf("progress %d: fadeOut^2+fadeIn^2 = %v, want ~1.0 (equal power)", progress, sumSquares)
		}
	}

	m.crossfadeProgress = 0
	fadeOut, fadeIn := m.CrossfadeGains()
	if fadeOut < 0.99 || fadeIn > 0.01 {
		t.Errorf("at t=0 expected fadeOut~1,fadeIn~0, got %v,%v", fadeOut, fadeIn)
	}

	m.crossfadeProgress = 100
	fadeOut, fadeIn = m.CrossfadeGains()
	if fadeIn < 0.99 || fadeOut > 0.01 {
		t.Errorf("at t=1 expected fadeIn~1,fadeOut~0, got %v,%v", fadeOut, fadeIn)
	}
}

func TestCrossfadeGainsNoCrossfadeConfigured(t *testing.T) {
	var mu sync.Mutex
	m := New(&mu)
	fadeOut, fadeIn := m.CrossfadeGains()
	if fadeOut != 1 || fadeIn != 0 {
		t.Errorf("with crossfadeTotal=0 expected (1,0), got (%v,%v)", fadeOut, fadeIn)
	}
}

func TestStartAdvanceEndCrossfade(t *testing.T) {
	var mu sync.Mutex
	m := New(&mu)

	m.StartCrossfade(900, 1000, 100)
	if !m.Crossfading() {
		t.Fatal("expected Crossfading() true after StartCrossfade")
	}
	if m.CrossfadeDone() {
		t.Error("should not be done immediately after starting")
	}

	m.AdvanceCrossfade(50)
	if m.CrossfadeDone() {
		t.Error("should not be done halfway through")
	}

	m.AdvanceCrossfade(50)
	if !m.CrossfadeDone() {
		t.Error("expected CrossfadeDone() true once progress reaches total")
	}

	m.EndCrossfade()
	if m.Crossfading() {
		t.Error("expected Crossfading() false after EndCrossfade")
	}
}

func TestNextReadyDefaultsFalse(t *testing.T) {
	var mu sync.Mutex
	m := New(&mu)
	if m.NextReady() {
		t.Error("expected NextReady() false with nothing prepared")
	}
}

func packFrame(samples []float32, channels int) audioframe.AudioFrame {
	audioBytes := make([]byte, len(samples)*4)
	for i, s := range samples {
		binary.LittleEndian.PutUint32(audioBytes[i*4:], math.Float32bits(s))
	}
	return audioframe.AudioFrame{
		Format: audioframe.FrameFormat{
			SampleRate:    44100,
			Channels:      uint8(channels),
			BitsPerSample: 32,
		},
		SamplesCount: uint16(len(samples) / channels),
		Audio:        audioBytes,
	}
}

func TestDrainPreloadAcrossMultipleChunksAndCalls(t *testing.T) {
	var mu sync.Mutex
	m := New(&mu)
	m.PreallocateCrossfadeBuffer(1)

	chunkA := packFrame([]float32{1, 2, 3}, 1)
	chunkB := packFrame([]float32{4, 5}, 1)
	if _, err := m.preload.Write([]audioframe.AudioFrame{chunkA, chunkB}); err != nil {
		t.Fatalf("preload.Write: %v", err)
	}

	out := make([]float32, 2)
	n := m.DrainPreload(out, 2, 1)
	if n != 2 || out[0] != 1 || out[1] != 2 {
		t.Fatalf("first drain: got n=%d out=%v, want n=2 out=[1 2]", n, out[:n])
	}

	out = make([]float32, 2)
	n = m.DrainPreload(out, 2, 1)
	if n != 2 || out[0] != 3 || out[1] != 4 {
		t.Fatalf("second drain (spans chunk boundary): got n=%d out=%v, want n=2 out=[3 4]", n, out[:n])
	}

	out = make([]float32, 2)
	n = m.DrainPreload(out, 2, 1)
	if n != 1 || out[0] != 5 {
		t.Fatalf("third drain (buffer exhausted): got n=%d out=%v, want n=1 out=[5]", n, out[:n])
	}
}

func TestDrainPreloadEmptyReturnsZero(t *testing.T) {
	var mu sync.Mutex
	m := New(&mu)
	m.PreallocateCrossfadeBuffer(2)
	out := make([]float32, 8)
	n := m.DrainPreload(out, 4, 2)
	if n != 0 {
		t.Errorf("expected 0 frames from an empty preload buffer, got %d", n)
	}
}

func TestPrepareNextTrackNoopsWhenGaplessAndCrossfadeDisabled(t *testing.T) {
	var mu sync.Mutex
	m := New(&mu)
	m.PrepareNextTrack("/nonexistent/path.flac", false, 44100, 2, false, false)
	if m.NextReady() {
		t.Error("expected no-op with gapless disabled and crossfadeDurationMs<=0")
	}
}

func TestCancelNextTrackIsSafeWithNothingPrepared(t *testing.T) {
	var mu sync.Mutex
	m := New(&mu)
	m.CancelNextTrack() // must not panic
	if m.NextReady() {
		t.Error("expected NextReady() false")
	}
}
