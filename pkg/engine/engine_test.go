package engine

import (
	"testing"

	"github.com/hifiplayer/audiocore/pkg/devicemanager"
)

func newTestEngine() *Engine {
	return New(Settings{Volume: 1.0}, devicemanager.New())
}

func TestCodecForExt(t *testing.T) {
	cases := map[string]string{
		".flac": "flac",
		".wav":  "wav",
		".mp3":  "",
		".ogg":  "",
	}
	for ext, want := range cases {
		if got := codecForExt(ext); got != want {
			t.Errorf("codecForExt(%q) = %q, want %q", ext, got, want)
		}
	}
}

func TestSourceFramesNeededNoResample(t *testing.T) {
	e := newTestEngine()
	e.sourceRate = 44100
	e.outputRate = 44100
	if got := e.sourceFramesNeeded(512); got != 512 {
		t.Errorf("sourceFramesNeeded with matching rates = %d, want 512", got)
	}
}

func TestSourceFramesNeededUpsampling(t *testing.T) {
	e := newTestEngine()
	e.sourceRate = 44100
	e.outputRate = 88200
	got := e.sourceFramesNeeded(1000)
	if got != 500 {
		t.Errorf("sourceFramesNeeded for 2x upsample of 1000 output frames = %d, want 500", got)
	}
}

func TestSourceFramesNeededCapsAtScratchCapacity(t *testing.T) {
	e := newTestEngine()
	e.sourceRate = 44100
	e.outputRate = 44100
	got := e.sourceFramesNeeded(maxCallbackFrames * 2)
	if got != maxCallbackFrames {
		t.Errorf("sourceFramesNeeded should cap at %d, got %d", maxCallbackFrames, got)
	}
}

func TestCrossfadeFrameCountZeroWhenDisabled(t *testing.T) {
	e := newTestEngine()
	e.sourceRate = 44100
	e.settings.CrossfadeMs = 0
	if got := e.crossfadeFrameCount(); got != 0 {
		t.Errorf("crossfadeFrameCount with CrossfadeMs=0 = %d, want 0", got)
	}
}

func TestCrossfadeFrameCountComputesFrames(t *testing.T) {
	e := newTestEngine()
	e.sourceRate = 44100
	e.settings.CrossfadeMs = 1000
	if got := e.crossfadeFrameCount(); got != 44100 {
		t.Errorf("crossfadeFrameCount(1000ms @ 44100Hz) = %d, want 44100", got)
	}
}

func TestFilePathRoundTrip(t *testing.T) {
	e := newTestEngine()
	e.setFilePath("/music/track.flac")
	if got := e.FilePath(); got != "/music/track.flac" {
		t.Errorf("FilePath() = %q, want /music/track.flac", got)
	}
}

func TestSetStateEmitsEvent(t *testing.T) {
	e := newTestEngine()
	e.setState(StatePlaying)
	if e.State() != StatePlaying {
		t.Fatalf("State() = %v, want StatePlaying", e.State())
	}

	select {
	case ev := <-e.Events():
		if ev.Kind != EventStateChanged || ev.State != StatePlaying {
			t.Errorf("unexpected event: %+v", ev)
		}
	default:
		t.Fatal("expected a StateChanged event")
	}
}

func TestRenderAudioReturnsZeroWhenDestroyed(t *testing.T) {
	e := newTestEngine()
	e.destroyed.Store(true)
	buf := make([]float32, 16)
	if n := e.renderAudio(buf, 8); n != 0 {
		t.Errorf("renderAudio on a destroyed engine returned %d frames, want 0", n)
	}
}

func TestRenderAudioReturnsZeroWithNoTrackLoaded(t *testing.T) {
	e := newTestEngine()
	buf := make([]float32, 16)
	if n := e.renderAudio(buf, 8); n != 0 {
		t.Errorf("renderAudio with no current decoder returned %d frames, want 0", n)
	}
}
