package upsampler

import "testing"

func TestCalculateTargetRateModeNone(t *testing.T) {
	u := New(Settings{Mode: None})
	if got := u.calculateTargetRate(44100); got != 44100 {
		t.Errorf("None mode should return source rate unchanged, got %d", got)
	}
}

func TestCalculateTargetRateDoubleWithinCeiling(t *testing.T) {
	u := New(Settings{Mode: Double, MaxDacRateHz: 192000})
	if got := u.calculateTargetRate(96000); got != 192000 {
		t.Errorf("Double mode within ceiling: got %d, want 192000", got)
	}
}

func TestCalculateTargetRateDoubleExceedsCeilingFallsBack(t *testing.T) {
	u := New(Settings{Mode: Double, MaxDacRateHz: 48000})
	if got := u.calculateTargetRate(44100); got != 44100 {
		t.Errorf("Double mode exceeding ceiling should fall back to source rate, got %d", got)
	}
}

func TestCalculateTargetRatePowerOf2StaysWithinFamily(t *testing.T) {
	u := New(Settings{Mode: PowerOf2, MaxDacRateHz: 200000})
	got := u.calculateTargetRate(44100)
	if got != 176400 {
		t.Errorf("44.1kHz family PowerOf2 at 200kHz ceiling: got %d, want 176400", got)
	}

	got = u.calculateTargetRate(48000)
	if got != 192000 {
		t.Errorf("48kHz family PowerOf2 at 200kHz ceiling: got %d, want 192000", got)
	}
}

func TestCalculateTargetRateDsd256Rate(t *testing.T) {
	u := New(Settings{Mode: Dsd256Rate})
	if got := u.calculateTargetRate(44100); got != 352800 {
		t.Errorf("Dsd256Rate 44.1kHz family: got %d, want 352800", got)
	}
	if got := u.calculateTargetRate(48000); got != 384000 {
		t.Errorf("Dsd256Rate 48kHz family: got %d, want 384000", got)
	}
}

func TestCalculateTargetRateFixedCappedByCeiling(t *testing.T) {
	u := New(Settings{Mode: Fixed, FixedRateHz: 768000, MaxDacRateHz: 384000})
	if got := u.calculateTargetRate(44100); got != 384000 {
		t.Errorf("Fixed mode exceeding ceiling should clamp to ceiling, got %d", got)
	}
}

func TestConfigureModeNoneIsPassthrough(t *testing.T) {
	u := New(Settings{Mode: None})
	if err := u.Configure(44100, 2); err != nil {
		t.Fatalf("Configure: %v", err)
	}
	if u.Active() {
		t.Error("None mode should never report Active()")
	}
	if u.OutputRate() != 44100 {
		t.Errorf("OutputRate() = %d, want 44100", u.OutputRate())
	}
}

func TestConfigureDownsampleOnExternalDacStaysPassthrough(t *testing.T) {
	// Fixed mode requesting a rate below source on a non-built-in DAC must
	// never downsample (the "never downsample an external DAC" rule).
	u := New(Settings{Mode: Fixed, FixedRateHz: 44100, MaxDacRateHz: 192000, DeviceIsBuiltIn: false})
	if err := u.Configure(96000, 2); err != nil {
		t.Fatalf("Configure: %v", err)
	}
	if u.Active() {
		t.Error("downsample target on external DAC should resolve to passthrough")
	}
	if u.OutputRate() != 96000 {
		t.Errorf("OutputRate() = %d, want 96000 (unchanged)", u.OutputRate())
	}
}

func TestProcessPassthroughCopiesSamples(t *testing.T) {
	u := New(Settings{Mode: None})
	if err := u.Configure(44100, 2); err != nil {
		t.Fatalf("Configure: %v", err)
	}

	in := []float32{1, 2, 3, 4}
	out := make([]float32, 4)
	n := u.Process(in, 2, out, 2)
	if n != 2 {
		t.Fatalf("Process returned %d frames, want 2", n)
	}
	for i := range in {
		if out[i] != in[i] {
			t.Errorf("passthrough sample %d: got %v, want %v", i, out[i], in[i])
		}
	}
}

func TestProcessPassthroughRespectsMaxOutputFrames(t *testing.T) {
	u := New(Settings{Mode: None})
	if err := u.Configure(44100, 1); err != nil {
		t.Fatalf("Configure: %v", err)
	}

	in := []float32{1, 2, 3, 4, 5}
	out := make([]float32, 3)
	n := u.Process(in, 5, out, 3)
	if n != 3 {
		t.Errorf("Process should cap at maxOutputFrames: got %d, want 3", n)
	}
}
