package biquad

import (
	"math"
	"testing"
)

func TestEqualiserNoBandsIsUnity(t *testing.T) {
	eq := NewEqualiser(44100, 2, MinimumPhase)
	buf := []float32{0.3, -0.3, 0.1, -0.1}
	eq.Process(buf, 2, 2)
	want := []float32{0.3, -0.3, 0.1, -0.1}
	for i := range buf {
		if math.Abs(float64(buf[i]-want[i])) > 1e-6 {
			t.Errorf("sample %d: got %v, want %v", i, buf[i], want[i])
		}
	}
}

func TestEqualiserPreampAppliesGain(t *testing.T) {
	eq := NewEqualiser(44100, 1, MinimumPhase)
	eq.BeginBatchUpdate()
	eq.SetBands(nil)
	eq.SetPreampDB(6.0)
	eq.EndBatchUpdate()

	buf := []float32{0.1}
	eq.Process(buf, 1, 1)
	want := float32(0.1 * math.Pow(10, 6.0/20))
	if math.Abs(float64(buf[0]-want)) > 1e-4 {
		t.Errorf("preamp gain: got %v, want %v", buf[0], want)
	}
}

func TestEqualiserBandAttenuatesAtCenterFreq(t *testing.T) {
	eq := NewEqualiser(44100, 1, MinimumPhase)
	eq.BeginBatchUpdate()
	eq.SetBands([]EqBand{{Type: Peaking, FreqHz: 1000, GainDB: -12, Q: 1.0, Enabled: true}})
	eq.EndBatchUpdate()

	resp := eq.FrequencyResponse([]float64{1000})
	if resp[0] > -6 {
		t.Errorf("expected attenuation near -12dB at 1kHz, got %.2fdB", resp[0])
	}
}

func TestEqualiserBypassed(t *testing.T) {
	eq := NewEqualiser(44100, 1, MinimumPhase)
	eq.BeginBatchUpdate()
	eq.SetBands([]EqBand{{Type: Peaking, FreqHz: 1000, GainDB: 12, Q: 1, Enabled: true}})
	eq.EndBatchUpdate()
	eq.SetBypassed(true)

	buf := []float32{0.2}
	eq.Process(buf, 1, 1)
	if buf[0] != 0.2 {
		t.Errorf("bypassed equaliser modified sample: got %v", buf[0])
	}
}

func TestEqualiserDisabledBandsAreExcluded(t *testing.T) {
	eq := NewEqualiser(44100, 1, MinimumPhase)
	eq.BeginBatchUpdate()
	eq.SetBands([]EqBand{{Type: Peaking, FreqHz: 1000, GainDB: -40, Q: 1, Enabled: false}})
	eq.EndBatchUpdate()

	resp := eq.FrequencyResponse([]float64{1000})
	if math.Abs(resp[0]) > 0.5 {
		t.Errorf("disabled band should leave response near 0dB, got %.2fdB", resp[0])
	}
}

func TestEqualiserLinearPhaseResetClearsRingBuffer(t *testing.T) {
	eq := NewEqualiser(44100, 1, LinearPhase)
	eq.BeginBatchUpdate()
	eq.SetBands([]EqBand{{Type: LowShelf, FreqHz: 200, GainDB: 6, Q: 0.707, Enabled: true}})
	eq.EndBatchUpdate()

	buf := make([]float32, 64)
	for i := range buf {
		buf[i] = float32(math.Sin(float64(i) * 0.2))
	}
	eq.Process(buf, len(buf), 1)
	eq.Reset()
	for ch := range eq.linBuf {
		for _, v := range eq.linBuf[ch] {
			if v != 0 {
				t.Fatalf("Reset left nonzero ring buffer state: %v", v)
			}
		}
	}
}
