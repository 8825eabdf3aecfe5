package devicemanager

import "testing"

func seeded() *Manager {
	m := New()
	m.devices = []Device{
		{ID: 0, UID: "pa:0:Built-in Output", Name: "Built-in Output", MaxOutputChannels: 2, DefaultSampleRate: 44100},
		{ID: 1, UID: "pa:1:USB DAC", Name: "USB DAC", MaxOutputChannels: 2, DefaultSampleRate: 768000},
	}
	m.defaultDevice = 0
	return m
}

func TestByIDAndByUID(t *testing.T) {
	m := seeded()

	d, ok := m.ByID(1)
	if !ok || d.Name != "USB DAC" {
		t.Fatalf("ByID(1) = %+v, %v", d, ok)
	}

	d, ok = m.ByUID("pa:0:Built-in Output")
	if !ok || d.ID != 0 {
		t.Fatalf("ByUID lookup failed: %+v, %v", d, ok)
	}

	if _, ok := m.ByID(99); ok {
		t.Error("expected ByID(99) to miss")
	}
}

func TestDevicesReturnsSnapshotCopy(t *testing.T) {
	m := seeded()
	list := m.Devices()
	list[0].Name = "mutated"
	if m.devices[0].Name == "mutated" {
		t.Error("Devices() should return a copy, not the live slice")
	}
}

func TestSupportedSampleRatesCapsToDeviceCeiling(t *testing.T) {
	m := seeded()
	rates := m.SupportedSampleRates(0)
	for _, r := range rates {
		if r > 44100 {
			t.Errorf("built-in device (ceiling 44100) should not offer %v", r)
		}
	}

	rates = m.SupportedSampleRates(1)
	found := false
	for _, r := range rates {
		if r == 768000 {
			found = true
		}
	}
	if !found {
		t.Error("USB DAC (ceiling 768000) should offer the full ladder up to 768000")
	}
}

func TestSupportedSampleRatesUnknownDevice(t *testing.T) {
	m := seeded()
	if rates := m.SupportedSampleRates(42); rates != nil {
		t.Errorf("expected nil for unknown device, got %v", rates)
	}
}

func TestRequestBufferSizeValidatesRange(t *testing.T) {
	m := seeded()
	if err := m.RequestBufferSize(16); err == nil {
		t.Error("expected error for buffer size below minBufferFrames")
	}
	if err := m.RequestBufferSize(minBufferFrames); err != nil {
		t.Errorf("expected min boundary to be valid: %v", err)
	}
	if err := m.RequestBufferSize(maxBufferFrames); err != nil {
		t.Errorf("expected max boundary to be valid: %v", err)
	}
	if err := m.RequestBufferSize(maxBufferFrames + 1); err == nil {
		t.Error("expected error for buffer size above maxBufferFrames")
	}
}

func TestConfirmBufferSizeUpdatesAndEmits(t *testing.T) {
	m := seeded()
	m.SetCurrentDevice(1)
	m.ConfirmBufferSize(1024)

	if m.CurrentBufferSize() != 1024 {
		t.Errorf("CurrentBufferSize() = %d, want 1024", m.CurrentBufferSize())
	}

	select {
	case ev := <-m.Events():
		if ev.Kind != EventBufferSizeChanged || ev.Frames != 1024 || ev.DeviceID != 1 {
			t.Errorf("unexpected event: %+v", ev)
		}
	default:
		t.Fatal("expected a buffer-size-changed event")
	}
}

func TestNotifySampleRateChanged(t *testing.T) {
	m := seeded()
	m.NotifySampleRateChanged(96000)
	if m.CurrentSampleRate() != 96000 {
		t.Errorf("CurrentSampleRate() = %v, want 96000", m.CurrentSampleRate())
	}
}

func TestEmitDropsWhenChannelFull(t *testing.T) {
	m := seeded()
	for i := 0; i < cap(m.events)+5; i++ {
		m.emit(Event{Kind: EventListChanged})
	}
	// Must not block or panic; channel length caps at its capacity.
	if len(m.events) != cap(m.events) {
		t.Errorf("expected channel to stay at capacity %d, got %d", cap(m.events), len(m.events))
	}
}
