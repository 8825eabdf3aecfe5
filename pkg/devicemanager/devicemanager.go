// Package devicemanager tracks the set of available audio output devices,
// the OS default, and device liveness, polling at a fixed interval since
// some USB DAC drivers never announce a clean disconnect (the "TOPPING
// heartbeat" problem). AudioEngine owns exactly one AudioOutput at a time;
// DeviceManager is the main-thread-only source of truth for what devices
// exist and which one is current.
package devicemanager

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/drgolem/go-portaudio/portaudio"
)

// EventKind enumerates the notifications Manager emits on its event channel.
type EventKind int

const (
	EventListChanged EventKind = iota
	EventDefaultChanged
	EventConnected
	EventDisconnected
	EventBufferSizeChanged
	EventError
)

// Event is one notification delivered on Manager.Events().
type Event struct {
	Kind     EventKind
	DeviceID int
	Frames   int
	Err      error
}

// Device describes one enumerated output device.
type Device struct {
	ID                int
	UID               string // process-stable identifier; PortAudio exposes no persistent UID, so this is "pa:<index>:<name>" (see DESIGN.md)
	Name              string
	MaxOutputChannels int
	DefaultSampleRate float64
}

// standardRates is the rate ladder used to answer SupportedSampleRates
// without a per-device capability query API.
var standardRates = []float64{
	44100, 48000, 88200, 96000, 176400, 192000,
	352800, 384000, 705600, 768000, 1411200, 1536000,
}

const (
	minBufferFrames = 32
	maxBufferFrames = 8192
	heartbeatPeriod = 2 * time.Second
)

// Manager enumerates devices on a heartbeat tick and tracks the currently
// selected device's confirmed buffer size and sample rate.
type Manager struct {
	mu            sync.RWMutex
	devices       []Device
	defaultDevice int

	currentDeviceID  int
	bufferSizeFrames int
	sampleRateHz     float64

	events   chan Event
	stopChan chan struct{}
	wg       sync.WaitGroup

	logger *log.Logger
}

// New returns a Manager with no devices enumerated yet; call Start to begin
// the heartbeat loop (which performs an immediate first enumeration).
func New() *Manager {
	return &Manager{
		events:           make(chan Event, 32),
		bufferSizeFrames: 512,
		logger:           log.NewWithOptions(os.Stderr, log.Options{ReportTimestamp: true, Prefix: "devicemanager"}),
	}
}

// Events returns the channel Manager notifications arrive on. The channel is
// buffered; when it is full the new notification is dropped (and logged)
// rather than blocking the heartbeat goroutine.
func (m *Manager) Events() <-chan Event { return m.events }

// Start begins the ~2s heartbeat enumeration loop.
func (m *Manager) Start() {
	m.stopChan = make(chan struct{})
	m.wg.Add(1)
	go m.heartbeatLoop()
}

// Stop halts the heartbeat loop and waits for it to exit.
func (m *Manager) Stop() {
	if m.stopChan == nil {
		return
	}
	close(m.stopChan)
	m.wg.Wait()
}

func (m *Manager) heartbeatLoop() {
	defer m.wg.Done()

	m.refreshAndDiff()

	ticker := time.NewTicker(heartbeatPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-m.stopChan:
			return
		case <-ticker.C:
			m.refreshAndDiff()
		}
	}
}

func (m *Manager) refreshAndDiff() {
	newList, newDefault, err := enumerate()
	if err != nil {
		m.logger.Warn("device enumeration failed", "error", err)
		m.emit(Event{Kind: EventError, Err: err})
		return
	}

	m.mu.Lock()
	oldByID := make(map[int]Device, len(m.devices))
	for _, d := range m.devices {
		oldByID[d.ID] = d
	}
	newByID := make(map[int]Device, len(newList))
	for _, d := range newList {
		newByID[d.ID] = d
	}

	changed := len(oldByID) != len(newByID)
	for id, d := range newByID {
		if _, ok := oldByID[id]; !ok {
			changed = true
			m.logger.Info("output device connected", "id", id, "name", d.Name)
			m.emit(Event{Kind: EventConnected, DeviceID: id})
		}
	}
	for id := range oldByID {
		if _, ok := newByID[id]; !ok {
			changed = true
			m.logger.Info("output device disconnected", "id", id)
			m.emit(Event{Kind: EventDisconnected, DeviceID: id})
		}
	}

	defaultChanged := newDefault != m.defaultDevice
	oldDefault := m.defaultDevice
	m.devices = newList
	m.defaultDevice = newDefault
	m.mu.Unlock()

	if changed {
		m.emit(Event{Kind: EventListChanged})
	}
	if defaultChanged {
		m.logger.Info("default output device changed", "old", oldDefault, "new", newDefault)
		m.emit(Event{Kind: EventDefaultChanged, DeviceID: newDefault})
	}
}

func (m *Manager) emit(e Event) {
	select {
	case m.events <- e:
	default:
		m.logger.Warn("event channel full, dropping event", "kind", e.Kind)
	}
}

// enumerate queries PortAudio for the current device list and default
// output device.
func enumerate() ([]Device, int, error) {
	count, err := portaudio.GetDeviceCount()
	if err != nil {
		return nil, 0, fmt.Errorf("devicemanager: get device count: %w", err)
	}

	devices := make([]Device, 0, count)
	for i := 0; i < count; i++ {
		info, err := portaudio.GetDeviceInfo(i)
		if err != nil || info == nil || info.MaxOutputChannels <= 0 {
			continue
		}
		devices = append(devices, Device{
			ID:                i,
			UID:               fmt.Sprintf("pa:%d:%s", i, info.Name),
			Name:              info.Name,
			MaxOutputChannels: info.MaxOutputChannels,
			DefaultSampleRate: info.DefaultSampleRate,
		})
	}

	def, err := portaudio.GetDefaultOutputDevice()
	if err != nil {
		def = 0
	}

	return devices, def, nil
}

// Devices returns a snapshot of the currently known device list.
func (m *Manager) Devices() []Device {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Device, len(m.devices))
	copy(out, m.devices)
	return out
}

// DefaultDevice returns the OS-reported default output device id.
func (m *Manager) DefaultDevice() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.defaultDevice
}

// ByID looks up a device by its numeric PortAudio index.
func (m *Manager) ByID(id int) (Device, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, d := range m.devices {
		if d.ID == id {
			return d, true
		}
	}
	return Device{}, false
}

// ByUID looks up a device by its persistent UID string.
func (m *Manager) ByUID(uid string) (Device, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, d := range m.devices {
		if d.UID == uid {
			return d, true
		}
	}
	return Device{}, false
}

// SupportedSampleRates returns the standard-ladder rates not exceeding
// device's reported default sample rate family ceiling. Real per-rate
// capability probing isn't exposed by the wired PortAudio binding (see
// DESIGN.md), so this is the same conservative ladder AudioOutput uses.
func (m *Manager) SupportedSampleRates(deviceID int) []float64 {
	d, ok := m.ByID(deviceID)
	if !ok {
		return nil
	}
	ceiling := d.DefaultSampleRate
	if ceiling < standardRates[0] {
		ceiling = standardRates[len(standardRates)-1]
	}
	out := make([]float64, 0, len(standardRates))
	for _, r := range standardRates {
		if r <= ceiling || ceiling == standardRates[len(standardRates)-1] {
			out = append(out, r)
		}
	}
	return out
}

// BufferSizeRange returns the [min,max] frame count this package considers
// valid for SetBufferSize.
func (m *Manager) BufferSizeRange() (min, max int) { return minBufferFrames, maxBufferFrames }

// CurrentBufferSize returns the last confirmed buffer size in frames.
func (m *Manager) CurrentBufferSize() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.bufferSizeFrames
}

// CurrentSampleRate returns the last recorded sample rate of the active
// output device.
func (m *Manager) CurrentSampleRate() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sampleRateHz
}

// SetCurrentDevice records which device id AudioEngine currently has open,
// used only to scope future buffer-size confirmations.
func (m *Manager) SetCurrentDevice(id int) {
	m.mu.Lock()
	m.currentDeviceID = id
	m.mu.Unlock()
}

// RequestBufferSize validates frames against BufferSizeRange; AudioEngine
// calls this before asking AudioOutput to reconfigure, then calls
// ConfirmBufferSize once the driver has actually accepted the new size.
func (m *Manager) RequestBufferSize(frames int) error {
	if frames < minBufferFrames || frames > maxBufferFrames {
		return fmt.Errorf("devicemanager: buffer size %d out of range [%d,%d]", frames, minBufferFrames, maxBufferFrames)
	}
	return nil
}

// ConfirmBufferSize records a driver-confirmed buffer size change and emits
// EventBufferSizeChanged.
func (m *Manager) ConfirmBufferSize(frames int) {
	m.mu.Lock()
	m.bufferSizeFrames = frames
	m.mu.Unlock()
	m.emit(Event{Kind: EventBufferSizeChanged, DeviceID: m.currentDeviceID, Frames: frames})
}

// NotifySampleRateChanged records the current device's actual running rate,
// for CurrentSampleRate queries; it does not itself trigger reconfiguration.
func (m *Manager) NotifySampleRateChanged(hz float64) {
	m.mu.Lock()
	m.sampleRateHz = hz
	m.mu.Unlock()
}
