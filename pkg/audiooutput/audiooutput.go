// Package audiooutput drives a single PortAudio output stream with a
// pull-style render callback, matching the trait surface AudioEngine expects
// from its output device: open/start/stop/close, device/rate/buffer
// reconfiguration that stops and restarts the stream while preserving the
// render callback pointer, a sample-accurate volume ramp, and DoP idle-frame
// generation so a DSD-over-PCM session never drops out of DSD lock during a
// silent gap.
package audiooutput

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"

	"github.com/hifiplayer/audiocore/pkg/audioformat"

	"github.com/drgolem/go-portaudio/portaudio"
)

// RenderFunc fills out (interleaved float32, already sized to frames*channels)
// and returns the number of frames actually produced. It runs on the
// PortAudio callback thread and must not block or allocate.
type RenderFunc func(out []float32, frames int) int

const (
	dopMarkerLow  = 0xFA
	dopMarkerHigh = 0x05
	dopIdlePayload = 0x6969

	defaultFramesPerBuffer = 512
	maxCallbackFrames      = 8192
	maxChannels            = 8
)

// standardRates is the device-agnostic ladder used to answer
// NearestSupportedRate / MaxSupportedRateHz without a device capability
// query API; every entry is a rate a real DAC plausibly supports.
var standardRates = []float64{
	44100, 48000, 88200, 96000, 176400, 192000,
	352800, 384000, 705600, 768000, 1411200, 1536000,
}

// Output owns one PortAudio output stream plus the render-thread state the
// pull callback touches every cycle.
type Output struct {
	mu sync.Mutex // serializes Open/Start/Stop/Close/reconfigure (main thread)

	stream          *portaudio.PaStream
	deviceIndex     int
	channels        int
	sampleRate      float64
	framesPerBuffer int
	scratch         []float32

	callbackMu sync.Mutex // guards callback swap/invoke; RT thread try-locks only
	callback   RenderFunc

	destroyed        atomic.Bool
	running          atomic.Bool
	swappingCallback atomic.Bool
	transitioning    atomic.Bool
	bitPerfect       atomic.Bool
	dopPassthrough   atomic.Bool
	builtIn          atomic.Bool
	hogMode          atomic.Bool

	volumeTarget  atomic.Uint32 // float32 bits, written by main thread
	volumeCurrent float32       // RT-thread-only ramp state
	dopMarkerBit  bool          // RT-thread-only DoP idle marker parity

	exclusiveOwned bool // main-thread only: does this process hold hog mode
}

// New returns an unopened Output at unity volume.
func New() *Output {
	o := &Output{
		framesPerBuffer: defaultFramesPerBuffer,
		volumeCurrent:   1.0,
		scratch:         make([]float32, maxCallbackFrames*maxChannels),
	}
	o.volumeTarget.Store(math.Float32bits(1.0))
	return o
}

// Open configures the stream for format at deviceIndex without starting it.
func (o *Output) Open(format audioformat.StreamFormat, deviceIndex int) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.deviceIndex = deviceIndex
	o.channels = format.Channels
	o.sampleRate = format.SampleRate
	if o.framesPerBuffer == 0 {
		o.framesPerBuffer = defaultFramesPerBuffer
	}
	return o.openStreamLocked()
}

func (o *Output) openStreamLocked() error {
	o.stream = &portaudio.PaStream{
		OutputParameters: &portaudio.PaStreamParameters{
			DeviceIndex:  o.deviceIndex,
			ChannelCount: o.channels,
			SampleFormat: portaudio.SampleFmtFloat32,
		},
		SampleRate: o.sampleRate,
	}
	if err := o.stream.OpenCallback(o.framesPerBuffer, o.audioCallback); err != nil {
		o.stream = nil
		return fmt.Errorf("audiooutput: open stream: %w", err)
	}
	return nil
}

// Start begins producing audio via the render callback.
func (o *Output) Start() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.stream == nil {
		return errors.New("audiooutput: not open")
	}
	if err := o.stream.StartStream(); err != nil {
		return fmt.Errorf("audiooutput: start stream: %w", err)
	}
	o.running.Store(true)
	return nil
}

// Stop halts the stream; the callback continues to be invoked by PortAudio
// until StopStream returns, emitting silence since running is now false.
func (o *Output) Stop() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.running.Store(false)
	if o.stream == nil {
		return nil
	}
	if err := o.stream.StopStream(); err != nil {
		return fmt.Errorf("audiooutput: stop stream: %w", err)
	}
	return nil
}

// Close tears the stream down permanently. Once called, the Output must not
// be reused.
func (o *Output) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.destroyed.Store(true)
	o.running.Store(false)
	if o.stream == nil {
		return nil
	}
	err := o.stream.CloseCallback()
	o.stream = nil
	o.exclusiveOwned = false
	o.hogMode.Store(false)
	return err
}

// SetRenderCallback installs fn as the pull callback, guarding the swap with
// swappingCallback so the RT thread falls back to silence for the one cycle
// that might race the assignment.
func (o *Output) SetRenderCallback(fn RenderFunc) {
	o.swappingCallback.Store(true)
	o.callbackMu.Lock()
	o.callback = fn
	o.callbackMu.Unlock()
	o.swappingCallback.Store(false)
}

// SetVolume sets the target linear gain in [0,1]; the RT thread ramps
// sample-accurately toward it starting on the next callback.
func (o *Output) SetVolume(v float32) {
	if v < 0 {
		v = 0
	}
	if v > 1 {
		v = 1
	}
	o.volumeTarget.Store(math.Float32bits(v))
}

// SetTransitioning marks (or clears) an engine-side transition in progress;
// while set the callback emits silence without invoking the user callback.
func (o *Output) SetTransitioning(v bool) { o.transitioning.Store(v) }

// SetBitPerfectMode marks that the render chain runs only its headroom gain
// and limiter; the callback also skips the volume ramp in this mode, since
// scaling samples is itself a modification bit-perfect output must avoid.
func (o *Output) SetBitPerfectMode(v bool) { o.bitPerfect.Store(v) }

// SetDoPPassthrough marks a DSD-over-PCM session in progress. While set, the
// callback never applies the volume ramp (it would destroy the DoP markers)
// and fills any silence cycle with valid DoP idle frames instead of zeros.
func (o *Output) SetDoPPassthrough(v bool) { o.dopPassthrough.Store(v) }

// SetBuiltIn records whether the current device is the host's built-in
// output, used by the upsampler's max-DAC-rate constraint.
func (o *Output) SetBuiltIn(v bool) { o.builtIn.Store(v) }

// BuiltIn reports the flag set by SetBuiltIn.
func (o *Output) BuiltIn() bool { return o.builtIn.Load() }

// SetHogMode attempts to acquire (or release) exclusive control of the
// device. The underlying PortAudio binding this package wires does not
// expose a host-API exclusive-mode flag on PaStreamParameters, so this is a
// best-effort bookkeeping flag rather than a true OS-level hog acquisition;
// see DESIGN.md. Release only takes effect if this Output currently owns it.
func (o *Output) SetHogMode(enabled bool) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if enabled {
		o.exclusiveOwned = true
		o.hogMode.Store(true)
		return nil
	}
	if o.exclusiveOwned {
		o.exclusiveOwned = false
		o.hogMode.Store(false)
	}
	return nil
}

// ExclusiveMode reports the current hog-mode flag.
func (o *Output) ExclusiveMode() bool { return o.hogMode.Load() }

// DeviceName looks up the current device's display name.
func (o *Output) DeviceName() string {
	info, err := portaudio.GetDeviceInfo(o.deviceIndex)
	if err != nil || info == nil {
		return ""
	}
	return info.Name
}

// NominalSampleRate is the rate the stream was opened at.
func (o *Output) NominalSampleRate() float64 { return o.sampleRate }

// ActualSampleRate returns the rate the stream was opened at; no
// driver-reported rate is read, so it always equals NominalSampleRate.
func (o *Output) ActualSampleRate() float64 { return o.sampleRate }

// MaxSupportedRateHz returns the highest rate in the standard ladder this
// package is willing to request; actual device ceiling queries are not
// exposed by the wired binding (see DESIGN.md).
func (o *Output) MaxSupportedRateHz() float64 {
	return standardRates[len(standardRates)-1]
}

// NearestSupportedRate snaps target to the closest entry in the standard
// sample-rate ladder.
func (o *Output) NearestSupportedRate(target float64) float64 {
	best := standardRates[0]
	bestDiff := math.Abs(target - best)
	for _, r := range standardRates {
		if d := math.Abs(target - r); d < bestDiff {
			best, bestDiff = r, d
		}
	}
	return best
}

// SetDevice stops the stream, switches the output device, and restarts it if
// it was running, preserving the render callback.
func (o *Output) SetDevice(deviceIndex int) error {
	return o.reconfigure(func() { o.deviceIndex = deviceIndex })
}

// SetBufferSize stops the stream, changes the callback frame width, and
// restarts it if it was running.
func (o *Output) SetBufferSize(frames int) error {
	return o.reconfigure(func() { o.framesPerBuffer = frames })
}

// SetSampleRate stops the stream, changes the nominal rate, and restarts it
// if it was running.
func (o *Output) SetSampleRate(hz float64) error {
	return o.reconfigure(func() { o.sampleRate = hz })
}

func (o *Output) reconfigure(apply func()) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	wasRunning := o.running.Load()
	if o.stream != nil {
		if err := o.stream.StopStream(); err != nil {
			return fmt.Errorf("audiooutput: stop for reconfigure: %w", err)
		}
		if err := o.stream.CloseCallback(); err != nil {
			return fmt.Errorf("audiooutput: close for reconfigure: %w", err)
		}
		o.stream = nil
	}

	apply()

	if err := o.openStreamLocked(); err != nil {
		return err
	}
	if wasRunning {
		if err := o.stream.StartStream(); err != nil {
			return fmt.Errorf("audiooutput: restart after reconfigure: %w", err)
		}
		o.running.Store(true)
	}
	return nil
}

// audioCallback is PortAudio's pull callback. It runs on the OS audio
// thread: no blocking, no allocation, every early return leaves the buffer
// zeroed (or filled with valid DoP idle, if a DoP session is in progress).
func (o *Output) audioCallback(
	input, output []byte,
	frameCount uint,
	timeInfo *portaudio.StreamCallbackTimeInfo,
	statusFlags portaudio.StreamCallbackFlags,
) portaudio.StreamCallbackResult {
	frames := int(frameCount)
	if frames > maxCallbackFrames {
		frames = maxCallbackFrames
	}
	n := frames * o.channels
	if n > len(o.scratch) {
		n = len(o.scratch)
		frames = n / o.channels
	}
	buf := o.scratch[:n]
	for i := range buf {
		buf[i] = 0
	}

	if o.destroyed.Load() || !o.running.Load() || o.swappingCallback.Load() || o.transitioning.Load() {
		o.fillIdle(buf, frames)
		o.writeOutput(output, buf, n)
		if o.destroyed.Load() {
			return portaudio.Complete
		}
		return portaudio.Continue
	}

	if !o.callbackMu.TryLock() {
		o.fillIdle(buf, frames)
		o.writeOutput(output, buf, n)
		return portaudio.Continue
	}
	cb := o.callback
	o.callbackMu.Unlock()

	produced := 0
	if cb != nil {
		produced = cb(buf, frames)
	}
	if produced < 0 {
		produced = 0
	}
	if produced > frames {
		produced = frames
	}
	if produced < frames {
		for i := produced * o.channels; i < n; i++ {
			buf[i] = 0
		}
	}

	if !o.dopPassthrough.Load() && !o.bitPerfect.Load() {
		o.applyVolumeRamp(buf, frames)
	}

	o.writeOutput(output, buf, n)
	return portaudio.Continue
}

// fillIdle fills buf with DoP idle frames when a DoP session is active;
// otherwise buf is left at the zero PCM silence the caller already wrote.
func (o *Output) fillIdle(buf []float32, frames int) {
	if !o.dopPassthrough.Load() {
		return
	}
	for f := 0; f < frames; f++ {
		sample := dopIdleSample(o.dopMarkerBit)
		o.dopMarkerBit = !o.dopMarkerBit
		base := f * o.channels
		for ch := 0; ch < o.channels; ch++ {
			buf[base+ch] = sample
		}
	}
}

// dopIdleSample builds the float32 encoding of a 24-bit DoP idle word:
// alternating 0x05/0xFA marker byte over 0x6969, sign-extended the same way
// a real decoded DoP sample is.
func dopIdleSample(markerHigh bool) float32 {
	marker := int32(dopMarkerLow)
	if markerHigh {
		marker = dopMarkerHigh
	}
	v := (marker << 16) | dopIdlePayload
	if v&0x800000 != 0 {
		v -= 0x1000000
	}
	return float32(v) / 8388608.0
}

// applyVolumeRamp interpolates linearly from the current gain to the
// published target across this callback's frames, sample-accurate so a
// volume change never produces a zipper click.
func (o *Output) applyVolumeRamp(buf []float32, frames int) {
	if frames == 0 {
		return
	}
	target := math.Float32frombits(o.volumeTarget.Load())
	step := (target - o.volumeCurrent) / float32(frames)
	for f := 0; f < frames; f++ {
		o.volumeCurrent += step
		base := f * o.channels
		for ch := 0; ch < o.channels; ch++ {
			buf[base+ch] *= o.volumeCurrent
		}
	}
	o.volumeCurrent = target
}

func (o *Output) writeOutput(output []byte, buf []float32, n int) {
	for i := 0; i < n; i++ {
		binary.LittleEndian.PutUint32(output[i*4:], math.Float32bits(buf[i]))
	}
}
