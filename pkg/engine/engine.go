// Package engine implements AudioEngine, the orchestrator that owns the
// active decoder(s), the render chain, the gapless manager, and the output
// device, and drives the render-thread callback that ties them together.
package engine

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hifiplayer/audiocore/pkg/audioformat"
	"github.com/hifiplayer/audiocore/pkg/audiooutput"
	"github.com/hifiplayer/audiocore/pkg/decoders"
	"github.com/hifiplayer/audiocore/pkg/devicemanager"
	"github.com/hifiplayer/audiocore/pkg/dsp/biquad"
	"github.com/hifiplayer/audiocore/pkg/dsp/gain"
	"github.com/hifiplayer/audiocore/pkg/dsp/spatial"
	"github.com/hifiplayer/audiocore/pkg/dsp/upsampler"
	"github.com/hifiplayer/audiocore/pkg/gapless"
	"github.com/hifiplayer/audiocore/pkg/renderchain"
)

const (
	maxCallbackFrames = 8192
	pollInterval      = 50 * time.Millisecond
)

var dsdExt = map[string]bool{".dsf": true, ".dff": true}

// State is AudioEngine's transport state.
type State int

const (
	StateStopped State = iota
	StatePlaying
	StatePaused
)

// EventKind enumerates the notifications Engine emits on its event channel.
// The render thread never sends on this channel directly; it only flips
// atomics that the poll loop translates into events on the main thread.
type EventKind int

const (
	EventDurationChanged EventKind = iota
	EventSignalPathChanged
	EventStateChanged
	EventGaplessTransitionOccurred
	EventPlaybackFinished
)

// Event is one notification delivered on Engine.Events().
type Event struct {
	Kind         EventKind
	DurationSecs float64
	FilePath     string
	State        State
}

// Settings configures an Engine; there is no package-level singleton, every
// caller constructs and owns its own instance.
type Settings struct {
	DeviceIndex     int
	FramesPerBuffer int

	PreferDoP      bool
	AutoSampleRate bool
	BitPerfectMode bool

	GaplessEnabled bool
	CrossfadeMs    int

	EqMode            biquad.PhaseMode
	UpsamplerSettings upsampler.Settings

	LevelingEnabled    bool
	LevelingTargetLUFS float64
	LevelingMode       gain.LevelingMode

	CrossfeedEnabled bool
	CrossfeedPreset  spatial.CrossfeedPreset

	HeadroomMode     gain.HeadroomMode
	HeadroomManualDB float64

	Volume float32
}

// Engine is the real-time playback core: one active decoder, one next-track
// slot owned by gapless.Manager, one render chain, and one output stream.
type Engine struct {
	decoderMu sync.Mutex

	current       decoders.Decoder
	currentFormat audioformat.StreamFormat
	usingDsd      atomic.Bool

	filePathMu sync.Mutex
	filePath   string

	output  *audiooutput.Output
	devices *devicemanager.Manager
	chain   *renderchain.RenderChain
	gap     *gapless.Manager

	settings Settings

	sourceRate float64
	outputRate float64
	channels   int

	scratchCurrent []float32
	scratchNext    []float32

	destroyed           atomic.Bool
	shuttingDown        atomic.Bool
	renderingInProgress atomic.Bool
	framesRendered      atomic.Uint64
	rtGaplessFlag       atomic.Bool
	rtPlaybackEndFlag   atomic.Bool

	stateMu sync.Mutex
	state   State

	events   chan Event
	pollStop chan struct{}
	wg       sync.WaitGroup
}

// New returns an Engine with no track loaded. devices must already be
// Start()ed by the caller; Engine only reads from it (device list, default
// device, supported rates) and never owns its lifecycle.
func New(settings Settings, devices *devicemanager.Manager) *Engine {
	e := &Engine{
		settings: settings,
		devices:  devices,
		output:   audiooutput.New(),
		events:   make(chan Event, 32),
	}
	e.gap = gapless.New(&e.decoderMu)
	e.output.SetVolume(settings.Volume)
	e.output.SetBitPerfectMode(settings.BitPerfectMode)
	e.output.SetRenderCallback(e.renderAudio)
	return e
}

// Events returns the channel Engine notifications arrive on.
func (e *Engine) Events() <-chan Event { return e.events }

func (e *Engine) emit(ev Event) {
	select {
	case e.events <- ev:
	default:
	}
}

func (e *Engine) state_() State {
	e.stateMu.Lock()
	defer e.stateMu.Unlock()
	return e.state
}

func (e *Engine) setState(s State) {
	e.stateMu.Lock()
	e.state = s
	e.stateMu.Unlock()
	e.emit(Event{Kind: EventStateChanged, State: s})
}

func (e *Engine) setFilePath(p string) {
	e.filePathMu.Lock()
	e.filePath = p
	e.filePathMu.Unlock()
}

// FilePath returns the currently loaded file path. It is guarded by a
// dedicated mutex separate from decoderMu so a UI query never blocks behind
// a render-thread decoder operation.
func (e *Engine) FilePath() string {
	e.filePathMu.Lock()
	defer e.filePathMu.Unlock()
	return e.filePath
}

func codecForExt(ext string) string {
	switch ext {
	case ".flac", ".fla":
		return "flac"
	case ".wav":
		return "wav"
	case ".m4a", ".alac":
		return "alac"
	default:
		return ""
	}
}

// Load stops any current playback and opens path as the new current track,
// per the eight-step load sequence: stop, classify, decide DSD/DoP vs PCM,
// read format and pick an (auto) output rate, configure the upsampler,
// pre-allocate scratch and crossfade buffers, prepare the render chain,
// open the output device (falling back to the default device once), and
// emit duration/signal-path events.
func (e *Engine) Load(path string) error {
	if err := e.Stop(); err != nil {
		return err
	}

	ext := strings.ToLower(filepath.Ext(path))
	isDSD := dsdExt[ext]
	preferDoP := isDSD && e.settings.PreferDoP

	dec, err := decoders.NewDecoder(path, decoders.Options{PreferDoP: preferDoP})
	if err != nil {
		return fmt.Errorf("engine: load %q: %w", path, err)
	}

	format := dec.Format()
	channels := format.Channels

	dopActive := false
	if dsdDec, ok := dec.(decoders.DSDCapable); ok {
		dopActive = dsdDec.IsDoPMode()
	}

	// The DoP carrier rate (DSD rate / 16) is only known once the decoder
	// has parsed the file header; gate it against the device's actual
	// supported-rate ladder here and fall back to the FIR-decimated PCM
	// path rather than handing the output a rate it will reject.
	if dopActive && e.output.NearestSupportedRate(format.SampleRate) != format.SampleRate {
		slog.Warn("DoP carrier rate unsupported by device, falling back to PCM",
			"path", path, "carrier_rate_hz", format.SampleRate)
		dec.Close()
		dec, err = decoders.NewDecoder(path, decoders.Options{PreferDoP: false})
		if err != nil {
			return fmt.Errorf("engine: load %q: %w", path, err)
		}
		format = dec.Format()
		channels = format.Channels
		dopActive = false
	}

	outputRate := format.SampleRate
	if e.settings.AutoSampleRate && !dopActive {
		if codec := codecForExt(ext); audioformat.IsLossless(codec) {
			outputRate = e.output.NearestSupportedRate(format.SampleRate)
		}
	}

	upSettings := e.settings.UpsamplerSettings
	upSettings.DeviceIsBuiltIn = e.output.BuiltIn()
	if dopActive {
		// DoP markers must reach the DAC byte-for-byte; no rate conversion.
		outputRate = format.SampleRate
		upSettings.Mode = upsampler.None
	}

	chain := renderchain.New(outputRate, channels, e.settings.EqMode, upSettings)
	if cfgErr := chain.Upsampler.Configure(int(format.SampleRate), channels); cfgErr != nil {
		// Configure degrades to passthrough internally on failure; not
		// fatal to load, but the selected rate may not materialize.
		outputRate = format.SampleRate
	} else {
		outputRate = float64(chain.Upsampler.OutputRate())
	}
	chain.DopPassthrough = dopActive
	chain.BitPerfect = e.settings.BitPerfectMode
	e.applyPersistedSettings(chain)

	e.scratchCurrent = make([]float32, maxCallbackFrames*channels)
	e.scratchNext = make([]float32, maxCallbackFrames*channels)

	e.gap.SetCrossfadeDuration(e.settings.CrossfadeMs)
	e.gap.PreallocateCrossfadeBuffer(channels)

	outFormat := audioformat.StreamFormat{SampleRate: outputRate, Channels: channels}
	deviceIndex := e.settings.DeviceIndex
	if openErr := e.output.Open(outFormat, deviceIndex); openErr != nil {
		fallback := e.devices.DefaultDevice()
		if fallbackErr := e.output.Open(outFormat, fallback); fallbackErr != nil {
			dec.Close()
			return fmt.Errorf("engine: open output (device %d, fallback default %d): %w", deviceIndex, fallback, fallbackErr)
		}
		deviceIndex = fallback
	}
	e.devices.SetCurrentDevice(deviceIndex)
	e.devices.NotifySampleRateChanged(outputRate)
	e.output.SetBitPerfectMode(e.settings.BitPerfectMode)
	e.output.SetDoPPassthrough(dopActive)

	e.decoderMu.Lock()
	e.current = dec
	e.currentFormat = format
	e.usingDsd.Store(isDSD)
	e.decoderMu.Unlock()
	e.framesRendered.Store(0)

	e.setFilePath(path)
	e.sourceRate = format.SampleRate
	e.outputRate = outputRate
	e.channels = channels
	e.chain = chain
	e.chain.UpdateHeadroomGain()

	e.emit(Event{Kind: EventDurationChanged, DurationSecs: format.Duration()})
	e.emit(Event{Kind: EventSignalPathChanged, FilePath: path})

	return nil
}

// applyPersistedSettings pushes the Engine's (externally-owned) persisted
// DSP settings onto a freshly built render chain. Engine only reads these
// settings; the host application is responsible for writing them back to
// whatever storage persists them.
func (e *Engine) applyPersistedSettings(chain *renderchain.RenderChain) {
	chain.Leveling.SetBypassed(!e.settings.LevelingEnabled)
	chain.Leveling.SetEnabled(e.settings.LevelingEnabled)
	chain.Leveling.SetTargetLoudnessLUFS(e.settings.LevelingTargetLUFS)
	chain.Leveling.SetMode(e.settings.LevelingMode)

	chain.Crossfeed.SetPreset(e.settings.CrossfeedPreset)
	chain.Crossfeed.SetBypassed(!e.settings.CrossfeedEnabled)

	chain.Headroom.SetMode(e.settings.HeadroomMode)
	chain.Headroom.SetManualDB(e.settings.HeadroomManualDB)
}

// PrepareNext opens path as the gapless/crossfade-ready next track ahead of
// the current one ending. Safe to call repeatedly as a play queue advances;
// each call replaces any previously prepared next track.
func (e *Engine) PrepareNext(path string) {
	e.gap.PrepareNextTrack(path, e.settings.GaplessEnabled, e.sourceRate, e.channels, e.usingDsd.Load(), e.settings.PreferDoP)
}

// CancelNext discards a previously prepared next track.
func (e *Engine) CancelNext() {
	e.gap.CancelNextTrack()
}

// Play starts (or resumes) the output stream.
func (e *Engine) Play() error {
	if err := e.output.Start(); err != nil {
		return fmt.Errorf("engine: play: %w", err)
	}
	e.setState(StatePlaying)
	return nil
}

// Pause halts the output stream without discarding the current decoder.
func (e *Engine) Pause() error {
	if err := e.output.Stop(); err != nil {
		return fmt.Errorf("engine: pause: %w", err)
	}
	e.setState(StatePaused)
	return nil
}

// Stop halts playback, closes all decoders, and resets DSP history. Idempotent
// via shuttingDown so a Stop from an already-stopped Engine is a safe no-op.
func (e *Engine) Stop() error {
	if e.state_() == StateStopped && e.current == nil {
		return nil
	}

	e.shuttingDown.Store(true)
	defer e.shuttingDown.Store(false)

	e.output.SetRenderCallback(nil)
	if err := e.output.Stop(); err != nil {
		return fmt.Errorf("engine: stop: %w", err)
	}

	e.decoderMu.Lock()
	if e.current != nil {
		e.current.Close()
		e.current = nil
	}
	e.gap.Reset()
	e.decoderMu.Unlock()

	if e.chain != nil {
		e.chain.Reset()
	}

	e.output.SetRenderCallback(e.renderAudio)
	e.setState(StateStopped)
	return nil
}

// Seek repositions the current decoder to secs seconds and resets DSP
// filter/ramp history (a discontinuous jump invalidates filter state).
func (e *Engine) Seek(secs float64) error {
	e.decoderMu.Lock()
	defer e.decoderMu.Unlock()

	if e.current == nil {
		return errors.New("engine: no track loaded")
	}
	if !e.current.Seek(secs) {
		return fmt.Errorf("%w: seek to %.2fs", decoders.ErrSeekFailed, secs)
	}
	if e.chain != nil {
		e.chain.Reset()
	}
	return nil
}

// SetVolume sets the output's target linear gain in [0,1].
func (e *Engine) SetVolume(v float32) { e.output.SetVolume(v) }

// SetBitPerfectMode toggles the render-chain bypass. Takes effect on the
// next render callback and the next Load (which rebuilds the chain).
func (e *Engine) SetBitPerfectMode(v bool) {
	e.settings.BitPerfectMode = v
	e.output.SetBitPerfectMode(v)
	if e.chain != nil {
		e.chain.BitPerfect = v
	}
}

// SetEqBands reconfigures the equaliser cascade, if a track is loaded.
func (e *Engine) SetEqBands(bands []biquad.EqBand, preampDB float64) {
	if e.chain == nil {
		return
	}
	e.chain.Equaliser.BeginBatchUpdate()
	e.chain.Equaliser.SetBands(bands)
	e.chain.Equaliser.SetPreampDB(preampDB)
	e.chain.Equaliser.EndBatchUpdate()
}

// SetLevelingEnabled toggles ReplayGain/R128 track normalization.
func (e *Engine) SetLevelingEnabled(v bool) {
	e.settings.LevelingEnabled = v
	if e.chain != nil {
		e.chain.Leveling.SetBypassed(!v)
		e.chain.UpdateHeadroomGain()
	}
}

// SetCrossfeedEnabled toggles the headphone crossfeed stage.
func (e *Engine) SetCrossfeedEnabled(v bool) {
	e.settings.CrossfeedEnabled = v
	if e.chain != nil {
		e.chain.Crossfeed.SetBypassed(!v)
		e.chain.UpdateHeadroomGain()
	}
}

// SetCrossfeedPreset changes the active crossfeed attenuation/cutoff preset.
func (e *Engine) SetCrossfeedPreset(p spatial.CrossfeedPreset) {
	e.settings.CrossfeedPreset = p
	if e.chain != nil {
		e.chain.Crossfeed.SetPreset(p)
	}
}

// SetHeadroomMode switches HeadroomGain between Off, Auto and Manual.
func (e *Engine) SetHeadroomMode(mode gain.HeadroomMode) {
	e.settings.HeadroomMode = mode
	if e.chain != nil {
		e.chain.Headroom.SetMode(mode)
	}
}

// SetHeadroomManualDB sets the Manual-mode attenuation.
func (e *Engine) SetHeadroomManualDB(db float64) {
	e.settings.HeadroomManualDB = db
	if e.chain != nil {
		e.chain.Headroom.SetManualDB(db)
	}
}

// SetConvolution attaches (or clears, with nil) a convolution impulse
// response loaded from a room/headphone correction file.
func (e *Engine) SetConvolution(c *spatial.Convolution) {
	if e.chain != nil {
		e.chain.SetConvolution(c)
	}
}

// SetHrtf attaches (or clears, with nil) an HRTF binaural renderer.
func (e *Engine) SetHrtf(h *spatial.Hrtf) {
	if e.chain != nil {
		e.chain.SetHrtf(h)
	}
}

// SetCrossfadeMs changes the gapless crossfade duration for future track
// transitions.
func (e *Engine) SetCrossfadeMs(ms int) {
	e.settings.CrossfadeMs = ms
	e.gap.SetCrossfadeDuration(ms)
}

// SetGaplessEnabled toggles plain gapless transitions (independent of
// crossfading).
func (e *Engine) SetGaplessEnabled(v bool) { e.settings.GaplessEnabled = v }

// Position returns the current decoder's playback position in seconds.
func (e *Engine) Position() float64 {
	e.decoderMu.Lock()
	defer e.decoderMu.Unlock()
	if e.current == nil {
		return 0
	}
	return e.current.PositionSeconds()
}

// StartPolling launches the ~50ms main-thread poll timer that translates
// the render thread's rtGaplessFlag/rtPlaybackEndFlag atomics into
// GaplessTransitionOccurred/PlaybackFinished events. The render thread
// itself never touches the event channel.
func (e *Engine) StartPolling() {
	e.pollStop = make(chan struct{})
	e.wg.Add(1)
	go e.pollLoop()
}

// StopPolling halts the poll timer and waits for it to exit.
func (e *Engine) StopPolling() {
	if e.pollStop == nil {
		return
	}
	close(e.pollStop)
	e.wg.Wait()
}

func (e *Engine) pollLoop() {
	defer e.wg.Done()
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-e.pollStop:
			return
		case <-ticker.C:
			if e.rtGaplessFlag.CompareAndSwap(true, false) {
				e.emit(Event{Kind: EventGaplessTransitionOccurred, FilePath: e.FilePath()})
				e.decoderMu.Lock()
				format := e.currentFormat
				e.decoderMu.Unlock()
				e.emit(Event{Kind: EventDurationChanged, DurationSecs: format.Duration()})
			}
			if e.rtPlaybackEndFlag.CompareAndSwap(true, false) {
				e.setState(StateStopped)
				e.emit(Event{Kind: EventPlaybackFinished})
			}
		}
	}
}

// Close permanently tears the Engine down: marks destroyed so the render
// thread falls back to a trivial silence path, waits briefly for any
// in-flight callback to drain, then stops polling and closes the output,
// decoders, and DSP chain in that order.
func (e *Engine) Close() error {
	e.destroyed.Store(true)

	deadline := time.Now().Add(500 * time.Millisecond)
	for e.renderingInProgress.Load() && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}

	e.StopPolling()

	var firstErr error
	if err := e.output.Close(); err != nil && firstErr == nil {
		firstErr = err
	}

	e.decoderMu.Lock()
	if e.current != nil {
		e.current.Close()
		e.current = nil
	}
	e.gap.Reset()
	e.decoderMu.Unlock()

	if e.chain != nil {
		e.chain.Reset()
	}

	return firstErr
}

// crossfadeFrameCount returns the configured crossfade length in source
// frames at the current track's sample rate.
func (e *Engine) crossfadeFrameCount() int {
	if e.settings.CrossfadeMs <= 0 || e.sourceRate <= 0 {
		return 0
	}
	return int(float64(e.settings.CrossfadeMs) / 1000.0 * e.sourceRate)
}

// sourceFramesNeeded returns how many source-rate frames must be decoded to
// produce maxOutFrames frames at the chain's output rate, capped at the
// pre-allocated scratch capacity.
func (e *Engine) sourceFramesNeeded(maxOutFrames int) int {
	n := maxOutFrames
	if e.outputRate > 0 && e.sourceRate > 0 && e.outputRate != e.sourceRate {
		n = int(math.Ceil(float64(maxOutFrames) * e.sourceRate / e.outputRate))
	}
	if n > maxCallbackFrames {
		n = maxCallbackFrames
	}
	if n < 1 {
		n = 1
	}
	return n
}

// dopPassthroughActive reports whether the current decoder is DSD in DoP
// mode, in which case neither crossfade mixing nor the render chain may
// touch the samples (they are DoP-packed markers, not audio).
func (e *Engine) dopPassthroughActive() bool {
	dsd, ok := e.current.(decoders.DSDCapable)
	return ok && dsd.IsDoPMode()
}

// completeSwapLocked finalizes a gapless transition: swaps the next decoder
// into current, carries over DoP marker parity, and flags the poll loop to
// translate the transition into user-visible events. Caller holds decoderMu.
func (e *Engine) completeSwapLocked() {
	oldCurrent := e.current
	newCurrent, format, usingDSD, path := e.gap.SwapToCurrent(oldCurrent)
	if newCurrent == nil {
		return
	}
	e.current = newCurrent
	e.currentFormat = format
	e.usingDsd.Store(usingDSD)
	e.sourceRate = format.SampleRate
	e.setFilePath(path)
	e.rtGaplessFlag.Store(true)
}

// renderAudio is AudioOutput's RenderFunc: the pull-style render callback
// that decodes, crossfades, gaplessly swaps, and runs the DSP chain for one
// buffer's worth of output frames. It never blocks (try-lock only) and
// never allocates (every buffer it touches was sized in Load).
func (e *Engine) renderAudio(buf []float32, maxFrames int) int {
	if e.destroyed.Load() || e.shuttingDown.Load() {
		return 0
	}

	e.renderingInProgress.Store(true)
	defer e.renderingInProgress.Store(false)

	if !e.decoderMu.TryLock() {
		return 0
	}
	defer e.decoderMu.Unlock()

	if e.current == nil {
		return 0
	}

	channels := e.channels
	sourceFrames := e.sourceFramesNeeded(maxFrames)
	scratch := e.scratchCurrent[:sourceFrames*channels]

	n, _ := e.current.Read(scratch, sourceFrames)

	dopActive := e.dopPassthroughActive()

	if !dopActive {
		cfFrames := e.crossfadeFrameCount()
		remaining := e.currentFormat.TotalFrames - int64(e.current.PositionSeconds()*e.sourceRate)

		if !e.gap.Crossfading() && cfFrames > 0 && e.gap.NextReady() &&
			e.currentFormat.TotalFrames > 0 && remaining <= int64(cfFrames) {
			e.gap.StartCrossfade(e.currentFormat.TotalFrames-remaining, e.currentFormat.TotalFrames, int64(cfFrames))
		}

		if e.gap.Crossfading() {
			nextScratch := e.scratchNext[:sourceFrames*channels]
			nn, _ := e.gap.ReadNext(nextScratch, sourceFrames)
			fadeOut, fadeIn := e.gap.CrossfadeGains()

			m := n
			if nn > m {
				m = nn
			}
			for i := 0; i < m*channels; i++ {
				var a, b float32
				if i < n*channels {
					a = scratch[i]
				}
				if i < nn*channels {
					b = nextScratch[i]
				}
				scratch[i] = a*fadeOut + b*fadeIn
			}
			if m > n {
				n = m
			}

			e.gap.AdvanceCrossfade(n)
			if e.gap.CrossfadeDone() {
				e.gap.EndCrossfade()
				e.completeSwapLocked()
			}
		} else if n == 0 {
			if e.gap.NextReady() {
				e.completeSwapLocked()
				preloaded := e.gap.DrainPreload(scratch, sourceFrames, channels)
				if preloaded < sourceFrames {
					more, _ := e.current.Read(scratch[preloaded*channels:], sourceFrames-preloaded)
					preloaded += more
				}
				n = preloaded
			} else {
				e.rtPlaybackEndFlag.Store(true)
			}
		}
	} else if n == 0 {
		e.rtPlaybackEndFlag.Store(true)
	}

	var outFrames int
	if e.chain != nil {
		outFrames = e.chain.Upsampler.Process(scratch, n, buf, maxFrames)
	} else {
		c := n
		if c > maxFrames {
			c = maxFrames
		}
		copy(buf[:c*channels], scratch[:c*channels])
		outFrames = c
	}

	if e.chain != nil {
		e.chain.Process(buf, outFrames, channels)
	}

	e.framesRendered.Add(uint64(outFrames))
	return outFrames
}

// FramesRendered returns the running count of frames the render callback
// has produced since the current decoder was loaded.
func (e *Engine) FramesRendered() uint64 { return e.framesRendered.Load() }

// State returns the current transport state.
func (e *Engine) State() State { return e.state_() }
