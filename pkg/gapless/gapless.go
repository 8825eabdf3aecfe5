// Package gapless implements preload-and-swap gapless playback plus
// equal-power crossfade between the current and next track. It owns the
// "next" decoder slot; AudioEngine owns "current" and calls SwapToCurrent
// at the end of a transition.
package gapless

import (
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/hifiplayer/audiocore/pkg/audioformat"
	"github.com/hifiplayer/audiocore/pkg/audioframe"
	"github.com/hifiplayer/audiocore/pkg/audioframeringbuffer"
	"github.com/hifiplayer/audiocore/pkg/decoders"
)

// equalPowerOut and equalPowerIn implement a cos/sin equal-power crossfade
// curve: the sum of squared gains is constant across t, avoiding the
// perceived dip a linear crossfade produces.
func equalPowerOut(t float32) float32 {
	return float32(math.Cos(float64(t) * math.Pi / 2))
}

func equalPowerIn(t float32) float32 {
	return float32(math.Sin(float64(t) * math.Pi / 2))
}

var dsdExt = map[string]bool{".dsf": true, ".dff": true}

// preloadChunkFrames is how many frames the background preload goroutine
// decodes per iteration; small enough to interleave nicely with the mutex
// acquisitions the main thread needs for unrelated decoder operations.
const preloadChunkFrames = 4096

// Manager prepares the next track on the main thread while the current
// track is still playing, then performs a lock-protected swap and/or
// equal-power crossfade on the render thread.
type Manager struct {
	decoderMu *sync.Mutex

	nextDecoder  decoders.Decoder
	nextFormat   audioformat.StreamFormat
	nextFilePath string
	nextReady    bool

	preload       *audioframeringbuffer.AudioFrameRingBuffer
	preloadCancel chan struct{}

	// preloadLeftover holds the render thread's partially-consumed preload
	// chunk between DrainPreload calls (AudioFrameRingBuffer only yields
	// whole frames; a render callback rarely wants exactly one chunk).
	preloadLeftover       []float32
	preloadLeftoverFrames int
	preloadLeftoverOffset int

	crossfadeDurationMs int
	crossfading         bool
	crossfadeProgress   int
	crossfadeTotal      int
}

// New returns a Manager sharing decoderMu with AudioEngine, the single
// mutex that must be held whenever either the current or next decoder
// pointer is read or swapped.
func New(decoderMu *sync.Mutex) *Manager {
	return &Manager{decoderMu: decoderMu}
}

// SetCrossfadeDuration sets the crossfade length in milliseconds; 0
// disables crossfading (tracks still transition gaplessly if formats
// match).
func (m *Manager) SetCrossfadeDuration(ms int) {
	m.crossfadeDurationMs = ms
}

// preloadDepthChunks bounds how many preloadChunkFrames-sized chunks the
// background preload goroutine may decode ahead before blocking on buffer
// space; rounded up to a power of 2 internally by audioframeringbuffer.
const preloadDepthChunks = 8

// PreallocateCrossfadeBuffer sizes the preload ring buffer and its
// render-thread drain scratch space, called once playback starts or the
// channel count changes.
func (m *Manager) PreallocateCrossfadeBuffer(channels int) {
	m.preload = audioframeringbuffer.New(preloadDepthChunks)
	m.preloadLeftover = make([]float32, preloadChunkFrames*channels)
	m.preloadLeftoverFrames = 0
	m.preloadLeftoverOffset = 0
	m.crossfading = false
	m.crossfadeProgress = 0
}

// PrepareNextTrack opens filePath's decoder ahead of time (main thread) so
// the swap at track end is instant. It silently no-ops if gapless and
// crossfade are both disabled, the path is empty or unreadable, or the
// decoded format doesn't match the currently playing stream closely enough
// for a seamless transition (sample rate within 1Hz, same channel count,
// same DSD-vs-PCM signal path).
func (m *Manager) PrepareNextTrack(filePath string, gaplessEnabled bool, currentRate float64, currentChannels int, currentUsingDSD, preferDoP bool) {
	if filePath == "" {
		return
	}
	if !gaplessEnabled && m.crossfadeDurationMs <= 0 {
		return
	}

	m.decoderMu.Lock()
	defer m.decoderMu.Unlock()

	m.closeNextLocked()

	info, err := os.Stat(filePath)
	if err != nil || info.Size() == 0 {
		return
	}

	ext := strings.ToLower(filepath.Ext(filePath))
	nextUsingDSD := dsdExt[ext]

	dec, err := decoders.NewDecoder(filePath, decoders.Options{PreferDoP: preferDoP})
	if err != nil {
		return
	}

	format := dec.Format()
	formatMatch := abs(format.SampleRate-currentRate) < 1.0 &&
		format.Channels == currentChannels &&
		nextUsingDSD == currentUsingDSD

	m.nextDecoder = dec
	m.nextFormat = format
	m.nextFilePath = filePath

	if !formatMatch {
		// Keep the opened decoder around but don't mark it
		// gapless-ready; the engine falls back to a normal stop/start
		// transition, and its Load opens the track afresh.
		m.nextReady = false
		return
	}

	m.nextReady = true
	m.startPreload(dec, format)
}

// startPreload decodes ahead into the preload ring buffer on a background
// goroutine, so swapToCurrent can serve the first post-swap render calls
// from already-decoded frames instead of paying decode latency inside the
// render callback. Stops on decoder EOS, buffer full, or CancelNextTrack.
func (m *Manager) startPreload(dec decoders.Decoder, format audioformat.StreamFormat) {
	if m.preload == nil {
		return
	}
	cancel := make(chan struct{})
	m.preloadCancel = cancel

	go func() {
		scratch := make([]float32, preloadChunkFrames*format.Channels)
		for {
			select {
			case <-cancel:
				return
			default:
			}

			if m.preload.AvailableWrite() == 0 {
				return
			}

			m.decoderMu.Lock()
			stillCurrent := m.nextDecoder == dec
			var n int
			var err error
			if stillCurrent {
				n, err = dec.Read(scratch, preloadChunkFrames)
			}
			m.decoderMu.Unlock()

			if !stillCurrent || err != nil || n == 0 {
				return
			}

			audioBytes := make([]byte, n*format.Channels*4)
			for i := 0; i < n*format.Channels; i++ {
				binary.LittleEndian.PutUint32(audioBytes[i*4:], math.Float32bits(scratch[i]))
			}
			frame := audioframe.AudioFrame{
				Format: audioframe.FrameFormat{
					SampleRate:    uint32(format.SampleRate),
					Channels:      uint8(format.Channels),
					BitsPerSample: 32,
				},
				SamplesCount: uint16(n),
				Audio:        audioBytes,
			}
			if _, err := m.preload.Write([]audioframe.AudioFrame{frame}); err != nil {
				return
			}
		}
	}()
}

// DrainPreload consumes decoded-ahead float32 frames from the preload
// buffer into out, returning the number of frames written (up to
// maxFrames). Called by the render thread immediately after SwapToCurrent
// so the first callbacks after a gapless transition don't pay decode
// latency. Returns 0 once the preload buffer has been fully drained or was
// never populated; the caller falls back to decoder.Read for the remainder.
//
// AudioFrameRingBuffer only yields whole preloadChunkFrames-sized entries,
// so a partially-consumed chunk is held in preloadLeftover across calls
// rather than re-queued (the ring buffer has no partial-read API).
func (m *Manager) DrainPreload(out []float32, maxFrames, channels int) int {
	total := 0
	for total < maxFrames {
		if m.preloadLeftoverOffset < m.preloadLeftoverFrames {
			avail := m.preloadLeftoverFrames - m.preloadLeftoverOffset
			take := maxFrames - total
			if take > avail {
				take = avail
			}
			copy(out[total*channels:(total+take)*channels],
				m.preloadLeftover[m.preloadLeftoverOffset*channels:(m.preloadLeftoverOffset+take)*channels])
			m.preloadLeftoverOffset += take
			total += take
			continue
		}

		if m.preload == nil {
			break
		}
		frames, err := m.preload.Read(1)
		if err != nil || len(frames) == 0 {
			break
		}
		f := frames[0]
		n := int(f.SamplesCount)
		need := n * channels
		if cap(m.preloadLeftover) < need {
			m.preloadLeftover = make([]float32, need)
		}
		m.preloadLeftover = m.preloadLeftover[:need]
		for i := 0; i < need && i*4+3 < len(f.Audio); i++ {
			m.preloadLeftover[i] = math.Float32frombits(binary.LittleEndian.Uint32(f.Audio[i*4:]))
		}
		m.preloadLeftoverFrames = n
		m.preloadLeftoverOffset = 0
	}
	return total
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

func (m *Manager) closeNextLocked() {
	if m.preloadCancel != nil {
		close(m.preloadCancel)
		m.preloadCancel = nil
	}
	if m.nextDecoder != nil {
		m.nextDecoder.Close()
		m.nextDecoder = nil
	}
	m.nextReady = false
	m.nextFilePath = ""
	if m.preload != nil {
		m.preload.Reset()
	}
	m.preloadLeftoverFrames = 0
	m.preloadLeftoverOffset = 0
}

// CancelNextTrack discards any prepared next track, called when the
// playback queue changes before the current track ends.
func (m *Manager) CancelNextTrack() {
	m.decoderMu.Lock()
	defer m.decoderMu.Unlock()
	m.closeNextLocked()
}

// Reset discards prepared state and crossfade progress; caller must hold
// decoderMu.
func (m *Manager) Reset() {
	m.closeNextLocked()
	m.crossfading = false
	m.crossfadeProgress = 0
}

// NextReady reports whether a next track is opened and format-compatible
// for a seamless transition.
func (m *Manager) NextReady() bool { return m.nextReady }

// NextFormat returns the prepared next track's format.
func (m *Manager) NextFormat() audioformat.StreamFormat { return m.nextFormat }

// --- Render-thread crossfade state machine (caller holds decoderMu) ---

// StartCrossfade begins an equal-power crossfade ending exactly at
// totalFrames, given the current decoder has already rendered
// framesRendered frames and the fade spans cfFrames.
func (m *Manager) StartCrossfade(framesRendered, totalFrames, cfFrames int64) {
	m.crossfading = true
	m.crossfadeProgress = int(framesRendered - (totalFrames - cfFrames))
	m.crossfadeTotal = int(cfFrames)
}

func (m *Manager) AdvanceCrossfade(frames int) {
	m.crossfadeProgress += frames
}

func (m *Manager) EndCrossfade() {
	m.crossfading = false
	m.crossfadeProgress = 0
}

func (m *Manager) Crossfading() bool { return m.crossfading }

// CrossfadeDone reports whether an in-progress crossfade has reached its
// total frame count and should be finalized with EndCrossfade plus a swap.
func (m *Manager) CrossfadeDone() bool {
	return m.crossfading && m.crossfadeProgress >= m.crossfadeTotal
}

// ReadNext decodes frames from the prepared next decoder, used by the
// render thread to source the incoming side of a crossfade. Caller already
// holds decoderMu. Returns 0, nil if no next decoder is prepared.
func (m *Manager) ReadNext(buf []float32, maxFrames int) (int, error) {
	if m.nextDecoder == nil {
		return 0, nil
	}
	return m.nextDecoder.Read(buf, maxFrames)
}

// CrossfadeGains returns the equal-power (cos/sin) fade-out and fade-in
// gains for the current position in an in-progress crossfade.
func (m *Manager) CrossfadeGains() (fadeOut, fadeIn float32) {
	if m.crossfadeTotal <= 0 {
		return 1, 0
	}
	t := float32(m.crossfadeProgress) / float32(m.crossfadeTotal)
	if t < 0 {
		t = 0
	}
	if t > 1 {
		t = 1
	}
	return equalPowerOut(t), equalPowerIn(t)
}

// SwapToCurrent transfers ownership of the prepared next decoder into
// current (returned to the caller), carrying across DoP marker parity when
// both the outgoing and incoming decoders are DSD in DoP mode so the
// alternating marker sequence stays continuous across the gapless boundary.
func (m *Manager) SwapToCurrent(oldCurrent decoders.Decoder) (newCurrent decoders.Decoder, format audioformat.StreamFormat, usingDSD bool, filePath string) {
	if m.nextDecoder == nil {
		return nil, audioformat.StreamFormat{}, false, ""
	}

	newCurrent = m.nextDecoder
	format = m.nextFormat
	filePath = m.nextFilePath

	if newDSD, ok := newCurrent.(decoders.DSDCapable); ok {
		usingDSD = true
		if oldDSD, ok := oldCurrent.(decoders.DSDCapable); ok && newDSD.IsDoPMode() && oldDSD.IsDoPMode() {
			newDSD.SetDoPMarkerState(oldDSD.DoPMarkerState())
		}
	}

	if oldCurrent != nil {
		oldCurrent.Close()
	}

	m.nextDecoder = nil
	m.nextReady = false
	m.nextFilePath = ""
	m.crossfading = false
	m.crossfadeProgress = 0

	return newCurrent, format, usingDSD, filePath
}
