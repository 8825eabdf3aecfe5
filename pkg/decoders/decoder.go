// Package decoders defines the unified decoder surface AudioEngine drives,
// realized by the pcm and dsd sub-packages, plus the factory that picks
// between them by file extension.
package decoders

import (
	"errors"

	"github.com/hifiplayer/audiocore/pkg/audioformat"
)

// Sentinel errors surfaced from Open/Read per spec §7.
var (
	ErrFileNotFound     = errors.New("decoders: file not found")
	ErrFileUnreadable   = errors.New("decoders: file unreadable")
	ErrFileEmpty        = errors.New("decoders: file is empty")
	ErrDecoderOpenFailed = errors.New("decoders: failed to open decoder")
	ErrSeekFailed       = errors.New("decoders: seek failed")
)

// Decoder is the capability set AudioEngine drives for both the PCM and DSD
// decoder variants. It is a closed sum type in spirit (only *pcm.Decoder and
// *dsd.Decoder implement it) but expressed as a Go interface so the engine
// and gapless manager can hold either without a type switch on every call.
//
// Lifecycle: created closed -> Open -> many Read/Seek -> Close. A Decoder is
// exclusively owned by the engine's current slot or the gapless manager's
// next slot at any one time; ownership transfer happens only under the
// shared decoder mutex.
type Decoder interface {
	Open(path string) error
	Close() error

	// Read decodes up to maxFrames frames of interleaved float32 into buf
	// (which must be at least maxFrames*channels long) and returns the
	// number of frames actually produced. Zero means end of stream. A
	// transient decode error returns 0 but leaves the decoder open.
	Read(buf []float32, maxFrames int) (int, error)

	// Seek repositions to secs seconds into the stream. false means the
	// seek failed and position is unchanged.
	Seek(secs float64) bool

	Format() audioformat.StreamFormat
	PositionSeconds() float64
}

// DSDCapable is the extra capability set exposed by *dsd.Decoder. The engine
// type-asserts a Decoder to this interface when it needs DSD-specific state
// (signal-path reporting, DoP marker transfer across a gapless swap).
type DSDCapable interface {
	Decoder

	IsDSD64() bool
	IsDSD128() bool
	IsDSD256() bool
	IsDSD512() bool
	IsDSD1024() bool
	IsDSD2048() bool

	DSDSampleRateHz() float64
	IsDoPMode() bool
	DoPMarkerState() bool
	SetDoPMarkerState(bool)
}

// TrackMeta is the RT-visible subset of track metadata carried alongside a
// decoder, feeding LevelingGain only.
type TrackMeta struct {
	FilePath string

	HasReplayGain       bool
	ReplayGainTrackDB   float64
	ReplayGainAlbumDB   float64
	ReplayGainTrackPeak float64 // linear
	ReplayGainAlbumPeak float64 // linear

	HasR128       bool
	R128LoudnessLUFS float64
	R128Peak      float64
}
