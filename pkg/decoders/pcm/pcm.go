// Package pcm implements the unified decoders.Decoder contract over every
// byte-oriented or already-float PCM codec wrapper in audiocore: FLAC, MP3,
// WAV, Ogg Vorbis and raw G.711. Codec-native decode granularity rarely
// lines up with the frame counts AudioEngine's render callback asks for, so
// byte-oriented codecs decode into a scratch buffer that feeds a
// pkg/ringbuffer residual buffer; callers then drain exactly maxFrames from
// that buffer regardless of how much the underlying codec produced.
package pcm

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/hifiplayer/audiocore/pkg/audioformat"
	"github.com/hifiplayer/audiocore/pkg/decoders/flac"
	"github.com/hifiplayer/audiocore/pkg/decoders/g711codec"
	"github.com/hifiplayer/audiocore/pkg/decoders/mp3"
	"github.com/hifiplayer/audiocore/pkg/decoders/vorbis"
	"github.com/hifiplayer/audiocore/pkg/decoders/wav"
	"github.com/hifiplayer/audiocore/pkg/ringbuffer"
	"github.com/hifiplayer/audiocore/pkg/types"
)

// byteCodec is the subset of types.AudioDecoder every byte-producing wrapper
// in this package already satisfies.
type byteCodec = types.AudioDecoder

// floatCodec is satisfied by codecs that hand back interleaved float32
// directly (Ogg Vorbis), bypassing the residual byte buffer entirely.
type floatCodec interface {
	Open(fileName string) error
	Close() error
	Format() (rate, channels int)
	ReadFloat32(buf []float32) (int, error)
}

const residualBufferBytes = 1 << 18 // 256 KiB, rounded up to a power of 2 by ringbuffer.New

// Decoder wraps one byte-oriented or float-native PCM codec behind the
// unified decoders.Decoder interface.
type Decoder struct {
	codec      byteCodec
	floatCodec floatCodec

	residual       *ringbuffer.RingBuffer
	scratch        []byte
	bitsPerSample  int
	bytesPerSample int

	format      audioformat.StreamFormat
	framesRead  int64
	path        string
}

// New returns a closed decoder; call Open to select and initialize the
// underlying codec by file extension.
func New() *Decoder {
	return &Decoder{}
}

// Open selects a codec by extension and opens path.
//
// .flac/.fla -> flac.Decoder (go-flac)
// .mp3       -> mp3.Decoder (go-mpg123)
// .wav       -> wav.Decoder (youpy/go-wav)
// .ogg/.oga  -> vorbis.Decoder (jfreymuth/oggvorbis), float32-native
// .ulaw/.alaw -> g711codec.Decoder (zaf/g711)
func (d *Decoder) Open(path string) error {
	ext := strings.ToLower(filepath.Ext(path))

	switch ext {
	case ".ogg", ".oga":
		fc := vorbis.NewDecoder()
		if err := fc.Open(path); err != nil {
			return fmt.Errorf("pcm: open %s: %w", path, err)
		}
		rate, channels := fc.Format()
		d.floatCodec = fc
		d.format = audioformat.StreamFormat{
			SampleRate:    float64(rate),
			Channels:      channels,
			BitsPerSample: 32,
			TotalFrames:   -1,
		}
		d.path = path
		return nil
	}

	var codec byteCodec
	switch ext {
	case ".flac", ".fla":
		codec = flac.NewDecoder()
	case ".mp3":
		codec = mp3.NewDecoder()
	case ".wav":
		codec = wav.NewDecoder()
	case ".ulaw", ".alaw":
		codec = g711codec.NewDecoder(ext == ".alaw")
	default:
		return fmt.Errorf("pcm: unsupported extension %q", ext)
	}

	if err := codec.Open(path); err != nil {
		return fmt.Errorf("pcm: open %s: %w", path, err)
	}

	rate, channels, bps := codec.GetFormat()
	if channels <= 0 || rate <= 0 {
		codec.Close()
		return fmt.Errorf("pcm: %s: invalid format %dHz/%dch", path, rate, channels)
	}

	d.codec = codec
	d.bitsPerSample = bps
	d.bytesPerSample = bps / 8
	if d.bytesPerSample <= 0 {
		d.bytesPerSample = 2
	}
	d.residual = ringbuffer.New(residualBufferBytes)
	d.scratch = make([]byte, 8192*channels*d.bytesPerSample)
	d.format = audioformat.StreamFormat{
		SampleRate:    float64(rate),
		Channels:      channels,
		BitsPerSample: bps,
		TotalFrames:   -1,
	}
	d.path = path
	return nil
}

// Close releases the underlying codec.
func (d *Decoder) Close() error {
	if d.floatCodec != nil {
		return d.floatCodec.Close()
	}
	if d.codec != nil {
		err := d.codec.Close()
		d.codec = nil
		return err
	}
	return nil
}

// Format returns the stream's format descriptor.
func (d *Decoder) Format() audioformat.StreamFormat {
	return d.format
}

// PositionSeconds reports elapsed decode position, computed from frames
// actually handed to the caller rather than frames decoded internally.
func (d *Decoder) PositionSeconds() float64 {
	if d.format.SampleRate <= 0 {
		return 0
	}
	return float64(d.framesRead) / d.format.SampleRate
}

// Seek repositions to secs seconds into the stream. None of
// go-flac/go-mpg123/go-wav/oggvorbis/zaf-g711 expose a native seek
// primitive, so this reopens the underlying codec from scratch and decodes
// (discarding the output) up to the target frame, flushing the residual
// buffer and codec state exactly as if playback had started fresh at that
// position.
func (d *Decoder) Seek(secs float64) bool {
	if secs < 0 {
		secs = 0
	}
	targetFrames := int64(secs * d.format.SampleRate)

	if d.floatCodec != nil {
		return d.seekFloat(targetFrames)
	}
	return d.seekPCM(targetFrames)
}

func (d *Decoder) seekFloat(targetFrames int64) bool {
	if d.floatCodec != nil {
		d.floatCodec.Close()
	}

	fc := vorbis.NewDecoder()
	if err := fc.Open(d.path); err != nil {
		return false
	}
	d.floatCodec = fc
	d.framesRead = 0

	channels := d.format.Channels
	discard := make([]float32, 4096*channels)
	for d.framesRead < targetFrames {
		chunkFrames := int64(len(discard) / channels)
		if want := targetFrames - d.framesRead; want < chunkFrames {
			chunkFrames = want
		}
		n, err := d.floatCodec.ReadFloat32(discard[:chunkFrames*int64(channels)])
		frames := int64(n / channels)
		d.framesRead += frames
		if frames == 0 || err != nil {
			break
		}
	}
	return true
}

func (d *Decoder) seekPCM(targetFrames int64) bool {
	ext := strings.ToLower(filepath.Ext(d.path))

	var codec byteCodec
	switch ext {
	case ".flac", ".fla":
		codec = flac.NewDecoder()
	case ".mp3":
		codec = mp3.NewDecoder()
	case ".wav":
		codec = wav.NewDecoder()
	case ".ulaw", ".alaw":
		codec = g711codec.NewDecoder(ext == ".alaw")
	default:
		return false
	}

	if err := codec.Open(d.path); err != nil {
		return false
	}
	if d.codec != nil {
		d.codec.Close()
	}
	d.codec = codec
	d.residual.Reset()
	d.framesRead = 0

	channels := d.format.Channels
	discard := make([]float32, 4096*channels)
	for d.framesRead < targetFrames {
		maxFrames := len(discard) / channels
		if want := int(targetFrames - d.framesRead); want < maxFrames {
			maxFrames = want
		}
		frames, _ := d.readPCM(discard, maxFrames)
		if frames == 0 {
			break
		}
	}
	return true
}

// Read produces up to maxFrames frames of interleaved float32 audio.
func (d *Decoder) Read(buf []float32, maxFrames int) (int, error) {
	if d.floatCodec != nil {
		n, err := d.floatCodec.ReadFloat32(buf[:maxFrames*d.format.Channels])
		frames := n / d.format.Channels
		d.framesRead += int64(frames)
		if err != nil {
			return frames, nil
		}
		return frames, nil
	}
	return d.readPCM(buf, maxFrames)
}

func (d *Decoder) readPCM(buf []float32, maxFrames int) (int, error) {
	channels := d.format.Channels
	wantBytes := uint64(maxFrames * channels * d.bytesPerSample)

	for d.residual.AvailableRead() < wantBytes {
		n, err := d.codec.DecodeSamples(len(d.scratch)/(channels*d.bytesPerSample), d.scratch)
		if n > 0 {
			nBytes := n * channels * d.bytesPerSample
			if _, werr := d.residual.Write(d.scratch[:nBytes]); werr != nil {
				// residual buffer full: drain what we have and stop topping up
				break
			}
		}
		if n == 0 || err != nil {
			break
		}
	}

	available := d.residual.AvailableRead()
	toRead := min(available, wantBytes)
	if toRead == 0 {
		return 0, nil
	}

	raw := make([]byte, toRead)
	n, err := d.residual.Read(raw)
	if err != nil && n == 0 {
		return 0, nil
	}
	raw = raw[:n]

	frames := n / (channels * d.bytesPerSample)
	decodeIntToFloat(raw, buf, frames*channels, d.bitsPerSample)
	d.framesRead += int64(frames)
	return frames, nil
}

// decodeIntToFloat converts n little-endian interleaved integer samples at
// bitsPerSample depth into normalized float32 in [-1, 1].
func decodeIntToFloat(raw []byte, out []float32, n, bitsPerSample int) {
	switch bitsPerSample {
	case 8:
		for i := 0; i < n && i < len(raw); i++ {
			out[i] = (float32(raw[i]) - 128) / 128
		}
	case 16:
		const scale = 1.0 / 32768.0
		for i := 0; i < n; i++ {
			off := i * 2
			if off+1 >= len(raw) {
				break
			}
			v := int16(uint16(raw[off]) | uint16(raw[off+1])<<8)
			out[i] = float32(v) * scale
		}
	case 24:
		const scale = 1.0 / 8388608.0
		for i := 0; i < n; i++ {
			off := i * 3
			if off+2 >= len(raw) {
				break
			}
			v := int32(raw[off]) | int32(raw[off+1])<<8 | int32(raw[off+2])<<16
			if v&0x800000 != 0 {
				v |= -1 << 24
			}
			out[i] = float32(v) * scale
		}
	case 32:
		const scale = 1.0 / 2147483648.0
		for i := 0; i < n; i++ {
			off := i * 4
			if off+3 >= len(raw) {
				break
			}
			v := int32(uint32(raw[off]) | uint32(raw[off+1])<<8 | uint32(raw[off+2])<<16 | uint32(raw[off+3])<<24)
			out[i] = float32(v) * scale
		}
	}
}
