// Package dsd decodes DSF and DFF container files carrying raw 1-bit DSD
// (Direct Stream Digital) audio, either down to PCM via 64-tap FIR
// decimation or packed as DoP (DSD-over-PCM) for output drivers that can
// pass the bitstream through to a DAC untouched.
package dsd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/hifiplayer/audiocore/pkg/audioformat"
)

// Decoder implements decoders.DSDCapable over a DSF or DFF file.
type Decoder struct {
	dopMode bool

	file containerInfo
	f    *os.File

	pcmSampleRate   float64
	decimationRatio int
	bytesPerPCMSamp int
	totalPCMFrames  int64
	pcmFramesRead   int64

	dopMarker bool // false => next marker is 0x05, true => 0xFA

	dsfBlockBuf [][]byte // per-channel block buffer, DSF only
	dsfBlockPos int
	dataOffset  int64

	fir firFilter
}

// NewDecoder returns a closed decoder. dopMode selects DoP passthrough
// encoding instead of FIR-decimated PCM conversion; it is fixed for the
// lifetime of the decoder, matching the upstream engine's signal-path
// decision for the current output device.
func NewDecoder(dopMode bool) *Decoder {
	return &Decoder{dopMode: dopMode}
}

// Open parses path as DSF or DFF by extension and primes decode state.
func (d *Decoder) Open(path string) error {
	ext := strings.ToLower(filepath.Ext(path))

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("dsd: open %s: %w", path, err)
	}

	var info containerInfo
	switch ext {
	case ".dsf":
		info, err = parseDSF(f)
	case ".dff":
		info, err = parseDFF(f)
	default:
		f.Close()
		return fmt.Errorf("dsd: unsupported extension %q", ext)
	}
	if err != nil {
		f.Close()
		return fmt.Errorf("dsd: parse %s: %w", path, err)
	}
	if info.channels <= 0 || info.channels > maxChannels {
		f.Close()
		return fmt.Errorf("dsd: %s: unsupported channel count %d", path, info.channels)
	}

	d.f = f
	d.file = info
	d.dataOffset = info.dataOffset
	d.initFormat()

	if _, err := f.Seek(d.dataOffset, 0); err != nil {
		f.Close()
		return fmt.Errorf("dsd: seek to data: %w", err)
	}

	return nil
}

func (d *Decoder) initFormat() {
	if d.dopMode {
		// 16 DSD bits packed per DoP frame -> DSD rate / 16 PCM frame rate.
		d.pcmSampleRate = float64(d.file.dsdRateHz) / 16.0
		d.decimationRatio = 16
		d.bytesPerPCMSamp = 2
		d.totalPCMFrames = int64(d.file.totalDSDSamples / 16)
		d.dopMarker = false
	} else {
		d.decimationRatio = int(d.file.dsdRateHz) / 44100
		if d.decimationRatio <= 0 {
			d.decimationRatio = 64
		}
		d.bytesPerPCMSamp = d.decimationRatio / 8
		if d.bytesPerPCMSamp <= 0 {
			d.bytesPerPCMSamp = 1
		}
		d.pcmSampleRate = 44100.0
		d.totalPCMFrames = int64(d.file.totalDSDSamples) / int64(d.decimationRatio)
	}

	if d.file.isDSF {
		d.dsfBlockBuf = make([][]byte, d.file.channels)
		for ch := range d.dsfBlockBuf {
			d.dsfBlockBuf[ch] = make([]byte, d.file.blockSize)
		}
		d.dsfBlockPos = int(d.file.blockSize) // force first read
	}

	if !d.dopMode {
		d.fir.design(firCutoffHz, d.pcmSampleRate)
		d.fir.reset()
	}
}

// Close releases the file handle.
func (d *Decoder) Close() error {
	if d.f != nil {
		err := d.f.Close()
		d.f = nil
		return err
	}
	return nil
}

// Format returns the decoded PCM (or DoP-carrier) stream format. DoP output
// is always reported as 24-bit carried in float32, matching bitsPerSample
// semantics elsewhere in the engine.
func (d *Decoder) Format() audioformat.StreamFormat {
	bps := 32
	if d.dopMode {
		bps = 24
	}
	return audioformat.StreamFormat{
		SampleRate:    d.pcmSampleRate,
		Channels:      d.file.channels,
		BitsPerSample: bps,
		TotalFrames:   d.totalPCMFrames,
		DurationSecs:  float64(d.totalPCMFrames) / d.pcmSampleRate,
	}
}

func (d *Decoder) PositionSeconds() float64 {
	if d.pcmSampleRate <= 0 {
		return 0
	}
	return float64(d.pcmFramesRead) / d.pcmSampleRate
}

// readNextDSFBlocks reads one blockSize chunk per channel; short reads at
// end of file are zero-padded rather than treated as an error.
func (d *Decoder) readNextDSFBlocks() bool {
	for ch := 0; ch < d.file.channels; ch++ {
		n, _ := d.f.Read(d.dsfBlockBuf[ch])
		if n == 0 {
			return false
		}
		if n < len(d.dsfBlockBuf[ch]) {
			for i := n; i < len(d.dsfBlockBuf[ch]); i++ {
				d.dsfBlockBuf[ch][i] = 0
			}
		}
	}
	d.dsfBlockPos = 0
	return true
}

// readDSDFrame fills outBuf (layout [ch0_byte0..ch0_byteN, ch1_byte0..]) with
// bytesPerCh raw DSD bytes per channel, MSB-first regardless of container.
func (d *Decoder) readDSDFrame(outBuf []byte, bytesPerCh int) bool {
	ch := d.file.channels

	if d.file.isDSF {
		for i := 0; i < bytesPerCh; i++ {
			if d.dsfBlockPos >= int(d.file.blockSize) {
				if !d.readNextDSFBlocks() {
					return false
				}
			}
			for c := 0; c < ch; c++ {
				outBuf[c*bytesPerCh+i] = bitReverse[d.dsfBlockBuf[c][d.dsfBlockPos]]
			}
			d.dsfBlockPos++
		}
		return true
	}

	var b [1]byte
	for i := 0; i < bytesPerCh; i++ {
		for c := 0; c < ch; c++ {
			if _, err := d.f.Read(b[:]); err != nil {
				return false
			}
			outBuf[c*bytesPerCh+i] = b[0]
		}
	}
	return true
}

// Read decodes up to maxFrames of either DoP-packed or FIR-decimated PCM
// into buf, interleaved by channel.
func (d *Decoder) Read(buf []float32, maxFrames int) (int, error) {
	ch := d.file.channels
	bytesPerCh := d.bytesPerPCMSamp
	written := 0

	if d.dopMode {
		frameBuf := make([]byte, maxChannels*2)
		for written < maxFrames {
			if !d.readDSDFrame(frameBuf, 2) {
				break
			}

			marker := byte(0x05)
			if d.dopMarker {
				marker = 0xFA
			}
			d.dopMarker = !d.dopMarker

			for c := 0; c < ch; c++ {
				hi := frameBuf[c*2]
				lo := frameBuf[c*2+1]
				dopWord := int32(marker)<<16 | int32(hi)<<8 | int32(lo)
				if dopWord&0x800000 != 0 {
					dopWord |= -1 << 24
				}
				buf[written*ch+c] = float32(dopWord) / 8388608.0
			}
			written++
		}
	} else {
		totalBits := bytesPerCh * 8
		scale := float32(2.0) / float32(totalBits)
		frameBuf := make([]byte, maxChannels*256)

		for written < maxFrames {
			if !d.readDSDFrame(frameBuf, bytesPerCh) {
				break
			}

			for c := 0; c < ch; c++ {
				chBytes := frameBuf[c*bytesPerCh : (c+1)*bytesPerCh]
				ones := 0
				for _, byt := range chBytes {
					ones += popcount8(byt)
				}
				raw := float32(ones)*scale - 1.0
				buf[written*ch+c] = d.fir.process(c, raw)
			}
			written++
		}
	}

	d.pcmFramesRead += int64(written)
	return written, nil
}

func popcount8(b byte) int {
	n := 0
	for b != 0 {
		n += int(b & 1)
		b >>= 1
	}
	return n
}

// Seek repositions to secs seconds, realigning DSF block state or DFF byte
// offset and resetting the FIR filter (PCM mode) or DoP marker parity (DoP
// mode) so the stream resumes cleanly rather than mid-filter-state or with
// a marker/sample-position mismatch.
func (d *Decoder) Seek(secs float64) bool {
	pcmFrame := int64(secs * d.pcmSampleRate)
	if pcmFrame < 0 {
		pcmFrame = 0
	}
	if pcmFrame > d.totalPCMFrames {
		pcmFrame = d.totalPCMFrames
	}

	dsdBytePerCh := pcmFrame * int64(d.bytesPerPCMSamp)

	if d.file.isDSF {
		blockIndex := dsdBytePerCh / int64(d.file.blockSize)
		posInBlock := dsdBytePerCh % int64(d.file.blockSize)
		fileOffset := blockIndex * int64(d.file.blockSize) * int64(d.file.channels)

		if _, err := d.f.Seek(d.dataOffset+fileOffset, 0); err != nil {
			return false
		}
		d.dsfBlockPos = int(d.file.blockSize)
		if d.readNextDSFBlocks() {
			d.dsfBlockPos = int(posInBlock)
		}
	} else {
		byteOffset := dsdBytePerCh * int64(d.file.channels)
		if _, err := d.f.Seek(d.dataOffset+byteOffset, 0); err != nil {
			return false
		}
	}

	d.pcmFramesRead = pcmFrame

	if d.dopMode {
		d.dopMarker = pcmFrame%2 != 0
	} else {
		d.fir.reset()
	}

	return true
}

func (d *Decoder) IsDSD64() bool  { return d.file.dsdRateHz >= 2_800_000 && d.file.dsdRateHz < 5_600_000 }
func (d *Decoder) IsDSD128() bool { return d.file.dsdRateHz >= 5_600_000 && d.file.dsdRateHz < 11_200_000 }
func (d *Decoder) IsDSD256() bool { return d.file.dsdRateHz >= 11_200_000 && d.file.dsdRateHz < 22_400_000 }
func (d *Decoder) IsDSD512() bool { return d.file.dsdRateHz >= 22_400_000 && d.file.dsdRateHz < 45_000_000 }
func (d *Decoder) IsDSD1024() bool {
	return d.file.dsdRateHz >= 45_000_000 && d.file.dsdRateHz < 90_000_000
}
func (d *Decoder) IsDSD2048() bool { return d.file.dsdRateHz >= 90_000_000 }

func (d *Decoder) DSDSampleRateHz() float64 { return float64(d.file.dsdRateHz) }
func (d *Decoder) IsDoPMode() bool          { return d.dopMode }
func (d *Decoder) DoPMarkerState() bool     { return d.dopMarker }
func (d *Decoder) SetDoPMarkerState(v bool) { d.dopMarker = v }

// Rate classifies the open file's raw DSD rate using the shared band table.
func (d *Decoder) Rate() audioformat.DSDRate {
	return audioformat.ClassifyDSDRate(float64(d.file.dsdRateHz))
}
