// Package g711codec decodes raw G.711 (A-law/u-law) telephony files, a
// fixed 8kHz mono 16-bit-after-decode format, via zaf/g711.
package g711codec

import (
	"fmt"
	"io"
	"os"

	"github.com/zaf/g711"
)

const g711SampleRate = 8000

// Decoder wraps a zaf/g711 streaming decoder behind types.AudioDecoder.
type Decoder struct {
	aLaw bool

	file    *os.File
	decoder io.Reader
}

// NewDecoder returns a closed decoder for either A-law (aLaw=true) or
// u-law raw G.711 data.
func NewDecoder(aLaw bool) *Decoder {
	return &Decoder{aLaw: aLaw}
}

// Open opens fileName and wraps it with the matching G.711 decoder.
func (d *Decoder) Open(fileName string) error {
	f, err := os.Open(fileName)
	if err != nil {
		return fmt.Errorf("g711codec: open: %w", err)
	}

	var dec io.Reader
	if d.aLaw {
		dec, err = g711.NewAlawDecoder(f)
	} else {
		dec, err = g711.NewUlawDecoder(f)
	}
	if err != nil {
		f.Close()
		return fmt.Errorf("g711codec: init decoder: %w", err)
	}

	d.file = f
	d.decoder = dec
	return nil
}

// Close releases the file handle.
func (d *Decoder) Close() error {
	if d.file != nil {
		err := d.file.Close()
		d.file = nil
		return err
	}
	return nil
}

// GetFormat returns the fixed G.711 format: 8kHz, mono, 16 bits after decode.
func (d *Decoder) GetFormat() (rate, channels, bitsPerSample int) {
	return g711SampleRate, 1, 16
}

// DecodeSamples reads up to samples mono 16-bit PCM samples (2 bytes each)
// from the decoded G.711 stream.
func (d *Decoder) DecodeSamples(samples int, audio []byte) (int, error) {
	if d.decoder == nil {
		return 0, fmt.Errorf("g711codec: decoder not initialized")
	}

	want := samples * 2
	if want > len(audio) {
		want = len(audio) - (len(audio) % 2)
	}

	n, err := io.ReadFull(d.decoder, audio[:want])
	n -= n % 2
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return n / 2, err
	}
	return n / 2, nil
}
