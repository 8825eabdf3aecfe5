// Package vorbis wraps jfreymuth/oggvorbis, which decodes straight to
// interleaved float32 and so needs none of the residual byte buffering the
// other container wrappers in pkg/decoders require.
package vorbis

import (
	"fmt"
	"os"

	"github.com/jfreymuth/oggvorbis"
)

// Decoder wraps an oggvorbis.Reader over an open file handle.
type Decoder struct {
	file     *os.File
	reader   *oggvorbis.Reader
	rate     int
	channels int
}

// NewDecoder returns a closed Ogg Vorbis decoder.
func NewDecoder() *Decoder {
	return &Decoder{}
}

// Open opens fileName and primes the Vorbis stream header.
func (d *Decoder) Open(fileName string) error {
	f, err := os.Open(fileName)
	if err != nil {
		return fmt.Errorf("vorbis: open: %w", err)
	}

	reader, err := oggvorbis.NewReader(f)
	if err != nil {
		f.Close()
		return fmt.Errorf("vorbis: decode header: %w", err)
	}

	d.file = f
	d.reader = reader
	d.rate = reader.SampleRate()
	d.channels = reader.Channels()
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

// Format returns sample rate and channel count.
func (d *Decoder) Format() (rate, channels int) {
	return d.rate, d.channels
}

// ReadFloat32 decodes directly into buf, which holds interleaved samples.
func (d *Decoder) ReadFloat32(buf []float32) (int, error) {
	if d.reader == nil {
		return 0, fmt.Errorf("vorbis: decoder not open")
	}
	n, err := d.reader.Read(buf)
	if err != nil {
		return n, nil
	}
	return n, nil
}
