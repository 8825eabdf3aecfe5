// Package dsp defines the stage contract the in-chain processing blocks
// (equaliser, crossfeed, convolution, HRTF, gain stages) share; the
// upsampler does not implement it. RenderChain holds each stage as a
// concrete field and calls them in a fixed order, so a new stage is added
// by adding it to RenderChain.
package dsp

// Stage is one link in the render chain. Process runs on the real-time
// audio thread and must never allocate, block, or take a blocking lock;
// implementations exchange state with the main thread only through
// pre-sized buffers and atomics.
type Stage interface {
	// Process filters buf (interleaved float32, frames*channels long) in
	// place for the given channel count; input and output frame counts
	// always match for in-chain stages.
	Process(buf []float32, frames, channels int)

	// Reset clears internal filter/ramp state, called on seek, track
	// change and stream-format change.
	Reset()

	// Bypassed reports whether Process should be skipped entirely this
	// render cycle (e.g. bit-perfect mode, or the stage disabled by user
	// setting). RenderChain.Reset resets every stage, bypassed or not.
	Bypassed() bool
}
