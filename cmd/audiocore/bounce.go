package main

import (
	"encoding/binary"
	"log/slog"
	"math"
	"os"

	"github.com/hifiplayer/audiocore/pkg/decoders"
	"github.com/hifiplayer/audiocore/pkg/dsp/upsampler"

	"github.com/spf13/cobra"
	wav "github.com/youpy/go-wav"
)

const bounceBlockFrames = 4096

var (
	bounceOutPath    string
	bounceRate       int
	bounceUpsampleOn bool
)

var bounceCmd = &cobra.Command{
	Use:   "bounce <audio_file>",
	Short: "Render a file to WAV at a target sample rate (offline)",
	Long: `Bounce decodes a file fully, optionally upsamples it through the
same soxr-backed path the engine uses for live playback, and writes 16-bit
PCM WAV to disk. Unlike the teacher's transform command this shares the
engine's own decoder and upsampler packages instead of a parallel codec
path.

Examples:
  audiocore bounce track.flac --out track_48k.wav --rate 48000`,
	Args: cobra.ExactArgs(1),
	Run:  runBounce,
}

func init() {
	rootCmd.AddCommand(bounceCmd)

	bounceCmd.Flags().StringVar(&bounceOutPath, "out", "bounced.wav", "Output WAV path")
	bounceCmd.Flags().IntVar(&bounceRate, "rate", 48000, "Target sample rate, Hz")
	bounceCmd.Flags().BoolVar(&bounceUpsampleOn, "upsample", true, "Resample to --rate via the soxr upsampler")
}

func runBounce(cmd *cobra.Command, args []string) {
	setupLogging(verbose)
	inPath := args[0]

	dec, err := decoders.NewDecoder(inPath, decoders.Options{})
	if err != nil {
		slog.Error("failed to open decoder", "error", err)
		os.Exit(1)
	}
	defer dec.Close()

	format := dec.Format()
	channels := format.Channels

	up := upsampler.New(upsampler.Settings{Mode: upsampler.Fixed, FixedRateHz: bounceRate, MaxDacRateHz: bounceRate})
	if !bounceUpsampleOn {
		up = upsampler.New(upsampler.Settings{Mode: upsampler.None})
	}
	if err := up.Configure(int(format.SampleRate), channels); err != nil {
		slog.Error("failed to configure upsampler", "error", err)
		os.Exit(1)
	}
	outRate := up.OutputRate()

	slog.Info("bouncing", "input_rate", format.SampleRate, "output_rate", outRate, "channels", channels)

	in := make([]float32, bounceBlockFrames*channels)
	out := make([]float32, bounceBlockFrames*4*channels)
	pcm := make([]byte, 0, 1<<20)
	totalFrames := 0

	for {
		n, _ := dec.Read(in, bounceBlockFrames)
		if n == 0 {
			break
		}
		outFrames := up.Process(in, n, out, len(out)/channels)
		pcm = append(pcm, floatToPCM16(out[:outFrames*channels])...)
		totalFrames += outFrames
	}

	f, err := os.OpenFile(bounceOutPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		slog.Error("failed to create output file", "error", err)
		os.Exit(1)
	}
	defer f.Close()

	writer := wav.NewWriter(f, uint32(totalFrames), uint16(channels), uint32(outRate), 16)
	if _, err := writer.Write(pcm); err != nil {
		slog.Error("failed to write WAV data", "error", err)
		os.Exit(1)
	}

	slog.Info("bounce complete", "frames", totalFrames, "path", bounceOutPath)
}

func floatToPCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		v := int16(math.Round(float64(s) * 32767))
		binary.LittleEndian.PutUint16(out[i*2:], uint16(v))
	}
	return out
}
