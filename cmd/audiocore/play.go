package main

import (
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hifiplayer/audiocore/pkg/devicemanager"
	"github.com/hifiplayer/audiocore/pkg/dsp/biquad"
	"github.com/hifiplayer/audiocore/pkg/dsp/gain"
	"github.com/hifiplayer/audiocore/pkg/dsp/spatial"
	"github.com/hifiplayer/audiocore/pkg/dsp/upsampler"
	"github.com/hifiplayer/audiocore/pkg/engine"

	"github.com/spf13/cobra"
)

var (
	playDeviceIdx      int
	playFrames         int
	playDop            bool
	playAutoRate       bool
	playBitPerfect     bool
	playGapless        bool
	playCrossfadeMs    int
	playUpsampleMode   string
	playMaxDacRateHz   int
	playVolume         float32
	playLevelingTarget float64
	playLevelingOn     bool
	playCrossfeedOn    bool
	playCrossfeedLevel string
)

var playCmd = &cobra.Command{
	Use:   "play <audio_file>",
	Short: "Play a file with the full render chain",
	Long: `Play decodes and renders a single audio file through the engine's
upsampling, equaliser, crossfeed, leveling, and limiter stages.

Examples:
  audiocore play track.flac
  audiocore play --device 0 --auto-rate track.flac
  audiocore play --bit-perfect dsdtrack.dsf
  audiocore play --gapless --crossfade-ms 300 track.flac`,
	Args: cobra.ExactArgs(1),
	Run:  runPlay,
}

func init() {
	rootCmd.AddCommand(playCmd)

	playCmd.Flags().IntVarP(&playDeviceIdx, "device", "d", -1, "Output device index (-1 = default)")
	playCmd.Flags().IntVarP(&playFrames, "frames", "f", 512, "Audio frames per buffer")
	playCmd.Flags().BoolVar(&playDop, "dop", false, "Prefer DSD-over-PCM passthrough for .dsf/.dff")
	playCmd.Flags().BoolVar(&playAutoRate, "auto-rate", false, "Auto-select output rate for lossless sources")
	playCmd.Flags().BoolVar(&playBitPerfect, "bit-perfect", false, "Bit-perfect mode (bypass EQ/crossfeed/HRTF/leveling)")
	playCmd.Flags().BoolVar(&playGapless, "gapless", true, "Enable gapless next-track preload")
	playCmd.Flags().IntVar(&playCrossfadeMs, "crossfade-ms", 0, "Crossfade duration in milliseconds (0 disables)")
	playCmd.Flags().StringVar(&playUpsampleMode, "upsample", "none", "Upsample mode: none|double|quadruple|power-of-2|max|dsd256|fixed")
	playCmd.Flags().IntVar(&playMaxDacRateHz, "max-dac-rate", 0, "Ceiling rate for upsampling, Hz (0 = no ceiling set: all modes except dsd256 keep the source rate)")
	playCmd.Flags().Float32Var(&playVolume, "volume", 1.0, "Initial volume, 0.0-1.0")
	playCmd.Flags().BoolVar(&playLevelingOn, "leveling", false, "Enable ReplayGain/R128 loudness leveling")
	playCmd.Flags().Float64Var(&playLevelingTarget, "leveling-target-lufs", -18.0, "Leveling target loudness, LUFS")
	playCmd.Flags().BoolVar(&playCrossfeedOn, "crossfeed", false, "Enable headphone crossfeed")
	playCmd.Flags().StringVar(&playCrossfeedLevel, "crossfeed-preset", "light", "Crossfeed preset: light|medium|strong")
}

func parseUpsampleMode(s string) upsampler.Mode {
	switch s {
	case "double":
		return upsampler.Double
	case "quadruple":
		return upsampler.Quadruple
	case "power-of-2":
		return upsampler.PowerOf2
	case "max":
		return upsampler.MaxRate
	case "dsd256":
		return upsampler.Dsd256Rate
	case "fixed":
		return upsampler.Fixed
	default:
		return upsampler.None
	}
}

func parseCrossfeedPreset(s string) spatial.CrossfeedPreset {
	switch s {
	case "strong":
		return spatial.CrossfeedStrong
	case "medium":
		return spatial.CrossfeedMedium
	default:
		return spatial.CrossfeedLight
	}
}

func runPlay(cmd *cobra.Command, args []string) {
	setupLogging(verbose)
	filePath := args[0]

	if _, err := os.Stat(filePath); os.IsNotExist(err) {
		slog.Error("file not found", "path", filePath)
		os.Exit(1)
	}

	devices := devicemanager.New()
	devices.Start()
	defer devices.Stop()

	settings := engine.Settings{
		DeviceIndex:     playDeviceIdx,
		FramesPerBuffer: playFrames,
		PreferDoP:       playDop,
		AutoSampleRate:  playAutoRate,
		BitPerfectMode:  playBitPerfect,
		GaplessEnabled:  playGapless,
		CrossfadeMs:     playCrossfadeMs,
		EqMode:          biquad.MinimumPhase,
		UpsamplerSettings: upsampler.Settings{
			Mode:         parseUpsampleMode(playUpsampleMode),
			MaxDacRateHz: playMaxDacRateHz,
		},
		LevelingEnabled:    playLevelingOn,
		LevelingTargetLUFS: playLevelingTarget,
		LevelingMode:       gain.LevelingTrack,
		CrossfeedEnabled:   playCrossfeedOn,
		CrossfeedPreset:    parseCrossfeedPreset(playCrossfeedLevel),
		HeadroomMode:       gain.HeadroomAuto,
		Volume:             playVolume,
	}

	eng := engine.New(settings, devices)
	defer eng.Close()

	slog.Info("loading file", "path", filePath)
	if err := eng.Load(filePath); err != nil {
		slog.Error("failed to load file", "error", err)
		os.Exit(1)
	}

	eng.StartPolling()
	defer eng.StopPolling()

	if err := eng.Play(); err != nil {
		slog.Error("failed to start playback", "error", err)
		os.Exit(1)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	for {
		select {
		case ev := <-eng.Events():
			switch ev.Kind {
			case engine.EventDurationChanged:
				slog.Info("duration", "seconds", ev.DurationSecs)
			case engine.EventSignalPathChanged:
				slog.Info("signal path changed", "path", ev.FilePath)
			case engine.EventGaplessTransitionOccurred:
				slog.Info("gapless transition", "path", ev.FilePath)
			case engine.EventPlaybackFinished:
				slog.Info("playback finished")
				return
			}
		case sig := <-sigChan:
			slog.Info("signal received, stopping", "signal", sig)
			if err := eng.Stop(); err != nil {
				slog.Error("failed to stop", "error", err)
			}
			return
		}
	}
}

func setupLogging(verbose bool) {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}
