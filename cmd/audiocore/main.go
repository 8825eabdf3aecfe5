// Command audiocore is the CLI front end over the engine package: play a
// file with real-time DSP, list output devices, bounce a file to WAV at a
// target rate, and preview an equaliser's frequency response.
package main

import (
	"os"

	"github.com/spf13/cobra"
)

var verbose bool

var rootCmd = &cobra.Command{
	Use:   "audiocore",
	Short: "Real-time audio playback core",
	Long: `audiocore is a real-time audio playback engine: gapless/crossfade
decoding, an upsampling + EQ + crossfeed/HRTF + leveling render chain, and
a PortAudio output driver with hotplug-aware device management.

Commands:
  play        Play a file with the full render chain
  devices     List output devices
  bounce      Render a file to WAV at a target sample rate (offline)
  eq-preview  Print an equaliser's sampled frequency response`,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output (debug logging)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
