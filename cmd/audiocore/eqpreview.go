package main

import (
	"fmt"

	"github.com/hifiplayer/audiocore/pkg/dsp/biquad"

	"github.com/spf13/cobra"
)

var (
	eqPreviewFreq   float64
	eqPreviewGain   float64
	eqPreviewQ      float64
	eqPreviewPreamp float64
)

var eqPreviewCmd = &cobra.Command{
	Use:   "eq-preview",
	Short: "Print a single peaking band's sampled frequency response",
	Long: `eq-preview builds an Equaliser with one peaking band and prints its
magnitude response in dB across a standard set of frequencies, useful for
sanity-checking a band's shape before saving it to a track's EQ profile.`,
	Run: runEqPreview,
}

func init() {
	rootCmd.AddCommand(eqPreviewCmd)

	eqPreviewCmd.Flags().Float64Var(&eqPreviewFreq, "freq", 1000, "Band center frequency, Hz")
	eqPreviewCmd.Flags().Float64Var(&eqPreviewGain, "gain", 0, "Band gain, dB")
	eqPreviewCmd.Flags().Float64Var(&eqPreviewQ, "q", 1.0, "Band Q")
	eqPreviewCmd.Flags().Float64Var(&eqPreviewPreamp, "preamp", 0, "Preamp, dB")
}

var previewFrequencies = []float64{31, 62, 125, 250, 500, 1000, 2000, 4000, 8000, 16000}

func runEqPreview(cmd *cobra.Command, args []string) {
	setupLogging(verbose)

	eq := biquad.NewEqualiser(44100, 2, biquad.MinimumPhase)
	eq.BeginBatchUpdate()
	eq.SetBands([]biquad.EqBand{
		{Type: biquad.Peaking, FreqHz: eqPreviewFreq, GainDB: eqPreviewGain, Q: eqPreviewQ, Enabled: true},
	})
	eq.SetPreampDB(eqPreviewPreamp)
	eq.EndBatchUpdate()

	response := eq.FrequencyResponse(previewFrequencies)
	for i, f := range previewFrequencies {
		fmt.Printf("%8.0f Hz: %+6.2f dB\n", f, response[i])
	}
}
