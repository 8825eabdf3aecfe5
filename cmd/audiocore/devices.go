package main

import (
	"fmt"

	"github.com/hifiplayer/audiocore/pkg/devicemanager"

	"github.com/spf13/cobra"
)

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List output devices",
	Run:   runDevices,
}

func init() {
	rootCmd.AddCommand(devicesCmd)
}

func runDevices(cmd *cobra.Command, args []string) {
	setupLogging(verbose)

	devices := devicemanager.New()
	devices.Start()
	defer devices.Stop()

	def := devices.DefaultDevice()
	for _, d := range devices.Devices() {
		marker := " "
		if d.ID == def {
			marker = "*"
		}
		fmt.Printf("%s [%d] %s (%s) - %d ch, %.0f Hz default\n",
			marker, d.ID, d.Name, d.UID, d.MaxOutputChannels, d.DefaultSampleRate)
	}
}
