package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/AnnixInvestments/annix-sub033/internal/device"
	"github.com/AnnixInvestments/annix-sub033/internal/device/portaudio"
)

func newDevicesCmd(deps *cliDeps) *cobra.Command {
	return &cobra.Command{
		Use:   "devices",
		Short: "List host audio devices and the configured virtual cable",
		RunE: func(cmd *cobra.Command, args []string) error {
			backend, err := portaudio.Open()
			if err != nil {
				return fmt.Errorf("failed to initialize audio backend: %w", err)
			}
			defer backend.Close()

			devices, err := backend.Devices()
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tIN\tOUT\tRATE\tHOST API")
			for _, d := range devices {
				name := d.Name
				if d.IsDefaultInput || d.IsDefaultOutput {
					name += " *"
				}
				fmt.Fprintf(w, "%d\t%s\t%d\t%d\t%.0f\t%s\n",
					d.ID, name, d.MaxInputChannels, d.MaxOutputChannels, d.DefaultSampleRate, d.HostAPIName)
			}
			if err := w.Flush(); err != nil {
				return err
			}

			if cable := deps.config.Device.VirtualCableName; cable != "" {
				if c := device.FindVirtualCable(devices, cable); c != nil {
					fmt.Printf("\nVirtual cable %q: device %d (%s)\n", cable, c.ID, c.Name)
				} else {
					fmt.Printf("\nVirtual cable %q: not found\n", cable)
				}
			}
			return nil
		},
	}
}
