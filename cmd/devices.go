package cmd

import (
	"fmt"

	"github.com/audiolibrelab/jamdeck/internal/audio"

	"github.com/spf13/cobra"
)

var devicesCmd = &cobra.Command{
	Use:     "devices",
	Aliases: []string{"sources"},
	Short:   "List the sound server's sinks and sources",
	Long: `List the PulseAudio (or PipeWire-Pulse) sinks and sources. Use a source
name, or a sink name with ".monitor" appended, as audio.device.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		devices, err := audio.ListDevices()
		if err != nil {
			// pw-record targets can still be listed without a Pulse server
			if ports, pwErr := audio.ListPipeWirePorts(); pwErr == nil {
				printPipeWirePorts(ports)
				return nil
			}
			return fmt.Errorf("failed to list devices: %w", err)
		}

		for _, kind := range []audio.DeviceKind{audio.DeviceInput, audio.DeviceOutput} {
			var matching []audio.Device
			for _, d := range devices {
				if d.Kind == kind {
					matching = append(matching, d)
				}
			}

			fmt.Printf("%s devices (%d found):\n", kind, len(matching))
			for i, d := range matching {
				marker := ""
				if d.Default {
					marker = " (default)"
				}
				fmt.Printf("  %d. %s%s\n     %s\n", i+1, d.Name, marker, d.Description)
			}
			fmt.Println()
		}

		if ports, err := audio.ListPipeWirePorts(); err == nil {
			printPipeWirePorts(ports)
		}
		return nil
	},
}

func printPipeWirePorts(ports []string) {
	fmt.Printf("PipeWire output ports (%d found):\n", len(ports))
	for i, port := range ports {
		fmt.Printf("  %d. %s\n", i+1, port)
	}
	fmt.Printf("\nWith backend pipewire, set audio.device to the node name before the ':'\n")
}
