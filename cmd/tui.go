package cmd

import (
	"io"
	"log/slog"

	"github.com/audiolibrelab/jamdeck/internal/service"
	"github.com/audiolibrelab/jamdeck/internal/ui"

	"github.com/spf13/cobra"
)

var tuiCmd = &cobra.Command{
	Use:   "tui [take-name]",
	Short: "Control recording and playback from the terminal",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		take := "take"
		if len(args) == 1 {
			take = args[0]
		}

		// slog would draw over the alternate screen
		slog.SetDefault(slog.New(slog.NewTextHandler(io.Discard, nil)))

		svc := service.NewWithDevices(cfg, cfgFile, captureLogWriter(), service.Devices{})
		defer svc.Close()

		events, cancel := svc.Subscribe()
		defer cancel()

		return ui.Run(svc, events, take)
	},
}
