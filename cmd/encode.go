package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/audiolibrelab/jamdeck/internal/service"

	"github.com/spf13/cobra"
)

var encodeCmd = &cobra.Command{
	Use:   "encode [song-name]",
	Short: "Wrap a raw take into a WAV file",
	Long: `Encode <directory>/<name>.pcm into <directory>/<name>.wav using the
configured audio format. With -p, the steps after 'e' run afterwards.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		songName := args[0]

		svc := service.NewWithDevices(cfg, cfgFile, captureLogWriter(), service.Devices{})
		defer svc.Close()

		info, err := svc.Encode(songName)
		if err != nil {
			return fmt.Errorf("encode failed: %w", err)
		}
		printTakeInfo(info)

		if pipeline == "" {
			return nil
		}
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return executePipeline(ctx, svc, songName, 'e')
	},
}
