package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/audiolibrelab/jamdeck/internal/service"

	"github.com/spf13/cobra"
)

var recordCmd = &cobra.Command{
	Use:   "record [song-name]",
	Short: "Record a take from the configured capture device",
	Long: `Record 16-bit PCM from the sound server into <directory>/<name>.pcm.
Press Ctrl+C to stop. The take is wrapped into a WAV file unless
record.auto_encode is false. With -p, the remaining pipeline steps run
after the recording stops.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		songName := args[0]
		slog.Info("Record command started", "song_name", songName)

		if dir, _ := cmd.Flags().GetString("output"); dir != "" {
			cfg.Record.Directory = dir
		}

		svc := service.NewWithDevices(cfg, cfgFile, captureLogWriter(), service.Devices{})
		defer svc.Close()

		// Ctrl+C stops the take; the pipeline keeps the default handler
		// so a second Ctrl+C aborts it
		stopCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if err := svc.StartRecording(stopCtx, songName); err != nil {
			return fmt.Errorf("failed to start recording: %w", err)
		}
		slog.Info("Recording... Press Ctrl+C to stop", "directory", cfg.Record.Directory)

		if err := svc.WaitRecording(stopCtx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		stop()

		slog.Info("Stopping recording...")
		if err := svc.StopRecording(context.Background()); err != nil {
			return fmt.Errorf("failed to stop recording: %w", err)
		}
		if msg := svc.GetLastError(); msg != "" {
			slog.Warn("Recording ended with an error", "error", msg)
		}

		info, err := svc.GetTakeInfo(songName)
		if err == nil {
			printTakeInfo(info)
		}

		pipeCtx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()
		return executePipeline(pipeCtx, svc, songName, 'r')
	},
}

func printTakeInfo(info *service.TakeInfo) {
	fmt.Printf("raw: %s (exists: %t)\n", info.RawPath, info.RawExists)
	fmt.Printf("wav: %s (exists: %t)\n", info.WavPath, info.WavExists)
	if info.Duration != "" {
		fmt.Printf("duration: %s\n", info.Duration)
	}
}

func init() {
	recordCmd.Flags().StringP("output", "o", "", "output directory (overrides config)")
}
