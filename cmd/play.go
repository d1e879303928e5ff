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
	"github.com/audiolibrelab/jamdeck/internal/session"

	"github.com/spf13/cobra"
)

var playCmd = &cobra.Command{
	Use:   "play [directory | files...]",
	Short: "Play a directory or a list of files as a playlist",
	Long: `Play every WAV, MP3 and FLAC file of a directory in name order, or the
given files in order. Without arguments the configured library is played,
starting at the selected file. Runs until the playlist finishes or Ctrl+C.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		svc := service.NewWithDevices(cfg, cfgFile, captureLogWriter(), service.Devices{})
		defer svc.Close()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		lastIndex := -1
		svc.AddObserver(func(snap session.Snapshot) {
			if snap.IsPlaying && snap.CurrentIndex != lastIndex {
				lastIndex = snap.CurrentIndex
				fmt.Printf("Playing %s (%d/%d)\n", snap.Current, snap.CurrentIndex+1, snap.PlaylistLen)
			}
			if snap.Playback == session.PlaybackIdle {
				lastIndex = -1
			}
		})

		var err error
		switch {
		case len(args) == 0:
			err = svc.PlayLibrary(ctx)
		case len(args) == 1 && isDir(args[0]):
			if err = svc.SelectLibraryDirectory(args[0]); err == nil {
				err = svc.PlayLibrary(ctx)
			}
		default:
			err = svc.PlayFiles(ctx, args)
		}
		if err != nil {
			return fmt.Errorf("playback failed: %w", err)
		}

		if err := svc.WaitPlayback(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("playback failed: %w", err)
		}
		slog.Info("Playback finished")
		return nil
	},
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
