package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/audiolibrelab/jamdeck/internal/config"
	"github.com/audiolibrelab/jamdeck/internal/interrupt"
	"github.com/audiolibrelab/jamdeck/internal/metrics"
	"github.com/audiolibrelab/jamdeck/internal/notify"
	"github.com/audiolibrelab/jamdeck/internal/server"
	"github.com/audiolibrelab/jamdeck/internal/service"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the web server for remote control",
	Long: `Start the JamDeck web server to control recording and playback via HTTP.
This allows you to control the deck from your smartphone or any device on the same network.

State changes are streamed on /api/events (WebSocket) and Prometheus metrics
are served on /metrics. Other applications' audio streams are watched and
applied as interruptions, and the config file is reloaded when it changes.`,
	Aliases: []string{"server"},
	RunE: func(cmd *cobra.Command, args []string) error {
		if port, _ := cmd.Flags().GetInt("port"); port > 0 {
			cfg.Server.Port = port
		}
		if cmd.Flags().Changed("advertise") {
			advertise, _ := cmd.Flags().GetBool("advertise")
			cfg.Server.Advertise = &advertise
		}

		svc := service.NewWithDevices(cfg, cfgFile, captureLogWriter(), service.Devices{})
		defer svc.Close()

		m := metrics.New()
		svc.AddObserver(m.Observe)
		svc.OnEncode(m.ObserveEncode)

		activity := notify.NewActivity(notify.NewDesktopNotifier(), func() bool {
			return svc.GetConfig().Notify.Enabled()
		})
		svc.AddObserver(activity.Observe)

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		g, ctx := errgroup.WithContext(ctx)

		srv := server.New(svc, m, cfgFile, cfg.Server)
		g.Go(func() error {
			return srv.Run(ctx)
		})

		if cfg.Server.ShouldWatchDevices() {
			probe, err := interrupt.NewPulseProbe()
			if err != nil {
				slog.Warn("Device watcher disabled", "error", err)
			} else {
				watcher := interrupt.NewWatcher(probe, svc, 0)
				g.Go(func() error {
					return watcher.Run(ctx)
				})
			}
		}

		if _, err := os.Stat(cfgFile); err == nil {
			g.Go(func() error {
				err := config.Watch(ctx, cfgFile, profile, svc.ApplyConfig)
				if err != nil {
					slog.Warn("Config watcher stopped", "error", err)
				}
				return nil
			})
		}

		if cfg.Server.ShouldAdvertise() {
			shutdown, err := server.Advertise(cfg.Server.ServiceName, cfg.Server.Port)
			if err != nil {
				slog.Warn("mDNS advertisement disabled", "error", err)
			} else {
				defer shutdown()
			}
		}

		slog.Info("JamDeck web server starting", "port", cfg.Server.Port, "config", cfgFile, "profile", cfg.Profile)

		if err := g.Wait(); err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	},
}

func init() {
	serveCmd.Flags().Int("port", 0, "port for the web server (overrides config)")
	serveCmd.Flags().Bool("advertise", false, "advertise the server over mDNS (overrides config)")
}
