package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/audiolibrelab/jamloop/internal/clock"
	"github.com/audiolibrelab/jamloop/internal/server"
	"github.com/audiolibrelab/jamloop/internal/service"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the web server for remote control",
	Long: `Start the JamLoop web server to control the looper over HTTP.
This allows you to arm recordings and edit patterns from your smartphone or
any device on the same network.

The server will display the local network URL for easy access from mobile devices.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		port, _ := cmd.Flags().GetString("port")
		if port == "" {
			port = cfg.Server.Port
		}
		useMIDI, _ := cmd.Flags().GetBool("midi")

		now := clock.Wall()
		svc := service.New(cfg, service.Options{
			ConfigFile: cfgFile,
			Output:     newOutput(now, cfg, useMIDI, cmd.OutOrStdout()),
			Now:        now,
		})
		defer svc.Close()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		slog.Info("JamLoop web server starting", "port", port, "config", cfgFile, "profile", cfg.Profile)

		g, ctx := errgroup.WithContext(ctx)
		g.Go(func() error { return svc.Run(ctx) })
		g.Go(func() error { return server.New(svc, cfgFile, port).Start(ctx) })

		if err := g.Wait(); err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	},
}

func init() {
	serveCmd.Flags().String("port", "", "port for the web server (default from config)")
	serveCmd.Flags().Bool("midi", false, "print triggers as MIDI note messages")
}
