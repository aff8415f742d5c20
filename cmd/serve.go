package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/joan6141318-ai/Moon-sub000/internal/app"
	"github.com/joan6141318-ai/Moon-sub000/metrics"
	"github.com/joan6141318-ai/Moon-sub000/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve voice sessions to browser widgets",
	Long: `Start the HTTP server. Widgets connect to /voice over a websocket;
/healthz, /status and the metrics endpoint are available for monitoring.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
			cfg.Server.Addr = addr
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		svc, err := app.New(ctx, cfg, version)
		if err != nil {
			return err
		}
		defer svc.Shutdown()

		if cfg.Log.Level != "debug" {
			gin.SetMode(gin.ReleaseMode)
		}

		var m *metrics.Metrics
		if cfg.Metrics.Enabled {
			m = svc.Metrics()
		}
		srv := server.New(cfg.Server, svc, m, cfg.Metrics.Path)
		if err := srv.Run(ctx); err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	},
}

func init() {
	serveCmd.Flags().String("addr", "", "listen address (overrides config)")
}
