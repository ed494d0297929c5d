package cli

import (
	"os"
	"os/signal"
	"sort"
	"syscall"

	"github.com/spf13/cobra"

	"candle-quiz/internal/api"
)

func newServeCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the quiz session over HTTP",
		Long: `Start the HTTP API.

Endpoints:
  POST /api/session/start   start or resume a session
  GET  /api/session/next    serve the next item
  GET  /api/session/stats   session and telemetry counters
  POST /api/session/reset   discard the session
  GET  /api/notifications   active notices
  GET  /healthz             liveness
  GET  /metrics             Prometheus metrics`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			ctrl, err := app.controller(ctx)
			if err != nil {
				return err
			}

			cfg := api.ServerConfig{
				Addr:         app.Config.Server.Addr,
				ReadTimeout:  app.Config.Server.ReadTimeout,
				WriteTimeout: app.Config.Server.WriteTimeout,
			}
			if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
				cfg.Addr = addr
			}

			handler := api.NewHandler(ctrl, app.Feed, app.Registry, app.Logger)
			handler.SetEventHub(app.Events)
			if app.Breaker != nil {
				handler.SetBreaker(app.Breaker)
			}
			server := api.NewServer(handler, cfg, app.Logger)

			output := NewOutput(cmd)
			if !output.IsJSON() {
				output.Info("Listening on %s (Ctrl+C to stop)", cfg.Addr)
			}

			err = server.Run(ctx)
			ctrl.WaitBatch()
			return err
		},
	}
	cmd.Flags().String("addr", "", "listen address (default from config)")
	return cmd
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
