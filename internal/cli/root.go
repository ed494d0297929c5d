package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"candle-quiz/internal/agents"
	"candle-quiz/internal/config"
	"candle-quiz/internal/logging"
	"candle-quiz/internal/notify"
	"candle-quiz/internal/resilience"
	"candle-quiz/internal/session"
	"candle-quiz/internal/store"
	"candle-quiz/internal/stream"
	"candle-quiz/internal/synth"
	"candle-quiz/internal/telemetry"
	"candle-quiz/internal/validate"
)

// Version information
const (
	Version   = "0.1.0"
	BuildDate = "2026-10-01"
)

// App holds the application dependencies. Fields are filled lazily so
// commands that need no storage never open it.
type App struct {
	ConfigDir string
	Config    *config.Config
	Logger    zerolog.Logger

	Store     store.KV
	Registry  *prometheus.Registry
	Telemetry *telemetry.Recorder
	Feed      *notify.Feed
	Notifier  *notify.MultiNotifier
	Events    *stream.Hub
	Generator *synth.Generator
	Validator *validate.Validator
	External  agents.Generator
	Breaker   *resilience.CircuitBreaker
	Session   *session.Controller
}

// NewRootCmd creates the root command for the CLI.
func NewRootCmd() *cobra.Command {
	app := &App{Logger: zerolog.Nop()}

	rootCmd := &cobra.Command{
		Use:   "quiz",
		Short: "Candle Quiz - candlestick pattern training items",
		Long: `Candle Quiz generates and validates synthetic candlestick quiz items.

Items come from a deterministic local generator and, when an API key is
configured, from an OpenAI-compatible model. Every item is checked for
geometry and cross-checked by an independent pattern detector.

Use 'quiz session start' to begin a session and 'quiz session next' to pull items.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			app.ConfigDir, _ = cmd.Flags().GetString("config")
			cfg, err := config.Load(app.ConfigDir)
			if err != nil {
				return err
			}
			app.Config = cfg
			app.Logger = logging.NewLoggerWithConfig(cfg.Logging)

			if debug, _ := cmd.Flags().GetBool("debug"); debug {
				logging.SetDebugLevel()
				app.Logger = app.Logger.Level(zerolog.DebugLevel)
			}
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return app.Close()
		},
	}

	rootCmd.PersistentFlags().String("config", "", "config directory (default: ~/.config/candle-quiz)")
	rootCmd.PersistentFlags().Bool("json", false, "output in JSON format")
	rootCmd.PersistentFlags().Bool("debug", false, "enable debug logging")

	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newConfigCmd(app))
	rootCmd.AddCommand(newSessionCmd(app))
	rootCmd.AddCommand(newGenerateCmd(app))
	rootCmd.AddCommand(newValidateCmd(app))
	rootCmd.AddCommand(newDetectCmd(app))
	rootCmd.AddCommand(newPatternsCmd())
	rootCmd.AddCommand(newServeCmd(app))

	return rootCmd
}

// skipConfig replaces the root pre-run for commands that need no config.
func skipConfig(cmd *cobra.Command, args []string) error { return nil }

// controller wires the session controller and everything behind it.
func (a *App) controller(ctx context.Context) (*session.Controller, error) {
	if a.Session != nil {
		return a.Session, nil
	}

	kv, err := store.Open(a.Config.StoreOptions(), a.Logger)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}
	a.Store = kv

	a.Registry = prometheus.NewRegistry()
	a.Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.Telemetry = telemetry.NewRecorder(ctx, kv, telemetry.NewMetrics(a.Registry))

	a.Events = stream.NewHub()
	a.Events.Start(ctx)

	a.Feed = notify.NewFeed()
	a.Notifier = notify.NewMultiNotifier(a.Feed, notify.NewLogChannel(a.Logger), a.Events)
	n := a.Config.Notifications
	if n.Terminal {
		term := notify.NewTerminalChannel(os.Stderr)
		term.SetBellEnabled(n.Bell)
		a.Notifier.AddChannel(term)
	}
	if n.Enabled && n.Webhook.Enabled {
		a.Notifier.AddChannel(notify.NewWebhookNotifier(n.Webhook.URL))
	}

	a.Generator = synth.NewGenerator(a.Config.Session.Variants)
	a.Validator = validate.New(a.Logger)

	if a.Config.HasGenerator() {
		llm := agents.NewOpenAIClient(agents.OpenAIOptions{
			APIKey:  a.Config.Credentials.Generator.APIKey,
			Model:   a.Config.Generator.Model,
			BaseURL: a.Config.Generator.BaseURL,
			Timeout: a.Config.Generator.Timeout,
		})
		client := agents.NewGenerationClient(llm, a.Config.RetryConfig(), a.Telemetry, a.Logger)

		bc := a.Config.BreakerConfig()
		bc.OnStateChange = func(name string, from, to resilience.CircuitState) {
			a.Logger.Warn().Str("circuit", name).Str("from", string(from)).Str("to", string(to)).Msg("Circuit state changed")
		}
		a.Breaker = resilience.NewCircuitBreaker("generator", bc)
		a.External = agents.NewGuardedGenerator(client, a.Breaker)
		a.Logger.Debug().Str("model", llm.Model()).Msg("External generator initialized")
	}

	opts := session.DefaultOptions()
	opts.InitialLocal = a.Config.Session.InitialLocal
	opts.BatchSize = a.Config.Session.BatchSize
	opts.BatchTimeout = a.Config.Session.BatchTimeout
	opts.UseLocalOnFail = a.Config.Session.UseLocalOnFail

	deps := session.Deps{
		Store:     kv,
		Generator: a.Generator,
		Validator: a.Validator,
		External:  a.External,
		Telemetry: a.Telemetry,
		Notifier:  a.Notifier,
		Events:    a.Events,
		Logger:    a.Logger,
	}
	a.Session = session.NewController(ctx, deps, opts)
	return a.Session, nil
}

// Close stops the event hub and releases the store.
func (a *App) Close() error {
	if a.Events != nil {
		a.Events.Stop()
	}
	if a.Store == nil {
		return nil
	}
	err := a.Store.Close()
	a.Store = nil
	return err
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:               "version",
		Short:             "Print version information",
		PersistentPreRunE: skipConfig,
		Run: func(cmd *cobra.Command, args []string) {
			output := NewOutput(cmd)
			if output.IsJSON() {
				output.JSON(map[string]string{
					"version":    Version,
					"build_date": BuildDate,
				})
			} else {
				output.Printf("Candle Quiz v%s\n", Version)
				output.Dim("Build date: %s", BuildDate)
			}
		},
	}
}

func newConfigCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management",
		Long:  "View and manage application configuration.",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if output.IsJSON() {
				return output.JSON(app.Config)
			}
			return showConfig(output, app.Config)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show configuration file path",
		Run: func(cmd *cobra.Command, args []string) {
			output := NewOutput(cmd)
			path := config.ConfigPath(app.ConfigDir)
			if output.IsJSON() {
				output.JSON(map[string]string{"path": path})
			} else {
				output.Println(path)
			}
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate configuration files",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if err := app.Config.Validate(); err != nil {
				output.Error("Configuration validation failed: %v", err)
				return err
			}
			if output.IsJSON() {
				output.JSON(map[string]bool{"valid": true})
			} else {
				output.Success("✓ Configuration is valid")
			}
			return nil
		},
	})

	return cmd
}

func showConfig(output *Output, cfg *config.Config) error {
	output.Bold("Session")
	output.Printf("  Difficulty:      %s\n", cfg.Session.Difficulty)
	output.Printf("  Candles:         %d\n", cfg.Session.Candles)
	output.Printf("  Horizon:         %d\n", cfg.Session.Horizon)
	output.Printf("  Local fallback:  %v\n", cfg.Session.UseLocalOnFail)
	output.Printf("  Variants:        %d\n", cfg.Session.Variants)
	output.Printf("  Batch size:      %d\n", cfg.Session.BatchSize)
	output.Println()

	output.Bold("Generator")
	output.Printf("  Enabled:         %v\n", cfg.Generator.Enabled)
	output.Printf("  Model:           %s\n", cfg.Generator.Model)
	if cfg.Generator.BaseURL != "" {
		output.Printf("  Base URL:        %s\n", cfg.Generator.BaseURL)
	}
	output.Printf("  API key:         %v\n", cfg.Credentials.Generator.APIKey != "")
	output.Printf("  Max attempts:    %d\n", cfg.Generator.MaxAttempts)
	output.Println()

	output.Bold("Store")
	output.Printf("  Backend:         %s\n", cfg.Store.Backend)
	switch cfg.Store.Backend {
	case store.BackendRedis:
		output.Printf("  Redis:           %s (db %d)\n", cfg.Store.Redis.Addr, cfg.Store.Redis.DB)
	case store.BackendSQLite:
		output.Printf("  Path:            %s\n", cfg.Store.Path)
	}
	output.Println()

	output.Bold("Server")
	output.Printf("  Address:         %s\n", cfg.Server.Addr)
	output.Printf("  Webhook:         %v\n", cfg.Notifications.Webhook.Enabled)

	return nil
}
