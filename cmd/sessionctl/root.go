package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/joeshaw/envdecode"
	"github.com/spf13/cobra"

	"github.com/ggoodman/idp-sessions-go/internal/logctx"
)

// cliConfig holds process-wide settings. Flags override the environment.
type cliConfig struct {
	// Backend is one of memory, redis or postgres. ENV: IDP_STORAGE_BACKEND
	Backend string `env:"IDP_STORAGE_BACKEND,default=redis"`
	// ENV: IDP_LOG_FORMAT (text|json)
	LogFormat string `env:"IDP_LOG_FORMAT,default=text"`
	// ENV: IDP_LOG_LEVEL
	LogLevel string `env:"IDP_LOG_LEVEL,default=info"`
	// MetricsAddr is where serve exposes /metrics. ENV: IDP_METRICS_ADDR
	MetricsAddr string `env:"IDP_METRICS_ADDR,default=:9090"`
	// MemoryMaxItems bounds the in-process backend. ENV: IDP_MEMORY_MAX_ITEMS
	MemoryMaxItems int `env:"IDP_MEMORY_MAX_ITEMS,default=10000"`
	// EventsRedisAddr enables forwarding events to a Redis stream when the
	// storage backend is not Redis. ENV: IDP_EVENTS_REDIS_ADDR
	EventsRedisAddr string `env:"IDP_EVENTS_REDIS_ADDR"`
}

var rootCmd = &cobra.Command{
	Use:   "sessionctl",
	Short: "Inspect and operate identity-provider sessions",
	Long: `sessionctl creates, looks up, touches and destroys sessions in the configured
storage backend, watches the login/logout event stream, and runs a long-lived
sweeper that expires sessions and exports Prometheus metrics.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		ctx := logctx.WithRequestData(cmd.Context(), &logctx.RequestData{
			RequestID: uuid.NewString(),
			Command:   cmd.Name(),
		})
		cmd.SetContext(ctx)
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	// Persistent flags (available to all commands)
	rootCmd.PersistentFlags().String("backend", "", "Storage backend: memory, redis or postgres (overrides IDP_STORAGE_BACKEND)")
	rootCmd.PersistentFlags().String("log-format", "", "Log format: text or json (overrides IDP_LOG_FORMAT)")
	rootCmd.PersistentFlags().String("log-level", "", "Log level (overrides IDP_LOG_LEVEL)")
}

func loadConfig(cmd *cobra.Command) (cliConfig, error) {
	var cfg cliConfig
	if err := envdecode.Decode(&cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return cliConfig{}, fmt.Errorf("decode cli config: %w", err)
	}
	if v, _ := cmd.Flags().GetString("backend"); v != "" {
		cfg.Backend = v
	}
	if v, _ := cmd.Flags().GetString("log-format"); v != "" {
		cfg.LogFormat = v
	}
	if v, _ := cmd.Flags().GetString("log-level"); v != "" {
		cfg.LogLevel = v
	}
	return cfg, nil
}
