package main

import (
	"context"
	"encoding/json"
	"errors"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ggoodman/idp-sessions-go/events/redisstream"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Print login and logout events as they are published",
	Long: `watch follows the Redis event stream and prints one JSON record per line.
It needs either the redis backend or IDP_EVENTS_REDIS_ADDR.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		from, _ := cmd.Flags().GetString("from")

		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		rt, err := openRuntime(ctx, cfg, runtimeOptions{})
		if err != nil {
			return err
		}
		defer rt.Close(ctx)
		if rt.fwd == nil {
			return errors.New("watch requires the redis backend or IDP_EVENTS_REDIS_ADDR")
		}

		enc := json.NewEncoder(cmd.OutOrStdout())
		err = rt.fwd.Subscribe(ctx, from, func(_ context.Context, rec redisstream.Record) error {
			return enc.Encode(rec)
		})
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	},
}

func init() {
	rootCmd.AddCommand(watchCmd)
	watchCmd.Flags().String("from", "", "Stream entry ID to resume after (default: only new events)")
}
