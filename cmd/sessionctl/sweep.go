package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ggoodman/idp-sessions-go/storage"
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Expire idle sessions once and exit",
	Long: `sweep asks the storage backend for expired entries. Each expired session is
destroyed and a logout event is published before the command exits.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		rt, err := openRuntime(ctx, cfg, runtimeOptions{})
		if err != nil {
			return err
		}
		defer rt.Close(ctx)

		sw, ok := rt.store.(storage.Sweeper)
		if !ok {
			return fmt.Errorf("backend %s does not support sweeping", cfg.Backend)
		}
		return sw.Sweep(ctx)
	},
}

func init() {
	rootCmd.AddCommand(sweepCmd)
}
