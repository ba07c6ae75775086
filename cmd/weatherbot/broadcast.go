package main

import (
	"encoding/json"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"weatherbot/internal/app"
)

var broadcastCmd = &cobra.Command{
	Use:   "broadcast",
	Short: "Send the weather to every eligible subscriber once",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		cfg, err := app.LoadConfig(ctx, cfgPath)
		if err != nil {
			return err
		}
		rep, runErr := app.RunBroadcastOnce(ctx, cfg)
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		if err := enc.Encode(rep); err != nil {
			return err
		}
		return runErr
	},
}
