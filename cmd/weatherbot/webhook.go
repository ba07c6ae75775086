package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"weatherbot/internal/app"
	logx "weatherbot/pkg/logx"
)

var webhookCmd = &cobra.Command{
	Use:   "webhook",
	Short: "Manage the Telegram webhook registration",
}

var webhookRegisterCmd = &cobra.Command{
	Use:   "register",
	Short: "Register telegram.webhook_url with Telegram",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := app.LoadConfig(cmd.Context(), cfgPath)
		if err != nil {
			return err
		}
		log := logx.NewConsole(cfg.Logging.Level)
		url, err := app.RegisterWebhook(cmd.Context(), cfg, log)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "webhook registered:", url)
		return nil
	},
}

var dropPending bool

var webhookDeleteCmd = &cobra.Command{
	Use:   "delete",
	Short: "Remove the Telegram webhook",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := app.LoadConfig(cmd.Context(), cfgPath)
		if err != nil {
			return err
		}
		if err := app.DeleteWebhook(cmd.Context(), cfg, dropPending, logx.NewConsole(cfg.Logging.Level)); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "webhook removed")
		return nil
	},
}

func init() {
	webhookDeleteCmd.Flags().BoolVar(&dropPending, "drop-pending", false, "discard updates Telegram is still holding")
	webhookCmd.AddCommand(webhookRegisterCmd, webhookDeleteCmd)
}
