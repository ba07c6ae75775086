// Command weatherbot runs the weather subscription bot.
//
// Usage:
//
//	weatherbot serve -c config.json          # webhook + HTTP API + scheduled broadcast
//	weatherbot webhook register -c ...       # point Telegram at telegram.webhook_url
//	weatherbot broadcast -c ...              # one broadcast now, prints the report
//	weatherbot migrate up|down|version -c .. # postgres schema
package main

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
)

var cfgPath string

var rootCmd = &cobra.Command{
	Use:          "weatherbot",
	Short:        "Telegram bot that sends subscribers their daily weather",
	SilenceUsage: true,
	Version:      version + " (" + commit + ")",
	RunE:         runServe,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "./config.json", "path to config file (json or yaml)")
	rootCmd.AddCommand(serveCmd, webhookCmd, broadcastCmd, migrateCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		// Cobra already printed the error.
		os.Exit(1)
	}
}
