package main

import (
	"errors"
	"strings"

	"github.com/spf13/cobra"

	"weatherbot/internal/config"
	"weatherbot/internal/storage"
	logx "weatherbot/pkg/logx"
)

var migrateCmd = &cobra.Command{
	Use:       "migrate up|down|version",
	Short:     "Manage the postgres schema",
	Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	ValidArgs: []string{"up", "down", "version"},
	RunE: func(cmd *cobra.Command, args []string) error {
		// Only storage settings matter here, so skip full validation.
		cfg, err := config.NewManager(cfgPath).Parse()
		if err != nil {
			return err
		}
		dsn := strings.TrimSpace(cfg.Storage.DSN)
		if dsn == "" {
			return errors.New("storage.dsn (or DATABASE_URL) is required for migrations")
		}
		return storage.Migrate(dsn, args[0], logx.NewConsole(cfg.Logging.Level))
	},
}
