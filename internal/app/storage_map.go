package app

import (
	"strings"

	"weatherbot/internal/config"
	"weatherbot/internal/storage"
)

func mapStorageConfig(cfg *config.Config) storage.Config {
	sc := cfg.Storage
	return storage.Config{
		Driver:      strings.ToLower(strings.TrimSpace(sc.Driver)),
		Path:        strings.TrimSpace(sc.Path),
		DSN:         strings.TrimSpace(sc.DSN),
		BusyTimeout: config.DurationOr(sc.BusyTimeout, 0),
		MaxConns:    sc.MaxConns,
		AutoMigrate: sc.AutoMigrate,
	}
}
