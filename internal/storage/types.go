package storage

import (
	"errors"
	"time"
)

var ErrClosed = errors.New("storage closed")

// Config configures storage.
type Config struct {
	Driver string
	// Path is the database or journal file for the sqlite and file drivers.
	Path string
	// DSN is the postgres connection string.
	DSN         string
	BusyTimeout time.Duration // sqlite only; 0 means default
	MaxConns    int32         // postgres pool size; 0 means pgx default
	// AutoMigrate applies pending postgres migrations on Open.
	AutoMigrate bool
}
