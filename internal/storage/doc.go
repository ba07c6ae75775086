// Package storage provides the subscriber.Store drivers.
//
// Drivers:
//   - "sqlite": modernc.org/sqlite file database (default)
//   - "postgres": pgx connection pool, schema managed by golang-migrate
//   - "file": dependency-free JSON Lines journal plus compacted snapshot
//   - "memory": process-local map, lost on exit
package storage
