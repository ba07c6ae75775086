package storage

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"weatherbot/internal/subscriber"
	logx "weatherbot/pkg/logx"
)

//go:embed migrations/postgres/*.sql
var postgresMigrations embed.FS

type postgresStore struct {
	pool *pgxpool.Pool
	log  logx.Logger
}

func openPostgres(ctx context.Context, cfg Config, log logx.Logger) (subscriber.Store, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("storage.dsn is required for postgres driver")
	}
	if cfg.AutoMigrate {
		if err := Migrate(dsn, "up", log); err != nil {
			return nil, err
		}
	}

	pcfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		pcfg.MaxConns = cfg.MaxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, fmt.Errorf("db connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("db ping: %w", err)
	}
	log.Info("postgres storage opened", logx.Int("max_conns", int(pcfg.MaxConns)))
	return &postgresStore{pool: pool, log: log}, nil
}

// Migrate applies ("up"), rolls back ("down") or reports ("version") the
// postgres schema.
func Migrate(dsn, command string, log logx.Logger) error {
	switch command {
	case "up", "down", "version":
	default:
		return fmt.Errorf("unknown migrate command: %s (use: up, down, version)", command)
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	sub, err := fs.Sub(postgresMigrations, "migrations/postgres")
	if err != nil {
		return err
	}
	src, err := iofs.New(sub, ".")
	if err != nil {
		return fmt.Errorf("migration source: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, dsn)
	if err != nil {
		return fmt.Errorf("migrate init: %w", err)
	}
	defer m.Close()
	m.Log = migrateLogger{log: log}

	switch command {
	case "up":
		if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			return fmt.Errorf("migrate up: %w", err)
		}
	case "down":
		if err := m.Down(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			return fmt.Errorf("migrate down: %w", err)
		}
		log.Info("all migrations rolled back")
		return nil
	}
	ver, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return fmt.Errorf("migrate version: %w", err)
	}
	log.Info("schema version", logx.Uint64("version", uint64(ver)), logx.Bool("dirty", dirty))
	return nil
}

type migrateLogger struct{ log logx.Logger }

func (l migrateLogger) Printf(format string, v ...any) {
	l.log.Debug(strings.TrimSpace(fmt.Sprintf(format, v...)))
}

func (l migrateLogger) Verbose() bool { return false }

func (s *postgresStore) Close() error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}

const pgColumns = `id, external_id, is_subscribed, preferred_location, created_at, updated_at`

func scanPG(r pgx.Row) (subscriber.Subscriber, error) {
	var rec subscriber.Subscriber
	err := r.Scan(&rec.ID, &rec.ExternalID, &rec.IsSubscribed, &rec.PreferredLocation, &rec.CreatedAt, &rec.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return subscriber.Subscriber{}, subscriber.ErrNotFound
	}
	return rec, err
}

func (s *postgresStore) Find(ctx context.Context, externalID int64) (subscriber.Subscriber, error) {
	return scanPG(s.pool.QueryRow(ctx, `SELECT `+pgColumns+` FROM subscribers WHERE external_id = $1`, externalID))
}

// Subscribe uses the same flip / insert-on-conflict / flip sequence as the
// sqlite driver so each statement stays atomic on its own.
func (s *postgresStore) Subscribe(ctx context.Context, externalID int64) (subscriber.Subscriber, subscriber.Change, error) {
	flip := func() (subscriber.Subscriber, bool, error) {
		rec, err := scanPG(s.pool.QueryRow(ctx,
			`UPDATE subscribers SET is_subscribed = TRUE, updated_at = now()
			 WHERE external_id = $1 AND NOT is_subscribed RETURNING `+pgColumns, externalID))
		if errors.Is(err, subscriber.ErrNotFound) {
			return subscriber.Subscriber{}, false, nil
		}
		return rec, err == nil, err
	}

	if rec, ok, err := flip(); err != nil || ok {
		return rec, subscriber.ChangeUpdated, err
	}
	rec, err := scanPG(s.pool.QueryRow(ctx,
		`INSERT INTO subscribers(external_id) VALUES($1)
		 ON CONFLICT (external_id) DO NOTHING RETURNING `+pgColumns, externalID))
	if err == nil {
		return rec, subscriber.ChangeCreated, nil
	}
	if !errors.Is(err, subscriber.ErrNotFound) {
		return subscriber.Subscriber{}, subscriber.ChangeNone, err
	}
	if rec, ok, err := flip(); err != nil || ok {
		return rec, subscriber.ChangeUpdated, err
	}
	rec, err = s.Find(ctx, externalID)
	return rec, subscriber.ChangeNone, err
}

func (s *postgresStore) Unsubscribe(ctx context.Context, externalID int64) (subscriber.Subscriber, subscriber.Change, error) {
	rec, err := scanPG(s.pool.QueryRow(ctx,
		`UPDATE subscribers SET is_subscribed = FALSE, updated_at = now()
		 WHERE external_id = $1 AND is_subscribed RETURNING `+pgColumns, externalID))
	if err == nil {
		return rec, subscriber.ChangeUpdated, nil
	}
	if !errors.Is(err, subscriber.ErrNotFound) {
		return subscriber.Subscriber{}, subscriber.ChangeNone, err
	}
	rec, err = s.Find(ctx, externalID)
	return rec, subscriber.ChangeNone, err
}

func (s *postgresStore) SetLocation(ctx context.Context, externalID int64, location string) (subscriber.Subscriber, error) {
	return scanPG(s.pool.QueryRow(ctx,
		`UPDATE subscribers SET preferred_location = $2, updated_at = now()
		 WHERE external_id = $1 RETURNING `+pgColumns, externalID, location))
}

func (s *postgresStore) ListEligible(ctx context.Context, afterID int64, limit int) ([]subscriber.Subscriber, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+pgColumns+` FROM subscribers
		 WHERE id > $1 AND is_subscribed AND preferred_location <> ''
		 ORDER BY id LIMIT $2`, afterID, limit)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(r pgx.CollectableRow) (subscriber.Subscriber, error) {
		return scanPG(r)
	})
}
