package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"weatherbot/internal/subscriber"
	logx "weatherbot/pkg/logx"
)

//go:embed migrations.sql
var sqliteSchema string

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(ctx context.Context, cfg Config, log logx.Logger) (subscriber.Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// One connection serializes writers and keeps ":memory:" a single database.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	pragmas := []string{
		fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()),
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			log.Debug("sqlite pragma failed", logx.String("pragma", p), logx.Err(err))
		}
	}

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}
	log.Info("sqlite storage opened", logx.String("path", path))
	return &sqliteStore{db: db, log: log}, nil
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

const sqliteColumns = `id, external_id, is_subscribed, preferred_location, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLite(r rowScanner) (subscriber.Subscriber, error) {
	var (
		rec              subscriber.Subscriber
		subscribed       int
		created, updated int64
	)
	if err := r.Scan(&rec.ID, &rec.ExternalID, &subscribed, &rec.PreferredLocation, &created, &updated); err != nil {
		return subscriber.Subscriber{}, err
	}
	rec.IsSubscribed = subscribed != 0
	rec.CreatedAt = time.UnixMilli(created).UTC()
	rec.UpdatedAt = time.UnixMilli(updated).UTC()
	return rec, nil
}

func (s *sqliteStore) Find(ctx context.Context, externalID int64) (subscriber.Subscriber, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sqliteColumns+` FROM subscribers WHERE external_id = ?`, externalID)
	rec, err := scanSQLite(row)
	if errors.Is(err, sql.ErrNoRows) {
		return subscriber.Subscriber{}, subscriber.ErrNotFound
	}
	return rec, err
}

// Subscribe flips an existing unsubscribed row first, then tries to insert.
// The unique index on external_id turns a racing insert into a no-op, and the
// second update catches a row created and unsubscribed in between.
func (s *sqliteStore) Subscribe(ctx context.Context, externalID int64) (subscriber.Subscriber, subscriber.Change, error) {
	now := time.Now().UTC().UnixMilli()
	flip := func() (bool, error) {
		res, err := s.db.ExecContext(ctx,
			`UPDATE subscribers SET is_subscribed = 1, updated_at = ? WHERE external_id = ? AND is_subscribed = 0`,
			now, externalID)
		if err != nil {
			return false, err
		}
		n, err := res.RowsAffected()
		return n == 1, err
	}

	ch := subscriber.ChangeNone
	ok, err := flip()
	if err != nil {
		return subscriber.Subscriber{}, ch, err
	}
	if ok {
		ch = subscriber.ChangeUpdated
	} else {
		res, err := s.db.ExecContext(ctx,
			`INSERT INTO subscribers(external_id, is_subscribed, preferred_location, created_at, updated_at)
			 VALUES(?, 1, '', ?, ?) ON CONFLICT(external_id) DO NOTHING`,
			externalID, now, now)
		if err != nil {
			return subscriber.Subscriber{}, ch, err
		}
		if n, _ := res.RowsAffected(); n == 1 {
			ch = subscriber.ChangeCreated
		} else if ok, err := flip(); err != nil {
			return subscriber.Subscriber{}, ch, err
		} else if ok {
			ch = subscriber.ChangeUpdated
		}
	}

	rec, err := s.Find(ctx, externalID)
	return rec, ch, err
}

func (s *sqliteStore) Unsubscribe(ctx context.Context, externalID int64) (subscriber.Subscriber, subscriber.Change, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE subscribers SET is_subscribed = 0, updated_at = ? WHERE external_id = ? AND is_subscribed = 1`,
		time.Now().UTC().UnixMilli(), externalID)
	if err != nil {
		return subscriber.Subscriber{}, subscriber.ChangeNone, err
	}
	ch := subscriber.ChangeNone
	if n, _ := res.RowsAffected(); n == 1 {
		ch = subscriber.ChangeUpdated
	}
	rec, err := s.Find(ctx, externalID)
	if err != nil {
		return subscriber.Subscriber{}, subscriber.ChangeNone, err
	}
	return rec, ch, nil
}

func (s *sqliteStore) SetLocation(ctx context.Context, externalID int64, location string) (subscriber.Subscriber, error) {
	row := s.db.QueryRowContext(ctx,
		`UPDATE subscribers SET preferred_location = ?, updated_at = ? WHERE external_id = ?
		 RETURNING `+sqliteColumns,
		location, time.Now().UTC().UnixMilli(), externalID)
	rec, err := scanSQLite(row)
	if errors.Is(err, sql.ErrNoRows) {
		return subscriber.Subscriber{}, subscriber.ErrNotFound
	}
	return rec, err
}

func (s *sqliteStore) ListEligible(ctx context.Context, afterID int64, limit int) ([]subscriber.Subscriber, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sqliteColumns+` FROM subscribers
		 WHERE id > ? AND is_subscribed = 1 AND trim(preferred_location) <> ''
		 ORDER BY id LIMIT ?`,
		afterID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]subscriber.Subscriber, 0, limit)
	for rows.Next() {
		rec, err := scanSQLite(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
