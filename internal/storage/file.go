package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"weatherbot/internal/subscriber"
	logx "weatherbot/pkg/logx"
)

// fileStore keeps every subscriber in memory and persists mutations.
//
// Files:
//   - <prefix>.subscribers.snapshot.json (periodic snapshot, JSON array)
//   - <prefix>.subscribers.journal.jsonl (append-only journal of full records)
//
// The journal is compacted into the snapshot every compactEvery writes and on Close.
type fileStore struct {
	log logx.Logger

	mu           sync.Mutex
	recs         records
	snapshotPath string
	journal      *os.File
	writes       int
	compactEvery int
}

func openFile(cfg Config, log logx.Logger) (subscriber.Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}

	dir := filepath.Dir(path)
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	prefix := filepath.Join(dir, base)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	snapPath := prefix + ".subscribers.snapshot.json"
	journalPath := prefix + ".subscribers.journal.jsonl"

	recs := newRecords()
	if err := loadSnapshot(snapPath, &recs); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	n, err := replayJournal(journalPath, &recs)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	jf, err := os.OpenFile(journalPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		return nil, err
	}
	log.Info("file storage opened", logx.String("path", prefix), logx.Int("records", len(recs.byExt)), logx.Int("replayed", n))

	return &fileStore{
		log:          log,
		recs:         recs,
		snapshotPath: snapPath,
		journal:      jf,
		compactEvery: 1000,
	}, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return nil
	}
	cerr := s.compactLocked()
	err := s.journal.Close()
	s.journal = nil
	if cerr != nil {
		return cerr
	}
	return err
}

func (s *fileStore) Find(ctx context.Context, externalID int64) (subscriber.Subscriber, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.recs.byExt[externalID]
	if !ok {
		return subscriber.Subscriber{}, subscriber.ErrNotFound
	}
	return *rec, nil
}

func (s *fileStore) Subscribe(ctx context.Context, externalID int64) (subscriber.Subscriber, subscriber.Change, error) {
	if err := ctx.Err(); err != nil {
		return subscriber.Subscriber{}, subscriber.ChangeNone, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return subscriber.Subscriber{}, subscriber.ChangeNone, ErrClosed
	}
	prev, had := s.recs.byExt[externalID]
	var undo subscriber.Subscriber
	if had {
		undo = *prev
	}
	rec, ch := s.recs.subscribe(externalID, time.Now().UTC())
	if ch == subscriber.ChangeNone {
		return rec, ch, nil
	}
	if err := s.appendLocked(rec); err != nil {
		if had {
			s.recs.put(undo)
		} else {
			delete(s.recs.byExt, externalID)
		}
		return subscriber.Subscriber{}, subscriber.ChangeNone, err
	}
	return rec, ch, nil
}

func (s *fileStore) Unsubscribe(ctx context.Context, externalID int64) (subscriber.Subscriber, subscriber.Change, error) {
	if err := ctx.Err(); err != nil {
		return subscriber.Subscriber{}, subscriber.ChangeNone, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return subscriber.Subscriber{}, subscriber.ChangeNone, ErrClosed
	}
	rec, ch, err := s.recs.unsubscribe(externalID, time.Now().UTC())
	if err != nil || ch == subscriber.ChangeNone {
		return rec, ch, err
	}
	if err := s.appendLocked(rec); err != nil {
		rec.IsSubscribed = true
		s.recs.put(rec)
		return subscriber.Subscriber{}, subscriber.ChangeNone, err
	}
	return rec, ch, nil
}

func (s *fileStore) SetLocation(ctx context.Context, externalID int64, location string) (subscriber.Subscriber, error) {
	if err := ctx.Err(); err != nil {
		return subscriber.Subscriber{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return subscriber.Subscriber{}, ErrClosed
	}
	prev, ok := s.recs.byExt[externalID]
	if !ok {
		return subscriber.Subscriber{}, subscriber.ErrNotFound
	}
	undo := *prev
	rec, err := s.recs.setLocation(externalID, location, time.Now().UTC())
	if err != nil {
		return subscriber.Subscriber{}, err
	}
	if err := s.appendLocked(rec); err != nil {
		s.recs.put(undo)
		return subscriber.Subscriber{}, err
	}
	return rec, nil
}

func (s *fileStore) ListEligible(ctx context.Context, afterID int64, limit int) ([]subscriber.Subscriber, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recs.eligible(afterID, limit), nil
}

func (s *fileStore) appendLocked(rec subscriber.Subscriber) error {
	if err := json.NewEncoder(s.journal).Encode(rec); err != nil {
		return err
	}
	s.writes++
	if s.compactEvery > 0 && s.writes%s.compactEvery == 0 {
		if err := s.compactLocked(); err != nil {
			s.log.Warn("journal compact failed", logx.Err(err))
		}
	}
	return nil
}

func (s *fileStore) compactLocked() error {
	all := make([]subscriber.Subscriber, 0, len(s.recs.byExt))
	for _, rec := range s.recs.byExt {
		all = append(all, *rec)
	}

	tmp := s.snapshotPath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(all); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.snapshotPath); err != nil {
		return err
	}
	if err := s.journal.Truncate(0); err != nil {
		return err
	}
	_, err = s.journal.Seek(0, io.SeekEnd)
	return err
}

func loadSnapshot(path string, recs *records) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	var all []subscriber.Subscriber
	if err := json.NewDecoder(f).Decode(&all); err != nil {
		return err
	}
	for _, rec := range all {
		recs.put(rec)
	}
	return nil
}

// replayJournal applies journal records in order. A torn trailing line is skipped.
func replayJournal(path string, recs *records) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	n := 0
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var rec subscriber.Subscriber
		if err := json.Unmarshal(sc.Bytes(), &rec); err != nil || rec.ExternalID == 0 {
			continue
		}
		recs.put(rec)
		n++
	}
	return n, sc.Err()
}
