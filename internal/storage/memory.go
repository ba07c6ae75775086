package storage

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"

	"weatherbot/internal/subscriber"
)

// records is the map-backed state shared by the memory and file drivers.
// Callers hold the owning mutex.
type records struct {
	byExt  map[int64]*subscriber.Subscriber
	nextID int64
}

func newRecords() records {
	return records{byExt: map[int64]*subscriber.Subscriber{}, nextID: 1}
}

func (r *records) put(s subscriber.Subscriber) {
	cp := s
	r.byExt[s.ExternalID] = &cp
	if s.ID >= r.nextID {
		r.nextID = s.ID + 1
	}
}

func (r *records) subscribe(externalID int64, now time.Time) (subscriber.Subscriber, subscriber.Change) {
	rec, ok := r.byExt[externalID]
	if !ok {
		rec = &subscriber.Subscriber{
			ID:           r.nextID,
			ExternalID:   externalID,
			IsSubscribed: true,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		r.nextID++
		r.byExt[externalID] = rec
		return *rec, subscriber.ChangeCreated
	}
	if rec.IsSubscribed {
		return *rec, subscriber.ChangeNone
	}
	rec.IsSubscribed = true
	rec.UpdatedAt = now
	return *rec, subscriber.ChangeUpdated
}

func (r *records) unsubscribe(externalID int64, now time.Time) (subscriber.Subscriber, subscriber.Change, error) {
	rec, ok := r.byExt[externalID]
	if !ok {
		return subscriber.Subscriber{}, subscriber.ChangeNone, subscriber.ErrNotFound
	}
	if !rec.IsSubscribed {
		return *rec, subscriber.ChangeNone, nil
	}
	rec.IsSubscribed = false
	rec.UpdatedAt = now
	return *rec, subscriber.ChangeUpdated, nil
}

func (r *records) setLocation(externalID int64, loc string, now time.Time) (subscriber.Subscriber, error) {
	rec, ok := r.byExt[externalID]
	if !ok {
		return subscriber.Subscriber{}, subscriber.ErrNotFound
	}
	rec.PreferredLocation = loc
	rec.UpdatedAt = now
	return *rec, nil
}

func (r *records) eligible(afterID int64, limit int) []subscriber.Subscriber {
	out := make([]subscriber.Subscriber, 0)
	for _, rec := range r.byExt {
		if rec.ID > afterID && rec.Eligible() {
			out = append(out, *rec)
		}
	}
	slices.SortFunc(out, func(a, b subscriber.Subscriber) int { return cmp.Compare(a.ID, b.ID) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

type memoryStore struct {
	mu     sync.Mutex
	recs   records
	closed bool
}

// NewMemory returns an empty process-local store.
func NewMemory() subscriber.Store {
	return &memoryStore{recs: newRecords()}
}

func (m *memoryStore) Find(ctx context.Context, externalID int64) (subscriber.Subscriber, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.recs.byExt[externalID]
	if !ok {
		return subscriber.Subscriber{}, subscriber.ErrNotFound
	}
	return *rec, nil
}

func (m *memoryStore) Subscribe(ctx context.Context, externalID int64) (subscriber.Subscriber, subscriber.Change, error) {
	if err := ctx.Err(); err != nil {
		return subscriber.Subscriber{}, subscriber.ChangeNone, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return subscriber.Subscriber{}, subscriber.ChangeNone, ErrClosed
	}
	rec, ch := m.recs.subscribe(externalID, time.Now().UTC())
	return rec, ch, nil
}

func (m *memoryStore) Unsubscribe(ctx context.Context, externalID int64) (subscriber.Subscriber, subscriber.Change, error) {
	if err := ctx.Err(); err != nil {
		return subscriber.Subscriber{}, subscriber.ChangeNone, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return subscriber.Subscriber{}, subscriber.ChangeNone, ErrClosed
	}
	return m.recs.unsubscribe(externalID, time.Now().UTC())
}

func (m *memoryStore) SetLocation(ctx context.Context, externalID int64, location string) (subscriber.Subscriber, error) {
	if err := ctx.Err(); err != nil {
		return subscriber.Subscriber{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return subscriber.Subscriber{}, ErrClosed
	}
	return m.recs.setLocation(externalID, location, time.Now().UTC())
}

func (m *memoryStore) ListEligible(ctx context.Context, afterID int64, limit int) ([]subscriber.Subscriber, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.recs.eligible(afterID, limit), nil
}

func (m *memoryStore) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}
