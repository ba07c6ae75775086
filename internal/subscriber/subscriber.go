package subscriber

import (
	"context"
	"errors"
	"strings"
	"time"
)

var (
	ErrNotFound = errors.New("subscriber not found")
	ErrInvalid  = errors.New("invalid subscriber input")
)

// Subscriber is one chat user keyed by their external (Telegram) id.
type Subscriber struct {
	ID                int64     `json:"id"`
	ExternalID        int64     `json:"telegramId"`
	IsSubscribed      bool      `json:"isSubscribed"`
	PreferredLocation string    `json:"preferredCity,omitempty"`
	CreatedAt         time.Time `json:"createdAt"`
	UpdatedAt         time.Time `json:"updatedAt"`
}

// Eligible reports whether the record should receive broadcasts.
func (s Subscriber) Eligible() bool {
	return s.IsSubscribed && strings.TrimSpace(s.PreferredLocation) != ""
}

// Change is the effect a mutation had on the stored record.
type Change int

const (
	ChangeNone Change = iota
	ChangeCreated
	ChangeUpdated
)

func (c Change) String() string {
	switch c {
	case ChangeCreated:
		return "created"
	case ChangeUpdated:
		return "updated"
	default:
		return "none"
	}
}

// Store persists subscribers. Every method is atomic per record; there are no
// multi-record transactions.
type Store interface {
	Find(ctx context.Context, externalID int64) (Subscriber, error)
	// Subscribe creates the record if absent and sets the flag. Concurrent
	// calls for the same id never produce two records.
	Subscribe(ctx context.Context, externalID int64) (Subscriber, Change, error)
	// Unsubscribe clears the flag. It returns ErrNotFound and creates nothing
	// when the record is absent.
	Unsubscribe(ctx context.Context, externalID int64) (Subscriber, Change, error)
	// SetLocation overwrites the location, or returns ErrNotFound.
	SetLocation(ctx context.Context, externalID int64, location string) (Subscriber, error)
	// ListEligible returns up to limit eligible records with ID > afterID,
	// ordered by ID.
	ListEligible(ctx context.Context, afterID int64, limit int) ([]Subscriber, error)
	Close() error
}
