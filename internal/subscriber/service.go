package subscriber

import (
	"context"
	"errors"
	"fmt"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	logx "weatherbot/pkg/logx"
)

const MaxLocationRunes = 100

// Service validates input and logs mutations before delegating to a Store.
type Service struct {
	store Store
	log   logx.Logger
}

// NewService wraps store with input validation and mutation logging.
func NewService(store Store, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{store: store, log: log.With(logx.String("comp", "subscriber"))}
}

func validateID(id int64) error {
	if err := validation.Validate(id, validation.Required, validation.Min(int64(1))); err != nil {
		return fmt.Errorf("%w: external id %v", ErrInvalid, err)
	}
	return nil
}

// NormalizeLocation trims loc and checks its length.
func NormalizeLocation(loc string) (string, error) {
	loc = strings.TrimSpace(loc)
	if err := validation.Validate(loc, validation.Required, validation.RuneLength(1, MaxLocationRunes)); err != nil {
		return "", fmt.Errorf("%w: location %v", ErrInvalid, err)
	}
	return loc, nil
}

// Find returns the record for externalID or ErrNotFound.
func (s *Service) Find(ctx context.Context, externalID int64) (Subscriber, error) {
	if err := validateID(externalID); err != nil {
		return Subscriber{}, err
	}
	return s.store.Find(ctx, externalID)
}

// Subscribe creates the record on first use and sets the flag. Repeated
// calls return ChangeNone.
func (s *Service) Subscribe(ctx context.Context, externalID int64) (Subscriber, Change, error) {
	if err := validateID(externalID); err != nil {
		return Subscriber{}, ChangeNone, err
	}
	rec, ch, err := s.store.Subscribe(ctx, externalID)
	if err != nil {
		s.log.Error("subscribe failed", logx.Int64("external_id", externalID), logx.Err(err))
		return Subscriber{}, ChangeNone, err
	}
	if ch != ChangeNone {
		s.log.Info("subscribed", logx.Int64("external_id", externalID), logx.String("change", ch.String()))
	}
	return rec, ch, nil
}

// Unsubscribe clears the flag. Unknown ids return ErrNotFound and create
// nothing.
func (s *Service) Unsubscribe(ctx context.Context, externalID int64) (Subscriber, Change, error) {
	if err := validateID(externalID); err != nil {
		return Subscriber{}, ChangeNone, err
	}
	rec, ch, err := s.store.Unsubscribe(ctx, externalID)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			s.log.Error("unsubscribe failed", logx.Int64("external_id", externalID), logx.Err(err))
		}
		return Subscriber{}, ChangeNone, err
	}
	if ch != ChangeNone {
		s.log.Info("unsubscribed", logx.Int64("external_id", externalID))
	}
	return rec, ch, nil
}

// SetLocation stores the trimmed location for an existing record. Unknown
// ids return ErrNotFound; invalid locations ErrInvalid.
func (s *Service) SetLocation(ctx context.Context, externalID int64, location string) (Subscriber, error) {
	if err := validateID(externalID); err != nil {
		return Subscriber{}, err
	}
	loc, err := NormalizeLocation(location)
	if err != nil {
		return Subscriber{}, err
	}
	rec, err := s.store.SetLocation(ctx, externalID, loc)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			s.log.Error("set location failed", logx.Int64("external_id", externalID), logx.Err(err))
		}
		return Subscriber{}, err
	}
	s.log.Info("location set", logx.Int64("external_id", externalID), logx.String("location", loc))
	return rec, nil
}
