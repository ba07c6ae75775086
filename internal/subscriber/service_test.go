package subscriber_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"weatherbot/internal/storage"
	"weatherbot/internal/subscriber"
	logx "weatherbot/pkg/logx"
)

func TestServiceRejectsInvalidInput(t *testing.T) {
	t.Parallel()
	svc := subscriber.NewService(storage.NewMemory(), logx.Nop())
	ctx := context.Background()

	_, _, err := svc.Subscribe(ctx, 0)
	assert.True(t, errors.Is(err, subscriber.ErrInvalid))

	_, _, err = svc.Subscribe(ctx, 5)
	require.NoError(t, err)

	tests := []struct {
		name string
		loc  string
	}{
		{"empty", ""},
		{"blank", "   \t"},
		{"too long", strings.Repeat("я", subscriber.MaxLocationRunes+1)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.SetLocation(ctx, 5, tt.loc)
			assert.True(t, errors.Is(err, subscriber.ErrInvalid), "got %v", err)
		})
	}
}

func TestServiceSetLocationTrims(t *testing.T) {
	t.Parallel()
	svc := subscriber.NewService(storage.NewMemory(), logx.Nop())
	ctx := context.Background()

	_, _, err := svc.Subscribe(ctx, 5)
	require.NoError(t, err)
	rec, err := svc.SetLocation(ctx, 5, "  New York ")
	require.NoError(t, err)
	assert.Equal(t, "New York", rec.PreferredLocation)
	assert.True(t, rec.Eligible())

	long := strings.Repeat("я", subscriber.MaxLocationRunes)
	rec, err = svc.SetLocation(ctx, 5, long)
	require.NoError(t, err)
	assert.Equal(t, long, rec.PreferredLocation)
}

func TestEligible(t *testing.T) {
	t.Parallel()
	tests := []struct {
		rec  subscriber.Subscriber
		want bool
	}{
		{subscriber.Subscriber{IsSubscribed: true, PreferredLocation: "Rome"}, true},
		{subscriber.Subscriber{IsSubscribed: true, PreferredLocation: "  "}, false},
		{subscriber.Subscriber{IsSubscribed: false, PreferredLocation: "Rome"}, false},
	}
	for _, tt := range tests {
		if got := tt.rec.Eligible(); got != tt.want {
			t.Fatalf("Eligible(%+v)=%v want %v", tt.rec, got, tt.want)
		}
	}
}
