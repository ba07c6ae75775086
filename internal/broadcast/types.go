package broadcast

import (
	"sync"
	"time"

	"golang.org/x/time/rate"

	"weatherbot/internal/subscriber"
	kit "weatherbot/internal/transport"
	"weatherbot/internal/weather"
	logx "weatherbot/pkg/logx"
)

const maxFailedIDs = 200

// Config tunes a run. Zero values pick defaults.
type Config struct {
	Workers    int
	RatePerSec float64
	Burst      int
	PageSize   int

	// RecipientTimeout bounds the rate limiter wait plus the send for one
	// recipient. The weather lookup gets a separate budget.
	RecipientTimeout time.Duration
	// LookupTimeout caps the weather lookup. The lookup never gets more than
	// half of RecipientTimeout.
	LookupTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.PageSize <= 0 {
		c.PageSize = 100
	}
	if c.RecipientTimeout <= 0 {
		c.RecipientTimeout = 20 * time.Second
	}
	if c.Burst <= 0 {
		c.Burst = 1
	}
	return c
}

func (c Config) lookupBudget() time.Duration {
	budget := c.RecipientTimeout / 2
	if c.LookupTimeout > 0 {
		budget = min(budget, c.LookupTimeout)
	}
	return budget
}

// Report summarizes one run.
type Report struct {
	ID         string    `json:"id"`
	Trigger    string    `json:"trigger,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Attempted  int       `json:"attempted"`
	Sent       int       `json:"sent"`
	Failed     int       `json:"failed"`
	Fallbacks  int       `json:"fallbacks"`
	// FailedIDs holds the first failed external ids.
	FailedIDs []int64 `json:"failed_ids,omitempty"`
	// Error is set when listing recipients failed and the run ended early.
	Error string `json:"error,omitempty"`
}

func (r Report) Duration() time.Duration { return r.FinishedAt.Sub(r.StartedAt) }

// Executor performs broadcast runs. It is safe for concurrent use; Apply
// affects only runs started afterwards.
type Executor struct {
	store    subscriber.Store
	provider weather.Provider
	msgr     kit.Messenger
	log      logx.Logger

	mu      sync.Mutex
	cfg     Config
	limiter *rate.Limiter
}

type tally struct {
	mu        sync.Mutex
	sent      int
	failed    int
	fallbacks int
	failedIDs []int64
}

func (t *tally) fail(id int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.failed++
	if len(t.failedIDs) < maxFailedIDs {
		t.failedIDs = append(t.failedIDs, id)
	}
}
