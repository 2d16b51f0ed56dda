// Package rule orchestrates rule generation, refinement, verification,
// summaries and exports on top of the history store.
package rule

import (
	"context"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/rulesmith/pkg/history"
	"github.com/m-mizutani/rulesmith/pkg/service/llm"
	"github.com/m-mizutani/rulesmith/pkg/utils/logging"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"
)

var (
	ErrEmptyFeedback = goerr.New("refinement feedback is empty")
	ErrNoSelection   = goerr.New("no history entry is selected")
	ErrEntryNotFound = goerr.New("history entry not found")
	ErrEmptyRule     = goerr.New("rule is empty")
	ErrNoSamples     = goerr.New("no sample data")
)

// UseCase provides rule operations. At most one generation or refinement
// runs at a time; a concurrent call fails with a Busy error.
type UseCase struct {
	transport *llm.Transport
	store     *history.Store
	activity  *logging.Recorder
	now       func() time.Time

	guard     *semaphore.Weighted
	summaries singleflight.Group
}

// Option is a functional option for UseCase
type Option func(*UseCase)

// WithRecorder records user facing activity
func WithRecorder(r *logging.Recorder) Option {
	return func(u *UseCase) {
		u.activity = r
	}
}

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(u *UseCase) {
		u.now = now
	}
}

func New(transport *llm.Transport, store *history.Store, opts ...Option) *UseCase {
	u := &UseCase{
		transport: transport,
		store:     store,
		now:       time.Now,
		guard:     semaphore.NewWeighted(1),
	}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

// History returns the store the use case operates on
func (u *UseCase) History() *history.Store {
	return u.store
}

func (u *UseCase) acquire() error {
	if !u.guard.TryAcquire(1) {
		return goerr.Wrap(llm.ErrBusy, "generation already in progress")
	}
	return nil
}

func (u *UseCase) release() {
	u.guard.Release(1)
}

// fail logs the cause and returns the normalized error. Raw details never
// reach the caller.
func (u *UseCase) fail(ctx context.Context, op string, err error) error {
	normalized := llm.Normalize(err)
	logging.From(ctx).Error("rule operation failed",
		"op", op,
		"kind", normalized.Kind.String(),
		"error", err,
	)
	u.activity.Error("%s failed: %s", op, normalized.Message)
	return normalized
}

func inputError(msg string, cause error) error {
	return llm.NewInputError(msg, cause)
}
