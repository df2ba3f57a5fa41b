// Package aggregate persists per-region inactivity increments produced by a
// reconciliation pass.
package aggregate

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/okian/standings/internal/adapters/repository"
	"github.com/okian/standings/pkg/logger"
	"github.com/okian/standings/pkg/metrics"
)

// ErrIncomplete reports that at least one region was not incremented.
var ErrIncomplete = errors.New("region counters incomplete")

// Incrementer is the repository call the updater needs.
type Incrementer interface {
	IncrementRegionCounter(ctx context.Context, regionID string, amount int64) (repository.Result, error)
}

// Failure is one region whose increment did not persist.
type Failure struct {
	Region string
	Amount int64
	Err    error
}

// Error lists the increments that still need to be applied by hand.
type Error struct {
	Failures []Failure
}

func (e *Error) Error() string {
	parts := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		parts = append(parts, fmt.Sprintf("%s+%d: %v", f.Region, f.Amount, f.Err))
	}
	return fmt.Sprintf("%s: %s", ErrIncomplete, strings.Join(parts, "; "))
}

// Unwrap exposes ErrIncomplete and every region error.
func (e *Error) Unwrap() []error {
	errs := make([]error, 0, len(e.Failures)+1)
	errs = append(errs, ErrIncomplete)
	for _, f := range e.Failures {
		errs = append(errs, f.Err)
	}
	return errs
}

// Pending returns the unapplied increments by region.
func (e *Error) Pending() map[string]int64 {
	out := make(map[string]int64, len(e.Failures))
	for _, f := range e.Failures {
		out[f.Region] = f.Amount
	}
	return out
}

// Updater applies region increments one region at a time.
type Updater struct {
	store  Incrementer
	logger logger.Logger
}

// Option configures an Updater.
type Option func(*Updater)

// WithLogger sets a custom logger for the updater.
func WithLogger(l logger.Logger) Option {
	return func(u *Updater) {
		if l != nil {
			u.logger = l
		}
	}
}

// NewUpdater creates an updater over store.
func NewUpdater(store Incrementer, opts ...Option) *Updater {
	u := &Updater{
		store:  store,
		logger: logger.Get().Named("aggregate"),
	}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

// Apply increments every region with a positive amount, in region order.
// A failed region does not stop the others; all failures come back as one
// *Error. It returns the number of regions incremented.
func (u *Updater) Apply(ctx context.Context, increments map[string]int64) (int, error) {
	regions := make([]string, 0, len(increments))
	for r, n := range increments {
		if n > 0 {
			regions = append(regions, r)
		}
	}
	sort.Strings(regions)

	var (
		applied  int
		failures []Failure
	)
	for _, region := range regions {
		amount := increments[region]
		if err := ctx.Err(); err != nil {
			failures = append(failures, Failure{Region: region, Amount: amount, Err: err})
			continue
		}
		if _, err := u.store.IncrementRegionCounter(ctx, region, amount); err != nil {
			metrics.RecordCounterFailure()
			u.logger.Error(ctx, "region increment failed",
				logger.String("region", region),
				logger.Int64("amount", amount),
				logger.Error(err),
			)
			failures = append(failures, Failure{Region: region, Amount: amount, Err: err})
			continue
		}
		metrics.RecordRegionIncrement(amount)
		applied++
	}

	if len(failures) > 0 {
		return applied, &Error{Failures: failures}
	}
	return applied, nil
}
