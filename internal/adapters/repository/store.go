// Package repository defines the ranking store interface and errors.
package repository

import (
	"context"

	"github.com/okian/standings/internal/domain/model"
)

// Outcome classifies a mutation that did not fail.
type Outcome uint8

const (
	// OutcomeApplied means the mutation changed Affected rows.
	OutcomeApplied Outcome = iota + 1
	// OutcomeNotFound means the target row did not exist.
	OutcomeNotFound
)

func (o Outcome) String() string {
	switch o {
	case OutcomeApplied:
		return "applied"
	case OutcomeNotFound:
		return "not_found"
	default:
		return "unknown"
	}
}

// Result is the outcome of one mutation. Together with a non-nil error it
// forms the tri-state every mutation reports: applied, not found, failed.
type Result struct {
	Outcome  Outcome
	Affected int64
}

// Applied builds an applied result.
func Applied(n int64) Result { return Result{Outcome: OutcomeApplied, Affected: n} }

// NotFound builds a not-found result.
func NotFound() Result { return Result{Outcome: OutcomeNotFound} }

// Store provides read/write access to the persisted ranking state.
type Store interface {
	// FetchAllActive returns every persisted record, or only those of region
	// when region is not empty, ordered by row id.
	FetchAllActive(ctx context.Context, region string) ([]model.ScoreRecord, error)

	// FetchByExternalID returns the record of an entity.
	// Returns ErrNotFound if the entity has no record.
	FetchByExternalID(ctx context.Context, id string) (model.ScoreRecord, error)

	// NextID reserves the next row id. Ids increase monotonically and are never reused.
	NextID(ctx context.Context) (int64, error)

	// Insert stores rec under rec.RowID. Fails with ErrDuplicate when the
	// row id or entity already has a record.
	Insert(ctx context.Context, rec model.ScoreRecord) (Result, error)

	// Delete removes the record with rowID.
	Delete(ctx context.Context, rowID int64) (Result, error)

	// IncrementRegionCounter adds amount to both inactivity counters of
	// regionID, creating the region when it is unknown.
	IncrementRegionCounter(ctx context.Context, regionID string, amount int64) (Result, error)

	// Regions lists every known region ordered by id.
	Regions(ctx context.Context) ([]model.Region, error)

	// ResetRecentInactive zeroes the recent-window counter of every region.
	// It is an operator action and is never called by a reconciliation pass.
	ResetRecentInactive(ctx context.Context) (Result, error)

	// Count returns the number of persisted records.
	Count(ctx context.Context) (int, error)

	Close() error
}

// Replacer is implemented by stores that can swap a record atomically.
type Replacer interface {
	// Replace deletes oldRowID and inserts rec as one unit.
	Replace(ctx context.Context, oldRowID int64, rec model.ScoreRecord) (Result, error)
}
