package reconcile

import (
	"github.com/okian/standings/internal/domain/matcher"
	"github.com/okian/standings/internal/domain/model"
	"github.com/okian/standings/internal/domain/ranking"
)

// Bucket groups operations that may run concurrently. Buckets run in
// declaration order.
type Bucket uint8

const (
	BucketDelete Bucket = iota + 1
	BucketReplace
	BucketInsert
)

func (b Bucket) String() string {
	switch b {
	case BucketDelete:
		return "delete"
	case BucketReplace:
		return "replace"
	case BucketInsert:
		return "insert"
	default:
		return "unknown"
	}
}

// OpKind is the kind of a planned mutation.
type OpKind uint8

const (
	// OpDelete removes the record of an entity that left the active set.
	OpDelete OpKind = iota + 1
	// OpReplace swaps the record at OldRowID for Record, rewriting its
	// previous-rank fields. Both halves complete or the op is reported failed.
	OpReplace
	// OpInsert stores the first record of a newly active entity.
	OpInsert
)

func (k OpKind) String() string {
	switch k {
	case OpDelete:
		return "delete"
	case OpReplace:
		return "replace"
	case OpInsert:
		return "insert"
	default:
		return "unknown"
	}
}

// Op is one planned mutation.
type Op struct {
	Kind     OpKind
	EntityID string
	Region   string
	OldRowID int64             // delete, replace
	Record   model.ScoreRecord // replace, insert
}

// Plan is the full, immutable set of mutations for one pass. It is built
// from the pre-batch store state before any mutation runs.
type Plan struct {
	Deletes  []Op
	Replaces []Op
	Inserts  []Op
	Retained []string // unchanged-active ids whose record already matches

	// Inactive counts became-inactive entities per region.
	Inactive map[string]int64

	Classification *matcher.Classification
	Standings      []ranking.Standing
	Skipped        []matcher.Skip
	Held           []string // persisted ids left untouched because their entries were skipped

	applied bool
}

// Len returns the number of mutations in the plan.
func (p *Plan) Len() int {
	return len(p.Deletes) + len(p.Replaces) + len(p.Inserts)
}

// Empty reports whether the plan mutates nothing, counters included.
func (p *Plan) Empty() bool {
	return p.Len() == 0 && len(p.Inactive) == 0
}

// Bucket returns the operations of b.
func (p *Plan) Bucket(b Bucket) []Op {
	switch b {
	case BucketDelete:
		return p.Deletes
	case BucketReplace:
		return p.Replaces
	case BucketInsert:
		return p.Inserts
	default:
		return nil
	}
}

var buckets = []Bucket{BucketDelete, BucketReplace, BucketInsert}
