package reconcile

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies a pipeline failure.
type Kind uint8

const (
	// KindSource is a fetch or authentication failure against the ranking source.
	KindSource Kind = iota + 1
	// KindMatching is a snapshot that could not be classified, e.g. too many malformed entries.
	KindMatching
	// KindRepository is a failed store call. The batch stopped; mutations already applied stay.
	KindRepository
	// KindCounter is a failed region counter increment after all record mutations succeeded.
	KindCounter
)

func (k Kind) String() string {
	switch k {
	case KindSource:
		return "source"
	case KindMatching:
		return "matching"
	case KindRepository:
		return "repository"
	case KindCounter:
		return "counter"
	default:
		return "unknown"
	}
}

// Sentinel errors.
var (
	ErrNilPlan         = errors.New("nil plan")
	ErrAlreadyApplied  = errors.New("plan already applied")
	ErrUnexpectedClass = errors.New("entity classified inconsistently")
)

// Error is the typed failure of a reconciliation pass. It carries enough
// context (operation, bucket, entity, row) to repair the store by hand.
type Error struct {
	Kind     Kind
	Op       string // e.g. "fetch_page", "delete", "increment"
	Bucket   Bucket // zero outside the mutation phase
	Stage    string // "delete" or "insert" for a split replacement
	EntityID string
	RowID    int64
	Err      error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.String())
	b.WriteString(" error")
	if e.Op != "" {
		fmt.Fprintf(&b, ": op=%s", e.Op)
	}
	if e.Bucket != 0 {
		fmt.Fprintf(&b, " bucket=%s", e.Bucket)
	}
	if e.Stage != "" {
		fmt.Fprintf(&b, " stage=%s", e.Stage)
	}
	if e.EntityID != "" {
		fmt.Fprintf(&b, " entity=%s", e.EntityID)
	}
	if e.RowID != 0 {
		fmt.Fprintf(&b, " row=%d", e.RowID)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf reports the Kind of the first *Error in err's chain.
func KindOf(err error) (Kind, bool) {
	var re *Error
	if errors.As(err, &re) {
		return re.Kind, true
	}
	return 0, false
}

// IsPartial reports whether err left record mutations fully applied and only
// the counter update incomplete.
func IsPartial(err error) bool {
	k, ok := KindOf(err)
	return ok && k == KindCounter
}
