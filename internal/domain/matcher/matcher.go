// Package matcher classifies entities of a fresh snapshot against the
// persisted active set by their stable external identifier.
package matcher

import (
	"context"
	"fmt"
	"strings"

	"github.com/okian/standings/internal/domain/model"
	"github.com/okian/standings/pkg/logger"
)

// defaultMaxSkipped bounds dropped snapshot entries unless configured.
const defaultMaxSkipped = 100

// Class is the activity transition of one identifier.
type Class uint8

const (
	// UnchangedActive entities are persisted and still active.
	UnchangedActive Class = iota + 1
	// NewlyActive entities are active in the fetch and not persisted.
	NewlyActive
	// BecameInactive entities are persisted but inactive or missing in the fetch.
	BecameInactive
	// StillInactive entities are inactive in the fetch and not persisted.
	StillInactive
)

func (c Class) String() string {
	switch c {
	case UnchangedActive:
		return "unchanged-active"
	case NewlyActive:
		return "newly-active"
	case BecameInactive:
		return "became-inactive"
	case StillInactive:
		return "still-inactive"
	default:
		return "unknown"
	}
}

// Classification holds four disjoint identifier sets. Each slice keeps a
// deterministic order: fetch order for fetched ids, then persisted order.
type Classification struct {
	UnchangedActive []string
	NewlyActive     []string
	BecameInactive  []string
	StillInactive   []string

	byID map[string]Class
}

// Of returns the class of id and whether it was seen in either input.
func (c *Classification) Of(id string) (Class, bool) {
	cl, ok := c.byID[id]
	return cl, ok
}

// Len returns the number of classified identifiers.
func (c *Classification) Len() int {
	return len(c.byID)
}

func (c *Classification) add(id string, cl Class) {
	c.byID[id] = cl
	switch cl {
	case UnchangedActive:
		c.UnchangedActive = append(c.UnchangedActive, id)
	case NewlyActive:
		c.NewlyActive = append(c.NewlyActive, id)
	case BecameInactive:
		c.BecameInactive = append(c.BecameInactive, id)
	case StillInactive:
		c.StillInactive = append(c.StillInactive, id)
	}
}

// Classify matches fetched against persisted in O(len(persisted)+len(fetched)).
// fetched must already be sanitized (unique, non-empty ids).
func Classify(persisted []model.ScoreRecord, fetched []model.Entity) *Classification {
	stored := make(map[string]struct{}, len(persisted))
	for i := range persisted {
		stored[persisted[i].EntityID] = struct{}{}
	}

	out := &Classification{byID: make(map[string]Class, len(persisted)+len(fetched))}
	for i := range fetched {
		e := &fetched[i]
		_, known := stored[e.ID]
		switch {
		case e.Active && known:
			out.add(e.ID, UnchangedActive)
		case e.Active:
			out.add(e.ID, NewlyActive)
		case known:
			out.add(e.ID, BecameInactive)
		default:
			out.add(e.ID, StillInactive)
		}
	}

	// Persisted entities missing from the fetch left the active snapshot.
	for i := range persisted {
		id := persisted[i].EntityID
		if _, seen := out.byID[id]; !seen {
			out.add(id, BecameInactive)
		}
	}
	return out
}

// Hold splits persisted into the records to classify and the ids to leave
// untouched: a persisted entity whose snapshot entries were all skipped as
// malformed is neither active nor gone, so it must not become inactive.
func Hold(persisted []model.ScoreRecord, kept []model.Entity, skips []Skip) ([]model.ScoreRecord, []string) {
	if len(skips) == 0 {
		return persisted, nil
	}
	present := make(map[string]struct{}, len(kept))
	for i := range kept {
		present[kept[i].ID] = struct{}{}
	}
	skipped := make(map[string]struct{}, len(skips))
	for _, sk := range skips {
		if _, ok := present[sk.ID]; sk.ID != "" && !ok {
			skipped[sk.ID] = struct{}{}
		}
	}
	if len(skipped) == 0 {
		return persisted, nil
	}

	rest := make([]model.ScoreRecord, 0, len(persisted))
	var held []string
	for i := range persisted {
		if _, ok := skipped[persisted[i].EntityID]; ok {
			held = append(held, persisted[i].EntityID)
			continue
		}
		rest = append(rest, persisted[i])
	}
	return rest, held
}

// Skip describes one snapshot entry dropped by Sanitize.
type Skip struct {
	Index  int
	ID     string
	Reason string
}

// Sanitizer drops malformed snapshot entries.
type Sanitizer struct {
	maxSkipped int
	logger     logger.Logger
}

// Option applies a configuration option to the Sanitizer.
type Option func(*Sanitizer)

// WithMaxSkipped bounds the number of dropped entries. Negative disables the bound.
func WithMaxSkipped(n int) Option {
	return func(s *Sanitizer) {
		s.maxSkipped = n
	}
}

// WithLogger sets a custom logger.
func WithLogger(l logger.Logger) Option {
	return func(s *Sanitizer) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewSanitizer creates a sanitizer. The default skip bound is 100.
func NewSanitizer(opts ...Option) *Sanitizer {
	s := &Sanitizer{maxSkipped: defaultMaxSkipped}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logger.Get().Named("matcher")
	}
	return s
}

// Sanitize returns the entries with a non-empty id and region, keeping the
// first occurrence of duplicated ids. It fails with ErrTooManySkipped when
// the skip bound is exceeded.
func (s *Sanitizer) Sanitize(ctx context.Context, entities []model.Entity) ([]model.Entity, []Skip, error) {
	out := make([]model.Entity, 0, len(entities))
	seen := make(map[string]struct{}, len(entities))
	var skips []Skip

	for i := range entities {
		e := entities[i]
		e.ID = strings.TrimSpace(e.ID)
		e.Region = strings.TrimSpace(e.Region)

		reason := ""
		switch {
		case e.ID == "":
			reason = "missing id"
		case e.Region == "":
			reason = "missing region"
		default:
			if _, dup := seen[e.ID]; dup {
				reason = "duplicate id"
			}
		}
		if reason != "" {
			skips = append(skips, Skip{Index: i, ID: e.ID, Reason: reason})
			s.logger.Warn(ctx, "skipping snapshot entry",
				logger.Int("index", i),
				logger.String("entity_id", e.ID),
				logger.String("reason", reason),
			)
			continue
		}
		seen[e.ID] = struct{}{}
		out = append(out, e)
	}

	if s.maxSkipped >= 0 && len(skips) > s.maxSkipped {
		return nil, skips, fmt.Errorf("%w: %d entries skipped, limit %d", ErrTooManySkipped, len(skips), s.maxSkipped)
	}
	return out, skips, nil
}
