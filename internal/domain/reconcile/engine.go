// Package reconcile diffs a fetched snapshot against the persisted ranking
// state and applies the resulting inserts, replacements and deletions.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/okian/standings/internal/adapters/repository"
	"github.com/okian/standings/internal/domain/matcher"
	"github.com/okian/standings/internal/domain/model"
	"github.com/okian/standings/internal/domain/ranking"
	"github.com/okian/standings/pkg/logger"
	"github.com/okian/standings/pkg/metrics"
)

// Default engine configuration constants.
const (
	defaultConcurrency = 8
)

// Store is the subset of the repository the engine mutates.
type Store interface {
	FetchAllActive(ctx context.Context, region string) ([]model.ScoreRecord, error)
	NextID(ctx context.Context) (int64, error)
	Insert(ctx context.Context, rec model.ScoreRecord) (repository.Result, error)
	Delete(ctx context.Context, rowID int64) (repository.Result, error)
}

// CounterUpdater persists per-region inactivity increments and returns how
// many regions were incremented.
type CounterUpdater interface {
	Apply(ctx context.Context, increments map[string]int64) (int, error)
}

// Engine plans and applies reconciliation passes. It must not run two
// passes against the same store at once; callers serialise passes.
type Engine struct {
	store       Store
	counters    CounterUpdater
	sanitizer   *matcher.Sanitizer
	concurrency int
	now         func() time.Time
	logger      logger.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithConcurrency bounds concurrent repository calls within one bucket.
func WithConcurrency(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.concurrency = n
		}
	}
}

// WithCounterUpdater sets the region counter updater run after mutations.
func WithCounterUpdater(c CounterUpdater) Option {
	return func(e *Engine) {
		e.counters = c
	}
}

// WithSanitizer replaces the default snapshot sanitizer.
func WithSanitizer(s *matcher.Sanitizer) Option {
	return func(e *Engine) {
		if s != nil {
			e.sanitizer = s
		}
	}
}

// WithClock sets the clock used for record timestamps.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithLogger sets a custom logger for the engine.
func WithLogger(l logger.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// NewEngine creates an engine over store.
func NewEngine(store Store, opts ...Option) *Engine {
	e := &Engine{
		store:       store,
		concurrency: defaultConcurrency,
		now:         func() time.Time { return time.Now().UTC() },
		logger:      logger.Get().Named("reconcile"),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.sanitizer == nil {
		e.sanitizer = matcher.NewSanitizer(matcher.WithLogger(e.logger))
	}
	return e
}

// Report summarises one pass.
type Report struct {
	Fetched int `json:"fetched"`
	Pages   int `json:"pages"`
	Skipped int `json:"skipped"`
	Held    int `json:"held"`

	UnchangedActive int `json:"unchanged_active"`
	NewlyActive     int `json:"newly_active"`
	BecameInactive  int `json:"became_inactive"`
	StillInactive   int `json:"still_inactive"`

	Deleted        int `json:"deleted"`
	AlreadyDeleted int `json:"already_deleted"`
	Replaced       int `json:"replaced"`
	Retained       int `json:"retained"`
	Inserted       int `json:"inserted"`

	Inactive           map[string]int64 `json:"inactive_by_region"`
	RegionsIncremented int              `json:"regions_incremented"`

	Duration time.Duration `json:"duration_ns"`
}

// Reconcile runs one full pass over snap: sanitize, load pre-batch state,
// plan, apply, update counters. On a counter failure the returned report is
// non-nil alongside the error.
func (e *Engine) Reconcile(ctx context.Context, snap model.Snapshot) (*Report, error) {
	start := time.Now()

	entities, skipped, err := e.sanitizer.Sanitize(ctx, snap.Entities)
	if err != nil {
		return nil, &Error{Kind: KindMatching, Op: "sanitize", Err: err}
	}
	metrics.RecordSkippedEntities(len(skipped))

	persisted, err := e.store.FetchAllActive(ctx, "")
	if err != nil {
		return nil, &Error{Kind: KindRepository, Op: "fetch_all", Err: err}
	}

	persisted, held := matcher.Hold(persisted, entities, skipped)
	for _, id := range held {
		e.logger.Warn(ctx, "keeping record whose snapshot entry was skipped", logger.String("entity_id", id))
	}

	plan, err := e.Plan(ctx, persisted, entities)
	if err != nil {
		return nil, err
	}
	plan.Skipped = skipped
	plan.Held = held

	report, err := e.Apply(ctx, plan)
	if report != nil {
		report.Fetched = len(snap.Entities)
		report.Pages = snap.Pages
		report.Duration = time.Since(start)
	}
	return report, err
}

// Plan classifies fetched against persisted, computes ranks over the new
// active set and reserves row ids for every record to write. No record is
// mutated. fetched must be sanitized.
func (e *Engine) Plan(ctx context.Context, persisted []model.ScoreRecord, fetched []model.Entity) (*Plan, error) {
	cls := matcher.Classify(persisted, fetched)

	prior := make(map[string]model.ScoreRecord, len(persisted))
	for i := range persisted {
		prior[persisted[i].EntityID] = persisted[i]
	}

	active := make([]model.Entity, 0, len(fetched))
	for i := range fetched {
		if fetched[i].Active {
			active = append(active, fetched[i])
		}
	}
	standings := ranking.Compute(active, prior)

	plan := &Plan{
		Inactive:       make(map[string]int64),
		Classification: cls,
		Standings:      standings,
	}

	for _, id := range cls.BecameInactive {
		rec := prior[id]
		plan.Deletes = append(plan.Deletes, Op{
			Kind:     OpDelete,
			EntityID: id,
			Region:   rec.Region,
			OldRowID: rec.RowID,
		})
		plan.Inactive[rec.Region]++
	}

	now := e.now()
	for i := range standings {
		st := &standings[i]
		class, _ := cls.Of(st.Entity.ID)
		switch class {
		case matcher.UnchangedActive:
			old := prior[st.Entity.ID]
			if !needsReplace(old, st) {
				plan.Retained = append(plan.Retained, st.Entity.ID)
				continue
			}
			rowID, err := e.nextID(ctx, st.Entity.ID)
			if err != nil {
				return nil, err
			}
			plan.Replaces = append(plan.Replaces, Op{
				Kind:     OpReplace,
				EntityID: st.Entity.ID,
				Region:   st.Entity.Region,
				OldRowID: old.RowID,
				Record:   recordFor(rowID, st, now),
			})
		case matcher.NewlyActive:
			rowID, err := e.nextID(ctx, st.Entity.ID)
			if err != nil {
				return nil, err
			}
			plan.Inserts = append(plan.Inserts, Op{
				Kind:     OpInsert,
				EntityID: st.Entity.ID,
				Region:   st.Entity.Region,
				Record:   recordFor(rowID, st, now),
			})
		default:
			return nil, &Error{Kind: KindMatching, Op: "plan", EntityID: st.Entity.ID,
				Err: fmt.Errorf("%w: active entity is %s", ErrUnexpectedClass, class)}
		}
	}

	for _, c := range []matcher.Class{matcher.UnchangedActive, matcher.NewlyActive, matcher.BecameInactive, matcher.StillInactive} {
		metrics.RecordClassification(c.String(), countOf(cls, c))
	}
	e.logger.Debug(ctx, "plan built",
		logger.Int("deletes", len(plan.Deletes)),
		logger.Int("replaces", len(plan.Replaces)),
		logger.Int("inserts", len(plan.Inserts)),
		logger.Int("retained", len(plan.Retained)),
	)
	return plan, nil
}

func countOf(cls *matcher.Classification, c matcher.Class) int {
	switch c {
	case matcher.UnchangedActive:
		return len(cls.UnchangedActive)
	case matcher.NewlyActive:
		return len(cls.NewlyActive)
	case matcher.BecameInactive:
		return len(cls.BecameInactive)
	default:
		return len(cls.StillInactive)
	}
}

func (e *Engine) nextID(ctx context.Context, entityID string) (int64, error) {
	id, err := e.store.NextID(ctx)
	if err != nil {
		return 0, &Error{Kind: KindRepository, Op: "next_id", EntityID: entityID, Err: err}
	}
	return id, nil
}

// needsReplace reports whether the persisted record differs from the
// freshly computed standing in anything it stores.
func needsReplace(old model.ScoreRecord, st *ranking.Standing) bool {
	e := &st.Entity
	return !old.Score.Equal(e.Score) ||
		!sameMetric(old.Metric, e.Metric) ||
		old.Current != st.Current ||
		old.Region != e.Region ||
		old.Name != e.Name ||
		old.SourceRank != e.SourceRank
}

// sameMetric treats two NaN metrics as equal.
func sameMetric(a, b float64) bool {
	if math.IsNaN(a) || math.IsNaN(b) {
		return math.IsNaN(a) && math.IsNaN(b)
	}
	return a == b
}

func recordFor(rowID int64, st *ranking.Standing, now time.Time) model.ScoreRecord {
	return model.ScoreRecord{
		RowID:      rowID,
		EntityID:   st.Entity.ID,
		Name:       st.Entity.Name,
		Region:     st.Entity.Region,
		Score:      st.Entity.Score,
		Metric:     st.Entity.Metric,
		SourceRank: st.Entity.SourceRank,
		Current:    st.Current,
		Previous:   st.Previous,
		UpdatedAt:  now,
	}
}

// Apply runs the plan bucket by bucket: deletes, then replacements, then
// inserts. Operations inside a bucket run concurrently up to the configured
// limit. The first failure cancels the rest and is returned as a
// KindRepository *Error; mutations already applied are left in place.
// After all buckets succeed the counter updater runs; its failure is
// returned as KindCounter together with the report.
func (e *Engine) Apply(ctx context.Context, plan *Plan) (*Report, error) {
	if plan == nil {
		return nil, ErrNilPlan
	}
	if plan.applied {
		return nil, ErrAlreadyApplied
	}
	plan.applied = true

	report := &Report{
		Skipped:         len(plan.Skipped),
		Held:            len(plan.Held),
		UnchangedActive: len(plan.Classification.UnchangedActive),
		NewlyActive:     len(plan.Classification.NewlyActive),
		BecameInactive:  len(plan.Classification.BecameInactive),
		StillInactive:   len(plan.Classification.StillInactive),
		Retained:        len(plan.Retained),
		Inactive:        plan.Inactive,
	}

	var tally tally
	for _, b := range buckets {
		err := e.runBucket(ctx, b, plan.Bucket(b), &tally)
		tally.fill(report)
		if err != nil {
			e.logger.Error(ctx, "batch aborted",
				logger.String("bucket", b.String()),
				logger.Error(err),
			)
			return report, err
		}
	}

	if e.counters == nil || len(plan.Inactive) == 0 {
		return report, nil
	}
	n, err := e.counters.Apply(ctx, plan.Inactive)
	report.RegionsIncremented = n
	if err != nil {
		e.logger.Error(ctx, "record mutations applied but region counters incomplete", logger.Error(err))
		return report, &Error{Kind: KindCounter, Op: "increment", Err: err}
	}
	return report, nil
}

type tally struct {
	deleted, alreadyDeleted, replaced, inserted atomic.Int64
}

func (t *tally) fill(r *Report) {
	r.Deleted = int(t.deleted.Load())
	r.AlreadyDeleted = int(t.alreadyDeleted.Load())
	r.Replaced = int(t.replaced.Load())
	r.Inserted = int(t.inserted.Load())
}

func (e *Engine) runBucket(ctx context.Context, b Bucket, ops []Op, t *tally) error {
	if len(ops) == 0 {
		return nil
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)

	for i := range ops {
		op := ops[i]
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			err := e.apply(gctx, b, op, t)
			if err != nil {
				metrics.RecordMutation(op.Kind.String(), "failed")
				metrics.RecordErrorByComponent("reconcile", op.Kind.String()+"_error")
			}
			return err
		})
	}
	err := g.Wait()
	var re *Error
	if err != nil && !errors.As(err, &re) {
		// Cancellation of the parent context before any op failed.
		err = &Error{Kind: KindRepository, Op: b.String(), Bucket: b, Err: err}
	}
	return err
}

func (e *Engine) apply(ctx context.Context, b Bucket, op Op, t *tally) error {
	switch op.Kind {
	case OpDelete:
		return e.applyDelete(ctx, b, op, t)
	case OpReplace:
		return e.applyReplace(ctx, b, op, t)
	case OpInsert:
		if err := e.insert(ctx, b, op, ""); err != nil {
			return err
		}
		t.inserted.Add(1)
		metrics.RecordMutation("insert", "applied")
		return nil
	default:
		return &Error{Kind: KindRepository, Op: op.Kind.String(), Bucket: b, EntityID: op.EntityID,
			Err: fmt.Errorf("unknown op kind %d", op.Kind)}
	}
}

func (e *Engine) applyDelete(ctx context.Context, b Bucket, op Op, t *tally) error {
	res, err := e.store.Delete(ctx, op.OldRowID)
	if err != nil {
		return &Error{Kind: KindRepository, Op: "delete", Bucket: b, EntityID: op.EntityID, RowID: op.OldRowID, Err: err}
	}
	if res.Outcome == repository.OutcomeNotFound {
		e.logger.Warn(ctx, "record already deleted",
			logger.String("entity_id", op.EntityID),
			logger.Int64("row_id", op.OldRowID),
		)
		t.alreadyDeleted.Add(1)
		metrics.RecordMutation("delete", "not_found")
		return nil
	}
	t.deleted.Add(1)
	metrics.RecordMutation("delete", "applied")
	return nil
}

func (e *Engine) applyReplace(ctx context.Context, b Bucket, op Op, t *tally) error {
	if r, ok := e.store.(repository.Replacer); ok {
		res, err := r.Replace(ctx, op.OldRowID, op.Record)
		if err != nil {
			return &Error{Kind: KindRepository, Op: "replace", Bucket: b, EntityID: op.EntityID, RowID: op.OldRowID, Err: err}
		}
		if res.Outcome == repository.OutcomeNotFound {
			e.logger.Warn(ctx, "replaced record vanished, inserting",
				logger.String("entity_id", op.EntityID),
				logger.Int64("row_id", op.OldRowID),
			)
			if err := e.insert(ctx, b, op, "insert"); err != nil {
				return err
			}
		}
		t.replaced.Add(1)
		metrics.RecordMutation("replace", "applied")
		return nil
	}

	res, err := e.store.Delete(ctx, op.OldRowID)
	if err != nil {
		return &Error{Kind: KindRepository, Op: "replace", Bucket: b, Stage: "delete", EntityID: op.EntityID, RowID: op.OldRowID, Err: err}
	}
	if res.Outcome == repository.OutcomeNotFound {
		e.logger.Warn(ctx, "replaced record vanished, inserting",
			logger.String("entity_id", op.EntityID),
			logger.Int64("row_id", op.OldRowID),
		)
	}
	// The old row is gone from here on; a failure names the insert stage.
	if err := e.insert(ctx, b, op, "insert"); err != nil {
		return err
	}
	t.replaced.Add(1)
	metrics.RecordMutation("replace", "applied")
	return nil
}

func (e *Engine) insert(ctx context.Context, b Bucket, op Op, stage string) error {
	if _, err := e.store.Insert(ctx, op.Record); err != nil {
		return &Error{Kind: KindRepository, Op: op.Kind.String(), Bucket: b, Stage: stage,
			EntityID: op.EntityID, RowID: op.Record.RowID, Err: err}
	}
	return nil
}
