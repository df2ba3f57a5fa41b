// Package service wires the ranking source, the repository and the
// reconciliation engine into passes, and exposes the read side used by the
// HTTP API.
package service

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/okian/standings/internal/adapters/mq/queue"
	"github.com/okian/standings/internal/adapters/mq/worker"
	"github.com/okian/standings/internal/adapters/repository"
	"github.com/okian/standings/internal/domain/aggregate"
	"github.com/okian/standings/internal/domain/matcher"
	"github.com/okian/standings/internal/domain/model"
	"github.com/okian/standings/internal/domain/ranking"
	"github.com/okian/standings/internal/domain/reconcile"
	"github.com/okian/standings/pkg/logger"
	"github.com/okian/standings/pkg/metrics"
)

// Pass outcomes recorded in metrics and stats.
const (
	OutcomeSuccess = "success"
	OutcomePartial = "partial"
	OutcomeFailed  = "failed"
)

// Trigger reasons.
const (
	ReasonSchedule = "schedule"
	ReasonAPI      = "api"
	ReasonManual   = "manual"
)

// Source produces one complete snapshot of the ranking listing.
type Source interface {
	Drain(ctx context.Context) (model.Snapshot, error)
}

// PassResult describes the last finished pass.
type PassResult struct {
	ID         string            `json:"id"`
	Reason     string            `json:"reason"`
	Outcome    string            `json:"outcome"`
	FinishedAt time.Time         `json:"finished_at"`
	Report     *reconcile.Report `json:"report,omitempty"`
	Error      string            `json:"error,omitempty"`
}

// Service runs reconciliation passes and serves the persisted standings.
type Service struct {
	mu sync.RWMutex

	// passMu serialises passes; it is only ever TryLock'ed.
	passMu sync.Mutex

	// Core components
	store  repository.Store
	source Source
	engine *reconcile.Engine
	queue  *queue.InMemoryQueue
	worker *worker.InMemoryWorker

	// Configuration
	concurrency int
	maxSkipped  int
	interval    time.Duration
	passTimeout time.Duration

	// State
	started   bool
	stopCh    chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
	last      *PassResult
	passes    int64

	now    func() time.Time
	logger logger.Logger
}

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithStore sets the repository. Defaults to an in-memory store.
func WithStore(store repository.Store) Option {
	return func(s *Service) {
		if store != nil {
			s.store = store
		}
	}
}

// WithSource sets the ranking source drained by every pass.
func WithSource(src Source) Option {
	return func(s *Service) {
		if src != nil {
			s.source = src
		}
	}
}

// WithMutationConcurrency bounds concurrent repository calls per bucket.
func WithMutationConcurrency(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

// WithMaxSkipped sets how many malformed snapshot entries a pass tolerates.
// Negative disables the limit.
func WithMaxSkipped(n int) Option {
	return func(s *Service) {
		s.maxSkipped = n
	}
}

// WithReconcileInterval schedules a pass every d after Start. Zero disables.
func WithReconcileInterval(d time.Duration) Option {
	return func(s *Service) {
		if d >= 0 {
			s.interval = d
		}
	}
}

// WithPassTimeout bounds each triggered pass. Zero leaves passes unbounded.
func WithPassTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d >= 0 {
			s.passTimeout = d
		}
	}
}

// WithClock sets the clock used for triggers and pass timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// New constructs a Service. The store and engine are ready immediately so
// one-shot passes and reads work without Start.
func New(ctx context.Context, opts ...Option) *Service {
	s := &Service{
		concurrency: 8,
		maxSkipped:  100,
		stopCh:      make(chan struct{}),
		now:         func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logger.Get().Named("service")
	}
	if s.store == nil {
		s.store = repository.NewMemoryStore(ctx)
		s.logger.Info(ctx, "using memory store")
	}

	s.engine = reconcile.NewEngine(s.store,
		reconcile.WithConcurrency(s.concurrency),
		reconcile.WithCounterUpdater(aggregate.NewUpdater(s.store)),
		reconcile.WithSanitizer(matcher.NewSanitizer(matcher.WithMaxSkipped(s.maxSkipped))),
		reconcile.WithClock(s.now),
	)
	return s
}

// Start launches the trigger worker and, when an interval is set, the scheduler.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}

	s.logger.Info(ctx, "starting standings service...")

	s.stopCh = make(chan struct{})
	s.queue = queue.NewInMemoryQueue()
	s.worker = worker.NewInMemoryWorker(s.queue, s,
		worker.WithName("reconciler"),
		worker.WithPassTimeout(s.passTimeout),
		worker.WithLogger(s.logger.Named("worker")),
	)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.worker.Run(ctx)
	}()

	if s.interval > 0 {
		s.wg.Add(1)
		go s.schedule(ctx)
	}

	s.started = true
	s.logger.Info(ctx, "standings service started",
		logger.Int("mutationConcurrency", s.concurrency),
		logger.Int("maxSkipped", s.maxSkipped),
		logger.String("interval", s.interval.String()),
	)
	return nil
}

func (s *Service) schedule(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			if _, err := s.Trigger(ctx, ReasonSchedule); err != nil {
				s.logger.Debug(ctx, "scheduled pass skipped", logger.Error(err))
			}
		}
	}
}

// Stop shuts down the worker and scheduler, waits for a running pass, and
// closes the store.
func (s *Service) Stop() {
	ctx := context.Background()

	s.mu.Lock()
	wasStarted := s.started
	if wasStarted {
		s.logger.Info(ctx, "stopping standings service...")
		select {
		case <-s.stopCh:
		default:
			close(s.stopCh)
		}
		s.started = false
	}
	w, q := s.worker, s.queue
	s.mu.Unlock()

	// A running pass records its result under mu, so wait unlocked.
	if wasStarted {
		if w != nil {
			_ = w.Shutdown(ctx)
		}
		if q != nil {
			_ = q.Close()
		}
		s.wg.Wait()
	}

	s.closeOnce.Do(func() {
		if err := s.store.Close(); err != nil {
			s.logger.Warn(ctx, "closing store", logger.Error(err))
		}
	})
	s.logger.Info(ctx, "standings service stopped")
}

// RunOnce runs one reconciliation pass immediately. It fails with
// ErrPassInProgress when another pass holds the pipeline.
func (s *Service) RunOnce(ctx context.Context) (*reconcile.Report, error) {
	return s.run(ctx, uuid.NewString(), ReasonManual)
}

// RunPass runs the pass requested by a trigger.
func (s *Service) RunPass(ctx context.Context, t queue.Trigger) error {
	_, err := s.run(ctx, t.ID, t.Reason)
	return err
}

func (s *Service) run(ctx context.Context, passID, reason string) (*reconcile.Report, error) {
	if s.source == nil {
		return nil, ErrNoSource
	}
	if !s.passMu.TryLock() {
		return nil, ErrPassInProgress
	}
	defer s.passMu.Unlock()

	start := time.Now()
	s.logger.Info(ctx, "reconciliation pass started",
		logger.String("pass_id", passID),
		logger.String("reason", reason),
	)

	var report *reconcile.Report
	snap, err := s.source.Drain(ctx)
	if err != nil {
		err = &reconcile.Error{Kind: reconcile.KindSource, Op: "drain", Err: err}
	} else {
		report, err = s.engine.Reconcile(ctx, snap)
	}

	s.finish(ctx, passID, reason, start, report, err)
	return report, err
}

func (s *Service) finish(ctx context.Context, passID, reason string, start time.Time, report *reconcile.Report, err error) {
	outcome := OutcomeSuccess
	switch {
	case err == nil:
	case reconcile.IsPartial(err):
		outcome = OutcomePartial
	default:
		outcome = OutcomeFailed
	}

	finished := s.now()
	metrics.RecordPass(outcome, float64(time.Since(start).Milliseconds()))
	metrics.UpdateLastPassUnix(finished.Unix())

	res := &PassResult{ID: passID, Reason: reason, Outcome: outcome, FinishedAt: finished, Report: report}
	fields := []logger.Field{
		logger.String("pass_id", passID),
		logger.String("outcome", outcome),
		logger.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	}
	if report != nil {
		fields = append(fields,
			logger.Int("fetched", report.Fetched),
			logger.Int("deleted", report.Deleted),
			logger.Int("replaced", report.Replaced),
			logger.Int("inserted", report.Inserted),
			logger.Int("retained", report.Retained),
			logger.Int("regions_incremented", report.RegionsIncremented),
		)
	}
	if err != nil {
		res.Error = err.Error()
		kind, _ := reconcile.KindOf(err)
		metrics.RecordErrorByComponent("pipeline", kind.String())
		s.logger.Error(ctx, "reconciliation pass failed", append(fields, logger.Error(err))...)
	} else {
		s.logger.Info(ctx, "reconciliation pass finished", fields...)
	}

	s.mu.Lock()
	s.last = res
	s.passes++
	s.mu.Unlock()
}

// Trigger asks the worker to run a pass. Only one trigger can be pending;
// further requests fail with ErrTriggerPending until the worker picks it up.
func (s *Service) Trigger(ctx context.Context, reason string) (model.Trigger, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.started {
		return model.Trigger{}, ErrNotStarted
	}
	if s.source == nil {
		return model.Trigger{}, ErrNoSource
	}
	t := model.Trigger{ID: uuid.NewString(), Reason: reason, RequestedAt: s.now()}
	if !s.queue.Enqueue(ctx, t) {
		return model.Trigger{}, ErrTriggerPending
	}
	s.logger.Debug(ctx, "pass triggered",
		logger.String("trigger_id", t.ID),
		logger.String("reason", reason),
	)
	return t, nil
}

// Leaderboard returns up to limit records best first for key, optionally
// restricted to one region. A limit of zero or less returns every record.
func (s *Service) Leaderboard(ctx context.Context, limit int, region string, key model.SortKey) ([]model.ScoreRecord, error) {
	records, err := s.store.FetchAllActive(ctx, region)
	if err != nil {
		return nil, err
	}
	sorted := ranking.Sort(records, key, region)
	if limit > 0 && len(sorted) > limit {
		sorted = sorted[:limit]
	}
	return sorted, nil
}

// Standing returns the persisted record of one entity.
// Returns repository.ErrNotFound when the entity is not ranked.
func (s *Service) Standing(ctx context.Context, entityID string) (model.ScoreRecord, error) {
	return s.store.FetchByExternalID(ctx, entityID)
}

// Regions lists the per-region inactivity counters.
func (s *Service) Regions(ctx context.Context) ([]model.Region, error) {
	return s.store.Regions(ctx)
}

// ResetRecentInactive zeroes the recent-window counter of every region and
// returns how many regions were reset.
func (s *Service) ResetRecentInactive(ctx context.Context) (int64, error) {
	res, err := s.store.ResetRecentInactive(ctx)
	if err != nil {
		return 0, err
	}
	s.logger.Info(ctx, "recent inactivity window reset", logger.Int64("regions", res.Affected))
	return res.Affected, nil
}

// LastPass returns the last finished pass, or nil before the first one.
func (s *Service) LastPass() *PassResult {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.last
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx := context.Background()
	stats := map[string]interface{}{
		"started":             s.started,
		"sourceConfigured":    s.source != nil,
		"mutationConcurrency": s.concurrency,
		"maxSkipped":          s.maxSkipped,
		"intervalSeconds":     int64(s.interval / time.Second),
		"passes":              s.passes,
	}

	if n, err := s.store.Count(ctx); err == nil {
		stats["records"] = n
		metrics.UpdateRepositoryRecordsTotal(n)
	}
	if s.started {
		stats["pendingTriggers"] = s.queue.Len(ctx)
	}
	return stats
}
