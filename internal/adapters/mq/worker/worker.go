// Package worker consumes reconciliation triggers and runs one pass per
// trigger, strictly one at a time.
package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/okian/standings/internal/adapters/mq/queue"
	"github.com/okian/standings/pkg/logger"
	"github.com/okian/standings/pkg/metrics"
)

// Runner executes one reconciliation pass for a trigger.
type Runner interface {
	RunPass(ctx context.Context, t queue.Trigger) error
}

// Queue defines how the worker receives triggers.
type Queue interface {
	Dequeue(ctx context.Context) <-chan queue.Trigger
}

// Worker processes triggers until stopped.
type Worker interface {
	// Run starts the worker loop until ctx is canceled.
	Run(ctx context.Context)

	// Shutdown stops the worker after the pass in progress, if any.
	Shutdown(ctx context.Context) error
}

// InMemoryWorker implements Worker. A single worker serialises passes.
type InMemoryWorker struct {
	queue  Queue
	runner Runner
	name   string

	passTimeout time.Duration

	shutdown chan struct{}
	done     chan struct{}

	logger logger.Logger
}

// NewInMemoryWorker creates a new worker with configuration options.
func NewInMemoryWorker(q Queue, runner Runner, opts ...Option) *InMemoryWorker {
	w := &InMemoryWorker{
		queue:    q,
		runner:   runner,
		name:     "worker",
		shutdown: make(chan struct{}),
		done:     make(chan struct{}),
		logger:   logger.Get().Named("worker"),
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.name != "worker" {
		w.logger = w.logger.Named(w.name)
	}
	return w
}

// Run starts the worker loop.
func (w *InMemoryWorker) Run(ctx context.Context) {
	defer close(w.done)

	metrics.UpdateWorkerActiveCount(1)
	defer metrics.UpdateWorkerActiveCount(0)

	triggers := w.queue.Dequeue(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.shutdown:
			return
		case t, ok := <-triggers:
			if !ok {
				return
			}
			if err := w.process(ctx, t); err != nil {
				w.logger.Error(ctx, "reconciliation pass failed",
					logger.String("trigger_id", t.ID),
					logger.Error(err),
				)
			}
		}
	}
}

// Shutdown stops the worker.
func (w *InMemoryWorker) Shutdown(ctx context.Context) error {
	select {
	case <-w.shutdown:
	default:
		close(w.shutdown)
	}

	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		w.logger.Warn(ctx, "shutdown timed out")
		return fmt.Errorf("shutdown timed out: %w", ctx.Err())
	}
}

func (w *InMemoryWorker) process(ctx context.Context, t queue.Trigger) error {
	start := time.Now()
	defer func() {
		metrics.RecordWorkerProcessingLatency(float64(time.Since(start).Milliseconds()))
	}()

	w.logger.Info(ctx, "running triggered pass",
		logger.String("trigger_id", t.ID),
		logger.String("reason", t.Reason),
		logger.Float64("waited_ms", float64(start.Sub(t.RequestedAt).Milliseconds())),
	)
	if w.passTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.passTimeout)
		defer cancel()
	}
	if err := w.runner.RunPass(ctx, t); err != nil {
		metrics.RecordWorkerError()
		metrics.RecordErrorByComponent("worker", "pass_error")
		return fmt.Errorf("trigger %s: %w", t.ID, err)
	}
	return nil
}
