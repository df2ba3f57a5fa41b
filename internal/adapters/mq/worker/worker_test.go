package worker_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	queue "github.com/okian/standings/internal/adapters/mq/queue"
	worker "github.com/okian/standings/internal/adapters/mq/worker"
	model "github.com/okian/standings/internal/domain/model"
	logging "github.com/okian/standings/pkg/logger"
	"github.com/smartystreets/goconvey/convey"
)

type mockQueue struct {
	triggers chan queue.Trigger
}

func newMockQueue() *mockQueue {
	return &mockQueue{triggers: make(chan queue.Trigger, 10)}
}

func (mq *mockQueue) Dequeue(ctx context.Context) <-chan queue.Trigger {
	return mq.triggers
}

// mockRunner records passes and tracks how many overlap.
type mockRunner struct {
	mu      sync.Mutex
	ran     []string
	errs    map[string]error
	delay   time.Duration
	running atomic.Int32
	overlap atomic.Bool
	bounded atomic.Bool
}

func (r *mockRunner) RunPass(ctx context.Context, t queue.Trigger) error {
	if r.running.Add(1) > 1 {
		r.overlap.Store(true)
	}
	defer r.running.Add(-1)
	if _, ok := ctx.Deadline(); ok {
		r.bounded.Store(true)
	}
	time.Sleep(r.delay)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.ran = append(r.ran, t.ID)
	return r.errs[t.ID]
}

func (r *mockRunner) passes() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.ran...)
}

func trigger(id string) model.Trigger {
	return model.Trigger{ID: id, Reason: "test", RequestedAt: time.Now()}
}

func TestInMemoryWorker(t *testing.T) {
	convey.Convey("Given a new InMemoryWorker", t, func() {
		_ = logging.Init()

		q := newMockQueue()
		runner := &mockRunner{errs: map[string]error{}, delay: 5 * time.Millisecond}

		convey.Convey("When creating a worker with custom options", func() {
			w := worker.NewInMemoryWorker(q, runner, worker.WithName("reconciler"))

			convey.Convey("Then it should be created successfully", func() {
				convey.So(w, convey.ShouldNotBeNil)
			})
		})

		convey.Convey("When running a worker", func() {
			w := worker.NewInMemoryWorker(q, runner)
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			go w.Run(ctx)

			convey.Convey("And several triggers arrive", func() {
				runner.errs["t2"] = errors.New("pass failed")
				for _, id := range []string{"t1", "t2", "t3"} {
					q.triggers <- trigger(id)
				}
				time.Sleep(100 * time.Millisecond)

				convey.Convey("Then each runs once, in order, never overlapping", func() {
					convey.So(runner.passes(), convey.ShouldResemble, []string{"t1", "t2", "t3"})
					convey.So(runner.overlap.Load(), convey.ShouldBeFalse)
				})
			})

			convey.Convey("And it is shut down", func() {
				sctx, scancel := context.WithTimeout(context.Background(), time.Second)
				defer scancel()

				convey.Convey("Then shutdown completes", func() {
					convey.So(w.Shutdown(sctx), convey.ShouldBeNil)
					convey.So(w.Shutdown(sctx), convey.ShouldBeNil)
				})
			})
		})

		convey.Convey("When passes are bounded by a timeout", func() {
			w := worker.NewInMemoryWorker(q, runner, worker.WithPassTimeout(time.Second))
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			go w.Run(ctx)
			q.triggers <- trigger("t1")
			time.Sleep(50 * time.Millisecond)

			convey.Convey("Then the runner sees a deadline", func() {
				convey.So(runner.passes(), convey.ShouldResemble, []string{"t1"})
				convey.So(runner.bounded.Load(), convey.ShouldBeTrue)
			})
		})

		convey.Convey("When passes are unbounded", func() {
			w := worker.NewInMemoryWorker(q, runner)
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			go w.Run(ctx)
			q.triggers <- trigger("t1")
			time.Sleep(50 * time.Millisecond)

			convey.Convey("Then the runner sees no deadline", func() {
				convey.So(runner.passes(), convey.ShouldResemble, []string{"t1"})
				convey.So(runner.bounded.Load(), convey.ShouldBeFalse)
			})
		})

		convey.Convey("When the queue closes", func() {
			w := worker.NewInMemoryWorker(q, runner)
			done := make(chan struct{})
			go func() {
				w.Run(context.Background())
				close(done)
			}()
			close(q.triggers)

			convey.Convey("Then the worker stops", func() {
				select {
				case <-done:
				case <-time.After(time.Second):
					convey.So("worker did not stop", convey.ShouldBeEmpty)
				}
			})
		})
	})
}
