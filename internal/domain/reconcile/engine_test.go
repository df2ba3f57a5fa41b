package reconcile_test

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/okian/standings/internal/adapters/repository"
	"github.com/okian/standings/internal/domain/aggregate"
	"github.com/okian/standings/internal/domain/matcher"
	"github.com/okian/standings/internal/domain/model"
	"github.com/okian/standings/internal/domain/reconcile"
	"github.com/okian/standings/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

func init() {
	if err := logger.Init(); err != nil {
		panic(err)
	}
}

var errInjected = errors.New("injected failure")

// splitStore exposes only the plain Store methods, so replacements go
// through delete then insert. Failures are injected per entity.
type splitStore struct {
	inner *repository.MemoryStore

	mu           sync.Mutex
	failDelete   map[int64]bool
	failInsert   map[string]bool
	failIncr     map[string]bool
	insertCalls  int
	deleteCalls  int
	incrementsOK []string
}

func newSplitStore() *splitStore {
	return &splitStore{
		inner:      repository.NewMemoryStore(context.Background(), repository.WithMetricsUpdateInterval(time.Hour)),
		failDelete: make(map[int64]bool),
		failInsert: make(map[string]bool),
		failIncr:   make(map[string]bool),
	}
}

func (s *splitStore) FetchAllActive(ctx context.Context, region string) ([]model.ScoreRecord, error) {
	return s.inner.FetchAllActive(ctx, region)
}

func (s *splitStore) NextID(ctx context.Context) (int64, error) { return s.inner.NextID(ctx) }

func (s *splitStore) Insert(ctx context.Context, rec model.ScoreRecord) (repository.Result, error) {
	s.mu.Lock()
	s.insertCalls++
	fail := s.failInsert[rec.EntityID]
	s.mu.Unlock()
	if fail {
		return repository.Result{}, errInjected
	}
	return s.inner.Insert(ctx, rec)
}

func (s *splitStore) Delete(ctx context.Context, rowID int64) (repository.Result, error) {
	s.mu.Lock()
	s.deleteCalls++
	fail := s.failDelete[rowID]
	s.mu.Unlock()
	if fail {
		return repository.Result{}, errInjected
	}
	return s.inner.Delete(ctx, rowID)
}

func (s *splitStore) IncrementRegionCounter(ctx context.Context, region string, amount int64) (repository.Result, error) {
	s.mu.Lock()
	fail := s.failIncr[region]
	s.mu.Unlock()
	if fail {
		return repository.Result{}, errInjected
	}
	s.mu.Lock()
	s.incrementsOK = append(s.incrementsOK, region)
	s.mu.Unlock()
	return s.inner.IncrementRegionCounter(ctx, region, amount)
}

func active(id, region, score string) model.Entity {
	return model.Entity{ID: id, Name: "n-" + id, Region: region, Score: model.MustParseScore(score), Active: true}
}

func snapshot(entities ...model.Entity) model.Snapshot {
	return model.Snapshot{Entities: entities, Pages: 1, FetchedAt: time.Now()}
}

func byID(t *testing.T, s interface {
	FetchByExternalID(context.Context, string) (model.ScoreRecord, error)
}, id string) model.ScoreRecord {
	t.Helper()
	rec, err := s.FetchByExternalID(context.Background(), id)
	if err != nil {
		t.Fatalf("fetch %s: %v", id, err)
	}
	return rec
}

func globalPrev(r model.ScoreRecord) (int, bool) { return r.Previous.GlobalByScore.Int() }

func TestReconcileScenarios(t *testing.T) {
	ctx := context.Background()

	Convey("Given a store holding A(R1,100) and B(R1,90)", t, func() {
		store := repository.NewMemoryStore(ctx, repository.WithMetricsUpdateInterval(time.Hour))
		defer store.Close()
		engine := reconcile.NewEngine(store, reconcile.WithCounterUpdater(aggregate.NewUpdater(store)))

		_, err := engine.Reconcile(ctx, snapshot(active("A", "R1", "100"), active("B", "R1", "90")))
		So(err, ShouldBeNil)
		So(byID(t, store, "A").Current.Score.Global, ShouldEqual, 1)
		So(byID(t, store, "B").Current.Score.Global, ShouldEqual, 2)

		Convey("When A rises to 110 and C(R1,95) appears", func() {
			report, err := engine.Reconcile(ctx, snapshot(
				active("A", "R1", "110"), active("C", "R1", "95"), active("B", "R1", "90"),
			))
			So(err, ShouldBeNil)

			Convey("Then A and B are replaced and C inserted", func() {
				So(report.Replaced, ShouldEqual, 2)
				So(report.Inserted, ShouldEqual, 1)
				So(report.Deleted, ShouldEqual, 0)
				So(report.RegionsIncremented, ShouldEqual, 0)
			})

			Convey("Then ranks follow the new scores and history holds the pre-batch ranks", func() {
				a, b, c := byID(t, store, "A"), byID(t, store, "B"), byID(t, store, "C")
				So(a.Current.Score.Global, ShouldEqual, 1)
				So(c.Current.Score.Global, ShouldEqual, 2)
				So(b.Current.Score.Global, ShouldEqual, 3)

				prev, ok := globalPrev(a)
				So(ok, ShouldBeTrue)
				So(prev, ShouldEqual, 1)
				prev, ok = globalPrev(b)
				So(ok, ShouldBeTrue)
				So(prev, ShouldEqual, 2)
				So(b.Delta(model.ByScore).Global, ShouldEqual, -1)

				So(c.Previous, ShouldResemble, model.NoPreviousRanks)
				So(c.Delta(model.ByScore).Global, ShouldEqual, 0)
			})

			Convey("Then region R1 counters are untouched", func() {
				regions, err := store.Regions(ctx)
				So(err, ShouldBeNil)
				So(regions, ShouldBeEmpty)
			})
		})

		Convey("When D(R2) was persisted and is missing from the next fetch", func() {
			_, err := engine.Reconcile(ctx, snapshot(
				active("A", "R1", "100"), active("B", "R1", "90"), active("D", "R2", "50"),
			))
			So(err, ShouldBeNil)

			report, err := engine.Reconcile(ctx, snapshot(active("A", "R1", "100"), active("B", "R1", "90")))
			So(err, ShouldBeNil)

			Convey("Then D is deleted and R2 counts one inactive entity", func() {
				So(report.Deleted, ShouldEqual, 1)
				So(report.BecameInactive, ShouldEqual, 1)
				_, err := store.FetchByExternalID(ctx, "D")
				So(errors.Is(err, repository.ErrNotFound), ShouldBeTrue)

				regions, err := store.Regions(ctx)
				So(err, ShouldBeNil)
				So(len(regions), ShouldEqual, 1)
				So(regions[0].ID, ShouldEqual, "R2")
				So(regions[0].RecentInactive, ShouldEqual, 1)
				So(regions[0].TotalInactive, ShouldEqual, 1)
			})
		})

		Convey("When a persisted entity is flagged inactive by the source", func() {
			b := active("B", "R1", "90")
			b.Active = false
			report, err := engine.Reconcile(ctx, snapshot(active("A", "R1", "100"), b))
			So(err, ShouldBeNil)

			Convey("Then it is deleted and counted against its region", func() {
				So(report.Deleted, ShouldEqual, 1)
				So(report.Inactive, ShouldResemble, map[string]int64{"R1": 1})
				n, err := store.Count(ctx)
				So(err, ShouldBeNil)
				So(n, ShouldEqual, 1)
			})
		})
	})
}

func TestReconcileIdempotent(t *testing.T) {
	ctx := context.Background()

	Convey("Given a snapshot reconciled once", t, func() {
		store := repository.NewMemoryStore(ctx, repository.WithMetricsUpdateInterval(time.Hour))
		defer store.Close()
		engine := reconcile.NewEngine(store, reconcile.WithCounterUpdater(aggregate.NewUpdater(store)))

		snap := snapshot(
			active("A", "EU", "300"), active("B", "US", "200"),
			active("C", "EU", "200"), active("D", "US", "100"),
		)
		gone := active("E", "EU", "1")
		gone.Active = false
		snap.Entities = append(snap.Entities, gone)

		_, err := engine.Reconcile(ctx, snap)
		So(err, ShouldBeNil)
		before, err := store.FetchAllActive(ctx, "")
		So(err, ShouldBeNil)

		Convey("When the same snapshot is reconciled again", func() {
			report, err := engine.Reconcile(ctx, snap)
			So(err, ShouldBeNil)

			Convey("Then nothing is mutated", func() {
				So(report.Deleted, ShouldEqual, 0)
				So(report.Inserted, ShouldEqual, 0)
				So(report.Replaced, ShouldEqual, 0)
				So(report.RegionsIncremented, ShouldEqual, 0)
				So(report.Retained, ShouldEqual, 4)
				So(report.StillInactive, ShouldEqual, 1)

				after, err := store.FetchAllActive(ctx, "")
				So(err, ShouldBeNil)
				So(len(after), ShouldEqual, len(before))
				for i := range after {
					So(after[i].RowID, ShouldEqual, before[i].RowID)
				}
			})
		})
	})
}

func TestPlanIsBuiltBeforeMutation(t *testing.T) {
	ctx := context.Background()

	Convey("Given a plan over A(100), B(90)", t, func() {
		store := newSplitStore()
		engine := reconcile.NewEngine(store)

		fetched := []model.Entity{active("A", "R1", "100"), active("B", "R1", "90")}
		plan, err := engine.Plan(ctx, nil, fetched)
		So(err, ShouldBeNil)

		Convey("Then row ids are reserved but nothing is written", func() {
			So(len(plan.Inserts), ShouldEqual, 2)
			So(plan.Inserts[0].Record.RowID, ShouldNotEqual, plan.Inserts[1].Record.RowID)
			So(store.insertCalls, ShouldEqual, 0)
			So(store.deleteCalls, ShouldEqual, 0)
		})

		Convey("Then a plan cannot be applied twice", func() {
			_, err := engine.Apply(ctx, plan)
			So(err, ShouldBeNil)
			_, err = engine.Apply(ctx, plan)
			So(errors.Is(err, reconcile.ErrAlreadyApplied), ShouldBeTrue)
		})
	})
}

func TestReconcileFailures(t *testing.T) {
	ctx := context.Background()

	Convey("Given a store seeded with A(R1,100), B(R1,90), D(R2,50)", t, func() {
		store := newSplitStore()
		engine := reconcile.NewEngine(store,
			reconcile.WithCounterUpdater(aggregate.NewUpdater(store)),
			reconcile.WithConcurrency(2),
		)
		_, err := engine.Reconcile(ctx, snapshot(
			active("A", "R1", "100"), active("B", "R1", "90"), active("D", "R2", "50"),
		))
		So(err, ShouldBeNil)
		d := byID(t, store.inner, "D")

		Convey("When deleting D fails", func() {
			store.failDelete[d.RowID] = true
			report, err := engine.Reconcile(ctx, snapshot(
				active("A", "R1", "100"), active("B", "R1", "90"), active("N", "R1", "10"),
			))

			Convey("Then the batch aborts with a repository error naming the entity", func() {
				var re *reconcile.Error
				So(errors.As(err, &re), ShouldBeTrue)
				So(re.Kind, ShouldEqual, reconcile.KindRepository)
				So(re.Bucket, ShouldEqual, reconcile.BucketDelete)
				So(re.EntityID, ShouldEqual, "D")
				So(re.RowID, ShouldEqual, d.RowID)
				So(errors.Is(err, errInjected), ShouldBeTrue)
				So(reconcile.IsPartial(err), ShouldBeFalse)
				So(report, ShouldNotBeNil)
				So(report.Inserted, ShouldEqual, 0)
			})

			Convey("Then later buckets never ran and counters are untouched", func() {
				_, ferr := store.inner.FetchByExternalID(ctx, "N")
				So(errors.Is(ferr, repository.ErrNotFound), ShouldBeTrue)
				regions, rerr := store.inner.Regions(ctx)
				So(rerr, ShouldBeNil)
				So(regions, ShouldBeEmpty)
			})
		})

		Convey("When the insert half of a split replacement fails", func() {
			store.failInsert["A"] = true
			_, err := engine.Reconcile(ctx, snapshot(
				active("A", "R1", "120"), active("B", "R1", "90"), active("D", "R2", "50"),
			))

			Convey("Then the error names the insert stage of the replace bucket", func() {
				var re *reconcile.Error
				So(errors.As(err, &re), ShouldBeTrue)
				So(re.Kind, ShouldEqual, reconcile.KindRepository)
				So(re.Bucket, ShouldEqual, reconcile.BucketReplace)
				So(re.Stage, ShouldEqual, "insert")
				So(re.EntityID, ShouldEqual, "A")
			})
		})

		Convey("When a region increment fails", func() {
			store.failIncr["R2"] = true
			report, err := engine.Reconcile(ctx, snapshot(active("A", "R1", "100"), active("B", "R1", "90")))

			Convey("Then the result is a partial success carrying the pending increment", func() {
				So(reconcile.IsPartial(err), ShouldBeTrue)
				So(report, ShouldNotBeNil)
				So(report.Deleted, ShouldEqual, 1)
				So(report.RegionsIncremented, ShouldEqual, 0)

				var ae *aggregate.Error
				So(errors.As(err, &ae), ShouldBeTrue)
				So(ae.Pending(), ShouldResemble, map[string]int64{"R2": 1})
				So(errors.Is(err, aggregate.ErrIncomplete), ShouldBeTrue)
			})
		})

		Convey("When a planned delete finds its row already gone", func() {
			persisted, err := store.FetchAllActive(ctx, "")
			So(err, ShouldBeNil)
			plan, err := engine.Plan(ctx, persisted, []model.Entity{active("A", "R1", "100"), active("B", "R1", "90")})
			So(err, ShouldBeNil)
			_, err = store.inner.Delete(ctx, d.RowID)
			So(err, ShouldBeNil)

			report, err := engine.Apply(ctx, plan)

			Convey("Then it counts as already applied", func() {
				So(err, ShouldBeNil)
				So(report.Deleted, ShouldEqual, 0)
				So(report.AlreadyDeleted, ShouldEqual, 1)
				So(report.RegionsIncremented, ShouldEqual, 1)
			})
		})
	})
}

func TestReconcileSkippedPersistedEntity(t *testing.T) {
	ctx := context.Background()

	Convey("Given a store holding A(R1,100) and B(R1,90)", t, func() {
		store := repository.NewMemoryStore(ctx, repository.WithMetricsUpdateInterval(time.Hour))
		defer store.Close()
		engine := reconcile.NewEngine(store, reconcile.WithCounterUpdater(aggregate.NewUpdater(store)))

		_, err := engine.Reconcile(ctx, snapshot(active("A", "R1", "100"), active("B", "R1", "90")))
		So(err, ShouldBeNil)
		before := byID(t, store, "B")

		Convey("When B arrives without a region", func() {
			report, err := engine.Reconcile(ctx, snapshot(active("A", "R1", "100"), active("B", "", "95")))
			So(err, ShouldBeNil)

			Convey("Then B is skipped and its record is left untouched", func() {
				So(report.Skipped, ShouldEqual, 1)
				So(report.Held, ShouldEqual, 1)
				So(report.BecameInactive, ShouldEqual, 0)
				So(report.Deleted, ShouldEqual, 0)
				So(report.RegionsIncremented, ShouldEqual, 0)

				after := byID(t, store, "B")
				So(after.RowID, ShouldEqual, before.RowID)
				So(after.Score.String(), ShouldEqual, "90")
			})

			Convey("Then no region counted an inactive transition", func() {
				regions, err := store.Regions(ctx)
				So(err, ShouldBeNil)
				for _, r := range regions {
					So(r.RecentInactive, ShouldEqual, 0)
					So(r.TotalInactive, ShouldEqual, 0)
				}
			})
		})

		Convey("When B arrives twice", func() {
			report, err := engine.Reconcile(ctx, snapshot(
				active("A", "R1", "100"), active("B", "R1", "120"), active("B", "R1", "10"),
			))
			So(err, ShouldBeNil)

			Convey("Then the first occurrence wins and nothing is held", func() {
				So(report.Skipped, ShouldEqual, 1)
				So(report.Held, ShouldEqual, 0)
				So(report.BecameInactive, ShouldEqual, 0)
				So(report.Replaced, ShouldEqual, 2)

				b := byID(t, store, "B")
				So(b.Score.String(), ShouldEqual, "120")
				So(b.Current.Score.Global, ShouldEqual, 1)
			})
		})

		Convey("When B later arrives well formed but inactive", func() {
			_, err := engine.Reconcile(ctx, snapshot(active("A", "R1", "100"), active("B", "", "95")))
			So(err, ShouldBeNil)
			gone := active("B", "R1", "90")
			gone.Active = false
			report, err := engine.Reconcile(ctx, snapshot(active("A", "R1", "100"), gone))
			So(err, ShouldBeNil)

			Convey("Then the real transition is counted once", func() {
				So(report.BecameInactive, ShouldEqual, 1)
				So(report.Deleted, ShouldEqual, 1)
				regions, err := store.Regions(ctx)
				So(err, ShouldBeNil)
				So(len(regions), ShouldEqual, 1)
				So(regions[0].TotalInactive, ShouldEqual, 1)
			})
		})
	})
}

func TestReconcileNaNMetricIdempotent(t *testing.T) {
	ctx := context.Background()

	Convey("Given an entity whose metric is NaN", t, func() {
		store := repository.NewMemoryStore(ctx, repository.WithMetricsUpdateInterval(time.Hour))
		defer store.Close()
		engine := reconcile.NewEngine(store)

		odd := active("A", "R1", "100")
		odd.Metric = math.NaN()
		snap := snapshot(odd, active("B", "R1", "90"))

		_, err := engine.Reconcile(ctx, snap)
		So(err, ShouldBeNil)

		Convey("Then reconciling the same snapshot again changes nothing", func() {
			report, err := engine.Reconcile(ctx, snap)
			So(err, ShouldBeNil)
			So(report.Replaced, ShouldEqual, 0)
			So(report.Retained, ShouldEqual, 2)
		})
	})
}

func TestReconcileMatchingError(t *testing.T) {
	Convey("Given a sanitizer that tolerates one skipped entry", t, func() {
		store := newSplitStore()
		engine := reconcile.NewEngine(store, reconcile.WithSanitizer(matcher.NewSanitizer(matcher.WithMaxSkipped(1))))

		Convey("When the snapshot has two entries without a region", func() {
			_, err := engine.Reconcile(context.Background(), snapshot(
				active("A", "", "1"), active("B", "", "2"), active("C", "R1", "3"),
			))

			Convey("Then the pass fails with a matching error before touching the store", func() {
				kind, ok := reconcile.KindOf(err)
				So(ok, ShouldBeTrue)
				So(kind, ShouldEqual, reconcile.KindMatching)
				So(errors.Is(err, matcher.ErrTooManySkipped), ShouldBeTrue)
				So(store.insertCalls, ShouldEqual, 0)
			})
		})
	})
}

func TestReconcileConcurrentBucket(t *testing.T) {
	ctx := context.Background()

	Convey("Given many new entities and a concurrency limit of 4", t, func() {
		store := repository.NewMemoryStore(ctx, repository.WithMetricsUpdateInterval(time.Hour))
		defer store.Close()
		engine := reconcile.NewEngine(store, reconcile.WithConcurrency(4))

		var entities []model.Entity
		for i := 0; i < 200; i++ {
			entities = append(entities, active(fmt.Sprintf("e%03d", i), fmt.Sprintf("R%d", i%5), fmt.Sprint(1000-i)))
		}

		report, err := engine.Reconcile(ctx, snapshot(entities...))

		Convey("Then every entity is inserted once with dense ranks", func() {
			So(err, ShouldBeNil)
			So(report.Inserted, ShouldEqual, 200)
			recs, err := store.FetchAllActive(ctx, "")
			So(err, ShouldBeNil)
			So(len(recs), ShouldEqual, 200)
			seen := make(map[int]bool)
			for _, r := range recs {
				seen[r.Current.Score.Global] = true
			}
			for i := 1; i <= 200; i++ {
				So(seen[i], ShouldBeTrue)
			}
		})
	})
}

func TestErrorString(t *testing.T) {
	Convey("Given a repository error with full context", t, func() {
		err := &reconcile.Error{
			Kind: reconcile.KindRepository, Op: "replace", Bucket: reconcile.BucketReplace,
			Stage: "insert", EntityID: "A", RowID: 7, Err: errInjected,
		}
		So(err.Error(), ShouldEqual, "repository error: op=replace bucket=replace stage=insert entity=A row=7: injected failure")
		So(errors.Is(err, errInjected), ShouldBeTrue)
	})
}
