package metrics

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	. "github.com/smartystreets/goconvey/convey"
)

func TestMetricsManagerCreation(t *testing.T) {
	Convey("Given metrics manager creation", t, func() {
		Convey("When creating with custom options on a fresh registry", func() {
			registry := prometheus.NewRegistry()
			manager := NewManager(
				WithNamespace("test"),
				WithSubsystem("unit"),
				WithLatencyBuckets([]float64{1, 10, 100}),
				WithPassBuckets([]float64{1000, 60000}),
				WithConstLabels(prometheus.Labels{"env": "test"}),
				WithRegistry(registry),
			)
			manager.passesTotal.WithLabelValues("success").Inc()
			manager.passDuration.Observe(1500)
			manager.repositoryQueryLatency.Observe(5)

			Convey("Then metric names carry the namespace and subsystem and every series the const label", func() {
				families, err := registry.Gather()
				So(err, ShouldBeNil)
				found := false
				for _, f := range families {
					if f.GetName() == "test_unit_passes_total" {
						found = true
						So(f.GetMetric()[0].GetLabel()[0].GetName(), ShouldEqual, "env")
					}
				}
				So(found, ShouldBeTrue)
			})

			Convey("Then pass and latency histograms use their own buckets", func() {
				families, err := registry.Gather()
				So(err, ShouldBeNil)
				buckets := map[string]int{}
				for _, f := range families {
					if m := f.GetMetric(); len(m) > 0 && m[0].GetHistogram() != nil {
						buckets[f.GetName()] = len(m[0].GetHistogram().GetBucket())
					}
				}
				So(buckets["test_unit_pass_duration_milliseconds"], ShouldEqual, 2)
				So(buckets["test_unit_repository_query_latency_milliseconds"], ShouldEqual, 3)
			})
		})

		Convey("When creating a second manager on the same registry", func() {
			registry := prometheus.NewRegistry()
			NewManager(WithRegistry(registry))

			Convey("Then registration panics on duplicate names", func() {
				So(func() { NewManager(WithRegistry(registry)) }, ShouldPanic)
			})
		})
	})
}

func TestMetricsRecording(t *testing.T) {
	Convey("Given the global manager", t, func() {
		Convey("When recording a pass", func() {
			before := testutil.ToFloat64(globalManager.passesTotal.WithLabelValues("partial"))
			RecordPass("partial", 120)
			UpdateLastPassUnix(1700000000)

			Convey("Then the outcome counter increases", func() {
				So(testutil.ToFloat64(globalManager.passesTotal.WithLabelValues("partial")), ShouldEqual, before+1)
				So(testutil.ToFloat64(globalManager.lastPassUnix), ShouldEqual, 1700000000)
			})
		})

		Convey("When recording source activity", func() {
			pages := testutil.ToFloat64(globalManager.sourcePages)
			entities := testutil.ToFloat64(globalManager.sourceEntities)
			RecordSourcePage(25)
			RecordSourceReauth()
			RecordSourceError("fetch_page")
			RecordSourceRequestLatency("fetch_page", 12)
			SetSourceBreakerState(2)

			Convey("Then pages and entities are counted", func() {
				So(testutil.ToFloat64(globalManager.sourcePages), ShouldEqual, pages+1)
				So(testutil.ToFloat64(globalManager.sourceEntities), ShouldEqual, entities+25)
				So(testutil.ToFloat64(globalManager.sourceBreakerState), ShouldEqual, 2)
			})
		})

		Convey("When recording mutations and counters", func() {
			before := testutil.ToFloat64(globalManager.mutations.WithLabelValues("delete", "not_found"))
			RecordMutation("delete", "not_found")
			RecordRegionIncrement(3)
			RecordCounterFailure()
			RecordSkippedEntities(0)
			RecordSkippedEntities(2)
			RecordClassification("newly-active", 7)

			Convey("Then labelled series move independently", func() {
				So(testutil.ToFloat64(globalManager.mutations.WithLabelValues("delete", "not_found")), ShouldEqual, before+1)
				So(testutil.ToFloat64(globalManager.lastPassEntities.WithLabelValues("newly-active")), ShouldEqual, 7)
			})
		})

		Convey("When recording trigger requests", func() {
			accepted := testutil.ToFloat64(globalManager.triggerRequests.WithLabelValues("accepted"))
			pending := testutil.ToFloat64(globalManager.triggerRequests.WithLabelValues("pending"))
			RecordTriggerRequest("accepted")
			RecordTriggerRequest("pending")
			RecordTriggerRequest("pending")

			Convey("Then each outcome is counted separately", func() {
				So(testutil.ToFloat64(globalManager.triggerRequests.WithLabelValues("accepted")), ShouldEqual, accepted+1)
				So(testutil.ToFloat64(globalManager.triggerRequests.WithLabelValues("pending")), ShouldEqual, pending+2)
			})
		})

		Convey("When recording the remaining families", func() {
			So(func() {
				UpdateRepositoryRecordsTotal(10)
				UpdateRegionCount(2)
				RecordRepositoryUpdateLatency(1)
				RecordRepositoryQueryLatency(1)
				UpdateQueueCapacity(1)
				UpdateQueueSize(0)
				RecordQueueEnqueue()
				RecordQueueDequeue()
				RecordQueueEnqueueError()
				RecordQueueProcessingLatency(0)
				UpdateWorkerActiveCount(1)
				RecordWorkerProcessingLatency(10)
				RecordWorkerError()
				RecordHTTPRequest("stats", "GET", "200")
				RecordHTTPRequestDuration("stats", "GET", "200", 1)
				RecordErrorByComponent("source", "timeout")
				RecordErrorByType("server_error", "server")
				RecordErrorByEndpoint("stats", "GET", "server_error")
				RecordErrorLatency("http", "server_error", 3)
				UpdateSystemMemoryUsage(1 << 20)
				UpdateSystemGoroutineCount(10)
				RecordSystemGCPauseTime(0.5)
			}, ShouldNotPanic)
		})
	})
}

func TestGetRegistry(t *testing.T) {
	Convey("The custom registry exposes standings metrics", t, func() {
		RecordPass("success", 1)
		families, err := GetRegistry().Gather()
		So(err, ShouldBeNil)
		names := make([]string, 0, len(families))
		for _, f := range families {
			names = append(names, f.GetName())
		}
		So(strings.Join(names, ","), ShouldContainSubstring, "standings_reconcile_passes_total")
	})
}
