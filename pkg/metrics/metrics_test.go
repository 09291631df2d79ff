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
		Convey("When creating with a private registry and custom options", func() {
			registry := prometheus.NewRegistry()
			manager := NewManager(
				WithNamespace("test"),
				WithSubsystem("seg"),
				WithHistogramBuckets([]float64{0.1, 0.5, 1.0}),
				WithConstLabels(map[string]string{"env": "test"}),
				WithPrometheusRegistry(registry),
			)

			Convey("Then collectors are registered under the namespace", func() {
				So(manager, ShouldNotBeNil)
				manager.fitRuns.WithLabelValues("success").Inc()
				families, err := registry.Gather()
				So(err, ShouldBeNil)
				found := false
				for _, f := range families {
					if f.GetName() == "test_seg_fit_runs_total" {
						found = true
					}
				}
				So(found, ShouldBeTrue)
			})
		})
	})
}

func TestMetricsRecording(t *testing.T) {
	Convey("Given the global manager", t, func() {
		Convey("When recording training metrics", func() {
			before := testutil.ToFloat64(globalManager.trainingRows.WithLabelValues("kept"))
			RecordTrainingRows("kept", 7)
			RecordTrainingRows("kept", 0)
			RecordFitRun("success")
			RecordFitDuration(0.25)
			UpdateKMeansResult(12, 34.5)

			Convey("Then counters and gauges move", func() {
				So(testutil.ToFloat64(globalManager.trainingRows.WithLabelValues("kept")), ShouldEqual, before+7)
				So(testutil.ToFloat64(globalManager.kmeansIterations), ShouldEqual, 12)
				So(testutil.ToFloat64(globalManager.kmeansInertia), ShouldEqual, 34.5)
			})
		})

		Convey("When recording inference metrics", func() {
			before := testutil.ToFloat64(globalManager.unknownCategories.WithLabelValues("education_tier"))
			RecordUnknownCategory("education_tier")
			RecordRowsAssigned(3)
			RecordRowFailure("missing_field")
			RecordSegment("2")
			RecordAssignLatency(0.001)

			Convey("Then the unknown category counter increments", func() {
				So(testutil.ToFloat64(globalManager.unknownCategories.WithLabelValues("education_tier")), ShouldEqual, before+1)
			})
		})

		Convey("When recording queue, worker, artifact and HTTP metrics", func() {
			So(func() {
				UpdateQueueSize(3)
				UpdateQueueCapacity(64)
				RecordQueueRejected()
				UpdateWorkerCount(4)
				RecordWorkerBatch(0.01)
				RecordArtifactOp("file", "save", "success")
				UpdateArtifactSize(2048)
				UpdateModelVersion(2)
				RecordHTTPRequest("predict", "POST", "200")
				RecordHTTPRequestDuration("predict", "POST", "200", 5)
				RecordErrorByComponent("api", "bad_request")
			}, ShouldNotPanic)
			So(testutil.ToFloat64(globalManager.modelVersion), ShouldEqual, 2)
		})

		Convey("When gathering from the custom registry", func() {
			families, err := GetRegistry().Gather()

			Convey("Then only service metrics are exposed", func() {
				So(err, ShouldBeNil)
				for _, f := range families {
					So(strings.HasPrefix(f.GetName(), "custseg_segmentation_"), ShouldBeTrue)
				}
			})
		})
	})
}
