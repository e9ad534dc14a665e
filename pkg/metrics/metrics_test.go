package metrics_test

import (
	"testing"

	"github.com/okian/cfcache/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	. "github.com/smartystreets/goconvey/convey"
)

func TestMetrics(t *testing.T) {
	Convey("Given the metrics package", t, func() {
		Convey("When creating a manager on a fresh registry", func() {
			reg := prometheus.NewRegistry()
			m := metrics.NewManager(
				metrics.WithPrometheusRegistry(reg),
				metrics.WithNamespace("test"),
				metrics.WithSubsystem("cache"),
			)

			Convey("Then it should register without panicking", func() {
				So(m, ShouldNotBeNil)
			})
		})

		Convey("When recording through the package-level helpers", func() {
			Convey("Then none of them should panic", func() {
				So(func() {
					metrics.RecordCacheReload("contests", "success")
					metrics.RecordCacheReloadDuration("contests", 12.5)
					metrics.UpdateStoreRecords("contests", 100)
					metrics.RecordFetchError("standings")
					metrics.RecordFetchDuration("standings", 30)
					metrics.IncFetchesInFlight()
					metrics.DecFetchesInFlight()
					metrics.RecordRatingChangesStored(250)
					metrics.RecordRatingFetchCoalesced()
					metrics.UpdateMonitoredContests(2)
					metrics.RecordMonitorPoll("success")
					metrics.UpdateMonitorFailStreak("1234", 3)
					metrics.RecordRanklistGenerated()
					metrics.RecordRanklistMemoHit()
					metrics.RecordEventDelivery()
					metrics.RecordEventListenerError()
					metrics.RecordHTTPRequest("ranklist", "GET", "200")
					metrics.RecordHTTPRequestDuration("ranklist", "GET", "200", 5)
				}, ShouldNotPanic)
			})
		})

		Convey("When reading the registry", func() {
			families, err := metrics.GetRegistry().Gather()

			Convey("Then gathered families should include cache metrics", func() {
				So(err, ShouldBeNil)
				names := make(map[string]bool, len(families))
				for _, f := range families {
					names[f.GetName()] = true
				}
				So(names["cfcache_core_cache_reloads_total"], ShouldBeTrue)
				So(names["cfcache_core_monitored_contests"], ShouldBeTrue)
			})
		})
	})
}
