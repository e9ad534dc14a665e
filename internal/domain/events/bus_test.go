package events_test

import (
	"context"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/okian/cfcache/internal/domain/events"
	"github.com/okian/cfcache/internal/domain/model"
	"github.com/okian/cfcache/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

func TestMain(m *testing.M) {
	_ = logger.Init()
	os.Exit(m.Run())
}

func update(contestID int64) events.RatingChangesUpdate {
	return events.RatingChangesUpdate{
		Contest: model.Contest{ID: contestID, Name: "round", Duration: time.Hour},
		Changes: []model.RatingChange{{ContestID: contestID, Handle: "tourist", Rank: 1}},
	}
}

func TestBus(t *testing.T) {
	Convey("Given an event bus", t, func() {
		bus := events.New()
		ctx := context.Background()

		Convey("When notifying multiple listeners", func() {
			var a, b atomic.Int64
			bus.AddListener(func(_ context.Context, _ events.RatingChangesUpdate) error {
				a.Add(1)
				return nil
			})
			bus.AddListener(func(_ context.Context, _ events.RatingChangesUpdate) error {
				b.Add(1)
				return nil
			})

			bus.Notify(ctx, update(1))
			bus.Wait()

			Convey("Then every listener receives the event once", func() {
				So(a.Load(), ShouldEqual, 1)
				So(b.Load(), ShouldEqual, 1)
			})
		})

		Convey("When one listener fails or panics", func() {
			var healthy atomic.Int64
			bus.AddListener(func(_ context.Context, _ events.RatingChangesUpdate) error {
				return errors.New("boom")
			}, events.WithName("failing"))
			bus.AddListener(func(_ context.Context, _ events.RatingChangesUpdate) error {
				panic("worse")
			}, events.WithName("panicking"))
			bus.AddListener(func(_ context.Context, _ events.RatingChangesUpdate) error {
				healthy.Add(1)
				return nil
			}, events.WithName("healthy"))

			So(func() {
				bus.Notify(ctx, update(2))
				bus.Wait()
			}, ShouldNotPanic)

			Convey("Then the healthy listener still receives the event", func() {
				So(healthy.Load(), ShouldEqual, 1)
			})
		})

		Convey("When a serialized listener receives concurrent notifies", func() {
			var inFlight, maxInFlight int64
			var mu sync.Mutex
			bus.AddListener(func(_ context.Context, _ events.RatingChangesUpdate) error {
				mu.Lock()
				inFlight++
				if inFlight > maxInFlight {
					maxInFlight = inFlight
				}
				mu.Unlock()

				time.Sleep(5 * time.Millisecond)

				mu.Lock()
				inFlight--
				mu.Unlock()
				return nil
			}, events.WithSerialized(), events.WithName("role-updater"))

			for i := 0; i < 10; i++ {
				bus.Notify(ctx, update(int64(100+i)))
			}
			bus.Wait()

			Convey("Then no two deliveries to it ever overlap", func() {
				mu.Lock()
				defer mu.Unlock()
				So(maxInFlight, ShouldEqual, 1)
			})
		})

		Convey("When a non-serialized listener receives concurrent notifies", func() {
			var inFlight, maxInFlight int64
			var mu sync.Mutex
			bus.AddListener(func(_ context.Context, _ events.RatingChangesUpdate) error {
				mu.Lock()
				inFlight++
				if inFlight > maxInFlight {
					maxInFlight = inFlight
				}
				mu.Unlock()

				time.Sleep(10 * time.Millisecond)

				mu.Lock()
				inFlight--
				mu.Unlock()
				return nil
			})

			for i := 0; i < 10; i++ {
				bus.Notify(ctx, update(int64(200+i)))
			}
			bus.Wait()

			Convey("Then deliveries are allowed to overlap", func() {
				mu.Lock()
				defer mu.Unlock()
				So(maxInFlight, ShouldBeGreaterThan, 1)
			})
		})
	})
}
