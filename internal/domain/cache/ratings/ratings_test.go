package ratings_test

import (
	"context"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/okian/cfcache/internal/adapters/client"
	"github.com/okian/cfcache/internal/domain/cache/ratings"
	"github.com/okian/cfcache/internal/domain/events"
	"github.com/okian/cfcache/internal/domain/model"
	"github.com/okian/cfcache/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

func TestMain(m *testing.M) {
	_ = logger.Init()
	os.Exit(m.Run())
}

var testNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

// fakeContests is a static contest catalog.
type fakeContests struct {
	rows []model.Contest
}

func (f *fakeContests) All() []model.Contest { return f.rows }

func (f *fakeContests) Contest(id int64) (model.Contest, error) {
	for _, c := range f.rows {
		if c.ID == id {
			return c, nil
		}
	}
	return model.Contest{}, errors.New("not found")
}

// fakeFetcher serves rating changes per contest id with optional per-id
// failures, a not-published set, and an optional gate to hold fetches open.
type fakeFetcher struct {
	mu          sync.Mutex
	perID       map[int64][]model.RatingChange
	failing     map[int64]error
	unpublished map[int64]bool
	calls       atomic.Int64
	gate        chan struct{}
}

func (f *fakeFetcher) RatingChanges(ctx context.Context, contestID int64) ([]model.RatingChange, error) {
	f.calls.Add(1)
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failing[contestID]; err != nil {
		return nil, err
	}
	if f.unpublished[contestID] {
		return nil, &client.Error{Resource: "ratingchanges", Err: client.ErrNotPublished}
	}
	out := make([]model.RatingChange, len(f.perID[contestID]))
	copy(out, f.perID[contestID])
	return out, nil
}

func finishedContest(id int64, daysAgo int) model.Contest {
	return model.Contest{
		ID:        id,
		Name:      "Round",
		StartTime: testNow.Add(-time.Duration(daysAgo) * 24 * time.Hour),
		Duration:  2 * time.Hour,
		Rated:     true,
	}
}

func change(contestID int64, handle string, old, fresh int, at time.Time) model.RatingChange {
	return model.RatingChange{
		ContestID: contestID,
		Handle:    handle,
		Rank:      1,
		OldRating: old,
		NewRating: fresh,
		UpdatedAt: at,
	}
}

func newCache(fetcher *fakeFetcher, contests *fakeContests, opts ...ratings.Option) *ratings.Cache {
	opts = append(opts, ratings.WithClock(func() time.Time { return testNow }))
	return ratings.New(fetcher, contests, opts...)
}

func TestFetchContest(t *testing.T) {
	Convey("Given a rating-changes cache", t, func() {
		contests := &fakeContests{rows: []model.Contest{finishedContest(100, 10), finishedContest(200, 5)}}
		fetcher := &fakeFetcher{perID: map[int64][]model.RatingChange{
			100: {
				change(100, "alice", 1500, 1580, testNow.Add(-9*24*time.Hour)),
				change(100, "bob", 1600, 1550, testNow.Add(-9*24*time.Hour)),
				// duplicate (contestID, handle) pair, remote hiccup
				change(100, "Alice", 1500, 1580, testNow.Add(-9*24*time.Hour)),
			},
			200: {
				change(200, "alice", 1580, 1612, testNow.Add(-4*24*time.Hour)),
			},
		}}
		cache := newCache(fetcher, contests)
		ctx := context.Background()

		Convey("When fetching one contest", func() {
			count, err := cache.FetchContest(ctx, 100)

			Convey("Then duplicates collapse to one change per (contest, handle)", func() {
				So(err, ShouldBeNil)
				So(count, ShouldEqual, 2)
				So(cache.Count(), ShouldEqual, 2)
			})

			Convey("Then the derived current rating is recomputed", func() {
				r, ok := cache.CurrentRating("ALICE")
				So(ok, ShouldBeTrue)
				So(r, ShouldEqual, 1580)
			})
		})

		Convey("When fetching both contests", func() {
			_, err := cache.FetchContest(ctx, 100)
			So(err, ShouldBeNil)
			_, err = cache.FetchContest(ctx, 200)
			So(err, ShouldBeNil)

			Convey("Then per-handle history is ordered by update time", func() {
				history := cache.ForHandle("alice")
				So(history, ShouldHaveLength, 2)
				So(history[0].ContestID, ShouldEqual, 100)
				So(history[1].ContestID, ShouldEqual, 200)
				r, ok := cache.CurrentRating("alice")
				So(ok, ShouldBeTrue)
				So(r, ShouldEqual, 1612)
			})

			Convey("Then a single default-rated change marks a first rated contest", func() {
				_, ok := cache.FirstRatedContest("alice")
				So(ok, ShouldBeFalse) // two changes by now
				rc, ok := cache.FirstRatedContest("bob")
				So(ok, ShouldBeFalse)
				So(rc.Handle, ShouldBeEmpty) // bob started at 1600, not default

				fetcher.mu.Lock()
				fetcher.perID[200] = append(fetcher.perID[200],
					change(200, "carol", model.DefaultRating, 1701, testNow.Add(-4*24*time.Hour)))
				fetcher.mu.Unlock()
				_, err := cache.FetchContest(ctx, 200)
				So(err, ShouldBeNil)
				rc, ok = cache.FirstRatedContest("carol")
				So(ok, ShouldBeTrue)
				So(rc.NewRating, ShouldEqual, 1701)
			})
		})

		Convey("When re-fetching a contest replaces its change set", func() {
			_, err := cache.FetchContest(ctx, 100)
			So(err, ShouldBeNil)
			fetcher.mu.Lock()
			fetcher.perID[100] = []model.RatingChange{
				change(100, "bob", 1600, 1660, testNow.Add(-9*24*time.Hour)),
			}
			fetcher.mu.Unlock()

			count, err := cache.FetchContest(ctx, 100)

			Convey("Then the old set is gone wholesale", func() {
				So(err, ShouldBeNil)
				So(count, ShouldEqual, 1)
				So(cache.ForContest(100), ShouldHaveLength, 1)
				So(cache.ForHandle("alice"), ShouldBeEmpty)
				_, ok := cache.CurrentRating("alice")
				So(ok, ShouldBeFalse)
				r, _ := cache.CurrentRating("bob")
				So(r, ShouldEqual, 1660)
			})
		})

		Convey("When changes are not published yet", func() {
			fetcher.mu.Lock()
			fetcher.unpublished = map[int64]bool{100: true}
			fetcher.mu.Unlock()

			count, err := cache.FetchContest(ctx, 100)

			Convey("Then it is a clean zero, not a failure", func() {
				So(err, ShouldBeNil)
				So(count, ShouldEqual, 0)
				So(cache.HasChanges(100), ShouldBeFalse)
			})
		})

		Convey("When the remote fails", func() {
			fetcher.mu.Lock()
			fetcher.failing = map[int64]error{100: &client.Error{Resource: "ratingchanges", Err: client.ErrFetch}}
			fetcher.mu.Unlock()

			_, err := cache.FetchContest(ctx, 100)

			Convey("Then the fetch error propagates to the caller", func() {
				So(errors.Is(err, client.ErrFetch), ShouldBeTrue)
			})
		})
	})
}

func TestSingleflight(t *testing.T) {
	Convey("Given two concurrent fetches for the same contest", t, func() {
		contests := &fakeContests{rows: []model.Contest{finishedContest(111, 3)}}
		fetcher := &fakeFetcher{
			perID: map[int64][]model.RatingChange{
				111: {change(111, "alice", 1500, 1540, testNow.Add(-2*24*time.Hour))},
			},
			gate: make(chan struct{}),
		}
		cache := newCache(fetcher, contests)
		ctx := context.Background()

		results := make(chan int, 2)
		errs := make(chan error, 2)
		for n := 0; n < 2; n++ {
			go func() {
				count, err := cache.FetchContest(ctx, 111)
				results <- count
				errs <- err
			}()
		}
		// Let both callers reach the flight table, then release the remote.
		time.Sleep(20 * time.Millisecond)
		close(fetcher.gate)

		Convey("Then only one remote fetch occurs and both callers agree", func() {
			So(<-results, ShouldEqual, 1)
			So(<-results, ShouldEqual, 1)
			So(<-errs, ShouldBeNil)
			So(<-errs, ShouldBeNil)
			So(fetcher.calls.Load(), ShouldEqual, 1)
		})
	})
}

func TestBatchFetches(t *testing.T) {
	Convey("Given five finished rated contests with one failing deterministically", t, func() {
		rows := make([]model.Contest, 0, 5)
		perID := make(map[int64][]model.RatingChange)
		for i := int64(1); i <= 5; i++ {
			rows = append(rows, finishedContest(i, int(i)+1))
			perID[i] = []model.RatingChange{
				change(i, "dave", 1500+int(i)*10, 1500+int(i)*10+5, testNow.Add(-time.Duration(i)*24*time.Hour)),
			}
		}
		contests := &fakeContests{rows: rows}
		fetcher := &fakeFetcher{
			perID:   perID,
			failing: map[int64]error{3: &client.Error{Resource: "ratingchanges", Err: client.ErrFetch}},
		}
		cache := newCache(fetcher, contests)
		ctx := context.Background()

		Convey("When fetching missing contests", func() {
			count, err := cache.FetchMissingContests(ctx)

			Convey("Then the batch skips the failure and fetches the rest", func() {
				So(err, ShouldBeNil)
				So(count, ShouldEqual, 4)
				So(cache.HasChanges(1), ShouldBeTrue)
				So(cache.HasChanges(3), ShouldBeFalse)
				So(cache.HasChanges(5), ShouldBeTrue)
			})

			Convey("And a second missing pass refetches only the hole", func() {
				calls := fetcher.calls.Load()
				_, err := cache.FetchMissingContests(ctx)
				So(err, ShouldBeNil)
				So(fetcher.calls.Load()-calls, ShouldEqual, 1)
			})
		})

		Convey("When repairing everything", func() {
			_, err := cache.FetchMissingContests(ctx)
			So(err, ShouldBeNil)
			calls := fetcher.calls.Load()

			count, err := cache.FetchAllContests(ctx)

			Convey("Then every contest is re-fetched, still best-effort", func() {
				So(err, ShouldBeNil)
				So(count, ShouldEqual, 4)
				So(fetcher.calls.Load()-calls, ShouldEqual, 5)
			})
		})
	})
}

func TestNotification(t *testing.T) {
	Convey("Given a cache wired to an event bus", t, func() {
		contests := &fakeContests{rows: []model.Contest{finishedContest(900, 2)}}
		fetcher := &fakeFetcher{perID: map[int64][]model.RatingChange{
			900: {change(900, "erin", 1500, 1489, testNow.Add(-24*time.Hour))},
		}}

		bus := events.New()
		type seen struct {
			contestID int64
			stored    bool
		}
		got := make(chan seen, 1)

		var cache *ratings.Cache
		bus.AddListener(func(_ context.Context, ev events.RatingChangesUpdate) error {
			got <- seen{contestID: ev.Contest.ID, stored: cache.HasChanges(ev.Contest.ID)}
			return nil
		})
		cache = newCache(fetcher, contests, ratings.WithNotifier(bus))

		Convey("When a fetch succeeds", func() {
			count, err := cache.FetchContest(context.Background(), 900)
			bus.Wait()

			Convey("Then exactly one event arrives, after the data is stored", func() {
				So(err, ShouldBeNil)
				So(count, ShouldEqual, 1)
				ev := <-got
				So(ev.contestID, ShouldEqual, 900)
				So(ev.stored, ShouldBeTrue)
				So(len(got), ShouldEqual, 0)
			})
		})

		Convey("When changes are not yet published", func() {
			fetcher.mu.Lock()
			fetcher.unpublished = map[int64]bool{900: true}
			fetcher.mu.Unlock()

			_, err := cache.FetchContest(context.Background(), 900)
			bus.Wait()

			Convey("Then no event is published", func() {
				So(err, ShouldBeNil)
				So(len(got), ShouldEqual, 0)
			})
		})
	})
}
