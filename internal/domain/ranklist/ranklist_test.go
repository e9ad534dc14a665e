package ranklist_test

import (
	"context"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/okian/cfcache/internal/adapters/client"
	"github.com/okian/cfcache/internal/domain/model"
	"github.com/okian/cfcache/internal/domain/ranklist"
	"github.com/okian/cfcache/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

func TestMain(m *testing.M) {
	_ = logger.Init()
	os.Exit(m.Run())
}

// clock is a settable test clock.
type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	c.t = t
	c.mu.Unlock()
}

// fakeContests serves one contest.
type fakeContests struct {
	mu      sync.Mutex
	contest model.Contest
}

func (f *fakeContests) Contest(id int64) (model.Contest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.contest.ID != id {
		return model.Contest{}, errors.New("not found")
	}
	return f.contest, nil
}

// fakeStandings serves standings rows and counts fetches.
type fakeStandings struct {
	mu      sync.Mutex
	rows    []model.StandingRow
	contest model.Contest
	err     error
	calls   atomic.Int64
}

func (f *fakeStandings) Standings(_ context.Context, contestID int64) (model.RawStandings, error) {
	f.calls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return model.RawStandings{}, f.err
	}
	rows := make([]model.StandingRow, len(f.rows))
	copy(rows, f.rows)
	return model.RawStandings{
		Contest:  f.contest,
		Problems: []model.Problem{{ContestID: contestID, Index: "A", Name: "Opening"}},
		Rows:     rows,
	}, nil
}

// fakeRatings serves rating changes for delta computation.
type fakeRatings struct {
	mu      sync.Mutex
	changes map[int64][]model.RatingChange
	fetched atomic.Int64
}

func (f *fakeRatings) FetchContest(_ context.Context, contestID int64) (int, error) {
	f.fetched.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.changes[contestID]), nil
}

func (f *fakeRatings) ForContest(contestID int64) []model.RatingChange {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.changes[contestID]
}

func (f *fakeRatings) HasChanges(contestID int64) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.changes[contestID]) > 0
}

func standingRows() []model.StandingRow {
	return []model.StandingRow{
		{Rank: 3, Members: []string{"carol"}, Points: 1},
		{Rank: 1, Members: []string{"Abc"}, Points: 3},
		{Rank: 2, Members: []string{"bob"}, Points: 2},
	}
}

func TestRanklistView(t *testing.T) {
	Convey("Given an assembled ranklist for a rated contest", t, func() {
		contest := model.Contest{ID: 7, Name: "Round", Rated: true,
			StartTime: time.Now().Add(-3 * time.Hour), Duration: 2 * time.Hour}
		raw := model.RawStandings{Contest: contest, Rows: standingRows()}
		changes := []model.RatingChange{
			{ContestID: 7, Handle: "Abc", Rank: 1, OldRating: 1500, NewRating: 1642},
			{ContestID: 7, Handle: "bob", Rank: 2, OldRating: 1700, NewRating: 1688},
		}
		rl := ranklist.NewRanklist(raw, changes, time.Now())

		Convey("Then rows come out sorted by rank ascending", func() {
			So(rl.Rows, ShouldHaveLength, 3)
			So(rl.Rows[0].Rank, ShouldEqual, 1)
			So(rl.Rows[2].Rank, ShouldEqual, 3)
		})

		Convey("Then standing lookup is case-insensitive", func() {
			upper, err := rl.StandingRow("ABC")
			So(err, ShouldBeNil)
			lower, err := rl.StandingRow("abc")
			So(err, ShouldBeNil)
			So(upper.Rank, ShouldEqual, lower.Rank)
			So(upper.Rank, ShouldEqual, 1)
		})

		Convey("Then an absent handle yields ErrHandleNotPresent", func() {
			_, err := rl.StandingRow("nobody")
			So(errors.Is(err, ranklist.ErrHandleNotPresent), ShouldBeTrue)
		})

		Convey("Then deltas equal new minus old rating", func() {
			d, ok := rl.Delta("abc")
			So(ok, ShouldBeTrue)
			So(d, ShouldEqual, 142)
			d, ok = rl.Delta("BOB")
			So(ok, ShouldBeTrue)
			So(d, ShouldEqual, -12)
		})

		Convey("Then a handle without a change has no delta, without error", func() {
			_, ok := rl.Delta("carol")
			So(ok, ShouldBeFalse)
		})
	})

	Convey("Given a ranklist for an unrated contest", t, func() {
		contest := model.Contest{ID: 8, Name: "Unrated Round", Rated: false,
			StartTime: time.Now().Add(-3 * time.Hour), Duration: 2 * time.Hour}
		raw := model.RawStandings{Contest: contest, Rows: standingRows()}
		rl := ranklist.NewRanklist(raw, nil, time.Now())

		Convey("Then no handle has a delta", func() {
			So(rl.Rated, ShouldBeFalse)
			for _, h := range []string{"abc", "bob", "carol"} {
				_, ok := rl.Delta(h)
				So(ok, ShouldBeFalse)
			}
		})
	})
}

func newFixture(phaseOffset time.Duration) (*ranklist.Cache, *fakeContests, *fakeStandings, *fakeRatings, *clock) {
	clk := &clock{t: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)}
	contest := model.Contest{
		ID:        999,
		Name:      "Live Round",
		StartTime: clk.Now().Add(phaseOffset),
		Duration:  2 * time.Hour,
		Rated:     true,
	}
	contests := &fakeContests{contest: contest}
	standings := &fakeStandings{contest: contest, rows: standingRows()}
	ratings := &fakeRatings{changes: make(map[int64][]model.RatingChange)}
	cache := ranklist.New(standings, contests, ratings,
		ranklist.WithClock(clk.Now),
		ranklist.WithPollInterval(10*time.Millisecond),
	)
	return cache, contests, standings, ratings, clk
}

func TestStateMachine(t *testing.T) {
	Convey("Given contest 999 in CODING phase", t, func() {
		cache, contests, standings, _, clk := newFixture(-time.Hour)
		ctx := context.Background()
		contest := contests.contest

		Convey("When getting the ranklist before monitoring starts", func() {
			_, err := cache.Get(ctx, contest)

			Convey("Then it raises ErrNotMonitored", func() {
				So(errors.Is(err, ranklist.ErrNotMonitored), ShouldBeTrue)
				So(cache.State(999), ShouldEqual, ranklist.NotMonitored)
			})
		})

		Convey("When monitoring starts and a poll succeeds", func() {
			So(cache.Monitor(ctx, 999), ShouldBeNil)
			defer cache.StopMonitor(999)

			rl, err := cache.Get(ctx, contest)

			Convey("Then the snapshot is served sorted by rank", func() {
				So(err, ShouldBeNil)
				So(cache.State(999), ShouldEqual, ranklist.Monitored)
				So(rl.Rows, ShouldHaveLength, 3)
				So(rl.Rows[0].Rank, ShouldEqual, 1)
				So(rl.Rows[1].Rank, ShouldEqual, 2)
				So(rl.Rows[2].Rank, ShouldEqual, 3)
			})
		})

		Convey("When monitoring starts twice", func() {
			So(cache.Monitor(ctx, 999), ShouldBeNil)
			So(cache.Monitor(ctx, 999), ShouldBeNil)
			defer cache.StopMonitor(999)

			Convey("Then exactly one poller is active", func() {
				So(cache.ActiveMonitors(), ShouldEqual, 1)
			})
		})

		Convey("When polls fail transiently", func() {
			So(cache.Monitor(ctx, 999), ShouldBeNil)
			defer cache.StopMonitor(999)

			standings.mu.Lock()
			standings.err = &client.Error{Resource: "standings", Err: client.ErrFetch}
			standings.mu.Unlock()
			time.Sleep(50 * time.Millisecond)

			Convey("Then monitoring survives and recovers on the next good poll", func() {
				So(cache.State(999), ShouldEqual, ranklist.Monitored)

				standings.mu.Lock()
				standings.err = nil
				standings.mu.Unlock()
				time.Sleep(50 * time.Millisecond)

				rl, err := cache.Get(ctx, contests.contest)
				So(err, ShouldBeNil)
				So(rl.Rows, ShouldHaveLength, 3)
			})
		})

		Convey("When the contest finishes under an active monitor", func() {
			So(cache.Monitor(ctx, 999), ShouldBeNil)

			contests.mu.Lock()
			contests.contest.StartTime = clk.Now().Add(-3 * time.Hour)
			finished := contests.contest
			contests.mu.Unlock()
			standings.mu.Lock()
			standings.contest = finished
			standings.mu.Unlock()

			// Let the loop observe the phase flip and retire.
			deadline := time.Now().Add(2 * time.Second)
			for cache.State(999) == ranklist.Monitored && time.Now().Before(deadline) {
				time.Sleep(5 * time.Millisecond)
			}

			Convey("Then the monitor retires and Get never raises ErrNotMonitored again", func() {
				So(cache.State(999), ShouldEqual, ranklist.NotMonitored)
				So(cache.ActiveMonitors(), ShouldEqual, 0)

				rl, err := cache.Get(ctx, finished)
				So(err, ShouldBeNil)
				So(rl.Rows, ShouldHaveLength, 3)
			})
		})
	})

	Convey("Given a contest that has not started", t, func() {
		cache, contests, _, _, _ := newFixture(time.Hour)

		Convey("Then Get is a contract violation", func() {
			_, err := cache.Get(context.Background(), contests.contest)
			So(errors.Is(err, ranklist.ErrContestNotStarted), ShouldBeTrue)
		})

		Convey("And monitoring a finished contest is rejected", func() {
			contests.mu.Lock()
			contests.contest.StartTime = contests.contest.StartTime.Add(-48 * time.Hour)
			contests.mu.Unlock()
			err := cache.Monitor(context.Background(), 999)
			So(errors.Is(err, ranklist.ErrContestNotLive), ShouldBeTrue)
		})
	})
}

func TestFinishedMemoization(t *testing.T) {
	Convey("Given a finished rated contest", t, func() {
		cache, contests, standings, ratings, _ := newFixture(-5 * time.Hour)
		ctx := context.Background()
		contest := contests.contest
		ratings.mu.Lock()
		ratings.changes[999] = []model.RatingChange{
			{ContestID: 999, Handle: "Abc", Rank: 1, OldRating: 1500, NewRating: 1600},
		}
		ratings.mu.Unlock()

		Convey("When the ranklist is requested twice", func() {
			first, err := cache.Get(ctx, contest)
			So(err, ShouldBeNil)
			second, err := cache.Get(ctx, contest)
			So(err, ShouldBeNil)

			Convey("Then standings are fetched once and memoized", func() {
				So(standings.calls.Load(), ShouldEqual, 1)
				So(second, ShouldEqual, first)
				d, ok := first.Delta("abc")
				So(ok, ShouldBeTrue)
				So(d, ShouldEqual, 100)
			})
		})

		Convey("When generation fails", func() {
			standings.mu.Lock()
			standings.err = &client.Error{Resource: "standings", Err: client.ErrFetch}
			standings.mu.Unlock()

			_, err := cache.Get(ctx, contest)

			Convey("Then the fetch error surfaces and nothing is memoized", func() {
				So(errors.Is(err, client.ErrFetch), ShouldBeTrue)

				standings.mu.Lock()
				standings.err = nil
				standings.mu.Unlock()
				rl, err := cache.Get(ctx, contest)
				So(err, ShouldBeNil)
				So(rl.Rows, ShouldHaveLength, 3)
			})
		})

		Convey("When Generate is called directly", func() {
			rl, err := cache.Generate(ctx, 999, true)

			Convey("Then it builds without registering monitoring", func() {
				So(err, ShouldBeNil)
				So(rl.Rows, ShouldHaveLength, 3)
				So(cache.State(999), ShouldEqual, ranklist.NotMonitored)
			})
		})
	})
}
