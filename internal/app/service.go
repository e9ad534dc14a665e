// Package service provides the core cache service that implements the
// dependencies required by the HTTP API.
package service

import (
	"context"
	"sync"
	"time"

	"github.com/okian/cfcache/internal/adapters/client"
	"github.com/okian/cfcache/internal/domain/cache/contests"
	"github.com/okian/cfcache/internal/domain/cache/problems"
	"github.com/okian/cfcache/internal/domain/cache/ratings"
	"github.com/okian/cfcache/internal/domain/events"
	"github.com/okian/cfcache/internal/domain/model"
	"github.com/okian/cfcache/internal/domain/ranklist"
	"github.com/okian/cfcache/pkg/logger"
)

// Default service configuration constants.
const (
	defaultAPIBase         = "https://codeforces.com/api"
	defaultFetchTimeout    = 15 * time.Second
	defaultContestInterval = 30 * time.Minute
	defaultProblemInterval = 6 * time.Hour
	defaultRepairInterval  = time.Hour
	defaultMonitorInterval = 5 * time.Minute
	defaultWarnStreak      = 5
)

// Service wires the caches together and owns their background loops.
type Service struct {
	mu sync.RWMutex

	// Core components
	fetcher   client.Fetcher
	contests  *contests.Cache
	problems  *problems.Cache
	ratings   *ratings.Cache
	ranklists *ranklist.Cache
	bus       *events.Bus

	// Configuration
	apiBase         string
	fetchTimeout    time.Duration
	contestInterval time.Duration
	problemInterval time.Duration
	repairInterval  time.Duration
	monitorInterval time.Duration
	warnStreak      int
	memoTTL         time.Duration

	// State
	started bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	// Logging
	logger logger.Logger
}

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithFetcher injects a fetch client, replacing the default Codeforces one.
func WithFetcher(f client.Fetcher) Option {
	return func(s *Service) {
		if f != nil {
			s.fetcher = f
		}
	}
}

// WithAPIBase sets the remote API base URL.
func WithAPIBase(base string) Option {
	return func(s *Service) {
		if base != "" {
			s.apiBase = base
		}
	}
}

// WithFetchTimeout bounds every remote fetch call.
func WithFetchTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.fetchTimeout = d
		}
	}
}

// WithContestInterval sets the contest catalog refresh period.
func WithContestInterval(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.contestInterval = d
		}
	}
}

// WithProblemInterval sets the problem catalog refresh period.
func WithProblemInterval(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.problemInterval = d
		}
	}
}

// WithRepairInterval sets the missing-rating-changes repair period.
func WithRepairInterval(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.repairInterval = d
		}
	}
}

// WithMonitorInterval sets the standings poll period for monitored contests.
func WithMonitorInterval(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.monitorInterval = d
		}
	}
}

// WithWarnStreak sets the poll failure streak that escalates logging.
func WithWarnStreak(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.warnStreak = n
		}
	}
}

// WithRanklistMemoTTL bounds finished ranklist memoization.
func WithRanklistMemoTTL(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.memoTTL = d
		}
	}
}

// New constructs a new Service with default configuration.
func New(opts ...Option) *Service {
	s := &Service{
		apiBase:         defaultAPIBase,
		fetchTimeout:    defaultFetchTimeout,
		contestInterval: defaultContestInterval,
		problemInterval: defaultProblemInterval,
		repairInterval:  defaultRepairInterval,
		monitorInterval: defaultMonitorInterval,
		warnStreak:      defaultWarnStreak,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Start initializes the caches, performs the warmup loads, and launches the
// background refresh loops.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}
	if s.logger == nil {
		s.logger = logger.Get()
	}

	s.logger.Info(ctx, "starting cache service...")

	if s.fetcher == nil {
		s.fetcher = client.NewCodeforces(s.apiBase,
			client.WithTimeout(s.fetchTimeout),
			client.WithClientLogger(s.logger.Named("client")),
		)
	}

	s.bus = events.New(events.WithBusLogger(s.logger.Named("events")))
	s.contests = contests.New(s.fetcher,
		contests.WithInterval(s.contestInterval),
		contests.WithLogger(s.logger.Named("contests")),
	)
	s.problems = problems.New(s.fetcher,
		problems.WithInterval(s.problemInterval),
		problems.WithLogger(s.logger.Named("problems")),
	)
	s.ratings = ratings.New(s.fetcher, s.contests,
		ratings.WithNotifier(s.bus),
		ratings.WithLogger(s.logger.Named("ratings")),
	)
	s.ranklists = ranklist.New(s.fetcher, s.contests, s.ratings,
		ranklist.WithPollInterval(s.monitorInterval),
		ranklist.WithWarnStreak(s.warnStreak),
		ranklist.WithMemoTTL(s.memoTTL),
		ranklist.WithLogger(s.logger.Named("ranklist")),
	)

	// Warmup loads. Failures are tolerated; the refresh loops retry.
	if err := s.contests.ReloadNow(ctx); err != nil {
		s.logger.Warn(ctx, "contest warmup load failed", logger.Error(err))
	}
	if err := s.problems.ReloadNow(ctx); err != nil {
		s.logger.Warn(ctx, "problem warmup load failed", logger.Error(err))
	}

	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel
	s.startLoops(loopCtx)

	s.started = true
	s.logger.Info(ctx, "cache service started",
		logger.Duration("contestInterval", s.contestInterval),
		logger.Duration("problemInterval", s.problemInterval),
		logger.Duration("monitorInterval", s.monitorInterval),
	)
	return nil
}

// Stop gracefully shuts down the background loops.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return
	}

	s.logger.Info(context.Background(), "stopping cache service...")
	s.ranklists.StopAll()
	s.cancel()
	s.wg.Wait()
	s.bus.Wait()
	s.started = false
	s.logger.Info(context.Background(), "cache service stopped")
}

// Bus exposes the event bus so collaborators can register listeners.
func (s *Service) Bus() *events.Bus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.bus
}

// Contest cache surface.

// Contest returns one contest by id.
func (s *Service) Contest(id int64) (model.Contest, error) {
	return s.contests.Contest(id)
}

// Contests returns the whole contest catalog ordered by start time.
func (s *Service) Contests() []model.Contest {
	return s.contests.All()
}

// ContestsInPhase returns the contests currently in phase.
func (s *Service) ContestsInPhase(phase model.Phase) []model.Contest {
	return s.contests.ContestsInPhase(phase)
}

// ReloadContests forces a contest catalog refresh.
func (s *Service) ReloadContests(ctx context.Context) error {
	return s.contests.ReloadNow(ctx)
}

// Problem cache surface.

// Problems returns the whole problem catalog.
func (s *Service) Problems() []model.Problem {
	return s.problems.Problems()
}

// ProblemByName resolves a problem by its unique name.
func (s *Service) ProblemByName(name string) (model.Problem, error) {
	return s.problems.ByName(name)
}

// ReloadProblems forces a full problem catalog refresh.
func (s *Service) ReloadProblems(ctx context.Context) (int, error) {
	return s.problems.UpdateForAll(ctx)
}

// UpdateProblemset refreshes one contest's problemset.
func (s *Service) UpdateProblemset(ctx context.Context, contestID int64) (int, error) {
	return s.problems.UpdateForContest(ctx, contestID)
}

// Rating-changes cache surface.

// FetchRatingChanges fetches one contest's rating changes.
func (s *Service) FetchRatingChanges(ctx context.Context, contestID int64) (int, error) {
	return s.ratings.FetchContest(ctx, contestID)
}

// FetchMissingRatingChanges repairs contests lacking cached changes.
func (s *Service) FetchMissingRatingChanges(ctx context.Context) (int, error) {
	return s.ratings.FetchMissingContests(ctx)
}

// FetchAllRatingChanges re-fetches every finished rated contest's changes.
func (s *Service) FetchAllRatingChanges(ctx context.Context) (int, error) {
	return s.ratings.FetchAllContests(ctx)
}

// RatingChangesForHandle returns a handle's ordered rating history.
func (s *Service) RatingChangesForHandle(handle string) []model.RatingChange {
	return s.ratings.ForHandle(handle)
}

// CurrentRating returns a handle's cached current rating.
func (s *Service) CurrentRating(handle string) (int, bool) {
	return s.ratings.CurrentRating(handle)
}

// FirstRatedContest returns the handle's only rating change when exactly one
// is cached and it started from the default rating.
func (s *Service) FirstRatedContest(handle string) (model.RatingChange, bool) {
	return s.ratings.FirstRatedContest(handle)
}

// Ranklist cache surface.

// Ranklist returns the ranklist for a contest id per the monitoring state
// machine.
func (s *Service) Ranklist(ctx context.Context, contestID int64) (*ranklist.Ranklist, error) {
	contest, err := s.contests.Contest(contestID)
	if err != nil {
		return nil, err
	}
	return s.ranklists.Get(ctx, contest)
}

// GenerateRanklist builds a one-shot ranklist.
func (s *Service) GenerateRanklist(ctx context.Context, contestID int64, fetchChanges bool) (*ranklist.Ranklist, error) {
	return s.ranklists.Generate(ctx, contestID, fetchChanges)
}

// MonitorRanklist starts live tracking of a contest.
func (s *Service) MonitorRanklist(ctx context.Context, contestID int64) error {
	return s.ranklists.Monitor(ctx, contestID)
}

// StopRanklistMonitor stops live tracking of a contest.
func (s *Service) StopRanklistMonitor(contestID int64) {
	s.ranklists.StopMonitor(contestID)
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := map[string]interface{}{
		"started": s.started,
	}
	if s.started {
		stats["contests"] = s.contests.Count()
		stats["problems"] = s.problems.Count()
		stats["ratingChanges"] = s.ratings.Count()
		stats["monitoredContests"] = s.ranklists.ActiveMonitors()
	}
	return stats
}
