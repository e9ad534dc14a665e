// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/okian/cfcache/internal/adapters/client"
	"github.com/okian/cfcache/internal/domain/cache/contests"
	"github.com/okian/cfcache/internal/domain/cache/problems"
	"github.com/okian/cfcache/internal/domain/model"
	"github.com/okian/cfcache/internal/domain/ranklist"
)

// Dependencies required by HTTP handlers. Using an interface bundle keeps
// the handler layer loosely coupled to implementations in other packages.
type Dependencies interface {
	// Contest cache reads.
	Contest(id int64) (model.Contest, error)
	Contests() []model.Contest
	ContestsInPhase(phase model.Phase) []model.Contest

	// Problem cache reads.
	Problems() []model.Problem
	ProblemByName(name string) (model.Problem, error)

	// Rating-changes cache reads.
	RatingChangesForHandle(handle string) []model.RatingChange
	CurrentRating(handle string) (int, bool)
	FirstRatedContest(handle string) (model.RatingChange, bool)

	// Ranklist cache.
	Ranklist(ctx context.Context, contestID int64) (*ranklist.Ranklist, error)
	GenerateRanklist(ctx context.Context, contestID int64, fetchChanges bool) (*ranklist.Ranklist, error)
	MonitorRanklist(ctx context.Context, contestID int64) error
	StopRanklistMonitor(contestID int64)

	// Manual cache-control triggers.
	ReloadContests(ctx context.Context) error
	ReloadProblems(ctx context.Context) (int, error)
	UpdateProblemset(ctx context.Context, contestID int64) (int, error)
	FetchRatingChanges(ctx context.Context, contestID int64) (int, error)
	FetchMissingRatingChanges(ctx context.Context) (int, error)
	FetchAllRatingChanges(ctx context.Context) (int, error)
}

// Server wires HTTP routes for the cache API.
type Server struct {
	healthHandler   *HealthHandler
	statsHandler    *StatsHandler
	contestHandler  *ContestHandler
	problemHandler  *ProblemHandler
	ranklistHandler *RanklistHandler
	ratingHandler   *RatingHandler
	cacheHandler    *CacheControlHandler
}

// NewServer creates a new API server with all handlers.
func NewServer(deps Dependencies, statsProvider StatsProvider) *Server {
	return &Server{
		healthHandler:   NewHealthHandler(),
		statsHandler:    NewStatsHandler(statsProvider),
		contestHandler:  NewContestHandler(deps),
		problemHandler:  NewProblemHandler(deps),
		ranklistHandler: NewRanklistHandler(deps),
		ratingHandler:   NewRatingHandler(deps),
		cacheHandler:    NewCacheControlHandler(deps),
	}
}

// Register attaches all HTTP routes to mux.
func (s *Server) Register(ctx context.Context, mux *http.ServeMux) {
	// Specific paths first (most specific to least specific)
	mux.HandleFunc("/healthz", MetricsMiddleware(s.healthHandler.HandleHealth, "healthz"))
	mux.HandleFunc("/metrics", s.healthHandler.HandleMetrics)
	mux.HandleFunc("/stats", MetricsMiddleware(s.statsHandler.HandleStats, "stats"))
	mux.HandleFunc("/contests", MetricsMiddleware(s.contestHandler.HandleListContests, "contests"))
	mux.HandleFunc("/contests/", MetricsMiddleware(s.contestHandler.HandleGetContest, "contest"))
	mux.HandleFunc("/problems", MetricsMiddleware(s.problemHandler.HandleListProblems, "problems"))
	mux.HandleFunc("/problems/", MetricsMiddleware(s.problemHandler.HandleGetProblem, "problem"))
	mux.HandleFunc("/ranklist/", MetricsMiddleware(s.ranklistHandler.HandleGetRanklist, "ranklist"))
	mux.HandleFunc("/monitor/", MetricsMiddleware(s.ranklistHandler.HandleMonitor, "monitor"))
	mux.HandleFunc("/ratings/", MetricsMiddleware(s.ratingHandler.HandleGetRatings, "ratings"))
	mux.HandleFunc("/cache/", MetricsMiddleware(s.cacheHandler.HandleCacheControl, "cache"))
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	msg := http.StatusText(status)
	if err != nil {
		msg = err.Error()
	}
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}

// pathTail extracts the single path segment after prefix, e.g. "1234" from
// "/ranklist/1234". Empty or nested tails are rejected.
func pathTail(r *http.Request, prefix string) (string, bool) {
	tail := strings.TrimPrefix(r.URL.Path, prefix)
	if tail == "" || strings.Contains(tail, "/") {
		return "", false
	}
	return tail, true
}

// contestIDFromPath parses the trailing contest id of the request path.
func contestIDFromPath(r *http.Request, prefix string) (int64, bool) {
	tail, ok := pathTail(r, prefix)
	if !ok {
		return 0, false
	}
	id, err := strconv.ParseInt(tail, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// writeDomainError translates cache and fetch errors to HTTP responses.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, contests.ErrContestNotFound),
		errors.Is(err, problems.ErrProblemNotFound),
		errors.Is(err, ranklist.ErrHandleNotPresent):
		writeError(w, http.StatusNotFound, "not_found", err)
	case errors.Is(err, ranklist.ErrNotMonitored):
		writeError(w, http.StatusConflict, "not_monitored", err)
	case errors.Is(err, ranklist.ErrContestNotStarted),
		errors.Is(err, ranklist.ErrContestNotLive):
		writeError(w, http.StatusConflict, "wrong_phase", err)
	case errors.Is(err, client.ErrNotPublished):
		writeError(w, http.StatusNotFound, "not_published", err)
	case errors.Is(err, client.ErrFetch):
		writeError(w, http.StatusServiceUnavailable, "upstream_unavailable", err)
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err)
	}
}
