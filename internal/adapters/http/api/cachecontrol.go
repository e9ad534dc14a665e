// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"net/http"
	"strconv"
	"strings"
)

// CacheControlDependencies defines the interface for manual cache triggers.
type CacheControlDependencies interface {
	ReloadContests(ctx context.Context) error
	ReloadProblems(ctx context.Context) (int, error)
	UpdateProblemset(ctx context.Context, contestID int64) (int, error)
	FetchRatingChanges(ctx context.Context, contestID int64) (int, error)
	FetchMissingRatingChanges(ctx context.Context) (int, error)
	FetchAllRatingChanges(ctx context.Context) (int, error)
}

// CacheControlHandler exposes the admin cache-control surface.
type CacheControlHandler struct {
	deps CacheControlDependencies
}

// NewCacheControlHandler creates a new cache-control handler.
func NewCacheControlHandler(deps CacheControlDependencies) *CacheControlHandler {
	return &CacheControlHandler{deps: deps}
}

// reloadResponse acknowledges a cache-control trigger. Count carries the
// number of affected records where the operation reports one.
type reloadResponse struct {
	Status string `json:"status"`
	Count  int    `json:"count,omitempty"`
}

// HandleCacheControl routes POST /cache/{target} requests:
//
//	POST /cache/contests
//	POST /cache/problems
//	POST /cache/problemsets/{contestID}
//	POST /cache/ratingchanges?mode=missing|all|{contestID}
func (h *CacheControlHandler) HandleCacheControl(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	target := strings.TrimPrefix(r.URL.Path, "/cache/")
	switch {
	case target == "contests":
		h.reloadContests(w, r)
	case target == "problems":
		h.reloadProblems(w, r)
	case strings.HasPrefix(target, "problemsets/"):
		h.updateProblemset(w, r, strings.TrimPrefix(target, "problemsets/"))
	case target == "ratingchanges":
		h.fetchRatingChanges(w, r)
	default:
		writeError(w, http.StatusBadRequest, "bad_request", ErrBadRequest)
	}
}

func (h *CacheControlHandler) reloadContests(w http.ResponseWriter, r *http.Request) {
	if err := h.deps.ReloadContests(r.Context()); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, reloadResponse{Status: "reloaded"})
}

func (h *CacheControlHandler) reloadProblems(w http.ResponseWriter, r *http.Request) {
	count, err := h.deps.ReloadProblems(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, reloadResponse{Status: "reloaded", Count: count})
}

func (h *CacheControlHandler) updateProblemset(w http.ResponseWriter, r *http.Request, idStr string) {
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "bad_request", ErrBadRequest)
		return
	}
	count, updateErr := h.deps.UpdateProblemset(r.Context(), id)
	if updateErr != nil {
		writeDomainError(w, updateErr)
		return
	}
	writeJSON(w, http.StatusOK, reloadResponse{Status: "reloaded", Count: count})
}

func (h *CacheControlHandler) fetchRatingChanges(w http.ResponseWriter, r *http.Request) {
	mode := r.URL.Query().Get("mode")
	var (
		count int
		err   error
	)
	switch mode {
	case "", "missing":
		count, err = h.deps.FetchMissingRatingChanges(r.Context())
	case "all":
		count, err = h.deps.FetchAllRatingChanges(r.Context())
	default:
		id, parseErr := strconv.ParseInt(mode, 10, 64)
		if parseErr != nil || id <= 0 {
			writeError(w, http.StatusBadRequest, "bad_request", ErrBadRequest)
			return
		}
		count, err = h.deps.FetchRatingChanges(r.Context(), id)
	}
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, reloadResponse{Status: "fetched", Count: count})
}
