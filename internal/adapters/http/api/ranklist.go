// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/okian/cfcache/internal/domain/model"
	"github.com/okian/cfcache/internal/domain/ranklist"
)

// RanklistDependencies defines the interface for ranklist operations.
type RanklistDependencies interface {
	Ranklist(ctx context.Context, contestID int64) (*ranklist.Ranklist, error)
	GenerateRanklist(ctx context.Context, contestID int64, fetchChanges bool) (*ranklist.Ranklist, error)
	MonitorRanklist(ctx context.Context, contestID int64) error
	StopRanklistMonitor(contestID int64)
}

// RanklistHandler handles ranklist and monitor requests.
type RanklistHandler struct {
	deps RanklistDependencies
}

// NewRanklistHandler creates a new ranklist handler.
func NewRanklistHandler(deps RanklistDependencies) *RanklistHandler {
	return &RanklistHandler{deps: deps}
}

// ranklistResponse flattens the ranklist view for JSON consumers.
type ranklistResponse struct {
	Contest   model.Contest       `json:"contest"`
	Problems  []model.Problem     `json:"problems"`
	Rows      []model.StandingRow `json:"rows"`
	Rated     bool                `json:"rated"`
	Deltas    map[string]int      `json:"deltas,omitempty"`
	FetchedAt time.Time           `json:"fetched_at"`
}

func newRanklistResponse(rl *ranklist.Ranklist) ranklistResponse {
	resp := ranklistResponse{
		Contest:   rl.Contest,
		Problems:  rl.Problems,
		Rows:      rl.Rows,
		Rated:     rl.Rated,
		FetchedAt: rl.FetchedAt,
	}
	if rl.Rated {
		resp.Deltas = rl.Deltas()
	}
	return resp
}

// HandleGetRanklist handles GET /ranklist/{contestID} requests. The
// generate=1 query forces a one-shot build bypassing the monitoring state
// machine.
func (h *RanklistHandler) HandleGetRanklist(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	id, ok := contestIDFromPath(r, "/ranklist/")
	if !ok {
		writeError(w, http.StatusBadRequest, "bad_request", ErrBadRequest)
		return
	}

	var (
		rl  *ranklist.Ranklist
		err error
	)
	if r.URL.Query().Get("generate") == "1" {
		withChanges := r.URL.Query().Get("changes") == "1"
		rl, err = h.deps.GenerateRanklist(r.Context(), id, withChanges)
	} else {
		rl, err = h.deps.Ranklist(r.Context(), id)
	}
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newRanklistResponse(rl))
}

// HandleMonitor handles POST and DELETE /monitor/{contestID} requests.
func (h *RanklistHandler) HandleMonitor(w http.ResponseWriter, r *http.Request) {
	id, ok := contestIDFromPath(r, "/monitor/")
	if !ok {
		writeError(w, http.StatusBadRequest, "bad_request", ErrBadRequest)
		return
	}
	switch r.Method {
	case http.MethodPost:
		if err := h.deps.MonitorRanklist(r.Context(), id); err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "monitoring"})
	case http.MethodDelete:
		h.deps.StopRanklistMonitor(id)
		writeJSON(w, http.StatusOK, map[string]string{"status": "stopped"})
	default:
		http.NotFound(w, r)
	}
}
