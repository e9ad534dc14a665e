// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"net/http"

	"github.com/okian/cfcache/internal/domain/model"
)

// ContestDependencies defines the interface for contest reads.
type ContestDependencies interface {
	Contest(id int64) (model.Contest, error)
	Contests() []model.Contest
	ContestsInPhase(phase model.Phase) []model.Contest
}

// ContestHandler handles contest queries.
type ContestHandler struct {
	deps ContestDependencies
}

// NewContestHandler creates a new contest handler.
func NewContestHandler(deps ContestDependencies) *ContestHandler {
	return &ContestHandler{deps: deps}
}

// HandleListContests handles GET /contests?phase= requests.
func (h *ContestHandler) HandleListContests(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	phaseStr := r.URL.Query().Get("phase")
	if phaseStr == "" {
		writeJSON(w, http.StatusOK, h.deps.Contests())
		return
	}
	phase, err := model.ParsePhase(phaseStr)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err)
		return
	}
	writeJSON(w, http.StatusOK, h.deps.ContestsInPhase(phase))
}

// HandleGetContest handles GET /contests/{id} requests.
func (h *ContestHandler) HandleGetContest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	id, ok := contestIDFromPath(r, "/contests/")
	if !ok {
		writeError(w, http.StatusBadRequest, "bad_request", ErrBadRequest)
		return
	}
	contest, err := h.deps.Contest(id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, contest)
}
