// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"net/http"

	"github.com/okian/cfcache/internal/domain/model"
)

// RatingDependencies defines the interface for rating history reads.
type RatingDependencies interface {
	RatingChangesForHandle(handle string) []model.RatingChange
	CurrentRating(handle string) (int, bool)
	FirstRatedContest(handle string) (model.RatingChange, bool)
}

// RatingHandler handles rating history requests.
type RatingHandler struct {
	deps RatingDependencies
}

// NewRatingHandler creates a new rating handler.
func NewRatingHandler(deps RatingDependencies) *RatingHandler {
	return &RatingHandler{deps: deps}
}

// ratingResponse carries a handle's cached rating history. FirstRated marks
// handles whose only cached change started from the default rating.
type ratingResponse struct {
	Handle     string               `json:"handle"`
	Current    *int                 `json:"current,omitempty"`
	FirstRated bool                 `json:"first_rated"`
	Changes    []model.RatingChange `json:"changes"`
}

// HandleGetRatings handles GET /ratings/{handle} requests.
func (h *RatingHandler) HandleGetRatings(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	handle, ok := pathTail(r, "/ratings/")
	if !ok {
		writeError(w, http.StatusBadRequest, "bad_request", ErrBadRequest)
		return
	}

	resp := ratingResponse{
		Handle:  handle,
		Changes: h.deps.RatingChangesForHandle(handle),
	}
	if current, ok := h.deps.CurrentRating(handle); ok {
		resp.Current = &current
	}
	_, resp.FirstRated = h.deps.FirstRatedContest(handle)
	writeJSON(w, http.StatusOK, resp)
}
