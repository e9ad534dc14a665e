// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"net/http"
	"net/url"

	"github.com/okian/cfcache/internal/domain/model"
)

// ProblemDependencies defines the interface for problem reads.
type ProblemDependencies interface {
	Problems() []model.Problem
	ProblemByName(name string) (model.Problem, error)
}

// ProblemHandler handles problem catalog queries.
type ProblemHandler struct {
	deps ProblemDependencies
}

// NewProblemHandler creates a new problem handler.
func NewProblemHandler(deps ProblemDependencies) *ProblemHandler {
	return &ProblemHandler{deps: deps}
}

// HandleListProblems handles GET /problems requests.
func (h *ProblemHandler) HandleListProblems(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, http.StatusOK, h.deps.Problems())
}

// HandleGetProblem handles GET /problems/{name} requests. The name segment is
// URL-escaped since problem names contain spaces.
func (h *ProblemHandler) HandleGetProblem(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	tail, ok := pathTail(r, "/problems/")
	if !ok {
		writeError(w, http.StatusBadRequest, "bad_request", ErrBadRequest)
		return
	}
	name, err := url.PathUnescape(tail)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err)
		return
	}
	problem, err := h.deps.ProblemByName(name)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, problem)
}
