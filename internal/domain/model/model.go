// Package model contains domain records passed between layers.
package model

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// DefaultRating is the rating every handle starts from.
const DefaultRating = 1500

// Phase is the lifecycle stage of a contest.
type Phase string

// Contest phases.
const (
	PhaseBefore   Phase = "BEFORE"
	PhaseCoding   Phase = "CODING"
	PhaseFinished Phase = "FINISHED"
)

// ParsePhase validates a phase string.
func ParsePhase(s string) (Phase, error) {
	switch p := Phase(strings.ToUpper(strings.TrimSpace(s))); p {
	case PhaseBefore, PhaseCoding, PhaseFinished:
		return p, nil
	default:
		return "", fmt.Errorf("unknown contest phase: %q", s)
	}
}

// Contest is one row of the contest catalog.
type Contest struct {
	ID        int64
	Name      string
	Type      string // CF, ICPC or IOI
	StartTime time.Time
	Duration  time.Duration
	Rated     bool
}

// Phase derives the contest phase from now. The remote phase string is never
// trusted across a cache refresh; phase is a function of time.
func (c Contest) Phase(now time.Time) Phase {
	switch {
	case c.StartTime.IsZero():
		return PhaseBefore
	case now.Before(c.StartTime):
		return PhaseBefore
	case now.Before(c.EndTime()):
		return PhaseCoding
	default:
		return PhaseFinished
	}
}

// EndTime returns the scheduled end of a contest.
func (c Contest) EndTime() time.Time {
	return c.StartTime.Add(c.Duration)
}

// Key returns the primary store key of the contest.
func (c Contest) Key() string {
	return strconv.FormatInt(c.ID, 10)
}

// Validate rejects malformed contest rows at the fetch boundary.
func (c Contest) Validate() error {
	switch {
	case c.ID <= 0:
		return errors.New("contest id must be positive")
	case c.Name == "":
		return errors.New("contest name must not be empty")
	case c.Duration < 0:
		return errors.New("contest duration must not be negative")
	}
	return nil
}

// Problem is one row of the problem catalog.
type Problem struct {
	ContestID int64
	Index     string // letter within contest, e.g. "A", "C1"
	Name      string // secondary unique key across the whole catalog
	Rating    int    // 0 when unrated
	Tags      []string
}

// Key returns the primary store key: (contestID, index).
func (p Problem) Key() string {
	return strconv.FormatInt(p.ContestID, 10) + "/" + p.Index
}

// Validate rejects malformed problem rows at the fetch boundary.
func (p Problem) Validate() error {
	switch {
	case p.ContestID <= 0:
		return errors.New("problem contest id must be positive")
	case p.Index == "":
		return errors.New("problem index must not be empty")
	case p.Name == "":
		return errors.New("problem name must not be empty")
	}
	return nil
}

// RatingChange records the (old, new) rating pair for a handle after a
// rated contest. At most one exists per (contestID, handle).
type RatingChange struct {
	ContestID int64
	Handle    string
	Rank      int
	OldRating int
	NewRating int
	UpdatedAt time.Time
}

// Key returns the primary store key: (contestID, handle).
func (rc RatingChange) Key() string {
	return strconv.FormatInt(rc.ContestID, 10) + "/" + strings.ToLower(rc.Handle)
}

// Delta is the rating movement of this change.
func (rc RatingChange) Delta() int {
	return rc.NewRating - rc.OldRating
}

// Validate rejects malformed rating change rows at the fetch boundary.
func (rc RatingChange) Validate() error {
	switch {
	case rc.ContestID <= 0:
		return errors.New("rating change contest id must be positive")
	case rc.Handle == "":
		return errors.New("rating change handle must not be empty")
	case rc.Rank <= 0:
		return errors.New("rating change rank must be positive")
	}
	return nil
}

// ProblemResult is one cell of a standings row.
type ProblemResult struct {
	Points           float64
	RejectedAttempts int
}

// StandingRow is one row of a contest's standings.
type StandingRow struct {
	Rank           int
	Members        []string // party member handles
	Points         float64
	Penalty        int
	ProblemResults []ProblemResult
}

// HasMember reports whether handle belongs to the row's party,
// compared case-insensitively.
func (r StandingRow) HasMember(handle string) bool {
	for _, m := range r.Members {
		if strings.EqualFold(m, handle) {
			return true
		}
	}
	return false
}

// RawStandings is the validated shape of one remote standings fetch.
type RawStandings struct {
	Contest  Contest
	Problems []Problem
	Rows     []StandingRow
}

// SortRows orders standing rows by rank ascending, in place.
func (s *RawStandings) SortRows() {
	sort.SliceStable(s.Rows, func(i, j int) bool {
		return s.Rows[i].Rank < s.Rows[j].Rank
	})
}
