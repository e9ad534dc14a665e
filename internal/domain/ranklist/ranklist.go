// Package ranklist produces contest standings views with optional rating
// deltas, and owns the monitored/not-monitored live-tracking state machine.
package ranklist

import (
	"fmt"
	"strings"
	"time"

	"github.com/okian/cfcache/internal/domain/model"
)

// Ranklist is a derived view of one contest's standings. Rows are ordered by
// rank ascending. Deltas are present only for rated contests whose rating
// changes are available.
type Ranklist struct {
	Contest   model.Contest
	Problems  []model.Problem
	Rows      []model.StandingRow
	Rated     bool
	FetchedAt time.Time

	deltas map[string]int // lowercased handle -> rating delta
}

// NewRanklist assembles a ranklist from validated standings and any cached
// rating changes for the contest.
func NewRanklist(standings model.RawStandings, changes []model.RatingChange, fetchedAt time.Time) *Ranklist {
	standings.SortRows()

	rl := &Ranklist{
		Contest:   standings.Contest,
		Problems:  standings.Problems,
		Rows:      standings.Rows,
		Rated:     standings.Contest.Rated && len(changes) > 0,
		FetchedAt: fetchedAt,
	}
	if rl.Rated {
		rl.deltas = make(map[string]int, len(changes))
		for _, rc := range changes {
			rl.deltas[strings.ToLower(rc.Handle)] = rc.Delta()
		}
	}
	return rl
}

// StandingRow returns the row whose party contains handle, compared
// case-insensitively.
func (rl *Ranklist) StandingRow(handle string) (model.StandingRow, error) {
	for _, row := range rl.Rows {
		if row.HasMember(handle) {
			return row, nil
		}
	}
	return model.StandingRow{}, fmt.Errorf("%w: %q", ErrHandleNotPresent, handle)
}

// Delta returns the handle's rating delta. The second return is false when
// the contest is unrated or the handle has no computed change; that is never
// an error.
func (rl *Ranklist) Delta(handle string) (int, bool) {
	if rl.deltas == nil {
		return 0, false
	}
	d, ok := rl.deltas[strings.ToLower(handle)]
	return d, ok
}

// Deltas returns a copy of the handle to rating delta map. Empty for unrated
// contests.
func (rl *Ranklist) Deltas() map[string]int {
	out := make(map[string]int, len(rl.deltas))
	for h, d := range rl.deltas {
		out[h] = d
	}
	return out
}
