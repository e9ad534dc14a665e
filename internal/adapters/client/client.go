// Package client declares the remote fetch contracts consumed by the caches
// and provides the Codeforces HTTP implementation.
package client

import (
	"context"

	"github.com/okian/cfcache/internal/domain/model"
)

// ContestFetcher retrieves the full contest catalog.
type ContestFetcher interface {
	Contests(ctx context.Context) ([]model.Contest, error)
}

// ProblemFetcher retrieves problems. A zero contestID means the whole catalog.
type ProblemFetcher interface {
	Problems(ctx context.Context, contestID int64) ([]model.Problem, error)
}

// StandingsFetcher retrieves live or final standings for one contest.
type StandingsFetcher interface {
	Standings(ctx context.Context, contestID int64) (model.RawStandings, error)
}

// RatingChangeFetcher retrieves published rating changes for one contest.
// It returns ErrNotPublished when the contest has none published yet.
type RatingChangeFetcher interface {
	RatingChanges(ctx context.Context, contestID int64) ([]model.RatingChange, error)
}

// Fetcher bundles every remote fetch the caches consume.
type Fetcher interface {
	ContestFetcher
	ProblemFetcher
	StandingsFetcher
	RatingChangeFetcher
}
