package ranklist

import "errors"

// Sentinel kinds for ranklist errors.
var (
	// ErrNotMonitored signals that a live ranklist exists in principle but
	// is not being tracked. Callers fall back to Generate or Monitor; this
	// is control flow, not a fault.
	ErrNotMonitored = errors.New("ranklist not monitored")

	// ErrContestNotStarted marks a ranklist request for a contest that has
	// not begun. Callers must not ask.
	ErrContestNotStarted = errors.New("contest has not started")

	// ErrContestNotLive rejects a monitor start for a finished contest.
	ErrContestNotLive = errors.New("contest is not live")

	// ErrHandleNotPresent marks a standings lookup for a handle with no row.
	ErrHandleNotPresent = errors.New("handle not present in standings")
)
