package contests

import "errors"

// Sentinel kinds for contest cache errors.
var (
	ErrContestNotFound = errors.New("contest not found")
)
