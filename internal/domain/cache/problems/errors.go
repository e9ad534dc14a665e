package problems

import "errors"

// Sentinel kinds for problem cache errors.
var (
	ErrProblemNotFound = errors.New("problem not found")
)
