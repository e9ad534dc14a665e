package client

import (
	"errors"
	"fmt"
)

// Sentinel kinds for remote fetch errors.
var (
	// ErrFetch marks any transient remote-origin failure. Callers may retry.
	ErrFetch = errors.New("remote fetch failed")

	// ErrNotPublished marks a rating-change request for a contest whose
	// changes the remote has not published yet. Not a failure.
	ErrNotPublished = errors.New("rating changes not published yet")
)

// Error carries the failing resource and the upstream comment, if any.
type Error struct {
	Resource string
	Comment  string
	Err      error
}

func (e *Error) Error() string {
	if e.Comment != "" {
		return fmt.Sprintf("fetch %s: %s", e.Resource, e.Comment)
	}
	return fmt.Sprintf("fetch %s: %v", e.Resource, e.Err)
}

func (e *Error) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return ErrFetch
}

// fetchErr wraps err as a transient fetch error for resource.
func fetchErr(resource, comment string, err error) error {
	if err == nil {
		err = ErrFetch
	} else if !errors.Is(err, ErrFetch) {
		err = fmt.Errorf("%w: %w", ErrFetch, err)
	}
	return &Error{Resource: resource, Comment: comment, Err: err}
}
