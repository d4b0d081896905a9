package errors

import "errors"

var (
	// ErrNotFound is the sentinel JobService callers can errors.Is against
	// when a job lookup misses. SiteStore.Get does not use it: it returns a
	// nil site and a nil error on a miss.
	ErrNotFound = errors.New("not found")
	// ErrInvalidArgument is a generic sentinel for invalid input, e.g. the
	// nil job id JobService.GetByID rejects.
	ErrInvalidArgument = errors.New("invalid argument")
)
