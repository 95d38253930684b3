package domain

import "errors"

// Sentinel errors for the scoring pipeline.
var (
	// ErrModelUnavailable indicates a scorer's backing artifact failed
	// to load or the scorer did not respond within its budget. The
	// pipeline degrades by excluding that scorer from fusion.
	ErrModelUnavailable = errors.New("model unavailable")

	// ErrAllScorersUnavailable indicates no scorer produced a score.
	// Surfaced to the caller as a hard failure for the request.
	ErrAllScorersUnavailable = errors.New("all scorers unavailable")

	// ErrFeatureBuild indicates malformed transaction input, such as a
	// non-finite amount. No partial scoring is attempted.
	ErrFeatureBuild = errors.New("feature build failed")

	// ErrGraphBusy indicates the entity graph write lock could not be
	// acquired within the configured budget. Callers retry a bounded
	// number of times before surfacing a transient error.
	ErrGraphBusy = errors.New("entity graph busy")

	// ErrNotFound indicates a requested record does not exist.
	ErrNotFound = errors.New("record not found")
)
