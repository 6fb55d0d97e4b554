package domain

import "errors"

var (
	// ErrStateStore marks transient key-value store failures. Reads on the
	// request hot path treat it as fail-open; enforcement writes propagate it.
	ErrStateStore = errors.New("state store unavailable")

	// ErrUpstream marks a failed call to an optional external service. The
	// step that hit it is skipped and noted in the decision reasons.
	ErrUpstream = errors.New("upstream service failed")

	// ErrDecision marks an internally inconsistent decision. The request is
	// treated as suspicious with no enforcement.
	ErrDecision = errors.New("invalid decision")
)
