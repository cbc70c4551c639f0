package domain

import (
	"errors"
	"fmt"
)

// Domain errors - use with errors.Is()
var (
	// ErrNotFound indicates a run, incident, or other resource was not found
	ErrNotFound = errors.New("not found")

	// ErrConflict indicates a generic conflict (wrap with a more specific
	// sentinel below when one applies)
	ErrConflict = errors.New("conflict")

	// ErrAlreadyExists indicates StartRun was called with a runId that
	// already has a run record
	ErrAlreadyExists = errors.New("already exists")

	// ErrSequenceAlreadyRecorded indicates HandleEvent was called with a
	// sequence number equal to the run's last recorded sequence, or that
	// Archive.RecordEvent was given an explicit sequence not above the run's
	// last recorded one
	ErrSequenceAlreadyRecorded = errors.New("sequence already recorded")

	// ErrStaleSequence indicates HandleEvent was called with a sequence
	// number less than the run's last recorded sequence
	ErrStaleSequence = errors.New("stale sequence")

	// ErrInvalidSequence indicates the event carried a non-positive or
	// unparsable sequence number
	ErrInvalidSequence = errors.New("invalid sequence")

	// ErrValidation indicates invalid input
	ErrValidation = errors.New("validation failed")

	// ErrUnsupported indicates the archive backend does not implement an
	// optional capability (Prunable, Exportable, Rollbackable, ...)
	ErrUnsupported = errors.New("unsupported operation")

	// ErrUpstreamFailure indicates the provider client returned an error;
	// it never mutates the archive on its own
	ErrUpstreamFailure = errors.New("upstream failure")

	// ErrIOFailure indicates a filesystem or KV backend failure
	ErrIOFailure = errors.New("io failure")

	// ErrUnauthorized indicates authentication failure
	ErrUnauthorized = errors.New("unauthorized")

	// ErrForbidden indicates authorization failure
	ErrForbidden = errors.New("forbidden")

	// ErrUnknownBuiltin indicates BuildToolPayload was given a built-in tool
	// name outside the closed built-in set. Wraps ErrValidation so existing
	// errors.Is(err, ErrValidation) callers still match.
	ErrUnknownBuiltin = fmt.Errorf("unknown builtin tool: %w", ErrValidation)

	// ErrUnknownTool indicates BuildToolPayload was given a function tool
	// name not present in the Tool Registry. Wraps ErrValidation so existing
	// errors.Is(err, ErrValidation) callers still match.
	ErrUnknownTool = fmt.Errorf("unknown tool: %w", ErrValidation)
)
