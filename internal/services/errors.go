package services

import "errors"

var (
	// ErrNotFound means no Outline or Course exists for the id.
	ErrNotFound = errors.New("not found")

	// ErrInvalidTransition means the requested status edge is not legal, or
	// the started→dismissed content guard rejected it.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrVerification means a write reported success but the read-back did
	// not match. A persistence problem, not a generation problem; flags are
	// cleared so the operation stays retryable.
	ErrVerification = errors.New("persisted course failed read-back verification")
)
