package errs

import "errors"

// Common sentinel errors for cross-layer signaling.
var (
	ErrNotFound = errors.New("not_found")
	ErrConflict = errors.New("conflict")
	ErrInvalid  = errors.New("invalid")
	// ErrUnprocessable is used for semantic validation failures (HTTP 422)
	ErrUnprocessable = errors.New("unprocessable")
	// ErrImmutable indicates an attempt to change a frozen published sheet
	ErrImmutable = errors.New("immutable")

	// ErrMissingSurface indicates a cotaParte split over an apartment without a positive surface
	ErrMissingSurface = errors.New("missing_surface")
	// ErrEmptyParticipants indicates a difference distribution with no qualifying apartments
	ErrEmptyParticipants = errors.New("empty_participants")
	// ErrIndexBelowOld indicates a submitted meter index below the resolved old index
	ErrIndexBelowOld = errors.New("index_below_old")
	// ErrScopeLocked indicates a reception-mode change on an expense already distributed
	ErrScopeLocked = errors.New("scope_locked")
	// ErrExceedsMaximum indicates a payment category amount above its outstanding maximum
	ErrExceedsMaximum = errors.New("exceeds_maximum")
	// ErrArrearsFirst indicates maintenance paid while arrears remain outstanding
	ErrArrearsFirst = errors.New("arrears_first")
)
