package delay

import "errors"

var (
	// ErrInvalidDelay indicates a delay that is not positive, is shorter
	// than one step, or is not a whole number of steps.
	ErrInvalidDelay = errors.New("delay: invalid delay")

	// ErrDelayExtremaConflict indicates a delay outside bounds that were
	// fixed explicitly, or an attempt to move bounds that are already in
	// use.
	ErrDelayExtremaConflict = errors.New("delay: delay conflicts with delay extrema")

	// ErrIncompatibleResolution indicates that recorded bounds cannot be
	// expressed as whole steps of a new resolution.
	ErrIncompatibleResolution = errors.New("delay: incompatible resolution")

	// ErrBadStatus indicates a status entry of the wrong type.
	ErrBadStatus = errors.New("delay: bad status entry")
)
