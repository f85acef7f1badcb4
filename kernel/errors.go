package kernel

import "errors"

var (
	// ErrUnknownModel is returned for a synapse model that was never
	// registered.
	ErrUnknownModel = errors.New("unknown synapse model")

	// ErrModelExists is returned when a synapse model is registered twice.
	ErrModelExists = errors.New("synapse model already registered")

	// ErrAlreadySimulated is returned for changes that are no longer allowed
	// once the global bounds are frozen.
	ErrAlreadySimulated = errors.New("simulation has already started")

	// ErrDefaultDelayFinalized is returned when the default delay is changed
	// after it was checked against the registers.
	ErrDefaultDelayFinalized = errors.New("default delay is final")
)
