// Package stateful defines how kernel objects expose their state for
// checkpointing and how checkpoints are encoded.
package stateful

// A State is a named collection of data that can be serialized and
// deserialized.
type State interface {
	Name() string

	Serialize() (map[string]any, error)
	Deserialize(map[string]any) error
}

// A StateHolder owns a State.
type StateHolder interface {
	Name() string

	State() State
	SetState(State) error
}
