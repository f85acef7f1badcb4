package kernel

import (
	"github.com/sarchlab/delayreg/hooking"
	"github.com/sarchlab/delayreg/timing"
)

// Hook positions of the connection manager. Hooks run while the manager is
// locked and must not call back into it.
var (
	// HookPosDelayRegistered fires after a connection's delay was accepted.
	HookPosDelayRegistered = &hooking.HookPos{Name: "DelayRegistered"}

	// HookPosDefaultDelayChecked fires after the default delay was resolved
	// against a model.
	HookPosDefaultDelayChecked = &hooking.HookPos{Name: "DefaultDelayChecked"}

	// HookPosCalibrated fires for every model after a resolution change.
	HookPosCalibrated = &hooking.HookPos{Name: "Calibrated"}

	// HookPosStatusSet fires after a model's status was changed.
	HookPosStatusSet = &hooking.HookPos{Name: "StatusSet"}

	// HookPosSimulate fires when the global bounds are frozen.
	HookPosSimulate = &hooking.HookPos{Name: "Simulate"}
)

// DelayEvent is the detail passed to hooks. Delay is the accepted delay, or
// for a pair of step delays the shorter one. MinDelay and MaxDelay are the
// model's extrema after the event. Widened is set when the event moved one
// of them.
type DelayEvent struct {
	Model          string
	Delay          timing.Time
	MinDelay       timing.Time
	MaxDelay       timing.Time
	NumConnections uint64
	Default        bool
	Widened        bool
}
