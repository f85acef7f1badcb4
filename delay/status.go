package delay

import (
	"fmt"

	"github.com/spf13/cast"

	"github.com/sarchlab/delayreg/timing"
)

// Status keys.
const (
	KeyMinDelay            = "min_delay"
	KeyMaxDelay            = "max_delay"
	KeyNumConnections      = "num_connections"
	KeyUserSetDelayExtrema = "user_set_delay_extrema"
	KeyUsedDefaultDelay    = "used_default_delay"
)

// Status is the key/value view of a register used for introspection and
// configuration. Delays are in milliseconds.
type Status map[string]any

// GetStatus returns the register's status. Bounds that have not been seen
// yet are reported as +Inf (min_delay) and -Inf (max_delay).
func (r *Register) GetStatus() Status {
	return Status{
		KeyMinDelay:            r.minDelay.MS(),
		KeyMaxDelay:            r.maxDelay.MS(),
		KeyNumConnections:      r.numConnections,
		KeyUserSetDelayExtrema: r.userSetDelayExtrema,
		KeyUsedDefaultDelay:    r.usedDefaultDelay,
	}
}

// SetStatus applies min_delay and max_delay from s. Supplying them fixes the
// extrema: from then on delays outside them are refused rather than
// widening the range. Other keys are read-only and ignored, except that a
// user_set_delay_extrema entry of false makes bounds equal to the current
// ones a no-op, so a status read with GetStatus can be written back
// unchanged.
//
// A new bound is validated like a delay, the other bound must be known, and
// min_delay must not exceed max_delay. Bounds cannot move once connections
// exist, but can be fixed where they are.
func (r *Register) SetStatus(s Status) error {
	newMin, minChanged, err := r.boundFromStatus(s, KeyMinDelay, r.minDelay)
	if err != nil {
		return err
	}

	newMax, maxChanged, err := r.boundFromStatus(s, KeyMaxDelay, r.maxDelay)
	if err != nil {
		return err
	}

	pin, err := r.pinFromStatus(s)
	if err != nil {
		return err
	}

	if !minChanged && !maxChanged {
		if !pin || r.userSetDelayExtrema {
			return nil
		}
	} else if r.numConnections > 0 {
		return fmt.Errorf(
			"%w: %d connections of %s already exist",
			ErrDelayExtremaConflict, r.numConnections, r.name)
	}

	if !newMin.IsFinite() || !newMax.IsFinite() {
		return fmt.Errorf(
			"%w: both %s and %s have to be specified for %s",
			ErrInvalidDelay, KeyMinDelay, KeyMaxDelay, r.name)
	}

	if newMax.Before(newMin) {
		return fmt.Errorf(
			"%w: %s %s must be smaller than or equal to %s %s",
			ErrInvalidDelay, KeyMinDelay, newMin, KeyMaxDelay, newMax)
	}

	r.minDelay = newMin
	r.maxDelay = newMax
	r.userSetDelayExtrema = true

	return nil
}

// pinFromStatus reports whether supplied bounds equal to the current ones
// should still fix the extrema.
func (r *Register) pinFromStatus(s Status) (bool, error) {
	_, hasMin := s[KeyMinDelay]
	_, hasMax := s[KeyMaxDelay]
	if !hasMin && !hasMax {
		return false, nil
	}

	v, ok := s[KeyUserSetDelayExtrema]
	if !ok {
		return true, nil
	}

	pin, err := cast.ToBoolE(v)
	if err != nil {
		return false, fmt.Errorf(
			"%w: %s: %w", ErrBadStatus, KeyUserSetDelayExtrema, err)
	}

	return pin, nil
}

func (r *Register) boundFromStatus(
	s Status,
	key string,
	current timing.Time,
) (bound timing.Time, changed bool, err error) {
	v, ok := s[key]
	if !ok {
		return current, false, nil
	}

	ms, err := cast.ToFloat64E(v)
	if err != nil {
		return current, false, fmt.Errorf("%w: %s: %w", ErrBadStatus, key, err)
	}

	if r.sameBound(current, ms) {
		return current, false, nil
	}

	bound, err = r.delayFromMS(ms)
	if err != nil {
		return current, false, fmt.Errorf("%s: %w", key, err)
	}

	return bound, true, nil
}

func (r *Register) sameBound(current timing.Time, ms float64) bool {
	if !current.IsFinite() {
		return current.MS() == ms
	}

	steps, err := r.res.StepsFromMS(ms)

	return err == nil && steps == current.Steps()
}

// Checkpoint keys.
const (
	stateName                   = "name"
	stateResolution             = "resolution"
	stateMinDelaySteps          = "min_delay_steps"
	stateMaxDelaySteps          = "max_delay_steps"
	stateNumConnections         = KeyNumConnections
	stateDefaultDelayNeedsCheck = "default_delay_needs_check"
	stateUserSetDelayExtrema    = KeyUserSetDelayExtrema
	stateUsedDefaultDelay       = KeyUsedDefaultDelay
)

// Serialize captures the full register state, including the resolution and
// the pending default delay check. Unset bounds are omitted.
func (r *Register) Serialize() (map[string]any, error) {
	data := map[string]any{
		stateName:                   r.name,
		stateResolution:             r.res.MS(),
		stateNumConnections:         r.numConnections,
		stateDefaultDelayNeedsCheck: r.defaultDelayNeedsCheck,
		stateUserSetDelayExtrema:    r.userSetDelayExtrema,
		stateUsedDefaultDelay:       r.usedDefaultDelay,
	}

	if r.minDelay.IsFinite() {
		data[stateMinDelaySteps] = r.minDelay.Steps()
	}

	if r.maxDelay.IsFinite() {
		data[stateMaxDelaySteps] = r.maxDelay.Steps()
	}

	return data, nil
}

// Deserialize restores a state produced by Serialize. Numbers may come in
// any numeric type, as decoders differ in what they produce.
func (r *Register) Deserialize(data map[string]any) error {
	restored := &Register{name: r.name}

	if v, ok := data[stateName]; ok {
		name, err := cast.ToStringE(v)
		if err != nil {
			return fmt.Errorf("%w: %s: %w", ErrBadStatus, stateName, err)
		}
		restored.name = name
	}

	resMS, err := cast.ToFloat64E(data[stateResolution])
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrBadStatus, stateResolution, err)
	}

	restored.res, err = timing.NewResolution(resMS)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrBadStatus, err)
	}

	restored.minDelay = timing.PosInf(restored.res)
	restored.maxDelay = timing.NegInf(restored.res)

	if v, ok := data[stateMinDelaySteps]; ok {
		steps, err := cast.ToInt64E(v)
		if err != nil {
			return fmt.Errorf("%w: %s: %w", ErrBadStatus, stateMinDelaySteps, err)
		}
		restored.minDelay = restored.res.FromSteps(steps)
	}

	if v, ok := data[stateMaxDelaySteps]; ok {
		steps, err := cast.ToInt64E(v)
		if err != nil {
			return fmt.Errorf("%w: %s: %w", ErrBadStatus, stateMaxDelaySteps, err)
		}
		restored.maxDelay = restored.res.FromSteps(steps)
	}

	restored.numConnections, err = cast.ToUint64E(data[stateNumConnections])
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrBadStatus, stateNumConnections, err)
	}

	flags := []struct {
		key string
		dst *bool
	}{
		{stateDefaultDelayNeedsCheck, &restored.defaultDelayNeedsCheck},
		{stateUserSetDelayExtrema, &restored.userSetDelayExtrema},
		{stateUsedDefaultDelay, &restored.usedDefaultDelay},
	}
	for _, f := range flags {
		*f.dst, err = cast.ToBoolE(data[f.key])
		if err != nil {
			return fmt.Errorf("%w: %s: %w", ErrBadStatus, f.key, err)
		}
	}

	*r = *restored

	return nil
}
