package delay

import (
	"fmt"

	"github.com/sarchlab/delayreg/timing"
)

// A StepConverter maps times recorded at the previous resolution to the new
// one. timing.Converter is the implementation used by the kernel.
type StepConverter interface {
	FromOld(t timing.Time) (timing.Time, error)
	NewResolution() timing.Resolution
}

// Calibrate re-quantizes the extrema after a resolution change. Bounds are
// never rounded: a bound the new resolution cannot represent as whole steps
// is an error, and the register is left unchanged.
//
// Calibrate must not run concurrently with validation calls.
func (r *Register) Calibrate(c StepConverter) error {
	newRes := c.NewResolution()

	newMin, err := r.calibrateBound(c, r.minDelay, "min_delay")
	if err != nil {
		return err
	}

	newMax, err := r.calibrateBound(c, r.maxDelay, "max_delay")
	if err != nil {
		return err
	}

	r.res = newRes
	r.minDelay = newMin
	r.maxDelay = newMax

	return nil
}

func (r *Register) calibrateBound(
	c StepConverter,
	bound timing.Time,
	what string,
) (timing.Time, error) {
	newRes := c.NewResolution()

	switch {
	case bound.IsPosInf():
		return timing.PosInf(newRes), nil
	case bound.IsNegInf():
		return timing.NegInf(newRes), nil
	}

	converted, err := c.FromOld(bound)
	if err != nil {
		return timing.Time{}, fmt.Errorf("%w: %s %s of %s: %w",
			ErrIncompatibleResolution, what, bound, r.name, err)
	}

	if converted.Steps() < 1 {
		return timing.Time{}, fmt.Errorf(
			"%w: %s %s of %s is shorter than one step of %s",
			ErrIncompatibleResolution, what, bound, r.name, newRes)
	}

	return converted, nil
}
