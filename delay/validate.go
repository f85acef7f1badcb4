package delay

import (
	"fmt"
	"math"

	"github.com/sarchlab/delayreg/timing"
)

// subStepTolerance keeps a delay of exactly one step from being rejected
// because of floating-point noise in the division.
const subStepTolerance = 1e-9

// CheckDelayMS reports whether a delay in milliseconds is legal for this
// register without recording it. On success it returns the delay quantized
// at the current resolution.
func (r *Register) CheckDelayMS(ms float64) (timing.Time, error) {
	d, err := r.delayFromMS(ms)
	if err != nil {
		return timing.Time{}, err
	}

	if err := r.checkWithinUserBounds(d, d); err != nil {
		return timing.Time{}, err
	}

	return d, nil
}

// CheckDelaySteps is the step-based counterpart of CheckDelayMS for a pair
// of delays. The pair is usually (d, d+1), the two steps a continuous delay
// falls between.
func (r *Register) CheckDelaySteps(d1, d2 int64) (lo, hi timing.Time, err error) {
	lowSteps, highSteps := min(d1, d2), max(d1, d2)

	if lowSteps < 1 {
		return timing.Time{}, timing.Time{}, fmt.Errorf(
			"%w: %d steps, delay must be greater than or equal to resolution %s",
			ErrInvalidDelay, lowSteps, r.res)
	}

	lo = r.res.FromSteps(lowSteps)
	hi = r.res.FromSteps(highSteps)

	if err := r.checkWithinUserBounds(lo, hi); err != nil {
		return timing.Time{}, timing.Time{}, err
	}

	return lo, hi, nil
}

// AssertValidDelayMS validates a delay given in milliseconds and widens the
// extrema to include it. A failing call leaves the register unchanged.
func (r *Register) AssertValidDelayMS(ms float64) error {
	d, err := r.CheckDelayMS(ms)
	if err != nil {
		return err
	}

	r.widen(d, d)

	return nil
}

// AssertTwoValidDelaysSteps validates two delays given in steps and widens
// the extrema to include both. It is equivalent to validating each delay on
// its own, but converts and compares only once.
func (r *Register) AssertTwoValidDelaysSteps(d1, d2 int64) error {
	lo, hi, err := r.CheckDelaySteps(d1, d2)
	if err != nil {
		return err
	}

	r.widen(lo, hi)

	return nil
}

// UpdateDelayExtrema widens the extrema to include the candidate bounds,
// given in milliseconds. +Inf as minimum or -Inf as maximum means there is
// no candidate for that side. The range never narrows.
func (r *Register) UpdateDelayExtrema(minCandMS, maxCandMS float64) error {
	lo, err := r.candidateFromMS(minCandMS, 1)
	if err != nil {
		return err
	}

	hi, err := r.candidateFromMS(maxCandMS, -1)
	if err != nil {
		return err
	}

	if err := r.checkWithinUserBounds(lo, hi); err != nil {
		return err
	}

	r.widen(lo, hi)

	return nil
}

func (r *Register) candidateFromMS(ms float64, noCandidate int) (timing.Time, error) {
	if math.IsInf(ms, noCandidate) {
		if noCandidate > 0 {
			return timing.PosInf(r.res), nil
		}
		return timing.NegInf(r.res), nil
	}

	return r.delayFromMS(ms)
}

func (r *Register) delayFromMS(ms float64) (timing.Time, error) {
	if math.IsNaN(ms) || math.IsInf(ms, 0) {
		return timing.Time{}, fmt.Errorf("%w: %v ms is not finite",
			ErrInvalidDelay, ms)
	}

	if ms <= 0 {
		return timing.Time{}, fmt.Errorf("%w: %v ms, delay must be positive",
			ErrInvalidDelay, ms)
	}

	if ms/r.res.MS() < 1-subStepTolerance {
		return timing.Time{}, fmt.Errorf(
			"%w: %v ms, delay must be greater than or equal to resolution %s",
			ErrInvalidDelay, ms, r.res)
	}

	steps, err := r.res.StepsFromMS(ms)
	if err != nil {
		return timing.Time{}, fmt.Errorf("%w: %v ms: %w", ErrInvalidDelay, ms, err)
	}

	return r.res.FromSteps(steps), nil
}

func (r *Register) checkWithinUserBounds(lo, hi timing.Time) error {
	if !r.userSetDelayExtrema {
		return nil
	}

	if lo.Before(r.minDelay) {
		return fmt.Errorf(
			"%w: delay %s of %s must be greater than or equal to min_delay %s",
			ErrDelayExtremaConflict, lo, r.name, r.minDelay)
	}

	if hi.After(r.maxDelay) {
		return fmt.Errorf(
			"%w: delay %s of %s must be smaller than or equal to max_delay %s",
			ErrDelayExtremaConflict, hi, r.name, r.maxDelay)
	}

	return nil
}

func (r *Register) widen(lo, hi timing.Time) {
	r.minDelay = timing.MinTime(r.minDelay, lo)
	r.maxDelay = timing.MaxTime(r.maxDelay, hi)
}
