// Package timing defines the discrete time model of the simulator. Every
// duration is a whole number of steps at a Resolution, and conversions from
// milliseconds refuse values that do not land on a step boundary.
package timing

import (
	"errors"
	"fmt"
	"math"
	"strconv"
)

var (
	// ErrInvalidResolution indicates a step size that is not a finite,
	// positive number of milliseconds.
	ErrInvalidResolution = errors.New("timing: resolution must be finite and positive")

	// ErrStepPrecisionLoss indicates that a conversion to steps would require
	// precision beyond the selected resolution.
	ErrStepPrecisionLoss = errors.New("timing: duration is not aligned with resolution")

	// ErrStepOverflow indicates that the computed number of steps exceeds the
	// representable range of a step count.
	ErrStepOverflow = errors.New("timing: step value overflow")
)

// Resolution is the simulation step size in milliseconds.
type Resolution float64

// NewResolution validates a step size given in milliseconds.
func NewResolution(ms float64) (Resolution, error) {
	if math.IsNaN(ms) || math.IsInf(ms, 0) || ms <= 0 {
		return 0, fmt.Errorf("%w: %v ms", ErrInvalidResolution, ms)
	}

	return Resolution(ms), nil
}

// MustNewResolution is like NewResolution but panics on invalid input.
func MustNewResolution(ms float64) Resolution {
	r, err := NewResolution(ms)
	if err != nil {
		panic(err)
	}

	return r
}

// MS returns the step size in milliseconds.
func (r Resolution) MS() float64 {
	return float64(r)
}

// String formats the resolution, e.g. "0.1ms".
func (r Resolution) String() string {
	return strconv.FormatFloat(float64(r), 'g', -1, 64) + "ms"
}

// StepsFromMS converts a duration in milliseconds to a whole number of steps.
// The duration must be a multiple of the resolution, up to floating-point
// noise.
func (r Resolution) StepsFromMS(ms float64) (int64, error) {
	if r <= 0 {
		return 0, ErrInvalidResolution
	}

	if math.IsNaN(ms) || math.IsInf(ms, 0) {
		return 0, fmt.Errorf("%w: %v ms", ErrStepOverflow, ms)
	}

	scaled := ms / float64(r)
	rounded := math.Round(scaled)
	if math.Abs(scaled-rounded) > stepAlignmentTolerance(scaled) {
		return 0, fmt.Errorf(
			"%w: duration %.12g ms is not a multiple of step %.12g ms",
			ErrStepPrecisionLoss,
			ms,
			float64(r),
		)
	}

	if rounded >= math.MaxInt64 || rounded <= math.MinInt64 {
		return 0, ErrStepOverflow
	}

	return int64(rounded), nil
}

// MSFromSteps converts a step count to milliseconds.
func (r Resolution) MSFromSteps(steps int64) float64 {
	return float64(steps) * float64(r)
}

// FromMS converts milliseconds to a Time. Infinite values map to the
// infinity sentinels.
func (r Resolution) FromMS(ms float64) (Time, error) {
	switch {
	case math.IsInf(ms, 1):
		return PosInf(r), nil
	case math.IsInf(ms, -1):
		return NegInf(r), nil
	}

	steps, err := r.StepsFromMS(ms)
	if err != nil {
		return Time{}, err
	}

	return r.FromSteps(steps), nil
}

// FromSteps wraps a step count as a Time at this resolution.
func (r Resolution) FromSteps(steps int64) Time {
	return Time{steps: clampFinite(steps), res: r}
}

// OneStep returns a Time of exactly one step.
func (r Resolution) OneStep() Time {
	return r.FromSteps(1)
}

// stepAlignmentTolerance is the distance from a whole step that is still
// attributed to rounding in the millisecond arithmetic. It allows a few ULPs
// of the value and nothing more, so large off-grid durations are refused.
func stepAlignmentTolerance(value float64) float64 {
	const ulps = 8
	return ulps * epsilon * math.Max(1, math.Abs(value))
}

// epsilon is the spacing of float64 values just above 1.
const epsilon = 0x1p-52
