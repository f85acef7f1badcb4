package timing

import (
	"cmp"
	"math"
	"strconv"
)

const (
	posInfSteps = int64(math.MaxInt64)
	negInfSteps = int64(math.MinInt64)
)

// Time is a duration or point in time measured in whole steps of a
// Resolution. The zero value is zero steps at an unset resolution.
//
// Two sentinels exist, PosInf and NegInf, used for bounds that have not been
// observed yet.
type Time struct {
	steps int64
	res   Resolution
}

// PosInf returns the positive infinity sentinel.
func PosInf(r Resolution) Time {
	return Time{steps: posInfSteps, res: r}
}

// NegInf returns the negative infinity sentinel.
func NegInf(r Resolution) Time {
	return Time{steps: negInfSteps, res: r}
}

// Steps returns the step count. For the sentinels it returns the extreme
// int64 values.
func (t Time) Steps() int64 {
	return t.steps
}

// Resolution returns the resolution the step count refers to.
func (t Time) Resolution() Resolution {
	return t.res
}

// MS returns the time in milliseconds, or +/-Inf for the sentinels.
func (t Time) MS() float64 {
	switch t.steps {
	case posInfSteps:
		return math.Inf(1)
	case negInfSteps:
		return math.Inf(-1)
	}

	return t.res.MSFromSteps(t.steps)
}

// IsPosInf reports whether t is the positive infinity sentinel.
func (t Time) IsPosInf() bool {
	return t.steps == posInfSteps
}

// IsNegInf reports whether t is the negative infinity sentinel.
func (t Time) IsNegInf() bool {
	return t.steps == negInfSteps
}

// IsFinite reports whether t is neither of the sentinels.
func (t Time) IsFinite() bool {
	return !t.IsPosInf() && !t.IsNegInf()
}

// Compare returns -1, 0 or +1. Times at the same resolution compare by
// steps, otherwise by their millisecond value.
func (t Time) Compare(o Time) int {
	if t.res == o.res || !t.IsFinite() || !o.IsFinite() {
		return cmp.Compare(t.steps, o.steps)
	}

	return cmp.Compare(t.MS(), o.MS())
}

// Before reports whether t is strictly earlier than o.
func (t Time) Before(o Time) bool {
	return t.Compare(o) < 0
}

// After reports whether t is strictly later than o.
func (t Time) After(o Time) bool {
	return t.Compare(o) > 0
}

// Equal reports whether t and o denote the same time.
func (t Time) Equal(o Time) bool {
	return t.Compare(o) == 0
}

// String formats the time in milliseconds.
func (t Time) String() string {
	switch {
	case t.IsPosInf():
		return "+inf"
	case t.IsNegInf():
		return "-inf"
	}

	return strconv.FormatFloat(t.MS(), 'g', -1, 64) + "ms"
}

// MinTime returns the earlier of a and b.
func MinTime(a, b Time) Time {
	if b.Before(a) {
		return b
	}
	return a
}

// MaxTime returns the later of a and b.
func MaxTime(a, b Time) Time {
	if b.After(a) {
		return b
	}
	return a
}

func clampFinite(steps int64) int64 {
	switch steps {
	case posInfSteps:
		return posInfSteps - 1
	case negInfSteps:
		return negInfSteps + 1
	}
	return steps
}
