package timing

import (
	"fmt"
)

// Converter re-expresses step counts recorded at an old resolution in terms
// of a new one.
type Converter struct {
	old Resolution
	new Resolution
}

// NewConverter creates a converter from the from resolution to the to
// resolution.
func NewConverter(from, to Resolution) (Converter, error) {
	if from <= 0 || to <= 0 {
		return Converter{}, ErrInvalidResolution
	}

	return Converter{old: from, new: to}, nil
}

// OldResolution returns the resolution values are converted from.
func (c Converter) OldResolution() Resolution {
	return c.old
}

// NewResolution returns the resolution values are converted to.
func (c Converter) NewResolution() Resolution {
	return c.new
}

// IsIdentity reports whether both resolutions are the same.
func (c Converter) IsIdentity() bool {
	return c.old == c.new
}

// FromOldSteps converts a step count at the old resolution to a step count
// at the new resolution with the same millisecond meaning.
func (c Converter) FromOldSteps(steps int64) (int64, error) {
	if c.IsIdentity() {
		return steps, nil
	}

	newSteps, err := c.new.StepsFromMS(c.old.MSFromSteps(steps))
	if err != nil {
		return 0, fmt.Errorf(
			"%d steps of %s cannot be expressed in steps of %s: %w",
			steps, c.old, c.new, err)
	}

	return newSteps, nil
}

// FromOld converts a Time at the old resolution. The infinity sentinels are
// carried over.
func (c Converter) FromOld(t Time) (Time, error) {
	switch {
	case t.IsPosInf():
		return PosInf(c.new), nil
	case t.IsNegInf():
		return NegInf(c.new), nil
	}

	steps, err := c.FromOldSteps(t.Steps())
	if err != nil {
		return Time{}, err
	}

	return c.new.FromSteps(steps), nil
}
