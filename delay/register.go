// Package delay tracks, per synapse type, the smallest and largest
// transmission delay that any connection of that type uses.
//
// The minimum delay over all synapse types bounds how far the simulation can
// advance before spikes have to be exchanged, so a Register refuses delays
// that cannot be represented at the current resolution and delays that fall
// outside bounds the user fixed explicitly.
//
// A Register is not safe for concurrent use. Owners either serialize access
// or give each worker its own Register (see Clone) and combine them with
// Merge once all workers are done.
package delay

import (
	"fmt"

	"github.com/sarchlab/delayreg/timing"
)

// Register holds the delay extrema and the connection count of one synapse
// type.
type Register struct {
	name string
	res  timing.Resolution

	minDelay               timing.Time
	maxDelay               timing.Time
	numConnections         uint64
	defaultDelayNeedsCheck bool
	userSetDelayExtrema    bool
	usedDefaultDelay       bool
}

// NewRegister creates a register for the named synapse type. No delay has
// been seen yet, so the minimum starts at +inf and the maximum at -inf.
func NewRegister(name string, res timing.Resolution) *Register {
	r := &Register{name: name, res: res}
	r.Reset()

	return r
}

// Name returns the synapse type the register belongs to.
func (r *Register) Name() string {
	return r.name
}

// Resolution returns the resolution the bounds are quantized at.
func (r *Register) Resolution() timing.Resolution {
	return r.res
}

// NumConnections returns the number of connections created of this type.
func (r *Register) NumConnections() uint64 {
	return r.numConnections
}

// IncrConnections counts one more connection.
func (r *Register) IncrConnections() {
	r.numConnections++
}

// MinDelay returns the smallest delay seen or set.
func (r *Register) MinDelay() timing.Time {
	return r.minDelay
}

// MaxDelay returns the largest delay seen or set.
func (r *Register) MaxDelay() timing.Time {
	return r.maxDelay
}

// UserSetDelayExtrema reports whether the bounds were fixed through
// SetStatus.
func (r *Register) UserSetDelayExtrema() bool {
	return r.userSetDelayExtrema
}

// UsedDefaultDelay records that a connection was created with the kernel's
// default delay. The default delay is not validated here because its final
// value may not be known yet; see ResolveDefaultDelay.
func (r *Register) UsedDefaultDelay() {
	r.defaultDelayNeedsCheck = true
	r.usedDefaultDelay = true
}

// HasUsedDefaultDelay reports whether the default delay was ever used. The
// flag is never cleared.
func (r *Register) HasUsedDefaultDelay() bool {
	return r.usedDefaultDelay
}

// DefaultDelayNeedsCheck reports whether the default delay was used since it
// was last resolved.
func (r *Register) DefaultDelayNeedsCheck() bool {
	return r.defaultDelayNeedsCheck
}

// ResolveDefaultDelay validates the final default delay like any explicit
// delay and, if it passes, clears the pending check.
func (r *Register) ResolveDefaultDelay(ms float64) error {
	if err := r.AssertValidDelayMS(ms); err != nil {
		return fmt.Errorf("default delay of %s: %w", r.name, err)
	}

	r.defaultDelayNeedsCheck = false

	return nil
}

// Clone returns an independent copy of the register.
func (r *Register) Clone() *Register {
	c := *r
	return &c
}

// Spawn returns a register for a worker: same resolution, extrema and user
// bounds, but no connections and no pending default delay check. Merging the
// worker back with Merge then counts only what the worker added.
func (r *Register) Spawn() *Register {
	c := r.Clone()
	c.numConnections = 0
	c.defaultDelayNeedsCheck = false

	return c
}

// Reset returns the register to its freshly constructed state. Name and
// resolution are kept.
func (r *Register) Reset() {
	r.minDelay = timing.PosInf(r.res)
	r.maxDelay = timing.NegInf(r.res)
	r.numConnections = 0
	r.defaultDelayNeedsCheck = false
	r.userSetDelayExtrema = false
	r.usedDefaultDelay = false
}

// Merge folds other into r: the minimum of the minima, the maximum of the
// maxima, the sum of the counts and the OR of the flags. Both registers must
// use the same resolution. User-set bounds on either side are never widened
// by the other side's extrema; r is left unchanged on error.
func (r *Register) Merge(other *Register) error {
	if other.res != r.res {
		return fmt.Errorf("%w: cannot merge %s register at %s into one at %s",
			ErrIncompatibleResolution, other.name, other.res, r.res)
	}

	if err := other.checkFitsUserBounds(r); err != nil {
		return err
	}

	if err := r.checkFitsUserBounds(other); err != nil {
		return err
	}

	r.minDelay = timing.MinTime(r.minDelay, other.minDelay)
	r.maxDelay = timing.MaxTime(r.maxDelay, other.maxDelay)
	r.numConnections += other.numConnections
	r.defaultDelayNeedsCheck = r.defaultDelayNeedsCheck || other.defaultDelayNeedsCheck
	r.userSetDelayExtrema = r.userSetDelayExtrema || other.userSetDelayExtrema
	r.usedDefaultDelay = r.usedDefaultDelay || other.usedDefaultDelay

	return nil
}

// checkFitsUserBounds fails if bounded has user-set extrema and the finite
// extrema of r fall outside them.
func (r *Register) checkFitsUserBounds(bounded *Register) error {
	if !bounded.userSetDelayExtrema {
		return nil
	}

	if (r.minDelay.IsFinite() && r.minDelay.Before(bounded.minDelay)) ||
		(r.maxDelay.IsFinite() && bounded.maxDelay.Before(r.maxDelay)) {
		return fmt.Errorf(
			"%w: %s extrema [%s, %s] exceed the user-set bounds [%s, %s]",
			ErrDelayExtremaConflict, r.name,
			r.minDelay, r.maxDelay, bounded.minDelay, bounded.maxDelay)
	}

	return nil
}
