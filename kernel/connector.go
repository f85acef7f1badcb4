package kernel

import (
	"fmt"

	"github.com/sarchlab/delayreg/delay"
	"github.com/sarchlab/delayreg/timing"
)

// frozenBounds are the global delay extrema fixed by Simulate. Delays
// outside them would invalidate the communication interval already in use.
type frozenBounds struct {
	min timing.Time
	max timing.Time
}

// connector holds the per-model registers and the validation steps that the
// manager and its shards share.
type connector struct {
	res               timing.Resolution
	defaultDelayMS    float64
	defaultDelayFinal bool
	frozen            *frozenBounds
	registers         map[string]*delay.Register
}

func (c *connector) register(model string) (*delay.Register, error) {
	reg, ok := c.registers[model]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownModel, model)
	}

	return reg, nil
}

func (c *connector) connect(model string, delayMS float64) (DelayEvent, error) {
	reg, err := c.register(model)
	if err != nil {
		return DelayEvent{}, err
	}

	prevMin, prevMax := reg.MinDelay(), reg.MaxDelay()

	d, err := reg.CheckDelayMS(delayMS)
	if err != nil {
		return DelayEvent{}, err
	}

	if err := c.checkFrozen(d, d); err != nil {
		return DelayEvent{}, err
	}

	if err := reg.AssertValidDelayMS(delayMS); err != nil {
		return DelayEvent{}, err
	}

	reg.IncrConnections()

	return c.event(reg, d, false, prevMin, prevMax), nil
}

func (c *connector) connectContinuous(
	model string,
	d1, d2 int64,
) (DelayEvent, error) {
	reg, err := c.register(model)
	if err != nil {
		return DelayEvent{}, err
	}

	prevMin, prevMax := reg.MinDelay(), reg.MaxDelay()

	lo, hi, err := reg.CheckDelaySteps(d1, d2)
	if err != nil {
		return DelayEvent{}, err
	}

	if err := c.checkFrozen(lo, hi); err != nil {
		return DelayEvent{}, err
	}

	if err := reg.AssertTwoValidDelaysSteps(d1, d2); err != nil {
		return DelayEvent{}, err
	}

	reg.IncrConnections()

	return c.event(reg, lo, false, prevMin, prevMax), nil
}

// connectDefault records a connection that uses the default delay. Until
// the default delay is final, validation is left to the second phase.
// Afterwards the connection is validated right away.
func (c *connector) connectDefault(model string) (DelayEvent, error) {
	reg, err := c.register(model)
	if err != nil {
		return DelayEvent{}, err
	}

	prevMin, prevMax := reg.MinDelay(), reg.MaxDelay()

	d, err := c.res.FromMS(c.defaultDelayMS)
	if err != nil {
		return DelayEvent{}, fmt.Errorf("%w: default delay: %w",
			delay.ErrInvalidDelay, err)
	}

	if c.defaultDelayFinal {
		if _, err := reg.CheckDelayMS(c.defaultDelayMS); err != nil {
			return DelayEvent{}, err
		}

		if err := c.checkFrozen(d, d); err != nil {
			return DelayEvent{}, err
		}
	}

	reg.UsedDefaultDelay()

	if c.defaultDelayFinal {
		if err := reg.ResolveDefaultDelay(c.defaultDelayMS); err != nil {
			return DelayEvent{}, err
		}
	}

	reg.IncrConnections()

	return c.event(reg, d, true, prevMin, prevMax), nil
}

func (c *connector) checkFrozen(lo, hi timing.Time) error {
	if c.frozen == nil {
		return nil
	}

	if lo.Before(c.frozen.min) || hi.After(c.frozen.max) {
		return fmt.Errorf(
			"%w: delays [%s, %s] leave the bounds [%s, %s] fixed by Simulate",
			delay.ErrDelayExtremaConflict, lo, hi, c.frozen.min, c.frozen.max)
	}

	return nil
}

func (c *connector) event(
	reg *delay.Register,
	d timing.Time,
	isDefault bool,
	prevMin, prevMax timing.Time,
) DelayEvent {
	widened := !reg.MinDelay().Equal(prevMin) || !reg.MaxDelay().Equal(prevMax)

	return DelayEvent{
		Model:          reg.Name(),
		Delay:          d,
		MinDelay:       reg.MinDelay(),
		MaxDelay:       reg.MaxDelay(),
		NumConnections: reg.NumConnections(),
		Default:        isDefault,
		Widened:        widened,
	}
}
