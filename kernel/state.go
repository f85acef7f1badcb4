package kernel

import (
	"errors"
	"fmt"

	"github.com/spf13/cast"

	"github.com/sarchlab/delayreg/delay"
	"github.com/sarchlab/delayreg/stateful"
	"github.com/sarchlab/delayreg/timing"
)

// ErrBadState is returned when a checkpoint cannot be applied.
var ErrBadState = errors.New("bad connection manager state")

const (
	stateResolution        = "resolution"
	stateDefaultDelay      = "default_delay"
	stateDefaultDelayFinal = "default_delay_final"
	stateFrozenMinSteps    = "frozen_min_delay_steps"
	stateFrozenMaxSteps    = "frozen_max_delay_steps"
	stateModels            = "models"
	stateRegisters         = "registers"
)

type managerState struct {
	name              string
	res               timing.Resolution
	defaultDelayMS    float64
	defaultDelayFinal bool
	frozen            *frozenBounds
	models            []string
	registers         map[string]*delay.Register
}

func (s *managerState) Name() string {
	return s.name
}

func (s *managerState) Serialize() (map[string]any, error) {
	regs := make(map[string]any, len(s.registers))
	for _, model := range s.models {
		data, err := s.registers[model].Serialize()
		if err != nil {
			return nil, err
		}

		regs[model] = data
	}

	data := map[string]any{
		stateResolution:        s.res.MS(),
		stateDefaultDelay:      s.defaultDelayMS,
		stateDefaultDelayFinal: s.defaultDelayFinal,
		stateModels:            append([]string(nil), s.models...),
		stateRegisters:         regs,
	}

	if s.frozen != nil {
		data[stateFrozenMinSteps] = s.frozen.min.Steps()
		data[stateFrozenMaxSteps] = s.frozen.max.Steps()
	}

	return data, nil
}

func (s *managerState) Deserialize(data map[string]any) error {
	resMS, err := cast.ToFloat64E(data[stateResolution])
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrBadState, stateResolution, err)
	}

	res, err := timing.NewResolution(resMS)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrBadState, err)
	}

	defaultDelay, err := cast.ToFloat64E(data[stateDefaultDelay])
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrBadState, stateDefaultDelay, err)
	}

	if err := checkDefaultDelay(res, defaultDelay); err != nil {
		return fmt.Errorf("%w: %w", ErrBadState, err)
	}

	final, err := cast.ToBoolE(data[stateDefaultDelayFinal])
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrBadState, stateDefaultDelayFinal, err)
	}

	models, err := cast.ToStringSliceE(data[stateModels])
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrBadState, stateModels, err)
	}

	regData, err := cast.ToStringMapE(data[stateRegisters])
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrBadState, stateRegisters, err)
	}

	regs := make(map[string]*delay.Register, len(models))
	for _, model := range models {
		if _, dup := regs[model]; dup {
			return fmt.Errorf("%w: model %q listed twice", ErrBadState, model)
		}

		entry, err := cast.ToStringMapE(regData[model])
		if err != nil {
			return fmt.Errorf("%w: register %q: %w", ErrBadState, model, err)
		}

		reg := delay.NewRegister(model, res)
		if err := reg.Deserialize(entry); err != nil {
			return fmt.Errorf("%w: register %q: %w", ErrBadState, model, err)
		}

		if reg.Resolution() != res || reg.Name() != model {
			return fmt.Errorf("%w: register %q does not match the manager",
				ErrBadState, model)
		}

		regs[model] = reg
	}

	frozen, err := frozenFromState(data, res)
	if err != nil {
		return err
	}

	s.res = res
	s.defaultDelayMS = defaultDelay
	s.defaultDelayFinal = final
	s.frozen = frozen
	s.models = models
	s.registers = regs

	return nil
}

func frozenFromState(data map[string]any, res timing.Resolution) (*frozenBounds, error) {
	minV, hasMin := data[stateFrozenMinSteps]
	maxV, hasMax := data[stateFrozenMaxSteps]

	if !hasMin && !hasMax {
		return nil, nil
	}

	lo, err := cast.ToInt64E(minV)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrBadState, stateFrozenMinSteps, err)
	}

	hi, err := cast.ToInt64E(maxV)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrBadState, stateFrozenMaxSteps, err)
	}

	if lo < 1 || hi < lo {
		return nil, fmt.Errorf("%w: frozen bounds [%d, %d] steps",
			ErrBadState, lo, hi)
	}

	return &frozenBounds{min: res.FromSteps(lo), max: res.FromSteps(hi)}, nil
}

// State returns a snapshot of the manager. Later changes to the manager do
// not affect it.
func (m *ConnectionManager) State() stateful.State {
	m.mu.Lock()
	defer m.mu.Unlock()

	regs := make(map[string]*delay.Register, len(m.registers))
	for model, reg := range m.registers {
		regs[model] = reg.Clone()
	}

	var frozen *frozenBounds
	if m.frozen != nil {
		f := *m.frozen
		frozen = &f
	}

	return &managerState{
		name:              m.name,
		res:               m.res,
		defaultDelayMS:    m.defaultDelayMS,
		defaultDelayFinal: m.defaultDelayFinal,
		frozen:            frozen,
		models:            append([]string(nil), m.models...),
		registers:         regs,
	}
}

// SetState replaces the manager's state with one obtained from State,
// possibly after a Serialize/Deserialize round trip.
func (m *ConnectionManager) SetState(state stateful.State) error {
	s, ok := state.(*managerState)
	if !ok {
		return fmt.Errorf("%w: unexpected state type %T", ErrBadState, state)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	regs := make(map[string]*delay.Register, len(s.registers))
	for model, reg := range s.registers {
		regs[model] = reg.Clone()
	}

	m.res = s.res
	m.defaultDelayMS = s.defaultDelayMS
	m.defaultDelayFinal = s.defaultDelayFinal
	m.frozen = nil
	if s.frozen != nil {
		f := *s.frozen
		m.frozen = &f
	}
	m.models = append([]string(nil), s.models...)
	m.registers = regs

	m.logger.Info("state restored", "resolution", m.res, "models", len(m.models))

	return nil
}
