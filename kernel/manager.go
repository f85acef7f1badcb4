// Package kernel owns the delay registers of all synapse models and derives
// the global delay bounds the simulation loop needs.
package kernel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/sarchlab/delayreg/delay"
	"github.com/sarchlab/delayreg/hooking"
	"github.com/sarchlab/delayreg/logging"
	"github.com/sarchlab/delayreg/timing"
)

// Kernel status keys.
const (
	KeyResolution     = "resolution"
	KeyDefaultDelay   = "default_delay"
	KeySimulated      = "simulated"
	KeyMinDelay       = delay.KeyMinDelay
	KeyMaxDelay       = delay.KeyMaxDelay
	KeyNumConnections = delay.KeyNumConnections
)

// ConnectionManager keeps one delay.Register per synapse model. It is safe
// for concurrent use.
//
// Connections that use the default delay are validated in two phases. While
// the network is built, ConnectDefault only flags the model. CheckDefaultDelays
// (also run by Simulate) then fixes the default delay and validates it against
// every flagged model.
type ConnectionManager struct {
	hooking.HookableBase
	connector

	mu     sync.Mutex
	name   string
	logger *slog.Logger
	models []string
}

// Name returns the name of the manager.
func (m *ConnectionManager) Name() string {
	return m.name
}

// Resolution returns the current step size.
func (m *ConnectionManager) Resolution() timing.Resolution {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.res
}

// DefaultDelay returns the default delay in milliseconds.
func (m *ConnectionManager) DefaultDelay() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.defaultDelayMS
}

// RegisterModel adds a synapse model with a fresh register.
func (m *ConnectionManager) RegisterModel(model string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.registers[model]; ok {
		return fmt.Errorf("%w: %q", ErrModelExists, model)
	}

	m.registers[model] = delay.NewRegister(model, m.res)
	m.models = append(m.models, model)

	return nil
}

// Register returns a copy of the register of the given model.
func (m *ConnectionManager) Register(model string) (*delay.Register, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	reg, err := m.register(model)
	if err != nil {
		return nil, err
	}

	return reg.Clone(), nil
}

// Models returns the registered synapse models in registration order.
func (m *ConnectionManager) Models() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	return append([]string(nil), m.models...)
}

// NumConnections returns the number of connections over all models.
func (m *ConnectionManager) NumConnections() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.numConnections()
}

func (m *ConnectionManager) numConnections() uint64 {
	var n uint64
	for _, reg := range m.registers {
		n += reg.NumConnections()
	}

	return n
}

// Connect validates a delay given in milliseconds for a new connection of
// the model and counts the connection.
func (m *ConnectionManager) Connect(model string, delayMS float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	ev, err := m.connect(model, delayMS)
	if err != nil {
		return err
	}

	m.delayRegistered(ev)

	return nil
}

// ConnectContinuous validates a connection whose delay lies between two
// consecutive steps, d and d+1, and counts it.
func (m *ConnectionManager) ConnectContinuous(model string, d1, d2 int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	ev, err := m.connectContinuous(model, d1, d2)
	if err != nil {
		return err
	}

	m.delayRegistered(ev)

	return nil
}

// ConnectDefault counts a connection of the model that uses the default
// delay.
func (m *ConnectionManager) ConnectDefault(model string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	ev, err := m.connectDefault(model)
	if err != nil {
		return err
	}

	m.delayRegistered(ev)

	return nil
}

func (m *ConnectionManager) delayRegistered(ev DelayEvent) {
	m.logger.Log(context.Background(), logging.LevelTrace, "delay registered",
		"model", ev.Model, "delay", ev.Delay, "default", ev.Default)

	if ev.Widened {
		m.logger.Debug("delay extrema widened",
			"model", ev.Model, "min_delay", ev.MinDelay, "max_delay", ev.MaxDelay)
	}

	m.invokeHook(HookPosDelayRegistered, ev)
}

// SetDefaultDelay changes the default delay. It fails once the default delay
// was checked.
func (m *ConnectionManager) SetDefaultDelay(ms float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.defaultDelayFinal {
		return ErrDefaultDelayFinalized
	}

	if err := checkDefaultDelay(m.res, ms); err != nil {
		return err
	}

	m.defaultDelayMS = ms

	return nil
}

func checkDefaultDelay(res timing.Resolution, ms float64) error {
	d, err := res.FromMS(ms)
	if err != nil || !d.IsFinite() || d.Steps() < 1 {
		return fmt.Errorf("%w: default delay %vms is not a positive "+
			"multiple of %s", delay.ErrInvalidDelay, ms, res)
	}

	return nil
}

// CheckDefaultDelays makes the default delay final and validates it against
// every model that used it since the last check. All failures are returned
// together.
func (m *ConnectionManager) CheckDefaultDelays() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.checkDefaultDelays()
}

func (m *ConnectionManager) checkDefaultDelays() error {
	m.defaultDelayFinal = true

	d, err := m.res.FromMS(m.defaultDelayMS)
	if err != nil {
		return fmt.Errorf("%w: default delay: %w", delay.ErrInvalidDelay, err)
	}

	var errs []error
	checked := 0

	for _, model := range m.models {
		reg := m.registers[model]
		if !reg.DefaultDelayNeedsCheck() {
			continue
		}

		prevMin, prevMax := reg.MinDelay(), reg.MaxDelay()
		if err := reg.ResolveDefaultDelay(m.defaultDelayMS); err != nil {
			errs = append(errs, err)
			continue
		}

		checked++
		m.invokeHook(HookPosDefaultDelayChecked,
			m.event(reg, d, true, prevMin, prevMax))
	}

	err = errors.Join(errs...)
	if err != nil {
		m.logger.Error("default delay check failed",
			"default_delay", d, "error", err)
		return err
	}

	m.logger.Info("default delay checked",
		"default_delay", d, "models", checked)

	return nil
}

// SetResolution moves every register to a new step size. Either all
// registers are calibrated or none is. The default delay must be
// representable at the new resolution.
func (m *ConnectionManager) SetResolution(ms float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.frozen != nil {
		return fmt.Errorf("%w: cannot change the resolution", ErrAlreadySimulated)
	}

	newRes, err := timing.NewResolution(ms)
	if err != nil {
		return err
	}

	conv, err := timing.NewConverter(m.res, newRes)
	if err != nil {
		return err
	}

	if err := checkDefaultDelay(newRes, m.defaultDelayMS); err != nil {
		return fmt.Errorf("%w: %w", delay.ErrIncompatibleResolution, err)
	}

	calibrated := make(map[string]*delay.Register, len(m.registers))

	var errs []error

	for _, model := range m.models {
		reg := m.registers[model].Clone()
		if err := reg.Calibrate(conv); err != nil {
			errs = append(errs, err)
			continue
		}

		calibrated[model] = reg
	}

	if err := errors.Join(errs...); err != nil {
		return err
	}

	m.logger.Info("resolution changed", "from", m.res, "to", newRes)

	m.res = newRes
	m.registers = calibrated

	for _, model := range m.models {
		reg := m.registers[model]
		m.invokeHook(HookPosCalibrated,
			m.event(reg, reg.MinDelay(), false, reg.MinDelay(), reg.MaxDelay()))
	}

	return nil
}

// MinDelay returns the smallest delay over all models. Models that used the
// default delay count it. Without any delay the result is one step.
func (m *ConnectionManager) MinDelay() timing.Time {
	m.mu.Lock()
	defer m.mu.Unlock()

	lo, _ := m.globalBounds()

	return lo
}

// MaxDelay returns the largest delay over all models, like MinDelay.
func (m *ConnectionManager) MaxDelay() timing.Time {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, hi := m.globalBounds()

	return hi
}

// Lookahead returns how far the simulation may advance without exchanging
// spikes. It is the global minimum delay.
func (m *ConnectionManager) Lookahead() timing.Time {
	return m.MinDelay()
}

func (m *ConnectionManager) globalBounds() (lo, hi timing.Time) {
	if m.frozen != nil {
		return m.frozen.min, m.frozen.max
	}

	lo = timing.PosInf(m.res)
	hi = timing.NegInf(m.res)

	for _, reg := range m.registers {
		lo = timing.MinTime(lo, reg.MinDelay())
		hi = timing.MaxTime(hi, reg.MaxDelay())

		if reg.HasUsedDefaultDelay() {
			d, err := m.res.FromMS(m.defaultDelayMS)
			if err == nil {
				lo = timing.MinTime(lo, d)
				hi = timing.MaxTime(hi, d)
			}
		}
	}

	if !lo.IsFinite() {
		lo = m.res.OneStep()
	}

	if !hi.IsFinite() || hi.Before(lo) {
		hi = lo
	}

	return lo, hi
}

// Simulate runs the default delay check and freezes the global bounds.
// Afterwards delays outside the frozen bounds are refused and the
// resolution can no longer change. Calling Simulate again does nothing.
func (m *ConnectionManager) Simulate() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.frozen != nil {
		return nil
	}

	if err := m.checkDefaultDelays(); err != nil {
		return err
	}

	lo, hi := m.globalBounds()
	m.frozen = &frozenBounds{min: lo, max: hi}

	m.logger.Info("delay bounds frozen", "min_delay", lo, "max_delay", hi)

	m.InvokeHook(hooking.HookCtx{
		Domain: m,
		Pos:    HookPosSimulate,
		Item:   m.name,
		Detail: DelayEvent{
			Delay:          lo,
			MinDelay:       lo,
			MaxDelay:       hi,
			NumConnections: m.numConnections(),
		},
	})

	return nil
}

// Simulated reports whether Simulate has frozen the bounds.
func (m *ConnectionManager) Simulated() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.frozen != nil
}

// GetStatus returns the status of the model's register.
func (m *ConnectionManager) GetStatus(model string) (delay.Status, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	reg, err := m.register(model)
	if err != nil {
		return nil, err
	}

	return reg.GetStatus(), nil
}

// SetStatus applies a status to the model's register. After Simulate only
// statuses that change nothing are accepted.
func (m *ConnectionManager) SetStatus(model string, s delay.Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	reg, err := m.register(model)
	if err != nil {
		return err
	}

	updated := reg.Clone()
	if err := updated.SetStatus(s); err != nil {
		return err
	}

	changed := !updated.MinDelay().Equal(reg.MinDelay()) ||
		!updated.MaxDelay().Equal(reg.MaxDelay()) ||
		updated.UserSetDelayExtrema() != reg.UserSetDelayExtrema()
	if !changed {
		return nil
	}

	if m.frozen != nil {
		return fmt.Errorf("%w: cannot change the delay extrema of %s",
			ErrAlreadySimulated, model)
	}

	m.registers[model] = updated

	m.logger.Info("delay extrema set", "model", model,
		"min_delay", updated.MinDelay(), "max_delay", updated.MaxDelay())

	m.invokeHook(HookPosStatusSet,
		m.event(updated, updated.MinDelay(), false, reg.MinDelay(), reg.MaxDelay()))

	return nil
}

// KernelStatus reports the resolution, the global bounds, the default delay,
// the total connection count and whether the bounds are frozen. Times are in
// milliseconds.
func (m *ConnectionManager) KernelStatus() delay.Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	lo, hi := m.globalBounds()

	return delay.Status{
		KeyResolution:     m.res.MS(),
		KeyMinDelay:       lo.MS(),
		KeyMaxDelay:       hi.MS(),
		KeyDefaultDelay:   m.defaultDelayMS,
		KeyNumConnections: m.numConnections(),
		KeySimulated:      m.frozen != nil,
	}
}

// Reset returns every register to its initial state and unfreezes the
// bounds. Models, resolution and default delay are kept.
func (m *ConnectionManager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, reg := range m.registers {
		reg.Reset()
	}

	m.frozen = nil
	m.defaultDelayFinal = false

	m.logger.Debug("registers reset")
}

func (m *ConnectionManager) invokeHook(pos *hooking.HookPos, ev DelayEvent) {
	if m.NumHooks() == 0 {
		return
	}

	m.InvokeHook(hooking.HookCtx{
		Domain: m,
		Pos:    pos,
		Item:   ev.Model,
		Detail: ev,
	})
}
