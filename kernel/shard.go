package kernel

import (
	"errors"
	"fmt"
	"log"

	"github.com/sarchlab/delayreg/delay"
)

// ErrShardJoined is returned when a shard is used after it was joined.
var ErrShardJoined = errors.New("shard already joined")

// A Shard lets one worker create connections without taking the manager's
// lock. It holds private copies of the registers that Join folds back into
// the manager. A Shard must only be used by one goroutine.
type Shard struct {
	connector

	index  int
	joined bool
	events []DelayEvent
}

// Index returns the position of the shard in the slice returned by Fork.
func (s *Shard) Index() int {
	return s.index
}

// NumConnections returns the number of connections the shard created.
func (s *Shard) NumConnections() uint64 {
	var n uint64
	for _, reg := range s.registers {
		n += reg.NumConnections()
	}

	return n
}

// Connect is the shard's version of ConnectionManager.Connect.
func (s *Shard) Connect(model string, delayMS float64) error {
	if s.joined {
		return ErrShardJoined
	}

	ev, err := s.connect(model, delayMS)
	if err != nil {
		return err
	}

	s.events = append(s.events, ev)

	return nil
}

// ConnectContinuous is the shard's version of
// ConnectionManager.ConnectContinuous.
func (s *Shard) ConnectContinuous(model string, d1, d2 int64) error {
	if s.joined {
		return ErrShardJoined
	}

	ev, err := s.connectContinuous(model, d1, d2)
	if err != nil {
		return err
	}

	s.events = append(s.events, ev)

	return nil
}

// ConnectDefault is the shard's version of ConnectionManager.ConnectDefault.
func (s *Shard) ConnectDefault(model string) error {
	if s.joined {
		return ErrShardJoined
	}

	ev, err := s.connectDefault(model)
	if err != nil {
		return err
	}

	s.events = append(s.events, ev)

	return nil
}

// Fork creates n shards. Each starts from the manager's current extrema and
// user bounds with no connections of its own.
func (m *ConnectionManager) Fork(n int) []*Shard {
	if n < 1 {
		log.Panicf("cannot fork %s into %d shards", m.name, n)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	shards := make([]*Shard, n)
	for i := range shards {
		regs := make(map[string]*delay.Register, len(m.registers))
		for model, reg := range m.registers {
			regs[model] = reg.Spawn()
		}

		var frozen *frozenBounds
		if m.frozen != nil {
			f := *m.frozen
			frozen = &f
		}

		shards[i] = &Shard{
			index: i,
			connector: connector{
				res:               m.res,
				defaultDelayMS:    m.defaultDelayMS,
				defaultDelayFinal: m.defaultDelayFinal,
				frozen:            frozen,
				registers:         regs,
			},
		}
	}

	m.logger.Debug("forked", "shards", n)

	return shards
}

// Join merges the shards into the manager. Either all shards are merged or,
// on error, none. A shard can be joined only once, so passing the same shard
// twice is an error. Connections a shard made outside user bounds set on the
// manager after the fork make the join fail. Hooks see the shards' events in shard order after the
// merge.
func (m *ConnectionManager) Join(shards ...*Shard) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	merged := make(map[string]*delay.Register, len(m.registers))
	for model, reg := range m.registers {
		merged[model] = reg.Clone()
	}

	seen := make(map[*Shard]bool, len(shards))
	for _, s := range shards {
		if s.joined || seen[s] {
			return fmt.Errorf("%w: shard %d", ErrShardJoined, s.index)
		}
		seen[s] = true

		if s.res != m.res {
			return fmt.Errorf("%w: shard %d was forked at %s, manager is at %s",
				delay.ErrIncompatibleResolution, s.index, s.res, m.res)
		}

		for model, reg := range s.registers {
			target, ok := merged[model]
			if !ok {
				return fmt.Errorf("%w: %q", ErrUnknownModel, model)
			}

			if err := target.Merge(reg); err != nil {
				return err
			}
		}
	}

	if m.defaultDelayFinal {
		for _, model := range m.models {
			reg := merged[model]
			if !reg.DefaultDelayNeedsCheck() {
				continue
			}

			if err := reg.ResolveDefaultDelay(m.defaultDelayMS); err != nil {
				return err
			}
		}
	}

	m.registers = merged

	var n int
	for _, s := range shards {
		s.joined = true
		n += len(s.events)

		for _, ev := range s.events {
			m.delayRegistered(ev)
		}

		s.events = nil
	}

	m.logger.Debug("joined", "shards", len(shards), "events", n)

	return nil
}
