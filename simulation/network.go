package simulation

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sarchlab/delayreg/config"
	"github.com/sarchlab/delayreg/delay"
	"github.com/sarchlab/delayreg/kernel"
	"github.com/sarchlab/delayreg/monitoring"
)

// DeclareModels registers the models and fixes the delay extrema of those
// that give min_delay and max_delay.
func (s *Simulation) DeclareModels(models []config.ModelConfig) error {
	for _, m := range models {
		err := s.manager.RegisterModel(m.Name)
		if err != nil && !errors.Is(err, kernel.ErrModelExists) {
			return err
		}

		if m.MinDelay == nil || m.MaxDelay == nil {
			continue
		}

		err = s.manager.SetStatus(m.Name, delay.Status{
			delay.KeyMinDelay: *m.MinDelay,
			delay.KeyMaxDelay: *m.MaxDelay,
		})
		if err != nil {
			return fmt.Errorf("model %s: %w", m.Name, err)
		}
	}

	return nil
}

// connector is what a connection is created on: the manager itself or one
// of its shards.
type connector interface {
	Connect(model string, delayMS float64) error
	ConnectContinuous(model string, d1, d2 int64) error
	ConnectDefault(model string) error
}

type connection struct {
	index int
	conf  config.ConnectionConfig
}

func connect(c connector, conn config.ConnectionConfig) error {
	switch {
	case conn.Delay != nil:
		return c.Connect(conn.Model, *conn.Delay)
	case len(conn.DelaySteps) == 2:
		return c.ConnectContinuous(conn.Model, conn.DelaySteps[0], conn.DelaySteps[1])
	default:
		return c.ConnectDefault(conn.Model)
	}
}

// Connect creates every connection. With more than one worker the
// connections are spread over shards built in parallel and joined at the
// end; if any connection fails, none of the shards is joined.
func (s *Simulation) Connect(
	ctx context.Context,
	conns []config.ConnectionConfig,
	workers int,
) error {
	if workers < 1 {
		workers = 1
	}

	var all []connection
	for i, conf := range conns {
		for range conf.Count {
			all = append(all, connection{index: i, conf: conf})
		}
	}

	var bar *monitoring.ProgressBar
	if s.monitor != nil {
		bar = s.monitor.CreateProgressBar("Connect", uint64(len(all)))
		defer s.monitor.CompleteProgressBar(bar)
	}

	s.logger.Info("connecting", "connections", len(all), "workers", workers)

	if workers == 1 {
		return connectAll(ctx, s.manager, all, bar)
	}

	shards := s.manager.Fork(workers)
	parts := make([][]connection, workers)
	for i, c := range all {
		parts[i%workers] = append(parts[i%workers], c)
	}

	errs := make([]error, workers)
	var wg sync.WaitGroup
	for i, shard := range shards {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = connectAll(ctx, shard, parts[i], bar)
		}()
	}
	wg.Wait()

	if err := errors.Join(errs...); err != nil {
		return err
	}

	return s.manager.Join(shards...)
}

func connectAll(
	ctx context.Context,
	c connector,
	conns []connection,
	bar *monitoring.ProgressBar,
) error {
	for _, conn := range conns {
		if err := ctx.Err(); err != nil {
			return err
		}

		if bar != nil {
			bar.Begin()
		}

		err := connect(c, conn.conf)

		if bar != nil {
			if err != nil {
				bar.Fail()
			} else {
				bar.Finish()
			}
		}

		if err != nil {
			return fmt.Errorf("connections[%d]: %w", conn.index, err)
		}
	}

	return nil
}
