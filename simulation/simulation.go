// Package simulation wires a connection manager together with the recorder,
// tracer and monitor that observe it.
package simulation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/sarchlab/delayreg/datarecording"
	"github.com/sarchlab/delayreg/kernel"
	"github.com/sarchlab/delayreg/monitoring"
	"github.com/sarchlab/delayreg/stateful"
	"github.com/sarchlab/delayreg/tracing"
)

// A Simulation owns a connection manager and the services around it.
type Simulation struct {
	id      string
	logger  *slog.Logger
	manager *kernel.ConnectionManager
	codec   stateful.Codec

	dataRecorder datarecording.DataRecorder
	tracer       *tracing.DelayTracer
	monitor      *monitoring.Monitor

	terminated bool
}

// ID returns the unique id of the run.
func (s *Simulation) ID() string {
	return s.id
}

// Manager returns the connection manager.
func (s *Simulation) Manager() *kernel.ConnectionManager {
	return s.manager
}

// GetDataRecorder returns the data recorder, or nil if recording is off.
func (s *Simulation) GetDataRecorder() datarecording.DataRecorder {
	return s.dataRecorder
}

// GetTracer returns the delay tracer, or nil if recording is off.
func (s *Simulation) GetTracer() *tracing.DelayTracer {
	return s.tracer
}

// GetMonitor returns the monitor, or nil if monitoring is off.
func (s *Simulation) GetMonitor() *monitoring.Monitor {
	return s.monitor
}

// StartMonitor starts the monitoring server and returns its URL.
func (s *Simulation) StartMonitor() (string, error) {
	if s.monitor == nil {
		return "", errors.New("monitoring is disabled")
	}

	return s.monitor.StartServer()
}

// Save writes a checkpoint of the connection manager.
func (s *Simulation) Save(path string) error {
	data, err := s.manager.State().Serialize()
	if err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating checkpoint: %w", err)
	}

	if err := s.codec.Encode(f, data); err != nil {
		f.Close()
		return fmt.Errorf("encoding checkpoint: %w", err)
	}

	if err := f.Close(); err != nil {
		return err
	}

	s.logger.Info("checkpoint saved", "path", path)

	return nil
}

// Load restores the connection manager from a checkpoint written by Save.
// The manager is left untouched if the checkpoint cannot be read.
func (s *Simulation) Load(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening checkpoint: %w", err)
	}
	defer f.Close()

	data, err := s.codec.Decode(f)
	if err != nil {
		return fmt.Errorf("decoding checkpoint: %w", err)
	}

	state := s.manager.State()
	if err := state.Deserialize(data); err != nil {
		return err
	}

	if err := s.manager.SetState(state); err != nil {
		return err
	}

	s.logger.Info("checkpoint loaded", "path", path)

	return nil
}

// Terminate flushes the recorder and stops the monitor. It can be called
// more than once.
func (s *Simulation) Terminate() error {
	if s.terminated {
		return nil
	}
	s.terminated = true

	var errs []error

	if s.monitor != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		errs = append(errs, s.monitor.StopServer(ctx))
	}

	if s.dataRecorder != nil {
		errs = append(errs, s.dataRecorder.Close())
	}

	return errors.Join(errs...)
}
