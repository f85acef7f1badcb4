package kernel

import (
	"log"
	"log/slog"

	"github.com/sarchlab/delayreg/delay"
	"github.com/sarchlab/delayreg/logging"
	"github.com/sarchlab/delayreg/timing"
)

// Builder can build connection managers.
type Builder struct {
	resolution   float64
	defaultDelay float64
	logger       *slog.Logger
	models       []string
}

// MakeBuilder creates a builder with a resolution of 0.1 ms and a default
// delay of 1 ms.
func MakeBuilder() Builder {
	return Builder{
		resolution:   0.1,
		defaultDelay: 1.0,
	}
}

// WithResolution sets the simulation step size in milliseconds.
func (b Builder) WithResolution(ms float64) Builder {
	b.resolution = ms
	return b
}

// WithDefaultDelay sets the delay used by connections that do not specify
// one.
func (b Builder) WithDefaultDelay(ms float64) Builder {
	b.defaultDelay = ms
	return b
}

// WithLogger sets the logger. By default nothing is logged.
func (b Builder) WithLogger(logger *slog.Logger) Builder {
	b.logger = logger
	return b
}

// WithModels registers the given synapse models up front.
func (b Builder) WithModels(models ...string) Builder {
	b.models = append([]string(nil), models...)
	return b
}

// ValidateSettings returns the error Build would panic with for the given
// resolution and default delay.
func ValidateSettings(resolutionMS, defaultDelayMS float64) error {
	res, err := timing.NewResolution(resolutionMS)
	if err != nil {
		return err
	}

	return checkDefaultDelay(res, defaultDelayMS)
}

// Build creates a connection manager with the given name.
func (b Builder) Build(name string) *ConnectionManager {
	res, err := timing.NewResolution(b.resolution)
	if err != nil {
		log.Panicf("cannot build %s: %v", name, err)
	}

	if err := checkDefaultDelay(res, b.defaultDelay); err != nil {
		log.Panicf("cannot build %s: %v", name, err)
	}

	logger := b.logger
	if logger == nil {
		logger = logging.Discard()
	}

	m := &ConnectionManager{
		name:   name,
		logger: logger.With("manager", name),
		connector: connector{
			res:            res,
			defaultDelayMS: b.defaultDelay,
			registers:      make(map[string]*delay.Register),
		},
	}

	for _, model := range b.models {
		if err := m.RegisterModel(model); err != nil {
			log.Panicf("cannot build %s: %v", name, err)
		}
	}

	return m
}
