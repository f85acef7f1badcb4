package simulation

import (
	"log/slog"

	"github.com/rs/xid"

	"github.com/sarchlab/delayreg/datarecording"
	"github.com/sarchlab/delayreg/kernel"
	"github.com/sarchlab/delayreg/logging"
	"github.com/sarchlab/delayreg/monitoring"
	"github.com/sarchlab/delayreg/stateful"
	"github.com/sarchlab/delayreg/tracing"
)

// Builder can be used to build a simulation.
type Builder struct {
	resolution     float64
	defaultDelay   float64
	logger         *slog.Logger
	models         []string
	recordingOn    bool
	outputFileName string
	onlyWidened    bool
	monitorOn      bool
	monitorPort    int
	openBrowser    bool
	codec          stateful.Codec
}

// MakeBuilder creates a new builder. By default delay events are recorded
// and monitoring is off.
func MakeBuilder() Builder {
	return Builder{
		resolution:   0.1,
		defaultDelay: 1.0,
		recordingOn:  true,
		codec:        stateful.JSONCodec{},
	}
}

// WithResolution sets the step size in milliseconds.
func (b Builder) WithResolution(ms float64) Builder {
	b.resolution = ms
	return b
}

// WithDefaultDelay sets the default delay in milliseconds.
func (b Builder) WithDefaultDelay(ms float64) Builder {
	b.defaultDelay = ms
	return b
}

// WithLogger sets the logger of the simulation.
func (b Builder) WithLogger(logger *slog.Logger) Builder {
	b.logger = logger
	return b
}

// WithModels declares synapse models up front.
func (b Builder) WithModels(models ...string) Builder {
	b.models = append([]string(nil), models...)
	return b
}

// WithOutputFileName sets the custom output file name for the data recorder.
func (b Builder) WithOutputFileName(filename string) Builder {
	b.outputFileName = filename
	return b
}

// WithoutRecording disables the SQLite trace.
func (b Builder) WithoutRecording() Builder {
	b.recordingOn = false
	return b
}

// WithOnlyWidenedEvents records only the events that widened a register.
func (b Builder) WithOnlyWidenedEvents() Builder {
	b.onlyWidened = true
	return b
}

// WithMonitoring turns on the web monitor.
func (b Builder) WithMonitoring() Builder {
	b.monitorOn = true
	return b
}

// WithMonitorPort sets the port number for the monitoring server.
func (b Builder) WithMonitorPort(port int) Builder {
	b.monitorPort = port
	return b
}

// WithBrowser opens the monitor in a browser once it is started.
func (b Builder) WithBrowser() Builder {
	b.openBrowser = true
	return b
}

// WithCodec sets the codec used by Save and Load.
func (b Builder) WithCodec(codec stateful.Codec) Builder {
	b.codec = codec
	return b
}

func (b Builder) parametersMustBeValid() {
	if !b.monitorOn && b.monitorPort != 0 {
		panic("monitor port cannot be set when monitoring is disabled")
	}

	if !b.monitorOn && b.openBrowser {
		panic("browser cannot be opened when monitoring is disabled")
	}

	if !b.recordingOn && b.outputFileName != "" {
		panic("output file cannot be set when recording is disabled")
	}

	if b.codec == nil {
		panic("codec must not be nil")
	}
}

// Build builds the simulation. The monitor, if any, is created but not
// started.
func (b Builder) Build() *Simulation {
	b.parametersMustBeValid()

	s := &Simulation{
		id:    xid.New().String(),
		codec: b.codec,
	}

	s.logger = b.logger
	if s.logger == nil {
		s.logger = logging.Discard()
	}
	s.logger = s.logger.With("run", s.id)

	s.manager = kernel.MakeBuilder().
		WithResolution(b.resolution).
		WithDefaultDelay(b.defaultDelay).
		WithLogger(s.logger).
		WithModels(b.models...).
		Build("kernel")

	if b.recordingOn {
		outputPath := b.outputFileName
		if outputPath == "" {
			outputPath = "delayreg_sim_" + s.id
		}

		s.dataRecorder = datarecording.NewDataRecorder(outputPath)
		s.tracer = tracing.NewDelayTracer(s.dataRecorder)
		if b.onlyWidened {
			s.tracer.OnlyWidened()
		}
		tracing.CollectTrace(s.manager, s.tracer)
	}

	if b.monitorOn {
		s.monitor = monitoring.NewMonitor()
		if b.monitorPort > 0 {
			s.monitor.WithPortNumber(b.monitorPort)
		}
		if b.openBrowser {
			s.monitor.WithBrowser()
		}

		s.monitor.RegisterManager(s.manager)
		if s.tracer != nil {
			s.monitor.RegisterTracer(s.tracer)
		}
	}

	return s
}
