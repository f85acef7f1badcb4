package cmd

import (
	"math"

	"github.com/sarchlab/delayreg/kernel"
)

type kernelReport struct {
	Resolution     float64       `json:"resolution" yaml:"resolution"`
	DefaultDelay   float64       `json:"default_delay" yaml:"default_delay"`
	MinDelay       any           `json:"min_delay" yaml:"min_delay"`
	MaxDelay       any           `json:"max_delay" yaml:"max_delay"`
	NumConnections uint64        `json:"num_connections" yaml:"num_connections"`
	Simulated      bool          `json:"simulated" yaml:"simulated"`
	Models         []modelReport `json:"models" yaml:"models"`
}

type modelReport struct {
	Name                   string `json:"name" yaml:"name"`
	MinDelay               any    `json:"min_delay" yaml:"min_delay"`
	MaxDelay               any    `json:"max_delay" yaml:"max_delay"`
	NumConnections         uint64 `json:"num_connections" yaml:"num_connections"`
	UserSetDelayExtrema    bool   `json:"user_set_delay_extrema" yaml:"user_set_delay_extrema"`
	UsedDefaultDelay       bool   `json:"used_default_delay" yaml:"used_default_delay"`
	DefaultDelayNeedsCheck bool   `json:"default_delay_needs_check" yaml:"default_delay_needs_check"`
}

func newKernelReport(m *kernel.ConnectionManager) (kernelReport, error) {
	r := kernelReport{
		Resolution:     m.Resolution().MS(),
		DefaultDelay:   m.DefaultDelay(),
		MinDelay:       msValue(m.MinDelay().MS()),
		MaxDelay:       msValue(m.MaxDelay().MS()),
		NumConnections: m.NumConnections(),
		Simulated:      m.Simulated(),
	}

	for _, model := range m.Models() {
		reg, err := m.Register(model)
		if err != nil {
			return kernelReport{}, err
		}

		r.Models = append(r.Models, modelReport{
			Name:                   model,
			MinDelay:               msValue(reg.MinDelay().MS()),
			MaxDelay:               msValue(reg.MaxDelay().MS()),
			NumConnections:         reg.NumConnections(),
			UserSetDelayExtrema:    reg.UserSetDelayExtrema(),
			UsedDefaultDelay:       reg.HasUsedDefaultDelay(),
			DefaultDelayNeedsCheck: reg.DefaultDelayNeedsCheck(),
		})
	}

	return r, nil
}

// msValue keeps finite delays as numbers and spells out infinities, which
// JSON cannot carry.
func msValue(ms float64) any {
	switch {
	case math.IsInf(ms, 1):
		return "inf"
	case math.IsInf(ms, -1):
		return "-inf"
	default:
		return ms
	}
}
