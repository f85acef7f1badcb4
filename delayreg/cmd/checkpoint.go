package cmd

import (
	"github.com/spf13/cobra"

	"github.com/sarchlab/delayreg/simulation"
)

func newCalibrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "calibrate",
		Short: "Move a checkpoint to another resolution",
		Long: `Load a checkpoint, convert every register to a new ` +
			`resolution, and save the result. Checkpoints whose bounds are ` +
			`frozen cannot be calibrated.

Examples:
  delayreg calibrate --checkpoint kernel.json --resolution 0.05
  delayreg calibrate --checkpoint kernel.json --resolution 0.2 --out coarse.cbor`,
		Args: cobra.NoArgs,
		RunE: runCalibrate,
	}

	cmd.Flags().String("checkpoint", "", "checkpoint to read")
	_ = cmd.MarkFlagRequired("checkpoint")
	cmd.Flags().Float64("resolution", 0, "new resolution in milliseconds")
	_ = cmd.MarkFlagRequired("resolution")
	cmd.Flags().String("out", "", "checkpoint to write (default: overwrite)")
	cmd.Flags().String("format", "", "checkpoint format: json or cbor")

	return cmd
}

func runCalibrate(cmd *cobra.Command, _ []string) error {
	in, _ := cmd.Flags().GetString("checkpoint")
	out, _ := cmd.Flags().GetString("out")
	format, _ := cmd.Flags().GetString("format")
	resolution, _ := cmd.Flags().GetFloat64("resolution")

	if out == "" {
		out = in
	}

	inSim, err := loadCheckpoint(cmd, in, format)
	if err != nil {
		return err
	}
	defer inSim.Terminate()

	if err := inSim.Manager().SetResolution(resolution); err != nil {
		return err
	}

	outSim := inSim
	if out != in {
		outSim, err = newCheckpointSimulation(cmd, out, format)
		if err != nil {
			return err
		}
		defer outSim.Terminate()

		if err := outSim.Manager().SetState(inSim.Manager().State()); err != nil {
			return err
		}
	}

	if err := outSim.Save(out); err != nil {
		return err
	}

	report, err := newKernelReport(outSim.Manager())
	if err != nil {
		return err
	}

	return writeOutput(cmd, report)
}

func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Print the registers stored in a checkpoint",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, _ := cmd.Flags().GetString("checkpoint")
			format, _ := cmd.Flags().GetString("format")

			s, err := loadCheckpoint(cmd, path, format)
			if err != nil {
				return err
			}
			defer s.Terminate()

			report, err := newKernelReport(s.Manager())
			if err != nil {
				return err
			}

			return writeOutput(cmd, report)
		},
	}

	cmd.Flags().String("checkpoint", "", "checkpoint to read")
	_ = cmd.MarkFlagRequired("checkpoint")
	cmd.Flags().String("format", "", "checkpoint format: json or cbor")

	return cmd
}

// newCheckpointSimulation creates a simulation without recording whose
// codec matches path and format.
func newCheckpointSimulation(
	cmd *cobra.Command,
	path, format string,
) (*simulation.Simulation, error) {
	logger, err := newLogger(cmd, "warn")
	if err != nil {
		return nil, err
	}

	codec, err := codecFor(path, format)
	if err != nil {
		return nil, err
	}

	return simulation.MakeBuilder().
		WithoutRecording().
		WithLogger(logger).
		WithCodec(codec).
		Build(), nil
}

func loadCheckpoint(
	cmd *cobra.Command,
	path, format string,
) (*simulation.Simulation, error) {
	s, err := newCheckpointSimulation(cmd, path, format)
	if err != nil {
		return nil, err
	}

	if err := s.Load(path); err != nil {
		s.Terminate()
		return nil, err
	}

	return s, nil
}
