package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sarchlab/delayreg/config"
	"github.com/sarchlab/delayreg/kernel"
	"github.com/sarchlab/delayreg/simulation"
	"github.com/sarchlab/delayreg/stateful"
)

func newCheckCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Build a network and report its delay bounds",
		Long: `Build every connection of a network description, check the ` +
			`default delay against the models that used it, and report ` +
			`the delay extrema per model and the global bounds.

Examples:
  delayreg check -c network.yaml
  delayreg check -c network.yaml --workers 8 -o json
  delayreg check -c network.yaml --serve`,
		Args: cobra.NoArgs,
		RunE: runCheck,
	}

	cmd.Flags().StringP("config", "c", "", "network description (YAML)")
	_ = cmd.MarkFlagRequired("config")
	cmd.Flags().Int("workers", 1, "number of shards connected in parallel")
	cmd.Flags().Bool("freeze", true,
		"freeze the global bounds as starting a simulation does")
	cmd.Flags().Bool("serve", false,
		"keep serving the monitor until interrupted")

	return cmd
}

func runCheck(cmd *cobra.Command, _ []string) (err error) {
	path, _ := cmd.Flags().GetString("config")
	workers, _ := cmd.Flags().GetInt("workers")
	freeze, _ := cmd.Flags().GetBool("freeze")
	serve, _ := cmd.Flags().GetBool("serve")

	cfg, err := config.Load(path)
	if err != nil {
		return err
	}

	if err := kernel.ValidateSettings(cfg.Resolution, cfg.DefaultDelay); err != nil {
		return err
	}

	logger, err := newLogger(cmd, cfg.Logging.Level)
	if err != nil {
		return err
	}

	codec, err := stateful.CodecByName(cfg.Checkpoint.Format)
	if err != nil {
		return err
	}

	s := buildSimulation(cfg, serve).
		WithLogger(logger).
		WithCodec(codec).
		Build()
	defer func() {
		if tErr := s.Terminate(); err == nil {
			err = tErr
		}
	}()

	if s.GetMonitor() != nil {
		url, err := s.StartMonitor()
		if err != nil {
			return err
		}
		logger.Info("monitor started", "url", url)
	}

	if err := s.DeclareModels(cfg.Models); err != nil {
		return err
	}

	ctx := cmd.Context()
	if err := s.Connect(ctx, cfg.Connections, workers); err != nil {
		return err
	}

	m := s.Manager()
	if freeze {
		err = m.Simulate()
	} else {
		err = m.CheckDefaultDelays()
	}
	if err != nil {
		return err
	}

	report, err := newKernelReport(m)
	if err != nil {
		return err
	}

	if err := writeOutput(cmd, report); err != nil {
		return err
	}

	if cfg.Checkpoint.Path != "" {
		if err := s.Save(cfg.Checkpoint.Path); err != nil {
			return fmt.Errorf("saving checkpoint: %w", err)
		}
	}

	if serve {
		logger.Info("serving the monitor, interrupt to stop")
		<-ctx.Done()
	}

	return nil
}

func buildSimulation(cfg *config.Config, serve bool) simulation.Builder {
	b := simulation.MakeBuilder().
		WithResolution(cfg.Resolution).
		WithDefaultDelay(cfg.DefaultDelay)

	if !cfg.Recording.Enabled {
		b = b.WithoutRecording()
	} else if cfg.Recording.Path != "" {
		b = b.WithOutputFileName(cfg.Recording.Path)
	}

	if cfg.Monitoring.Enabled || serve {
		b = b.WithMonitoring()
		if cfg.Monitoring.Port > 0 {
			b = b.WithMonitorPort(cfg.Monitoring.Port)
		}
		if cfg.Monitoring.OpenBrowser {
			b = b.WithBrowser()
		}
	}

	return b
}
