// Package cmd provides the command-line interface of delayreg.
package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/sarchlab/delayreg/logging"
	"github.com/sarchlab/delayreg/stateful"
)

// NewRootCmd creates the delayreg command with all its subcommands.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delayreg",
		Short: "Check the delays of a spiking network before it is simulated.",
		Long: `delayreg builds the connections of a network description, ` +
			`tracks the delay extrema of every synapse model, and reports ` +
			`the global delay bounds that fix the simulation's lookahead.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().String("log-level", "",
		"log level: error, warn, info, debug or trace")
	cmd.PersistentFlags().StringP("output", "o", "yaml",
		"output format: yaml or json")

	cmd.AddCommand(
		newCheckCmd(),
		newCalibrateCmd(),
		newStatusCmd(),
		newTraceCmd(),
	)

	return cmd
}

// Execute runs the root command until it finishes or is interrupted.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	root := NewRootCmd()

	err := root.ExecuteContext(ctx)
	if err != nil {
		fmt.Fprintln(root.ErrOrStderr(), "Error:", err)
	}

	return err
}

// newLogger builds the logger from --log-level, or from fallback when the
// flag is not given.
func newLogger(cmd *cobra.Command, fallback string) (*slog.Logger, error) {
	level := fallback
	if cmd.Flags().Changed("log-level") {
		level, _ = cmd.Flags().GetString("log-level")
	}

	if !logging.IsValidLevel(level) {
		return nil, fmt.Errorf("invalid log level: %s", level)
	}

	return logging.NewLogger(level, cmd.ErrOrStderr()), nil
}

func writeOutput(cmd *cobra.Command, v any) error {
	format, _ := cmd.Flags().GetString("output")
	w := cmd.OutOrStdout()

	switch format {
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	default:
		return fmt.Errorf("invalid output format: %s (valid: yaml, json)", format)
	}
}

// codecFor picks the checkpoint codec. Without an explicit format, files
// ending in .cbor are CBOR and everything else is JSON.
func codecFor(path, format string) (stateful.Codec, error) {
	if format == "" && filepath.Ext(path) == ".cbor" {
		format = "cbor"
	}

	return stateful.CodecByName(format)
}
