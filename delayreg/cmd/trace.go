package cmd

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/sarchlab/delayreg/datarecording"
	"github.com/sarchlab/delayreg/tracing"
)

type traceReport struct {
	Total  int                       `json:"total" yaml:"total"`
	Events []tracing.DelayEventEntry `json:"events" yaml:"events"`
}

func newTraceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "trace",
		Short: "List the delay events recorded by check",
		Long: `List the delay events recorded in a SQLite trace, in the ` +
			`order they happened.

Examples:
  delayreg trace --db delayreg_sim_xxx.sqlite3 --limit 20
  delayreg trace --db trace.sqlite3 --model stdp_synapse --widened`,
		Args: cobra.NoArgs,
		RunE: runTrace,
	}

	cmd.Flags().String("db", "", "SQLite file written by check")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().String("model", "", "only events of this synapse model")
	cmd.Flags().Bool("widened", false, "only events that widened a register")
	cmd.Flags().Int("limit", 0, "maximum number of events (0: all)")
	cmd.Flags().Int("offset", 0, "number of events to skip")

	return cmd
}

func runTrace(cmd *cobra.Command, _ []string) error {
	db, _ := cmd.Flags().GetString("db")
	model, _ := cmd.Flags().GetString("model")
	widened, _ := cmd.Flags().GetBool("widened")
	limit, _ := cmd.Flags().GetInt("limit")
	offset, _ := cmd.Flags().GetInt("offset")

	reader, err := datarecording.NewReader(db)
	if err != nil {
		return err
	}
	defer reader.Close()

	params := datarecording.QueryParams{
		Limit:  limit,
		Offset: offset,
	}

	var where []string
	if model != "" {
		where = append(where, "Model = ?")
		params.Args = append(params.Args, model)
	}
	if widened {
		where = append(where, "Widened = 1")
	}
	params.Where = strings.Join(where, " AND ")

	events, total, err := tracing.ReadDelayEvents(cmd.Context(), reader, params)
	if err != nil {
		return err
	}

	return writeOutput(cmd, traceReport{Total: total, Events: events})
}
