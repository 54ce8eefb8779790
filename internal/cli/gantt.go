package cli

import (
	"encoding/json"
	"time"

	"github.com/spf13/cobra"

	"github.com/therealutkarshpriyadarshi/tflog/internal/timeline"
	"github.com/therealutkarshpriyadarshi/tflog/internal/viewer"
	"github.com/therealutkarshpriyadarshi/tflog/pkg/types"
)

type ganttOptions struct {
	groups bool
	top    int
}

func newGanttCommand(a *app) *cobra.Command {
	var opts ganttOptions
	cmd := &cobra.Command{
		Use:   "gantt FILE",
		Short: "Print the per-request timeline of a log file as JSON",
		Long: `Correlate the records of FILE by request id and print one bar per
request with its start, end and duration. Requests without a usable
time span are left out. With --groups, print the request groups
instead, largest first.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			engine, err := a.newEngine()
			if err != nil {
				return err
			}

			start := time.Now()
			res, err := engine.ProcessFile(ctx, args[0])
			a.metrics.ObserveRun("cli", res.Stats, time.Since(start), err)
			if err != nil {
				return err
			}

			var doc any
			if opts.groups {
				groups := viewer.TopGroups(timeline.GroupByRequest(res.Records), opts.top)
				if groups == nil {
					groups = []types.RequestGroup{}
				}
				doc = groups
			} else {
				bars := timeline.Build(res.Records)
				if bars == nil {
					bars = []timeline.Bar{}
				}
				doc = bars
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(doc)
		},
	}
	cmd.Flags().BoolVar(&opts.groups, "groups", false, "print request groups instead of timeline bars")
	cmd.Flags().IntVar(&opts.top, "top", 0, "with --groups, keep only the N largest groups (0 keeps all)")
	return cmd
}
