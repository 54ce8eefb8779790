package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/therealutkarshpriyadarshi/tflog/internal/parser"
	"github.com/therealutkarshpriyadarshi/tflog/internal/viewer"
	"github.com/therealutkarshpriyadarshi/tflog/pkg/types"
)

// Record output formats
const (
	formatJSON  = "json"
	formatJSONL = "jsonl"
	formatShort = "short"
)

// filterFlags are the record filters shared by parse and watch
type filterFlags struct {
	levels       []string
	phases       []string
	requestID    string
	resourceType string
	query        string
}

func (f *filterFlags) bind(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.StringSliceVar(&f.levels, "level", nil, "keep only these levels (repeatable or comma-separated)")
	flags.StringSliceVar(&f.phases, "phase", nil, "keep only these phases: plan, apply, none")
	flags.StringVar(&f.requestID, "request-id", "", "keep only records with this request id")
	flags.StringVar(&f.resourceType, "resource-type", "", "keep only records whose resource type contains this text")
	flags.StringVarP(&f.query, "query", "q", "", "keep only records whose text contains this, ignoring case")
}

func (f filterFlags) filter() (viewer.Filter, error) {
	vf := viewer.Filter{
		RequestID:    f.requestID,
		ResourceType: f.resourceType,
		Query:        f.query,
	}
	for _, l := range f.levels {
		l = strings.ToLower(strings.TrimSpace(l))
		if !parser.IsLevel(l) {
			return viewer.Filter{}, fmt.Errorf("unknown level %q", l)
		}
		vf.Levels = append(vf.Levels, l)
	}
	for _, p := range f.phases {
		switch phase := types.Phase(strings.ToLower(strings.TrimSpace(p))); phase {
		case types.PhasePlan, types.PhaseApply, types.PhaseNone:
			vf.Phases = append(vf.Phases, phase)
		default:
			return viewer.Filter{}, fmt.Errorf("unknown phase %q", p)
		}
	}
	return vf, nil
}

func checkFormat(format string) error {
	switch format {
	case formatJSON, formatJSONL, formatShort:
		return nil
	}
	return fmt.Errorf("unknown format %q (want json, jsonl or short)", format)
}
