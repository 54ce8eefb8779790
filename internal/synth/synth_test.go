package synth

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/therealutkarshpriyadarshi/tflog/internal/parser"
	"github.com/therealutkarshpriyadarshi/tflog/internal/timeline"
	"github.com/therealutkarshpriyadarshi/tflog/pkg/types"
)

func TestRunIsDeterministic(t *testing.T) {
	a := New(Config{Requests: 5, ErrorRate: 0.5, Seed: 7}).Run()
	b := New(Config{Requests: 5, ErrorRate: 0.5, Seed: 7}).Run()
	assert.Equal(t, a, b)
}

func TestRunShape(t *testing.T) {
	g := New(Config{Requests: 3})
	lines := g.Run()
	assert.Len(t, lines, g.LinesPerRun())

	again := g.Run()
	assert.NotEqual(t, lines[2], again[2], "request ids continue across runs")
}

func TestRunParses(t *testing.T) {
	g := New(Config{Requests: 4, ErrorRate: 1, BodyBytes: 16})
	var buf bytes.Buffer
	n, err := g.WriteRun(&buf)
	require.NoError(t, err)
	assert.Equal(t, g.LinesPerRun()+8, n)

	engine, err := parser.New(parser.DefaultConfig())
	require.NoError(t, err)
	res, err := engine.ProcessReader(context.Background(), strings.NewReader(buf.String()))
	require.NoError(t, err)
	require.Len(t, res.Records, n)
	assert.Zero(t, res.Stats.ParseErrors)

	assert.Equal(t, types.PhasePlan, res.Records[0].Phase)
	assert.Equal(t, types.PhasePlan, res.Records[2].Phase)

	var errors, apply int
	for _, rec := range res.Records {
		if rec.Level == "error" {
			errors++
		}
		if rec.Phase == types.PhaseApply {
			apply++
		}
	}
	assert.Equal(t, 8, errors)
	assert.Positive(t, apply)

	assert.Len(t, timeline.GroupByRequest(res.Records), 8)
	assert.Len(t, timeline.Build(res.Records), 8)
}
