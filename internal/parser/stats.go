package parser

import (
	"github.com/therealutkarshpriyadarshi/tflog/pkg/types"
)

// Aggregator accumulates run statistics. Counters only grow.
type Aggregator struct {
	stats types.RunStats
}

// NewAggregator creates an empty aggregator
func NewAggregator() *Aggregator {
	return &Aggregator{stats: types.NewRunStats()}
}

// Add counts one record
func (a *Aggregator) Add(rec types.Record) {
	a.stats.Records++
	a.observeLine(rec.LineNumber)
	if !rec.WellFormed {
		a.stats.ParseErrors++
	}
	if rec.TimestampGuessed {
		a.stats.GuessedTimestamps++
	}
	if rec.LevelGuessed {
		a.stats.GuessedLevels++
	}
	a.stats.PhaseCounts[rec.Phase]++
	a.stats.LevelCounts[rec.Level]++
}

// Skip counts a blank line that produced no record
func (a *Aggregator) Skip(lineno int) {
	a.observeLine(lineno)
}

func (a *Aggregator) observeLine(lineno int) {
	if lineno > a.stats.TotalLines {
		a.stats.TotalLines = lineno
	}
}

// Snapshot returns a copy of the statistics so far
func (a *Aggregator) Snapshot() types.RunStats {
	return a.stats.Clone()
}
