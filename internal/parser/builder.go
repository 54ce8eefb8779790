package parser

import (
	"github.com/therealutkarshpriyadarshi/tflog/pkg/types"
)

// Builder composes extraction, resolution and phase tracking into records
type Builder struct {
	cfg        Config
	timestamps *TimestampResolver
	levels     *LevelResolver
}

// Build produces the record for one non-empty, trimmed line. The tracker is
// advanced by exactly one step.
func (b *Builder) Build(lineno int, line string, tracker *PhaseTracker) types.Record {
	entry, ok := Extract(line)

	message, found := entry.String(b.cfg.MessageKeys...)
	if !found {
		message = line
	}

	rec := types.Record{
		LineNumber: lineno,
		Message:    message,
		WellFormed: ok,
		Raw:        line,
	}
	rec.Timestamp, rec.TimestampGuessed = b.timestamps.Resolve(entry, message)
	rec.Level, rec.LevelGuessed = b.levels.Resolve(entry, message)
	rec.Phase, rec.Transition = tracker.Observe(message)
	rec.RequestID, _ = entry.String(b.cfg.RequestIDKeys...)
	rec.ResourceType, _ = entry.String(b.cfg.ResourceTypeKeys...)
	rec.RequestBody = bodyField(entry, b.cfg.RequestBodyKeys)
	rec.ResponseBody = bodyField(entry, b.cfg.ResponseBodyKeys)
	return rec
}
