package plugin

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/therealutkarshpriyadarshi/tflog/internal/logging"
	"github.com/therealutkarshpriyadarshi/tflog/pkg/types"
)

// ErrorCounter is the bundled LogProcessor. Entries whose message mentions
// "error" are re-leveled to error and counted in the summary.
type ErrorCounter struct {
	logger *logging.Logger
}

// NewErrorCounter creates the processor
func NewErrorCounter(logger *logging.Logger) *ErrorCounter {
	if logger == nil {
		logger = logging.Nop()
	}
	return &ErrorCounter{logger: logger.WithComponent("error-counter")}
}

// Process implements LogProcessorServer
func (p *ErrorCounter) Process(ctx context.Context, msg *structpb.Struct) (*structpb.Struct, error) {
	batch, err := DecodeBatch(msg)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	errorCount := 0
	for i := range batch.Entries {
		if strings.Contains(strings.ToLower(batch.Entries[i].Message), "error") {
			batch.Entries[i].Level = types.LevelError
			errorCount++
		}
	}

	batch.Summary = map[string]any{
		"total":       len(batch.Entries),
		"error_count": errorCount,
		"result":      fmt.Sprintf("found %d errors", errorCount),
	}

	p.logger.Debug().
		Int("entries", len(batch.Entries)).
		Int("errors", errorCount).
		Msg("Processed batch")

	out, err := batch.Encode()
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return out, nil
}
