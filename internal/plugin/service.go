// Package plugin implements the remote aggregation collaborator: a gRPC
// LogProcessor service that receives a batch of simplified records and
// returns a possibly re-leveled batch of the same shape plus a summary.
//
// Messages are google.protobuf.Struct values shaped as
//
//	{"entries": [{"timestamp", "level", "message", "request_id", "resource_type", "section"}, ...],
//	 "summary": {...}}
package plugin

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/therealutkarshpriyadarshi/tflog/pkg/types"
)

const (
	// ServiceName is the fully qualified gRPC service name
	ServiceName = "tflog.plugin.v1.LogProcessor"

	processMethod = "/" + ServiceName + "/Process"
)

// LogProcessorServer is the server API for the LogProcessor service
type LogProcessorServer interface {
	Process(ctx context.Context, batch *structpb.Struct) (*structpb.Struct, error)
}

// RegisterLogProcessorServer registers srv with s
func RegisterLogProcessorServer(s grpc.ServiceRegistrar, srv LogProcessorServer) {
	s.RegisterService(&serviceDesc, srv)
}

func processHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(LogProcessorServer).Process(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: processMethod,
	}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(LogProcessorServer).Process(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*LogProcessorServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Process",
			Handler:    processHandler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "tflog/plugin/v1/plugin.proto",
}

// Entry is the simplified record exchanged with the collaborator
type Entry struct {
	Timestamp    string
	Level        string
	Message      string
	RequestID    string
	ResourceType string
	Section      string
}

// EntryFromRecord simplifies a record for the wire
func EntryFromRecord(r types.Record) Entry {
	e := Entry{
		Timestamp:    r.Timestamp,
		Level:        r.Level,
		Message:      r.Message,
		RequestID:    r.RequestID,
		ResourceType: r.ResourceType,
	}
	if r.Phase != types.PhaseNone {
		e.Section = string(r.Phase)
	}
	return e
}

// Batch is a decoded LogProcessor message
type Batch struct {
	Entries []Entry
	Summary map[string]any
}

// Encode converts the batch to its wire message
func (b Batch) Encode() (*structpb.Struct, error) {
	entries := make([]any, len(b.Entries))
	for i, e := range b.Entries {
		entries[i] = map[string]any{
			"timestamp":     e.Timestamp,
			"level":         e.Level,
			"message":       e.Message,
			"request_id":    e.RequestID,
			"resource_type": e.ResourceType,
			"section":       e.Section,
		}
	}
	fields := map[string]any{"entries": entries}
	if b.Summary != nil {
		fields["summary"] = b.Summary
	}
	msg, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, fmt.Errorf("encode batch: %w", err)
	}
	return msg, nil
}

// DecodeBatch parses a wire message. Missing entry fields decode as empty strings.
func DecodeBatch(msg *structpb.Struct) (Batch, error) {
	var b Batch
	if msg == nil {
		return b, fmt.Errorf("decode batch: nil message")
	}

	list := msg.GetFields()["entries"].GetListValue()
	if list == nil && msg.GetFields()["entries"] != nil {
		return b, fmt.Errorf("decode batch: entries is not a list")
	}
	for i, v := range list.GetValues() {
		obj := v.GetStructValue()
		if obj == nil {
			return b, fmt.Errorf("decode batch: entry %d is not an object", i)
		}
		f := obj.GetFields()
		b.Entries = append(b.Entries, Entry{
			Timestamp:    f["timestamp"].GetStringValue(),
			Level:        f["level"].GetStringValue(),
			Message:      f["message"].GetStringValue(),
			RequestID:    f["request_id"].GetStringValue(),
			ResourceType: f["resource_type"].GetStringValue(),
			Section:      f["section"].GetStringValue(),
		})
	}

	if summary := msg.GetFields()["summary"].GetStructValue(); summary != nil {
		b.Summary = summary.AsMap()
	}
	return b, nil
}
