package httpapi

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/timestamppb"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/behavior-monitor/pkg/types"
)

// SerializedEvent holds one event pre-encoded in both stream formats.
type SerializedEvent struct {
	JSONData     []byte
	ProtobufData []byte // base64 for SSE transport
}

// serializeEvent encodes ev once for every subscriber.
func serializeEvent(ev types.SessionEvent) (*SerializedEvent, error) {
	jsonData, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("json marshal: %w", err)
	}

	pbEvent, err := eventToProto(ev)
	if err != nil {
		return nil, err
	}
	pbData, err := proto.Marshal(pbEvent)
	if err != nil {
		return nil, fmt.Errorf("protobuf marshal: %w", err)
	}

	return &SerializedEvent{
		JSONData:     jsonData,
		ProtobufData: []byte(base64.StdEncoding.EncodeToString(pbData)),
	}, nil
}

// eventToProto renders ev as a google.protobuf.Struct. The timestamp is split into
// occurred_at_seconds and occurred_at_nanos like google.protobuf.Timestamp.
func eventToProto(ev types.SessionEvent) (*structpb.Struct, error) {
	ts := timestamppb.New(ev.OccurredAt)
	if err := ts.CheckValid(); err != nil {
		return nil, fmt.Errorf("occurred_at: %w", err)
	}

	fields := map[string]any{
		"type":                string(ev.Type),
		"kind":                string(ev.Kind),
		"occurred_at_seconds": ts.GetSeconds(),
		"occurred_at_nanos":   int64(ts.GetNanos()),
	}
	if ev.DurationSeconds != nil {
		fields["duration_seconds"] = *ev.DurationSeconds
	} else {
		fields["duration_seconds"] = nil
	}
	if len(ev.Meta) > 0 {
		meta := make(map[string]any, len(ev.Meta))
		for k, v := range ev.Meta {
			meta[k] = protoValue(v)
		}
		fields["meta"] = meta
	}

	s, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, fmt.Errorf("protobuf struct: %w", err)
	}
	return s, nil
}

// protoValue maps values structpb cannot hold onto strings.
func protoValue(v any) any {
	switch t := v.(type) {
	case nil, bool, string, int, int32, int64, uint32, uint64, float32, float64:
		return t
	case time.Time:
		return t.Format(time.RFC3339Nano)
	case *time.Time:
		if t == nil {
			return nil
		}
		return t.Format(time.RFC3339Nano)
	case time.Duration:
		return t.Seconds()
	default:
		return fmt.Sprint(t)
	}
}
