package grpcapi

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/rbright/reelnote/internal/session"
)

func stringField(in *structpb.Struct, key string) string {
	v, ok := in.GetFields()[key]
	if !ok {
		return ""
	}
	return strings.TrimSpace(v.GetStringValue())
}

// uintField reads an optional non-negative integer.
func uintField(in *structpb.Struct, key string) (*uint64, error) {
	v, ok := in.GetFields()[key]
	if !ok {
		return nil, nil
	}
	if _, isNull := v.GetKind().(*structpb.Value_NullValue); isNull {
		return nil, nil
	}
	n, isNumber := v.GetKind().(*structpb.Value_NumberValue)
	if !isNumber || n.NumberValue < 0 || n.NumberValue >= math.MaxUint64 || n.NumberValue != math.Trunc(n.NumberValue) {
		return nil, fmt.Errorf("%s must be a non-negative integer", key)
	}
	out := uint64(n.NumberValue)
	return &out, nil
}

func requireSessionID(in *structpb.Struct) (string, error) {
	id := stringField(in, "session_id")
	if id == "" {
		return "", &session.MalformedEventError{Field: "session_id"}
	}
	return id, nil
}

// toStruct converts a JSON-tagged value into a Struct.
func toStruct(v any) (*structpb.Struct, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, err
	}
	return structpb.NewStruct(fields)
}

// fromStruct decodes a Struct into a JSON-tagged value.
func fromStruct(in *structpb.Struct, out any) error {
	raw, err := json.Marshal(in.AsMap())
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}
