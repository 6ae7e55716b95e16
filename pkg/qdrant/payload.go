package qdrant

import (
	"fmt"

	qclient "github.com/qdrant/go-client/qdrant"
)

func toPayload(m map[string]any) (map[string]*qclient.Value, error) {
	if len(m) == 0 {
		return nil, nil
	}
	out := make(map[string]*qclient.Value, len(m))
	for k, v := range m {
		val, err := toValue(v)
		if err != nil {
			return nil, fmt.Errorf("payload field %q: %w", k, err)
		}
		out[k] = val
	}
	return out, nil
}

func toValue(v any) (*qclient.Value, error) {
	switch t := v.(type) {
	case nil:
		return &qclient.Value{Kind: &qclient.Value_NullValue{NullValue: qclient.NullValue_NULL_VALUE}}, nil
	case string:
		return &qclient.Value{Kind: &qclient.Value_StringValue{StringValue: t}}, nil
	case bool:
		return &qclient.Value{Kind: &qclient.Value_BoolValue{BoolValue: t}}, nil
	case int:
		return &qclient.Value{Kind: &qclient.Value_IntegerValue{IntegerValue: int64(t)}}, nil
	case int32:
		return &qclient.Value{Kind: &qclient.Value_IntegerValue{IntegerValue: int64(t)}}, nil
	case int64:
		return &qclient.Value{Kind: &qclient.Value_IntegerValue{IntegerValue: t}}, nil
	case float32:
		return &qclient.Value{Kind: &qclient.Value_DoubleValue{DoubleValue: float64(t)}}, nil
	case float64:
		return &qclient.Value{Kind: &qclient.Value_DoubleValue{DoubleValue: t}}, nil
	case []string:
		items := make([]any, 0, len(t))
		for _, s := range t {
			items = append(items, s)
		}
		return toValue(items)
	case []any:
		values := make([]*qclient.Value, 0, len(t))
		for _, item := range t {
			val, err := toValue(item)
			if err != nil {
				return nil, err
			}
			values = append(values, val)
		}
		return &qclient.Value{Kind: &qclient.Value_ListValue{ListValue: &qclient.ListValue{Values: values}}}, nil
	case map[string]any:
		fields, err := toPayload(t)
		if err != nil {
			return nil, err
		}
		return &qclient.Value{Kind: &qclient.Value_StructValue{StructValue: &qclient.Struct{Fields: fields}}}, nil
	default:
		return nil, fmt.Errorf("unsupported payload type %T", v)
	}
}

func fromPayload(m map[string]*qclient.Value) map[string]any {
	if len(m) == 0 {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = fromValue(v)
	}
	return out
}

func fromValue(v *qclient.Value) any {
	switch k := v.GetKind().(type) {
	case *qclient.Value_StringValue:
		return k.StringValue
	case *qclient.Value_BoolValue:
		return k.BoolValue
	case *qclient.Value_IntegerValue:
		return k.IntegerValue
	case *qclient.Value_DoubleValue:
		return k.DoubleValue
	case *qclient.Value_ListValue:
		items := make([]any, 0, len(k.ListValue.GetValues()))
		for _, item := range k.ListValue.GetValues() {
			items = append(items, fromValue(item))
		}
		return items
	case *qclient.Value_StructValue:
		return fromPayload(k.StructValue.GetFields())
	default:
		return nil
	}
}
