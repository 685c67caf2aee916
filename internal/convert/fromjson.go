package convert

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/nuetzliches/beanbridge/internal/protocol"
)

// FromJSON converts a decoded JSON value (or a GET string form) onto the
// declared target type taken from bean metadata. Unknown declared types
// pass the value through for the registry's reflective coercion.
func FromJSON(value any, declaredType string) (any, error) {
	declaredType = strings.TrimSpace(declaredType)
	if value == nil || declaredType == "" || declaredType == "any" || declaredType == "interface {}" {
		return value, nil
	}

	if strings.HasPrefix(declaredType, "[]") && declaredType != "[]byte" {
		return sliceFromJSON(value, declaredType)
	}
	if strings.HasPrefix(declaredType, "map[string]") {
		return mapFromJSON(value, declaredType)
	}

	switch declaredType {
	case "string":
		if s, ok := value.(string); ok {
			return s, nil
		}
		return fmt.Sprint(value), nil
	case "bool":
		switch t := value.(type) {
		case bool:
			return t, nil
		case string:
			b, err := strconv.ParseBool(t)
			if err != nil {
				return nil, protocol.Invalidf("cannot parse %q as bool", t)
			}
			return b, nil
		}
	case "int", "int8", "int16", "int32", "int64":
		n, err := toInt64(value)
		if err != nil {
			return nil, err
		}
		return n, nil
	case "uint", "uint8", "uint16", "uint32", "uint64":
		n, err := toInt64(value)
		if err != nil {
			return nil, err
		}
		if n < 0 {
			return nil, protocol.Invalidf("negative value %d for %s", n, declaredType)
		}
		return uint64(n), nil
	case "float32", "float64":
		switch t := value.(type) {
		case float64:
			return t, nil
		case int64:
			return float64(t), nil
		case string:
			f, err := strconv.ParseFloat(t, 64)
			if err != nil {
				return nil, protocol.Invalidf("cannot parse %q as float", t)
			}
			return f, nil
		}
	case "time.Duration":
		switch t := value.(type) {
		case string:
			d, err := time.ParseDuration(t)
			if err != nil {
				return nil, protocol.Invalidf("cannot parse %q as duration", t)
			}
			return d, nil
		case float64:
			return time.Duration(int64(t)), nil
		case int64:
			return time.Duration(t), nil
		}
	case "time.Time":
		if s, ok := value.(string); ok {
			ts, err := time.Parse(time.RFC3339Nano, s)
			if err != nil {
				return nil, protocol.Invalidf("cannot parse %q as time", s)
			}
			return ts, nil
		}
	case "[]byte":
		if s, ok := value.(string); ok {
			return []byte(s), nil
		}
	default:
		// other declared types, composite records among them, take the
		// value unchanged: a JSON object arrives as map[string]any, and a
		// non-object value is not rejected here
		if m, ok := value.(map[string]any); ok {
			return m, nil
		}
		return value, nil
	}
	return nil, protocol.Invalidf("cannot convert %T to %s", value, declaredType)
}

func sliceFromJSON(value any, declaredType string) (any, error) {
	elemType := strings.TrimPrefix(declaredType, "[]")
	switch t := value.(type) {
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			c, err := FromJSON(e, elemType)
			if err != nil {
				return nil, err
			}
			out[i] = c
		}
		return out, nil
	case string:
		// GET form: comma-separated scalar list
		if t == "" {
			return []any{}, nil
		}
		parts := strings.Split(t, ",")
		out := make([]any, len(parts))
		for i, p := range parts {
			c, err := FromJSON(p, elemType)
			if err != nil {
				return nil, err
			}
			out[i] = c
		}
		return out, nil
	}
	return nil, protocol.Invalidf("cannot convert %T to %s", value, declaredType)
}

func mapFromJSON(value any, declaredType string) (any, error) {
	elemType := strings.TrimPrefix(declaredType, "map[string]")
	m, ok := value.(map[string]any)
	if !ok {
		return nil, protocol.Invalidf("cannot convert %T to %s", value, declaredType)
	}
	out := make(map[string]any, len(m))
	for k, e := range m {
		c, err := FromJSON(e, elemType)
		if err != nil {
			return nil, err
		}
		out[k] = c
	}
	return out, nil
}

func toInt64(value any) (int64, error) {
	switch t := value.(type) {
	case int64:
		return t, nil
	case int:
		return int64(t), nil
	case float64:
		if t != float64(int64(t)) {
			return 0, protocol.Invalidf("value %v is not an integer", t)
		}
		return int64(t), nil
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(t), 10, 64)
		if err != nil {
			return 0, protocol.Invalidf("cannot parse %q as integer", t)
		}
		return n, nil
	}
	return 0, protocol.Invalidf("value %T is not an integer", value)
}
