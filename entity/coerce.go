package entity

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/hcnet/hcgo/profile"
)

// Coerce normalizes v to the wire representation implied by pt, following
// the value-coercion rules for each protocol type. An absent protocol type
// (ok == false from the caller) passes v through unchanged.
func Coerce(pt profile.ProtocolType, v any) any {
	switch pt {
	case profile.ProtocolTypeBoolean:
		return coerceBool(v)
	case profile.ProtocolTypeInteger:
		return coerceInt(v)
	case profile.ProtocolTypeFloat:
		return coerceFloat(v)
	case profile.ProtocolTypeString:
		return coerceString(v)
	case profile.ProtocolTypeObject:
		return coerceObject(v)
	default:
		return v
	}
}

func coerceBool(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case int:
		return t != 0
	case int32:
		return t != 0
	case int64:
		return t != 0
	case float32:
		return t != 0
	case float64:
		return t != 0
	case string:
		switch strings.ToLower(strings.TrimSpace(t)) {
		case "true":
			return true
		case "false":
			return false
		default:
			f, err := strconv.ParseFloat(t, 64)
			if err == nil {
				return f != 0
			}
			return t != ""
		}
	default:
		return isTruthy(v)
	}
}

func isTruthy(v any) bool {
	return v != nil
}

func coerceInt(v any) int64 {
	switch t := v.(type) {
	case int:
		return int64(t)
	case int32:
		return int64(t)
	case int64:
		return t
	case float32:
		return int64(t)
	case float64:
		return int64(t)
	case bool:
		if t {
			return 1
		}
		return 0
	case string:
		if n, err := strconv.ParseInt(strings.TrimSpace(t), 10, 64); err == nil {
			return n
		}
		if f, err := strconv.ParseFloat(strings.TrimSpace(t), 64); err == nil {
			return int64(f)
		}
		return 0
	default:
		return 0
	}
}

func coerceFloat(v any) float64 {
	switch t := v.(type) {
	case int:
		return float64(t)
	case int32:
		return float64(t)
	case int64:
		return float64(t)
	case float32:
		return float64(t)
	case float64:
		return t
	case bool:
		if t {
			return 1
		}
		return 0
	case string:
		if f, err := strconv.ParseFloat(strings.TrimSpace(t), 64); err == nil {
			return f
		}
		return 0
	default:
		return 0
	}
}

func coerceString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case nil:
		return ""
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return ""
		}
		var s string
		if json.Unmarshal(b, &s) == nil {
			return s
		}
		return string(b)
	}
}

func coerceObject(v any) any {
	s, ok := v.(string)
	if !ok {
		return v
	}
	var out any
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return v
	}
	return out
}
