package utils

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Stringify renders a value the same way on every run. Floats use
// floatFormat (a fmt verb such as "%.4f") when set, otherwise the shortest
// representation that round-trips. Maps and slices are JSON-encoded, which
// sorts map keys.
func Stringify(val any, floatFormat string) string {
	switch v := val.(type) {
	case nil:
		return ""
	case string:
		return v
	case []byte:
		return string(v)
	case bool:
		return strconv.FormatBool(v)
	case int:
		return strconv.Itoa(v)
	case int8:
		return strconv.FormatInt(int64(v), 10)
	case int16:
		return strconv.FormatInt(int64(v), 10)
	case int32:
		return strconv.FormatInt(int64(v), 10)
	case int64:
		return strconv.FormatInt(v, 10)
	case uint:
		return strconv.FormatUint(uint64(v), 10)
	case uint32:
		return strconv.FormatUint(uint64(v), 10)
	case uint64:
		return strconv.FormatUint(v, 10)
	case float32:
		return formatFloat(float64(v), floatFormat, 32)
	case float64:
		return formatFloat(v, floatFormat, 64)
	case json.Number:
		return v.String()
	case time.Time:
		return v.UTC().Format(time.RFC3339Nano)
	case primitive.DateTime:
		return v.Time().UTC().Format(time.RFC3339Nano)
	case primitive.ObjectID:
		return v.Hex()
	case primitive.Decimal128:
		return v.String()
	case fmt.Stringer:
		return v.String()
	case map[string]any, []any, []map[string]any, primitive.M, primitive.A, primitive.D:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprint(v)
		}
		return string(b)
	default:
		return fmt.Sprint(v)
	}
}

func formatFloat(f float64, format string, bits int) string {
	if format != "" {
		return fmt.Sprintf(format, f)
	}
	return strconv.FormatFloat(f, 'f', -1, bits)
}
