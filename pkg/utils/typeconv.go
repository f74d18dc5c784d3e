package utils

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/BartekS5/refpull/pkg/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// ConvertValue coerces a source value into the type named by cfg.Type.
// Unknown types pass the value through untouched.
func ConvertValue(val any, cfg models.FieldConfig) (any, error) {
	if val == nil {
		return nil, nil
	}
	switch cfg.Type {
	case "datetime":
		return ConvertDateTime(val, cfg.Format)
	case "int":
		return ConvertToInt(val)
	case "float":
		return ConvertToFloat(val)
	case "bool":
		return ConvertToBool(val)
	case "string", "enum":
		return Stringify(val, ""), nil
	default:
		return val, nil
	}
}

// ConvertDateTime parses val into a UTC time. A non-empty format is tried
// first as a Go reference layout.
func ConvertDateTime(val any, format string) (any, error) {
	switch v := val.(type) {
	case time.Time:
		return v.UTC(), nil
	case primitive.DateTime:
		return v.Time().UTC(), nil
	case string:
		formats := []string{
			time.RFC3339,
			time.RFC3339Nano,
			"2006-01-02 15:04:05",
			"2006-01-02",
		}
		if format != "" && format != "ISO8601" {
			formats = append([]string{format}, formats...)
		}
		for _, f := range formats {
			if t, err := time.Parse(f, v); err == nil {
				return t.UTC(), nil
			}
		}
		return nil, fmt.Errorf("unable to parse datetime: %s", v)
	case []byte:
		return ConvertDateTime(string(v), format)
	default:
		return nil, fmt.Errorf("cannot convert %T to datetime", val)
	}
}

func ConvertToInt(val any) (int64, error) {
	switch v := val.(type) {
	case int:
		return int64(v), nil
	case int32:
		return int64(v), nil
	case int64:
		return v, nil
	case float64:
		return int64(v), nil
	case float32:
		return int64(v), nil
	case json.Number:
		return v.Int64()
	case string:
		return strconv.ParseInt(strings.TrimSpace(v), 10, 64)
	case []byte:
		return strconv.ParseInt(strings.TrimSpace(string(v)), 10, 64)
	default:
		return 0, fmt.Errorf("cannot convert %T to int", val)
	}
}

func ConvertToFloat(val any) (float64, error) {
	switch v := val.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case int32:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case json.Number:
		return v.Float64()
	case primitive.Decimal128:
		return strconv.ParseFloat(v.String(), 64)
	case string:
		return strconv.ParseFloat(strings.TrimSpace(v), 64)
	case []byte:
		return strconv.ParseFloat(strings.TrimSpace(string(v)), 64)
	default:
		return 0, fmt.Errorf("cannot convert %T to float", val)
	}
}

func ConvertToBool(val any) (bool, error) {
	switch v := val.(type) {
	case bool:
		return v, nil
	case int, int32, int64:
		n, _ := ConvertToInt(v)
		return n != 0, nil
	case string:
		return strconv.ParseBool(strings.TrimSpace(v))
	case []byte:
		return strconv.ParseBool(strings.TrimSpace(string(v)))
	default:
		return false, fmt.Errorf("cannot convert %T to bool", val)
	}
}
