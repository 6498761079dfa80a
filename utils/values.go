package utils

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// DateLayouts are the ISO 8601 layouts accepted for date and timestamp values
var DateLayouts = []string{
	"2006-01-02",
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
}

// ToString converts a scalar payload value to a string
func ToString(v interface{}) (string, error) {
	switch val := v.(type) {
	case string:
		return val, nil
	case json.Number:
		return val.String(), nil
	case []string:
		if len(val) == 1 {
			return val[0], nil
		}
	}
	return "", fmt.Errorf("expected string, got %T", v)
}

// ToInt64 converts a payload value to an integer.
// Fractional numbers and non-numeric strings are rejected.
func ToInt64(v interface{}) (int64, error) {
	switch val := v.(type) {
	case int:
		return int64(val), nil
	case int64:
		return val, nil
	case float64:
		if val != math.Trunc(val) {
			return 0, fmt.Errorf("%v is not an integer", val)
		}
		return int64(val), nil
	case json.Number:
		return strconv.ParseInt(val.String(), 10, 64)
	case string:
		return strconv.ParseInt(strings.TrimSpace(val), 10, 64)
	case []string:
		if len(val) == 1 {
			return ToInt64(val[0])
		}
	}
	return 0, fmt.Errorf("expected integer, got %T", v)
}

// ToFloat64 converts a payload value to a float
func ToFloat64(v interface{}) (float64, error) {
	var f float64
	var err error
	switch val := v.(type) {
	case int:
		return float64(val), nil
	case int64:
		return float64(val), nil
	case float64:
		f = val
	case json.Number:
		f, err = val.Float64()
	case string:
		f, err = strconv.ParseFloat(strings.TrimSpace(val), 64)
	case []string:
		if len(val) == 1 {
			return ToFloat64(val[0])
		}
		return 0, fmt.Errorf("expected number, got %d values", len(val))
	default:
		return 0, fmt.Errorf("expected number, got %T", v)
	}
	if err != nil {
		return 0, err
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("%v is not a finite number", f)
	}
	return f, nil
}

// ToBool converts a payload value to a boolean.
// Multipart forms send booleans as "true"/"false" strings.
func ToBool(v interface{}) (bool, error) {
	switch val := v.(type) {
	case bool:
		return val, nil
	case string:
		return strconv.ParseBool(strings.TrimSpace(val))
	case []string:
		if len(val) == 1 {
			return ToBool(val[0])
		}
	}
	return false, fmt.Errorf("expected boolean, got %T", v)
}

// ToTime parses a payload value using DateLayouts
func ToTime(v interface{}) (time.Time, error) {
	if t, ok := v.(time.Time); ok {
		return t, nil
	}
	s, err := ToString(v)
	if err != nil {
		return time.Time{}, err
	}
	s = strings.TrimSpace(s)
	for _, layout := range DateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("%q is not an ISO 8601 date", s)
}
