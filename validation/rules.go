package validation

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
	"github.com/sitecrew/construction-api/utils"
)

// RuleKind classifies a field rule
type RuleKind string

const (
	KindRequired RuleKind = "required"
	KindType     RuleKind = "type"
	KindFormat   RuleKind = "format"
	KindRange    RuleKind = "range"
	KindEnum     RuleKind = "enum"
	KindCustom   RuleKind = "custom"
)

// formats checks string formats (uuid, email) with go-playground/validator
var formats = validator.New()

// FieldRule is one declarative check on one payload field
type FieldRule struct {
	Field   string
	Kind    RuleKind
	Params  map[string]interface{}
	Message string
	check   func(value interface{}, present bool) bool
}

// Bounds is an optional inclusive numeric range
type Bounds struct {
	Min *float64
	Max *float64
}

// AtLeast bounds a value from below
func AtLeast(min float64) Bounds {
	return Bounds{Min: &min}
}

// Between bounds a value on both sides
func Between(min, max float64) Bounds {
	return Bounds{Min: &min, Max: &max}
}

// Unbounded accepts any finite value
func Unbounded() Bounds {
	return Bounds{}
}

func (b Bounds) contains(f float64) bool {
	if b.Min != nil && f < *b.Min {
		return false
	}
	if b.Max != nil && f > *b.Max {
		return false
	}
	return true
}

func (b Bounds) params() map[string]interface{} {
	p := map[string]interface{}{}
	if b.Min != nil {
		p["min"] = *b.Min
	}
	if b.Max != nil {
		p["max"] = *b.Max
	}
	return p
}

func messageOr(msg, fallback string, args ...interface{}) string {
	if msg != "" {
		return msg
	}
	return fmt.Sprintf(fallback, args...)
}

// Required fails when the field is absent, null, or a blank string
func Required(field, message string) FieldRule {
	return FieldRule{
		Field:   field,
		Kind:    KindRequired,
		Message: messageOr(message, "%s is required", field),
		check: func(v interface{}, present bool) bool {
			return present && !isBlank(v)
		},
	}
}

// String fails when the value is not a string
func String(field, message string) FieldRule {
	return FieldRule{
		Field:   field,
		Kind:    KindType,
		Params:  map[string]interface{}{"type": "string"},
		Message: messageOr(message, "%s must be a string", field),
		check: func(v interface{}, _ bool) bool {
			switch val := v.(type) {
			case string:
				return true
			case []string:
				return len(val) == 1
			}
			return false
		},
	}
}

// Boolean fails when the value is not a boolean or a "true"/"false" form value
func Boolean(field, message string) FieldRule {
	return FieldRule{
		Field:   field,
		Kind:    KindType,
		Params:  map[string]interface{}{"type": "boolean"},
		Message: messageOr(message, "%s must be a boolean", field),
		check: func(v interface{}, _ bool) bool {
			_, err := utils.ToBool(v)
			return err == nil
		},
	}
}

// Length fails when a string's character count is outside [min, max]. max <= 0 means no upper limit.
func Length(field string, min, max int, message string) FieldRule {
	params := map[string]interface{}{"min": min}
	fallback := fmt.Sprintf("%s must be at least %d characters", field, min)
	if max > 0 {
		params["max"] = max
		fallback = fmt.Sprintf("%s must be between %d and %d characters", field, min, max)
	}
	return FieldRule{
		Field:   field,
		Kind:    KindRange,
		Params:  params,
		Message: messageOr(message, "%s", fallback),
		check: func(v interface{}, _ bool) bool {
			s, err := utils.ToString(v)
			if err != nil {
				return false
			}
			n := utf8.RuneCountInString(s)
			return n >= min && (max <= 0 || n <= max)
		},
	}
}

// MaxLength fails when a string is longer than max characters
func MaxLength(field string, max int, message string) FieldRule {
	return Length(field, 0, max, messageOr(message, "%s must be at most %d characters", field, max))
}

// Int fails when the value does not parse as an integer or falls outside bounds
func Int(field string, bounds Bounds, message string) FieldRule {
	return FieldRule{
		Field:   field,
		Kind:    KindRange,
		Params:  bounds.params(),
		Message: messageOr(message, "%s must be an integer in range", field),
		check: func(v interface{}, _ bool) bool {
			n, err := utils.ToInt64(v)
			if err != nil {
				return false
			}
			return bounds.contains(float64(n))
		},
	}
}

// Float fails when the value does not parse as a number or falls outside bounds
func Float(field string, bounds Bounds, message string) FieldRule {
	return FieldRule{
		Field:   field,
		Kind:    KindRange,
		Params:  bounds.params(),
		Message: messageOr(message, "%s must be a number in range", field),
		check: func(v interface{}, _ bool) bool {
			f, err := utils.ToFloat64(v)
			if err != nil {
				return false
			}
			return bounds.contains(f)
		},
	}
}

// Decimal fails when the value is not a plain decimal with at most places fractional digits,
// or when it falls outside bounds
func Decimal(field string, places int, bounds Bounds, message string) FieldRule {
	pattern := regexp.MustCompile(fmt.Sprintf(`^[-+]?\d+(\.\d{0,%d})?$`, places))
	params := bounds.params()
	params["places"] = places
	return FieldRule{
		Field:   field,
		Kind:    KindFormat,
		Params:  params,
		Message: messageOr(message, "%s must be a decimal with up to %d places", field, places),
		check: func(v interface{}, _ bool) bool {
			var s string
			switch val := v.(type) {
			case float64:
				s = strconv.FormatFloat(val, 'f', -1, 64)
			case json.Number:
				s = val.String()
			default:
				str, err := utils.ToString(v)
				if err != nil {
					return false
				}
				s = strings.TrimSpace(str)
			}
			if !pattern.MatchString(s) {
				return false
			}
			f, err := strconv.ParseFloat(s, 64)
			return err == nil && bounds.contains(f)
		},
	}
}

// Date fails when the value is not an ISO 8601 date or timestamp
func Date(field, message string) FieldRule {
	return FieldRule{
		Field:   field,
		Kind:    KindFormat,
		Params:  map[string]interface{}{"format": "iso8601"},
		Message: messageOr(message, "%s must be a valid ISO 8601 date", field),
		check: func(v interface{}, _ bool) bool {
			_, err := utils.ToTime(v)
			return err == nil
		},
	}
}

// UUID fails when the value is not a UUID string
func UUID(field, message string) FieldRule {
	return formatRule(field, "uuid", messageOr(message, "%s must be a valid UUID", field))
}

// Email fails when the value is not an email address
func Email(field, message string) FieldRule {
	return formatRule(field, "email", messageOr(message, "%s must be a valid email address", field))
}

func formatRule(field, tag, message string) FieldRule {
	return FieldRule{
		Field:   field,
		Kind:    KindFormat,
		Params:  map[string]interface{}{"format": tag},
		Message: message,
		check: func(v interface{}, _ bool) bool {
			s, err := utils.ToString(v)
			if err != nil {
				return false
			}
			return formats.Var(s, tag) == nil
		},
	}
}

// OneOf fails when the value is not one of allowed
func OneOf(field string, allowed []string, message string) FieldRule {
	set := make(map[string]bool, len(allowed))
	for _, a := range allowed {
		set[a] = true
	}
	return FieldRule{
		Field:   field,
		Kind:    KindEnum,
		Params:  map[string]interface{}{"allowed": allowed},
		Message: messageOr(message, "%s must be one of: %s", field, strings.Join(allowed, ", ")),
		check: func(v interface{}, _ bool) bool {
			s, err := utils.ToString(v)
			return err == nil && set[s]
		},
	}
}

// Custom fails when fn returns false for the value
func Custom(field string, fn func(value interface{}) bool, message string) FieldRule {
	return FieldRule{
		Field:   field,
		Kind:    KindCustom,
		Message: messageOr(message, "%s is invalid", field),
		check: func(v interface{}, _ bool) bool {
			return fn(v)
		},
	}
}
