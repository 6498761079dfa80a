// Package validation applies declarative per-field rules to request payloads.
//
// Every rule of a rule set is evaluated, so a single call reports all
// violations at once. Fields not named by any rule are ignored.
package validation

import (
	"strings"
)

// Violation is a single failed rule
type Violation struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Result is the outcome of validating one payload. It is never mutated after Validate returns.
type Result struct {
	violations []Violation
}

// Valid reports whether no rule failed
func (r Result) Valid() bool {
	return len(r.violations) == 0
}

// Violations returns a copy of the failed rules in rule order
func (r Result) Violations() []Violation {
	out := make([]Violation, len(r.violations))
	copy(out, r.violations)
	return out
}

// Fields returns the distinct field names that failed, in rule order
func (r Result) Fields() []string {
	seen := make(map[string]bool, len(r.violations))
	fields := make([]string, 0, len(r.violations))
	for _, v := range r.violations {
		if !seen[v.Field] {
			seen[v.Field] = true
			fields = append(fields, v.Field)
		}
	}
	return fields
}

// Validate evaluates every rule against payload and aggregates the failures.
// Rules other than Required are skipped when their field is absent or null.
func Validate(payload map[string]interface{}, rules []FieldRule) Result {
	var violations []Violation
	for _, rule := range rules {
		value, present := Lookup(payload, rule.Field)
		if rule.Kind != KindRequired && !present {
			continue
		}
		if !rule.check(value, present) {
			violations = append(violations, Violation{Field: rule.Field, Message: rule.Message})
		}
	}
	return Result{violations: violations}
}

// Lookup returns a payload value and whether it is present.
// A key holding null counts as absent; zero values, false and empty strings are present.
func Lookup(payload map[string]interface{}, field string) (interface{}, bool) {
	if payload == nil {
		return nil, false
	}
	v, ok := payload[field]
	if !ok || v == nil {
		return nil, false
	}
	return v, true
}

// Present reports whether field holds a non-null value
func Present(payload map[string]interface{}, field string) bool {
	_, ok := Lookup(payload, field)
	return ok
}

func isBlank(v interface{}) bool {
	switch val := v.(type) {
	case string:
		return strings.TrimSpace(val) == ""
	case []string:
		return len(val) == 0 || (len(val) == 1 && strings.TrimSpace(val[0]) == "")
	case []interface{}:
		return len(val) == 0
	}
	return false
}
