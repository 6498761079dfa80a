package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/sitecrew/construction-api/models"
	"github.com/sitecrew/construction-api/utils"
	"github.com/sitecrew/construction-api/validation"
)

// Source says where a reference value is read from
type Source int

const (
	FromBody Source = iota
	FromPath
)

// ReferenceCheck asserts that the value of Field names an existing record of Kind
type ReferenceCheck struct {
	Field    string
	Kind     models.EntityKind
	Optional bool
	Source   Source
}

// Ref is a required body reference
func Ref(field string, kind models.EntityKind) ReferenceCheck {
	return ReferenceCheck{Field: field, Kind: kind}
}

// OptionalRef is a body reference checked only when the field is present
func OptionalRef(field string, kind models.EntityKind) ReferenceCheck {
	return ReferenceCheck{Field: field, Kind: kind, Optional: true}
}

// PathRef is a required reference read from a URL path parameter
func PathRef(param string, kind models.EntityKind) ReferenceCheck {
	return ReferenceCheck{Field: param, Kind: kind, Source: FromPath}
}

// ExistenceChecker looks up whether a record exists
type ExistenceChecker interface {
	Exists(ctx context.Context, kind models.EntityKind, id string) (bool, error)
}

// ResolveReferences runs checks in order and stops at the first one that fails.
// Optional checks whose value is absent or null are skipped.
func ResolveReferences(ctx context.Context, checker ExistenceChecker, checks []ReferenceCheck, body map[string]interface{}, params map[string]string) error {
	for _, check := range checks {
		value, present := check.value(body, params)
		if !present {
			if check.Optional {
				continue
			}
			return NewNotFound(check.Field, notFoundMessage(check))
		}

		id, err := utils.ToString(value)
		if err != nil || strings.TrimSpace(id) == "" {
			return NewNotFound(check.Field, notFoundMessage(check))
		}

		exists, err := checker.Exists(ctx, check.Kind, id)
		if err != nil {
			return NewInternalError(fmt.Errorf("failed to resolve %s: %w", check.Field, err))
		}
		if !exists {
			return NewNotFound(check.Field, notFoundMessage(check))
		}
	}
	return nil
}

func (c ReferenceCheck) value(body map[string]interface{}, params map[string]string) (interface{}, bool) {
	if c.Source == FromPath {
		v, ok := params[c.Field]
		if !ok || v == "" {
			return nil, false
		}
		return v, true
	}
	return validation.Lookup(body, c.Field)
}

func notFoundMessage(c ReferenceCheck) string {
	return fmt.Sprintf("%s not found (%s)", c.Kind.Label(), c.Field)
}
