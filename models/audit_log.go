package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// AuditAction represents the type of mutation being audited
type AuditAction string

const (
	AuditActionCreated AuditAction = "created"
	AuditActionUpdated AuditAction = "updated"
	AuditActionDeleted AuditAction = "deleted"
	AuditActionLogin   AuditAction = "login"
)

// AuditLog represents an audit trail entry
type AuditLog struct {
	ID         uuid.UUID       `json:"id" db:"id"`
	ActorID    *uuid.UUID      `json:"actorId,omitempty" db:"actor_id"`
	ActorRole  string          `json:"actorRole" db:"actor_role"`
	Action     AuditAction     `json:"action" db:"action"`
	Route      string          `json:"route" db:"route"`
	EntityKind EntityKind      `json:"entityKind" db:"entity_kind"`
	ResourceID *uuid.UUID      `json:"resourceId,omitempty" db:"resource_id"`
	Details    json.RawMessage `json:"details,omitempty" db:"details"`
	IPAddress  string          `json:"ipAddress" db:"ip_address"`
	UserAgent  string          `json:"userAgent" db:"user_agent"`
	RequestID  string          `json:"requestId" db:"request_id"`
	Timestamp  time.Time       `json:"timestamp" db:"timestamp"`
}

// TableName returns the table name for the AuditLog model
func (AuditLog) TableName() string {
	return "audit_logs"
}

// NewAuditLog creates a new AuditLog instance
func NewAuditLog(action AuditAction, kind EntityKind, route string) *AuditLog {
	return &AuditLog{
		ID:         uuid.New(),
		Action:     action,
		EntityKind: kind,
		Route:      route,
		Timestamp:  time.Now().UTC(),
	}
}

// WithActor sets the acting user. Unparseable ids are recorded as role-only.
func (a *AuditLog) WithActor(id, role string) *AuditLog {
	if parsed, err := uuid.Parse(id); err == nil {
		a.ActorID = &parsed
	}
	a.ActorRole = role
	return a
}

// WithResource sets the affected record id
func (a *AuditLog) WithResource(id string) *AuditLog {
	if parsed, err := uuid.Parse(id); err == nil {
		a.ResourceID = &parsed
	}
	return a
}

// WithDetails sets the details
func (a *AuditLog) WithDetails(details interface{}) *AuditLog {
	if data, err := json.Marshal(details); err == nil {
		a.Details = data
	}
	return a
}

// WithRequest sets request metadata
func (a *AuditLog) WithRequest(requestID, ipAddress, userAgent string) *AuditLog {
	a.RequestID = requestID
	a.IPAddress = ipAddress
	a.UserAgent = userAgent
	return a
}
