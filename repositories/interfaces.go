package repositories

import (
	"context"
	"errors"

	"github.com/sitecrew/construction-api/models"
)

var (
	// ErrNotFound is returned when the addressed record does not exist
	ErrNotFound = errors.New("record not found")

	// ErrConflict is returned when a write violates a unique constraint
	ErrConflict = errors.New("record conflicts with an existing record")
)

// TransactionManager manages database transactions
type TransactionManager interface {
	// Begin starts a new transaction
	Begin(ctx context.Context) (Transaction, error)

	// InTransaction executes a function within a transaction
	// Automatically commits if function succeeds, rolls back on error
	InTransaction(ctx context.Context, fn func(ctx context.Context, tx Transaction) error) error
}

// Transaction represents a database transaction
type Transaction interface {
	Commit() error
	Rollback() error
	Context() context.Context
}

// ListFilter narrows a List query. Equals keys are API field names.
type ListFilter struct {
	Equals map[string]interface{}
	Limit  int
	Offset int
}

// RecordStore is the schema-driven data access layer shared by every entity kind
type RecordStore interface {
	// Exists reports whether a record with id exists
	Exists(ctx context.Context, kind models.EntityKind, id string) (bool, error)

	// Create inserts a record built from fields and returns it as stored
	Create(ctx context.Context, kind models.EntityKind, fields map[string]interface{}) (models.Record, error)

	// Update writes only the given fields and returns the record as stored
	Update(ctx context.Context, kind models.EntityKind, id string, fields map[string]interface{}) (models.Record, error)

	// Delete removes a record and returns it as it was
	Delete(ctx context.Context, kind models.EntityKind, id string) (models.Record, error)

	// Find retrieves one record
	Find(ctx context.Context, kind models.EntityKind, id string) (models.Record, error)

	// List retrieves records newest first
	List(ctx context.Context, kind models.EntityKind, filter ListFilter) ([]models.Record, error)

	// AdjustNumber adds delta to a numeric field, optionally flooring the result at zero
	AdjustNumber(ctx context.Context, kind models.EntityKind, id, field string, delta int64, floorZero bool) error
}

// UserRepository handles the credential side of users
type UserRepository interface {
	// Create creates a new user
	Create(ctx context.Context, user *models.User) error

	// GetByID retrieves a user by ID
	GetByID(ctx context.Context, id string) (*models.User, error)

	// GetByEmail retrieves a user by email, including the password hash
	GetByEmail(ctx context.Context, email string) (*models.User, error)
}

// AuditRepository handles audit log data operations
type AuditRepository interface {
	// Insert inserts a new audit log entry
	Insert(ctx context.Context, log *models.AuditLog) error

	// List retrieves audit logs newest first, optionally narrowed
	List(ctx context.Context, filter AuditFilter) ([]*models.AuditLog, error)
}

// AuditFilter narrows an audit log listing
type AuditFilter struct {
	EntityKind models.EntityKind
	ActorID    string
	ResourceID string
	Limit      int
	Offset     int
}

// Repositories aggregates all repository interfaces
type Repositories struct {
	Records   RecordStore
	Users     UserRepository
	AuditLogs AuditRepository
}
