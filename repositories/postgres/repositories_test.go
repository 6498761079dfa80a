package postgres

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/sitecrew/construction-api/models"
	"github.com/sitecrew/construction-api/repositories"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestUserRepository(t *testing.T) {
	created := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	userCols := []string{"id", "name", "email", "password_hash", "role", "created_at"}

	t.Run("create normalises email and assigns an id", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewUserRepository(db, zap.NewNop())

		mock.ExpectExec(regexp.QuoteMeta("INSERT INTO users (id, name, email, password_hash, role, created_at, updated_at)")).
			WithArgs(sqlmock.AnyArg(), "Ana", "ana@example.com", "hash", "Laborer", created).
			WillReturnResult(sqlmock.NewResult(0, 1))

		user := &models.User{Name: "Ana", Email: "  Ana@Example.COM ", PasswordHash: "hash", Role: models.RoleLaborer, CreatedAt: created}
		require.NoError(t, repo.Create(context.Background(), user))

		_, err := uuid.Parse(user.ID)
		assert.NoError(t, err)
		assert.Equal(t, "ana@example.com", user.Email)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("get by email", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewUserRepository(db, zap.NewNop())

		mock.ExpectQuery("FROM users").
			WithArgs("ana@example.com").
			WillReturnRows(sqlmock.NewRows(userCols).AddRow(testRecordID, "Ana", "ana@example.com", "hash", "Admin", created))

		user, err := repo.GetByEmail(context.Background(), "ANA@example.com")
		require.NoError(t, err)
		assert.Equal(t, testRecordID, user.ID)
		assert.Equal(t, "hash", user.PasswordHash)
		assert.True(t, user.IsAdmin())
	})

	t.Run("unknown email", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewUserRepository(db, zap.NewNop())

		mock.ExpectQuery("FROM users").WillReturnError(sql.ErrNoRows)

		_, err := repo.GetByEmail(context.Background(), "nobody@example.com")
		assert.ErrorIs(t, err, repositories.ErrNotFound)
	})

	t.Run("malformed id never queries", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewUserRepository(db, zap.NewNop())

		_, err := repo.GetByID(context.Background(), "7")
		assert.ErrorIs(t, err, repositories.ErrNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestAuditRepository(t *testing.T) {
	auditCols := []string{"id", "actor_id", "actor_role", "action", "route", "entity_kind", "resource_id",
		"details", "ip_address", "user_agent", "request_id", "timestamp"}

	t.Run("insert", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewAuditRepository(db, zap.NewNop())

		entry := models.NewAuditLog(models.AuditActionDeleted, models.KindTask, "tasks.delete").
			WithActor(testRecordID, "Admin").
			WithResource(testProjectID).
			WithDetails(map[string]string{"name": "Pour slab"})

		mock.ExpectExec("INSERT INTO audit_logs").
			WithArgs(entry.ID, entry.ActorID, "Admin", "deleted", "tasks.delete", "task", entry.ResourceID,
				`{"name":"Pour slab"}`, "", "", "", entry.Timestamp).
			WillReturnResult(sqlmock.NewResult(0, 1))

		require.NoError(t, repo.Insert(context.Background(), entry))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("list filters by kind", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewAuditRepository(db, zap.NewNop())

		id := uuid.New()
		at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
		mock.ExpectQuery(regexp.QuoteMeta("WHERE entity_kind = $1")).
			WithArgs("material", 100, 0).
			WillReturnRows(sqlmock.NewRows(auditCols).
				AddRow(id.String(), nil, "ProjectManager", "created", "materials.create", "material", nil,
					[]byte(`{"name":"Rebar"}`), nil, nil, "req-1", at))

		logs, err := repo.List(context.Background(), repositories.AuditFilter{EntityKind: models.KindMaterial})
		require.NoError(t, err)
		require.Len(t, logs, 1)
		assert.Equal(t, id, logs[0].ID)
		assert.Nil(t, logs[0].ActorID)
		assert.Equal(t, models.AuditActionCreated, logs[0].Action)
		assert.JSONEq(t, `{"name":"Rebar"}`, string(logs[0].Details))
		assert.Equal(t, "req-1", logs[0].RequestID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("malformed resource id matches nothing", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewAuditRepository(db, zap.NewNop())

		logs, err := repo.List(context.Background(), repositories.AuditFilter{ResourceID: "abc"})
		require.NoError(t, err)
		assert.Empty(t, logs)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
