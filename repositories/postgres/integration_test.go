//go:build integration

package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"log"
	"testing"
	"time"

	"github.com/sitecrew/construction-api/models"
	"github.com/sitecrew/construction-api/repositories"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap/zaptest"
)

// Run with: go test -tags=integration -timeout 180s ./repositories/postgres/...
func startPostgres(t *testing.T) *DB {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	ctx := context.Background()
	container, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("construction"),
		postgres.WithUsername("construction"),
		postgres.WithPassword("construction"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err, "failed to start postgres container")
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			log.Printf("failed to terminate postgres container: %v", err)
		}
	})

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	sqlDB, err := sql.Open("postgres", connStr)
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	db := Wrap(sqlDB, zaptest.NewLogger(t))
	require.NoError(t, db.InitSchema(ctx))
	require.NoError(t, db.InitSchema(ctx), "schema must be re-runnable")
	return db
}

func TestRecordStore_RealPostgres(t *testing.T) {
	db := startPostgres(t)
	ctx := context.Background()
	store := NewRecordStore(db, zaptest.NewLogger(t))
	tm := NewTransactionManager(db, zaptest.NewLogger(t))

	project, err := store.Create(ctx, models.KindProject, map[string]interface{}{
		"name":            "Riverside Clinic",
		"startDate":       "2025-01-15",
		"estimatedBudget": json.Number("125000.50"),
	})
	require.NoError(t, err)
	projectID := project.ID()
	assert.Equal(t, "2025-01-15", project["startDate"])
	assert.Equal(t, 125000.5, project["estimatedBudget"])

	exists, err := store.Exists(ctx, models.KindProject, projectID)
	require.NoError(t, err)
	assert.True(t, exists)

	t.Run("partial update keeps other columns", func(t *testing.T) {
		updated, err := store.Update(ctx, models.KindProject, projectID, map[string]interface{}{"status": "In Progress"})
		require.NoError(t, err)
		assert.Equal(t, "In Progress", updated["status"])
		assert.Equal(t, "Riverside Clinic", updated["name"])
	})

	t.Run("photo arrays round trip", func(t *testing.T) {
		report, err := store.Create(ctx, models.KindDailyReport, map[string]interface{}{
			"date":      "2025-02-01",
			"photos":    []string{"https://cdn/a.png", "https://cdn/b.png"},
			"projectId": projectID,
		})
		require.NoError(t, err)
		assert.Equal(t, []string{"https://cdn/a.png", "https://cdn/b.png"}, report["photos"])
	})

	t.Run("usage hours adjust inside a transaction", func(t *testing.T) {
		equipment, err := store.Create(ctx, models.KindEquipment, map[string]interface{}{
			"name":       "Excavator",
			"usageHours": json.Number("3"),
		})
		require.NoError(t, err)

		err = tm.InTransaction(ctx, func(ctx context.Context, _ repositories.Transaction) error {
			return store.AdjustNumber(ctx, models.KindEquipment, equipment.ID(), "usageHours", -10, true)
		})
		require.NoError(t, err)

		found, err := store.Find(ctx, models.KindEquipment, equipment.ID())
		require.NoError(t, err)
		assert.Equal(t, int64(0), found["usageHours"])
	})

	t.Run("duplicate team member conflicts", func(t *testing.T) {
		users := NewUserRepository(db, zaptest.NewLogger(t))
		user := &models.User{Name: "Ana", Email: "Ana@Example.com", PasswordHash: "x", Role: models.RoleLaborer, CreatedAt: time.Now().UTC()}
		require.NoError(t, users.Create(ctx, user))

		fetched, err := users.GetByEmail(ctx, "ana@example.com")
		require.NoError(t, err)
		assert.Equal(t, user.ID, fetched.ID)

		fields := map[string]interface{}{"projectId": projectID, "userId": user.ID}
		_, err = store.Create(ctx, models.KindTeamMember, fields)
		require.NoError(t, err)
		_, err = store.Create(ctx, models.KindTeamMember, fields)
		assert.ErrorIs(t, err, repositories.ErrConflict)
	})

	t.Run("missing foreign key is not found", func(t *testing.T) {
		_, err := store.Create(ctx, models.KindTask, map[string]interface{}{
			"name":      "Orphan",
			"projectId": "00000000-0000-0000-0000-000000000001",
		})
		assert.ErrorIs(t, err, repositories.ErrNotFound)
	})

	t.Run("audit log insert and list", func(t *testing.T) {
		audits := NewAuditRepository(db, zaptest.NewLogger(t))
		entry := models.NewAuditLog(models.AuditActionCreated, models.KindProject, "projects.create").
			WithResource(projectID).
			WithDetails(map[string]string{"name": "Riverside Clinic"})
		require.NoError(t, audits.Insert(ctx, entry))

		logs, err := audits.List(ctx, repositories.AuditFilter{ResourceID: projectID})
		require.NoError(t, err)
		require.Len(t, logs, 1)
		assert.Equal(t, "projects.create", logs[0].Route)
		assert.Nil(t, logs[0].ActorID)
	})

	t.Run("delete returns the removed record", func(t *testing.T) {
		deleted, err := store.Delete(ctx, models.KindProject, projectID)
		require.NoError(t, err)
		assert.Equal(t, projectID, deleted.ID())

		_, err = store.Find(ctx, models.KindProject, projectID)
		assert.ErrorIs(t, err, repositories.ErrNotFound)
	})
}
