package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/sitecrew/construction-api/models"
	"github.com/sitecrew/construction-api/repositories"
	"go.uber.org/zap"
)

const auditColumns = `id, actor_id, actor_role, action, route, entity_kind, resource_id,
	       details, ip_address, user_agent, request_id, timestamp`

// AuditRepository implements the repositories.AuditRepository interface
type AuditRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewAuditRepository creates a new audit repository
func NewAuditRepository(db *DB, logger *zap.Logger) repositories.AuditRepository {
	return &AuditRepository{
		db:     db,
		logger: logger,
	}
}

// Insert inserts a new audit log entry
func (r *AuditRepository) Insert(ctx context.Context, log *models.AuditLog) error {
	query := `
		INSERT INTO audit_logs (
			id, actor_id, actor_role, action, route, entity_kind, resource_id,
			details, ip_address, user_agent, request_id, timestamp
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12
		)
	`

	var details interface{}
	if len(log.Details) > 0 {
		details = string(log.Details)
	}

	executor := GetExecutor(ctx, r.db)
	_, err := executor.ExecContext(ctx, query,
		log.ID,
		log.ActorID,
		log.ActorRole,
		string(log.Action),
		log.Route,
		string(log.EntityKind),
		log.ResourceID,
		details,
		log.IPAddress,
		log.UserAgent,
		log.RequestID,
		log.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to insert audit log: %w", err)
	}

	r.logger.Debug("audit log inserted", zap.String("id", log.ID.String()), zap.String("action", string(log.Action)))
	return nil
}

// List retrieves audit logs newest first
func (r *AuditRepository) List(ctx context.Context, filter repositories.AuditFilter) ([]*models.AuditLog, error) {
	var (
		conds []string
		args  []interface{}
	)
	if filter.EntityKind != "" {
		args = append(args, string(filter.EntityKind))
		conds = append(conds, fmt.Sprintf("entity_kind = $%d", len(args)))
	}
	if filter.ActorID != "" {
		id, err := uuid.Parse(filter.ActorID)
		if err != nil {
			return []*models.AuditLog{}, nil
		}
		args = append(args, id)
		conds = append(conds, fmt.Sprintf("actor_id = $%d", len(args)))
	}
	if filter.ResourceID != "" {
		id, err := uuid.Parse(filter.ResourceID)
		if err != nil {
			return []*models.AuditLog{}, nil
		}
		args = append(args, id)
		conds = append(conds, fmt.Sprintf("resource_id = $%d", len(args)))
	}

	limit := filter.Limit
	if limit <= 0 || limit > maxListLimit {
		limit = defaultListLimit
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}

	var where string
	if len(conds) > 0 {
		where = "WHERE " + strings.Join(conds, " AND ")
	}
	args = append(args, limit, offset)
	query := fmt.Sprintf(`
		SELECT %s
		FROM audit_logs
		%s
		ORDER BY timestamp DESC
		LIMIT $%d OFFSET $%d
	`, auditColumns, where, len(args)-1, len(args))

	return r.queryAuditLogs(ctx, query, args...)
}

// queryAuditLogs is a helper method to query multiple audit logs
func (r *AuditRepository) queryAuditLogs(ctx context.Context, query string, args ...interface{}) ([]*models.AuditLog, error) {
	executor := GetExecutor(ctx, r.db)
	rows, err := executor.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit logs: %w", err)
	}
	defer rows.Close()

	logs := []*models.AuditLog{}
	for rows.Next() {
		var (
			log                                        models.AuditLog
			action, kind                               string
			actorRole, route, ip, userAgent, requestID sql.NullString
			details                                    []byte
		)
		err := rows.Scan(
			&log.ID,
			&log.ActorID,
			&actorRole,
			&action,
			&route,
			&kind,
			&log.ResourceID,
			&details,
			&ip,
			&userAgent,
			&requestID,
			&log.Timestamp,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit log: %w", err)
		}
		log.Action = models.AuditAction(action)
		log.EntityKind = models.EntityKind(kind)
		log.ActorRole = actorRole.String
		log.Route = route.String
		log.IPAddress = ip.String
		log.UserAgent = userAgent.String
		log.RequestID = requestID.String
		log.Details = details
		logs = append(logs, &log)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit log rows: %w", err)
	}

	return logs, nil
}
