package handlers

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/sitecrew/construction-api/models"
	"github.com/sitecrew/construction-api/repositories"
	"github.com/sitecrew/construction-api/services"
	"github.com/sitecrew/construction-api/utils"
	"go.uber.org/zap"
)

// AuditLister reads the audit trail
type AuditLister interface {
	List(ctx context.Context, filter repositories.AuditFilter) ([]*models.AuditLog, error)
}

// AuditHandler serves GET /api/audit-logs
type AuditHandler struct {
	audit  AuditLister
	logger *zap.Logger
}

// NewAuditHandler creates a new AuditHandler
func NewAuditHandler(audit AuditLister, logger *zap.Logger) *AuditHandler {
	return &AuditHandler{
		audit:  audit,
		logger: logger,
	}
}

// HandleList lists recent audit entries, optionally narrowed by
// ?entityKind=, ?actorId= and ?resourceId=
func (h *AuditHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	p, invalid := parsePage(r)
	if invalid == nil {
		invalid = map[string]interface{}{}
	}

	q := r.URL.Query()
	filter := repositories.AuditFilter{
		ActorID:    q.Get("actorId"),
		ResourceID: q.Get("resourceId"),
		Limit:      p.Limit,
		Offset:     p.Offset,
	}
	if kind := q.Get("entityKind"); kind != "" {
		if _, err := models.SchemaFor(models.EntityKind(kind)); err != nil {
			invalid["entityKind"] = "unknown entity kind"
		}
		filter.EntityKind = models.EntityKind(kind)
	}
	for field, value := range map[string]string{"actorId": filter.ActorID, "resourceId": filter.ResourceID} {
		if value == "" {
			continue
		}
		if _, err := uuid.Parse(value); err != nil {
			invalid[field] = field + " must be a valid UUID"
		}
	}
	if len(invalid) > 0 {
		_ = utils.WriteBadRequest(w, "invalid audit log filter", invalid)
		return
	}

	logs, err := h.audit.List(r.Context(), filter)
	if err != nil {
		HandleServiceError(w, services.WrapInternal("failed to list audit logs", err), h.logger)
		return
	}

	if err := utils.WriteList(w, logs, p.Limit, p.Offset); err != nil {
		h.logger.Error("failed to write response", zap.Error(err))
	}
}
