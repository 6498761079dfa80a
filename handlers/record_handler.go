package handlers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/sitecrew/construction-api/middleware"
	"github.com/sitecrew/construction-api/models"
	"github.com/sitecrew/construction-api/repositories"
	"github.com/sitecrew/construction-api/utils"
	"go.uber.org/zap"
)

// RecordReader is the read side of the records service
type RecordReader interface {
	Get(ctx context.Context, kind models.EntityKind, id string) (models.Record, error)
	List(ctx context.Context, kind models.EntityKind, filter repositories.ListFilter) ([]models.Record, error)
}

// RecordHandler serves collection reads for every entity kind
type RecordHandler struct {
	records RecordReader
	logger  *zap.Logger
}

// NewRecordHandler creates a new RecordHandler
func NewRecordHandler(records RecordReader, logger *zap.Logger) *RecordHandler {
	return &RecordHandler{
		records: records,
		logger:  logger,
	}
}

// List handles GET /api/<collection>.
// Query parameters other than limit and offset are equality filters on record fields.
func (h *RecordHandler) List(kind models.EntityKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.list(w, r, kind, queryFilters(r))
	}
}

// ListBy handles nested listings such as GET /api/team-members/project/{projectId},
// filtering field by the value of a path parameter
func (h *RecordHandler) ListBy(kind models.EntityKind, param, field string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		filters := queryFilters(r)
		filters[field] = chi.URLParam(r, param)
		h.list(w, r, kind, filters)
	}
}

// Get handles GET /api/<collection>/{id}
func (h *RecordHandler) Get(kind models.EntityKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		record, err := h.records.Get(r.Context(), kind, chi.URLParam(r, "id"))
		if err != nil {
			HandleServiceError(w, err, h.logger)
			return
		}
		if err := utils.WriteOK(w, record); err != nil {
			h.logger.Error("failed to write response", zap.Error(err))
		}
	}
}

func (h *RecordHandler) list(w http.ResponseWriter, r *http.Request, kind models.EntityKind, filters map[string]interface{}) {
	p, invalid := parsePage(r)
	if invalid != nil {
		_ = utils.WriteBadRequest(w, "invalid pagination", invalid)
		return
	}

	records, err := h.records.List(r.Context(), kind, repositories.ListFilter{
		Equals: filters,
		Limit:  p.Limit,
		Offset: p.Offset,
	})
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	h.logger.Debug("listed records",
		zap.String("request_id", middleware.GetRequestIDFromContext(r.Context())),
		zap.String("kind", string(kind)),
		zap.Int("count", len(records)))

	if err := utils.WriteList(w, records, p.Limit, p.Offset); err != nil {
		h.logger.Error("failed to write response", zap.Error(err))
	}
}

func queryFilters(r *http.Request) map[string]interface{} {
	filters := map[string]interface{}{}
	for key, values := range r.URL.Query() {
		if key == "limit" || key == "offset" || len(values) == 0 {
			continue
		}
		filters[key] = values[0]
	}
	return filters
}
