// Package records persists validated pipeline requests through the record store
// and serves the read side of every collection.
package records

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/sitecrew/construction-api/models"
	"github.com/sitecrew/construction-api/pipeline"
	"github.com/sitecrew/construction-api/repositories"
	"github.com/sitecrew/construction-api/services"
	"github.com/sitecrew/construction-api/utils"
	"github.com/sitecrew/construction-api/validation"
	"go.uber.org/zap"
)

// Auditor queues audit logs without blocking the request
type Auditor interface {
	Record(log *models.AuditLog) error
}

// Service builds the persist functions used by pipeline routes
type Service struct {
	store  repositories.RecordStore
	txMgr  repositories.TransactionManager
	audit  Auditor
	logger *zap.Logger
}

// NewService creates a records service. audit may be nil.
func NewService(store repositories.RecordStore, txMgr repositories.TransactionManager, audit Auditor, logger *zap.Logger) *Service {
	return &Service{
		store:  store,
		txMgr:  txMgr,
		audit:  audit,
		logger: logger,
	}
}

// Create returns a persist function inserting a record of kind
func (s *Service) Create(kind models.EntityKind, opts ...Option) pipeline.Persister {
	plan := newPlan(opts)
	return func(ctx context.Context, in pipeline.Input) (interface{}, error) {
		fields := plan.fields(in, true)
		record, err := s.store.Create(ctx, kind, fields)
		if err != nil {
			return nil, s.failure(kind, plan, "", err)
		}
		s.record(in, models.AuditActionCreated, kind, record.ID(), fields)
		return record, nil
	}
}

// Update returns a persist function writing only the fields present in the payload
// to the record named by the "id" path parameter
func (s *Service) Update(kind models.EntityKind, opts ...Option) pipeline.Persister {
	plan := newPlan(opts)
	return func(ctx context.Context, in pipeline.Input) (interface{}, error) {
		id := in.Param("id")
		fields := plan.fields(in, false)
		record, err := s.store.Update(ctx, kind, id, fields)
		if err != nil {
			return nil, s.failure(kind, plan, "id", err)
		}
		s.record(in, models.AuditActionUpdated, kind, id, fields)
		return record, nil
	}
}

// Delete returns a persist function removing the record named by the "id" path parameter
func (s *Service) Delete(kind models.EntityKind) pipeline.Persister {
	plan := newPlan(nil)
	return func(ctx context.Context, in pipeline.Input) (interface{}, error) {
		id := in.Param("id")
		record, err := s.store.Delete(ctx, kind, id)
		if err != nil {
			return nil, s.failure(kind, plan, "id", err)
		}
		s.record(in, models.AuditActionDeleted, kind, id, nil)
		return deleted(kind, record), nil
	}
}

// CreateUsageLog inserts a usage log and adds its hours to the equipment in one transaction
func (s *Service) CreateUsageLog() pipeline.Persister {
	plan := newPlan(nil)
	kind := models.KindEquipmentUsageLog
	return func(ctx context.Context, in pipeline.Input) (interface{}, error) {
		fields := plan.fields(in, true)
		hours, err := hoursOf(fields)
		if err != nil {
			return nil, pipeline.NewValidationFailure([]validation.Violation{{Field: "hoursUsed", Message: "hoursUsed must be an integer"}})
		}
		equipmentID, _ := utils.ToString(fields["equipmentId"])

		record, err := services.WithTransactionResult(ctx, s.txMgr, func(ctx context.Context) (models.Record, error) {
			record, err := s.store.Create(ctx, kind, fields)
			if err != nil {
				return nil, err
			}
			if hours != 0 {
				if err := s.store.AdjustNumber(ctx, models.KindEquipment, equipmentID, "usageHours", hours, false); err != nil {
					return nil, fmt.Errorf("failed to add usage hours: %w", err)
				}
			}
			return record, nil
		})
		if err != nil {
			return nil, s.failure(kind, plan, "", err)
		}

		s.record(in, models.AuditActionCreated, kind, record.ID(), fields)
		return record, nil
	}
}

// DeleteUsageLog removes a usage log and takes its hours back off the equipment, never below zero
func (s *Service) DeleteUsageLog() pipeline.Persister {
	plan := newPlan(nil)
	kind := models.KindEquipmentUsageLog
	return func(ctx context.Context, in pipeline.Input) (interface{}, error) {
		id := in.Param("id")

		record, err := services.WithTransactionResult(ctx, s.txMgr, func(ctx context.Context) (models.Record, error) {
			record, err := s.store.Delete(ctx, kind, id)
			if err != nil {
				return nil, err
			}
			hours, _ := utils.ToInt64(record["hoursUsed"])
			equipmentID, _ := record["equipmentId"].(string)
			if hours == 0 || equipmentID == "" {
				return record, nil
			}
			err = s.store.AdjustNumber(ctx, models.KindEquipment, equipmentID, "usageHours", -hours, true)
			if errors.Is(err, repositories.ErrNotFound) {
				s.logger.Warn("usage log referenced missing equipment", zap.String("equipment_id", equipmentID))
				return record, nil
			}
			if err != nil {
				return nil, fmt.Errorf("failed to subtract usage hours: %w", err)
			}
			return record, nil
		})
		if err != nil {
			return nil, s.failure(kind, plan, "id", err)
		}

		s.record(in, models.AuditActionDeleted, kind, id, nil)
		return deleted(kind, record), nil
	}
}

// Get returns one record
func (s *Service) Get(ctx context.Context, kind models.EntityKind, id string) (models.Record, error) {
	record, err := s.store.Find(ctx, kind, id)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, services.NewDomainError(services.ErrorTypeNotFound, kind.Label()+" not found", err)
		}
		return nil, services.WrapInternal("failed to load "+kind.Label(), err)
	}
	return record, nil
}

// List returns records of kind, newest first. Filter keys must be fields of kind.
func (s *Service) List(ctx context.Context, kind models.EntityKind, filter repositories.ListFilter) ([]models.Record, error) {
	schema, err := models.SchemaFor(kind)
	if err != nil {
		return nil, services.WrapInternal("unknown collection", err)
	}
	for field, value := range filter.Equals {
		col, ok := schema.Column(field)
		if !ok || col.Hidden {
			return nil, services.ErrInvalidFilter.WithDetail("field", field)
		}
		if _, err := col.Coerce(value); err != nil {
			return nil, services.ErrInvalidFilter.WithDetail("field", field)
		}
	}

	records, err := s.store.List(ctx, kind, filter)
	if err != nil {
		return nil, services.WrapInternal("failed to list "+kind.Label(), err)
	}
	if records == nil {
		records = []models.Record{}
	}
	return records, nil
}

// failure maps a store error to a pipeline failure. idField names the field reported for a missing target.
func (s *Service) failure(kind models.EntityKind, plan *writePlan, idField string, err error) error {
	var f *pipeline.Failure
	switch {
	case errors.As(err, &f):
		return f
	case errors.Is(err, repositories.ErrNotFound):
		if idField == "" {
			return pipeline.NewNotFound("", "referenced record not found")
		}
		return pipeline.NewNotFound(idField, kind.Label()+" not found")
	case errors.Is(err, repositories.ErrConflict):
		return pipeline.NewValidationFailure([]validation.Violation{{
			Field:   plan.conflictField,
			Message: kind.Label() + " already exists",
		}})
	}
	return pipeline.NewInternalError(err)
}

func (s *Service) record(in pipeline.Input, action models.AuditAction, kind models.EntityKind, id string, fields map[string]interface{}) {
	if s.audit == nil {
		return
	}
	log := models.NewAuditLog(action, kind, in.Route).
		WithActor(in.Identity.ID, in.Identity.Role).
		WithResource(id).
		WithRequest(in.RequestID, in.ClientIP, in.UserAgent)
	if len(fields) > 0 {
		log.WithDetails(map[string]interface{}{"fields": sortedKeys(fields)})
	}
	if err := s.audit.Record(log); err != nil {
		s.logger.Warn("failed to queue audit log", zap.Error(err), zap.String("route", in.Route))
	}
}

func hoursOf(fields map[string]interface{}) (int64, error) {
	v, ok := fields["hoursUsed"]
	if !ok || v == nil {
		return 0, nil
	}
	return utils.ToInt64(v)
}

func deleted(kind models.EntityKind, record models.Record) map[string]interface{} {
	return map[string]interface{}{
		"message": fmt.Sprintf("%s deleted", kind.Label()),
		"record":  record,
	}
}

func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
