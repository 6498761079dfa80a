package models

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/sitecrew/construction-api/utils"
)

// EntityKind identifies a persisted entity type
type EntityKind string

const (
	KindProject           EntityKind = "project"
	KindTask              EntityKind = "task"
	KindMaterial          EntityKind = "material"
	KindEquipment         EntityKind = "equipment"
	KindEquipmentUsageLog EntityKind = "equipment_usage_log"
	KindInspection        EntityKind = "inspection"
	KindExpense           EntityKind = "expense"
	KindDailyReport       EntityKind = "daily_report"
	KindUser              EntityKind = "user"
	KindTrade             EntityKind = "trade"
	KindTeamMember        EntityKind = "team_member"
	KindDocument          EntityKind = "document"
)

// Label returns a human readable name, e.g. "equipment usage log"
func (k EntityKind) Label() string {
	return strings.ReplaceAll(string(k), "_", " ")
}

// ColumnType describes how a column is bound and scanned
type ColumnType int

const (
	ColText ColumnType = iota
	ColUUID
	ColInt
	ColNumeric
	ColBool
	ColDate
	ColTimestamp
	ColTextArray
)

// Column maps an API field to a table column
type Column struct {
	Name     string     // column name
	Field    string     // JSON field name
	Type     ColumnType
	ReadOnly bool // never written from a payload
	Hidden   bool // never returned in a record nor written from a payload
}

// Schema describes the table backing an entity kind
type Schema struct {
	Kind    EntityKind
	Table   string
	Columns []Column
}

// Record is a persisted entity keyed by API field name
type Record map[string]interface{}

// ID returns the record's id field
func (r Record) ID() string {
	if id, ok := r["id"].(string); ok {
		return id
	}
	return ""
}

// Column returns the column mapped to an API field
func (s *Schema) Column(field string) (Column, bool) {
	for _, c := range s.Columns {
		if c.Field == field {
			return c, true
		}
	}
	return Column{}, false
}

// Visible returns the columns included in records
func (s *Schema) Visible() []Column {
	cols := make([]Column, 0, len(s.Columns))
	for _, c := range s.Columns {
		if !c.Hidden {
			cols = append(cols, c)
		}
	}
	return cols
}

// Coerce converts a payload value to the Go type bound for the column.
// A nil value stays nil so nullable columns can be cleared.
func (c Column) Coerce(v interface{}) (interface{}, error) {
	if v == nil {
		return nil, nil
	}
	switch c.Type {
	case ColText:
		return utils.ToString(v)
	case ColUUID:
		s, err := utils.ToString(v)
		if err != nil {
			return nil, err
		}
		id, err := uuid.Parse(s)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", c.Field, err)
		}
		return id.String(), nil
	case ColInt:
		return utils.ToInt64(v)
	case ColNumeric:
		return utils.ToFloat64(v)
	case ColBool:
		return utils.ToBool(v)
	case ColDate, ColTimestamp:
		return utils.ToTime(v)
	case ColTextArray:
		switch val := v.(type) {
		case []string:
			return val, nil
		case []interface{}:
			out := make([]string, 0, len(val))
			for _, item := range val {
				s, err := utils.ToString(item)
				if err != nil {
					return nil, fmt.Errorf("%s: %w", c.Field, err)
				}
				out = append(out, s)
			}
			return out, nil
		}
		return nil, fmt.Errorf("%s: expected list of strings, got %T", c.Field, v)
	}
	return nil, fmt.Errorf("%s: unsupported column type %d", c.Field, c.Type)
}

func idColumn() Column {
	return Column{Name: "id", Field: "id", Type: ColUUID, ReadOnly: true}
}

func timestampColumns() []Column {
	return []Column{
		{Name: "created_at", Field: "createdAt", Type: ColTimestamp, ReadOnly: true},
		{Name: "updated_at", Field: "updatedAt", Type: ColTimestamp, ReadOnly: true},
	}
}

func newSchema(kind EntityKind, table string, cols ...Column) *Schema {
	all := append([]Column{idColumn()}, cols...)
	all = append(all, timestampColumns()...)
	return &Schema{Kind: kind, Table: table, Columns: all}
}

var schemas = map[EntityKind]*Schema{
	KindProject: newSchema(KindProject, "projects",
		Column{Name: "name", Field: "name", Type: ColText},
		Column{Name: "description", Field: "description", Type: ColText},
		Column{Name: "scope", Field: "scope", Type: ColText},
		Column{Name: "site_location", Field: "siteLocation", Type: ColText},
		Column{Name: "site_condition", Field: "siteCondition", Type: ColText},
		Column{Name: "start_date", Field: "startDate", Type: ColDate},
		Column{Name: "end_date", Field: "endDate", Type: ColDate},
		Column{Name: "status", Field: "status", Type: ColText},
		Column{Name: "estimated_budget", Field: "estimatedBudget", Type: ColNumeric},
	),
	KindTask: newSchema(KindTask, "tasks",
		Column{Name: "name", Field: "name", Type: ColText},
		Column{Name: "description", Field: "description", Type: ColText},
		Column{Name: "due_date", Field: "dueDate", Type: ColDate},
		Column{Name: "status", Field: "status", Type: ColText},
		Column{Name: "project_id", Field: "projectId", Type: ColUUID},
		Column{Name: "assigned_to", Field: "assignedTo", Type: ColUUID},
	),
	KindMaterial: newSchema(KindMaterial, "materials",
		Column{Name: "name", Field: "name", Type: ColText},
		Column{Name: "quantity", Field: "quantity", Type: ColInt},
		Column{Name: "unit", Field: "unit", Type: ColText},
		Column{Name: "cost_per_unit", Field: "costPerUnit", Type: ColNumeric},
		Column{Name: "project_id", Field: "projectId", Type: ColUUID},
		Column{Name: "specification_url", Field: "specificationUrl", Type: ColText},
	),
	KindEquipment: newSchema(KindEquipment, "equipment",
		Column{Name: "name", Field: "name", Type: ColText},
		Column{Name: "status", Field: "status", Type: ColText},
		Column{Name: "usage_hours", Field: "usageHours", Type: ColInt},
		Column{Name: "last_maintenance_date", Field: "lastMaintenanceDate", Type: ColDate},
		Column{Name: "project_id", Field: "projectId", Type: ColUUID},
		Column{Name: "manual_url", Field: "manualUrl", Type: ColText},
	),
	KindEquipmentUsageLog: newSchema(KindEquipmentUsageLog, "equipment_usage_logs",
		Column{Name: "equipment_id", Field: "equipmentId", Type: ColUUID},
		Column{Name: "usage_date", Field: "usageDate", Type: ColDate},
		Column{Name: "hours_used", Field: "hoursUsed", Type: ColInt},
	),
	KindInspection: newSchema(KindInspection, "inspections",
		Column{Name: "date", Field: "date", Type: ColDate},
		Column{Name: "inspector_name", Field: "inspectorName", Type: ColText},
		Column{Name: "foundation_check", Field: "foundationCheck", Type: ColBool},
		Column{Name: "framing_check", Field: "framingCheck", Type: ColBool},
		Column{Name: "roofing_check", Field: "roofingCheck", Type: ColBool},
		Column{Name: "mep_check", Field: "mepCheck", Type: ColBool},
		Column{Name: "housekeeping_check", Field: "housekeepingCheck", Type: ColBool},
		Column{Name: "safety_concerns", Field: "safetyConcerns", Type: ColText},
		Column{Name: "notes", Field: "notes", Type: ColText},
		Column{Name: "project_id", Field: "projectId", Type: ColUUID},
		Column{Name: "inspector_id", Field: "inspectorId", Type: ColUUID},
	),
	KindExpense: newSchema(KindExpense, "expenses",
		Column{Name: "name", Field: "name", Type: ColText},
		Column{Name: "amount", Field: "amount", Type: ColNumeric},
		Column{Name: "date", Field: "date", Type: ColDate},
		Column{Name: "category", Field: "category", Type: ColText},
		Column{Name: "project_id", Field: "projectId", Type: ColUUID},
		Column{Name: "created_by", Field: "createdBy", Type: ColUUID},
	),
	KindDailyReport: newSchema(KindDailyReport, "daily_reports",
		Column{Name: "date", Field: "date", Type: ColDate},
		Column{Name: "notes", Field: "notes", Type: ColText},
		Column{Name: "weather_conditions", Field: "weatherConditions", Type: ColText},
		Column{Name: "photos", Field: "photos", Type: ColTextArray},
		Column{Name: "project_id", Field: "projectId", Type: ColUUID},
		Column{Name: "submitted_by", Field: "submittedBy", Type: ColUUID},
	),
	KindUser: newSchema(KindUser, "users",
		Column{Name: "name", Field: "name", Type: ColText},
		Column{Name: "email", Field: "email", Type: ColText},
		Column{Name: "password_hash", Field: "passwordHash", Type: ColText, Hidden: true},
		Column{Name: "role", Field: "role", Type: ColText},
		Column{Name: "trade_id", Field: "tradeId", Type: ColUUID},
		Column{Name: "skill_level", Field: "skillLevel", Type: ColText},
		Column{Name: "phone_number", Field: "phoneNumber", Type: ColText},
	),
	KindTrade: newSchema(KindTrade, "trades",
		Column{Name: "name", Field: "name", Type: ColText},
		Column{Name: "industry", Field: "industry", Type: ColText},
	),
	KindTeamMember: newSchema(KindTeamMember, "team_members",
		Column{Name: "project_id", Field: "projectId", Type: ColUUID},
		Column{Name: "user_id", Field: "userId", Type: ColUUID},
		Column{Name: "role_in_project", Field: "roleInProject", Type: ColText},
	),
	KindDocument: newSchema(KindDocument, "documents",
		Column{Name: "document_name", Field: "documentName", Type: ColText},
		Column{Name: "file_url", Field: "fileUrl", Type: ColText},
		Column{Name: "project_id", Field: "projectId", Type: ColUUID},
		Column{Name: "uploaded_by", Field: "uploadedBy", Type: ColUUID},
	),
}

// SchemaFor returns the schema registered for kind
func SchemaFor(kind EntityKind) (*Schema, error) {
	s, ok := schemas[kind]
	if !ok {
		return nil, fmt.Errorf("unknown entity kind %q", kind)
	}
	return s, nil
}

// Kinds returns every registered entity kind
func Kinds() []EntityKind {
	return []EntityKind{
		KindProject, KindTask, KindMaterial, KindEquipment, KindEquipmentUsageLog,
		KindInspection, KindExpense, KindDailyReport, KindUser, KindTrade,
		KindTeamMember, KindDocument,
	}
}
