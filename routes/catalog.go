package routes

import (
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/sitecrew/construction-api/models"
	"github.com/sitecrew/construction-api/pipeline"
	"github.com/sitecrew/construction-api/services/records"
	v "github.com/sitecrew/construction-api/validation"
)

const mib = 1 << 20

// Column limits from the schema
const (
	maxNameLength = 255
	maxInt        = 1<<31 - 1
	maxAmount     = 9999999999.99   // NUMERIC(12,2)
	maxBudget     = 999999999999.99 // NUMERIC(14,2)
)

const (
	mimeJPEG = "image/jpeg"
	mimePNG  = "image/png"
	mimePDF  = "application/pdf"
	mimeDOCX = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
)

var (
	projectStatuses = []string{"Not Started", "In Progress", "Completed", "On Hold"}
	taskStatuses    = []string{"pending", "in_progress", "completed"}
	materialUnits   = []string{"pcs", "kg", "liters", "meters", "units", "other"}
	equipmentStates = []string{"available", "in_use", "maintenance"}
)

// Definition binds a pipeline route to its verb and path under /api
type Definition struct {
	Method string
	Path   string
	Route  pipeline.Route
}

func roles(rs ...models.UserRole) pipeline.RoleAllowList {
	names := make([]string, len(rs))
	for i, r := range rs {
		names[i] = string(r)
	}
	return pipeline.Roles(names...)
}

var (
	adminOnly = roles(models.RoleAdmin)
	managers  = roles(models.RoleAdmin, models.RoleProjectManager)
)

// required returns a Required rule for each field when creating
func required(creating bool, fields ...string) []v.FieldRule {
	if !creating {
		return nil
	}
	out := make([]v.FieldRule, len(fields))
	for i, f := range fields {
		out[i] = v.Required(f, "")
	}
	return out
}

func rules(sets ...[]v.FieldRule) []v.FieldRule {
	var out []v.FieldRule
	for _, s := range sets {
		out = append(out, s...)
	}
	return out
}

func projectRules(creating bool) []v.FieldRule {
	return rules(
		required(creating, "name", "description", "scope", "siteLocation", "siteCondition"),
		[]v.FieldRule{
			v.Length("name", 1, maxNameLength, ""),
			v.String("description", ""),
			v.String("scope", ""),
			v.String("siteLocation", ""),
			v.String("siteCondition", ""),
			v.Date("startDate", ""),
			v.Date("endDate", ""),
			v.OneOf("status", projectStatuses, ""),
			v.Float("estimatedBudget", v.Between(0, maxBudget), "estimatedBudget must be a non-negative number below one trillion"),
		},
	)
}

func taskRules(creating bool) []v.FieldRule {
	return rules(
		required(creating, "name", "projectId"),
		[]v.FieldRule{
			v.Length("name", 1, maxNameLength, ""),
			v.String("description", ""),
			v.Date("dueDate", ""),
			v.UUID("projectId", ""),
			v.UUID("assignedTo", ""),
			v.OneOf("status", taskStatuses, ""),
		},
	)
}

func materialRules(creating bool) []v.FieldRule {
	return rules(
		required(creating, "name", "projectId"),
		[]v.FieldRule{
			v.Length("name", 2, maxNameLength, ""),
			v.Int("quantity", v.Between(0, maxInt), "quantity must be a non-negative 32-bit integer"),
			v.OneOf("unit", materialUnits, ""),
			v.Decimal("costPerUnit", 2, v.Between(0, maxAmount), "costPerUnit must be a non-negative amount below ten billion with at most 2 decimal places"),
			v.UUID("projectId", ""),
		},
	)
}

func equipmentRules(creating bool) []v.FieldRule {
	return rules(
		required(creating, "name"),
		[]v.FieldRule{
			v.Length("name", 1, maxNameLength, ""),
			v.OneOf("status", equipmentStates, ""),
			v.Int("usageHours", v.Between(0, maxInt), "usageHours must be a non-negative 32-bit integer"),
			v.Date("lastMaintenanceDate", ""),
			v.UUID("projectId", ""),
		},
	)
}

func inspectionRules(creating bool) []v.FieldRule {
	return rules(
		required(creating, "date", "inspectorName", "projectId"),
		[]v.FieldRule{
			v.Date("date", ""),
			v.Length("inspectorName", 2, maxNameLength, ""),
			v.Boolean("foundationCheck", ""),
			v.Boolean("framingCheck", ""),
			v.Boolean("roofingCheck", ""),
			v.Boolean("mepCheck", ""),
			v.Boolean("housekeepingCheck", ""),
			v.MaxLength("safetyConcerns", 2000, ""),
			v.MaxLength("notes", 2000, ""),
			v.UUID("projectId", ""),
			v.UUID("inspectorId", ""),
		},
	)
}

func expenseRules(creating bool) []v.FieldRule {
	return rules(
		required(creating, "name", "amount", "date", "projectId"),
		[]v.FieldRule{
			v.Length("name", 1, maxNameLength, ""),
			v.Decimal("amount", 2, v.Between(0, maxAmount), "amount must be a non-negative amount below ten billion with at most 2 decimal places"),
			v.Date("date", ""),
			v.MaxLength("category", 100, ""),
			v.UUID("projectId", ""),
		},
	)
}

func tradeRules(creating bool) []v.FieldRule {
	return rules(
		required(creating, "name", "industry"),
		[]v.FieldRule{
			v.Length("name", 1, maxNameLength, ""),
			v.Length("industry", 1, maxNameLength, ""),
		},
	)
}

var (
	materialSpecification = &pipeline.AttachmentSpec{
		FormField:           "specification",
		MaxSizeBytes:        10 * mib,
		AllowedMimePatterns: []string{mimeJPEG, mimePNG, mimePDF, mimeDOCX},
		Bucket:              "material-specifications",
	}
	equipmentManual = &pipeline.AttachmentSpec{
		FormField:           "manual",
		MaxSizeBytes:        10 * mib,
		AllowedMimePatterns: []string{mimePDF, mimeDOCX},
		Bucket:              "equipment-manuals",
	}
	reportPhotos = &pipeline.AttachmentSpec{
		FormField:           "photos",
		MaxSizeBytes:        5 * mib,
		AllowedMimePatterns: []string{mimeJPEG, mimePNG},
		Bucket:              "daily-reports",
		MaxFiles:            5,
	}
	documentFile = &pipeline.AttachmentSpec{
		FormField:           "file",
		MaxSizeBytes:        20 * mib,
		AllowedMimePatterns: []string{mimePDF, mimeDOCX, "image/*"},
		Bucket:              "documents",
	}
)

// Catalog returns every mutating route of the API
func Catalog(svc *records.Service) []Definition {
	post := func(path string, r pipeline.Route) Definition {
		if r.SuccessStatus == 0 {
			r.SuccessStatus = http.StatusCreated
		}
		return Definition{Method: http.MethodPost, Path: path, Route: r}
	}
	put := func(path string, r pipeline.Route) Definition {
		return Definition{Method: http.MethodPut, Path: path, Route: r}
	}
	del := func(path string, r pipeline.Route) Definition {
		return Definition{Method: http.MethodDelete, Path: path, Route: r}
	}
	remove := func(name string, kind models.EntityKind, allow pipeline.RoleAllowList) pipeline.Route {
		return pipeline.Route{
			Name:       name,
			Roles:      allow,
			References: []pipeline.ReferenceCheck{pipeline.PathRef("id", kind)},
			Persist:    svc.Delete(kind),
		}
	}

	return []Definition{
		post("/projects", pipeline.Route{
			Name:    "projects.create",
			Roles:   adminOnly,
			Rules:   projectRules(true),
			Persist: svc.Create(models.KindProject),
		}),
		put("/projects/{id}", pipeline.Route{
			Name:       "projects.update",
			Roles:      adminOnly,
			Rules:      projectRules(false),
			References: []pipeline.ReferenceCheck{pipeline.PathRef("id", models.KindProject)},
			Persist:    svc.Update(models.KindProject),
		}),
		del("/projects/{id}", remove("projects.delete", models.KindProject, adminOnly)),

		post("/tasks", pipeline.Route{
			Name:  "tasks.create",
			Roles: managers,
			Rules: taskRules(true),
			References: []pipeline.ReferenceCheck{
				pipeline.Ref("projectId", models.KindProject),
				pipeline.OptionalRef("assignedTo", models.KindUser),
			},
			Persist: svc.Create(models.KindTask),
		}),
		put("/tasks/{id}", pipeline.Route{
			Name:  "tasks.update",
			Roles: managers,
			Rules: taskRules(false),
			References: []pipeline.ReferenceCheck{
				pipeline.PathRef("id", models.KindTask),
				pipeline.OptionalRef("projectId", models.KindProject),
				pipeline.OptionalRef("assignedTo", models.KindUser),
			},
			Persist: svc.Update(models.KindTask),
		}),
		put("/tasks/{id}/status", pipeline.Route{
			Name:       "tasks.status",
			Roles:      managers,
			Rules:      []v.FieldRule{v.Required("status", ""), v.OneOf("status", taskStatuses, "")},
			References: []pipeline.ReferenceCheck{pipeline.PathRef("id", models.KindTask)},
			Persist:    svc.Update(models.KindTask, records.Only("status")),
		}),
		del("/tasks/{id}", remove("tasks.delete", models.KindTask, managers)),

		post("/materials", pipeline.Route{
			Name:       "materials.create",
			Roles:      managers,
			Rules:      materialRules(true),
			References: []pipeline.ReferenceCheck{pipeline.Ref("projectId", models.KindProject)},
			Attachment: materialSpecification,
			Persist:    svc.Create(models.KindMaterial, records.AttachmentURL("specificationUrl")),
		}),
		put("/materials/{id}", pipeline.Route{
			Name:  "materials.update",
			Roles: managers,
			Rules: materialRules(false),
			References: []pipeline.ReferenceCheck{
				pipeline.PathRef("id", models.KindMaterial),
				pipeline.OptionalRef("projectId", models.KindProject),
			},
			Attachment: materialSpecification,
			Persist:    svc.Update(models.KindMaterial, records.AttachmentURL("specificationUrl")),
		}),
		del("/materials/{id}", remove("materials.delete", models.KindMaterial, adminOnly)),

		post("/equipment", pipeline.Route{
			Name:       "equipment.create",
			Roles:      adminOnly,
			Rules:      equipmentRules(true),
			References: []pipeline.ReferenceCheck{pipeline.OptionalRef("projectId", models.KindProject)},
			Attachment: equipmentManual,
			Persist: svc.Create(models.KindEquipment,
				records.AttachmentURL("manualUrl"),
				records.Defaults(map[string]interface{}{"status": "available", "usageHours": 0})),
		}),
		put("/equipment/{id}", pipeline.Route{
			Name:  "equipment.update",
			Roles: adminOnly,
			Rules: equipmentRules(false),
			References: []pipeline.ReferenceCheck{
				pipeline.PathRef("id", models.KindEquipment),
				pipeline.OptionalRef("projectId", models.KindProject),
			},
			Attachment: equipmentManual,
			Persist:    svc.Update(models.KindEquipment, records.AttachmentURL("manualUrl")),
		}),
		del("/equipment/{id}", remove("equipment.delete", models.KindEquipment, adminOnly)),

		post("/equipment-usage-logs", pipeline.Route{
			Name:  "equipmentUsage.create",
			Roles: managers,
			Rules: []v.FieldRule{
				v.Required("equipmentId", ""),
				v.UUID("equipmentId", ""),
				v.Date("usageDate", ""),
				v.Int("hoursUsed", v.Between(0, maxInt), "hoursUsed must be a non-negative 32-bit integer"),
			},
			References: []pipeline.ReferenceCheck{pipeline.Ref("equipmentId", models.KindEquipment)},
			Persist:    svc.CreateUsageLog(),
		}),
		del("/equipment-usage-logs/{id}", pipeline.Route{
			Name:       "equipmentUsage.delete",
			Roles:      adminOnly,
			References: []pipeline.ReferenceCheck{pipeline.PathRef("id", models.KindEquipmentUsageLog)},
			Persist:    svc.DeleteUsageLog(),
		}),

		post("/inspections", pipeline.Route{
			Name:  "inspections.create",
			Roles: managers,
			Rules: inspectionRules(true),
			References: []pipeline.ReferenceCheck{
				pipeline.Ref("projectId", models.KindProject),
				pipeline.OptionalRef("inspectorId", models.KindUser),
			},
			Persist: svc.Create(models.KindInspection),
		}),
		put("/inspections/{id}", pipeline.Route{
			Name:  "inspections.update",
			Roles: managers,
			Rules: inspectionRules(false),
			References: []pipeline.ReferenceCheck{
				pipeline.PathRef("id", models.KindInspection),
				pipeline.OptionalRef("projectId", models.KindProject),
				pipeline.OptionalRef("inspectorId", models.KindUser),
			},
			Persist: svc.Update(models.KindInspection),
		}),
		del("/inspections/{id}", remove("inspections.delete", models.KindInspection, adminOnly)),

		post("/daily-reports", pipeline.Route{
			Name:  "dailyReports.create",
			Roles: pipeline.AnyAuthenticated(),
			Rules: []v.FieldRule{
				v.Required("date", ""),
				v.Required("projectId", ""),
				v.Date("date", ""),
				v.MaxLength("notes", 2000, ""),
				v.MaxLength("weatherConditions", maxNameLength, ""),
				v.UUID("projectId", ""),
			},
			References: []pipeline.ReferenceCheck{pipeline.Ref("projectId", models.KindProject)},
			Attachment: reportPhotos,
			Persist: svc.Create(models.KindDailyReport,
				records.Owner("submittedBy"),
				records.AttachmentURLs("photos")),
		}),
		del("/daily-reports/{id}", remove("dailyReports.delete", models.KindDailyReport, adminOnly)),

		post("/expenses", pipeline.Route{
			Name:       "expenses.create",
			Roles:      managers,
			Rules:      expenseRules(true),
			References: []pipeline.ReferenceCheck{pipeline.Ref("projectId", models.KindProject)},
			Persist:    svc.Create(models.KindExpense, records.Owner("createdBy")),
		}),
		put("/expenses/{id}", pipeline.Route{
			Name:  "expenses.update",
			Roles: managers,
			Rules: expenseRules(false),
			References: []pipeline.ReferenceCheck{
				pipeline.PathRef("id", models.KindExpense),
				pipeline.OptionalRef("projectId", models.KindProject),
			},
			Persist: svc.Update(models.KindExpense, records.Owner("createdBy")),
		}),
		del("/expenses/{id}", remove("expenses.delete", models.KindExpense, adminOnly)),

		post("/trades", pipeline.Route{
			Name:    "trades.create",
			Roles:   adminOnly,
			Rules:   tradeRules(true),
			Persist: svc.Create(models.KindTrade),
		}),
		put("/trades/{id}", pipeline.Route{
			Name:       "trades.update",
			Roles:      adminOnly,
			Rules:      tradeRules(false),
			References: []pipeline.ReferenceCheck{pipeline.PathRef("id", models.KindTrade)},
			Persist:    svc.Update(models.KindTrade),
		}),
		del("/trades/{id}", remove("trades.delete", models.KindTrade, adminOnly)),

		post("/team-members/{projectId}", pipeline.Route{
			Name:  "teamMembers.add",
			Roles: managers,
			Rules: []v.FieldRule{
				v.Required("userId", ""),
				v.UUID("userId", ""),
				v.MaxLength("roleInProject", 100, ""),
			},
			References: []pipeline.ReferenceCheck{
				pipeline.PathRef("projectId", models.KindProject),
				pipeline.Ref("userId", models.KindUser),
			},
			Persist: svc.Create(models.KindTeamMember,
				records.PathField("projectId", "projectId"),
				records.ConflictOn("userId")),
		}),
		del("/team-members/{id}", remove("teamMembers.remove", models.KindTeamMember, adminOnly)),

		post("/documents", pipeline.Route{
			Name:  "documents.create",
			Roles: managers,
			Rules: []v.FieldRule{
				v.Required("documentName", ""),
				v.Length("documentName", 2, maxNameLength, ""),
				v.UUID("projectId", ""),
			},
			References: []pipeline.ReferenceCheck{pipeline.OptionalRef("projectId", models.KindProject)},
			Attachment: documentFile,
			Persist: svc.Create(models.KindDocument,
				records.Owner("uploadedBy"),
				records.AttachmentURL("fileUrl")),
		}),
		put("/documents/{id}", pipeline.Route{
			Name:       "documents.update",
			Roles:      managers,
			Rules:      []v.FieldRule{v.Length("documentName", 2, maxNameLength, "")},
			References: []pipeline.ReferenceCheck{pipeline.PathRef("id", models.KindDocument)},
			Persist:    svc.Update(models.KindDocument, records.Only("documentName")),
		}),
		del("/documents/{id}", remove("documents.delete", models.KindDocument, adminOnly)),

		put("/users/{id}", pipeline.Route{
			Name:  "users.update",
			Roles: adminOnly,
			Rules: []v.FieldRule{
				v.Length("name", 2, 100, ""),
				v.Email("email", ""),
				v.MaxLength("email", maxNameLength, ""),
				v.OneOf("role", models.RoleNames(), ""),
				v.UUID("tradeId", ""),
				v.OneOf("skillLevel", models.SkillLevels, ""),
				v.MaxLength("phoneNumber", 50, ""),
			},
			References: []pipeline.ReferenceCheck{
				pipeline.PathRef("id", models.KindUser),
				pipeline.OptionalRef("tradeId", models.KindTrade),
			},
			Persist: svc.Update(models.KindUser,
				records.Only("name", "email", "role", "tradeId", "skillLevel", "phoneNumber"),
				records.ConflictOn("email")),
		}),
		del("/users/{id}", remove("users.delete", models.KindUser, adminOnly)),
	}
}

// ApplyOverrides replaces the role lists of the named routes.
// Names match case-insensitively; a name no route carries is an error.
// The single role "*" admits any authenticated caller.
func ApplyOverrides(defs []Definition, overrides map[string][]string) error {
	index := make(map[string]int, len(defs))
	for i, d := range defs {
		index[strings.ToLower(d.Route.Name)] = i
	}

	var unknown []string
	for name, rs := range overrides {
		i, ok := index[strings.ToLower(name)]
		if !ok {
			unknown = append(unknown, name)
			continue
		}
		if len(rs) == 1 && rs[0] == "*" {
			defs[i].Route.Roles = pipeline.AnyAuthenticated()
			continue
		}
		for _, r := range rs {
			if !models.IsValidRole(r) {
				return fmt.Errorf("policy for route %q names unknown role %q", name, r)
			}
		}
		defs[i].Route.Roles = pipeline.Roles(rs...)
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return fmt.Errorf("policy names unknown routes: %s", strings.Join(unknown, ", "))
	}
	return nil
}
