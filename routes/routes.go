package routes

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/sitecrew/construction-api/app"
	"github.com/sitecrew/construction-api/handlers"
	"github.com/sitecrew/construction-api/models"
	"github.com/sitecrew/construction-api/telemetry"
	"github.com/sitecrew/construction-api/utils"
)

// collections maps each path under /api readable by any authenticated caller to its entity kind
var collections = []struct {
	path string
	kind models.EntityKind
}{
	{"/projects", models.KindProject},
	{"/tasks", models.KindTask},
	{"/materials", models.KindMaterial},
	{"/equipment", models.KindEquipment},
	{"/equipment-usage-logs", models.KindEquipmentUsageLog},
	{"/inspections", models.KindInspection},
	{"/daily-reports", models.KindDailyReport},
	{"/expenses", models.KindExpense},
	{"/trades", models.KindTrade},
	{"/team-members", models.KindTeamMember},
	{"/documents", models.KindDocument},
}

// SetupRoutes configures all application routes and middleware.
// It fails when the route policy overrides name unknown routes or roles.
func SetupRoutes(deps *app.Dependencies) (http.Handler, error) {
	defs := Catalog(deps.RecordService)
	if err := ApplyOverrides(defs, deps.Policy); err != nil {
		return nil, err
	}

	cfg := deps.Config
	r := chi.NewRouter()

	// Core middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	if cfg.Server.RequestTimeout > 0 {
		r.Use(middleware.Timeout(cfg.Server.RequestTimeout))
	}

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.Server.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(telemetry.HTTPMiddleware(cfg.Observability.ServiceName))

	health := handlers.NewHealthHandler(healthChecks(deps), deps.Logger)
	r.Get("/health", health.HandleHealth)
	r.Get("/health/ready", health.HandleReadiness)

	authHandler := handlers.NewAuthHandler(deps.AuthService, deps.Logger)
	recordHandler := handlers.NewRecordHandler(deps.RecordService, deps.Logger)
	auditHandler := handlers.NewAuditHandler(deps.AuditLogs, deps.Logger)

	r.Route("/api", func(r chi.Router) {
		// Public
		r.Post("/auth/register", authHandler.HandleRegister)
		r.Post("/auth/login", authHandler.HandleLogin)

		// Mutations authenticate and authorize inside the pipeline
		for _, d := range defs {
			r.Method(d.Method, d.Path, deps.Pipeline.Handler(d.Route))
		}

		// Reads
		r.Group(func(r chi.Router) {
			r.Use(deps.AuthMiddleware.RequireAuth)

			for _, c := range collections {
				r.Get(c.path, recordHandler.List(c.kind))
				r.Get(c.path+"/{id}", recordHandler.Get(c.kind))
			}
			r.Get("/team-members/project/{projectId}", recordHandler.ListBy(models.KindTeamMember, "projectId", "projectId"))
			r.Get("/equipment-usage-logs/equipment/{id}", recordHandler.ListBy(models.KindEquipmentUsageLog, "id", "equipmentId"))

			// User profiles carry emails and roles
			r.Group(func(r chi.Router) {
				r.Use(deps.AuthMiddleware.RequireRole(string(models.RoleAdmin)))
				r.Get("/users", recordHandler.List(models.KindUser))
				r.Get("/users/{id}", recordHandler.Get(models.KindUser))
				r.Get("/audit-logs", auditHandler.HandleList)
			})
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		utils.WriteNotFound(w, "endpoint not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		utils.WriteError(w, http.StatusMethodNotAllowed, "method not allowed", nil)
	})

	return r, nil
}

func healthChecks(deps *app.Dependencies) map[string]handlers.HealthChecker {
	checks := map[string]handlers.HealthChecker{}
	if deps.DB != nil {
		checks["database"] = deps.DB
	}
	if deps.Redis != nil {
		client := deps.Redis
		checks["redis"] = handlers.HealthCheckFunc(func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		})
	}
	return checks
}
