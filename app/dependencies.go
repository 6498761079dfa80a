package app

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sitecrew/construction-api/auth"
	"github.com/sitecrew/construction-api/config"
	"github.com/sitecrew/construction-api/middleware"
	"github.com/sitecrew/construction-api/pipeline"
	"github.com/sitecrew/construction-api/repositories"
	"github.com/sitecrew/construction-api/repositories/postgres"
	"github.com/sitecrew/construction-api/services"
	"github.com/sitecrew/construction-api/services/audit"
	"github.com/sitecrew/construction-api/services/ratelimit"
	"github.com/sitecrew/construction-api/services/records"
	"github.com/sitecrew/construction-api/storage"
	"github.com/sitecrew/construction-api/telemetry"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

const auditDrainTimeout = 5 * time.Second

// Dependencies holds all application dependencies.
// This is the central wiring point for dependency injection.
type Dependencies struct {
	// Infrastructure
	Config *config.Config
	DB     *postgres.DB
	Logger *zap.Logger
	Redis  redis.UniversalClient

	// Repository Factory
	RepoFactory *postgres.RepositoryFactory

	// Repositories
	Records   repositories.RecordStore
	Users     repositories.UserRepository
	AuditLogs repositories.AuditRepository
	TxManager repositories.TransactionManager

	// Attachments
	Storage storage.ObjectStore

	// Auth
	Issuer         *auth.Issuer
	Verifier       *auth.Verifier
	AuthMiddleware *middleware.AuthMiddleware
	Throttle       *ratelimit.LoginThrottle

	// Services
	Audit         *audit.AuditService
	Pipeline      *pipeline.Pipeline
	RecordService *records.Service
	AuthService   *services.AuthService

	// Route role overrides from POLICY_FILE and POLICY_ROUTES__*
	Policy config.PolicyOverrides

	shutdownTelemetry telemetry.ShutdownFunc
}

// NewDependencies opens the database and wires every dependency over it
func NewDependencies(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Dependencies, error) {
	shutdown, err := telemetry.Init(ctx, cfg.Observability, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracing: %w", err)
	}

	factory, err := postgres.NewRepositoryFactory(cfg, logger)
	if err != nil {
		_ = shutdown(ctx)
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	deps, err := wire(ctx, cfg, factory, logger)
	if err != nil {
		_ = shutdown(ctx)
		return nil, err
	}
	deps.shutdownTelemetry = shutdown
	return deps, nil
}

// NewDependenciesWithDB wires every dependency over an already opened pool
func NewDependenciesWithDB(ctx context.Context, cfg *config.Config, db *postgres.DB, logger *zap.Logger) (*Dependencies, error) {
	return wire(ctx, cfg, postgres.NewRepositoryFactoryFromDB(db, logger), logger)
}

func wire(ctx context.Context, cfg *config.Config, factory *postgres.RepositoryFactory, logger *zap.Logger) (*Dependencies, error) {
	d := &Dependencies{
		Config:      cfg,
		Logger:      logger,
		RepoFactory: factory,
		DB:          factory.GetDB(),
	}

	steps := []struct {
		name string
		fn   func(context.Context) error
	}{
		{"database", d.initDatabase},
		{"repositories", d.initRepositories},
		{"storage", d.initStorage},
		{"audit", d.initAudit},
		{"auth", d.initAuth},
		{"pipeline", d.initPipeline},
		{"policy", d.initPolicy},
	}
	for _, step := range steps {
		if err := step.fn(ctx); err != nil {
			_ = d.Close(ctx)
			return nil, fmt.Errorf("failed to initialize %s: %w", step.name, err)
		}
	}

	logger.Info("all dependencies initialized successfully")
	return d, nil
}

// initDatabase creates the schema when asked to
func (d *Dependencies) initDatabase(ctx context.Context) error {
	if !d.Config.Database.InitSchema {
		return nil
	}
	return d.RepoFactory.InitSchema(ctx)
}

// initRepositories initializes all repository instances
func (d *Dependencies) initRepositories(context.Context) error {
	repos := d.RepoFactory.NewRepositories()

	d.Records = repos.Records
	d.Users = repos.Users
	d.AuditLogs = repos.AuditLogs
	d.TxManager = d.RepoFactory.GetTransactionManager()

	d.Logger.Info("repositories initialized")
	return nil
}

func (d *Dependencies) initStorage(context.Context) error {
	store, err := storage.New(d.Config.Storage, d.Logger)
	if err != nil {
		return err
	}
	d.Storage = store
	return nil
}

func (d *Dependencies) initAudit(context.Context) error {
	d.Audit = audit.NewAuditService(d.AuditLogs, d.Logger, audit.Config{
		BufferSize:  d.Config.Audit.QueueSize,
		WorkerCount: d.Config.Audit.Workers,
	})
	return d.Audit.Start()
}

func (d *Dependencies) initAuth(context.Context) error {
	secret, err := d.signingSecret()
	if err != nil {
		return err
	}
	d.Issuer = auth.NewIssuer(secret, d.Config.Auth.Issuer, d.Config.Auth.TokenTTL)
	d.Verifier = auth.NewVerifier(secret, d.Config.Auth.Issuer)
	d.AuthMiddleware = middleware.NewAuthMiddleware(d.Verifier, d.Logger)

	throttle, client, err := ratelimit.NewFromConfig(d.Config, d.Logger)
	if err != nil {
		return err
	}
	d.Throttle = throttle
	d.Redis = client

	d.AuthService = services.NewAuthService(d.Users, d.Issuer, d.Throttle, d.Audit, d.Config.Auth.BcryptCost, d.Logger)
	return nil
}

// signingSecret returns the configured JWT secret. Outside production a missing
// secret is replaced by a random one, so tokens do not survive a restart.
func (d *Dependencies) signingSecret() ([]byte, error) {
	if d.Config.Auth.JWTSecret != "" {
		return []byte(d.Config.Auth.JWTSecret), nil
	}
	if d.Config.IsProduction() {
		return nil, errors.New("JWT_SECRET is required in production")
	}
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return nil, fmt.Errorf("failed to generate signing secret: %w", err)
	}
	d.Logger.Warn("JWT_SECRET not set, using an ephemeral signing secret")
	return secret, nil
}

func (d *Dependencies) initPipeline(context.Context) error {
	d.Pipeline = pipeline.New(d.Verifier, d.Records, d.Storage, d.Logger,
		pipeline.WithStageTimeout(d.Config.Pipeline.StageTimeout),
		pipeline.WithMaxBodyBytes(d.Config.Pipeline.MaxBodyBytes),
		pipeline.WithTracer(otel.Tracer(d.Config.Observability.ServiceName)),
	)
	d.RecordService = records.NewService(d.Records, d.TxManager, d.Audit, d.Logger)
	return nil
}

func (d *Dependencies) initPolicy(context.Context) error {
	policy, err := config.LoadPolicyOverrides(d.Config.Policy.File)
	if err != nil {
		return err
	}
	if len(policy) > 0 {
		d.Logger.Info("route policy overrides loaded", zap.Int("routes", len(policy)))
	}
	d.Policy = policy
	return nil
}

// Close gracefully shuts down all dependencies
func (d *Dependencies) Close(ctx context.Context) error {
	d.Logger.Info("shutting down dependencies")

	var errs []error

	// Drain queued audit events before the pool they write to goes away
	if d.Audit != nil {
		if err := d.Audit.Stop(auditDrainTimeout); err != nil && !errors.Is(err, audit.ErrNotRunning) {
			errs = append(errs, fmt.Errorf("failed to stop audit service: %w", err))
		}
	}

	if d.Redis != nil {
		if err := d.Redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close redis: %w", err))
		}
	}

	if d.RepoFactory != nil {
		if err := d.RepoFactory.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close database: %w", err))
		} else {
			d.Logger.Info("database connection closed")
		}
	}

	if d.shutdownTelemetry != nil {
		if err := d.shutdownTelemetry(ctx); err != nil {
			errs = append(errs, fmt.Errorf("failed to flush traces: %w", err))
		}
	}

	_ = d.Logger.Sync()

	return errors.Join(errs...)
}
