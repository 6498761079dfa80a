package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/sitecrew/construction-api/config"
	"go.uber.org/zap"
)

// DB wraps the sql.DB connection pool
type DB struct {
	*sql.DB
	logger *zap.Logger
}

// NewDB creates a new database connection pool
func NewDB(cfg config.DatabaseConfig, logger *zap.Logger) (*DB, error) {
	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info("database connection established",
		zap.String("connection", cfg.LogString()))

	return Wrap(db, logger), nil
}

// Wrap adopts an already opened pool
func Wrap(db *sql.DB, logger *zap.Logger) *DB {
	return &DB{DB: db, logger: logger}
}

// Close closes the database connection pool
func (db *DB) Close() error {
	db.logger.Info("closing database connection")
	return db.DB.Close()
}

// HealthCheck performs a health check on the database
func (db *DB) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("database health check failed: %w", err)
	}

	var result int
	if err := db.QueryRowContext(ctx, "SELECT 1").Scan(&result); err != nil {
		return fmt.Errorf("database query check failed: %w", err)
	}

	return nil
}

// Stats returns database connection pool statistics
func (db *DB) Stats() sql.DBStats {
	return db.DB.Stats()
}

// Schema is the DDL for every table the service owns
const Schema = `
	CREATE TABLE IF NOT EXISTS trades (
		id UUID PRIMARY KEY,
		name VARCHAR(255) NOT NULL,
		industry VARCHAR(255) NOT NULL,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS users (
		id UUID PRIMARY KEY,
		name VARCHAR(100) NOT NULL,
		email VARCHAR(255) NOT NULL UNIQUE,
		password_hash VARCHAR(255) NOT NULL,
		role VARCHAR(50) NOT NULL DEFAULT 'Laborer'
			CHECK (role IN ('Admin', 'ProjectManager', 'Supervisor', 'SkilledWorker', 'Laborer')),
		trade_id UUID REFERENCES trades(id) ON DELETE SET NULL,
		skill_level VARCHAR(50),
		phone_number VARCHAR(50),
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS projects (
		id UUID PRIMARY KEY,
		name VARCHAR(255) NOT NULL,
		description TEXT,
		scope TEXT,
		site_location TEXT,
		site_condition TEXT,
		start_date DATE,
		end_date DATE,
		status VARCHAR(50),
		estimated_budget NUMERIC(14, 2),
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS tasks (
		id UUID PRIMARY KEY,
		name VARCHAR(255) NOT NULL,
		description TEXT,
		due_date DATE,
		status VARCHAR(50) NOT NULL DEFAULT 'pending',
		project_id UUID NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
		assigned_to UUID REFERENCES users(id) ON DELETE SET NULL,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS materials (
		id UUID PRIMARY KEY,
		name VARCHAR(255) NOT NULL,
		quantity INTEGER NOT NULL DEFAULT 0,
		unit VARCHAR(20),
		cost_per_unit NUMERIC(12, 2),
		project_id UUID NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
		specification_url TEXT,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS equipment (
		id UUID PRIMARY KEY,
		name VARCHAR(255) NOT NULL,
		status VARCHAR(20) NOT NULL DEFAULT 'available',
		usage_hours INTEGER NOT NULL DEFAULT 0,
		last_maintenance_date DATE,
		project_id UUID REFERENCES projects(id) ON DELETE SET NULL,
		manual_url TEXT,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS equipment_usage_logs (
		id UUID PRIMARY KEY,
		equipment_id UUID NOT NULL REFERENCES equipment(id) ON DELETE CASCADE,
		usage_date DATE,
		hours_used INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS inspections (
		id UUID PRIMARY KEY,
		date DATE,
		inspector_name VARCHAR(255),
		foundation_check BOOLEAN NOT NULL DEFAULT false,
		framing_check BOOLEAN NOT NULL DEFAULT false,
		roofing_check BOOLEAN NOT NULL DEFAULT false,
		mep_check BOOLEAN NOT NULL DEFAULT false,
		housekeeping_check BOOLEAN NOT NULL DEFAULT false,
		safety_concerns TEXT,
		notes TEXT,
		project_id UUID REFERENCES projects(id) ON DELETE CASCADE,
		inspector_id UUID REFERENCES users(id) ON DELETE SET NULL,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS expenses (
		id UUID PRIMARY KEY,
		name VARCHAR(255) NOT NULL,
		amount NUMERIC(12, 2) NOT NULL,
		date DATE,
		category VARCHAR(100),
		project_id UUID NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
		created_by UUID REFERENCES users(id) ON DELETE SET NULL,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS daily_reports (
		id UUID PRIMARY KEY,
		date DATE,
		notes TEXT,
		weather_conditions VARCHAR(255),
		photos TEXT[] NOT NULL DEFAULT '{}',
		project_id UUID NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
		submitted_by UUID REFERENCES users(id) ON DELETE SET NULL,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS team_members (
		id UUID PRIMARY KEY,
		project_id UUID NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
		user_id UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		role_in_project VARCHAR(100),
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(project_id, user_id)
	);

	CREATE TABLE IF NOT EXISTS documents (
		id UUID PRIMARY KEY,
		document_name VARCHAR(255) NOT NULL,
		file_url TEXT,
		project_id UUID REFERENCES projects(id) ON DELETE CASCADE,
		uploaded_by UUID REFERENCES users(id) ON DELETE SET NULL,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS audit_logs (
		id UUID PRIMARY KEY,
		actor_id UUID,
		actor_role VARCHAR(50),
		action VARCHAR(50) NOT NULL,
		route VARCHAR(100),
		entity_kind VARCHAR(50) NOT NULL,
		resource_id UUID,
		details JSONB,
		ip_address VARCHAR(45),
		user_agent TEXT,
		request_id VARCHAR(255),
		timestamp TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_tasks_project_id ON tasks(project_id);
	CREATE INDEX IF NOT EXISTS idx_tasks_assigned_to ON tasks(assigned_to);
	CREATE INDEX IF NOT EXISTS idx_materials_project_id ON materials(project_id);
	CREATE INDEX IF NOT EXISTS idx_equipment_project_id ON equipment(project_id);
	CREATE INDEX IF NOT EXISTS idx_equipment_usage_logs_equipment_id ON equipment_usage_logs(equipment_id);
	CREATE INDEX IF NOT EXISTS idx_inspections_project_id ON inspections(project_id);
	CREATE INDEX IF NOT EXISTS idx_expenses_project_id ON expenses(project_id);
	CREATE INDEX IF NOT EXISTS idx_daily_reports_project_id ON daily_reports(project_id);
	CREATE INDEX IF NOT EXISTS idx_team_members_project_id ON team_members(project_id);
	CREATE INDEX IF NOT EXISTS idx_documents_project_id ON documents(project_id);

	CREATE INDEX IF NOT EXISTS idx_audit_logs_actor_id ON audit_logs(actor_id);
	CREATE INDEX IF NOT EXISTS idx_audit_logs_entity_kind ON audit_logs(entity_kind);
	CREATE INDEX IF NOT EXISTS idx_audit_logs_resource_id ON audit_logs(resource_id);
	CREATE INDEX IF NOT EXISTS idx_audit_logs_timestamp ON audit_logs(timestamp);
`

// InitSchema initializes the database schema
func (db *DB) InitSchema(ctx context.Context) error {
	if _, err := db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	db.logger.Info("database schema initialized successfully")
	return nil
}
