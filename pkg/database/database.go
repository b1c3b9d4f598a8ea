package database

import (
	_ "embed"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/nightwatch/nightwatch/pkg/config"
)

//go:embed schema.sql
var schema string

// DB wraps the shared connection pool, the same thin *sqlx.DB wrapper
// shape as the teacher's database.DB, now pointed at Postgres via pgx
// instead of the teacher's embedded sqlite.
type DB struct {
	*sqlx.DB
	cfg *config.Config
}

// NewDB opens the shared Postgres pool and runs InitSchema, mirroring the
// teacher's NewDB/InitSchema two-step construction.
func NewDB(cfg *config.Config) (*DB, error) {
	db, err := sqlx.Connect("pgx", cfg.Monitoring.Database.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(cfg.Monitoring.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Monitoring.Database.MaxIdleConns)
	db.SetConnMaxLifetime(time.Hour)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	wrapper := &DB{DB: db, cfg: cfg}
	if err := wrapper.InitSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return wrapper, nil
}

// InitSchema applies the embedded DDL, the same embedded-schema-string
// convention the teacher's InitSchema used, now loaded via go:embed
// instead of an inline backtick literal so the SQL lives in its own file.
func (db *DB) InitSchema() error {
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// Monitors returns the monitor repository.
func (db *DB) Monitors() *MonitorRepository { return &MonitorRepository{db: db} }

// CheckResults returns the check result repository.
func (db *DB) CheckResults() *CheckResultRepository { return &CheckResultRepository{db: db} }

// Heartbeats returns the heartbeat ping repository.
func (db *DB) Heartbeats() *HeartbeatRepository { return &HeartbeatRepository{db: db} }

// Rollups returns the hourly/daily rollup repository.
func (db *DB) Rollups() *RollupRepository { return &RollupRepository{db: db} }

// AlertPolicies returns the alert policy repository.
func (db *DB) AlertPolicies() *AlertPolicyRepository { return &AlertPolicyRepository{db: db} }

// AlertHistoryRepo returns the alert history repository.
func (db *DB) AlertHistoryRepo() *AlertHistoryRepository { return &AlertHistoryRepository{db: db} }

// AlertChannels returns the alert channel repository.
func (db *DB) AlertChannels() *AlertChannelRepository { return &AlertChannelRepository{db: db} }

// NotificationLogs returns the notification log repository.
func (db *DB) NotificationLogs() *NotificationLogRepository {
	return &NotificationLogRepository{db: db}
}

// MaintenanceWindows returns the maintenance window repository.
func (db *DB) MaintenanceWindows() *MaintenanceWindowRepository {
	return &MaintenanceWindowRepository{db: db}
}

// Incidents returns the incident repository.
func (db *DB) Incidents() *IncidentRepository { return &IncidentRepository{db: db} }

// Probes returns the probe repository.
func (db *DB) Probes() *ProbeRepository { return &ProbeRepository{db: db} }

// Organizations returns the organization repository.
func (db *DB) Organizations() *OrganizationRepository { return &OrganizationRepository{db: db} }
