// Package domain defines the core interfaces and types for Harrier.
package domain

import (
	"context"
	"time"
)

// Repository defines the interface for data persistence.
// All methods require tenantID for strict multi-tenancy isolation.
type Repository interface {
	// Transaction operations
	SaveTransaction(ctx context.Context, tenantID string, tx *Transaction) error
	GetTransaction(ctx context.Context, tenantID string, txID string) (*Transaction, error)

	// GetRecentByUser returns up to limit of the user's most recent
	// transactions, newest first. Serves the feature builder's history
	// window when the caller supplies none.
	GetRecentByUser(ctx context.Context, tenantID string, userID string, limit int) ([]*Transaction, error)

	// GetTransactionsSince returns all tenant transactions at or after
	// the given time, oldest first. Used for graph replay at startup.
	GetTransactionsSince(ctx context.Context, tenantID string, since time.Time) ([]*Transaction, error)

	// Prediction results
	SavePrediction(ctx context.Context, tenantID string, pred *Prediction) error
	GetPrediction(ctx context.Context, tenantID string, predID string) (*Prediction, error)

	// Alert rule configuration
	SaveAlertRule(ctx context.Context, tenantID string, rule *AlertRule) error
	GetAlertRule(ctx context.Context, tenantID string, ruleID string) (*AlertRule, error)
	ListAlertRules(ctx context.Context, tenantID string) ([]*AlertRule, error)
	DeleteAlertRule(ctx context.Context, tenantID string, ruleID string) error

	// Raised alerts
	SaveAlert(ctx context.Context, tenantID string, alert *Alert) error
	ListAlerts(ctx context.Context, tenantID string, limit int) ([]*Alert, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string

	// SQLite specific
	SQLitePath string

	// PostgreSQL specific
	PostgresHost     string
	PostgresPort     int
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Connection pool settings
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}
