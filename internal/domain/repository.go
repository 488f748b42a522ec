// Package domain defines the core interfaces and types for ClaimGuard.
package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// ClaimRepository defines the interface for claim persistence.
type ClaimRepository interface {
	// CreateClaim inserts a claim together with its risk columns in one write.
	CreateClaim(ctx context.Context, claim *Claim) error

	// GetClaim retrieves a claim by ID.
	GetClaim(ctx context.Context, claimID string) (*Claim, error)

	// UpdateClaimRisk overwrites only the risk columns of an existing claim.
	UpdateClaimRisk(ctx context.Context, claimID string, res PersistableResult, scoredAt time.Time) error

	// ListClaims returns claims newest first.
	ListClaims(ctx context.Context, filter ClaimFilter) ([]*Claim, error)

	// Stats aggregates the dashboard figures.
	Stats(ctx context.Context) (*ClaimStats, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// ClaimFilter narrows ListClaims.
type ClaimFilter struct {
	Label  string
	Limit  int
	Offset int
}

// ClaimStats holds the dashboard aggregates.
type ClaimStats struct {
	TotalClaims    int64            `json:"totalClaims"`
	TotalAmount    decimal.Decimal  `json:"totalAmount"`
	HighRiskClaims int64            `json:"highRiskClaims"`
	Unscored       int64            `json:"unscored"`
	ByLabel        map[string]int64 `json:"byLabel"`
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite", "postgres" (lib/pq) or "pgx"
	Driver string `yaml:"driver"`

	// SQLite specific
	SQLitePath string `yaml:"sqlitePath"`

	// PostgreSQL specific
	PostgresHost     string `yaml:"postgresHost"`
	PostgresPort     int    `yaml:"postgresPort"`
	PostgresUser     string `yaml:"postgresUser"`
	PostgresPassword string `yaml:"postgresPassword"`
	PostgresDB       string `yaml:"postgresDb"`
	PostgresSSLMode  string `yaml:"postgresSslMode"`

	// Connection pool settings
	MaxOpenConns    int           `yaml:"maxOpenConns"`
	MaxIdleConns    int           `yaml:"maxIdleConns"`
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime"`
}
