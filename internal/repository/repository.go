// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/opensource-finance/claimguard/internal/domain"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrInvalidInput = errors.New("invalid input")
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// SQLRepository implements domain.ClaimRepository using database/sql.
// Works with SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (*SQLRepository, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres", "pgx":
		db, err = openPostgres(cfg.Driver, cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{
		db:     db,
		driver: cfg.Driver,
	}

	// Run migrations
	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// CreateClaim inserts a claim and its risk columns in a single statement.
func (r *SQLRepository) CreateClaim(ctx context.Context, claim *domain.Claim) error {
	if claim == nil || claim.ID == "" {
		return fmt.Errorf("%w: claim id is required", ErrInvalidInput)
	}

	record, err := json.Marshal(claim.Record)
	if err != nil {
		return fmt.Errorf("%w: record: %v", ErrInvalidInput, err)
	}

	var riskScore sql.NullInt64
	if claim.RiskScore != nil {
		riskScore = sql.NullInt64{Int64: int64(*claim.RiskScore), Valid: true}
	}
	var scoredAt sql.NullTime
	if claim.ScoredAt != nil {
		scoredAt = sql.NullTime{Time: *claim.ScoredAt, Valid: true}
	}

	query := `
		INSERT INTO claims (
			id, claim_ref, bene_id, provider, amount_reimbursed, record, status,
			risk_score, risk_label, model_output, created_at, updated_at, scored_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = r.db.ExecContext(ctx, r.rebind(query),
		claim.ID, claim.ClaimRef, claim.BeneID, claim.Provider, claim.Amount,
		string(record), string(claim.Status),
		riskScore, nullString(claim.RiskLabel), nullString(claim.ModelOutput),
		claim.CreatedAt, claim.UpdatedAt, scoredAt,
	)
	return err
}

// GetClaim retrieves a claim by ID.
func (r *SQLRepository) GetClaim(ctx context.Context, claimID string) (*domain.Claim, error) {
	if claimID == "" {
		return nil, fmt.Errorf("%w: claim id is required", ErrInvalidInput)
	}

	query := `SELECT ` + claimColumns + ` FROM claims WHERE id = ?`

	claim, err := scanClaim(r.db.QueryRowContext(ctx, r.rebind(query), claimID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return claim, nil
}

// UpdateClaimRisk overwrites the risk columns of an existing claim. Every
// other column keeps its stored value.
func (r *SQLRepository) UpdateClaimRisk(ctx context.Context, claimID string, res domain.PersistableResult, scoredAt time.Time) error {
	if claimID == "" {
		return fmt.Errorf("%w: claim id is required", ErrInvalidInput)
	}

	query := `
		UPDATE claims
		SET risk_score = ?, risk_label = ?, model_output = ?, status = ?, updated_at = ?, scored_at = ?
		WHERE id = ?
	`

	result, err := r.db.ExecContext(ctx, r.rebind(query),
		res.RiskScore, res.RiskLabel, res.ModelOutput, string(domain.ClaimScored),
		scoredAt, scoredAt, claimID,
	)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// ListClaims returns claims newest first, optionally filtered by label.
func (r *SQLRepository) ListClaims(ctx context.Context, filter domain.ClaimFilter) ([]*domain.Claim, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}

	var args []any
	var b strings.Builder
	b.WriteString(`SELECT ` + claimColumns + ` FROM claims`)
	if filter.Label != "" {
		b.WriteString(` WHERE risk_label = ?`)
		args = append(args, filter.Label)
	}
	b.WriteString(` ORDER BY created_at DESC, id LIMIT ` + strconv.Itoa(limit) + ` OFFSET ` + strconv.Itoa(offset))

	rows, err := r.db.QueryContext(ctx, r.rebind(b.String()), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var claims []*domain.Claim
	for rows.Next() {
		claim, err := scanClaim(rows)
		if err != nil {
			return nil, err
		}
		claims = append(claims, claim)
	}
	return claims, rows.Err()
}

// Stats aggregates claim count, total reimbursed amount and label counts.
func (r *SQLRepository) Stats(ctx context.Context) (*domain.ClaimStats, error) {
	stats := &domain.ClaimStats{ByLabel: make(map[string]int64)}

	var total float64
	query := `SELECT COUNT(*), COALESCE(SUM(amount_reimbursed), 0) FROM claims`
	if err := r.db.QueryRowContext(ctx, query).Scan(&stats.TotalClaims, &total); err != nil {
		return nil, err
	}
	stats.TotalAmount = decimal.NewFromFloat(total).Round(2)

	rows, err := r.db.QueryContext(ctx, `SELECT risk_label, COUNT(*) FROM claims GROUP BY risk_label`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var label sql.NullString
		var n int64
		if err := rows.Scan(&label, &n); err != nil {
			return nil, err
		}
		if !label.Valid || label.String == "" {
			stats.Unscored += n
			continue
		}
		stats.ByLabel[label.String] = n
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	stats.HighRiskClaims = stats.ByLabel[domain.LabelHigh]
	return stats, nil
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

const claimColumns = `id, claim_ref, bene_id, provider, amount_reimbursed, record, status,
	risk_score, risk_label, model_output, created_at, updated_at, scored_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanClaim(row rowScanner) (*domain.Claim, error) {
	var c domain.Claim
	var record, status string
	var riskScore sql.NullInt64
	var riskLabel, modelOutput sql.NullString
	var scoredAt sql.NullTime

	err := row.Scan(
		&c.ID, &c.ClaimRef, &c.BeneID, &c.Provider, &c.Amount, &record, &status,
		&riskScore, &riskLabel, &modelOutput,
		&c.CreatedAt, &c.UpdatedAt, &scoredAt,
	)
	if err != nil {
		return nil, err
	}

	c.Status = domain.ClaimStatus(status)
	if record != "" {
		if err := json.Unmarshal([]byte(record), &c.Record); err != nil {
			return nil, fmt.Errorf("claim %s: decode record: %w", c.ID, err)
		}
	}
	if riskScore.Valid {
		score := int(riskScore.Int64)
		c.RiskScore = &score
	}
	c.RiskLabel = riskLabel.String
	c.ModelOutput = modelOutput.String
	if scoredAt.Valid {
		t := scoredAt.Time
		c.ScoredAt = &t
	}
	return &c, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver == "sqlite" {
		return query
	}

	// Convert ? to $1, $2, etc.
	var result []byte
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, '$')
			result = append(result, strconv.Itoa(n)...)
			n++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}
