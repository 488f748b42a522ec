package repository

import (
	"context"
	"os"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/opensource-finance/claimguard/internal/domain"
)

func newTestRepo(t *testing.T) *SQLRepository {
	t.Helper()

	tmpFile, err := os.CreateTemp("", "claimguard-test-*.db")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	tmpPath := tmpFile.Name()
	tmpFile.Close()
	t.Cleanup(func() { os.Remove(tmpPath) })

	repo, err := New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: tmpPath,
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func scoredClaim(id, label string, score int, amount float64, created time.Time) *domain.Claim {
	c := &domain.Claim{
		ID:        id,
		ClaimRef:  "CLM-" + id,
		BeneID:    "BENE11001",
		Provider:  "PRV51001",
		Amount:    amount,
		Record:    domain.ClaimRecord{"InscClaimAmtReimbursed": amount, "Gender": "Male"},
		Status:    domain.ClaimCreated,
		CreatedAt: created,
		UpdatedAt: created,
	}
	c.ApplyResult(domain.PersistableResult{
		RiskScore:   score,
		RiskLabel:   label,
		ModelOutput: `{"prediction":0,"probabilities":[0.5,0.5]}`,
	}, created)
	return c
}

func TestSQLiteRepository(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

	t.Run("Ping", func(t *testing.T) {
		if err := repo.Ping(ctx); err != nil {
			t.Errorf("Ping failed: %v", err)
		}
	})

	t.Run("CreateAndGetClaim", func(t *testing.T) {
		claim := scoredClaim("claim-001", domain.LabelHigh, 82, 26000, now)

		if err := repo.CreateClaim(ctx, claim); err != nil {
			t.Fatalf("CreateClaim failed: %v", err)
		}

		got, err := repo.GetClaim(ctx, claim.ID)
		if err != nil {
			t.Fatalf("GetClaim failed: %v", err)
		}

		if got.ClaimRef != claim.ClaimRef || got.Provider != claim.Provider {
			t.Errorf("indexed columns mismatch: %+v", got)
		}
		if got.RiskScore == nil || *got.RiskScore != 82 {
			t.Errorf("expected risk score 82, got %v", got.RiskScore)
		}
		if got.RiskLabel != domain.LabelHigh {
			t.Errorf("expected label %q, got %q", domain.LabelHigh, got.RiskLabel)
		}
		if got.ModelOutput != claim.ModelOutput {
			t.Errorf("expected model output %s, got %s", claim.ModelOutput, got.ModelOutput)
		}
		if got.Status != domain.ClaimScored {
			t.Errorf("expected status scored, got %s", got.Status)
		}
		if got.Record["Gender"] != "Male" || got.Record["InscClaimAmtReimbursed"] != 26000.0 {
			t.Errorf("record not restored: %v", got.Record)
		}
		if got.ScoredAt == nil {
			t.Error("expected scored_at to be set")
		}
	})

	t.Run("CreateUnscoredClaim", func(t *testing.T) {
		claim := &domain.Claim{
			ID:        "claim-unscored",
			Record:    domain.ClaimRecord{},
			Status:    domain.ClaimCreated,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := repo.CreateClaim(ctx, claim); err != nil {
			t.Fatalf("CreateClaim failed: %v", err)
		}

		got, err := repo.GetClaim(ctx, claim.ID)
		if err != nil {
			t.Fatalf("GetClaim failed: %v", err)
		}
		if got.RiskScore != nil || got.RiskLabel != "" || got.ScoredAt != nil {
			t.Errorf("expected empty risk columns, got %+v", got)
		}
	})

	t.Run("DuplicateID", func(t *testing.T) {
		err := repo.CreateClaim(ctx, scoredClaim("claim-001", domain.LabelLow, 5, 10, now))
		if err == nil {
			t.Error("expected error for duplicate claim id")
		}
	})

	t.Run("UpdateClaimRiskOnlyTouchesRiskColumns", func(t *testing.T) {
		before, err := repo.GetClaim(ctx, "claim-001")
		if err != nil {
			t.Fatalf("GetClaim failed: %v", err)
		}

		later := now.Add(time.Minute)
		res := domain.PersistableResult{
			RiskScore:   12,
			RiskLabel:   domain.LabelLow,
			ModelOutput: `{"prediction":0,"probabilities":[0.88,0.12]}`,
		}
		if err := repo.UpdateClaimRisk(ctx, "claim-001", res, later); err != nil {
			t.Fatalf("UpdateClaimRisk failed: %v", err)
		}

		after, err := repo.GetClaim(ctx, "claim-001")
		if err != nil {
			t.Fatalf("GetClaim failed: %v", err)
		}

		if *after.RiskScore != 12 || after.RiskLabel != domain.LabelLow || after.ModelOutput != res.ModelOutput {
			t.Errorf("risk columns not updated: %+v", after)
		}
		if !reflect.DeepEqual(before.Record, after.Record) {
			t.Errorf("record changed: %v -> %v", before.Record, after.Record)
		}
		if before.ClaimRef != after.ClaimRef || before.Amount != after.Amount || !before.CreatedAt.Equal(after.CreatedAt) {
			t.Errorf("non-risk columns changed: %+v -> %+v", before, after)
		}
	})

	t.Run("UpdateMissingClaim", func(t *testing.T) {
		err := repo.UpdateClaimRisk(ctx, "nonexistent", domain.PersistableResult{RiskLabel: domain.LabelLow}, now)
		if err != ErrNotFound {
			t.Errorf("expected ErrNotFound, got: %v", err)
		}
	})

	t.Run("NotFound", func(t *testing.T) {
		_, err := repo.GetClaim(ctx, "nonexistent")
		if err != ErrNotFound {
			t.Errorf("expected ErrNotFound, got: %v", err)
		}
	})

	t.Run("RequiresID", func(t *testing.T) {
		if err := repo.CreateClaim(ctx, &domain.Claim{}); err == nil {
			t.Error("expected error for empty claim id")
		}
		if _, err := repo.GetClaim(ctx, ""); err == nil {
			t.Error("expected error for empty claim id")
		}
	})
}

func TestListAndStats(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Second)

	claims := []*domain.Claim{
		scoredClaim("a", domain.LabelHigh, 90, 1000.10, base),
		scoredClaim("b", domain.LabelHigh, 80, 2000.20, base.Add(time.Second)),
		scoredClaim("c", domain.LabelMedium, 50, 300, base.Add(2*time.Second)),
		scoredClaim("d", domain.LabelLow, 10, 0.5, base.Add(3*time.Second)),
	}
	for _, c := range claims {
		if err := repo.CreateClaim(ctx, c); err != nil {
			t.Fatalf("CreateClaim failed: %v", err)
		}
	}

	t.Run("ListNewestFirst", func(t *testing.T) {
		got, err := repo.ListClaims(ctx, domain.ClaimFilter{})
		if err != nil {
			t.Fatalf("ListClaims failed: %v", err)
		}
		if len(got) != 4 {
			t.Fatalf("expected 4 claims, got %d", len(got))
		}
		if got[0].ID != "d" || got[3].ID != "a" {
			t.Errorf("unexpected order: %s ... %s", got[0].ID, got[3].ID)
		}
	})

	t.Run("ListByLabel", func(t *testing.T) {
		got, err := repo.ListClaims(ctx, domain.ClaimFilter{Label: domain.LabelHigh, Limit: 1})
		if err != nil {
			t.Fatalf("ListClaims failed: %v", err)
		}
		if len(got) != 1 || got[0].ID != "b" {
			t.Errorf("expected [b], got %v", got)
		}

		got, err = repo.ListClaims(ctx, domain.ClaimFilter{Label: domain.LabelHigh, Limit: 1, Offset: 1})
		if err != nil {
			t.Fatalf("ListClaims failed: %v", err)
		}
		if len(got) != 1 || got[0].ID != "a" {
			t.Errorf("expected [a], got %v", got)
		}
	})

	t.Run("Stats", func(t *testing.T) {
		stats, err := repo.Stats(ctx)
		if err != nil {
			t.Fatalf("Stats failed: %v", err)
		}
		if stats.TotalClaims != 4 {
			t.Errorf("expected 4 claims, got %d", stats.TotalClaims)
		}
		if stats.TotalAmount.String() != "3300.8" {
			t.Errorf("expected total 3300.8, got %s", stats.TotalAmount)
		}
		if stats.HighRiskClaims != 2 {
			t.Errorf("expected 2 high risk claims, got %d", stats.HighRiskClaims)
		}
		if stats.ByLabel[domain.LabelMedium] != 1 || stats.ByLabel[domain.LabelLow] != 1 {
			t.Errorf("unexpected label counts: %v", stats.ByLabel)
		}
	})
}

func TestStatsEmpty(t *testing.T) {
	repo := newTestRepo(t)

	stats, err := repo.Stats(context.Background())
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if stats.TotalClaims != 0 || !stats.TotalAmount.IsZero() || stats.HighRiskClaims != 0 {
		t.Errorf("expected empty stats, got %+v", stats)
	}
}

func TestUnsupportedDriver(t *testing.T) {
	cfg := domain.RepositoryConfig{
		Driver: "mysql",
	}

	_, err := New(cfg)
	if err == nil {
		t.Error("expected error for unsupported driver")
	}
}

func TestRebind(t *testing.T) {
	tests := []struct {
		driver   string
		input    string
		expected string
	}{
		{"postgres", "SELECT * FROM t WHERE id = ?", "SELECT * FROM t WHERE id = $1"},
		{"pgx", "INSERT INTO t (a, b) VALUES (?, ?)", "INSERT INTO t (a, b) VALUES ($1, $2)"},
		{"postgres", "SELECT * FROM t", "SELECT * FROM t"},
		{"sqlite", "SELECT * FROM t WHERE id = ?", "SELECT * FROM t WHERE id = ?"},
	}

	for _, tt := range tests {
		repo := &SQLRepository{driver: tt.driver}
		result := repo.rebind(tt.input)
		if result != tt.expected {
			t.Errorf("rebind(%q) on %s = %q, want %q", tt.input, tt.driver, result, tt.expected)
		}
	}
}

func TestPostgresDSN(t *testing.T) {
	dsn := postgresDSN(domain.RepositoryConfig{PostgresUser: "cg", PostgresPassword: "secret"})

	for _, part := range []string{"host=localhost", "port=5432", "dbname=claimguard", "sslmode=disable", "user=cg"} {
		if !strings.Contains(dsn, part) {
			t.Errorf("dsn %q missing %q", dsn, part)
		}
	}
}
