package assess

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/opensource-finance/claimguard/internal/alert"
	"github.com/opensource-finance/claimguard/internal/domain"
	"github.com/opensource-finance/claimguard/internal/features"
	"github.com/opensource-finance/claimguard/internal/metrics"
)

// Record keys the service reads for the indexed claim columns.
var (
	claimRefKeys = []string{"ClaimID", "claim_id", "ClaimRef"}
	beneIDKeys   = []string{"BeneID"}
	providerKeys = []string{"Provider", "provider_id"}
	amountKeys   = []string{"InscClaimAmtReimbursed"}
)

const cacheKeyPrefix = "claim:"

// Service ties the assessor to persistence, caching and claim events.
type Service struct {
	assessor *Assessor
	repo     domain.ClaimRepository
	cache    domain.Cache
	bus      domain.EventBus
	policy   *alert.Policy
	metrics  *metrics.Metrics
	claimTTL time.Duration
	now      func() time.Time
}

// Options holds the optional collaborators of a Service.
type Options struct {
	Cache    domain.Cache
	Bus      domain.EventBus
	Policy   *alert.Policy
	Metrics  *metrics.Metrics
	ClaimTTL time.Duration
}

// NewService creates a claim service. repo is required.
func NewService(assessor *Assessor, repo domain.ClaimRepository, opts Options) *Service {
	ttl := opts.ClaimTTL
	if ttl == 0 {
		ttl = 10 * time.Minute
	}
	return &Service{
		assessor: assessor,
		repo:     repo,
		cache:    opts.Cache,
		bus:      opts.Bus,
		policy:   opts.Policy,
		metrics:  opts.Metrics,
		claimTTL: ttl,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Assessor returns the underlying pipeline.
func (s *Service) Assessor() *Assessor { return s.assessor }

// Policy returns the alert policy, or nil.
func (s *Service) Policy() *alert.Policy { return s.policy }

// Preview assesses a record without persisting anything.
func (s *Service) Preview(ctx context.Context, record domain.ClaimRecord) (*domain.Assessment, error) {
	return s.assessor.Assess(ctx, record)
}

// Submit assesses a new claim and stores it with its risk columns in one
// write. On any error nothing is stored.
func (s *Service) Submit(ctx context.Context, record domain.ClaimRecord) (*domain.Claim, *domain.Assessment, error) {
	return s.SubmitWithID(ctx, uuid.New().String(), record)
}

// SubmitWithID is Submit with a caller-chosen claim ID.
func (s *Service) SubmitWithID(ctx context.Context, id string, record domain.ClaimRecord) (*domain.Claim, *domain.Assessment, error) {
	assessment, err := s.assessor.Assess(ctx, record)
	if err != nil {
		return nil, nil, err
	}

	now := s.now()
	claim := NewClaim(id, record, now)
	claim.ApplyResult(assessment.Persistable, now)

	if err := s.repo.CreateClaim(ctx, claim); err != nil {
		return nil, nil, fmt.Errorf("store claim: %w", err)
	}

	s.publishScored(ctx, claim, assessment)
	return claim, assessment, nil
}

// Reanalyze re-scores a stored claim and overwrites only its risk columns.
// A failed assessment leaves the stored claim untouched.
func (s *Service) Reanalyze(ctx context.Context, id string) (*domain.Claim, *domain.Assessment, error) {
	claim, err := s.repo.GetClaim(ctx, id)
	if err != nil {
		return nil, nil, err
	}

	assessment, err := s.assessor.Assess(ctx, claim.Record)
	if err != nil {
		return nil, nil, err
	}

	now := s.now()
	if err := s.repo.UpdateClaimRisk(ctx, id, assessment.Persistable, now); err != nil {
		return nil, nil, fmt.Errorf("update claim risk: %w", err)
	}
	claim.ApplyResult(assessment.Persistable, now)

	if s.cache != nil {
		if err := s.cache.Delete(ctx, cacheKeyPrefix+id); err != nil {
			slog.Warn("failed to invalidate cached claim", "claim_id", id, "error", err)
		}
	}

	s.publishScored(ctx, claim, assessment)
	return claim, assessment, nil
}

// GetClaim reads a claim through the cache.
func (s *Service) GetClaim(ctx context.Context, id string) (*domain.Claim, error) {
	if s.cache != nil {
		cached, err := s.cache.GetClaim(ctx, id)
		if err != nil {
			slog.Warn("claim cache read failed", "claim_id", id, "error", err)
		} else if cached != nil {
			return cached, nil
		}
	}

	claim, err := s.repo.GetClaim(ctx, id)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		if err := s.cache.SetClaim(ctx, claim, s.claimTTL); err != nil {
			slog.Warn("claim cache write failed", "claim_id", id, "error", err)
		}
	}
	return claim, nil
}

// ListClaims returns stored claims, newest first.
func (s *Service) ListClaims(ctx context.Context, filter domain.ClaimFilter) ([]*domain.Claim, error) {
	return s.repo.ListClaims(ctx, filter)
}

// Stats returns the dashboard aggregates.
func (s *Service) Stats(ctx context.Context) (*domain.ClaimStats, error) {
	return s.repo.Stats(ctx)
}

// Enqueue validates a record and hands it to the async worker. The record
// is encoded first so malformed claims are rejected before queuing.
func (s *Service) Enqueue(ctx context.Context, id string, record domain.ClaimRecord, traceID string) error {
	if s.bus == nil {
		return fmt.Errorf("event bus not available")
	}
	if _, err := s.assessor.Vector(record); err != nil {
		return err
	}

	payload, err := json.Marshal(domain.ClaimEvent{
		ClaimID: id,
		Record:  record,
		TraceID: traceID,
	})
	if err != nil {
		return fmt.Errorf("marshal claim event: %w", err)
	}
	return s.bus.Publish(ctx, domain.TopicClaimSubmitted, payload)
}

// publishScored emits the scored event and, when the policy matches, an
// alert. The claim is already stored, so failures are only logged.
func (s *Service) publishScored(ctx context.Context, claim *domain.Claim, a *domain.Assessment) {
	alerted := false
	if s.policy != nil {
		match, err := s.policy.Evaluate(alert.Input{
			Record:           claim.Record,
			Amount:           claim.Amount,
			RiskScore:        a.Risk.RiskScore,
			RiskLabel:        a.Risk.RiskLabel,
			FraudProbability: a.FraudProbability,
		})
		if err != nil {
			slog.Warn("alert policy evaluation failed", "claim_id", claim.ID, "error", err)
		}
		alerted = match
	}
	if alerted {
		s.metrics.ObserveAlert()
	}

	if s.bus == nil {
		return
	}

	payload, err := json.Marshal(domain.ClaimEvent{
		ClaimID:          claim.ID,
		RiskScore:        a.Risk.RiskScore,
		RiskLabel:        a.Risk.RiskLabel,
		FraudProbability: a.FraudProbability,
	})
	if err != nil {
		slog.Error("failed to marshal claim event", "claim_id", claim.ID, "error", err)
		return
	}

	if err := s.bus.Publish(ctx, domain.TopicClaimScored, payload); err != nil {
		slog.Error("failed to publish scored claim", "claim_id", claim.ID, "error", err)
	}
	if alerted {
		if err := s.bus.Publish(ctx, domain.TopicClaimAlert, payload); err != nil {
			slog.Error("failed to publish claim alert", "claim_id", claim.ID, "error", err)
		}
	}
}

// NewClaim builds an unscored claim, lifting the indexed columns out of the
// record.
func NewClaim(id string, record domain.ClaimRecord, now time.Time) *domain.Claim {
	c := &domain.Claim{
		ID:        id,
		Record:    record,
		Status:    domain.ClaimCreated,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if v, ok := features.Lookup(record, claimRefKeys...); ok {
		c.ClaimRef = features.Stringify(v)
	}
	if v, ok := features.Lookup(record, beneIDKeys...); ok {
		c.BeneID = features.Stringify(v)
	}
	if v, ok := features.Lookup(record, providerKeys...); ok {
		c.Provider = features.Stringify(v)
	}
	if v, ok := features.Lookup(record, amountKeys...); ok {
		if f, err := features.ParseNumber(v); err == nil {
			c.Amount = f
		}
	}
	return c
}
