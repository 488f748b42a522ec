package assess

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opensource-finance/claimguard/internal/alert"
	"github.com/opensource-finance/claimguard/internal/bus"
	"github.com/opensource-finance/claimguard/internal/cache"
	"github.com/opensource-finance/claimguard/internal/domain"
	"github.com/opensource-finance/claimguard/internal/features"
	"github.com/opensource-finance/claimguard/internal/repository"
)

// memRepo is an in-memory ClaimRepository with injectable failures.
type memRepo struct {
	mu        sync.Mutex
	claims    map[string]domain.Claim
	creates   int
	updates   int
	createErr error
	updateErr error
}

func newMemRepo() *memRepo {
	return &memRepo{claims: make(map[string]domain.Claim)}
}

func (r *memRepo) CreateClaim(ctx context.Context, c *domain.Claim) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.creates++
	if r.createErr != nil {
		return r.createErr
	}
	r.claims[c.ID] = *c
	return nil
}

func (r *memRepo) GetClaim(ctx context.Context, id string) (*domain.Claim, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.claims[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &c, nil
}

func (r *memRepo) UpdateClaimRisk(ctx context.Context, id string, res domain.PersistableResult, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates++
	if r.updateErr != nil {
		return r.updateErr
	}
	c, ok := r.claims[id]
	if !ok {
		return repository.ErrNotFound
	}
	c.ApplyResult(res, at)
	r.claims[id] = c
	return nil
}

func (r *memRepo) ListClaims(ctx context.Context, f domain.ClaimFilter) ([]*domain.Claim, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*domain.Claim, 0, len(r.claims))
	for _, c := range r.claims {
		c := c
		if f.Label == "" || c.RiskLabel == f.Label {
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *memRepo) Stats(ctx context.Context) (*domain.ClaimStats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return &domain.ClaimStats{TotalClaims: int64(len(r.claims))}, nil
}

func (r *memRepo) Ping(ctx context.Context) error { return nil }
func (r *memRepo) Close() error                   { return nil }

func (r *memRepo) stored(t *testing.T, id string) domain.Claim {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.claims[id]
	require.True(t, ok, "claim %s not stored", id)
	return c
}

// switchScorer returns whatever probability is currently set.
type switchScorer struct {
	mu  sync.Mutex
	p   float64
	err error
}

func (s *switchScorer) set(p float64, err error) {
	s.mu.Lock()
	s.p, s.err = p, err
	s.mu.Unlock()
}

func (s *switchScorer) Score(vec features.Vector) (domain.ScoringResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return domain.ScoringResult{}, s.err
	}
	return fixedScorer(s.p).Score(vec)
}

type serviceFixture struct {
	svc    *Service
	repo   *memRepo
	scorer *switchScorer
	cache  *cache.LRUCache
	bus    *bus.ChannelBus
}

func newFixture(t *testing.T, p float64) *serviceFixture {
	t.Helper()
	scorer := &switchScorer{p: p}
	repo := newMemRepo()
	c := cache.NewLRUCache(100)
	b := bus.NewChannelBus(100)
	t.Cleanup(func() { _ = b.Close() })

	policy, err := alert.NewPolicy("")
	require.NoError(t, err)

	svc := NewService(NewAssessor(testEncoder(t), scorer, nil), repo, Options{
		Cache:  c,
		Bus:    b,
		Policy: policy,
	})
	fixed := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return fixed }

	return &serviceFixture{svc: svc, repo: repo, scorer: scorer, cache: c, bus: b}
}

func (f *serviceFixture) collect(t *testing.T, topic string) <-chan domain.ClaimEvent {
	t.Helper()
	ch := make(chan domain.ClaimEvent, 10)
	_, err := f.bus.Subscribe(context.Background(), topic, func(ctx context.Context, msg *domain.Message) error {
		var ev domain.ClaimEvent
		if err := json.Unmarshal(msg.Payload, &ev); err != nil {
			return err
		}
		ch <- ev
		return nil
	})
	require.NoError(t, err)
	return ch
}

func receive(t *testing.T, ch <-chan domain.ClaimEvent) domain.ClaimEvent {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
		return domain.ClaimEvent{}
	}
}

func TestSubmit(t *testing.T) {
	t.Run("stores claim with risk columns", func(t *testing.T) {
		f := newFixture(t, 0.82)
		claim, a, err := f.svc.Submit(context.Background(), sampleRecord())
		require.NoError(t, err)

		assert.NotEmpty(t, claim.ID)
		assert.Equal(t, 82, a.Risk.RiskScore)

		stored := f.repo.stored(t, claim.ID)
		require.NotNil(t, stored.RiskScore)
		assert.Equal(t, 82, *stored.RiskScore)
		assert.Equal(t, domain.LabelHigh, stored.RiskLabel)
		assert.Equal(t, domain.ClaimScored, stored.Status)
		assert.Equal(t, "CLM46614", stored.ClaimRef)
		assert.Equal(t, "BENE11001", stored.BeneID)
		assert.Equal(t, "PRV51459", stored.Provider)
		assert.Equal(t, 26000.0, stored.Amount)
		assert.Contains(t, stored.ModelOutput, `{"prediction":1,"probabilities":[`)
		assert.Contains(t, stored.ModelOutput, `,0.82]}`)
	})

	t.Run("encoding error stores nothing", func(t *testing.T) {
		f := newFixture(t, 0.82)
		rec := sampleRecord()
		rec["InscClaimAmtReimbursed"] = "lots"

		_, _, err := f.svc.Submit(context.Background(), rec)
		assert.ErrorIs(t, err, domain.ErrEncoding)
		assert.Zero(t, f.repo.creates)
	})

	t.Run("scoring error stores nothing", func(t *testing.T) {
		f := newFixture(t, 0)
		f.scorer.set(0, &domain.ScoringError{Reason: "boom"})

		_, _, err := f.svc.Submit(context.Background(), sampleRecord())
		assert.ErrorIs(t, err, domain.ErrScoring)
		assert.Zero(t, f.repo.creates)
	})

	t.Run("repository failure is returned", func(t *testing.T) {
		f := newFixture(t, 0.2)
		f.repo.createErr = errors.New("disk full")

		_, _, err := f.svc.Submit(context.Background(), sampleRecord())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "disk full")
	})

	t.Run("publishes scored and alert events", func(t *testing.T) {
		f := newFixture(t, 0.82)
		scored := f.collect(t, domain.TopicClaimScored)
		alerts := f.collect(t, domain.TopicClaimAlert)
		time.Sleep(10 * time.Millisecond)

		claim, _, err := f.svc.Submit(context.Background(), sampleRecord())
		require.NoError(t, err)

		ev := receive(t, scored)
		assert.Equal(t, claim.ID, ev.ClaimID)
		assert.Equal(t, 82, ev.RiskScore)
		assert.Equal(t, domain.LabelHigh, ev.RiskLabel)

		assert.Equal(t, claim.ID, receive(t, alerts).ClaimID)
	})

	t.Run("no alert below policy", func(t *testing.T) {
		f := newFixture(t, 0.5)
		scored := f.collect(t, domain.TopicClaimScored)
		alerts := f.collect(t, domain.TopicClaimAlert)
		time.Sleep(10 * time.Millisecond)

		_, _, err := f.svc.Submit(context.Background(), sampleRecord())
		require.NoError(t, err)

		assert.Equal(t, domain.LabelMedium, receive(t, scored).RiskLabel)
		select {
		case ev := <-alerts:
			t.Errorf("unexpected alert for %s", ev.ClaimID)
		case <-time.After(50 * time.Millisecond):
		}
	})
}

func TestReanalyze(t *testing.T) {
	t.Run("overwrites only risk columns", func(t *testing.T) {
		f := newFixture(t, 0.2)
		claim, _, err := f.svc.SubmitWithID(context.Background(), "claim-1", sampleRecord())
		require.NoError(t, err)
		before := f.repo.stored(t, claim.ID)
		assert.Equal(t, domain.LabelLow, before.RiskLabel)

		f.scorer.set(0.755, nil)
		updated, a, err := f.svc.Reanalyze(context.Background(), "claim-1")
		require.NoError(t, err)
		assert.Equal(t, 75, a.Risk.RiskScore)
		assert.Equal(t, domain.LabelMedium, updated.RiskLabel)

		after := f.repo.stored(t, "claim-1")
		require.NotNil(t, after.RiskScore)
		assert.Equal(t, 75, *after.RiskScore)
		assert.Equal(t, domain.LabelMedium, after.RiskLabel)
		assert.Equal(t, before.Record, after.Record)
		assert.Equal(t, before.Provider, after.Provider)
		assert.Equal(t, before.Amount, after.Amount)
		assert.Equal(t, before.CreatedAt, after.CreatedAt)
	})

	t.Run("failure leaves stored claim untouched", func(t *testing.T) {
		f := newFixture(t, 0.82)
		_, _, err := f.svc.SubmitWithID(context.Background(), "claim-2", sampleRecord())
		require.NoError(t, err)

		f.scorer.set(0, &domain.ScoringError{Reason: "model unavailable"})
		_, _, err = f.svc.Reanalyze(context.Background(), "claim-2")
		assert.ErrorIs(t, err, domain.ErrScoring)
		assert.Zero(t, f.repo.updates)

		stored := f.repo.stored(t, "claim-2")
		assert.Equal(t, 82, *stored.RiskScore)
		assert.Equal(t, domain.LabelHigh, stored.RiskLabel)
	})

	t.Run("unknown claim", func(t *testing.T) {
		f := newFixture(t, 0.5)
		_, _, err := f.svc.Reanalyze(context.Background(), "missing")
		assert.ErrorIs(t, err, repository.ErrNotFound)
	})

	t.Run("invalidates cached claim", func(t *testing.T) {
		f := newFixture(t, 0.2)
		_, _, err := f.svc.SubmitWithID(context.Background(), "claim-3", sampleRecord())
		require.NoError(t, err)

		cached, err := f.svc.GetClaim(context.Background(), "claim-3")
		require.NoError(t, err)
		assert.Equal(t, domain.LabelLow, cached.RiskLabel)

		f.scorer.set(0.9, nil)
		_, _, err = f.svc.Reanalyze(context.Background(), "claim-3")
		require.NoError(t, err)

		fresh, err := f.svc.GetClaim(context.Background(), "claim-3")
		require.NoError(t, err)
		assert.Equal(t, domain.LabelHigh, fresh.RiskLabel)
	})
}

func TestGetClaim_ReadThrough(t *testing.T) {
	f := newFixture(t, 0.5)
	_, _, err := f.svc.SubmitWithID(context.Background(), "claim-4", sampleRecord())
	require.NoError(t, err)

	miss, _ := f.cache.GetClaim(context.Background(), "claim-4")
	assert.Nil(t, miss)

	got, err := f.svc.GetClaim(context.Background(), "claim-4")
	require.NoError(t, err)
	assert.Equal(t, "claim-4", got.ID)

	hit, _ := f.cache.GetClaim(context.Background(), "claim-4")
	require.NotNil(t, hit)
	assert.Equal(t, got.RiskLabel, hit.RiskLabel)

	_, err = f.svc.GetClaim(context.Background(), "nope")
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestEnqueue(t *testing.T) {
	t.Run("publishes valid record", func(t *testing.T) {
		f := newFixture(t, 0.5)
		submitted := f.collect(t, domain.TopicClaimSubmitted)
		time.Sleep(10 * time.Millisecond)

		require.NoError(t, f.svc.Enqueue(context.Background(), "claim-5", sampleRecord(), "trace-1"))

		ev := receive(t, submitted)
		assert.Equal(t, "claim-5", ev.ClaimID)
		assert.Equal(t, "trace-1", ev.TraceID)
		assert.Equal(t, "PRV51459", ev.Record["Provider"])
		assert.Zero(t, f.repo.creates, "enqueue must not store")
	})

	t.Run("rejects malformed record", func(t *testing.T) {
		f := newFixture(t, 0.5)
		rec := sampleRecord()
		rec["Age"] = "x"
		rec["DeductibleAmtPaid"] = "n/a"

		err := f.svc.Enqueue(context.Background(), "claim-6", rec, "")
		var encErr *domain.EncodingError
		require.ErrorAs(t, err, &encErr)
		assert.Equal(t, "DeductibleAmtPaid", encErr.Field)
	})

	t.Run("requires bus", func(t *testing.T) {
		svc := NewService(NewAssessor(testEncoder(t), fixedScorer(0.5), nil), newMemRepo(), Options{})
		assert.Error(t, svc.Enqueue(context.Background(), "claim-7", sampleRecord(), ""))
	})
}

func TestNewClaim(t *testing.T) {
	now := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	c := NewClaim("id-1", domain.ClaimRecord{
		"claim_id":               "CLM1",
		"provider_id":            "PRV9",
		"InscClaimAmtReimbursed": "1500.50",
	}, now)

	assert.Equal(t, "CLM1", c.ClaimRef)
	assert.Equal(t, "PRV9", c.Provider)
	assert.Equal(t, 1500.50, c.Amount)
	assert.Equal(t, domain.ClaimCreated, c.Status)
	assert.Nil(t, c.RiskScore)
	assert.Equal(t, now, c.CreatedAt)
}

func TestServiceWithBooster(t *testing.T) {
	repo := newMemRepo()
	svc := NewService(NewAssessor(testEncoder(t), amountBooster(t), nil), repo, Options{})

	claim, a, err := svc.Submit(context.Background(), sampleRecord())
	require.NoError(t, err)
	assert.Equal(t, domain.LabelHigh, a.Risk.RiskLabel)

	var out domain.ScoringResult
	require.NoError(t, json.Unmarshal([]byte(repo.stored(t, claim.ID).ModelOutput), &out))
	require.NotNil(t, out.Prediction)
	assert.Equal(t, 1, *out.Prediction)
	assert.Len(t, out.Probabilities, 2)
}
