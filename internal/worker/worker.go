// Package worker provides async claim scoring for the Pro tier.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/opensource-finance/claimguard/internal/domain"
)

// Submitter scores and stores a claim under a given ID.
type Submitter interface {
	SubmitWithID(ctx context.Context, id string, record domain.ClaimRecord) (*domain.Claim, *domain.Assessment, error)
}

// Worker scores claims queued on the EventBus.
type Worker struct {
	bus       domain.EventBus
	submitter Submitter

	mu            sync.Mutex
	subscriptions []domain.Subscription
	jobs          chan *domain.Message
	wg            sync.WaitGroup
	ctx           context.Context
	cancel        context.CancelFunc

	processed atomic.Int64
	failed    atomic.Int64
}

// Config holds worker configuration.
type Config struct {
	// WorkerCount is the number of claims scored concurrently.
	WorkerCount int

	// QueueSize bounds the claims buffered between the bus and the workers.
	QueueSize int
}

// NewWorker creates a new async worker.
func NewWorker(bus domain.EventBus, submitter Submitter) *Worker {
	return &Worker{
		bus:       bus,
		submitter: submitter,
	}
}

// Start subscribes to submitted claims and starts the scoring goroutines.
func (w *Worker) Start(cfg Config) error {
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = 1
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 100
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.cancel != nil {
		return fmt.Errorf("worker already started")
	}

	w.ctx, w.cancel = context.WithCancel(context.Background())
	w.jobs = make(chan *domain.Message, cfg.QueueSize)

	sub, err := w.bus.Subscribe(w.ctx, domain.TopicClaimSubmitted, w.enqueue)
	if err != nil {
		w.cancel()
		w.cancel = nil
		return fmt.Errorf("subscribe to %s: %w", domain.TopicClaimSubmitted, err)
	}
	w.subscriptions = append(w.subscriptions, sub)

	for i := 0; i < cfg.WorkerCount; i++ {
		w.wg.Add(1)
		go w.run(w.ctx, w.jobs)
	}

	slog.Info("workers started",
		"topic", domain.TopicClaimSubmitted,
		"worker_count", cfg.WorkerCount,
	)

	return nil
}

// enqueue hands a bus message to the scoring goroutines.
func (w *Worker) enqueue(ctx context.Context, msg *domain.Message) error {
	select {
	case w.jobs <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *Worker) run(ctx context.Context, jobs <-chan *domain.Message) {
	defer w.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-jobs:
			if err := w.processClaim(ctx, msg); err != nil {
				w.failed.Add(1)
				continue
			}
			w.processed.Add(1)
		}
	}
}

// processClaim scores one submitted claim through the pipeline.
func (w *Worker) processClaim(ctx context.Context, msg *domain.Message) error {
	start := time.Now()

	var event domain.ClaimEvent
	if err := json.Unmarshal(msg.Payload, &event); err != nil {
		slog.Error("failed to parse claim message",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}
	if event.ClaimID == "" {
		event.ClaimID = msg.ID
	}

	traceID := event.TraceID
	if traceID == "" {
		traceID = msg.ID
	}

	slog.Debug("processing claim",
		"claim_id", event.ClaimID,
		"trace_id", traceID,
	)

	claim, assessment, err := w.submitter.SubmitWithID(ctx, event.ClaimID, event.Record)
	if err != nil {
		slog.Error("async claim scoring failed",
			"claim_id", event.ClaimID,
			"trace_id", traceID,
			"error", err,
		)
		return err
	}

	slog.Info("claim processed",
		"claim_id", claim.ID,
		"trace_id", traceID,
		"risk_score", assessment.Risk.RiskScore,
		"risk_label", assessment.Risk.RiskLabel,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return nil
}

// Stop gracefully stops all workers.
func (w *Worker) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.cancel == nil {
		return nil
	}

	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	w.subscriptions = nil

	w.cancel()
	w.wg.Wait()
	w.cancel = nil

	slog.Info("workers stopped",
		"processed", w.processed.Load(),
		"failed", w.failed.Load(),
	)
	return nil
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
	Processed         int64    `json:"processed"`
	Failed            int64    `json:"failed"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()

	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
		Processed:         w.processed.Load(),
		Failed:            w.failed.Load(),
	}
}
