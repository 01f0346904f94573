// Package worker scores transactions published on the event bus.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Thisen-Ekanayake/Plutus/internal/domain"
	"github.com/Thisen-Ekanayake/Plutus/internal/logging"
	"github.com/Thisen-Ekanayake/Plutus/internal/metrics"
	"github.com/Thisen-Ekanayake/Plutus/internal/policy"
	"go.opentelemetry.io/otel/trace"
)

// Scorer is the part of the scoring engine the worker needs.
type Scorer interface {
	Score(ctx context.Context, rec *domain.TransactionRecord) (*domain.ScoreResult, error)
}

// Message outcomes, also used as metric labels.
const (
	OutcomeScored    = "scored"
	OutcomeRejected  = "rejected"
	OutcomeMalformed = "malformed"
	OutcomeFailed    = "failed"
)

// Worker consumes TopicTransactionSubmitted with a fixed pool of goroutines
// and publishes every result on TopicTransactionScored. REVIEW and BLOCK
// results are also published on TopicAlert.
type Worker struct {
	bus    domain.EventBus
	scorer Scorer

	jobs          chan job
	subscriptions []domain.Subscription
	wg            sync.WaitGroup
	ctx           context.Context
	cancel        context.CancelFunc
	mu            sync.Mutex
}

// job is a queued message plus the span context it was published under.
type job struct {
	span trace.SpanContext
	msg  *domain.Message
}

// Config holds worker configuration.
type Config struct {
	// WorkerCount is the number of goroutines scoring concurrently.
	WorkerCount int

	// QueueSize bounds messages accepted but not yet scored.
	QueueSize int
}

// NewWorker creates a new async worker.
func NewWorker(bus domain.EventBus, scorer Scorer) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:    bus,
		scorer: scorer,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start subscribes to submitted transactions and starts the pool.
func (w *Worker) Start(cfg Config) error {
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = 1
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = cfg.WorkerCount * 16
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.jobs != nil {
		return fmt.Errorf("worker already started")
	}
	w.jobs = make(chan job, cfg.QueueSize)

	for i := 0; i < cfg.WorkerCount; i++ {
		w.wg.Add(1)
		go w.run()
	}

	sub, err := w.bus.Subscribe(w.ctx, domain.TopicTransactionSubmitted, w.enqueue)
	if err != nil {
		w.cancel()
		w.wg.Wait()
		return fmt.Errorf("subscribe %s: %w", domain.TopicTransactionSubmitted, err)
	}
	w.subscriptions = append(w.subscriptions, sub)

	logging.L(w.ctx).Info("scoring workers started",
		"workers", cfg.WorkerCount,
		"topic", domain.TopicTransactionSubmitted,
	)
	return nil
}

// enqueue hands a message to the pool, blocking while the queue is full.
func (w *Worker) enqueue(ctx context.Context, msg *domain.Message) error {
	select {
	case w.jobs <- job{span: trace.SpanContextFromContext(ctx), msg: msg}:
		return nil
	case <-w.ctx.Done():
		return w.ctx.Err()
	}
}

func (w *Worker) run() {
	defer w.wg.Done()
	for {
		select {
		case <-w.ctx.Done():
			return
		case j := <-w.jobs:
			ctx := w.ctx
			if j.span.IsValid() {
				ctx = trace.ContextWithRemoteSpanContext(ctx, j.span)
			}
			outcome, err := w.Process(ctx, j.msg)
			metrics.BusMessagesTotal.WithLabelValues(outcome).Inc()
			if err != nil {
				logging.L(ctx).Error("transaction scoring failed",
					"message_id", j.msg.ID,
					"error", err,
				)
			}
		}
	}
}

// Process scores one bus message and publishes the outcome. Records the
// engine rejects are acknowledged and dropped; they are never scored with
// substituted values.
func (w *Worker) Process(ctx context.Context, msg *domain.Message) (string, error) {
	start := time.Now()

	var req domain.ScoringRequest
	if err := json.Unmarshal(msg.Payload, &req); err != nil {
		logging.L(ctx).Warn("malformed scoring request dropped",
			"message_id", msg.ID,
			"error", err,
		)
		return OutcomeMalformed, nil
	}

	txID := req.TransactionID
	if txID == "" {
		txID = msg.ID
	}

	rec, err := req.TransactionRecord()
	if err != nil {
		return w.reject(ctx, txID, err)
	}
	result, err := w.scorer.Score(ctx, rec)
	if err != nil {
		if errors.Is(err, domain.ErrInput) {
			return w.reject(ctx, txID, err)
		}
		return OutcomeFailed, fmt.Errorf("score %s: %w", txID, err)
	}

	event := domain.ScoredEvent{
		TransactionID: txID,
		UserID:        req.UserID,
		Result:        result,
		ScoredAt:      time.Now().UnixNano(),
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return OutcomeFailed, fmt.Errorf("marshal scored event: %w", err)
	}

	if err := w.bus.Publish(ctx, domain.TopicTransactionScored, payload); err != nil {
		logging.L(ctx).Error("failed to publish score",
			"tx_id", txID,
			"error", err,
		)
	}
	if policy.ShouldAlert(result.Decision) {
		if err := w.bus.Publish(ctx, domain.TopicAlert, payload); err != nil {
			logging.L(ctx).Error("failed to publish alert",
				"tx_id", txID,
				"error", err,
			)
		}
	}

	logging.L(ctx).Info("transaction scored",
		"tx_id", txID,
		"decision", result.Decision,
		"probability", result.Probability,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return OutcomeScored, nil
}

func (w *Worker) reject(ctx context.Context, txID string, err error) (string, error) {
	logging.L(ctx).Info("transaction rejected",
		"tx_id", txID,
		"error", err,
	)
	return OutcomeRejected, nil
}

// Stop unsubscribes and waits for in-progress messages. Queued messages that
// were not started are discarded.
func (w *Worker) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			logging.L(w.ctx).Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	w.subscriptions = nil

	w.cancel()
	w.wg.Wait()

	logging.L(context.Background()).Info("scoring workers stopped")
	return nil
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
	Queued            int      `json:"queued"`
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
		Queued:            len(w.jobs),
	}
}
