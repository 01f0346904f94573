package worker

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/Thisen-Ekanayake/Plutus/internal/artifact"
	"github.com/Thisen-Ekanayake/Plutus/internal/bus"
	"github.com/Thisen-Ekanayake/Plutus/internal/domain"
	"github.com/Thisen-Ekanayake/Plutus/internal/scoring"
	"go.opentelemetry.io/otel/trace"
)

type stubScorer struct {
	result *domain.ScoreResult
	err    error
}

func (s *stubScorer) Score(ctx context.Context, rec *domain.TransactionRecord) (*domain.ScoreResult, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.result, nil
}

func scenario() domain.TransactionRecord {
	return domain.TransactionRecord{
		Timestamp:        "2025-01-15T14:30:00",
		Amount:           450.50,
		MerchantCategory: "electronics",
		PaymentMethod:    "card",
		CountryCode:      "US",
		TxnCount1h:       2,
		TxnCount24h:      15,
		AvgAmount7d:      120.0,
		AmountDeviation:  330.5,
		TimeSinceLastTxn: 45.0,
		NewMerchantFlag:  1,
		HighAmountFlag:   1,
	}
}

func request(t *testing.T, txID string, rec domain.TransactionRecord) []byte {
	t.Helper()
	data, err := json.Marshal(map[string]any{"transaction_id": txID, "user_id": "user-1", "record": rec})
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	return data
}

// collector records every message published on a topic.
type collector struct {
	mu   sync.Mutex
	msgs []*domain.Message
}

func collect(t *testing.T, b domain.EventBus, topic string) *collector {
	t.Helper()
	c := &collector{}
	_, err := b.Subscribe(context.Background(), topic, func(ctx context.Context, msg *domain.Message) error {
		c.mu.Lock()
		c.msgs = append(c.msgs, msg)
		c.mu.Unlock()
		return nil
	})
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}
	return c
}

func (c *collector) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.msgs)
}

func (c *collector) waitFor(t *testing.T, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if c.count() >= n {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timeout: got %d messages, want %d", c.count(), n)
}

func TestWorkerStartAndStop(t *testing.T) {
	eventBus := bus.NewChannelBus(100)
	defer eventBus.Close()

	w := NewWorker(eventBus, &stubScorer{})
	if err := w.Start(Config{WorkerCount: 2}); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := w.Start(Config{WorkerCount: 2}); err == nil {
		t.Error("expected error on second Start")
	}

	stats := w.GetStats()
	if stats.SubscriptionCount != 1 {
		t.Errorf("expected 1 subscription, got %d", stats.SubscriptionCount)
	}
	if stats.Topics[0] != domain.TopicTransactionSubmitted {
		t.Errorf("expected topic %q, got %q", domain.TopicTransactionSubmitted, stats.Topics[0])
	}

	if err := w.Stop(); err != nil {
		t.Errorf("Stop failed: %v", err)
	}
	if got := w.GetStats().SubscriptionCount; got != 0 {
		t.Errorf("expected 0 subscriptions after stop, got %d", got)
	}
}

func TestProcessOutcomes(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name    string
		scorer  *stubScorer
		payload []byte
		outcome string
		wantErr bool
		scored  int
		alerts  int
	}{
		{
			name:    "Allow",
			scorer:  &stubScorer{result: &domain.ScoreResult{Decision: domain.DecisionAllow}},
			outcome: OutcomeScored,
			scored:  1,
		},
		{
			name:    "BlockAlerts",
			scorer:  &stubScorer{result: &domain.ScoreResult{Decision: domain.DecisionBlock, Prediction: 1}},
			outcome: OutcomeScored,
			scored:  1,
			alerts:  1,
		},
		{
			name:    "InputErrorDropped",
			scorer:  &stubScorer{err: &domain.UnknownCategoryError{Feature: "merchant_category", Value: "crypto_exchange"}},
			outcome: OutcomeRejected,
		},
		{
			name:    "InternalErrorReported",
			scorer:  &stubScorer{err: &domain.InternalScoringError{Reason: "dimension mismatch"}},
			outcome: OutcomeFailed,
			wantErr: true,
		},
		{
			name:    "MissingFieldsRejected",
			scorer:  &stubScorer{result: &domain.ScoreResult{Decision: domain.DecisionAllow}},
			payload: []byte(`{"transaction_id":"tx-1","record":{"timestamp":"2025-01-15T14:30:00","merchant_category":"electronics","payment_method":"card","country_code":"US"}}`),
			outcome: OutcomeRejected,
		},
		{
			name:    "MissingRecordRejected",
			scorer:  &stubScorer{result: &domain.ScoreResult{Decision: domain.DecisionAllow}},
			payload: []byte(`{"transaction_id":"tx-1"}`),
			outcome: OutcomeRejected,
		},
		{
			name:    "MalformedPayload",
			scorer:  &stubScorer{},
			payload: []byte("{not json"),
			outcome: OutcomeMalformed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			eventBus := bus.NewChannelBus(10)
			defer eventBus.Close()
			scored := collect(t, eventBus, domain.TopicTransactionScored)
			alerts := collect(t, eventBus, domain.TopicAlert)

			payload := tt.payload
			if payload == nil {
				payload = request(t, "tx-1", scenario())
			}

			w := NewWorker(eventBus, tt.scorer)
			outcome, err := w.Process(ctx, &domain.Message{ID: "msg-1", Payload: payload})
			if outcome != tt.outcome {
				t.Errorf("outcome = %q, want %q", outcome, tt.outcome)
			}
			if (err != nil) != tt.wantErr {
				t.Errorf("err = %v, wantErr %v", err, tt.wantErr)
			}

			time.Sleep(30 * time.Millisecond)
			if scored.count() != tt.scored {
				t.Errorf("scored events = %d, want %d", scored.count(), tt.scored)
			}
			if alerts.count() != tt.alerts {
				t.Errorf("alerts = %d, want %d", alerts.count(), tt.alerts)
			}
		})
	}
}

func TestWorkerEndToEnd(t *testing.T) {
	snap, err := artifact.Load(domain.ArtifactConfig{Dir: "../../artifacts"}.Resolve())
	if err != nil {
		t.Fatalf("artifact load failed: %v", err)
	}
	engine, err := scoring.NewEngine(snap, scoring.Options{})
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}

	eventBus := bus.NewChannelBus(100)
	defer eventBus.Close()
	scored := collect(t, eventBus, domain.TopicTransactionScored)
	alerts := collect(t, eventBus, domain.TopicAlert)

	w := NewWorker(eventBus, engine)
	if err := w.Start(Config{WorkerCount: 4}); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer w.Stop()

	ctx := context.Background()
	bad := scenario()
	bad.MerchantCategory = "crypto_exchange"

	eventBus.Publish(ctx, domain.TopicTransactionSubmitted, request(t, "tx-review", scenario()))
	eventBus.Publish(ctx, domain.TopicTransactionSubmitted, request(t, "tx-bad", bad))

	scored.waitFor(t, 1)
	alerts.waitFor(t, 1)
	time.Sleep(50 * time.Millisecond)

	if scored.count() != 1 {
		t.Fatalf("expected exactly 1 scored event, got %d", scored.count())
	}

	var event domain.ScoredEvent
	scored.mu.Lock()
	payload := scored.msgs[0].Payload
	scored.mu.Unlock()
	if err := json.Unmarshal(payload, &event); err != nil {
		t.Fatalf("unmarshal scored event: %v", err)
	}
	if event.TransactionID != "tx-review" {
		t.Errorf("transaction id = %q", event.TransactionID)
	}
	if event.UserID != "user-1" {
		t.Errorf("user id = %q", event.UserID)
	}
	if event.Result.Decision != domain.DecisionReview {
		t.Errorf("decision = %s, want REVIEW", event.Result.Decision)
	}
	if event.Result.Prediction != 0 {
		t.Errorf("prediction = %d, want 0", event.Result.Prediction)
	}
	if len(event.Result.TopRiskFactors) != 5 {
		t.Errorf("expected 5 risk factors, got %d", len(event.Result.TopRiskFactors))
	}
}

func TestProcessMissingTransactionIDUsesMessageID(t *testing.T) {
	eventBus := bus.NewChannelBus(10)
	defer eventBus.Close()
	scored := collect(t, eventBus, domain.TopicTransactionScored)

	w := NewWorker(eventBus, &stubScorer{result: &domain.ScoreResult{Decision: domain.DecisionAllow}})
	payload, _ := json.Marshal(map[string]any{"record": scenario()})
	if _, err := w.Process(context.Background(), &domain.Message{ID: "msg-42", Payload: payload}); err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	scored.waitFor(t, 1)

	var event domain.ScoredEvent
	scored.mu.Lock()
	err := json.Unmarshal(scored.msgs[0].Payload, &event)
	scored.mu.Unlock()
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if event.TransactionID != "msg-42" {
		t.Errorf("transaction id = %q, want msg-42", event.TransactionID)
	}
}


// spanScorer reports the span context each Score call runs under.
type spanScorer struct {
	seen chan trace.SpanContext
}

func (s *spanScorer) Score(ctx context.Context, rec *domain.TransactionRecord) (*domain.ScoreResult, error) {
	s.seen <- trace.SpanContextFromContext(ctx)
	return &domain.ScoreResult{Decision: domain.DecisionAllow}, nil
}

func TestQueuedMessageKeepsSpanContext(t *testing.T) {
	eventBus := bus.NewChannelBus(10)
	defer eventBus.Close()

	scorer := &spanScorer{seen: make(chan trace.SpanContext, 1)}
	w := NewWorker(eventBus, scorer)
	if err := w.Start(Config{WorkerCount: 1}); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer w.Stop()

	parent := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    trace.TraceID{0x0a, 0x0b},
		SpanID:     trace.SpanID{0x01},
		TraceFlags: trace.FlagsSampled,
	})
	ctx := trace.ContextWithRemoteSpanContext(context.Background(), parent)
	if err := w.enqueue(ctx, &domain.Message{ID: "msg-1", Payload: request(t, "tx-1", scenario())}); err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}

	select {
	case got := <-scorer.seen:
		if got.TraceID() != parent.TraceID() {
			t.Errorf("trace id = %s, want %s", got.TraceID(), parent.TraceID())
		}
		if !got.IsRemote() {
			t.Error("expected remote span context")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("message was not scored")
	}
}
