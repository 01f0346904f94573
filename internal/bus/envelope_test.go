package bus

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/Thisen-Ekanayake/Plutus/internal/domain"
)

func TestEnvelope(t *testing.T) {
	ctx := context.Background()
	data, err := encodeEnvelope(ctx, domain.TopicTransactionScored, []byte(`{"transaction_id":"tx-1"}`))
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	_, msg, err := decodeEnvelope(ctx, data)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if msg.Topic != domain.TopicTransactionScored {
		t.Errorf("topic = %q", msg.Topic)
	}
	if string(msg.Payload) != `{"transaction_id":"tx-1"}` {
		t.Errorf("payload = %s", msg.Payload)
	}

	if _, _, err := decodeEnvelope(ctx, []byte(`{"topic":"x"}`)); !errors.Is(err, errNoMessageID) {
		t.Errorf("expected errNoMessageID, got %v", err)
	}
	if _, _, err := decodeEnvelope(ctx, []byte(`not json`)); err == nil {
		t.Error("expected error for invalid json")
	}
}

func TestEnvelopeCarriesTraceContext(t *testing.T) {
	prev := otel.GetTextMapPropagator()
	otel.SetTextMapPropagator(propagation.TraceContext{})
	t.Cleanup(func() { otel.SetTextMapPropagator(prev) })

	traceID, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	spanID, _ := trace.SpanIDFromHex("00f067aa0ba902b7")
	parent := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.FlagsSampled,
	})

	data, err := encodeEnvelope(trace.ContextWithSpanContext(context.Background(), parent), "t", []byte(`{}`))
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}

	ctx, msg, err := decodeEnvelope(context.Background(), data)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if msg.Metadata["traceparent"] == "" {
		t.Fatal("expected traceparent in metadata")
	}
	got := trace.SpanContextFromContext(ctx)
	if got.TraceID() != traceID || !got.IsRemote() {
		t.Errorf("trace not continued: %v remote=%v", got.TraceID(), got.IsRemote())
	}
}
