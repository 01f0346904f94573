package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/Thisen-Ekanayake/Plutus/internal/domain"
)

var errNoMessageID = errors.New("message envelope has no id")

// newMessage stamps a message for topic. The trace context of ctx travels
// in the metadata.
func newMessage(ctx context.Context, topic string, payload []byte) *domain.Message {
	msg := &domain.Message{
		ID:        uuid.New().String(),
		Topic:     topic,
		Payload:   payload,
		Metadata:  make(map[string]string),
		Timestamp: time.Now().UnixNano(),
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.MapCarrier(msg.Metadata))
	return msg
}

// messageContext continues ctx with the trace context msg was published
// under, if it carried one.
func messageContext(ctx context.Context, msg *domain.Message) context.Context {
	if len(msg.Metadata) == 0 {
		return ctx
	}
	return otel.GetTextMapPropagator().Extract(ctx, propagation.MapCarrier(msg.Metadata))
}

// encodeEnvelope builds the JSON wire form shared by the NATS and Kafka
// buses.
func encodeEnvelope(ctx context.Context, topic string, payload []byte) ([]byte, error) {
	msg := newMessage(ctx, topic, payload)
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal message: %w", err)
	}
	return data, nil
}

// decodeEnvelope parses data and returns ctx continued with the publisher's
// trace context, if it carried one.
func decodeEnvelope(ctx context.Context, data []byte) (context.Context, *domain.Message, error) {
	var msg domain.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return ctx, nil, err
	}
	if msg.ID == "" {
		return ctx, nil, errNoMessageID
	}
	return messageContext(ctx, &msg), &msg, nil
}
