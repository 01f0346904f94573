package domain

import (
	"context"
)

// EventBus defines the interface for event-driven communication.
// Supports Go channels (single process), NATS or Kafka.
type EventBus interface {
	// Publish sends a message to a topic.
	Publish(ctx context.Context, topic string, payload []byte) error

	// Subscribe registers a handler for a topic.
	// Returns a subscription that can be used to unsubscribe.
	Subscribe(ctx context.Context, topic string, handler MessageHandler) (Subscription, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// MessageHandler processes incoming messages.
type MessageHandler func(ctx context.Context, msg *Message) error

// Message represents an event message.
type Message struct {
	ID        string            `json:"id"`
	Topic     string            `json:"topic"`
	Payload   []byte            `json:"payload"`
	Metadata  map[string]string `json:"metadata"`
	Timestamp int64             `json:"timestamp"`
}

// Subscription represents an active subscription.
type Subscription interface {
	// Unsubscribe stops receiving messages.
	Unsubscribe() error

	// Topic returns the subscribed topic.
	Topic() string
}

// EventBusConfig holds configuration for event bus initialization.
type EventBusConfig struct {
	// Type is the bus type: "channel", "nats" or "kafka"
	Type string

	// Channel settings
	ChannelBufferSize int

	// NATS settings
	NATSUrl           string
	NATSToken         string
	NATSMaxReconnects int
	NATSReconnectWait int // seconds
	NATSQueueGroup    string

	// Kafka settings
	KafkaBrokers []string
	KafkaGroup   string
}

// Topic names for asynchronous scoring.
const (
	TopicTransactionSubmitted = "plutus.transaction.submitted"
	TopicTransactionScored    = "plutus.transaction.scored"
	TopicAlert                = "plutus.alert"
)

// ScoringRequest is the payload published on TopicTransactionSubmitted and
// the body of POST /score/async.
type ScoringRequest struct {
	TransactionID string       `json:"transaction_id,omitempty"`
	UserID        string       `json:"user_id,omitempty"`
	Record        *RecordInput `json:"record"`
}

// TransactionRecord returns the complete record carried by the request.
func (r *ScoringRequest) TransactionRecord() (*TransactionRecord, error) {
	if r.Record == nil {
		return nil, &InvalidValueError{Feature: "record", Reason: "is required"}
	}
	return r.Record.Record()
}

// ScoredEvent is published on TopicTransactionScored and, for REVIEW and
// BLOCK decisions, on TopicAlert.
type ScoredEvent struct {
	TransactionID string       `json:"transaction_id"`
	UserID        string       `json:"user_id,omitempty"`
	Result        *ScoreResult `json:"result"`
	ScoredAt      int64        `json:"scored_at"`
}
