package bus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/Thisen-Ekanayake/Plutus/internal/domain"
	"github.com/Thisen-Ekanayake/Plutus/internal/logging"
)

// DefaultKafkaGroup is the consumer group used when none is configured.
const DefaultKafkaGroup = "plutus-scoring"

// KafkaBus implements EventBus over Kafka topics. One producer client is
// shared by all publishers; every subscription runs its own group consumer.
type KafkaBus struct {
	mu            sync.Mutex
	brokers       []string
	group         string
	producer      *kgo.Client
	subscriptions map[string]*kafkaSubscription
	closed        bool
}

type kafkaSubscription struct {
	id     string
	topic  string
	client *kgo.Client
	cancel context.CancelFunc
	done   chan struct{}
	bus    *KafkaBus
}

// NewKafkaBus creates the shared producer client.
func NewKafkaBus(cfg domain.EventBusConfig) (*KafkaBus, error) {
	if len(cfg.KafkaBrokers) == 0 {
		return nil, fmt.Errorf("kafka bus requires at least one broker")
	}
	group := cfg.KafkaGroup
	if group == "" {
		group = DefaultKafkaGroup
	}

	producer, err := kgo.NewClient(
		kgo.SeedBrokers(cfg.KafkaBrokers...),
		kgo.ClientID("plutus"),
		kgo.AllowAutoTopicCreation(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}

	return &KafkaBus{
		brokers:       cfg.KafkaBrokers,
		group:         group,
		producer:      producer,
		subscriptions: make(map[string]*kafkaSubscription),
	}, nil
}

// Publish produces one record synchronously so callers learn about broker
// failures.
func (b *KafkaBus) Publish(ctx context.Context, topic string, payload []byte) error {
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return ErrClosed
	}

	data, err := encodeEnvelope(ctx, topic, payload)
	if err != nil {
		return err
	}

	record := &kgo.Record{
		Topic:     topic,
		Value:     data,
		Timestamp: time.Now(),
	}
	if err := b.producer.ProduceSync(ctx, record).FirstErr(); err != nil {
		return fmt.Errorf("kafka publish to %s: %w", topic, err)
	}
	return nil
}

// Subscribe starts a consumer in the bus's group for topic.
func (b *KafkaBus) Subscribe(ctx context.Context, topic string, handler domain.MessageHandler) (domain.Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}

	client, err := kgo.NewClient(
		kgo.SeedBrokers(b.brokers...),
		kgo.ClientID("plutus"),
		kgo.ConsumerGroup(b.group),
		kgo.ConsumeTopics(topic),
		kgo.AllowAutoTopicCreation(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka consumer: %w", err)
	}

	subCtx, cancel := context.WithCancel(ctx)
	sub := &kafkaSubscription{
		id:     uuid.New().String(),
		topic:  topic,
		client: client,
		cancel: cancel,
		done:   make(chan struct{}),
		bus:    b,
	}
	go sub.poll(subCtx, handler)

	b.subscriptions[sub.id] = sub
	return sub, nil
}

func (s *kafkaSubscription) poll(ctx context.Context, handler domain.MessageHandler) {
	defer close(s.done)
	logging.L(ctx).Info("kafka consumer started", "topic", s.topic, "group", s.bus.group)

	for {
		fetches := s.client.PollFetches(ctx)
		if fetches.IsClientClosed() || ctx.Err() != nil {
			return
		}
		for _, fe := range fetches.Errors() {
			if errors.Is(fe.Err, context.Canceled) {
				return
			}
			logging.L(ctx).Error("kafka fetch error",
				"topic", fe.Topic,
				"partition", fe.Partition,
				"error", fe.Err,
			)
		}

		fetches.EachRecord(func(record *kgo.Record) {
			msgCtx, msg, err := decodeEnvelope(ctx, record.Value)
			if err != nil {
				logging.L(ctx).Error("failed to decode kafka record",
					"topic", record.Topic,
					"offset", record.Offset,
					"error", err,
				)
				return
			}
			if err := handler(msgCtx, msg); err != nil {
				logging.L(msgCtx).Error("handler error",
					"topic", record.Topic,
					"message_id", msg.ID,
					"error", err,
				)
			}
		})
	}
}

// Ping checks that at least one broker answers.
func (b *KafkaBus) Ping(ctx context.Context) error {
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return ErrClosed
	}
	return b.producer.Ping(ctx)
}

// Close stops every consumer and then the producer.
func (b *KafkaBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	subs := b.subscriptions
	b.subscriptions = make(map[string]*kafkaSubscription)
	b.mu.Unlock()

	for _, sub := range subs {
		sub.stop()
	}
	b.producer.Close()
	return nil
}

func (s *kafkaSubscription) stop() {
	s.cancel()
	<-s.done
	s.client.Close()
}

// Unsubscribe stops the consumer and leaves the group.
func (s *kafkaSubscription) Unsubscribe() error {
	s.bus.mu.Lock()
	_, ok := s.bus.subscriptions[s.id]
	delete(s.bus.subscriptions, s.id)
	s.bus.mu.Unlock()
	if ok {
		s.stop()
	}
	return nil
}

// Topic returns the subscribed topic.
func (s *kafkaSubscription) Topic() string {
	return s.topic
}
