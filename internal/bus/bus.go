package bus

import (
	"errors"
	"fmt"

	"github.com/Thisen-Ekanayake/Plutus/internal/domain"
)

// New creates an event bus based on configuration: in-process channels,
// NATS subjects or Kafka topics.
func New(cfg domain.EventBusConfig) (domain.EventBus, error) {
	switch cfg.Type {
	case "channel":
		return NewChannelBus(cfg.ChannelBufferSize), nil

	case "nats":
		return NewNATSBus(cfg)

	case "kafka":
		return NewKafkaBus(cfg)

	default:
		return nil, fmt.Errorf("unsupported event bus type: %s", cfg.Type)
	}
}

var (
	// ErrClosed is returned by operations on a closed bus.
	ErrClosed = errors.New("bus is closed")

	// ErrBufferFull is returned when an in-process subscriber cannot accept
	// a message.
	ErrBufferFull = errors.New("subscriber buffer full")
)
