package kafkaconsumer

import (
	"time"

	"github.com/mohammed-shakir/geoatlas/internal/core/config"
)

type Config struct {
	Brokers          []string
	Topic            string
	GroupID          string
	SessionTimeout   time.Duration
	Heartbeat        time.Duration
	RebalanceTimeout time.Duration
	// FromOldest replays the retained topic on first join instead of
	// starting at the newest offset.
	FromOldest   bool
	DedupeSize   int
	Retries      int
	RetryBackoff time.Duration
}

func FromConfig(c config.Config) Config {
	return Config{
		Brokers:          c.Kafka.Brokers,
		Topic:            c.Invalidation.Topic,
		GroupID:          c.Kafka.GroupID,
		SessionTimeout:   30 * time.Second,
		Heartbeat:        3 * time.Second,
		RebalanceTimeout: 30 * time.Second,
		FromOldest:       c.Invalidation.FromOldest,
		DedupeSize:       4096,
		Retries:          max(c.Invalidation.Retries, 0),
		RetryBackoff:     200 * time.Millisecond,
	}
}
