package kafkaconsumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/IBM/sarama"

	"github.com/mohammed-shakir/geoatlas/internal/core/model"
	obs "github.com/mohammed-shakir/geoatlas/internal/core/observability"
	"github.com/mohammed-shakir/geoatlas/internal/invalidation"
	mylog "github.com/mohammed-shakir/geoatlas/internal/logger"
)

// Invalidator drops cached responses for layers.
type Invalidator interface {
	Invalidate(ctx context.Context, ids ...model.LayerID) error
}

// Refresher re-fetches the active layers when any of ids is among them.
type Refresher interface {
	Refresh(ctx context.Context, ids ...model.LayerID) (uint64, bool)
}

type Consumer struct {
	cfg    Config
	logger *slog.Logger
	inv    Invalidator
	ref    Refresher
	dedupe *seqDedupe
}

// New builds a consumer. ref may be nil when no viewer is attached.
func New(cfg Config, logger *slog.Logger, inv Invalidator, ref Refresher) *Consumer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Consumer{
		cfg:    cfg,
		logger: logger,
		inv:    inv,
		ref:    ref,
		dedupe: newSeqDedupe(cfg.DedupeSize),
	}
}

// Start consumes invalidation events until ctx is done.
func (c *Consumer) Start(ctx context.Context) error {
	if c.inv == nil {
		return errors.New("kafkaconsumer: missing dependencies (invalidator)")
	}

	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_1_0_0
	cfg.Consumer.Group.Session.Timeout = c.cfg.SessionTimeout
	cfg.Consumer.Group.Heartbeat.Interval = c.cfg.Heartbeat
	cfg.Consumer.Group.Rebalance.Timeout = c.cfg.RebalanceTimeout
	if c.cfg.FromOldest {
		cfg.Consumer.Offsets.Initial = sarama.OffsetOldest
	} else {
		cfg.Consumer.Offsets.Initial = sarama.OffsetNewest
	}
	cfg.Consumer.Offsets.AutoCommit.Enable = true

	group, err := sarama.NewConsumerGroup(c.cfg.Brokers, c.cfg.GroupID, cfg)
	if err != nil {
		return fmt.Errorf("create consumer group: %w", err)
	}
	defer func() { _ = group.Close() }()

	handler := &groupHandler{
		process: c.ProcessOne,
		retries: c.cfg.Retries,
		backoff: c.cfg.RetryBackoff,
	}
	ctx = mylog.WithComponent(ctx, "kafka_consumer")

	c.logger.InfoContext(ctx, "kafka invalidation consumer starting",
		"brokers", c.cfg.Brokers, "topic", c.cfg.Topic, "group", c.cfg.GroupID)

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("kafka invalidation consumer shutting down")
			return nil
		default:
			if err := group.Consume(ctx, []string{c.cfg.Topic}, handler); err != nil {
				if ctx.Err() != nil {
					continue
				}
				obs.IncKafkaConsumerError("session")
				c.logger.ErrorContext(ctx, "kafka consumer error",
					"err", err, "brokers", c.cfg.Brokers, "topic", c.cfg.Topic)
				select {
				case <-ctx.Done():
				case <-time.After(2 * time.Second):
				}
			}
		}
	}
}

// ProcessOne applies a single invalidation message. Malformed events are
// logged and skipped; a failed cache delete is returned so the message is retried.
func (c *Consumer) ProcessOne(ctx context.Context, msg *sarama.ConsumerMessage) error {
	var ev invalidation.Event
	if err := json.Unmarshal(msg.Value, &ev); err != nil {
		c.reject(ctx, msg, "decode", err)
		return nil
	}
	if err := ev.Validate(); err != nil {
		c.reject(ctx, msg, "validate", err)
		return nil
	}

	ctx = mylog.WithLayer(ctx, ev.Layer)
	if ev.Seq > 0 && c.dedupe.stale(ev.Layer, ev.Seq) {
		obs.ObserveInvalidation("duplicate", nil)
		c.logger.DebugContext(ctx, "stale invalidation skipped", "op", ev.Op, "seq", ev.Seq)
		return nil
	}

	id := ev.LayerID()
	if err := c.inv.Invalidate(ctx, id); err != nil {
		obs.IncKafkaConsumerError("cache_del")
		obs.ObserveInvalidation(ev.Op, err)
		c.logger.ErrorContext(ctx, "cache delete failed",
			"op", ev.Op, "partition", msg.Partition, "offset", msg.Offset, "err", err)
		return fmt.Errorf("invalidate %q: %w", ev.Layer, err)
	}

	if ev.Seq > 0 {
		c.dedupe.applied(ev.Layer, ev.Seq)
	}

	refreshed := false
	var gen uint64
	if c.ref != nil {
		gen, refreshed = c.ref.Refresh(ctx, id)
	}

	obs.ObserveInvalidation(ev.Op, nil)
	c.logger.InfoContext(ctx, "layer invalidated",
		"op", ev.Op, "seq", ev.Seq, "refreshed", refreshed, "generation", gen)
	return nil
}

func (c *Consumer) reject(ctx context.Context, msg *sarama.ConsumerMessage, kind string, err error) {
	obs.IncKafkaConsumerError(kind)
	c.logger.WarnContext(ctx, "invalid invalidation event skipped",
		"kind", kind, "err", err, "topic", msg.Topic,
		"partition", msg.Partition, "offset", msg.Offset)
}
