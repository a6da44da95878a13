package kafkaconsumer

import (
	"context"
	"fmt"
	"time"

	"github.com/IBM/sarama"

	obs "github.com/mohammed-shakir/geoatlas/internal/core/observability"
)

type messageProcessor func(context.Context, *sarama.ConsumerMessage) error

type groupHandler struct {
	process messageProcessor
	// retries is how many more times a failing message is tried before the
	// claim gives up; backoff doubles after every attempt.
	retries int
	backoff time.Duration
}

func (h *groupHandler) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (h *groupHandler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

// ConsumeClaim handles one partition in order. An offset is marked only after
// its message was processed; when retries run out the claim ends unmarked
// and the message is redelivered after the next rebalance.
func (h *groupHandler) ConsumeClaim(sess sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	ctx := sess.Context()
	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("claim context done: %w", ctx.Err())
		case msg, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			if err := h.processWithRetry(ctx, msg); err != nil {
				return fmt.Errorf("process failed (topic=%s, part=%d, off=%d): %w",
					msg.Topic, msg.Partition, msg.Offset, err)
			}
			sess.MarkMessage(msg, "")
		}
	}
}

func (h *groupHandler) processWithRetry(ctx context.Context, msg *sarama.ConsumerMessage) error {
	wait := h.backoff
	for attempt := 0; ; attempt++ {
		start := time.Now()
		err := h.process(ctx, msg)
		obs.ObserveUpstreamLatency("kafka_process", time.Since(start).Seconds())
		if err == nil || attempt >= h.retries {
			return err
		}
		obs.IncKafkaConsumerError("retry")
		select {
		case <-ctx.Done():
			return err
		case <-time.After(wait):
		}
		wait *= 2
	}
}
