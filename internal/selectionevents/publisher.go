// Package selectionevents publishes applied feature selections to Kafka.
package selectionevents

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/IBM/sarama"

	"github.com/mohammed-shakir/geoatlas/internal/core/model"
	"github.com/mohammed-shakir/geoatlas/internal/core/observability"
	"github.com/mohammed-shakir/geoatlas/internal/mapper"
	h3mapper "github.com/mohammed-shakir/geoatlas/internal/mapper/h3"
)

type Event struct {
	Kind       string    `json:"kind"`
	Name       string    `json:"name,omitempty"`
	Lon        float64   `json:"lon"`
	Lat        float64   `json:"lat"`
	Cell       string    `json:"cell,omitempty"`
	Res        int       `json:"res"`
	HasPhoto   bool      `json:"has_photo"`
	Generation uint64    `json:"generation"`
	TS         time.Time `json:"ts"`
}

type Option func(*Publisher)

func WithQueueSize(n int) Option {
	return func(p *Publisher) {
		if n > 0 {
			p.queueSize = n
		}
	}
}

// WithResolution sets the H3 resolution of Event.Cell.
func WithResolution(res int) Option {
	return func(p *Publisher) { p.res = res }
}

func WithMapper(m mapper.Interface) Option {
	return func(p *Publisher) {
		if m != nil {
			p.mapper = m
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(p *Publisher) {
		if l != nil {
			p.logger = l
		}
	}
}

type Publisher struct {
	topic     string
	queueSize int
	res       int
	mapper    mapper.Interface
	logger    *slog.Logger

	prod    sarama.AsyncProducer
	events  chan Event
	stopped chan struct{}
	errDone chan struct{}

	mu     sync.RWMutex
	closed bool
}

func NewPublisher(brokers []string, topic string, opts ...Option) (*Publisher, error) {
	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_5_0_0
	cfg.Producer.Return.Errors = true
	cfg.Producer.Return.Successes = false

	prod, err := sarama.NewAsyncProducer(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("selectionevents: create async producer: %w", err)
	}
	return NewWithProducer(prod, topic, opts...), nil
}

// NewWithProducer starts a publisher on an existing producer. The publisher owns prod.
func NewWithProducer(prod sarama.AsyncProducer, topic string, opts ...Option) *Publisher {
	p := &Publisher{
		topic:     topic,
		queueSize: 1024,
		res:       8,
		mapper:    h3mapper.New(),
		logger:    slog.Default(),
		prod:      prod,
		stopped:   make(chan struct{}),
		errDone:   make(chan struct{}),
	}
	for _, o := range opts {
		o(p)
	}
	p.events = make(chan Event, p.queueSize)

	go func() {
		defer close(p.stopped)
		for ev := range p.events {
			b, err := json.Marshal(ev)
			if err != nil {
				p.logger.Error("selectionevents: marshal", "err", err)
				continue
			}
			msg := &sarama.ProducerMessage{
				Topic: p.topic,
				Value: sarama.ByteEncoder(b),
			}
			if ev.Cell != "" {
				msg.Key = sarama.StringEncoder(ev.Cell)
			}
			p.prod.Input() <- msg
			observability.IncSelectionEvent("sent")
		}
	}()

	go func() {
		defer close(p.errDone)
		for err := range p.prod.Errors() {
			if err != nil {
				observability.IncSelectionEvent("error")
				p.logger.Warn("selectionevents: producer error", "err", err)
			}
		}
	}()

	return p
}

// Publish enqueues ev without blocking. It reports false when the event was
// dropped because the queue is full or the publisher is closed.
func (p *Publisher) Publish(ev Event) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return false
	}
	select {
	case p.events <- ev:
		return true
	default:
		observability.IncSelectionEvent("dropped")
		return false
	}
}

// OnSelection publishes an applied selection. Cleared selections are ignored.
func (p *Publisher) OnSelection(s model.SelectionState) {
	if !s.Active {
		return
	}
	ev := Event{
		Kind:       string(s.Kind),
		Res:        p.res,
		HasPhoto:   s.PhotoURL != nil,
		Generation: s.Generation,
		TS:         time.Now().UTC(),
	}
	if name, ok := s.Properties["Name"].(string); ok {
		ev.Name = name
	}
	if pt, err := h3mapper.Anchor(s.Geometry); err == nil {
		ev.Lon, ev.Lat = pt.Lon(), pt.Lat()
		if cell, err := p.mapper.CellForPoint(pt, p.res); err == nil {
			ev.Cell = cell
		} else {
			p.logger.Debug("selectionevents: no cell", "err", err)
		}
	}
	p.Publish(ev)
}

func (p *Publisher) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.events)
	p.mu.Unlock()

	<-p.stopped
	if err := p.prod.Close(); err != nil {
		return fmt.Errorf("selectionevents: close producer: %w", err)
	}
	<-p.errDone
	return nil
}
