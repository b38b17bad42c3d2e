// Package invalidation keeps the process-local caches of several replicas
// consistent by broadcasting document events over Kafka.
package invalidation

import (
	"context"
	"log/slog"
	"time"

	"github.com/Adithya-Monish-Kumar-K/lexical-retriever/internal/document"
	"github.com/Adithya-Monish-Kumar-K/lexical-retriever/pkg/kafka"
)

// Evicter drops a document from the local caches.
type Evicter interface {
	EvictCached(id string) bool
}

// ResponseCache is a cache of whole search responses.
type ResponseCache interface {
	Invalidate(ctx context.Context) error
}

// Publisher is a document.Notifier that forwards events to Kafka from a
// background loop, stamping them with this replica's origin.
type Publisher struct {
	publisher kafka.Publisher
	origin    string
	eventCh   chan document.Event
	logger    *slog.Logger
}

func NewPublisher(publisher kafka.Publisher, origin string, bufferSize int) *Publisher {
	if bufferSize <= 0 {
		bufferSize = 1024
	}
	return &Publisher{
		publisher: publisher,
		origin:    origin,
		eventCh:   make(chan document.Event, bufferSize),
		logger:    slog.Default().With("component", "invalidation-publisher"),
	}
}

// Notify queues e for publishing. A full queue drops the event.
func (p *Publisher) Notify(_ context.Context, e document.Event) {
	e.Origin = p.origin
	select {
	case p.eventCh <- e:
	default:
		p.logger.Warn("document event dropped (buffer full)", "type", e.Type, "doc_id", e.DocumentID)
	}
}

// Run publishes queued events until ctx is cancelled, then flushes what is
// left.
func (p *Publisher) Run(ctx context.Context) error {
	p.logger.Info("invalidation publisher started", "origin", p.origin)
	for {
		select {
		case e := <-p.eventCh:
			p.publish(ctx, p.collect(e))
		case <-ctx.Done():
			p.drain()
			p.logger.Info("invalidation publisher stopped")
			return nil
		}
	}
}

func (p *Publisher) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for {
		select {
		case e := <-p.eventCh:
			p.publish(ctx, p.collect(e))
		default:
			return
		}
	}
}

// collect gathers e and whatever else is already queued into one batch.
func (p *Publisher) collect(e document.Event) []kafka.Event {
	batch := []kafka.Event{{Key: e.DocumentID, Value: e}}
	for len(batch) < 100 {
		select {
		case next := <-p.eventCh:
			batch = append(batch, kafka.Event{Key: next.DocumentID, Value: next})
		default:
			return batch
		}
	}
	return batch
}

func (p *Publisher) publish(ctx context.Context, batch []kafka.Event) {
	if err := p.publisher.PublishBatch(ctx, batch); err != nil {
		p.logger.Error("failed to publish document events", "count", len(batch), "error", err)
	}
}

// Handler applies document events published by other replicas. A deleted
// document is evicted from the local caches; events from origin itself are
// ignored since the local service already applied them.
func Handler(origin string, evicter Evicter) kafka.MessageHandler {
	logger := slog.Default().With("component", "invalidation-consumer")
	return func(ctx context.Context, key []byte, value []byte) error {
		e, err := kafka.DecodeJSON[document.Event](value)
		if err != nil {
			logger.Error("failed to decode document event", "error", err)
			return nil
		}
		if e.Origin == origin || e.Type != document.EventDeleted {
			return nil
		}
		if evicter.EvictCached(e.DocumentID) {
			logger.Debug("evicted remotely deleted document", "doc_id", e.DocumentID, "origin", e.Origin)
		}
		return nil
	}
}

// ResponseInvalidator returns a notifier that clears the shared response
// cache whenever a document is deleted.
func ResponseInvalidator(cache ResponseCache) document.Notifier {
	logger := slog.Default().With("component", "response-invalidator")
	return document.NotifierFunc(func(ctx context.Context, e document.Event) {
		if e.Type != document.EventDeleted {
			return
		}
		if err := cache.Invalidate(ctx); err != nil {
			logger.Error("failed to invalidate response cache", "doc_id", e.DocumentID, "error", err)
		}
	})
}
