// Package publisher provides the audit emission path used by services.
//
// Emit is synchronous by default so a failed audit write fails the operation
// that produced it. WithAsyncBuffer switches to a buffered background writer
// for high-churn operational events; Close drains the buffer. An optional
// secondary Sink (e.g. Kafka) receives a copy of every event for downstream
// compliance consumers.
package publisher

import (
	"context"
	"log/slog"
	"sync"
	"time"

	id "trustgate/pkg/domain"
	audit "trustgate/pkg/platform/audit"
)

// Store is the durable destination for audit events.
type Store interface {
	Append(ctx context.Context, event audit.Event) error
	ListByRequest(ctx context.Context, requestID id.RequestID) ([]audit.Event, error)
	ListRecent(ctx context.Context, limit int) ([]audit.Event, error)
}

// Sink receives a copy of every event after the store append succeeds.
// Sink failures are logged, never propagated: the store is the source of
// truth, the sink is a feed.
type Sink interface {
	Publish(ctx context.Context, event audit.Event) error
}

// Publisher fans audit events out to the store and optional sink.
type Publisher struct {
	store  Store
	sink   Sink
	logger *slog.Logger

	async  chan audit.Event
	done   chan struct{}
	closed sync.Once
}

// Option configures a Publisher.
type Option func(*Publisher)

// WithAsyncBuffer enables asynchronous emission with the given buffer size.
func WithAsyncBuffer(size int) Option {
	return func(p *Publisher) {
		p.async = make(chan audit.Event, size)
	}
}

// WithSink attaches a secondary event sink.
func WithSink(sink Sink) Option {
	return func(p *Publisher) { p.sink = sink }
}

// WithLogger sets the logger used for async and sink failures.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Publisher) { p.logger = logger }
}

// NewPublisher constructs a publisher over the given store.
func NewPublisher(store Store, opts ...Option) *Publisher {
	p := &Publisher{
		store:  store,
		logger: slog.Default(),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.async != nil {
		go p.drain()
	}
	return p
}

// Emit records an audit event. Missing timestamps are stamped here so call
// sites stay terse; the category is always derived from the action.
func (p *Publisher) Emit(ctx context.Context, event audit.Event) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	event.Category = audit.AuditEvent(event.Action).Category()

	if p.async != nil {
		select {
		case p.async <- event:
		default:
			// Buffer full: fall through to a synchronous write rather than
			// dropping the event.
			p.write(ctx, event)
		}
		return nil
	}

	return p.writeErr(ctx, event)
}

// List returns the trail for one verification request.
func (p *Publisher) List(ctx context.Context, requestID id.RequestID) ([]audit.Event, error) {
	return p.store.ListByRequest(ctx, requestID)
}

// ListRecent returns the newest events across all requests.
func (p *Publisher) ListRecent(ctx context.Context, limit int) ([]audit.Event, error) {
	return p.store.ListRecent(ctx, limit)
}

// Close stops the async writer and drains any buffered events.
func (p *Publisher) Close() {
	p.closed.Do(func() {
		if p.async != nil {
			close(p.async)
			<-p.done
		}
	})
}

func (p *Publisher) drain() {
	for event := range p.async {
		p.write(context.Background(), event)
	}
	close(p.done)
}

func (p *Publisher) write(ctx context.Context, event audit.Event) {
	if err := p.writeErr(ctx, event); err != nil {
		p.logger.Error("audit append failed",
			"action", event.Action,
			"request_id", event.RequestID.String(),
			"error", err,
		)
	}
}

func (p *Publisher) writeErr(ctx context.Context, event audit.Event) error {
	if err := p.store.Append(ctx, event); err != nil {
		return err
	}
	if p.sink != nil {
		if err := p.sink.Publish(ctx, event); err != nil {
			p.logger.Error("audit sink publish failed",
				"action", event.Action,
				"request_id", event.RequestID.String(),
				"error", err,
			)
		}
	}
	return nil
}
