// Package events provides the in-process event bus announcing newly
// available rating changes to interested listeners.
package events

import (
	"context"
	"fmt"
	"sync"

	"github.com/okian/cfcache/internal/domain/model"
	"github.com/okian/cfcache/pkg/logger"
	"github.com/okian/cfcache/pkg/metrics"
)

// RatingChangesUpdate is published once per successful rating-change fetch,
// after the data has been stored.
type RatingChangesUpdate struct {
	Contest model.Contest
	Changes []model.RatingChange
}

// Listener handles one published event. Errors are logged, not propagated.
type Listener func(ctx context.Context, ev RatingChangesUpdate) error

// registration wraps a listener with its delivery policy.
type registration struct {
	name       string
	fn         Listener
	serialized bool
	runMu      sync.Mutex // held around fn when serialized
}

// Bus fans events out to registered listeners. Listeners run concurrently
// unless registered serialized, in which case no two deliveries to that
// listener overlap. One listener's failure never affects the others.
type Bus struct {
	mu        sync.RWMutex
	listeners []*registration
	wg        sync.WaitGroup
	logger    logger.Logger
}

// Option applies a configuration option to the Bus.
type Option func(*Bus)

// WithBusLogger sets a custom logger.
func WithBusLogger(l logger.Logger) Option {
	return func(b *Bus) {
		if l != nil {
			b.logger = l
		}
	}
}

// New creates an event bus.
func New(opts ...Option) *Bus {
	b := &Bus{}
	for _, opt := range opts {
		opt(b)
	}
	if b.logger == nil {
		b.logger = logger.Named("events")
	}
	return b
}

// ListenerOption applies a registration option to one listener.
type ListenerOption func(*registration)

// WithSerialized serializes deliveries to this listener across concurrent
// Notify calls. Useful for handlers that mutate external state, e.g. role
// updates, where two overlapping runs would race.
func WithSerialized() ListenerOption {
	return func(r *registration) {
		r.serialized = true
	}
}

// WithName names the listener in logs.
func WithName(name string) ListenerOption {
	return func(r *registration) {
		if name != "" {
			r.name = name
		}
	}
}

// AddListener registers a handler for future events.
func (b *Bus) AddListener(fn Listener, opts ...ListenerOption) {
	r := &registration{fn: fn}
	for _, opt := range opts {
		opt(r)
	}
	b.mu.Lock()
	if r.name == "" {
		r.name = fmt.Sprintf("listener-%d", len(b.listeners))
	}
	b.listeners = append(b.listeners, r)
	b.mu.Unlock()
}

// Notify delivers ev to every registered listener and returns without
// waiting for them to finish.
func (b *Bus) Notify(ctx context.Context, ev RatingChangesUpdate) {
	b.mu.RLock()
	regs := make([]*registration, len(b.listeners))
	copy(regs, b.listeners)
	b.mu.RUnlock()

	for _, r := range regs {
		b.wg.Add(1)
		go b.deliver(ctx, r, ev)
	}
}

func (b *Bus) deliver(ctx context.Context, r *registration, ev RatingChangesUpdate) {
	defer b.wg.Done()
	defer func() {
		if rec := recover(); rec != nil {
			metrics.RecordEventListenerError()
			b.logger.Error(ctx, "listener panicked",
				logger.String("listener", r.name),
				logger.Int64("contestID", ev.Contest.ID),
				logger.Any("panic", rec))
		}
	}()

	if r.serialized {
		r.runMu.Lock()
		defer r.runMu.Unlock()
	}

	if err := r.fn(ctx, ev); err != nil {
		metrics.RecordEventListenerError()
		b.logger.Error(ctx, "listener failed",
			logger.String("listener", r.name),
			logger.Int64("contestID", ev.Contest.ID),
			logger.Error(err))
		return
	}
	metrics.RecordEventDelivery()
}

// Wait blocks until every in-flight delivery has finished.
func (b *Bus) Wait() {
	b.wg.Wait()
}
