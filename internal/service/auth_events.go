package service

import (
	"sync"

	"go.uber.org/zap"

	"github.com/noah-isme/sma-console-api/internal/models"
)

const authEventBuffer = 64

// AuthEventBus fans auth state changes out to subscribers. Each subscriber
// receives events in publish order on its own goroutine.
type AuthEventBus struct {
	mu     sync.RWMutex
	subs   map[uint64]*authSubscriber
	nextID uint64
	closed bool
	logger *zap.Logger
}

type authSubscriber struct {
	events  chan models.AuthEvent
	handler func(models.AuthEvent)
	done    chan struct{}
	once    sync.Once
}

// NewAuthEventBus creates an empty bus.
func NewAuthEventBus(logger *zap.Logger) *AuthEventBus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuthEventBus{subs: make(map[uint64]*authSubscriber), logger: logger}
}

// Subscribe registers handler and returns a function that removes it.
func (b *AuthEventBus) Subscribe(handler func(models.AuthEvent)) func() {
	sub := &authSubscriber{
		events:  make(chan models.AuthEvent, authEventBuffer),
		handler: handler,
		done:    make(chan struct{}),
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return func() {}
	}
	id := b.nextID
	b.nextID++
	b.subs[id] = sub
	b.mu.Unlock()

	go b.run(sub)

	return func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
		sub.stop()
	}
}

// Publish queues event for every subscriber. A subscriber whose queue is full drops the event.
func (b *AuthEventBus) Publish(event models.AuthEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs {
		select {
		case sub.events <- event:
		default:
			b.logger.Warn("auth event dropped", zap.String("type", string(event.Type)), zap.String("identity_id", event.IdentityID))
		}
	}
}

// Close stops every subscriber.
func (b *AuthEventBus) Close() {
	b.mu.Lock()
	subs := b.subs
	b.subs = make(map[uint64]*authSubscriber)
	b.closed = true
	b.mu.Unlock()
	for _, sub := range subs {
		sub.stop()
	}
}

func (b *AuthEventBus) run(sub *authSubscriber) {
	for {
		select {
		case <-sub.done:
			return
		case event := <-sub.events:
			b.dispatch(sub, event)
		}
	}
}

func (b *AuthEventBus) dispatch(sub *authSubscriber, event models.AuthEvent) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("auth event handler panicked", zap.String("type", string(event.Type)), zap.Any("panic", r))
		}
	}()
	sub.handler(event)
}

func (s *authSubscriber) stop() {
	s.once.Do(func() { close(s.done) })
}
