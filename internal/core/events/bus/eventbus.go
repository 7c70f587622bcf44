package bus

import (
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// subscription implements Subscription.
type subscription struct {
	id        string
	eventType Type
	agent     string
	handler   EventHandler
	active    bool
	cancel    func()
}

func (s *subscription) ID() string      { return s.id }
func (s *subscription) EventType() Type { return s.eventType }
func (s *subscription) Agent() string   { return s.agent }
func (s *subscription) IsActive() bool  { return s.active }
func (s *subscription) Cancel() error {
	if s.cancel != nil {
		s.cancel()
	}
	return nil
}

// inMemoryBus keeps subscriptions in registration order so delivery is
// deterministic.
type inMemoryBus struct {
	mu        sync.RWMutex
	subs      []*subscription
	metrics   EventBusMetrics
	observers map[EventBusObserver]struct{}
}

// New creates a new EventBus instance.
func New() EventBus {
	return &inMemoryBus{
		observers: make(map[EventBusObserver]struct{}),
	}
}

func (b *inMemoryBus) Publish(event Event) error {
	return b.deliver(event)
}

func (b *inMemoryBus) PublishWithFilters(event Event, filters ...EventFilter) error {
	for _, f := range filters {
		if !f(event) {
			b.mu.Lock()
			if len(b.observers) > 0 {
				b.metrics.DroppedByFilters++
			}
			b.mu.Unlock()
			return nil
		}
	}
	return b.Publish(event)
}

func (b *inMemoryBus) Subscribe(eventType Type, handler EventHandler) (Subscription, error) {
	return b.SubscribeAgent("", eventType, handler)
}

func (b *inMemoryBus) SubscribeAgent(agent string, eventType Type, handler EventHandler) (Subscription, error) {
	if handler == nil {
		return nil, errors.New("bus: nil handler")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	s := &subscription{
		id:        uuid.NewString(),
		eventType: eventType,
		agent:     agent,
		handler:   handler,
		active:    true,
	}
	s.cancel = func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.subs = slices.DeleteFunc(b.subs, func(o *subscription) bool { return o == s })
		s.active = false
	}
	b.subs = append(b.subs, s)
	return s, nil
}

func (b *inMemoryBus) Unsubscribe(sub Subscription) error {
	if sub == nil {
		return nil
	}
	return sub.Cancel()
}

func (b *inMemoryBus) AddObserver(obs EventBusObserver) {
	b.mu.Lock()
	b.observers[obs] = struct{}{}
	b.mu.Unlock()
}

func (b *inMemoryBus) RemoveObserver(obs EventBusObserver) {
	b.mu.Lock()
	delete(b.observers, obs)
	b.mu.Unlock()
}

func (b *inMemoryBus) GetMetrics() EventBusMetrics {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.metrics
}

func (s *subscription) matches(event Event) bool {
	if s.eventType != "" && s.eventType != event.Type {
		return false
	}
	return s.agent == "" || s.agent == event.Agent
}

func (b *inMemoryBus) deliver(event Event) error {
	start := time.Now()
	b.mu.RLock()
	var subs []*subscription
	for _, s := range b.subs {
		if s.matches(event) {
			subs = append(subs, s)
		}
	}
	observers := make([]EventBusObserver, 0, len(b.observers))
	for obs := range b.observers {
		observers = append(observers, obs)
	}
	b.mu.RUnlock()

	for _, obs := range observers {
		obs.OnPublish(event)
	}

	// Handlers run without the lock so they may publish or unsubscribe.
	var all error
	for _, s := range subs {
		if err := s.handler(event); err != nil {
			all = errors.Join(all, err)
		}
	}

	if len(observers) > 0 {
		dur := time.Since(start).Microseconds()
		for _, obs := range observers {
			obs.OnDelivered(event, len(subs), all, dur)
		}
		b.mu.Lock()
		b.metrics.Published++
		b.metrics.DeliveredHandlers += uint64(len(subs))
		if all != nil {
			b.metrics.Errors++
		}
		b.metrics.SubscribersActive = uint64(len(b.subs))
		b.mu.Unlock()
	}
	return all
}
