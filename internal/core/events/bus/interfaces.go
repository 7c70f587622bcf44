package bus

import "time"

// EventBus is a thread-safe, in-process pub/sub bus for goal pipe lifecycle
// events.
//
// Handlers subscribe by event type and optionally scope themselves to one
// agent. Delivery is synchronous in the publishing goroutine, in
// subscription order, and handler errors are joined and returned from
// Publish. Metrics are only collected while an observer is registered.
type EventBus interface {
	// Publish delivers the event to every matching subscriber.
	Publish(event Event) error
	// PublishWithFilters drops the event silently if any filter rejects it.
	PublishWithFilters(event Event, filters ...EventFilter) error
	// Subscribe registers a handler for one event type across all agents.
	// An empty type matches every event.
	Subscribe(eventType Type, handler EventHandler) (Subscription, error)
	// SubscribeAgent registers a handler for events of a single agent.
	SubscribeAgent(agent string, eventType Type, handler EventHandler) (Subscription, error)
	// Unsubscribe cancels the subscription. A nil subscription is ignored.
	Unsubscribe(Subscription) error

	AddObserver(obs EventBusObserver)
	RemoveObserver(obs EventBusObserver)
	// GetMetrics returns a snapshot of the counters.
	GetMetrics() EventBusMetrics
}

// Type is the routing key of an event.
type Type string

const (
	// PipeSelected is published when an agent selects a new root pipe.
	PipeSelected Type = "pipe.selected"
	// PipeInserted is published when a sub-pipe is inserted on top of the
	// agent's active chain.
	PipeInserted Type = "pipe.inserted"
	// PipeRemoved is published when an inserted sub-pipe is removed by
	// event id.
	PipeRemoved Type = "pipe.removed"
	// PipeFinished is published when a non-looping root pipe runs out of
	// goals.
	PipeFinished Type = "pipe.finished"
	// PipeLooped is published when a looping root pipe restarts.
	PipeLooped Type = "pipe.looped"
	// PipeInterrupted is published when an interrupt sub-pipe completes and
	// ends the agent's tick.
	PipeInterrupted Type = "pipe.interrupted"
	// ContentError reports broken pipe content: unknown pipes, failed
	// restores, runaway ticks.
	ContentError Type = "pipe.content_error"
	// AgentRestored is published after an agent state load.
	AgentRestored Type = "agent.restored"
)

// Event is an immutable notification about an agent's pipes.
type Event struct {
	Type      Type
	Agent     string
	Pipe      string
	EventID   uint32
	Timestamp time.Time
	Err       error
	Metadata  map[string]any
}

// NewEvent stamps a new event with the current time.
func NewEvent(typ Type, agent, pipe string) Event {
	return Event{Type: typ, Agent: agent, Pipe: pipe, Timestamp: time.Now()}
}

// WithEventID returns a copy of e carrying the insertion event id.
func (e Event) WithEventID(id uint32) Event {
	e.EventID = id
	return e
}

// WithError returns a copy of e carrying err.
func (e Event) WithError(err error) Event {
	e.Err = err
	return e
}

type (
	// EventHandler is invoked per delivered event. Returned errors are
	// aggregated by Publish.
	EventHandler func(event Event) error
	// EventFilter decides whether an event is delivered at all.
	EventFilter func(event Event) bool
)

// Subscription represents a registered handler.
type Subscription interface {
	ID() string
	EventType() Type
	// Agent returns the agent the subscription is scoped to, or "".
	Agent() string
	IsActive() bool
	// Cancel de-registers the handler. Multiple calls are safe.
	Cancel() error
}

// EventBusObserver is notified about deliveries. Observers should return
// quickly.
type EventBusObserver interface {
	OnPublish(event Event)
	OnDelivered(event Event, handlers int, err error, durationMicros int64)
}

// EventBusMetrics is updated only while at least one observer is registered.
type EventBusMetrics struct {
	Published         uint64
	DeliveredHandlers uint64
	Errors            uint64
	DroppedByFilters  uint64
	SubscribersActive uint64
}
