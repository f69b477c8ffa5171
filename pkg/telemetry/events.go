package telemetry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event is a notable occurrence while assembling tops.
type Event struct {
	// ID is the unique identifier for this event.
	ID string `json:"id"`

	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"timestamp"`

	// Type is the event type.
	Type string `json:"type"`

	// Source identifies the component that published the event.
	Source string `json:"source"`

	// Environment and Namespace of the top concerned, if any.
	Environment string `json:"environment,omitempty"`
	Namespace   string `json:"namespace,omitempty"`

	// Message is a human-readable event message.
	Message string `json:"message"`

	// Level is the event severity level (info, warning, error).
	Level string `json:"level"`

	// Data contains additional event-specific data.
	Data map[string]interface{} `json:"data,omitempty"`
}

// Event types.
const (
	EventTypeTopRendered     = "top.rendered"
	EventTypeTopFailed       = "top.failed"
	EventTypePolicyViolation = "policy.violation"
	EventTypeWatchReloaded   = "watch.reloaded"
)

// Event levels.
const (
	EventLevelInfo    = "info"
	EventLevelWarning = "warning"
	EventLevelError   = "error"
)

// EventSubscriber is a function that handles events.
type EventSubscriber func(event Event)

// EventFilter determines if an event should be processed.
type EventFilter func(event Event) bool

// ErrPublisherStopped is returned when publishing after Shutdown.
var ErrPublisherStopped = errors.New("event publisher stopped")

// EventPublisher fans events out to subscribers. Synchronous publishers
// deliver before Publish returns; asynchronous ones deliver in publish order
// from a single goroutine.
type EventPublisher struct {
	config      EventsConfig
	buffer      chan Event
	subscribers []subscriberEntry
	filters     []EventFilter
	wg          sync.WaitGroup
	mu          sync.RWMutex
	ctx         context.Context
	cancel      context.CancelFunc
}

type subscriberEntry struct {
	subscriber EventSubscriber
	filter     EventFilter
}

// NewEventPublisher creates a new event publisher with the given configuration.
func NewEventPublisher(cfg EventsConfig) (*EventPublisher, error) {
	if !cfg.Enabled {
		return &EventPublisher{config: cfg}, nil
	}
	if cfg.EnableAsync && cfg.BufferSize <= 0 {
		return nil, fmt.Errorf("event buffer size must be positive, got: %d", cfg.BufferSize)
	}

	ctx, cancel := context.WithCancel(context.Background())
	ep := &EventPublisher{
		config: cfg,
		ctx:    ctx,
		cancel: cancel,
	}
	if cfg.EnableAsync {
		ep.buffer = make(chan Event, cfg.BufferSize)
		ep.wg.Add(1)
		go ep.processEvents()
	}
	return ep, nil
}

// Publish publishes an event to all subscribers.
func (ep *EventPublisher) Publish(event Event) error {
	if ep == nil || !ep.config.Enabled {
		return nil
	}
	if ep.ctx.Err() != nil {
		return ErrPublisherStopped
	}

	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	ep.mu.RLock()
	for _, filter := range ep.filters {
		if !filter(event) {
			ep.mu.RUnlock()
			return nil
		}
	}
	ep.mu.RUnlock()

	if ep.config.EnableAsync {
		select {
		case ep.buffer <- event:
			return nil
		case <-ep.ctx.Done():
			return ErrPublisherStopped
		default:
			return fmt.Errorf("event buffer full, event %s dropped", event.ID)
		}
	}

	ep.deliverEvent(event)
	return nil
}

// PublishTopRendered publishes a successful render.
func (ep *EventPublisher) PublishTopRendered(env, namespace, digest string, fragments int, duration time.Duration) error {
	return ep.Publish(Event{
		Type:        EventTypeTopRendered,
		Source:      "assembler",
		Environment: env,
		Namespace:   namespace,
		Message:     fmt.Sprintf("Rendered %s top for %s from %d fragments", namespace, env, fragments),
		Level:       EventLevelInfo,
		Data: map[string]interface{}{
			"digest":    digest,
			"fragments": fragments,
			"duration":  duration.Seconds(),
		},
	})
}

// PublishTopFailed publishes a failed render.
func (ep *EventPublisher) PublishTopFailed(env, namespace, kind, reason string) error {
	return ep.Publish(Event{
		Type:        EventTypeTopFailed,
		Source:      "assembler",
		Environment: env,
		Namespace:   namespace,
		Message:     fmt.Sprintf("Rendering %s top for %s failed: %s", namespace, env, reason),
		Level:       EventLevelError,
		Data: map[string]interface{}{
			"kind":   kind,
			"reason": reason,
		},
	})
}

// PublishPolicyViolation publishes a fragment rejected by policy.
func (ep *EventPublisher) PublishPolicyViolation(env, namespace, source string, violations []string) error {
	return ep.Publish(Event{
		Type:        EventTypePolicyViolation,
		Source:      "policy_engine",
		Environment: env,
		Namespace:   namespace,
		Message:     fmt.Sprintf("Fragment %s violates %d policies", source, len(violations)),
		Level:       EventLevelError,
		Data: map[string]interface{}{
			"fragment":   source,
			"violations": violations,
		},
	})
}

// PublishWatchReloaded publishes a re-render triggered by a filesystem change.
func (ep *EventPublisher) PublishWatchReloaded(env, namespace, trigger string) error {
	return ep.Publish(Event{
		Type:        EventTypeWatchReloaded,
		Source:      "watcher",
		Environment: env,
		Namespace:   namespace,
		Message:     fmt.Sprintf("Change to %s triggered a re-render", trigger),
		Level:       EventLevelInfo,
		Data: map[string]interface{}{
			"trigger": trigger,
		},
	})
}

// Subscribe adds a new event subscriber. filter may be nil.
func (ep *EventPublisher) Subscribe(subscriber EventSubscriber, filter EventFilter) {
	ep.mu.Lock()
	defer ep.mu.Unlock()

	ep.subscribers = append(ep.subscribers, subscriberEntry{
		subscriber: subscriber,
		filter:     filter,
	})
}

// AddFilter adds a global event filter.
func (ep *EventPublisher) AddFilter(filter EventFilter) {
	ep.mu.Lock()
	defer ep.mu.Unlock()

	ep.filters = append(ep.filters, filter)
}

// processEvents drains the buffer until shutdown, then delivers what is left.
func (ep *EventPublisher) processEvents() {
	defer ep.wg.Done()

	for {
		select {
		case event := <-ep.buffer:
			ep.deliverEvent(event)
		case <-ep.ctx.Done():
			for {
				select {
				case event := <-ep.buffer:
					ep.deliverEvent(event)
				default:
					return
				}
			}
		}
	}
}

// deliverEvent delivers an event to all subscribers.
func (ep *EventPublisher) deliverEvent(event Event) {
	ep.mu.RLock()
	defer ep.mu.RUnlock()

	for _, entry := range ep.subscribers {
		if entry.filter != nil && !entry.filter(event) {
			continue
		}
		entry.subscriber(event)
	}
}

// Shutdown stops the publisher after delivering buffered events.
func (ep *EventPublisher) Shutdown(ctx context.Context) error {
	if ep == nil || !ep.config.Enabled {
		return nil
	}

	ep.cancel()

	done := make(chan struct{})
	go func() {
		ep.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("event publisher shutdown timeout")
	}
}

// FilterByLevel creates a filter that only allows events of a specific level or higher.
func FilterByLevel(minLevel string) EventFilter {
	levels := map[string]int{
		EventLevelInfo:    0,
		EventLevelWarning: 1,
		EventLevelError:   2,
	}

	minLevelValue := levels[minLevel]

	return func(event Event) bool {
		return levels[event.Level] >= minLevelValue
	}
}

// FilterByType creates a filter that only allows events of specific types.
func FilterByType(types ...string) EventFilter {
	typeSet := make(map[string]bool)
	for _, t := range types {
		typeSet[t] = true
	}

	return func(event Event) bool {
		return typeSet[event.Type]
	}
}

// FilterByEnvironment creates a filter that only allows events for one environment.
func FilterByEnvironment(env string) EventFilter {
	return func(event Event) bool {
		return event.Environment == env
	}
}
