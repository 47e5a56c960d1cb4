package telemetry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event is a notable occurrence in a configuration session or model load.
type Event struct {
	// ID is the unique identifier for this event.
	ID string `json:"id"`

	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"timestamp"`

	// Type is the event type.
	Type string `json:"type"`

	// Source identifies where the event originated.
	Source string `json:"source"`

	// SessionID is the associated session, if applicable.
	SessionID string `json:"session_id,omitempty"`

	// Instance is the associated instance path, if applicable.
	Instance string `json:"instance,omitempty"`

	// Directive is the associated directive ID, if applicable.
	Directive string `json:"directive,omitempty"`

	// Message is a human-readable event message.
	Message string `json:"message"`

	// Level is the event severity level (info, warning, error).
	Level string `json:"level"`

	// Data contains additional event-specific data.
	Data map[string]interface{} `json:"data,omitempty"`
}

// Event types.
const (
	EventTypeSessionStarted      = "session.started"
	EventTypeEvaluationCompleted = "evaluation.completed"
	EventTypeEvaluationFailed    = "evaluation.failed"
	EventTypeEditRejected        = "edit.rejected"
	EventTypeConstraintViolated  = "constraint.violated"
	EventTypeModelLoaded         = "model.loaded"
	EventTypeModelRejected       = "model.rejected"
	EventTypePolicyViolation     = "policy.violation"
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

// EventPublisher delivers events to subscribers, synchronously or through a
// buffered goroutine.
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
	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	ep := &EventPublisher{
		config: cfg,
		buffer: make(chan Event, cfg.BufferSize),
		ctx:    ctx,
		cancel: cancel,
	}

	if cfg.EnableAsync {
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
			return fmt.Errorf("event publisher stopped")
		default:
			return fmt.Errorf("event buffer full, event dropped")
		}
	}

	ep.deliverEvent(event)
	return nil
}

// PublishSessionStarted publishes a session started event.
func (ep *EventPublisher) PublishSessionStarted(sessionID, rootType string) error {
	return ep.Publish(Event{
		Type:      EventTypeSessionStarted,
		Source:    "solver",
		SessionID: sessionID,
		Message:   fmt.Sprintf("Session %s started for %s", sessionID, rootType),
		Level:     EventLevelInfo,
		Data:      map[string]interface{}{"root_type": rootType},
	})
}

// PublishEvaluationCompleted publishes the outcome of an evaluation.
func (ep *EventPublisher) PublishEvaluationCompleted(sessionID, state string, passes, backtracks int) error {
	return ep.Publish(Event{
		Type:      EventTypeEvaluationCompleted,
		Source:    "solver",
		SessionID: sessionID,
		Message:   fmt.Sprintf("Session %s reached %s after %d passes", sessionID, state, passes),
		Level:     EventLevelInfo,
		Data: map[string]interface{}{
			"state":      state,
			"passes":     passes,
			"backtracks": backtracks,
		},
	})
}

// PublishEvaluationFailed publishes a failed evaluation.
func (ep *EventPublisher) PublishEvaluationFailed(sessionID, state, directive, reason string) error {
	return ep.Publish(Event{
		Type:      EventTypeEvaluationFailed,
		Source:    "solver",
		SessionID: sessionID,
		Directive: directive,
		Message:   fmt.Sprintf("Session %s ended %s: %s", sessionID, state, reason),
		Level:     EventLevelError,
		Data:      map[string]interface{}{"state": state, "reason": reason},
	})
}

// PublishEditRejected publishes a rejected edit.
func (ep *EventPublisher) PublishEditRejected(sessionID, instance, code, reason string) error {
	return ep.Publish(Event{
		Type:      EventTypeEditRejected,
		Source:    "solver",
		SessionID: sessionID,
		Instance:  instance,
		Message:   fmt.Sprintf("Edit on %s rejected: %s", instance, reason),
		Level:     EventLevelWarning,
		Data:      map[string]interface{}{"code": code},
	})
}

// PublishConstraintViolated publishes a constraint handed to backtracking.
func (ep *EventPublisher) PublishConstraintViolated(sessionID, instance, directive, text string) error {
	return ep.Publish(Event{
		Type:      EventTypeConstraintViolated,
		Source:    "solver",
		SessionID: sessionID,
		Instance:  instance,
		Directive: directive,
		Message:   text,
		Level:     EventLevelWarning,
	})
}

// PublishModelLoaded publishes a successful model load.
func (ep *EventPublisher) PublishModelLoaded(source string, types int) error {
	return ep.Publish(Event{
		Type:    EventTypeModelLoaded,
		Source:  "loader",
		Message: fmt.Sprintf("Model %s loaded with %d types", source, types),
		Level:   EventLevelInfo,
		Data:    map[string]interface{}{"source": source, "types": types},
	})
}

// PublishModelRejected publishes a rejected model.
func (ep *EventPublisher) PublishModelRejected(source, reason string) error {
	return ep.Publish(Event{
		Type:    EventTypeModelRejected,
		Source:  "loader",
		Message: fmt.Sprintf("Model %s rejected: %s", source, reason),
		Level:   EventLevelError,
		Data:    map[string]interface{}{"source": source},
	})
}

// PublishPolicyViolation publishes a submission policy violation.
func (ep *EventPublisher) PublishPolicyViolation(sessionID, policyName, reason string) error {
	return ep.Publish(Event{
		Type:      EventTypePolicyViolation,
		Source:    "policy_engine",
		SessionID: sessionID,
		Message:   fmt.Sprintf("Policy %s violated: %s", policyName, reason),
		Level:     EventLevelError,
		Data:      map[string]interface{}{"policy": policyName, "reason": reason},
	})
}

// Subscribe adds a new event subscriber.
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

func (ep *EventPublisher) processEvents() {
	defer ep.wg.Done()

	batch := make([]Event, 0, ep.config.MaxBatchSize)
	for {
		select {
		case event := <-ep.buffer:
			batch = append(batch, event)
			if len(batch) >= ep.config.MaxBatchSize || len(ep.buffer) == 0 {
				ep.flushBatch(batch)
				batch = batch[:0]
			}
		case <-ep.ctx.Done():
			for {
				select {
				case event := <-ep.buffer:
					batch = append(batch, event)
				default:
					ep.flushBatch(batch)
					return
				}
			}
		}
	}
}

func (ep *EventPublisher) flushBatch(events []Event) {
	for _, event := range events {
		ep.deliverEvent(event)
	}
}

// deliverEvent calls subscribers in registration order.
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

// Shutdown drains buffered events and stops the publisher.
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

// FilterByLevel only allows events of a specific level or higher.
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

// FilterByType only allows events of specific types.
func FilterByType(types ...string) EventFilter {
	typeSet := make(map[string]bool)
	for _, t := range types {
		typeSet[t] = true
	}
	return func(event Event) bool {
		return typeSet[event.Type]
	}
}

// FilterBySessionID only allows events for one session.
func FilterBySessionID(sessionID string) EventFilter {
	return func(event Event) bool {
		return event.SessionID == sessionID
	}
}
