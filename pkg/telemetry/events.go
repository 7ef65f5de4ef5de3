package telemetry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/openfroyo/cloudsim/pkg/engine"
)

// Event represents a telemetry event.
type Event struct {
	// ID is the unique identifier for this event.
	ID string `json:"id"`

	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"timestamp"`

	// Type is the event type.
	Type string `json:"type"`

	// Source identifies where the event originated.
	Source string `json:"source"`

	// RunID is the associated run ID, if applicable.
	RunID string `json:"run_id,omitempty"`

	// Kind is the resource kind, if applicable.
	Kind engine.Kind `json:"kind,omitempty"`

	// ResourceID is the associated resource ID, if applicable.
	ResourceID string `json:"resource_id,omitempty"`

	// ResourceName is the associated resource name, if applicable.
	ResourceName string `json:"resource_name,omitempty"`

	// Action is the resource action, if applicable.
	Action engine.Action `json:"action,omitempty"`

	// Message is a human-readable event message.
	Message string `json:"message"`

	// Level is the event severity level (info, warning, error).
	Level string `json:"level"`

	// Data contains additional event-specific data.
	Data map[string]interface{} `json:"data,omitempty"`
}

// EventType constants for common event types.
const (
	EventTypeRunStarted           = "run.started"
	EventTypeRunCompleted         = "run.completed"
	EventTypeRunFailed            = "run.failed"
	EventTypeResourceStateChanged = "resource.state_changed"
	EventTypeResourceRejected     = "resource.rejected"
	EventTypePolicyViolation      = "policy.violation"
)

// EventLevel constants for event severity.
const (
	EventLevelInfo    = "info"
	EventLevelWarning = "warning"
	EventLevelError   = "error"
)

// EventSubscriber is a function that handles events.
type EventSubscriber func(event Event)

// EventFilter determines if an event should be processed.
type EventFilter func(event Event) bool

// EventPublisher manages event publishing and subscriptions. Subscribers
// are called in subscription order, one event at a time.
type EventPublisher struct {
	config      EventsConfig
	buffer      chan Event
	subscribers []subscriberEntry
	filters     []EventFilter
	wg          sync.WaitGroup
	mu          sync.RWMutex
	deliver     sync.Mutex
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
	if !ep.config.Enabled {
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
		case <-ep.ctx.Done():
			return fmt.Errorf("event publisher stopped")
		default:
		}
		select {
		case ep.buffer <- event:
			return nil
		default:
			return fmt.Errorf("event buffer full, event dropped")
		}
	}

	ep.deliverEvent(event)
	return nil
}

// PublishRunStarted publishes a run started event.
func (ep *EventPublisher) PublishRunStarted(runID, operation string) error {
	return ep.Publish(Event{
		Type:    EventTypeRunStarted,
		Source:  "orchestrator",
		RunID:   runID,
		Message: fmt.Sprintf("%s run %s started", operation, runID),
		Level:   EventLevelInfo,
		Data: map[string]interface{}{
			"operation": operation,
		},
	})
}

// PublishRunCompleted publishes a run completed event.
func (ep *EventPublisher) PublishRunCompleted(runID, operation, status string, duration time.Duration) error {
	return ep.Publish(Event{
		Type:    EventTypeRunCompleted,
		Source:  "orchestrator",
		RunID:   runID,
		Message: fmt.Sprintf("%s run %s completed with status: %s", operation, runID, status),
		Level:   EventLevelInfo,
		Data: map[string]interface{}{
			"operation": operation,
			"status":    status,
			"duration":  duration.Seconds(),
		},
	})
}

// PublishRunFailed publishes a run failed event.
func (ep *EventPublisher) PublishRunFailed(runID, operation, reason string) error {
	return ep.Publish(Event{
		Type:    EventTypeRunFailed,
		Source:  "orchestrator",
		RunID:   runID,
		Message: fmt.Sprintf("%s run %s failed: %s", operation, runID, reason),
		Level:   EventLevelError,
		Data: map[string]interface{}{
			"operation": operation,
			"reason":    reason,
		},
	})
}

// PublishPolicyViolation publishes a guardrail violation event.
func (ep *EventPublisher) PublishPolicyViolation(runID string, kind engine.Kind, name, policyName, severity, reason string) error {
	level := EventLevelWarning
	if severity == "error" {
		level = EventLevelError
	}
	return ep.Publish(Event{
		Type:         EventTypePolicyViolation,
		Source:       "policy",
		RunID:        runID,
		Kind:         kind,
		ResourceName: name,
		Message:      fmt.Sprintf("policy %s on %s %s: %s", policyName, kind, name, reason),
		Level:        level,
		Data: map[string]interface{}{
			"policy":   policyName,
			"severity": severity,
		},
	})
}

// PublishChange publishes a resource change reported by a kind module.
func (ep *EventPublisher) PublishChange(runID string, c engine.Change) error {
	event := Event{
		Type:         EventTypeResourceStateChanged,
		Source:       string(c.Kind),
		RunID:        runID,
		Kind:         c.Kind,
		ResourceID:   c.ID,
		ResourceName: c.Name,
		Action:       c.Action,
		Level:        EventLevelInfo,
		Data: map[string]interface{}{
			"from": string(c.From),
			"to":   string(c.To),
		},
	}
	switch {
	case c.Err != nil:
		event.Type = EventTypeResourceRejected
		event.Level = EventLevelWarning
		event.Message = fmt.Sprintf("%s %s rejected: %v", c.Action, c.Name, c.Err)
		event.Data = map[string]interface{}{"error_code": engine.CodeOf(c.Err)}
	case c.From == c.To:
		event.Message = fmt.Sprintf("%s %s (%s)", c.Action, c.Name, c.To)
	default:
		event.Message = fmt.Sprintf("%s %s: %s -> %s", c.Action, c.Name, displayState(c.From), c.To)
	}
	return ep.Publish(event)
}

// Observer returns an engine.Observer that publishes every change. The run
// ID is taken from the context.
func (ep *EventPublisher) Observer() engine.Observer {
	return engine.ObserverFunc(func(ctx context.Context, c engine.Change) {
		_ = ep.PublishChange(RunIDFromContext(ctx), c)
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

// processEvents delivers buffered events in batches.
func (ep *EventPublisher) processEvents() {
	defer ep.wg.Done()

	batch := make([]Event, 0, ep.config.MaxBatchSize)
	flush := func() {
		for _, event := range batch {
			ep.deliverEvent(event)
		}
		batch = batch[:0]
	}

	for {
		select {
		case event := <-ep.buffer:
			batch = append(batch, event)
			if len(batch) >= ep.config.MaxBatchSize || len(ep.buffer) == 0 {
				flush()
			}

		case <-ep.ctx.Done():
			for {
				select {
				case event := <-ep.buffer:
					batch = append(batch, event)
				default:
					flush()
					return
				}
			}
		}
	}
}

// deliverEvent delivers an event to all subscribers.
func (ep *EventPublisher) deliverEvent(event Event) {
	ep.mu.RLock()
	subscribers := ep.subscribers
	ep.mu.RUnlock()

	ep.deliver.Lock()
	defer ep.deliver.Unlock()
	for _, entry := range subscribers {
		if entry.filter != nil && !entry.filter(event) {
			continue
		}
		entry.subscriber(event)
	}
}

// Shutdown stops the publisher after delivering buffered events.
func (ep *EventPublisher) Shutdown(ctx context.Context) error {
	if !ep.config.Enabled {
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

// FilterByRunID creates a filter that only allows events for a specific run.
func FilterByRunID(runID string) EventFilter {
	return func(event Event) bool {
		return event.RunID == runID
	}
}

func displayState(s engine.State) engine.State {
	if s == "" {
		return "none"
	}
	return s
}
