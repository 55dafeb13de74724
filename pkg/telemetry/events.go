package telemetry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event represents a telemetry event in the script host.
type Event struct {
	// ID is the unique identifier for this event.
	ID string `json:"id"`

	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"timestamp"`

	// Type is the event type.
	Type string `json:"type"`

	// Source identifies where the event originated.
	Source string `json:"source"`

	// DeploymentID is the associated deployment, if any.
	DeploymentID string `json:"deployment_id,omitempty"`

	// Component is the hosted component name, if any.
	Component string `json:"component,omitempty"`

	// Message is a human-readable event message.
	Message string `json:"message"`

	// Level is the event severity level (info, warning, error).
	Level string `json:"level"`

	// Data contains additional event-specific data.
	Data map[string]interface{} `json:"data,omitempty"`
}

// Event types.
const (
	EventTypeCapabilityDisabled  = "capability.disabled"
	EventTypeResolutionFailed    = "resolution.failed"
	EventTypeProjectExtracted    = "project.extracted"
	EventTypeDeploymentCompleted = "deployment.completed"
	EventTypeDeploymentFailed    = "deployment.failed"
	EventTypeComponentStarted    = "component.started"
	EventTypeComponentStopped    = "component.stopped"
	EventTypeScriptExited        = "script.exited"
	EventTypeScriptFaulted       = "script.faulted"
	EventTypePolicyDenied        = "policy.denied"
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

// EventPublisher manages event publishing and subscriptions.
type EventPublisher struct {
	config      EventsConfig
	buffer      chan Event
	subscribers []subscriberEntry
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
			return fmt.Errorf("event buffer full, event %s dropped", event.Type)
		}
	}

	ep.deliverEvent(event)
	return nil
}

// PublishCapabilityDisabled publishes the reason the node factory is disabled.
func (ep *EventPublisher) PublishCapabilityDisabled(reason string) error {
	return ep.Publish(Event{
		Type:    EventTypeCapabilityDisabled,
		Source:  "capability_probe",
		Message: reason,
		Level:   EventLevelWarning,
	})
}

// PublishResolutionFailed publishes a failed resolution.
func (ep *EventPublisher) PublishResolutionFailed(factory, identifier, kind, reason string) error {
	return ep.Publish(Event{
		Type:    EventTypeResolutionFailed,
		Source:  "factory",
		Message: fmt.Sprintf("Resolution of %s failed: %s", identifier, reason),
		Level:   EventLevelWarning,
		Data: map[string]interface{}{
			"factory":    factory,
			"identifier": identifier,
			"kind":       kind,
		},
	})
}

// PublishProjectExtracted publishes a completed extraction.
func (ep *EventPublisher) PublishProjectExtracted(archive, target string, entries int, duration time.Duration) error {
	return ep.Publish(Event{
		Type:    EventTypeProjectExtracted,
		Source:  "extractor",
		Message: fmt.Sprintf("Extracted %s to %s (%d entries)", archive, target, entries),
		Level:   EventLevelInfo,
		Data: map[string]interface{}{
			"archive":  archive,
			"target":   target,
			"entries":  entries,
			"duration": duration.Seconds(),
		},
	})
}

// PublishDeploymentCompleted publishes a completed deployment.
func (ep *EventPublisher) PublishDeploymentCompleted(deploymentID, identifier string) error {
	return ep.Publish(Event{
		Type:         EventTypeDeploymentCompleted,
		Source:       "container",
		DeploymentID: deploymentID,
		Message:      fmt.Sprintf("Deployed %s", identifier),
		Level:        EventLevelInfo,
		Data: map[string]interface{}{
			"identifier": identifier,
		},
	})
}

// PublishDeploymentFailed publishes a failed deployment.
func (ep *EventPublisher) PublishDeploymentFailed(deploymentID, identifier, reason string) error {
	return ep.Publish(Event{
		Type:         EventTypeDeploymentFailed,
		Source:       "container",
		DeploymentID: deploymentID,
		Message:      fmt.Sprintf("Deployment of %s failed: %s", identifier, reason),
		Level:        EventLevelError,
		Data: map[string]interface{}{
			"identifier": identifier,
			"reason":     reason,
		},
	})
}

// PublishPolicyDenied publishes an admission denial.
func (ep *EventPublisher) PublishPolicyDenied(identifier string, policies []string, reason string) error {
	return ep.Publish(Event{
		Type:    EventTypePolicyDenied,
		Source:  "policy",
		Message: fmt.Sprintf("Deployment of %s denied: %s", identifier, reason),
		Level:   EventLevelError,
		Data: map[string]interface{}{
			"identifier": identifier,
			"policies":   policies,
		},
	})
}

// PublishComponentStarted publishes a component start.
func (ep *EventPublisher) PublishComponentStarted(deploymentID, component string) error {
	return ep.Publish(Event{
		Type:         EventTypeComponentStarted,
		Source:       "container",
		DeploymentID: deploymentID,
		Component:    component,
		Message:      fmt.Sprintf("Component %s started", component),
		Level:        EventLevelInfo,
	})
}

// PublishComponentStopped publishes a component stop.
func (ep *EventPublisher) PublishComponentStopped(deploymentID, component string) error {
	return ep.Publish(Event{
		Type:         EventTypeComponentStopped,
		Source:       "container",
		DeploymentID: deploymentID,
		Component:    component,
		Message:      fmt.Sprintf("Component %s stopped", component),
		Level:        EventLevelInfo,
	})
}

// PublishScriptExited publishes a hosted script's terminal status. A status
// carrying a cause is published as a fault.
func (ep *EventPublisher) PublishScriptExited(deploymentID, component string, exitCode int, cause error) error {
	event := Event{
		Type:         EventTypeScriptExited,
		Source:       "script",
		DeploymentID: deploymentID,
		Component:    component,
		Message:      fmt.Sprintf("Script %s exited with code %d", component, exitCode),
		Level:        EventLevelInfo,
		Data: map[string]interface{}{
			"exit_code": exitCode,
		},
	}
	if exitCode != 0 {
		event.Level = EventLevelWarning
	}
	if cause != nil {
		event.Type = EventTypeScriptFaulted
		event.Level = EventLevelError
		event.Message = fmt.Sprintf("Script %s faulted: %v", component, cause)
		event.Data["cause"] = cause.Error()
	}
	return ep.Publish(event)
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

// processEvents delivers buffered events in publication order.
func (ep *EventPublisher) processEvents() {
	defer ep.wg.Done()

	for {
		select {
		case event := <-ep.buffer:
			ep.deliverEvent(event)
		case <-ep.ctx.Done():
			// Drain what is left before returning
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

// Shutdown gracefully shuts down the event publisher.
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

// FilterByDeployment creates a filter for a single deployment.
func FilterByDeployment(deploymentID string) EventFilter {
	return func(event Event) bool {
		return event.DeploymentID == deploymentID
	}
}
