package output

import (
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"portview/capture"
	"portview/device"
)

// Event types - these are the discrete events we publish
const (
	EventServiceStart    = "service_start"
	EventServiceStop     = "service_stop"
	EventUncleanShutdown = "unclean_shutdown" // Previous run didn't stop cleanly (power loss, crash, reboot)
	EventDeviceAttached  = "device_attached"
	EventDeviceDetached  = "device_detached"
	EventUnsupported     = "unsupported_command"
	EventHubShutdown     = "hub_shutdown"
	EventLinkOpened      = "link_opened"
	EventError           = "error"
)

// EventsStream is the JetStream stream holding event subjects
const EventsStream = "events"

// Event is the base structure for all events published to the broker.
// Keep it simple and flat for easy querying.
type Event struct {
	Timestamp  time.Time      `json:"ts"`
	Type       string         `json:"type"`
	InstanceID string         `json:"instance"`
	SessionID  string         `json:"session,omitempty"`
	Port       string         `json:"port,omitempty"`
	TypeID     int            `json:"type_id,omitempty"`
	Category   string         `json:"category,omitempty"`
	Message    string         `json:"msg,omitempty"`
	Details    map[string]any `json:"details,omitempty"`
}

// lastMessenger is implemented by publishers that can read back a stream
type lastMessenger interface {
	LastMessage(stream, subject string) ([]byte, error)
}

// EventPublisher publishes discrete events.
// It's designed to be optional - if nil, nothing breaks.
type EventPublisher struct {
	publisher  Publisher
	subject    string
	instanceID string
	sessionID  string
	logger     *slog.Logger
	now        func() time.Time
}

// EventPublisherConfig contains configuration for EventPublisher
type EventPublisherConfig struct {
	Publisher  Publisher
	Subject    string // e.g., "portview.events.hub-01"
	InstanceID string
	SessionID  string // Unique per process run
	Logger     *slog.Logger
}

// NewEventPublisher creates a new EventPublisher.
// Returns nil if there is no publisher (disabled mode).
func NewEventPublisher(cfg *EventPublisherConfig) *EventPublisher {
	if cfg == nil || cfg.Publisher == nil {
		return nil
	}

	return &EventPublisher{
		publisher:  cfg.Publisher,
		subject:    cfg.Subject,
		instanceID: cfg.InstanceID,
		sessionID:  cfg.SessionID,
		logger:     cfg.Logger,
		now:        time.Now,
	}
}

// Publish sends an event. Safe to call on nil receiver.
func (e *EventPublisher) Publish(event Event) {
	if e == nil || e.publisher == nil || !e.publisher.IsConnected() {
		return
	}

	// Fill in defaults
	if event.Timestamp.IsZero() {
		event.Timestamp = e.now().UTC()
	}
	if event.InstanceID == "" {
		event.InstanceID = e.instanceID
	}
	if event.SessionID == "" {
		event.SessionID = e.sessionID
	}

	data, err := json.Marshal(event)
	if err != nil {
		e.logger.Error("Failed to marshal event", "error", err, "type", event.Type)
		return
	}

	if err := e.publisher.Publish(e.subject, data); err != nil {
		e.logger.Warn("Failed to publish event", "error", err, "type", event.Type)
		return
	}

	e.logger.Debug("Published event",
		"type", event.Type,
		"port", event.Port,
		"message", event.Message)
}

// PublishServiceStart publishes a service start event
func (e *EventPublisher) PublishServiceStart(version, transport string) {
	e.Publish(Event{
		Type:    EventServiceStart,
		Message: "portview started",
		Details: map[string]any{"version": version, "transport": transport},
	})
}

// PublishServiceStop publishes a service stop event
func (e *EventPublisher) PublishServiceStop(reason string) {
	e.Publish(Event{
		Type:    EventServiceStop,
		Message: "portview stopping",
		Details: map[string]any{"reason": reason},
	})
}

// PublishLinkOpened publishes the host link coming up
func (e *EventPublisher) PublishLinkOpened(transport, endpoint string) {
	e.Publish(Event{
		Type:    EventLinkOpened,
		Message: "Host link open",
		Details: map[string]any{"transport": transport, "endpoint": endpoint},
	})
}

// PublishHubShutdown publishes the host-requested power off
func (e *EventPublisher) PublishHubShutdown() {
	e.Publish(Event{
		Type:    EventHubShutdown,
		Message: "Hub shut down by host command",
	})
}

// PublishPortEvent publishes a device attach or detach. It has the
// capture.PortEventCallback signature.
func (e *EventPublisher) PublishPortEvent(pe capture.PortEvent) {
	event := Event{
		Port:     pe.Port.Label,
		TypeID:   int(pe.TypeID),
		Category: pe.Category.String(),
	}

	switch {
	case pe.Type == capture.PortAttached:
		event.Type = EventDeviceAttached
		event.Message = "Device attached"
	case errors.Is(pe.Err, device.ErrUnsupported):
		event.Type = EventUnsupported
		event.Message = pe.Err.Error()
	default:
		event.Type = EventDeviceDetached
		event.Message = "Device detached"
		if pe.Err != nil {
			event.Details = map[string]any{"error": pe.Err.Error()}
		}
	}

	e.Publish(event)
}

// PublishError publishes an error event. It has the capture.ErrorCallback
// signature; source is a task name such as a port label, or the link.
func (e *EventPublisher) PublishError(source string, err error) {
	e.Publish(Event{
		Type:    EventError,
		Port:    source,
		Message: err.Error(),
	})
}

// CheckAndPublishUncleanShutdown checks if the previous run ended without a service_stop event.
// If so, it publishes an unclean_shutdown event. Call this right after creating the EventPublisher.
func (e *EventPublisher) CheckAndPublishUncleanShutdown() {
	if e == nil {
		return
	}

	reader, ok := e.publisher.(lastMessenger)
	if !ok {
		e.logger.Debug("Publisher cannot read back events, skipping unclean shutdown check")
		return
	}

	data, err := reader.LastMessage(EventsStream, e.subject)
	if err != nil || data == nil {
		// No previous events - this is a fresh start, nothing to report
		e.logger.Debug("No previous events found", "error", err)
		return
	}

	var lastEvent Event
	if err := json.Unmarshal(data, &lastEvent); err != nil {
		e.logger.Debug("Could not parse last event", "error", err)
		return
	}

	// Check if it was a clean shutdown. A host-requested power off is one too.
	if lastEvent.Type == EventServiceStop || lastEvent.Type == EventHubShutdown {
		e.logger.Debug("Previous run ended cleanly")
		return
	}

	e.logger.Warn("Previous run did not shut down cleanly",
		"last_event_type", lastEvent.Type,
		"last_event_time", lastEvent.Timestamp)

	e.Publish(Event{
		Type:    EventUncleanShutdown,
		Message: "Previous run ended unexpectedly (power loss, crash, or system reboot)",
		Details: map[string]any{
			"last_event_type": lastEvent.Type,
			"last_event_time": lastEvent.Timestamp,
			"last_session":    lastEvent.SessionID,
		},
	})
}
