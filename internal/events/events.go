package events

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/shore-hpc/shore/internal/constants"
)

// EventType defines the types of events that can be emitted
type EventType string

const (
	EventProgress    EventType = "progress"
	EventLog         EventType = "log"
	EventStateChange EventType = "state_change"
	EventStage       EventType = "stage"
	EventNodeState   EventType = "node_state"
	EventSync        EventType = "sync"
	EventError       EventType = "error"
)

// LogLevel defines log severity levels
type LogLevel int

const (
	DebugLevel LogLevel = iota
	InfoLevel
	WarnLevel
	ErrorLevel
)

func (l LogLevel) String() string {
	switch l {
	case DebugLevel:
		return "DEBUG"
	case InfoLevel:
		return "INFO"
	case WarnLevel:
		return "WARN"
	case ErrorLevel:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Event is the base interface for all events
type Event interface {
	Type() EventType
	Timestamp() time.Time
}

// BaseEvent provides common event fields
type BaseEvent struct {
	EventType EventType
	Time      time.Time
}

func (e BaseEvent) Type() EventType      { return e.EventType }
func (e BaseEvent) Timestamp() time.Time { return e.Time }

// ProgressEvent carries the monitor's milestone percentage for one instance.
type ProgressEvent struct {
	BaseEvent
	Instance  string
	Milestone string
	Percent   int // 0 to 100, never decreases within one monitor run
}

// LogEvent represents log messages
type LogEvent struct {
	BaseEvent
	Level    LogLevel
	Message  string
	Instance string
	Error    error
}

// StateChangeEvent represents launch state transitions
// (not_submitted -> submitted -> running -> done).
type StateChangeEvent struct {
	BaseEvent
	Instance string
	OldState string
	NewState string
	JobID    string
}

// StageEvent is published when stage inference marks a stage complete.
type StageEvent struct {
	BaseEvent
	Instance string
	Stage    string
	Complete bool
}

// NodeStateEvent mirrors a workflow graph node state change.
type NodeStateEvent struct {
	BaseEvent
	Node  string
	Layer string
	State string
}

// SyncEvent summarizes one synchronization pass of an instance.
type SyncEvent struct {
	BaseEvent
	Instance string
	Groups   int
	Failed   int
}

// ErrorEvent represents error conditions
type ErrorEvent struct {
	BaseEvent
	Instance string
	Stage    string
	Error    error
}

// EventBus manages event subscriptions and publishing
type EventBus struct {
	subscribers   map[EventType][]chan Event
	all           []chan Event // Subscribers to all events
	mu            sync.RWMutex
	bufferSize    int
	closed        bool
	droppedEvents atomic.Int64 // Count of dropped events due to full buffers
}

// NewEventBus creates a new event bus with specified buffer size
func NewEventBus(bufferSize int) *EventBus {
	if bufferSize <= 0 {
		bufferSize = constants.EventBusDefaultBuffer
	}
	if bufferSize > constants.EventBusMaxBuffer {
		bufferSize = constants.EventBusMaxBuffer
	}
	return &EventBus{
		subscribers: make(map[EventType][]chan Event),
		all:         make([]chan Event, 0),
		bufferSize:  bufferSize,
	}
}

// Subscribe creates a subscription to a specific event type
func (eb *EventBus) Subscribe(eventType EventType) <-chan Event {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if eb.closed {
		ch := make(chan Event)
		close(ch)
		return ch
	}

	ch := make(chan Event, eb.bufferSize)
	eb.subscribers[eventType] = append(eb.subscribers[eventType], ch)
	return ch
}

// SubscribeAll creates a subscription to all events
func (eb *EventBus) SubscribeAll() <-chan Event {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if eb.closed {
		ch := make(chan Event)
		close(ch)
		return ch
	}

	ch := make(chan Event, eb.bufferSize)
	eb.all = append(eb.all, ch)
	return ch
}

// Publish sends an event to all subscribers without blocking.
// A nil bus is valid and drops everything, so components can hold an optional bus.
func (eb *EventBus) Publish(event Event) {
	if eb == nil {
		return
	}
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	if eb.closed {
		return
	}

	for _, ch := range eb.subscribers[event.Type()] {
		select {
		case ch <- event:
		default:
			eb.droppedEvents.Add(1)
		}
	}

	for _, ch := range eb.all {
		select {
		case ch <- event:
		default:
			eb.droppedEvents.Add(1)
		}
	}
}

// Close shuts down the event bus and closes all channels
func (eb *EventBus) Close() {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if eb.closed {
		return
	}

	eb.closed = true

	for _, channels := range eb.subscribers {
		for _, ch := range channels {
			close(ch)
		}
	}

	for _, ch := range eb.all {
		close(ch)
	}
}

// PublishLog is a convenience method for publishing log events
func (eb *EventBus) PublishLog(level LogLevel, message, instance string, err error) {
	eb.Publish(&LogEvent{
		BaseEvent: BaseEvent{EventType: EventLog, Time: time.Now()},
		Level:     level,
		Message:   message,
		Instance:  instance,
		Error:     err,
	})
}

// PublishProgress is a convenience method for publishing monitor progress
func (eb *EventBus) PublishProgress(instance, milestone string, percent int) {
	eb.Publish(&ProgressEvent{
		BaseEvent: BaseEvent{EventType: EventProgress, Time: time.Now()},
		Instance:  instance,
		Milestone: milestone,
		Percent:   percent,
	})
}

// PublishStateChange is a convenience method for publishing launch state transitions
func (eb *EventBus) PublishStateChange(instance, oldState, newState, jobID string) {
	eb.Publish(&StateChangeEvent{
		BaseEvent: BaseEvent{EventType: EventStateChange, Time: time.Now()},
		Instance:  instance,
		OldState:  oldState,
		NewState:  newState,
		JobID:     jobID,
	})
}

// PublishStage is a convenience method for publishing stage completion
func (eb *EventBus) PublishStage(instance, stage string, complete bool) {
	eb.Publish(&StageEvent{
		BaseEvent: BaseEvent{EventType: EventStage, Time: time.Now()},
		Instance:  instance,
		Stage:     stage,
		Complete:  complete,
	})
}

// PublishNodeState is a convenience method for publishing graph node updates
func (eb *EventBus) PublishNodeState(node, layer, state string) {
	eb.Publish(&NodeStateEvent{
		BaseEvent: BaseEvent{EventType: EventNodeState, Time: time.Now()},
		Node:      node,
		Layer:     layer,
		State:     state,
	})
}

// Unsubscribe removes a subscription channel from a specific event type
func (eb *EventBus) Unsubscribe(eventType EventType, ch <-chan Event) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if eb.closed {
		return
	}

	subscribers := eb.subscribers[eventType]
	for i, subCh := range subscribers {
		if subCh == ch {
			subscribers[i] = subscribers[len(subscribers)-1]
			eb.subscribers[eventType] = subscribers[:len(subscribers)-1]
			break
		}
	}
}

// GetDroppedEventCount returns the total number of events dropped due to full buffers
func (eb *EventBus) GetDroppedEventCount() int64 {
	return eb.droppedEvents.Load()
}

// PublishSync is a convenience method for publishing a sync summary
func (eb *EventBus) PublishSync(instance string, groups, failed int) {
	eb.Publish(&SyncEvent{
		BaseEvent: BaseEvent{EventType: EventSync, Time: time.Now()},
		Instance:  instance,
		Groups:    groups,
		Failed:    failed,
	})
}

// PublishError is a convenience method for publishing error events
func (eb *EventBus) PublishError(instance, stage string, err error) {
	eb.Publish(&ErrorEvent{
		BaseEvent: BaseEvent{EventType: EventError, Time: time.Now()},
		Instance:  instance,
		Stage:     stage,
		Error:     err,
	})
}
