// Package events provides the mux lifecycle event bus.
package events

import (
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
)

// MuxEventType represents different types of mux events
type MuxEventType string

const (
	MuxStarted      MuxEventType = "mux_started"
	MuxClosed       MuxEventType = "mux_closed"
	InputCompleted  MuxEventType = "input_completed"
	InputFailed     MuxEventType = "input_failed"
	ToolUnavailable MuxEventType = "tool_unavailable"

	// AllEvents subscribes a handler to every event type
	AllEvents MuxEventType = "*"
)

// handlerTimeout bounds how long Publish waits for handlers
const handlerTimeout = 5 * time.Second

// MuxEvent represents a mux lifecycle event
type MuxEvent struct {
	Type      MuxEventType           `json:"type"`
	MuxID     string                 `json:"mux_id"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

// Handler processes mux events
type Handler func(event MuxEvent) error

// Bus delivers mux events to subscribers
type Bus struct {
	handlers map[MuxEventType]map[uint64]Handler
	nextID   uint64
	mu       sync.RWMutex
	logger   hclog.Logger
}

// NewBus creates a new event bus
func NewBus(logger hclog.Logger) *Bus {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Bus{
		handlers: make(map[MuxEventType]map[uint64]Handler),
		logger:   logger.Named("events"),
	}
}

// Subscribe adds a handler for an event type and returns its unsubscribe func
func (b *Bus) Subscribe(eventType MuxEventType, handler Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	if b.handlers[eventType] == nil {
		b.handlers[eventType] = make(map[uint64]Handler)
	}
	b.handlers[eventType][id] = handler

	b.logger.Debug("subscribed to mux event", "type", eventType, "handlers", len(b.handlers[eventType]))

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.handlers[eventType], id)
	}
}

// Publish sends an event to all registered handlers and waits for them,
// up to a fixed timeout.
func (b *Bus) Publish(event MuxEvent) {
	if b == nil {
		return
	}

	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.handlers[event.Type])+len(b.handlers[AllEvents]))
	for _, h := range b.handlers[event.Type] {
		handlers = append(handlers, h)
	}
	for _, h := range b.handlers[AllEvents] {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	if len(handlers) == 0 {
		return
	}

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	var wg sync.WaitGroup
	for _, handler := range handlers {
		wg.Add(1)
		go func(h Handler) {
			defer wg.Done()
			if err := h(event); err != nil {
				b.logger.Error("event handler failed", "type", event.Type, "mux_id", event.MuxID, "error", err)
			}
		}(handler)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(handlerTimeout):
		b.logger.Warn("event handlers timed out", "type", event.Type, "mux_id", event.MuxID)
	}
}

// PublishStarted notifies that a muxing child was spawned
func (b *Bus) PublishStarted(muxID string, pid int, args []string) {
	b.Publish(MuxEvent{
		Type:  MuxStarted,
		MuxID: muxID,
		Data: map[string]interface{}{
			"pid":    pid,
			"args":   args,
			"inputs": countInputs(args),
		},
	})
}

// PublishClosed notifies that a muxer finished its teardown
func (b *Bus) PublishClosed(muxID string, exitCode int, bytesIn int64) {
	b.Publish(MuxEvent{
		Type:  MuxClosed,
		MuxID: muxID,
		Data: map[string]interface{}{
			"exit_code": exitCode,
			"bytes_in":  bytesIn,
		},
	})
}

// PublishInput notifies that a copier exited
func (b *Bus) PublishInput(muxID string, index int, written int64, err error) {
	event := MuxEvent{
		Type:  InputCompleted,
		MuxID: muxID,
		Data: map[string]interface{}{
			"index":   index,
			"written": written,
		},
	}
	if err != nil {
		event.Type = InputFailed
		event.Data["error"] = err.Error()
	}
	b.Publish(event)
}

func countInputs(args []string) int {
	n := 0
	for _, a := range args {
		if a == "-i" {
			n++
		}
	}
	return n
}
