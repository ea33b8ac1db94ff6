// Package events fans out observable domain events to log, SSE listeners and MQTT.
package events

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kozaktomas/face-attendance/internal/constants"
)

// Event types.
const (
	TypeDecision        = "decision"
	TypeGalleryRepaired = "gallery.repaired"
	TypeEnrolled        = "gallery.enrolled"
	TypeArchiveFailed   = "capture.archive_failed"
	TypeLedgerFailed    = "ledger.write_failed"
	TypeSettingsUpdated = "settings.updated"
)

// Event is a single observable occurrence.
type Event struct {
	ID      string    `json:"id"`
	Type    string    `json:"type"`
	Time    time.Time `json:"time"`
	Message string    `json:"message,omitempty"`
	Data    any       `json:"data,omitempty"`
}

// Sink receives every event published on a Bus.
type Sink interface {
	Publish(Event)
}

// Emitter is the publishing side of a Bus, accepted by components that only emit.
type Emitter interface {
	Emit(eventType, message string, data any)
}

// Bus delivers events to sinks and to channel listeners.
type Bus struct {
	sinks     []Sink
	listeners []chan Event
	mu        sync.RWMutex
}

// NewBus creates a bus that forwards to the given sinks.
func NewBus(sinks ...Sink) *Bus {
	return &Bus{sinks: sinks}
}

// AddSink registers an additional sink.
func (b *Bus) AddSink(s Sink) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sinks = append(b.sinks, s)
}

// AddListener adds an event listener.
func (b *Bus) AddListener() chan Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan Event, constants.EventChannelBuffer)
	b.listeners = append(b.listeners, ch)
	return ch
}

// RemoveListener removes an event listener.
func (b *Bus) RemoveListener(ch chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, listener := range b.listeners {
		if listener == ch {
			b.listeners = append(b.listeners[:i], b.listeners[i+1:]...)
			close(ch)
			return
		}
	}
}

// Emit builds and publishes an event.
func (b *Bus) Emit(eventType, message string, data any) {
	b.Publish(Event{
		ID:      uuid.NewString(),
		Type:    eventType,
		Time:    time.Now(),
		Message: message,
		Data:    data,
	})
}

// Publish sends an event to all sinks and listeners. Slow listeners drop events.
func (b *Bus) Publish(event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, s := range b.sinks {
		s.Publish(event)
	}
	for _, listener := range b.listeners {
		select {
		case listener <- event:
		default:
			// Listener buffer full, skip.
		}
	}
}

// LogSink writes events to a structured logger.
type LogSink struct {
	Logger *slog.Logger
}

// Publish implements Sink.
func (s LogSink) Publish(e Event) {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	level := slog.LevelDebug
	switch e.Type {
	case TypeGalleryRepaired, TypeArchiveFailed, TypeLedgerFailed:
		level = slog.LevelWarn
	}
	logger.Log(context.Background(), level, "event", "type", e.Type, "id", e.ID, "message", e.Message)
}

// Discard is an Emitter that drops everything.
type Discard struct{}

// Emit implements Emitter.
func (Discard) Emit(string, string, any) {}
