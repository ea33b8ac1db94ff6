package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/kozaktomas/face-attendance/internal/events"
)

// chanSource hands out a prepared channel.
type chanSource struct {
	ch      chan events.Event
	removed bool
}

func (s *chanSource) AddListener() chan events.Event { return s.ch }

func (s *chanSource) RemoveListener(ch chan events.Event) { s.removed = true }

func TestEventsHandler_Stream(t *testing.T) {
	src := &chanSource{ch: make(chan events.Event, 2)}
	src.ch <- events.Event{ID: "1", Type: events.TypeDecision, Message: "Attendance marked"}
	src.ch <- events.Event{ID: "2", Type: events.TypeGalleryRepaired, Message: "S1 repaired"}
	close(src.ch)

	handler := NewEventsHandler(src)
	recorder := httptest.NewRecorder()
	handler.Stream(recorder, httptest.NewRequest("GET", "/api/v1/events", nil))

	assertStatusCode(t, recorder, http.StatusOK)
	assertContentType(t, recorder, "text/event-stream")

	body := recorder.Body.String()
	for _, want := range []string{
		"event: connected\n",
		"event: " + events.TypeDecision + "\n",
		"event: " + events.TypeGalleryRepaired + "\n",
		`"message":"S1 repaired"`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("expected stream to contain %q\nBody: %s", want, body)
		}
	}
	if strings.Index(body, events.TypeDecision) > strings.Index(body, events.TypeGalleryRepaired) {
		t.Error("expected events in publish order")
	}
	if !src.removed {
		t.Error("expected listener to be removed")
	}
}

func TestEventsHandler_ClientGone(t *testing.T) {
	bus := events.NewBus()
	handler := NewEventsHandler(bus)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	recorder := httptest.NewRecorder()
	handler.Stream(recorder, httptest.NewRequest("GET", "/api/v1/events", nil).WithContext(ctx))

	if !strings.Contains(recorder.Body.String(), "event: connected") {
		t.Errorf("expected connected event, got %q", recorder.Body.String())
	}

	// Listener was removed, so publishing must not block or panic.
	bus.Emit(events.TypeDecision, "after disconnect", nil)
}
