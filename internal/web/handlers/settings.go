package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/kozaktomas/face-attendance/internal/config"
	"github.com/kozaktomas/face-attendance/internal/events"
)

// SettingsHandler reads and updates runtime settings.
type SettingsHandler struct {
	store   *config.SettingsStore
	emitter events.Emitter
}

// NewSettingsHandler creates a new settings handler.
func NewSettingsHandler(store *config.SettingsStore, emitter events.Emitter) *SettingsHandler {
	if emitter == nil {
		emitter = events.Discard{}
	}
	return &SettingsHandler{store: store, emitter: emitter}
}

// Get returns the current settings.
func (h *SettingsHandler) Get(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.store.Get())
}

// Update applies a partial settings document. Fields missing from the body
// keep their current values.
func (h *SettingsHandler) Update(w http.ResponseWriter, r *http.Request) {
	var patch json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}

	var decodeErr error
	saved, err := h.store.Update(func(next *config.Settings) {
		dec := json.NewDecoder(bytes.NewReader(patch))
		dec.DisallowUnknownFields()
		candidate := *next
		if decodeErr = dec.Decode(&candidate); decodeErr == nil {
			*next = candidate
		}
	})
	switch {
	case decodeErr != nil:
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	case errors.Is(err, config.ErrInvalidSettings):
		respondError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		slog.Error("settings: save failed", "error", err)
		respondError(w, http.StatusInternalServerError, "failed to save settings")
		return
	}

	h.emitter.Emit(events.TypeSettingsUpdated, "settings updated", saved)
	respondJSON(w, http.StatusOK, saved)
}
