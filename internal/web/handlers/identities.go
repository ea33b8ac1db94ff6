package handlers

import (
	"net/http"

	"github.com/kozaktomas/face-attendance/internal/gallery"
)

// IdentityLister lists enrolled identities.
type IdentityLister interface {
	Summaries() []gallery.Summary
}

// IdentitiesHandler serves the gallery listing.
type IdentitiesHandler struct {
	gallery IdentityLister
}

// NewIdentitiesHandler creates a new identities handler.
func NewIdentitiesHandler(g IdentityLister) *IdentitiesHandler {
	return &IdentitiesHandler{gallery: g}
}

// IdentitiesResponse lists enrolled identities.
type IdentitiesResponse struct {
	Count      int               `json:"count"`
	Identities []gallery.Summary `json:"identities"`
}

// List returns every enrolled identity with its embedding count.
func (h *IdentitiesHandler) List(w http.ResponseWriter, r *http.Request) {
	summaries := h.gallery.Summaries()
	respondJSON(w, http.StatusOK, IdentitiesResponse{Count: len(summaries), Identities: summaries})
}
