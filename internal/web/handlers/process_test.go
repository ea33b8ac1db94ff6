package handlers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

type fakeDrainer struct {
	n   int
	err error
}

func (f fakeDrainer) ProcessNow(ctx context.Context) (int, error) {
	return f.n, f.err
}

func TestProcessHandler_ProcessNow(t *testing.T) {
	tests := []struct {
		name        string
		drainer     fakeDrainer
		wantStatus  int
		wantSuccess bool
		wantCount   int
		wantMessage string
	}{
		{"drained", fakeDrainer{n: 3}, http.StatusOK, true, 3, "processed 3 file(s)"},
		{"nothing pending", fakeDrainer{}, http.StatusOK, true, 0, "processed 0 file(s)"},
		{"scan failure", fakeDrainer{n: 1, err: errors.New("open /srv/intake: permission denied")}, http.StatusInternalServerError, false, 1, msgIntakeScanFailed},
		{"interrupted", fakeDrainer{n: 2, err: context.Canceled}, http.StatusServiceUnavailable, false, 2, msgProcessInterrupted},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := NewProcessHandler(tt.drainer)
			recorder := httptest.NewRecorder()
			handler.ProcessNow(recorder, httptest.NewRequest("POST", "/api/v1/process-now", nil))

			assertStatusCode(t, recorder, tt.wantStatus)

			var resp ProcessResponse
			parseJSONResponse(t, recorder, &resp)
			if resp.Success != tt.wantSuccess {
				t.Errorf("expected success=%v, got %v", tt.wantSuccess, resp.Success)
			}
			if resp.Processed != tt.wantCount {
				t.Errorf("expected processed=%d, got %d", tt.wantCount, resp.Processed)
			}
			if resp.Message != tt.wantMessage {
				t.Errorf("expected message %q, got %q", tt.wantMessage, resp.Message)
			}
			if strings.Contains(recorder.Body.String(), "/srv/intake") {
				t.Errorf("expected no error detail in body, got %s", recorder.Body.String())
			}
		})
	}
}
