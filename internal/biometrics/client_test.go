package biometrics

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/kozaktomas/face-attendance/internal/attendance"
)

func testImage(t *testing.T) *Image {
	t.Helper()
	img, err := DecodeImage(makeJPEG(t, 64, 48), 0)
	if err != nil {
		t.Fatalf("decode test image: %v", err)
	}
	return img
}

func TestFaceClient_Detect(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/embed/face" {
			t.Errorf("expected /embed/face, got %s", r.URL.Path)
		}
		if _, _, err := r.FormFile("file"); err != nil {
			t.Errorf("expected file part: %v", err)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"faces_count": 2,
			"faces": []map[string]any{
				{"face_index": 0, "embedding": []float32{0.1, 0.2}, "bbox": []float64{1, 2, 30, 40}, "det_score": 0.98},
				{"face_index": 1, "embedding": []float32{0.3, 0.4}, "bbox": []float64{5, 6, 20, 25}, "det_score": 0.31},
			},
			"model": "buffalo_l",
		})
	}))
	defer server.Close()

	client := NewFaceClient(server.URL, time.Second)
	dets, err := client.Detect(context.Background(), testImage(t))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(dets) != 2 {
		t.Fatalf("expected 2 detections, got %d", len(dets))
	}
	if dets[0].Score != 0.98 || len(dets[0].Embedding) != 2 {
		t.Errorf("unexpected first detection: %+v", dets[0])
	}
}

func TestFaceClient_DetectAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := NewFaceClient(server.URL, time.Second)
	if _, err := client.Detect(context.Background(), testImage(t)); err == nil {
		t.Error("expected error for non-200 response")
	}
}

func TestFaceClient_Timeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer server.Close()

	client := NewFaceClient(server.URL, 50*time.Millisecond)
	start := time.Now()
	_, err := client.Detect(context.Background(), testImage(t))
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if time.Since(start) > time.Second {
		t.Errorf("expected call to be cut short, took %v", time.Since(start))
	}
}

func TestFaceClient_ExtractReusesDetectionEmbedding(t *testing.T) {
	client := NewFaceClient("http://127.0.0.1:1", time.Second)
	emb, err := client.Extract(context.Background(), testImage(t), Detection{Embedding: attendance.Embedding{1, 2, 3}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(emb) != 3 {
		t.Errorf("expected reused embedding, got %v", emb)
	}
}

func TestFaceClient_ExtractCropsWhenMissing(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"faces_count": 1,
			"faces":       []map[string]any{{"embedding": []float32{0.5, 0.5}, "bbox": []float64{0, 0, 10, 10}, "det_score": 0.9}},
		})
	}))
	defer server.Close()

	client := NewFaceClient(server.URL, time.Second)
	emb, err := client.Extract(context.Background(), testImage(t), Detection{BBox: []float64{4, 4, 40, 40}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(emb) != 2 {
		t.Errorf("expected embedding of length 2, got %v", emb)
	}
}

func TestFaceClient_ExtractFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"faces_count": 0, "faces": []any{}})
	}))
	defer server.Close()

	client := NewFaceClient(server.URL, time.Second)
	_, err := client.Extract(context.Background(), testImage(t), Detection{BBox: []float64{4, 4, 40, 40}})
	if !errors.Is(err, attendance.ErrEmbeddingExtractionFailed) {
		t.Errorf("expected ErrEmbeddingExtractionFailed, got %v", err)
	}
}

func TestFaceClient_CheckLiveness(t *testing.T) {
	tests := []struct {
		name     string
		response map[string]any
		wantLive bool
	}{
		{"service verdict", map[string]any{"is_live": true, "score": 0.9}, true},
		{"score below threshold", map[string]any{"score": 0.4}, false},
		{"components only", map[string]any{"components": map[string]any{"blink": 1.0, "texture": 1.0, "movement": 0.0}}, true},
		{"single image spoof", map[string]any{"components": map[string]any{"texture": 0.3, "eyes": 2}}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/liveness" {
					t.Errorf("expected /liveness, got %s", r.URL.Path)
				}
				if got := r.FormValue("min_blinks"); got != "2" {
					t.Errorf("expected min_blinks 2, got %q", got)
				}
				json.NewEncoder(w).Encode(tt.response)
			}))
			defer server.Close()

			client := NewFaceClient(server.URL, time.Second)
			res, err := client.CheckLiveness(context.Background(), testImage(t), LivenessConfigFor(true, 0.7))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if res.IsLive != tt.wantLive {
				t.Errorf("expected live=%v, got %v (score %.2f)", tt.wantLive, res.IsLive, res.Score)
			}
		})
	}
}
