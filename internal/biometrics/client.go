package biometrics

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strconv"
	"strings"
	"time"

	"github.com/kozaktomas/face-attendance/internal/attendance"
	"github.com/kozaktomas/face-attendance/internal/constants"
)

const (
	defaultFaceServiceURL = "http://localhost:8000"
	livenessGrace         = 2 * time.Second // slack on top of the liveness window for transport
)

// FaceClient talks to the face service over HTTP. It implements Detector,
// Extractor and LivenessScorer. Every call is bounded by the client timeout.
type FaceClient struct {
	baseURL string
	timeout time.Duration
	client  *http.Client
}

// NewFaceClient creates a new face service client
func NewFaceClient(baseURL string, timeout time.Duration) *FaceClient {
	if baseURL == "" {
		baseURL = defaultFaceServiceURL
	}
	if timeout <= 0 {
		timeout = constants.DefaultCapabilityTimeout
	}
	return &FaceClient{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		timeout: timeout,
		client:  &http.Client{},
	}
}

// faceDetection represents a single detected face
type faceDetection struct {
	FaceIndex int       `json:"face_index"`
	Dim       int       `json:"dim"`
	Embedding []float32 `json:"embedding"`
	BBox      []float64 `json:"bbox"` // [x1, y1, x2, y2]
	DetScore  float64   `json:"det_score"`
}

// faceResponse represents the response from the face embedding endpoint
type faceResponse struct {
	FacesCount int             `json:"faces_count"`
	Faces      []faceDetection `json:"faces"`
	Model      string          `json:"model"`
}

// livenessResponse represents the response from the liveness endpoint
type livenessResponse struct {
	IsLive     *bool              `json:"is_live"`
	Score      *float64           `json:"score"`
	Components LivenessComponents `json:"components"`
}

// postMultipartImage constructs a multipart form with the image data and extra
// fields and posts it to the given endpoint.
func (c *FaceClient) postMultipartImage(ctx context.Context, endpoint string, imageData []byte, fields map[string]string) ([]byte, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="file"; filename="image.jpg"`)
	h.Set("Content-Type", detectMIMEType(imageData))
	part, err := writer.CreatePart(h)
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(imageData); err != nil {
		return nil, fmt.Errorf("failed to write image data: %w", err)
	}
	for k, v := range fields {
		if err := writer.WriteField(k, v); err != nil {
			return nil, fmt.Errorf("failed to write field %s: %w", k, err)
		}
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, &buf)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(body))
	}

	return body, nil
}

func (c *FaceClient) embedFaces(ctx context.Context, data []byte) (*faceResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	body, err := c.postMultipartImage(ctx, "/embed/face", data, nil)
	if err != nil {
		return nil, err
	}

	var faceResp faceResponse
	if err := json.Unmarshal(body, &faceResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	return &faceResp, nil
}

// Detect finds faces and, when the service provides them, their embeddings.
func (c *FaceClient) Detect(ctx context.Context, img *Image) ([]Detection, error) {
	resp, err := c.embedFaces(ctx, img.Data)
	if err != nil {
		return nil, fmt.Errorf("detect faces: %w", err)
	}

	detections := make([]Detection, 0, len(resp.Faces))
	for _, f := range resp.Faces {
		detections = append(detections, Detection{
			BBox:      f.BBox,
			Score:     f.DetScore,
			Embedding: f.Embedding,
		})
	}
	return detections, nil
}

// Extract returns the embedding for a detected face. When detection already
// carried one it is reused, otherwise the face is cropped and embedded alone.
func (c *FaceClient) Extract(ctx context.Context, img *Image, det Detection) (attendance.Embedding, error) {
	if len(det.Embedding) > 0 {
		return det.Embedding, nil
	}

	crop, err := img.Crop(det.BBox)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", attendance.ErrEmbeddingExtractionFailed, err)
	}
	resp, err := c.embedFaces(ctx, crop)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", attendance.ErrEmbeddingExtractionFailed, err)
	}
	if len(resp.Faces) != 1 || len(resp.Faces[0].Embedding) == 0 {
		return nil, fmt.Errorf("%w: service returned %d faces for crop", attendance.ErrEmbeddingExtractionFailed, len(resp.Faces))
	}
	return resp.Faces[0].Embedding, nil
}

// CheckLiveness runs the liveness check. The request is bounded by the
// liveness window rather than the general client timeout.
func (c *FaceClient) CheckLiveness(ctx context.Context, img *Image, cfg LivenessConfig) (*LivenessResult, error) {
	timeout := c.timeout
	if cfg.Timeout > 0 {
		timeout = cfg.Timeout + livenessGrace
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	body, err := c.postMultipartImage(ctx, "/liveness", img.Data, map[string]string{
		"challenge_mode":  strconv.FormatBool(cfg.ChallengeMode),
		"min_blinks":      strconv.Itoa(cfg.MinBlinks),
		"timeout_seconds": strconv.Itoa(int(cfg.Timeout / time.Second)),
	})
	if err != nil {
		return nil, fmt.Errorf("liveness check: %w", err)
	}

	var lr livenessResponse
	if err := json.Unmarshal(body, &lr); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	result := EvaluateLiveness(lr.Components, cfg.Threshold)
	if lr.Score != nil {
		result.Score = *lr.Score
		result.IsLive = *lr.Score >= cfg.Threshold
	}
	if lr.IsLive != nil {
		result.IsLive = *lr.IsLive
	}
	return &result, nil
}

// detectMIMEType detects the MIME type from image data
func detectMIMEType(data []byte) string {
	if len(data) < 8 {
		return "application/octet-stream"
	}
	// JPEG: FF D8 FF
	if data[0] == 0xFF && data[1] == 0xD8 && data[2] == 0xFF {
		return "image/jpeg"
	}
	// PNG: 89 50 4E 47 0D 0A 1A 0A
	if data[0] == 0x89 && data[1] == 0x50 && data[2] == 0x4E && data[3] == 0x47 {
		return "image/png"
	}
	// WebP: 52 49 46 46 ... 57 45 42 50
	if len(data) >= 12 && data[0] == 0x52 && data[1] == 0x49 && data[2] == 0x46 && data[3] == 0x46 &&
		data[8] == 0x57 && data[9] == 0x45 && data[10] == 0x42 && data[11] == 0x50 {
		return "image/webp"
	}
	return "application/octet-stream"
}
