// Package biometrics defines the face capabilities the decision engine depends on
// and an HTTP client for the face service that provides them.
package biometrics

import (
	"context"
	"time"

	"github.com/kozaktomas/face-attendance/internal/attendance"
	"github.com/kozaktomas/face-attendance/internal/constants"
)

// Detection is a single face found by the detector.
type Detection struct {
	BBox      []float64            // [x1, y1, x2, y2] in pixels
	Score     float64              // detector confidence
	Embedding attendance.Embedding // filled when the service embeds during detection
}

// Detector finds faces in an image.
type Detector interface {
	Detect(ctx context.Context, img *Image) ([]Detection, error)
}

// Extractor turns a detected face into an embedding.
type Extractor interface {
	Extract(ctx context.Context, img *Image, det Detection) (attendance.Embedding, error)
}

// LivenessConfig parameterizes a liveness check.
type LivenessConfig struct {
	ChallengeMode bool
	MinBlinks     int
	Timeout       time.Duration
	Threshold     float64
}

// LivenessConfigFor returns blink and timeout requirements for the mode:
// challenge mode asks for 2 blinks within 10s, passive mode for 1 within 5s.
func LivenessConfigFor(challenge bool, threshold float64) LivenessConfig {
	if challenge {
		return LivenessConfig{
			ChallengeMode: true,
			MinBlinks:     constants.ChallengeMinBlinks,
			Timeout:       constants.ChallengeTimeout,
			Threshold:     threshold,
		}
	}
	return LivenessConfig{
		MinBlinks: constants.PassiveMinBlinks,
		Timeout:   constants.PassiveTimeout,
		Threshold: threshold,
	}
}

// LivenessComponents are the per-signal scores reported by the liveness scorer.
type LivenessComponents struct {
	Blink    *float64 `json:"blink,omitempty"` // nil for single-image checks
	Texture  float64  `json:"texture"`
	Movement float64  `json:"movement"`
	Eyes     int      `json:"eyes"`
}

// LivenessResult is the outcome of a liveness check.
type LivenessResult struct {
	IsLive     bool               `json:"is_live"`
	Score      float64            `json:"score"`
	Components LivenessComponents `json:"components"`
}

// LivenessScorer decides whether an image shows a live person.
type LivenessScorer interface {
	CheckLiveness(ctx context.Context, img *Image, cfg LivenessConfig) (*LivenessResult, error)
}

// EvaluateLiveness combines component scores into a result. Multi-frame
// results weigh blink, texture and movement 0.5/0.3/0.2 against the threshold.
// Single-image results pass when texture exceeds 0.5 and both eyes are visible.
func EvaluateLiveness(c LivenessComponents, threshold float64) LivenessResult {
	if c.Blink == nil {
		live := c.Texture > constants.SingleImageTextureThreshold && c.Eyes >= constants.SingleImageMinEyes
		score := clamp01(c.Texture)
		return LivenessResult{IsLive: live, Score: score, Components: c}
	}

	score := constants.LivenessBlinkWeight*clamp01(*c.Blink) +
		constants.LivenessTextureWeight*clamp01(c.Texture) +
		constants.LivenessMovementWeight*clamp01(c.Movement)
	return LivenessResult{IsLive: score >= threshold, Score: score, Components: c}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
