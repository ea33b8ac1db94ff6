package biometrics

import (
	"math"
	"testing"
	"time"
)

func ptr(v float64) *float64 { return &v }

func TestEvaluateLiveness(t *testing.T) {
	tests := []struct {
		name      string
		c         LivenessComponents
		wantLive  bool
		wantScore float64
	}{
		{"all signals", LivenessComponents{Blink: ptr(1), Texture: 1, Movement: 1}, true, 1.0},
		{"blink and texture", LivenessComponents{Blink: ptr(1), Texture: 0.7, Movement: 0}, true, 0.71},
		{"no blink", LivenessComponents{Blink: ptr(0), Texture: 1, Movement: 1}, false, 0.5},
		{"clamped inputs", LivenessComponents{Blink: ptr(3), Texture: 2, Movement: 2}, true, 1.0},
		{"negative inputs", LivenessComponents{Blink: ptr(-1), Texture: -1, Movement: -1}, false, 0},
		{"single image live", LivenessComponents{Texture: 0.8, Eyes: 2}, true, 0.8},
		{"single image one eye", LivenessComponents{Texture: 0.8, Eyes: 1}, false, 0.8},
		{"single image flat texture", LivenessComponents{Texture: 0.5, Eyes: 2}, false, 0.5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := EvaluateLiveness(tt.c, 0.7)
			if res.IsLive != tt.wantLive {
				t.Errorf("expected live=%v, got %v", tt.wantLive, res.IsLive)
			}
			if math.Abs(res.Score-tt.wantScore) > 1e-9 {
				t.Errorf("expected score %.3f, got %.3f", tt.wantScore, res.Score)
			}
		})
	}
}

func TestLivenessConfigFor(t *testing.T) {
	challenge := LivenessConfigFor(true, 0.7)
	if challenge.MinBlinks != 2 || challenge.Timeout != 10*time.Second {
		t.Errorf("unexpected challenge config: %+v", challenge)
	}
	passive := LivenessConfigFor(false, 0.7)
	if passive.MinBlinks != 1 || passive.Timeout != 5*time.Second {
		t.Errorf("unexpected passive config: %+v", passive)
	}
}
