package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/kozaktomas/face-attendance/internal/attendance"
	"github.com/kozaktomas/face-attendance/internal/biometrics"
	"github.com/kozaktomas/face-attendance/internal/config"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// checkLiveness runs the liveness gate. A scorer error counts as a failed
// check; matching is never attempted after a failure.
func (e *Engine) checkLiveness(ctx context.Context, img *biometrics.Image, s config.Settings) (float64, error) {
	ctx, span := e.tracer.Start(ctx, "engine.liveness")
	defer span.End()

	if e.Liveness == nil {
		err := fmt.Errorf("%w: no liveness scorer configured", attendance.ErrLivenessFailed)
		span.SetStatus(codes.Error, err.Error())
		return 0, err
	}

	res, err := e.Liveness.CheckLiveness(ctx, img, biometrics.LivenessConfigFor(s.ChallengeMode, s.LivenessThreshold))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "liveness check failed")
		return 0, fmt.Errorf("%w: %w", attendance.ErrLivenessFailed, err)
	}
	span.SetAttributes(attribute.Float64("liveness.score", res.Score), attribute.Bool("liveness.live", res.IsLive))
	if !res.IsLive {
		return res.Score, fmt.Errorf("%w: score %.2f", attendance.ErrLivenessFailed, res.Score)
	}
	return res.Score, nil
}

// embed detects exactly one face at or above minScore and extracts its
// embedding.
func (e *Engine) embed(ctx context.Context, img *biometrics.Image, minScore float64) (attendance.Embedding, error) {
	ctx, span := e.tracer.Start(ctx, "engine.embed")
	defer span.End()

	detections, err := e.Detector.Detect(ctx, img)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "detection failed")
		if isTaxonomy(err) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: detect: %w", attendance.ErrEmbeddingExtractionFailed, err)
	}

	var faces []biometrics.Detection
	for _, det := range detections {
		if det.Score >= minScore {
			faces = append(faces, det)
		}
	}
	span.SetAttributes(attribute.Int("faces.detected", len(detections)), attribute.Int("faces.accepted", len(faces)))

	switch len(faces) {
	case 0:
		return nil, attendance.ErrNoFaceDetected
	case 1:
	default:
		return nil, fmt.Errorf("%w: %d faces", attendance.ErrMultipleFacesDetected, len(faces))
	}

	emb, err := e.Extractor.Extract(ctx, img, faces[0])
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "extraction failed")
		if isTaxonomy(err) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", attendance.ErrEmbeddingExtractionFailed, err)
	}
	if len(emb) == 0 {
		return nil, fmt.Errorf("%w: empty embedding", attendance.ErrEmbeddingExtractionFailed)
	}
	return emb, nil
}

func (e *Engine) match(ctx context.Context, probe attendance.Embedding, threshold float64) ([]attendance.MatchResult, error) {
	_, span := e.tracer.Start(ctx, "engine.match", trace.WithAttributes(attribute.Float64("match.threshold", threshold)))
	defer span.End()

	results, err := e.Resolver.Match(probe, threshold)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(
		attribute.Int("match.candidates", len(results)),
		attribute.String("match.best", results[0].Identity),
		attribute.Float64("match.confidence", results[0].Confidence),
	)
	return results, nil
}

// embedFile loads an image and extracts the single face in it.
func (e *Engine) embedFile(ctx context.Context, path string) (attendance.Embedding, error) {
	img, err := biometrics.LoadImage(path, e.maxImageSize)
	if err != nil {
		return nil, err
	}
	return e.embed(ctx, img, e.Settings.Get().MinDetectionScore)
}

// Enroll registers the face in the image at path under identity.
func (e *Engine) Enroll(ctx context.Context, identity, path string) error {
	identity = attendance.NormalizeIdentity(identity)
	if identity == "" {
		return errors.New("identity is required")
	}
	emb, err := e.embedFile(ctx, path)
	if err != nil {
		return err
	}
	return e.Resolver.Enroll(ctx, identity, emb, path)
}

// Match ranks the enrolled identities against the face in the image at path.
func (e *Engine) Match(ctx context.Context, path string) ([]attendance.MatchResult, error) {
	emb, err := e.embedFile(ctx, path)
	if err != nil {
		return nil, err
	}
	return e.match(ctx, emb, e.Settings.Get().MatchThreshold)
}

func isTaxonomy(err error) bool {
	return attendance.ReasonFor(err) != attendance.ReasonProcessingError
}
