// Package engine turns captures into attendance decisions: liveness gate,
// detection, identity resolution, cooldown, ledger write and archival.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/kozaktomas/face-attendance/internal/attendance"
	"github.com/kozaktomas/face-attendance/internal/biometrics"
	"github.com/kozaktomas/face-attendance/internal/config"
	"github.com/kozaktomas/face-attendance/internal/constants"
	"github.com/kozaktomas/face-attendance/internal/cooldown"
	"github.com/kozaktomas/face-attendance/internal/events"
	"github.com/kozaktomas/face-attendance/internal/ledger"
	"github.com/kozaktomas/face-attendance/internal/resolver"
	"github.com/kozaktomas/face-attendance/internal/stats"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/kozaktomas/face-attendance/internal/engine"

// Archiver moves a decided capture out of the intake directory.
type Archiver interface {
	Move(path string, outcome attendance.Outcome) (string, error)
}

// Deps are the collaborators of an Engine. All are required except Liveness,
// which is only needed when liveness is enabled in the settings.
type Deps struct {
	Settings  *config.SettingsStore
	Detector  biometrics.Detector
	Extractor biometrics.Extractor
	Liveness  biometrics.LivenessScorer
	Resolver  *resolver.Resolver
	Cooldown  *cooldown.Tracker
	Ledger    ledger.Store
	Archiver  Archiver
	Stats     *stats.Aggregator
}

// Engine is safe for concurrent use. Decisions for the same identity and
// context are serialized; everything else runs in parallel.
type Engine struct {
	Deps

	events       events.Emitter
	logger       *slog.Logger
	tracer       trace.Tracer
	now          func() time.Time
	maxImageSize int
	locks        keyLocks
}

// Option configures an Engine.
type Option func(*Engine)

// WithEmitter publishes decision and failure events.
func WithEmitter(e events.Emitter) Option {
	return func(en *Engine) { en.events = e }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(en *Engine) { en.logger = l }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(en *Engine) { en.now = now }
}

// WithMaxImageSize sets the largest dimension sent to the face service.
func WithMaxImageSize(px int) Option {
	return func(en *Engine) { en.maxImageSize = px }
}

// New validates the dependencies and creates an engine.
func New(deps Deps, opts ...Option) (*Engine, error) {
	switch {
	case deps.Settings == nil:
		return nil, errors.New("engine: settings store is required")
	case deps.Detector == nil || deps.Extractor == nil:
		return nil, errors.New("engine: detector and extractor are required")
	case deps.Resolver == nil:
		return nil, errors.New("engine: resolver is required")
	case deps.Ledger == nil:
		return nil, errors.New("engine: ledger is required")
	case deps.Archiver == nil:
		return nil, errors.New("engine: archiver is required")
	}
	if deps.Cooldown == nil {
		deps.Cooldown = cooldown.New()
	}
	if deps.Stats == nil {
		deps.Stats = stats.New()
	}

	e := &Engine{
		Deps:         deps,
		events:       events.Discard{},
		logger:       slog.Default(),
		tracer:       otel.Tracer(tracerName),
		now:          time.Now,
		maxImageSize: constants.MaxImageSize,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// HandleCapture processes a file from the intake directory. It satisfies
// intake.Handler; the returned error is only the archival failure, since the
// decision itself is always terminal.
func (e *Engine) HandleCapture(ctx context.Context, path string) error {
	_, err := e.Process(ctx, path)
	return err
}

// Process decides a capture, records it in the ledger, archives the file,
// updates the stats and publishes the decision.
func (e *Engine) Process(ctx context.Context, path string) (attendance.Decision, error) {
	capture := attendance.ParseCapture(path, e.now())

	ctx, span := e.tracer.Start(ctx, "engine.Process", trace.WithAttributes(
		attribute.String("capture.name", capture.Name),
	))
	defer span.End()

	d := e.decide(ctx, capture)

	archiveErr := e.archive(d)
	e.Stats.Observe(d)
	e.publish(d)

	span.SetAttributes(
		attribute.String("decision.status", string(d.Status)),
		attribute.String("decision.reason", d.Reason()),
	)
	if archiveErr != nil {
		span.RecordError(archiveErr)
		span.SetStatus(codes.Error, "archive failed")
	}
	return d, archiveErr
}

// decide runs the state machine up to and including the ledger write.
func (e *Engine) decide(ctx context.Context, c attendance.Capture) attendance.Decision {
	s := e.Settings.Get()
	d := attendance.Decision{
		ID:        uuid.NewString(),
		Capture:   c,
		Timestamp: e.now(),
	}
	if s.Mode == config.ModeOpenEnrollment {
		// Provisional; a passing match replaces it.
		d.Identity = attendance.EnrollmentIdentity(c)
	} else {
		d.Identity = c.Claim
		d.Context = c.Context
	}

	img, err := biometrics.LoadImage(c.Path, e.maxImageSize)
	if err != nil {
		return e.commit(ctx, reject(d, err), nil)
	}

	if s.EnableLiveness {
		score, err := e.checkLiveness(ctx, img, s)
		d.LivenessScore = score
		if err != nil {
			return e.commit(ctx, reject(d, err), nil)
		}
	}

	probe, err := e.embed(ctx, img, s.MinDetectionScore)
	if err != nil {
		return e.commit(ctx, reject(d, err), nil)
	}

	if s.Mode == config.ModeOpenEnrollment {
		return e.decideOpen(ctx, d, probe, s)
	}
	return e.decideVerified(ctx, d, probe, s)
}

// decideVerified accepts only when the best match is the claimed identity
// and clears the threshold.
func (e *Engine) decideVerified(ctx context.Context, d attendance.Decision, probe attendance.Embedding, s config.Settings) attendance.Decision {
	c := d.Capture
	if d.Identity == "" {
		d.Identity = attendance.EnrollmentIdentity(c)
		return e.commit(ctx, reject(d, fmt.Errorf("%w: no claimed identity in %s", attendance.ErrIdentityMismatch, c.Name)), nil)
	}

	results, err := e.match(ctx, probe, s.MatchThreshold)
	if err != nil {
		return e.commit(ctx, reject(d, err), nil)
	}
	d.Matches = resolver.Top(results, constants.DefaultTopMatches)
	best := results[0]

	switch {
	case best.Identity != d.Identity:
		return e.commit(ctx, reject(d, fmt.Errorf("%w: best match %s", attendance.ErrIdentityMismatch, best.Identity)), nil)
	case !best.PassesThreshold:
		d.Confidence = best.Confidence
		return e.commit(ctx, reject(d, fmt.Errorf("%w: %.4f below %.4f", attendance.ErrLowConfidenceMatch, best.Confidence, s.MatchThreshold)), nil)
	}

	d.Confidence = best.Confidence
	d.Method = attendance.MethodFaceRecognition
	return e.commit(ctx, accept(d), nil)
}

// decideOpen accepts the best match when it clears the threshold and
// otherwise enrolls the probe under the identity derived from the filename.
func (e *Engine) decideOpen(ctx context.Context, d attendance.Decision, probe attendance.Embedding, s config.Settings) attendance.Decision {
	results, err := e.match(ctx, probe, s.MatchThreshold)
	switch {
	case err == nil && results[0].PassesThreshold:
		d.Matches = resolver.Top(results, constants.DefaultTopMatches)
		d.Identity = results[0].Identity
		d.Confidence = results[0].Confidence
		d.Method = attendance.MethodFaceRecognition
		return e.commit(ctx, accept(d), nil)
	case err != nil && !errors.Is(err, attendance.ErrNoEnrolledIdentities):
		return e.commit(ctx, reject(d, err), nil)
	}

	if err == nil {
		d.Matches = resolver.Top(results, constants.DefaultTopMatches)
	}
	d.Identity = attendance.EnrollmentIdentity(d.Capture)
	d.Method = attendance.MethodNewRegistration
	return e.commit(ctx, accept(d), probe)
}

// commit applies the cooldown, enrolls a pending probe and writes the ledger
// record while holding the lock for the decision's identity and context.
func (e *Engine) commit(ctx context.Context, d attendance.Decision, enrollProbe attendance.Embedding) attendance.Decision {
	if d.Identity == "" {
		d.Identity = attendance.EnrollmentIdentity(d.Capture)
	}
	key := cooldown.Key{Identity: d.Identity, Context: d.Context}
	unlock := e.locks.lock(key)
	defer unlock()

	if d.Present() {
		window := time.Duration(e.Settings.Get().CooldownSeconds) * time.Second
		if remaining, blocked := e.Cooldown.Check(key, d.Timestamp, window); blocked {
			d.Confidence = 0
			d = reject(d, fmt.Errorf("%w: %s remaining", attendance.ErrDuplicateSubmission, remaining.Round(time.Second)))
		}
	}

	if d.Present() && enrollProbe != nil {
		if err := e.Resolver.Enroll(ctx, d.Identity, enrollProbe, d.Capture.Path); err != nil {
			d = reject(d, err)
		}
	}

	rec := attendance.Record{
		Identity:   d.Identity,
		Context:    d.Context,
		Date:       d.Timestamp.Format(constants.DateLayout),
		Time:       d.Timestamp,
		Status:     attendance.LedgerStatus(d),
		Method:     d.Method,
		Confidence: d.Confidence,
	}
	if err := e.Ledger.Upsert(ctx, rec); err != nil {
		e.logger.Error("ledger write failed", "capture", d.Capture.Name, "identity", d.Identity, "error", err)
		e.events.Emit(events.TypeLedgerFailed, "ledger write failed", map[string]string{
			"capture":  d.Capture.Name,
			"identity": d.Identity,
		})
		if d.Present() {
			d = reject(d, fmt.Errorf("%w: %w", attendance.ErrPersistence, err))
		}
		return d
	}

	if d.Present() {
		e.Cooldown.Record(key, d.Timestamp)
	}
	return d
}

func (e *Engine) archive(d attendance.Decision) error {
	dest, err := e.Archiver.Move(d.Capture.Path, d.Outcome())
	if err != nil {
		e.logger.Error("archival move failed", "capture", d.Capture.Name, "outcome", d.Outcome(), "error", err)
		e.events.Emit(events.TypeArchiveFailed, "archival move failed", map[string]string{
			"capture": d.Capture.Name,
			"outcome": string(d.Outcome()),
		})
		return err
	}
	e.logger.Debug("capture archived", "capture", d.Capture.Name, "dest", dest)
	return nil
}

// DecisionEvent is the payload of a decision event.
type DecisionEvent struct {
	ID         string                   `json:"id"`
	Capture    string                   `json:"capture"`
	Identity   string                   `json:"identity"`
	Context    string                   `json:"context,omitempty"`
	Status     attendance.Status        `json:"status"`
	Success    bool                     `json:"success"`
	Reason     string                   `json:"reason,omitempty"`
	Message    string                   `json:"message"`
	Method     string                   `json:"method,omitempty"`
	Confidence float64                  `json:"confidence"`
	Matches    []attendance.MatchResult `json:"matches,omitempty"`
	Time       time.Time                `json:"time"`
}

// NewDecisionEvent builds the reporting view of a decision.
func NewDecisionEvent(d attendance.Decision) DecisionEvent {
	return DecisionEvent{
		ID:         d.ID,
		Capture:    d.Capture.Name,
		Identity:   d.Identity,
		Context:    d.Context,
		Status:     d.Status,
		Success:    d.Present(),
		Reason:     d.Reason(),
		Message:    d.Message(),
		Method:     d.Method,
		Confidence: d.Confidence,
		Matches:    d.Matches,
		Time:       d.Timestamp,
	}
}

func (e *Engine) publish(d attendance.Decision) {
	attrs := []any{
		"capture", d.Capture.Name,
		"identity", d.Identity,
		"decision", d.Status,
		"confidence", d.Confidence,
	}
	if d.Present() {
		e.logger.Info("decision", append(attrs, "method", d.Method)...)
	} else {
		e.logger.Warn("decision", append(attrs, "reason", d.Reason(), "error", d.Err)...)
	}
	e.events.Emit(events.TypeDecision, d.Message(), NewDecisionEvent(d))
}

func accept(d attendance.Decision) attendance.Decision {
	d.Status = attendance.StatusPresent
	d.Err = nil
	return d
}

func reject(d attendance.Decision, err error) attendance.Decision {
	d.Status = attendance.StatusRejected
	d.Err = err
	return d
}
