package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/kozaktomas/face-attendance/internal/constants"
	"gopkg.in/yaml.v3"
)

// Mode selects how the decision engine treats unmatched and claimed captures.
type Mode string

const (
	// ModeVerified requires the resolved identity to equal the claimed identity.
	ModeVerified Mode = "verified"
	// ModeOpenEnrollment auto-enrolls probes that match nobody.
	ModeOpenEnrollment Mode = "open"
)

// ErrInvalidSettings is returned when runtime settings fail validation.
var ErrInvalidSettings = errors.New("invalid settings")

// Settings are the runtime-adjustable knobs of the decision engine.
type Settings struct {
	EnableLiveness    bool    `yaml:"enableLiveness" json:"enableLiveness"`
	CooldownSeconds   int     `yaml:"cooldownSeconds" json:"cooldownSeconds"`
	MatchThreshold    float64 `yaml:"matchThreshold" json:"matchThreshold"`
	LivenessThreshold float64 `yaml:"livenessThreshold" json:"livenessThreshold"`
	Mode              Mode    `yaml:"mode" json:"mode"`
	MinDetectionScore float64 `yaml:"minDetectionScore" json:"minDetectionScore"`
	ChallengeMode     bool    `yaml:"challengeMode" json:"challengeMode"`
}

// DefaultSettings returns the settings used when no file exists.
func DefaultSettings() Settings {
	return Settings{
		EnableLiveness:    false,
		CooldownSeconds:   constants.DefaultCooldownSeconds,
		MatchThreshold:    constants.DefaultMatchThreshold,
		LivenessThreshold: constants.DefaultLivenessThreshold,
		Mode:              ModeVerified,
		MinDetectionScore: constants.DefaultMinDetectionScore,
	}
}

// Validate checks ranges and the mode.
func (s Settings) Validate() error {
	if s.MatchThreshold < 0 || s.MatchThreshold > 1 {
		return fmt.Errorf("%w: matchThreshold %.2f outside [0,1]", ErrInvalidSettings, s.MatchThreshold)
	}
	if s.LivenessThreshold < 0 || s.LivenessThreshold > 1 {
		return fmt.Errorf("%w: livenessThreshold %.2f outside [0,1]", ErrInvalidSettings, s.LivenessThreshold)
	}
	if s.MinDetectionScore < 0 || s.MinDetectionScore > 1 {
		return fmt.Errorf("%w: minDetectionScore %.2f outside [0,1]", ErrInvalidSettings, s.MinDetectionScore)
	}
	if s.CooldownSeconds < 0 {
		return fmt.Errorf("%w: cooldownSeconds must not be negative", ErrInvalidSettings)
	}
	switch s.Mode {
	case ModeVerified, ModeOpenEnrollment:
	default:
		return fmt.Errorf("%w: unknown mode %q", ErrInvalidSettings, s.Mode)
	}
	return nil
}

// ParseMode accepts the mode names used on the command line.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "verified":
		return ModeVerified, nil
	case "open", "open-enrollment":
		return ModeOpenEnrollment, nil
	}
	return "", fmt.Errorf("%w: unknown mode %q", ErrInvalidSettings, s)
}

// SettingsStore holds the current settings and persists every change.
type SettingsStore struct {
	mu       sync.RWMutex
	path     string
	settings Settings
}

// OpenSettings loads settings from path. A missing file yields defaults,
// and fields absent from the file keep their default values.
func OpenSettings(path string) (*SettingsStore, error) {
	s := &SettingsStore{path: path, settings: DefaultSettings()}
	if path == "" {
		return s, nil
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read settings: %w", err)
	}

	loaded := DefaultSettings()
	if err := yaml.Unmarshal(data, &loaded); err != nil {
		return nil, fmt.Errorf("parse settings %s: %w", path, err)
	}
	if err := loaded.Validate(); err != nil {
		return nil, err
	}
	s.settings = loaded
	return s, nil
}

// Path returns the settings file, empty for an in-memory store.
func (s *SettingsStore) Path() string {
	return s.path
}

// Get returns a copy of the current settings.
func (s *SettingsStore) Get() Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settings
}

// Set validates, persists and then publishes new settings.
func (s *SettingsStore) Set(next Settings) error {
	if err := next.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.save(next); err != nil {
		return err
	}
	s.settings = next
	return nil
}

// Update applies fn to a copy of the current settings and stores the result.
func (s *SettingsStore) Update(fn func(*Settings)) (Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.settings
	fn(&next)
	if err := next.Validate(); err != nil {
		return s.settings, err
	}
	if err := s.save(next); err != nil {
		return s.settings, err
	}
	s.settings = next
	return next, nil
}

func (s *SettingsStore) save(settings Settings) error {
	if s.path == "" {
		return nil
	}
	data, err := yaml.Marshal(settings)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create settings dir: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace settings: %w", err)
	}
	return nil
}
