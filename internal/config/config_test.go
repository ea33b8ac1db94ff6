package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("ATTENDANCE_DATA_DIR", "/srv/att")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Paths.IntakeDir != filepath.Join("/srv/att", "uploads") {
		t.Errorf("expected intake dir under data dir, got %s", cfg.Paths.IntakeDir)
	}
	if cfg.Gallery.Path != filepath.Join("/srv/att", "gallery.json") {
		t.Errorf("expected gallery path under data dir, got %s", cfg.Gallery.Path)
	}
	if cfg.Ledger.Backend != "csv" {
		t.Errorf("expected csv ledger, got %s", cfg.Ledger.Backend)
	}
	if cfg.Watch.PollInterval != 5*time.Second {
		t.Errorf("expected 5s poll interval, got %v", cfg.Watch.PollInterval)
	}
	if cfg.Face.URL != "http://localhost:8000" {
		t.Errorf("expected default face service URL, got %s", cfg.Face.URL)
	}
	if cfg.Web.Port != 8080 {
		t.Errorf("expected port 8080, got %d", cfg.Web.Port)
	}
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("ATTENDANCE_DATA_DIR", "/srv/att")
	t.Setenv("ATTENDANCE_INTAKE_DIR", "/mnt/drop")
	t.Setenv("LEDGER_BACKEND", "sqlite")
	t.Setenv("WATCH_CONCURRENCY", "4")
	t.Setenv("CAPABILITY_TIMEOUT", "3s")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Paths.IntakeDir != "/mnt/drop" {
		t.Errorf("expected /mnt/drop, got %s", cfg.Paths.IntakeDir)
	}
	if cfg.Ledger.DSN != filepath.Join("/srv/att", "attendance.db") {
		t.Errorf("expected sqlite DSN under data dir, got %s", cfg.Ledger.DSN)
	}
	if cfg.Watch.Concurrency != 4 {
		t.Errorf("expected concurrency 4, got %d", cfg.Watch.Concurrency)
	}
	if cfg.Face.Timeout != 3*time.Second {
		t.Errorf("expected 3s timeout, got %v", cfg.Face.Timeout)
	}
}

func TestLoad_Validation(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"unknown gallery", map[string]string{"GALLERY_BACKEND": "redis"}},
		{"postgres gallery without url", map[string]string{"GALLERY_BACKEND": "postgres"}},
		{"unknown ledger", map[string]string{"LEDGER_BACKEND": "excel"}},
		{"mysql ledger without dsn", map[string]string{"LEDGER_BACKEND": "mysql"}},
		{"unknown metric", map[string]string{"FACE_DISTANCE_METRIC": "manhattan"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			if _, err := Load(); err == nil {
				t.Error("expected error, got nil")
			}
		})
	}
}

func TestSettings_Validate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Settings)
		wantErr bool
	}{
		{"defaults", func(*Settings) {}, false},
		{"open mode", func(s *Settings) { s.Mode = ModeOpenEnrollment }, false},
		{"threshold above one", func(s *Settings) { s.MatchThreshold = 1.2 }, true},
		{"negative liveness threshold", func(s *Settings) { s.LivenessThreshold = -0.1 }, true},
		{"negative cooldown", func(s *Settings) { s.CooldownSeconds = -1 }, true},
		{"zero cooldown", func(s *Settings) { s.CooldownSeconds = 0 }, false},
		{"unknown mode", func(s *Settings) { s.Mode = "kiosk" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := DefaultSettings()
			tt.modify(&s)
			err := s.Validate()
			if tt.wantErr && !errors.Is(err, ErrInvalidSettings) {
				t.Errorf("expected ErrInvalidSettings, got %v", err)
			}
			if !tt.wantErr && err != nil {
				t.Errorf("expected no error, got %v", err)
			}
		})
	}
}

func TestSettingsStore_MissingFileUsesDefaults(t *testing.T) {
	store, err := OpenSettings(filepath.Join(t.TempDir(), "settings.yaml"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if store.Get() != DefaultSettings() {
		t.Errorf("expected defaults, got %+v", store.Get())
	}
}

func TestSettingsStore_SetPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "settings.yaml")
	store, err := OpenSettings(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	next := DefaultSettings()
	next.EnableLiveness = true
	next.CooldownSeconds = 60
	next.Mode = ModeOpenEnrollment
	if err := store.Set(next); err != nil {
		t.Fatalf("set failed: %v", err)
	}

	reopened, err := OpenSettings(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	if reopened.Get() != next {
		t.Errorf("expected %+v, got %+v", next, reopened.Get())
	}
}

func TestSettingsStore_SetRejectsInvalid(t *testing.T) {
	store, _ := OpenSettings("")
	bad := DefaultSettings()
	bad.MatchThreshold = 2

	if err := store.Set(bad); !errors.Is(err, ErrInvalidSettings) {
		t.Errorf("expected ErrInvalidSettings, got %v", err)
	}
	if store.Get().MatchThreshold != 0.92 {
		t.Errorf("expected threshold unchanged, got %.2f", store.Get().MatchThreshold)
	}
}

func TestSettingsStore_PartialFileKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yaml")
	if err := os.WriteFile(path, []byte("enableLiveness: true\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	store, err := OpenSettings(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got := store.Get()
	if !got.EnableLiveness {
		t.Error("expected liveness enabled")
	}
	if got.CooldownSeconds != 300 {
		t.Errorf("expected default cooldown 300, got %d", got.CooldownSeconds)
	}
}

func TestSettingsStore_Update(t *testing.T) {
	store, _ := OpenSettings(filepath.Join(t.TempDir(), "settings.yaml"))

	got, err := store.Update(func(s *Settings) { s.MatchThreshold = 0.8 })
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.MatchThreshold != 0.8 || store.Get().MatchThreshold != 0.8 {
		t.Errorf("expected 0.8, got %.2f", store.Get().MatchThreshold)
	}
}

func TestParseMode(t *testing.T) {
	if m, err := ParseMode("open-enrollment"); err != nil || m != ModeOpenEnrollment {
		t.Errorf("expected open mode, got %q (%v)", m, err)
	}
	if _, err := ParseMode("bogus"); err == nil {
		t.Error("expected error for unknown mode")
	}
}
