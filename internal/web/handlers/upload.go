package handlers

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/kozaktomas/face-attendance/internal/attendance"
	"github.com/kozaktomas/face-attendance/internal/constants"
)

var unsafeFilenameChars = regexp.MustCompile(`[^A-Za-z0-9_.-]+`)

// UploadHandler writes kiosk captures into the intake directory.
type UploadHandler struct {
	intakeDir string
}

// NewUploadHandler creates a new upload handler.
func NewUploadHandler(intakeDir string) *UploadHandler {
	return &UploadHandler{intakeDir: intakeDir}
}

// UploadRequest carries one base64 encoded capture.
type UploadRequest struct {
	Filename string `json:"filename"`
	Image    string `json:"image"`
}

// UploadResponse reports where the capture was stored.
type UploadResponse struct {
	Success  bool   `json:"success"`
	Message  string `json:"message"`
	Filename string `json:"filename"`
}

// Upload decodes the capture and stores it for the watcher.
func (h *UploadHandler) Upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, constants.MaxUploadSize)

	var req UploadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}
	if req.Filename == "" || req.Image == "" {
		respondError(w, http.StatusBadRequest, "missing required data")
		return
	}

	name := sanitizeFilename(req.Filename)
	if !attendance.IsCaptureFile(name) {
		respondError(w, http.StatusBadRequest, "unsupported file type")
		return
	}

	data, err := decodeImage(req.Image)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid image data")
		return
	}

	if err := writeAtomic(h.intakeDir, name, data); err != nil {
		slog.Error("upload: write failed", "file", sanitizeForLog(name), "error", err)
		respondError(w, http.StatusInternalServerError, "failed to save file")
		return
	}

	slog.Info("upload: capture saved", "file", name, "bytes", len(data))
	respondJSON(w, http.StatusOK, UploadResponse{
		Success:  true,
		Message:  "File uploaded successfully",
		Filename: name,
	})
}

// sanitizeFilename keeps the base name, joins whitespace runs with "_" and
// drops anything outside [A-Za-z0-9_.-]. Diacritics are folded first so
// "Jiří_Math.jpg" becomes "Jiri_Math.jpg".
func sanitizeFilename(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, `\`, "/"))
	name = attendance.RemoveDiacritics(strings.TrimSpace(name))
	name = strings.Join(strings.Fields(name), "_")
	name = unsafeFilenameChars.ReplaceAllString(name, "")
	return strings.TrimLeft(name, ".")
}

// decodeImage accepts raw base64 or a data URL such as "data:image/jpeg;base64,...".
func decodeImage(s string) ([]byte, error) {
	if rest, ok := strings.CutPrefix(s, "data:"); ok {
		_, payload, found := strings.Cut(rest, ",")
		if !found {
			return nil, fmt.Errorf("malformed data url")
		}
		s = payload
	}
	data, err := base64.StdEncoding.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("decode base64: %w", err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("empty image")
	}
	return data, nil
}

// writeAtomic writes into a dot-prefixed temp file, which the watcher
// ignores, and renames it into place.
func writeAtomic(dir, name string, data []byte) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create intake dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".upload-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, filepath.Join(dir, name)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename into intake: %w", err)
	}
	return nil
}
