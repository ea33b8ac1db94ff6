package attendance

import (
	"path/filepath"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var captureExtensions = map[string]struct{}{
	".jpg":  {},
	".jpeg": {},
	".png":  {},
	".bmp":  {},
	".webp": {},
}

// IsCaptureFile reports whether name has an accepted image extension.
func IsCaptureFile(name string) bool {
	if strings.HasPrefix(filepath.Base(name), ".") {
		return false
	}
	_, ok := captureExtensions[strings.ToLower(filepath.Ext(name))]
	return ok
}

// RemoveDiacritics removes diacritical marks from a string (e.g., "Jiří" -> "Jiri").
func RemoveDiacritics(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	result, _, _ := transform.String(t, s)
	return result
}

// NormalizeIdentity turns free text into an identity id: no diacritics,
// upper case, runs of whitespace collapsed to a single underscore.
func NormalizeIdentity(s string) string {
	s = RemoveDiacritics(strings.TrimSpace(s))
	s = strings.Join(strings.Fields(s), "_")
	return strings.ToUpper(s)
}

// Stem returns the filename without directory and extension.
func Stem(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// ParseCapture builds a Capture from a file path. "S2_Math.jpg" claims S2
// in context Math; "S2.jpg" claims S2 with no context.
func ParseCapture(path string, arrivedAt time.Time) Capture {
	c := Capture{
		Path:      path,
		Name:      filepath.Base(path),
		ArrivedAt: arrivedAt,
	}
	stem := Stem(path)
	claim, ctx, _ := strings.Cut(stem, "_")
	c.Claim = NormalizeIdentity(claim)
	c.Context = strings.TrimSpace(ctx)
	return c
}

// EnrollmentIdentity is the identity an unmatched probe is enrolled under
// in open enrollment mode.
func EnrollmentIdentity(c Capture) string {
	return NormalizeIdentity(Stem(c.Name))
}
