package utils

import (
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// UploadExtensions lists the extensions accepted for uploaded files.
var UploadExtensions = []string{".jpg", ".jpeg", ".png", ".webp"}

var (
	// ErrUnsupportedMediaType is returned for uploads with a non-image content type.
	ErrUnsupportedMediaType = errors.New("unsupported media type")
	// ErrUnsupportedExtension is returned for uploads with a disallowed extension.
	ErrUnsupportedExtension = errors.New("unsupported file extension")
)

// ValidateUpload checks an uploaded file's declared content type and name.
// An empty content type or filename is not checked.
func ValidateUpload(filename, contentType string) error {
	if contentType != "" && !strings.HasPrefix(strings.ToLower(contentType), "image/") {
		return fmt.Errorf("%w: %s", ErrUnsupportedMediaType, contentType)
	}
	if filename == "" {
		return nil
	}
	ext := strings.ToLower(filepath.Ext(filename))
	if !slices.Contains(UploadExtensions, ext) {
		return fmt.Errorf("%w: %q (allowed: %s)", ErrUnsupportedExtension, ext, strings.Join(UploadExtensions, ", "))
	}
	return nil
}

// ProcessedSuffix is appended to the stem of processed outputs.
const ProcessedSuffix = "_processed"

// OutputName derives "<stem>_processed<ext>" from an input file name. The
// stem is folded to ASCII and anything outside [A-Za-z0-9._-] becomes '_'.
func OutputName(input, ext string) string {
	if ext == "" {
		ext = ".png"
	}
	base := filepath.Base(filepath.ToSlash(input))
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	stem = SanitizeName(stem)
	if stem == "" {
		stem = "image"
	}
	return stem + ProcessedSuffix + ext
}

// SanitizeName strips diacritics and replaces unsafe characters.
func SanitizeName(name string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, name)
	if err != nil {
		folded = name
	}
	var b strings.Builder
	for _, r := range folded {
		switch {
		case r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)), r == '-', r == '_', r == '.':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return strings.Trim(b.String(), "._")
}
