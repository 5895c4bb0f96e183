package errors

import (
	"net/url"
	"regexp"
	"strings"
	"unicode"
)

// coordinatePartRegex matches Maven group, artifact, version and classifier
// tokens after placeholder expansion.
var coordinatePartRegex = regexp.MustCompile(`^[A-Za-z0-9_.\-+]+$`)

// ValidateCoordinatePart validates one component of a coordinate.
// It rejects values that could escape the repository or cache layout.
//
// The validation rules are intentionally conservative:
//   - No empty values
//   - No control characters
//   - No path traversal sequences (..)
//   - No separators (/ or \)
//   - Maximum length of 256 characters
func ValidateCoordinatePart(field, value string) error {
	if value == "" {
		return New(ErrCodeInvalidInput, "%s cannot be empty", field)
	}

	if len(value) > 256 {
		return New(ErrCodeInvalidInput, "%s too long (max 256 characters)", field)
	}

	for _, r := range value {
		if unicode.IsControl(r) {
			return New(ErrCodeInvalidInput, "%s contains invalid control characters", field)
		}
	}

	if strings.Contains(value, "..") {
		return New(ErrCodeInvalidInput, "%s cannot contain path traversal sequences (..)", field)
	}

	if !coordinatePartRegex.MatchString(value) {
		return New(ErrCodeInvalidInput, "invalid %s: %q", field, value)
	}

	return nil
}

// ValidateRepositoryURL validates a repository location.
// http, https and file URLs are accepted, as are absolute filesystem paths.
func ValidateRepositoryURL(raw string) error {
	if raw == "" {
		return New(ErrCodeInvalidInput, "repository URL cannot be empty")
	}

	if strings.HasPrefix(raw, "/") {
		return nil
	}

	u, err := url.Parse(raw)
	if err != nil {
		return Wrap(ErrCodeInvalidInput, err, "invalid repository URL %q", raw)
	}

	switch u.Scheme {
	case "http", "https":
		if u.Host == "" {
			return New(ErrCodeInvalidInput, "repository URL %q has no host", raw)
		}
	case "file":
	default:
		return New(ErrCodeInvalidInput, "repository URL must use http, https or file scheme: %q", raw)
	}

	return nil
}
