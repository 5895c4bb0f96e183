// Package checksum verifies artifact bytes against a declared SHA-256 digest.
//
// Expected checksums are accepted in three spellings and normalized to an
// OCI-style digest ("sha256:<hex>"):
//
//   - base64 of the raw 32-byte hash (the libby.json convention)
//   - 64 hex characters
//   - "sha256:<hex>"
//
// [Verify] only compares. [Check] applies a [Policy] and turns the outcome
// into a structured error.
package checksum

import (
	"bytes"
	_ "crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/opencontainers/go-digest"

	"github.com/libbyhq/libby/pkg/errors"
)

// Result is the outcome of a verification.
type Result int

const (
	Skipped Result = iota // no checksum declared
	Match
	Mismatch
)

func (r Result) String() string {
	switch r {
	case Match:
		return "match"
	case Mismatch:
		return "mismatch"
	default:
		return "skipped"
	}
}

// Policy decides what a missing checksum means.
type Policy int

const (
	// PolicyWarn accepts unverified artifacts and logs a warning.
	PolicyWarn Policy = iota
	// PolicyIgnore accepts unverified artifacts silently.
	PolicyIgnore
	// PolicyStrict rejects descriptors without a checksum.
	PolicyStrict
)

func (p Policy) String() string {
	switch p {
	case PolicyIgnore:
		return "ignore"
	case PolicyStrict:
		return "strict"
	default:
		return "warn"
	}
}

// ParsePolicy parses "warn", "ignore" or "strict". Empty means warn.
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "warn":
		return PolicyWarn, nil
	case "ignore":
		return PolicyIgnore, nil
	case "strict":
		return PolicyStrict, nil
	}
	return PolicyWarn, errors.New(errors.ErrCodeInvalidInput, "unknown checksum policy %q (want warn, ignore or strict)", s)
}

// Compute returns the SHA-256 digest of data.
func Compute(data []byte) digest.Digest {
	return digest.SHA256.FromBytes(data)
}

// ParseExpected normalizes a declared checksum. An empty string yields an
// empty digest and no error.
func ParseExpected(s string) (digest.Digest, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", nil
	}

	if strings.Contains(s, ":") {
		d, err := digest.Parse(strings.ToLower(s))
		if err != nil {
			return "", errors.Wrap(errors.ErrCodeInvalidInput, err, "invalid checksum %q", s)
		}
		if d.Algorithm() != digest.SHA256 {
			return "", errors.New(errors.ErrCodeInvalidInput, "unsupported checksum algorithm %q", d.Algorithm())
		}
		return d, nil
	}

	if len(s) == 64 {
		if _, err := hex.DecodeString(s); err == nil {
			return digest.NewDigestFromEncoded(digest.SHA256, strings.ToLower(s)), nil
		}
	}

	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return "", errors.Wrap(errors.ErrCodeInvalidInput, err, "checksum %q is neither hex nor base64", s)
	}
	if len(raw) != 32 {
		return "", errors.New(errors.ErrCodeInvalidInput, "checksum %q decodes to %d bytes, want 32", s, len(raw))
	}
	return digest.NewDigestFromEncoded(digest.SHA256, hex.EncodeToString(raw)), nil
}

// Base64 renders d the way libby manifests declare checksums.
func Base64(d digest.Digest) string {
	raw, err := hex.DecodeString(d.Encoded())
	if err != nil {
		return ""
	}
	return base64.StdEncoding.EncodeToString(raw)
}

// Verify compares data against expected.
func Verify(data []byte, expected digest.Digest) Result {
	if expected == "" {
		return Skipped
	}
	v := expected.Verifier()
	if _, err := bytes.NewReader(data).WriteTo(v); err != nil {
		return Mismatch
	}
	if v.Verified() {
		return Match
	}
	return Mismatch
}

// Check verifies data and applies p. A mismatch is always an error; a
// missing checksum is an error only under [PolicyStrict].
func Check(data []byte, expected digest.Digest, p Policy) (Result, error) {
	r := Verify(data, expected)
	switch r {
	case Mismatch:
		return r, &errors.Error{
			Code:    errors.ErrCodeChecksumMismatch,
			Message: fmt.Sprintf("expected %s, got %s", expected, Compute(data)),
			Stage:   errors.StageVerify,
		}
	case Skipped:
		if p == PolicyStrict {
			return r, &errors.Error{
				Code:    errors.ErrCodeChecksumRequired,
				Message: "no checksum declared and policy is strict",
				Stage:   errors.StageVerify,
			}
		}
	}
	return r, nil
}
