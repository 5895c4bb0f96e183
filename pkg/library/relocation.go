package library

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"slices"
	"strings"

	"github.com/libbyhq/libby/pkg/errors"
)

// Relocation rewrites every reference to Pattern (a package prefix such as
// "com.google.gson") into Relocated. Includes and Excludes are glob patterns
// over dotted or slash class names; when Includes is non-empty a name must
// match one of them.
type Relocation struct {
	Pattern   string   `json:"pattern"`
	Relocated string   `json:"relocatedPattern"`
	Includes  []string `json:"includes,omitempty"`
	Excludes  []string `json:"excludes,omitempty"`
}

// NewRelocation builds a rule, unescaping "{}" in both patterns.
func NewRelocation(pattern, relocated string, includes, excludes []string) Relocation {
	return Relocation{
		Pattern:   Unescape(pattern),
		Relocated: Unescape(relocated),
		Includes:  slices.Clone(includes),
		Excludes:  slices.Clone(excludes),
	}
}

// Validate rejects empty or self-referencing rules.
func (r Relocation) Validate() error {
	if strings.Trim(r.Pattern, "./") == "" || strings.Trim(r.Relocated, "./") == "" {
		return errors.New(errors.ErrCodeInvalidInput, "relocation needs both a pattern and a relocated pattern")
	}
	if r.Pattern == r.Relocated {
		return errors.New(errors.ErrCodeInvalidInput, "relocation %q maps onto itself", r.Pattern)
	}
	return nil
}

func (r Relocation) String() string { return r.Pattern + " -> " + r.Relocated }

func (r Relocation) clone() Relocation {
	r.Includes = slices.Clone(r.Includes)
	r.Excludes = slices.Clone(r.Excludes)
	return r
}

// Fingerprint identifies an ordered rule set. An empty set has the empty
// fingerprint, so relocating with no rules shares a cache key with not
// relocating at all.
func Fingerprint(rules []Relocation) string {
	if len(rules) == 0 {
		return ""
	}
	canon := make([]Relocation, len(rules))
	for i, r := range rules {
		canon[i] = Relocation{
			Pattern:   strings.ReplaceAll(r.Pattern, "/", "."),
			Relocated: strings.ReplaceAll(r.Relocated, "/", "."),
			Includes:  r.Includes,
			Excludes:  r.Excludes,
		}
	}
	data, _ := json.Marshal(canon)
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}
