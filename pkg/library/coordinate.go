package library

import (
	"strings"

	"github.com/libbyhq/libby/pkg/errors"
)

// SnapshotSuffix marks a mutable development version.
const SnapshotSuffix = "-SNAPSHOT"

// Coordinate identifies an artifact in a Maven-layout repository.
type Coordinate struct {
	Group      string
	Artifact   string
	Version    string
	Classifier string
}

// ParseCoordinate parses "group:artifact:version[:classifier]".
// "{}" in any part is replaced with ".".
func ParseCoordinate(s string) (Coordinate, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) < 3 || len(parts) > 4 {
		return Coordinate{}, errors.New(errors.ErrCodeInvalidInput,
			"invalid coordinate %q (want group:artifact:version[:classifier])", s)
	}
	c := Coordinate{
		Group:    Unescape(parts[0]),
		Artifact: Unescape(parts[1]),
		Version:  parts[2],
	}
	if len(parts) == 4 {
		c.Classifier = parts[3]
	}
	return c, c.Validate()
}

// Validate checks every part for characters that could escape the
// repository or cache layout.
func (c Coordinate) Validate() error {
	if err := errors.ValidateCoordinatePart("group", c.Group); err != nil {
		return err
	}
	if err := errors.ValidateCoordinatePart("artifact", c.Artifact); err != nil {
		return err
	}
	if err := errors.ValidateCoordinatePart("version", c.Version); err != nil {
		return err
	}
	if c.Classifier != "" {
		return errors.ValidateCoordinatePart("classifier", c.Classifier)
	}
	return nil
}

// String renders "group:artifact:version[:classifier]".
func (c Coordinate) String() string {
	s := c.Group + ":" + c.Artifact + ":" + c.Version
	if c.Classifier != "" {
		s += ":" + c.Classifier
	}
	return s
}

// ID is "group:artifact", the identity used for exclusions and conflict
// resolution.
func (c Coordinate) ID() string { return c.Group + ":" + c.Artifact }

// IsSnapshot reports whether the version is a SNAPSHOT.
func (c Coordinate) IsSnapshot() bool { return strings.HasSuffix(c.Version, SnapshotSuffix) }

// GroupPath is the group with dots replaced by slashes.
func (c Coordinate) GroupPath() string { return strings.ReplaceAll(c.Group, ".", "/") }

// FileName returns artifact-fileVersion[-classifier].ext. fileVersion
// differs from Version only for timestamped SNAPSHOT builds.
func (c Coordinate) FileName(fileVersion, ext string) string {
	if fileVersion == "" {
		fileVersion = c.Version
	}
	name := c.Artifact + "-" + fileVersion
	if c.Classifier != "" {
		name += "-" + c.Classifier
	}
	return name + "." + ext
}

// Dir is the version directory relative to a repository root.
func (c Coordinate) Dir() string {
	return c.GroupPath() + "/" + c.Artifact + "/" + c.Version
}

// Path is the jar path relative to a repository root.
func (c Coordinate) Path() string {
	return c.Dir() + "/" + c.FileName("", "jar")
}

// Unescape replaces the "{}" placeholder with ".". Manifests and build
// scripts use it to keep package names out of string constants that
// shading tools would otherwise rewrite.
func Unescape(s string) string { return strings.ReplaceAll(s, "{}", ".") }
