package repository

import (
	"encoding/xml"
	"fmt"
	"strings"

	"github.com/libbyhq/libby/pkg/library"
)

type snapshotMetadata struct {
	Versioning struct {
		Snapshot struct {
			Timestamp   string `xml:"timestamp"`
			BuildNumber string `xml:"buildNumber"`
			LocalCopy   bool   `xml:"localCopy"`
		} `xml:"snapshot"`
		SnapshotVersions []struct {
			Classifier string `xml:"classifier"`
			Extension  string `xml:"extension"`
			Value      string `xml:"value"`
		} `xml:"snapshotVersions>snapshotVersion"`
	} `xml:"versioning"`
}

// SnapshotVersion reads a version-level maven-metadata.xml and returns the
// file version of the latest build of c with extension ext. It returns ""
// when the metadata only describes a local (non-timestamped) copy.
func SnapshotVersion(data []byte, c library.Coordinate, ext string) (string, error) {
	var m snapshotMetadata
	if err := xml.Unmarshal(data, &m); err != nil {
		return "", fmt.Errorf("parse %s: %w", MetadataFile, err)
	}
	v := m.Versioning

	for _, sv := range v.SnapshotVersions {
		if sv.Extension == ext && sv.Classifier == c.Classifier && sv.Value != "" {
			return sv.Value, nil
		}
	}

	s := v.Snapshot
	if s.LocalCopy || s.Timestamp == "" || s.BuildNumber == "" {
		return "", nil
	}
	base := strings.TrimSuffix(c.Version, library.SnapshotSuffix)
	return base + "-" + s.Timestamp + "-" + s.BuildNumber, nil
}
