package engine

import (
	"encoding/xml"
	"fmt"
	"io"
	"strings"
)

// pomProject is the subset of a Maven POM the engine reads.
type pomProject struct {
	XMLName    xml.Name `xml:"project"`
	GroupID    string   `xml:"groupId"`
	ArtifactID string   `xml:"artifactId"`
	Version    string   `xml:"version"`
	Packaging  string   `xml:"packaging"`
	Parent     *struct {
		GroupID    string `xml:"groupId"`
		ArtifactID string `xml:"artifactId"`
		Version    string `xml:"version"`
	} `xml:"parent"`
	Properties           properties      `xml:"properties"`
	DependencyManagement []pomDependency `xml:"dependencyManagement>dependencies>dependency"`
	Dependencies         []pomDependency `xml:"dependencies>dependency"`
}

type pomDependency struct {
	GroupID    string         `xml:"groupId"`
	ArtifactID string         `xml:"artifactId"`
	Version    string         `xml:"version"`
	Type       string         `xml:"type"`
	Classifier string         `xml:"classifier"`
	Scope      string         `xml:"scope"`
	Optional   string         `xml:"optional"`
	Exclusions []pomExclusion `xml:"exclusions>exclusion"`
}

type pomExclusion struct {
	GroupID    string `xml:"groupId"`
	ArtifactID string `xml:"artifactId"`
}

func (d pomDependency) id() string { return d.GroupID + ":" + d.ArtifactID }

// managedKey identifies a dependencyManagement entry. Type and classifier
// are part of it, as in Maven.
func (d pomDependency) managedKey() string {
	t := d.Type
	if t == "" {
		t = "jar"
	}
	return d.GroupID + ":" + d.ArtifactID + ":" + t + ":" + d.Classifier
}

// properties decodes <properties> children into a map.
type properties map[string]string

func (p *properties) UnmarshalXML(d *xml.Decoder, start xml.StartElement) error {
	*p = make(properties)
	for {
		tok, err := d.Token()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			var v string
			if err := d.DecodeElement(&v, &t); err != nil {
				return err
			}
			(*p)[t.Name.Local] = strings.TrimSpace(v)
		case xml.EndElement:
			return nil
		}
	}
}

func parsePOM(data []byte) (*pomProject, error) {
	var p pomProject
	if err := xml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse pom: %w", err)
	}
	return &p, nil
}

// interpolate expands ${name} references using props. Unknown names are
// left in place; nesting is followed a bounded number of times.
func interpolate(s string, props map[string]string) string {
	for range 10 {
		if !strings.Contains(s, "${") {
			return s
		}
		var b strings.Builder
		changed := false
		rest := s
		for {
			i := strings.Index(rest, "${")
			if i < 0 {
				b.WriteString(rest)
				break
			}
			j := strings.IndexByte(rest[i:], '}')
			if j < 0 {
				b.WriteString(rest)
				break
			}
			name := rest[i+2 : i+j]
			b.WriteString(rest[:i])
			if v, ok := props[name]; ok {
				b.WriteString(v)
				changed = true
			} else {
				b.WriteString(rest[i : i+j+1])
			}
			rest = rest[i+j+1:]
		}
		s = b.String()
		if !changed {
			return s
		}
	}
	return s
}

// resolveVersion picks a concrete version from a Maven version
// requirement. Soft requirements are used as is; for ranges the lower
// bound wins, or the upper bound when only that is inclusive.
func resolveVersion(spec string) string {
	spec = strings.TrimSpace(spec)
	if spec == "" || (spec[0] != '[' && spec[0] != '(') {
		return spec
	}
	// Multiple ranges: use the first.
	if i := strings.IndexAny(spec, "])"); i >= 0 {
		spec = spec[:i+1]
	}
	inner := strings.Trim(spec, "[]()")
	lo, hi, isRange := strings.Cut(inner, ",")
	lo, hi = strings.TrimSpace(lo), strings.TrimSpace(hi)
	if !isRange {
		return lo
	}
	if lo != "" {
		return lo
	}
	if strings.HasSuffix(spec, "]") {
		return hi
	}
	return ""
}
