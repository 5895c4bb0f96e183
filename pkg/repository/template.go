package repository

import (
	"strings"
)

// DefaultLayout is the Maven 2 repository layout.
const DefaultLayout = "{groupPath}/{artifact}/{baseVersion}/{file}"

// expandTemplate turns a plain base URL into a template using DefaultLayout.
// URLs that already contain placeholders are returned unchanged.
func expandTemplate(base string) string {
	if strings.Contains(base, "{") {
		return base
	}
	if !strings.HasSuffix(base, "/") {
		base += "/"
	}
	return base + DefaultLayout
}

// render fills the placeholders of tmpl for req.
//
//	{group}        com.example
//	{groupPath}    com/example
//	{artifact}     lib
//	{version}      file version (timestamped for SNAPSHOT builds)
//	{baseVersion}  declared version
//	{classifier}   classifier or empty
//	{ext}          file extension
//	{file}         complete file name
func render(tmpl string, req Request) string {
	c := req.Coordinate
	version := req.FileVersion
	if version == "" {
		version = c.Version
	}
	return strings.NewReplacer(
		"{group}", c.Group,
		"{groupPath}", c.GroupPath(),
		"{artifact}", c.Artifact,
		"{version}", version,
		"{baseVersion}", c.Version,
		"{classifier}", c.Classifier,
		"{ext}", req.ext(),
		"{file}", req.FileName(),
	).Replace(tmpl)
}
