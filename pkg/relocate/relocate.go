// Package relocate rewrites the package namespace inside a jar.
//
// A [Relocator] compiles an ordered list of [library.Relocation] rules and
// applies them to every place a jar refers to a class or package:
//
//   - class file constant pools (see package classfile)
//   - entry names of classes and resources under a relocated package
//   - META-INF/services provider files, both name and content
//
// Jar signature files are dropped because the signed digests no longer
// hold. Rules apply in order; each rule sees the output of the previous one.
package relocate

import (
	"archive/zip"
	"bufio"
	"bytes"
	"io"
	"strings"

	"github.com/gobwas/glob"

	"github.com/libbyhq/libby/pkg/errors"
	"github.com/libbyhq/libby/pkg/library"
	"github.com/libbyhq/libby/pkg/relocate/classfile"
)

const (
	servicesDir = "META-INF/services/"
	versionsDir = "META-INF/versions/"
	classSuffix = ".class"
)

type rule struct {
	from, to string // slash form
	includes []glob.Glob
	excludes []glob.Glob
}

// Relocator applies a compiled rule set. It is safe for concurrent use.
type Relocator struct {
	rules []rule
}

// New compiles rules. Include and exclude patterns may be written with dots
// or slashes; "*" stays within one package and "**" spans packages.
func New(rules []library.Relocation) (*Relocator, error) {
	r := &Relocator{rules: make([]rule, 0, len(rules))}
	for _, rel := range rules {
		if err := rel.Validate(); err != nil {
			return nil, err
		}
		c := rule{
			from: toPath(rel.Pattern),
			to:   toPath(rel.Relocated),
		}
		var err error
		if c.includes, err = compileGlobs(rel.Includes); err != nil {
			return nil, err
		}
		if c.excludes, err = compileGlobs(rel.Excludes); err != nil {
			return nil, err
		}
		r.rules = append(r.rules, c)
	}
	return r, nil
}

// Relocate is New followed by Apply. An empty rule set returns data as is.
func Relocate(data []byte, rules []library.Relocation) ([]byte, error) {
	if len(rules) == 0 {
		return data, nil
	}
	r, err := New(rules)
	if err != nil {
		return nil, err
	}
	return r.Apply(data)
}

// Empty reports whether the relocator has no rules.
func (r *Relocator) Empty() bool { return len(r.rules) == 0 }

// Map relocates an internal class name ("com/google/gson/Gson").
func (r *Relocator) Map(name string) string {
	for _, c := range r.rules {
		if c.matches(name) {
			name = c.to + name[len(c.from):]
		}
	}
	return name
}

// MapValue relocates a string that names a class in dotted form or a
// resource in slash form.
func (r *Relocator) MapValue(s string) string {
	if strings.Contains(s, "/") || !strings.Contains(s, ".") {
		return r.Map(s)
	}
	return toDotted(r.Map(toPath(s)))
}

// Apply rewrites a jar. Malformed archives and class files fail with
// RELOCATION_FAILED.
func (r *Relocator) Apply(data []byte) ([]byte, error) {
	if r.Empty() {
		return data, nil
	}
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fail(err, "read archive")
	}

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	if zr.Comment != "" {
		if err := zw.SetComment(zr.Comment); err != nil {
			return nil, fail(err, "copy archive comment")
		}
	}

	seen := make(map[string]bool, len(zr.File))
	for _, f := range zr.File {
		if isSignature(f.Name) {
			continue
		}
		if err := r.entry(zw, f, seen); err != nil {
			return nil, err
		}
	}
	if err := zw.Close(); err != nil {
		return nil, fail(err, "finish archive")
	}
	return buf.Bytes(), nil
}

func (r *Relocator) entry(zw *zip.Writer, f *zip.File, seen map[string]bool) error {
	name := f.Name
	var content []byte
	rewrite := func(fn func([]byte) ([]byte, error)) error {
		raw, err := readEntry(f)
		if err != nil {
			return fail(err, "read %s", f.Name)
		}
		content, err = fn(raw)
		return err
	}

	switch {
	case strings.HasSuffix(name, "/"):
		name = r.mapEntryPath(strings.TrimSuffix(name, "/")) + "/"
	case strings.HasSuffix(name, classSuffix):
		name = r.mapEntryPath(strings.TrimSuffix(name, classSuffix)) + classSuffix
		err := rewrite(func(raw []byte) ([]byte, error) {
			out, changed, err := classfile.Rewrite(raw, r)
			if err != nil {
				return nil, fail(err, "rewrite %s", f.Name)
			}
			if !changed {
				return nil, nil
			}
			return out, nil
		})
		if err != nil {
			return err
		}
	case strings.HasPrefix(name, servicesDir) && len(name) > len(servicesDir):
		name = servicesDir + r.MapValue(name[len(servicesDir):])
		if err := rewrite(func(raw []byte) ([]byte, error) { return r.services(raw), nil }); err != nil {
			return err
		}
	case strings.HasPrefix(name, "META-INF/"):
	default:
		name = r.mapEntryPath(name)
	}

	if seen[name] {
		return nil
	}
	seen[name] = true

	if name == f.Name && content == nil {
		if err := zw.Copy(f); err != nil {
			return fail(err, "copy %s", f.Name)
		}
		return nil
	}

	if content == nil {
		raw, err := readEntry(f)
		if err != nil {
			return fail(err, "read %s", f.Name)
		}
		content = raw
	}
	hdr := &zip.FileHeader{
		Name:          name,
		Comment:       f.Comment,
		Method:        f.Method,
		Modified:      f.Modified,
		ExternalAttrs: f.ExternalAttrs,
	}
	w, err := zw.CreateHeader(hdr)
	if err != nil {
		return fail(err, "write %s", name)
	}
	if _, err := w.Write(content); err != nil {
		return fail(err, "write %s", name)
	}
	return nil
}

// mapEntryPath relocates a path, honoring multi-release prefixes.
func (r *Relocator) mapEntryPath(p string) string {
	if strings.HasPrefix(p, versionsDir) {
		rest := p[len(versionsDir):]
		if i := strings.IndexByte(rest, '/'); i >= 0 {
			return versionsDir + rest[:i+1] + r.Map(rest[i+1:])
		}
	}
	return r.Map(p)
}

// services relocates a provider-configuration file line by line, keeping
// comments and blank lines.
func (r *Relocator) services(raw []byte) []byte {
	var out bytes.Buffer
	sc := bufio.NewScanner(bytes.NewReader(raw))
	for sc.Scan() {
		line := sc.Text()
		body, _, _ := strings.Cut(line, "#")
		if name := strings.TrimSpace(body); name != "" {
			line = strings.Replace(line, name, r.MapValue(name), 1)
		}
		out.WriteString(line)
		out.WriteByte('\n')
	}
	return out.Bytes()
}

func (c rule) matches(name string) bool {
	if name != c.from && !strings.HasPrefix(name, c.from+"/") {
		return false
	}
	if len(c.includes) > 0 && !anyMatch(c.includes, name) {
		return false
	}
	return !anyMatch(c.excludes, name)
}

func anyMatch(globs []glob.Glob, s string) bool {
	for _, g := range globs {
		if g.Match(s) {
			return true
		}
	}
	return false
}

func compileGlobs(patterns []string) ([]glob.Glob, error) {
	out := make([]glob.Glob, 0, len(patterns))
	for _, p := range patterns {
		g, err := glob.Compile(toPath(strings.TrimSuffix(p, classSuffix)), '/')
		if err != nil {
			return nil, errors.Wrap(errors.ErrCodeInvalidInput, err, "invalid relocation pattern %q", p)
		}
		out = append(out, g)
	}
	return out, nil
}

func readEntry(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

func isSignature(name string) bool {
	if !strings.HasPrefix(name, "META-INF/") || strings.Count(name, "/") != 1 {
		return false
	}
	upper := strings.ToUpper(name)
	for _, ext := range []string{".SF", ".RSA", ".DSA", ".EC"} {
		if strings.HasSuffix(upper, ext) {
			return true
		}
	}
	return false
}

func toPath(s string) string   { return strings.ReplaceAll(library.Unescape(s), ".", "/") }
func toDotted(s string) string { return strings.ReplaceAll(s, "/", ".") }

func fail(cause error, format string, args ...any) *errors.Error {
	e := errors.Wrap(errors.ErrCodeRelocation, cause, format, args...)
	e.Stage = errors.StageRelocate
	return e
}
