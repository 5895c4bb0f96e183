package library

import (
	"testing"

	"github.com/libbyhq/libby/pkg/errors"
)

const gsonSum = "sha256:2c9fd5a7b0c48bcd7ec0a1e1c5f0f7f1e0f4b2fa6f9d6a51b4c9a1d3e7f0a123"

func gson() *Builder {
	return NewBuilder("com{}google{}code{}gson", "gson", "2.10.1").
		Checksum(gsonSum).
		Repository("https://repo1.maven.org/maven2/")
}

func TestBuilder_Unescape(t *testing.T) {
	d := gson().MustBuild()
	if got := d.Coordinate().Group; got != "com.google.code.gson" {
		t.Errorf("Group = %q, want com.google.code.gson", got)
	}
	if got := d.Coordinate().Path(); got != "com/google/code/gson/gson/2.10.1/gson-2.10.1.jar" {
		t.Errorf("Path() = %q", got)
	}
}

func TestKey_StableAcrossBuilds(t *testing.T) {
	a := gson().MustBuild()
	b := gson().MustBuild()
	if a.Key() != b.Key() {
		t.Errorf("identical descriptors gave different keys: %s vs %s", a.Key(), b.Key())
	}
	if !a.Equal(b) {
		t.Error("Equal() = false for identical descriptors")
	}
}

func TestKey_IgnoresSourceAndLoading(t *testing.T) {
	base := gson().MustBuild()
	other := gson().
		Repository("https://jitpack.io/").
		URL("https://mirror.example.com/gson.jar").
		Isolated(true).
		LoaderID("plugin").
		Transitive(true).
		Mode(GlobalFirst).
		MustBuild()

	if base.Key() != other.Key() {
		t.Error("repositories or loading options changed the cache key")
	}
}

func TestKey_Distinguishes(t *testing.T) {
	base := gson().MustBuild()
	variants := map[string]*Descriptor{
		"version":    gson().Version("2.11.0").MustBuild(),
		"classifier": gson().Classifier("sources").MustBuild(),
		"checksum":   gson().Checksum("").MustBuild(),
		"relocation": gson().Relocate("com{}google{}gson", "me.lib.gson").MustBuild(),
	}
	for name, d := range variants {
		if d.Key() == base.Key() {
			t.Errorf("%s change did not change the key", name)
		}
	}
}

func TestKey_ChecksumSpellingsAgree(t *testing.T) {
	hexForm := gson().Checksum("2c9fd5a7b0c48bcd7ec0a1e1c5f0f7f1e0f4b2fa6f9d6a51b4c9a1d3e7f0a123").MustBuild()
	if hexForm.Key() != gson().MustBuild().Key() {
		t.Error("hex and sha256: spellings of the same checksum gave different keys")
	}
}

func TestFingerprint_EmptyIsEmpty(t *testing.T) {
	if Fingerprint(nil) != "" || Fingerprint([]Relocation{}) != "" {
		t.Error("empty rule set must have the empty fingerprint")
	}
	a := Fingerprint([]Relocation{NewRelocation("a.b", "x.a.b", nil, nil)})
	b := Fingerprint([]Relocation{NewRelocation("a/b", "x/a/b", nil, nil)})
	if a == "" || a != b {
		t.Errorf("dotted and slash forms should share a fingerprint: %q vs %q", a, b)
	}
}

func TestDescriptor_Immutable(t *testing.T) {
	b := gson().Relocate("com.google.gson", "me.gson")
	d := b.MustBuild()

	b.Repository("https://late.example.com/")
	b.Relocate("org.late", "me.late")
	if len(d.Repositories()) != 1 || len(d.Relocations()) != 1 {
		t.Fatal("builder mutations leaked into a built descriptor")
	}

	repos := d.Repositories()
	repos[0] = "https://evil.example.com/"
	rules := d.Relocations()
	rules[0].Includes = append(rules[0].Includes, "x")
	if d.Repositories()[0] == repos[0] || len(d.Relocations()[0].Includes) != 0 {
		t.Error("accessor results alias descriptor state")
	}
}

func TestBuild_Invalid(t *testing.T) {
	tests := map[string]*Builder{
		"empty group":       NewBuilder("", "a", "1"),
		"traversal":         NewBuilder("..", "a", "1"),
		"bad checksum":      NewBuilder("g", "a", "1").Checksum("nope!"),
		"bad repository":    NewBuilder("g", "a", "1").Repository("ftp://x/"),
		"self relocation":   NewBuilder("g", "a", "1").Relocate("a.b", "a.b"),
		"empty relocation":  NewBuilder("g", "a", "1").Relocate("", "x"),
		"partial exclusion": NewBuilder("g", "a", "1").Exclude("g", ""),
	}
	for name, b := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := b.Build()
			if !errors.Is(err, errors.ErrCodeInvalidInput) {
				t.Errorf("Build() = %v, want INVALID_INPUT", err)
			}
		})
	}
}

func TestBuild_DedupesRepositories(t *testing.T) {
	d := NewBuilder("g", "a", "1").
		Repository("https://a.example.com/", "https://b.example.com/", "https://a.example.com/").
		MustBuild()
	if got := d.Repositories(); len(got) != 2 || got[0] != "https://a.example.com/" {
		t.Errorf("Repositories() = %v", got)
	}
}

func TestFrom_CopiesEverything(t *testing.T) {
	d := gson().Exclude("com.example", "x").LoaderID("p").Transitive(true).MustBuild()
	cp := From(d).Transitive(false).MustBuild()
	if cp.Transitive() || !cp.Isolated() || cp.LoaderID() != "p" || !cp.Excludes(Coordinate{Group: "com.example", Artifact: "x"}) {
		t.Errorf("From() lost attributes: %+v", cp)
	}
	if !d.Transitive() {
		t.Error("From() mutated the source descriptor")
	}
}

func TestParseMode(t *testing.T) {
	for in, want := range map[string]Mode{"": LibraryFirst, "DEFAULT": LibraryFirst, "GLOBAL_FIRST": GlobalFirst, "library-only": LibraryOnly} {
		got, err := ParseMode(in)
		if err != nil || got != want {
			t.Errorf("ParseMode(%q) = %v, %v", in, got, err)
		}
	}
}
