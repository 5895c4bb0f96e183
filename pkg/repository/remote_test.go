package repository

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/libbyhq/libby/pkg/httputil"
	"github.com/libbyhq/libby/pkg/library"
)

var lib = library.Coordinate{Group: "org.lwjgl", Artifact: "lwjgl", Version: "3.3.3", Classifier: "natives-linux"}

func TestRemote_URLTemplates(t *testing.T) {
	tests := []struct {
		base string
		want string
	}{
		{"https://repo.example.com/maven2", "https://repo.example.com/maven2/org/lwjgl/lwjgl/3.3.3/lwjgl-3.3.3-natives-linux.jar"},
		{"https://repo.example.com/maven2/", "https://repo.example.com/maven2/org/lwjgl/lwjgl/3.3.3/lwjgl-3.3.3-natives-linux.jar"},
		{"https://cdn.example.com/{group}/{artifact}-{version}-{classifier}.{ext}", "https://cdn.example.com/org.lwjgl/lwjgl-3.3.3-natives-linux.jar"},
	}
	for _, tt := range tests {
		if got := NewRemote(tt.base).URL(Request{Coordinate: lib}); got != tt.want {
			t.Errorf("URL(%s) = %s, want %s", tt.base, got, tt.want)
		}
	}

	direct := NewDirect("https://example.com/x.jar")
	if got := direct.URL(Request{Coordinate: lib, Ext: "pom"}); got != "https://example.com/x.jar" {
		t.Errorf("direct URL = %s", got)
	}
}

func TestCheckStatus(t *testing.T) {
	tests := []struct {
		code      int
		notFound  bool
		retryable bool
		ok        bool
	}{
		{200, false, false, true},
		{404, true, false, false},
		{410, true, false, false},
		{429, false, true, false},
		{500, false, true, false},
		{503, false, true, false},
		{401, false, false, false},
		{403, false, false, false},
	}
	for _, tt := range tests {
		err := checkStatus(tt.code)
		if (err == nil) != tt.ok {
			t.Errorf("checkStatus(%d) = %v", tt.code, err)
		}
		if errors.Is(err, ErrNotFound) != tt.notFound {
			t.Errorf("checkStatus(%d) notFound mismatch: %v", tt.code, err)
		}
		if httputil.IsRetryable(err) != tt.retryable {
			t.Errorf("checkStatus(%d) retryable mismatch: %v", tt.code, err)
		}
	}
}

func TestRemote_HeadersAndCredentials(t *testing.T) {
	var gotUA, gotAuth, gotToken string
	s := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		gotAuth = r.Header.Get("Authorization")
		gotToken = r.Header.Get("Private-Token")
		w.Write([]byte("x"))
	}))
	defer s.Close()

	ctx := context.Background()
	if _, err := NewRemote(s.URL, WithCredentials(BearerToken("t0k"))).Fetch(ctx, Request{Coordinate: lib}); err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(gotUA, "libby/") {
		t.Errorf("User-Agent = %q", gotUA)
	}
	if gotAuth != "Bearer t0k" {
		t.Errorf("Authorization = %q", gotAuth)
	}

	if _, err := NewRemote(s.URL, WithCredentials(Header{Name: "Private-Token", Value: "gl"})).Fetch(ctx, Request{Coordinate: lib}); err != nil {
		t.Fatal(err)
	}
	if gotToken != "gl" {
		t.Errorf("Private-Token = %q", gotToken)
	}

	if _, err := NewRemote(s.URL, WithCredentials(BasicAuth{"u", "p"})).Fetch(ctx, Request{Coordinate: lib}); err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(gotAuth, "Basic ") {
		t.Errorf("Authorization = %q, want basic", gotAuth)
	}
}

func TestFactory(t *testing.T) {
	f := &Factory{
		Credentials: map[string]Credentials{
			"https://private.example.com/":         BearerToken("broad"),
			"https://private.example.com/release/": BearerToken("narrow"),
		},
		RateLimit: 10,
	}

	a, err := f.Open("https://private.example.com/release/")
	if err != nil {
		t.Fatal(err)
	}
	if again, _ := f.Open("https://private.example.com/release/"); again != a {
		t.Error("Open() should cache repositories")
	}
	if c := a.(*Remote).creds; c != BearerToken("narrow") {
		t.Errorf("credentials = %v, want the longest prefix match", c)
	}

	b, _ := f.Open("https://private.example.com/snapshots/")
	if a.(*Remote).limiter != b.(*Remote).limiter {
		t.Error("remotes on one host should share a limiter")
	}

	if c, _ := f.Open("central"); c.Name() != MavenCentral {
		t.Errorf("Open(central) = %s", c.Name())
	}
	if l, _ := f.Open("/tmp/repo"); l.Name() != "file:///tmp/repo" {
		t.Errorf("Open(path) = %s", l.Name())
	}
	if _, err := f.Open("gopher://nope/"); err == nil {
		t.Error("Open() accepted an unsupported scheme")
	}
}

func TestFactory_CredentialHeaders(t *testing.T) {
	f := &Factory{Credentials: map[string]Credentials{
		"https://private.example.com/": BasicAuth{"u", "p"},
		"https://gitlab.example.com/":  Header{Name: "Private-Token", Value: "gl"},
	}}
	headers, err := f.CredentialHeaders(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if got := headers["https://private.example.com/"].Get("Authorization"); got != "Basic dTpw" {
		t.Errorf("basic header = %q", got)
	}
	if got := headers["https://gitlab.example.com/"].Get("Private-Token"); got != "gl" {
		t.Errorf("token header = %q", got)
	}

	// The rendered headers authenticate like the originals.
	var gotAuth string
	s := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.Write([]byte("x"))
	}))
	defer s.Close()
	creds := Headers(headers["https://private.example.com/"])
	if _, err := NewRemote(s.URL, WithCredentials(creds)).Fetch(context.Background(), Request{Coordinate: lib}); err != nil {
		t.Fatal(err)
	}
	if gotAuth != "Basic dTpw" {
		t.Errorf("Authorization = %q", gotAuth)
	}

	failing := &Factory{Credentials: map[string]Credentials{
		"https://x.example.com/": CredentialsFunc(func(context.Context, *http.Request) error { return errors.New("vault sealed") }),
	}}
	if _, err := failing.CredentialHeaders(context.Background()); err == nil || !strings.Contains(err.Error(), "vault sealed") {
		t.Errorf("CredentialHeaders() error = %v", err)
	}
	if h, err := (&Factory{}).CredentialHeaders(context.Background()); h != nil || err != nil {
		t.Errorf("CredentialHeaders() on empty factory = %v, %v", h, err)
	}
}

func TestSnapshotVersion(t *testing.T) {
	c := library.Coordinate{Group: "g", Artifact: "a", Version: "2.0-SNAPSHOT", Classifier: "sources"}
	data := []byte(`<metadata><versioning>
  <snapshot><timestamp>20240101.000000</timestamp><buildNumber>1</buildNumber></snapshot>
  <snapshotVersions>
    <snapshotVersion><extension>jar</extension><value>2.0-20240101.000000-1</value></snapshotVersion>
    <snapshotVersion><classifier>sources</classifier><extension>jar</extension><value>2.0-20231231.000000-9</value></snapshotVersion>
  </snapshotVersions>
</versioning></metadata>`)

	if v, err := SnapshotVersion(data, c, "jar"); err != nil || v != "2.0-20231231.000000-9" {
		t.Errorf("classifier match = %q, %v", v, err)
	}
	c.Classifier = ""
	if v, _ := SnapshotVersion(data, c, "pom"); v != "2.0-20240101.000000-1" {
		t.Errorf("fallback to timestamp = %q", v)
	}
	if v, _ := SnapshotVersion([]byte(`<metadata><versioning><snapshot><localCopy>true</localCopy></snapshot></versioning></metadata>`), c, "jar"); v != "" {
		t.Errorf("local copy = %q, want empty", v)
	}
	if _, err := SnapshotVersion([]byte("<metadata"), c, "jar"); err == nil {
		t.Error("malformed metadata should fail")
	}
}
