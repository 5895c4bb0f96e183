package engine

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/charmbracelet/log"

	"github.com/libbyhq/libby/pkg/httputil"
	"github.com/libbyhq/libby/pkg/repository"
)

// pomRepo serves POMs keyed by "group:artifact:version".
type pomRepo struct {
	*httptest.Server
	poms map[string]string
	hits atomic.Int32
}

func newPOMRepo(t *testing.T, poms map[string]string) *pomRepo {
	t.Helper()
	r := &pomRepo{poms: poms}
	r.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		r.hits.Add(1)
		for id, body := range r.poms {
			parts := strings.Split(id, ":")
			path := fmt.Sprintf("/%s/%s/%s/%s-%s.pom",
				strings.ReplaceAll(parts[0], ".", "/"), parts[1], parts[2], parts[1], parts[2])
			if req.URL.Path == path {
				io.WriteString(w, body)
				return
			}
		}
		http.NotFound(w, req)
	}))
	t.Cleanup(r.Close)
	return r
}

func pom(g, a, v, body string) string {
	return fmt.Sprintf(`<project><groupId>%s</groupId><artifactId>%s</artifactId><version>%s</version>%s</project>`, g, a, v, body)
}

func deps(ds ...string) string {
	return "<dependencies>" + strings.Join(ds, "") + "</dependencies>"
}

func dep(g, a, v string, extra ...string) string {
	return fmt.Sprintf("<dependency><groupId>%s</groupId><artifactId>%s</artifactId><version>%s</version>%s</dependency>",
		g, a, v, strings.Join(extra, ""))
}

func testEngine(t *testing.T, cacheDir string) *Engine {
	t.Helper()
	logger := log.New(io.Discard)
	e, err := New(Options{
		Resolver: repository.NewResolver(&repository.Factory{}, nil, repository.Options{
			Retry:   httputil.Policy{Attempts: 1, Delay: time.Millisecond},
			Timeout: time.Second,
			Logger:  logger,
		}),
		CacheDir: cacheDir,
		Logger:   logger,
	})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	return e
}

func ids(r *ResolveResult) []string {
	out := make([]string, len(r.Artifacts))
	for i, a := range r.Artifacts {
		out[i] = a.Group + ":" + a.Artifact + ":" + a.Version
	}
	return out
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func params(repo string, g, a, v string) ResolveParams {
	return ResolveParams{Group: g, Artifact: a, Version: v, Repositories: []string{repo}}
}

func TestResolve_TwoDirectDependencies(t *testing.T) {
	repo := newPOMRepo(t, map[string]string{
		"com.example:root:1.0": pom("com.example", "root", "1.0", deps(
			dep("com.example", "a", "1.0"),
			dep("com.example", "b", "2.0"),
		)),
		"com.example:a:1.0": pom("com.example", "a", "1.0", ""),
		"com.example:b:2.0": pom("com.example", "b", "2.0", ""),
	})

	res, err := testEngine(t, "").Resolve(context.Background(), params(repo.URL, "com.example", "root", "1.0"))
	if err != nil {
		t.Fatalf("Resolve() error: %v", err)
	}
	want := []string{"com.example:a:1.0", "com.example:b:2.0"}
	if got := ids(res); !equalStrings(got, want) {
		t.Fatalf("closure = %v, want %v", got, want)
	}
	for _, a := range res.Artifacts {
		if a.Repository != repo.URL {
			t.Errorf("%s Repository = %q, want %q", a.Artifact, a.Repository, repo.URL)
		}
		if a.Parent != "com.example:root:1.0" || a.Depth != 1 {
			t.Errorf("%s Parent = %q Depth = %d", a.Artifact, a.Parent, a.Depth)
		}
	}
}

func TestResolve_NearestWins(t *testing.T) {
	repo := newPOMRepo(t, map[string]string{
		"g:root:1": pom("g", "root", "1", deps(dep("g", "a", "1"), dep("g", "c", "2"))),
		"g:a:1":    pom("g", "a", "1", deps(dep("g", "c", "1"), dep("g", "d", "1"))),
		"g:c:2":    pom("g", "c", "2", ""),
		"g:d:1":    pom("g", "d", "1", ""),
	})

	res, err := testEngine(t, "").Resolve(context.Background(), params(repo.URL, "g", "root", "1"))
	if err != nil {
		t.Fatalf("Resolve() error: %v", err)
	}
	want := []string{"g:a:1", "g:c:2", "g:d:1"}
	if got := ids(res); !equalStrings(got, want) {
		t.Fatalf("closure = %v, want %v", got, want)
	}
	if d := res.Artifacts[2]; d.Parent != "g:a:1" || d.Depth != 2 {
		t.Errorf("d Parent = %q Depth = %d", d.Parent, d.Depth)
	}
}

func TestResolve_SkipsNonRuntimeScopes(t *testing.T) {
	repo := newPOMRepo(t, map[string]string{
		"g:root:1": pom("g", "root", "1", deps(
			dep("g", "compile", "1", "<scope>compile</scope>"),
			dep("g", "runtime", "1", "<scope>runtime</scope>"),
			dep("g", "test", "1", "<scope>test</scope>"),
			dep("g", "provided", "1", "<scope>provided</scope>"),
			dep("g", "optional", "1", "<optional>true</optional>"),
			dep("g", "pomtype", "1", "<type>pom</type>"),
		)),
	})

	res, err := testEngine(t, "").Resolve(context.Background(), params(repo.URL, "g", "root", "1"))
	if err != nil {
		t.Fatalf("Resolve() error: %v", err)
	}
	want := []string{"g:compile:1", "g:runtime:1"}
	if got := ids(res); !equalStrings(got, want) {
		t.Fatalf("closure = %v, want %v", got, want)
	}
	// Missing POMs keep the artifact but record no repository.
	if res.Artifacts[0].Repository != "" {
		t.Errorf("Repository = %q, want empty for missing pom", res.Artifacts[0].Repository)
	}
}

func TestResolve_Exclusions(t *testing.T) {
	repo := newPOMRepo(t, map[string]string{
		"g:root:1": pom("g", "root", "1", deps(
			dep("g", "a", "1", "<exclusions><exclusion><groupId>x</groupId><artifactId>*</artifactId></exclusion></exclusions>"),
			dep("g", "b", "1"),
		)),
		"g:a:1": pom("g", "a", "1", deps(dep("x", "one", "1"), dep("y", "two", "1"))),
		"g:b:1": pom("g", "b", "1", deps(dep("z", "three", "1"))),
	})

	p := params(repo.URL, "g", "root", "1")
	p.Exclusions = []Exclusion{{Group: "z", Artifact: "three"}}
	res, err := testEngine(t, "").Resolve(context.Background(), p)
	if err != nil {
		t.Fatalf("Resolve() error: %v", err)
	}
	want := []string{"g:a:1", "g:b:1", "y:two:1"}
	if got := ids(res); !equalStrings(got, want) {
		t.Fatalf("closure = %v, want %v", got, want)
	}
}

func TestResolve_ParentAndProperties(t *testing.T) {
	repo := newPOMRepo(t, map[string]string{
		"g:parent:5": pom("g", "parent", "5", `
			<properties><lib.version>3.3</lib.version></properties>
			<dependencyManagement><dependencies>`+dep("g", "managed", "7")+`</dependencies></dependencyManagement>`+
			deps(dep("g", "inherited", "1"), dep("g", "overridden", "1"))),
		"g:root:1": `<project>
			<parent><groupId>g</groupId><artifactId>parent</artifactId><version>5</version></parent>
			<artifactId>root</artifactId><version>1</version>
			<dependencies>
				<dependency><groupId>g</groupId><artifactId>lib</artifactId><version>${lib.version}</version></dependency>
				<dependency><groupId>g</groupId><artifactId>managed</artifactId></dependency>
				<dependency><groupId>${project.groupId}</groupId><artifactId>sibling</artifactId><version>${project.version}</version></dependency>
				<dependency><groupId>g</groupId><artifactId>overridden</artifactId><version>2</version></dependency>
			</dependencies>
		</project>`,
	})

	res, err := testEngine(t, "").Resolve(context.Background(), params(repo.URL, "g", "root", "1"))
	if err != nil {
		t.Fatalf("Resolve() error: %v", err)
	}
	want := []string{"g:inherited:1", "g:lib:3.3", "g:managed:7", "g:sibling:1", "g:overridden:2"}
	if got := ids(res); !equalStrings(got, want) {
		t.Fatalf("closure = %v, want %v", got, want)
	}
}

func TestResolve_BOMImportAndRootManagement(t *testing.T) {
	repo := newPOMRepo(t, map[string]string{
		"g:bom:1": pom("g", "bom", "1", `<dependencyManagement><dependencies>`+
			dep("g", "a", "4")+dep("g", "c", "9")+`</dependencies></dependencyManagement>`),
		"g:root:1": pom("g", "root", "1", `<dependencyManagement><dependencies>`+
			dep("g", "bom", "1", "<type>pom</type><scope>import</scope>")+
			`</dependencies></dependencyManagement>`+
			deps(`<dependency><groupId>g</groupId><artifactId>a</artifactId></dependency>`)),
		"g:a:4": pom("g", "a", "4", deps(dep("g", "c", "1"))),
	})

	res, err := testEngine(t, "").Resolve(context.Background(), params(repo.URL, "g", "root", "1"))
	if err != nil {
		t.Fatalf("Resolve() error: %v", err)
	}
	want := []string{"g:a:4", "g:c:9"}
	if got := ids(res); !equalStrings(got, want) {
		t.Fatalf("closure = %v, want %v", got, want)
	}
}

func TestResolve_ParentCycle(t *testing.T) {
	repo := newPOMRepo(t, map[string]string{
		"g:root:1": `<project><parent><groupId>g</groupId><artifactId>loop</artifactId><version>1</version></parent><artifactId>root</artifactId></project>`,
		"g:loop:1": `<project><parent><groupId>g</groupId><artifactId>loop</artifactId><version>1</version></parent><artifactId>loop</artifactId></project>`,
	})

	if _, err := testEngine(t, "").Resolve(context.Background(), params(repo.URL, "g", "root", "1")); err == nil {
		t.Fatal("expected error for cyclic parents")
	}
}

func TestResolve_RootMissing(t *testing.T) {
	repo := newPOMRepo(t, map[string]string{})
	if _, err := testEngine(t, "").Resolve(context.Background(), params(repo.URL, "g", "root", "1")); err == nil {
		t.Fatal("expected error when root pom is missing")
	}
}

func TestResolve_InvalidCoordinate(t *testing.T) {
	if _, err := testEngine(t, "").Resolve(context.Background(), ResolveParams{Group: "g", Artifact: "../x", Version: "1"}); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestResolve_POMCache(t *testing.T) {
	repo := newPOMRepo(t, map[string]string{
		"g:root:1": pom("g", "root", "1", deps(dep("g", "a", "1"))),
		"g:a:1":    pom("g", "a", "1", ""),
	})
	dir := t.TempDir()

	if _, err := testEngine(t, dir).Resolve(context.Background(), params(repo.URL, "g", "root", "1")); err != nil {
		t.Fatalf("first Resolve() error: %v", err)
	}
	before := repo.hits.Load()

	res, err := testEngine(t, dir).Resolve(context.Background(), params(repo.URL, "g", "root", "1"))
	if err != nil {
		t.Fatalf("second Resolve() error: %v", err)
	}
	if repo.hits.Load() != before {
		t.Errorf("second resolve hit the repository %d more times", repo.hits.Load()-before)
	}
	if res.Artifacts[0].Repository != repo.URL {
		t.Errorf("cached Repository = %q", res.Artifacts[0].Repository)
	}
}

func TestResolve_FetchSettingsCarryCredentials(t *testing.T) {
	inner := newPOMRepo(t, map[string]string{
		"g:root:1": pom("g", "root", "1", deps(dep("g", "a", "1"))),
		"g:a:1":    pom("g", "a", "1", ""),
	})
	var unauthorized atomic.Int32
	private := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if u, p, ok := r.BasicAuth(); !ok || u != "deploy" || p != "s3cret" {
			unauthorized.Add(1)
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		inner.Config.Handler.ServeHTTP(w, r)
	}))
	t.Cleanup(private.Close)

	e := testEngine(t, "")
	if _, err := e.Resolve(context.Background(), params(private.URL, "g", "root", "1")); err == nil {
		t.Fatal("expected the anonymous resolve to fail")
	}

	req, _ := http.NewRequest(http.MethodGet, private.URL, nil)
	req.SetBasicAuth("deploy", "s3cret")
	p := params(private.URL, "g", "root", "1")
	p.Fetch = &FetchSettings{
		Attempts:  1,
		TimeoutMs: 1000,
		Headers:   map[string]http.Header{private.URL: req.Header},
	}
	res, err := e.Resolve(context.Background(), p)
	if err != nil {
		t.Fatalf("Resolve() with credentials error: %v", err)
	}
	if got, want := ids(res), []string{"g:a:1"}; !equalStrings(got, want) {
		t.Errorf("closure = %v, want %v", got, want)
	}

	r1, _ := e.resolverFor(p.Fetch)
	r2, _ := e.resolverFor(&FetchSettings{Attempts: 1, TimeoutMs: 1000, Headers: map[string]http.Header{private.URL: req.Header}})
	if r1 != r2 {
		t.Error("identical fetch settings should share a resolver")
	}
	if r1.Options().Timeout != time.Second || r1.Options().Retry.Attempts != 1 {
		t.Errorf("resolver options = %+v", r1.Options())
	}
	if r, _ := e.resolverFor(nil); r != e.resolver {
		t.Error("nil fetch settings should use the engine's resolver")
	}
}
