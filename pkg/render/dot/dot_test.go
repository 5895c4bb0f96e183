package dot

import (
	"context"
	"strings"
	"testing"

	"github.com/libbyhq/libby/pkg/dag"
)

func sample(t *testing.T) *dag.DAG {
	t.Helper()
	g := dag.New(nil)
	must := func(err error) {
		t.Helper()
		if err != nil {
			t.Fatal(err)
		}
	}
	must(g.AddNode(dag.Node{ID: "com.example:app:1.0", Row: 0}))
	must(g.AddNode(dag.Node{ID: "com.example:core:2.0", Row: 1, Meta: dag.Metadata{dag.MetaRepository: "https://repo.example"}}))
	must(g.AddNode(dag.Node{ID: "org.util:util:3.1", Row: 1}))
	must(g.AddEdge(dag.Edge{From: "com.example:app:1.0", To: "com.example:core:2.0"}))
	must(g.AddEdge(dag.Edge{From: "com.example:app:1.0", To: "org.util:util:3.1"}))
	return g
}

func TestToDOT(t *testing.T) {
	src := ToDOT(sample(t), Options{})

	for _, want := range []string{
		`digraph G {`,
		`"com.example:app:1.0" [label="com.example:app:1.0", penwidth=2`,
		`"com.example:core:2.0" [label="com.example:core:2.0"];`,
		`"org.util:util:3.1" [label="org.util:util:3.1", style="rounded,filled,dashed"`,
		`"com.example:app:1.0" -> "com.example:core:2.0";`,
	} {
		if !strings.Contains(src, want) {
			t.Errorf("DOT missing %q:\n%s", want, src)
		}
	}
}

func TestToDOT_Detailed(t *testing.T) {
	src := ToDOT(sample(t), Options{Detailed: true})
	if !strings.Contains(src, `depth: 1\nrepository: https://repo.example`) {
		t.Errorf("detailed label missing metadata:\n%s", src)
	}
}

func TestRenderSVG(t *testing.T) {
	svg, err := RenderSVG(context.Background(), ToDOT(sample(t), Options{}))
	if err != nil {
		t.Fatalf("RenderSVG() error: %v", err)
	}
	s := string(svg)
	if !strings.Contains(s, `viewBox="0 0 `) {
		t.Errorf("viewBox not normalized: %.200s", s)
	}
	if !strings.Contains(s, "org.util:util:3.1") {
		t.Error("SVG missing node label")
	}
}

func TestNormalizeViewBox_NoViewBox(t *testing.T) {
	in := []byte("<svg></svg>")
	if got := normalizeViewBox(in); string(got) != string(in) {
		t.Errorf("got %s", got)
	}
}
