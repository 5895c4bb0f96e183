package graphjson

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/libbyhq/libby/pkg/dag"
)

func sample(t *testing.T) *dag.DAG {
	t.Helper()
	g := dag.New(dag.Metadata{"root": "org.example:app:1.0"})
	for _, n := range []dag.Node{
		{ID: "org.example:app:1.0", Meta: dag.Metadata{dag.MetaVersion: "1.0"}},
		{ID: "org.example:core:2.0", Row: 1, Meta: dag.Metadata{dag.MetaRepository: "https://repo.example.com/"}},
		{ID: "org.example:base:1.1:natives", Row: 2, Meta: dag.Metadata{dag.MetaClassifier: "natives"}},
	} {
		if err := g.AddNode(n); err != nil {
			t.Fatal(err)
		}
	}
	for _, e := range []dag.Edge{
		{From: "org.example:app:1.0", To: "org.example:core:2.0"},
		{From: "org.example:core:2.0", To: "org.example:base:1.1:natives"},
	} {
		if err := g.AddEdge(e); err != nil {
			t.Fatal(err)
		}
	}
	return g
}

func TestRoundTrip(t *testing.T) {
	g := sample(t)

	var first bytes.Buffer
	if err := Write(g, &first); err != nil {
		t.Fatalf("Write() error: %v", err)
	}
	back, err := Read(bytes.NewReader(first.Bytes()))
	if err != nil {
		t.Fatalf("Read() error: %v", err)
	}

	if back.NodeCount() != 3 || back.EdgeCount() != 2 {
		t.Fatalf("got %d nodes, %d edges", back.NodeCount(), back.EdgeCount())
	}
	n, ok := back.Node("org.example:base:1.1:natives")
	if !ok || n.Row != 2 || n.Meta[dag.MetaClassifier] != "natives" {
		t.Errorf("node not preserved: %+v", n)
	}
	if back.Meta()["root"] != "org.example:app:1.0" {
		t.Errorf("graph metadata not preserved: %v", back.Meta())
	}

	var second bytes.Buffer
	if err := Write(back, &second); err != nil {
		t.Fatal(err)
	}
	if first.String() != second.String() {
		t.Errorf("second encoding differs:\n%s\nvs\n%s", first.String(), second.String())
	}
}

func TestWriteOmitsRootRow(t *testing.T) {
	var buf bytes.Buffer
	if err := Write(sample(t), &buf); err != nil {
		t.Fatal(err)
	}
	if strings.Count(buf.String(), `"row"`) != 2 {
		t.Errorf("only non-root nodes should carry a row:\n%s", buf.String())
	}
}

func TestReadErrors(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want error
	}{
		{"duplicate", `{"nodes":[{"id":"a"},{"id":"a"}],"edges":[]}`, dag.ErrDuplicateNodeID},
		{"unknown target", `{"nodes":[{"id":"a"}],"edges":[{"from":"a","to":"b"}]}`, dag.ErrUnknownTargetNode},
		{"skipped row", `{"nodes":[{"id":"a"},{"id":"b","row":2}],"edges":[{"from":"a","to":"b"}]}`, dag.ErrNonConsecutiveRows},
		{"empty id", `{"nodes":[{"id":""}],"edges":[]}`, dag.ErrInvalidNodeID},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Read(strings.NewReader(tt.src))
			if !errors.Is(err, tt.want) {
				t.Errorf("Read() error = %v, want %v", err, tt.want)
			}
		})
	}

	if _, err := Read(strings.NewReader("{")); err == nil {
		t.Error("malformed JSON should fail")
	}
}

func TestReadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "graph.json")
	var buf bytes.Buffer
	if err := Write(sample(t), &buf); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}
	g, err := ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error: %v", err)
	}
	if g.NodeCount() != 3 {
		t.Errorf("NodeCount() = %d", g.NodeCount())
	}

	if _, err := ReadFile(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Error("missing file should fail")
	}
}
