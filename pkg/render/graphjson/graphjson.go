// Package graphjson reads and writes dependency graphs as JSON.
//
// The format has two top-level arrays:
//
//	{
//	  "nodes": [
//	    {"id": "org.example:app:1.0", "meta": {"version": "1.0"}},
//	    {"id": "org.example:core:2.0", "row": 1, "meta": {"repository": "https://repo1.maven.org/maven2/"}}
//	  ],
//	  "edges": [
//	    {"from": "org.example:app:1.0", "to": "org.example:core:2.0"}
//	  ]
//	}
//
// row is the depth below the root and is omitted for the root itself.
// Output from [Write] can be read back with [Read] unchanged.
package graphjson

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/libbyhq/libby/pkg/dag"
)

type graph struct {
	Meta  dag.Metadata `json:"meta,omitempty"`
	Nodes []node       `json:"nodes"`
	Edges []edge       `json:"edges"`
}

type node struct {
	ID   string       `json:"id"`
	Row  int          `json:"row,omitempty"`
	Meta dag.Metadata `json:"meta,omitempty"`
}

type edge struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// Write encodes g as indented JSON. Nodes keep insertion order.
func Write(g *dag.DAG, w io.Writer) error {
	nodes, edges := g.Nodes(), g.Edges()
	out := graph{
		Meta:  g.Meta(),
		Nodes: make([]node, len(nodes)),
		Edges: make([]edge, len(edges)),
	}
	for i, n := range nodes {
		out.Nodes[i] = node{ID: n.ID, Row: n.Row, Meta: n.Meta}
	}
	for i, e := range edges {
		out.Edges[i] = edge{From: e.From, To: e.To}
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		return fmt.Errorf("encode: %w", err)
	}
	return nil
}

// Read decodes a graph written by [Write] and validates it. Errors name
// the node or edge at fault.
func Read(r io.Reader) (*dag.DAG, error) {
	var data graph
	if err := json.NewDecoder(r).Decode(&data); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}

	g := dag.New(data.Meta)
	for _, n := range data.Nodes {
		if err := g.AddNode(dag.Node{ID: n.ID, Row: n.Row, Meta: n.Meta}); err != nil {
			return nil, fmt.Errorf("node %s: %w", n.ID, err)
		}
	}
	for _, e := range data.Edges {
		if err := g.AddEdge(dag.Edge{From: e.From, To: e.To}); err != nil {
			return nil, fmt.Errorf("edge %s->%s: %w", e.From, e.To, err)
		}
	}
	if err := g.Validate(); err != nil {
		return nil, err
	}
	return g, nil
}

// ReadFile is Read on the file at path.
func ReadFile(path string) (*dag.DAG, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	return Read(f)
}
