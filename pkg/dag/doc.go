// Package dag holds a resolved dependency graph for display.
//
// Nodes are artifacts keyed by coordinate and layered by depth below the
// root (Row 0). Every edge goes from a dependent to a dependency exactly
// one row further down, which is what a breadth-first, nearest-wins
// resolution produces: each artifact appears once, under the first
// dependent that reached it.
//
//	g := dag.New(nil)
//	g.AddNode(dag.Node{ID: "com.example:app:1.0", Row: 0})
//	g.AddNode(dag.Node{ID: "com.example:core:2.0", Row: 1})
//	g.AddEdge(dag.Edge{From: "com.example:app:1.0", To: "com.example:core:2.0"})
//
// Renderers live in package render/dot (Graphviz) and in the CLI (text
// trees).
package dag
