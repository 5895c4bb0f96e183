package manager

import (
	"context"

	"github.com/libbyhq/libby/pkg/dag"
	"github.com/libbyhq/libby/pkg/library"
)

// Graph asks the engine for d's dependency graph without downloading
// anything. The root is row 0. Descriptor exclusions are applied.
func (m *Manager) Graph(ctx context.Context, d *library.Descriptor) (*dag.DAG, error) {
	res, err := m.bridge.ClosureWith(ctx, m.resolver, d)
	if err != nil {
		return nil, err
	}

	g := dag.New(dag.Metadata{"root": d.String()})
	root := d.Coordinate()
	if err := g.AddNode(dag.Node{ID: root.String(), Row: 0, Meta: dag.Metadata{dag.MetaVersion: root.Version}}); err != nil {
		return nil, err
	}
	for _, a := range res.Artifacts {
		c := library.Coordinate{Group: a.Group, Artifact: a.Artifact, Version: a.Version, Classifier: a.Classifier}
		meta := dag.Metadata{dag.MetaVersion: a.Version}
		if a.Repository != "" {
			meta[dag.MetaRepository] = a.Repository
		}
		if a.Classifier != "" {
			meta[dag.MetaClassifier] = a.Classifier
		}
		if err := g.AddNode(dag.Node{ID: c.String(), Row: a.Depth, Meta: meta}); err != nil {
			return nil, err
		}
		if err := g.AddEdge(dag.Edge{From: a.Parent, To: c.String()}); err != nil {
			return nil, err
		}
	}
	return g, nil
}
