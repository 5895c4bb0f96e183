package cli

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss/tree"
	"github.com/spf13/cobra"

	"github.com/libbyhq/libby/pkg/dag"
	"github.com/libbyhq/libby/pkg/errors"
	"github.com/libbyhq/libby/pkg/render/dot"
	"github.com/libbyhq/libby/pkg/render/graphjson"
)

const (
	formatText = "text"
	formatDOT  = "dot"
	formatSVG  = "svg"
	formatJSON = "json"
)

// treeCommand creates the tree command.
func (c *CLI) treeCommand() *cobra.Command {
	var (
		opts     resolveOpts
		format   string
		output   string
		input    string
		detailed bool
	)

	cmd := &cobra.Command{
		Use:   "tree [group:artifact:version[:classifier]]",
		Short: "Show the runtime dependency tree of a library",
		Long: `Ask the resolution engine for a library's runtime dependencies and print
them as a tree, JSON, Graphviz DOT or SVG. Nothing is downloaded except POMs.
A graph saved with --format json can be rendered again with --input.`,
		Example: `  libby tree org.slf4j:slf4j-simple:2.0.9
  libby tree com.squareup.okhttp3:okhttp:4.12.0 --format json -o okhttp.json
  libby tree --input okhttp.json --format svg -o okhttp.svg`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				g    *dag.DAG
				root string
				err  error
			)
			switch {
			case input != "" && len(args) == 0:
				if g, err = graphjson.ReadFile(input); err != nil {
					return err
				}
				if root, err = rootOf(g); err != nil {
					return err
				}
			case input == "" && len(args) == 1:
				if g, root, err = c.resolveGraph(cmd, args[0], opts); err != nil {
					return err
				}
			default:
				return errors.New(errors.ErrCodeInvalidInput, "pass a coordinate or --input, not both")
			}

			out, err := renderGraph(cmd, g, root, format, detailed)
			if err != nil {
				return err
			}
			if output == "" {
				_, err = os.Stdout.Write(out)
				return err
			}
			if err := os.WriteFile(output, out, 0o644); err != nil {
				return err
			}
			printSuccess("%d dependencies", g.NodeCount()-1)
			printFile(output)
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&format, "format", formatText, "output format: text, json, dot or svg")
	f.StringVarP(&output, "output", "o", "", "write to file instead of stdout")
	f.StringVarP(&input, "input", "i", "", "render a graph saved with --format json")
	f.BoolVar(&detailed, "detailed", false, "include repositories in node labels")
	f.StringArrayVarP(&opts.repositories, "repo", "r", nil, "repository for this library (repeatable)")
	f.StringArrayVar(&opts.excludes, "exclude", nil, "dependency group:artifact to leave out (repeatable)")

	return cmd
}

// resolveGraph asks the engine for the graph of the library named by arg.
func (c *CLI) resolveGraph(cmd *cobra.Command, arg string, opts resolveOpts) (*dag.DAG, string, error) {
	opts.transitive = true
	d, err := opts.descriptor(arg)
	if err != nil {
		return nil, "", err
	}

	m, err := c.newManager()
	if err != nil {
		return nil, "", err
	}

	spinner := newSpinnerWithContext(cmd.Context(), "Resolving dependency graph...")
	spinner.Start()
	g, err := m.Graph(cmd.Context(), d)
	spinner.Stop()
	if err != nil {
		return nil, "", err
	}
	return g, d.Coordinate().String(), nil
}

// rootOf returns the single row-0 node of a saved graph.
func rootOf(g *dag.DAG) (string, error) {
	roots := g.NodesInRow(0)
	if len(roots) != 1 {
		return "", errors.New(errors.ErrCodeInvalidInput, "graph has %d root nodes, want 1", len(roots))
	}
	return roots[0].ID, nil
}

func renderGraph(cmd *cobra.Command, g *dag.DAG, root, format string, detailed bool) ([]byte, error) {
	switch strings.ToLower(format) {
	case formatText:
		return []byte(textTree(g, root, detailed) + "\n"), nil
	case formatJSON:
		var buf bytes.Buffer
		if err := graphjson.Write(g, &buf); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	case formatDOT:
		return []byte(dot.ToDOT(g, dot.Options{Detailed: detailed})), nil
	case formatSVG:
		return dot.RenderSVG(cmd.Context(), dot.ToDOT(g, dot.Options{Detailed: detailed}))
	}
	return nil, errors.New(errors.ErrCodeInvalidInput, "unknown format %q (want text, json, dot or svg)", format)
}

// textTree renders g below root with lipgloss box-drawing branches.
// Dependencies whose POM could not be fetched are marked.
func textTree(g *dag.DAG, root string, detailed bool) string {
	var build func(id string, seen map[string]bool) *tree.Tree
	build = func(id string, seen map[string]bool) *tree.Tree {
		t := tree.Root(nodeLabel(g, id, detailed)).
			Enumerator(tree.RoundedEnumerator).
			EnumeratorStyle(StyleDim)
		if seen[id] {
			return t
		}
		seen[id] = true
		for _, child := range g.Children(id) {
			t.Child(build(child, seen))
		}
		delete(seen, id)
		return t
	}
	return build(root, make(map[string]bool)).String()
}

func nodeLabel(g *dag.DAG, id string, detailed bool) string {
	n, ok := g.Node(id)
	if !ok {
		return id
	}
	label := id
	if n.Row == 0 {
		label = StyleTitle.Render(id)
	}
	repo, _ := n.Meta[dag.MetaRepository].(string)
	switch {
	case n.Row > 0 && repo == "":
		label += StyleWarning.Render(" (no POM)")
	case detailed && repo != "":
		label += StyleDim.Render(fmt.Sprintf(" [%s]", repo))
	}
	return label
}
