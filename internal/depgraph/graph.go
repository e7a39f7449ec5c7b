// Package depgraph tracks which input files every generated stem was derived
// from, including inputs reached through includes, and expands a set of
// changed inputs into the stems that must be regenerated.
//
// Vertices are stems and input files. Edges point from the dependent to its
// dependency:
//
//	stem:Child -> file:/idl/Child.idl
//	stem:Child -> file:/idl/Parent.idl
//	file:/idl/Child.idl -> file:/idl/Parent.idl   (Child.idl includes Parent.idl)
//
// A changed input dirties every stem that can reach it. Cycles are allowed
// since includes may be mutual.
package depgraph

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/dominikbraun/graph"
)

const (
	stemPrefix = "stem:"
	filePrefix = "file:"
)

// Graph is the dependency graph for one build pass. It is not safe for
// concurrent mutation.
type Graph struct {
	g     graph.Graph[string, string]
	stems map[string]struct{}
	logic map[string]struct{}
}

// New returns an empty graph.
func New() *Graph {
	return &Graph{
		g:     graph.New(graph.StringHash, graph.Directed()),
		stems: make(map[string]struct{}),
		logic: make(map[string]struct{}),
	}
}

func stemKey(name string) string { return stemPrefix + name }
func fileKey(path string) string { return filePrefix + path }

// Register declares that stem depends on exactly inputs, replacing any
// previously registered set.
func (d *Graph) Register(stem string, inputs []string) error {
	key := stemKey(stem)
	if err := d.addVertex(key); err != nil {
		return err
	}
	d.stems[stem] = struct{}{}

	if err := d.dropOutEdges(key); err != nil {
		return err
	}

	for _, in := range inputs {
		if err := d.addEdge(key, fileKey(in)); err != nil {
			return fmt.Errorf("failed to register %s -> %s: %w", stem, in, err)
		}
	}

	return nil
}

// Include records that input from includes input to. Includes are additive
// for the life of the graph.
func (d *Graph) Include(from, to string) error {
	if from == to {
		return nil
	}

	if err := d.addEdge(fileKey(from), fileKey(to)); err != nil {
		return fmt.Errorf("failed to record include %s -> %s: %w", from, to, err)
	}

	return nil
}

// MarkLogic declares path as a generator-logic input. A change to any logic
// input invalidates every stem.
func (d *Graph) MarkLogic(path string) {
	d.logic[path] = struct{}{}
}

// IsLogic reports whether path was declared with MarkLogic.
func (d *Graph) IsLogic(path string) bool {
	_, ok := d.logic[path]
	return ok
}

// Remove forgets stem and its dependency edges.
func (d *Graph) Remove(stem string) error {
	if _, ok := d.stems[stem]; !ok {
		return nil
	}

	key := stemKey(stem)
	if err := d.dropOutEdges(key); err != nil {
		return err
	}
	if err := d.g.RemoveVertex(key); err != nil && !errors.Is(err, graph.ErrVertexNotFound) {
		return fmt.Errorf("failed to remove stem %s: %w", stem, err)
	}

	delete(d.stems, stem)
	return nil
}

// Stems returns every registered stem, sorted.
func (d *Graph) Stems() []string {
	out := make([]string, 0, len(d.stems))
	for s := range d.stems {
		out = append(out, s)
	}
	sort.Strings(out)

	return out
}

// Dependencies returns the direct inputs registered for stem, sorted.
func (d *Graph) Dependencies(stem string) ([]string, error) {
	adj, err := d.g.AdjacencyMap()
	if err != nil {
		return nil, err
	}

	var out []string
	for target := range adj[stemKey(stem)] {
		out = append(out, strings.TrimPrefix(target, filePrefix))
	}
	sort.Strings(out)

	return out, nil
}

// ExpandDirty returns every stem whose direct or transitive dependencies
// intersect changed, sorted. If any changed input is a logic input, all
// registered stems are returned.
func (d *Graph) ExpandDirty(changed []string) ([]string, error) {
	for _, c := range changed {
		if d.IsLogic(c) {
			return d.Stems(), nil
		}
	}

	pred, err := d.g.PredecessorMap()
	if err != nil {
		return nil, fmt.Errorf("failed to read dependency graph: %w", err)
	}

	seen := make(map[string]bool)
	queue := make([]string, 0, len(changed))
	for _, c := range changed {
		key := fileKey(c)
		if _, ok := pred[key]; !ok || seen[key] {
			continue
		}
		seen[key] = true
		queue = append(queue, key)
	}

	dirty := make(map[string]struct{})
	for len(queue) > 0 {
		key := queue[0]
		queue = queue[1:]

		if name, ok := strings.CutPrefix(key, stemPrefix); ok {
			dirty[name] = struct{}{}
		}

		for dependent := range pred[key] {
			if seen[dependent] {
				continue
			}
			seen[dependent] = true
			queue = append(queue, dependent)
		}
	}

	out := make([]string, 0, len(dirty))
	for name := range dirty {
		out = append(out, name)
	}
	sort.Strings(out)

	return out, nil
}

func (d *Graph) addVertex(key string) error {
	if err := d.g.AddVertex(key); err != nil && !errors.Is(err, graph.ErrVertexAlreadyExists) {
		return err
	}

	return nil
}

func (d *Graph) addEdge(from, to string) error {
	if err := d.addVertex(from); err != nil {
		return err
	}
	if err := d.addVertex(to); err != nil {
		return err
	}
	if err := d.g.AddEdge(from, to); err != nil && !errors.Is(err, graph.ErrEdgeAlreadyExists) {
		return err
	}

	return nil
}

func (d *Graph) dropOutEdges(key string) error {
	adj, err := d.g.AdjacencyMap()
	if err != nil {
		return err
	}

	for target := range adj[key] {
		if err := d.g.RemoveEdge(key, target); err != nil && !errors.Is(err, graph.ErrEdgeNotFound) {
			return fmt.Errorf("failed to drop edge %s -> %s: %w", key, target, err)
		}
	}

	return nil
}
