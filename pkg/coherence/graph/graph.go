// Package graph holds the static dependency rules that map a mutated
// entity category to the categories whose cached views it affects.
//
// Edges are registered once at startup by the module registration hooks
// and resolved per batch by the consistency engine.
package graph

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/storekeep/coherence/pkg/coherence/event"
)

// Strategy is how a dependent category's cache is brought back in line.
type Strategy string

// Propagation strategies, from most to least conservative.
const (
	// StrategyInvalidate marks dependent keys stale, forcing the next
	// read to refetch.
	StrategyInvalidate Strategy = "invalidate"

	// StrategyRefresh issues a background refetch without waiting for a
	// consumer.
	StrategyRefresh Strategy = "refresh"

	// StrategyOptimistic splices the event payload into the cached
	// collection without a network round trip.
	StrategyOptimistic Strategy = "optimistic"
)

// Valid reports whether the strategy is known.
func (s Strategy) Valid() bool {
	switch s {
	case StrategyInvalidate, StrategyRefresh, StrategyOptimistic:
		return true
	}
	return false
}

// Rank orders strategies for deterministic tie-breaks: at equal edge
// weight the more conservative strategy wins.
func (s Strategy) Rank() int {
	switch s {
	case StrategyInvalidate:
		return 0
	case StrategyRefresh:
		return 1
	case StrategyOptimistic:
		return 2
	}
	return 3
}

// Condition decides whether an edge applies to a given event.
type Condition func(evt *event.Event) bool

// Edge declares that mutations in Source ripple into Targets.
type Edge struct {
	// Source is the mutated category.
	Source string

	// Targets are the dependent categories. Must not include Source.
	Targets []string

	// Strategy is applied to each target's keys.
	Strategy Strategy

	// Weight orders edges; higher weight wins conflicting targets.
	Weight int

	// Condition optionally gates the edge per event. Nil matches all.
	Condition Condition

	// seq is the registration order, used as the final tie-break.
	seq int
}

// Validate checks the edge in isolation.
func (e *Edge) Validate() error {
	if e.Source == "" {
		return errors.New("edge source is required")
	}
	if len(e.Targets) == 0 {
		return errors.New("edge must have at least one target")
	}
	if !e.Strategy.Valid() {
		return fmt.Errorf("unknown strategy %q", e.Strategy)
	}
	for _, target := range e.Targets {
		if target == e.Source {
			return fmt.Errorf("edge %s: self-loop target %q", e.Source, target)
		}
		if target == "" {
			return fmt.Errorf("edge %s: empty target", e.Source)
		}
	}
	return nil
}

// Graph is the registered edge set. It is safe for concurrent use,
// though registration is expected to happen once at startup.
type Graph struct {
	mu    sync.RWMutex
	edges map[string][]*Edge // source category -> edges
	seq   int
}

// New creates an empty dependency graph.
func New() *Graph {
	return &Graph{edges: make(map[string][]*Edge)}
}

// Register adds an edge. It rejects self-loops and any edge whose
// addition would make the propagation rules cyclic.
func (g *Graph) Register(edge Edge) error {
	if err := edge.Validate(); err != nil {
		return err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	edge.seq = g.seq
	g.edges[edge.Source] = append(g.edges[edge.Source], &edge)

	if cycle := g.findCycle(); cycle != nil {
		// Undo the registration
		edges := g.edges[edge.Source]
		g.edges[edge.Source] = edges[:len(edges)-1]
		return fmt.Errorf("edge %s -> %v creates cycle %v", edge.Source, edge.Targets, cycle)
	}

	g.seq++
	return nil
}

// MustRegister registers an edge, panicking on error.
func (g *Graph) MustRegister(edge Edge) {
	if err := g.Register(edge); err != nil {
		panic(err)
	}
}

// Resolve returns the edges whose source matches the category, sorted by
// weight descending; equal weights keep registration order.
func (g *Graph) Resolve(category string) []*Edge {
	g.mu.RLock()
	defer g.mu.RUnlock()

	edges := g.edges[category]
	out := make([]*Edge, len(edges))
	copy(out, edges)

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Weight != out[j].Weight {
			return out[i].Weight > out[j].Weight
		}
		return out[i].seq < out[j].seq
	})
	return out
}

// Sources returns every category that has outgoing edges.
func (g *Graph) Sources() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	sources := make([]string, 0, len(g.edges))
	for source := range g.edges {
		sources = append(sources, source)
	}
	sort.Strings(sources)
	return sources
}

// EdgeCount returns the number of registered edges.
func (g *Graph) EdgeCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()

	n := 0
	for _, edges := range g.edges {
		n += len(edges)
	}
	return n
}

// findCycle runs a DFS over the category adjacency and returns one
// cyclic path if the edge set is cyclic. Callers must hold g.mu.
func (g *Graph) findCycle() []string {
	const (
		unvisited = 0
		visiting  = 1
		done      = 2
	)
	state := make(map[string]int)

	var path []string
	var visit func(category string) []string
	visit = func(category string) []string {
		state[category] = visiting
		path = append(path, category)

		for _, edge := range g.edges[category] {
			for _, target := range edge.Targets {
				switch state[target] {
				case visiting:
					return append(path, target)
				case unvisited:
					if cycle := visit(target); cycle != nil {
						return cycle
					}
				}
			}
		}

		state[category] = done
		path = path[:len(path)-1]
		return nil
	}

	for source := range g.edges {
		if state[source] == unvisited {
			path = path[:0]
			if cycle := visit(source); cycle != nil {
				return cycle
			}
		}
	}
	return nil
}
