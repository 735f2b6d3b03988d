// Package graph models journey step topology. Step orders are nodes and the
// possible transitions between steps are directed edges.
package graph

func New() *Graph {
	return &Graph{
		edges: make(map[int][]int),
		nodes: make(map[int]bool),
	}
}

type Graph struct {
	edges map[int][]int
	nodes map[int]bool
}

// AddNode registers a node without edges. Terminal steps have no outgoing
// transitions but still need to exist in the graph.
func (g *Graph) AddNode(node int) {
	g.nodes[node] = true
}

func (g *Graph) AddTransition(from int, to int) {
	g.nodes[from] = true
	g.nodes[to] = true
	g.edges[from] = append(g.edges[from], to)
}

// IsTerminal reports whether a node has no outgoing transitions.
func (g *Graph) IsTerminal(node int) bool {
	return g.nodes[node] && len(g.edges[node]) == 0
}

func (g *Graph) Transitions(node int) []int {
	return g.edges[node]
}

// ReachableFrom returns the set of nodes reachable from start, including
// start itself when it is part of the graph.
func (g *Graph) ReachableFrom(start int) map[int]bool {
	reached := make(map[int]bool)
	if !g.nodes[start] {
		return reached
	}

	stack := []int{start}
	for len(stack) > 0 {
		node := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if reached[node] {
			continue
		}
		reached[node] = true

		stack = append(stack, g.edges[node]...)
	}

	return reached
}
