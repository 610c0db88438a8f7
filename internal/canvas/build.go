package canvas

import "sort"

// Build compiles a flat node/edge collection into a Canvas.
//
// The adjacency list maps each edge's target to its sources: an edge's
// target is the node that consumes the source as input. Edges whose
// endpoints are not both present are dropped silently. The ordering is a
// reverse-postorder depth-first walk, so every producer appears before its
// consumers; each node appears exactly once, including nodes with no
// incoming consumer edge. Cycles are not rejected here; the planner
// decides what to do with a cyclic canvas.
func Build(nodes []Node, edges []Edge) Canvas {
	c := Canvas{
		Nodes:     make(map[string]Node, len(nodes)),
		Edges:     make(map[string]Edge, len(edges)),
		Adjacency: make(map[string][]string),
	}
	for _, n := range nodes {
		c.Nodes[n.ID] = n
	}
	for _, e := range edges {
		c.Edges[e.ID] = e
		if _, ok := c.Nodes[e.Source]; !ok {
			continue
		}
		if _, ok := c.Nodes[e.Target]; !ok {
			continue
		}
		c.Adjacency[e.Target] = append(c.Adjacency[e.Target], e.Source)
	}

	// Deterministic walk order keeps planning stable across runs.
	ids := make([]string, 0, len(c.Nodes))
	for id := range c.Nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	visited := make(map[string]bool, len(ids))
	var visit func(id string)
	visit = func(id string) {
		if visited[id] {
			return
		}
		visited[id] = true
		for _, src := range c.Adjacency[id] {
			visit(src)
		}
		c.Sorted = append(c.Sorted, id)
	}
	for _, id := range ids {
		visit(id)
	}

	return c
}

// HasCycle reports whether the adjacency list contains a cycle, using a
// three-color depth-first search.
func (c *Canvas) HasCycle() bool {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(c.Nodes))

	var visit func(id string) bool
	visit = func(id string) bool {
		color[id] = gray
		for _, src := range c.Adjacency[id] {
			switch color[src] {
			case gray:
				return true
			case white:
				if visit(src) {
					return true
				}
			}
		}
		color[id] = black
		return false
	}

	for id := range c.Nodes {
		if color[id] == white && visit(id) {
			return true
		}
	}
	return false
}
