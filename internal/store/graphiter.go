// internal/store/graphiter.go
package store

import "fmt"

// GraphIter yields (commit, outgoing edges) pairs in topologically-grouped
// order: every commit appears after all of its iterated children, and a
// branch is followed contiguously until it joins another. The iterator is
// forward-only and non-restartable.
//
// An optional filter elides commits: edges that would point at an elided
// commit are routed to its nearest included ancestors as Indirect edges, or
// reported as Missing when no included ancestor exists.
type GraphIter struct {
	store   *Store
	order   []CommitID
	edges   map[CommitID][]GraphEdge
	pos     int
}

// NewGraphIter builds an iterator over the commits reachable from heads.
// filter == nil includes everything.
func NewGraphIter(s *Store, heads []CommitID, filter func(CommitID) bool) (*GraphIter, error) {
	included := func(id CommitID) bool { return filter == nil || filter(id) }

	// Walk everything reachable once, resolving elided parents to edges.
	edges := map[CommitID][]GraphEdge{}
	children := map[CommitID]int{}
	var discovered []CommitID

	seen := map[CommitID]bool{}
	queue := append([]CommitID(nil), heads...)
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if seen[id] {
			continue
		}
		seen[id] = true

		c, err := s.GetCommit(id)
		if err != nil {
			return nil, fmt.Errorf("iterating graph: %w", err)
		}
		queue = append(queue, c.Parents...)

		if !included(id) {
			continue
		}
		discovered = append(discovered, id)
		resolved, err := s.resolveEdges(c, included)
		if err != nil {
			return nil, err
		}
		edges[id] = resolved
		for _, e := range resolved {
			if e.Type != EdgeMissing {
				children[e.Target]++
			}
		}
	}
	// Start points are the childless commits of the filtered subgraph, in
	// discovery order so the requested heads keep priority.
	var includedHeads []CommitID
	for _, id := range discovered {
		if children[id] == 0 {
			includedHeads = append(includedHeads, id)
		}
	}

	// Emit depth-first from the heads, releasing a parent only once its last
	// child has been emitted; this keeps branches contiguous.
	order := make([]CommitID, 0, len(edges))
	emitted := map[CommitID]bool{}
	stack := make([]CommitID, 0, len(includedHeads))
	for i := len(includedHeads) - 1; i >= 0; i-- {
		stack = append(stack, includedHeads[i])
	}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if emitted[id] {
			continue
		}
		emitted[id] = true
		order = append(order, id)

		out := edges[id]
		for i := len(out) - 1; i >= 0; i-- {
			e := out[i]
			if e.Type == EdgeMissing {
				continue
			}
			children[e.Target]--
			if children[e.Target] == 0 {
				stack = append(stack, e.Target)
			}
		}
	}

	return &GraphIter{store: s, order: order, edges: edges}, nil
}

// resolveEdges maps a commit's parents onto graph edges, walking through
// elided commits.
func (s *Store) resolveEdges(c *Commit, included func(CommitID) bool) ([]GraphEdge, error) {
	var out []GraphEdge
	seenTargets := map[CommitID]bool{}
	add := func(e GraphEdge) {
		if !seenTargets[e.Target] {
			seenTargets[e.Target] = true
			out = append(out, e)
		}
	}

	for _, p := range c.Parents {
		if included(p) {
			add(GraphEdge{Target: p, Type: EdgeDirect})
			continue
		}
		// Search the elided region for included ancestors.
		found := false
		visited := map[CommitID]bool{}
		queue := []CommitID{p}
		for len(queue) > 0 {
			id := queue[0]
			queue = queue[1:]
			if visited[id] {
				continue
			}
			visited[id] = true
			if included(id) {
				found = true
				add(GraphEdge{Target: id, Type: EdgeIndirect})
				continue
			}
			pc, err := s.GetCommit(id)
			if err != nil {
				return nil, err
			}
			queue = append(queue, pc.Parents...)
		}
		if !found {
			add(GraphEdge{Target: p, Type: EdgeMissing})
		}
	}
	return out, nil
}

// Next returns the next commit with its edges, or nil when exhausted.
func (it *GraphIter) Next() (*CommitEdges, error) {
	if it.pos >= len(it.order) {
		return nil, nil
	}
	id := it.order[it.pos]
	it.pos++
	return &CommitEdges{Commit: id, Edges: it.edges[id]}, nil
}

// HasNext reports whether Next will yield another commit.
func (it *GraphIter) HasNext() bool {
	return it.pos < len(it.order)
}

// Skip advances past n commits, for resuming a layout session.
func (it *GraphIter) Skip(n int) {
	it.pos += n
	if it.pos > len(it.order) {
		it.pos = len(it.order)
	}
}
