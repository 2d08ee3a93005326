package ecs

// graphStore is component C: the adjacency relations over every node the
// registry has interned — hierarchy (set membership), dependency
// (happens-before), and ambiguous-with (explicitly permitted unordered
// conflicts). All three are stored as plain adjacency maps; the build pass
// is responsible for deriving bitset reachability caches from them on
// demand, since the node population is frozen once Initialize runs.
type graphStore struct {
	// hierarchyParents[child] = set of direct parents (sets a node is
	// declared a member of via InSet).
	hierarchyParents map[NodeId]map[NodeId]struct{}
	// hierarchyChildren is the inverse of hierarchyParents, kept in sync so
	// descent during the build pass doesn't need to invert on the fly.
	hierarchyChildren map[NodeId]map[NodeId]struct{}

	// dependencyBefore[a][b] records that a must run before b (an edge
	// added by a.Before(b) or b.After(a)).
	dependencyBefore map[NodeId]map[NodeId]struct{}
	dependencyAfter  map[NodeId]map[NodeId]struct{}

	// ambiguousWith[a][b] records an explicit exemption from ambiguity
	// detection between a and b (symmetric).
	ambiguousWith map[NodeId]map[NodeId]struct{}

	nodes []NodeId
}

func newGraphStore() *graphStore {
	return &graphStore{
		hierarchyParents:  make(map[NodeId]map[NodeId]struct{}),
		hierarchyChildren: make(map[NodeId]map[NodeId]struct{}),
		dependencyBefore:  make(map[NodeId]map[NodeId]struct{}),
		dependencyAfter:   make(map[NodeId]map[NodeId]struct{}),
		ambiguousWith:     make(map[NodeId]map[NodeId]struct{}),
	}
}

func addEdge(m map[NodeId]map[NodeId]struct{}, from, to NodeId) {
	s, ok := m[from]
	if !ok {
		s = make(map[NodeId]struct{})
		m[from] = s
	}
	s[to] = struct{}{}
}

// AddHierarchy records that child is a direct member of parent (child.InSet(parent)).
func (g *graphStore) AddHierarchy(child, parent NodeId) {
	addEdge(g.hierarchyParents, child, parent)
	addEdge(g.hierarchyChildren, parent, child)
}

// AddDependency records that before must run before after.
func (g *graphStore) AddDependency(before, after NodeId) {
	addEdge(g.dependencyBefore, before, after)
	addEdge(g.dependencyAfter, after, before)
}

// AddAmbiguousWith records a symmetric ambiguity exemption between a and b.
func (g *graphStore) AddAmbiguousWith(a, b NodeId) {
	addEdge(g.ambiguousWith, a, b)
	addEdge(g.ambiguousWith, b, a)
}

// Parents returns the direct hierarchy parents of n.
func (g *graphStore) Parents(n NodeId) []NodeId {
	return keysOf(g.hierarchyParents[n])
}

// Children returns the direct hierarchy children of n.
func (g *graphStore) Children(n NodeId) []NodeId {
	return keysOf(g.hierarchyChildren[n])
}

// DependenciesBefore returns the nodes n must run after (edges pointing into n).
func (g *graphStore) DependenciesBefore(n NodeId) []NodeId {
	return keysOf(g.dependencyAfter[n])
}

// DependenciesAfter returns the nodes that must run after n (edges out of n).
func (g *graphStore) DependenciesAfter(n NodeId) []NodeId {
	return keysOf(g.dependencyBefore[n])
}

// IsAmbiguousWith reports whether a and b have an explicit ambiguity
// exemption.
func (g *graphStore) IsAmbiguousWith(a, b NodeId) bool {
	_, ok := g.ambiguousWith[a][b]
	return ok
}

// AllDependencyEdges returns every raw (unlowered) dependency edge as
// recorded by the builder DSL, before-node first.
func (g *graphStore) AllDependencyEdges() [][2]NodeId {
	out := make([][2]NodeId, 0)
	for before, afters := range g.dependencyBefore {
		for after := range afters {
			out = append(out, [2]NodeId{before, after})
		}
	}
	return out
}

// AllAmbiguousEdges returns every recorded ambiguous-with pair once (a
// canonical ordering is not guaranteed across calls, only that each
// symmetric pair appears exactly once).
func (g *graphStore) AllAmbiguousEdges() [][2]NodeId {
	seen := make(map[[2]NodeId]bool)
	out := make([][2]NodeId, 0)
	for a, bs := range g.ambiguousWith {
		for b := range bs {
			key := [2]NodeId{a, b}
			rev := [2]NodeId{b, a}
			if seen[key] || seen[rev] {
				continue
			}
			seen[key] = true
			out = append(out, key)
		}
	}
	return out
}

func keysOf(m map[NodeId]struct{}) []NodeId {
	out := make([]NodeId, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
