package ecs

// tarjanCycle runs Tarjan's strongly-connected-components algorithm over
// the graph described by neighbors, restricted to the given nodes. It
// returns the first cycle it finds — any strongly connected component with
// more than one node, or a single node with a self-loop — as a slice of
// the involved NodeIds, or nil if the graph is acyclic.
func tarjanCycle(nodes []NodeId, neighbors func(NodeId) []NodeId) []NodeId {
	index := make(map[NodeId]int)
	lowlink := make(map[NodeId]int)
	onStack := make(map[NodeId]bool)
	var stack []NodeId
	counter := 0
	var found []NodeId

	var strongconnect func(v NodeId)
	strongconnect = func(v NodeId) {
		if found != nil {
			return
		}
		index[v] = counter
		lowlink[v] = counter
		counter++
		stack = append(stack, v)
		onStack[v] = true

		for _, w := range neighbors(v) {
			if found != nil {
				return
			}
			if w == v {
				found = []NodeId{v}
				return
			}
			if _, seen := index[w]; !seen {
				strongconnect(w)
				if lowlink[w] < lowlink[v] {
					lowlink[v] = lowlink[w]
				}
			} else if onStack[w] {
				if index[w] < lowlink[v] {
					lowlink[v] = index[w]
				}
			}
		}

		if found != nil {
			return
		}

		if lowlink[v] == index[v] {
			var scc []NodeId
			for {
				w := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				onStack[w] = false
				scc = append(scc, w)
				if w == v {
					break
				}
			}
			if len(scc) > 1 {
				found = scc
			}
		}
	}

	for _, n := range nodes {
		if found != nil {
			return found
		}
		if _, seen := index[n]; !seen {
			strongconnect(n)
		}
	}
	return found
}
