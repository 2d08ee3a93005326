package ecs

import "fmt"

// conditionRef pairs a RunCondition with the cache key the condition
// evaluator should use for it: the node that declared it (a system, or an
// ancestor set the system inherits the condition from), and the
// condition's slot within that node's declared condition list.
type conditionRef struct {
	key  conditionKey
	cond RunCondition
}

// ExecutionPlan is the flattened, validated output of the build pass
// (component D): a stable topological order over every interned system,
// its static access set, whether it is exclusive, the lowered system-level
// dependency edges, a precomputed conflict bitset, and every condition
// (direct or inherited) gating it.
type ExecutionPlan struct {
	order      []SystemId
	access     map[SystemId]AccessSet
	before     map[SystemId][]SystemId
	after      map[SystemId][]SystemId
	conflicts  map[SystemId]bitset
	conditions map[SystemId][]conditionRef
	names      map[SystemId]string
	flush      map[SystemId]bool
}

// IsFlush reports whether id is a synthetic apply_deferred barrier node
// inserted by BuildSettings.AutoInsertApplyDeferred, rather than a system
// from the registry. Executors drain and apply the tick's deferred command
// buffer for these instead of invoking a System.
func (p *ExecutionPlan) IsFlush(id SystemId) bool { return p.flush[id] }

// Order returns the stable topological order systems should run in under
// the single-threaded executor, and the priority order the multi-threaded
// executor breaks ties with.
func (p *ExecutionPlan) Order() []SystemId { return append([]SystemId(nil), p.order...) }

// Access returns the static access set for a system.
func (p *ExecutionPlan) Access(id SystemId) AccessSet { return p.access[id] }

// Predecessors returns the systems that must complete before id may run.
func (p *ExecutionPlan) Predecessors(id SystemId) []SystemId { return p.after[id] }

// Successors returns the systems that must not start until id completes.
func (p *ExecutionPlan) Successors(id SystemId) []SystemId { return p.before[id] }

// ConflictsWith reports whether a and b have overlapping access, so the
// multi-threaded executor must never run them concurrently. Ambiguous-with
// exemptions only silence ambiguity diagnostics; they do not clear a
// conflict here.
func (p *ExecutionPlan) ConflictsWith(a, b SystemId) bool {
	if a == b {
		return false
	}
	bits, ok := p.conflicts[a]
	if !ok {
		return false
	}
	return bits.Test(int(b.Index()))
}

// Conditions returns every RunCondition gating id, direct or inherited from
// an ancestor set, each tagged with the cache key the evaluator should use.
func (p *ExecutionPlan) Conditions(id SystemId) []conditionRef { return p.conditions[id] }

// Name returns a diagnostic label for id.
func (p *ExecutionPlan) Name(id SystemId) string { return p.names[id] }

// buildExecutionPlan runs the full validation and lowering pass described
// by the graph model: hierarchy closure, hierarchy cycle/redundancy
// checks, dependency lowering, cross-dependency and set-intersect checks,
// system-type-set ambiguity checks, dependency cycle detection, stable
// topological sort, the conflict matrix, and condition lowering.
func buildExecutionPlan(reg *nodeRegistry, gs *graphStore, settings BuildSettings, logger Logger) (*ExecutionPlan, error) {
	systemIds := reg.SystemIds()
	setIds := reg.SetIds()
	allNodes := append(append([]NodeId{}, systemIds...), setIds...)
	numSystems := reg.NumSystems()

	if cyc := tarjanCycle(allNodes, func(n NodeId) []NodeId { return gs.Parents(n) }); cyc != nil {
		return nil, newBuildError(BuildErrorHierarchyCycle, "hierarchy graph contains a cycle", cyc...)
	}

	ancestors := ancestorSetsOf(reg, gs, allNodes)

	if err := checkHierarchyRedundancy(reg, gs, ancestors, allNodes, settings, logger); err != nil {
		return nil, err
	}

	setMembers := memberBitsets(reg, ancestors, systemIds)
	rawReach := rawDependencyReachability(allNodes, gs)

	if err := checkCrossDependency(reg, gs, ancestors); err != nil {
		return nil, err
	}
	if err := checkSetsIntersect(reg, setIds, rawReach, setMembers); err != nil {
		return nil, err
	}
	if err := checkSystemTypeSetAmbiguity(reg, gs); err != nil {
		return nil, err
	}

	before, after := lowerDependencies(reg, gs, setMembers)

	if cyc := tarjanCycle(toNodeIds(systemIds), func(n NodeId) []NodeId {
		out := make([]NodeId, len(before[n]))
		copy(out, before[n])
		return out
	}); cyc != nil {
		return nil, newBuildError(BuildErrorDependencyCycle, "dependency graph contains a cycle", cyc...)
	}

	order, err := stableTopoSort(systemIds, before, after)
	if err != nil {
		return nil, err
	}

	reach := reachabilityOf(numSystems, before, order)

	conflicts, err := buildConflictMatrix(reg, gs, ancestors, reach, order, settings, logger)
	if err != nil {
		return nil, err
	}

	conditions := lowerConditions(reg, ancestors, systemIds)

	access := make(map[SystemId]AccessSet, numSystems)
	names := make(map[SystemId]string, numSystems)
	for _, id := range systemIds {
		access[id] = reg.Access(id)
		names[id] = reg.Name(id)
	}

	flush := make(map[SystemId]bool)
	if settings.AutoInsertApplyDeferred {
		var flushIds []SystemId
		order, before, after, flushIds = insertApplyDeferredBarriers(order, before, after)
		for _, id := range flushIds {
			flush[id] = true
			access[id] = NewAccessSet(true)
			names[id] = "apply_deferred"
		}
	}

	return &ExecutionPlan{
		order:      order,
		access:     access,
		before:     before,
		after:      after,
		conflicts:  conflicts,
		conditions: conditions,
		names:      names,
		flush:      flush,
	}, nil
}

func toNodeIds(ids []SystemId) []NodeId {
	out := make([]NodeId, len(ids))
	copy(out, ids)
	return out
}

// ancestorSetsOf computes, for every node, the bitset (indexed by set
// index) of every set it is a transitive hierarchy member of. Assumes the
// hierarchy graph is already known to be acyclic.
func ancestorSetsOf(reg *nodeRegistry, gs *graphStore, allNodes []NodeId) map[NodeId]bitset {
	numSets := reg.NumSets()
	memo := make(map[NodeId]bitset, len(allNodes))
	visiting := make(map[NodeId]bool, len(allNodes))

	var visit func(n NodeId) bitset
	visit = func(n NodeId) bitset {
		if b, ok := memo[n]; ok {
			return b
		}
		b := newBitset(numSets)
		visiting[n] = true
		for _, p := range gs.Parents(n) {
			if p.IsSet() {
				b.Set(int(p.Index()))
			}
			if !visiting[p] {
				b.Or(visit(p))
			}
		}
		visiting[n] = false
		memo[n] = b
		return b
	}
	for _, n := range allNodes {
		visit(n)
	}
	return memo
}

// memberBitsets inverts ancestorSetsOf into, for every set, the bitset
// (indexed by system index) of every system transitively contained in it.
func memberBitsets(reg *nodeRegistry, ancestors map[NodeId]bitset, systemIds []SystemId) map[SetId]bitset {
	numSystems := reg.NumSystems()
	members := make(map[SetId]bitset, reg.NumSets())
	for _, id := range reg.SetIds() {
		members[id] = newBitset(numSystems)
	}
	for _, sys := range systemIds {
		ancestors[sys].Each(func(setIdx int) {
			members[newSetNodeId(uint32(setIdx))].Set(int(sys.Index()))
		})
	}
	return members
}

func checkHierarchyRedundancy(reg *nodeRegistry, gs *graphStore, ancestors map[NodeId]bitset, allNodes []NodeId, settings BuildSettings, logger Logger) error {
	if settings.HierarchyDetection == LogLevelIgnore {
		return nil
	}
	for _, n := range allNodes {
		parents := gs.Parents(n)
		for _, inner := range parents {
			for _, outer := range parents {
				if inner == outer || !outer.IsSet() {
					continue
				}
				if ancestors[inner].Test(int(outer.Index())) {
					msg := fmt.Sprintf("%s is declared a member of %s both directly and transitively through %s",
						reg.Name(n), reg.Name(outer), reg.Name(inner))
					if settings.HierarchyDetection == LogLevelError {
						return newBuildError(BuildErrorHierarchyRedundancy, msg, n, inner, outer)
					}
					if logger != nil {
						logger.Info("hierarchy redundancy", "node", reg.Name(n), "inner", reg.Name(inner), "outer", reg.Name(outer))
					}
				}
			}
		}
	}
	return nil
}

// checkCrossDependency rejects a raw dependency edge where one side is a
// hierarchy ancestor (direct or transitive) of the other: ordering a set
// relative to one of its own members is contradictory.
func checkCrossDependency(reg *nodeRegistry, gs *graphStore, ancestors map[NodeId]bitset) error {
	for _, edge := range gs.AllDependencyEdges() {
		a, b := edge[0], edge[1]
		if (a.IsSet() && ancestors[b].Test(int(a.Index()))) ||
			(b.IsSet() && ancestors[a].Test(int(b.Index()))) {
			return newBuildError(BuildErrorCrossDependency,
				fmt.Sprintf("%s and %s are ordered but one contains the other", reg.Name(a), reg.Name(b)), a, b)
		}
	}
	return nil
}

// rawDependencyReachability computes, for every node, the set of nodes
// reachable by following declared (unlowered) dependency edges forward —
// i.e. "must run after this node, directly or transitively through any
// intermediate system or set". Used to catch set orderings implied by a
// chain of edges (A before B before C) rather than only a direct edge.
func rawDependencyReachability(allNodes []NodeId, gs *graphStore) map[NodeId]map[NodeId]bool {
	reach := make(map[NodeId]map[NodeId]bool, len(allNodes))
	for _, n := range allNodes {
		visited := make(map[NodeId]bool)
		stack := append([]NodeId{}, gs.DependenciesAfter(n)...)
		for len(stack) > 0 {
			cur := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			if visited[cur] {
				continue
			}
			visited[cur] = true
			stack = append(stack, gs.DependenciesAfter(cur)...)
		}
		reach[n] = visited
	}
	return reach
}

// checkSetsIntersect rejects a pair of sets ordered relative to each other
// (directly or transitively through any chain of declared dependency edges)
// whose transitive system membership overlaps: the shared system could not
// satisfy both "before" and "after" at once.
func checkSetsIntersect(reg *nodeRegistry, setIds []SetId, rawReach map[NodeId]map[NodeId]bool, setMembers map[SetId]bitset) error {
	for i, a := range setIds {
		for _, b := range setIds[i+1:] {
			if !rawReach[a][b] && !rawReach[b][a] {
				continue
			}
			intersects := false
			setMembers[a].Each(func(idx int) {
				if setMembers[b].Test(idx) {
					intersects = true
				}
			})
			if intersects {
				return newBuildError(BuildErrorSetsHaveOrderButIntersect,
					fmt.Sprintf("%s and %s are ordered but share at least one system", reg.Name(a), reg.Name(b)), a, b)
			}
		}
	}
	return nil
}

// checkSystemTypeSetAmbiguity rejects ordering or ambiguous-with edges that
// touch a system-type-set backed by more than one instance: it is not
// meaningful to order "all instances of this system" as a unit.
func checkSystemTypeSetAmbiguity(reg *nodeRegistry, gs *graphStore) error {
	check := func(a, b NodeId) error {
		for _, n := range []NodeId{a, b} {
			if n.IsSet() && reg.IsTypeSet(n) && reg.TypeSetInstanceCount(n) > 1 {
				return newBuildError(BuildErrorSystemTypeSetAmbiguity,
					fmt.Sprintf("%s has more than one instance and cannot be ordered as a unit", reg.Name(n)), n)
			}
		}
		return nil
	}
	for _, edge := range gs.AllDependencyEdges() {
		if err := check(edge[0], edge[1]); err != nil {
			return err
		}
	}
	for _, edge := range gs.AllAmbiguousEdges() {
		if err := check(edge[0], edge[1]); err != nil {
			return err
		}
	}
	return nil
}

// lowerDependencies expands every raw dependency edge into system-level
// edges via the Cartesian product of each side's transitive system
// membership (a single system if that side is a system node).
func lowerDependencies(reg *nodeRegistry, gs *graphStore, setMembers map[SetId]bitset) (before, after map[SystemId][]SystemId) {
	before = make(map[SystemId][]SystemId, reg.NumSystems())
	after = make(map[SystemId][]SystemId, reg.NumSystems())

	reachable := func(n NodeId) []SystemId {
		if n.IsSystem() {
			return []SystemId{n}
		}
		var out []SystemId
		setMembers[n].Each(func(i int) {
			out = append(out, newSystemNodeId(uint32(i)))
		})
		return out
	}

	for _, edge := range gs.AllDependencyEdges() {
		froms := reachable(edge[0])
		tos := reachable(edge[1])
		for _, f := range froms {
			for _, t := range tos {
				before[f] = append(before[f], t)
				after[t] = append(after[t], f)
			}
		}
	}
	return before, after
}

// stableTopoSort runs Kahn's algorithm over the lowered system graph,
// breaking ties by the registry's intern order so two builds of the same
// configuration always produce the same order.
func stableTopoSort(systemIds []SystemId, before, after map[SystemId][]SystemId) ([]SystemId, error) {
	indegree := make(map[SystemId]int, len(systemIds))
	for _, id := range systemIds {
		indegree[id] = len(after[id])
	}
	done := make(map[SystemId]bool, len(systemIds))
	order := make([]SystemId, 0, len(systemIds))

	for len(order) < len(systemIds) {
		progressed := false
		for _, id := range systemIds {
			if done[id] || indegree[id] > 0 {
				continue
			}
			done[id] = true
			order = append(order, id)
			for _, succ := range before[id] {
				indegree[succ]--
			}
			progressed = true
		}
		if !progressed {
			return nil, newBuildError(BuildErrorDependencyCycle, "dependency graph contains a cycle")
		}
	}
	return order, nil
}

// reachabilityOf computes, for every system, the bitset of systems
// reachable via lowered before-edges, processed in reverse topological
// order so each system's successors are already resolved.
func reachabilityOf(numSystems int, before map[SystemId][]SystemId, order []SystemId) map[SystemId]bitset {
	reach := make(map[SystemId]bitset, numSystems)
	for i := len(order) - 1; i >= 0; i-- {
		n := order[i]
		b := newBitset(numSystems)
		for _, succ := range before[n] {
			b.Set(int(succ.Index()))
			if sb, ok := reach[succ]; ok {
				b.Or(sb)
			}
		}
		reach[n] = b
	}
	return reach
}

// buildConflictMatrix computes, for every system, the bitset of other
// systems whose static access conflicts with it; it additionally applies
// the ambiguity-detection policy against pairs that conflict, aren't
// already ordered (directly or transitively), and have no explicit
// ambiguous-with exemption.
func buildConflictMatrix(reg *nodeRegistry, gs *graphStore, ancestors map[NodeId]bitset, reach map[SystemId]bitset, order []SystemId, settings BuildSettings, logger Logger) (map[SystemId]bitset, error) {
	numSystems := len(order)
	conflicts := make(map[SystemId]bitset, numSystems)
	for _, id := range order {
		conflicts[id] = newBitset(numSystems)
	}

	exempt := func(a, b SystemId) bool {
		if gs.IsAmbiguousWith(a, b) {
			return true
		}
		exemption := false
		ancestors[a].Each(func(i int) {
			setA := newSetNodeId(uint32(i))
			if gs.IsAmbiguousWith(setA, b) {
				exemption = true
			}
			ancestors[b].Each(func(j int) {
				if gs.IsAmbiguousWith(setA, newSetNodeId(uint32(j))) {
					exemption = true
				}
			})
		})
		ancestors[b].Each(func(j int) {
			if gs.IsAmbiguousWith(a, newSetNodeId(uint32(j))) {
				exemption = true
			}
		})
		return exemption
	}

	var unresolved [][2]SystemId
	for i, a := range order {
		for _, b := range order[i+1:] {
			if !reg.Access(a).ConflictsWith(reg.Access(b)) {
				continue
			}
			conflicts[a].Set(int(b.Index()))
			conflicts[b].Set(int(a.Index()))

			ordered := reach[a].Test(int(b.Index())) || reach[b].Test(int(a.Index()))
			if ordered || exempt(a, b) {
				continue
			}
			unresolved = append(unresolved, [2]SystemId{a, b})
		}
	}

	if len(unresolved) == 0 || settings.AmbiguityDetection == LogLevelIgnore {
		return conflicts, nil
	}
	if settings.AmbiguityDetection == LogLevelError {
		first := unresolved[0]
		return nil, newBuildError(BuildErrorAmbiguity,
			fmt.Sprintf("%s and %s conflict with no ordering or exemption between them", reg.Name(first[0]), reg.Name(first[1])),
			first[0], first[1])
	}
	if logger != nil {
		for _, pair := range unresolved {
			logger.Info("unresolved ambiguity", "a", reg.Name(pair[0]), "b", reg.Name(pair[1]))
		}
	}
	return conflicts, nil
}

// lowerConditions gathers, for every system, every condition declared on an
// ancestor set followed by every RunCondition declared directly on the
// system itself, each tagged with the cache key the condition evaluator
// uses (the declaring node's identity, not the system's). Ancestor-set
// conditions are ordered first so short-circuit evaluation checks them
// before the system's own conditions, per spec §4.4.
func lowerConditions(reg *nodeRegistry, ancestors map[NodeId]bitset, systemIds []SystemId) map[SystemId][]conditionRef {
	out := make(map[SystemId][]conditionRef, len(systemIds))
	for _, sys := range systemIds {
		var refs []conditionRef
		ancestors[sys].Each(func(setIdx int) {
			setId := newSetNodeId(uint32(setIdx))
			for slot, cond := range reg.Conditions(setId) {
				refs = append(refs, conditionRef{key: conditionKey{node: setId, slot: slot}, cond: cond})
			}
		})
		for slot, cond := range reg.Conditions(sys) {
			refs = append(refs, conditionRef{key: conditionKey{node: sys, slot: slot}, cond: cond})
		}
		out[sys] = refs
	}
	return out
}

// insertApplyDeferredBarriers inserts a synthetic, exclusive flush system
// between every adjacent pair in the final order, so a caller who opts
// into auto-inserted barriers gets deferred commands applied between every
// step without needing to place apply_deferred systems by hand. This is a
// conservative approximation of upstream's reachability-based placement:
// it flushes after every system rather than only where a later system
// could observe a deferred mutation.
func insertApplyDeferredBarriers(order []SystemId, before, after map[SystemId][]SystemId) ([]SystemId, map[SystemId][]SystemId, map[SystemId][]SystemId, []SystemId) {
	if len(order) < 2 {
		return order, before, after, nil
	}
	newOrder := make([]SystemId, 0, len(order)*2-1)
	newBefore := make(map[SystemId][]SystemId, len(before))
	newAfter := make(map[SystemId][]SystemId, len(after))
	for k, v := range before {
		newBefore[k] = append([]SystemId(nil), v...)
	}
	for k, v := range after {
		newAfter[k] = append([]SystemId(nil), v...)
	}

	var flushIds []SystemId
	for i, id := range order {
		newOrder = append(newOrder, id)
		if i == len(order)-1 {
			continue
		}
		next := order[i+1]
		flush := newSystemNodeId(uint32(1<<31) + uint32(i))
		newBefore[id] = append(newBefore[id], flush)
		newAfter[flush] = append(newAfter[flush], id)
		newBefore[flush] = append(newBefore[flush], next)
		newAfter[next] = append(newAfter[next], flush)
		newOrder = append(newOrder, flush)
		flushIds = append(flushIds, flush)
	}
	return newOrder, newBefore, newAfter, flushIds
}
