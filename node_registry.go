package ecs

// systemNodeData is everything the registry tracks about one interned
// system instance.
type systemNodeData struct {
	id         SystemId
	sys        System
	name       string
	access     AccessSet
	typeSet    SetId
	conditions []RunCondition
}

// setNodeData is everything the registry tracks about one set: a named set
// declared by a caller-supplied key, an anonymous set minted internally
// (chain-wrapping, grouped run_if), or a synthetic system-type-set.
type setNodeData struct {
	id         SetId
	key        any
	name       string
	isTypeSet  bool
	conditions []RunCondition
}

// nodeRegistry is component A: it mints and owns every NodeId. Sets are
// interned by key, so repeated references to the same named set resolve to
// the same node; every system gets a fresh node, and systems built from the
// same factory call-site share only their synthetic type-set.
type nodeRegistry struct {
	systems []*systemNodeData
	sets    []*setNodeData

	setByKey       map[any]SetId
	typeSetByToken map[any]SetId
}

func newNodeRegistry() *nodeRegistry {
	return &nodeRegistry{
		setByKey:       make(map[any]SetId),
		typeSetByToken: make(map[any]SetId),
	}
}

// InternSystem registers a new system instance and returns its NodeId. Each
// call creates a distinct system node even if sys is identical by value;
// callers that want deduplication key on the NodeId they get back, not on
// sys. The system's type-set is created or reused based on typeTokenOf(sys)
// and the system is recorded as an instance of it.
func (r *nodeRegistry) InternSystem(sys System) SystemId {
	desc := sys.Descriptor()
	id := newSystemNodeId(uint32(len(r.systems)))
	data := &systemNodeData{
		id:     id,
		sys:    sys,
		name:   desc.Name,
		access: desc.Access,
	}
	r.systems = append(r.systems, data)

	token := typeTokenOf(sys)
	typeSet, ok := r.typeSetByToken[token]
	if !ok {
		typeSet = r.newSet(nil, desc.Name+"#typeset", true)
		r.typeSetByToken[token] = typeSet
	}
	data.typeSet = typeSet
	return id
}

// InternSet returns the SetId for key, creating a fresh named set the first
// time key is seen. key must be comparable: anonymous sets use a uuid.UUID
// and named sets the caller's own key, which the builder DSL does not check;
// a non-comparable key makes the map lookup panic.
func (r *nodeRegistry) InternSet(key any, name string) SetId {
	if id, ok := r.setByKey[key]; ok {
		return id
	}
	id := r.newSet(key, name, false)
	r.setByKey[key] = id
	return id
}

// LookupSet reports the SetId already registered for key, if any, without
// creating one.
func (r *nodeRegistry) LookupSet(key any) (SetId, bool) {
	id, ok := r.setByKey[key]
	return id, ok
}

func (r *nodeRegistry) newSet(key any, name string, isTypeSet bool) SetId {
	id := newSetNodeId(uint32(len(r.sets)))
	r.sets = append(r.sets, &setNodeData{id: id, key: key, name: name, isTypeSet: isTypeSet})
	return id
}

func (r *nodeRegistry) system(id SystemId) *systemNodeData {
	return r.systems[id.Index()]
}

func (r *nodeRegistry) set(id SetId) *setNodeData {
	return r.sets[id.Index()]
}

// System returns the System value interned at id.
func (r *nodeRegistry) System(id SystemId) System {
	return r.system(id).sys
}

// Access returns the static access set declared for a system node.
func (r *nodeRegistry) Access(id SystemId) AccessSet {
	return r.system(id).access
}

// TypeSetOf returns the synthetic system-type-set a system instance belongs
// to.
func (r *nodeRegistry) TypeSetOf(id SystemId) SetId {
	return r.system(id).typeSet
}

// IsTypeSet reports whether a set node is a synthetic system-type-set rather
// than one a caller declared.
func (r *nodeRegistry) IsTypeSet(id SetId) bool {
	return r.set(id).isTypeSet
}

// Name returns a human-readable label for diagnostics; never used for graph
// identity.
func (r *nodeRegistry) Name(id NodeId) string {
	if id.IsSystem() {
		return r.system(id).name
	}
	return r.set(id).name
}

// AddCondition attaches a RunCondition to the node that declares it (a
// system or a set); the condition evaluator keys its per-tick cache on this
// declaring node, not on whatever system eventually inherits the condition
// through set membership.
func (r *nodeRegistry) AddCondition(id NodeId, cond RunCondition) {
	if id.IsSystem() {
		s := r.system(id)
		s.conditions = append(s.conditions, cond)
		return
	}
	s := r.set(id)
	s.conditions = append(s.conditions, cond)
}

// Conditions returns the conditions declared directly on id (not inherited
// ones; the build pass lowers inheritance separately).
func (r *nodeRegistry) Conditions(id NodeId) []RunCondition {
	if id.IsSystem() {
		return r.system(id).conditions
	}
	return r.set(id).conditions
}

// NumSystems and NumSets report the dense id ranges currently interned,
// used to size bitsets during the build pass.
func (r *nodeRegistry) NumSystems() int { return len(r.systems) }
func (r *nodeRegistry) NumSets() int    { return len(r.sets) }

// SystemIds returns every interned system NodeId in intern order.
func (r *nodeRegistry) SystemIds() []SystemId {
	ids := make([]SystemId, len(r.systems))
	for i, s := range r.systems {
		ids[i] = s.id
	}
	return ids
}

// SetIds returns every interned set NodeId in intern order.
func (r *nodeRegistry) SetIds() []SetId {
	ids := make([]SetId, len(r.sets))
	for i, s := range r.sets {
		ids[i] = s.id
	}
	return ids
}

// TypeSetInstanceCount reports how many system instances belong to a
// system-type-set; the build pass rejects dependency and ambiguous-with
// edges that touch a type-set with more than one instance (spec §4.3 step
// 7 / §6 data model supplement).
func (r *nodeRegistry) TypeSetInstanceCount(id SetId) int {
	n := 0
	for _, s := range r.systems {
		if s.typeSet == id {
			n++
		}
	}
	return n
}
