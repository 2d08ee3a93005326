package ecs

// AccessMode tags a typed access as read-only or mutating.
type AccessMode uint8

const (
	AccessModeRead AccessMode = iota
	AccessModeWrite
)

// AccessKind distinguishes component accesses from resource accesses; both
// are tracked the same way but never conflict with each other.
type AccessKind uint8

const (
	AccessKindComponent AccessKind = iota
	AccessKindResource
)

// TypedAccess names one read or write a system declares against a
// component type or a resource.
type TypedAccess struct {
	Kind AccessKind
	Name string
	Mode AccessMode
}

// AccessSet is a system's complete static access descriptor: the typed
// reads/writes it performs, plus whether it demands sole access to the
// World for its duration (an "exclusive" system, spec §4.5).
type AccessSet struct {
	accesses  []TypedAccess
	exclusive bool
}

// NewAccessSet builds an access descriptor. Pass exclusive=true for systems
// that require sole mutable access to the World; such systems conflict with
// every other access, typed or not.
func NewAccessSet(exclusive bool, accesses ...TypedAccess) AccessSet {
	return AccessSet{accesses: append([]TypedAccess(nil), accesses...), exclusive: exclusive}
}

// Reads is a convenience constructor for a read-only component/resource set.
func Reads(kind AccessKind, names ...string) AccessSet {
	return typedAccessSet(kind, AccessModeRead, names...)
}

// Writes is a convenience constructor for a write-only component/resource set.
func Writes(kind AccessKind, names ...string) AccessSet {
	return typedAccessSet(kind, AccessModeWrite, names...)
}

func typedAccessSet(kind AccessKind, mode AccessMode, names ...string) AccessSet {
	accesses := make([]TypedAccess, 0, len(names))
	for _, name := range names {
		accesses = append(accesses, TypedAccess{Kind: kind, Name: name, Mode: mode})
	}
	return AccessSet{accesses: accesses}
}

// Exclusive reports whether this access set requires sole World ownership.
func (a AccessSet) Exclusive() bool { return a.exclusive }

// Accesses returns the typed reads/writes, excluding the exclusive bit.
func (a AccessSet) Accesses() []TypedAccess {
	return append([]TypedAccess(nil), a.accesses...)
}

// Merge combines accesses from other into a new AccessSet; the exclusive bit
// is the logical OR of both.
func (a AccessSet) Merge(other AccessSet) AccessSet {
	out := AccessSet{
		accesses:  make([]TypedAccess, 0, len(a.accesses)+len(other.accesses)),
		exclusive: a.exclusive || other.exclusive,
	}
	out.accesses = append(out.accesses, a.accesses...)
	out.accesses = append(out.accesses, other.accesses...)
	return out
}

// ConflictsWith implements the build pass's conflict predicate (spec §4.3
// step 9 / §5): two access sets conflict when either side is exclusive, or
// when they share a typed access where at least one side writes.
func (a AccessSet) ConflictsWith(b AccessSet) bool {
	if a.exclusive || b.exclusive {
		return true
	}
	for _, x := range a.accesses {
		for _, y := range b.accesses {
			if x.Kind != y.Kind || x.Name != y.Name {
				continue
			}
			if x.Mode == AccessModeWrite || y.Mode == AccessModeWrite {
				return true
			}
		}
	}
	return false
}
