package ecs

import (
	"fmt"
	"reflect"
)

// NodeKind distinguishes the two flavors of node carried by a NodeId.
type NodeKind uint8

const (
	// NodeKindSystem tags a node backing a single system instance.
	NodeKindSystem NodeKind = iota
	// NodeKindSet tags a node backing a set (named, anonymous, or a
	// synthetic system-type-set).
	NodeKindSet
)

// NodeId is the tagged union described by the graph model: every system and
// every set gets one, stable for the lifetime of the Schedule that produced
// it. NodeId is comparable and safe to use as a map key.
type NodeId struct {
	kind NodeKind
	idx  uint32
}

// SystemId and SetId are NodeId aliases used at call sites that only ever
// hold one kind of node, purely for readability; the runtime representation
// is identical.
type SystemId = NodeId
type SetId = NodeId

func newSystemNodeId(idx uint32) NodeId { return NodeId{kind: NodeKindSystem, idx: idx} }
func newSetNodeId(idx uint32) NodeId    { return NodeId{kind: NodeKindSet, idx: idx} }

// Kind reports whether this id names a system or a set.
func (n NodeId) Kind() NodeKind { return n.kind }

// Index returns the dense, zero-based index backing this id within its kind.
func (n NodeId) Index() uint32 { return n.idx }

// IsSystem reports whether this id names a system node.
func (n NodeId) IsSystem() bool { return n.kind == NodeKindSystem }

// IsSet reports whether this id names a set node.
func (n NodeId) IsSet() bool { return n.kind == NodeKindSet }

func (n NodeId) String() string {
	if n.IsSystem() {
		return fmt.Sprintf("System(%d)", n.idx)
	}
	return fmt.Sprintf("Set(%d)", n.idx)
}

// typeIdentifiable is implemented by systems that want to override the
// default reflect-based type identity (used by FuncSystem to key on the
// underlying function's code pointer rather than a shared wrapper type).
type typeIdentifiable interface {
	systemTypeToken() any
}

// typeTokenOf returns the opaque, comparable token used to place a system
// into its synthetic type-set. Struct-backed systems are keyed on their
// concrete Go type; function-backed systems (see FuncSystem) are keyed on
// the underlying function's entry point so that repeated calls to the same
// factory function share a type-set, mirroring static type identity.
func typeTokenOf(sys System) any {
	if ti, ok := sys.(typeIdentifiable); ok {
		return ti.systemTypeToken()
	}
	t := reflect.TypeOf(sys)
	if t != nil && t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t
}

func conditionTypeTokenOf(cond RunCondition) any {
	if ti, ok := cond.(typeIdentifiable); ok {
		return ti.systemTypeToken()
	}
	t := reflect.TypeOf(cond)
	if t != nil && t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t
}
