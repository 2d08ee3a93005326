package ecs

import (
	"fmt"
	"reflect"

	"github.com/google/uuid"
)

type nodeConfigKind uint8

const (
	nodeConfigLeafSystem nodeConfigKind = iota
	nodeConfigLeafSet
	nodeConfigGroup
)

// NodeConfig is the builder DSL's tree-shaped configuration unit: a single
// system, a reference to a named set, or a group of children sharing
// modifiers. AddSystems and ConfigureSet both accept a NodeConfig tree and
// flatten it into the graph during materialization.
type NodeConfig struct {
	kind    nodeConfigKind
	sys     System
	setKey  any
	setName string

	children []NodeConfig
	chained  bool

	before        []any
	after         []any
	inSets        []any
	ambiguousWith []any
	conditions    []RunCondition
	distributive  []RunCondition
}

// Sys wraps a single System instance as a leaf NodeConfig.
func Sys(sys System) NodeConfig {
	return NodeConfig{kind: nodeConfigLeafSystem, sys: sys}
}

// Set references a named set by key, for ordering or conditioning the set
// as a whole without re-declaring its members. key must be comparable.
func Set(key any, name string) NodeConfig {
	return NodeConfig{kind: nodeConfigLeafSet, setKey: key, setName: name}
}

// AnonymousSet mints a fresh, throwaway set key backed by a uuid so callers
// can group or condition systems without declaring a named set type.
func AnonymousSet(name string) NodeConfig {
	return Set(uuid.New(), name)
}

// Group bundles children under shared modifiers without ordering them
// relative to each other.
func Group(children ...NodeConfig) NodeConfig {
	return NodeConfig{kind: nodeConfigGroup, children: children}
}

// Chain is Group with chaining applied: direct children run in declaration
// order. Chaining a group of groups orders whole subtrees relative to each
// other (every system transitively in child i runs before every system
// transitively in child i+1); it does not reach inside an unchained child.
func Chain(children ...NodeConfig) NodeConfig {
	g := Group(children...)
	g.chained = true
	return g
}

// Chained marks an already-built group as chained; useful when a group was
// constructed via Group and chaining is decided afterward.
func (c NodeConfig) Chained() NodeConfig {
	c.chained = true
	return c
}

// Before declares that this node must run before each of targets. A target
// is a named set key (as passed to Set), the underlying function of a
// FuncSystem/FuncCondition, meaning "that system's type-set", or a System
// instance already added to the schedule, meaning that system node.
func (c NodeConfig) Before(targets ...any) NodeConfig {
	c.before = appendAny(c.before, targets)
	return c
}

// After declares that this node must run after each of targets.
func (c NodeConfig) After(targets ...any) NodeConfig {
	c.after = appendAny(c.after, targets)
	return c
}

// InSet declares this node a member of each of the named sets in keys.
func (c NodeConfig) InSet(keys ...any) NodeConfig {
	c.inSets = appendAny(c.inSets, keys)
	return c
}

// AmbiguousWith exempts this node's access conflicts with each of targets
// from ambiguity detection.
func (c NodeConfig) AmbiguousWith(targets ...any) NodeConfig {
	c.ambiguousWith = appendAny(c.ambiguousWith, targets)
	return c
}

// RunIf attaches cond to this node. For a group, the condition gates the
// group as a whole (an implicit set wrapping the group), so the build pass
// evaluates it once and skips the whole group together.
func (c NodeConfig) RunIf(cond RunCondition) NodeConfig {
	c.conditions = append(append([]RunCondition{}, c.conditions...), cond)
	return c
}

// DistributiveRunIf attaches cond independently to every leaf system
// transitively contained in this node, rather than to a shared wrapping
// set. Each leaf gets its own copy of the condition for caching purposes
// (the condition still runs once per system it's attached to, not once for
// the whole group).
func (c NodeConfig) DistributiveRunIf(cond RunCondition) NodeConfig {
	c.distributive = append(append([]RunCondition{}, c.distributive...), cond)
	return c
}

func appendAny(base []any, add []any) []any {
	out := make([]any, 0, len(base)+len(add))
	out = append(out, base...)
	out = append(out, add...)
	return out
}

// materializeConfig interns the systems/sets named by cfg, wires hierarchy
// and dependency edges for grouping/chaining, and applies Before/After/
// InSet/AmbiguousWith/RunIf modifiers. It returns the NodeId that external
// references to cfg (e.g. a sibling's Before(cfg-target)) should resolve
// to, plus every leaf system id transitively contained in cfg (used for
// DistributiveRunIf).
func materializeConfig(reg *nodeRegistry, gs *graphStore, cfg NodeConfig) (NodeId, []SystemId) {
	var id NodeId
	var leaves []SystemId

	switch cfg.kind {
	case nodeConfigLeafSystem:
		id = reg.InternSystem(cfg.sys)
		gs.AddHierarchy(id, reg.TypeSetOf(id))
		leaves = []SystemId{id}
	case nodeConfigLeafSet:
		id = reg.InternSet(cfg.setKey, cfg.setName)
	case nodeConfigGroup:
		childIds := make([]NodeId, len(cfg.children))
		for i, child := range cfg.children {
			cid, cleaves := materializeConfig(reg, gs, child)
			childIds[i] = cid
			leaves = append(leaves, cleaves...)
		}
		id = reg.InternSet(uuid.New(), "group")
		for _, cid := range childIds {
			gs.AddHierarchy(cid, id)
		}
		if cfg.chained {
			for i := 1; i < len(childIds); i++ {
				gs.AddDependency(childIds[i-1], childIds[i])
			}
		}
	default:
		panic(fmt.Sprintf("ecs: unreachable node config kind %d", cfg.kind))
	}

	applyModifiers(reg, gs, cfg, id)
	for _, cond := range cfg.distributive {
		for _, leaf := range leaves {
			reg.AddCondition(leaf, cond)
		}
	}
	return id, leaves
}

func applyModifiers(reg *nodeRegistry, gs *graphStore, cfg NodeConfig, id NodeId) {
	for _, t := range cfg.before {
		target := resolveOrderTarget(reg, t)
		if target == id {
			panic(ErrSelfOrder)
		}
		gs.AddDependency(id, target)
	}
	for _, t := range cfg.after {
		target := resolveOrderTarget(reg, t)
		if target == id {
			panic(ErrSelfOrder)
		}
		gs.AddDependency(target, id)
	}
	for _, t := range cfg.inSets {
		target := resolveOrderTarget(reg, t)
		if target == id {
			panic(ErrSelfHierarchy)
		}
		gs.AddHierarchy(id, target)
	}
	for _, t := range cfg.ambiguousWith {
		target := resolveOrderTarget(reg, t)
		gs.AddAmbiguousWith(id, target)
	}
	for _, cond := range cfg.conditions {
		reg.AddCondition(id, cond)
	}
}

// resolveOrderTarget resolves a Before/After/InSet/AmbiguousWith argument to
// a NodeId: a function value names the system-type-set of whatever system
// is (or will be) built from it, a System instance already added to the
// schedule names that system's own node (the first node it was added as),
// and anything else is treated as a named-set key.
func resolveOrderTarget(reg *nodeRegistry, target any) NodeId {
	v := reflect.ValueOf(target)
	if v.Kind() == reflect.Func {
		token := v.Pointer()
		if id, ok := reg.typeSetByToken[token]; ok {
			return id
		}
		id := reg.newSet(token, "typeset", true)
		reg.typeSetByToken[token] = id
		return id
	}
	if sys, ok := target.(System); ok {
		for _, s := range reg.systems {
			if s.sys == sys {
				return s.id
			}
		}
	}
	return reg.InternSet(target, fmt.Sprintf("%v", target))
}
