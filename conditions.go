package ecs

import (
	"context"
	"fmt"
)

// ChangeTracker wraps a resource value with a version counter that callers
// bump on every write. The World collaborator has no first-class change
// detection of its own (spec.md keeps it a minimal external interface), so
// ResourceChangedCondition relies on resources that opt into tracking by
// storing one of these instead of a bare value.
type ChangeTracker struct {
	Value   any
	Version uint64
}

// Touch increments the tracker's version and replaces its value, the moral
// equivalent of a mutable resource borrow in the original system.
func (t *ChangeTracker) Touch(value any) {
	t.Value = value
	t.Version++
}

// ResourceChangedCondition reports true on its first evaluation and on the
// first evaluation that observes a resource's version differing from the
// version it last saw, false otherwise — the Go shape of upstream's
// `resource.is_changed()` run
// condition. Each instance tracks its own last-seen version, so two
// conditions watching the same resource are independent: one being
// evaluated does not consume the "changed" signal for the other.
type ResourceChangedCondition struct {
	name       string
	key        string
	lastSeen   uint64
	seenBefore bool
}

// ResourceChanged builds a condition that gates on a ChangeTracker resource
// stored under key.
func ResourceChanged(key string) *ResourceChangedCondition {
	return &ResourceChangedCondition{name: "is_changed(" + key + ")", key: key}
}

func (c *ResourceChangedCondition) Descriptor() SystemDescriptor {
	return SystemDescriptor{Name: c.name, Access: Reads(AccessKindResource, c.key)}
}

func (c *ResourceChangedCondition) Evaluate(ctx context.Context, exec ExecutionContext) (bool, error) {
	v, ok := exec.World().Resources().Get(c.key)
	if !ok {
		return false, nil
	}
	tracked, ok := v.(*ChangeTracker)
	if !ok {
		return false, fmt.Errorf("ecs: resource %q is not change-tracked", c.key)
	}
	changed := !c.seenBefore || tracked.Version != c.lastSeen
	c.lastSeen = tracked.Version
	c.seenBefore = true
	return changed, nil
}
