package ecs

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestStableTopoSortIsDeterministicAcrossRuns(t *testing.T) {
	a := newSystemNodeId(0)
	b := newSystemNodeId(1)
	c := newSystemNodeId(2)
	d := newSystemNodeId(3)

	ids := []SystemId{a, b, c, d}
	before := map[SystemId][]SystemId{a: {c}}
	after := map[SystemId][]SystemId{c: {a}}

	first, err := stableTopoSort(ids, before, after)
	if err != nil {
		t.Fatalf("stableTopoSort: %v", err)
	}
	for i := 0; i < 20; i++ {
		got, err := stableTopoSort(ids, before, after)
		if err != nil {
			t.Fatalf("stableTopoSort: %v", err)
		}
		if diff := cmp.Diff(first, got); diff != "" {
			t.Fatalf("expected identical order across repeated sorts (-want +got):\n%s", diff)
		}
	}
}

func TestStableTopoSortRespectsDeclaredOrder(t *testing.T) {
	a := newSystemNodeId(0)
	b := newSystemNodeId(1)

	ids := []SystemId{b, a}
	before := map[SystemId][]SystemId{a: {b}}
	after := map[SystemId][]SystemId{b: {a}}

	order, err := stableTopoSort(ids, before, after)
	if err != nil {
		t.Fatalf("stableTopoSort: %v", err)
	}

	posA, posB := -1, -1
	for i, id := range order {
		if id == a {
			posA = i
		}
		if id == b {
			posB = i
		}
	}
	if posA >= posB {
		t.Fatalf("expected a before b in sorted order, got %v", order)
	}
}

func TestStableTopoSortDetectsCycle(t *testing.T) {
	a := newSystemNodeId(0)
	b := newSystemNodeId(1)

	ids := []SystemId{a, b}
	before := map[SystemId][]SystemId{a: {b}, b: {a}}
	after := map[SystemId][]SystemId{a: {b}, b: {a}}

	if _, err := stableTopoSort(ids, before, after); err == nil {
		t.Fatalf("expected an error for a cyclic dependency graph")
	}
}

func TestBuildExecutionPlanConflictMatrixReflectsAccessOverlap(t *testing.T) {
	reg := newNodeRegistry()
	gs := newGraphStore()

	reader := reg.InternSystem(&stubSystem{name: "reader", access: Reads(AccessKindResource, "R")})
	writer := reg.InternSystem(&stubSystem{name: "writer", access: Writes(AccessKindResource, "R")})
	unrelated := reg.InternSystem(&stubSystem{name: "unrelated", access: Writes(AccessKindResource, "S")})

	plan, err := buildExecutionPlan(reg, gs, DefaultBuildSettings(), noopLogger{})
	if err != nil {
		t.Fatalf("buildExecutionPlan: %v", err)
	}

	if !plan.ConflictsWith(reader, writer) {
		t.Fatalf("expected reader/writer over the same resource to conflict")
	}
	if plan.ConflictsWith(reader, unrelated) {
		t.Fatalf("expected no conflict between systems touching different resources")
	}
}
