package ecs_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"

	ecs "github.com/arvo-run/ecsched"
)

// orderRecorder is a System that appends a caller-chosen tag to a shared
// slice when it runs, so a test can assert on the order systems actually
// executed in rather than just ExecutionPlan.Order().
type orderRecorder struct {
	name string
	tag  int
	out  *[]int
}

func recordTag(out *[]int, tag int) *orderRecorder {
	return &orderRecorder{name: fmt.Sprintf("tag(%d)", tag), tag: tag, out: out}
}

func (r *orderRecorder) Descriptor() ecs.SystemDescriptor {
	return ecs.SystemDescriptor{Name: r.name, Access: ecs.NewAccessSet(false)}
}

func (r *orderRecorder) Run(ctx context.Context, exec ecs.ExecutionContext) error {
	*r.out = append(*r.out, r.tag)
	return nil
}

func newTestWorld() *ecs.World {
	return ecs.NewWorld()
}

func TestOrderSystems(t *testing.T) {
	var out []int

	const maxTag = 1 << 30
	named := recordTag(&out, maxTag)
	s1 := recordTag(&out, 1)
	s0 := recordTag(&out, 0)

	typeA := "set-A"

	sched := ecs.NewSchedule()
	sched.AddSystems(ecs.Sys(named))
	sched.AddSystems(ecs.Sys(s1).Before(named))
	sched.AddSystems(ecs.Sys(s0).After(named).InSet(typeA))

	world := newTestWorld()
	if err := sched.Initialize(world); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if err := sched.RunSequential(context.Background(), world); err != nil {
		t.Fatalf("run: %v", err)
	}
	if diff := cmp.Diff([]int{1, maxTag, 0}, out); diff != "" {
		t.Fatalf("unexpected order (-want +got):\n%s", diff)
	}

	out = nil
	s3 := recordTag(&out, 3)
	s4 := recordTag(&out, 4)

	sched2 := ecs.NewSchedule()
	sched2.AddSystems(ecs.Sys(named))
	sched2.AddSystems(ecs.Sys(s1).Before(named))
	sched2.AddSystems(ecs.Sys(s0).After(named).InSet(typeA))
	sched2.ConfigureSet(ecs.Set(typeA, "A").After(named))
	sched2.AddSystems(ecs.Sys(s3).Before(typeA).After(named))
	sched2.AddSystems(ecs.Sys(s4).After(typeA))

	if err := sched2.Initialize(world); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if err := sched2.RunSequential(context.Background(), world); err != nil {
		t.Fatalf("run: %v", err)
	}
	if diff := cmp.Diff([]int{1, maxTag, 3, 0, 4}, out); diff != "" {
		t.Fatalf("unexpected order (-want +got):\n%s", diff)
	}
}

func TestChainWithNesting(t *testing.T) {
	var out []int
	tag := func(n int) *orderRecorder { return recordTag(&out, n) }

	cfg := ecs.Chain(
		ecs.Chain(ecs.Sys(tag(0)), ecs.Sys(tag(1))),
		ecs.Sys(tag(2)),
		ecs.Chain(ecs.Sys(tag(3)), ecs.Sys(tag(4))),
		ecs.Group(ecs.Sys(tag(5)), ecs.Group(ecs.Sys(tag(6)), ecs.Sys(tag(7)))),
		ecs.Group(ecs.Chain(ecs.Sys(tag(8)), ecs.Sys(tag(9))), ecs.Sys(tag(10))),
	)

	sched := ecs.NewSchedule()
	sched.AddSystems(cfg)

	world := newTestWorld()
	if err := sched.Initialize(world); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if err := sched.RunSequential(context.Background(), world); err != nil {
		t.Fatalf("run: %v", err)
	}

	if len(out) != 11 {
		t.Fatalf("expected 11 systems to run, got %d: %v", len(out), out)
	}
	if diff := cmp.Diff([]int{0, 1, 2, 3, 4}, out[:5]); diff != "" {
		t.Fatalf("unexpected exact prefix (-want +got):\n%s", diff)
	}
	middle := map[int]bool{}
	for _, v := range out[5:8] {
		middle[v] = true
	}
	if len(middle) != 3 || !middle[5] || !middle[6] || !middle[7] {
		t.Fatalf("expected {5,6,7} as a permutation, got %v", out[5:8])
	}
	tail := out[8:11]
	validTails := [][]int{{8, 9, 10}, {10, 8, 9}}
	ok := false
	for _, want := range validTails {
		if cmp.Equal(want, tail) {
			ok = true
			break
		}
	}
	if !ok {
		t.Fatalf("unexpected tail ordering: %v", tail)
	}
}

func TestConditionalSkipAndChangeDetection(t *testing.T) {
	world := newTestWorld()
	world.Resources().Set("R", &ecs.ChangeTracker{Value: 0})
	world.Resources().Set("B", &ecs.ChangeTracker{Value: 0})

	counter := 0
	counting := ecs.SystemFunc("counting_system", ecs.Writes(ecs.AccessKindResource, "counter"),
		func(ctx context.Context, exec ecs.ExecutionContext) error {
			counter++
			return nil
		})

	sched := ecs.NewSchedule()
	sched.AddSystems(ecs.Sys(counting).
		RunIf(ecs.ResourceChanged("R")).
		RunIf(ecs.ResourceChanged("B")))

	if err := sched.Initialize(world); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	ctx := context.Background()

	if err := sched.RunSequential(ctx, world); err != nil {
		t.Fatalf("tick 1: %v", err)
	}
	if counter != 1 {
		t.Fatalf("tick 1: expected counter 1, got %d", counter)
	}

	if err := sched.RunSequential(ctx, world); err != nil {
		t.Fatalf("tick 2: %v", err)
	}
	if counter != 1 {
		t.Fatalf("tick 2 (no mutation): expected counter 1, got %d", counter)
	}

	r, _ := world.Resources().Get("R")
	r.(*ecs.ChangeTracker).Touch(1)
	if err := sched.RunSequential(ctx, world); err != nil {
		t.Fatalf("tick 3: %v", err)
	}
	if counter != 1 {
		t.Fatalf("tick 3 (R only): expected counter 1, got %d", counter)
	}

	b, _ := world.Resources().Get("B")
	b.(*ecs.ChangeTracker).Touch(1)
	if err := sched.RunSequential(ctx, world); err != nil {
		t.Fatalf("tick 4: %v", err)
	}
	if counter != 1 {
		t.Fatalf("tick 4 (B only): expected counter 1, got %d", counter)
	}

	r.(*ecs.ChangeTracker).Touch(2)
	b.(*ecs.ChangeTracker).Touch(2)
	if err := sched.RunSequential(ctx, world); err != nil {
		t.Fatalf("tick 5: %v", err)
	}
	if counter != 2 {
		t.Fatalf("tick 5 (both): expected counter 2, got %d", counter)
	}
}

// noopBody and its siblings below are each a distinct, separately declared
// function so that reflect.ValueOf(fn).Pointer() gives every one of them its
// own system-type-set token; a system built from them never accidentally
// shares a type-set with a system built from a different named function.
func noopBody(ctx context.Context, exec ecs.ExecutionContext) error { return nil }

func noopSystem(name string, access ecs.AccessSet) *ecs.FuncSystem {
	return ecs.SystemFunc(name, access, noopBody)
}

func cycleBodyA(ctx context.Context, exec ecs.ExecutionContext) error { return nil }
func cycleBodyB(ctx context.Context, exec ecs.ExecutionContext) error { return nil }

// TestAncestorSetConditionEvaluatedBeforeNodeCondition pins down spec §4.4's
// evaluation order: a false node-level condition must never prevent an
// ancestor-set's own condition from running. A single system sits under a
// set whose RunIf increments a counter every time it's actually invoked; the
// system's own RunIf is always false, so the system itself never runs, but
// the set's condition must still be invoked (and its counter must still
// advance) on every tick, since nothing else under that set would ever
// reach it otherwise.
func TestAncestorSetConditionEvaluatedBeforeNodeCondition(t *testing.T) {
	world := newTestWorld()

	ran := false
	gated := ecs.SystemFunc("gated_system", ecs.Writes(ecs.AccessKindResource, "gated"),
		func(ctx context.Context, exec ecs.ExecutionContext) error {
			ran = true
			return nil
		})

	alwaysFalse := ecs.ConditionFunc("always_false", ecs.NewAccessSet(false),
		func(ctx context.Context, exec ecs.ExecutionContext) (bool, error) {
			return false, nil
		})

	invocations := 0
	countingSetCondition := ecs.ConditionFunc("counting_set_condition", ecs.NewAccessSet(false),
		func(ctx context.Context, exec ecs.ExecutionContext) (bool, error) {
			invocations++
			return true, nil
		})

	sched := ecs.NewSchedule()
	sched.AddSystems(ecs.Group(ecs.Sys(gated).RunIf(alwaysFalse)).RunIf(countingSetCondition))

	if err := sched.Initialize(world); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	ctx := context.Background()

	for tick := 1; tick <= 3; tick++ {
		if err := sched.RunSequential(ctx, world); err != nil {
			t.Fatalf("tick %d: %v", tick, err)
		}
		if ran {
			t.Fatalf("tick %d: gated_system should never run, its own RunIf is always false", tick)
		}
		if invocations != tick {
			t.Fatalf("tick %d: expected the ancestor set's RunIf to have been invoked %d times, got %d (its own false RunIf must not block it)", tick, tick, invocations)
		}
	}
}

func TestDependencyCycleDetected(t *testing.T) {
	a := ecs.SystemFunc("a", ecs.NewAccessSet(false), cycleBodyA)
	b := ecs.SystemFunc("b", ecs.NewAccessSet(false), cycleBodyB)

	sched := ecs.NewSchedule()
	sched.AddSystems(ecs.Sys(a).After(cycleBodyB))
	sched.AddSystems(ecs.Sys(b).After(cycleBodyA))

	err := sched.Initialize(newTestWorld())
	if err == nil {
		t.Fatalf("expected DependencyCycle error")
	}
	if !isBuildErrorKind(err, "DependencyCycle") {
		t.Fatalf("expected DependencyCycle, got %v", err)
	}
}

func TestHierarchyCycleDetected(t *testing.T) {
	setA := "cycle-A"
	setB := "cycle-B"

	sched := ecs.NewSchedule()
	sched.ConfigureSet(ecs.Set(setA, "A").InSet(setB))
	sched.ConfigureSet(ecs.Set(setB, "B").InSet(setA))

	err := sched.Initialize(newTestWorld())
	if err == nil {
		t.Fatalf("expected HierarchyCycle error")
	}
	if !isBuildErrorKind(err, "HierarchyCycle") {
		t.Fatalf("expected HierarchyCycle, got %v", err)
	}
}

func fooBody(ctx context.Context, exec ecs.ExecutionContext) error { return nil }
func barBody(ctx context.Context, exec ecs.ExecutionContext) error { return nil }

func TestSystemTypeSetAmbiguity(t *testing.T) {
	makeFoo := func() *ecs.FuncSystem {
		return ecs.SystemFunc("foo", ecs.NewAccessSet(false), fooBody)
	}
	bar := ecs.SystemFunc("bar", ecs.NewAccessSet(false), barBody)

	sched := ecs.NewSchedule()
	sched.AddSystems(ecs.Sys(makeFoo()))
	sched.AddSystems(ecs.Sys(bar).After(fooBody))

	if err := sched.Initialize(newTestWorld()); err != nil {
		t.Fatalf("expected single foo instance to build cleanly: %v", err)
	}

	sched2 := ecs.NewSchedule()
	sched2.AddSystems(ecs.Sys(makeFoo()))
	sched2.AddSystems(ecs.Sys(makeFoo()))
	sched2.AddSystems(ecs.Sys(bar).After(fooBody))

	err := sched2.Initialize(newTestWorld())
	if err == nil {
		t.Fatalf("expected SystemTypeSetAmbiguity error")
	}
	if !isBuildErrorKind(err, "SystemTypeSetAmbiguity") {
		t.Fatalf("expected SystemTypeSetAmbiguity, got %v", err)
	}
}

func TestSetsHaveOrderButIntersect(t *testing.T) {
	setA, setB, setC := "intersect-A", "intersect-B", "intersect-C"
	foo := noopSystem("foo", ecs.NewAccessSet(false))

	sched := ecs.NewSchedule()
	sched.AddSystems(ecs.Sys(foo).InSet(setA).InSet(setC))
	sched.ConfigureSets(
		ecs.Set(setA, "A"),
		ecs.Set(setB, "B").After(setA),
		ecs.Set(setC, "C").After(setB),
	)

	err := sched.Initialize(newTestWorld())
	if err == nil {
		t.Fatalf("expected SetsHaveOrderButIntersect error")
	}
	if !isBuildErrorKind(err, "SetsHaveOrderButIntersect") {
		t.Fatalf("expected SetsHaveOrderButIntersect, got %v", err)
	}
}

func TestCrossDependency(t *testing.T) {
	setA := "cross-A"
	b := noopSystem("b", ecs.NewAccessSet(false))

	sched := ecs.NewSchedule()
	sched.ConfigureSet(ecs.Set(setA, "A"))
	sched.AddSystems(ecs.Sys(b).InSet(setA).After(setA))

	err := sched.Initialize(newTestWorld())
	if err == nil {
		t.Fatalf("expected CrossDependency error")
	}
	if !isBuildErrorKind(err, "CrossDependency") {
		t.Fatalf("expected CrossDependency, got %v", err)
	}
}

func TestHierarchyRedundancyUnderError(t *testing.T) {
	setA := "redundant-A"
	setB := "redundant-B"
	x := noopSystem("x", ecs.NewAccessSet(false))

	sched := ecs.NewSchedule()
	sched.SetBuildSettings(ecs.BuildSettings{HierarchyDetection: ecs.LogLevelError})
	sched.ConfigureSet(ecs.Set(setB, "B").InSet(setA))
	sched.AddSystems(ecs.Sys(x).InSet(setA).InSet(setB))

	err := sched.Initialize(newTestWorld())
	if err == nil {
		t.Fatalf("expected HierarchyRedundancy error")
	}
	if !isBuildErrorKind(err, "HierarchyRedundancy") {
		t.Fatalf("expected HierarchyRedundancy, got %v", err)
	}
}

func TestAmbiguityUnderError(t *testing.T) {
	readR := noopSystem("res_ref", ecs.Reads(ecs.AccessKindResource, "R"))
	writeR := noopSystem("res_mut", ecs.Writes(ecs.AccessKindResource, "R"))

	sched := ecs.NewSchedule()
	sched.SetBuildSettings(ecs.BuildSettings{AmbiguityDetection: ecs.LogLevelError})
	sched.AddSystems(ecs.Sys(readR))
	sched.AddSystems(ecs.Sys(writeR))

	err := sched.Initialize(newTestWorld())
	if err == nil {
		t.Fatalf("expected Ambiguity error")
	}
	if !isBuildErrorKind(err, "AmbiguityError") && !isBuildErrorKind(err, "Ambiguity") {
		t.Fatalf("expected Ambiguity, got %v", err)
	}
}

// isBuildErrorKind checks the string form of a *BuildError's Kind without
// depending on unexported fields from this external test package.
func isBuildErrorKind(err error, kind string) bool {
	return err != nil && (containsString(err.Error(), kind))
}

func containsString(haystack, needle string) bool {
	return len(haystack) >= len(needle) && (func() bool {
		for i := 0; i+len(needle) <= len(haystack); i++ {
			if haystack[i:i+len(needle)] == needle {
				return true
			}
		}
		return false
	})()
}
