package ecs_test

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	ecs "github.com/arvo-run/ecsched"
)

// TestMultiThreadedRunsNonConflictingSystemsConcurrently rendezvous-checks
// that two systems with disjoint access sets are actually dispatched onto
// separate goroutines rather than serialized: each blocks on a shared
// release channel after signaling it started, so the test can only proceed
// past both receives if the executor started them concurrently.
func TestMultiThreadedRunsNonConflictingSystemsConcurrently(t *testing.T) {
	started := make(chan struct{}, 2)
	release := make(chan struct{})

	makeSys := func(name string, resource string) *ecs.FuncSystem {
		return ecs.SystemFunc(name, ecs.Writes(ecs.AccessKindResource, resource),
			func(ctx context.Context, exec ecs.ExecutionContext) error {
				started <- struct{}{}
				<-release
				return nil
			})
	}

	sched := ecs.NewSchedule().WithWorkers(2)
	sched.AddSystems(ecs.Sys(makeSys("a", "A")))
	sched.AddSystems(ecs.Sys(makeSys("b", "B")))

	defer sched.Close()

	world := ecs.NewWorld()
	if err := sched.Initialize(world); err != nil {
		t.Fatalf("initialize: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- sched.Run(context.Background(), world) }()

	for i := 0; i < 2; i++ {
		select {
		case <-started:
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for both systems to start concurrently")
		}
	}
	close(release)

	if err := <-done; err != nil {
		t.Fatalf("run: %v", err)
	}
}

// TestMultiThreadedExclusiveSystemExcludesEverythingElse runs one exclusive
// system alongside several non-conflicting ones and asserts, via atomic
// counters sampled from inside each system body, that the exclusive system
// never overlaps with any other system's execution window.
func TestMultiThreadedExclusiveSystemExcludesEverythingElse(t *testing.T) {
	var activeExclusive int32
	var activeOther int32
	var violated int32

	exclusiveSys := ecs.SystemFunc("exclusive", ecs.NewAccessSet(true),
		func(ctx context.Context, exec ecs.ExecutionContext) error {
			atomic.AddInt32(&activeExclusive, 1)
			if atomic.LoadInt32(&activeOther) != 0 {
				atomic.StoreInt32(&violated, 1)
			}
			time.Sleep(20 * time.Millisecond)
			atomic.AddInt32(&activeExclusive, -1)
			return nil
		})

	sched := ecs.NewSchedule().WithWorkers(4)
	sched.AddSystems(ecs.Sys(exclusiveSys))
	for i := 0; i < 4; i++ {
		resource := fmt.Sprintf("R%d", i)
		name := fmt.Sprintf("other%d", i)
		sys := ecs.SystemFunc(name, ecs.Writes(ecs.AccessKindResource, resource),
			func(ctx context.Context, exec ecs.ExecutionContext) error {
				atomic.AddInt32(&activeOther, 1)
				if atomic.LoadInt32(&activeExclusive) != 0 {
					atomic.StoreInt32(&violated, 1)
				}
				time.Sleep(5 * time.Millisecond)
				atomic.AddInt32(&activeOther, -1)
				return nil
			})
		sched.AddSystems(ecs.Sys(sys))
	}

	defer sched.Close()

	world := ecs.NewWorld()
	if err := sched.Initialize(world); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if err := sched.Run(context.Background(), world); err != nil {
		t.Fatalf("run: %v", err)
	}

	if atomic.LoadInt32(&violated) != 0 {
		t.Fatalf("observed a non-exclusive system running concurrently with the exclusive system")
	}
}

// TestMultiThreadedPropagatesSystemPanic asserts that a panicking system is
// recovered by the worker pool and surfaced as an error from Run, rather
// than taking the process down or being silently swallowed.
func TestMultiThreadedPropagatesSystemPanic(t *testing.T) {
	panicking := ecs.SystemFunc("panics", ecs.NewAccessSet(false),
		func(ctx context.Context, exec ecs.ExecutionContext) error {
			panic("boom")
		})

	sched := ecs.NewSchedule().WithWorkers(2)
	sched.AddSystems(ecs.Sys(panicking))

	defer sched.Close()

	world := ecs.NewWorld()
	if err := sched.Initialize(world); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if err := sched.Run(context.Background(), world); err == nil {
		t.Fatalf("expected Run to surface the recovered panic as an error")
	}
}
