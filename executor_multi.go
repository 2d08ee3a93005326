package ecs

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// runMultiThreaded dispatches plan.order across pool using an
// access-conflict-aware ready queue: a system becomes eligible once every
// predecessor has completed, and is only actually launched once nothing
// currently running conflicts with its access set. Exclusive systems
// (including synthetic apply_deferred barriers) drain every running system
// to empty before they start, and nothing else starts while one is
// running. A panicking or erroring system is recovered by the worker pool
// and reported only after every system dispatched for the tick has
// finished — there is no per-system cancellation.
func runMultiThreaded(ctx context.Context, plan *ExecutionPlan, reg *nodeRegistry, world *World, dt time.Duration, tick uint64, logger Logger, observer ScheduleObserver, pool *workerPool) error {
	if observer == nil {
		observer = noopObserver{}
	}
	start := time.Now()

	total := len(plan.order)
	remaining := make(map[SystemId]int, total)
	for _, id := range plan.order {
		remaining[id] = len(plan.Predecessors(id))
	}

	var mu sync.Mutex
	running := make(map[SystemId]bool)
	completed := make(map[SystemId]bool)
	doneN := 0

	signal := make(chan struct{}, 1)
	notify := func() {
		select {
		case signal <- struct{}{}:
		default:
		}
	}

	buf := NewCommandBuffer()
	exec := newExecContext(world, dt, tick, logger, buf)
	evaluator := newConditionEvaluator()

	var executed, skipped int64
	group := newDispatchGroup(ctx, pool)

	hasRunningExclusive := func() bool {
		for r := range running {
			if plan.Access(r).Exclusive() {
				return true
			}
		}
		return false
	}

	launchReady := func() []SystemId {
		mu.Lock()
		defer mu.Unlock()
		var launched []SystemId
		exclusiveBlocked := hasRunningExclusive()
		for _, id := range plan.order {
			if completed[id] || running[id] || remaining[id] > 0 {
				continue
			}
			if exclusiveBlocked {
				break
			}
			if plan.Access(id).Exclusive() {
				if len(running) > 0 {
					continue
				}
				running[id] = true
				launched = append(launched, id)
				exclusiveBlocked = true
				continue
			}
			conflict := false
			for r := range running {
				if plan.ConflictsWith(id, r) {
					conflict = true
					break
				}
			}
			if conflict {
				continue
			}
			running[id] = true
			launched = append(launched, id)
		}
		return launched
	}

	runOne := func(ctx context.Context, id SystemId) error {
		if plan.IsFlush(id) {
			return exec.drainAndApply()
		}
		skip, err := shouldSkip(ctx, exec, evaluator, plan, id)
		if err != nil {
			return err
		}
		if skip {
			atomic.AddInt64(&skipped, 1)
			return nil
		}
		sys := reg.System(id)
		if err := sys.Run(ctx, exec); err != nil {
			return err
		}
		atomic.AddInt64(&executed, 1)
		return nil
	}

	for {
		if ctx.Err() != nil {
			break
		}
		launched := launchReady()
		if len(launched) == 0 {
			mu.Lock()
			finished := doneN == total
			mu.Unlock()
			if finished {
				break
			}
			select {
			case <-signal:
			case <-ctx.Done():
			}
			continue
		}
		for _, id := range launched {
			id := id
			group.Go(func(ctx context.Context) error {
				err := runOne(ctx, id)
				mu.Lock()
				delete(running, id)
				completed[id] = true
				doneN++
				for _, succ := range plan.Successors(id) {
					remaining[succ]--
				}
				finished := doneN == total
				mu.Unlock()
				notify()
				if finished {
					notify()
				}
				return err
			})
		}
	}

	runErr := group.Wait()
	if runErr == nil {
		runErr = ctx.Err()
	}
	if runErr == nil {
		runErr = exec.drainAndApply()
	}

	summary := TickSummary{
		Tick:            tick,
		Duration:        time.Since(start),
		SystemsTotal:    total,
		SystemsExecuted: int(atomic.LoadInt64(&executed)),
		SystemsSkipped:  int(atomic.LoadInt64(&skipped)),
		Error:           runErr,
	}
	observer.TickCompleted(summary)
	return runErr
}
