package ecs

import (
	"context"
	"time"
)

// runSequential walks the plan's topological order on the calling
// goroutine, one system at a time. It shares the same condition-caching
// and flush semantics as the multi-threaded executor, just without any
// concurrency to coordinate.
func runSequential(ctx context.Context, plan *ExecutionPlan, reg *nodeRegistry, world *World, dt time.Duration, tick uint64, logger Logger, observer ScheduleObserver) error {
	if observer == nil {
		observer = noopObserver{}
	}
	start := time.Now()
	buf := NewCommandBuffer()
	exec := newExecContext(world, dt, tick, logger, buf)
	evaluator := newConditionEvaluator()

	summary := TickSummary{Tick: tick, SystemsTotal: len(plan.order)}
	var runErr error

	for _, id := range plan.order {
		if ctx.Err() != nil {
			runErr = ctx.Err()
			break
		}
		if plan.IsFlush(id) {
			if err := exec.drainAndApply(); err != nil {
				runErr = err
				break
			}
			continue
		}

		skip, err := shouldSkip(ctx, exec, evaluator, plan, id)
		if err != nil {
			runErr = err
			break
		}
		if skip {
			summary.SystemsSkipped++
			continue
		}

		sys := reg.System(id)
		if err := sys.Run(ctx, exec); err != nil {
			runErr = err
			break
		}
		summary.SystemsExecuted++
	}

	if runErr == nil {
		runErr = exec.drainAndApply()
	}

	summary.Duration = time.Since(start)
	summary.Error = runErr
	observer.TickCompleted(summary)
	return runErr
}

// shouldSkip evaluates every condition gating id (ancestor-set conditions
// first, then the system's own, per plan.Conditions's ordering),
// short-circuiting on the first that reports false/error. Each distinct
// condition is evaluated at most once per tick via evaluator's cache.
func shouldSkip(ctx context.Context, exec ExecutionContext, evaluator *conditionEvaluator, plan *ExecutionPlan, id SystemId) (bool, error) {
	for _, ref := range plan.Conditions(id) {
		ok, err := evaluator.evaluate(ctx, exec, ref.key, ref.cond)
		if err != nil {
			return false, err
		}
		if !ok {
			return true, nil
		}
	}
	return false, nil
}
