package ecs

import (
	"context"
	"sync/atomic"
	"time"
)

// Schedule is the externally facing scheduler: a builder for a graph of
// systems and sets (component A/C), a validation and lowering pass
// (component D, run once by Initialize), and the two executors that walk
// the resulting ExecutionPlan each tick.
type Schedule struct {
	registry *nodeRegistry
	graph    *graphStore
	settings BuildSettings
	logger   Logger
	observer ScheduleObserver
	workers  int
	pool     *workerPool

	plan     *ExecutionPlan
	tick     uint64
	lastTick time.Time
}

// NewSchedule returns an empty schedule with default build settings, no
// logger, no observer, and a single worker (so Run behaves like
// RunSequential until WithWorkers raises the pool size).
func NewSchedule() *Schedule {
	return &Schedule{
		registry: newNodeRegistry(),
		graph:    newGraphStore(),
		settings: DefaultBuildSettings(),
		logger:   noopLogger{},
		observer: noopObserver{},
		workers:  1,
	}
}

// AddSystems materializes cfg into the schedule's graph: every leaf system
// is interned, every leaf/group set is wired with its hierarchy and
// dependency edges, and Before/After/InSet/AmbiguousWith/RunIf modifiers are
// applied. Safe to call repeatedly before Initialize; on a schedule that has
// already been initialized, the new nodes and edges take effect only once
// Initialize runs again.
func (s *Schedule) AddSystems(cfg NodeConfig) *Schedule {
	materializeConfig(s.registry, s.graph, cfg)
	return s
}

// ConfigureSet applies ordering, hierarchy, and condition modifiers to a set
// without declaring new systems in it. Panics with ErrConfigureTypeSetDirectly
// if cfg resolves to a synthetic system-type-set: those are configured by
// ordering the systems within them, never directly.
func (s *Schedule) ConfigureSet(cfg NodeConfig) *Schedule {
	id, _ := materializeConfig(s.registry, s.graph, cfg)
	if id.IsSet() && s.registry.IsTypeSet(id) {
		panic(ErrConfigureTypeSetDirectly)
	}
	return s
}

// ConfigureSets applies ConfigureSet to each of cfgs in order.
func (s *Schedule) ConfigureSets(cfgs ...NodeConfig) *Schedule {
	for _, cfg := range cfgs {
		s.ConfigureSet(cfg)
	}
	return s
}

// SetBuildSettings overrides the policy Initialize uses for hierarchy
// redundancy, unresolved ambiguity, and apply_deferred auto-insertion.
func (s *Schedule) SetBuildSettings(settings BuildSettings) *Schedule {
	s.settings = settings
	return s
}

// WithWorkers sets how many goroutines Run dispatches systems across. n <= 1
// makes Run behave identically to RunSequential (no pool, systems execute
// on the calling goroutine).
func (s *Schedule) WithWorkers(n int) *Schedule {
	s.workers = n
	return s
}

// WithLogger routes build diagnostics (hierarchy redundancy, unresolved
// ambiguity, when the corresponding BuildSettings level is Warn) through
// logger instead of discarding them.
func (s *Schedule) WithLogger(logger Logger) *Schedule {
	if logger == nil {
		logger = noopLogger{}
	}
	s.logger = logger
	return s
}

// WithObserver wires cfg's caller-supplied observer and any enabled built-in
// integrations (structured logging, Prometheus, SigNoz) into the chain of
// ScheduleObservers notified after every tick.
func (s *Schedule) WithObserver(cfg InstrumentationConfig) *Schedule {
	s.observer = buildObserverChain(s.logger, cfg)
	return s
}

// Initialize runs the build pass: hierarchy and dependency cycle detection,
// redundancy/cross-dependency/set-intersect/type-set-ambiguity checks,
// dependency lowering, stable topological sort, the conflict matrix, and
// condition lowering. It must succeed before Run or RunSequential can be
// called, and only needs to run again if the schedule's graph changes.
func (s *Schedule) Initialize(world *World) error {
	plan, err := buildExecutionPlan(s.registry, s.graph, s.settings, s.logger)
	if err != nil {
		return err
	}
	s.plan = plan
	if s.workers > 1 && s.pool == nil {
		s.pool = newWorkerPool(s.workers)
	}
	return nil
}

// Run executes one tick of the schedule's plan across WithWorkers
// goroutines, respecting access conflicts and exclusive-system barriers.
// Initialize must have succeeded first.
func (s *Schedule) Run(ctx context.Context, world *World) error {
	if s.plan == nil {
		return ErrScheduleNotInitialized
	}
	tick, dt := s.nextTick()
	if s.pool == nil {
		return runSequential(ctx, s.plan, s.registry, world, dt, tick, s.logger, s.observer)
	}
	return runMultiThreaded(ctx, s.plan, s.registry, world, dt, tick, s.logger, s.observer, s.pool)
}

// RunSequential executes one tick of the schedule's plan on the calling
// goroutine, in the plan's stable topological order. Initialize must have
// succeeded first.
func (s *Schedule) RunSequential(ctx context.Context, world *World) error {
	if s.plan == nil {
		return ErrScheduleNotInitialized
	}
	tick, dt := s.nextTick()
	return runSequential(ctx, s.plan, s.registry, world, dt, tick, s.logger, s.observer)
}

// nextTick advances the tick counter and measures the wall-clock delta
// since the previous call; the first tick of a schedule's lifetime reports
// a zero delta since there is no prior tick to measure from.
func (s *Schedule) nextTick() (uint64, time.Duration) {
	tick := atomic.AddUint64(&s.tick, 1) - 1
	now := time.Now()
	var dt time.Duration
	if !s.lastTick.IsZero() {
		dt = now.Sub(s.lastTick)
	}
	s.lastTick = now
	return tick, dt
}

// Close releases the schedule's worker pool, if one was started. Safe to
// call on a schedule that never started one.
func (s *Schedule) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}
