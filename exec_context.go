package ecs

import (
	"sync"
	"time"
)

// execContext is the concrete ExecutionContext every system and condition
// sees during a tick. Defer is safe to call concurrently: the
// multi-threaded executor may have several systems running against the
// same tick's shared command buffer at once.
type execContext struct {
	world  *World
	dt     time.Duration
	tick   uint64
	logger Logger

	mu  sync.Mutex
	buf *CommandBuffer
}

func newExecContext(world *World, dt time.Duration, tick uint64, logger Logger, buf *CommandBuffer) *execContext {
	if logger == nil {
		logger = noopLogger{}
	}
	return &execContext{world: world, dt: dt, tick: tick, logger: logger, buf: buf}
}

func (c *execContext) World() *World { return c.world }

func (c *execContext) TimeDelta() time.Duration { return c.dt }

func (c *execContext) TickIndex() uint64 { return c.tick }

func (c *execContext) Logger() Logger { return c.logger }

func (c *execContext) Defer(cmd Command) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.buf.Push(cmd)
}

// drainAndApply empties the tick's command buffer into the world; used
// both at the end of a tick and by any apply_deferred barrier nodes
// inserted mid-tick.
func (c *execContext) drainAndApply() error {
	c.mu.Lock()
	commands := c.buf.Drain()
	c.mu.Unlock()
	if len(commands) == 0 {
		return nil
	}
	return c.world.ApplyCommands(commands)
}
