package ecs

import (
	"context"
	"sync"
)

// conditionKey identifies one declared RunCondition slot for caching
// purposes: the node that declared it (a system or a set), and the
// condition's position within that node's condition list. Keying on the
// declaring node — not on whichever system ultimately inherits the
// condition through set membership — is what guarantees an ancestor-set
// condition is evaluated exactly once per tick no matter how many
// descendant systems it gates.
type conditionKey struct {
	node NodeId
	slot int
}

// conditionEvaluator runs and caches RunCondition results for one tick. A
// fresh evaluator is used per tick, so "at most once per tick" falls out of
// "at most once per evaluator lifetime". Each key gets its own sync.Once so
// concurrent callers from the multi-threaded executor (a condition
// inherited by several systems that become ready in the same round) still
// only invoke the underlying RunCondition a single time; the rest block
// until that call finishes and then read its cached result.
type conditionEvaluator struct {
	mu    sync.Mutex
	once  map[conditionKey]*sync.Once
	cache map[conditionKey]bool
	errs  map[conditionKey]error
}

func newConditionEvaluator() *conditionEvaluator {
	return &conditionEvaluator{
		once:  make(map[conditionKey]*sync.Once),
		cache: make(map[conditionKey]bool),
		errs:  make(map[conditionKey]error),
	}
}

// evaluate returns the cached result for key, running cond exactly once to
// produce it if this is the first call for key this tick.
func (c *conditionEvaluator) evaluate(ctx context.Context, exec ExecutionContext, key conditionKey, cond RunCondition) (bool, error) {
	c.mu.Lock()
	once, ok := c.once[key]
	if !ok {
		once = &sync.Once{}
		c.once[key] = once
	}
	c.mu.Unlock()

	once.Do(func() {
		v, err := cond.Evaluate(ctx, exec)
		c.mu.Lock()
		c.cache[key] = v
		c.errs[key] = err
		c.mu.Unlock()
	})

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cache[key], c.errs[key]
}
