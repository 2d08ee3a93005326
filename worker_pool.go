package ecs

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"
)

// workerPool is a small fixed-size pool of goroutines fed through an
// unbuffered job channel; Submit returns at once with an error if the pool
// is already closed or the context already done, and otherwise blocks until
// a worker picks the job up. A nil *workerPool is valid and means "run
// inline on the goroutine that calls Submit".
type workerPool struct {
	size   int
	jobs   chan jobRequest
	closed chan struct{}
	once   sync.Once
	wg     sync.WaitGroup
}

type jobRequest struct {
	ctx    context.Context
	fn     func(context.Context) jobResult
	result chan jobResult
}

type jobResult struct {
	err error
}

func newWorkerPool(size int) *workerPool {
	if size <= 0 {
		return nil
	}
	p := &workerPool{
		size:   size,
		jobs:   make(chan jobRequest),
		closed: make(chan struct{}),
	}
	p.start()
	return p
}

func (p *workerPool) start() {
	for i := 0; i < p.size; i++ {
		p.wg.Add(1)
		go p.worker()
	}
}

func (p *workerPool) worker() {
	defer p.wg.Done()
	for {
		select {
		case job, ok := <-p.jobs:
			if !ok {
				return
			}
			p.execute(job)
		case <-p.closed:
			return
		}
	}
}

func (p *workerPool) execute(job jobRequest) {
	if job.result == nil {
		return
	}
	defer close(job.result)
	if job.fn == nil {
		job.result <- jobResult{}
		return
	}
	select {
	case <-job.ctx.Done():
		job.result <- jobResult{err: job.ctx.Err()}
	default:
		job.result <- p.runRecovered(job)
	}
}

// runRecovered invokes job.fn, converting a panic inside it into an error
// instead of taking the worker goroutine down — the dispatch loop decides
// what to do with the error (spec §4.5: a system panic is not recovered
// silently, it is propagated to the caller after the tick's workers drain).
func (p *workerPool) runRecovered(job jobRequest) (res jobResult) {
	defer func() {
		if r := recover(); r != nil {
			res = jobResult{err: fmt.Errorf("ecs: system panicked: %v", r)}
		}
	}()
	return job.fn(job.ctx)
}

func (p *workerPool) Submit(ctx context.Context, fn func(context.Context) jobResult) *jobHandle {
	if fn == nil {
		ch := make(chan jobResult, 1)
		ch <- jobResult{}
		close(ch)
		return &jobHandle{result: ch}
	}
	if p == nil {
		ch := make(chan jobResult, 1)
		ch <- func() (res jobResult) {
			defer func() {
				if r := recover(); r != nil {
					res = jobResult{err: fmt.Errorf("ecs: system panicked: %v", r)}
				}
			}()
			return fn(ctx)
		}()
		close(ch)
		return &jobHandle{result: ch}
	}
	result := make(chan jobResult, 1)
	job := jobRequest{ctx: ctx, fn: fn, result: result}
	select {
	case <-p.closed:
		result <- jobResult{err: ErrWorkerPoolClosed}
		close(result)
		return &jobHandle{result: result}
	case <-ctx.Done():
		result <- jobResult{err: ctx.Err()}
		close(result)
		return &jobHandle{result: result}
	default:
	}
	if safeSendJob(p.jobs, job) {
		return &jobHandle{result: result}
	}
	result <- jobResult{err: ErrWorkerPoolClosed}
	close(result)
	return &jobHandle{result: result}
}

func (p *workerPool) Close() {
	if p == nil {
		return
	}
	p.once.Do(func() {
		close(p.closed)
		close(p.jobs)
	})
	p.wg.Wait()
}

type jobHandle struct {
	result chan jobResult
}

func (h *jobHandle) Wait() jobResult {
	if h == nil || h.result == nil {
		return jobResult{}
	}
	res, ok := <-h.result
	if !ok {
		return jobResult{}
	}
	return res
}

func safeSendJob(ch chan jobRequest, job jobRequest) (ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()
	ch <- job
	return true
}

// dispatchGroup fans a tick's ready systems out across a workerPool through
// an errgroup.Group, so every dispatched system is drained before Wait
// returns the first error (including a recovered system panic) — no
// per-system cancellation, matching the tier-2 runtime error model.
type dispatchGroup struct {
	pool *workerPool
	eg   *errgroup.Group
	ctx  context.Context
}

func newDispatchGroup(ctx context.Context, pool *workerPool) *dispatchGroup {
	// A zero errgroup.Group does not cancel on error, so one failing system
	// never stops the systems dispatched after it.
	return &dispatchGroup{pool: pool, eg: &errgroup.Group{}, ctx: ctx}
}

// Go submits fn to the pool and reports its (possibly recovered) error to
// the errgroup once it completes.
func (d *dispatchGroup) Go(fn func(ctx context.Context) error) {
	d.eg.Go(func() error {
		handle := d.pool.Submit(d.ctx, func(ctx context.Context) jobResult {
			return jobResult{err: fn(ctx)}
		})
		return handle.Wait().err
	})
}

// Wait blocks until every submitted system for this tick has completed,
// returning the first error encountered, if any.
func (d *dispatchGroup) Wait() error {
	return d.eg.Wait()
}
