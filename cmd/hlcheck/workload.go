package main

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/wippyai/callguard/chain"
	"github.com/wippyai/callguard/engine"
	"github.com/wippyai/callguard/errors"
	"github.com/wippyai/callguard/nulldriver"
	"github.com/wippyai/callguard/registry"
)

// workload drives a synthetic application through the engine: every
// iteration builds a context with a queue, a command list, events, a module
// and device memory, submits work and tears it down again.
type workload struct {
	eng      *engine.Engine
	drv      *nulldriver.Driver
	rejected map[errors.Kind]int
	calls    atomic.Int64
	iters    atomic.Int64

	// violations mixes deliberate misuse into every iteration.
	violations bool
	// leakEvery skips the context destroy on every n-th iteration.
	leakEvery int

	mu sync.Mutex
}

type kindCount struct {
	Kind  errors.Kind `json:"kind"`
	Count int         `json:"count"`
}

type workloadStats struct {
	Rejected   []kindCount `json:"rejected"`
	Calls      int64       `json:"calls"`
	Iterations int64       `json:"iterations"`
}

func newWorkload(eng *engine.Engine, drv *nulldriver.Driver) *workload {
	return &workload{
		eng:      eng,
		drv:      drv,
		rejected: make(map[errors.Kind]int),
	}
}

// enumerate registers the driver and device handles. It must run once
// before any iteration.
func (w *workload) enumerate(ctx context.Context) error {
	if _, err := w.call(ctx, "zeInit"); err != nil {
		return err
	}
	if _, err := w.call(ctx, "zeDriverGet"); err != nil {
		return err
	}
	for _, drv := range w.drv.Drivers() {
		if _, err := w.call(ctx, "zeDeviceGet", drv); err != nil {
			return err
		}
	}
	return nil
}

// run executes iterations on workers goroutines and stops at the first
// unexpected failure.
func (w *workload) run(ctx context.Context, iterations, workers int) error {
	if workers < 1 {
		workers = 1
	}

	var (
		wg    sync.WaitGroup
		next  atomic.Int64
		first error
		once  sync.Once
	)
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				i := int(next.Add(1)) - 1
				if i >= iterations || ctx.Err() != nil {
					return
				}
				if err := w.iteration(ctx, i); err != nil {
					once.Do(func() { first = err })
					return
				}
			}
		}()
	}
	wg.Wait()

	if first != nil {
		return first
	}
	return ctx.Err()
}

func (w *workload) iteration(ctx context.Context, i int) error {
	defer w.iters.Add(1)

	drv, dev := w.drv.Drivers()[0], w.drv.Devices()[0]
	misuse := func(n int) bool { return w.violations && i%4 == n }

	hCtx, err := w.create(ctx, "zeContextCreate", drv)
	if err != nil {
		return err
	}
	queue, err := w.create(ctx, "zeCommandQueueCreate", hCtx, dev)
	if err != nil {
		return err
	}
	list, err := w.create(ctx, "zeCommandListCreate", hCtx, dev)
	if err != nil {
		return err
	}
	pool, err := w.create(ctx, "zeEventPoolCreate", hCtx)
	if err != nil {
		return err
	}
	event, err := w.create(ctx, "zeEventCreate", pool)
	if err != nil {
		return err
	}
	mod, err := w.call(ctx, "zeModuleCreate", hCtx, dev)
	if err != nil {
		return err
	}
	kernel, err := w.create(ctx, "zeKernelCreate", mod.Output("phModule"))
	if err != nil {
		return err
	}
	mem, err := w.create(ctx, "zeMemAllocDevice", hCtx, dev)
	if err != nil {
		return err
	}

	steps := []step{
		{"zeCommandListAppendLaunchKernel", in(list, kernel, event)},
		{"zeCommandListAppendBarrier", in(list, 0)},
		{"zeCommandListClose", in(list)},
		{"zeCommandQueueExecuteCommandLists", in(queue, list, 0)},
		{"zeCommandQueueSynchronize", in(queue)},
		{"zeEventHostSynchronize", in(event)},
	}
	if err := w.steps(ctx, steps); err != nil {
		return err
	}

	if misuse(0) {
		w.expect(ctx, "zeCommandListAppendBarrier", list, 0)
	}
	if misuse(1) {
		w.expect(ctx, "zeContextGetStatus", 0)
	}

	steps = []step{
		{"zeMemFree", in(hCtx, mem)},
		{"zeKernelDestroy", in(kernel)},
		{"zeModuleBuildLogDestroy", in(mod.Output("phBuildLog"))},
		{"zeModuleDestroy", in(mod.Output("phModule"))},
		{"zeEventDestroy", in(event)},
		{"zeEventPoolDestroy", in(pool)},
		{"zeCommandListDestroy", in(list)},
		{"zeCommandQueueDestroy", in(queue)},
	}
	if err := w.steps(ctx, steps); err != nil {
		return err
	}

	if misuse(2) {
		w.expect(ctx, "zeEventHostSignal", event)
		w.expect(ctx, "zeEventPoolDestroy", pool)
	}

	if w.leakEvery > 0 && i%w.leakEvery == w.leakEvery-1 {
		return nil
	}
	if _, err := w.call(ctx, "zeContextDestroy", hCtx); err != nil {
		return err
	}
	if misuse(3) {
		w.expect(ctx, "zeCommandQueueCreate", hCtx, dev)
	}
	return nil
}

type step struct {
	name   string
	inputs []registry.Handle
}

func in(hs ...registry.Handle) []registry.Handle { return hs }

func (w *workload) steps(ctx context.Context, steps []step) error {
	for _, s := range steps {
		if _, err := w.call(ctx, s.name, s.inputs...); err != nil {
			return err
		}
	}
	return nil
}

func (w *workload) call(ctx context.Context, name string, inputs ...registry.Handle) (*chain.Call, error) {
	w.calls.Add(1)
	c, err := w.eng.Call(ctx, name, inputs...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return c, nil
}

// create calls a single-output create entry point and returns the handle.
func (w *workload) create(ctx context.Context, name string, inputs ...registry.Handle) (registry.Handle, error) {
	c, err := w.call(ctx, name, inputs...)
	if err != nil {
		return 0, err
	}
	return c.OutputAt(0), nil
}

// expect makes a call that validation is supposed to reject and counts the
// rejection by kind. A call that passes is counted under "".
func (w *workload) expect(ctx context.Context, name string, inputs ...registry.Handle) {
	w.calls.Add(1)
	_, err := w.eng.Call(ctx, name, inputs...)

	w.mu.Lock()
	w.rejected[errors.KindOf(err)]++
	w.mu.Unlock()
}

func (w *workload) stats() workloadStats {
	w.mu.Lock()
	defer w.mu.Unlock()

	st := workloadStats{
		Calls:      w.calls.Load(),
		Iterations: w.iters.Load(),
	}
	for k, n := range w.rejected {
		st.Rejected = append(st.Rejected, kindCount{Kind: k, Count: n})
	}
	sort.Slice(st.Rejected, func(i, j int) bool { return st.Rejected[i].Kind < st.Rejected[j].Kind })
	return st
}
