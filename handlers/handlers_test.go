package handlers

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/wippyai/callguard/api"
	"github.com/wippyai/callguard/chain"
	"github.com/wippyai/callguard/diag"
	"github.com/wippyai/callguard/errors"
	"github.com/wippyai/callguard/registry"
)

func entry(t *testing.T, name string) *api.EntryPoint {
	t.Helper()
	ep, ok := api.Default().Lookup(name)
	if !ok {
		t.Fatalf("entry point %s missing from default table", name)
	}
	return ep
}

// setup registers driver 0x1, device 0x2 and context 0x3.
func setup(t *testing.T, opts ...registry.Option) *registry.Registry {
	t.Helper()
	reg := registry.New(opts...)
	reg.Add(0x1, "Driver")
	reg.Add(0x2, "Device")
	reg.Add(0x3, "Context")
	reg.AddDependent(0x1, 0x2)
	reg.AddDependent(0x1, 0x3)
	return reg
}

func TestLifetime_Prologue(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name  string
		entry string
		in    []registry.Handle
		prep  func(*registry.Registry)
		want  error
	}{
		{
			name:  "valid inputs",
			entry: "zeCommandListCreate",
			in:    []registry.Handle{0x3, 0x2},
		},
		{
			name:  "unknown handle",
			entry: "zeCommandListCreate",
			in:    []registry.Handle{0xbad, 0x2},
			want:  errors.ErrUnknownHandle,
		},
		{
			name:  "null required handle",
			entry: "zeCommandListCreate",
			in:    []registry.Handle{0x3, 0},
			want:  errors.ErrNullHandle,
		},
		{
			name:  "destroyed parent",
			entry: "zeEventPoolCreate",
			in:    []registry.Handle{0x3},
			prep:  func(r *registry.Registry) { r.Retire(0x1) },
			want:  errors.ErrUseAfterDestroy,
		},
		{
			name:  "double destroy",
			entry: "zeContextDestroy",
			in:    []registry.Handle{0x3},
			prep:  func(r *registry.Registry) { r.Retire(0x3) },
			want:  errors.ErrDoubleDestroy,
		},
		{
			name:  "alias destroy",
			entry: "zeCommandListDestroy",
			in:    []registry.Handle{0x50},
			prep:  func(r *registry.Registry) { r.AddAlias(0x50, "CommandList") },
			want:  errors.ErrAliasMisuse,
		},
		{
			name:  "optional handle absent",
			entry: "zeCommandListAppendBarrier",
			in:    []registry.Handle{0x60, 0},
			prep:  func(r *registry.Registry) { r.Add(0x60, "CommandList") },
		},
		{
			name:  "append to closed list",
			entry: "zeCommandListAppendBarrier",
			in:    []registry.Handle{0x60},
			prep: func(r *registry.Registry) {
				r.Add(0x60, "CommandList")
				r.SetOpen(0x60, false)
			},
			want: errors.ErrInvalidArgument,
		},
		{
			name:  "execute open list",
			entry: "zeCommandQueueExecuteCommandLists",
			in:    []registry.Handle{0x70, 0x60},
			prep: func(r *registry.Registry) {
				r.Add(0x70, "CommandQueue")
				r.Add(0x60, "CommandList")
			},
			want: errors.ErrInvalidArgument,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg := setup(t)
			if tt.prep != nil {
				tt.prep(reg)
			}
			h := NewLifetime(reg)
			call := chain.NewCall(entry(t, tt.entry), tt.in...)

			err := h.Prologue(ctx, call)
			if tt.want == nil {
				if err != nil {
					t.Fatalf("Prologue = %v, want nil", err)
				}
				return
			}
			if !errors.Is(err, tt.want) {
				t.Fatalf("Prologue = %v, want %v", err, tt.want)
			}

			var e *errors.Error
			if !errors.As(err, &e) {
				t.Fatalf("expected *errors.Error, got %T", err)
			}
			if e.Phase != errors.PhasePrologue || e.Entry != tt.entry {
				t.Fatalf("error not annotated: phase=%q entry=%q", e.Phase, e.Entry)
			}
		})
	}
}

func TestLifetime_StrictDependents(t *testing.T) {
	reg := setup(t, registry.WithStrictDependents(true))
	reg.Add(0x10, "Module")
	reg.Add(0x11, "Kernel")
	reg.AddDependent(0x10, 0x11)

	h := NewLifetime(reg)
	err := h.Prologue(context.Background(), chain.NewCall(entry(t, "zeModuleDestroy"), 0x10))
	if !errors.Is(err, errors.ErrInUse) {
		t.Fatalf("Prologue = %v, want in_use", err)
	}
	if api.ResultFor(err) != api.ResultErrorHandleObjectInUse {
		t.Fatalf("ResultFor = %s", api.ResultFor(err))
	}
}

func TestParameter_Prologue(t *testing.T) {
	ctx := context.Background()
	p := NewParameter()

	create := entry(t, "zeContextCreate")
	if err := p.Prologue(ctx, chain.NewCall(create, 0x1)); err != nil {
		t.Fatalf("valid call = %v", err)
	}

	if err := p.Prologue(ctx, chain.NewCall(create)); !errors.Is(err, errors.ErrNullHandle) {
		t.Fatalf("missing input = %v, want null_handle", err)
	}

	noOut := chain.NewCall(create, 0x1)
	noOut.Outputs[0] = nil
	err := p.Prologue(ctx, noOut)
	if !errors.Is(err, errors.ErrNullPointer) {
		t.Fatalf("nil output = %v, want null_pointer", err)
	}
	if api.ResultFor(err) != api.ResultErrorInvalidNullPointer {
		t.Fatalf("ResultFor = %s", api.ResultFor(err))
	}

	if err := p.Prologue(ctx, chain.NewCall(create, 0x1, 0x2)); !errors.Is(err, errors.ErrInvalidArgument) {
		t.Fatalf("extra input = %v, want invalid_argument", err)
	}

	// Optional build log slot may be nil.
	mod := chain.NewCall(entry(t, "zeModuleCreate"), 0x3, 0x2)
	mod.Outputs[1] = nil
	if err := p.Prologue(ctx, mod); err != nil {
		t.Fatalf("optional output = %v", err)
	}

	// Enumerated outputs have no slot pointer.
	if err := p.Prologue(ctx, &chain.Call{Entry: entry(t, "zeDriverGet")}); err != nil {
		t.Fatalf("enumeration = %v", err)
	}
}

func TestThreading_DestroyRacesUse(t *testing.T) {
	ctx := context.Background()
	reg := setup(t)
	reg.Add(0x20, "Event")
	th := NewThreading(reg)

	use := chain.NewCall(entry(t, "zeEventHostSynchronize"), 0x20)
	if err := th.Prologue(ctx, use); err != nil {
		t.Fatal(err)
	}

	destroy := chain.NewCall(entry(t, "zeEventDestroy"), 0x20)
	err := th.Prologue(ctx, destroy)
	if !errors.Is(err, errors.ErrThreadConflict) {
		t.Fatalf("destroy during use = %v, want thread_conflict", err)
	}

	// Concurrent readers are fine.
	other := chain.NewCall(entry(t, "zeEventQueryStatus"), 0x20)
	if err := th.Prologue(ctx, other); err != nil {
		t.Fatalf("shared use = %v", err)
	}

	th.Epilogue(ctx, use, nil)
	th.Abort(ctx, other)
	if reg.Pins(0x20) != 0 {
		t.Fatalf("pins not released: %d", reg.Pins(0x20))
	}

	if err := th.Prologue(ctx, destroy); err != nil {
		t.Fatalf("destroy after use = %v", err)
	}
	th.Epilogue(ctx, destroy, nil)
}

func TestThreading_ExclusiveEntryPoint(t *testing.T) {
	ctx := context.Background()
	reg := setup(t)
	reg.Add(0x30, "CommandList")
	reg.Add(0x31, "CommandList")
	reg.Add(0x40, "Event")
	th := NewThreading(reg)

	a := chain.NewCall(entry(t, "zeCommandListAppendSignalEvent"), 0x30, 0x40)
	if err := th.Prologue(ctx, a); err != nil {
		t.Fatal(err)
	}

	b := chain.NewCall(entry(t, "zeCommandListAppendBarrier"), 0x30)
	if err := th.Prologue(ctx, b); !errors.Is(err, errors.ErrThreadConflict) {
		t.Fatalf("second append on same list = %v, want thread_conflict", err)
	}

	// A different list signalling the same event only shares the event.
	c := chain.NewCall(entry(t, "zeCommandListAppendWaitOnEvents"), 0x31, 0x40)
	if err := th.Prologue(ctx, c); err != nil {
		t.Fatalf("append on other list = %v", err)
	}

	th.Epilogue(ctx, a, nil)
	th.Epilogue(ctx, c, nil)
	for _, h := range []registry.Handle{0x30, 0x31, 0x40} {
		if n := reg.Pins(h); n != 0 {
			t.Fatalf("handle %s still pinned: %d", h, n)
		}
	}
}

func TestThreading_SingleThreadedClass(t *testing.T) {
	ctx := context.Background()
	reg := setup(t)
	th := NewThreading(reg, "Context")

	a := chain.NewCall(entry(t, "zeContextGetStatus"), 0x3)
	if err := th.Prologue(ctx, a); err != nil {
		t.Fatal(err)
	}
	b := chain.NewCall(entry(t, "zeContextGetStatus"), 0x3)
	if err := th.Prologue(ctx, b); !errors.Is(err, errors.ErrThreadConflict) {
		t.Fatalf("concurrent use of single-threaded class = %v", err)
	}
	th.Epilogue(ctx, a, nil)
}

func TestThreading_ConflictReleasesEarlierPins(t *testing.T) {
	ctx := context.Background()
	reg := setup(t)
	reg.Add(0x70, "CommandQueue")
	reg.Add(0x60, "CommandList")
	th := NewThreading(reg)

	hold := chain.NewCall(entry(t, "zeCommandListReset"), 0x60)
	if err := th.Prologue(ctx, hold); err != nil {
		t.Fatal(err)
	}

	exec := chain.NewCall(entry(t, "zeCommandQueueExecuteCommandLists"), 0x70, 0x60)
	if err := th.Prologue(ctx, exec); !errors.Is(err, errors.ErrThreadConflict) {
		t.Fatalf("Prologue = %v, want thread_conflict", err)
	}
	if reg.Pins(0x70) != 0 {
		t.Fatal("queue pin leaked after conflict")
	}
	th.Epilogue(ctx, hold, nil)
}

func TestThreading_IgnoresUnknown(t *testing.T) {
	reg := setup(t)
	th := NewThreading(reg)
	call := chain.NewCall(entry(t, "zeEventDestroy"), 0xdead)
	if err := th.Prologue(context.Background(), call); err != nil {
		t.Fatalf("unknown handle must be left to lifetime checks: %v", err)
	}
	th.Epilogue(context.Background(), call, nil)
}

func TestThreading_Concurrent(t *testing.T) {
	ctx := context.Background()
	reg := setup(t)
	reg.Add(0x30, "CommandList")
	th := NewThreading(reg)
	ep := entry(t, "zeCommandListAppendBarrier")

	var inside, overlap atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				call := chain.NewCall(ep, 0x30)
				if err := th.Prologue(ctx, call); err != nil {
					continue
				}
				if inside.Add(1) > 1 {
					overlap.Add(1)
				}
				inside.Add(-1)
				th.Epilogue(ctx, call, nil)
			}
		}()
	}
	wg.Wait()

	if overlap.Load() != 0 {
		t.Fatalf("%d overlapping appends passed the threading check", overlap.Load())
	}
	if reg.Pins(0x30) != 0 {
		t.Fatalf("pins leaked: %d", reg.Pins(0x30))
	}
}

func TestRows_DefaultTable(t *testing.T) {
	rows := Rows(api.Default())

	byClass := make(map[string]Row)
	for _, r := range rows {
		byClass[r.Class] = r
	}

	cl, ok := byClass["CommandList"]
	if !ok {
		t.Fatal("missing CommandList row")
	}
	if len(cl.Creates) != 1 || cl.Creates[0] != "zeCommandListCreate" {
		t.Fatalf("CommandList creates = %v", cl.Creates)
	}

	mem := byClass["Memory"]
	if len(mem.Creates) != 3 || len(mem.Destroys) != 1 || mem.Destroys[0] != "zeMemFree" {
		t.Fatalf("Memory row = %+v", mem)
	}

	if _, ok := byClass["Driver"]; ok {
		t.Fatal("enumerated classes have no create/destroy row")
	}
	for i := 1; i < len(rows); i++ {
		if rows[i-1].Class >= rows[i].Class {
			t.Fatal("rows not sorted by class")
		}
	}
}

func TestBasicLeak(t *testing.T) {
	ctx := context.Background()
	b := NewBasicLeak(Rows(api.Default()))

	create := entry(t, "zeContextCreate")
	destroy := entry(t, "zeContextDestroy")

	for i := 0; i < 3; i++ {
		b.Epilogue(ctx, chain.NewCall(create, 0x1), nil)
	}
	b.Epilogue(ctx, chain.NewCall(create, 0x1), api.ResultErrorOutOfHostMemory)
	b.Epilogue(ctx, chain.NewCall(destroy, 0x3), nil)
	b.Epilogue(ctx, chain.NewCall(entry(t, "zeInit")), nil)

	if got := b.Calls("zeContextCreate"); got != 3 {
		t.Fatalf("creates = %d, want 3 (failed calls not counted)", got)
	}

	leaks := b.Leaks()
	if len(leaks) != 1 || leaks[0].Class != "Context" || leaks[0].Leaked != 2 {
		t.Fatalf("Leaks = %+v", leaks)
	}
	want := "Context: zeContextCreate=3 -> zeContextDestroy=1 leak=2"
	if leaks[0].String() != want {
		t.Fatalf("String = %q, want %q", leaks[0].String(), want)
	}

	rec := diag.NewRecorder(diag.SeverityTrace)
	b.Summarize(rec)
	if rec.Count(diag.SeverityWarning) != 1 || !rec.Contains("leak=2") {
		t.Fatalf("Summarize recorded %+v", rec.Entries())
	}
}

func TestBasicLeak_Concurrent(t *testing.T) {
	ctx := context.Background()
	b := NewBasicLeak(Rows(api.Default()))
	ep := entry(t, "zeEventCreate")

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 250; j++ {
				b.Epilogue(ctx, chain.NewCall(ep, 0x1), nil)
			}
		}()
	}
	wg.Wait()

	if got := b.Calls("zeEventCreate"); got != 2000 {
		t.Fatalf("Calls = %d, want 2000", got)
	}
}

func TestTracing(t *testing.T) {
	ctx := context.Background()
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	defer tp.Shutdown(ctx)

	tr := NewTracing(tp)

	ok := chain.NewCall(entry(t, "zeContextCreate"), 0x1)
	ok.ID = 1
	tr.Prologue(ctx, ok)
	*ok.Outputs[0] = 0x99
	tr.Epilogue(ctx, ok, nil)

	failed := chain.NewCall(entry(t, "zeContextCreate"), 0x1)
	failed.ID = 2
	tr.Prologue(ctx, failed)
	tr.Epilogue(ctx, failed, api.ResultErrorOutOfHostMemory)

	aborted := chain.NewCall(entry(t, "zeContextDestroy"), 0x3)
	aborted.ID = 3
	tr.Prologue(ctx, aborted)
	tr.Abort(ctx, aborted)
	tr.Abort(ctx, aborted)

	spans := exp.GetSpans()
	if len(spans) != 3 {
		t.Fatalf("got %d spans, want 3", len(spans))
	}

	if spans[0].Name != "zeContextCreate" || spans[0].Status.Code != codes.Ok {
		t.Fatalf("span 0 = %s %v", spans[0].Name, spans[0].Status)
	}
	if !hasAttr(spans[0].Attributes, "ze.out.phContext", "0x99") {
		t.Fatalf("span 0 attributes %v", spans[0].Attributes)
	}
	if spans[1].Status.Code != codes.Error ||
		!hasAttr(spans[1].Attributes, "ze.result", "ZE_RESULT_ERROR_OUT_OF_HOST_MEMORY") {
		t.Fatalf("span 1 = %v %v", spans[1].Status, spans[1].Attributes)
	}
	if spans[2].Name != "zeContextDestroy" || spans[2].Status.Code != codes.Error {
		t.Fatalf("span 2 = %s %v", spans[2].Name, spans[2].Status)
	}
}

func TestTracing_SpanContext(t *testing.T) {
	ctx := context.Background()
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	defer tp.Shutdown(ctx)

	tr := NewTracing(tp)
	call := chain.NewCall(entry(t, "zeContextCreate"), 0x1)
	if got := SpanContext(ctx, call); got != ctx {
		t.Fatal("SpanContext without a span must return ctx unchanged")
	}

	tr.Prologue(ctx, call)
	_, child := tp.Tracer("driver").Start(SpanContext(ctx, call), "driver.create")
	child.End()
	tr.Epilogue(ctx, call, nil)

	spans := exp.GetSpans()
	if len(spans) != 2 {
		t.Fatalf("got %d spans, want 2", len(spans))
	}
	driver, outer := spans[0], spans[1]
	if driver.Parent.SpanID() != outer.SpanContext.SpanID() {
		t.Fatalf("driver span parent = %s, want %s", driver.Parent.SpanID(), outer.SpanContext.SpanID())
	}
}

func hasAttr(attrs []attribute.KeyValue, key, value string) bool {
	for _, kv := range attrs {
		if string(kv.Key) == key && kv.Value.AsString() == value {
			return true
		}
	}
	return false
}
