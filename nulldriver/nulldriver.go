// Package nulldriver is an in-memory implementation of the wrapped API. It
// mints address-like handles, returns fixed driver and device handles from
// enumeration calls, and accepts every other call. Failures can be injected
// per entry point.
//
// It does no validation of its own: a bad handle passed to it succeeds, which
// is what makes it useful for exercising the validation chain.
package nulldriver

import (
	"context"
	"sync"

	"github.com/wippyai/callguard/api"
	"github.com/wippyai/callguard/chain"
	"github.com/wippyai/callguard/engine"
	"github.com/wippyai/callguard/registry"
)

const (
	// DefaultBase is the first minted handle value.
	DefaultBase = 0x55550000
	// Stride separates consecutive handles, like heap allocations.
	Stride = 0x40
)

type failure struct {
	result api.Result
	left   int // <=0 forever
}

// Driver is a fake driver. It is safe for concurrent use.
type Driver struct {
	table      *api.Table
	failures   map[string]*failure
	calls      map[string]uint64
	subDevices map[registry.Handle][]registry.Handle
	drivers    []registry.Handle
	devices    []registry.Handle
	free       []registry.Handle
	next       uintptr
	total      uint64
	recycle    bool
	mu         sync.Mutex
}

// Option configures a Driver.
type Option func(*settings)

type settings struct {
	base       uintptr
	devices    int
	subDevices int
	recycle    bool
}

// WithDevices sets the number of devices per driver. Default 1.
func WithDevices(n int) Option {
	return func(c *settings) { c.devices = n }
}

// WithSubDevices sets the number of sub-devices per device. Default 0.
func WithSubDevices(n int) Option {
	return func(c *settings) { c.subDevices = n }
}

// WithBase sets the first minted handle value.
func WithBase(base uintptr) Option {
	return func(c *settings) { c.base = base }
}

// WithRecycle makes destroyed handle values available to later creates,
// most recently freed first, the way an allocator reuses addresses.
func WithRecycle(on bool) Option {
	return func(c *settings) { c.recycle = on }
}

// New creates a driver serving the entry points in tab.
func New(tab *api.Table, opts ...Option) *Driver {
	c := settings{base: DefaultBase, devices: 1}
	for _, opt := range opts {
		opt(&c)
	}

	d := &Driver{
		table:      tab,
		failures:   make(map[string]*failure),
		calls:      make(map[string]uint64),
		subDevices: make(map[registry.Handle][]registry.Handle),
		next:       c.base,
		recycle:    c.recycle,
	}

	drv := d.mintLocked()
	d.drivers = []registry.Handle{drv}
	for range c.devices {
		dev := d.mintLocked()
		d.devices = append(d.devices, dev)
		for range c.subDevices {
			d.subDevices[dev] = append(d.subDevices[dev], d.mintLocked())
		}
	}
	return d
}

// Drivers returns the handles zeDriverGet enumerates.
func (d *Driver) Drivers() []registry.Handle {
	return append([]registry.Handle(nil), d.drivers...)
}

// Devices returns the handles zeDeviceGet enumerates.
func (d *Driver) Devices() []registry.Handle {
	return append([]registry.Handle(nil), d.devices...)
}

// SubDevices returns the sub-devices of dev.
func (d *Driver) SubDevices(dev registry.Handle) []registry.Handle {
	return append([]registry.Handle(nil), d.subDevices[dev]...)
}

// Fail makes every following call to name return r.
func (d *Driver) Fail(name string, r api.Result) {
	d.FailN(name, r, 0)
}

// FailN makes the next n calls to name return r. n <= 0 fails forever.
func (d *Driver) FailN(name string, r api.Result, n int) {
	d.mu.Lock()
	d.failures[name] = &failure{result: r, left: n}
	d.mu.Unlock()
}

// Clear removes an injected failure.
func (d *Driver) Clear(name string) {
	d.mu.Lock()
	delete(d.failures, name)
	d.mu.Unlock()
}

// Calls returns how often name reached the driver.
func (d *Driver) Calls(name string) uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls[name]
}

// Total returns the number of calls that reached the driver.
func (d *Driver) Total() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.total
}

// Dispatch returns one implementation per entry point of the table.
func (d *Driver) Dispatch() engine.Dispatch {
	out := make(engine.Dispatch, d.table.Len())
	for _, ep := range d.table.EntryPoints() {
		out[ep.Name] = d.implement(ep)
	}
	return out
}

func (d *Driver) implement(ep *api.EntryPoint) engine.RealFunc {
	switch ep.Kind {
	case api.KindCreate:
		return func(_ context.Context, call *chain.Call) error {
			d.mu.Lock()
			defer d.mu.Unlock()
			if err := d.enterLocked(ep.Name); err != nil {
				return err
			}
			// An optional slot is written only when the caller passed storage
			// for it.
			for i := range ep.Outputs {
				if i >= len(call.Outputs) || call.Outputs[i] == nil {
					continue
				}
				*call.Outputs[i] = d.allocLocked()
			}
			return nil
		}

	case api.KindDestroy:
		return func(_ context.Context, call *chain.Call) error {
			d.mu.Lock()
			defer d.mu.Unlock()
			if err := d.enterLocked(ep.Name); err != nil {
				return err
			}
			if d.recycle {
				if h := call.Target(); h != 0 {
					d.free = append(d.free, h)
				}
			}
			return nil
		}

	case api.KindEnumerate:
		return func(_ context.Context, call *chain.Call) error {
			d.mu.Lock()
			defer d.mu.Unlock()
			if err := d.enterLocked(ep.Name); err != nil {
				return err
			}
			call.Enumerated = append(call.Enumerated, d.enumerateLocked(call)...)
			return nil
		}

	default:
		return func(_ context.Context, _ *chain.Call) error {
			d.mu.Lock()
			defer d.mu.Unlock()
			return d.enterLocked(ep.Name)
		}
	}
}

// enterLocked counts the call and returns an injected failure, if any.
func (d *Driver) enterLocked(name string) error {
	d.calls[name]++
	d.total++

	f, ok := d.failures[name]
	if !ok {
		return nil
	}
	if f.left > 0 {
		f.left--
		if f.left == 0 {
			delete(d.failures, name)
		}
	}
	return f.result
}

// enumerateLocked picks the handle list from the enumerated class and the
// class of the parent input.
func (d *Driver) enumerateLocked(call *chain.Call) []registry.Handle {
	ep := call.Entry
	for _, out := range ep.Outputs {
		if !out.Enumerated {
			continue
		}
		if out.Parent == "" {
			return d.drivers
		}
		i := ep.InputIndex(out.Parent)
		if i < 0 || i >= len(call.Inputs) {
			return nil
		}
		switch ep.Inputs[i].Class {
		case "Driver":
			return d.devices
		case "Device":
			return d.subDevices[call.Inputs[i]]
		}
	}
	return nil
}

func (d *Driver) allocLocked() registry.Handle {
	if n := len(d.free); n > 0 {
		h := d.free[n-1]
		d.free = d.free[:n-1]
		return h
	}
	return d.mintLocked()
}

func (d *Driver) mintLocked() registry.Handle {
	h := registry.Handle(d.next)
	d.next += Stride
	return h
}
