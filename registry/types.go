package registry

import "fmt"

// Handle is an opaque address-sized token minted by the wrapped API.
// The registry never dereferences it. Handle 0 is the null handle and is
// never valid.
type Handle uintptr

func (h Handle) String() string {
	return fmt.Sprintf("%#x", uintptr(h))
}

// State is the lifecycle state of a handle record.
type State uint8

const (
	StateUnknown State = iota
	StateLive
	StateDestroyed
	// StateRetiring marks a destroy in flight: the real destroy call has
	// been let through and its result is not known yet.
	StateRetiring
)

func (s State) String() string {
	switch s {
	case StateLive:
		return "live"
	case StateDestroyed:
		return "destroyed"
	case StateRetiring:
		return "retiring"
	default:
		return "unknown"
	}
}

// Event types for handle lifecycle notifications.
type EventType uint8

const (
	EventCreated EventType = iota
	EventRetired
	EventForgotten
)

func (t EventType) String() string {
	switch t {
	case EventCreated:
		return "created"
	case EventRetired:
		return "retired"
	case EventForgotten:
		return "forgotten"
	default:
		return "unknown"
	}
}

// Event represents a handle lifecycle event.
type Event struct {
	Class  string
	Handle Handle
	Type   EventType
	Alias  bool
}

// Observer receives notifications about handle lifecycle events.
// Observers are called after the registry lock is released.
type Observer interface {
	OnHandleEvent(Event)
}

// Info is a point-in-time copy of a handle record.
type Info struct {
	Class      string
	Handle     Handle
	Parent     Handle
	Seq        uint64
	Dependents int
	State      State
	Alias      bool
	Open       bool
}

// Leak is a handle still live when the leak snapshot was taken.
type Leak struct {
	Class  string
	Handle Handle
	Parent Handle
	Seq    uint64
}

// Stats summarizes registry activity.
type Stats struct {
	Live       int
	Tombstones int
	Created    uint64
	Retired    uint64
	Forgotten  uint64
}
