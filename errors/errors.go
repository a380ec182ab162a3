package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
)

// Phase indicates where in the interception the violation was found
type Phase string

const (
	PhaseRegistry Phase = "registry" // direct registry operation
	PhasePrologue Phase = "prologue" // before the real call
	PhaseEpilogue Phase = "epilogue" // after the real call
	PhaseDispatch Phase = "dispatch" // function table lookup
	PhaseShutdown Phase = "shutdown" // engine teardown
	PhaseConfig   Phase = "config"   // host configuration
)

// Kind categorizes the violation
type Kind string

const (
	KindUnknownHandle   Kind = "unknown_handle"
	KindUseAfterDestroy Kind = "use_after_destroy"
	KindDoubleDestroy   Kind = "double_destroy"
	KindAliasMisuse     Kind = "alias_misuse"
	KindCycleRejected   Kind = "cycle_rejected"
	KindLeak            Kind = "leak"
	KindAlreadyExists   Kind = "already_exists"
	KindNullHandle      Kind = "null_handle"
	KindNullPointer     Kind = "null_pointer"
	KindParentConflict  Kind = "parent_conflict"
	KindInUse           Kind = "in_use"
	KindInvalidArgument Kind = "invalid_argument"
	KindThreadConflict  Kind = "thread_conflict"
	KindUnsupported     Kind = "unsupported"
	KindNotInitialized  Kind = "not_initialized"
	KindInvalidConfig   Kind = "invalid_config"
)

// Sentinels match any error of the given Kind regardless of Phase.
var (
	ErrUnknownHandle   = &Error{Kind: KindUnknownHandle}
	ErrUseAfterDestroy = &Error{Kind: KindUseAfterDestroy}
	ErrDoubleDestroy   = &Error{Kind: KindDoubleDestroy}
	ErrAliasMisuse     = &Error{Kind: KindAliasMisuse}
	ErrCycleRejected   = &Error{Kind: KindCycleRejected}
	ErrLeak            = &Error{Kind: KindLeak}
	ErrAlreadyExists   = &Error{Kind: KindAlreadyExists}
	ErrNullHandle      = &Error{Kind: KindNullHandle}
	ErrNullPointer     = &Error{Kind: KindNullPointer}
	ErrParentConflict  = &Error{Kind: KindParentConflict}
	ErrInUse           = &Error{Kind: KindInUse}
	ErrInvalidArgument = &Error{Kind: KindInvalidArgument}
	ErrThreadConflict  = &Error{Kind: KindThreadConflict}
	ErrUnsupported     = &Error{Kind: KindUnsupported}
	ErrNotInitialized  = &Error{Kind: KindNotInitialized}
	ErrInvalidConfig   = &Error{Kind: KindInvalidConfig}
)

// Error is the structured violation type used throughout the engine
type Error struct {
	Cause  error
	Phase  Phase
	Kind   Kind
	Class  string
	Entry  string
	Detail string
	Handle uintptr
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder

	if e.Phase != "" {
		b.WriteByte('[')
		b.WriteString(string(e.Phase))
		b.WriteString("] ")
	}
	b.WriteString(string(e.Kind))

	if e.Entry != "" {
		b.WriteString(" in ")
		b.WriteString(e.Entry)
	}

	if e.Handle != 0 || e.Class != "" {
		b.WriteString(": ")
		if e.Class != "" {
			b.WriteString(e.Class)
			b.WriteByte(' ')
		}
		fmt.Fprintf(&b, "handle %#x", e.Handle)
	}

	if e.Detail != "" {
		if e.Handle != 0 || e.Class != "" {
			b.WriteString(" - ")
		} else {
			b.WriteString(": ")
		}
		b.WriteString(e.Detail)
	}

	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}

	return b.String()
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error.
// Kind must match; Phase must match only when the target sets one.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Kind != e.Kind {
		return false
	}
	return t.Phase == "" || t.Phase == e.Phase
}

// WithPhase returns a copy of e attributed to phase.
func (e *Error) WithPhase(phase Phase) *Error {
	c := *e
	c.Phase = phase
	return &c
}

// WithEntry returns a copy of e attributed to the named entry point.
func (e *Error) WithEntry(entry string) *Error {
	c := *e
	c.Entry = entry
	return &c
}

// Builder provides structured error construction
type Builder struct {
	err Error
}

// New creates a new error builder
func New(phase Phase, kind Kind) *Builder {
	return &Builder{
		err: Error{
			Phase: phase,
			Kind:  kind,
		},
	}
}

// Handle sets the offending handle
func (b *Builder) Handle(h uintptr) *Builder {
	b.err.Handle = h
	return b
}

// Class sets the owner class of the offending handle
func (b *Builder) Class(c string) *Builder {
	b.err.Class = c
	return b
}

// Entry sets the entry point being intercepted
func (b *Builder) Entry(name string) *Builder {
	b.err.Entry = name
	return b
}

// Cause sets the underlying error
func (b *Builder) Cause(err error) *Builder {
	b.err.Cause = err
	return b
}

// Detail sets the human-readable detail message
func (b *Builder) Detail(msg string, args ...any) *Builder {
	if len(args) > 0 {
		b.err.Detail = fmt.Sprintf(msg, args...)
	} else {
		b.err.Detail = msg
	}
	return b
}

// Build returns the constructed error
func (b *Builder) Build() *Error {
	return &b.err
}

// Convenience constructors for common violations

// UnknownHandle creates an error for a handle that was never registered or
// has been forgotten
func UnknownHandle(phase Phase, h uintptr) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindUnknownHandle,
		Handle: h,
	}
}

// NullHandle creates an error for a zero handle
func NullHandle(phase Phase, slot string) *Error {
	e := &Error{
		Phase: phase,
		Kind:  KindNullHandle,
	}
	if slot != "" {
		e.Detail = fmt.Sprintf("slot %q", slot)
	}
	return e
}

// NullPointer creates an error for a missing output slot pointer
func NullPointer(phase Phase, slot string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindNullPointer,
		Detail: fmt.Sprintf("slot %q", slot),
	}
}

// UseAfterDestroy creates an error for a destroyed handle, or a handle
// whose ancestor is destroyed when ancestor is non-zero
func UseAfterDestroy(phase Phase, h uintptr, class string, ancestor uintptr) *Error {
	e := &Error{
		Phase:  phase,
		Kind:   KindUseAfterDestroy,
		Handle: h,
		Class:  class,
	}
	if ancestor != 0 && ancestor != h {
		e.Detail = fmt.Sprintf("ancestor %#x destroyed", ancestor)
	}
	return e
}

// DoubleDestroy creates an error for a second retire of the same handle
func DoubleDestroy(phase Phase, h uintptr, class string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindDoubleDestroy,
		Handle: h,
		Class:  class,
	}
}

// AliasMisuse creates an error for a destroy call on an alias handle
func AliasMisuse(phase Phase, h uintptr, class string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindAliasMisuse,
		Handle: h,
		Class:  class,
		Detail: "alias handles are not independently destroyable",
	}
}

// CycleRejected creates an error for a dependency link that would close a cycle
func CycleRejected(phase Phase, parent, child uintptr) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindCycleRejected,
		Handle: child,
		Detail: fmt.Sprintf("linking under %#x would create a cycle", parent),
	}
}

// AlreadyExists creates an error for a second registration of a live handle
func AlreadyExists(phase Phase, h uintptr, class string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindAlreadyExists,
		Handle: h,
		Class:  class,
	}
}

// InUse creates an error for destroying a handle that still has live dependents
func InUse(phase Phase, h uintptr, class string, dependents int) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInUse,
		Handle: h,
		Class:  class,
		Detail: fmt.Sprintf("%d live dependent(s)", dependents),
	}
}

// Leak creates an error describing a handle still live at teardown
func Leak(h uintptr, class string) *Error {
	return &Error{
		Phase:  PhaseShutdown,
		Kind:   KindLeak,
		Handle: h,
		Class:  class,
	}
}

// ThreadConflict creates an error for overlapping use of the same handle
func ThreadConflict(phase Phase, h uintptr, class, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindThreadConflict,
		Handle: h,
		Class:  class,
		Detail: detail,
	}
}

// InvalidArgument creates an invalid argument error
func InvalidArgument(phase Phase, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidArgument,
		Detail: detail,
	}
}

// Unsupported creates an unsupported operation error
func Unsupported(phase Phase, what string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindUnsupported,
		Detail: what,
	}
}

// NotInitialized creates a not-initialized error
func NotInitialized(phase Phase, component string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindNotInitialized,
		Detail: fmt.Sprintf("%s not initialized", component),
	}
}

// InvalidConfig wraps a configuration error
func InvalidConfig(detail string, cause error) *Error {
	return &Error{
		Phase:  PhaseConfig,
		Kind:   KindInvalidConfig,
		Detail: detail,
		Cause:  cause,
	}
}

// KindOf returns the Kind of the first *Error in err's chain, or "".
func KindOf(err error) Kind {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Is is errors.Is from the standard library, re-exported so callers need not
// import both packages.
func Is(err, target error) bool {
	return stderrors.Is(err, target)
}

// As is errors.As from the standard library.
func As(err error, target any) bool {
	return stderrors.As(err, target)
}

// Join is errors.Join from the standard library.
func Join(errs ...error) error {
	return stderrors.Join(errs...)
}
