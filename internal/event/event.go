// Package event defines the completion events delivered for every remote
// operation the program starts (start-up credential check, sign-in, file
// pick/download). Events form a closed set of variants so consumers can
// type-switch exhaustively instead of implementing a listener interface.
//
// A completion handle is a receive-only channel that yields at most one
// event and is then closed. A closed channel with no event means "nothing to
// report", which only the start-up credential check is allowed to produce.
package event

import (
	"errors"
	"fmt"
	"sync"
)

// Op identifies the operation an event belongs to.
type Op int

// Operations.
const (
	OpCheckLogin Op = iota
	OpAuth
	OpTransfer
	OpOpen
	OpLogout
)

func (o Op) String() string {
	switch o {
	case OpCheckLogin:
		return "check-login"
	case OpAuth:
		return "auth"
	case OpTransfer:
		return "transfer"
	case OpOpen:
		return "open"
	case OpLogout:
		return "logout"
	default:
		return fmt.Sprintf("op(%d)", int(o))
	}
}

// Kind classifies a failure.
type Kind int

// Failure kinds.
const (
	KindUnknown Kind = iota
	KindAuth
	KindTransfer
	KindAlreadyInProgress
	KindNoHandlerFound
	KindNotPermitted
)

func (k Kind) String() string {
	switch k {
	case KindUnknown:
		return "unknown"
	case KindAuth:
		return "auth"
	case KindTransfer:
		return "transfer"
	case KindAlreadyInProgress:
		return "already-in-progress"
	case KindNoHandlerFound:
		return "no-handler-found"
	case KindNotPermitted:
		return "not-permitted"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Event is one of LoggedIn, Downloaded, Cancelled or Failed.
type Event interface {
	event()
}

// LoggedIn reports a valid credential, either found at start-up or obtained
// by an interactive sign-in.
type LoggedIn struct {
	Account string
}

// Downloaded reports a file staged locally by a pick/download operation.
// Path is the staged file; content type and shareable reference are derived
// later by the artifact resolver.
type Downloaded struct {
	Path       string
	Name       string
	Size       int64
	RemoteType string // MIME type reported by the service, informational only
}

// Cancelled reports a user abort inside the remote flow. It is not a failure.
type Cancelled struct {
	Op Op
}

// Failed reports a terminal failure of one operation.
type Failed struct {
	Op     Op
	Kind   Kind
	Detail string
	Err    error
}

func (LoggedIn) event()   {}
func (Downloaded) event() {}
func (Cancelled) event()  {}
func (Failed) event()     {}

func (f Failed) Error() string {
	if f.Detail != "" {
		return fmt.Sprintf("%s failed (%s): %s", f.Op, f.Kind, f.Detail)
	}

	return fmt.Sprintf("%s failed (%s)", f.Op, f.Kind)
}

func (f Failed) Unwrap() error {
	return f.Err
}

// ErrAlreadyInProgress is the cause attached to AlreadyInProgress failures.
var ErrAlreadyInProgress = errors.New("event: operation already in progress")

// Fail builds a Failed event whose detail is err's message.
func Fail(op Op, kind Kind, err error) Failed {
	f := Failed{Op: op, Kind: kind, Err: err}
	if err != nil {
		f.Detail = err.Error()
	}

	return f
}

// Busy builds the AlreadyInProgress failure for op.
func Busy(op Op) Failed {
	return Fail(op, KindAlreadyInProgress, ErrAlreadyInProgress)
}

// Deliver returns a completion handle that already holds ev.
func Deliver(ev Event) <-chan Event {
	ch := make(chan Event, 1)
	ch <- ev
	close(ch)

	return ch
}

// None returns a completion handle that is closed without an event.
func None() <-chan Event {
	ch := make(chan Event)
	close(ch)

	return ch
}

// Once is a completion handle that can be resolved from several racing code
// paths (completion, host cancel, logout). The first Emit or Close wins;
// later calls are no-ops.
type Once struct {
	once sync.Once
	ch   chan Event
}

// NewOnce creates an unresolved handle.
func NewOnce() *Once {
	return &Once{ch: make(chan Event, 1)}
}

// C returns the receive side of the handle.
func (o *Once) C() <-chan Event {
	return o.ch
}

// Emit delivers ev and closes the handle. Reports whether ev was the one
// delivered.
func (o *Once) Emit(ev Event) bool {
	sent := false

	o.once.Do(func() {
		o.ch <- ev
		close(o.ch)
		sent = true
	})

	return sent
}

// Close closes the handle without an event unless it was already resolved.
func (o *Once) Close() {
	o.once.Do(func() {
		close(o.ch)
	})
}
