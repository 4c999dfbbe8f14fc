package errors

import (
	"fmt"
	"strings"
)

// Phase indicates where in the system the error occurred
type Phase string

const (
	PhaseRegion   Phase = "region"   // shared region create/open/unlink
	PhaseMapping  Phase = "mapping"  // placement and fixed-address mapping
	PhaseGuest    Phase = "guest"    // module load, exports, calls
	PhaseProtocol Phase = "protocol" // command/ack exchange
	PhaseSpawn    Phase = "spawn"    // container process lifecycle
)

// Kind categorizes the error
type Kind string

const (
	KindSystem     Kind = "system"     // syscall failure
	KindNotFound   Kind = "not_found"  // missing object or export
	KindSignature  Kind = "signature"  // export type mismatch
	KindTrap       Kind = "trap"       // guest call faulted in the sandbox
	KindMismatch   Kind = "mismatch"   // content verification failed
	KindAllocation Kind = "allocation" // guest allocator returned null
	KindBadAck     Kind = "bad_ack"    // unexpected acknowledgment byte
	KindFailed     Kind = "failed"     // peer acknowledged with the failure byte
	KindClosed     Kind = "closed"     // peer gone, pipe EOF
	KindInvalid    Kind = "invalid"    // invalid input or configuration
)

// Error is the structured error type used throughout the module
type Error struct {
	Cause  error
	Phase  Phase
	Kind   Kind
	Detail string
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteByte('[')
	b.WriteString(string(e.Phase))
	b.WriteString("] ")
	b.WriteString(string(e.Kind))

	if e.Detail != "" {
		b.WriteString(": ")
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

// Is reports whether target matches this error. Two Errors match when their
// Phase and Kind agree, so New(PhaseProtocol, KindClosed) works as a
// sentinel with the standard library's errors.Is.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Phase == t.Phase && e.Kind == t.Kind
	}
	return false
}

// New creates an error with just a phase and kind, usable as a sentinel
func New(phase Phase, kind Kind) *Error {
	return &Error{Phase: phase, Kind: kind}
}

// Convenience constructors for common patterns

// System wraps a failed syscall or OS-level operation
func System(phase Phase, op string, cause error) *Error {
	return &Error{Phase: phase, Kind: KindSystem, Detail: op, Cause: cause}
}

// NotFound reports a missing named object or export
func NotFound(phase Phase, what, name string) *Error {
	return &Error{Phase: phase, Kind: KindNotFound, Detail: fmt.Sprintf("%s %q not found", what, name)}
}

// Signature reports an export whose type differs from the call table
func Signature(name, detail string) *Error {
	return &Error{Phase: PhaseGuest, Kind: KindSignature, Detail: fmt.Sprintf("export %q: %s", name, detail)}
}

// Trap wraps a guest call that faulted inside the sandbox
func Trap(name string, cause error) *Error {
	return &Error{Phase: PhaseGuest, Kind: KindTrap, Detail: fmt.Sprintf("call %q", name), Cause: cause}
}

// Mismatch reports a content verification failure
func Mismatch(detail string, args ...any) *Error {
	return &Error{Phase: PhaseGuest, Kind: KindMismatch, Detail: fmt.Sprintf(detail, args...)}
}

// Allocation reports a failed guest-side reservation
func Allocation(size int) *Error {
	return &Error{Phase: PhaseGuest, Kind: KindAllocation, Detail: fmt.Sprintf("guest allocator failed for %d bytes", size)}
}

// BadAck reports an acknowledgment byte that matches neither the command
// nor the failure signal
func BadAck(got, want byte) *Error {
	return &Error{Phase: PhaseProtocol, Kind: KindBadAck, Detail: fmt.Sprintf("ack %q for command %q", got, want)}
}

// Closed wraps a pipe read or write that found the peer gone
func Closed(detail string, cause error) *Error {
	return &Error{Phase: PhaseProtocol, Kind: KindClosed, Detail: detail, Cause: cause}
}

// Invalid reports bad input or configuration
func Invalid(phase Phase, detail string, args ...any) *Error {
	return &Error{Phase: phase, Kind: KindInvalid, Detail: fmt.Sprintf(detail, args...)}
}

// Wrap wraps an existing error with phase and kind context
func Wrap(phase Phase, kind Kind, cause error, detail string) *Error {
	return &Error{Phase: phase, Kind: kind, Detail: detail, Cause: cause}
}
