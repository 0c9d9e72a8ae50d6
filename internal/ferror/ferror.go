// Package ferror defines the error taxonomy shared by every layer of the
// store: storage engine, wire protocol, and CLI tooling. Callers switch on
// Kind rather than on concrete error types, so a segment failure surfaces
// the same way whether it originated in mmap, in a corrupt header, or in a
// rejected protocol frame.
package ferror

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind classifies a failure the way spec §7 enumerates them.
type Kind int

const (
	// KindIO covers filesystem, mmap, and socket errors surfaced verbatim
	// from the OS.
	KindIO Kind = iota
	// KindCorruption covers magic/revision mismatch, invariant violation,
	// or cycle detection. Non-recoverable on the affected segment.
	KindCorruption
	// KindProtocol covers unknown opcode, wrong length, pre-auth command.
	// Recoverable: the caller should send an ERROR frame and keep serving.
	KindProtocol
	// KindAuth covers a wrong password or KB name in AUTH.
	KindAuth
	// KindCapacity covers a failed grow due to ENOSPC or a disk-free
	// threshold being exceeded.
	KindCapacity
	// KindNotFound covers a missing KB or graph.
	KindNotFound
	// KindConflict covers creating an already-existing KB, or opening a
	// store that is already locked.
	KindConflict
	// KindUnsupported covers documented limits of this branch:
	// transactions, and reverse-bind-by-object.
	KindUnsupported
)

func (k Kind) String() string {
	switch k {
	case KindIO:
		return "io"
	case KindCorruption:
		return "corruption"
	case KindProtocol:
		return "protocol"
	case KindAuth:
		return "auth"
	case KindCapacity:
		return "capacity"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindUnsupported:
		return "unsupported"
	default:
		return "unknown"
	}
}

// Error is the concrete error type threaded through the engine. It keeps
// the underlying cause (wrapped with github.com/pkg/errors) reachable via
// Unwrap while callers still get a stable Kind to switch on. Error() prints
// kind, message and cause text only; it has no Format method, so %+v does
// not print the cause's stack trace.
type Error struct {
	Kind    Kind
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap lets errors.Is/errors.As see through to the underlying cause.
func (e *Error) Unwrap() error { return e.cause }

// New builds a new Error of the given kind with no wrapped cause.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches kind and message to an existing error, preserving it as
// the cause chain (wrapped with pkg/errors.WithStack, reachable via Unwrap).
func Wrap(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), cause: errors.WithStack(cause)}
}

// Is reports whether err is a *Error of the given kind.
func Is(err error, kind Kind) bool {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind == kind
	}
	return false
}
