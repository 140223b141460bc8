// Package kerrors defines the tagged status values returned by fallible kernel
// APIs, following the error-wrapping conventions the rest of the kernel uses:
// every status is comparable with errors.Is and may be unwrapped with
// errors.As to recover any extra context a call attached.
package kerrors

import (
	"fmt"
	"os"
)

// Kind enumerates the status kinds a kernel API can return.
type Kind int

const (
	SUCCESS Kind = iota
	INVALID_ARGUMENT
	INVALID_IRQL
	INVALID_INIT_PHASE
	INVALID_AFFINITY
	NOT_ENOUGH_MEMORY
	INTERNAL_ERROR
	RETRY
	ALREADY_INITIALIZED
	NOT_FOUND
	IN_USE
	UNIMPLEMENTED
	PAGE_FAULT
	ACCESS_DENIED
	ABORTED
	RECURSIVE_LOCK
	INVALID_FILE
	INVALID_IOCTL
	INVALID_OPERATION
	DPC_ALREADY_ENQUEUED
	WAKE_INCAPABLE
	WOULD_BLOCK
	EOF
)

//go:generate stringer -type=Kind

var names = [...]string{
	"SUCCESS",
	"INVALID_ARGUMENT",
	"INVALID_IRQL",
	"INVALID_INIT_PHASE",
	"INVALID_AFFINITY",
	"NOT_ENOUGH_MEMORY",
	"INTERNAL_ERROR",
	"RETRY",
	"ALREADY_INITIALIZED",
	"NOT_FOUND",
	"IN_USE",
	"UNIMPLEMENTED",
	"PAGE_FAULT",
	"ACCESS_DENIED",
	"ABORTED",
	"RECURSIVE_LOCK",
	"INVALID_FILE",
	"INVALID_IOCTL",
	"INVALID_OPERATION",
	"DPC_ALREADY_ENQUEUED",
	"WAKE_INCAPABLE",
	"WOULD_BLOCK",
	"EOF",
}

func (k Kind) String() string {
	if int(k) < 0 || int(k) >= len(names) {
		return fmt.Sprintf("Kind(%d)", int(k))
	}

	return names[k]
}

// Status is the kernel's uniform error type. A nil *Status compares unequal
// to every other status; SUCCESS is returned as a nil error from fallible
// APIs, matching Go convention, so callers write `if err != nil`.
type Status struct {
	Kind Kind
	Op   string // the operation that failed, e.g. "pmm.Allocate"
	Err  error  // optional wrapped cause
}

// New returns a *Status for the given kind, unless kind is SUCCESS in which
// case nil is returned so callers can use it directly as an error return.
func New(kind Kind, op string) error {
	if kind == SUCCESS {
		return nil
	}

	return &Status{Kind: kind, Op: op}
}

// Wrap annotates an existing error with a status kind and operation name.
func Wrap(kind Kind, op string, err error) error {
	if kind == SUCCESS && err == nil {
		return nil
	}

	return &Status{Kind: kind, Op: op, Err: err}
}

func (s *Status) Error() string {
	if s.Err != nil {
		return fmt.Sprintf("%s: %s: %s", s.Op, s.Kind, s.Err)
	}

	return fmt.Sprintf("%s: %s", s.Op, s.Kind)
}

func (s *Status) Unwrap() error { return s.Err }

// Is reports whether target is a *Status with the same Kind, so that callers
// can write `errors.Is(err, kerrors.New(kerrors.NOT_FOUND, ""))` or, more
// idiomatically, compare against the package-level sentinels below.
func (s *Status) Is(target error) bool {
	other, ok := target.(*Status)
	if !ok {
		return false
	}

	return other.Kind == s.Kind
}

// Sentinel statuses for use with errors.Is(err, kerrors.NotFound), etc. Each
// carries no Op so it only ever matches on Kind.
var (
	NotFound           = &Status{Kind: NOT_FOUND}
	InvalidArgument    = &Status{Kind: INVALID_ARGUMENT}
	NotEnoughMemory    = &Status{Kind: NOT_ENOUGH_MEMORY}
	InvalidIRQL        = &Status{Kind: INVALID_IRQL}
	AlreadyInitialized = &Status{Kind: ALREADY_INITIALIZED}
	InUse              = &Status{Kind: IN_USE}
	Unimplemented      = &Status{Kind: UNIMPLEMENTED}
	PageFault          = &Status{Kind: PAGE_FAULT}
	AccessDenied       = &Status{Kind: ACCESS_DENIED}
	Aborted            = &Status{Kind: ABORTED}
	RecursiveLock      = &Status{Kind: RECURSIVE_LOCK}
	WouldBlock         = &Status{Kind: WOULD_BLOCK}
	EndOfFile          = &Status{Kind: EOF}
	InvalidOperation   = &Status{Kind: INVALID_OPERATION}
)

// Of extracts the Kind of err, or SUCCESS if err is nil, or INTERNAL_ERROR if
// err is some other, non-kernel error.
func Of(err error) Kind {
	if err == nil {
		return SUCCESS
	}

	if s, ok := err.(*Status); ok {
		return s.Kind
	}

	var s *Status
	if ok := As(err, &s); ok {
		return s.Kind
	}

	return INTERNAL_ERROR
}

// panicLog is the logger Panic writes its banner to; overridden by
// internal/log's default logger at startup via SetPanicLogger so this
// package doesn't import internal/log and create an import cycle.
var panicLog = func(msg string, args ...any) { fmt.Fprintln(os.Stderr, msg, fmt.Sprint(args...)) }

// SetPanicLogger installs the function Panic uses to emit its banner.
func SetPanicLogger(fn func(msg string, args ...any)) { panicLog = fn }

// Panic is the Go stand-in for OBOS_Panic: it logs a banner describing
// reason plus any slog-style key/value context, then halts by calling Go's
// panic. On a hosted simulation there is no hardware to halt, so unwinding
// the goroutine stack with panic (to be recovered at the top of
// cmd/kernel/main.go) is what "the kernel is dead" looks like.
func Panic(reason string, args ...any) {
	panicLog("KERNEL PANIC: "+reason, args...)
	panic(reason)
}

// As is a thin wrapper so callers needn't import errors solely for this.
func As(err error, target **Status) bool {
	for err != nil {
		if s, ok := err.(*Status); ok {
			*target = s
			return true
		}

		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}

		err = u.Unwrap()
	}

	return false
}
