// Package perrors implements the provisioner's error taxonomy.
//
// Every fallible operation in partitup returns an error built from one of
// the Kind values below. Errors chain context prefixes with %w the way the
// rest of the codebase does, so errors.Is/errors.As keep working across the
// chain; Error() renders the full "<kind>: <chain>: <message>" string that
// is printed to stderr on exit.
package perrors

import (
	"errors"
	"fmt"
)

// Kind identifies a taxonomy entry from the error-handling design.
type Kind string

const (
	// Input-side.
	ConfigParseFailed      Kind = "ConfigParseFailed"
	ConfigInvalidRoot      Kind = "ConfigInvalidRoot"
	ConfigApiIncompatible  Kind = "ConfigApiIncompatible"
	ConfigSchemaViolation  Kind = "ConfigSchemaViolation"

	// Planner.
	UnsupportedDisklabel Kind = "UnsupportedDisklabel"
	UnknownPartitionType Kind = "UnknownPartitionType"
	UnknownFilesystem    Kind = "UnknownFilesystem"
	ZeroSizedPartition   Kind = "ZeroSizedPartition"
	OffsetOverridesTable Kind = "OffsetOverridesTable"
	LayoutOverlap        Kind = "LayoutOverlap"
	NonTerminalExpand    Kind = "NonTerminalExpand"
	UnalignedPartition   Kind = "UnalignedPartition"

	// Execution.
	DeviceOpenFailed  Kind = "DeviceOpenFailed"
	DeviceBusy        Kind = "DeviceBusy"
	NotAWholeDisk     Kind = "NotAWholeDisk"
	PartitionsNotReady Kind = "PartitionsNotReady"
	WriteFailed       Kind = "WriteFailed"
	MountFailed       Kind = "MountFailed"
	UmountFailed      Kind = "UmountFailed"
	MkfsFailed        Kind = "MkfsFailed"
	ResizeFailed      Kind = "ResizeFailed"
	ArchiveFailed     Kind = "ArchiveFailed"
	MmcIoctlFailed    Kind = "MmcIoctlFailed"

	// Verification.
	ChecksumMismatch Kind = "ChecksumMismatch"
	InputMissing     Kind = "InputMissing"

	// Dispatcher.
	UnknownCommand Kind = "UnknownCommand"
	BadValue       Kind = "BadValue"
	MustBeRoot     Kind = "MustBeRoot"
)

// Error is a taxonomy error: a Kind, a context prefix chain and a message.
type Error struct {
	Kind    Kind
	Prefix  string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	msg := e.Message
	if e.Cause != nil {
		if msg == "" {
			msg = e.Cause.Error()
		} else {
			msg = fmt.Sprintf("%s: %s", msg, e.Cause.Error())
		}
	}
	if e.Prefix == "" {
		return fmt.Sprintf("%s: %s", e.Kind, msg)
	}
	return fmt.Sprintf("%s: %s: %s", e.Kind, e.Prefix, msg)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target carries the same Kind, so callers can write
// errors.Is(err, perrors.New(perrors.ChecksumMismatch, "")).
func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return other.Kind == e.Kind
	}
	return false
}

// New builds a bare taxonomy error.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap attaches a Kind and context prefix to an underlying error.
func Wrap(kind Kind, prefix string, cause error) *Error {
	return &Error{Kind: kind, Prefix: prefix, Cause: cause}
}

// WithPrefix returns a copy of e with an additional leading context prefix.
func (e *Error) WithPrefix(prefix string) *Error {
	cp := *e
	if cp.Prefix == "" {
		cp.Prefix = prefix
	} else {
		cp.Prefix = prefix + ": " + cp.Prefix
	}
	return &cp
}

// Of reports the Kind of err if it (or something it wraps) is a *Error.
func Of(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}
