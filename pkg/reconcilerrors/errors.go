// Package reconcilerrors implements the error taxonomy from the
// specification (§7): a closed set of kinds shared by every layer of the
// pipeline, distinguished by errors.As/errors.Is rather than by distinct Go
// types, following the sentinel-error style the teacher package already uses
// in pkg/state/utils.go.
package reconcilerrors

import (
	"errors"
	"fmt"
)

// Kind is the taxonomy tag. It is not a Go error type in its own right; it
// labels an *Error so callers can branch with Is(err, KindX).
type Kind string

const (
	// KindUnknown covers an entity/source absent from the catalog, or a key
	// absent from the store.
	KindUnknown Kind = "Unknown"
	// KindSourceError covers adapter I/O failure, exit status, or malformed
	// adapter output.
	KindSourceError Kind = "SourceError"
	// KindIncompatible covers a tag mismatch between a DataSource and a
	// key/document.
	KindIncompatible Kind = "Incompatible"
	// KindDecodeError covers unparsable JSON from an adapter or store.
	KindDecodeError Kind = "DecodeError"
	// KindStoreError covers a transaction or connectivity failure against
	// the operational store.
	KindStoreError Kind = "StoreError"
	// KindInternal covers an invariant violation: unrecoverable, must fail
	// the request without crashing the process.
	KindInternal Kind = "Internal"
)

// Error is the concrete error value carried through the pipeline. Code is an
// optional machine-readable sub-classification (e.g. an adapter exit code);
// Message is human text; Err, when set, is the underlying cause.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Code != "" {
		if e.Err != nil {
			return fmt.Sprintf("%s(%s): %s: %v", e.Kind, e.Code, e.Message, e.Err)
		}
		return fmt.Sprintf("%s(%s): %s", e.Kind, e.Code, e.Message)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap exposes the underlying cause to errors.Is/errors.As.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is lets errors.Is(err, Unknown("")) match any *Error of the same Kind,
// ignoring Message/Code/Err, mirroring how the taxonomy is meant to be used.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// Unknown builds a KindUnknown error.
func Unknown(format string, args ...any) *Error {
	return &Error{Kind: KindUnknown, Message: fmt.Sprintf(format, args...)}
}

// SourceErr builds a KindSourceError error, optionally carrying an adapter
// error code (exit status, HTTP status, etc).
func SourceErr(code, format string, args ...any) *Error {
	return &Error{Kind: KindSourceError, Code: code, Message: fmt.Sprintf(format, args...)}
}

// WrapSourceErr normalises an adapter-level fault to a KindSourceError,
// exactly the job the Gateway performs per §4.4 ("catches adapter-level
// faults and normalises them... the Engine never observes ambient
// exceptions").
func WrapSourceErr(code string, err error) *Error {
	return &Error{Kind: KindSourceError, Code: code, Message: "adapter call failed", Err: err}
}

// Incompatible builds a KindIncompatible error.
func Incompatible(format string, args ...any) *Error {
	return &Error{Kind: KindIncompatible, Message: fmt.Sprintf(format, args...)}
}

// DecodeErr builds a KindDecodeError error wrapping the underlying parse
// failure.
func DecodeErr(msg string, err error) *Error {
	return &Error{Kind: KindDecodeError, Message: msg, Err: err}
}

// StoreErr builds a KindStoreError error wrapping the underlying storage
// failure. Store errors are fatal to the request (§7).
func StoreErr(msg string, err error) *Error {
	return &Error{Kind: KindStoreError, Message: msg, Err: err}
}

// Internal builds a KindInternal error: an invariant violation that must
// fail the current request but never crash the process.
func Internal(format string, args ...any) *Error {
	return &Error{Kind: KindInternal, Message: fmt.Sprintf(format, args...)}
}

// Is reports whether err's chain contains a *Error of the given Kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Kind == kind
}
