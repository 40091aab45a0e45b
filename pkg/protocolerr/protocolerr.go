// Package protocolerr models the error kinds in §7: validation, network,
// protocol, crypto, storage, session, system. Every Failed{reason} state
// across the session/DKG/signing state machines carries one of these.
package protocolerr

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind classifies an error for propagation-policy decisions (§7): network
// errors within mesh formation recover via the reconnection tracker,
// protocol errors during DKG are fatal to the session, crypto/storage
// errors abort the current operation while preserving existing state.
type Kind string

const (
	KindValidation Kind = "validation"
	KindNetwork    Kind = "network"
	KindProtocol   Kind = "protocol"
	KindCrypto     Kind = "crypto"
	KindStorage    Kind = "storage"
	KindSession    Kind = "session"
	KindSystem     Kind = "system"
)

// Error is a typed, wrapped error carrying the Kind that decides how a
// caller should react.
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

func (e *Error) Unwrap() error { return e.cause }

// Cause lets github.com/pkg/errors' Cause walk through an *Error.
func (e *Error) Cause() error { return e.cause }

// New builds a bare Error with no wrapped cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap attaches a Kind and message to an existing error, preserving it as
// the cause via github.com/pkg/errors so Cause(err) still recovers the
// original.
func Wrap(kind Kind, err error, message string) *Error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Message: message, cause: errors.Wrap(err, message)}
}

// Wrapf is Wrap with a formatted message.
func Wrapf(kind Kind, err error, format string, args ...any) *Error {
	return Wrap(kind, err, fmt.Sprintf(format, args...))
}

// Is reports whether err is a *Error of the given Kind, unwrapping through
// any intermediate wrapping.
func Is(err error, kind Kind) bool {
	for err != nil {
		if pe, ok := err.(*Error); ok {
			return pe.Kind == kind
		}
		err = errors.Unwrap(err)
	}
	return false
}

// Cause returns the deepest wrapped error, matching github.com/pkg/errors'
// Cause semantics used throughout the teacher codebase.
func Cause(err error) error {
	return errors.Cause(err)
}
