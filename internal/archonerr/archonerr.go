// Package archonerr defines the error taxonomy shared by every layer of the
// Archon daemon: wire codec, controller client, ACF manager, exposure
// engine and orchestrator.
//
// Errors carry a Kind so callers can branch with errors.Is against the
// sentinels below, while errors.As recovers the Controller and wrapped
// cause for logging.
package archonerr

import (
	"errors"
	"fmt"
)

// Kind identifies which entry of the taxonomy an error belongs to.
type Kind int

const (
	// Protocol is a malformed frame, unknown id, or FETCH length mismatch.
	Protocol Kind = iota
	// CommandFailed is an explicit NAK from the controller.
	CommandFailed
	// Timeout is a command that did not reply within its deadline.
	Timeout
	// Disconnected is a socket loss or peer close.
	Disconnected
	// InvalidState is a command issued while the status bitmask forbids it.
	InvalidState
	// Config is a missing parameter, malformed ACF, or inconsistent geometry.
	Config
	// Device is a POWERBAD report or a failed hardware sanity check.
	Device
	// Fetch is a buffer selection or decoding failure.
	Fetch
	// Persist is a FITS write or rename failure.
	Persist
)

func (k Kind) String() string {
	switch k {
	case Protocol:
		return "protocol"
	case CommandFailed:
		return "command_failed"
	case Timeout:
		return "timeout"
	case Disconnected:
		return "disconnected"
	case InvalidState:
		return "invalid_state"
	case Config:
		return "config"
	case Device:
		return "device"
	case Fetch:
		return "fetch"
	case Persist:
		return "persist"
	default:
		return "unknown"
	}
}

// Error is a taxonomy-tagged error, optionally naming the controller that
// raised it and wrapping an underlying cause.
type Error struct {
	Kind       Kind
	Controller string
	Msg        string
	Err        error
}

func (e *Error) Error() string {
	if e.Controller != "" {
		if e.Err != nil {
			return fmt.Sprintf("%s: %s: %s: %v", e.Controller, e.Kind, e.Msg, e.Err)
		}
		return fmt.Sprintf("%s: %s: %s", e.Controller, e.Kind, e.Msg)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is a *Error with the same Kind, or matches one
// of the sentinel values in this package.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// New builds a tagged error for controller (may be empty for codec-level
// errors that are not yet attributed to a controller).
func New(kind Kind, controller, msg string) *Error {
	return &Error{Kind: kind, Controller: controller, Msg: msg}
}

// Wrap builds a tagged error that records an underlying cause.
func Wrap(kind Kind, controller, msg string, err error) *Error {
	return &Error{Kind: kind, Controller: controller, Msg: msg, Err: err}
}

// sentinels usable with errors.Is(err, archonerr.ErrTimeout), etc.
var (
	ErrProtocol      = &Error{Kind: Protocol}
	ErrCommandFailed = &Error{Kind: CommandFailed}
	ErrTimeout       = &Error{Kind: Timeout}
	ErrDisconnected  = &Error{Kind: Disconnected}
	ErrInvalidState  = &Error{Kind: InvalidState}
	ErrConfig        = &Error{Kind: Config}
	ErrDevice        = &Error{Kind: Device}
	ErrFetch         = &Error{Kind: Fetch}
	ErrPersist       = &Error{Kind: Persist}
)

// KindOf extracts the Kind of err if it is (or wraps) an *Error.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return 0, false
}

// ExitCode maps a Kind to the CLI exit code distinguishing user errors (2)
// from device errors (3), per the daemon's error handling design.
func ExitCode(err error) int {
	kind, ok := KindOf(err)
	if !ok {
		return 3
	}
	switch kind {
	case InvalidState, Config, CommandFailed:
		return 2
	default:
		return 3
	}
}
