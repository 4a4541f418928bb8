// Package finerr provides severity-aware error types for the cost pipeline.
package finerr

import (
	"errors"
	"fmt"
)

// Severity indicates error impact level.
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityWarning
	SeverityError
	SeverityFatal
)

func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	case SeverityFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Kind classifies a pipeline error so callers can decide whether to
// retry, degrade, or abort.
type Kind string

const (
	// KindConfiguration covers missing or invalid credentials and
	// connection parameters. Fatal at the owning component's construction.
	KindConfiguration Kind = "CONFIGURATION"
	// KindAPI covers provider or network failures during a billing or
	// backend call. Never retried internally.
	KindAPI Kind = "API"
	// KindPersistence covers write failures. The in-flight batch is
	// rolled back and the error re-raised.
	KindPersistence Kind = "PERSISTENCE"
	// KindParse covers generative output that does not match the
	// expected schema. Callers degrade to an empty result.
	KindParse Kind = "PARSE"
)

// Error is a structured error carrying a short human-readable message.
// Stack traces never reach the boundary; Message is what users see.
type Error struct {
	Kind     Kind     `json:"kind"`
	Message  string   `json:"message"`
	Severity Severity `json:"severity"`
	Cause    error    `json:"-"`
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Configuration creates a fatal configuration error.
func Configuration(msg string) *Error {
	return &Error{Kind: KindConfiguration, Message: msg, Severity: SeverityFatal}
}

// API wraps a provider or network failure with the underlying message.
func API(msg string, cause error) *Error {
	return &Error{Kind: KindAPI, Message: msg, Severity: SeverityError, Cause: cause}
}

// Persistence wraps a storage write failure.
func Persistence(msg string, cause error) *Error {
	return &Error{Kind: KindPersistence, Message: msg, Severity: SeverityError, Cause: cause}
}

// Parse wraps a schema mismatch in generative output.
func Parse(msg string, cause error) *Error {
	return &Error{Kind: KindParse, Message: msg, Severity: SeverityWarning, Cause: cause}
}

// Is reports whether err (or anything it wraps) is a finerr.Error of kind k.
func Is(err error, k Kind) bool {
	var fe *Error
	return errors.As(err, &fe) && fe.Kind == k
}
