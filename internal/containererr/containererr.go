// Package containererr defines the container-agnostic error kinds every
// reader in this module raises (spec §7), modeled as a small sentinel type
// the way the teacher corpus wraps a handful of well-known failure shapes
// rather than growing a bespoke error type per package.
package containererr

import (
	"errors"
	"fmt"
)

// Kind classifies a parse failure independent of which container produced
// it, so callers can decide propagation policy (abort vs. warn-and-skip)
// with a single errors.As/Is check.
type Kind int

const (
	// BadMagic means a required magic constant did not match.
	BadMagic Kind = iota
	// Truncated means a declared length extends past the buffer end.
	Truncated
	// Unsupported means a known-but-not-implemented codec.
	Unsupported
	// Decompression means a codec reported failure.
	Decompression
	// Decoding means a UTF-8/UTF-16BE conversion failed on a name.
	Decoding
	// MissingField means a required plist/XAR TOC element was absent.
	MissingField
	// InvalidArgument means the caller passed contradictory flags.
	InvalidArgument
)

func (k Kind) String() string {
	switch k {
	case BadMagic:
		return "bad magic"
	case Truncated:
		return "truncated"
	case Unsupported:
		return "unsupported"
	case Decompression:
		return "decompression"
	case Decoding:
		return "decoding"
	case MissingField:
		return "missing field"
	case InvalidArgument:
		return "invalid argument"
	default:
		return "unknown"
	}
}

// Error pairs a Kind with context and an optional wrapped cause.
type Error struct {
	Kind    Kind
	Context string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Context, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Context)
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds a *Error with no wrapped cause.
func New(kind Kind, context string) *Error {
	return &Error{Kind: kind, Context: context}
}

// Wrap builds a *Error wrapping cause.
func Wrap(kind Kind, context string, cause error) *Error {
	return &Error{Kind: kind, Context: context, Cause: cause}
}

// Is reports whether err (or something it wraps) is a *Error of kind k.
func Is(err error, k Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == k
	}
	return false
}
