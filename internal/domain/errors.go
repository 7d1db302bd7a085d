package domain

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorKind enumerates the error taxonomy the core raises. Anything outside
// this set escaping a pipeline stage is a bug.
type ErrorKind string

const (
	KindParserTimeout      ErrorKind = "parser_timeout"
	KindParserUnavailable  ErrorKind = "parser_unavailable"
	KindParserMalformed    ErrorKind = "parser_malformed"
	KindUnclassifiable     ErrorKind = "unclassifiable"
	KindValidation         ErrorKind = "validation"
	KindLowConfidence      ErrorKind = "low_confidence"
	KindHandlerNotFound    ErrorKind = "handler_not_found"
	KindHandlerTimeout     ErrorKind = "handler_timeout"
	KindHandlerUnavailable ErrorKind = "handler_unavailable"
	KindHandlerError       ErrorKind = "handler_error"
	KindCancelled          ErrorKind = "cancelled"
)

// Error is the core's error value. Errors propagate as values through the
// pipeline; callers switch on Kind rather than string-matching messages.
type Error struct {
	Kind      ErrorKind
	Message   string
	EventType EventType
	Missing   []string
	wrapped   error
}

func (e *Error) Error() string {
	var sb strings.Builder
	sb.WriteString(string(e.Kind))
	if e.EventType != "" {
		sb.WriteString(" (")
		sb.WriteString(string(e.EventType))
		sb.WriteString(")")
	}
	if e.Message != "" {
		sb.WriteString(": ")
		sb.WriteString(e.Message)
	}
	if len(e.Missing) > 0 {
		sb.WriteString(": missing ")
		sb.WriteString(strings.Join(e.Missing, ", "))
	}
	return sb.String()
}

func (e *Error) Unwrap() error {
	return e.wrapped
}

// E constructs a taxonomy error with a formatted message.
func E(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a cause to a taxonomy error.
func Wrap(kind ErrorKind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), wrapped: err}
}

// ValidationError reports required fields still missing after derivation.
// The missing list preserves the descriptor's declared field order.
func ValidationError(eventType EventType, missing []string) *Error {
	return &Error{Kind: KindValidation, EventType: eventType, Missing: missing}
}

// KindOf extracts the taxonomy kind from an error chain. Context
// cancellation maps to KindCancelled; anything unrecognized is reported as
// a handler error so it surfaces in the result rather than panicking.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindHandlerError
}

// IsRetriable reports whether a handler failure of the given kind may be
// retried per the dispatch policy.
func IsRetriable(kind ErrorKind) bool {
	return kind == KindHandlerTimeout || kind == KindHandlerUnavailable
}

// IsParserKind reports whether the kind belongs to the parser failure
// family, which never fails a command.
func IsParserKind(kind ErrorKind) bool {
	switch kind {
	case KindParserTimeout, KindParserUnavailable, KindParserMalformed:
		return true
	}
	return false
}
