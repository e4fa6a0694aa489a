package render

import (
	"errors"
	"fmt"
)

// Kind classifies how a render job failed.
type Kind string

const (
	KindInputInvalid Kind = "input_invalid"
	KindBackpressure Kind = "backpressure"
	KindTimeout      Kind = "timeout"
	KindTransport    Kind = "transport_failure"
	KindProtocol     Kind = "protocol_failure"
	KindRender       Kind = "render_failure"
)

// Error is a classified render failure. Every failed job surfaces exactly one
// of these to the caller.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Errorf builds a classified error.
func Errorf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap classifies an underlying error.
func Wrap(kind Kind, err error, msg string) *Error {
	return &Error{Kind: kind, Message: msg, Err: err}
}

// KindOf extracts the failure kind from err. Unclassified errors report
// KindTransport, the conservative choice for unexpected plumbing failures.
func KindOf(err error) Kind {
	var re *Error
	if errors.As(err, &re) {
		return re.Kind
	}
	return KindTransport
}

// MessageOf returns the human-readable message for err.
func MessageOf(err error) string {
	var re *Error
	if errors.As(err, &re) {
		return re.Message
	}
	return err.Error()
}
