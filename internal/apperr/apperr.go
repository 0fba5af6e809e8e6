// Package apperr defines the error kinds surfaced by the gateway and the
// upstream details that travel with them to the HTTP boundary.
package apperr

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Kind classifies an error for propagation decisions.
type Kind string

const (
	KindValidation      Kind = "validation"
	KindUpstreamTimeout Kind = "upstream_timeout"
	KindUpstream        Kind = "upstream"
	KindToolCall        Kind = "tool_call"
	KindConfiguration   Kind = "configuration"
	KindDelivery        Kind = "delivery"
	KindInternal        Kind = "internal"
)

// Error is a classified gateway error.
type Error struct {
	Kind Kind
	// Op names the operation that failed, e.g. "runs.create".
	Op  string
	Msg string
	// Status is the upstream HTTP status, 0 when none was received.
	Status int
	// Details is the upstream response body, nil when unavailable.
	Details json.RawMessage
	Err     error
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	} else if e.Err != nil {
		msg = msg + ": " + e.Err.Error()
	}
	if e.Op != "" {
		return e.Op + ": " + msg
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Validation reports a missing or malformed input field.
func Validation(format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Msg: fmt.Sprintf(format, args...)}
}

// Timeout reports that an upstream run did not finish in time.
func Timeout(op, msg string) *Error {
	return &Error{Kind: KindUpstreamTimeout, Op: op, Msg: msg}
}

// Upstream wraps a failed call to the agent service.
func Upstream(op string, err error) *Error {
	return &Error{Kind: KindUpstream, Op: op, Err: err}
}

// Configuration reports missing configuration, such as an unset destination.
func Configuration(format string, args ...any) *Error {
	return &Error{Kind: KindConfiguration, Msg: fmt.Sprintf(format, args...)}
}

// Delivery wraps a failed outbound notification.
func Delivery(op string, status int, body []byte, err error) *Error {
	return &Error{Kind: KindDelivery, Op: op, Status: status, Details: asJSON(body), Err: err}
}

// ToolCall reports a per-call normalization or delivery failure.
func ToolCall(toolCallID string, err error) *Error {
	return &Error{Kind: KindToolCall, Op: "tool_call " + toolCallID, Err: err}
}

// WithDetails attaches an upstream status and body.
func (e *Error) WithDetails(status int, body []byte) *Error {
	e.Status = status
	e.Details = asJSON(body)
	return e
}

// KindOf returns the kind of the first *Error in err's chain, or KindInternal.
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return KindInternal
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	var ae *Error
	for err != nil {
		if !errors.As(err, &ae) {
			return false
		}
		if ae.Kind == kind {
			return true
		}
		err = ae.Err
	}
	return false
}

// DetailsOf returns the upstream body attached anywhere in err's chain.
func DetailsOf(err error) json.RawMessage {
	var ae *Error
	for err != nil {
		if !errors.As(err, &ae) {
			return nil
		}
		if len(ae.Details) > 0 {
			return ae.Details
		}
		err = ae.Err
	}
	return nil
}

// Message returns the human-readable part of err: the message of the first
// classified error, or its cause, without the operation prefix.
func Message(err error) string {
	var ae *Error
	if errors.As(err, &ae) {
		if ae.Msg != "" {
			return ae.Msg
		}
		if ae.Err != nil {
			return ae.Err.Error()
		}
	}
	return err.Error()
}

// asJSON keeps valid JSON bodies as-is and quotes anything else.
func asJSON(body []byte) json.RawMessage {
	if len(body) == 0 {
		return nil
	}
	if json.Valid(body) {
		return json.RawMessage(body)
	}
	quoted, err := json.Marshal(string(body))
	if err != nil {
		return nil
	}
	return quoted
}
