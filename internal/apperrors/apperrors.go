// Package apperrors defines the failure taxonomy reported to query callbacks
// and the policy that normalises arbitrary errors into it.
package apperrors

import (
	"context"
	"errors"
	"fmt"
)

// Kind identifies a class of failure.
type Kind string

const (
	KindDuplicateRequest Kind = "duplicate_request"
	KindTokenRefresh     Kind = "token_refresh_failure"
	KindTransport        Kind = "transport_failure"
	KindServerClosed     Kind = "server_closed"
	KindCancelled        Kind = "cancelled"
	KindDecode           Kind = "decode_failure"
	KindDomainRejected   Kind = "domain_rejected"
)

// Sentinels for errors.Is. Any *Error matches the sentinel of its Kind.
var (
	ErrDuplicateRequest = &Error{Kind: KindDuplicateRequest, Msg: "duplicate request"}
	ErrTokenRefresh     = &Error{Kind: KindTokenRefresh, Msg: "token refresh failed"}
	ErrTransport        = &Error{Kind: KindTransport, Msg: "transport failure"}
	ErrServerClosed     = &Error{Kind: KindServerClosed, Msg: "server disconnected"}
	ErrCancelled        = &Error{Kind: KindCancelled, Msg: "query cancelled"}
	ErrDecode           = &Error{Kind: KindDecode, Msg: "malformed response"}
	ErrDomainRejected   = &Error{Kind: KindDomainRejected, Msg: "request rejected"}
)

// Error is the single error shape delivered to callbacks.
type Error struct {
	Kind       Kind
	Msg        string
	StatusCode int   // set for DomainRejected when the server returned a status
	Err        error // underlying cause, may be nil
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches on Kind. A server-closed error also counts as a transport
// failure: the socket is gone and the request cannot be answered.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Kind == e.Kind {
		return true
	}
	return t.Kind == KindTransport && e.Kind == KindServerClosed
}

// New returns an error of the given kind.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

// Wrap returns an error of the given kind carrying cause.
func Wrap(kind Kind, msg string, cause error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: cause}
}

// Rejected returns a DomainRejected error for a non-success server status.
func Rejected(status int, body string) *Error {
	return &Error{
		Kind:       KindDomainRejected,
		Msg:        fmt.Sprintf("server rejected request with status %d", status),
		StatusCode: status,
		Err:        errors.New(body),
	}
}

// IsCancellation reports whether err is, or wraps, a cancellation signal.
func IsCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, ErrCancelled)
}

// Classify normalises err. An *Error anywhere in the chain is returned
// unchanged; a cancellation becomes Cancelled; everything else is wrapped as
// a transport failure carrying the original cause.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}
	var ae *Error
	if errors.As(err, &ae) {
		return ae
	}
	if IsCancellation(err) {
		return Wrap(KindCancelled, ErrCancelled.Msg, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Wrap(KindTransport, "request timed out", err)
	}
	return Wrap(KindTransport, ErrTransport.Msg, err)
}

// KindOf returns the Kind of the classified err.
func KindOf(err error) Kind {
	if ae := Classify(err); ae != nil {
		return ae.Kind
	}
	return ""
}
