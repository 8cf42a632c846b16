package remote

import (
	"errors"
	"fmt"
)

var (
	// ErrDisabled indicates that sync is not configured; no request was attempted.
	ErrDisabled = errors.New("remote: sync disabled")
	// ErrTransport indicates a network-level failure.
	ErrTransport = errors.New("remote: transport failure")
	// ErrServer indicates a non-success HTTP status.
	ErrServer = errors.New("remote: server error")
	// ErrDecode indicates a malformed response payload.
	ErrDecode = errors.New("remote: decode failure")
)

const (
	opPush = "remote.push"
	opPull = "remote.pull"
	opList = "remote.list"

	reasonRequestFailed = "request_failed"
	reasonServerError   = "server_error"
	reasonDecodeFailed  = "decode_failed"
	reasonEncodeFailed  = "encode_failed"
)

// Error describes a failed remote operation. Kind sentinels match through errors.Is.
type Error struct {
	code       string
	kind       error
	StatusCode int
	ServerCode string
	Message    string
	err        error
}

func newError(operation, reason string, kind error, cause error) *Error {
	return &Error{
		code: fmt.Sprintf("%s.%s", operation, reason),
		kind: kind,
		err:  cause,
	}
}

func (e *Error) Error() string {
	switch {
	case e.Message != "" && e.ServerCode != "":
		return fmt.Sprintf("%s: %s (%s)", e.code, e.Message, e.ServerCode)
	case e.Message != "":
		return fmt.Sprintf("%s: %s", e.code, e.Message)
	case e.err != nil:
		return fmt.Sprintf("%s: %v", e.code, e.err)
	default:
		return e.code
	}
}

func (e *Error) Unwrap() error {
	return e.err
}

// Is matches the kind sentinel of the error.
func (e *Error) Is(target error) bool {
	return e.kind != nil && target == e.kind
}

// Code returns the stable operation.reason code.
func (e *Error) Code() string {
	return e.code
}
