// Package status defines the Tempo RPC status-code taxonomy and the
// status-bearing error type that crosses every call boundary.
/*
 * Copyright (c) 2024-2025, Tempo RPC Contributors. All rights reserved.
 */
package status

import (
	"errors"
	"fmt"
	"net/http"
)

// Code is the fixed Tempo status enum. Wire-encoded as a small
// integer in the `tempo-status` response header.
type Code uint8

const (
	OK Code = iota
	Cancelled
	Unknown
	InvalidArgument
	DeadlineExceeded
	NotFound
	AlreadyExists
	PermissionDenied
	ResourceExhausted
	FailedPrecondition
	Aborted
	OutOfRange
	Unimplemented
	Internal
	Unavailable
	DataLoss
	Unauthenticated
	UnknownContentType
)

var codeNames = [...]string{
	OK:                  "OK",
	Cancelled:           "CANCELLED",
	Unknown:             "UNKNOWN",
	InvalidArgument:     "INVALID_ARGUMENT",
	DeadlineExceeded:    "DEADLINE_EXCEEDED",
	NotFound:            "NOT_FOUND",
	AlreadyExists:       "ALREADY_EXISTS",
	PermissionDenied:    "PERMISSION_DENIED",
	ResourceExhausted:   "RESOURCE_EXHAUSTED",
	FailedPrecondition:  "FAILED_PRECONDITION",
	Aborted:             "ABORTED",
	OutOfRange:          "OUT_OF_RANGE",
	Unimplemented:       "UNIMPLEMENTED",
	Internal:            "INTERNAL",
	Unavailable:         "UNAVAILABLE",
	DataLoss:            "DATA_LOSS",
	Unauthenticated:     "UNAUTHENTICATED",
	UnknownContentType:  "UNKNOWN_CONTENT_TYPE",
}

func (c Code) String() string {
	if int(c) < len(codeNames) && codeNames[c] != "" {
		return codeNames[c]
	}
	return fmt.Sprintf("CODE(%d)", uint8(c))
}

// httpStatus is the total status Code -> HTTP status mapping.
var httpStatus = [...]int{
	OK:                 http.StatusOK,
	Cancelled:          499,
	Unknown:            http.StatusInternalServerError,
	InvalidArgument:    http.StatusBadRequest,
	DeadlineExceeded:   http.StatusGatewayTimeout,
	NotFound:           http.StatusNotFound,
	AlreadyExists:      http.StatusConflict,
	PermissionDenied:   http.StatusForbidden,
	ResourceExhausted:  http.StatusTooManyRequests,
	FailedPrecondition: http.StatusPreconditionFailed,
	Aborted:            http.StatusConflict,
	OutOfRange:         http.StatusBadRequest,
	Unimplemented:      http.StatusNotImplemented,
	Internal:           http.StatusInternalServerError,
	Unavailable:        http.StatusServiceUnavailable,
	DataLoss:           http.StatusInternalServerError,
	Unauthenticated:    http.StatusUnauthorized,
	UnknownContentType: http.StatusUnsupportedMediaType,
}

// HTTPStatus maps a status Code to its wire HTTP status code. Total
// function over the Code enum.
func HTTPStatus(c Code) int {
	if int(c) < len(httpStatus) {
		return httpStatus[c]
	}
	return http.StatusInternalServerError
}

// CodeFromHTTPStatus maps an HTTP status back to a Code, for a response
// that carries no tempo-status header at all (e.g. a proxy 5xx). An HTTP
// status shared by several codes maps to one of them (409 to
// AlreadyExists, 400 to InvalidArgument, 500 to Unknown). The client's
// response validation does not call it: it reports a missing
// tempo-status as Unknown.
func CodeFromHTTPStatus(httpCode int) Code {
	switch httpCode {
	case http.StatusOK:
		return OK
	case 499:
		return Cancelled
	case http.StatusBadRequest:
		return InvalidArgument
	case http.StatusGatewayTimeout:
		return DeadlineExceeded
	case http.StatusNotFound:
		return NotFound
	case http.StatusConflict:
		return AlreadyExists
	case http.StatusForbidden:
		return PermissionDenied
	case http.StatusTooManyRequests:
		return ResourceExhausted
	case http.StatusPreconditionFailed:
		return FailedPrecondition
	case http.StatusNotImplemented:
		return Unimplemented
	case http.StatusServiceUnavailable:
		return Unavailable
	case http.StatusUnauthorized:
		return Unauthenticated
	case http.StatusUnsupportedMediaType:
		return UnknownContentType
	default:
		return Unknown
	}
}

// Error is the status-bearing error every Tempo call boundary deals in.
type Error struct {
	Code    Code
	Message string
	cause   error
}

func New(code Code, format string, a ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, a...)}
}

// Wrap attaches a status to an underlying error, keeping it as the cause
// for errors.Is/As and %w formatting.
func Wrap(code Code, cause error) *Error {
	if cause == nil {
		return nil
	}
	return &Error{Code: code, Message: cause.Error(), cause: cause}
}

func (e *Error) Error() string {
	if e.Message == "" {
		return e.Code.String()
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// From extracts the status.Code from any error: a *status.Error keeps
// its code, everything else (including a raw context.Canceled) becomes
// Unknown. Callers that can distinguish cancellation/deadline signals
// (the deadline engine, the client transport) are responsible for
// converting them to Aborted/DeadlineExceeded before the error reaches
// here.
func From(err error) Code {
	if err == nil {
		return OK
	}
	var se *Error
	if errors.As(err, &se) {
		return se.Code
	}
	return Unknown
}

// Is reports whether err carries the given status code.
func Is(err error, code Code) bool {
	return From(err) == code
}
