package status_test

import (
	"context"
	"errors"
	"testing"

	"github.com/betwixt-labs/tempo/status"
)

func TestHTTPStatusIsTotal(t *testing.T) {
	for c := status.OK; c <= status.UnknownContentType; c++ {
		if got := status.HTTPStatus(c); got == 0 {
			t.Fatalf("code %s has no HTTP mapping", c)
		}
	}
}

func TestHTTPStatusMapping(t *testing.T) {
	cases := []struct {
		code status.Code
		want int
	}{
		{status.OK, 200},
		{status.Cancelled, 499},
		{status.InvalidArgument, 400},
		{status.OutOfRange, 400},
		{status.Unauthenticated, 401},
		{status.PermissionDenied, 403},
		{status.NotFound, 404},
		{status.AlreadyExists, 409},
		{status.Aborted, 409},
		{status.FailedPrecondition, 412},
		{status.UnknownContentType, 415},
		{status.ResourceExhausted, 429},
		{status.Unknown, 500},
		{status.Internal, 500},
		{status.DataLoss, 500},
		{status.Unimplemented, 501},
		{status.Unavailable, 503},
		{status.DeadlineExceeded, 504},
	}
	for _, c := range cases {
		if got := status.HTTPStatus(c.code); got != c.want {
			t.Errorf("HTTPStatus(%s) = %d, want %d", c.code, got, c.want)
		}
	}
}

func TestErrorWrap(t *testing.T) {
	cause := errors.New("boom")
	err := status.Wrap(status.Internal, cause)
	if status.From(err) != status.Internal {
		t.Fatalf("From(wrapped) = %s, want INTERNAL", status.From(err))
	}
	if !errors.Is(err, cause) {
		t.Fatalf("errors.Is(err, cause) = false, want true")
	}
}

func TestFromNonStatusError(t *testing.T) {
	if got := status.From(errors.New("plain")); got != status.Unknown {
		t.Fatalf("From(plain) = %s, want UNKNOWN", got)
	}
	if got := status.From(context.Canceled); got != status.Unknown {
		// context.Canceled itself is not a status.Error; callers (deadline
		// engine) are responsible for converting it to Aborted explicitly.
		t.Fatalf("From(context.Canceled) = %s, want UNKNOWN", got)
	}
	if got := status.From(nil); got != status.OK {
		t.Fatalf("From(nil) = %s, want OK", got)
	}
}
