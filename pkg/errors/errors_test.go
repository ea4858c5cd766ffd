package errors

import (
	"errors"
	"fmt"
	"testing"
)

func TestAppError_Error(t *testing.T) {
	err := New(ErrCodeSignaling, "transport closed")
	want := "SIGNALING: transport closed"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}

	wrapped := Wrap(errors.New("dial tcp: refused"), ErrCodeUnavailable, "relay unreachable")
	want = "UNAVAILABLE: relay unreachable (caused by: dial tcp: refused)"
	if wrapped.Error() != want {
		t.Errorf("Error() = %q, want %q", wrapped.Error(), want)
	}
}

func TestAppError_Unwrap(t *testing.T) {
	cause := errors.New("underlying")
	err := Wrap(cause, ErrCodeSession, "session failed")

	if !errors.Is(err, cause) {
		t.Error("expected errors.Is to find the cause")
	}
}

func TestCodeOf(t *testing.T) {
	if got := CodeOf(NewNotFound("product")); got != ErrCodeNotFound {
		t.Errorf("CodeOf() = %v, want NOT_FOUND", got)
	}

	// Code survives further wrapping with %w.
	outer := fmt.Errorf("listing pins: %w", NewUnauthorized("token expired"))
	if got := CodeOf(outer); got != ErrCodeUnauthorized {
		t.Errorf("CodeOf(wrapped) = %v, want UNAUTHORIZED", got)
	}

	if got := CodeOf(errors.New("plain")); got != ErrCodeInternal {
		t.Errorf("CodeOf(plain) = %v, want INTERNAL_ERROR", got)
	}
}

func TestIs(t *testing.T) {
	err := New(ErrCodeMedia, "camera busy")
	if !Is(err, ErrCodeMedia) {
		t.Error("Is() = false, want true")
	}
	if Is(err, ErrCodeSignaling) {
		t.Error("Is() matched the wrong code")
	}
}
