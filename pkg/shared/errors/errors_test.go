package errors

import (
	"errors"
	"testing"
)

func TestOperationErrorMessageWithResource(t *testing.T) {
	err := &OperationError{Operation: "checkout", Component: "engine", Resource: "uow-1", Cause: errors.New("locked")}
	got := err.Error()
	if got != "engine: failed to checkout uow-1: locked" {
		t.Errorf("unexpected message: %q", got)
	}
}

func TestOperationErrorMessageWithoutResource(t *testing.T) {
	err := &OperationError{Operation: "checkout", Component: "engine", Cause: errors.New("locked")}
	got := err.Error()
	if got != "engine: failed to checkout: locked" {
		t.Errorf("unexpected message: %q", got)
	}
}

func TestOperationErrorUnwrap(t *testing.T) {
	cause := errors.New("root cause")
	err := &OperationError{Cause: cause}
	if !errors.Is(err, cause) {
		t.Error("expected Unwrap to expose the cause")
	}
}

func TestFailedTo(t *testing.T) {
	cause := errors.New("disk full")
	err := FailedTo("write", cause)
	var opErr *OperationError
	if !errors.As(err, &opErr) {
		t.Fatalf("expected *OperationError, got %T", err)
	}
	if opErr.Operation != "write" {
		t.Errorf("unexpected operation: %q", opErr.Operation)
	}
}

func TestFailedToWithDetails(t *testing.T) {
	err := FailedToWithDetails("get", "store", "uow-1", errors.New("missing"))
	var opErr *OperationError
	if !errors.As(err, &opErr) {
		t.Fatalf("expected *OperationError, got %T", err)
	}
	if opErr.Component != "store" || opErr.Resource != "uow-1" {
		t.Errorf("unexpected fields: %+v", opErr)
	}
}

func TestWrapfReturnsNilForNilError(t *testing.T) {
	if Wrapf(nil, "context") != nil {
		t.Error("expected nil passthrough")
	}
}

func TestWrapfWrapsNonNilError(t *testing.T) {
	cause := errors.New("root")
	wrapped := Wrapf(cause, "while doing %s", "work")
	if wrapped == nil {
		t.Fatal("expected non-nil error")
	}
	if !errors.Is(wrapped, cause) {
		t.Error("expected wrapped error to chain to cause")
	}
}
