// Package errors provides the ambient error-shape conventions shared across
// the chameleon packages: an operation/component/resource wrapper plus a
// handful of constructor helpers.
package errors

import "fmt"

// OperationError describes a failure tied to a specific operation, component
// and (optionally) resource, wrapping the underlying cause.
type OperationError struct {
	Operation string
	Component string
	Resource  string
	Cause     error
}

func (e *OperationError) Error() string {
	if e.Resource != "" {
		return fmt.Sprintf("%s: failed to %s %s: %v", e.Component, e.Operation, e.Resource, e.Cause)
	}
	return fmt.Sprintf("%s: failed to %s: %v", e.Component, e.Operation, e.Cause)
}

func (e *OperationError) Unwrap() error {
	return e.Cause
}

// FailedTo wraps cause as a generic "failed to <action>" error with no
// component/resource context.
func FailedTo(action string, cause error) error {
	return &OperationError{Operation: action, Cause: cause}
}

// FailedToWithDetails wraps cause with full operation/component/resource context.
func FailedToWithDetails(operation, component, resource string, cause error) error {
	return &OperationError{Operation: operation, Component: component, Resource: resource, Cause: cause}
}

// Wrapf wraps err with a formatted message, returning nil if err is nil.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf(format+": %w", append(args, err)...)
}
