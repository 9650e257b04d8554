package model

import (
	"fmt"

	sharederrors "github.com/clydewatts1/chameleon-workflow-engine/pkg/shared/errors"
)

// Code is the domain error taxonomy of spec.md §7.
type Code string

const (
	CodeInvalidBlueprint      Code = "INVALID_BLUEPRINT"
	CodeInvalidSpec           Code = "INVALID_SPEC"
	CodeTemplateNotFound      Code = "TEMPLATE_NOT_FOUND"
	CodeInstantiationFailed   Code = "INSTANTIATION_FAILED"
	CodeNotAuthorized         Code = "NOT_AUTHORIZED"
	CodeGuardUnauthorized     Code = "GUARD_UNAUTHORIZED"
	CodePilotApprovalRequired Code = "PILOT_APPROVAL_REQUIRED"
	CodeNotFound              Code = "NOT_FOUND"
	CodeNotLocked             Code = "NOT_LOCKED"
	CodeStateDrift            Code = "STATE_DRIFT"
	CodeCheckoutFailed        Code = "CHECKOUT_FAILED"
	CodeEvaluationFailure     Code = "EVALUATION_FAILURE"
	CodeUnknownGuardType      Code = "UNKNOWN_GUARD_TYPE"
)

// Error is the typed error carried on every fallible domain operation. It
// wraps pkg/shared/errors.OperationError so callers can still use errors.As
// against that ambient shape, while exposing a machine-checkable Code for
// the taxonomy of spec.md §7.
type Error struct {
	Code Code
	Op   *sharederrors.OperationError
}

func (e *Error) Error() string {
	if e.Op != nil {
		return fmt.Sprintf("%s: %s", e.Code, e.Op.Error())
	}
	return string(e.Code)
}

func (e *Error) Unwrap() error {
	if e.Op != nil {
		return e.Op
	}
	return nil
}

// NewError constructs a domain Error with operation/component/resource
// context for the ambient error-shape conventions (SPEC_FULL.md §10.2).
func NewError(code Code, operation, component, resource string, cause error) *Error {
	return &Error{
		Code: code,
		Op:   &sharederrors.OperationError{Operation: operation, Component: component, Resource: resource, Cause: cause},
	}
}

// Error lets a Code be used as an error value. errors.Is(err, code) does not
// match a *Error carrying that code, since *Error has no Is method; use
// errors.As(err, &domainErr) and compare domainErr.Code.
func (c Code) Error() string { return string(c) }
