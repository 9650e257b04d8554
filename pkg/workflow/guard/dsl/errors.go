// Package dsl implements the safe expression-only sublanguage used to
// evaluate routing/criteria conditions (spec.md §4.3.1). It is a hand-rolled
// lexer, recursive-descent parser and AST-walking interpreter — no
// host-language evaluator (Go's go/ast, go/parser, or a third-party
// expression library) is reused, per spec.md §9's explicit instruction.
// Grounded line-for-line on
// original_source/chameleon_workflow_engine/dsl_evaluator.py.
package dsl

import "fmt"

// SyntaxError is raised for malformed input or a forbidden grammar
// construct (function calls, attribute access, arithmetic, ...).
type SyntaxError struct {
	Message string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("dsl syntax error: %s", e.Message)
}

// AttributeError is raised for a variable name outside the permitted set —
// either at validation time (not whitelisted) or at evaluation time (missing
// from the runtime attribute map).
type AttributeError struct {
	Message string
}

func (e *AttributeError) Error() string {
	return fmt.Sprintf("dsl attribute error: %s", e.Message)
}

// EvaluationError wraps a runtime type mismatch encountered while evaluating
// an otherwise-valid expression (e.g. comparing a string to a number).
type EvaluationError struct {
	Message string
}

func (e *EvaluationError) Error() string {
	return fmt.Sprintf("dsl evaluation failure: %s", e.Message)
}
