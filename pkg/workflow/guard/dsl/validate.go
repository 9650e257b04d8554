package dsl

import "fmt"

// ReservedMetadata is the closed set of non-attribute variable names a
// condition may reference, mirroring RESERVED_METADATA in the original
// dsl_evaluator.py.
var ReservedMetadata = map[string]bool{
	"uow_id":               true,
	"child_count":          true,
	"finished_child_count": true,
	"status":               true,
	"parent_id":            true,
}

// validate walks node and rejects any Var whose name is neither a reserved
// metadata name nor a member of permittedAttributes. It runs once at
// blueprint-import time (spec.md §4.3.1: "Validation runs once at blueprint
// import").
func validate(node Node, permittedAttributes map[string]bool) error {
	switch n := node.(type) {
	case *Literal:
		return nil
	case *ListLiteral:
		for _, item := range n.Items {
			if err := validate(item, permittedAttributes); err != nil {
				return err
			}
		}
		return nil
	case *Var:
		if ReservedMetadata[n.Name] {
			return nil
		}
		if permittedAttributes != nil && !permittedAttributes[n.Name] {
			return &AttributeError{Message: fmt.Sprintf("variable %q is not in the permitted attribute set", n.Name)}
		}
		return nil
	case *Compare:
		if err := validate(n.Left, permittedAttributes); err != nil {
			return err
		}
		return validate(n.Right, permittedAttributes)
	case *BoolOp:
		for _, operand := range n.Operands {
			if err := validate(operand, permittedAttributes); err != nil {
				return err
			}
		}
		return nil
	case *Not:
		return validate(n.Operand, permittedAttributes)
	default:
		return &SyntaxError{Message: fmt.Sprintf("unsupported node type %T", node)}
	}
}
