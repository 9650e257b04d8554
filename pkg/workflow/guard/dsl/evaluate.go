package dsl

import "fmt"

// Condition is a parsed, validated policy condition ready for repeated
// evaluation against different attribute maps. Parsing happens once;
// evaluation never re-parses, matching the source's "validate once at
// import, interpret many times" discipline.
type Condition struct {
	source string
	root   Node
}

// ParseCondition parses and validates expr against permittedAttributes (the
// UOW's known attribute keys at blueprint-import time, union reserved
// metadata). permittedAttributes may be nil to skip the whitelist check
// (useful when attribute keys are not known until runtime).
func ParseCondition(expr string, permittedAttributes map[string]bool) (*Condition, error) {
	root, err := parse(expr)
	if err != nil {
		return nil, err
	}
	if err := validate(root, permittedAttributes); err != nil {
		return nil, err
	}
	return &Condition{source: expr, root: root}, nil
}

// Source returns the original expression text.
func (c *Condition) Source() string {
	return c.source
}

// Evaluate interprets the condition against attrs (UOW attribute map) plus
// metadata (reserved metadata values: uow_id, child_count,
// finished_child_count, status, parent_id). It runs with no builtins
// namespace — there is no escape hatch to call into the host environment,
// because the AST has no call/attribute/subscript node kinds at all.
func (c *Condition) Evaluate(attrs map[string]interface{}, metadata map[string]interface{}) (bool, error) {
	val, err := evalNode(c.root, attrs, metadata)
	if err != nil {
		return false, err
	}
	b, ok := val.(bool)
	if !ok {
		return false, &EvaluationError{Message: fmt.Sprintf("condition did not evaluate to a boolean, got %T", val)}
	}
	return b, nil
}

func evalNode(node Node, attrs, metadata map[string]interface{}) (interface{}, error) {
	switch n := node.(type) {
	case *Literal:
		return n.Value, nil
	case *ListLiteral:
		items := make([]interface{}, 0, len(n.Items))
		for _, item := range n.Items {
			v, err := evalNode(item, attrs, metadata)
			if err != nil {
				return nil, err
			}
			items = append(items, v)
		}
		return items, nil
	case *Var:
		if v, ok := metadata[n.Name]; ok {
			return v, nil
		}
		if v, ok := attrs[n.Name]; ok {
			return v, nil
		}
		return nil, &AttributeError{Message: fmt.Sprintf("variable %q is not present at evaluation time", n.Name)}
	case *Not:
		v, err := evalNode(n.Operand, attrs, metadata)
		if err != nil {
			return nil, err
		}
		b, ok := v.(bool)
		if !ok {
			return nil, &EvaluationError{Message: "operand of 'not' is not boolean"}
		}
		return !b, nil
	case *BoolOp:
		switch n.Op {
		case "and":
			for _, operand := range n.Operands {
				v, err := evalNode(operand, attrs, metadata)
				if err != nil {
					return nil, err
				}
				b, ok := v.(bool)
				if !ok {
					return nil, &EvaluationError{Message: "operand of 'and' is not boolean"}
				}
				if !b {
					return false, nil
				}
			}
			return true, nil
		case "or":
			for _, operand := range n.Operands {
				v, err := evalNode(operand, attrs, metadata)
				if err != nil {
					return nil, err
				}
				b, ok := v.(bool)
				if !ok {
					return nil, &EvaluationError{Message: "operand of 'or' is not boolean"}
				}
				if b {
					return true, nil
				}
			}
			return false, nil
		}
		return nil, &EvaluationError{Message: fmt.Sprintf("unknown boolean op %q", n.Op)}
	case *Compare:
		left, err := evalNode(n.Left, attrs, metadata)
		if err != nil {
			return nil, err
		}
		right, err := evalNode(n.Right, attrs, metadata)
		if err != nil {
			return nil, err
		}
		return evalCompare(left, n.Op, right)
	default:
		return nil, &EvaluationError{Message: fmt.Sprintf("unsupported node type %T", node)}
	}
}

func evalCompare(left interface{}, op CompareOp, right interface{}) (interface{}, error) {
	switch op {
	case OpIn, OpNotIn:
		items, ok := right.([]interface{})
		if !ok {
			return nil, &EvaluationError{Message: "right-hand side of 'in' must be a list literal"}
		}
		found := false
		for _, item := range items {
			if valuesEqual(left, item) {
				found = true
				break
			}
		}
		if op == OpNotIn {
			return !found, nil
		}
		return found, nil
	case OpEQ:
		return valuesEqual(left, right), nil
	case OpNE:
		return !valuesEqual(left, right), nil
	case OpLT, OpLE, OpGT, OpGE:
		lf, lok := asFloat(left)
		rf, rok := asFloat(right)
		if !lok || !rok {
			return nil, &EvaluationError{Message: "ordered comparison requires numeric operands"}
		}
		switch op {
		case OpLT:
			return lf < rf, nil
		case OpLE:
			return lf <= rf, nil
		case OpGT:
			return lf > rf, nil
		case OpGE:
			return lf >= rf, nil
		}
	}
	return nil, &EvaluationError{Message: fmt.Sprintf("unknown comparison operator %q", op)}
}

func asFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

func valuesEqual(a, b interface{}) bool {
	af, aok := asFloat(a)
	bf, bok := asFloat(b)
	if aok && bok {
		return af == bf
	}
	return a == b
}
