// Package guard implements the guard dispatch table of spec.md §4.3: a
// tagged sum {kind, config} with a dispatch switch, not subtype inheritance
// (spec.md §9's explicit re-architecture hint). Grounded on the teacher's
// typed-error shape (graph/node.go's NodeError) and on
// original_source/chameleon_workflow_engine/dsl_evaluator.py for the
// CONDITIONAL_INJECTOR/CRITERIA_GATE expression semantics.
package guard

import (
	"fmt"
	"strings"
	"time"

	"github.com/clydewatts1/chameleon-workflow-engine/pkg/workflow/model"
)

// ErrUnknownGuardType is returned when a guardian's Type isn't in the
// dispatch table (spec.md §4.3 dispatch table, "unknown → fail
// UNKNOWN_GUARD_TYPE").
type ErrUnknownGuardType struct {
	Type model.GuardianType
}

func (e *ErrUnknownGuardType) Error() string {
	return fmt.Sprintf("unknown guard type %q", e.Type)
}

// Decision is the outcome of evaluating a guard.
type Decision struct {
	Allow         bool
	Mutation      *model.MutationAuditEntry
	ModelOverride string
	Instructions  string
	KnowledgeRefs []string
}

// Clock is injected so TTL_CHECK is testable without real time.
type Clock func() time.Time

// Evaluate dispatches on guardian.Type and returns a routing/admission
// Decision. attrs is the UOW's current attribute map; metadata carries the
// reserved DSL metadata names (uow_id, child_count, finished_child_count,
// status, parent_id). resolver is used by CONDITIONAL_INJECTOR's
// model_override handling (spec.md §4.3.2).
func Evaluate(guardian model.Guardian, attrs, metadata map[string]interface{}, now Clock, resolver ModelResolver) (Decision, error) {
	if now == nil {
		now = time.Now
	}

	switch guardian.Type {
	case model.GuardPassThru:
		return Decision{Allow: true}, nil

	case model.GuardDirectionalFilter:
		// Non-blocking; always allow. Routing is handled elsewhere (spec.md §4.3).
		return Decision{Allow: true}, nil

	case model.GuardCerberus:
		// At checkout time always allow; real reconciliation happens at OMEGA
		// (spec.md §4.3, DESIGN.md Open Question decision #4) via
		// EvaluateCerberusReconciliation below, which the engine calls with
		// the candidate's own ChildCount/FinishedChildCount whenever a
		// CERBERUS guardian allows a checkout candidate.
		return Decision{Allow: true}, nil

	case model.GuardCriteriaGate:
		return evaluateCriteriaGate(guardian.Config, attrs)

	case model.GuardTTLCheck:
		return evaluateTTLCheck(guardian.Config, attrs, now())

	case model.GuardComposite:
		return evaluateComposite(guardian.Config, attrs, metadata, now, resolver)

	case model.GuardConditionalInjector:
		return evaluateConditionalInjector(guardian, attrs, metadata, resolver)

	default:
		return Decision{Allow: false}, &ErrUnknownGuardType{Type: guardian.Type}
	}
}

// EvaluateCerberusReconciliation implements the OMEGA-side synchronization:
// a CERBERUS guard only truly passes a UOW through OMEGA once all of its
// siblings spawned by the same BETA decomposition have finished. Ties with a
// concurrently-created new child are resolved by the caller incrementing
// FinishedChildCount in the same transaction that marks a child COMPLETED
// (DESIGN.md Open Question decision #4), so this is a pure function of the
// already-consistent counters.
func EvaluateCerberusReconciliation(childCount, finishedChildCount int) bool {
	return finishedChildCount >= childCount
}

func evaluateCriteriaGate(config, attrs map[string]interface{}) (Decision, error) {
	field, _ := config["field"].(string)
	op, _ := config["op"].(string)
	threshold, hasThreshold := config["threshold"]

	if field == "" || op == "" || !hasThreshold {
		return Decision{Allow: false}, nil
	}

	value, ok := attrs[field]
	if !ok {
		return Decision{Allow: false}, nil
	}

	switch strings.ToUpper(op) {
	case "GT":
		vf, vok := asFloat(value)
		tf, tok := asFloat(threshold)
		return Decision{Allow: vok && tok && vf > tf}, nil
	case "LT":
		vf, vok := asFloat(value)
		tf, tok := asFloat(threshold)
		return Decision{Allow: vok && tok && vf < tf}, nil
	case "EQ":
		return Decision{Allow: valuesEqual(value, threshold)}, nil
	case "IN":
		items, ok := threshold.([]interface{})
		if !ok {
			return Decision{Allow: false}, nil
		}
		for _, item := range items {
			if valuesEqual(value, item) {
				return Decision{Allow: true}, nil
			}
		}
		return Decision{Allow: false}, nil
	default:
		return Decision{Allow: false}, nil
	}
}

func evaluateTTLCheck(config, attrs map[string]interface{}, now time.Time) (Decision, error) {
	refField, _ := config["reference_field"].(string)
	maxAgeSeconds, _ := asFloat(config["max_age_seconds"])

	raw, ok := attrs[refField]
	if !ok {
		return Decision{Allow: false}, nil
	}
	refStr, ok := raw.(string)
	if !ok {
		return Decision{Allow: false}, nil
	}

	ref, err := parseISO8601(refStr)
	if err != nil {
		return Decision{Allow: false}, nil
	}

	age := now.Sub(ref).Seconds()
	return Decision{Allow: age <= maxAgeSeconds}, nil
}

func parseISO8601(s string) (time.Time, error) {
	layouts := []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02T15:04:05Z07:00"}
	var lastErr error
	for _, layout := range layouts {
		t, err := time.Parse(layout, s)
		if err == nil {
			if t.Location() == time.UTC || !strings.ContainsAny(s, "Zz+") {
				return t.UTC(), nil
			}
			return t, nil
		}
		lastErr = err
	}
	return time.Time{}, lastErr
}

// evaluateComposite recursively evaluates child guard steps under logic
// AND/OR; each child is synthesized from a {type, config} tuple (spec.md
// §4.3 COMPOSITE row).
func evaluateComposite(config, attrs, metadata map[string]interface{}, now Clock, resolver ModelResolver) (Decision, error) {
	logic, _ := config["logic"].(string)
	rawSteps, _ := config["steps"].([]interface{})

	results := make([]bool, 0, len(rawSteps))
	for _, raw := range rawSteps {
		stepMap, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}
		childType, _ := stepMap["type"].(string)
		childConfig, _ := stepMap["config"].(map[string]interface{})
		child := model.Guardian{Type: model.GuardianType(childType), Config: childConfig}
		decision, err := Evaluate(child, attrs, metadata, now, resolver)
		if err != nil {
			return Decision{Allow: false}, err
		}
		results = append(results, decision.Allow)
	}

	switch strings.ToUpper(logic) {
	case "OR":
		for _, r := range results {
			if r {
				return Decision{Allow: true}, nil
			}
		}
		return Decision{Allow: false}, nil
	default: // AND, including empty/unspecified
		for _, r := range results {
			if !r {
				return Decision{Allow: false}, nil
			}
		}
		return Decision{Allow: true}, nil
	}
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
