package guard

import (
	"time"

	"github.com/clydewatts1/chameleon-workflow-engine/pkg/workflow/guard/dsl"
	"github.com/clydewatts1/chameleon-workflow-engine/pkg/workflow/model"
)

// ModelResolver validates/fails-over a model_override payload value
// (spec.md §4.3.2). Implemented by pkg/workflow/provider.Router.
type ModelResolver interface {
	Resolve(modelID string) (resolved string, failoverUsed bool)
}

// rule mirrors the {condition, action, payload} shape of spec.md §4.3.2.
type rule struct {
	Condition string
	Payload   map[string]interface{}
}

// evaluateConditionalInjector evaluates ordered rules; later matches win
// (the final match determines the effective mutation). Every mutation is
// appended to the caller's mutation-audit-log by the engine, using the
// MutationAuditEntry returned here.
func evaluateConditionalInjector(guardian model.Guardian, attrs, metadata map[string]interface{}, resolver ModelResolver) (Decision, error) {
	rawRules, _ := guardian.Config["rules"].([]interface{})

	var finalDecision Decision
	matched := false

	for _, raw := range rawRules {
		ruleMap, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}
		condExpr, _ := ruleMap["condition"].(string)
		if condExpr == "" {
			continue
		}
		payload, _ := ruleMap["payload"].(map[string]interface{})

		cond, err := dsl.ParseCondition(condExpr, nil)
		if err != nil {
			return Decision{Allow: false}, err
		}
		ok2, err := cond.Evaluate(attrs, metadata)
		if err != nil {
			// A condition that fails to evaluate counts as a non-match:
			// the rule is skipped and the error is neither logged nor
			// returned.
			continue
		}
		if !ok2 {
			continue
		}

		decision := Decision{Allow: true}
		entry := &model.MutationAuditEntry{
			GuardName: guardian.ID,
			Condition: condExpr,
			Timestamp: time.Now(),
		}

		if modelOverride, ok := payload["model_override"].(string); ok && modelOverride != "" {
			resolved := modelOverride
			failoverUsed := false
			if resolver != nil {
				resolved, failoverUsed = resolver.Resolve(modelOverride)
			}
			decision.ModelOverride = resolved
			entry.ModelOverride = modelOverride
			entry.FailoverUsed = failoverUsed
			if failoverUsed {
				entry.FailoverModel = resolved
			}
		}
		if instructions, ok := payload["instructions"].(string); ok {
			decision.Instructions = instructions
		}
		if fragments, ok := payload["knowledge_fragments"].([]interface{}); ok {
			for _, f := range fragments {
				if s, ok := f.(string); ok {
					decision.KnowledgeRefs = append(decision.KnowledgeRefs, s)
				}
			}
		}

		decision.Mutation = entry
		finalDecision = decision
		matched = true
	}

	if !matched {
		return Decision{Allow: true}, nil
	}
	return finalDecision, nil
}
