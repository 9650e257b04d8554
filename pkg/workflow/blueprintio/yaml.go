// Package blueprintio loads a workflow blueprint from YAML (spec.md §6
// "Blueprint YAML") into a store.Blueprint, resolving human-readable role/
// interaction names to generated ids at import time and running a structural
// check (see Validate) before the blueprint can reach the store.
package blueprintio

import (
	"fmt"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/clydewatts1/chameleon-workflow-engine/pkg/workflow/model"
	"github.com/clydewatts1/chameleon-workflow-engine/pkg/workflow/store"
)

// Document is the YAML shape of a blueprint fixture.
type Document struct {
	Workflow struct {
		ID      string `yaml:"id"`
		Name    string `yaml:"name"`
		Version string `yaml:"version"`
		Notes   string `yaml:"notes"`
	} `yaml:"workflow"`

	Roles []struct {
		Name          string `yaml:"name"`
		Type          string `yaml:"type"`
		Decomposition string `yaml:"decomposition"`
		ChildWorkflow string `yaml:"child_workflow"`
	} `yaml:"roles"`

	Interactions []struct {
		Name string `yaml:"name"`
	} `yaml:"interactions"`

	Components []struct {
		Role        string `yaml:"role"`
		Interaction string `yaml:"interaction"`
		Direction   string `yaml:"direction"`
		Name        string `yaml:"name"`
	} `yaml:"components"`

	Guardians []struct {
		Component string                 `yaml:"component"`
		Type      string                 `yaml:"type"`
		Config    map[string]interface{} `yaml:"config"`
	} `yaml:"guardians"`
}

// Parse decodes YAML bytes into a Document.
func Parse(data []byte) (*Document, error) {
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("blueprintio: parse: %w", err)
	}
	return &doc, nil
}

// Build resolves a Document into a store.Blueprint, assigning fresh ids to
// every role/interaction/component/guardian and rewriting name references
// into those ids.
func Build(doc *Document) (store.Blueprint, error) {
	if doc.Workflow.Name == "" {
		return store.Blueprint{}, fmt.Errorf("blueprintio: workflow.name is required")
	}

	workflowID := doc.Workflow.ID
	if workflowID == "" {
		workflowID = uuid.NewString()
	}

	bp := store.Blueprint{
		Workflow: model.Workflow{
			ID: workflowID, Name: doc.Workflow.Name, Version: doc.Workflow.Version, Notes: doc.Workflow.Notes,
		},
	}

	roleIDByName := make(map[string]string, len(doc.Roles))
	for _, r := range doc.Roles {
		if r.Name == "" {
			return store.Blueprint{}, fmt.Errorf("blueprintio: role with empty name")
		}
		id := uuid.NewString()
		roleIDByName[r.Name] = id
		bp.Roles = append(bp.Roles, model.Role{
			ID: id, WorkflowID: workflowID, Name: r.Name,
			Type:            model.RoleType(r.Type),
			Decomposition:   model.DecompositionStrategy(r.Decomposition),
			ChildWorkflowID: r.ChildWorkflow,
		})
	}

	interactionIDByName := make(map[string]string, len(doc.Interactions))
	for _, i := range doc.Interactions {
		if i.Name == "" {
			return store.Blueprint{}, fmt.Errorf("blueprintio: interaction with empty name")
		}
		id := uuid.NewString()
		interactionIDByName[i.Name] = id
		bp.Interactions = append(bp.Interactions, model.Interaction{ID: id, WorkflowID: workflowID, Name: i.Name})
	}

	componentIDByName := make(map[string]string, len(doc.Components))
	for idx, c := range doc.Components {
		roleID, ok := roleIDByName[c.Role]
		if !ok {
			return store.Blueprint{}, fmt.Errorf("blueprintio: component[%d] references unknown role %q", idx, c.Role)
		}
		interactionID, ok := interactionIDByName[c.Interaction]
		if !ok {
			return store.Blueprint{}, fmt.Errorf("blueprintio: component[%d] references unknown interaction %q", idx, c.Interaction)
		}
		direction := model.ComponentDirection(c.Direction)
		if direction != model.DirectionInbound && direction != model.DirectionOutbound {
			return store.Blueprint{}, fmt.Errorf("blueprintio: component[%d] has invalid direction %q", idx, c.Direction)
		}
		id := uuid.NewString()
		key := c.Role + ">" + c.Interaction + ">" + c.Direction
		componentIDByName[key] = id
		bp.Components = append(bp.Components, model.Component{
			ID: id, WorkflowID: workflowID, InteractionID: interactionID, RoleID: roleID,
			Direction: direction, Name: c.Name,
		})
	}

	for idx, g := range doc.Guardians {
		componentID, ok := componentIDByName[g.Component]
		if !ok {
			return store.Blueprint{}, fmt.Errorf("blueprintio: guardian[%d] references unknown component %q (expected \"role>interaction>direction\")", idx, g.Component)
		}
		bp.Guardians = append(bp.Guardians, model.Guardian{
			ID: uuid.NewString(), WorkflowID: workflowID, ComponentID: componentID,
			Type: model.GuardianType(g.Type), Config: g.Config,
		})
	}

	if err := Validate(bp); err != nil {
		return store.Blueprint{}, err
	}
	return bp, nil
}

// Validate checks exactly one ALPHA role, that the ALPHA role has an
// outbound component, every component referencing a role/interaction that
// exists in the same blueprint, and every guardian referencing a component
// in the same blueprint. It does not check the other topology invariants:
// role counts for OMEGA/EPSILON/TAU, BETA decomposition strategies,
// producer/consumer pairs per interaction, required guardians, or role
// reachability.
func Validate(bp store.Blueprint) error {
	alphaCount := 0
	roleIDs := make(map[string]bool, len(bp.Roles))
	for _, r := range bp.Roles {
		roleIDs[r.ID] = true
		if r.Type == model.RoleAlpha {
			alphaCount++
		}
	}
	if alphaCount != 1 {
		return fmt.Errorf("blueprintio: R1 violated: workflow must have exactly one ALPHA role, found %d", alphaCount)
	}

	interactionIDs := make(map[string]bool, len(bp.Interactions))
	for _, i := range bp.Interactions {
		interactionIDs[i.ID] = true
	}

	componentIDs := make(map[string]bool, len(bp.Components))
	for _, c := range bp.Components {
		if !roleIDs[c.RoleID] {
			return fmt.Errorf("blueprintio: component %s references unknown role id %s", c.ID, c.RoleID)
		}
		if !interactionIDs[c.InteractionID] {
			return fmt.Errorf("blueprintio: component %s references unknown interaction id %s", c.ID, c.InteractionID)
		}
		componentIDs[c.ID] = true
	}

	for _, g := range bp.Guardians {
		if !componentIDs[g.ComponentID] {
			return fmt.Errorf("blueprintio: guardian %s references unknown component id %s", g.ID, g.ComponentID)
		}
	}

	for _, r := range bp.Roles {
		if r.Type == model.RoleAlpha {
			hasOutbound := false
			for _, c := range bp.Components {
				if c.RoleID == r.ID && c.Direction == model.DirectionOutbound {
					hasOutbound = true
					break
				}
			}
			if !hasOutbound {
				return fmt.Errorf("blueprintio: R1 violated: ALPHA role %s has no outbound component", r.Name)
			}
		}
	}

	return nil
}
