package llmactor

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/clydewatts1/chameleon-workflow-engine/pkg/workflow/engine"
)

// Agent drives one AI_AGENT actor's checkout_work/submit_work loop through
// an llmactor.ChatModel: it polls a role's inbox, prompts the model with the
// checked-out UOW's attributes and injected memory context, and submits the
// model's JSON response as result attributes. Any non-JSON or errored reply
// is reported via report_failure rather than silently dropped.
type Agent struct {
	engine       *engine.Engine
	chat         ChatModel
	actorID      string
	roleID       string
	systemPrompt string
	pollInterval time.Duration
	log          *logrus.Entry
}

// Option configures an Agent.
type Option func(*Agent)

// WithSystemPrompt overrides the default instructions prepended to every
// prompt (e.g. a CONDITIONAL_INJECTOR's injected_instructions).
func WithSystemPrompt(prompt string) Option {
	return func(a *Agent) { a.systemPrompt = prompt }
}

// WithPollInterval sets how long the agent sleeps after an empty checkout
// before retrying (default 2s).
func WithPollInterval(d time.Duration) Option {
	return func(a *Agent) { a.pollInterval = d }
}

// WithLogger overrides the default logger (a fresh logrus logger writing
// to stderr).
func WithLogger(log *logrus.Entry) Option {
	return func(a *Agent) { a.log = log }
}

const defaultSystemPrompt = "You are an AI_AGENT actor in a workflow engine. " +
	"You will be given a unit of work's current attributes and your role's " +
	"memory context as JSON. Respond with a single JSON object of the " +
	"attributes to merge into the unit of work; respond with {} if there is " +
	"nothing to change."

// New builds an Agent that checks out work for roleID as actorID.
func New(eng *engine.Engine, chat ChatModel, actorID, roleID string, opts ...Option) *Agent {
	a := &Agent{
		engine:       eng,
		chat:         chat,
		actorID:      actorID,
		roleID:       roleID,
		systemPrompt: defaultSystemPrompt,
		pollInterval: 2 * time.Second,
		log:          logrus.NewEntry(logrus.New()),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Run loops checkout/process/submit until ctx is cancelled.
func (a *Agent) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		processed, err := a.step(ctx)
		if err != nil {
			a.log.WithError(err).Warn("llmactor: step failed")
		}
		if !processed {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(a.pollInterval):
			}
		}
	}
}

// step performs a single checkout→chat→submit cycle. It reports true when a
// UOW was actually checked out (whether or not it then succeeded), so Run
// knows not to sleep before immediately looking for more work.
func (a *Agent) step(ctx context.Context) (bool, error) {
	work, err := a.engine.CheckoutWork(ctx, a.actorID, a.roleID)
	if err != nil {
		return false, fmt.Errorf("checkout: %w", err)
	}
	if work == nil {
		return false, nil
	}

	reply, err := a.chat.Chat(ctx, a.buildMessages(work.Attributes, work.Context), nil)
	if err != nil {
		if failErr := a.engine.ReportFailure(ctx, work.UOWID, a.actorID, "LLM_CALL_FAILED", err.Error()); failErr != nil {
			return true, fmt.Errorf("chat: %w (and report_failure also failed: %v)", err, failErr)
		}
		return true, nil
	}

	resultAttrs, err := parseResultAttributes(reply.Text)
	if err != nil {
		if failErr := a.engine.ReportFailure(ctx, work.UOWID, a.actorID, "LLM_RESPONSE_UNPARSEABLE", err.Error()); failErr != nil {
			return true, fmt.Errorf("parse reply: %w (and report_failure also failed: %v)", err, failErr)
		}
		return true, nil
	}

	if err := a.engine.SubmitWork(ctx, work.UOWID, a.actorID, resultAttrs, "llmactor submission"); err != nil {
		return true, fmt.Errorf("submit: %w", err)
	}
	return true, nil
}

func (a *Agent) buildMessages(attributes, memoryContext map[string]interface{}) []Message {
	attrJSON, _ := json.Marshal(attributes)
	ctxJSON, _ := json.Marshal(memoryContext)
	return []Message{
		{Role: RoleSystem, Content: a.systemPrompt},
		{Role: RoleUser, Content: fmt.Sprintf("current_attributes: %s\nmemory_context: %s", attrJSON, ctxJSON)},
	}
}

// parseResultAttributes extracts the first top-level JSON object from text,
// tolerating surrounding prose or a ```json fenced block the model may add.
func parseResultAttributes(text string) (map[string]interface{}, error) {
	start := -1
	depth := 0
	for i, r := range text {
		switch r {
		case '{':
			if depth == 0 {
				start = i
			}
			depth++
		case '}':
			depth--
			if depth == 0 && start >= 0 {
				var out map[string]interface{}
				if err := json.Unmarshal([]byte(text[start:i+1]), &out); err != nil {
					return nil, fmt.Errorf("parse json object: %w", err)
				}
				return out, nil
			}
		}
	}
	return nil, fmt.Errorf("no JSON object found in model response")
}
