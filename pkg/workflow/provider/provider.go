// Package provider resolves abstract model ids to providers with a
// whitelist and safe failover, grounded on
// original_source/chameleon_workflow_engine/provider_router.py. This is a
// supplemented feature (SPEC_FULL.md §12.2): spec.md §4.3.2 only specifies
// the mutation/audit side of model_override; the whitelist/failover
// resolution logic itself comes from the original. The actual outbound LLM
// HTTP call remains the Non-goal thin-adapter boundary — this package never
// makes a network call.
package provider

import (
	"os"
	"sort"

	"github.com/sirupsen/logrus"
)

// Router maps model ids to providers and applies a safe failover model when
// a requested id is not whitelisted.
type Router struct {
	modelProviderMap map[string]string
	whitelist        map[string]bool
	failoverModelID  string
	log              *logrus.Entry
}

// DefaultFailoverModel matches the original's safe, cheap, reliable default.
const DefaultFailoverModel = "gemini-flash"

// NewRouter builds a Router from the original's model_provider_map.
func NewRouter(log *logrus.Entry) *Router {
	modelProviderMap := map[string]string{
		"gpt-4o":          "openai",
		"gpt-4-turbo":     "openai",
		"gpt-4":           "openai",
		"gpt-3.5-turbo":   "openai",
		"claude-3-opus":   "anthropic",
		"claude-3-sonnet": "anthropic",
		"claude-3-haiku":  "anthropic",
		"gemini-pro":      "google",
		"gemini-flash":    "google",
		"grok-1-pro":      "xai",
		"default":         DefaultFailoverModel,
	}
	whitelist := make(map[string]bool, len(modelProviderMap))
	for id := range modelProviderMap {
		whitelist[id] = true
	}
	if log == nil {
		log = logrus.NewEntry(logrus.New())
	}
	return &Router{
		modelProviderMap: modelProviderMap,
		whitelist:        whitelist,
		failoverModelID:  DefaultFailoverModel,
		log:              log,
	}
}

// ValidateWhitelist reports whether modelID is an allowed model.
func (r *Router) ValidateWhitelist(modelID string) bool {
	if r.whitelist[modelID] {
		return true
	}
	allowed := make([]string, 0, len(r.whitelist))
	for id := range r.whitelist {
		allowed = append(allowed, id)
	}
	sort.Strings(allowed)
	r.log.WithField("model_id", modelID).WithField("whitelist", allowed).
		Warn("model id failed whitelist validation")
	return false
}

// GetFailoverModel returns the safe failover model id.
func (r *Router) GetFailoverModel(modelID string) string {
	r.log.WithField("requested_model", modelID).WithField("failover_model", r.failoverModelID).
		Info("initiating model failover")
	return r.failoverModelID
}

// ResolveModel maps a (possibly already-failed-over) model id to its
// provider name.
func (r *Router) ResolveModel(modelID string) (provider, resolvedModel string) {
	if _, ok := r.modelProviderMap[modelID]; !ok {
		modelID = r.failoverModelID
	}
	return r.modelProviderMap[modelID], modelID
}

// Resolve implements guard.ModelResolver: it validates modelID against the
// whitelist, substituting the failover model (and reporting failoverUsed)
// when the requested id is not recognized.
func (r *Router) Resolve(modelID string) (resolved string, failoverUsed bool) {
	if r.ValidateWhitelist(modelID) {
		return modelID, false
	}
	return r.GetFailoverModel(modelID), true
}

// GetProviderCredentials retrieves the API key for a provider from the
// environment. Matches the original's os.getenv stub — credential storage
// proper (Vault, Secrets Manager) stays out of scope.
func (r *Router) GetProviderCredentials(providerName string) string {
	envVarMap := map[string]string{
		"openai":    "OPENAI_API_KEY",
		"anthropic": "ANTHROPIC_API_KEY",
		"google":    "GOOGLE_API_KEY",
		"xai":       "XAI_API_KEY",
	}
	envVar, ok := envVarMap[providerName]
	if !ok {
		r.log.WithField("provider", providerName).Warn("no credential mapping for provider")
		return ""
	}
	key := os.Getenv(envVar)
	if key == "" {
		r.log.WithField("provider", providerName).WithField("env_var", envVar).
			Warn("api key not found for provider")
	}
	return key
}

// ModelConfig is the complete resolved configuration for a model request.
type ModelConfig struct {
	ModelID       string
	Provider      string
	APIKey        string
	IsWhitelisted bool
	IsFailover    bool
}

// GetModelConfig resolves modelID to a ModelConfig, substituting the
// failover model when modelID is not whitelisted.
func (r *Router) GetModelConfig(modelID string) ModelConfig {
	isWhitelisted := r.ValidateWhitelist(modelID)
	isFailover := false
	if !isWhitelisted {
		modelID = r.GetFailoverModel(modelID)
		isFailover = true
	}
	providerName, resolvedModel := r.ResolveModel(modelID)
	return ModelConfig{
		ModelID:       resolvedModel,
		Provider:      providerName,
		APIKey:        r.GetProviderCredentials(providerName),
		IsWhitelisted: isWhitelisted,
		IsFailover:    isFailover,
	}
}
