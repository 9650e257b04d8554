// Command chameleon-agent runs a single AI_AGENT actor against a running
// instance: it polls one role's inbox, prompts a configured LLM provider
// with the checked-out unit of work, and submits the model's JSON reply.
// Grounded on the teacher's examples/ main-function shape (flag parsing,
// signal-driven shutdown) adapted from a generic graph run to the
// checkout/submit loop of pkg/workflow/llmactor.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/clydewatts1/chameleon-workflow-engine/internal/config"
	"github.com/clydewatts1/chameleon-workflow-engine/internal/storedriver"
	"github.com/clydewatts1/chameleon-workflow-engine/pkg/workflow/engine"
	"github.com/clydewatts1/chameleon-workflow-engine/pkg/workflow/llmactor"
	"github.com/clydewatts1/chameleon-workflow-engine/pkg/workflow/llmactor/anthropic"
	"github.com/clydewatts1/chameleon-workflow-engine/pkg/workflow/llmactor/openai"
)

func main() {
	var (
		configPath string
		provider   string
		modelName  string
		actorID    string
		roleID     string
	)
	flag.StringVar(&configPath, "config", "", "path to config file (optional)")
	flag.StringVar(&provider, "provider", "anthropic", "LLM provider: anthropic | openai")
	flag.StringVar(&modelName, "model", "", "model id (empty uses the provider's default)")
	flag.StringVar(&actorID, "actor-id", "", "actor id to check out work as (required)")
	flag.StringVar(&roleID, "role-id", "", "role id to poll (required)")
	flag.Parse()

	if actorID == "" || roleID == "" {
		fmt.Fprintln(os.Stderr, "chameleon-agent: -actor-id and -role-id are required")
		os.Exit(2)
	}

	if err := run(configPath, provider, modelName, actorID, roleID); err != nil {
		fmt.Fprintf(os.Stderr, "chameleon-agent: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath, provider, modelName, actorID, roleID string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	chat, err := buildChatModel(provider, modelName)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	opened, err := storedriver.Open(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	if opened.DB != nil {
		defer opened.DB.Close()
	}

	eng := engine.New(opened.Store)
	agent := llmactor.New(eng, chat, actorID, roleID)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	if err := agent.Run(ctx); err != nil && ctx.Err() == nil {
		return fmt.Errorf("agent run: %w", err)
	}
	return nil
}

func buildChatModel(provider, modelName string) (llmactor.ChatModel, error) {
	switch provider {
	case "anthropic":
		return anthropic.NewChatModel(os.Getenv("ANTHROPIC_API_KEY"), modelName), nil
	case "openai":
		return openai.NewChatModel(os.Getenv("OPENAI_API_KEY"), modelName), nil
	default:
		return nil, fmt.Errorf("unknown provider %q (want anthropic or openai)", provider)
	}
}
