// Command chameleon-seed loads a blueprint YAML fixture (spec.md §6) and
// writes it to the configured store, so cmd/chameleond has a workflow
// template to instantiate against.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/clydewatts1/chameleon-workflow-engine/internal/config"
	"github.com/clydewatts1/chameleon-workflow-engine/internal/storedriver"
	"github.com/clydewatts1/chameleon-workflow-engine/pkg/workflow/blueprintio"
)

func main() {
	var (
		configPath   string
		blueprintPth string
	)
	flag.StringVar(&configPath, "config", "", "path to config file (optional)")
	flag.StringVar(&blueprintPth, "blueprint", "", "path to blueprint YAML file (required)")
	flag.Parse()

	if blueprintPth == "" {
		fmt.Fprintln(os.Stderr, "chameleon-seed: -blueprint is required")
		os.Exit(2)
	}

	if err := run(configPath, blueprintPth); err != nil {
		log.Fatalf("chameleon-seed: %v", err)
	}
}

func run(configPath, blueprintPth string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	data, err := os.ReadFile(blueprintPth)
	if err != nil {
		return fmt.Errorf("read blueprint: %w", err)
	}

	doc, err := blueprintio.Parse(data)
	if err != nil {
		return err
	}
	bp, err := blueprintio.Build(doc)
	if err != nil {
		return fmt.Errorf("build blueprint: %w", err)
	}

	ctx := context.Background()
	opened, err := storedriver.Open(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	if opened.DB != nil {
		defer opened.DB.Close()
	}
	if opened.Writer == nil {
		return fmt.Errorf("store driver %q does not support seeding", cfg.StoreDriver)
	}

	if err := opened.Writer.PutBlueprint(ctx, bp); err != nil {
		return fmt.Errorf("put blueprint: %w", err)
	}

	fmt.Printf("seeded workflow %q (id=%s) with %d role(s), %d interaction(s), %d component(s), %d guardian(s)\n",
		bp.Workflow.Name, bp.Workflow.ID, len(bp.Roles), len(bp.Interactions), len(bp.Components), len(bp.Guardians))
	return nil
}
