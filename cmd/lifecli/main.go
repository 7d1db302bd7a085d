// lifecli runs commands through the pipeline from a terminal. It builds the
// full parser/classifier/dispatch stack in-process, so it needs no server,
// queue, or database; results print as JSON.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"lifeboard.app/core/common/id"
	"lifeboard.app/core/common/llm"
	"lifeboard.app/core/core/config"
	"lifeboard.app/core/internal/catalog"
	"lifeboard.app/core/internal/classifier"
	"lifeboard.app/core/internal/dispatch"
	"lifeboard.app/core/internal/domain"
	"lifeboard.app/core/internal/handlers"
	"lifeboard.app/core/internal/orchestrator"
	"lifeboard.app/core/internal/parser"
)

const (
	exitOK      = 0
	exitError   = 1
	exitPartial = 2
)

func main() {
	root := &cobra.Command{
		Use:           "lifecli",
		Short:         "Run life-event commands through the orchestration core",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	var sessionID string
	submit := &cobra.Command{
		Use:   "submit [utterance]",
		Short: "Classify and dispatch a single command",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSubmit(cmd.Context(), strings.Join(args, " "), sessionID)
		},
	}
	submit.Flags().StringVar(&sessionID, "session", "", "session id to record with the command")

	events := &cobra.Command{
		Use:   "events",
		Short: "List the catalogued event types",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEvents(cmd.OutOrStdout())
		},
	}

	root.AddCommand(submit, events)

	if err := root.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(exitError)
	}
}

func runSubmit(ctx context.Context, utterance, sessionID string) error {
	o, err := buildPipeline()
	if err != nil {
		return err
	}

	result, err := o.ProcessCommand(ctx, orchestrator.Command{
		Utterance: utterance,
		SessionID: sessionID,
	})
	if err != nil {
		var derr *domain.Error
		if errors.As(err, &derr) {
			printJSON(os.Stdout, map[string]any{
				"error_kind":     string(derr.Kind),
				"message":        derr.Message,
				"event_type":     string(derr.EventType),
				"missing_fields": derr.Missing,
			})
			os.Exit(exitError)
		}
		return err
	}

	printJSON(os.Stdout, result)

	switch result.Status {
	case domain.StatusPartial:
		os.Exit(exitPartial)
	case domain.StatusError:
		os.Exit(exitError)
	}
	return nil
}

func runEvents(out io.Writer) error {
	cat, err := loadCatalog()
	if err != nil {
		return err
	}

	for _, et := range cat.EventTypes() {
		desc, ok := cat.DescriptorFor(et)
		if !ok {
			continue
		}
		fmt.Fprintf(out, "%-20s %-10s %-10s keywords: %s\n",
			et, desc.Category, desc.Module, strings.Join(desc.Keywords, ", "))
	}
	return nil
}

func buildPipeline() (*orchestrator.Orchestrator, error) {
	cfg, err := config.Load(config.ServiceTypeCLI)
	if err != nil {
		return nil, err
	}

	// Keep stdout for results; diagnostics go to stderr.
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	})))

	if err := id.Init(3); err != nil {
		return nil, err
	}

	cat, err := loadCatalogWith(cfg)
	if err != nil {
		return nil, err
	}

	interpreter := parser.Disabled()
	if cfg.ParserLLM.Enabled() {
		llmClient, err := llm.New(llm.Config{
			Provider: cfg.ParserLLM.Provider,
			APIKey:   cfg.ParserLLM.APIKey,
			BaseURL:  cfg.ParserLLM.BaseURL,
			Model:    cfg.ParserLLM.Model,
		})
		if err != nil {
			return nil, err
		}
		interpreter = parser.NewClient(llmClient, cat, parser.Config{
			Timeout:   cfg.Parser.Timeout,
			MaxTokens: cfg.ParserLLM.MaxTokens,
		})
	}

	return orchestrator.New(
		interpreter,
		classifier.New(cat, classifier.Config{
			MinConfidence:    cfg.Classifier.MinConfidence,
			SecondaryPenalty: cfg.Classifier.SecondaryPenalty,
		}),
		dispatch.New(handlers.NewRegistry(), dispatch.Config{
			PrimaryRetry:   cfg.Dispatch.PrimaryRetry,
			SecondaryRetry: cfg.Dispatch.SecondaryRetry,
			BackoffInitial: cfg.Dispatch.BackoffInitial,
			BackoffFactor:  cfg.Dispatch.BackoffFactor,
			BackoffMax:     cfg.Dispatch.BackoffMax,
			MaxParallel:    cfg.Dispatch.MaxParallel,
		}),
		nil,
	), nil
}

func loadCatalog() (*catalog.Catalog, error) {
	cfg, err := config.Load(config.ServiceTypeCLI)
	if err != nil {
		return nil, err
	}
	return loadCatalogWith(cfg)
}

func loadCatalogWith(cfg config.Config) (*catalog.Catalog, error) {
	if cfg.CatalogPath != "" {
		return catalog.LoadFile(cfg.CatalogPath)
	}
	return catalog.Default()
}

func printJSON(out *os.File, v any) {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}
