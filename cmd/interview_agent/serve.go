package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/jonathan/interview-evaluator/internal/config"
	"github.com/jonathan/interview-evaluator/internal/jobs"
	"github.com/jonathan/interview-evaluator/internal/llm"
	"github.com/jonathan/interview-evaluator/internal/pipeline"
	"github.com/jonathan/interview-evaluator/internal/prompts"
	"github.com/jonathan/interview-evaluator/internal/server"
	"github.com/jonathan/interview-evaluator/internal/stream"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the REST API server",
	Long:  "Start an HTTP server that accepts evaluation requests, runs them through the pipeline in the background, and streams progress over WebSocket and SSE.",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "Port to listen on (overrides config)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(_ *cobra.Command, _ []string) error {
	cfg, log, err := setup()
	if err != nil {
		return err
	}
	defer log.Sync() //nolint:errcheck
	if servePort != 0 {
		cfg.Server.Port = servePort
	}

	apiKey := config.APIKey()
	if apiKey == "" {
		return fmt.Errorf("GEMINI_API_KEY environment variable is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	caller, err := llm.NewGeminiCaller(ctx, apiKey)
	if err != nil {
		return fmt.Errorf("creating model client: %w", err)
	}
	defer caller.Close() //nolint:errcheck

	promptStore, err := prompts.NewStore(cfg.PromptsDir)
	if err != nil {
		return fmt.Errorf("opening prompt store: %w", err)
	}

	gateway := llm.NewGateway(caller, llm.RetryPolicy{
		MaxAttempts:   cfg.Retry.MaxAttempts,
		BackoffFactor: cfg.Retry.BackoffFactor,
	}, cfg.CallTimeout, log)

	runner := pipeline.NewRunner(gateway, promptStore, modelSettings(cfg), llm.PriceTable{
		InputCostPerMTok:  cfg.Pricing.InputCostPerMTok,
		OutputCostPerMTok: cfg.Pricing.OutputCostPerMTok,
	}, log)

	jobStore := jobs.NewStore(cfg.Storage.TTL, log)
	broadcaster := stream.NewBroadcaster(log)
	svc := server.NewService(ctx, runner, jobStore, promptStore, broadcaster, log)

	srv := server.New(server.Config{
		Port:            cfg.Server.Port,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
		APIKeySet:       true,
	}, svc, log)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Run(gctx)
	})
	g.Go(func() error {
		jobStore.Janitor(gctx, cfg.Storage.JanitorInterval)
		return nil
	})
	g.Go(func() error {
		broadcaster.Heartbeat(gctx, cfg.Stream.HeartbeatInterval, jobStore.Processing)
		return nil
	})
	return g.Wait()
}

// modelSettings converts config agent entries into pipeline settings.
func modelSettings(cfg *config.Config) map[string]pipeline.ModelSettings {
	out := make(map[string]pipeline.ModelSettings, len(cfg.Models))
	for name, m := range cfg.Models {
		out[name] = pipeline.ModelSettings{
			Name:        m.ModelName,
			MaxTokens:   m.MaxTokens,
			Temperature: m.Temperature,
		}
	}
	return out
}
