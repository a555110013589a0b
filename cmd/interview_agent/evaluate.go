package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jonathan/interview-evaluator/internal/config"
	"github.com/jonathan/interview-evaluator/internal/llm"
	"github.com/jonathan/interview-evaluator/internal/pipeline"
	"github.com/jonathan/interview-evaluator/internal/prompts"
)

var (
	evalRubricPath     string
	evalTranscriptPath string
	evalName           string
	evalCurrentLevel   string
	evalTargetLevel    string
	evalYears          int
	evalExpectations   string
	evalOutputPath     string
)

var evaluateCmd = &cobra.Command{
	Use:   "evaluate",
	Short: "Run one evaluation from the command line",
	Long:  "Run a single interview transcript through the full pipeline and print the resulting evaluation as JSON, without starting the server.",
	RunE:  runEvaluate,
}

func init() {
	evaluateCmd.Flags().StringVar(&evalRubricPath, "rubric", "", "Path to the rubric file (required)")
	evaluateCmd.Flags().StringVar(&evalTranscriptPath, "transcript", "", "Path to the transcript file (required)")
	evaluateCmd.Flags().StringVar(&evalName, "name", "", "Candidate name (required)")
	evaluateCmd.Flags().StringVar(&evalCurrentLevel, "current-level", "", "Candidate's current level")
	evaluateCmd.Flags().StringVar(&evalTargetLevel, "target-level", "", "Level being evaluated for")
	evaluateCmd.Flags().IntVar(&evalYears, "years", 0, "Years at current level")
	evaluateCmd.Flags().StringVar(&evalExpectations, "expectations", "", "Level expectations text")
	evaluateCmd.Flags().StringVarP(&evalOutputPath, "output", "o", "", "Write result JSON to file instead of stdout")
	evaluateCmd.MarkFlagRequired("rubric")     //nolint:errcheck
	evaluateCmd.MarkFlagRequired("transcript") //nolint:errcheck
	evaluateCmd.MarkFlagRequired("name")       //nolint:errcheck
	rootCmd.AddCommand(evaluateCmd)
}

func runEvaluate(cmd *cobra.Command, _ []string) error {
	cfg, log, err := setup()
	if err != nil {
		return err
	}
	defer log.Sync() //nolint:errcheck

	rubric, err := os.ReadFile(evalRubricPath)
	if err != nil {
		return fmt.Errorf("reading rubric: %w", err)
	}
	transcript, err := os.ReadFile(evalTranscriptPath)
	if err != nil {
		return fmt.Errorf("reading transcript: %w", err)
	}

	apiKey := config.APIKey()
	if apiKey == "" {
		return fmt.Errorf("GEMINI_API_KEY environment variable is required")
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

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

	state := pipeline.NewState(string(rubric), string(transcript), pipeline.CandidateInfo{
		Name:              evalName,
		CurrentLevel:      evalCurrentLevel,
		TargetLevel:       evalTargetLevel,
		YearsAtLevel:      evalYears,
		LevelExpectations: evalExpectations,
	})

	err = runner.Run(ctx, state, func(ev pipeline.ProgressEvent) {
		log.Info("pipeline progress",
			zap.String("type", ev.Type),
			zap.String("stage", string(ev.Stage)),
			zap.Int("progress", ev.Progress))
	})
	if err != nil {
		return err
	}

	out, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding result: %w", err)
	}
	if evalOutputPath != "" {
		if err := os.WriteFile(evalOutputPath, out, 0o644); err != nil {
			return fmt.Errorf("writing result: %w", err)
		}
		log.Info("result written", zap.String("path", evalOutputPath))
		return nil
	}
	fmt.Println(string(out))
	return nil
}
