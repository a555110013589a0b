// Package main provides the entry point for the interview evaluation service.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jonathan/interview-evaluator/internal/config"
	"github.com/jonathan/interview-evaluator/internal/logger"
)

var (
	cfgFile  string
	debugLog bool
	jsonLog  bool
)

var rootCmd = &cobra.Command{
	Use:   "interview_agent",
	Short: "Interview transcript evaluation service",
	Long:  "Runs interview transcripts through a multi-stage LLM evaluation pipeline (evaluate, challenge, calibrate, decide) and serves results over a REST and WebSocket API.",
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to config file (default: ./"+config.DefaultFileName+".yaml)")
	rootCmd.PersistentFlags().BoolVar(&debugLog, "debug", false, "Enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&jsonLog, "json", false, "Log in JSON format")
}

// setup loads configuration and builds the logger shared by all commands.
func setup() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, nil, err
	}
	log, err := logger.New(jsonLog, debugLog)
	if err != nil {
		return nil, nil, fmt.Errorf("creating logger: %w", err)
	}
	return cfg, log, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
