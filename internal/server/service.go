package server

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jonathan/interview-evaluator/internal/jobs"
	"github.com/jonathan/interview-evaluator/internal/logger"
	"github.com/jonathan/interview-evaluator/internal/pipeline"
	"github.com/jonathan/interview-evaluator/internal/prompts"
	"github.com/jonathan/interview-evaluator/internal/stream"
)

// Service wires the pipeline runner, job store, prompt store, and event
// broadcaster behind the HTTP handlers.
type Service struct {
	runner      *pipeline.Runner
	jobs        *jobs.Store
	promptStore *prompts.Store
	broadcaster *stream.Broadcaster
	log         *zap.Logger

	// baseCtx bounds background evaluations so they stop on shutdown.
	baseCtx context.Context
}

// NewService creates the evaluation service. ctx is the lifetime of the
// process; cancelling it aborts in-flight evaluations.
func NewService(ctx context.Context, runner *pipeline.Runner, jobStore *jobs.Store, promptStore *prompts.Store, broadcaster *stream.Broadcaster, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		runner:      runner,
		jobs:        jobStore,
		promptStore: promptStore,
		broadcaster: broadcaster,
		log:         log,
		baseCtx:     ctx,
	}
}

func (svc *Service) promptsReady() bool {
	for _, agent := range prompts.Agents() {
		if _, err := svc.promptStore.Active(agent); err != nil {
			return false
		}
	}
	return true
}

// StartEvaluation registers a job and launches the pipeline in the
// background, returning the job ID immediately.
func (svc *Service) StartEvaluation(input jobs.Input) string {
	id := uuid.New().String()
	svc.jobs.Create(id, input)
	go svc.process(id, input)
	return id
}

func (svc *Service) process(id string, input jobs.Input) {
	status := jobs.StatusProcessing
	svc.jobs.Update(id, jobs.Patch{Status: &status})

	state := pipeline.NewState(input.Rubric, input.Transcript, input.Candidate)
	err := svc.runner.Run(svc.baseCtx, state, func(ev pipeline.ProgressEvent) {
		svc.jobs.Update(id, jobs.Patch{Progress: &ev.Progress})
		svc.broadcaster.Publish(id, stream.Event{
			Type:     ev.Type,
			Stage:    string(ev.Stage),
			Progress: ev.Progress,
			Preview:  logger.Truncate(ev.Preview, 200),
			Tokens:   eventTokens(ev),
		})
	})
	defer svc.broadcaster.Forget(id)

	if err != nil {
		svc.log.Error("evaluation failed", zap.String("job_id", id), zap.Error(err))
		status := jobs.StatusFailed
		msg := err.Error()
		rec := svc.jobs.Update(id, jobs.Patch{Status: &status, Error: &msg})
		if rec == nil {
			return // expired mid-run
		}
		svc.broadcaster.Publish(id, stream.Event{
			Type:     stream.EventFailed,
			Progress: rec.Progress,
			Error:    msg,
		})
		return
	}

	status = jobs.StatusCompleted
	progress := 100
	rec := svc.jobs.Update(id, jobs.Patch{Status: &status, Progress: &progress, Result: state})
	if rec == nil {
		return
	}
	svc.log.Info("evaluation completed",
		zap.String("job_id", id),
		zap.Int("total_tokens", state.Metadata.Tokens.Total),
		zap.Float64("cost_usd", state.Metadata.CostUSD))
	svc.broadcaster.Publish(id, stream.Event{
		Type:     stream.EventCompleted,
		Progress: 100,
		Result:   state,
	})
}

func eventTokens(ev pipeline.ProgressEvent) *stream.Tokens {
	if ev.Type != pipeline.EventStageCompleted {
		return nil
	}
	return &stream.Tokens{Input: ev.InputTokens, Output: ev.OutputTokens}
}
