package pipeline

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/jonathan/interview-evaluator/internal/llm"
	"github.com/jonathan/interview-evaluator/internal/logger"
	"github.com/jonathan/interview-evaluator/internal/prompts"
)

// Generator is the slice of the model gateway the pipeline needs.
type Generator interface {
	Generate(ctx context.Context, req llm.Request) (*llm.Result, error)
}

// PromptSource resolves an agent to its active system prompt.
type PromptSource interface {
	Active(agent prompts.Agent) (string, error)
}

// ModelSettings selects the model and sampling parameters for one agent.
type ModelSettings struct {
	Name        string
	MaxTokens   int32
	Temperature float32
}

// ProgressEvent reports a stage lifecycle transition.
type ProgressEvent struct {
	Type         string `json:"type"` // stage_started or stage_completed
	Stage        Stage  `json:"stage"`
	Progress     int    `json:"progress_percentage"`
	Preview      string `json:"output_preview,omitempty"`
	InputTokens  int    `json:"input_tokens,omitempty"`
	OutputTokens int    `json:"output_tokens,omitempty"`
}

// ProgressCallback is invoked at each stage boundary.
type ProgressCallback func(event ProgressEvent)

// Event types emitted through ProgressCallback.
const (
	EventStageStarted   = "stage_started"
	EventStageCompleted = "stage_completed"
)

// previewLen bounds the output preview attached to progress events.
const previewLen = 200

// progressCheckpoints maps each stage to its started/completed
// percentages. Four stages, evenly spaced.
var progressCheckpoints = map[Stage][2]int{
	StagePrimary:     {0, 25},
	StageChallenge:   {25, 50},
	StageCalibration: {50, 75},
	StageDecision:    {75, 100},
}

// StartProgress returns the percentage reported when a stage starts.
func StartProgress(stage Stage) int { return progressCheckpoints[stage][0] }

// DoneProgress returns the percentage reported when a stage completes.
func DoneProgress(stage Stage) int { return progressCheckpoints[stage][1] }

// Runner executes the four-stage evaluation pipeline. All collaborators
// are injected; a Runner is safe for concurrent use by independent runs.
type Runner struct {
	gateway Generator
	prompts PromptSource
	models  map[string]ModelSettings
	pricing llm.PriceTable
	log     *zap.Logger

	now func() time.Time
}

// NewRunner constructs a Runner. The models map is keyed by agent
// settings name (primary_agent, challenge_agent, response_agent,
// decision_agent); missing keys fall back to primary_agent.
func NewRunner(gateway Generator, promptSource PromptSource, models map[string]ModelSettings, pricing llm.PriceTable, log *zap.Logger) *Runner {
	if log == nil {
		log = zap.NewNop()
	}
	return &Runner{
		gateway: gateway,
		prompts: promptSource,
		models:  models,
		pricing: pricing,
		log:     log,
		now:     time.Now,
	}
}

// stageSpec binds a stage to its prompt identity, its model settings key,
// and its user message builder. Calibration deliberately reuses the
// primary agent's prompt: the primary evaluator revisits its own work.
type stageSpec struct {
	stage       Stage
	promptAgent prompts.Agent
	settingsKey string
	message     func(s *State) string
}

func stageSpecs() []stageSpec {
	return []stageSpec{
		{StagePrimary, prompts.AgentPrimary, "primary_agent", primaryMessage},
		{StageChallenge, prompts.AgentChallenge, "challenge_agent", challengeMessage},
		{StageCalibration, prompts.AgentPrimary, "response_agent", calibrationMessage},
		{StageDecision, prompts.AgentDecision, "decision_agent", decisionMessage},
	}
}

// Run executes all stages in order, mutating state as it goes. On stage
// failure the error is returned and state keeps everything written by
// completed stages; aggregate totals are computed only after the
// terminal stage succeeds.
func (r *Runner) Run(ctx context.Context, state *State, onProgress ProgressCallback) error {
	emit := func(ev ProgressEvent) {
		if onProgress != nil {
			onProgress(ev)
		}
	}

	for _, spec := range stageSpecs() {
		emit(ProgressEvent{
			Type:     EventStageStarted,
			Stage:    spec.stage,
			Progress: StartProgress(spec.stage),
		})

		if err := r.runStage(ctx, state, spec); err != nil {
			return fmt.Errorf("stage %s: %w", spec.stage, err)
		}

		in, out := state.stageTokens(spec.stage)
		emit(ProgressEvent{
			Type:         EventStageCompleted,
			Stage:        spec.stage,
			Progress:     DoneProgress(spec.stage),
			Preview:      logger.Truncate(state.stageOutput(spec.stage), previewLen),
			InputTokens:  in,
			OutputTokens: out,
		})
	}

	r.finalize(state)
	return nil
}

// runStage performs one model call and applies the stage's patch.
func (r *Runner) runStage(ctx context.Context, state *State, spec stageSpec) error {
	systemPrompt, err := r.prompts.Active(spec.promptAgent)
	if err != nil {
		return fmt.Errorf("loading prompt for %s: %w", spec.promptAgent, err)
	}

	settings := r.settings(spec.settingsKey)
	start := r.now()
	r.log.Info("stage started",
		zap.String("stage", string(spec.stage)),
		zap.String("model", settings.Name))

	res, err := r.gateway.Generate(ctx, llm.Request{
		Model:        settings.Name,
		SystemPrompt: systemPrompt,
		UserMessage:  spec.message(state),
		MaxTokens:    settings.MaxTokens,
		Temperature:  settings.Temperature,
	})
	if err != nil {
		return err
	}

	state.apply(stagePatch{
		stage:        spec.stage,
		output:       res.Text,
		inputTokens:  res.InputTokens,
		outputTokens: res.OutputTokens,
		completedAt:  r.now(),
	})

	if spec.stage == StageDecision {
		structured, narrative := ExtractDecision(res.Text)
		state.StructuredDecision = structured
		state.Decision = narrative
	}

	r.log.Info("stage completed",
		zap.String("stage", string(spec.stage)),
		zap.Duration("duration", r.now().Sub(start)),
		zap.Int("input_tokens", res.InputTokens),
		zap.Int("output_tokens", res.OutputTokens))
	return nil
}

// finalize computes the aggregate totals, once, after the terminal stage.
func (r *Runner) finalize(state *State) {
	t := &state.Metadata.Tokens
	totalInput := t.PrimaryInput + t.ChallengeInput + t.CalibrationInput + t.DecisionInput
	totalOutput := t.PrimaryOutput + t.ChallengeOutput + t.CalibrationOutput + t.DecisionOutput
	t.Total = totalInput + totalOutput

	state.Metadata.CostUSD = r.pricing.Cost(totalInput, totalOutput)
	state.Metadata.ExecutionTimeSeconds = r.now().Sub(state.Metadata.Timestamps.Start).Seconds()
	state.Metadata.ModelVersion = r.settings("decision_agent").Name
}

func (r *Runner) settings(key string) ModelSettings {
	if m, ok := r.models[key]; ok {
		return m
	}
	return r.models["primary_agent"]
}

func primaryMessage(s *State) string {
	return fmt.Sprintf(`## EVALUATION CONTEXT

**Candidate:** %s
**Current Level:** %s
**Target Level:** %s

**What Distinguishes Target from Current Level:**
%s

---

## EVALUATION CRITERIA (RUBRIC)

%s

---

## INTERVIEW TRANSCRIPT

%s

---

## YOUR TASK

Evaluate this candidate using the ReAct framework. For each criterion in the rubric, follow the THOUGHT, ACTION, OBSERVATION, REFLECTION cycle, then provide final scores and a preliminary recommendation.
`, s.Candidate.Name, s.Candidate.CurrentLevel, s.Candidate.TargetLevel, s.Candidate.LevelExpectations, s.Rubric, s.Transcript)
}

func challengeMessage(s *State) string {
	return fmt.Sprintf(`## PRIMARY EVALUATOR'S ASSESSMENT TO REVIEW

%s

---

## ORIGINAL TRANSCRIPT (for reference)

%s

---

## RUBRIC (to check critical criteria)

%s

---

## YOUR TASK

Review the primary evaluation and generate challenges. Focus on:
1. Critical criteria below required score
2. Evidence-score mismatches
3. "I" vs "We" attribution issues
4. Activity vs outcome gaps
5. Internal inconsistencies
6. Level appropriateness
`, s.PrimaryEvaluation, s.Transcript, s.Rubric)
}

func calibrationMessage(s *State) string {
	return fmt.Sprintf(`## YOUR ORIGINAL EVALUATION

%s

---

## CHALLENGES FROM PEER REVIEWER

%s

---

## ORIGINAL TRANSCRIPT (for re-examination)

%s

---

## YOUR TASK

Respond to each challenge raised by the peer evaluator. For each challenge, re-examine the transcript, then DEFEND your original score with additional evidence or REVISE it if the challenge is valid, and explain your reasoning.

Then provide your FINAL EVALUATION with: responses to challenges, final scores after calibration (showing which changed), a score-changes summary, the recalculated weighted score, updated critical-criteria status, and your final recommendation (STRONG RECOMMEND / RECOMMEND / BORDERLINE / DO NOT RECOMMEND) with rationale and development areas.
`, s.PrimaryEvaluation, s.Challenges, s.Transcript)
}

func decisionMessage(s *State) string {
	return fmt.Sprintf(`## CALIBRATED EVALUATION (After Primary Response to Challenges)

%s

---

## RUBRIC

%s

---

## CANDIDATE INFORMATION

**Name:** %s
**Current Level:** %s
**Target Level:** %s
**Years at Current Level:** %d

**Level Expectations:**
%s

---

## YOUR TASK

Review the calibrated evaluation and make a final promotion decision:

1. Extract the overall scores and identify critical criteria from the rubric
2. Conduct holistic assessment beyond just scores
3. Assess promotion risk
4. Make final decision: **STRONG RECOMMEND / RECOMMEND / BORDERLINE / DO NOT RECOMMEND**

Provide comprehensive rationale, key factors, development areas, and confidence level.
`, s.FinalEvaluation, s.Rubric, s.Candidate.Name, s.Candidate.CurrentLevel, s.Candidate.TargetLevel, s.Candidate.YearsAtLevel, s.Candidate.LevelExpectations)
}
