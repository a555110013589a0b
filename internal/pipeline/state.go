// Package pipeline runs the four-stage evaluation: primary evaluation,
// challenge, calibration, decision. Stages execute strictly in order;
// each stage consumes the previous stage's output and writes exactly one
// output field of the state.
package pipeline

import "time"

// Stage identifies one step of the pipeline.
type Stage string

// Pipeline stages, in execution order.
const (
	StagePrimary     Stage = "primary_evaluation"
	StageChallenge   Stage = "challenge"
	StageCalibration Stage = "calibration"
	StageDecision    Stage = "decision"
)

// Stages lists the pipeline stages in execution order.
func Stages() []Stage {
	return []Stage{StagePrimary, StageChallenge, StageCalibration, StageDecision}
}

// CandidateInfo describes the candidate being evaluated. Only the name is
// required; the level fields matter for promotion evaluations.
type CandidateInfo struct {
	Name              string `json:"name"`
	CurrentLevel      string `json:"current_level,omitempty"`
	TargetLevel       string `json:"target_level,omitempty"`
	YearsAtLevel      int    `json:"years_experience,omitempty"`
	LevelExpectations string `json:"level_expectations,omitempty"`
}

// TokenUsage tracks the input/output token split per stage. Entries are
// written once by their stage and never retracted; Total is computed only
// after the terminal stage.
type TokenUsage struct {
	PrimaryInput      int `json:"primary_input"`
	PrimaryOutput     int `json:"primary_output"`
	ChallengeInput    int `json:"challenge_input"`
	ChallengeOutput   int `json:"challenge_output"`
	CalibrationInput  int `json:"final_input"`
	CalibrationOutput int `json:"final_output"`
	DecisionInput     int `json:"decision_input"`
	DecisionOutput    int `json:"decision_output"`
	Total             int `json:"total"`
}

// Timestamps records when the run started and when each stage completed.
type Timestamps struct {
	Start       time.Time `json:"start"`
	Primary     time.Time `json:"primary,omitzero"`
	Challenge   time.Time `json:"challenge,omitzero"`
	Calibration time.Time `json:"final,omitzero"`
	Decision    time.Time `json:"decision,omitzero"`
}

// Metadata aggregates execution accounting for a run.
type Metadata struct {
	Tokens               TokenUsage `json:"tokens"`
	Timestamps           Timestamps `json:"timestamps"`
	ModelVersion         string     `json:"model_version,omitempty"`
	CostUSD              float64    `json:"cost_usd"`
	ExecutionTimeSeconds float64    `json:"execution_time_seconds"`
}

// State is the record threaded through all stages. Inputs are immutable
// after creation; each output field is owned by exactly one stage.
type State struct {
	// Inputs.
	Rubric     string        `json:"rubric"`
	Transcript string        `json:"transcript"`
	Candidate  CandidateInfo `json:"candidate_info"`

	// Outputs, populated in stage order.
	PrimaryEvaluation string `json:"primary_evaluation,omitempty"`
	Challenges        string `json:"challenges,omitempty"`
	FinalEvaluation   string `json:"final_evaluation,omitempty"`
	Decision          string `json:"decision,omitempty"`

	// StructuredDecision is extracted best-effort from the decision
	// text; nil when the response carried no parseable block.
	StructuredDecision *StructuredDecision `json:"structured_decision,omitempty"`

	Metadata Metadata `json:"metadata"`
}

// NewState creates the initial state for a run.
func NewState(rubric, transcript string, candidate CandidateInfo) *State {
	return &State{
		Rubric:     rubric,
		Transcript: transcript,
		Candidate:  candidate,
		Metadata: Metadata{
			Timestamps: Timestamps{Start: time.Now()},
		},
	}
}

// stagePatch is the statically-typed update one stage applies to the
// state. Each stage writes its own output field and its own token and
// timestamp entries; nothing else.
type stagePatch struct {
	stage        Stage
	output       string
	inputTokens  int
	outputTokens int
	completedAt  time.Time
}

// apply writes the patch into the state. The field written is determined
// by the stage, so a stage can never clobber another stage's output.
func (s *State) apply(p stagePatch) {
	switch p.stage {
	case StagePrimary:
		s.PrimaryEvaluation = p.output
		s.Metadata.Tokens.PrimaryInput = p.inputTokens
		s.Metadata.Tokens.PrimaryOutput = p.outputTokens
		s.Metadata.Timestamps.Primary = p.completedAt
	case StageChallenge:
		s.Challenges = p.output
		s.Metadata.Tokens.ChallengeInput = p.inputTokens
		s.Metadata.Tokens.ChallengeOutput = p.outputTokens
		s.Metadata.Timestamps.Challenge = p.completedAt
	case StageCalibration:
		s.FinalEvaluation = p.output
		s.Metadata.Tokens.CalibrationInput = p.inputTokens
		s.Metadata.Tokens.CalibrationOutput = p.outputTokens
		s.Metadata.Timestamps.Calibration = p.completedAt
	case StageDecision:
		s.Decision = p.output
		s.Metadata.Tokens.DecisionInput = p.inputTokens
		s.Metadata.Tokens.DecisionOutput = p.outputTokens
		s.Metadata.Timestamps.Decision = p.completedAt
	}
}

// stageOutput returns the output text owned by a stage.
func (s *State) stageOutput(stage Stage) string {
	switch stage {
	case StagePrimary:
		return s.PrimaryEvaluation
	case StageChallenge:
		return s.Challenges
	case StageCalibration:
		return s.FinalEvaluation
	case StageDecision:
		return s.Decision
	}
	return ""
}

// stageTokens returns the token split recorded for a stage.
func (s *State) stageTokens(stage Stage) (input, output int) {
	t := s.Metadata.Tokens
	switch stage {
	case StagePrimary:
		return t.PrimaryInput, t.PrimaryOutput
	case StageChallenge:
		return t.ChallengeInput, t.ChallengeOutput
	case StageCalibration:
		return t.CalibrationInput, t.CalibrationOutput
	case StageDecision:
		return t.DecisionInput, t.DecisionOutput
	}
	return 0, 0
}
