package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/cleargrid-labs/conductor/pkg/budget"
	"github.com/cleargrid-labs/conductor/pkg/jobs"
)

// DefaultRunTokens is the token allowance granted to a director run when
// the configuration does not override it.
const DefaultRunTokens = 4096

// StepResult captures the outcome of one executed plan step.
type StepResult struct {
	StepID string `json:"stepId"`
	Tool   string `json:"tool,omitempty"`
	Output any    `json:"output,omitempty"`
	Tokens int    `json:"tokens"`
}

// PlanResult is the director's terminal payload for a completed plan.
type PlanResult struct {
	PlanID          string       `json:"planId"`
	Steps           []StepResult `json:"steps"`
	TokensRemaining int          `json:"tokensRemaining"`
}

// Director executes plan jobs: static budget admission first, then the
// steps in order, charging each step's reasoning against a per-run token
// budget and routing tool calls through the dispatcher. A failed step
// fails the plan; there is no partial retry.
type Director struct {
	validator  *budget.PlanValidator
	dispatcher Dispatcher
	runTokens  float64
	logger     *slog.Logger
}

// DirectorOption configures a Director.
type DirectorOption func(*Director)

// WithRunTokens sets the per-run token allowance.
func WithRunTokens(tokens float64) DirectorOption {
	return func(d *Director) {
		if tokens > 0 {
			d.runTokens = tokens
		}
	}
}

// WithDirectorLogger sets the director's logger.
func WithDirectorLogger(logger *slog.Logger) DirectorOption {
	return func(d *Director) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// NewDirector creates a plan-executing handler.
func NewDirector(dispatcher Dispatcher, opts ...DirectorOption) *Director {
	d := &Director{
		dispatcher: dispatcher,
		runTokens:  DefaultRunTokens,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.validator = budget.NewPlanValidator(d.logger)
	return d
}

// Handle decodes the plan from the job payload and executes it.
func (d *Director) Handle(ctx context.Context, job *jobs.Job) (json.RawMessage, error) {
	var plan budget.Plan
	if err := json.Unmarshal(job.Payload, &plan); err != nil {
		return nil, fmt.Errorf("decode plan: %w", err)
	}
	if err := d.validator.Validate(&plan); err != nil {
		return nil, err
	}

	runBudget, err := budget.NewTokenBudget(d.runTokens)
	if err != nil {
		return nil, err
	}

	result := PlanResult{PlanID: plan.ID, Steps: make([]StepResult, 0, len(plan.Steps))}
	for _, step := range plan.Steps {
		tokens := runBudget.EstimatePromptTokens(step.Reasoning)
		if err := runBudget.Consume(float64(tokens)); err != nil {
			return nil, fmt.Errorf("step %s: %w", step.ID, err)
		}

		stepResult := StepResult{StepID: step.ID, Tool: step.ToolName, Tokens: tokens}
		if step.ToolName != "" {
			output, err := d.dispatcher.Dispatch(ctx, job.OrgID, step.ToolName, step.Inputs)
			if err != nil {
				d.logger.Error("plan step failed",
					"plan_id", plan.ID,
					"step_id", step.ID,
					"tool", step.ToolName,
					"error", err)
				return nil, fmt.Errorf("step %s (%s): %w", step.ID, step.ToolName, err)
			}
			stepResult.Output = output
		}

		d.logger.Debug("plan step executed",
			"plan_id", plan.ID,
			"step_id", step.ID,
			"tool", step.ToolName,
			"tokens", tokens,
			"tokens_remaining", runBudget.Remaining())
		result.Steps = append(result.Steps, stepResult)
	}
	result.TokensRemaining = runBudget.Remaining()

	return json.Marshal(result)
}
