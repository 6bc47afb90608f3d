package budget

import (
	"fmt"
	"log/slog"
)

// Static ceilings for director plans. These bound what a plan may declare
// up front, independent of the per-run TokenBudget consumed at execution time.
const (
	MaxStepToolBudgetTokens = 32
	MaxPlanToolBudgetTokens = 128
)

// Plan is an ordered sequence of steps a director worker intends to execute.
type Plan struct {
	ID    string     `json:"id"`
	Steps []PlanStep `json:"steps"`
}

// PlanStep is a single discrete action within a plan.
type PlanStep struct {
	ID        string         `json:"id"`
	ToolName  string         `json:"tool_name,omitempty"`
	Inputs    map[string]any `json:"inputs,omitempty"`
	Reasoning string         `json:"reasoning,omitempty"`
	Execution *StepExecution `json:"execution,omitempty"`
}

// StepExecution is the optional execution envelope attached to a step.
type StepExecution struct {
	Budget *StepBudget `json:"budget,omitempty"`
}

// StepBudget declares the tool-token allowance a step intends to spend.
type StepBudget struct {
	Tokens int `json:"tokens"`
}

// StepBudgetError reports a single step exceeding the per-step ceiling.
// It is fatal to the whole plan; there is no partial admission.
type StepBudgetError struct {
	StepID string
	Tokens int
}

func (e *StepBudgetError) Error() string {
	return fmt.Sprintf("plan step %s exceeds tool budget: %d > %d tokens", e.StepID, e.Tokens, MaxStepToolBudgetTokens)
}

func (e *StepBudgetError) Unwrap() error { return ErrExceeded }

// PlanBudgetError reports the plan-wide total exceeding its ceiling.
type PlanBudgetError struct {
	Total int
}

func (e *PlanBudgetError) Error() string {
	return fmt.Sprintf("plan exceeds total tool budget: %d > %d tokens", e.Total, MaxPlanToolBudgetTokens)
}

func (e *PlanBudgetError) Unwrap() error { return ErrExceeded }

// PlanValidator statically checks a plan against the step and plan token
// ceilings. It is an admission gate: it runs once, before any step executes.
type PlanValidator struct {
	logger *slog.Logger
}

// NewPlanValidator creates a validator logging through the given logger.
func NewPlanValidator(logger *slog.Logger) *PlanValidator {
	if logger == nil {
		logger = slog.Default()
	}
	return &PlanValidator{logger: logger}
}

// Validate fails the plan on the first step whose declared tokens exceed
// MaxStepToolBudgetTokens, then on the accumulated total exceeding
// MaxPlanToolBudgetTokens. Steps without a declared budget count as zero.
func (v *PlanValidator) Validate(plan *Plan) error {
	total := 0
	for _, step := range plan.Steps {
		if step.Execution == nil || step.Execution.Budget == nil {
			continue
		}
		tokens := step.Execution.Budget.Tokens
		if tokens <= 0 {
			continue
		}
		if tokens > MaxStepToolBudgetTokens {
			v.logger.Warn("plan step over tool budget ceiling",
				"plan_id", plan.ID,
				"step_id", step.ID,
				"tokens", tokens,
				"ceiling", MaxStepToolBudgetTokens)
			return &StepBudgetError{StepID: step.ID, Tokens: tokens}
		}
		total += tokens
	}
	if total > MaxPlanToolBudgetTokens {
		v.logger.Warn("plan over total tool budget ceiling",
			"plan_id", plan.ID,
			"total", total,
			"ceiling", MaxPlanToolBudgetTokens)
		return &PlanBudgetError{Total: total}
	}
	return nil
}
