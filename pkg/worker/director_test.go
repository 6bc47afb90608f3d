package worker_test

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cleargrid-labs/conductor/pkg/budget"
	"github.com/cleargrid-labs/conductor/pkg/jobs"
	"github.com/cleargrid-labs/conductor/pkg/worker"
)

type dispatchCall struct {
	orgID  string
	tool   string
	inputs map[string]any
}

func planJob(t *testing.T, plan budget.Plan) *jobs.Job {
	t.Helper()
	payload, err := json.Marshal(plan)
	require.NoError(t, err)
	return &jobs.Job{ID: "job-1", OrgID: "org-1", Payload: payload}
}

func TestDirectorExecutesStepsInOrder(t *testing.T) {
	var calls []dispatchCall
	d := worker.NewDirector(worker.DispatcherFunc(func(ctx context.Context, orgID, tool string, inputs map[string]any) (any, error) {
		calls = append(calls, dispatchCall{orgID: orgID, tool: tool, inputs: inputs})
		return map[string]any{"ok": true}, nil
	}))

	plan := budget.Plan{
		ID: "plan-1",
		Steps: []budget.PlanStep{
			{ID: "s1", ToolName: "payables.create_invoice", Inputs: map[string]any{"vendor": "acme"}, Reasoning: "create the vendor invoice"},
			{ID: "s2", ToolName: "payables.schedule_payment", Reasoning: "schedule payment for it"},
			{ID: "s3", Reasoning: "summarize outcome"},
		},
	}

	payload, err := d.Handle(context.Background(), planJob(t, plan))
	require.NoError(t, err)

	require.Len(t, calls, 2, "steps without a tool are reasoning-only")
	assert.Equal(t, "payables.create_invoice", calls[0].tool)
	assert.Equal(t, "org-1", calls[0].orgID)
	assert.Equal(t, "acme", calls[0].inputs["vendor"])
	assert.Equal(t, "payables.schedule_payment", calls[1].tool)

	var result worker.PlanResult
	require.NoError(t, json.Unmarshal(payload, &result))
	assert.Equal(t, "plan-1", result.PlanID)
	require.Len(t, result.Steps, 3)
	assert.Equal(t, "s1", result.Steps[0].StepID)
	assert.Positive(t, result.Steps[0].Tokens)
	assert.Less(t, result.TokensRemaining, worker.DefaultRunTokens)
}

func TestDirectorRejectsOverBudgetPlanBeforeExecuting(t *testing.T) {
	d := worker.NewDirector(worker.DispatcherFunc(func(ctx context.Context, orgID, tool string, inputs map[string]any) (any, error) {
		t.Fatal("no step may execute when plan admission fails")
		return nil, nil
	}))

	plan := budget.Plan{
		ID: "plan-1",
		Steps: []budget.PlanStep{
			{ID: "s1", ToolName: "payables.create_invoice",
				Execution: &budget.StepExecution{Budget: &budget.StepBudget{Tokens: 40}}},
		},
	}

	_, err := d.Handle(context.Background(), planJob(t, plan))
	require.Error(t, err)
	assert.ErrorIs(t, err, budget.ErrExceeded)
	var stepErr *budget.StepBudgetError
	require.ErrorAs(t, err, &stepErr)
	assert.Equal(t, "s1", stepErr.StepID)
}

func TestDirectorStopsOnFirstFailedStep(t *testing.T) {
	var calls int
	d := worker.NewDirector(worker.DispatcherFunc(func(ctx context.Context, orgID, tool string, inputs map[string]any) (any, error) {
		calls++
		if tool == "regulatory.submit_filing" {
			return nil, assert.AnError
		}
		return nil, nil
	}))

	plan := budget.Plan{
		ID: "plan-1",
		Steps: []budget.PlanStep{
			{ID: "s1", ToolName: "payables.create_invoice"},
			{ID: "s2", ToolName: "regulatory.submit_filing"},
			{ID: "s3", ToolName: "analytics.get_kpis"},
		},
	}

	_, err := d.Handle(context.Background(), planJob(t, plan))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "s2")
	assert.Equal(t, 2, calls, "execution halts at the failed step")
}

func TestDirectorExhaustsRunTokenBudget(t *testing.T) {
	d := worker.NewDirector(
		worker.DispatcherFunc(func(ctx context.Context, orgID, tool string, inputs map[string]any) (any, error) {
			return nil, nil
		}),
		worker.WithRunTokens(10))

	plan := budget.Plan{
		ID: "plan-1",
		Steps: []budget.PlanStep{
			{ID: "s1", Reasoning: strings.Repeat("reason ", 20)},
		},
	}

	_, err := d.Handle(context.Background(), planJob(t, plan))
	require.Error(t, err)
	assert.ErrorIs(t, err, budget.ErrExceeded)
}

func TestDirectorRejectsMalformedPlanPayload(t *testing.T) {
	d := worker.NewDirector(worker.DispatcherFunc(func(ctx context.Context, orgID, tool string, inputs map[string]any) (any, error) {
		return nil, nil
	}))

	_, err := d.Handle(context.Background(), &jobs.Job{ID: "job-1", OrgID: "org-1", Payload: json.RawMessage(`not json`)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode plan")
}

func TestDispatcherUnknownTool(t *testing.T) {
	d := worker.NewRegistryDispatcher(nil)

	_, err := d.Dispatch(context.Background(), "org-1", "payables.delete_everything", nil)
	assert.ErrorIs(t, err, worker.ErrUnknownTool)
}
