package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unclebandit/dunning-engine/internal/model"
)

var testNow = time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

func twoStepState(currentStep int) StepState {
	return StepState{
		Exec: &model.Execution{
			ID:          "exec-1",
			Status:      model.ExecutionInProgress,
			CurrentStep: currentStep,
			TotalSteps:  2,
		},
		Steps: []model.CampaignStep{
			{StepIndex: 0, DelayAfterPreviousSeconds: 0, Action: model.ActionSendNotification},
			{StepIndex: 1, DelayAfterPreviousSeconds: 86400, Action: model.ActionSuspendService},
		},
	}
}

func TestBackoffCurve(t *testing.T) {
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 5 * time.Minute},
		{2, 10 * time.Minute},
		{3, 20 * time.Minute},
		{4, 40 * time.Minute},
		{8, 640 * time.Minute},
		{9, 1280 * time.Minute}, // 21h20m, still under the cap
		{10, 24 * time.Hour},    // 2560min would exceed it
		{20, 24 * time.Hour},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Backoff(tt.attempt), "attempt %d", tt.attempt)
	}
}

func TestApply_SuccessAdvancesWithNextStepDelay(t *testing.T) {
	st := twoStepState(0)

	ch := Apply(st, Outcome{Kind: OutcomeSuccess}, testNow)

	assert.Equal(t, model.ExecutionInProgress, ch.Status)
	assert.Equal(t, 1, ch.CurrentStep)
	require.NotNil(t, ch.NextActionAt)
	assert.Equal(t, testNow.Add(86400*time.Second), *ch.NextActionAt)
}

func TestApply_SuccessOnLastStepExhausts(t *testing.T) {
	st := twoStepState(1)

	ch := Apply(st, Outcome{Kind: OutcomeSuccess}, testNow)

	assert.Equal(t, model.ExecutionFailed, ch.Status)
	assert.Equal(t, 2, ch.CurrentStep) // currentStep == totalSteps when exhausted
	assert.Nil(t, ch.NextActionAt)
}

func TestApply_RecoveredCompletes(t *testing.T) {
	st := twoStepState(1)

	ch := Apply(st, Outcome{Kind: OutcomeRecovered, RecoveredAmount: 129.99}, testNow)

	assert.Equal(t, model.ExecutionCompleted, ch.Status)
	require.NotNil(t, ch.RecoveredAt)
	assert.Equal(t, testNow, *ch.RecoveredAt)
	require.NotNil(t, ch.RecoveredAmount)
	assert.Equal(t, 129.99, *ch.RecoveredAmount)
	assert.Nil(t, ch.NextActionAt)
}

func TestApply_PermanentFailsImmediately(t *testing.T) {
	st := twoStepState(0)

	ch := Apply(st, Outcome{Kind: OutcomePermanent, ErrorDetail: "invalid recipient"}, testNow)

	assert.Equal(t, model.ExecutionFailed, ch.Status)
	assert.Nil(t, ch.NextActionAt)
}

func TestApply_TransientRetriesThenFails(t *testing.T) {
	// First transient attempt: retry after 5 minutes.
	st := twoStepState(0)
	st.PriorTransientAttempts = 0
	ch := Apply(st, Outcome{Kind: OutcomeTransient}, testNow)
	assert.Equal(t, model.ExecutionInProgress, ch.Status)
	require.NotNil(t, ch.NextActionAt)
	assert.Equal(t, testNow.Add(5*time.Minute), *ch.NextActionAt)

	// Second: retry after 10 minutes.
	st.PriorTransientAttempts = 1
	ch = Apply(st, Outcome{Kind: OutcomeTransient}, testNow)
	assert.Equal(t, model.ExecutionInProgress, ch.Status)
	require.NotNil(t, ch.NextActionAt)
	assert.Equal(t, testNow.Add(10*time.Minute), *ch.NextActionAt)

	// Third transient attempt in a row exhausts the step: no fourth retry.
	st.PriorTransientAttempts = 2
	ch = Apply(st, Outcome{Kind: OutcomeTransient}, testNow)
	assert.Equal(t, model.ExecutionFailed, ch.Status)
	assert.Nil(t, ch.NextActionAt)
}

func TestApply_UnknownKindRetriesUnderTheSameCap(t *testing.T) {
	st := twoStepState(0)

	ch := Apply(st, Outcome{Kind: "mystery"}, testNow)

	assert.Equal(t, model.ExecutionInProgress, ch.Status)
	require.NotNil(t, ch.NextActionAt)
	assert.Equal(t, testNow.Add(5*time.Minute), *ch.NextActionAt)

	// Prior transient attempts count against it: no unbounded 5-minute loop.
	st.PriorTransientAttempts = 2
	ch = Apply(st, Outcome{Kind: "mystery"}, testNow)
	assert.Equal(t, model.ExecutionFailed, ch.Status)
	assert.Nil(t, ch.NextActionAt)
}

func TestCoerce_RewritesUnknownKindsOnly(t *testing.T) {
	out := Coerce(Outcome{Kind: "mystery", ErrorDetail: "handler gone"})
	assert.Equal(t, OutcomeTransient, out.Kind)
	assert.Contains(t, out.ErrorDetail, "handler gone")
	assert.Contains(t, out.ErrorDetail, `"mystery"`)

	known := Outcome{Kind: OutcomeRecovered, RecoveredAmount: 12.5}
	assert.Equal(t, known, Coerce(known))
}

func TestApply_CancellationWins(t *testing.T) {
	// Campaign paused: cancelled even on a success outcome.
	st := twoStepState(0)
	st.CampaignPaused = true
	ch := Apply(st, Outcome{Kind: OutcomeSuccess}, testNow)
	assert.Equal(t, model.ExecutionCancelled, ch.Status)

	// Manual cancel request observed at transition time.
	st = twoStepState(0)
	st.CancelRequested = true
	ch = Apply(st, Outcome{Kind: OutcomeSuccess}, testNow)
	assert.Equal(t, model.ExecutionCancelled, ch.Status)

	// Invoice cancelled externally.
	st = twoStepState(0)
	ch = Apply(st, Outcome{Kind: OutcomeCancelled}, testNow)
	assert.Equal(t, model.ExecutionCancelled, ch.Status)
	assert.Nil(t, ch.NextActionAt)
}

func TestApply_CurrentStepNeverDecreasesOrExceedsTotal(t *testing.T) {
	outcomes := []Outcome{
		{Kind: OutcomeSuccess},
		{Kind: OutcomeTransient},
		{Kind: OutcomePermanent},
		{Kind: OutcomeRecovered},
		{Kind: OutcomeCancelled},
	}
	for step := 0; step < 2; step++ {
		for _, out := range outcomes {
			st := twoStepState(step)
			ch := Apply(st, out, testNow)
			assert.GreaterOrEqual(t, ch.CurrentStep, step, "outcome %s", out.Kind)
			assert.LessOrEqual(t, ch.CurrentStep, st.Exec.TotalSteps, "outcome %s", out.Kind)
		}
	}
}
