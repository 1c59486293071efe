// internal/engine/state.go
package engine

import (
	"fmt"
	"time"

	"github.com/unclebandit/dunning-engine/internal/model"
)

// Outcome kinds recorded on step attempts.
const (
	OutcomeSuccess   = "success"
	OutcomeTransient = "transient_error"
	OutcomePermanent = "permanent_error"
	OutcomeRecovered = "recovered"
	OutcomeCancelled = "cancelled"
)

// Retry policy: a step gets at most MaxStepAttempts attempts before the
// execution fails, with exponential backoff between them.
const (
	MaxStepAttempts = 3
	backoffBase     = 5 * time.Minute
	backoffCap      = 24 * time.Hour
)

// Outcome is the runner's interpretation of one step attempt.
type Outcome struct {
	Kind            string
	ErrorDetail     string
	RecoveredAmount float64
}

// StepState is everything the transition needs to know about an execution at
// the moment an attempt is recorded.
type StepState struct {
	Exec            *model.Execution
	Steps           []model.CampaignStep
	CampaignPaused  bool
	CancelRequested bool
	// Transient attempts already recorded for the current step, not counting
	// the one being applied now.
	PriorTransientAttempts int
}

// Change is the state delta RecordAttempt writes atomically with the attempt.
type Change struct {
	Status          string
	CurrentStep     int
	NextActionAt    *time.Time
	RecoveredAt     *time.Time
	RecoveredAmount *float64
}

// Backoff returns the retry delay for step-retry attempt n (1-indexed):
// min(5min * 2^(n-1), 24h).
func Backoff(n int) time.Duration {
	if n < 1 {
		n = 1
	}
	d := backoffBase
	for i := 1; i < n; i++ {
		d *= 2
		if d >= backoffCap {
			return backoffCap
		}
	}
	if d > backoffCap {
		return backoffCap
	}
	return d
}

// Coerce rewrites an unrecognized outcome kind to transient. Both the attempt
// row and the transition must see the same kind, or retries of a bad kind
// would never count toward MaxStepAttempts.
func Coerce(out Outcome) Outcome {
	switch out.Kind {
	case OutcomeSuccess, OutcomeTransient, OutcomePermanent, OutcomeRecovered, OutcomeCancelled:
		return out
	}
	detail := fmt.Sprintf("unrecognized outcome kind %q", out.Kind)
	if out.ErrorDetail != "" {
		detail = out.ErrorDetail + " (" + detail + ")"
	}
	return Outcome{Kind: OutcomeTransient, ErrorDetail: detail}
}

// Apply computes the next execution state for an attempt outcome. It is pure:
// the repository persists the returned Change in the same transaction as the
// attempt row. Callers must not invoke it on a terminal execution.
func Apply(st StepState, out Outcome, now time.Time) Change {
	out = Coerce(out)
	exec := st.Exec

	// Cancellation wins over everything else: campaign paused, invoice
	// cancelled externally, or a manual cancel request.
	if st.CampaignPaused || st.CancelRequested || out.Kind == OutcomeCancelled {
		return Change{Status: model.ExecutionCancelled, CurrentStep: exec.CurrentStep}
	}

	switch out.Kind {
	case OutcomeRecovered:
		amount := out.RecoveredAmount
		recoveredAt := now
		return Change{
			Status:          model.ExecutionCompleted,
			CurrentStep:     exec.CurrentStep,
			RecoveredAt:     &recoveredAt,
			RecoveredAmount: &amount,
		}

	case OutcomePermanent:
		return Change{Status: model.ExecutionFailed, CurrentStep: exec.CurrentStep}

	case OutcomeSuccess:
		nextStep := exec.CurrentStep + 1
		if nextStep >= exec.TotalSteps {
			// Exhausted without recovery; re-enrollment is the only way back.
			return Change{Status: model.ExecutionFailed, CurrentStep: exec.TotalSteps}
		}
		next := now.Add(stepDelay(st.Steps, nextStep))
		return Change{
			Status:       model.ExecutionInProgress,
			CurrentStep:  nextStep,
			NextActionAt: &next,
		}
	}

	// OutcomeTransient, including anything Coerce rewrote to it: retry with
	// backoff until the attempt cap.
	attempt := st.PriorTransientAttempts + 1
	if attempt >= MaxStepAttempts {
		return Change{Status: model.ExecutionFailed, CurrentStep: exec.CurrentStep}
	}
	next := now.Add(Backoff(attempt))
	return Change{
		Status:       model.ExecutionInProgress,
		CurrentStep:  exec.CurrentStep,
		NextActionAt: &next,
	}
}

func stepDelay(steps []model.CampaignStep, index int) time.Duration {
	for _, s := range steps {
		if s.StepIndex == index {
			return s.Delay()
		}
	}
	return 0
}
