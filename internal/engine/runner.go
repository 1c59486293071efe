// internal/engine/runner.go
package engine

import (
	"context"
	"fmt"
	"time"

	appErrors "github.com/unclebandit/dunning-engine/internal/errors"
	"github.com/unclebandit/dunning-engine/internal/model"
)

// Notifier dispatches a notification through an external channel provider.
// The runner only interprets the returned error; channel mechanics live
// behind this interface.
type Notifier interface {
	Send(ctx context.Context, channel, templateID, customerID string, vars map[string]string) error
}

// Escalator hands an execution over to a human queue.
type Escalator interface {
	Escalate(ctx context.Context, exec *model.Execution, reason string) error
}

// InvoiceService is the external billing collaborator.
type InvoiceService interface {
	GetStatus(ctx context.Context, invoiceID string) (*model.InvoiceStatus, error)
	SuspendService(ctx context.Context, customerID string) error
	CancelInvoice(ctx context.Context, invoiceID string) error
}

// Runner executes a single campaign step against an invoice and maps the
// result onto a tri-state outcome. It holds no channel-specific logic.
type Runner struct {
	Notifier    Notifier
	Escalator   Escalator
	Invoices    InvoiceService
	StepTimeout time.Duration
}

func NewRunner(n Notifier, e Escalator, inv InvoiceService, stepTimeout time.Duration) *Runner {
	if stepTimeout <= 0 {
		stepTimeout = 30 * time.Second
	}
	return &Runner{Notifier: n, Escalator: e, Invoices: inv, StepTimeout: stepTimeout}
}

// RunStep executes steps[exec.CurrentStep] and returns the outcome. The whole
// call is bounded by StepTimeout; a deadline hit is a transient outcome so a
// slow provider never stalls the batch or loses the claim.
func (r *Runner) RunStep(ctx context.Context, exec *model.Execution, step model.CampaignStep) Outcome {
	ctx, cancel := context.WithTimeout(ctx, r.StepTimeout)
	defer cancel()

	// Invoice state is checked at step start: a payment that landed since the
	// last step ends the execution as recovered before any action fires.
	status, err := r.Invoices.GetStatus(ctx, exec.InvoiceID)
	if err != nil {
		return r.classify(ctx, err)
	}
	if status.Cancelled {
		return Outcome{Kind: OutcomeCancelled, ErrorDetail: "invoice cancelled externally"}
	}
	if status.Paid {
		return Outcome{Kind: OutcomeRecovered, RecoveredAmount: status.AmountDue}
	}

	switch step.Action {
	case model.ActionSendNotification:
		err = r.Notifier.Send(ctx, step.Channel, step.TemplateID, exec.CustomerID, map[string]string{
			"invoice_id": exec.InvoiceID,
			"amount_due": fmt.Sprintf("%.2f", status.AmountDue),
			"due_date":   status.DueDate.Format("2006-01-02"),
		})
	case model.ActionEscalateToHuman:
		err = r.Escalator.Escalate(ctx, exec, fmt.Sprintf("step %d escalation", step.StepIndex))
	case model.ActionSuspendService:
		err = r.Invoices.SuspendService(ctx, exec.CustomerID)
	case model.ActionCancelInvoiceIfUnpaid:
		err = r.Invoices.CancelInvoice(ctx, exec.InvoiceID)
	default:
		return Outcome{
			Kind:        OutcomePermanent,
			ErrorDetail: fmt.Sprintf("unknown step action %q", step.Action),
		}
	}

	if err != nil {
		return r.classify(ctx, err)
	}
	return Outcome{Kind: OutcomeSuccess}
}

func (r *Runner) classify(ctx context.Context, err error) Outcome {
	if appErrors.IsPermanent(err) {
		return Outcome{Kind: OutcomePermanent, ErrorDetail: err.Error()}
	}
	if ctx.Err() == context.DeadlineExceeded {
		return Outcome{Kind: OutcomeTransient, ErrorDetail: "step timed out: " + err.Error()}
	}
	return Outcome{Kind: OutcomeTransient, ErrorDetail: err.Error()}
}
