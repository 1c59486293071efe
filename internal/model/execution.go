// internal/model/execution.go
package model

import "time"

// Execution statuses
const (
	ExecutionPending    = "pending"
	ExecutionInProgress = "in_progress"
	ExecutionCompleted  = "completed"
	ExecutionFailed     = "failed"
	ExecutionCancelled  = "cancelled"
)

// Execution is one running instance of a campaign against an overdue invoice.
// Exactly one non-terminal execution exists per (campaign_id, invoice_id).
type Execution struct {
	ID              string     `db:"id" json:"id"`
	CampaignID      string     `db:"campaign_id" json:"campaign_id"`
	CampaignVersion int        `db:"campaign_version" json:"campaign_version"`
	InvoiceID       string     `db:"invoice_id" json:"invoice_id"`
	CustomerID      string     `db:"customer_id" json:"customer_id"`
	Status          string     `db:"status" json:"status"`
	CurrentStep     int        `db:"current_step" json:"current_step"`
	TotalSteps      int        `db:"total_steps" json:"total_steps"`
	NextActionAt    *time.Time `db:"next_action_at" json:"next_action_at,omitempty"`
	EnrolledAt      time.Time  `db:"enrolled_at" json:"enrolled_at"`
	UpdatedAt       time.Time  `db:"updated_at" json:"updated_at"`
	RecoveredAt     *time.Time `db:"recovered_at" json:"recovered_at,omitempty"`
	RecoveredAmount *float64   `db:"recovered_amount" json:"recovered_amount,omitempty"`

	// Claim sub-state, repository-internal. Never serialized to the dashboard.
	ClaimedBy       *string    `db:"claimed_by" json:"-"`
	ClaimedAt       *time.Time `db:"claimed_at" json:"-"`
	CancelRequested bool       `db:"cancel_requested" json:"-"`
}

// Terminal reports whether the execution reached a final status.
func (e *Execution) Terminal() bool {
	switch e.Status {
	case ExecutionCompleted, ExecutionFailed, ExecutionCancelled:
		return true
	}
	return false
}

// StepAttempt is one entry in an execution's append-only attempt log.
type StepAttempt struct {
	ID          string    `db:"id" json:"id"`
	ExecutionID string    `db:"execution_id" json:"execution_id"`
	StepIndex   int       `db:"step_index" json:"step_index"`
	AttemptedAt time.Time `db:"attempted_at" json:"attempted_at"`
	Outcome     string    `db:"outcome" json:"outcome"`
	ErrorDetail string    `db:"error_detail,omitempty" json:"error_detail,omitempty"`
}

// AnalyticsRow is the per-execution projection the analytics aggregator reads.
type AnalyticsRow struct {
	ExecutionID     string
	CampaignID      string
	CampaignName    string
	Status          string
	EnrolledAt      time.Time
	RecoveredAt     *time.Time
	RecoveredAmount *float64
}
