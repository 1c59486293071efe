// internal/model/campaign.go
package model

import "time"

// Campaign statuses
const (
	CampaignDraft    = "draft"
	CampaignActive   = "active"
	CampaignPaused   = "paused"
	CampaignArchived = "archived"
)

// Step actions
const (
	ActionSendNotification      = "send_notification"
	ActionEscalateToHuman       = "escalate_to_human"
	ActionSuspendService        = "suspend_service"
	ActionCancelInvoiceIfUnpaid = "cancel_invoice_if_unpaid"
)

type Campaign struct {
	ID                  string         `db:"id" json:"id"`
	Name                string         `db:"name" json:"name"`
	Description         string         `db:"description" json:"description"`
	Status              string         `db:"status" json:"status"`
	TriggerDaysAfterDue int            `db:"trigger_days_after_due" json:"trigger_days_after_due"`
	Version             int            `db:"version" json:"version"`
	Steps               []CampaignStep `json:"steps"`
	CreatedAt           time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt           *time.Time     `db:"updated_at" json:"updated_at,omitempty"`
}

// CampaignStep is one action in a campaign's ordered sequence. Steps are
// append-only once the campaign leaves draft; executions snapshot total_steps
// and version at enrollment so later appends never change in-flight plans.
type CampaignStep struct {
	ID                        string `db:"id" json:"id"`
	CampaignID                string `db:"campaign_id" json:"campaign_id"`
	StepIndex                 int    `db:"step_index" json:"step_index"`
	DelayAfterPreviousSeconds int64  `db:"delay_after_previous_seconds" json:"delay_after_previous_seconds"`
	Action                    string `db:"action" json:"action"`
	Channel                   string `db:"channel" json:"channel,omitempty"`
	TemplateID                string `db:"template_id" json:"template_id,omitempty"`
}

// Delay returns the step's offset from the previous step's completion.
func (s CampaignStep) Delay() time.Duration {
	return time.Duration(s.DelayAfterPreviousSeconds) * time.Second
}
