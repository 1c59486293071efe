package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	appErrors "github.com/unclebandit/dunning-engine/internal/errors"
	"github.com/unclebandit/dunning-engine/internal/model"
)

type CampaignRepositoryInterface interface {
	Create(ctx context.Context, c *model.Campaign) error
	GetByID(ctx context.Context, id string) (*model.Campaign, error)
	ListCampaigns(ctx context.Context, offset, limit int, status string) ([]*model.Campaign, int, error)
	UpdateStatus(ctx context.Context, id, status string) error
	AppendStep(ctx context.Context, campaignID string, step *model.CampaignStep) error
	GetCampaignStats(ctx context.Context, campaignID string) (map[string]int, error)
}

type CampaignRepository struct {
	DB *sql.DB
}

// ====================== Campaign CRUD ======================

// Create inserts the campaign and its steps in one transaction.
func (r *CampaignRepository) Create(ctx context.Context, c *model.Campaign) error {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	if c.Status == "" {
		c.Status = model.CampaignDraft
	}
	c.Version = 1
	c.CreatedAt = time.Now()

	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin create campaign: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
        INSERT INTO dunning_campaigns
            (id, name, description, status, trigger_days_after_due, version, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7)
    `, c.ID, c.Name, c.Description, c.Status, c.TriggerDaysAfterDue, c.Version, c.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert campaign: %w", err)
	}

	for i := range c.Steps {
		s := &c.Steps[i]
		s.ID = uuid.New().String()
		s.CampaignID = c.ID
		s.StepIndex = i
		_, err = tx.ExecContext(ctx, `
            INSERT INTO dunning_campaign_steps
                (id, campaign_id, step_index, delay_after_previous_seconds, action, channel, template_id)
            VALUES ($1, $2, $3, $4, $5, $6, $7)
        `, s.ID, s.CampaignID, s.StepIndex, s.DelayAfterPreviousSeconds, s.Action, s.Channel, s.TemplateID)
		if err != nil {
			return fmt.Errorf("insert step %d: %w", i, err)
		}
	}

	return tx.Commit()
}

func (r *CampaignRepository) GetByID(ctx context.Context, id string) (*model.Campaign, error) {
	var c model.Campaign
	err := r.DB.QueryRowContext(ctx, `
        SELECT id, name, description, status, trigger_days_after_due, version, created_at, updated_at
        FROM dunning_campaigns WHERE id = $1
    `, id).Scan(&c.ID, &c.Name, &c.Description, &c.Status, &c.TriggerDaysAfterDue,
		&c.Version, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.NewCampaignNotFound(id)
		}
		return nil, fmt.Errorf("get campaign: %w", err)
	}

	steps, err := r.loadSteps(ctx, []string{id})
	if err != nil {
		return nil, err
	}
	c.Steps = steps[id]
	if c.Steps == nil {
		c.Steps = []model.CampaignStep{}
	}
	return &c, nil
}

func (r *CampaignRepository) ListCampaigns(ctx context.Context, offset, limit int, status string) ([]*model.Campaign, int, error) {
	campaigns := []*model.Campaign{}
	query := `
        SELECT id, name, description, status, trigger_days_after_due, version, created_at, updated_at
        FROM dunning_campaigns WHERE 1=1`
	args := []interface{}{}
	argPos := 1

	if status != "" {
		query += fmt.Sprintf(" AND status=$%d", argPos)
		args = append(args, status)
		argPos++
	}

	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", argPos, argPos+1)
	args = append(args, limit, offset)

	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list campaigns: %w", err)
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		c := &model.Campaign{}
		if err := rows.Scan(&c.ID, &c.Name, &c.Description, &c.Status, &c.TriggerDaysAfterDue,
			&c.Version, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, 0, fmt.Errorf("scan campaign: %w", err)
		}
		campaigns = append(campaigns, c)
		ids = append(ids, c.ID)
	}

	if len(ids) > 0 {
		steps, err := r.loadSteps(ctx, ids)
		if err != nil {
			return nil, 0, err
		}
		for _, c := range campaigns {
			c.Steps = steps[c.ID]
			if c.Steps == nil {
				c.Steps = []model.CampaignStep{}
			}
		}
	}

	countQuery := `SELECT COUNT(*) FROM dunning_campaigns WHERE 1=1`
	argsCount := []interface{}{}
	if status != "" {
		countQuery += " AND status=$1"
		argsCount = append(argsCount, status)
	}

	var total int
	if err := r.DB.QueryRowContext(ctx, countQuery, argsCount...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count campaigns: %w", err)
	}

	return campaigns, total, nil
}

func (r *CampaignRepository) UpdateStatus(ctx context.Context, id, status string) error {
	res, err := r.DB.ExecContext(ctx, `
        UPDATE dunning_campaigns SET status=$1, updated_at=$2 WHERE id=$3
    `, status, time.Now(), id)
	if err != nil {
		return fmt.Errorf("update campaign status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return appErrors.NewCampaignNotFound(id)
	}
	return nil
}

// AppendStep adds a step at the next index and bumps the campaign version.
// The draft-only rule is enforced by the service; here the write is atomic.
func (r *CampaignRepository) AppendStep(ctx context.Context, campaignID string, step *model.CampaignStep) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin append step: %w", err)
	}
	defer tx.Rollback()

	var nextIndex int
	err = tx.QueryRowContext(ctx, `
        SELECT COALESCE(MAX(step_index) + 1, 0) FROM dunning_campaign_steps WHERE campaign_id = $1
    `, campaignID).Scan(&nextIndex)
	if err != nil {
		return fmt.Errorf("next step index: %w", err)
	}

	step.ID = uuid.New().String()
	step.CampaignID = campaignID
	step.StepIndex = nextIndex

	_, err = tx.ExecContext(ctx, `
        INSERT INTO dunning_campaign_steps
            (id, campaign_id, step_index, delay_after_previous_seconds, action, channel, template_id)
        VALUES ($1, $2, $3, $4, $5, $6, $7)
    `, step.ID, step.CampaignID, step.StepIndex, step.DelayAfterPreviousSeconds,
		step.Action, step.Channel, step.TemplateID)
	if err != nil {
		return fmt.Errorf("insert step: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
        UPDATE dunning_campaigns SET version = version + 1, updated_at = $1 WHERE id = $2
    `, time.Now(), campaignID)
	if err != nil {
		return fmt.Errorf("bump campaign version: %w", err)
	}

	return tx.Commit()
}

// GetCampaignStats returns execution counts by status for one campaign.
func (r *CampaignRepository) GetCampaignStats(ctx context.Context, campaignID string) (map[string]int, error) {
	rows, err := r.DB.QueryContext(ctx, `
        SELECT status, COUNT(*) FROM dunning_executions WHERE campaign_id=$1 GROUP BY status
    `, campaignID)
	if err != nil {
		return nil, fmt.Errorf("campaign stats: %w", err)
	}
	defer rows.Close()

	stats := map[string]int{
		"total":       0,
		"pending":     0,
		"in_progress": 0,
		"completed":   0,
		"failed":      0,
		"cancelled":   0,
	}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("scan stats: %w", err)
		}
		if _, ok := stats[status]; ok {
			stats[status] = count
		}
		stats["total"] += count
	}
	return stats, nil
}

func (r *CampaignRepository) loadSteps(ctx context.Context, campaignIDs []string) (map[string][]model.CampaignStep, error) {
	rows, err := r.DB.QueryContext(ctx, `
        SELECT id, campaign_id, step_index, delay_after_previous_seconds, action, channel, template_id
        FROM dunning_campaign_steps
        WHERE campaign_id = ANY($1)
        ORDER BY campaign_id, step_index
    `, pq.Array(campaignIDs))
	if err != nil {
		return nil, fmt.Errorf("load steps: %w", err)
	}
	defer rows.Close()

	out := map[string][]model.CampaignStep{}
	for rows.Next() {
		var s model.CampaignStep
		if err := rows.Scan(&s.ID, &s.CampaignID, &s.StepIndex, &s.DelayAfterPreviousSeconds,
			&s.Action, &s.Channel, &s.TemplateID); err != nil {
			return nil, fmt.Errorf("scan step: %w", err)
		}
		out[s.CampaignID] = append(out[s.CampaignID], s)
	}
	return out, nil
}

var _ CampaignRepositoryInterface = (*CampaignRepository)(nil)
