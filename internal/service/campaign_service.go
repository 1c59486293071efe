// internal/service/campaign_service.go
package service

import (
	"context"
	"log"

	appErrors "github.com/unclebandit/dunning-engine/internal/errors"
	"github.com/unclebandit/dunning-engine/internal/model"
	"github.com/unclebandit/dunning-engine/internal/repository"
)

// CampaignInvalidator is the slice of the cache the service needs.
type CampaignInvalidator interface {
	Invalidate(ctx context.Context, id string) error
}

type CampaignService struct {
	CampaignRepo repository.CampaignRepositoryInterface
	Cache        CampaignInvalidator
}

// CampaignDetails is the dashboard view: definition plus execution stats.
type CampaignDetails struct {
	model.Campaign
	Stats map[string]int `json:"stats"`
}

// CreateCampaign validates the definition and stores it as a draft.
func (s *CampaignService) CreateCampaign(ctx context.Context, c *model.Campaign) (*model.Campaign, error) {
	if c.Name == "" {
		return nil, appErrors.NewValidation("campaign name is required")
	}
	if c.TriggerDaysAfterDue < 0 {
		return nil, appErrors.NewValidation("trigger_days_after_due must be >= 0")
	}
	if len(c.Steps) == 0 {
		return nil, appErrors.NewValidation("campaign must have at least one step")
	}
	for i, step := range c.Steps {
		if err := validateStep(i, step); err != nil {
			return nil, err
		}
	}

	c.Status = model.CampaignDraft
	if err := s.CampaignRepo.Create(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

// UpdateStatus drives the campaign lifecycle: draft/paused -> active,
// active -> paused, anything non-archived -> archived.
func (s *CampaignService) UpdateStatus(ctx context.Context, id, target string) (*model.Campaign, error) {
	campaign, err := s.CampaignRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	switch target {
	case model.CampaignActive:
		if campaign.Status == model.CampaignArchived {
			return nil, appErrors.NewInvalidState("activate campaign", campaign.Status)
		}
		if len(campaign.Steps) == 0 {
			return nil, appErrors.NewValidation("campaign must have at least one step to activate")
		}
	case model.CampaignPaused:
		if campaign.Status != model.CampaignActive {
			return nil, appErrors.NewInvalidState("pause campaign", campaign.Status)
		}
	case model.CampaignArchived:
		if campaign.Status == model.CampaignArchived {
			return nil, appErrors.NewInvalidState("archive campaign", campaign.Status)
		}
	default:
		return nil, appErrors.NewValidation("unknown target status %q", target)
	}

	if err := s.CampaignRepo.UpdateStatus(ctx, id, target); err != nil {
		return nil, err
	}
	campaign.Status = target
	s.invalidate(ctx, id)
	return campaign, nil
}

// AppendStep adds a step to a draft campaign. Once a campaign leaves draft
// its step sequence is immutable; a new sequence means a new campaign.
func (s *CampaignService) AppendStep(ctx context.Context, campaignID string, step *model.CampaignStep) (*model.CampaignStep, error) {
	campaign, err := s.CampaignRepo.GetByID(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	if campaign.Status != model.CampaignDraft {
		return nil, appErrors.NewInvalidState("append step", campaign.Status)
	}
	if err := validateStep(len(campaign.Steps), *step); err != nil {
		return nil, err
	}

	if err := s.CampaignRepo.AppendStep(ctx, campaignID, step); err != nil {
		return nil, err
	}
	s.invalidate(ctx, campaignID)
	return step, nil
}

// ListCampaigns fetches campaigns with pagination and embedded stats.
func (s *CampaignService) ListCampaigns(ctx context.Context, page, pageSize int, status string) ([]CampaignDetails, map[string]int, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}
	offset := (page - 1) * pageSize

	ptrs, total, err := s.CampaignRepo.ListCampaigns(ctx, offset, pageSize, status)
	if err != nil {
		return nil, nil, err
	}

	details := make([]CampaignDetails, len(ptrs))
	for i, c := range ptrs {
		stats, err := s.CampaignRepo.GetCampaignStats(ctx, c.ID)
		if err != nil {
			log.Println("⚠️ failed to fetch stats for campaign", c.ID, ":", err)
			stats = map[string]int{}
		}
		details[i] = CampaignDetails{Campaign: *c, Stats: stats}
	}

	totalPages := (total + pageSize - 1) / pageSize
	pagination := map[string]int{
		"page":        page,
		"page_size":   pageSize,
		"total_count": total,
		"total_pages": totalPages,
	}

	return details, pagination, nil
}

// GetCampaignDetails fetches a campaign with its execution stats.
func (s *CampaignService) GetCampaignDetails(ctx context.Context, id string) (*CampaignDetails, error) {
	campaign, err := s.CampaignRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	stats, err := s.CampaignRepo.GetCampaignStats(ctx, id)
	if err != nil {
		return nil, err
	}
	return &CampaignDetails{Campaign: *campaign, Stats: stats}, nil
}

func (s *CampaignService) invalidate(ctx context.Context, id string) {
	if s.Cache == nil {
		return
	}
	if err := s.Cache.Invalidate(ctx, id); err != nil {
		log.Println("⚠️ failed to invalidate campaign cache:", err)
	}
}

func validateStep(index int, step model.CampaignStep) error {
	if step.DelayAfterPreviousSeconds < 0 {
		return appErrors.NewValidation("step %d: delay must be >= 0", index)
	}
	switch step.Action {
	case model.ActionSendNotification:
		if step.Channel == "" || step.TemplateID == "" {
			return appErrors.NewValidation("step %d: send_notification requires channel and template_id", index)
		}
	case model.ActionEscalateToHuman, model.ActionSuspendService, model.ActionCancelInvoiceIfUnpaid:
		// no extra fields
	default:
		return appErrors.NewValidation("step %d: unknown action %q", index, step.Action)
	}
	return nil
}
