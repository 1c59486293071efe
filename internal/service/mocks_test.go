package service

import (
	"context"
	"time"

	"github.com/unclebandit/dunning-engine/internal/engine"
	appErrors "github.com/unclebandit/dunning-engine/internal/errors"
	"github.com/unclebandit/dunning-engine/internal/model"
	"github.com/unclebandit/dunning-engine/internal/repository"
)

// --- Mock campaign repository ---

type mockCampaignRepo struct {
	campaigns map[string]*model.Campaign
	stats     map[string]map[string]int

	createErr     error
	statusUpdates map[string]string
	appended      []*model.CampaignStep
}

func newMockCampaignRepo(campaigns ...*model.Campaign) *mockCampaignRepo {
	m := &mockCampaignRepo{
		campaigns:     map[string]*model.Campaign{},
		stats:         map[string]map[string]int{},
		statusUpdates: map[string]string{},
	}
	for _, c := range campaigns {
		m.campaigns[c.ID] = c
	}
	return m
}

func (m *mockCampaignRepo) Create(ctx context.Context, c *model.Campaign) error {
	if m.createErr != nil {
		return m.createErr
	}
	if c.ID == "" {
		c.ID = "generated-id"
	}
	c.Version = 1
	m.campaigns[c.ID] = c
	return nil
}

func (m *mockCampaignRepo) GetByID(ctx context.Context, id string) (*model.Campaign, error) {
	c, ok := m.campaigns[id]
	if !ok {
		return nil, appErrors.NewCampaignNotFound(id)
	}
	return c, nil
}

func (m *mockCampaignRepo) ListCampaigns(ctx context.Context, offset, limit int, status string) ([]*model.Campaign, int, error) {
	out := []*model.Campaign{}
	for _, c := range m.campaigns {
		if status == "" || c.Status == status {
			out = append(out, c)
		}
	}
	return out, len(out), nil
}

func (m *mockCampaignRepo) UpdateStatus(ctx context.Context, id, status string) error {
	c, ok := m.campaigns[id]
	if !ok {
		return appErrors.NewCampaignNotFound(id)
	}
	c.Status = status
	m.statusUpdates[id] = status
	return nil
}

func (m *mockCampaignRepo) AppendStep(ctx context.Context, campaignID string, step *model.CampaignStep) error {
	c, ok := m.campaigns[campaignID]
	if !ok {
		return appErrors.NewCampaignNotFound(campaignID)
	}
	step.CampaignID = campaignID
	step.StepIndex = len(c.Steps)
	c.Steps = append(c.Steps, *step)
	c.Version++
	m.appended = append(m.appended, step)
	return nil
}

func (m *mockCampaignRepo) GetCampaignStats(ctx context.Context, campaignID string) (map[string]int, error) {
	if s, ok := m.stats[campaignID]; ok {
		return s, nil
	}
	return map[string]int{"total": 0}, nil
}

var _ repository.CampaignRepositoryInterface = (*mockCampaignRepo)(nil)

// --- Mock execution repository ---

type mockExecutionRepo struct {
	executions map[string]*model.Execution
	attempts   map[string][]model.StepAttempt

	enrolledAt     time.Time
	cancelRequests []string
}

func newMockExecutionRepo() *mockExecutionRepo {
	return &mockExecutionRepo{
		executions: map[string]*model.Execution{},
		attempts:   map[string][]model.StepAttempt{},
	}
}

func (m *mockExecutionRepo) Enroll(ctx context.Context, campaign *model.Campaign, invoiceID, customerID string, now time.Time) (*model.Execution, error) {
	m.enrolledAt = now
	for _, e := range m.executions {
		if e.CampaignID == campaign.ID && e.InvoiceID == invoiceID && !e.Terminal() {
			return e, nil
		}
	}
	next := now.Add(campaign.Steps[0].Delay())
	e := &model.Execution{
		ID:              "exec-" + invoiceID,
		CampaignID:      campaign.ID,
		CampaignVersion: campaign.Version,
		InvoiceID:       invoiceID,
		CustomerID:      customerID,
		Status:          model.ExecutionPending,
		TotalSteps:      len(campaign.Steps),
		NextActionAt:    &next,
		EnrolledAt:      now,
		UpdatedAt:       now,
	}
	m.executions[e.ID] = e
	return e, nil
}

func (m *mockExecutionRepo) GetByID(ctx context.Context, id string) (*model.Execution, error) {
	e, ok := m.executions[id]
	if !ok {
		return nil, appErrors.NewExecutionNotFound(id)
	}
	return e, nil
}

func (m *mockExecutionRepo) ListExecutions(ctx context.Context, offset, limit int, status string) ([]*model.Execution, int, error) {
	out := []*model.Execution{}
	for _, e := range m.executions {
		if status == "" || e.Status == status {
			out = append(out, e)
		}
	}
	return out, len(out), nil
}

func (m *mockExecutionRepo) Attempts(ctx context.Context, executionID string) ([]model.StepAttempt, error) {
	return m.attempts[executionID], nil
}

func (m *mockExecutionRepo) ClaimDue(ctx context.Context, workerID string, now time.Time, limit int) ([]*model.Execution, error) {
	return nil, nil
}

func (m *mockExecutionRepo) RecordAttempt(ctx context.Context, executionID string, stepIndex int, outcome engine.Outcome, now time.Time) (*model.Execution, error) {
	return m.executions[executionID], nil
}

func (m *mockExecutionRepo) Release(ctx context.Context, executionID string) error { return nil }

func (m *mockExecutionRepo) ReleaseStale(ctx context.Context, olderThan time.Time) (int64, error) {
	return 0, nil
}

func (m *mockExecutionRepo) RequestCancel(ctx context.Context, executionID string, now time.Time) error {
	e, ok := m.executions[executionID]
	if !ok {
		return appErrors.NewExecutionNotFound(executionID)
	}
	if e.Terminal() {
		return appErrors.NewInvalidState("cancel execution", e.Status)
	}
	if e.ClaimedAt != nil {
		e.CancelRequested = true
	} else {
		e.Status = model.ExecutionCancelled
		e.NextActionAt = nil
	}
	m.cancelRequests = append(m.cancelRequests, executionID)
	return nil
}

func (m *mockExecutionRepo) AnalyticsRows(ctx context.Context, since time.Time) ([]model.AnalyticsRow, error) {
	return nil, nil
}

func (m *mockExecutionRepo) CountByStatus(ctx context.Context) (map[string]int, error) {
	return map[string]int{}, nil
}

var _ repository.ExecutionRepositoryInterface = (*mockExecutionRepo)(nil)

// --- Mock cache invalidator ---

type mockInvalidator struct {
	invalidated []string
}

func (m *mockInvalidator) Invalidate(ctx context.Context, id string) error {
	m.invalidated = append(m.invalidated, id)
	return nil
}
