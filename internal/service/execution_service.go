// internal/service/execution_service.go
package service

import (
	"context"

	"github.com/unclebandit/dunning-engine/internal/clock"
	appErrors "github.com/unclebandit/dunning-engine/internal/errors"
	"github.com/unclebandit/dunning-engine/internal/model"
	"github.com/unclebandit/dunning-engine/internal/repository"
)

type ExecutionService struct {
	ExecutionRepo repository.ExecutionRepositoryInterface
	CampaignRepo  repository.CampaignRepositoryInterface
	Clock         clock.Clock
}

// ExecutionDetails pairs an execution with its attempt log.
type ExecutionDetails struct {
	model.Execution
	Attempts []model.StepAttempt `json:"attempts"`
}

// Enroll starts (or returns the already-running) execution of an active
// campaign against an invoice.
func (s *ExecutionService) Enroll(ctx context.Context, campaignID, invoiceID, customerID string) (*model.Execution, error) {
	if invoiceID == "" || customerID == "" {
		return nil, appErrors.NewValidation("invoice_id and customer_id are required")
	}

	campaign, err := s.CampaignRepo.GetByID(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	if campaign.Status != model.CampaignActive {
		return nil, appErrors.NewInvalidState("enroll invoice", campaign.Status)
	}

	return s.ExecutionRepo.Enroll(ctx, campaign, invoiceID, customerID, s.Clock.Now())
}

// Cancel requests cancellation and returns the execution as it stands after
// the request: unclaimed executions are cancelled on the spot, claimed ones
// keep their status until the in-flight attempt resolves.
func (s *ExecutionService) Cancel(ctx context.Context, executionID string) (*model.Execution, error) {
	if err := s.ExecutionRepo.RequestCancel(ctx, executionID, s.Clock.Now()); err != nil {
		return nil, err
	}
	return s.ExecutionRepo.GetByID(ctx, executionID)
}

// ListExecutions fetches executions with pagination.
func (s *ExecutionService) ListExecutions(ctx context.Context, page, pageSize int, status string) ([]model.Execution, map[string]int, error) {
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

	ptrs, total, err := s.ExecutionRepo.ListExecutions(ctx, offset, pageSize, status)
	if err != nil {
		return nil, nil, err
	}

	executions := make([]model.Execution, len(ptrs))
	for i, e := range ptrs {
		executions[i] = *e
	}

	totalPages := (total + pageSize - 1) / pageSize
	pagination := map[string]int{
		"page":        page,
		"page_size":   pageSize,
		"total_count": total,
		"total_pages": totalPages,
	}

	return executions, pagination, nil
}

// GetExecutionDetails fetches one execution with its attempt history.
func (s *ExecutionService) GetExecutionDetails(ctx context.Context, id string) (*ExecutionDetails, error) {
	exec, err := s.ExecutionRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	attempts, err := s.ExecutionRepo.Attempts(ctx, id)
	if err != nil {
		return nil, err
	}
	return &ExecutionDetails{Execution: *exec, Attempts: attempts}, nil
}
