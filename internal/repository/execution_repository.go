package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/unclebandit/dunning-engine/internal/engine"
	appErrors "github.com/unclebandit/dunning-engine/internal/errors"
	"github.com/unclebandit/dunning-engine/internal/model"
)

type ExecutionRepositoryInterface interface {
	Enroll(ctx context.Context, campaign *model.Campaign, invoiceID, customerID string, now time.Time) (*model.Execution, error)
	GetByID(ctx context.Context, id string) (*model.Execution, error)
	ListExecutions(ctx context.Context, offset, limit int, status string) ([]*model.Execution, int, error)
	Attempts(ctx context.Context, executionID string) ([]model.StepAttempt, error)

	ClaimDue(ctx context.Context, workerID string, now time.Time, limit int) ([]*model.Execution, error)
	RecordAttempt(ctx context.Context, executionID string, stepIndex int, outcome engine.Outcome, now time.Time) (*model.Execution, error)
	Release(ctx context.Context, executionID string) error
	ReleaseStale(ctx context.Context, olderThan time.Time) (int64, error)

	RequestCancel(ctx context.Context, executionID string, now time.Time) error

	AnalyticsRows(ctx context.Context, since time.Time) ([]model.AnalyticsRow, error)
	CountByStatus(ctx context.Context) (map[string]int, error)
}

type ExecutionRepository struct {
	DB *sql.DB
}

const executionColumns = `id, campaign_id, campaign_version, invoice_id, customer_id, status,
       current_step, total_steps, next_action_at, enrolled_at, updated_at,
       recovered_at, recovered_amount, claimed_by, claimed_at, cancel_requested`

func scanExecution(row interface{ Scan(...interface{}) error }) (*model.Execution, error) {
	var e model.Execution
	err := row.Scan(&e.ID, &e.CampaignID, &e.CampaignVersion, &e.InvoiceID, &e.CustomerID, &e.Status,
		&e.CurrentStep, &e.TotalSteps, &e.NextActionAt, &e.EnrolledAt, &e.UpdatedAt,
		&e.RecoveredAt, &e.RecoveredAmount, &e.ClaimedBy, &e.ClaimedAt, &e.CancelRequested)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// ====================== Enrollment ======================

// Enroll is idempotent: a live execution for the (campaign, invoice) pair is
// returned unchanged instead of duplicated. A unique partial index on the
// pair backs this up against concurrent enrollers.
func (r *ExecutionRepository) Enroll(ctx context.Context, campaign *model.Campaign, invoiceID, customerID string, now time.Time) (*model.Execution, error) {
	existing, err := scanExecution(r.DB.QueryRowContext(ctx, `
        SELECT `+executionColumns+`
        FROM dunning_executions
        WHERE campaign_id = $1 AND invoice_id = $2
          AND status IN ('pending', 'in_progress')
    `, campaign.ID, invoiceID))
	if err == nil {
		return existing, nil
	}
	if err != sql.ErrNoRows {
		return nil, fmt.Errorf("check existing execution: %w", err)
	}

	if len(campaign.Steps) == 0 {
		return nil, appErrors.NewValidation("campaign %s has no steps", campaign.ID)
	}

	e := &model.Execution{
		ID:              uuid.New().String(),
		CampaignID:      campaign.ID,
		CampaignVersion: campaign.Version,
		InvoiceID:       invoiceID,
		CustomerID:      customerID,
		Status:          model.ExecutionPending,
		CurrentStep:     0,
		TotalSteps:      len(campaign.Steps),
		EnrolledAt:      now,
		UpdatedAt:       now,
	}
	next := now.Add(campaign.Steps[0].Delay())
	e.NextActionAt = &next

	_, err = r.DB.ExecContext(ctx, `
        INSERT INTO dunning_executions
            (id, campaign_id, campaign_version, invoice_id, customer_id, status,
             current_step, total_steps, next_action_at, enrolled_at, updated_at, cancel_requested)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, false)
    `, e.ID, e.CampaignID, e.CampaignVersion, e.InvoiceID, e.CustomerID, e.Status,
		e.CurrentStep, e.TotalSteps, e.NextActionAt, e.EnrolledAt, e.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert execution: %w", err)
	}
	return e, nil
}

func (r *ExecutionRepository) GetByID(ctx context.Context, id string) (*model.Execution, error) {
	e, err := scanExecution(r.DB.QueryRowContext(ctx, `
        SELECT `+executionColumns+` FROM dunning_executions WHERE id = $1
    `, id))
	if err == sql.ErrNoRows {
		return nil, appErrors.NewExecutionNotFound(id)
	}
	if err != nil {
		return nil, fmt.Errorf("get execution: %w", err)
	}
	return e, nil
}

func (r *ExecutionRepository) ListExecutions(ctx context.Context, offset, limit int, status string) ([]*model.Execution, int, error) {
	executions := []*model.Execution{}
	query := `SELECT ` + executionColumns + ` FROM dunning_executions WHERE 1=1`
	args := []interface{}{}
	argPos := 1

	if status != "" {
		query += fmt.Sprintf(" AND status=$%d", argPos)
		args = append(args, status)
		argPos++
	}
	query += fmt.Sprintf(" ORDER BY enrolled_at DESC LIMIT $%d OFFSET $%d", argPos, argPos+1)
	args = append(args, limit, offset)

	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list executions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		e, err := scanExecution(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan execution: %w", err)
		}
		executions = append(executions, e)
	}

	countQuery := `SELECT COUNT(*) FROM dunning_executions WHERE 1=1`
	argsCount := []interface{}{}
	if status != "" {
		countQuery += " AND status=$1"
		argsCount = append(argsCount, status)
	}
	var total int
	if err := r.DB.QueryRowContext(ctx, countQuery, argsCount...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count executions: %w", err)
	}

	return executions, total, nil
}

func (r *ExecutionRepository) Attempts(ctx context.Context, executionID string) ([]model.StepAttempt, error) {
	rows, err := r.DB.QueryContext(ctx, `
        SELECT id, execution_id, step_index, attempted_at, outcome, error_detail
        FROM dunning_step_attempts
        WHERE execution_id = $1
        ORDER BY attempted_at
    `, executionID)
	if err != nil {
		return nil, fmt.Errorf("list attempts: %w", err)
	}
	defer rows.Close()

	attempts := []model.StepAttempt{}
	for rows.Next() {
		var a model.StepAttempt
		if err := rows.Scan(&a.ID, &a.ExecutionID, &a.StepIndex, &a.AttemptedAt, &a.Outcome, &a.ErrorDetail); err != nil {
			return nil, fmt.Errorf("scan attempt: %w", err)
		}
		attempts = append(attempts, a)
	}
	return attempts, nil
}

// ====================== Claim / record / release ======================

// ClaimDue atomically stamps up to limit due executions with this worker's
// claim and returns them. The conditional UPDATE over SKIP LOCKED rows is the
// engine's sole mutual-exclusion primitive; no in-process lock exists.
func (r *ExecutionRepository) ClaimDue(ctx context.Context, workerID string, now time.Time, limit int) ([]*model.Execution, error) {
	rows, err := r.DB.QueryContext(ctx, `
        UPDATE dunning_executions SET claimed_by = $1, claimed_at = $2
        FROM (
            SELECT id FROM dunning_executions
            WHERE status IN ('pending', 'in_progress')
              AND next_action_at IS NOT NULL
              AND next_action_at <= $2
              AND claimed_at IS NULL
            ORDER BY next_action_at
            LIMIT $3
            FOR UPDATE SKIP LOCKED
        ) due
        WHERE dunning_executions.id = due.id
        RETURNING `+qualifiedExecutionColumns("dunning_executions"), workerID, now, limit)
	if err != nil {
		return nil, fmt.Errorf("claim due: %w", err)
	}
	defer rows.Close()

	claimed := []*model.Execution{}
	for rows.Next() {
		e, err := scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("scan claimed: %w", err)
		}
		claimed = append(claimed, e)
	}
	return claimed, nil
}

// RecordAttempt appends to the attempt log and applies the state transition
// in one transaction, then releases the claim. Calling it without a claim or
// on a terminal execution breaks the mutual-exclusion invariant and panics.
func (r *ExecutionRepository) RecordAttempt(ctx context.Context, executionID string, stepIndex int, outcome engine.Outcome, now time.Time) (*model.Execution, error) {
	// The stored attempt kind must match what Apply transitions on, so the
	// transient count keeps retries bounded.
	outcome = engine.Coerce(outcome)

	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin record attempt: %w", err)
	}
	defer tx.Rollback()

	e, err := scanExecution(tx.QueryRowContext(ctx, `
        SELECT `+executionColumns+` FROM dunning_executions WHERE id = $1 FOR UPDATE
    `, executionID))
	if err == sql.ErrNoRows {
		return nil, appErrors.NewExecutionNotFound(executionID)
	}
	if err != nil {
		return nil, fmt.Errorf("lock execution: %w", err)
	}

	if e.ClaimedAt == nil {
		panic(fmt.Sprintf("recordAttempt on unclaimed execution %s: claim contract broken", executionID))
	}
	if e.Terminal() {
		panic(fmt.Sprintf("recordAttempt on terminal execution %s (%s): double transition", executionID, e.Status))
	}

	var campaignStatus string
	err = tx.QueryRowContext(ctx, `
        SELECT status FROM dunning_campaigns WHERE id = $1
    `, e.CampaignID).Scan(&campaignStatus)
	if err != nil {
		return nil, fmt.Errorf("campaign status: %w", err)
	}

	steps := []model.CampaignStep{}
	stepRows, err := tx.QueryContext(ctx, `
        SELECT id, campaign_id, step_index, delay_after_previous_seconds, action, channel, template_id
        FROM dunning_campaign_steps
        WHERE campaign_id = $1 AND step_index < $2
        ORDER BY step_index
    `, e.CampaignID, e.TotalSteps)
	if err != nil {
		return nil, fmt.Errorf("load plan steps: %w", err)
	}
	for stepRows.Next() {
		var s model.CampaignStep
		if err := stepRows.Scan(&s.ID, &s.CampaignID, &s.StepIndex, &s.DelayAfterPreviousSeconds,
			&s.Action, &s.Channel, &s.TemplateID); err != nil {
			stepRows.Close()
			return nil, fmt.Errorf("scan plan step: %w", err)
		}
		steps = append(steps, s)
	}
	stepRows.Close()

	var priorTransient int
	err = tx.QueryRowContext(ctx, `
        SELECT COUNT(*) FROM dunning_step_attempts
        WHERE execution_id = $1 AND step_index = $2 AND outcome = 'transient_error'
    `, executionID, stepIndex).Scan(&priorTransient)
	if err != nil {
		return nil, fmt.Errorf("count transient attempts: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
        INSERT INTO dunning_step_attempts (id, execution_id, step_index, attempted_at, outcome, error_detail)
        VALUES ($1, $2, $3, $4, $5, $6)
    `, uuid.New().String(), executionID, stepIndex, now, outcome.Kind, outcome.ErrorDetail)
	if err != nil {
		return nil, fmt.Errorf("insert attempt: %w", err)
	}

	change := engine.Apply(engine.StepState{
		Exec:                   e,
		Steps:                  steps,
		CampaignPaused:         campaignStatus != model.CampaignActive,
		CancelRequested:        e.CancelRequested,
		PriorTransientAttempts: priorTransient,
	}, outcome, now)

	_, err = tx.ExecContext(ctx, `
        UPDATE dunning_executions
        SET status = $1, current_step = $2, next_action_at = $3,
            recovered_at = COALESCE($4, recovered_at),
            recovered_amount = COALESCE($5, recovered_amount),
            updated_at = $6, claimed_by = NULL, claimed_at = NULL, cancel_requested = false
        WHERE id = $7
    `, change.Status, change.CurrentStep, change.NextActionAt,
		change.RecoveredAt, change.RecoveredAmount, now, executionID)
	if err != nil {
		return nil, fmt.Errorf("apply transition: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit record attempt: %w", err)
	}

	e.Status = change.Status
	e.CurrentStep = change.CurrentStep
	e.NextActionAt = change.NextActionAt
	if change.RecoveredAt != nil {
		e.RecoveredAt = change.RecoveredAt
		e.RecoveredAmount = change.RecoveredAmount
	}
	e.UpdatedAt = now
	e.ClaimedBy = nil
	e.ClaimedAt = nil
	e.CancelRequested = false
	return e, nil
}

// Release unconditionally clears the claim. Used by the stale-claim sweep and
// crash recovery paths.
func (r *ExecutionRepository) Release(ctx context.Context, executionID string) error {
	_, err := r.DB.ExecContext(ctx, `
        UPDATE dunning_executions SET claimed_by = NULL, claimed_at = NULL WHERE id = $1
    `, executionID)
	if err != nil {
		return fmt.Errorf("release claim: %w", err)
	}
	return nil
}

// ReleaseStale clears claims older than the threshold so crashed workers
// never strand an execution.
func (r *ExecutionRepository) ReleaseStale(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := r.DB.ExecContext(ctx, `
        UPDATE dunning_executions SET claimed_by = NULL, claimed_at = NULL
        WHERE claimed_at IS NOT NULL AND claimed_at < $1
    `, olderThan)
	if err != nil {
		return 0, fmt.Errorf("release stale claims: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// ====================== Cancellation ======================

// RequestCancel cancels an unclaimed execution immediately; a claimed one
// gets a cancel flag that RecordAttempt observes after the in-flight attempt
// finishes (no forced interruption).
func (r *ExecutionRepository) RequestCancel(ctx context.Context, executionID string, now time.Time) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin cancel: %w", err)
	}
	defer tx.Rollback()

	e, err := scanExecution(tx.QueryRowContext(ctx, `
        SELECT `+executionColumns+` FROM dunning_executions WHERE id = $1 FOR UPDATE
    `, executionID))
	if err == sql.ErrNoRows {
		return appErrors.NewExecutionNotFound(executionID)
	}
	if err != nil {
		return fmt.Errorf("lock execution: %w", err)
	}
	if e.Terminal() {
		return appErrors.NewInvalidState("cancel execution", e.Status)
	}

	if e.ClaimedAt != nil {
		_, err = tx.ExecContext(ctx, `
            UPDATE dunning_executions SET cancel_requested = true, updated_at = $1 WHERE id = $2
        `, now, executionID)
	} else {
		_, err = tx.ExecContext(ctx, `
            UPDATE dunning_executions
            SET status = 'cancelled', next_action_at = NULL, updated_at = $1 WHERE id = $2
        `, now, executionID)
	}
	if err != nil {
		return fmt.Errorf("cancel execution: %w", err)
	}
	return tx.Commit()
}

// ====================== Analytics reads ======================

func (r *ExecutionRepository) AnalyticsRows(ctx context.Context, since time.Time) ([]model.AnalyticsRow, error) {
	rows, err := r.DB.QueryContext(ctx, `
        SELECT e.id, e.campaign_id, c.name, e.status, e.enrolled_at, e.recovered_at, e.recovered_amount
        FROM dunning_executions e
        JOIN dunning_campaigns c ON c.id = e.campaign_id
        WHERE e.enrolled_at >= $1 OR e.recovered_at >= $1
    `, since)
	if err != nil {
		return nil, fmt.Errorf("analytics rows: %w", err)
	}
	defer rows.Close()

	out := []model.AnalyticsRow{}
	for rows.Next() {
		var a model.AnalyticsRow
		if err := rows.Scan(&a.ExecutionID, &a.CampaignID, &a.CampaignName, &a.Status,
			&a.EnrolledAt, &a.RecoveredAt, &a.RecoveredAmount); err != nil {
			return nil, fmt.Errorf("scan analytics row: %w", err)
		}
		out = append(out, a)
	}
	return out, nil
}

func (r *ExecutionRepository) CountByStatus(ctx context.Context) (map[string]int, error) {
	rows, err := r.DB.QueryContext(ctx, `
        SELECT status, COUNT(*) FROM dunning_executions GROUP BY status
    `)
	if err != nil {
		return nil, fmt.Errorf("count by status: %w", err)
	}
	defer rows.Close()

	counts := map[string]int{
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
			return nil, fmt.Errorf("scan status count: %w", err)
		}
		counts[status] = count
	}
	return counts, nil
}

func qualifiedExecutionColumns(table string) string {
	return table + `.id, ` + table + `.campaign_id, ` + table + `.campaign_version, ` +
		table + `.invoice_id, ` + table + `.customer_id, ` + table + `.status, ` +
		table + `.current_step, ` + table + `.total_steps, ` + table + `.next_action_at, ` +
		table + `.enrolled_at, ` + table + `.updated_at, ` + table + `.recovered_at, ` +
		table + `.recovered_amount, ` + table + `.claimed_by, ` + table + `.claimed_at, ` +
		table + `.cancel_requested`
}

var _ ExecutionRepositoryInterface = (*ExecutionRepository)(nil)
