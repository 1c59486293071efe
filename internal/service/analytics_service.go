// internal/service/analytics_service.go
package service

import (
	"context"
	"sort"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/unclebandit/dunning-engine/internal/clock"
	"github.com/unclebandit/dunning-engine/internal/model"
)

// AnalyticsRepo is the read-only slice of the execution repository the
// aggregator needs.
type AnalyticsRepo interface {
	AnalyticsRows(ctx context.Context, since time.Time) ([]model.AnalyticsRow, error)
	CountByStatus(ctx context.Context) (map[string]int, error)
}

type AnalyticsService struct {
	Repo  AnalyticsRepo
	Clock clock.Clock
}

type CampaignRecovery struct {
	CampaignID   string   `json:"campaign_id"`
	CampaignName string   `json:"campaign_name"`
	Executions   int      `json:"executions"`
	Recovered    int      `json:"recovered"`
	RecoveryRate *float64 `json:"recovery_rate"`
}

type RecentRecovery struct {
	ExecutionID     string    `json:"execution_id"`
	CampaignName    string    `json:"campaign_name"`
	RecoveredAmount float64   `json:"recovered_amount"`
	RecoveredAt     time.Time `json:"recovered_at"`
}

// RecoveryAnalyticsSnapshot is derived on demand; the execution table stays
// the source of truth. Rates only count resolved executions so a burst of
// fresh enrollments cannot understate them; rate fields are null when the
// denominator is zero.
type RecoveryAnalyticsSnapshot struct {
	PeriodDays              int                `json:"period_days"`
	TotalActiveExecutions   int                `json:"total_active_executions"`
	TotalRecoveredThisMonth float64            `json:"total_recovered_this_month"`
	OverallRecoveryRate     *float64           `json:"overall_recovery_rate"`
	AverageRecoveryDays     *float64           `json:"average_recovery_days"`
	P50RecoveryDays         *float64           `json:"p50_recovery_days"`
	P90RecoveryDays         *float64           `json:"p90_recovery_days"`
	ByCampaign              []CampaignRecovery `json:"by_campaign"`
	ByStatus                map[string]int     `json:"by_status"`
	RecentRecoveries        []RecentRecovery   `json:"recent_recoveries"`
}

const recentRecoveryLimit = 10

// Snapshot aggregates executions enrolled or recovered within the window.
func (s *AnalyticsService) Snapshot(ctx context.Context, periodDays int) (*RecoveryAnalyticsSnapshot, error) {
	if periodDays <= 0 {
		periodDays = 30
	}
	now := s.Clock.Now()
	since := now.AddDate(0, 0, -periodDays)

	rows, err := s.Repo.AnalyticsRows(ctx, since)
	if err != nil {
		return nil, err
	}
	byStatus, err := s.Repo.CountByStatus(ctx)
	if err != nil {
		return nil, err
	}

	snap := &RecoveryAnalyticsSnapshot{
		PeriodDays:            periodDays,
		TotalActiveExecutions: byStatus[model.ExecutionPending] + byStatus[model.ExecutionInProgress],
		ByStatus:              byStatus,
		ByCampaign:            []CampaignRecovery{},
		RecentRecoveries:      []RecentRecovery{},
	}

	var completed, failed int
	var recoveryDays []float64
	perCampaign := map[string]*CampaignRecovery{}
	var recoveries []model.AnalyticsRow

	for _, row := range rows {
		cr, ok := perCampaign[row.CampaignID]
		if !ok {
			cr = &CampaignRecovery{CampaignID: row.CampaignID, CampaignName: row.CampaignName}
			perCampaign[row.CampaignID] = cr
		}
		cr.Executions++

		switch row.Status {
		case model.ExecutionCompleted:
			completed++
			cr.Recovered++
			if row.RecoveredAt != nil {
				recoveryDays = append(recoveryDays, row.RecoveredAt.Sub(row.EnrolledAt).Hours()/24)
				recoveries = append(recoveries, row)
				if sameMonth(*row.RecoveredAt, now) && row.RecoveredAmount != nil {
					snap.TotalRecoveredThisMonth += *row.RecoveredAmount
				}
			}
		case model.ExecutionFailed:
			failed++
		}
	}

	snap.OverallRecoveryRate = rate(completed, completed+failed)

	if len(recoveryDays) > 0 {
		snap.AverageRecoveryDays = ptr(stat.Mean(recoveryDays, nil))
		sort.Float64s(recoveryDays)
		snap.P50RecoveryDays = ptr(stat.Quantile(0.5, stat.Empirical, recoveryDays, nil))
		snap.P90RecoveryDays = ptr(stat.Quantile(0.9, stat.Empirical, recoveryDays, nil))
	}

	for _, cr := range perCampaign {
		resolved := cr.Recovered + campaignFailed(rows, cr.CampaignID)
		cr.RecoveryRate = rate(cr.Recovered, resolved)
		snap.ByCampaign = append(snap.ByCampaign, *cr)
	}
	sort.Slice(snap.ByCampaign, func(i, j int) bool {
		return snap.ByCampaign[i].Executions > snap.ByCampaign[j].Executions
	})

	sort.Slice(recoveries, func(i, j int) bool {
		return recoveries[i].RecoveredAt.After(*recoveries[j].RecoveredAt)
	})
	for i, row := range recoveries {
		if i >= recentRecoveryLimit {
			break
		}
		amount := 0.0
		if row.RecoveredAmount != nil {
			amount = *row.RecoveredAmount
		}
		snap.RecentRecoveries = append(snap.RecentRecoveries, RecentRecovery{
			ExecutionID:     row.ExecutionID,
			CampaignName:    row.CampaignName,
			RecoveredAmount: amount,
			RecoveredAt:     *row.RecoveredAt,
		})
	}

	return snap, nil
}

func campaignFailed(rows []model.AnalyticsRow, campaignID string) int {
	n := 0
	for _, row := range rows {
		if row.CampaignID == campaignID && row.Status == model.ExecutionFailed {
			n++
		}
	}
	return n
}

func rate(num, den int) *float64 {
	if den == 0 {
		return nil
	}
	return ptr(float64(num) / float64(den))
}

func sameMonth(a, b time.Time) bool {
	return a.Year() == b.Year() && a.Month() == b.Month()
}

func ptr(f float64) *float64 { return &f }
