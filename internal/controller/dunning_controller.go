// internal/controller/dunning_controller.go
package controller

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	appErrors "github.com/unclebandit/dunning-engine/internal/errors"
	"github.com/unclebandit/dunning-engine/internal/model"
	"github.com/unclebandit/dunning-engine/internal/service"
)

type DunningController struct {
	Campaigns  *service.CampaignService
	Executions *service.ExecutionService
	Analytics  *service.AnalyticsService
}

// Routes mounts the dashboard-facing API.
func (c *DunningController) Routes(r chi.Router) {
	r.Get("/dunning/analytics", c.GetAnalytics)

	r.Post("/dunning/campaigns", c.CreateCampaign)
	r.Get("/dunning/campaigns", c.ListCampaigns)
	r.Get("/dunning/campaigns/{id}", c.GetCampaign)
	r.Patch("/dunning/campaigns/{id}", c.PatchCampaign)
	r.Post("/dunning/campaigns/{id}/steps", c.AppendStep)
	r.Post("/dunning/campaigns/{id}/enroll", c.Enroll)

	r.Get("/dunning/executions", c.ListExecutions)
	r.Get("/dunning/executions/{id}", c.GetExecution)
	r.Post("/dunning/executions/{id}/cancel", c.CancelExecution)
}

func (c *DunningController) CreateCampaign(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name                string               `json:"name"`
		Description         string               `json:"description"`
		TriggerDaysAfterDue int                  `json:"trigger_days_after_due"`
		Steps               []model.CampaignStep `json:"steps"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}

	campaign, err := c.Campaigns.CreateCampaign(r.Context(), &model.Campaign{
		Name:                body.Name,
		Description:         body.Description,
		TriggerDaysAfterDue: body.TriggerDaysAfterDue,
		Steps:               body.Steps,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, campaign)
}

func (c *DunningController) ListCampaigns(w http.ResponseWriter, r *http.Request) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	pageSize, _ := strconv.Atoi(r.URL.Query().Get("page_size"))
	status := r.URL.Query().Get("status")

	campaigns, pagination, err := c.Campaigns.ListCampaigns(r.Context(), page, pageSize, status)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"data":       campaigns,
		"pagination": pagination,
	})
}

func (c *DunningController) GetCampaign(w http.ResponseWriter, r *http.Request) {
	details, err := c.Campaigns.GetCampaignDetails(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, details)
}

// PatchCampaign drives pause/resume/archive from the dashboard.
func (c *DunningController) PatchCampaign(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}

	campaign, err := c.Campaigns.UpdateStatus(r.Context(), chi.URLParam(r, "id"), body.Status)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, campaign)
}

func (c *DunningController) AppendStep(w http.ResponseWriter, r *http.Request) {
	var step model.CampaignStep
	if err := json.NewDecoder(r.Body).Decode(&step); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}

	created, err := c.Campaigns.AppendStep(r.Context(), chi.URLParam(r, "id"), &step)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (c *DunningController) Enroll(w http.ResponseWriter, r *http.Request) {
	var body struct {
		InvoiceID  string `json:"invoice_id"`
		CustomerID string `json:"customer_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}

	exec, err := c.Executions.Enroll(r.Context(), chi.URLParam(r, "id"), body.InvoiceID, body.CustomerID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, exec)
}

func (c *DunningController) ListExecutions(w http.ResponseWriter, r *http.Request) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	pageSize, _ := strconv.Atoi(r.URL.Query().Get("page_size"))
	status := r.URL.Query().Get("status")

	executions, pagination, err := c.Executions.ListExecutions(r.Context(), page, pageSize, status)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"data":       executions,
		"pagination": pagination,
	})
}

func (c *DunningController) GetExecution(w http.ResponseWriter, r *http.Request) {
	details, err := c.Executions.GetExecutionDetails(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, details)
}

func (c *DunningController) CancelExecution(w http.ResponseWriter, r *http.Request) {
	exec, err := c.Executions.Cancel(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, exec)
}

func (c *DunningController) GetAnalytics(w http.ResponseWriter, r *http.Request) {
	periodDays, _ := strconv.Atoi(r.URL.Query().Get("period_days"))

	snapshot, err := c.Analytics.Snapshot(r.Context(), periodDays)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snapshot)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	switch {
	case appErrors.IsValidation(err):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case appErrors.IsInvalidState(err):
		http.Error(w, err.Error(), http.StatusConflict)
	case appErrors.IsNotFound(err):
		http.Error(w, err.Error(), http.StatusNotFound)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
