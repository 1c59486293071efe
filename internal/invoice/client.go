// internal/invoice/client.go
package invoice

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	appErrors "github.com/unclebandit/dunning-engine/internal/errors"
	"github.com/unclebandit/dunning-engine/internal/model"
)

// Client talks to the external invoice/billing service.
type Client struct {
	BaseURL string
	HTTP    *http.Client
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		BaseURL: baseURL,
		HTTP:    &http.Client{Timeout: timeout},
	}
}

type statusResponse struct {
	InvoiceID string    `json:"invoice_id"`
	Status    string    `json:"status"` // open, paid, void
	AmountDue float64   `json:"amount_due"`
	DueDate   time.Time `json:"due_date"`
}

// GetStatus fetches the invoice's current state. A missing invoice is a
// permanent error (nothing to recover); 5xx and transport failures are
// transient.
func (c *Client) GetStatus(ctx context.Context, invoiceID string) (*model.InvoiceStatus, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/invoices/%s", c.BaseURL, invoiceID), nil)
	if err != nil {
		return nil, appErrors.NewPermanent(err)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, appErrors.NewTransient(fmt.Errorf("invoice status: %w", err))
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, appErrors.NewPermanent(fmt.Errorf("invoice %s not found", invoiceID))
	case resp.StatusCode >= 500:
		return nil, appErrors.NewTransient(fmt.Errorf("invoice service returned %d", resp.StatusCode))
	case resp.StatusCode != http.StatusOK:
		return nil, appErrors.NewPermanent(fmt.Errorf("invoice service returned %d", resp.StatusCode))
	}

	var body statusResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, appErrors.NewTransient(fmt.Errorf("decode invoice status: %w", err))
	}

	return &model.InvoiceStatus{
		InvoiceID: invoiceID,
		Paid:      body.Status == "paid",
		Cancelled: body.Status == "void",
		AmountDue: body.AmountDue,
		DueDate:   body.DueDate,
	}, nil
}

// SuspendService asks billing to suspend the customer's service.
func (c *Client) SuspendService(ctx context.Context, customerID string) error {
	return c.post(ctx, fmt.Sprintf("%s/customers/%s/suspend", c.BaseURL, customerID))
}

// CancelInvoice voids the invoice if it is still unpaid.
func (c *Client) CancelInvoice(ctx context.Context, invoiceID string) error {
	return c.post(ctx, fmt.Sprintf("%s/invoices/%s/cancel", c.BaseURL, invoiceID))
}

func (c *Client) post(ctx context.Context, url string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	if err != nil {
		return appErrors.NewPermanent(err)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return appErrors.NewTransient(fmt.Errorf("billing call: %w", err))
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 500:
		return appErrors.NewTransient(fmt.Errorf("billing returned %d", resp.StatusCode))
	case resp.StatusCode >= 400:
		return appErrors.NewPermanent(fmt.Errorf("billing returned %d", resp.StatusCode))
	}
	return nil
}
