// internal/model/invoice.go
package model

import "time"

// InvoiceStatus is what the external invoice service reports for an invoice.
type InvoiceStatus struct {
	InvoiceID string    `json:"invoice_id"`
	Paid      bool      `json:"paid"`
	Cancelled bool      `json:"cancelled"`
	AmountDue float64   `json:"amount_due"`
	DueDate   time.Time `json:"due_date"`
}
