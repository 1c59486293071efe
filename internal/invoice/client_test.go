package invoice

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErrors "github.com/unclebandit/dunning-engine/internal/errors"
)

func billingStub(t *testing.T, handler http.HandlerFunc) *Client {
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL, time.Second)
}

func TestGetStatus_PaidInvoice(t *testing.T) {
	client := billingStub(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/invoices/inv-1", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"invoice_id":"inv-1","status":"paid","amount_due":129.99}`))
	})

	status, err := client.GetStatus(context.Background(), "inv-1")

	require.NoError(t, err)
	assert.True(t, status.Paid)
	assert.False(t, status.Cancelled)
	assert.Equal(t, 129.99, status.AmountDue)
}

func TestGetStatus_VoidInvoiceIsCancelled(t *testing.T) {
	client := billingStub(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"invoice_id":"inv-1","status":"void","amount_due":0}`))
	})

	status, err := client.GetStatus(context.Background(), "inv-1")

	require.NoError(t, err)
	assert.True(t, status.Cancelled)
	assert.False(t, status.Paid)
}

func TestGetStatus_NotFoundIsPermanent(t *testing.T) {
	client := billingStub(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	_, err := client.GetStatus(context.Background(), "inv-1")

	require.Error(t, err)
	assert.True(t, appErrors.IsPermanent(err), "got %v", err)
}

func TestGetStatus_ServerErrorIsTransient(t *testing.T) {
	client := billingStub(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	_, err := client.GetStatus(context.Background(), "inv-1")

	require.Error(t, err)
	assert.False(t, appErrors.IsPermanent(err), "5xx must stay retryable, got %v", err)
}

func TestSuspendService_HitsBillingEndpoint(t *testing.T) {
	var gotPath string
	client := billingStub(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		assert.Equal(t, http.MethodPost, r.Method)
	})

	require.NoError(t, client.SuspendService(context.Background(), "cust-1"))
	assert.Equal(t, "/customers/cust-1/suspend", gotPath)
}

func TestCancelInvoice_ClientErrorIsPermanent(t *testing.T) {
	client := billingStub(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
	})

	err := client.CancelInvoice(context.Background(), "inv-1")

	require.Error(t, err)
	assert.True(t, appErrors.IsPermanent(err), "got %v", err)
}
