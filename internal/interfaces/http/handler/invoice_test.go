package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	appbilling "github.com/ash-erp/billing/internal/application/billing"
	"github.com/ash-erp/billing/internal/domain/billing"
	"github.com/ash-erp/billing/internal/domain/shared"
	"github.com/ash-erp/billing/internal/domain/shared/valueobject"
	"github.com/ash-erp/billing/internal/interfaces/http/dto"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Stub repositories. Handler tests run real application services over these so
// a request exercises the full decode -> service -> encode path.

type stubInvoiceRepo struct {
	invoices  map[uuid.UUID]*billing.Invoice
	returnErr error
}

func newStubInvoiceRepo() *stubInvoiceRepo {
	return &stubInvoiceRepo{invoices: make(map[uuid.UUID]*billing.Invoice)}
}

func (r *stubInvoiceRepo) FindByIDForTenant(_ context.Context, tenantID, id uuid.UUID) (*billing.Invoice, error) {
	if r.returnErr != nil {
		return nil, r.returnErr
	}
	if inv, ok := r.invoices[id]; ok && inv.TenantID == tenantID {
		return inv, nil
	}
	return nil, shared.ErrNotFound
}

func (r *stubInvoiceRepo) FindByIDsForUpdate(ctx context.Context, tenantID uuid.UUID, ids []uuid.UUID) ([]*billing.Invoice, error) {
	result := make([]*billing.Invoice, 0, len(ids))
	for _, id := range ids {
		inv, err := r.FindByIDForTenant(ctx, tenantID, id)
		if err != nil {
			return nil, err
		}
		result = append(result, inv)
	}
	return result, nil
}

func (r *stubInvoiceRepo) FindByInvoiceNumber(_ context.Context, tenantID uuid.UUID, invoiceNumber string) (*billing.Invoice, error) {
	for _, inv := range r.invoices {
		if inv.TenantID == tenantID && inv.InvoiceNumber == invoiceNumber {
			return inv, nil
		}
	}
	return nil, shared.ErrNotFound
}

func (r *stubInvoiceRepo) FindAllForTenant(_ context.Context, tenantID uuid.UUID, _ billing.InvoiceFilter) ([]billing.Invoice, error) {
	if r.returnErr != nil {
		return nil, r.returnErr
	}
	result := make([]billing.Invoice, 0)
	for _, inv := range r.invoices {
		if inv.TenantID == tenantID {
			result = append(result, *inv)
		}
	}
	return result, nil
}

func (r *stubInvoiceRepo) Save(_ context.Context, invoice *billing.Invoice) error {
	if r.returnErr != nil {
		return r.returnErr
	}
	r.invoices[invoice.ID] = invoice
	return nil
}

func (r *stubInvoiceRepo) SaveWithLock(ctx context.Context, invoice *billing.Invoice, _ int) error {
	return r.Save(ctx, invoice)
}

func (r *stubInvoiceRepo) CountForTenant(_ context.Context, tenantID uuid.UUID, _ billing.InvoiceFilter) (int64, error) {
	var n int64
	for _, inv := range r.invoices {
		if inv.TenantID == tenantID {
			n++
		}
	}
	return n, nil
}

func (r *stubInvoiceRepo) Summarize(_ context.Context, tenantID uuid.UUID) (*billing.ReceivablesSummary, error) {
	if r.returnErr != nil {
		return nil, r.returnErr
	}
	summary := &billing.ReceivablesSummary{
		TotalOutstanding: decimal.Zero,
		TotalOverdue:     decimal.Zero,
	}
	for _, inv := range r.invoices {
		if inv.TenantID != tenantID {
			continue
		}
		summary.TotalOutstanding = summary.TotalOutstanding.Add(inv.Balance)
		summary.OutstandingCount++
	}
	return summary, nil
}

func (r *stubInvoiceRepo) ExistsByInvoiceNumber(_ context.Context, tenantID uuid.UUID, invoiceNumber string) (bool, error) {
	_, err := r.FindByInvoiceNumber(context.Background(), tenantID, invoiceNumber)
	return err == nil, nil
}

type stubSequenceRepo struct {
	counters map[string]int64
}

func newStubSequenceRepo() *stubSequenceRepo {
	return &stubSequenceRepo{counters: make(map[string]int64)}
}

func (r *stubSequenceRepo) Next(_ context.Context, tenantID uuid.UUID, key string) (int64, error) {
	k := tenantID.String() + ":" + key
	r.counters[k]++
	return r.counters[k], nil
}

type noopPublisher struct{}

func (noopPublisher) Publish(context.Context, ...shared.DomainEvent) error { return nil }

func newTestInvoiceHandler(repo *stubInvoiceRepo, seq *stubSequenceRepo) *InvoiceHandler {
	svc := appbilling.NewInvoiceService(repo, seq, noopPublisher{}, nil, 30)
	return NewInvoiceHandler(svc)
}

// invoiceTestRouter wires the handler behind a route with simulated JWT
// context, mirroring what the auth middleware provides in production.
func invoiceTestRouter(h *InvoiceHandler, tenantID, userID uuid.UUID) *gin.Engine {
	engine := gin.New()
	if tenantID != uuid.Nil {
		engine.Use(func(c *gin.Context) {
			setJWTContext(c, tenantID, userID)
		})
	}
	g := engine.Group("/billing")
	g.POST("/invoices", h.Create)
	g.GET("/invoices", h.List)
	g.GET("/invoices/summary", h.GetSummary)
	g.GET("/invoices/:id", h.GetByID)
	g.POST("/invoices/:id/issue", h.Issue)
	g.POST("/invoices/:id/cancel", h.Cancel)
	return engine
}

func storedInvoice(t *testing.T, repo *stubInvoiceRepo, tenantID uuid.UUID, total string) *billing.Invoice {
	t.Helper()
	line, err := billing.NewLineItem("Steel brackets", decimal.NewFromInt(1), decimal.RequireFromString(total), decimal.Zero)
	require.NoError(t, err)
	inv, err := billing.NewInvoice(
		tenantID, fmt.Sprintf("INV-20260101-%05d", len(repo.invoices)+1),
		uuid.New(), "Acme Manufacturing",
		nil, valueobject.PHP, []billing.LineItem{line}, decimal.Zero, decimal.Zero, nil,
	)
	require.NoError(t, err)
	inv.ClearDomainEvents()
	repo.invoices[inv.ID] = inv
	return inv
}

func TestInvoiceHandlerCreate(t *testing.T) {
	tenantID := uuid.New()
	userID := uuid.New()

	t.Run("creates invoice", func(t *testing.T) {
		repo := newStubInvoiceRepo()
		h := newTestInvoiceHandler(repo, newStubSequenceRepo())
		router := invoiceTestRouter(h, tenantID, userID)

		body := map[string]any{
			"client_id":   uuid.New().String(),
			"client_name": "Acme Manufacturing",
			"currency":    "PHP",
			"lines": []map[string]any{
				{"description": "Steel brackets", "quantity": "10", "unit_price": "150.00"},
			},
		}
		payload, _ := json.Marshal(body)

		w := httptest.NewRecorder()
		req := httptest.NewRequest("POST", "/billing/invoices", bytes.NewReader(payload))
		req.Header.Set("Content-Type", "application/json")
		router.ServeHTTP(w, req)

		require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

		var resp dto.Response
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.True(t, resp.Success)

		data := resp.Data.(map[string]any)
		assert.Equal(t, "DRAFT", data["status"])
		assert.NotEmpty(t, data["invoice_number"])
		assert.Len(t, repo.invoices, 1)

		for _, inv := range repo.invoices {
			require.NotNil(t, inv.CreatedBy)
			assert.Equal(t, userID, *inv.CreatedBy)
		}
	})

	t.Run("rejects request without tenant context", func(t *testing.T) {
		h := newTestInvoiceHandler(newStubInvoiceRepo(), newStubSequenceRepo())
		router := invoiceTestRouter(h, uuid.Nil, uuid.Nil)

		w := httptest.NewRecorder()
		req := httptest.NewRequest("POST", "/billing/invoices", bytes.NewReader([]byte(`{}`)))
		req.Header.Set("Content-Type", "application/json")
		// A tenant header is not a substitute for authenticated claims
		req.Header.Set("X-Tenant-ID", tenantID.String())
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusUnauthorized, w.Code)

		var resp dto.Response
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, dto.ErrCodeUnauthorized, resp.Error.Code)
	})

	t.Run("rejects malformed body", func(t *testing.T) {
		h := newTestInvoiceHandler(newStubInvoiceRepo(), newStubSequenceRepo())
		router := invoiceTestRouter(h, tenantID, userID)

		w := httptest.NewRecorder()
		req := httptest.NewRequest("POST", "/billing/invoices", bytes.NewReader([]byte(`{not json`)))
		req.Header.Set("Content-Type", "application/json")
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("rejects invoice without lines", func(t *testing.T) {
		h := newTestInvoiceHandler(newStubInvoiceRepo(), newStubSequenceRepo())
		router := invoiceTestRouter(h, tenantID, userID)

		body := map[string]any{
			"client_id":   uuid.New().String(),
			"client_name": "Acme Manufacturing",
			"currency":    "PHP",
			"lines":       []map[string]any{},
		}
		payload, _ := json.Marshal(body)

		w := httptest.NewRecorder()
		req := httptest.NewRequest("POST", "/billing/invoices", bytes.NewReader(payload))
		req.Header.Set("Content-Type", "application/json")
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestInvoiceHandlerGetByID(t *testing.T) {
	tenantID := uuid.New()

	t.Run("returns invoice", func(t *testing.T) {
		repo := newStubInvoiceRepo()
		inv := storedInvoice(t, repo, tenantID, "1500.00")
		h := newTestInvoiceHandler(repo, newStubSequenceRepo())
		router := invoiceTestRouter(h, tenantID, uuid.New())

		w := httptest.NewRecorder()
		req := httptest.NewRequest("GET", "/billing/invoices/"+inv.ID.String(), nil)
		router.ServeHTTP(w, req)

		require.Equal(t, http.StatusOK, w.Code, w.Body.String())

		var resp dto.Response
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		data := resp.Data.(map[string]any)
		assert.Equal(t, inv.InvoiceNumber, data["invoice_number"])
	})

	t.Run("rejects malformed id", func(t *testing.T) {
		h := newTestInvoiceHandler(newStubInvoiceRepo(), newStubSequenceRepo())
		router := invoiceTestRouter(h, tenantID, uuid.New())

		w := httptest.NewRecorder()
		req := httptest.NewRequest("GET", "/billing/invoices/not-a-uuid", nil)
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("404 for unknown invoice", func(t *testing.T) {
		h := newTestInvoiceHandler(newStubInvoiceRepo(), newStubSequenceRepo())
		router := invoiceTestRouter(h, tenantID, uuid.New())

		w := httptest.NewRecorder()
		req := httptest.NewRequest("GET", "/billing/invoices/"+uuid.New().String(), nil)
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("404 for another tenant's invoice", func(t *testing.T) {
		repo := newStubInvoiceRepo()
		foreign := storedInvoice(t, repo, uuid.New(), "900.00")
		h := newTestInvoiceHandler(repo, newStubSequenceRepo())
		router := invoiceTestRouter(h, tenantID, uuid.New())

		w := httptest.NewRecorder()
		req := httptest.NewRequest("GET", "/billing/invoices/"+foreign.ID.String(), nil)
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestInvoiceHandlerList(t *testing.T) {
	tenantID := uuid.New()

	repo := newStubInvoiceRepo()
	storedInvoice(t, repo, tenantID, "100.00")
	storedInvoice(t, repo, tenantID, "200.00")
	storedInvoice(t, repo, uuid.New(), "300.00")
	h := newTestInvoiceHandler(repo, newStubSequenceRepo())
	router := invoiceTestRouter(h, tenantID, uuid.New())

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/billing/invoices?page=1&page_size=10", nil)
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp dto.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotNil(t, resp.Meta)
	assert.Equal(t, int64(2), resp.Meta.Total)
	assert.Equal(t, 1, resp.Meta.Page)
	assert.Equal(t, 10, resp.Meta.PageSize)
}

func TestInvoiceHandlerIssue(t *testing.T) {
	tenantID := uuid.New()

	t.Run("issues draft invoice", func(t *testing.T) {
		repo := newStubInvoiceRepo()
		inv := storedInvoice(t, repo, tenantID, "1500.00")
		h := newTestInvoiceHandler(repo, newStubSequenceRepo())
		router := invoiceTestRouter(h, tenantID, uuid.New())

		w := httptest.NewRecorder()
		req := httptest.NewRequest("POST", "/billing/invoices/"+inv.ID.String()+"/issue", nil)
		router.ServeHTTP(w, req)

		require.Equal(t, http.StatusOK, w.Code, w.Body.String())

		var resp dto.Response
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		data := resp.Data.(map[string]any)
		assert.Equal(t, "OPEN", data["status"])
	})

	t.Run("422 when invoice already issued", func(t *testing.T) {
		repo := newStubInvoiceRepo()
		inv := storedInvoice(t, repo, tenantID, "1500.00")
		require.NoError(t, inv.Issue())
		h := newTestInvoiceHandler(repo, newStubSequenceRepo())
		router := invoiceTestRouter(h, tenantID, uuid.New())

		w := httptest.NewRecorder()
		req := httptest.NewRequest("POST", "/billing/invoices/"+inv.ID.String()+"/issue", nil)
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	})
}

func TestInvoiceHandlerCancel(t *testing.T) {
	tenantID := uuid.New()

	t.Run("cancels draft invoice with reason", func(t *testing.T) {
		repo := newStubInvoiceRepo()
		inv := storedInvoice(t, repo, tenantID, "1500.00")
		h := newTestInvoiceHandler(repo, newStubSequenceRepo())
		router := invoiceTestRouter(h, tenantID, uuid.New())

		payload, _ := json.Marshal(map[string]string{"reason": "duplicate entry"})
		w := httptest.NewRecorder()
		req := httptest.NewRequest("POST", "/billing/invoices/"+inv.ID.String()+"/cancel", bytes.NewReader(payload))
		req.Header.Set("Content-Type", "application/json")
		router.ServeHTTP(w, req)

		require.Equal(t, http.StatusOK, w.Code, w.Body.String())

		var resp dto.Response
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		data := resp.Data.(map[string]any)
		assert.Equal(t, "CANCELLED", data["status"])
	})

	t.Run("rejects cancel without reason", func(t *testing.T) {
		repo := newStubInvoiceRepo()
		inv := storedInvoice(t, repo, tenantID, "1500.00")
		h := newTestInvoiceHandler(repo, newStubSequenceRepo())
		router := invoiceTestRouter(h, tenantID, uuid.New())

		w := httptest.NewRecorder()
		req := httptest.NewRequest("POST", "/billing/invoices/"+inv.ID.String()+"/cancel", bytes.NewReader([]byte(`{}`)))
		req.Header.Set("Content-Type", "application/json")
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestInvoiceHandlerGetSummary(t *testing.T) {
	tenantID := uuid.New()

	repo := newStubInvoiceRepo()
	storedInvoice(t, repo, tenantID, "250.00")
	h := newTestInvoiceHandler(repo, newStubSequenceRepo())
	router := invoiceTestRouter(h, tenantID, uuid.New())

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/billing/invoices/summary", nil)
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp dto.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
}
