package billing

import (
	"context"
	"fmt"
	"time"

	"github.com/ash-erp/billing/internal/domain/billing"
	"github.com/ash-erp/billing/internal/domain/shared"
	"github.com/ash-erp/billing/internal/domain/shared/valueobject"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// InvoiceService handles invoice lifecycle operations
type InvoiceService struct {
	invoiceRepo    billing.InvoiceRepository
	sequenceRepo   billing.SequenceRepository
	publisher      shared.EventPublisher
	logger         *zap.Logger
	defaultDueDays int
}

// NewInvoiceService creates a new InvoiceService
func NewInvoiceService(
	invoiceRepo billing.InvoiceRepository,
	sequenceRepo billing.SequenceRepository,
	publisher shared.EventPublisher,
	logger *zap.Logger,
	defaultDueDays int,
) *InvoiceService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &InvoiceService{
		invoiceRepo:    invoiceRepo,
		sequenceRepo:   sequenceRepo,
		publisher:      publisher,
		logger:         logger,
		defaultDueDays: defaultDueDays,
	}
}

// LineItemRequest represents one invoice line in a create request
type LineItemRequest struct {
	Description     string          `json:"description"`
	Quantity        decimal.Decimal `json:"quantity"`
	UnitPrice       decimal.Decimal `json:"unit_price"`
	DiscountPercent decimal.Decimal `json:"discount_percent"`
}

// CreateInvoiceRequest represents a request to create an invoice
type CreateInvoiceRequest struct {
	ClientID       uuid.UUID         `json:"client_id"`
	ClientName     string            `json:"client_name"`
	OrderID        *uuid.UUID        `json:"order_id"`
	Currency       string            `json:"currency"`
	Lines          []LineItemRequest `json:"lines"`
	DiscountAmount decimal.Decimal   `json:"discount_amount"`
	TaxPercent     decimal.Decimal   `json:"tax_percent"`
	DueDate        *time.Time        `json:"due_date"`
	Notes          string            `json:"notes"`
	CreatedBy      *uuid.UUID        `json:"-"` // Set from JWT context, not from request body
}

// LineItemResponse represents an invoice line in API responses
type LineItemResponse struct {
	ID              uuid.UUID       `json:"id"`
	Description     string          `json:"description"`
	Quantity        decimal.Decimal `json:"quantity"`
	UnitPrice       decimal.Decimal `json:"unit_price"`
	DiscountPercent decimal.Decimal `json:"discount_percent"`
	LineTotal       decimal.Decimal `json:"line_total"`
}

// PaymentRecordResponse represents an applied payment in invoice responses
type PaymentRecordResponse struct {
	ID            uuid.UUID       `json:"id"`
	PaymentID     uuid.UUID       `json:"payment_id"`
	PaymentNumber string          `json:"payment_number"`
	Amount        decimal.Decimal `json:"amount"`
	AppliedAt     time.Time       `json:"applied_at"`
}

// InvoiceResponse represents an invoice in API responses
type InvoiceResponse struct {
	ID             uuid.UUID               `json:"id"`
	InvoiceNumber  string                  `json:"invoice_number"`
	ClientID       uuid.UUID               `json:"client_id"`
	ClientName     string                  `json:"client_name"`
	OrderID        *uuid.UUID              `json:"order_id,omitempty"`
	Currency       string                  `json:"currency"`
	Lines          []LineItemResponse      `json:"lines"`
	Subtotal       decimal.Decimal         `json:"subtotal"`
	DiscountAmount decimal.Decimal         `json:"discount_amount"`
	TaxPercent     decimal.Decimal         `json:"tax_percent"`
	TaxAmount      decimal.Decimal         `json:"tax_amount"`
	Total          decimal.Decimal         `json:"total"`
	Balance        decimal.Decimal         `json:"balance"`
	Status         string                  `json:"status"`
	Overdue        bool                    `json:"overdue"`
	IssuedAt       *time.Time              `json:"issued_at,omitempty"`
	DueDate        *time.Time              `json:"due_date,omitempty"`
	PaidAt         *time.Time              `json:"paid_at,omitempty"`
	CancelledAt    *time.Time              `json:"cancelled_at,omitempty"`
	CancelReason   string                  `json:"cancel_reason,omitempty"`
	Payments       []PaymentRecordResponse `json:"payments,omitempty"`
	Notes          string                  `json:"notes,omitempty"`
	CreatedAt      time.Time               `json:"created_at"`
	UpdatedAt      time.Time               `json:"updated_at"`
	Version        int                     `json:"version"`
}

// InvoiceListFilter defines filtering options for invoice list queries
type InvoiceListFilter struct {
	Search   string     `form:"search"`
	ClientID *uuid.UUID `form:"client_id"`
	Status   string     `form:"status"`
	OrderID  *uuid.UUID `form:"order_id"`
	FromDate *time.Time `form:"from_date"`
	ToDate   *time.Time `form:"to_date"`
	DueFrom  *time.Time `form:"due_from"`
	DueTo    *time.Time `form:"due_to"`
	Overdue  *bool      `form:"overdue"`
	Page     int        `form:"page"`
	PageSize int        `form:"page_size"`
	OrderBy  string     `form:"order_by"`
	OrderDir string     `form:"order_dir"`
}

// ReceivablesSummaryResponse aggregates outstanding and overdue amounts
type ReceivablesSummaryResponse struct {
	TotalOutstanding decimal.Decimal `json:"total_outstanding"`
	OutstandingCount int64           `json:"outstanding_count"`
	TotalOverdue     decimal.Decimal `json:"total_overdue"`
	OverdueCount     int64           `json:"overdue_count"`
	TotalDraft       int64           `json:"total_draft"`
	TotalPaid        int64           `json:"total_paid"`
}

// CreateInvoice creates a new DRAFT invoice with computed totals
func (s *InvoiceService) CreateInvoice(ctx context.Context, tenantID uuid.UUID, req CreateInvoiceRequest) (*InvoiceResponse, error) {
	invoiceNumber, err := s.nextInvoiceNumber(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	lines := make([]billing.LineItem, 0, len(req.Lines))
	for _, l := range req.Lines {
		line, err := billing.NewLineItem(l.Description, l.Quantity, l.UnitPrice, l.DiscountPercent)
		if err != nil {
			return nil, err
		}
		lines = append(lines, line)
	}

	dueDate := req.DueDate
	if dueDate == nil && s.defaultDueDays > 0 {
		d := time.Now().AddDate(0, 0, s.defaultDueDays)
		dueDate = &d
	}

	invoice, err := billing.NewInvoice(
		tenantID,
		invoiceNumber,
		req.ClientID,
		req.ClientName,
		req.OrderID,
		valueobject.Currency(req.Currency),
		lines,
		req.DiscountAmount,
		req.TaxPercent,
		dueDate,
	)
	if err != nil {
		return nil, err
	}

	if req.Notes != "" {
		invoice.SetNotes(req.Notes)
	}

	// Set created_by if provided (from JWT context via handler)
	if req.CreatedBy != nil {
		invoice.SetCreatedBy(*req.CreatedBy)
	}

	if err := s.invoiceRepo.Save(ctx, invoice); err != nil {
		return nil, err
	}

	s.logger.Info("invoice created",
		zap.String("tenant_id", tenantID.String()),
		zap.String("invoice_id", invoice.ID.String()),
		zap.String("invoice_number", invoice.InvoiceNumber),
		zap.String("total", invoice.Total.StringFixed(2)),
	)

	s.publishEvents(ctx, invoice.GetDomainEvents())
	invoice.ClearDomainEvents()

	return toInvoiceResponse(invoice), nil
}

// GetInvoiceByID gets an invoice by ID
func (s *InvoiceService) GetInvoiceByID(ctx context.Context, tenantID, id uuid.UUID) (*InvoiceResponse, error) {
	invoice, err := s.invoiceRepo.FindByIDForTenant(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	return toInvoiceResponse(invoice), nil
}

// ListInvoices lists invoices with filtering, returning items and a total count
func (s *InvoiceService) ListInvoices(ctx context.Context, tenantID uuid.UUID, filter InvoiceListFilter) ([]InvoiceResponse, int64, error) {
	domainFilter := billing.InvoiceFilter{
		ClientID: filter.ClientID,
		OrderID:  filter.OrderID,
		FromDate: filter.FromDate,
		ToDate:   filter.ToDate,
		DueFrom:  filter.DueFrom,
		DueTo:    filter.DueTo,
		Overdue:  filter.Overdue,
	}
	domainFilter.Page = filter.Page
	domainFilter.PageSize = filter.PageSize
	domainFilter.Search = filter.Search
	domainFilter.OrderBy = filter.OrderBy
	domainFilter.OrderDir = filter.OrderDir

	if filter.Status != "" {
		status := billing.InvoiceStatus(filter.Status)
		if !status.IsValid() {
			return nil, 0, shared.NewDomainError("VALIDATION", fmt.Sprintf("Unknown invoice status %q", filter.Status))
		}
		domainFilter.Status = &status
	}

	invoices, err := s.invoiceRepo.FindAllForTenant(ctx, tenantID, domainFilter)
	if err != nil {
		return nil, 0, err
	}

	total, err := s.invoiceRepo.CountForTenant(ctx, tenantID, domainFilter)
	if err != nil {
		return nil, 0, err
	}

	responses := make([]InvoiceResponse, len(invoices))
	for i := range invoices {
		responses[i] = *toInvoiceResponse(&invoices[i])
	}

	return responses, total, nil
}

// IssueInvoice transitions a DRAFT invoice to OPEN
func (s *InvoiceService) IssueInvoice(ctx context.Context, tenantID, invoiceID uuid.UUID) (*InvoiceResponse, error) {
	invoice, err := s.invoiceRepo.FindByIDForTenant(ctx, tenantID, invoiceID)
	if err != nil {
		return nil, err
	}

	loadedVersion := invoice.Version
	if err := invoice.Issue(); err != nil {
		return nil, err
	}

	if err := s.invoiceRepo.SaveWithLock(ctx, invoice, loadedVersion); err != nil {
		return nil, err
	}

	s.logger.Info("invoice issued",
		zap.String("tenant_id", tenantID.String()),
		zap.String("invoice_number", invoice.InvoiceNumber),
	)

	s.publishEvents(ctx, invoice.GetDomainEvents())
	invoice.ClearDomainEvents()

	return toInvoiceResponse(invoice), nil
}

// CancelInvoice cancels an invoice that has no applied payments
func (s *InvoiceService) CancelInvoice(ctx context.Context, tenantID, invoiceID uuid.UUID, reason string) (*InvoiceResponse, error) {
	invoice, err := s.invoiceRepo.FindByIDForTenant(ctx, tenantID, invoiceID)
	if err != nil {
		return nil, err
	}

	loadedVersion := invoice.Version
	if err := invoice.Cancel(reason); err != nil {
		return nil, err
	}

	if err := s.invoiceRepo.SaveWithLock(ctx, invoice, loadedVersion); err != nil {
		return nil, err
	}

	s.logger.Info("invoice cancelled",
		zap.String("tenant_id", tenantID.String()),
		zap.String("invoice_number", invoice.InvoiceNumber),
		zap.String("reason", reason),
	)

	s.publishEvents(ctx, invoice.GetDomainEvents())
	invoice.ClearDomainEvents()

	return toInvoiceResponse(invoice), nil
}

// GetReceivablesSummary aggregates outstanding/overdue balances for a tenant
func (s *InvoiceService) GetReceivablesSummary(ctx context.Context, tenantID uuid.UUID) (*ReceivablesSummaryResponse, error) {
	summary, err := s.invoiceRepo.Summarize(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	return &ReceivablesSummaryResponse{
		TotalOutstanding: summary.TotalOutstanding,
		OutstandingCount: summary.OutstandingCount,
		TotalOverdue:     summary.TotalOverdue,
		OverdueCount:     summary.OverdueCount,
		TotalDraft:       summary.TotalDraft,
		TotalPaid:        summary.TotalPaid,
	}, nil
}

// nextInvoiceNumber allocates the next invoice number for the tenant,
// formatted INV-YYYYMMDD-00001. The counter key includes the date so the
// running number resets daily.
func (s *InvoiceService) nextInvoiceNumber(ctx context.Context, tenantID uuid.UUID) (string, error) {
	day := time.Now().Format("20060102")
	seq, err := s.sequenceRepo.Next(ctx, tenantID, "invoice:"+day)
	if err != nil {
		return "", fmt.Errorf("failed to generate invoice number: %w", err)
	}
	return fmt.Sprintf("INV-%s-%05d", day, seq), nil
}

// publishEvents hands domain events to the bus. Delivery is best-effort;
// a publish failure must not fail the already-persisted operation.
func (s *InvoiceService) publishEvents(ctx context.Context, events []shared.DomainEvent) {
	if s.publisher == nil || len(events) == 0 {
		return
	}
	if err := s.publisher.Publish(ctx, events...); err != nil {
		s.logger.Warn("failed to publish domain events", zap.Error(err))
	}
}

// toInvoiceResponse converts an invoice aggregate to its API representation
func toInvoiceResponse(inv *billing.Invoice) *InvoiceResponse {
	lines := make([]LineItemResponse, len(inv.Lines))
	for i, l := range inv.Lines {
		lines[i] = LineItemResponse{
			ID:              l.ID,
			Description:     l.Description,
			Quantity:        l.Quantity,
			UnitPrice:       l.UnitPrice,
			DiscountPercent: l.DiscountPercent,
			LineTotal:       l.LineTotal,
		}
	}

	var payments []PaymentRecordResponse
	if len(inv.Payments) > 0 {
		payments = make([]PaymentRecordResponse, len(inv.Payments))
		for i, p := range inv.Payments {
			payments[i] = PaymentRecordResponse{
				ID:            p.ID,
				PaymentID:     p.PaymentID,
				PaymentNumber: p.PaymentNumber,
				Amount:        p.Amount,
				AppliedAt:     p.AppliedAt,
			}
		}
	}

	return &InvoiceResponse{
		ID:             inv.ID,
		InvoiceNumber:  inv.InvoiceNumber,
		ClientID:       inv.ClientID,
		ClientName:     inv.ClientName,
		OrderID:        inv.OrderID,
		Currency:       string(inv.Currency),
		Lines:          lines,
		Subtotal:       inv.Subtotal,
		DiscountAmount: inv.DiscountAmount,
		TaxPercent:     inv.TaxPercent,
		TaxAmount:      inv.TaxAmount,
		Total:          inv.Total,
		Balance:        inv.Balance,
		Status:         string(inv.Status),
		Overdue:        inv.IsOverdue(),
		IssuedAt:       inv.IssuedAt,
		DueDate:        inv.DueDate,
		PaidAt:         inv.PaidAt,
		CancelledAt:    inv.CancelledAt,
		CancelReason:   inv.CancelReason,
		Payments:       payments,
		Notes:          inv.Notes,
		CreatedAt:      inv.CreatedAt,
		UpdatedAt:      inv.UpdatedAt,
		Version:        inv.Version,
	}
}
