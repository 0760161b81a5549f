package billing

import (
	"context"
	"time"

	"github.com/ash-erp/billing/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// InvoiceFilter defines filtering options for invoice queries
type InvoiceFilter struct {
	shared.Filter
	ClientID *uuid.UUID     // Filter by client
	Status   *InvoiceStatus // Filter by status
	OrderID  *uuid.UUID     // Filter by source sales order
	FromDate *time.Time     // Filter by creation date range start
	ToDate   *time.Time     // Filter by creation date range end
	DueFrom  *time.Time     // Filter by due date range start
	DueTo    *time.Time     // Filter by due date range end
	Overdue  *bool          // Filter only overdue invoices
}

// ReceivablesSummary aggregates outstanding and overdue amounts for a tenant
type ReceivablesSummary struct {
	TotalOutstanding decimal.Decimal `json:"total_outstanding"`
	OutstandingCount int64           `json:"outstanding_count"`
	TotalOverdue     decimal.Decimal `json:"total_overdue"`
	OverdueCount     int64           `json:"overdue_count"`
	TotalDraft       int64           `json:"total_draft"`
	TotalPaid        int64           `json:"total_paid"`
}

// InvoiceRepository defines the interface for invoice persistence
type InvoiceRepository interface {
	// FindByIDForTenant finds an invoice by ID for a specific tenant
	FindByIDForTenant(ctx context.Context, tenantID, id uuid.UUID) (*Invoice, error)

	// FindByIDsForUpdate loads invoices by ID under SELECT ... FOR UPDATE row
	// locks. Must be called inside a transaction.
	FindByIDsForUpdate(ctx context.Context, tenantID uuid.UUID, ids []uuid.UUID) ([]*Invoice, error)

	// FindByInvoiceNumber finds by invoice number for a tenant
	FindByInvoiceNumber(ctx context.Context, tenantID uuid.UUID, invoiceNumber string) (*Invoice, error)

	// FindAllForTenant finds all invoices for a tenant with filtering
	FindAllForTenant(ctx context.Context, tenantID uuid.UUID, filter InvoiceFilter) ([]Invoice, error)

	// Save creates or updates an invoice
	Save(ctx context.Context, invoice *Invoice) error

	// SaveWithLock saves with optimistic locking. expectedVersion is the
	// version the aggregate carried when it was loaded; the save fails with
	// ErrConcurrencyConflict if the stored row has moved past it.
	SaveWithLock(ctx context.Context, invoice *Invoice, expectedVersion int) error

	// CountForTenant counts invoices for a tenant with optional filters
	CountForTenant(ctx context.Context, tenantID uuid.UUID, filter InvoiceFilter) (int64, error)

	// Summarize aggregates outstanding/overdue balances for a tenant
	Summarize(ctx context.Context, tenantID uuid.UUID) (*ReceivablesSummary, error)

	// ExistsByInvoiceNumber checks if an invoice number exists for a tenant
	ExistsByInvoiceNumber(ctx context.Context, tenantID uuid.UUID, invoiceNumber string) (bool, error)
}

// PaymentFilter defines filtering options for payment queries
type PaymentFilter struct {
	shared.Filter
	ClientID  *uuid.UUID     // Filter by client
	Status    *PaymentStatus // Filter by status
	Method    *PaymentMethod // Filter by payment method
	InvoiceID *uuid.UUID     // Filter payments allocated to an invoice
	FromDate  *time.Time     // Filter by received date range start
	ToDate    *time.Time     // Filter by received date range end
	Unapplied *bool          // Filter only payments with unapplied credit
}

// PaymentRepository defines the interface for payment persistence
type PaymentRepository interface {
	// FindByIDForTenant finds a payment by ID for a specific tenant
	FindByIDForTenant(ctx context.Context, tenantID, id uuid.UUID) (*Payment, error)

	// FindByPaymentNumber finds by payment number for a tenant
	FindByPaymentNumber(ctx context.Context, tenantID uuid.UUID, paymentNumber string) (*Payment, error)

	// FindAllForTenant finds all payments for a tenant with filtering
	FindAllForTenant(ctx context.Context, tenantID uuid.UUID, filter PaymentFilter) ([]Payment, error)

	// Save creates or updates a payment
	Save(ctx context.Context, payment *Payment) error

	// SaveWithLock saves with optimistic locking. expectedVersion is the
	// version the aggregate carried when it was loaded; the save fails with
	// ErrConcurrencyConflict if the stored row has moved past it.
	SaveWithLock(ctx context.Context, payment *Payment, expectedVersion int) error

	// CountForTenant counts payments for a tenant with optional filters
	CountForTenant(ctx context.Context, tenantID uuid.UUID, filter PaymentFilter) (int64, error)

	// SumUnappliedByClient calculates total unapplied credit for a client
	SumUnappliedByClient(ctx context.Context, tenantID, clientID uuid.UUID) (decimal.Decimal, error)
}

// SequenceRepository allocates gapless-enough document numbers atomically.
// Implementations must never read-then-increment; the allocation has to be a
// single atomic statement so concurrent callers cannot observe the same value.
type SequenceRepository interface {
	// Next atomically increments and returns the counter for (tenantID, key)
	Next(ctx context.Context, tenantID uuid.UUID, key string) (int64, error)
}
