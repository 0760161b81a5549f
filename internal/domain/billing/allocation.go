package billing

import (
	"fmt"

	"github.com/ash-erp/billing/internal/domain/shared"
	"github.com/ash-erp/billing/internal/domain/shared/valueobject"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// AllocationRequest asks for an amount of a payment to be applied to one invoice
type AllocationRequest struct {
	InvoiceID uuid.UUID
	Amount    decimal.Decimal
}

// AllocationResult describes the outcome of an allocation run
type AllocationResult struct {
	Payment          *Payment            // Updated payment
	UpdatedInvoices  []*Invoice          // Invoices whose balance changed
	Allocations      []InvoiceAllocation // Allocations that were made
	TotalApplied     decimal.Decimal     // Sum actually applied to invoices
	ReturnedToCredit decimal.Decimal     // Requested amount beyond invoice balances, kept as unapplied credit
}

// AllocationEngine is a domain service that applies a payment to a set of
// invoices. It mutates both sides of the relationship consistently:
//  1. The payment must be COMPLETED and the requested total must not exceed
//     its unapplied amount.
//  2. Every requested invoice must belong to the payment's tenant, be
//     resolvable, and not already be fully paid.
//  3. Per invoice the applied amount is clamped to the remaining balance;
//     the excess stays on the payment as unapplied credit.
//
// The engine works on in-memory aggregates only. Loading invoices under row
// locks and committing everything atomically is the application layer's job.
type AllocationEngine struct{}

// NewAllocationEngine creates a new allocation engine
func NewAllocationEngine() *AllocationEngine {
	return &AllocationEngine{}
}

// Allocate applies the requested amounts of the payment to the given invoices.
// The invoices slice must contain every invoice named by the requests; entries
// for other invoices are ignored.
func (e *AllocationEngine) Allocate(payment *Payment, invoices []*Invoice, requests []AllocationRequest) (*AllocationResult, error) {
	if payment == nil {
		return nil, shared.NewDomainError("INVALID_PAYMENT", "Payment cannot be nil")
	}
	if !payment.Status.CanAllocate() {
		return nil, shared.NewDomainError("INVALID_STATE",
			fmt.Sprintf("Cannot allocate payment in %s status, must be COMPLETED", payment.Status))
	}
	if len(requests) == 0 {
		return nil, shared.NewDomainError("INVALID_ALLOCATIONS", "At least one allocation is required")
	}

	requested := decimal.Zero
	seen := make(map[uuid.UUID]bool, len(requests))
	for _, req := range requests {
		if req.InvoiceID == uuid.Nil {
			return nil, shared.NewDomainError("INVALID_INVOICE", "Allocation invoice ID cannot be empty")
		}
		if req.Amount.LessThanOrEqual(decimal.Zero) {
			return nil, shared.NewDomainError("INVALID_AMOUNT", "Allocation amount must be positive")
		}
		if seen[req.InvoiceID] {
			return nil, shared.NewDomainError("DUPLICATE_ALLOCATION",
				fmt.Sprintf("Invoice %s appears more than once in the allocation request", req.InvoiceID))
		}
		seen[req.InvoiceID] = true
		requested = requested.Add(req.Amount)
	}

	if requested.GreaterThan(payment.UnappliedAmount) {
		excess := requested.Sub(payment.UnappliedAmount)
		return nil, shared.NewDomainError("OVER_ALLOCATED",
			fmt.Sprintf("Requested allocations exceed the payment's unapplied amount by %s", excess.StringFixed(2)))
	}

	invoiceMap := make(map[uuid.UUID]*Invoice, len(invoices))
	for _, inv := range invoices {
		if inv.TenantID == payment.TenantID {
			invoiceMap[inv.ID] = inv
		}
	}

	result := &AllocationResult{
		Payment:          payment,
		UpdatedInvoices:  make([]*Invoice, 0, len(requests)),
		Allocations:      make([]InvoiceAllocation, 0, len(requests)),
		TotalApplied:     decimal.Zero,
		ReturnedToCredit: decimal.Zero,
	}

	for _, req := range requests {
		invoice, exists := invoiceMap[req.InvoiceID]
		if !exists {
			return nil, shared.NewDomainError("INVOICE_NOT_FOUND",
				fmt.Sprintf("Invoice %s not found for this tenant", req.InvoiceID))
		}
		if invoice.Status == InvoiceStatusPaid {
			return nil, shared.NewDomainError("ALREADY_PAID",
				fmt.Sprintf("Invoice %s is already fully paid", invoice.InvoiceNumber))
		}
		if !invoice.Status.CanApplyPayment() {
			return nil, shared.NewDomainError("INVALID_STATE",
				fmt.Sprintf("Cannot allocate to invoice %s in %s status", invoice.InvoiceNumber, invoice.Status))
		}

		applied := decimal.Min(req.Amount, invoice.Balance)
		if excess := req.Amount.Sub(applied); excess.GreaterThan(decimal.Zero) {
			result.ReturnedToCredit = result.ReturnedToCredit.Add(excess)
		}
		if applied.LessThanOrEqual(decimal.Zero) {
			continue
		}

		appliedMoney, err := valueobject.NewMoney(applied, payment.Currency)
		if err != nil {
			return nil, err
		}

		allocation, err := payment.AllocateToInvoice(invoice.ID, invoice.InvoiceNumber, appliedMoney)
		if err != nil {
			return nil, fmt.Errorf("failed to allocate to invoice %s: %w", invoice.InvoiceNumber, err)
		}
		result.Allocations = append(result.Allocations, *allocation)

		if err := invoice.ApplyPayment(appliedMoney, payment.ID, payment.PaymentNumber); err != nil {
			return nil, fmt.Errorf("failed to apply payment to invoice %s: %w", invoice.InvoiceNumber, err)
		}

		result.UpdatedInvoices = append(result.UpdatedInvoices, invoice)
		result.TotalApplied = result.TotalApplied.Add(applied)
	}

	return result, nil
}
