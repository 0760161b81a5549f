package billing

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ash-erp/billing/internal/domain/shared"
	"github.com/ash-erp/billing/internal/domain/shared/valueobject"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PaymentStatus represents the status of a payment
type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "PENDING"   // Recorded but funds not yet confirmed
	PaymentStatusCompleted PaymentStatus = "COMPLETED" // Funds received; immutable except refund
	PaymentStatusFailed    PaymentStatus = "FAILED"    // Funds never arrived
	PaymentStatusRefunded  PaymentStatus = "REFUNDED"  // Returned to the payer
)

// IsValid checks if the status is a valid PaymentStatus
func (s PaymentStatus) IsValid() bool {
	switch s {
	case PaymentStatusPending, PaymentStatusCompleted, PaymentStatusFailed, PaymentStatusRefunded:
		return true
	}
	return false
}

// String returns the string representation of PaymentStatus
func (s PaymentStatus) String() string {
	return string(s)
}

// IsTerminal returns true if the payment is in a terminal state
func (s PaymentStatus) IsTerminal() bool {
	return s == PaymentStatusFailed || s == PaymentStatusRefunded
}

// CanAllocate returns true if allocations can be made in this status
func (s PaymentStatus) CanAllocate() bool {
	return s == PaymentStatusCompleted
}

// PaymentMethod represents the method of payment
type PaymentMethod string

const (
	PaymentMethodCash         PaymentMethod = "CASH"          // Cash payment
	PaymentMethodBankTransfer PaymentMethod = "BANK_TRANSFER" // Bank transfer
	PaymentMethodGCash        PaymentMethod = "GCASH"         // GCash mobile wallet
	PaymentMethodCheck        PaymentMethod = "CHECK"         // Check/Cheque
	PaymentMethodCard         PaymentMethod = "CARD"          // Credit/debit card
	PaymentMethodOther        PaymentMethod = "OTHER"         // Other methods
)

// IsValid checks if the payment method is valid
func (m PaymentMethod) IsValid() bool {
	switch m {
	case PaymentMethodCash, PaymentMethodBankTransfer, PaymentMethodGCash,
		PaymentMethodCheck, PaymentMethodCard, PaymentMethodOther:
		return true
	}
	return false
}

// String returns the string representation of PaymentMethod
func (m PaymentMethod) String() string {
	return string(m)
}

// InvoiceAllocation represents the application of part of a payment to an invoice
type InvoiceAllocation struct {
	ID            uuid.UUID       `json:"id"`
	PaymentID     uuid.UUID       `json:"payment_id"`
	InvoiceID     uuid.UUID       `json:"invoice_id"`
	InvoiceNumber string          `json:"invoice_number"` // Denormalized for display
	Amount        decimal.Decimal `json:"amount"`
	AllocatedAt   time.Time       `json:"allocated_at"`
}

// NewInvoiceAllocation creates a new invoice allocation
func NewInvoiceAllocation(paymentID, invoiceID uuid.UUID, invoiceNumber string, amount valueobject.Money) *InvoiceAllocation {
	return &InvoiceAllocation{
		ID:            uuid.New(),
		PaymentID:     paymentID,
		InvoiceID:     invoiceID,
		InvoiceNumber: invoiceNumber,
		Amount:        amount.Amount(),
		AllocatedAt:   time.Now(),
	}
}

// InvoiceAllocations is a slice of InvoiceAllocation that implements GORM Scanner/Valuer for JSONB storage
type InvoiceAllocations []InvoiceAllocation

// Value implements driver.Valuer interface for GORM to store as JSONB
func (a InvoiceAllocations) Value() (driver.Value, error) {
	if a == nil {
		return "[]", nil
	}
	return json.Marshal(a)
}

// Scan implements sql.Scanner interface for GORM to read from JSONB
func (a *InvoiceAllocations) Scan(value interface{}) error {
	if value == nil {
		*a = InvoiceAllocations{}
		return nil
	}

	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return errors.New("failed to scan InvoiceAllocations: unsupported type")
	}

	if len(bytes) == 0 {
		*a = InvoiceAllocations{}
		return nil
	}

	return json.Unmarshal(bytes, a)
}

// Payment represents a payment aggregate root.
// It records money received from a client and tracks how much of it has been
// allocated to invoices. The unapplied portion is client credit.
type Payment struct {
	shared.TenantAggregateRoot
	PaymentNumber   string               `json:"payment_number"`
	ClientID        uuid.UUID            `json:"client_id"`
	ClientName      string               `json:"client_name"`
	Currency        valueobject.Currency `json:"currency"`
	Amount          decimal.Decimal      `json:"amount"`           // Total payment amount
	AllocatedAmount decimal.Decimal      `json:"allocated_amount"` // Amount applied to invoices
	UnappliedAmount decimal.Decimal      `json:"unapplied_amount"` // Remaining unapplied credit
	Method          PaymentMethod        `json:"method"`
	ReferenceNo     string               `json:"reference_no"` // Bank txn, check number, GCash ref
	Status          PaymentStatus        `json:"status"`
	ReceivedAt      time.Time            `json:"received_at"`
	Allocations     InvoiceAllocations   `json:"allocations"`
	RefundedAt      *time.Time           `json:"refunded_at"`
	RefundReason    string               `json:"refund_reason"`
	FailedAt        *time.Time           `json:"failed_at"`
	FailureReason   string               `json:"failure_reason"`
	Notes           string               `json:"notes"`
}

// NewPayment creates a COMPLETED payment. The recorder only deals in received
// money; payments pending external confirmation enter via NewPendingPayment.
func NewPayment(
	tenantID uuid.UUID,
	paymentNumber string,
	clientID uuid.UUID,
	clientName string,
	amount valueobject.Money,
	method PaymentMethod,
	referenceNo string,
	receivedAt time.Time,
) (*Payment, error) {
	p, err := newPayment(tenantID, paymentNumber, clientID, clientName, amount, method, referenceNo, receivedAt)
	if err != nil {
		return nil, err
	}
	p.Status = PaymentStatusCompleted

	p.AddDomainEvent(NewPaymentReceivedEvent(p))

	return p, nil
}

// NewPendingPayment creates a payment awaiting confirmation (e.g., an
// uncleared check). It cannot be allocated until Complete is called.
func NewPendingPayment(
	tenantID uuid.UUID,
	paymentNumber string,
	clientID uuid.UUID,
	clientName string,
	amount valueobject.Money,
	method PaymentMethod,
	referenceNo string,
	receivedAt time.Time,
) (*Payment, error) {
	p, err := newPayment(tenantID, paymentNumber, clientID, clientName, amount, method, referenceNo, receivedAt)
	if err != nil {
		return nil, err
	}
	p.Status = PaymentStatusPending

	return p, nil
}

func newPayment(
	tenantID uuid.UUID,
	paymentNumber string,
	clientID uuid.UUID,
	clientName string,
	amount valueobject.Money,
	method PaymentMethod,
	referenceNo string,
	receivedAt time.Time,
) (*Payment, error) {
	if paymentNumber == "" {
		return nil, shared.NewDomainError("INVALID_PAYMENT_NUMBER", "Payment number cannot be empty")
	}
	if len(paymentNumber) > 50 {
		return nil, shared.NewDomainError("INVALID_PAYMENT_NUMBER", "Payment number cannot exceed 50 characters")
	}
	if clientID == uuid.Nil {
		return nil, shared.NewDomainError("INVALID_CLIENT", "Client ID cannot be empty")
	}
	if clientName == "" {
		return nil, shared.NewDomainError("INVALID_CLIENT_NAME", "Client name cannot be empty")
	}
	if amount.Amount().LessThanOrEqual(decimal.Zero) {
		return nil, shared.NewDomainError("INVALID_AMOUNT", "Payment amount must be positive")
	}
	if !method.IsValid() {
		return nil, shared.NewDomainError("INVALID_PAYMENT_METHOD", "Payment method is not valid")
	}
	if len(referenceNo) > 100 {
		return nil, shared.NewDomainError("INVALID_REFERENCE", "Payment reference cannot exceed 100 characters")
	}
	if receivedAt.IsZero() {
		return nil, shared.NewDomainError("INVALID_RECEIVED_DATE", "Received date is required")
	}

	return &Payment{
		TenantAggregateRoot: shared.NewTenantAggregateRoot(tenantID),
		PaymentNumber:       paymentNumber,
		ClientID:            clientID,
		ClientName:          clientName,
		Currency:            amount.Currency(),
		Amount:              amount.Amount(),
		AllocatedAmount:     decimal.Zero,
		UnappliedAmount:     amount.Amount(),
		Method:              method,
		ReferenceNo:         referenceNo,
		ReceivedAt:          receivedAt,
		Allocations:         make(InvoiceAllocations, 0),
	}, nil
}

// Complete confirms a pending payment, making it allocatable
func (p *Payment) Complete() error {
	if p.Status != PaymentStatusPending {
		return shared.NewDomainError("INVALID_STATE", fmt.Sprintf("Cannot complete payment in %s status", p.Status))
	}

	p.Status = PaymentStatusCompleted
	p.UpdatedAt = time.Now()
	p.IncrementVersion()

	p.AddDomainEvent(NewPaymentReceivedEvent(p))

	return nil
}

// MarkFailed marks a pending payment as failed
func (p *Payment) MarkFailed(reason string) error {
	if p.Status != PaymentStatusPending {
		return shared.NewDomainError("INVALID_STATE", fmt.Sprintf("Cannot fail payment in %s status", p.Status))
	}
	if reason == "" {
		return shared.NewDomainError("INVALID_REASON", "Failure reason is required")
	}

	now := time.Now()
	p.Status = PaymentStatusFailed
	p.FailedAt = &now
	p.FailureReason = reason
	p.UpdatedAt = now
	p.IncrementVersion()

	return nil
}

// AllocateToInvoice records the application of part of this payment to an
// invoice. The amount must already be clamped to the invoice balance; this
// method only guards the payment-side invariants.
func (p *Payment) AllocateToInvoice(invoiceID uuid.UUID, invoiceNumber string, amount valueobject.Money) (*InvoiceAllocation, error) {
	if !p.Status.CanAllocate() {
		return nil, shared.NewDomainError("INVALID_STATE", fmt.Sprintf("Cannot allocate payment in %s status", p.Status))
	}
	if invoiceID == uuid.Nil {
		return nil, shared.NewDomainError("INVALID_INVOICE", "Invoice ID cannot be empty")
	}
	if invoiceNumber == "" {
		return nil, shared.NewDomainError("INVALID_INVOICE_NUMBER", "Invoice number is required")
	}
	if amount.Amount().LessThanOrEqual(decimal.Zero) {
		return nil, shared.NewDomainError("INVALID_AMOUNT", "Allocation amount must be positive")
	}
	if amount.Amount().GreaterThan(p.UnappliedAmount) {
		return nil, shared.NewDomainError("OVER_ALLOCATED", fmt.Sprintf("Allocation amount %s exceeds unapplied amount %s", amount.StringFixed(2), p.UnappliedAmount.StringFixed(2)))
	}

	allocation := NewInvoiceAllocation(p.ID, invoiceID, invoiceNumber, amount)
	p.Allocations = append(p.Allocations, *allocation)

	p.AllocatedAmount = p.AllocatedAmount.Add(amount.Amount())
	p.UnappliedAmount = p.Amount.Sub(p.AllocatedAmount)

	p.UpdatedAt = time.Now()
	p.IncrementVersion()

	p.AddDomainEvent(NewPaymentAllocatedEvent(p, allocation))

	return allocation, nil
}

// Refund transitions a COMPLETED payment to REFUNDED.
// Only the unapplied portion of a payment can be refunded; a payment with
// allocations would leave invoice balances inconsistent.
func (p *Payment) Refund(reason string) error {
	if p.Status != PaymentStatusCompleted {
		return shared.NewDomainError("INVALID_STATE", fmt.Sprintf("Cannot refund payment in %s status", p.Status))
	}
	if p.AllocatedAmount.GreaterThan(decimal.Zero) {
		return shared.NewDomainError("HAS_ALLOCATIONS", "Cannot refund payment with existing allocations")
	}
	if reason == "" {
		return shared.NewDomainError("INVALID_REASON", "Refund reason is required")
	}

	now := time.Now()
	p.Status = PaymentStatusRefunded
	p.RefundedAt = &now
	p.RefundReason = reason
	p.UnappliedAmount = decimal.Zero // Credit returned to the payer
	p.UpdatedAt = now
	p.IncrementVersion()

	p.AddDomainEvent(NewPaymentRefundedEvent(p))

	return nil
}

// SetNotes sets free-form notes
func (p *Payment) SetNotes(notes string) error {
	if p.Status.IsTerminal() {
		return shared.NewDomainError("INVALID_STATE", "Cannot modify payment in terminal state")
	}

	p.Notes = notes
	p.UpdatedAt = time.Now()
	p.IncrementVersion()

	return nil
}

// Helper methods

// GetAmountMoney returns total amount as Money
func (p *Payment) GetAmountMoney() valueobject.Money {
	m, _ := valueobject.NewMoney(p.Amount, p.Currency)
	return m
}

// GetUnappliedMoney returns the unapplied amount as Money
func (p *Payment) GetUnappliedMoney() valueobject.Money {
	m, _ := valueobject.NewMoney(p.UnappliedAmount, p.Currency)
	return m
}

// IsCompleted returns true if the payment is completed
func (p *Payment) IsCompleted() bool {
	return p.Status == PaymentStatusCompleted
}

// IsRefunded returns true if the payment has been refunded
func (p *Payment) IsRefunded() bool {
	return p.Status == PaymentStatusRefunded
}

// IsFullyApplied returns true if the whole amount has been allocated
func (p *Payment) IsFullyApplied() bool {
	return p.UnappliedAmount.IsZero()
}

// HasUnappliedCredit returns true if part of the payment remains unapplied
func (p *Payment) HasUnappliedCredit() bool {
	return p.Status == PaymentStatusCompleted && p.UnappliedAmount.GreaterThan(decimal.Zero)
}

// AllocationCount returns the number of allocations
func (p *Payment) AllocationCount() int {
	return len(p.Allocations)
}

// GetAllocationByInvoiceID returns the allocation for a specific invoice
func (p *Payment) GetAllocationByInvoiceID(invoiceID uuid.UUID) *InvoiceAllocation {
	for i := range p.Allocations {
		if p.Allocations[i].InvoiceID == invoiceID {
			return &p.Allocations[i]
		}
	}
	return nil
}
