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

// InvoiceStatus represents the status of an invoice
type InvoiceStatus string

const (
	InvoiceStatusDraft     InvoiceStatus = "DRAFT"     // Created but not yet issued
	InvoiceStatusOpen      InvoiceStatus = "OPEN"      // Issued, no payment applied yet
	InvoiceStatusPartial   InvoiceStatus = "PARTIAL"   // Partially paid, 0 < balance < total
	InvoiceStatusPaid      InvoiceStatus = "PAID"      // Fully paid, balance = 0
	InvoiceStatusCancelled InvoiceStatus = "CANCELLED" // Cancelled before any payment
)

// IsValid checks if the status is a valid InvoiceStatus
func (s InvoiceStatus) IsValid() bool {
	switch s {
	case InvoiceStatusDraft, InvoiceStatusOpen, InvoiceStatusPartial,
		InvoiceStatusPaid, InvoiceStatusCancelled:
		return true
	}
	return false
}

// String returns the string representation of InvoiceStatus
func (s InvoiceStatus) String() string {
	return string(s)
}

// IsTerminal returns true if the invoice is in a terminal state
func (s InvoiceStatus) IsTerminal() bool {
	return s == InvoiceStatusPaid || s == InvoiceStatusCancelled
}

// CanApplyPayment returns true if payments can be applied in this status
func (s InvoiceStatus) CanApplyPayment() bool {
	return s == InvoiceStatusOpen || s == InvoiceStatusPartial
}

// DeriveInvoiceStatus derives the payment status of an issued invoice from its
// total and remaining balance. It is a pure function: the stored status of an
// OPEN/PARTIAL/PAID invoice must always equal the derived value.
func DeriveInvoiceStatus(total, balance decimal.Decimal) InvoiceStatus {
	switch {
	case balance.LessThanOrEqual(decimal.Zero):
		return InvoiceStatusPaid
	case balance.LessThan(total):
		return InvoiceStatusPartial
	default:
		return InvoiceStatusOpen
	}
}

// LineItem represents a single billed line on an invoice
// It is a value object within the Invoice aggregate, stored as JSONB
type LineItem struct {
	ID              uuid.UUID       `json:"id"`
	Description     string          `json:"description"`
	Quantity        decimal.Decimal `json:"quantity"`
	UnitPrice       decimal.Decimal `json:"unit_price"`
	DiscountPercent decimal.Decimal `json:"discount_percent"`
	LineTotal       decimal.Decimal `json:"line_total"`
}

// NewLineItem creates a line item and computes its total:
// quantity x unit price x (1 - discount percent / 100), rounded to 2 places.
func NewLineItem(description string, quantity, unitPrice, discountPercent decimal.Decimal) (LineItem, error) {
	if description == "" {
		return LineItem{}, shared.NewDomainError("INVALID_LINE_ITEM", "Line item description cannot be empty")
	}
	if quantity.LessThanOrEqual(decimal.Zero) {
		return LineItem{}, shared.NewDomainError("INVALID_LINE_ITEM", "Line item quantity must be positive")
	}
	if unitPrice.IsNegative() {
		return LineItem{}, shared.NewDomainError("INVALID_LINE_ITEM", "Line item unit price cannot be negative")
	}
	if discountPercent.IsNegative() || discountPercent.GreaterThan(decimal.NewFromInt(100)) {
		return LineItem{}, shared.NewDomainError("INVALID_LINE_ITEM", "Line item discount percent must be between 0 and 100")
	}

	gross := quantity.Mul(unitPrice)
	total := gross.Sub(gross.Mul(discountPercent).Div(decimal.NewFromInt(100))).Round(2)

	return LineItem{
		ID:              uuid.New(),
		Description:     description,
		Quantity:        quantity,
		UnitPrice:       unitPrice,
		DiscountPercent: discountPercent,
		LineTotal:       total,
	}, nil
}

// LineItems is a slice of LineItem that implements GORM Scanner/Valuer for JSONB storage
type LineItems []LineItem

// Value implements driver.Valuer interface for GORM to store as JSONB
func (l LineItems) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	return json.Marshal(l)
}

// Scan implements sql.Scanner interface for GORM to read from JSONB
func (l *LineItems) Scan(value interface{}) error {
	if value == nil {
		*l = LineItems{}
		return nil
	}

	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return errors.New("failed to scan LineItems: unsupported type")
	}

	if len(bytes) == 0 {
		*l = LineItems{}
		return nil
	}

	return json.Unmarshal(bytes, l)
}

// PaymentRecord represents a payment applied to the invoice
// It is a value object within the Invoice aggregate, stored as JSONB
type PaymentRecord struct {
	ID            uuid.UUID       `json:"id"`
	PaymentID     uuid.UUID       `json:"payment_id"`
	PaymentNumber string          `json:"payment_number"`
	Amount        decimal.Decimal `json:"amount"`
	AppliedAt     time.Time       `json:"applied_at"`
}

// PaymentRecords is a slice of PaymentRecord that implements GORM Scanner/Valuer for JSONB storage
type PaymentRecords []PaymentRecord

// Value implements driver.Valuer interface for GORM to store as JSONB
func (p PaymentRecords) Value() (driver.Value, error) {
	if p == nil {
		return "[]", nil
	}
	return json.Marshal(p)
}

// Scan implements sql.Scanner interface for GORM to read from JSONB
func (p *PaymentRecords) Scan(value interface{}) error {
	if value == nil {
		*p = PaymentRecords{}
		return nil
	}

	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return errors.New("failed to scan PaymentRecords: unsupported type")
	}

	if len(bytes) == 0 {
		*p = PaymentRecords{}
		return nil
	}

	return json.Unmarshal(bytes, p)
}

// Invoice represents an invoice aggregate root.
// It tracks money billed to a client and the remaining balance as payments
// are allocated against it.
type Invoice struct {
	shared.TenantAggregateRoot
	InvoiceNumber  string               `json:"invoice_number"`
	ClientID       uuid.UUID            `json:"client_id"`
	ClientName     string               `json:"client_name"`
	OrderID        *uuid.UUID           `json:"order_id"` // Optional source sales order
	Currency       valueobject.Currency `json:"currency"`
	Lines          LineItems            `json:"lines"`
	Subtotal       decimal.Decimal      `json:"subtotal"`
	DiscountAmount decimal.Decimal      `json:"discount_amount"` // Invoice-level discount
	TaxPercent     decimal.Decimal      `json:"tax_percent"`
	TaxAmount      decimal.Decimal      `json:"tax_amount"`
	Total          decimal.Decimal      `json:"total"`
	Balance        decimal.Decimal      `json:"balance"` // Remaining amount due
	Status         InvoiceStatus        `json:"status"`
	IssuedAt       *time.Time           `json:"issued_at"`
	DueDate        *time.Time           `json:"due_date"`
	PaidAt         *time.Time           `json:"paid_at"`
	CancelledAt    *time.Time           `json:"cancelled_at"`
	CancelReason   string               `json:"cancel_reason"`
	Payments       PaymentRecords       `json:"payments"`
	Notes          string               `json:"notes"`
}

// NewInvoice creates a new invoice in DRAFT status and computes all derived
// amounts in decimal arithmetic:
//
//	subtotal = sum of line totals
//	tax      = (subtotal - discount) x tax percent / 100
//	total    = subtotal - discount + tax
//	balance  = total
//
// Monetary results are rounded to 2 places.
func NewInvoice(
	tenantID uuid.UUID,
	invoiceNumber string,
	clientID uuid.UUID,
	clientName string,
	orderID *uuid.UUID,
	currency valueobject.Currency,
	lines []LineItem,
	discountAmount decimal.Decimal,
	taxPercent decimal.Decimal,
	dueDate *time.Time,
) (*Invoice, error) {
	if invoiceNumber == "" {
		return nil, shared.NewDomainError("INVALID_INVOICE_NUMBER", "Invoice number cannot be empty")
	}
	if len(invoiceNumber) > 50 {
		return nil, shared.NewDomainError("INVALID_INVOICE_NUMBER", "Invoice number cannot exceed 50 characters")
	}
	if clientID == uuid.Nil {
		return nil, shared.NewDomainError("INVALID_CLIENT", "Client ID cannot be empty")
	}
	if clientName == "" {
		return nil, shared.NewDomainError("INVALID_CLIENT_NAME", "Client name cannot be empty")
	}
	if currency == "" {
		currency = valueobject.DefaultCurrency
	}
	if len(lines) == 0 {
		return nil, shared.NewDomainError("INVALID_LINE_ITEMS", "Invoice must have at least one line item")
	}
	if discountAmount.IsNegative() {
		return nil, shared.NewDomainError("INVALID_DISCOUNT", "Discount amount cannot be negative")
	}
	if taxPercent.IsNegative() {
		return nil, shared.NewDomainError("INVALID_TAX_PERCENT", "Tax percent cannot be negative")
	}

	subtotal := decimal.Zero
	for _, line := range lines {
		subtotal = subtotal.Add(line.LineTotal)
	}
	subtotal = subtotal.Round(2)

	if discountAmount.GreaterThan(subtotal) {
		return nil, shared.NewDomainError("INVALID_DISCOUNT", "Discount amount cannot exceed subtotal")
	}

	taxable := subtotal.Sub(discountAmount)
	taxAmount := taxable.Mul(taxPercent).Div(decimal.NewFromInt(100)).Round(2)
	total := taxable.Add(taxAmount).Round(2)

	inv := &Invoice{
		TenantAggregateRoot: shared.NewTenantAggregateRoot(tenantID),
		InvoiceNumber:       invoiceNumber,
		ClientID:            clientID,
		ClientName:          clientName,
		OrderID:             orderID,
		Currency:            currency,
		Lines:               lines,
		Subtotal:            subtotal,
		DiscountAmount:      discountAmount,
		TaxPercent:          taxPercent,
		TaxAmount:           taxAmount,
		Total:               total,
		Balance:             total,
		Status:              InvoiceStatusDraft,
		DueDate:             dueDate,
		Payments:            PaymentRecords{},
	}

	inv.AddDomainEvent(NewInvoiceCreatedEvent(inv))

	return inv, nil
}

// Issue transitions the invoice from DRAFT to OPEN, making it payable
func (inv *Invoice) Issue() error {
	if inv.Status != InvoiceStatusDraft {
		return shared.NewDomainError("INVALID_STATE", fmt.Sprintf("Cannot issue invoice in %s status", inv.Status))
	}

	now := time.Now()
	inv.Status = InvoiceStatusOpen
	inv.IssuedAt = &now
	inv.UpdatedAt = now
	inv.IncrementVersion()

	inv.AddDomainEvent(NewInvoiceIssuedEvent(inv))

	return nil
}

// ApplyPayment applies an already-clamped payment amount to the invoice,
// decrementing the balance and re-deriving the status.
// The amount must not exceed the remaining balance; the allocation engine is
// responsible for clamping requested amounts before calling this.
func (inv *Invoice) ApplyPayment(amount valueobject.Money, paymentID uuid.UUID, paymentNumber string) error {
	if inv.Status == InvoiceStatusPaid {
		return shared.NewDomainError("ALREADY_PAID", fmt.Sprintf("Invoice %s is already fully paid", inv.InvoiceNumber))
	}
	if !inv.Status.CanApplyPayment() {
		return shared.NewDomainError("INVALID_STATE", fmt.Sprintf("Cannot apply payment to invoice in %s status", inv.Status))
	}
	if amount.Amount().LessThanOrEqual(decimal.Zero) {
		return shared.NewDomainError("INVALID_AMOUNT", "Payment amount must be positive")
	}
	if amount.Amount().GreaterThan(inv.Balance) {
		return shared.NewDomainError("EXCEEDS_BALANCE", fmt.Sprintf("Payment amount %s exceeds invoice balance %s", amount.StringFixed(2), inv.Balance.StringFixed(2)))
	}
	if paymentID == uuid.Nil {
		return shared.NewDomainError("INVALID_PAYMENT", "Payment ID cannot be empty")
	}

	inv.Payments = append(inv.Payments, PaymentRecord{
		ID:            uuid.New(),
		PaymentID:     paymentID,
		PaymentNumber: paymentNumber,
		Amount:        amount.Amount(),
		AppliedAt:     time.Now(),
	})

	inv.Balance = inv.Total.Sub(inv.PaidAmount())
	inv.Status = DeriveInvoiceStatus(inv.Total, inv.Balance)

	if inv.Status == InvoiceStatusPaid {
		now := time.Now()
		inv.PaidAt = &now
		inv.AddDomainEvent(NewInvoicePaidEvent(inv))
	} else {
		inv.AddDomainEvent(NewInvoicePartiallyPaidEvent(inv, amount))
	}

	inv.UpdatedAt = time.Now()
	inv.IncrementVersion()

	return nil
}

// Cancel cancels the invoice (only if no payments have been applied)
func (inv *Invoice) Cancel(reason string) error {
	if inv.Status.IsTerminal() {
		return shared.NewDomainError("INVALID_STATE", fmt.Sprintf("Cannot cancel invoice in %s status", inv.Status))
	}
	if inv.Status == InvoiceStatusPartial || inv.PaidAmount().GreaterThan(decimal.Zero) {
		return shared.NewDomainError("HAS_PAYMENTS", "Cannot cancel invoice with existing payments")
	}
	if reason == "" {
		return shared.NewDomainError("INVALID_REASON", "Cancel reason is required")
	}

	now := time.Now()
	inv.Status = InvoiceStatusCancelled
	inv.CancelledAt = &now
	inv.CancelReason = reason
	inv.Balance = decimal.Zero // No longer due after cancellation
	inv.UpdatedAt = now
	inv.IncrementVersion()

	inv.AddDomainEvent(NewInvoiceCancelledEvent(inv))

	return nil
}

// SetDueDate updates the due date
func (inv *Invoice) SetDueDate(dueDate *time.Time) error {
	if inv.Status.IsTerminal() {
		return shared.NewDomainError("INVALID_STATE", "Cannot modify due date for invoice in terminal state")
	}

	inv.DueDate = dueDate
	inv.UpdatedAt = time.Now()
	inv.IncrementVersion()

	return nil
}

// SetNotes sets free-form notes
func (inv *Invoice) SetNotes(notes string) {
	inv.Notes = notes
	inv.UpdatedAt = time.Now()
	inv.IncrementVersion()
}

// Helper methods

// PaidAmount returns the sum of applied payment records
func (inv *Invoice) PaidAmount() decimal.Decimal {
	paid := decimal.Zero
	for _, p := range inv.Payments {
		paid = paid.Add(p.Amount)
	}
	return paid
}

// GetTotalMoney returns total as Money
func (inv *Invoice) GetTotalMoney() valueobject.Money {
	m, _ := valueobject.NewMoney(inv.Total, inv.Currency)
	return m
}

// GetBalanceMoney returns balance as Money
func (inv *Invoice) GetBalanceMoney() valueobject.Money {
	m, _ := valueobject.NewMoney(inv.Balance, inv.Currency)
	return m
}

// IsDraft returns true if the invoice has not been issued
func (inv *Invoice) IsDraft() bool {
	return inv.Status == InvoiceStatusDraft
}

// IsPaid returns true if the invoice is fully paid
func (inv *Invoice) IsPaid() bool {
	return inv.Status == InvoiceStatusPaid
}

// IsCancelled returns true if the invoice is cancelled
func (inv *Invoice) IsCancelled() bool {
	return inv.Status == InvoiceStatusCancelled
}

// IsOverdue returns true if the invoice is past its due date with an open balance.
// OVERDUE is a derived view, never a stored status.
func (inv *Invoice) IsOverdue() bool {
	if inv.Status.IsTerminal() || inv.Status == InvoiceStatusDraft {
		return false
	}
	if inv.DueDate == nil {
		return false
	}
	return inv.Balance.GreaterThan(decimal.Zero) && time.Now().After(*inv.DueDate)
}

// DaysOverdue returns the number of days past due (0 if not overdue)
func (inv *Invoice) DaysOverdue() int {
	if !inv.IsOverdue() {
		return 0
	}
	return int(time.Since(*inv.DueDate).Hours() / 24)
}

// PaymentCount returns the number of payments applied
func (inv *Invoice) PaymentCount() int {
	return len(inv.Payments)
}

// PaidPercentage returns the percentage of total that has been paid (0-100)
func (inv *Invoice) PaidPercentage() decimal.Decimal {
	if inv.Total.IsZero() {
		return decimal.NewFromInt(100)
	}
	return inv.PaidAmount().Div(inv.Total).Mul(decimal.NewFromInt(100)).Round(2)
}
