package models

import (
	"time"

	"github.com/ash-erp/billing/internal/domain/billing"
	"github.com/ash-erp/billing/internal/domain/shared/valueobject"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// InvoiceModel is the persistence model for the Invoice aggregate root.
type InvoiceModel struct {
	TenantAggregateModel
	InvoiceNumber  string                 `gorm:"type:varchar(50);not null;uniqueIndex:idx_invoice_tenant_number,priority:2"`
	ClientID       uuid.UUID              `gorm:"type:uuid;not null;index"`
	ClientName     string                 `gorm:"type:varchar(200);not null"`
	OrderID        *uuid.UUID             `gorm:"type:uuid;index"`
	Currency       valueobject.Currency   `gorm:"type:varchar(3);not null;default:'PHP'"`
	Lines          billing.LineItems      `gorm:"type:jsonb;default:'[]'"`
	Subtotal       decimal.Decimal        `gorm:"type:decimal(18,4);not null"`
	DiscountAmount decimal.Decimal        `gorm:"type:decimal(18,4);not null"`
	TaxPercent     decimal.Decimal        `gorm:"type:decimal(8,4);not null"`
	TaxAmount      decimal.Decimal        `gorm:"type:decimal(18,4);not null"`
	Total          decimal.Decimal        `gorm:"type:decimal(18,4);not null"`
	Balance        decimal.Decimal        `gorm:"type:decimal(18,4);not null;index"`
	Status         billing.InvoiceStatus  `gorm:"type:varchar(20);not null;default:'DRAFT';index"`
	IssuedAt       *time.Time             `gorm:"index"`
	DueDate        *time.Time             `gorm:"index"`
	PaidAt         *time.Time
	CancelledAt    *time.Time
	CancelReason   string                 `gorm:"type:varchar(500)"`
	Payments       billing.PaymentRecords `gorm:"type:jsonb;default:'[]'"`
	Notes          string                 `gorm:"type:text"`
}

// TableName returns the table name for GORM
func (InvoiceModel) TableName() string {
	return "invoices"
}

// ToDomain converts the persistence model to a domain Invoice entity.
func (m *InvoiceModel) ToDomain() *billing.Invoice {
	inv := &billing.Invoice{
		InvoiceNumber:  m.InvoiceNumber,
		ClientID:       m.ClientID,
		ClientName:     m.ClientName,
		OrderID:        m.OrderID,
		Currency:       m.Currency,
		Lines:          m.Lines,
		Subtotal:       m.Subtotal,
		DiscountAmount: m.DiscountAmount,
		TaxPercent:     m.TaxPercent,
		TaxAmount:      m.TaxAmount,
		Total:          m.Total,
		Balance:        m.Balance,
		Status:         m.Status,
		IssuedAt:       m.IssuedAt,
		DueDate:        m.DueDate,
		PaidAt:         m.PaidAt,
		CancelledAt:    m.CancelledAt,
		CancelReason:   m.CancelReason,
		Payments:       m.Payments,
		Notes:          m.Notes,
	}
	m.PopulateTenantAggregateRoot(&inv.TenantAggregateRoot)
	return inv
}

// FromDomain populates the persistence model from a domain Invoice entity.
func (m *InvoiceModel) FromDomain(inv *billing.Invoice) {
	m.FromDomainTenantAggregateRoot(inv.TenantAggregateRoot)
	m.InvoiceNumber = inv.InvoiceNumber
	m.ClientID = inv.ClientID
	m.ClientName = inv.ClientName
	m.OrderID = inv.OrderID
	m.Currency = inv.Currency
	m.Lines = inv.Lines
	m.Subtotal = inv.Subtotal
	m.DiscountAmount = inv.DiscountAmount
	m.TaxPercent = inv.TaxPercent
	m.TaxAmount = inv.TaxAmount
	m.Total = inv.Total
	m.Balance = inv.Balance
	m.Status = inv.Status
	m.IssuedAt = inv.IssuedAt
	m.DueDate = inv.DueDate
	m.PaidAt = inv.PaidAt
	m.CancelledAt = inv.CancelledAt
	m.CancelReason = inv.CancelReason
	m.Payments = inv.Payments
	m.Notes = inv.Notes
}

// InvoiceModelFromDomain creates a new persistence model from a domain Invoice.
func InvoiceModelFromDomain(inv *billing.Invoice) *InvoiceModel {
	m := &InvoiceModel{}
	m.FromDomain(inv)
	return m
}

// PaymentModel is the persistence model for the Payment aggregate root.
type PaymentModel struct {
	TenantAggregateModel
	PaymentNumber   string                     `gorm:"type:varchar(50);not null;uniqueIndex:idx_payment_tenant_number,priority:2"`
	ClientID        uuid.UUID                  `gorm:"type:uuid;not null;index"`
	ClientName      string                     `gorm:"type:varchar(200);not null"`
	Currency        valueobject.Currency       `gorm:"type:varchar(3);not null;default:'PHP'"`
	Amount          decimal.Decimal            `gorm:"type:decimal(18,4);not null"`
	AllocatedAmount decimal.Decimal            `gorm:"type:decimal(18,4);not null"`
	UnappliedAmount decimal.Decimal            `gorm:"type:decimal(18,4);not null;index"`
	Method          billing.PaymentMethod      `gorm:"type:varchar(20);not null;index"`
	ReferenceNo     string                     `gorm:"type:varchar(100)"`
	Status          billing.PaymentStatus      `gorm:"type:varchar(20);not null;default:'COMPLETED';index"`
	ReceivedAt      time.Time                  `gorm:"not null;index"`
	Allocations     billing.InvoiceAllocations `gorm:"type:jsonb;default:'[]'"`
	RefundedAt      *time.Time
	RefundReason    string `gorm:"type:varchar(500)"`
	FailedAt        *time.Time
	FailureReason   string `gorm:"type:varchar(500)"`
	Notes           string `gorm:"type:text"`
}

// TableName returns the table name for GORM
func (PaymentModel) TableName() string {
	return "payments"
}

// ToDomain converts the persistence model to a domain Payment entity.
func (m *PaymentModel) ToDomain() *billing.Payment {
	p := &billing.Payment{
		PaymentNumber:   m.PaymentNumber,
		ClientID:        m.ClientID,
		ClientName:      m.ClientName,
		Currency:        m.Currency,
		Amount:          m.Amount,
		AllocatedAmount: m.AllocatedAmount,
		UnappliedAmount: m.UnappliedAmount,
		Method:          m.Method,
		ReferenceNo:     m.ReferenceNo,
		Status:          m.Status,
		ReceivedAt:      m.ReceivedAt,
		Allocations:     m.Allocations,
		RefundedAt:      m.RefundedAt,
		RefundReason:    m.RefundReason,
		FailedAt:        m.FailedAt,
		FailureReason:   m.FailureReason,
		Notes:           m.Notes,
	}
	m.PopulateTenantAggregateRoot(&p.TenantAggregateRoot)
	return p
}

// FromDomain populates the persistence model from a domain Payment entity.
func (m *PaymentModel) FromDomain(p *billing.Payment) {
	m.FromDomainTenantAggregateRoot(p.TenantAggregateRoot)
	m.PaymentNumber = p.PaymentNumber
	m.ClientID = p.ClientID
	m.ClientName = p.ClientName
	m.Currency = p.Currency
	m.Amount = p.Amount
	m.AllocatedAmount = p.AllocatedAmount
	m.UnappliedAmount = p.UnappliedAmount
	m.Method = p.Method
	m.ReferenceNo = p.ReferenceNo
	m.Status = p.Status
	m.ReceivedAt = p.ReceivedAt
	m.Allocations = p.Allocations
	m.RefundedAt = p.RefundedAt
	m.RefundReason = p.RefundReason
	m.FailedAt = p.FailedAt
	m.FailureReason = p.FailureReason
	m.Notes = p.Notes
}

// PaymentModelFromDomain creates a new persistence model from a domain Payment.
func PaymentModelFromDomain(p *billing.Payment) *PaymentModel {
	m := &PaymentModel{}
	m.FromDomain(p)
	return m
}

// DocumentSequenceModel backs atomic per-tenant document numbering.
// Rows are only ever touched via a single INSERT ... ON CONFLICT DO UPDATE
// RETURNING statement; there is no read-then-increment path.
type DocumentSequenceModel struct {
	TenantID  uuid.UUID `gorm:"type:uuid;primaryKey"`
	Key       string    `gorm:"type:varchar(50);primaryKey"`
	LastValue int64     `gorm:"not null;default:0"`
	UpdatedAt time.Time `gorm:"not null"`
}

// TableName returns the table name for GORM
func (DocumentSequenceModel) TableName() string {
	return "document_sequences"
}
