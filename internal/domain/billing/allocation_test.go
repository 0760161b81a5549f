package billing

import (
	"testing"
	"time"

	"github.com/ash-erp/billing/internal/domain/shared"
	"github.com/ash-erp/billing/internal/domain/shared/valueobject"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Test helpers

func openInvoiceForTenant(t *testing.T, tenantID, clientID uuid.UUID, number string, total float64) *Invoice {
	t.Helper()
	inv, err := NewInvoice(
		tenantID, number, clientID, "Test Client", nil, valueobject.PHP,
		[]LineItem{mustLineItem(t, "Goods", 1, total, 0)},
		decimal.Zero, decimal.Zero, nil,
	)
	require.NoError(t, err)
	require.NoError(t, inv.Issue())
	return inv
}

func paymentForTenant(t *testing.T, tenantID, clientID uuid.UUID, amount float64) *Payment {
	t.Helper()
	p, err := NewPayment(tenantID, "PAY-20260101-00001", clientID, "Test Client",
		phpAmount(amount), PaymentMethodBankTransfer, "BT-001", time.Now())
	require.NoError(t, err)
	return p
}

func domainCode(t *testing.T, err error) string {
	t.Helper()
	var derr *shared.DomainError
	require.ErrorAs(t, err, &derr)
	return derr.Code
}

// ============================================
// AllocationEngine Tests
// ============================================

func TestAllocationEngine_Allocate(t *testing.T) {
	engine := NewAllocationEngine()
	tenantID := uuid.New()
	clientID := uuid.New()

	t.Run("applies payment across multiple invoices", func(t *testing.T) {
		inv1 := openInvoiceForTenant(t, tenantID, clientID, "INV-1", 600)
		inv2 := openInvoiceForTenant(t, tenantID, clientID, "INV-2", 400)
		payment := paymentForTenant(t, tenantID, clientID, 1000)

		result, err := engine.Allocate(payment, []*Invoice{inv1, inv2}, []AllocationRequest{
			{InvoiceID: inv1.ID, Amount: decimal.NewFromInt(600)},
			{InvoiceID: inv2.ID, Amount: decimal.NewFromInt(400)},
		})
		require.NoError(t, err)

		assert.Equal(t, "1000.00", result.TotalApplied.StringFixed(2))
		assert.True(t, result.ReturnedToCredit.IsZero())
		assert.Len(t, result.Allocations, 2)
		assert.Equal(t, InvoiceStatusPaid, inv1.Status)
		assert.Equal(t, InvoiceStatusPaid, inv2.Status)
		assert.True(t, payment.IsFullyApplied())
	})

	t.Run("partial allocation leaves invoice PARTIAL", func(t *testing.T) {
		inv := openInvoiceForTenant(t, tenantID, clientID, "INV-3", 1000)
		payment := paymentForTenant(t, tenantID, clientID, 400)

		_, err := engine.Allocate(payment, []*Invoice{inv}, []AllocationRequest{
			{InvoiceID: inv.ID, Amount: decimal.NewFromInt(400)},
		})
		require.NoError(t, err)
		assert.Equal(t, InvoiceStatusPartial, inv.Status)
		assert.Equal(t, "600.00", inv.Balance.StringFixed(2))
	})

	t.Run("clamps to invoice balance and keeps excess as credit", func(t *testing.T) {
		inv := openInvoiceForTenant(t, tenantID, clientID, "INV-4", 300)
		payment := paymentForTenant(t, tenantID, clientID, 500)

		result, err := engine.Allocate(payment, []*Invoice{inv}, []AllocationRequest{
			{InvoiceID: inv.ID, Amount: decimal.NewFromInt(500)},
		})
		require.NoError(t, err)

		assert.Equal(t, "300.00", result.TotalApplied.StringFixed(2))
		assert.Equal(t, "200.00", result.ReturnedToCredit.StringFixed(2))
		assert.Equal(t, InvoiceStatusPaid, inv.Status)
		assert.True(t, inv.Balance.IsZero())
		assert.Equal(t, "200.00", payment.UnappliedAmount.StringFixed(2))
		assert.True(t, payment.HasUnappliedCredit())
	})

	t.Run("rejects requested total above unapplied amount", func(t *testing.T) {
		inv := openInvoiceForTenant(t, tenantID, clientID, "INV-5", 1000)
		payment := paymentForTenant(t, tenantID, clientID, 100)

		_, err := engine.Allocate(payment, []*Invoice{inv}, []AllocationRequest{
			{InvoiceID: inv.ID, Amount: decimal.NewFromInt(250)},
		})
		require.Error(t, err)
		assert.Equal(t, "OVER_ALLOCATED", domainCode(t, err))
		assert.Contains(t, err.Error(), "150.00")
		// Nothing was applied
		assert.Equal(t, "1000.00", inv.Balance.StringFixed(2))
		assert.True(t, payment.AllocatedAmount.IsZero())
	})

	t.Run("rejects unknown invoice", func(t *testing.T) {
		payment := paymentForTenant(t, tenantID, clientID, 100)

		_, err := engine.Allocate(payment, nil, []AllocationRequest{
			{InvoiceID: uuid.New(), Amount: decimal.NewFromInt(50)},
		})
		require.Error(t, err)
		assert.Equal(t, "INVOICE_NOT_FOUND", domainCode(t, err))
	})

	t.Run("rejects invoice from another tenant", func(t *testing.T) {
		otherTenant := uuid.New()
		inv := openInvoiceForTenant(t, otherTenant, clientID, "INV-6", 100)
		payment := paymentForTenant(t, tenantID, clientID, 100)

		_, err := engine.Allocate(payment, []*Invoice{inv}, []AllocationRequest{
			{InvoiceID: inv.ID, Amount: decimal.NewFromInt(50)},
		})
		require.Error(t, err)
		assert.Equal(t, "INVOICE_NOT_FOUND", domainCode(t, err))
	})

	t.Run("rejects allocation to paid invoice", func(t *testing.T) {
		inv := openInvoiceForTenant(t, tenantID, clientID, "INV-7", 100)
		require.NoError(t, inv.ApplyPayment(phpAmount(100), uuid.New(), "PAY-0"))
		payment := paymentForTenant(t, tenantID, clientID, 100)

		_, err := engine.Allocate(payment, []*Invoice{inv}, []AllocationRequest{
			{InvoiceID: inv.ID, Amount: decimal.NewFromInt(50)},
		})
		require.Error(t, err)
		assert.Equal(t, "ALREADY_PAID", domainCode(t, err))
	})

	t.Run("rejects allocation to draft invoice", func(t *testing.T) {
		inv, err := NewInvoice(tenantID, "INV-8", clientID, "Client", nil, valueobject.PHP,
			[]LineItem{mustLineItem(t, "Goods", 1, 100, 0)}, decimal.Zero, decimal.Zero, nil)
		require.NoError(t, err)
		payment := paymentForTenant(t, tenantID, clientID, 100)

		_, err = engine.Allocate(payment, []*Invoice{inv}, []AllocationRequest{
			{InvoiceID: inv.ID, Amount: decimal.NewFromInt(50)},
		})
		require.Error(t, err)
		assert.Equal(t, "INVALID_STATE", domainCode(t, err))
	})

	t.Run("rejects duplicate invoice in one request", func(t *testing.T) {
		inv := openInvoiceForTenant(t, tenantID, clientID, "INV-9", 1000)
		payment := paymentForTenant(t, tenantID, clientID, 500)

		_, err := engine.Allocate(payment, []*Invoice{inv}, []AllocationRequest{
			{InvoiceID: inv.ID, Amount: decimal.NewFromInt(100)},
			{InvoiceID: inv.ID, Amount: decimal.NewFromInt(100)},
		})
		require.Error(t, err)
		assert.Equal(t, "DUPLICATE_ALLOCATION", domainCode(t, err))
	})

	t.Run("rejects empty request list", func(t *testing.T) {
		payment := paymentForTenant(t, tenantID, clientID, 100)
		_, err := engine.Allocate(payment, nil, nil)
		require.Error(t, err)
	})

	t.Run("rejects non-completed payment", func(t *testing.T) {
		inv := openInvoiceForTenant(t, tenantID, clientID, "INV-10", 100)
		payment, err := NewPendingPayment(tenantID, "PAY-P", clientID, "Client",
			phpAmount(100), PaymentMethodCheck, "CHK-1", time.Now())
		require.NoError(t, err)

		_, err = engine.Allocate(payment, []*Invoice{inv}, []AllocationRequest{
			{InvoiceID: inv.ID, Amount: decimal.NewFromInt(50)},
		})
		require.Error(t, err)
		assert.Equal(t, "INVALID_STATE", domainCode(t, err))
	})

	t.Run("later allocation of unapplied credit", func(t *testing.T) {
		invA := openInvoiceForTenant(t, tenantID, clientID, "INV-11", 300)
		invB := openInvoiceForTenant(t, tenantID, clientID, "INV-12", 400)
		payment := paymentForTenant(t, tenantID, clientID, 500)

		_, err := engine.Allocate(payment, []*Invoice{invA}, []AllocationRequest{
			{InvoiceID: invA.ID, Amount: decimal.NewFromInt(300)},
		})
		require.NoError(t, err)
		assert.Equal(t, "200.00", payment.UnappliedAmount.StringFixed(2))

		result, err := engine.Allocate(payment, []*Invoice{invB}, []AllocationRequest{
			{InvoiceID: invB.ID, Amount: decimal.NewFromInt(200)},
		})
		require.NoError(t, err)
		assert.Equal(t, "200.00", result.TotalApplied.StringFixed(2))
		assert.True(t, payment.IsFullyApplied())
		assert.Equal(t, InvoiceStatusPartial, invB.Status)
		assert.Equal(t, "200.00", invB.Balance.StringFixed(2))
	})
}
