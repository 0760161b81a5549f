package billing

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/ash-erp/billing/internal/domain/billing"
	"github.com/ash-erp/billing/internal/domain/shared"
	"github.com/ash-erp/billing/internal/domain/shared/valueobject"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// =============================================================================
// Mock Repositories
// =============================================================================

// MockPaymentRepository is a mock implementation of billing.PaymentRepository
type MockPaymentRepository struct {
	mock.Mock
}

func (m *MockPaymentRepository) FindByIDForTenant(ctx context.Context, tenantID, id uuid.UUID) (*billing.Payment, error) {
	args := m.Called(ctx, tenantID, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*billing.Payment), args.Error(1)
}

func (m *MockPaymentRepository) FindByPaymentNumber(ctx context.Context, tenantID uuid.UUID, paymentNumber string) (*billing.Payment, error) {
	args := m.Called(ctx, tenantID, paymentNumber)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*billing.Payment), args.Error(1)
}

func (m *MockPaymentRepository) FindAllForTenant(ctx context.Context, tenantID uuid.UUID, filter billing.PaymentFilter) ([]billing.Payment, error) {
	args := m.Called(ctx, tenantID, filter)
	return args.Get(0).([]billing.Payment), args.Error(1)
}

func (m *MockPaymentRepository) Save(ctx context.Context, payment *billing.Payment) error {
	args := m.Called(ctx, payment)
	return args.Error(0)
}

func (m *MockPaymentRepository) SaveWithLock(ctx context.Context, payment *billing.Payment, expectedVersion int) error {
	args := m.Called(ctx, payment, expectedVersion)
	return args.Error(0)
}

func (m *MockPaymentRepository) CountForTenant(ctx context.Context, tenantID uuid.UUID, filter billing.PaymentFilter) (int64, error) {
	args := m.Called(ctx, tenantID, filter)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockPaymentRepository) SumUnappliedByClient(ctx context.Context, tenantID, clientID uuid.UUID) (decimal.Decimal, error) {
	args := m.Called(ctx, tenantID, clientID)
	return args.Get(0).(decimal.Decimal), args.Error(1)
}

// fakeIdempotencyStore is a canned idempotency store for service tests
type fakeIdempotencyStore struct {
	fresh    bool
	err      error
	keys     []string
	released []string
}

func (s *fakeIdempotencyStore) MarkProcessed(_ context.Context, key string, _ time.Duration) (bool, error) {
	s.keys = append(s.keys, key)
	return s.fresh, s.err
}

func (s *fakeIdempotencyStore) IsProcessed(context.Context, string) (bool, error) {
	return !s.fresh, nil
}

func (s *fakeIdempotencyStore) Release(_ context.Context, key string) error {
	s.released = append(s.released, key)
	return nil
}

func (s *fakeIdempotencyStore) Close() error { return nil }

// =============================================================================
// Test helpers
// =============================================================================

type paymentServiceFixture struct {
	service     *PaymentService
	invoiceRepo *MockInvoiceRepository
	paymentRepo *MockPaymentRepository
	seqRepo     *MockSequenceRepository
	publisher   *capturingPublisher
	idempotency *fakeIdempotencyStore
}

func newPaymentServiceFixture() *paymentServiceFixture {
	f := &paymentServiceFixture{
		invoiceRepo: new(MockInvoiceRepository),
		paymentRepo: new(MockPaymentRepository),
		seqRepo:     new(MockSequenceRepository),
		publisher:   &capturingPublisher{},
		idempotency: &fakeIdempotencyStore{fresh: true},
	}
	scope := NewNoOpTransactionScope(f.invoiceRepo, f.paymentRepo, f.seqRepo)
	f.service = NewPaymentService(
		f.paymentRepo,
		f.seqRepo,
		scope,
		billing.NewAllocationEngine(),
		f.idempotency,
		shared.IdempotencyConfig{Enabled: true, TTL: time.Hour},
		f.publisher,
		zap.NewNop(),
		3,
		time.Millisecond,
	)
	return f
}

func makeCompletedPayment(t *testing.T, tenantID uuid.UUID, amount string) *billing.Payment {
	t.Helper()
	p, err := billing.NewPayment(
		tenantID, "PAY-20260101-00001", uuid.New(), "Acme Manufacturing",
		valueobject.NewMoneyPHP(decimal.RequireFromString(amount)),
		billing.PaymentMethodBankTransfer, "TXN-123", time.Now(),
	)
	require.NoError(t, err)
	p.ClearDomainEvents()
	return p
}

func makePendingPayment(t *testing.T, tenantID uuid.UUID, amount string) *billing.Payment {
	t.Helper()
	p, err := billing.NewPendingPayment(
		tenantID, "PAY-20260101-00002", uuid.New(), "Acme Manufacturing",
		valueobject.NewMoneyPHP(decimal.RequireFromString(amount)),
		billing.PaymentMethodCheck, "CHK-42", time.Now(),
	)
	require.NoError(t, err)
	return p
}

// =============================================================================
// Tests
// =============================================================================

func TestPaymentService_RecordPayment(t *testing.T) {
	tenantID := uuid.New()
	ctx := context.Background()

	t.Run("records completed payment without allocations", func(t *testing.T) {
		f := newPaymentServiceFixture()
		f.seqRepo.On("Next", ctx, tenantID, mock.AnythingOfType("string")).Return(int64(1), nil)
		f.paymentRepo.On("Save", ctx, mock.AnythingOfType("*billing.Payment")).Return(nil)

		resp, err := f.service.RecordPayment(ctx, tenantID, RecordPaymentRequest{
			ClientID:   uuid.New(),
			ClientName: "Acme Manufacturing",
			Amount:     decimal.RequireFromString("500.00"),
			Method:     "BANK_TRANSFER",
			ReceivedAt: time.Now(),
		})

		require.NoError(t, err)
		expectedNumber := fmt.Sprintf("PAY-%s-00001", time.Now().Format("20060102"))
		assert.Equal(t, expectedNumber, resp.PaymentNumber)
		assert.Equal(t, string(billing.PaymentStatusCompleted), resp.Status)
		assert.True(t, resp.UnappliedAmount.Equal(decimal.RequireFromString("500.00")))
		assert.Len(t, f.publisher.events, 1)
		assert.Equal(t, "PaymentReceived", f.publisher.events[0].EventType())
	})

	t.Run("records payment with allocations in one pass", func(t *testing.T) {
		f := newPaymentServiceFixture()
		invoice := makeOpenInvoice(t, tenantID, "300.00")

		f.seqRepo.On("Next", ctx, tenantID, mock.AnythingOfType("string")).Return(int64(2), nil)
		f.invoiceRepo.On("FindByIDsForUpdate", ctx, tenantID, []uuid.UUID{invoice.ID}).Return([]*billing.Invoice{invoice}, nil)
		f.invoiceRepo.On("SaveWithLock", ctx, invoice, invoice.Version).Return(nil)
		f.paymentRepo.On("Save", ctx, mock.AnythingOfType("*billing.Payment")).Return(nil)

		resp, err := f.service.RecordPayment(ctx, tenantID, RecordPaymentRequest{
			ClientID:   uuid.New(),
			ClientName: "Acme Manufacturing",
			Amount:     decimal.RequireFromString("200.00"),
			Method:     "GCASH",
			ReceivedAt: time.Now(),
			Allocations: []AllocationRequestItem{
				{InvoiceID: invoice.ID, Amount: decimal.RequireFromString("200.00")},
			},
		})

		require.NoError(t, err)
		assert.True(t, resp.AllocatedAmount.Equal(decimal.RequireFromString("200.00")))
		assert.True(t, resp.UnappliedAmount.IsZero())
		assert.True(t, invoice.Balance.Equal(decimal.RequireFromString("100.00")))
		assert.Equal(t, billing.InvoiceStatusPartial, invoice.Status)
		// PaymentReceived + PaymentAllocated from the payment, partial-paid from the invoice
		types := make([]string, len(f.publisher.events))
		for i, e := range f.publisher.events {
			types[i] = e.EventType()
		}
		assert.Contains(t, types, "PaymentReceived")
		assert.Contains(t, types, "PaymentAllocated")
		assert.Contains(t, types, "InvoicePartiallyPaid")
	})

	t.Run("clamps over-balance request to invoice balance and keeps credit", func(t *testing.T) {
		f := newPaymentServiceFixture()
		invoice := makeOpenInvoice(t, tenantID, "120.00")

		f.seqRepo.On("Next", ctx, tenantID, mock.AnythingOfType("string")).Return(int64(3), nil)
		f.invoiceRepo.On("FindByIDsForUpdate", ctx, tenantID, []uuid.UUID{invoice.ID}).Return([]*billing.Invoice{invoice}, nil)
		f.invoiceRepo.On("SaveWithLock", ctx, invoice, invoice.Version).Return(nil)
		f.paymentRepo.On("Save", ctx, mock.AnythingOfType("*billing.Payment")).Return(nil)

		resp, err := f.service.RecordPayment(ctx, tenantID, RecordPaymentRequest{
			ClientID:   uuid.New(),
			ClientName: "Acme Manufacturing",
			Amount:     decimal.RequireFromString("200.00"),
			Method:     "CASH",
			ReceivedAt: time.Now(),
			Allocations: []AllocationRequestItem{
				{InvoiceID: invoice.ID, Amount: decimal.RequireFromString("200.00")},
			},
		})

		require.NoError(t, err)
		assert.True(t, resp.AllocatedAmount.Equal(decimal.RequireFromString("120.00")))
		assert.True(t, resp.UnappliedAmount.Equal(decimal.RequireFromString("80.00")))
		assert.True(t, invoice.Balance.IsZero())
		assert.Equal(t, billing.InvoiceStatusPaid, invoice.Status)
	})

	t.Run("rejects allocations exceeding the payment amount", func(t *testing.T) {
		f := newPaymentServiceFixture()
		invoice := makeOpenInvoice(t, tenantID, "500.00")

		f.seqRepo.On("Next", ctx, tenantID, mock.AnythingOfType("string")).Return(int64(4), nil)
		f.invoiceRepo.On("FindByIDsForUpdate", ctx, tenantID, []uuid.UUID{invoice.ID}).Return([]*billing.Invoice{invoice}, nil)

		_, err := f.service.RecordPayment(ctx, tenantID, RecordPaymentRequest{
			ClientID:   uuid.New(),
			ClientName: "Acme Manufacturing",
			Amount:     decimal.RequireFromString("100.00"),
			Method:     "CASH",
			ReceivedAt: time.Now(),
			Allocations: []AllocationRequestItem{
				{InvoiceID: invoice.ID, Amount: decimal.RequireFromString("150.00")},
			},
		})

		require.Error(t, err)
		var domainErr *shared.DomainError
		require.ErrorAs(t, err, &domainErr)
		assert.Equal(t, "OVER_ALLOCATED", domainErr.Code)
		// Domain failures must not be retried
		f.invoiceRepo.AssertNumberOfCalls(t, "FindByIDsForUpdate", 1)
		f.paymentRepo.AssertNotCalled(t, "Save", mock.Anything, mock.Anything)
	})

	t.Run("rejects pending payment carrying allocations", func(t *testing.T) {
		f := newPaymentServiceFixture()

		_, err := f.service.RecordPayment(ctx, tenantID, RecordPaymentRequest{
			ClientID:    uuid.New(),
			ClientName:  "Acme Manufacturing",
			Amount:      decimal.RequireFromString("100.00"),
			Method:      "CHECK",
			Pending:     true,
			ReceivedAt:  time.Now(),
			Allocations: []AllocationRequestItem{{InvoiceID: uuid.New(), Amount: decimal.NewFromInt(50)}},
		})

		require.Error(t, err)
		var domainErr *shared.DomainError
		require.ErrorAs(t, err, &domainErr)
		assert.Equal(t, "INVALID_STATE", domainErr.Code)
	})

	t.Run("rejects duplicate idempotency key", func(t *testing.T) {
		f := newPaymentServiceFixture()
		f.idempotency.fresh = false

		_, err := f.service.RecordPayment(ctx, tenantID, RecordPaymentRequest{
			ClientID:       uuid.New(),
			ClientName:     "Acme Manufacturing",
			Amount:         decimal.RequireFromString("100.00"),
			Method:         "CASH",
			ReceivedAt:     time.Now(),
			IdempotencyKey: "req-123",
		})

		require.Error(t, err)
		var domainErr *shared.DomainError
		require.ErrorAs(t, err, &domainErr)
		assert.Equal(t, "DUPLICATE_REQUEST", domainErr.Code)
		// The key is scoped by tenant
		require.Len(t, f.idempotency.keys, 1)
		assert.Equal(t, tenantID.String()+":req-123", f.idempotency.keys[0])
		f.seqRepo.AssertNotCalled(t, "Next", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("releases the key when recording fails so a corrected retry passes", func(t *testing.T) {
		f := newPaymentServiceFixture()
		f.seqRepo.On("Next", ctx, tenantID, mock.AnythingOfType("string")).Return(int64(7), nil)
		f.paymentRepo.On("Save", ctx, mock.AnythingOfType("*billing.Payment")).Return(nil)

		req := RecordPaymentRequest{
			ClientID:       uuid.New(),
			ClientName:     "Acme Manufacturing",
			Amount:         decimal.RequireFromString("100.00"),
			Method:         "BARTER",
			ReceivedAt:     time.Now(),
			IdempotencyKey: "req-789",
		}

		_, err := f.service.RecordPayment(ctx, tenantID, req)
		require.Error(t, err)
		var domainErr *shared.DomainError
		require.ErrorAs(t, err, &domainErr)
		assert.Equal(t, "INVALID_PAYMENT_METHOD", domainErr.Code)
		assert.Equal(t, []string{tenantID.String() + ":req-789"}, f.idempotency.released)

		req.Method = "CASH"
		_, err = f.service.RecordPayment(ctx, tenantID, req)
		assert.NoError(t, err)
		// The successful attempt keeps its key claimed
		assert.Len(t, f.idempotency.released, 1)
	})

	t.Run("proceeds when the idempotency store is down", func(t *testing.T) {
		f := newPaymentServiceFixture()
		f.idempotency.err = assert.AnError
		f.seqRepo.On("Next", ctx, tenantID, mock.AnythingOfType("string")).Return(int64(5), nil)
		f.paymentRepo.On("Save", ctx, mock.AnythingOfType("*billing.Payment")).Return(nil)

		_, err := f.service.RecordPayment(ctx, tenantID, RecordPaymentRequest{
			ClientID:       uuid.New(),
			ClientName:     "Acme Manufacturing",
			Amount:         decimal.RequireFromString("100.00"),
			Method:         "CASH",
			ReceivedAt:     time.Now(),
			IdempotencyKey: "req-456",
		})

		assert.NoError(t, err)
	})
}

func TestPaymentService_AllocatePayment(t *testing.T) {
	tenantID := uuid.New()
	ctx := context.Background()

	t.Run("allocates stored credit to invoices", func(t *testing.T) {
		f := newPaymentServiceFixture()
		payment := makeCompletedPayment(t, tenantID, "400.00")
		first := makeOpenInvoice(t, tenantID, "250.00")
		second := makeOpenInvoice(t, tenantID, "250.00")

		loadedVersion := payment.Version
		f.paymentRepo.On("FindByIDForTenant", ctx, tenantID, payment.ID).Return(payment, nil)
		f.invoiceRepo.On("FindByIDsForUpdate", ctx, tenantID, []uuid.UUID{first.ID, second.ID}).
			Return([]*billing.Invoice{first, second}, nil)
		f.invoiceRepo.On("SaveWithLock", ctx, first, first.Version).Return(nil)
		f.invoiceRepo.On("SaveWithLock", ctx, second, second.Version).Return(nil)
		f.paymentRepo.On("SaveWithLock", ctx, payment, loadedVersion).Return(nil)

		resp, err := f.service.AllocatePayment(ctx, tenantID, payment.ID, AllocatePaymentRequest{
			Allocations: []AllocationRequestItem{
				{InvoiceID: first.ID, Amount: decimal.RequireFromString("250.00")},
				{InvoiceID: second.ID, Amount: decimal.RequireFromString("150.00")},
			},
		})

		require.NoError(t, err)
		assert.True(t, resp.AllocatedAmount.Equal(decimal.RequireFromString("400.00")))
		assert.True(t, resp.UnappliedAmount.IsZero())
		assert.Equal(t, billing.InvoiceStatusPaid, first.Status)
		assert.Equal(t, billing.InvoiceStatusPartial, second.Status)
		assert.Len(t, resp.Allocations, 2)
		// One version bump per touched invoice, but the lock predicate must
		// still compare against the version the payment was loaded with.
		assert.Equal(t, loadedVersion+2, payment.Version)
		f.paymentRepo.AssertCalled(t, "SaveWithLock", ctx, payment, loadedVersion)
	})

	t.Run("retries on version conflict then surfaces it", func(t *testing.T) {
		f := newPaymentServiceFixture()
		paymentID := uuid.New()
		invoiceID := uuid.New()

		// Each attempt re-reads state the rolled-back transaction never
		// changed, so the mocks hand out fresh aggregates per call.
		for i := 0; i < 4; i++ {
			payment := makeCompletedPayment(t, tenantID, "100.00")
			payment.ID = paymentID
			invoice := makeOpenInvoice(t, tenantID, "100.00")
			invoice.ID = invoiceID
			f.paymentRepo.On("FindByIDForTenant", ctx, tenantID, paymentID).Return(payment, nil).Once()
			f.invoiceRepo.On("FindByIDsForUpdate", ctx, tenantID, []uuid.UUID{invoiceID}).Return([]*billing.Invoice{invoice}, nil).Once()
		}
		f.invoiceRepo.On("SaveWithLock", ctx, mock.AnythingOfType("*billing.Invoice"), mock.AnythingOfType("int")).Return(shared.ErrConcurrencyConflict)

		_, err := f.service.AllocatePayment(ctx, tenantID, paymentID, AllocatePaymentRequest{
			Allocations: []AllocationRequestItem{{InvoiceID: invoiceID, Amount: decimal.RequireFromString("50.00")}},
		})

		require.Error(t, err)
		assert.ErrorIs(t, err, shared.ErrConcurrencyConflict)
		// Initial attempt plus three retries
		f.invoiceRepo.AssertNumberOfCalls(t, "SaveWithLock", 4)
	})

	t.Run("rejects allocation on pending payment", func(t *testing.T) {
		f := newPaymentServiceFixture()
		payment := makePendingPayment(t, tenantID, "100.00")
		invoiceID := uuid.New()

		f.paymentRepo.On("FindByIDForTenant", ctx, tenantID, payment.ID).Return(payment, nil)
		f.invoiceRepo.On("FindByIDsForUpdate", ctx, tenantID, []uuid.UUID{invoiceID}).Return(nil, nil)

		_, err := f.service.AllocatePayment(ctx, tenantID, payment.ID, AllocatePaymentRequest{
			Allocations: []AllocationRequestItem{{InvoiceID: invoiceID, Amount: decimal.NewFromInt(10)}},
		})

		require.Error(t, err)
		var domainErr *shared.DomainError
		require.ErrorAs(t, err, &domainErr)
		assert.Equal(t, "INVALID_STATE", domainErr.Code)
	})

	t.Run("rejects allocation to an unknown invoice", func(t *testing.T) {
		f := newPaymentServiceFixture()
		payment := makeCompletedPayment(t, tenantID, "100.00")
		missing := uuid.New()

		f.paymentRepo.On("FindByIDForTenant", ctx, tenantID, payment.ID).Return(payment, nil)
		f.invoiceRepo.On("FindByIDsForUpdate", ctx, tenantID, []uuid.UUID{missing}).Return(nil, nil)

		_, err := f.service.AllocatePayment(ctx, tenantID, payment.ID, AllocatePaymentRequest{
			Allocations: []AllocationRequestItem{{InvoiceID: missing, Amount: decimal.NewFromInt(10)}},
		})

		require.Error(t, err)
		var domainErr *shared.DomainError
		require.ErrorAs(t, err, &domainErr)
		assert.Equal(t, "INVOICE_NOT_FOUND", domainErr.Code)
	})
}

func TestPaymentService_Transitions(t *testing.T) {
	tenantID := uuid.New()
	ctx := context.Background()

	t.Run("completes pending payment", func(t *testing.T) {
		f := newPaymentServiceFixture()
		payment := makePendingPayment(t, tenantID, "100.00")

		f.paymentRepo.On("FindByIDForTenant", ctx, tenantID, payment.ID).Return(payment, nil)
		f.paymentRepo.On("SaveWithLock", ctx, payment, payment.Version).Return(nil)

		resp, err := f.service.CompletePayment(ctx, tenantID, payment.ID)

		require.NoError(t, err)
		assert.Equal(t, string(billing.PaymentStatusCompleted), resp.Status)
	})

	t.Run("fails pending payment with reason", func(t *testing.T) {
		f := newPaymentServiceFixture()
		payment := makePendingPayment(t, tenantID, "100.00")

		f.paymentRepo.On("FindByIDForTenant", ctx, tenantID, payment.ID).Return(payment, nil)
		f.paymentRepo.On("SaveWithLock", ctx, payment, payment.Version).Return(nil)

		resp, err := f.service.FailPayment(ctx, tenantID, payment.ID, "check bounced")

		require.NoError(t, err)
		assert.Equal(t, string(billing.PaymentStatusFailed), resp.Status)
		assert.Equal(t, "check bounced", resp.FailureReason)
	})

	t.Run("refunds unapplied payment", func(t *testing.T) {
		f := newPaymentServiceFixture()
		payment := makeCompletedPayment(t, tenantID, "100.00")

		f.paymentRepo.On("FindByIDForTenant", ctx, tenantID, payment.ID).Return(payment, nil)
		f.paymentRepo.On("SaveWithLock", ctx, payment, payment.Version).Return(nil)

		resp, err := f.service.RefundPayment(ctx, tenantID, payment.ID, "client overpaid")

		require.NoError(t, err)
		assert.Equal(t, string(billing.PaymentStatusRefunded), resp.Status)
		assert.True(t, resp.UnappliedAmount.IsZero())
	})

	t.Run("rejects refunding an allocated payment", func(t *testing.T) {
		f := newPaymentServiceFixture()
		payment := makeCompletedPayment(t, tenantID, "100.00")
		_, err := payment.AllocateToInvoice(uuid.New(), "INV-20260101-00009", valueobject.NewMoneyPHP(decimal.NewFromInt(30)))
		require.NoError(t, err)

		f.paymentRepo.On("FindByIDForTenant", ctx, tenantID, payment.ID).Return(payment, nil)

		_, err = f.service.RefundPayment(ctx, tenantID, payment.ID, "requested")

		require.Error(t, err)
		var domainErr *shared.DomainError
		require.ErrorAs(t, err, &domainErr)
		assert.Equal(t, "HAS_ALLOCATIONS", domainErr.Code)
		f.paymentRepo.AssertNotCalled(t, "SaveWithLock", mock.Anything, mock.Anything, mock.Anything)
	})
}

func TestPaymentService_ListPayments(t *testing.T) {
	tenantID := uuid.New()
	ctx := context.Background()

	t.Run("rejects unknown method", func(t *testing.T) {
		f := newPaymentServiceFixture()

		_, _, err := f.service.ListPayments(ctx, tenantID, PaymentListFilter{Method: "BARTER"})

		require.Error(t, err)
		var domainErr *shared.DomainError
		require.ErrorAs(t, err, &domainErr)
		assert.Equal(t, "VALIDATION", domainErr.Code)
	})

	t.Run("maps filter and returns items with total", func(t *testing.T) {
		f := newPaymentServiceFixture()
		payment := makeCompletedPayment(t, tenantID, "75.00")

		f.paymentRepo.On("FindAllForTenant", ctx, tenantID, mock.MatchedBy(func(filter billing.PaymentFilter) bool {
			return filter.Status != nil && *filter.Status == billing.PaymentStatusCompleted
		})).Return([]billing.Payment{*payment}, nil)
		f.paymentRepo.On("CountForTenant", ctx, tenantID, mock.Anything).Return(int64(1), nil)

		items, total, err := f.service.ListPayments(ctx, tenantID, PaymentListFilter{Status: "COMPLETED"})

		require.NoError(t, err)
		assert.Len(t, items, 1)
		assert.Equal(t, int64(1), total)
	})
}

func TestPaymentService_GetClientCredit(t *testing.T) {
	tenantID := uuid.New()
	clientID := uuid.New()
	ctx := context.Background()

	f := newPaymentServiceFixture()
	f.paymentRepo.On("SumUnappliedByClient", ctx, tenantID, clientID).Return(decimal.RequireFromString("310.25"), nil)

	resp, err := f.service.GetClientCredit(ctx, tenantID, clientID)

	require.NoError(t, err)
	assert.Equal(t, clientID, resp.ClientID)
	assert.True(t, resp.Credit.Equal(decimal.RequireFromString("310.25")))
}
