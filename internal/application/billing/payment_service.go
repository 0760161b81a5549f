package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ash-erp/billing/internal/domain/billing"
	"github.com/ash-erp/billing/internal/domain/shared"
	"github.com/ash-erp/billing/internal/domain/shared/valueobject"
	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// PaymentService records payments and allocates them against invoices.
// Allocation runs inside a database transaction with the touched invoice rows
// locked; version conflicts are retried with exponential backoff before the
// conflict is surfaced to the caller.
type PaymentService struct {
	paymentRepo    billing.PaymentRepository
	sequenceRepo   billing.SequenceRepository
	scope          TransactionScope
	engine         *billing.AllocationEngine
	idempotency    shared.IdempotencyStore
	idempotencyCfg shared.IdempotencyConfig
	publisher      shared.EventPublisher
	logger         *zap.Logger
	maxRetries     int
	retryBaseDelay time.Duration
}

// NewPaymentService creates a new PaymentService
func NewPaymentService(
	paymentRepo billing.PaymentRepository,
	sequenceRepo billing.SequenceRepository,
	scope TransactionScope,
	engine *billing.AllocationEngine,
	idempotency shared.IdempotencyStore,
	idempotencyCfg shared.IdempotencyConfig,
	publisher shared.EventPublisher,
	logger *zap.Logger,
	maxRetries int,
	retryBaseDelay time.Duration,
) *PaymentService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if engine == nil {
		engine = billing.NewAllocationEngine()
	}
	return &PaymentService{
		paymentRepo:    paymentRepo,
		sequenceRepo:   sequenceRepo,
		scope:          scope,
		engine:         engine,
		idempotency:    idempotency,
		idempotencyCfg: idempotencyCfg,
		publisher:      publisher,
		logger:         logger,
		maxRetries:     maxRetries,
		retryBaseDelay: retryBaseDelay,
	}
}

// AllocationRequestItem represents one requested invoice allocation
type AllocationRequestItem struct {
	InvoiceID uuid.UUID       `json:"invoice_id"`
	Amount    decimal.Decimal `json:"amount"`
}

// RecordPaymentRequest represents a request to record a received payment
type RecordPaymentRequest struct {
	ClientID       uuid.UUID               `json:"client_id"`
	ClientName     string                  `json:"client_name"`
	Amount         decimal.Decimal         `json:"amount"`
	Currency       string                  `json:"currency"`
	Method         string                  `json:"method"`
	ReferenceNo    string                  `json:"reference_no"`
	ReceivedAt     time.Time               `json:"received_at"`
	Pending        bool                    `json:"pending"` // e.g. an uncleared check
	Notes          string                  `json:"notes"`
	Allocations    []AllocationRequestItem `json:"invoice_allocations"`
	IdempotencyKey string                  `json:"-"` // Set from the X-Idempotency-Key header
	CreatedBy      *uuid.UUID              `json:"-"` // Set from JWT context, not from request body
}

// AllocatePaymentRequest represents a request to allocate a stored payment's
// unapplied credit to invoices
type AllocatePaymentRequest struct {
	Allocations []AllocationRequestItem `json:"invoice_allocations"`
}

// InvoiceAllocationResponse represents one applied allocation in API responses
type InvoiceAllocationResponse struct {
	ID            uuid.UUID       `json:"id"`
	InvoiceID     uuid.UUID       `json:"invoice_id"`
	InvoiceNumber string          `json:"invoice_number"`
	Amount        decimal.Decimal `json:"amount"`
	AllocatedAt   time.Time       `json:"allocated_at"`
}

// PaymentResponse represents a payment in API responses
type PaymentResponse struct {
	ID              uuid.UUID                   `json:"id"`
	PaymentNumber   string                      `json:"payment_number"`
	ClientID        uuid.UUID                   `json:"client_id"`
	ClientName      string                      `json:"client_name"`
	Currency        string                      `json:"currency"`
	Amount          decimal.Decimal             `json:"amount"`
	AllocatedAmount decimal.Decimal             `json:"allocated_amount"`
	UnappliedAmount decimal.Decimal             `json:"unapplied_amount"`
	Method          string                      `json:"method"`
	ReferenceNo     string                      `json:"reference_no,omitempty"`
	Status          string                      `json:"status"`
	ReceivedAt      time.Time                   `json:"received_at"`
	Allocations     []InvoiceAllocationResponse `json:"allocations,omitempty"`
	RefundedAt      *time.Time                  `json:"refunded_at,omitempty"`
	RefundReason    string                      `json:"refund_reason,omitempty"`
	FailedAt        *time.Time                  `json:"failed_at,omitempty"`
	FailureReason   string                      `json:"failure_reason,omitempty"`
	Notes           string                      `json:"notes,omitempty"`
	CreatedAt       time.Time                   `json:"created_at"`
	UpdatedAt       time.Time                   `json:"updated_at"`
	Version         int                         `json:"version"`
}

// PaymentListFilter defines filtering options for payment list queries
type PaymentListFilter struct {
	Search    string     `form:"search"`
	ClientID  *uuid.UUID `form:"client_id"`
	Status    string     `form:"status"`
	Method    string     `form:"method"`
	InvoiceID *uuid.UUID `form:"invoice_id"`
	FromDate  *time.Time `form:"from_date"`
	ToDate    *time.Time `form:"to_date"`
	Unapplied *bool      `form:"unapplied"`
	Page      int        `form:"page"`
	PageSize  int        `form:"page_size"`
	OrderBy   string     `form:"order_by"`
	OrderDir  string     `form:"order_dir"`
}

// ClientCreditResponse reports a client's unapplied payment credit
type ClientCreditResponse struct {
	ClientID uuid.UUID       `json:"client_id"`
	Credit   decimal.Decimal `json:"credit"`
}

// RecordPayment records a received payment and, when invoice allocations are
// requested, applies them atomically in the same transaction that creates the
// payment. Duplicate submissions carrying the same idempotency key are
// rejected with DUPLICATE_REQUEST. A failed attempt releases its key so the
// client can retry a corrected request.
func (s *PaymentService) RecordPayment(ctx context.Context, tenantID uuid.UUID, req RecordPaymentRequest) (*PaymentResponse, error) {
	if err := s.guardIdempotency(ctx, tenantID, req.IdempotencyKey); err != nil {
		return nil, err
	}

	response, err := s.recordPayment(ctx, tenantID, req)
	if err != nil {
		s.releaseIdempotency(ctx, tenantID, req.IdempotencyKey)
		return nil, err
	}
	return response, nil
}

func (s *PaymentService) recordPayment(ctx context.Context, tenantID uuid.UUID, req RecordPaymentRequest) (*PaymentResponse, error) {
	if req.Pending && len(req.Allocations) > 0 {
		return nil, shared.NewDomainError("INVALID_STATE", "A pending payment cannot carry allocations")
	}

	paymentNumber, err := s.nextPaymentNumber(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	currency := valueobject.Currency(req.Currency)
	if currency == "" {
		currency = valueobject.DefaultCurrency
	}
	amount, err := valueobject.NewMoney(req.Amount, currency)
	if err != nil {
		return nil, err
	}
	if !amount.IsPositive() {
		return nil, shared.NewDomainError("INVALID_AMOUNT", "Payment amount must be positive")
	}

	receivedAt := req.ReceivedAt
	if receivedAt.IsZero() {
		receivedAt = time.Now()
	}
	method := billing.PaymentMethod(req.Method)

	var response *PaymentResponse
	var events []shared.DomainEvent

	// The payment is rebuilt on every retry attempt so a rolled-back
	// allocation never leaks mutated aggregate state into the next try.
	err = s.withConflictRetry(ctx, func() error {
		return s.scope.Execute(ctx, func(repos TransactionalRepositories) error {
			payment, err := s.buildPayment(tenantID, paymentNumber, method, amount, receivedAt, req)
			if err != nil {
				return err
			}

			if len(req.Allocations) == 0 {
				if err := repos.PaymentRepo().Save(ctx, payment); err != nil {
					return err
				}
				events = collectEvents(payment)
				response = toPaymentResponse(payment)
				return nil
			}

			result, updated, err := s.allocateInTx(ctx, repos, payment, req.Allocations)
			if err != nil {
				return err
			}
			if err := repos.PaymentRepo().Save(ctx, payment); err != nil {
				return err
			}
			events = collectEvents(append([]eventCarrier{payment}, updated...)...)
			response = toPaymentResponse(payment)
			s.logAllocation(tenantID, payment, result)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("payment recorded",
		zap.String("tenant_id", tenantID.String()),
		zap.String("payment_number", paymentNumber),
		zap.String("amount", req.Amount.StringFixed(2)),
		zap.String("method", req.Method),
	)

	s.publishEvents(ctx, events)

	return response, nil
}

// AllocatePayment applies a stored COMPLETED payment's unapplied credit to
// invoices. The payment and all touched invoices commit in one transaction.
func (s *PaymentService) AllocatePayment(ctx context.Context, tenantID, paymentID uuid.UUID, req AllocatePaymentRequest) (*PaymentResponse, error) {
	var response *PaymentResponse
	var events []shared.DomainEvent

	err := s.withConflictRetry(ctx, func() error {
		return s.scope.Execute(ctx, func(repos TransactionalRepositories) error {
			payment, err := repos.PaymentRepo().FindByIDForTenant(ctx, tenantID, paymentID)
			if err != nil {
				return err
			}
			// The engine bumps the payment version once per touched invoice,
			// so the lock predicate needs the version as loaded.
			loadedVersion := payment.Version

			result, updated, err := s.allocateInTx(ctx, repos, payment, req.Allocations)
			if err != nil {
				return err
			}
			if err := repos.PaymentRepo().SaveWithLock(ctx, payment, loadedVersion); err != nil {
				return err
			}
			events = collectEvents(append([]eventCarrier{payment}, updated...)...)
			response = toPaymentResponse(payment)
			s.logAllocation(tenantID, payment, result)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	s.publishEvents(ctx, events)

	return response, nil
}

// CompletePayment confirms a PENDING payment, making it allocatable
func (s *PaymentService) CompletePayment(ctx context.Context, tenantID, paymentID uuid.UUID) (*PaymentResponse, error) {
	return s.transition(ctx, tenantID, paymentID, func(p *billing.Payment) error {
		return p.Complete()
	})
}

// FailPayment marks a PENDING payment as failed (e.g. a bounced check)
func (s *PaymentService) FailPayment(ctx context.Context, tenantID, paymentID uuid.UUID, reason string) (*PaymentResponse, error) {
	return s.transition(ctx, tenantID, paymentID, func(p *billing.Payment) error {
		return p.MarkFailed(reason)
	})
}

// RefundPayment refunds a COMPLETED payment that has no invoice allocations
func (s *PaymentService) RefundPayment(ctx context.Context, tenantID, paymentID uuid.UUID, reason string) (*PaymentResponse, error) {
	return s.transition(ctx, tenantID, paymentID, func(p *billing.Payment) error {
		return p.Refund(reason)
	})
}

// GetPaymentByID gets a payment by ID
func (s *PaymentService) GetPaymentByID(ctx context.Context, tenantID, id uuid.UUID) (*PaymentResponse, error) {
	payment, err := s.paymentRepo.FindByIDForTenant(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	return toPaymentResponse(payment), nil
}

// ListPayments lists payments with filtering, returning items and a total count
func (s *PaymentService) ListPayments(ctx context.Context, tenantID uuid.UUID, filter PaymentListFilter) ([]PaymentResponse, int64, error) {
	domainFilter := billing.PaymentFilter{
		ClientID:  filter.ClientID,
		InvoiceID: filter.InvoiceID,
		FromDate:  filter.FromDate,
		ToDate:    filter.ToDate,
		Unapplied: filter.Unapplied,
	}
	domainFilter.Page = filter.Page
	domainFilter.PageSize = filter.PageSize
	domainFilter.Search = filter.Search
	domainFilter.OrderBy = filter.OrderBy
	domainFilter.OrderDir = filter.OrderDir

	if filter.Status != "" {
		status := billing.PaymentStatus(filter.Status)
		if !status.IsValid() {
			return nil, 0, shared.NewDomainError("VALIDATION", fmt.Sprintf("Unknown payment status %q", filter.Status))
		}
		domainFilter.Status = &status
	}
	if filter.Method != "" {
		method := billing.PaymentMethod(filter.Method)
		if !method.IsValid() {
			return nil, 0, shared.NewDomainError("VALIDATION", fmt.Sprintf("Unknown payment method %q", filter.Method))
		}
		domainFilter.Method = &method
	}

	payments, err := s.paymentRepo.FindAllForTenant(ctx, tenantID, domainFilter)
	if err != nil {
		return nil, 0, err
	}

	total, err := s.paymentRepo.CountForTenant(ctx, tenantID, domainFilter)
	if err != nil {
		return nil, 0, err
	}

	responses := make([]PaymentResponse, len(payments))
	for i := range payments {
		responses[i] = *toPaymentResponse(&payments[i])
	}

	return responses, total, nil
}

// GetClientCredit reports a client's total unapplied payment credit
func (s *PaymentService) GetClientCredit(ctx context.Context, tenantID, clientID uuid.UUID) (*ClientCreditResponse, error) {
	credit, err := s.paymentRepo.SumUnappliedByClient(ctx, tenantID, clientID)
	if err != nil {
		return nil, err
	}
	return &ClientCreditResponse{ClientID: clientID, Credit: credit}, nil
}

// allocateInTx loads the requested invoices under row locks, runs the
// allocation engine, and saves every touched invoice with its version check.
// Must be called inside a transaction scope.
func (s *PaymentService) allocateInTx(
	ctx context.Context,
	repos TransactionalRepositories,
	payment *billing.Payment,
	items []AllocationRequestItem,
) (*billing.AllocationResult, []eventCarrier, error) {
	requests := make([]billing.AllocationRequest, len(items))
	ids := make([]uuid.UUID, len(items))
	for i, item := range items {
		requests[i] = billing.AllocationRequest{InvoiceID: item.InvoiceID, Amount: item.Amount}
		ids[i] = item.InvoiceID
	}

	invoices, err := repos.InvoiceRepo().FindByIDsForUpdate(ctx, payment.TenantID, ids)
	if err != nil {
		return nil, nil, err
	}
	loadedVersions := make(map[uuid.UUID]int, len(invoices))
	for _, invoice := range invoices {
		loadedVersions[invoice.ID] = invoice.Version
	}

	result, err := s.engine.Allocate(payment, invoices, requests)
	if err != nil {
		return nil, nil, err
	}

	updated := make([]eventCarrier, 0, len(result.UpdatedInvoices))
	for _, invoice := range result.UpdatedInvoices {
		if err := repos.InvoiceRepo().SaveWithLock(ctx, invoice, loadedVersions[invoice.ID]); err != nil {
			return nil, nil, err
		}
		updated = append(updated, invoice)
	}

	return result, updated, nil
}

// transition applies a status change to a payment and saves it with the
// version check
func (s *PaymentService) transition(ctx context.Context, tenantID, paymentID uuid.UUID, fn func(*billing.Payment) error) (*PaymentResponse, error) {
	payment, err := s.paymentRepo.FindByIDForTenant(ctx, tenantID, paymentID)
	if err != nil {
		return nil, err
	}
	loadedVersion := payment.Version

	if err := fn(payment); err != nil {
		return nil, err
	}

	if err := s.paymentRepo.SaveWithLock(ctx, payment, loadedVersion); err != nil {
		return nil, err
	}

	s.logger.Info("payment status changed",
		zap.String("tenant_id", tenantID.String()),
		zap.String("payment_number", payment.PaymentNumber),
		zap.String("status", string(payment.Status)),
	)

	s.publishEvents(ctx, collectEvents(payment))

	return toPaymentResponse(payment), nil
}

// withConflictRetry runs fn, retrying with exponential backoff while it fails
// with CONCURRENCY_CONFLICT. Any other error aborts immediately.
func (s *PaymentService) withConflictRetry(ctx context.Context, fn func() error) error {
	operation := func() error {
		err := fn()
		if err == nil {
			return nil
		}
		if errors.Is(err, shared.ErrConcurrencyConflict) {
			return err
		}
		return backoff.Permanent(err)
	}

	bo := backoff.NewExponentialBackOff()
	if s.retryBaseDelay > 0 {
		bo.InitialInterval = s.retryBaseDelay
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(bo, uint64(s.maxRetries)), ctx)

	return backoff.Retry(operation, policy)
}

// guardIdempotency rejects a request whose key has already been processed.
// A missing key or a disabled store lets the request through.
func (s *PaymentService) guardIdempotency(ctx context.Context, tenantID uuid.UUID, key string) error {
	if s.idempotency == nil || !s.idempotencyCfg.Enabled || key == "" {
		return nil
	}
	fresh, err := s.idempotency.MarkProcessed(ctx, tenantID.String()+":"+key, s.idempotencyCfg.TTL)
	if err != nil {
		// The store being down must not block payment intake.
		s.logger.Warn("idempotency store unavailable", zap.Error(err))
		return nil
	}
	if !fresh {
		return shared.NewDomainError("DUPLICATE_REQUEST", "This request was already processed")
	}
	return nil
}

// releaseIdempotency frees a key claimed by a request that did not commit.
func (s *PaymentService) releaseIdempotency(ctx context.Context, tenantID uuid.UUID, key string) {
	if s.idempotency == nil || !s.idempotencyCfg.Enabled || key == "" {
		return
	}
	if err := s.idempotency.Release(ctx, tenantID.String()+":"+key); err != nil {
		s.logger.Warn("failed to release idempotency key", zap.Error(err))
	}
}

func (s *PaymentService) buildPayment(
	tenantID uuid.UUID,
	paymentNumber string,
	method billing.PaymentMethod,
	amount valueobject.Money,
	receivedAt time.Time,
	req RecordPaymentRequest,
) (*billing.Payment, error) {
	var payment *billing.Payment
	var err error
	if req.Pending {
		payment, err = billing.NewPendingPayment(tenantID, paymentNumber, req.ClientID, req.ClientName, amount, method, req.ReferenceNo, receivedAt)
	} else {
		payment, err = billing.NewPayment(tenantID, paymentNumber, req.ClientID, req.ClientName, amount, method, req.ReferenceNo, receivedAt)
	}
	if err != nil {
		return nil, err
	}
	if req.Notes != "" {
		if err := payment.SetNotes(req.Notes); err != nil {
			return nil, err
		}
	}
	if req.CreatedBy != nil {
		payment.SetCreatedBy(*req.CreatedBy)
	}
	return payment, nil
}

// nextPaymentNumber allocates the next payment number for the tenant,
// formatted PAY-YYYYMMDD-00001
func (s *PaymentService) nextPaymentNumber(ctx context.Context, tenantID uuid.UUID) (string, error) {
	day := time.Now().Format("20060102")
	seq, err := s.sequenceRepo.Next(ctx, tenantID, "payment:"+day)
	if err != nil {
		return "", fmt.Errorf("failed to generate payment number: %w", err)
	}
	return fmt.Sprintf("PAY-%s-%05d", day, seq), nil
}

func (s *PaymentService) logAllocation(tenantID uuid.UUID, payment *billing.Payment, result *billing.AllocationResult) {
	s.logger.Info("payment allocated",
		zap.String("tenant_id", tenantID.String()),
		zap.String("payment_number", payment.PaymentNumber),
		zap.Int("invoices", len(result.UpdatedInvoices)),
		zap.String("applied", result.TotalApplied.StringFixed(2)),
		zap.String("returned_to_credit", result.ReturnedToCredit.StringFixed(2)),
	)
}

// publishEvents hands domain events to the bus. Delivery is best-effort;
// a publish failure must not fail the already-committed operation.
func (s *PaymentService) publishEvents(ctx context.Context, events []shared.DomainEvent) {
	if s.publisher == nil || len(events) == 0 {
		return
	}
	if err := s.publisher.Publish(ctx, events...); err != nil {
		s.logger.Warn("failed to publish domain events", zap.Error(err))
	}
}

// eventCarrier is the slice of aggregate behavior the event drain needs
type eventCarrier interface {
	GetDomainEvents() []shared.DomainEvent
	ClearDomainEvents()
}

// collectEvents drains domain events from the given aggregates
func collectEvents(aggregates ...eventCarrier) []shared.DomainEvent {
	var events []shared.DomainEvent
	for _, agg := range aggregates {
		events = append(events, agg.GetDomainEvents()...)
		agg.ClearDomainEvents()
	}
	return events
}

// toPaymentResponse converts a payment aggregate to its API representation
func toPaymentResponse(p *billing.Payment) *PaymentResponse {
	var allocations []InvoiceAllocationResponse
	if len(p.Allocations) > 0 {
		allocations = make([]InvoiceAllocationResponse, len(p.Allocations))
		for i, a := range p.Allocations {
			allocations[i] = InvoiceAllocationResponse{
				ID:            a.ID,
				InvoiceID:     a.InvoiceID,
				InvoiceNumber: a.InvoiceNumber,
				Amount:        a.Amount,
				AllocatedAt:   a.AllocatedAt,
			}
		}
	}

	return &PaymentResponse{
		ID:              p.ID,
		PaymentNumber:   p.PaymentNumber,
		ClientID:        p.ClientID,
		ClientName:      p.ClientName,
		Currency:        string(p.Currency),
		Amount:          p.Amount,
		AllocatedAmount: p.AllocatedAmount,
		UnappliedAmount: p.UnappliedAmount,
		Method:          string(p.Method),
		ReferenceNo:     p.ReferenceNo,
		Status:          string(p.Status),
		ReceivedAt:      p.ReceivedAt,
		Allocations:     allocations,
		RefundedAt:      p.RefundedAt,
		RefundReason:    p.RefundReason,
		FailedAt:        p.FailedAt,
		FailureReason:   p.FailureReason,
		Notes:           p.Notes,
		CreatedAt:       p.CreatedAt,
		UpdatedAt:       p.UpdatedAt,
		Version:         p.Version,
	}
}
