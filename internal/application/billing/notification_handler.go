package billing

import (
	"context"

	"github.com/ash-erp/billing/internal/domain/billing"
	"github.com/ash-erp/billing/internal/domain/shared"
	"go.uber.org/zap"
)

// NotificationHandler reacts to billing lifecycle events by emitting
// structured notification logs. Actual delivery channels (email, SMS) live
// outside this service; this handler is the seam where they would attach.
type NotificationHandler struct {
	logger *zap.Logger
}

// NewNotificationHandler creates a new NotificationHandler
func NewNotificationHandler(logger *zap.Logger) *NotificationHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NotificationHandler{logger: logger}
}

// EventTypes returns the event types this handler is interested in
func (h *NotificationHandler) EventTypes() []string {
	return []string{
		"InvoiceIssued",
		"InvoicePaid",
		"InvoicePartiallyPaid",
		"PaymentReceived",
		"PaymentRefunded",
	}
}

// Handle processes a billing event by logging a notification record
func (h *NotificationHandler) Handle(_ context.Context, event shared.DomainEvent) error {
	fields := []zap.Field{
		zap.String("event_type", event.EventType()),
		zap.String("tenant_id", event.TenantID().String()),
		zap.String("aggregate_id", event.AggregateID().String()),
	}

	switch e := event.(type) {
	case *billing.InvoiceIssuedEvent:
		fields = append(fields,
			zap.String("invoice_number", e.InvoiceNumber),
			zap.String("total", e.Total.StringFixed(2)),
		)
	case *billing.InvoicePaidEvent:
		fields = append(fields,
			zap.String("invoice_number", e.InvoiceNumber),
			zap.String("total", e.Total.StringFixed(2)),
		)
	case *billing.InvoicePartiallyPaidEvent:
		fields = append(fields,
			zap.String("invoice_number", e.InvoiceNumber),
			zap.String("amount", e.PaymentAmount.StringFixed(2)),
			zap.String("balance", e.Balance.StringFixed(2)),
		)
	case *billing.PaymentReceivedEvent:
		fields = append(fields,
			zap.String("payment_number", e.PaymentNumber),
			zap.String("amount", e.Amount.StringFixed(2)),
		)
	case *billing.PaymentRefundedEvent:
		fields = append(fields,
			zap.String("payment_number", e.PaymentNumber),
			zap.String("reason", e.RefundReason),
		)
	}

	h.logger.Info("billing notification", fields...)
	return nil
}

var _ shared.EventHandler = (*NotificationHandler)(nil)
