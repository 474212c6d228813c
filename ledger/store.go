// Package ledger implements the payment and refund state machines on top
// of a pluggable persistence interface.
package ledger

import (
	"context"
	"time"

	"github.com/msqpay/gateway/types"
)

// Store is the persistence collaborator for payment and refund records.
// Implementations must offer read-after-write consistency within one
// process. Lookups return (nil, nil) when no row matches.
type Store interface {
	CreatePayment(ctx context.Context, record *types.PaymentRecord) error
	GetPayment(ctx context.Context, paymentHash string) (*types.PaymentRecord, error)

	// FindActivePayment returns a CREATED or PENDING payment for the
	// (merchantID, orderID) pair, if one exists.
	FindActivePayment(ctx context.Context, merchantID, orderID string) (*types.PaymentRecord, error)

	UpdatePaymentStatus(ctx context.Context, paymentHash string, status types.PaymentStatus) error

	// ConfirmPayment atomically sets status=CONFIRMED, the tx hash, the
	// payer address, and confirmed_at. confirmed_at is set exactly once.
	ConfirmPayment(ctx context.Context, paymentHash, txHash, payer string, confirmedAt time.Time) error

	CreateRefund(ctx context.Context, record *types.RefundRecord) error
	GetRefund(ctx context.Context, refundHash string) (*types.RefundRecord, error)
	RefundsByPayment(ctx context.Context, paymentHash string) ([]types.RefundRecord, error)
	UpdateRefund(ctx context.Context, record *types.RefundRecord) error

	AppendAudit(ctx context.Context, event types.AuditEvent) error
	AuditEvents(ctx context.Context, entityID string) ([]types.AuditEvent, error)
}
