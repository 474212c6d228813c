package ledger

import (
	"context"
	"crypto/rand"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/msqpay/gateway/logger"
	"github.com/msqpay/gateway/types"
)

// RefundLedger owns RefundRecord state transitions:
// PENDING -> SUBMITTED -> {CONFIRMED, FAILED}. A refund is gated by its
// payment being CONFIRMED, and at most one non-terminal refund may exist
// per payment at a time.
type RefundLedger struct {
	store Store
	log   logger.Logger

	// serializes concurrent refund creation per process so two callers
	// cannot both pass the no-active-refund check
	mu sync.Mutex
}

func NewRefundLedger(store Store, log logger.Logger) *RefundLedger {
	return &RefundLedger{store: store, log: log}
}

// Create validates the precondition chain and records a PENDING refund.
// It does not submit any transaction.
func (l *RefundLedger) Create(ctx context.Context, paymentHash, reason string) (*types.RefundRecord, *types.PaymentRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	payment, err := l.store.GetPayment(ctx, paymentHash)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load payment: %w", err)
	}
	if payment == nil {
		return nil, nil, types.NewError(types.ErrPaymentNotFound, "payment %s not found", paymentHash)
	}

	if payment.Status != types.PaymentConfirmed {
		return nil, nil, types.NewError(types.ErrPaymentNotConfirmed,
			"payment %s is %s, refunds require CONFIRMED", paymentHash, payment.Status)
	}

	if payment.Payer == nil || *payment.Payer == "" {
		return nil, nil, types.NewError(types.ErrPayerAddressMissing,
			"payment %s has no payer address on record", paymentHash)
	}

	refunds, err := l.store.RefundsByPayment(ctx, paymentHash)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list refunds: %w", err)
	}
	for _, refund := range refunds {
		if refund.Status == types.RefundConfirmed {
			return nil, nil, types.NewError(types.ErrAlreadyRefunded,
				"payment %s already has a confirmed refund %s", paymentHash, refund.RefundHash)
		}
	}
	for _, refund := range refunds {
		if refund.Status.IsActive() {
			return nil, nil, types.NewError(types.ErrRefundInProgress,
				"payment %s already has refund %s in state %s", paymentHash, refund.RefundHash, refund.Status)
		}
	}

	record := &types.RefundRecord{
		RefundHash:   newRefundHash(paymentHash, *payment.Payer, payment.AmountWei),
		PaymentHash:  paymentHash,
		AmountWei:    payment.AmountWei,
		TokenAddress: payment.Token.Address,
		Payer:        *payment.Payer,
		Reason:       reason,
		Status:       types.RefundPending,
		CreatedAt:    time.Now().UTC(),
	}

	if err := l.store.CreateRefund(ctx, record); err != nil {
		return nil, nil, fmt.Errorf("failed to create refund: %w", err)
	}

	if err := l.store.AppendAudit(ctx, types.NewAuditEvent(record.RefundHash, types.AuditRefundCreated, paymentHash)); err != nil {
		l.log.Warn("failed to append audit event", map[string]any{
			"refund_hash": record.RefundHash,
			"error":       err.Error(),
		})
	}

	l.log.Info("refund created", map[string]any{
		"refund_hash":  record.RefundHash,
		"payment_hash": paymentHash,
		"amount_wei":   record.AmountWei,
	})

	return record, payment, nil
}

// Get returns a refund record.
func (l *RefundLedger) Get(ctx context.Context, refundHash string) (*types.RefundRecord, error) {
	record, err := l.store.GetRefund(ctx, refundHash)
	if err != nil {
		return nil, fmt.Errorf("failed to load refund: %w", err)
	}
	if record == nil {
		return nil, types.NewError(types.ErrRefundNotFound, "refund %s not found", refundHash)
	}
	return record, nil
}

// RefundUpdate carries the optional fields of a status transition.
type RefundUpdate struct {
	TxHash       string
	ErrorMessage string
}

// UpdateStatus applies one transition of the refund state machine.
// submitted_at and confirmed_at are each set at most once; every
// transition appends its own audit event type.
func (l *RefundLedger) UpdateStatus(ctx context.Context, refundHash string, newStatus types.RefundStatus, update RefundUpdate) (*types.RefundRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	record, err := l.Get(ctx, refundHash)
	if err != nil {
		return nil, err
	}

	if !validRefundTransition(record.Status, newStatus) {
		return nil, fmt.Errorf("refund %s cannot move from %s to %s", refundHash, record.Status, newStatus)
	}

	now := time.Now().UTC()
	var eventType types.AuditEventType

	switch newStatus {
	case types.RefundSubmitted:
		if record.SubmittedAt == nil {
			record.SubmittedAt = &now
		}
		eventType = types.AuditRefundSubmitted
	case types.RefundConfirmed:
		if record.ConfirmedAt == nil {
			record.ConfirmedAt = &now
		}
		eventType = types.AuditRefundConfirmed
	case types.RefundFailed:
		if update.ErrorMessage != "" {
			record.ErrorMessage = &update.ErrorMessage
		}
		eventType = types.AuditRefundFailed
	default:
		return nil, fmt.Errorf("unknown refund status %s", newStatus)
	}

	if update.TxHash != "" {
		record.TxHash = &update.TxHash
	}
	record.Status = newStatus

	if err := l.store.UpdateRefund(ctx, record); err != nil {
		return nil, fmt.Errorf("failed to update refund: %w", err)
	}

	if err := l.store.AppendAudit(ctx, types.NewAuditEvent(record.RefundHash, eventType, update.TxHash)); err != nil {
		l.log.Warn("failed to append audit event", map[string]any{
			"refund_hash": record.RefundHash,
			"error":       err.Error(),
		})
	}

	l.log.Info("refund status updated", map[string]any{
		"refund_hash": refundHash,
		"status":      string(newStatus),
	})

	return record, nil
}

func validRefundTransition(from, to types.RefundStatus) bool {
	switch from {
	case types.RefundPending:
		return to == types.RefundSubmitted || to == types.RefundConfirmed || to == types.RefundFailed
	case types.RefundSubmitted:
		return to == types.RefundConfirmed || to == types.RefundFailed
	default:
		return false
	}
}

// newRefundHash derives keccak256(paymentHash || payer || amount || 16
// random bytes), hex encoded.
func newRefundHash(paymentHash, payer, amountWei string) string {
	salt := make([]byte, 16)
	_, _ = rand.Read(salt)

	return hexutil.Encode(crypto.Keccak256(
		[]byte(paymentHash),
		[]byte(payer),
		[]byte(amountWei),
		salt,
	))
}
