package ledger

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/go-playground/validator/v10"

	"github.com/msqpay/gateway/logger"
	"github.com/msqpay/gateway/registry"
	"github.com/msqpay/gateway/signer"
	"github.com/msqpay/gateway/types"
)

var validate = validator.New()

// PaymentLedger owns PaymentRecord state transitions:
// CREATED -> PENDING -> {CONFIRMED, FAILED}, with CREATED/PENDING lazily
// resolving to EXPIRED once the stored expiry passes. CONFIRMED is
// terminal and idempotent to re-enter.
type PaymentLedger struct {
	store Store
	reg   *registry.Registry
	log   logger.Logger

	// serializes the check-then-insert in Create and reconcile
	// transitions, so concurrent creates for one (merchant, order) pair
	// leave a single record and concurrent status polls for the same
	// payment merge to an identical terminal state
	mu sync.Mutex

	cache sync.Map // paymentHash -> *types.PaymentRecord
}

// NewPaymentLedger wires the ledger against a store and chain registry.
func NewPaymentLedger(store Store, reg *registry.Registry, log logger.Logger) *PaymentLedger {
	return &PaymentLedger{
		store: store,
		reg:   reg,
		log:   log,
	}
}

// Create records a new payment intent in CREATED state. The payment hash
// is salted with 32 random bytes so in-flight identifiers cannot be
// enumerated. The token snapshot is frozen at creation time: later token
// table edits never affect existing payments.
func (l *PaymentLedger) Create(ctx context.Context, intent *types.CreatePaymentIntent) (*types.PaymentRecord, error) {
	if err := validate.Struct(intent); err != nil {
		return nil, types.NewError(types.ErrInvalidIntent, "invalid payment intent: %v", err)
	}

	if _, valid := parseAmount(intent.AmountWei); !valid {
		return nil, types.NewError(types.ErrInvalidIntent, "amountWei %q is not a positive integer", intent.AmountWei)
	}

	token, err := l.reg.TokenBySymbol(intent.ChainID, intent.TokenSymbol)
	if err != nil {
		return nil, err
	}

	merchantID := hexutil.Encode(merchantIDBytes(intent.MerchantKey))

	l.mu.Lock()
	defer l.mu.Unlock()

	existing, err := l.store.FindActivePayment(ctx, merchantID, intent.OrderID)
	if err != nil {
		return nil, fmt.Errorf("failed to check for duplicate payment: %w", err)
	}
	if existing != nil && !l.isExpired(existing, time.Now().UTC()) {
		return nil, types.NewError(types.ErrDuplicatePayment,
			"an active payment already exists for order %s", intent.OrderID)
	}

	now := time.Now().UTC()
	record := &types.PaymentRecord{
		PaymentHash: newPaymentHash(intent.MerchantKey, now),
		MerchantID:  merchantID,
		OrderID:     intent.OrderID,
		ChainID:     intent.ChainID,
		Token:       token,
		AmountWei:   intent.AmountWei,
		Recipient:   intent.Recipient,
		FeeBps:      intent.FeeBps,
		Status:      types.PaymentCreated,
		ExpiresAt:   now.Add(types.DefaultPaymentTTL),
		CreatedAt:   now,
	}

	if err := l.store.CreatePayment(ctx, record); err != nil {
		return nil, fmt.Errorf("failed to create payment: %w", err)
	}

	if err := l.store.AppendAudit(ctx, types.NewAuditEvent(record.PaymentHash, types.AuditPaymentCreated, intent.OrderID)); err != nil {
		l.log.Warn("failed to append audit event", map[string]any{
			"payment_hash": record.PaymentHash,
			"error":        err.Error(),
		})
	}

	l.log.Info("payment created", map[string]any{
		"payment_hash": record.PaymentHash,
		"merchant_id":  merchantID,
		"chain_id":     intent.ChainID,
		"amount_wei":   intent.AmountWei,
	})

	return record, nil
}

// Load returns the payment as stored, without resolving lazy expiry.
// Reconciliation reads through Load so a settlement observed after the
// expiry can still confirm the record. A cached copy is served until a
// reconcile invalidates it.
func (l *PaymentLedger) Load(ctx context.Context, paymentHash string) (*types.PaymentRecord, error) {
	if cached, ok := l.cache.Load(paymentHash); ok {
		record := cached.(*types.PaymentRecord)
		if record.Status == types.PaymentConfirmed {
			clone := *record
			return &clone, nil
		}
		l.cache.Delete(paymentHash)
	}

	record, err := l.store.GetPayment(ctx, paymentHash)
	if err != nil {
		return nil, fmt.Errorf("failed to load payment: %w", err)
	}
	if record == nil {
		return nil, types.NewError(types.ErrPaymentNotFound, "payment %s not found", paymentHash)
	}

	if record.Status == types.PaymentConfirmed {
		clone := *record
		l.cache.Store(paymentHash, &clone)
	}

	return record, nil
}

// Get returns the payment, resolving lazy expiry on read.
func (l *PaymentLedger) Get(ctx context.Context, paymentHash string) (*types.PaymentRecord, error) {
	record, err := l.Load(ctx, paymentHash)
	if err != nil {
		return nil, err
	}

	if l.isExpired(record, time.Now().UTC()) {
		if err := l.expire(ctx, record); err != nil {
			return nil, err
		}
	}

	return record, nil
}

// Outcome reports what a reconcile pass did.
type Outcome struct {
	Record *types.PaymentRecord

	// Transitioned is true only for the call that moved the record into
	// CONFIRMED; repeat reconciles of a confirmed payment report false.
	Transitioned bool

	// WebhookDue mirrors Transitioned: exactly one webhook signal per
	// confirmed payment.
	WebhookDue bool
}

// Reconcile merges observed settlement truth into the stored record.
// Safe to invoke repeatedly and concurrently for the same paymentHash:
// the transition is guarded by a status re-check under lock, and the
// terminal state is identical regardless of which caller wins.
func (l *PaymentLedger) Reconcile(ctx context.Context, paymentHash string, settlement *types.SettlementResult) (*Outcome, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	record, err := l.store.GetPayment(ctx, paymentHash)
	if err != nil {
		return nil, fmt.Errorf("failed to load payment: %w", err)
	}
	if record == nil {
		return nil, types.NewError(types.ErrPaymentNotFound, "payment %s not found", paymentHash)
	}

	if record.Status == types.PaymentConfirmed {
		return &Outcome{Record: record}, nil
	}

	switch settlement.State {
	case types.SettlementCompleted:
		if record.Status != types.PaymentCreated && record.Status != types.PaymentPending {
			return &Outcome{Record: record}, nil
		}
		return l.confirm(ctx, record, settlement)

	case types.SettlementFailed:
		if record.Status == types.PaymentCreated || record.Status == types.PaymentPending {
			if err := l.store.UpdatePaymentStatus(ctx, paymentHash, types.PaymentFailed); err != nil {
				return nil, fmt.Errorf("failed to mark payment failed: %w", err)
			}
			record.Status = types.PaymentFailed
			l.cache.Delete(paymentHash)
		}
		return &Outcome{Record: record}, nil

	default:
		if l.isExpired(record, time.Now().UTC()) {
			if err := l.expire(ctx, record); err != nil {
				return nil, err
			}
		}
		return &Outcome{Record: record}, nil
	}
}

// confirm applies a completed settlement. The amount comparison is exact
// integer equality; a mismatch is a potential tampering signal and must
// surface without any state change rather than trusting the chain over
// the signed intent.
func (l *PaymentLedger) confirm(ctx context.Context, record *types.PaymentRecord, settlement *types.SettlementResult) (*Outcome, error) {
	stored, ok := record.Amount()
	if !ok {
		return nil, types.NewError(types.ErrInvalidIntent, "stored amount %q is not an integer", record.AmountWei)
	}

	if settlement.Amount == nil || stored.Cmp(settlement.Amount) != 0 {
		observed := "<nil>"
		if settlement.Amount != nil {
			observed = settlement.Amount.String()
		}
		l.log.Error("settlement amount mismatch", map[string]any{
			"payment_hash":    record.PaymentHash,
			"db_amount":       record.AmountWei,
			"on_chain_amount": observed,
		})
		return nil, &types.GatewayError{
			Code:    types.ErrAmountMismatch,
			Message: fmt.Sprintf("on-chain amount %s does not match recorded amount %s", observed, record.AmountWei),
			Data: types.AmountMismatchData{
				DBAmount:      record.AmountWei,
				OnChainAmount: observed,
			},
		}
	}

	confirmedAt := time.Now().UTC()
	if err := l.store.ConfirmPayment(ctx, record.PaymentHash, settlement.TxHash, settlement.Payer, confirmedAt); err != nil {
		return nil, fmt.Errorf("failed to confirm payment: %w", err)
	}

	record.Status = types.PaymentConfirmed
	record.TxHash = &settlement.TxHash
	record.Payer = &settlement.Payer
	record.ConfirmedAt = &confirmedAt
	l.cache.Delete(record.PaymentHash)

	if err := l.store.AppendAudit(ctx, types.NewAuditEvent(record.PaymentHash, types.AuditPaymentConfirmed, settlement.TxHash)); err != nil {
		l.log.Warn("failed to append audit event", map[string]any{
			"payment_hash": record.PaymentHash,
			"error":        err.Error(),
		})
	}

	l.log.Info("payment confirmed", map[string]any{
		"payment_hash": record.PaymentHash,
		"tx_hash":      settlement.TxHash,
		"payer":        settlement.Payer,
	})

	return &Outcome{Record: record, Transitioned: true, WebhookDue: true}, nil
}

func (l *PaymentLedger) isExpired(record *types.PaymentRecord, now time.Time) bool {
	if record.Status != types.PaymentCreated && record.Status != types.PaymentPending {
		return false
	}
	return now.After(record.ExpiresAt)
}

func (l *PaymentLedger) expire(ctx context.Context, record *types.PaymentRecord) error {
	if err := l.store.UpdatePaymentStatus(ctx, record.PaymentHash, types.PaymentExpired); err != nil {
		return fmt.Errorf("failed to expire payment: %w", err)
	}
	record.Status = types.PaymentExpired
	l.cache.Delete(record.PaymentHash)

	if err := l.store.AppendAudit(ctx, types.NewAuditEvent(record.PaymentHash, types.AuditPaymentExpired, "")); err != nil {
		l.log.Warn("failed to append audit event", map[string]any{
			"payment_hash": record.PaymentHash,
			"error":        err.Error(),
		})
	}
	return nil
}

// newPaymentHash derives keccak256(merchantKey || creation time || 32
// random bytes), hex encoded. Salted so identifiers are unguessable.
func newPaymentHash(merchantKey string, now time.Time) string {
	salt := make([]byte, 32)
	_, _ = rand.Read(salt)

	var ts [8]byte
	binary.BigEndian.PutUint64(ts[:], uint64(now.UnixNano()))

	return hexutil.Encode(crypto.Keccak256([]byte(merchantKey), ts[:], salt))
}

func merchantIDBytes(merchantKey string) []byte {
	id := signer.MerchantKeyToID(merchantKey)
	return id[:]
}

// parseAmount accepts only positive base-10 integers.
func parseAmount(s string) (*big.Int, bool) {
	amount, ok := new(big.Int).SetString(s, 10)
	if !ok || amount.Sign() <= 0 {
		return nil, false
	}
	return amount, true
}
