package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/msqpay/gateway/ledger"
	"github.com/msqpay/gateway/types"
)

// Store implements ledger.Store on PostgreSQL.
type Store struct {
	db *sqlx.DB
}

var _ ledger.Store = (*Store)(nil)

func NewStore(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// paymentRow flattens the embedded token snapshot for sqlx scanning.
type paymentRow struct {
	PaymentHash   string               `db:"payment_hash"`
	MerchantID    string               `db:"merchant_id"`
	OrderID       string               `db:"order_id"`
	ChainID       int64                `db:"chain_id"`
	TokenSymbol   string               `db:"token_symbol"`
	TokenAddress  string               `db:"token_address"`
	TokenDecimals uint8                `db:"token_decimals"`
	AmountWei     string               `db:"amount_wei"`
	Recipient     string               `db:"recipient"`
	FeeBps        uint16               `db:"fee_bps"`
	Status        types.PaymentStatus  `db:"status"`
	ExpiresAt     time.Time            `db:"expires_at"`
	TxHash        *string              `db:"tx_hash"`
	Payer         *string              `db:"payer_address"`
	ConfirmedAt   *time.Time           `db:"confirmed_at"`
	CreatedAt     time.Time            `db:"created_at"`
}

func toPaymentRow(r *types.PaymentRecord) paymentRow {
	return paymentRow{
		PaymentHash:   r.PaymentHash,
		MerchantID:    r.MerchantID,
		OrderID:       r.OrderID,
		ChainID:       r.ChainID,
		TokenSymbol:   r.Token.Symbol,
		TokenAddress:  r.Token.Address,
		TokenDecimals: r.Token.Decimals,
		AmountWei:     r.AmountWei,
		Recipient:     r.Recipient,
		FeeBps:        r.FeeBps,
		Status:        r.Status,
		ExpiresAt:     r.ExpiresAt,
		TxHash:        r.TxHash,
		Payer:         r.Payer,
		ConfirmedAt:   r.ConfirmedAt,
		CreatedAt:     r.CreatedAt,
	}
}

func (row paymentRow) toRecord() *types.PaymentRecord {
	return &types.PaymentRecord{
		PaymentHash: row.PaymentHash,
		MerchantID:  row.MerchantID,
		OrderID:     row.OrderID,
		ChainID:     row.ChainID,
		Token: types.TokenInfo{
			Symbol:   row.TokenSymbol,
			Address:  row.TokenAddress,
			Decimals: row.TokenDecimals,
		},
		AmountWei:   row.AmountWei,
		Recipient:   row.Recipient,
		FeeBps:      row.FeeBps,
		Status:      row.Status,
		ExpiresAt:   row.ExpiresAt,
		TxHash:      row.TxHash,
		Payer:       row.Payer,
		ConfirmedAt: row.ConfirmedAt,
		CreatedAt:   row.CreatedAt,
	}
}

const insertPayment = `
INSERT INTO payments (
	payment_hash, merchant_id, order_id, chain_id,
	token_symbol, token_address, token_decimals,
	amount_wei, recipient, fee_bps, status,
	expires_at, tx_hash, payer_address, confirmed_at, created_at
) VALUES (
	:payment_hash, :merchant_id, :order_id, :chain_id,
	:token_symbol, :token_address, :token_decimals,
	:amount_wei, :recipient, :fee_bps, :status,
	:expires_at, :tx_hash, :payer_address, :confirmed_at, :created_at
)`

func (s *Store) CreatePayment(ctx context.Context, record *types.PaymentRecord) error {
	if _, err := s.db.NamedExecContext(ctx, insertPayment, toPaymentRow(record)); err != nil {
		return fmt.Errorf("failed to insert payment: %w", err)
	}
	return nil
}

const selectPayment = `
SELECT payment_hash, merchant_id, order_id, chain_id,
	token_symbol, token_address, token_decimals,
	amount_wei::TEXT AS amount_wei, recipient, fee_bps, status,
	expires_at, tx_hash, payer_address, confirmed_at, created_at
FROM payments`

func (s *Store) GetPayment(ctx context.Context, paymentHash string) (*types.PaymentRecord, error) {
	var row paymentRow
	err := s.db.GetContext(ctx, &row, selectPayment+` WHERE payment_hash = $1`, paymentHash)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to select payment: %w", err)
	}
	return row.toRecord(), nil
}

func (s *Store) FindActivePayment(ctx context.Context, merchantID, orderID string) (*types.PaymentRecord, error) {
	var row paymentRow
	err := s.db.GetContext(ctx, &row,
		selectPayment+` WHERE merchant_id = $1 AND order_id = $2 AND status IN ('CREATED', 'PENDING')
		ORDER BY created_at DESC LIMIT 1`,
		merchantID, orderID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to select active payment: %w", err)
	}
	return row.toRecord(), nil
}

func (s *Store) UpdatePaymentStatus(ctx context.Context, paymentHash string, status types.PaymentStatus) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE payments SET status = $1 WHERE payment_hash = $2`,
		status, paymentHash)
	if err != nil {
		return fmt.Errorf("failed to update payment status: %w", err)
	}
	return requireRow(result, types.ErrPaymentNotFound, paymentHash)
}

func (s *Store) ConfirmPayment(ctx context.Context, paymentHash, txHash, payer string, confirmedAt time.Time) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE payments
		SET status = 'CONFIRMED', tx_hash = $1, payer_address = $2,
			confirmed_at = COALESCE(confirmed_at, $3)
		WHERE payment_hash = $4`,
		txHash, payer, confirmedAt, paymentHash)
	if err != nil {
		return fmt.Errorf("failed to confirm payment: %w", err)
	}
	return requireRow(result, types.ErrPaymentNotFound, paymentHash)
}

const insertRefund = `
INSERT INTO refunds (
	refund_hash, payment_hash, amount_wei, token_address, payer_address,
	reason, status, tx_hash, error_message, submitted_at, confirmed_at, created_at
) VALUES (
	:refund_hash, :payment_hash, :amount_wei, :token_address, :payer_address,
	:reason, :status, :tx_hash, :error_message, :submitted_at, :confirmed_at, :created_at
)`

func (s *Store) CreateRefund(ctx context.Context, record *types.RefundRecord) error {
	if _, err := s.db.NamedExecContext(ctx, insertRefund, record); err != nil {
		return fmt.Errorf("failed to insert refund: %w", err)
	}
	return nil
}

const selectRefund = `
SELECT refund_hash, payment_hash, amount_wei::TEXT AS amount_wei, token_address,
	payer_address, reason, status, tx_hash, error_message,
	submitted_at, confirmed_at, created_at
FROM refunds`

func (s *Store) GetRefund(ctx context.Context, refundHash string) (*types.RefundRecord, error) {
	var record types.RefundRecord
	err := s.db.GetContext(ctx, &record, selectRefund+` WHERE refund_hash = $1`, refundHash)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to select refund: %w", err)
	}
	return &record, nil
}

func (s *Store) RefundsByPayment(ctx context.Context, paymentHash string) ([]types.RefundRecord, error) {
	var records []types.RefundRecord
	err := s.db.SelectContext(ctx, &records,
		selectRefund+` WHERE payment_hash = $1 ORDER BY created_at`, paymentHash)
	if err != nil {
		return nil, fmt.Errorf("failed to select refunds: %w", err)
	}
	return records, nil
}

func (s *Store) UpdateRefund(ctx context.Context, record *types.RefundRecord) error {
	result, err := s.db.NamedExecContext(ctx,
		`UPDATE refunds
		SET status = :status, tx_hash = :tx_hash, error_message = :error_message,
			submitted_at = :submitted_at, confirmed_at = :confirmed_at
		WHERE refund_hash = :refund_hash`,
		record)
	if err != nil {
		return fmt.Errorf("failed to update refund: %w", err)
	}
	return requireRow(result, types.ErrRefundNotFound, record.RefundHash)
}

func (s *Store) AppendAudit(ctx context.Context, event types.AuditEvent) error {
	_, err := s.db.NamedExecContext(ctx,
		`INSERT INTO audit_events (id, entity_id, event_type, detail, created_at)
		VALUES (:id, :entity_id, :event_type, :detail, :created_at)`,
		event)
	if err != nil {
		return fmt.Errorf("failed to insert audit event: %w", err)
	}
	return nil
}

func (s *Store) AuditEvents(ctx context.Context, entityID string) ([]types.AuditEvent, error) {
	var events []types.AuditEvent
	err := s.db.SelectContext(ctx, &events,
		`SELECT id, entity_id, event_type, detail, created_at
		FROM audit_events WHERE entity_id = $1 ORDER BY created_at`,
		entityID)
	if err != nil {
		return nil, fmt.Errorf("failed to select audit events: %w", err)
	}
	return events, nil
}

func requireRow(result sql.Result, code, id string) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected == 0 {
		return types.NewError(code, "%s not found", id)
	}
	return nil
}
