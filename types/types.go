// Package types defines the shared data model of the payment settlement
// and authorization engine: chain configuration, payment and refund records,
// settlement results, and the error taxonomy.
package types

import (
	"math/big"
	"time"
)

// PaymentStatus represents the lifecycle state of a payment intent.
type PaymentStatus string

const (
	PaymentCreated   PaymentStatus = "CREATED"
	PaymentPending   PaymentStatus = "PENDING"
	PaymentConfirmed PaymentStatus = "CONFIRMED"
	PaymentFailed    PaymentStatus = "FAILED"
	PaymentExpired   PaymentStatus = "EXPIRED"
)

// IsTerminal reports whether the status admits no further transition.
// CONFIRMED is terminal and idempotent to re-enter.
func (s PaymentStatus) IsTerminal() bool {
	return s == PaymentConfirmed || s == PaymentFailed || s == PaymentExpired
}

// RefundStatus represents the lifecycle state of a refund.
type RefundStatus string

const (
	RefundPending   RefundStatus = "PENDING"
	RefundSubmitted RefundStatus = "SUBMITTED"
	RefundConfirmed RefundStatus = "CONFIRMED"
	RefundFailed    RefundStatus = "FAILED"
)

// IsActive reports whether the refund still occupies the per-payment
// serialization slot (at most one PENDING/SUBMITTED refund per payment).
func (s RefundStatus) IsActive() bool {
	return s == RefundPending || s == RefundSubmitted
}

// SettlementState is the tri-state truth derived from chain reads.
type SettlementState string

const (
	SettlementPending   SettlementState = "pending"
	SettlementCompleted SettlementState = "completed"
	SettlementFailed    SettlementState = "failed"
)

// TokenInfo is the per-chain token table entry. A copy of it is frozen
// into every PaymentRecord at creation time.
type TokenInfo struct {
	Symbol   string `json:"symbol" db:"token_symbol" validate:"required"`
	Address  string `json:"address" db:"token_address" validate:"required"`
	Decimals uint8  `json:"decimals" db:"token_decimals"`
}

// PaymentRecord is the ledger's view of a payment intent. Amounts are
// integer minor units; AmountWei is the decimal-string form of a uint256
// and must never pass through floating point.
type PaymentRecord struct {
	PaymentHash string        `json:"paymentHash" db:"payment_hash"`
	MerchantID  string        `json:"merchantId" db:"merchant_id"`
	OrderID     string        `json:"orderId" db:"order_id"`
	ChainID     int64         `json:"chainId" db:"chain_id"`
	Token       TokenInfo     `json:"token" db:"token"`
	AmountWei   string        `json:"amountWei" db:"amount_wei"`
	Recipient   string        `json:"recipient" db:"recipient"`
	FeeBps      uint16        `json:"feeBps" db:"fee_bps"`
	Status      PaymentStatus `json:"status" db:"status"`
	ExpiresAt   time.Time     `json:"expiresAt" db:"expires_at"`
	TxHash      *string       `json:"txHash,omitempty" db:"tx_hash"`
	Payer       *string       `json:"payer,omitempty" db:"payer_address"`
	ConfirmedAt *time.Time    `json:"confirmedAt,omitempty" db:"confirmed_at"`
	CreatedAt   time.Time     `json:"createdAt" db:"created_at"`
}

// Amount returns the stored amount as a big integer.
func (p *PaymentRecord) Amount() (*big.Int, bool) {
	return new(big.Int).SetString(p.AmountWei, 10)
}

// RefundRecord is the ledger's view of a refund. Many-to-one with
// PaymentRecord; at most one CONFIRMED refund per payment.
type RefundRecord struct {
	RefundHash   string       `json:"refundHash" db:"refund_hash"`
	PaymentHash  string       `json:"paymentHash" db:"payment_hash"`
	AmountWei    string       `json:"amountWei" db:"amount_wei"`
	TokenAddress string       `json:"tokenAddress" db:"token_address"`
	Payer        string       `json:"payer" db:"payer_address"`
	Reason       string       `json:"reason,omitempty" db:"reason"`
	Status       RefundStatus `json:"status" db:"status"`
	TxHash       *string      `json:"txHash,omitempty" db:"tx_hash"`
	ErrorMessage *string      `json:"errorMessage,omitempty" db:"error_message"`
	SubmittedAt  *time.Time   `json:"submittedAt,omitempty" db:"submitted_at"`
	ConfirmedAt  *time.Time   `json:"confirmedAt,omitempty" db:"confirmed_at"`
	CreatedAt    time.Time    `json:"createdAt" db:"created_at"`
}

// SettlementResult is the ephemeral ground truth derived from chain state.
// It is never persisted; it is the input to reconciliation.
type SettlementResult struct {
	State     SettlementState `json:"state"`
	Payer     string          `json:"payer,omitempty"`
	Recipient string          `json:"recipient,omitempty"`
	Token     string          `json:"token,omitempty"`
	Amount    *big.Int        `json:"amount,omitempty"`
	Fee       *big.Int        `json:"fee,omitempty"`
	Timestamp time.Time       `json:"timestamp,omitempty"`
	TxHash    string          `json:"txHash,omitempty"`
}

// HistoryEntry is one completed payment recovered from event logs for a
// given payer, enriched with token metadata and a display amount.
type HistoryEntry struct {
	PaymentID     string    `json:"paymentId"`
	MerchantID    string    `json:"merchantId"`
	Payer         string    `json:"payer"`
	Recipient     string    `json:"recipient"`
	TokenAddress  string    `json:"tokenAddress"`
	TokenSymbol   string    `json:"tokenSymbol"`
	TokenDecimals uint8     `json:"tokenDecimals"`
	AmountWei     string    `json:"amountWei"`
	Amount        string    `json:"amount"`
	TxHash        string    `json:"txHash"`
	Timestamp     time.Time `json:"timestamp"`
}
