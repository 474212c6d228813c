package types

import (
	"errors"
	"fmt"
)

// GatewayError carries a machine-readable code alongside the message so
// callers can map failures without string matching.
type GatewayError struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func (e *GatewayError) Error() string {
	return e.Message
}

// Common error codes
const (
	ErrConfig              = "CONFIG_ERROR"
	ErrUnsupportedChain    = "UNSUPPORTED_CHAIN"
	ErrUnsupportedToken    = "UNSUPPORTED_TOKEN"
	ErrPaymentNotFound     = "PAYMENT_NOT_FOUND"
	ErrRefundNotFound      = "REFUND_NOT_FOUND"
	ErrAmountMismatch      = "AMOUNT_MISMATCH"
	ErrDuplicatePayment    = "DUPLICATE_PAYMENT"
	ErrAlreadyRefunded     = "ALREADY_REFUNDED"
	ErrRefundInProgress    = "REFUND_IN_PROGRESS"
	ErrPaymentNotConfirmed = "PAYMENT_NOT_CONFIRMED"
	ErrPayerAddressMissing = "PAYER_ADDRESS_MISSING"
	ErrInvalidIntent       = "INVALID_INTENT"
	ErrRPC                 = "RPC_ERROR"
)

// NewError builds a GatewayError with a formatted message.
func NewError(code, format string, args ...interface{}) *GatewayError {
	return &GatewayError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// AmountMismatchData is attached to AMOUNT_MISMATCH errors so both sides
// of the discrepancy always surface to the caller.
type AmountMismatchData struct {
	DBAmount      string `json:"dbAmount"`
	OnChainAmount string `json:"onChainAmount"`
}

// ErrorCode extracts the gateway error code from err, or "" if err is not
// a GatewayError.
func ErrorCode(err error) string {
	var ge *GatewayError
	if errors.As(err, &ge) {
		return ge.Code
	}
	return ""
}
