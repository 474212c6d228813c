package types

import "time"

// DefaultScanWindow bounds how many recent blocks a settlement scan may
// cover. A settlement event older than the window is reported pending
// until the window slides forward.
const DefaultScanWindow uint64 = 10_000

// DefaultPaymentTTL is the fixed expiry applied to new payment intents.
const DefaultPaymentTTL = 30 * time.Minute

// ChainDefinition describes one EVM-compatible chain as supplied at
// startup. Definitions missing either contract address are skipped
// during registry construction, not rejected.
type ChainDefinition struct {
	ChainID          int64       `json:"chainId" validate:"required,gt=0"`
	Name             string      `json:"name" validate:"required"`
	RPCEndpoint      string      `json:"rpcEndpoint" validate:"required,url"`
	GatewayAddress   string      `json:"gatewayAddress"`
	ForwarderAddress string      `json:"forwarderAddress"`
	Tokens           []TokenInfo `json:"tokens" validate:"dive"`
	ScanWindow       uint64      `json:"scanWindow,omitempty"`
}

// GatewayConfig is the top-level configuration for the engine.
type GatewayConfig struct {
	Chains []ChainDefinition `json:"chains" validate:"required,min=1,dive"`

	// SignerKey is the hex-encoded 32-byte authorization signing key.
	SignerKey string `json:"signerKey" validate:"required"`

	// WebhookURL receives payment-confirmed notifications. Delivery
	// transport is external; this core only enqueues.
	WebhookURL string `json:"webhookUrl,omitempty"`

	// RPCTimeout bounds every single-shot chain read.
	RPCTimeout time.Duration `json:"rpcTimeout,omitempty"`

	LogLevel string `json:"logLevel,omitempty"`
}

// CreatePaymentIntent is the caller-supplied request for a new payment.
type CreatePaymentIntent struct {
	MerchantKey string `json:"merchantKey" validate:"required"`
	OrderID     string `json:"orderId" validate:"required"`
	ChainID     int64  `json:"chainId" validate:"required,gt=0"`
	TokenSymbol string `json:"tokenSymbol" validate:"required"`
	AmountWei   string `json:"amountWei" validate:"required"`
	Recipient   string `json:"recipient" validate:"required"`
	FeeBps      uint16 `json:"feeBps" validate:"lte=10000"`
}
