// Package gateway is the embeddable payment settlement and authorization
// engine: it signs EIP-712 payment and refund authorizations, observes
// settlement from chain state, and reconciles both into idempotent
// payment and refund ledgers.
package gateway

import (
	"context"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-playground/validator/v10"

	"github.com/msqpay/gateway/ledger"
	"github.com/msqpay/gateway/logger"
	"github.com/msqpay/gateway/metrics"
	"github.com/msqpay/gateway/reconcile"
	"github.com/msqpay/gateway/registry"
	"github.com/msqpay/gateway/settlement"
	"github.com/msqpay/gateway/signer"
	"github.com/msqpay/gateway/types"
	"github.com/msqpay/gateway/utils"
	"github.com/msqpay/gateway/webhook"
)

var validate = validator.New()

// Gateway wires the engine together. Construct with New, share freely
// across goroutines, and Close when done.
type Gateway struct {
	cfg *types.GatewayConfig

	reg        *registry.Registry
	signers    map[int64]*signer.AuthorizationSigner
	payments   *ledger.PaymentLedger
	refunds    *ledger.RefundLedger
	observer   *settlement.Observer
	reconciler *reconcile.Service

	store ledger.Store
	queue webhook.Queue
	log   logger.Logger
	rec   metrics.Recorder
	dial  registry.Dialer

	ownsQueue bool
}

// New validates the configuration, dials every configured chain, and
// builds one authorization signer per chain. Chains whose definitions
// are unusable are skipped with a warning rather than failing startup.
func New(cfg *types.GatewayConfig, opts ...Option) (*Gateway, error) {
	if cfg == nil {
		return nil, types.NewError(types.ErrConfig, "config is required")
	}
	if err := validate.Struct(cfg); err != nil {
		return nil, types.NewError(types.ErrConfig, "invalid config: %v", err)
	}

	g := &Gateway{
		cfg: cfg,
		rec: metrics.NoopRecorder{},
	}
	for _, opt := range opts {
		opt(g)
	}

	if g.log == nil {
		if cfg.LogLevel != "" {
			g.log = logger.NewZapLogger(cfg.LogLevel)
		} else {
			g.log = logger.NoopLogger{}
		}
	}

	regOpts := []registry.Option{registry.WithLogger(g.log)}
	if g.dial != nil {
		regOpts = append(regOpts, registry.WithDialer(g.dial))
	}
	reg, err := registry.New(cfg.Chains, regOpts...)
	if err != nil {
		return nil, err
	}
	g.reg = reg

	g.signers = make(map[int64]*signer.AuthorizationSigner)
	for _, chainID := range reg.Chains() {
		chain, _ := reg.Chain(chainID)
		s, err := signer.New(cfg.SignerKey, chainID, chain.Definition.GatewayAddress)
		if err != nil {
			reg.Close()
			return nil, err
		}
		g.signers[chainID] = s
	}

	if g.store == nil {
		g.store = ledger.NewMemoryStore()
	}
	if g.queue == nil {
		if cfg.WebhookURL != "" {
			g.queue = webhook.NewOutbox(g.log, g.rec)
			g.ownsQueue = true
		} else {
			g.queue = webhook.NoopQueue{}
		}
	}

	g.payments = ledger.NewPaymentLedger(g.store, reg, g.log)
	g.refunds = ledger.NewRefundLedger(g.store, g.log)
	g.observer = settlement.NewObserver(reg, g.log, g.rec, cfg.RPCTimeout)
	g.reconciler = reconcile.NewService(g.observer, g.payments, reg, g.queue, cfg.WebhookURL, g.log)

	g.log.Info("gateway initialized", map[string]any{
		"chains": len(g.signers),
	})

	return g, nil
}

// PaymentAuthorization is the result of creating a payment: the ledger
// record plus everything a payer-side caller needs to execute it.
type PaymentAuthorization struct {
	Record         *types.PaymentRecord `json:"record"`
	Signature      string               `json:"signature"`
	SignerAddress  string               `json:"signerAddress"`
	GatewayAddress string               `json:"gatewayAddress"`
}

// CreatePayment records a payment intent and signs its authorization.
// Duplicate active orders for the same merchant are rejected.
func (g *Gateway) CreatePayment(ctx context.Context, intent *types.CreatePaymentIntent) (*PaymentAuthorization, error) {
	if intent != nil && !utils.ValidateAddress(intent.Recipient) {
		return nil, types.NewError(types.ErrInvalidIntent, "recipient %q is not a 20-byte address", intent.Recipient)
	}

	record, err := g.payments.Create(ctx, intent)
	if err != nil {
		return nil, err
	}

	s := g.signers[record.ChainID]
	amount, _ := record.Amount()

	sig, err := s.SignPaymentRequest(
		common.HexToHash(record.PaymentHash),
		common.HexToAddress(record.Token.Address),
		amount,
		common.HexToAddress(record.Recipient),
		common.HexToHash(record.MerchantID),
		record.FeeBps,
	)
	if err != nil {
		return nil, err
	}

	g.rec.IncCounter("payment_created", map[string]string{"chain_id": strconv.FormatInt(record.ChainID, 10)})

	gatewayAddr, _, err := g.reg.Contracts(record.ChainID)
	if err != nil {
		return nil, err
	}

	return &PaymentAuthorization{
		Record:         record,
		Signature:      sig,
		SignerAddress:  s.SignerAddress().Hex(),
		GatewayAddress: gatewayAddr.Hex(),
	}, nil
}

// GetStatus reconciles the payment against observed chain state and
// returns the resulting view. RPC failures degrade to pending.
func (g *Gateway) GetStatus(ctx context.Context, paymentHash string) (*reconcile.StatusView, error) {
	return g.reconciler.GetStatus(ctx, paymentHash)
}

// RefundAuthorization is the result of creating a refund: the ledger
// record plus the signed authorization returning funds to the payer.
type RefundAuthorization struct {
	Record        *types.RefundRecord `json:"record"`
	Signature     string              `json:"signature"`
	SignerAddress string              `json:"signerAddress"`
}

// CreateRefund records a PENDING refund for a confirmed payment and signs
// its authorization. The refund always returns the full recorded amount
// to the recorded payer; neither is caller-controlled.
func (g *Gateway) CreateRefund(ctx context.Context, paymentHash, reason string) (*RefundAuthorization, error) {
	record, payment, err := g.refunds.Create(ctx, paymentHash, reason)
	if err != nil {
		return nil, err
	}

	s, ok := g.signers[payment.ChainID]
	if !ok {
		return nil, types.NewError(types.ErrUnsupportedChain, "chain %d is not supported", payment.ChainID)
	}

	amount, _ := payment.Amount()

	sig, err := s.SignRefundRequest(
		common.HexToHash(payment.PaymentHash),
		common.HexToAddress(record.TokenAddress),
		amount,
		common.HexToAddress(record.Payer),
		common.HexToHash(payment.MerchantID),
	)
	if err != nil {
		return nil, err
	}

	g.rec.IncCounter("refund_created", map[string]string{"chain_id": strconv.FormatInt(payment.ChainID, 10)})

	return &RefundAuthorization{
		Record:        record,
		Signature:     sig,
		SignerAddress: s.SignerAddress().Hex(),
	}, nil
}

// GetRefund returns a refund record.
func (g *Gateway) GetRefund(ctx context.Context, refundHash string) (*types.RefundRecord, error) {
	return g.refunds.Get(ctx, refundHash)
}

// UpdateRefund applies one refund state transition, reported by whatever
// external process submitted the refund transaction.
func (g *Gateway) UpdateRefund(ctx context.Context, refundHash string, status types.RefundStatus, update ledger.RefundUpdate) (*types.RefundRecord, error) {
	return g.refunds.UpdateStatus(ctx, refundHash, status, update)
}

// PaymentHistory lists a payer's completed payments recovered from the
// chain's recent event logs, newest first. window of 0 uses the chain's
// configured scan window.
func (g *Gateway) PaymentHistory(ctx context.Context, chainID int64, payerAddress string, window uint64) ([]types.HistoryEntry, error) {
	if !utils.ValidateAddress(payerAddress) {
		return nil, types.NewError(types.ErrInvalidIntent, "payer %q is not a 20-byte address", payerAddress)
	}
	return g.observer.GetHistory(ctx, chainID, common.HexToAddress(payerAddress), window)
}

// AuditTrail returns the append-only audit events for a payment or
// refund hash, in insertion order.
func (g *Gateway) AuditTrail(ctx context.Context, entityID string) ([]types.AuditEvent, error) {
	return g.store.AuditEvents(ctx, entityID)
}

// WebhookDeliveries exposes the consumer side of the default outbox so
// an external transport can drain and deliver notifications. Returns nil
// when a custom queue was injected or no webhook URL is configured.
func (g *Gateway) WebhookDeliveries() <-chan webhook.Delivery {
	if outbox, ok := g.queue.(*webhook.Outbox); ok {
		return outbox.Deliveries()
	}
	return nil
}

// SupportedChains lists the chain ids that were registered at startup.
func (g *Gateway) SupportedChains() []int64 {
	return g.reg.Chains()
}

// Close releases RPC connections and drains the webhook queue.
func (g *Gateway) Close() {
	if g.ownsQueue {
		g.queue.Close()
	}
	g.reg.Close()
}
