// Package reconcile merges chain-observed settlement truth into the
// payment ledger and emits the confirmation webhook exactly once per
// payment.
package reconcile

import (
	"context"

	"github.com/ethereum/go-ethereum/common"

	"github.com/msqpay/gateway/ledger"
	"github.com/msqpay/gateway/logger"
	"github.com/msqpay/gateway/registry"
	"github.com/msqpay/gateway/settlement"
	"github.com/msqpay/gateway/types"
	"github.com/msqpay/gateway/webhook"
)

// StatusView is the reconciled answer to a status poll: the stored
// record after any transition, plus the raw settlement observation that
// drove it.
type StatusView struct {
	Record     *types.PaymentRecord    `json:"record"`
	Settlement *types.SettlementResult `json:"settlement"`
}

// Service drives the poll-reconcile-notify loop for one status query.
type Service struct {
	observer   *settlement.Observer
	payments   *ledger.PaymentLedger
	reg        *registry.Registry
	queue      webhook.Queue
	webhookURL string
	log        logger.Logger
}

func NewService(
	observer *settlement.Observer,
	payments *ledger.PaymentLedger,
	reg *registry.Registry,
	queue webhook.Queue,
	webhookURL string,
	log logger.Logger,
) *Service {
	return &Service{
		observer:   observer,
		payments:   payments,
		reg:        reg,
		queue:      queue,
		webhookURL: webhookURL,
		log:        log,
	}
}

// GetStatus loads the payment, observes chain settlement, and reconciles
// the two. The record is loaded without resolving lazy expiry: expiry is
// applied by the reconcile pass only after the chain reported pending,
// so a settlement observed past the stored expiry still confirms.
// Already-terminal records short-circuit without a chain read. The
// webhook signal fires only on the call that performed the CONFIRMED
// transition; repeat polls of a confirmed payment are silent.
func (s *Service) GetStatus(ctx context.Context, paymentHash string) (*StatusView, error) {
	record, err := s.payments.Load(ctx, paymentHash)
	if err != nil {
		return nil, err
	}

	if !s.reg.IsSupported(record.ChainID) {
		s.log.Warn("payment references unsupported chain", map[string]any{
			"payment_hash": paymentHash,
			"chain_id":     record.ChainID,
		})
		return nil, types.NewError(types.ErrUnsupportedChain, "chain %d is not supported", record.ChainID)
	}

	if record.Status.IsTerminal() {
		return &StatusView{
			Record:     record,
			Settlement: s.settledView(record),
		}, nil
	}

	observed := s.observer.GetStatus(ctx, record.ChainID, common.HexToHash(paymentHash))

	outcome, err := s.payments.Reconcile(ctx, paymentHash, observed)
	if err != nil {
		return nil, err
	}

	if outcome.WebhookDue {
		s.queue.Enqueue(s.webhookURL, webhook.NewConfirmationSignal(outcome.Record))
	}

	return &StatusView{Record: outcome.Record, Settlement: observed}, nil
}

// settledView rebuilds a settlement result from a terminal record so
// repeat polls stay consistent without re-reading the chain.
func (s *Service) settledView(record *types.PaymentRecord) *types.SettlementResult {
	if record.Status != types.PaymentConfirmed {
		return &types.SettlementResult{State: types.SettlementPending}
	}

	result := &types.SettlementResult{State: types.SettlementCompleted}
	if record.TxHash != nil {
		result.TxHash = *record.TxHash
	}
	if record.Payer != nil {
		result.Payer = *record.Payer
	}
	if record.ConfirmedAt != nil {
		result.Timestamp = *record.ConfirmedAt
	}
	if amount, ok := record.Amount(); ok {
		result.Amount = amount
	}
	return result
}
