// Package settlement derives ground-truth settlement status from chain
// state: the gateway's processedPayments flag plus a bounded scan of
// recent PaymentCompleted event logs.
package settlement

import (
	"context"
	"sort"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/msqpay/gateway/clients"
	"github.com/msqpay/gateway/logger"
	"github.com/msqpay/gateway/metrics"
	"github.com/msqpay/gateway/registry"
	"github.com/msqpay/gateway/types"
	"github.com/msqpay/gateway/utils"
)

// DefaultRPCTimeout bounds each single-shot chain read.
const DefaultRPCTimeout = 30 * time.Second

// Observer answers "has this payment settled?" from chain state alone.
type Observer struct {
	reg     *registry.Registry
	log     logger.Logger
	rec     metrics.Recorder
	timeout time.Duration
}

func NewObserver(reg *registry.Registry, log logger.Logger, rec metrics.Recorder, timeout time.Duration) *Observer {
	if timeout <= 0 {
		timeout = DefaultRPCTimeout
	}
	return &Observer{
		reg:     reg,
		log:     log,
		rec:     rec,
		timeout: timeout,
	}
}

// GetStatus reads the processedPayments flag and, if set, scans the
// bounded recent block window for the matching PaymentCompleted event.
//
// Every degradation path returns pending rather than failed: an RPC
// error or a bounded-window miss must never produce a false negative
// that a caller's retry loop cannot recover from. Errors are logged,
// never returned, from this operation.
func (o *Observer) GetStatus(ctx context.Context, chainID int64, paymentID [32]byte) *types.SettlementResult {
	pending := &types.SettlementResult{State: types.SettlementPending}

	chain, err := o.reg.Chain(chainID)
	if err != nil {
		o.warnRPC(chainID, "chain lookup failed", err)
		return pending
	}

	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	started := time.Now()
	defer func() {
		o.rec.ObserveLatency("settlement_status", time.Since(started), chainLabel(chainID))
	}()

	processed, err := chain.Gateway.ProcessedPayments(ctx, paymentID)
	if err != nil {
		o.warnRPC(chainID, "processedPayments read failed", err)
		return pending
	}
	if !processed {
		return pending
	}

	latest, err := chain.RPC.BlockNumber(ctx)
	if err != nil {
		o.warnRPC(chainID, "block number read failed", err)
		return pending
	}

	fromBlock := uint64(0)
	if window := chain.ScanWindow(); latest > window {
		fromBlock = latest - window
	}

	events, err := chain.Gateway.FilterPaymentCompleted(ctx, fromBlock, latest, clients.EventFilter{
		PaymentID: &paymentID,
	})
	if err != nil {
		o.warnRPC(chainID, "PaymentCompleted scan failed", err)
		return pending
	}

	if len(events) == 0 {
		// processed flag is set but the event is outside the scan
		// window; report pending until the window slides forward
		o.rec.IncCounter("bounded_window_miss", chainLabel(chainID))
		o.log.Debug("settled payment outside scan window", map[string]any{
			"chain_id":   chainID,
			"from_block": fromBlock,
			"to_block":   latest,
		})
		return pending
	}

	event := events[len(events)-1]
	return &types.SettlementResult{
		State:     types.SettlementCompleted,
		Payer:     event.Payer.Hex(),
		Recipient: event.Recipient.Hex(),
		Token:     event.Token.Hex(),
		Amount:    event.Amount,
		Fee:       event.Fee,
		Timestamp: time.Unix(event.Timestamp.Int64(), 0).UTC(),
		TxHash:    event.Raw.TxHash.Hex(),
	}
}

// GetHistory fetches the completed payments of one payer within the
// scan window, newest first. Unlike GetStatus this is a best-effort
// reporting feature, not a polling primitive, so RPC failures propagate.
func (o *Observer) GetHistory(ctx context.Context, chainID int64, payer common.Address, window uint64) ([]types.HistoryEntry, error) {
	chain, err := o.reg.Chain(chainID)
	if err != nil {
		return nil, err
	}
	if window == 0 {
		window = chain.ScanWindow()
	}

	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	started := time.Now()
	defer func() {
		o.rec.ObserveLatency("settlement_history", time.Since(started), chainLabel(chainID))
	}()

	latest, err := chain.RPC.BlockNumber(ctx)
	if err != nil {
		return nil, types.NewError(types.ErrRPC, "block number read failed on chain %d: %v", chainID, err)
	}

	fromBlock := uint64(0)
	if latest > window {
		fromBlock = latest - window
	}

	events, err := chain.Gateway.FilterPaymentCompleted(ctx, fromBlock, latest, clients.EventFilter{
		Payer: &payer,
	})
	if err != nil {
		return nil, types.NewError(types.ErrRPC, "PaymentCompleted scan failed on chain %d: %v", chainID, err)
	}

	entries := make([]types.HistoryEntry, 0, len(events))
	for _, event := range events {
		timestamp, err := o.blockTime(ctx, chain, event.Raw.BlockHash)
		if err != nil {
			return nil, err
		}

		token, err := o.resolveToken(ctx, chain, event.Token)
		if err != nil {
			return nil, err
		}

		entries = append(entries, types.HistoryEntry{
			PaymentID:     common.BytesToHash(event.PaymentID[:]).Hex(),
			MerchantID:    common.BytesToHash(event.MerchantID[:]).Hex(),
			Payer:         event.Payer.Hex(),
			Recipient:     event.Recipient.Hex(),
			TokenAddress:  event.Token.Hex(),
			TokenSymbol:   token.Symbol,
			TokenDecimals: token.Decimals,
			AmountWei:     event.Amount.String(),
			Amount:        utils.FormatUnits(event.Amount, token.Decimals),
			TxHash:        event.Raw.TxHash.Hex(),
			Timestamp:     timestamp,
		})
	}

	// newest first; log order already breaks ties within a block
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Timestamp.After(entries[j].Timestamp)
	})

	return entries, nil
}

func (o *Observer) blockTime(ctx context.Context, chain *registry.Chain, blockHash common.Hash) (time.Time, error) {
	header, err := chain.RPC.HeaderByHash(ctx, blockHash)
	if err != nil {
		return time.Time{}, types.NewError(types.ErrRPC, "block header read failed: %v", err)
	}
	return time.Unix(int64(header.Time), 0).UTC(), nil
}

// resolveToken prefers the registry's static table and falls back to
// on-chain metadata reads for tokens the table does not know.
func (o *Observer) resolveToken(ctx context.Context, chain *registry.Chain, address common.Address) (types.TokenInfo, error) {
	if token, err := o.reg.TokenByAddress(chain.Definition.ChainID, address.Hex()); err == nil {
		return token, nil
	}

	erc20, err := clients.NewERC20(chain.RPC, address)
	if err != nil {
		return types.TokenInfo{}, err
	}

	symbol, err := erc20.Symbol(ctx)
	if err != nil {
		return types.TokenInfo{}, types.NewError(types.ErrRPC, "token symbol read failed: %v", err)
	}
	decimals, err := erc20.Decimals(ctx)
	if err != nil {
		return types.TokenInfo{}, types.NewError(types.ErrRPC, "token decimals read failed: %v", err)
	}

	return types.TokenInfo{
		Symbol:   symbol,
		Address:  address.Hex(),
		Decimals: decimals,
	}, nil
}

func (o *Observer) warnRPC(chainID int64, msg string, err error) {
	o.rec.IncCounter("rpc_error", chainLabel(chainID))
	o.log.Warn(msg, map[string]any{
		"chain_id": chainID,
		"error":    err.Error(),
	})
}

func chainLabel(chainID int64) map[string]string {
	return map[string]string{"chain_id": strconv.FormatInt(chainID, 10)}
}
