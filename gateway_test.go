package gateway

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	coretypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/msqpay/gateway/clients"
	"github.com/msqpay/gateway/ledger"
	"github.com/msqpay/gateway/signer"
	"github.com/msqpay/gateway/types"
	"github.com/msqpay/gateway/webhook"
)

const (
	testSignerKey   = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"
	testGatewayAddr = "0x5FbDB2315678afecb367f032d93F642f64180aa3"
	testTokenAddr   = "0x7ceB23fD6bC0adD59E62ac25578270cFf1b9f619"
	testPayerAddr   = "0x3C44CdDdB6a900fa2b585dd299e03d12FA4293BC"
)

var paymentCompletedID = crypto.Keccak256Hash(
	[]byte("PaymentCompleted(bytes32,bytes32,address,address,address,uint256,uint256,uint256)"))

// fakeRPC serves processedPayments from a set and filters logs by the
// paymentId topic, mimicking a provider closely enough for the engine.
type fakeRPC struct {
	mu        sync.Mutex
	processed map[common.Hash]bool
	logs      []coretypes.Log
	block     uint64
}

func newFakeRPC() *fakeRPC {
	return &fakeRPC{processed: make(map[common.Hash]bool), block: 50_000}
}

func (f *fakeRPC) settle(paymentID common.Hash, amount *big.Int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.processed[paymentID] = true

	var data []byte
	data = append(data, common.LeftPadBytes(common.HexToAddress("0x70997970C51812dc3A010C7d01b50e0d17dc79C8").Bytes(), 32)...)
	data = append(data, common.LeftPadBytes(common.HexToAddress(testTokenAddr).Bytes(), 32)...)
	data = append(data, common.LeftPadBytes(amount.Bytes(), 32)...)
	data = append(data, common.LeftPadBytes(big.NewInt(1000).Bytes(), 32)...)
	data = append(data, common.LeftPadBytes(big.NewInt(1726000000).Bytes(), 32)...)

	f.logs = append(f.logs, coretypes.Log{
		Address: common.HexToAddress(testGatewayAddr),
		Topics: []common.Hash{
			paymentCompletedID,
			paymentID,
			crypto.Keccak256Hash([]byte("merchant")),
			common.HexToHash("0x0000000000000000000000003C44CdDdB6a900fa2b585dd299e03d12FA4293BC"),
		},
		Data:   data,
		TxHash: common.HexToHash("0xfeedbeef"),
	})
}

func (f *fakeRPC) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if len(msg.Data) < 36 {
		return nil, errors.New("short calldata")
	}
	paymentID := common.BytesToHash(msg.Data[4:36])

	out := make([]byte, 32)
	if f.processed[paymentID] {
		out[31] = 1
	}
	return out, nil
}

func (f *fakeRPC) FilterLogs(_ context.Context, q ethereum.FilterQuery) ([]coretypes.Log, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var matched []coretypes.Log
	for _, lg := range f.logs {
		if len(q.Topics) > 1 && len(q.Topics[1]) > 0 && q.Topics[1][0] != lg.Topics[1] {
			continue
		}
		matched = append(matched, lg)
	}
	return matched, nil
}

func (f *fakeRPC) BlockNumber(context.Context) (uint64, error) { return f.block, nil }
func (f *fakeRPC) HeaderByNumber(context.Context, *big.Int) (*coretypes.Header, error) {
	return nil, errors.New("not wired")
}
func (f *fakeRPC) HeaderByHash(context.Context, common.Hash) (*coretypes.Header, error) {
	return &coretypes.Header{Time: 1726000000}, nil
}
func (f *fakeRPC) TransactionReceipt(context.Context, common.Hash) (*coretypes.Receipt, error) {
	return nil, errors.New("not wired")
}
func (f *fakeRPC) BalanceAt(context.Context, common.Address, *big.Int) (*big.Int, error) {
	return nil, errors.New("not wired")
}
func (f *fakeRPC) SuggestGasPrice(context.Context) (*big.Int, error) {
	return nil, errors.New("not wired")
}
func (f *fakeRPC) SendTransaction(context.Context, *coretypes.Transaction) error {
	return errors.New("not wired")
}
func (f *fakeRPC) Close() {}

type recordingQueue struct {
	mu      sync.Mutex
	signals []webhook.Signal
}

func (q *recordingQueue) Enqueue(_ string, signal webhook.Signal) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.signals = append(q.signals, signal)
}

func (q *recordingQueue) Close() {}

func (q *recordingQueue) count() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.signals)
}

func testConfig() *types.GatewayConfig {
	return &types.GatewayConfig{
		SignerKey: testSignerKey,
		Chains: []types.ChainDefinition{{
			ChainID:          137,
			Name:             "polygon",
			RPCEndpoint:      "http://localhost:8545",
			GatewayAddress:   testGatewayAddr,
			ForwarderAddress: "0xe7f1725E7734CE288F8367e1Bb143E90bb3F0512",
			Tokens: []types.TokenInfo{
				{Symbol: "WETH", Address: testTokenAddr, Decimals: 18},
			},
		}},
	}
}

func newTestGateway(t *testing.T) (*Gateway, *fakeRPC, *recordingQueue) {
	t.Helper()
	rpc := newFakeRPC()
	queue := &recordingQueue{}

	g, err := New(testConfig(),
		WithDialer(func(string) (clients.RPC, error) { return rpc, nil }),
		WithQueue(queue),
	)
	require.NoError(t, err)
	t.Cleanup(g.Close)
	return g, rpc, queue
}

func wethIntent(amountWei string) *types.CreatePaymentIntent {
	return &types.CreatePaymentIntent{
		MerchantKey: "merchant-secret",
		OrderID:     "order-1",
		ChainID:     137,
		TokenSymbol: "WETH",
		AmountWei:   amountWei,
		Recipient:   "0x70997970C51812dc3A010C7d01b50e0d17dc79C8",
		FeeBps:      100,
	}
}

func TestNewConfigValidation(t *testing.T) {
	_, err := New(nil)
	require.Error(t, err)
	assert.Equal(t, types.ErrConfig, types.ErrorCode(err))

	cfg := testConfig()
	cfg.SignerKey = ""
	_, err = New(cfg)
	require.Error(t, err)
	assert.Equal(t, types.ErrConfig, types.ErrorCode(err))

	cfg = testConfig()
	cfg.Chains = nil
	_, err = New(cfg)
	require.Error(t, err)
	assert.Equal(t, types.ErrConfig, types.ErrorCode(err))
}

func TestCreatePaymentSignsAuthorization(t *testing.T) {
	g, _, _ := newTestGateway(t)

	auth, err := g.CreatePayment(context.Background(), wethIntent("100000000000000000000"))
	require.NoError(t, err)

	assert.Equal(t, types.PaymentCreated, auth.Record.Status)
	assert.Equal(t, common.HexToAddress(testGatewayAddr).Hex(), auth.GatewayAddress)

	// the signature must verify against the exact recorded parameters
	s, err := signer.New(testSignerKey, 137, testGatewayAddr)
	require.NoError(t, err)

	amount, ok := auth.Record.Amount()
	require.True(t, ok)
	digest := s.PaymentRequestDigest(
		common.HexToHash(auth.Record.PaymentHash),
		common.HexToAddress(auth.Record.Token.Address),
		amount,
		common.HexToAddress(auth.Record.Recipient),
		common.HexToHash(auth.Record.MerchantID),
		auth.Record.FeeBps,
	)
	recovered, err := signer.RecoverSigner(digest, auth.Signature)
	require.NoError(t, err)
	assert.Equal(t, auth.SignerAddress, recovered.Hex())
}

func TestCreatePaymentRejectsBadRecipient(t *testing.T) {
	g, _, _ := newTestGateway(t)

	intent := wethIntent("1")
	intent.Recipient = "not-an-address"
	_, err := g.CreatePayment(context.Background(), intent)
	require.Error(t, err)
	assert.Equal(t, types.ErrInvalidIntent, types.ErrorCode(err))
}

func TestStatusLifecycle(t *testing.T) {
	g, rpc, queue := newTestGateway(t)
	ctx := context.Background()

	auth, err := g.CreatePayment(ctx, wethIntent("100000000000000000000"))
	require.NoError(t, err)

	// nothing settled yet
	view, err := g.GetStatus(ctx, auth.Record.PaymentHash)
	require.NoError(t, err)
	assert.Equal(t, types.PaymentCreated, view.Record.Status)
	assert.Equal(t, types.SettlementPending, view.Settlement.State)
	assert.Zero(t, queue.count())

	// settle on chain with the exact amount
	amount, _ := auth.Record.Amount()
	rpc.settle(common.HexToHash(auth.Record.PaymentHash), amount)

	view, err = g.GetStatus(ctx, auth.Record.PaymentHash)
	require.NoError(t, err)
	assert.Equal(t, types.PaymentConfirmed, view.Record.Status)
	assert.Equal(t, types.SettlementCompleted, view.Settlement.State)
	assert.Equal(t, 1, queue.count())

	// polling again stays confirmed and never re-fires the webhook
	view, err = g.GetStatus(ctx, auth.Record.PaymentHash)
	require.NoError(t, err)
	assert.Equal(t, types.PaymentConfirmed, view.Record.Status)
	assert.Equal(t, 1, queue.count())

	// audit trail captured both transitions
	events, err := g.AuditTrail(ctx, auth.Record.PaymentHash)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, types.AuditPaymentCreated, events[0].Type)
	assert.Equal(t, types.AuditPaymentConfirmed, events[1].Type)
}

func TestStatusAmountMismatch(t *testing.T) {
	g, rpc, queue := newTestGateway(t)
	ctx := context.Background()

	// intent for 100 WETH, chain reports 99
	auth, err := g.CreatePayment(ctx, wethIntent("100000000000000000000"))
	require.NoError(t, err)

	onChain, _ := new(big.Int).SetString("99000000000000000000", 10)
	rpc.settle(common.HexToHash(auth.Record.PaymentHash), onChain)

	_, err = g.GetStatus(ctx, auth.Record.PaymentHash)
	require.Error(t, err)
	assert.Equal(t, types.ErrAmountMismatch, types.ErrorCode(err))
	assert.Zero(t, queue.count())

	var ge *types.GatewayError
	require.ErrorAs(t, err, &ge)
	data, ok := ge.Data.(types.AmountMismatchData)
	require.True(t, ok)
	assert.Equal(t, "100000000000000000000", data.DBAmount)
	assert.Equal(t, "99000000000000000000", data.OnChainAmount)

	// the discrepancy is never auto-resolved; repeat polls keep failing
	_, err = g.GetStatus(ctx, auth.Record.PaymentHash)
	require.Error(t, err)
	assert.Equal(t, types.ErrAmountMismatch, types.ErrorCode(err))
}

func TestRefundLifecycle(t *testing.T) {
	g, rpc, _ := newTestGateway(t)
	ctx := context.Background()

	auth, err := g.CreatePayment(ctx, wethIntent("100000000000000000000"))
	require.NoError(t, err)

	// refunds require a confirmed payment
	_, err = g.CreateRefund(ctx, auth.Record.PaymentHash, "changed mind")
	require.Error(t, err)
	assert.Equal(t, types.ErrPaymentNotConfirmed, types.ErrorCode(err))

	amount, _ := auth.Record.Amount()
	rpc.settle(common.HexToHash(auth.Record.PaymentHash), amount)
	_, err = g.GetStatus(ctx, auth.Record.PaymentHash)
	require.NoError(t, err)

	refund, err := g.CreateRefund(ctx, auth.Record.PaymentHash, "changed mind")
	require.NoError(t, err)
	assert.Equal(t, types.RefundPending, refund.Record.Status)
	assert.Equal(t, auth.Record.AmountWei, refund.Record.AmountWei)
	assert.Equal(t, common.HexToAddress(testPayerAddr).Hex(), refund.Record.Payer)

	// the refund signature verifies against the recorded payer and amount
	s, err := signer.New(testSignerKey, 137, testGatewayAddr)
	require.NoError(t, err)
	digest := s.RefundRequestDigest(
		common.HexToHash(auth.Record.PaymentHash),
		common.HexToAddress(refund.Record.TokenAddress),
		amount,
		common.HexToAddress(refund.Record.Payer),
		common.HexToHash(auth.Record.MerchantID),
	)
	recovered, err := signer.RecoverSigner(digest, refund.Signature)
	require.NoError(t, err)
	assert.Equal(t, refund.SignerAddress, recovered.Hex())

	// only one refund may be in flight
	_, err = g.CreateRefund(ctx, auth.Record.PaymentHash, "again")
	require.Error(t, err)
	assert.Equal(t, types.ErrRefundInProgress, types.ErrorCode(err))

	// walk the refund to confirmed through the external submitter API
	_, err = g.UpdateRefund(ctx, refund.Record.RefundHash, types.RefundSubmitted, ledger.RefundUpdate{TxHash: "0xrefundtx"})
	require.NoError(t, err)
	final, err := g.UpdateRefund(ctx, refund.Record.RefundHash, types.RefundConfirmed, ledger.RefundUpdate{})
	require.NoError(t, err)
	assert.Equal(t, types.RefundConfirmed, final.Status)

	_, err = g.CreateRefund(ctx, auth.Record.PaymentHash, "third")
	require.Error(t, err)
	assert.Equal(t, types.ErrAlreadyRefunded, types.ErrorCode(err))
}

func TestPaymentHistory(t *testing.T) {
	g, rpc, _ := newTestGateway(t)
	ctx := context.Background()

	auth, err := g.CreatePayment(ctx, wethIntent("100000000000000000000"))
	require.NoError(t, err)

	amount, _ := auth.Record.Amount()
	rpc.settle(common.HexToHash(auth.Record.PaymentHash), amount)

	entries, err := g.PaymentHistory(ctx, 137, testPayerAddr, 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, auth.Record.PaymentHash, entries[0].PaymentID)
	assert.Equal(t, "WETH", entries[0].TokenSymbol)
	assert.Equal(t, "100", entries[0].Amount)

	_, err = g.PaymentHistory(ctx, 137, "junk", 0)
	require.Error(t, err)
	assert.Equal(t, types.ErrInvalidIntent, types.ErrorCode(err))
}

func TestSupportedChains(t *testing.T) {
	g, _, _ := newTestGateway(t)
	assert.Equal(t, []int64{137}, g.SupportedChains())
}
