package signer

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/msqpay/gateway/types"
)

const (
	testKey     = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"
	testGateway = "0x5FbDB2315678afecb367f032d93F642f64180aa3"
)

func newTestSigner(t *testing.T) *AuthorizationSigner {
	t.Helper()
	s, err := New(testKey, 1, testGateway)
	require.NoError(t, err)
	return s
}

func TestNewValidation(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		chainID int64
		gateway string
	}{
		{"bad hex key", "zznotakey", 1, testGateway},
		{"short key", "abcd", 1, testGateway},
		{"zero chain id", testKey, 0, testGateway},
		{"negative chain id", testKey, -5, testGateway},
		{"bad gateway address", testKey, 1, "not-an-address"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.key, tt.chainID, tt.gateway)
			require.Error(t, err)
			assert.Equal(t, types.ErrConfig, types.ErrorCode(err))
		})
	}
}

func TestNewAcceptsHexPrefix(t *testing.T) {
	bare, err := New(testKey, 1, testGateway)
	require.NoError(t, err)

	prefixed, err := New("0x"+testKey, 1, testGateway)
	require.NoError(t, err)

	assert.Equal(t, bare.SignerAddress(), prefixed.SignerAddress())
}

func TestSignPaymentRequestDeterministic(t *testing.T) {
	s := newTestSigner(t)

	paymentID := common.HexToHash("0x01")
	merchantID := MerchantKeyToID("merchant-key")
	token := common.HexToAddress("0x1111111111111111111111111111111111111111")
	recipient := common.HexToAddress("0x2222222222222222222222222222222222222222")
	amount := big.NewInt(1_000_000)

	sig1, err := s.SignPaymentRequest(paymentID, token, amount, recipient, merchantID, 250)
	require.NoError(t, err)
	sig2, err := s.SignPaymentRequest(paymentID, token, amount, recipient, merchantID, 250)
	require.NoError(t, err)

	assert.Equal(t, sig1, sig2)

	raw, err := hexutil.Decode(sig1)
	require.NoError(t, err)
	require.Len(t, raw, 65)
	assert.Contains(t, []byte{27, 28}, raw[64])
}

func TestPaymentDigestFieldSensitivity(t *testing.T) {
	s := newTestSigner(t)

	paymentID := common.HexToHash("0x01")
	merchantID := MerchantKeyToID("merchant-key")
	token := common.HexToAddress("0x1111111111111111111111111111111111111111")
	recipient := common.HexToAddress("0x2222222222222222222222222222222222222222")
	amount := big.NewInt(1_000_000)

	base := s.PaymentRequestDigest(paymentID, token, amount, recipient, merchantID, 250)

	tests := []struct {
		name   string
		digest common.Hash
	}{
		{"payment id", s.PaymentRequestDigest(common.HexToHash("0x02"), token, amount, recipient, merchantID, 250)},
		{"token", s.PaymentRequestDigest(paymentID, recipient, amount, recipient, merchantID, 250)},
		{"amount", s.PaymentRequestDigest(paymentID, token, big.NewInt(1_000_001), recipient, merchantID, 250)},
		{"recipient", s.PaymentRequestDigest(paymentID, token, amount, token, merchantID, 250)},
		{"merchant id", s.PaymentRequestDigest(paymentID, token, amount, recipient, MerchantKeyToID("other"), 250)},
		{"fee bps", s.PaymentRequestDigest(paymentID, token, amount, recipient, merchantID, 251)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.NotEqual(t, base, tt.digest)
		})
	}
}

func TestDomainSeparatesChains(t *testing.T) {
	mainnet, err := New(testKey, 1, testGateway)
	require.NoError(t, err)
	polygon, err := New(testKey, 137, testGateway)
	require.NoError(t, err)

	paymentID := common.HexToHash("0x01")
	merchantID := MerchantKeyToID("merchant-key")
	token := common.HexToAddress("0x1111111111111111111111111111111111111111")
	recipient := common.HexToAddress("0x2222222222222222222222222222222222222222")

	d1 := mainnet.PaymentRequestDigest(paymentID, token, big.NewInt(1), recipient, merchantID, 0)
	d2 := polygon.PaymentRequestDigest(paymentID, token, big.NewInt(1), recipient, merchantID, 0)

	assert.NotEqual(t, d1, d2)
}

func TestRecoverSigner(t *testing.T) {
	s := newTestSigner(t)

	paymentID := common.HexToHash("0xabc")
	merchantID := MerchantKeyToID("merchant-key")
	token := common.HexToAddress("0x1111111111111111111111111111111111111111")
	recipient := common.HexToAddress("0x2222222222222222222222222222222222222222")
	amount := new(big.Int)
	amount.SetString("100000000000000000000", 10)

	digest := s.PaymentRequestDigest(paymentID, token, amount, recipient, merchantID, 100)
	sig, err := s.SignPaymentRequest(paymentID, token, amount, recipient, merchantID, 100)
	require.NoError(t, err)

	recovered, err := RecoverSigner(digest, sig)
	require.NoError(t, err)
	assert.Equal(t, s.SignerAddress(), recovered)
}

func TestSignRefundRequest(t *testing.T) {
	s := newTestSigner(t)

	paymentID := common.HexToHash("0xdef")
	merchantID := MerchantKeyToID("merchant-key")
	token := common.HexToAddress("0x1111111111111111111111111111111111111111")
	payer := common.HexToAddress("0x3333333333333333333333333333333333333333")
	amount := big.NewInt(42)

	digest := s.RefundRequestDigest(paymentID, token, amount, payer, merchantID)
	sig, err := s.SignRefundRequest(paymentID, token, amount, payer, merchantID)
	require.NoError(t, err)

	recovered, err := RecoverSigner(digest, sig)
	require.NoError(t, err)
	assert.Equal(t, s.SignerAddress(), recovered)

	// refund and payment digests of the same fields never collide
	paymentDigest := s.PaymentRequestDigest(paymentID, token, amount, payer, merchantID, 0)
	assert.NotEqual(t, paymentDigest, digest)
}

func TestMerchantKeyToID(t *testing.T) {
	id1 := MerchantKeyToID("merchant-a")
	id2 := MerchantKeyToID("merchant-a")
	id3 := MerchantKeyToID("merchant-b")

	assert.Equal(t, id1, id2)
	assert.NotEqual(t, id1, id3)
	assert.NotEqual(t, [32]byte{}, id1)
}

func TestRecoverSignerRejectsBadInput(t *testing.T) {
	digest := common.HexToHash("0x01")

	_, err := RecoverSigner(digest, "not-hex")
	require.Error(t, err)

	_, err = RecoverSigner(digest, "0xdead")
	require.Error(t, err)
}
