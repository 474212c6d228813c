// Package signer produces the EIP-712 typed-data signatures that bind a
// payment or refund intent to its exact parameters, so the on-chain
// gateway can verify an authorization without any off-chain lookup.
package signer

import (
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/msqpay/gateway/types"
)

const (
	domainName    = "MSQPayGateway"
	domainVersion = "1"
)

// Type hashes (keccak256 of the type signature strings). Field names,
// order, and type tags are a wire contract with the verifying contract.
var (
	domainTypeHash = crypto.Keccak256Hash([]byte("EIP712Domain(string name,string version,uint256 chainId,address verifyingContract)"))

	paymentRequestTypeHash = crypto.Keccak256Hash([]byte("PaymentRequest(bytes32 paymentId,address tokenAddress,uint256 amount,address recipientAddress,bytes32 merchantId,uint16 feeBps)"))

	refundRequestTypeHash = crypto.Keccak256Hash([]byte("RefundRequest(bytes32 paymentId,address tokenAddress,uint256 amount,address payerAddress,bytes32 merchantId)"))
)

// AuthorizationSigner signs typed payment and refund authorizations for
// one chain and gateway contract. It holds only in-memory key material
// and is safe for concurrent use.
type AuthorizationSigner struct {
	key             *ecdsa.PrivateKey
	chainID         *big.Int
	gateway         common.Address
	domainSeparator common.Hash
	address         common.Address
}

// New validates the key material and chain identity and precomputes the
// typed-data domain separator. Invalid inputs are unrecoverable
// misconfigurations and fail fast with CONFIG_ERROR.
func New(signerKeyHex string, chainID int64, gatewayAddress string) (*AuthorizationSigner, error) {
	keyBytes, err := hex.DecodeString(strings.TrimPrefix(signerKeyHex, "0x"))
	if err != nil {
		return nil, types.NewError(types.ErrConfig, "signer key is not valid hex: %v", err)
	}
	if len(keyBytes) != 32 {
		return nil, types.NewError(types.ErrConfig, "signer key must be 32 bytes, got %d", len(keyBytes))
	}

	key, err := crypto.ToECDSA(keyBytes)
	if err != nil {
		return nil, types.NewError(types.ErrConfig, "invalid signer key: %v", err)
	}

	if chainID <= 0 {
		return nil, types.NewError(types.ErrConfig, "chain id must be positive, got %d", chainID)
	}

	if !common.IsHexAddress(gatewayAddress) {
		return nil, types.NewError(types.ErrConfig, "gateway address %q is not a 20-byte address", gatewayAddress)
	}
	gateway := common.HexToAddress(gatewayAddress)

	s := &AuthorizationSigner{
		key:     key,
		chainID: big.NewInt(chainID),
		gateway: gateway,
		address: crypto.PubkeyToAddress(key.PublicKey),
	}
	s.domainSeparator = s.buildDomainSeparator()

	return s, nil
}

// SignerAddress returns the address recoverable from signatures.
func (s *AuthorizationSigner) SignerAddress() common.Address {
	return s.address
}

// SignPaymentRequest signs the PaymentRequest typed struct and returns a
// hex-encoded 65-byte signature.
func (s *AuthorizationSigner) SignPaymentRequest(
	paymentID [32]byte,
	tokenAddress common.Address,
	amount *big.Int,
	recipientAddress common.Address,
	merchantID [32]byte,
	feeBps uint16,
) (string, error) {
	digest := s.PaymentRequestDigest(paymentID, tokenAddress, amount, recipientAddress, merchantID, feeBps)
	return s.sign(digest)
}

// PaymentRequestDigest computes the EIP-712 digest of a PaymentRequest.
func (s *AuthorizationSigner) PaymentRequestDigest(
	paymentID [32]byte,
	tokenAddress common.Address,
	amount *big.Int,
	recipientAddress common.Address,
	merchantID [32]byte,
	feeBps uint16,
) common.Hash {
	structHash := keccak256Words(
		paymentRequestTypeHash.Bytes(),
		paymentID[:],
		addressTo32(tokenAddress),
		padLeft32(amount),
		addressTo32(recipientAddress),
		merchantID[:],
		padLeft32(new(big.Int).SetUint64(uint64(feeBps))),
	)
	return typedDataHash(s.domainSeparator, structHash)
}

// SignRefundRequest signs the RefundRequest typed struct and returns a
// hex-encoded 65-byte signature.
func (s *AuthorizationSigner) SignRefundRequest(
	paymentID [32]byte,
	tokenAddress common.Address,
	amount *big.Int,
	payerAddress common.Address,
	merchantID [32]byte,
) (string, error) {
	digest := s.RefundRequestDigest(paymentID, tokenAddress, amount, payerAddress, merchantID)
	return s.sign(digest)
}

// RefundRequestDigest computes the EIP-712 digest of a RefundRequest.
func (s *AuthorizationSigner) RefundRequestDigest(
	paymentID [32]byte,
	tokenAddress common.Address,
	amount *big.Int,
	payerAddress common.Address,
	merchantID [32]byte,
) common.Hash {
	structHash := keccak256Words(
		refundRequestTypeHash.Bytes(),
		paymentID[:],
		addressTo32(tokenAddress),
		padLeft32(amount),
		addressTo32(payerAddress),
		merchantID[:],
	)
	return typedDataHash(s.domainSeparator, structHash)
}

func (s *AuthorizationSigner) sign(digest common.Hash) (string, error) {
	sig, err := crypto.Sign(digest.Bytes(), s.key)
	if err != nil {
		return "", fmt.Errorf("failed to sign digest: %w", err)
	}

	// normalize V from 0/1 to 27/28 for on-chain ecrecover
	if sig[64] < 27 {
		sig[64] += 27
	}
	return hexutil.Encode(sig), nil
}

// buildDomainSeparator hashes the fixed EIP-712 domain:
// keccak256(abi.encode(domainTypeHash, keccak256(name), keccak256(version), chainId, verifyingContract))
func (s *AuthorizationSigner) buildDomainSeparator() common.Hash {
	return keccak256Words(
		domainTypeHash.Bytes(),
		crypto.Keccak256([]byte(domainName)),
		crypto.Keccak256([]byte(domainVersion)),
		padLeft32(s.chainID),
		addressTo32(s.gateway),
	)
}

// MerchantKeyToID derives the public on-chain merchant identifier from a
// merchant's private key string. Content-addressed, not secret: identical
// keys always map to the same id.
func MerchantKeyToID(merchantKey string) [32]byte {
	var id [32]byte
	copy(id[:], crypto.Keccak256([]byte(merchantKey)))
	return id
}

// RecoverSigner recovers the address that signed the given digest.
// sig must be 65 bytes (R||S||V); V may be 0/1 or 27/28.
func RecoverSigner(digest common.Hash, sigHex string) (common.Address, error) {
	sig, err := hexutil.Decode(sigHex)
	if err != nil {
		return common.Address{}, fmt.Errorf("bad signature hex: %w", err)
	}
	if len(sig) != 65 {
		return common.Address{}, fmt.Errorf("signature must be 65 bytes, got %d", len(sig))
	}

	// copy to avoid mutating caller data; SigToPub wants V as 0/1
	normalized := make([]byte, 65)
	copy(normalized, sig)
	if normalized[64] >= 27 {
		normalized[64] -= 27
	}

	pubKey, err := crypto.SigToPub(digest.Bytes(), normalized)
	if err != nil {
		return common.Address{}, fmt.Errorf("sig to pub failed: %w", err)
	}
	return crypto.PubkeyToAddress(*pubKey), nil
}

// typedDataHash returns keccak256("\x19\x01" || domainSeparator || structHash).
func typedDataHash(domainSeparator, structHash common.Hash) common.Hash {
	prefix := []byte{0x19, 0x01}
	return crypto.Keccak256Hash(append(append(prefix, domainSeparator.Bytes()...), structHash.Bytes()...))
}

// keccak256Words concatenates 32-byte words exactly as abi.encode would
// for the static types used here, then hashes.
func keccak256Words(parts ...[]byte) common.Hash {
	joined := []byte{}
	for _, p := range parts {
		joined = append(joined, p...)
	}
	return crypto.Keccak256Hash(joined)
}

// padLeft32 returns a 32-byte right-aligned representation of i.
func padLeft32(i *big.Int) []byte {
	b := i.Bytes()
	if len(b) > 32 {
		b = b[len(b)-32:]
	}
	out := make([]byte, 32)
	copy(out[32-len(b):], b)
	return out
}

// addressTo32 left-pads an address into 32 bytes.
func addressTo32(a common.Address) []byte {
	out := make([]byte, 32)
	copy(out[12:], a.Bytes())
	return out
}
