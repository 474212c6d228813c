package clients

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	coretypes "github.com/ethereum/go-ethereum/core/types"
)

// GatewayABI covers the slice of the payment gateway contract this engine
// reads: the processedPayments flag and the PaymentCompleted event. The
// event layout is a wire contract with the deployed gateway and must not
// drift from it.
const GatewayABI = `[
	{
		"inputs": [{"internalType": "bytes32", "name": "", "type": "bytes32"}],
		"name": "processedPayments",
		"outputs": [{"internalType": "bool", "name": "", "type": "bool"}],
		"stateMutability": "view",
		"type": "function"
	},
	{
		"anonymous": false,
		"inputs": [
			{"indexed": true, "internalType": "bytes32", "name": "paymentId", "type": "bytes32"},
			{"indexed": true, "internalType": "bytes32", "name": "merchantId", "type": "bytes32"},
			{"indexed": true, "internalType": "address", "name": "payerAddress", "type": "address"},
			{"indexed": false, "internalType": "address", "name": "recipientAddress", "type": "address"},
			{"indexed": false, "internalType": "address", "name": "tokenAddress", "type": "address"},
			{"indexed": false, "internalType": "uint256", "name": "amount", "type": "uint256"},
			{"indexed": false, "internalType": "uint256", "name": "fee", "type": "uint256"},
			{"indexed": false, "internalType": "uint256", "name": "timestamp", "type": "uint256"}
		],
		"name": "PaymentCompleted",
		"type": "event"
	}
]`

// PaymentCompletedEvent is a decoded PaymentCompleted log.
type PaymentCompletedEvent struct {
	PaymentID  [32]byte
	MerchantID [32]byte
	Payer      common.Address
	Recipient  common.Address
	Token      common.Address
	Amount     *big.Int
	Fee        *big.Int
	Timestamp  *big.Int
	Raw        coretypes.Log
}

// GatewayContract provides typed reads against one deployed gateway.
type GatewayContract struct {
	rpc     RPC
	address common.Address
	abi     abi.ABI
}

// NewGatewayContract parses the gateway ABI and binds it to an address.
func NewGatewayContract(rpc RPC, address common.Address) (*GatewayContract, error) {
	parsedABI, err := abi.JSON(strings.NewReader(GatewayABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse gateway ABI: %w", err)
	}

	return &GatewayContract{
		rpc:     rpc,
		address: address,
		abi:     parsedABI,
	}, nil
}

// Address returns the bound contract address.
func (g *GatewayContract) Address() common.Address {
	return g.address
}

// ProcessedPayments reads the settlement flag for a payment id.
func (g *GatewayContract) ProcessedPayments(ctx context.Context, paymentID [32]byte) (bool, error) {
	data, err := g.abi.Pack("processedPayments", paymentID)
	if err != nil {
		return false, fmt.Errorf("failed to pack processedPayments call: %w", err)
	}

	result, err := g.rpc.CallContract(ctx, ethereum.CallMsg{
		To:   &g.address,
		Data: data,
	}, nil)
	if err != nil {
		return false, fmt.Errorf("failed to call processedPayments: %w", err)
	}

	var processed bool
	if err := g.abi.UnpackIntoInterface(&processed, "processedPayments", result); err != nil {
		return false, fmt.Errorf("failed to unpack processedPayments result: %w", err)
	}

	return processed, nil
}

// EventFilter narrows a PaymentCompleted log scan by indexed topics.
// Nil fields match everything.
type EventFilter struct {
	PaymentID *[32]byte
	Payer     *common.Address
}

// FilterPaymentCompleted fetches PaymentCompleted logs in [fromBlock, toBlock],
// preserving the provider's log order.
func (g *GatewayContract) FilterPaymentCompleted(
	ctx context.Context,
	fromBlock, toBlock uint64,
	filter EventFilter,
) ([]PaymentCompletedEvent, error) {
	eventID := g.abi.Events["PaymentCompleted"].ID

	topics := [][]common.Hash{{eventID}, nil, nil, nil}
	if filter.PaymentID != nil {
		topics[1] = []common.Hash{common.BytesToHash(filter.PaymentID[:])}
	}
	if filter.Payer != nil {
		topics[3] = []common.Hash{common.BytesToHash(common.LeftPadBytes(filter.Payer.Bytes(), 32))}
	}

	logs, err := g.rpc.FilterLogs(ctx, ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(fromBlock),
		ToBlock:   new(big.Int).SetUint64(toBlock),
		Addresses: []common.Address{g.address},
		Topics:    topics,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to filter PaymentCompleted logs: %w", err)
	}

	events := make([]PaymentCompletedEvent, 0, len(logs))
	for _, lg := range logs {
		event, err := g.decodePaymentCompleted(lg)
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}

	return events, nil
}

func (g *GatewayContract) decodePaymentCompleted(lg coretypes.Log) (PaymentCompletedEvent, error) {
	if len(lg.Topics) != 4 {
		return PaymentCompletedEvent{}, fmt.Errorf("unexpected PaymentCompleted topic count: %d", len(lg.Topics))
	}

	unpacked := map[string]interface{}{}
	if err := g.abi.UnpackIntoMap(unpacked, "PaymentCompleted", lg.Data); err != nil {
		return PaymentCompletedEvent{}, fmt.Errorf("failed to unpack PaymentCompleted data: %w", err)
	}

	event := PaymentCompletedEvent{
		Payer: common.BytesToAddress(lg.Topics[3].Bytes()),
		Raw:   lg,
	}
	copy(event.PaymentID[:], lg.Topics[1].Bytes())
	copy(event.MerchantID[:], lg.Topics[2].Bytes())

	var ok bool
	if event.Recipient, ok = unpacked["recipientAddress"].(common.Address); !ok {
		return PaymentCompletedEvent{}, fmt.Errorf("PaymentCompleted missing recipientAddress")
	}
	if event.Token, ok = unpacked["tokenAddress"].(common.Address); !ok {
		return PaymentCompletedEvent{}, fmt.Errorf("PaymentCompleted missing tokenAddress")
	}
	if event.Amount, ok = unpacked["amount"].(*big.Int); !ok {
		return PaymentCompletedEvent{}, fmt.Errorf("PaymentCompleted missing amount")
	}
	if event.Fee, ok = unpacked["fee"].(*big.Int); !ok {
		return PaymentCompletedEvent{}, fmt.Errorf("PaymentCompleted missing fee")
	}
	if event.Timestamp, ok = unpacked["timestamp"].(*big.Int); !ok {
		return PaymentCompletedEvent{}, fmt.Errorf("PaymentCompleted missing timestamp")
	}

	return event, nil
}
