package clients

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

const erc20ABI = `[
	{
		"inputs": [],
		"name": "symbol",
		"outputs": [{"internalType": "string", "name": "", "type": "string"}],
		"stateMutability": "view",
		"type": "function"
	},
	{
		"inputs": [],
		"name": "decimals",
		"outputs": [{"internalType": "uint8", "name": "", "type": "uint8"}],
		"stateMutability": "view",
		"type": "function"
	},
	{
		"inputs": [{"internalType": "address", "name": "owner", "type": "address"}],
		"name": "balanceOf",
		"outputs": [{"internalType": "uint256", "name": "", "type": "uint256"}],
		"stateMutability": "view",
		"type": "function"
	}
]`

// ERC20 reads token metadata and balances for tokens that are not in the
// static registry table.
type ERC20 struct {
	rpc     RPC
	address common.Address
	abi     abi.ABI
}

func NewERC20(rpc RPC, address common.Address) (*ERC20, error) {
	parsedABI, err := abi.JSON(strings.NewReader(erc20ABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse ERC20 ABI: %w", err)
	}
	return &ERC20{rpc: rpc, address: address, abi: parsedABI}, nil
}

func (e *ERC20) Symbol(ctx context.Context) (string, error) {
	result, err := e.call(ctx, "symbol")
	if err != nil {
		return "", err
	}
	var symbol string
	if err := e.abi.UnpackIntoInterface(&symbol, "symbol", result); err != nil {
		return "", fmt.Errorf("failed to unpack symbol result: %w", err)
	}
	return symbol, nil
}

func (e *ERC20) Decimals(ctx context.Context) (uint8, error) {
	result, err := e.call(ctx, "decimals")
	if err != nil {
		return 0, err
	}
	var decimals uint8
	if err := e.abi.UnpackIntoInterface(&decimals, "decimals", result); err != nil {
		return 0, fmt.Errorf("failed to unpack decimals result: %w", err)
	}
	return decimals, nil
}

func (e *ERC20) BalanceOf(ctx context.Context, owner common.Address) (*big.Int, error) {
	result, err := e.call(ctx, "balanceOf", owner)
	if err != nil {
		return nil, err
	}
	var balance *big.Int
	if err := e.abi.UnpackIntoInterface(&balance, "balanceOf", result); err != nil {
		return nil, fmt.Errorf("failed to unpack balanceOf result: %w", err)
	}
	return balance, nil
}

func (e *ERC20) call(ctx context.Context, method string, args ...interface{}) ([]byte, error) {
	data, err := e.abi.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to pack %s call: %w", method, err)
	}

	result, err := e.rpc.CallContract(ctx, ethereum.CallMsg{
		To:   &e.address,
		Data: data,
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to call %s: %w", method, err)
	}
	return result, nil
}
