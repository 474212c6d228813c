// Package utils provides small helpers shared across the engine.
package utils

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// FormatUnits renders a minor-unit amount as a display string using the
// token's decimals, e.g. 1230000 with 6 decimals -> "1.23". Display only;
// amount arithmetic and comparison always stay on *big.Int.
func FormatUnits(amount *big.Int, decimals uint8) string {
	if amount == nil {
		return "0"
	}
	return decimal.NewFromBigInt(amount, -int32(decimals)).String()
}

// ValidateAddress checks if a string is a valid Ethereum address.
func ValidateAddress(address string) bool {
	return common.IsHexAddress(address)
}

// NormalizeAddress returns the checksummed form of an address, or ""
// if the input is not an address.
func NormalizeAddress(address string) string {
	if !common.IsHexAddress(address) {
		return ""
	}
	return common.HexToAddress(address).Hex()
}
