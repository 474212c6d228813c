package utils

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFormatUnits(t *testing.T) {
	huge, _ := new(big.Int).SetString("100000000000000000000", 10)

	tests := []struct {
		name     string
		amount   *big.Int
		decimals uint8
		want     string
	}{
		{"whole tokens", big.NewInt(5000000), 6, "5"},
		{"fractional", big.NewInt(1230000), 6, "1.23"},
		{"sub-unit", big.NewInt(1), 18, "0.000000000000000001"},
		{"zero decimals", big.NewInt(42), 0, "42"},
		{"100 at 18 decimals", huge, 18, "100"},
		{"nil amount", nil, 6, "0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FormatUnits(tt.amount, tt.decimals))
		})
	}
}

func TestValidateAddress(t *testing.T) {
	assert.True(t, ValidateAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3"))
	assert.True(t, ValidateAddress("5FbDB2315678afecb367f032d93F642f64180aa3"))
	assert.False(t, ValidateAddress(""))
	assert.False(t, ValidateAddress("0x123"))
	assert.False(t, ValidateAddress("not-an-address"))
}

func TestNormalizeAddress(t *testing.T) {
	assert.Equal(t,
		"0x5FbDB2315678afecb367f032d93F642f64180aa3",
		NormalizeAddress("0x5fbdb2315678afecb367f032d93f642f64180aa3"))
	assert.Empty(t, NormalizeAddress("junk"))
}
