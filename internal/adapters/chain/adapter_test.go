package chain

import (
	"math/big"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromBaseUnitsIsExact(t *testing.T) {
	// 1_000_000_000 lamports is exactly 1 SOL
	sol := FromBaseUnits(1_000_000_000, 9)
	assert.True(t, sol.Equal(decimal.NewFromInt(1)))

	// 1_000_000 USDC base units is exactly 1 USDC
	usdc := FromBaseUnits(1_000_000, 6)
	assert.True(t, usdc.Equal(decimal.NewFromInt(1)))

	// A single lamport survives the conversion without drift
	one := FromBaseUnits(1, 9)
	assert.Equal(t, "0.000000001", one.String())
}

func TestFromBaseUnitsBigHandlesWei(t *testing.T) {
	// 12.345678901234567890 ETH exceeds int64 in wei
	wei, ok := new(big.Int).SetString("12345678901234567890", 10)
	require.True(t, ok)

	eth := FromBaseUnitsBig(wei, 18)
	assert.Equal(t, "12.34567890123456789", eth.String())
}

func TestToBaseUnitsRoundTrips(t *testing.T) {
	for _, tc := range []struct {
		amount   string
		decimals int32
		units    string
	}{
		{"1", 9, "1000000000"},
		{"2.5", 9, "2500000000"},
		{"0.000001", 6, "1"},
		{"1234.567891", 6, "1234567891"},
		{"0.000000000000000001", 18, "1"},
	} {
		amount := decimal.RequireFromString(tc.amount)
		units, err := ToBaseUnits(amount, tc.decimals)
		require.NoError(t, err, tc.amount)
		assert.Equal(t, tc.units, units.String())

		back := FromBaseUnitsBig(units, tc.decimals)
		assert.True(t, back.Equal(amount), "round trip for %s", tc.amount)
	}
}

func TestToBaseUnitsRejectsSubUnitPrecision(t *testing.T) {
	// Half a lamport does not exist
	_, err := ToBaseUnits(decimal.RequireFromString("0.0000000005"), 9)
	assert.Error(t, err)

	_, err = ToBaseUnits(decimal.RequireFromString("1.0000001"), 6)
	assert.Error(t, err)
}

func TestRepeatedConversionDoesNotDrift(t *testing.T) {
	amount := decimal.RequireFromString("0.1")
	for i := 0; i < 10000; i++ {
		units, err := ToBaseUnits(amount, 9)
		require.NoError(t, err)
		amount = FromBaseUnitsBig(units, 9)
	}
	assert.True(t, amount.Equal(decimal.RequireFromString("0.1")))
}
