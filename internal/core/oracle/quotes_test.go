package oracle

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustBig(t *testing.T, s string) *big.Int {
	t.Helper()
	x, ok := new(big.Int).SetString(s, 10)
	require.True(t, ok, "bad integer literal %q", s)
	return x
}

func TestFixedDivFloorVectors(t *testing.T) {
	i128MaxOver100 := new(big.Int).Quo(i128Max, big.NewInt(100))

	tests := []struct {
		name     string
		dividend *big.Int
		divisor  *big.Int
		decimals uint32
		want     string
	}{
		{
			name:     "regular operands",
			dividend: big.NewInt(154467226919499),
			divisor:  big.NewInt(133928752749774),
			decimals: 14,
			want:     "115335373284703",
		},
		{
			name:     "huge dividend",
			dividend: i128MaxOver100,
			divisor:  mustBig(t, "231731687303715884105728"),
			decimals: 14,
			want:     "734216306110962248249052545",
		},
		{
			name:     "huge divisor",
			dividend: mustBig(t, "231731687303715884105728"),
			divisor:  i128MaxOver100,
			decimals: 14,
			want:     "13",
		},
		{
			name:     "exact ratio",
			dividend: big.NewInt(4_000_000),
			divisor:  big.NewInt(200_000),
			decimals: 14,
			want:     "2000000000000000",
		},
		{
			name:     "truncates toward zero",
			dividend: big.NewInt(1),
			divisor:  big.NewInt(3),
			decimals: 2,
			want:     "33",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := fixedDivFloor(tt.dividend, tt.divisor, tt.decimals)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.String())
		})
	}
}

func TestFixedDivFloorRejectsBadOperands(t *testing.T) {
	overflowDividend := mustBig(t, "99999999999999999999999999999999999999")

	tests := []struct {
		name     string
		dividend *big.Int
		divisor  *big.Int
		decimals uint32
	}{
		{"nil dividend", nil, big.NewInt(1), 14},
		{"nil divisor", big.NewInt(1), nil, 14},
		{"zero dividend", big.NewInt(0), big.NewInt(5), 14},
		{"zero divisor", big.NewInt(5), big.NewInt(0), 14},
		{"negative dividend", big.NewInt(-5), big.NewInt(5), 14},
		{"negative divisor", big.NewInt(5), big.NewInt(-5), 14},
		// 38 nines shifted once more no longer fits in 128 bits.
		{"scaled dividend overflows", overflowDividend, big.NewInt(7), 14},
		// Divisor vanishes under its down-shift.
		{"divisor underflows to zero", pow10(30), big.NewInt(999), 14},
		{"dividend beyond 128 bits", new(big.Int).Lsh(big.NewInt(1), 127), big.NewInt(7), 14},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := fixedDivFloor(tt.dividend, tt.divisor, tt.decimals)
			require.ErrorIs(t, err, ErrInvalidOperands)
		})
	}
}

func TestPow10(t *testing.T) {
	assert.Equal(t, "1", pow10(0).String())
	assert.Equal(t, "100000000000000", pow10(14).String())
}
