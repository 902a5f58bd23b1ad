package money

import (
	"math/big"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    int64
		wantErr error
	}{
		{name: "whole", in: "10", want: 10_000_000},
		{name: "cents", in: "0.01", want: 10_000},
		{name: "smallest unit", in: "0.000001", want: 1},
		{name: "zero", in: "0", wantErr: ErrNonPositive},
		{name: "negative", in: "-4.5", wantErr: ErrNonPositive},
		{name: "too precise", in: "0.0000001", wantErr: ErrPrecision},
		{name: "overflow", in: "99999999999999999999", wantErr: ErrOverflow},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(decimal.RequireFromString(tt.in))
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestToDecimalRoundTrip(t *testing.T) {
	minor, err := Parse(decimal.RequireFromString("4.25"))
	require.NoError(t, err)
	assert.True(t, ToDecimal(minor).Equal(decimal.RequireFromString("4.25")))
}

func TestWeiConversion(t *testing.T) {
	wei := ToWei(1_500_000) // 1.5
	expected, _ := new(big.Int).SetString("1500000000000000000", 10)
	assert.Equal(t, 0, wei.Cmp(expected))
	assert.True(t, FromWei(wei).Equal(decimal.RequireFromString("1.5")))
	assert.True(t, FromWei(nil).IsZero())
}

func TestFeeWei(t *testing.T) {
	// 1 ether * 0.5% = 0.005 ether
	oneEther, _ := new(big.Int).SetString("1000000000000000000", 10)
	fee := FeeWei(oneEther, 50)
	assert.Equal(t, "5000000000000000", fee.String())

	// 向下取整
	assert.Equal(t, "0", FeeWei(big.NewInt(199), 50).String())
	assert.Equal(t, "1", FeeWei(big.NewInt(200), 50).String())

	// 多次计算结果一致
	for i := 0; i < 3; i++ {
		assert.Equal(t, fee.String(), FeeWei(oneEther, 50).String())
	}

	assert.Equal(t, "1005000000000000000", TotalWei(oneEther, 50).String())
}

func TestAmountFromTotalWei(t *testing.T) {
	total := TotalWei(ToWei(4_000_000), 50)
	minor, ok := AmountFromTotalWei(total, 50)
	require.True(t, ok)
	assert.Equal(t, int64(4_000_000), minor)

	_, ok = AmountFromTotalWei(new(big.Int).Add(total, big.NewInt(1)), 50)
	assert.False(t, ok)

	_, ok = AmountFromTotalWei(big.NewInt(0), 50)
	assert.False(t, ok)
}
