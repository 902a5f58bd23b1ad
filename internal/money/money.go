// Package money 处理链下最小单位(1e-6)与链上 wei 之间的换算和平台费计算
package money

import (
	"errors"
	"math"
	"math/big"

	"github.com/shopspring/decimal"
)

const (
	// Decimals 链下金额精度, 1 个货币单位 = 1e6 最小单位
	Decimals = 6
	// WeiDecimals 链上精度
	WeiDecimals = 18
	// BpsDenominator 万分比分母
	BpsDenominator = 10000
)

var (
	ErrNonPositive = errors.New("amount must be positive")
	ErrPrecision   = errors.New("amount has too many decimal places")
	ErrOverflow    = errors.New("amount out of range")

	minorToWei = new(big.Int).Exp(big.NewInt(10), big.NewInt(WeiDecimals-Decimals), nil)
	maxMinor   = decimal.NewFromInt(math.MaxInt64)
)

// Parse 将十进制金额转换为最小单位
func Parse(d decimal.Decimal) (int64, error) {
	if !d.IsPositive() {
		return 0, ErrNonPositive
	}
	scaled := d.Shift(Decimals)
	if !scaled.Equal(scaled.Truncate(0)) {
		return 0, ErrPrecision
	}
	if scaled.GreaterThan(maxMinor) {
		return 0, ErrOverflow
	}
	return scaled.IntPart(), nil
}

// ToDecimal 最小单位转十进制金额
func ToDecimal(minor int64) decimal.Decimal {
	return decimal.New(minor, -Decimals)
}

// ToWei 最小单位转 wei
func ToWei(minor int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(minor), minorToWei)
}

// FromWei wei 转十进制金额
func FromWei(wei *big.Int) decimal.Decimal {
	if wei == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(wei, -WeiDecimals)
}

// FeeWei 按万分比计算平台费, 向下取整
func FeeWei(amountWei *big.Int, bps int64) *big.Int {
	fee := new(big.Int).Mul(amountWei, big.NewInt(bps))
	return fee.Quo(fee, big.NewInt(BpsDenominator))
}

// TotalWei 捐款金额与平台费之和, 即交易的 value
func TotalWei(amountWei *big.Int, bps int64) *big.Int {
	return new(big.Int).Add(amountWei, FeeWei(amountWei, bps))
}

// AmountFromTotalWei 由交易 value 反推捐款金额(最小单位), 不能整除时返回 false
func AmountFromTotalWei(totalWei *big.Int, bps int64) (int64, bool) {
	if totalWei == nil || totalWei.Sign() <= 0 {
		return 0, false
	}
	// total = minor * 1e12 * (10000 + bps) / 10000
	unit := new(big.Int).Mul(minorToWei, big.NewInt(BpsDenominator+bps))
	unit.Quo(unit, big.NewInt(BpsDenominator))
	minor, rem := new(big.Int).QuoRem(totalWei, unit, new(big.Int))
	if rem.Sign() != 0 || !minor.IsInt64() {
		return 0, false
	}
	if TotalWei(ToWei(minor.Int64()), bps).Cmp(totalWei) != 0 {
		return 0, false
	}
	return minor.Int64(), true
}
