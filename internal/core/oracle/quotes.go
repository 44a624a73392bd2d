package oracle

import (
	"context"
	"math/big"
)

func pow10(n int) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n)), nil)
}

// fixedDivFloor divides two fixed-point quantities at the given
// precision, flooring the result. Operands must be strictly positive
// 128-bit values; the scaled dividend must stay within 128 bits and
// the scaled divisor must stay nonzero.
func fixedDivFloor(dividend, divisor *big.Int, decimals uint32) (*big.Int, error) {
	if dividend == nil || divisor == nil || dividend.Sign() <= 0 || divisor.Sign() <= 0 {
		return nil, ErrInvalidOperands
	}
	if !fitsInt128(dividend) || !fitsInt128(divisor) {
		return nil, ErrInvalidOperands
	}

	// Scale the dividend up as far as 128-bit headroom allows, and
	// push any remaining precision into the divisor.
	ilog10 := len(dividend.Text(10)) - 1
	ashift := 38 - ilog10
	if ashift > int(decimals) {
		ashift = int(decimals)
	}
	bshift := int(decimals) - ashift

	scaledDividend := dividend
	if ashift > 0 {
		scaledDividend = new(big.Int).Mul(dividend, pow10(ashift))
		if !fitsInt128(scaledDividend) {
			return nil, ErrInvalidOperands
		}
	}
	scaledDivisor := divisor
	if bshift > 0 {
		scaledDivisor = new(big.Int).Quo(divisor, pow10(bshift))
		if scaledDivisor.Sign() == 0 {
			return nil, ErrInvalidOperands
		}
	}
	return new(big.Int).Quo(scaledDividend, scaledDivisor), nil
}

// crossPriceData quotes base/quote at a normalized timestamp. A pair
// of equal indexes is the identity price regardless of records.
func (o *Oracle) crossPriceData(ctx context.Context, baseIndex, quoteIndex uint32, tsMs uint64, decimals uint32) (*PriceData, error) {
	if baseIndex == quoteIndex {
		return &PriceData{Price: pow10(int(decimals)), Timestamp: tsMs / 1000}, nil
	}
	basePrice, err := o.retrievePriceData(ctx, baseIndex, tsMs)
	if err != nil || basePrice == nil {
		return nil, err
	}
	quotePrice, err := o.retrievePriceData(ctx, quoteIndex, tsMs)
	if err != nil || quotePrice == nil {
		return nil, err
	}
	price, err := fixedDivFloor(basePrice.Price, quotePrice.Price, decimals)
	if err != nil {
		return nil, err
	}
	return &PriceData{Price: price, Timestamp: tsMs / 1000}, nil
}

// twapOver averages exactly records consecutive prices. It refuses to
// answer from a partial window or when the newest record is more than
// one period plus a minute stale.
func (o *Oracle) twapOver(ctx context.Context, fn func(uint64) (*PriceData, error), records uint32) (*big.Int, error) {
	prices, err := o.loadPriceRecords(ctx, fn, records)
	if err != nil || prices == nil {
		return nil, err
	}
	if uint32(len(prices)) != records {
		return nil, nil
	}

	newestMs := prices[0].Timestamp * 1000
	resolution, err := o.resolutionMs(ctx)
	if err != nil {
		return nil, err
	}
	if newestMs+resolution+60_000 < o.nowMs() {
		return nil, nil
	}

	sum := new(big.Int)
	for _, price := range prices {
		sum.Add(sum, price.Price)
	}
	return sum.Quo(sum, big.NewInt(int64(len(prices)))), nil
}
