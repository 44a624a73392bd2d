package oracle

import (
	"math/big"

	"github.com/holiman/uint256"
)

// Each asset occupies a 32-byte window in the history mask, tracking
// which of the last 256 periods carried a price for it. Bit 0 of the
// window (the least significant bit of its last byte) is the most
// recent period; every fold shifts the window left by one, evicting
// the oldest period.
const historyWindowSize = 32

// foldHistory advances the history mask by one period. For every
// asset index in the dense price vector the 256-bit window is shifted
// left and bit 0 is set iff the price is positive. Windows for newly
// registered assets are appended.
func foldHistory(history []byte, dense []*big.Int) []byte {
	one := uint256.NewInt(1)
	window := new(uint256.Int)
	for i, price := range dense {
		from := i * historyWindowSize
		to := from + historyWindowSize
		if len(history) >= to {
			window.SetBytes(history[from:to])
		} else {
			window.Clear()
		}
		window.Lsh(window, 1)
		if price.Sign() > 0 {
			window.Or(window, one)
		}
		encoded := window.Bytes32()
		if len(history) <= from {
			history = append(history, encoded[:]...)
		} else {
			copy(history[from:to], encoded[:])
		}
	}
	return history
}

// checkHistoryUpdated reports whether the asset had a price recorded
// periodsAgo periods back. Out-of-range reads are false, never errors.
func checkHistoryUpdated(history []byte, assetIndex uint32, periodsAgo uint32) bool {
	pos := int(assetIndex)*historyWindowSize + (historyWindowSize - 1 - int(periodsAgo)/8)
	if pos < 0 || pos >= len(history) {
		return false
	}
	bit := byte(1) << (periodsAgo % 8)
	return history[pos]&bit == bit
}

// checkPeriodUpdated reports whether an update mask carries a price
// for the given asset index.
func checkPeriodUpdated(mask []byte, assetIndex uint32) bool {
	pos, bit := maskPosition(assetIndex)
	if pos >= len(mask) {
		return false
	}
	return mask[pos]&bit == bit
}

// maskPosition resolves the byte offset and bit for an asset index in
// a 256-bit update mask.
func maskPosition(assetIndex uint32) (int, byte) {
	return int(assetIndex / 8), byte(1) << (assetIndex % 8)
}
