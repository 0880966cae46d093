package engine

import (
	"fmt"
	"math/rand"

	"github.com/holiman/uint256"
)

// JiggleAmounts splits total into n positive amounts that sum exactly
// to total. Each amount stays within [(1-factor)*avg, (1+factor)*avg]
// except the last, which absorbs the division remainder. factor=0
// yields floor(total/n) everywhere with the remainder on the last.
func JiggleAmounts(total *uint256.Int, n int, factor float64) ([]*uint256.Int, error) {
	if total == nil || total.IsZero() {
		return nil, fmt.Errorf("jiggle total must be positive")
	}
	if n <= 0 {
		return nil, fmt.Errorf("jiggle count must be positive, got %d", n)
	}
	if factor < 0 || factor >= 1 {
		return nil, fmt.Errorf("jiggle factor %v outside [0, 1)", factor)
	}

	avg := new(uint256.Int).Div(total, uint256.NewInt(uint64(n)))
	if avg.IsZero() {
		return nil, fmt.Errorf("total %s too small to split %d ways", total.Dec(), n)
	}

	out := make([]*uint256.Int, n)
	if n == 1 {
		out[0] = new(uint256.Int).Set(total)
		return out, nil
	}

	// Jiggle the first n-1 slots in mirrored pairs so deviations cancel
	// exactly: each pair sums to 2*avg, keeping the running total at
	// (n-1)*avg without accumulating rounding drift.
	maxBps := int64(factor * 10000)
	tenThousand := uint256.NewInt(10000)
	for i := 0; i+1 < n-1; i += 2 {
		var dev uint256.Int
		if maxBps > 0 {
			bps := rand.Int63n(maxBps + 1)
			dev.Mul(avg, uint256.NewInt(uint64(bps)))
			dev.Div(&dev, tenThousand)
		}
		out[i] = new(uint256.Int).Add(avg, &dev)
		out[i+1] = new(uint256.Int).Sub(avg, &dev)
	}
	if (n-1)%2 == 1 {
		out[n-2] = new(uint256.Int).Set(avg)
	}

	sum := new(uint256.Int)
	for i := 0; i < n-1; i++ {
		sum.Add(sum, out[i])
	}
	out[n-1] = new(uint256.Int).Sub(total, sum)
	return out, nil
}
