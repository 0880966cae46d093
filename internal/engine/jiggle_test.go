package engine

import (
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sumAmounts(amounts []*uint256.Int) *uint256.Int {
	sum := new(uint256.Int)
	for _, a := range amounts {
		sum.Add(sum, a)
	}
	return sum
}

func TestJiggleAmountsZeroFactor(t *testing.T) {
	total := uint256.NewInt(1003)
	out, err := JiggleAmounts(total, 4, 0)
	require.NoError(t, err)
	require.Len(t, out, 4)

	// floor(1003/4) = 250 everywhere, remainder on the last
	for i := 0; i < 3; i++ {
		assert.Equal(t, "250", out[i].Dec())
	}
	assert.Equal(t, "253", out[3].Dec())
	assert.Equal(t, total.Dec(), sumAmounts(out).Dec())
}

func TestJiggleAmountsSingle(t *testing.T) {
	total := uint256.NewInt(777)
	out, err := JiggleAmounts(total, 1, 0.5)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "777", out[0].Dec())
}

func TestJiggleAmountsRejections(t *testing.T) {
	_, err := JiggleAmounts(nil, 3, 0)
	assert.Error(t, err)
	_, err = JiggleAmounts(uint256.NewInt(0), 3, 0)
	assert.Error(t, err)
	_, err = JiggleAmounts(uint256.NewInt(100), 0, 0)
	assert.Error(t, err)
	_, err = JiggleAmounts(uint256.NewInt(100), 3, -0.1)
	assert.Error(t, err)
	_, err = JiggleAmounts(uint256.NewInt(100), 3, 1.0)
	assert.Error(t, err)
	// avg rounds to zero: cannot split
	_, err = JiggleAmounts(uint256.NewInt(3), 5, 0)
	assert.Error(t, err)
}

func TestJiggleAmountsProperty(t *testing.T) {
	total := uint256.MustFromDecimal("1000000000000000000")
	const (
		n      = 5
		factor = 0.15
	)
	avg := new(uint256.Int).Div(total, uint256.NewInt(n))
	lo := new(uint256.Int).Mul(avg, uint256.NewInt(10000-1500))
	lo.Div(lo, uint256.NewInt(10000))
	hi := new(uint256.Int).Mul(avg, uint256.NewInt(10000+1500))
	hi.Div(hi, uint256.NewInt(10000))

	for run := 0; run < 10000; run++ {
		out, err := JiggleAmounts(total, n, factor)
		require.NoError(t, err)
		require.Len(t, out, n)

		require.Equal(t, total.Dec(), sumAmounts(out).Dec())
		for i, a := range out {
			require.False(t, a.IsZero(), "slot %d is zero", i)
			// All slots but the last stay inside the deviation band
			if i < n-1 {
				require.False(t, a.Lt(lo), "slot %d below band: %s", i, a.Dec())
				require.False(t, a.Gt(hi), "slot %d above band: %s", i, a.Dec())
			}
		}
	}
}
