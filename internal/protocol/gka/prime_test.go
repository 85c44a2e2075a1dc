package gka

import (
	"bytes"
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDerivePrime_Deterministic(t *testing.T) {
	key := bytes.Repeat([]byte{0x01}, 32)
	p1 := DerivePrime(key)
	p2 := DerivePrime(key)

	require.Equal(t, 0, p1.Cmp(p2))
	require.Equal(t, Bits, p1.BitLen())
	require.Equal(t, uint(1), p1.Bit(0))
	require.True(t, p1.ProbablyPrime(32))

	p3 := DerivePrime(bytes.Repeat([]byte{0x02}, 32))
	require.NotEqual(t, 0, p1.Cmp(p3))
}

func TestPrimeCache_Memoizes(t *testing.T) {
	c := NewPrimeCache()
	key := bytes.Repeat([]byte{0x03}, 32)

	a := c.Get(key)
	b := c.Get(key)
	require.Equal(t, 0, a.Cmp(b))
	require.Equal(t, 1, c.Len())

	// Callers get copies; mutating one must not poison the cache.
	a.SetInt64(7)
	require.Equal(t, 0, c.Get(key).Cmp(b))
}

func TestModHelpers_RejectNonPositiveModulus(t *testing.T) {
	for _, m := range []*big.Int{nil, big.NewInt(0), big.NewInt(-7)} {
		_, err := modExp(big.NewInt(2), big.NewInt(3), m)
		require.ErrorIs(t, err, ErrInvalidModulus)
		_, err = modInverse(big.NewInt(2), m)
		require.ErrorIs(t, err, ErrInvalidModulus)
	}

	v, err := modExp(big.NewInt(2), big.NewInt(10), big.NewInt(1000))
	require.NoError(t, err)
	require.Equal(t, int64(24), v.Int64())

	inv, err := modInverse(big.NewInt(3), big.NewInt(7))
	require.NoError(t, err)
	require.Equal(t, int64(5), inv.Int64())

	_, err = modInverse(big.NewInt(4), big.NewInt(8))
	require.Error(t, err)
}

func TestIsPrime_TrialDivision(t *testing.T) {
	require.False(t, isPrime(big.NewInt(3*5*7*11+0)))
	require.True(t, isPrime(big.NewInt(1000003)))
}
