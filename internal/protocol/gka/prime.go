package gka

import (
	"crypto/sha256"
	"errors"
	"math/big"
	"sync"

	"golang.org/x/crypto/blake2b"
)

const (
	// Bits is the size of the DH prime.
	Bits = 512

	// KeySize is the fixed-width encoding of public and BD values.
	KeySize = Bits / 8

	// Generator is the DH generator.
	Generator = 2

	primalityRounds = 20
)

// ErrInvalidModulus is returned by modular helpers for a modulus <= 0.
var ErrInvalidModulus = errors.New("gka: modulus must be positive")

var smallPrimes = []uint64{
	3, 5, 7, 11, 13, 17, 19, 23, 29, 31, 37, 41, 43, 47, 53, 59, 61, 67, 71,
	73, 79, 83, 89, 97, 101, 103, 107, 109, 113, 127, 131, 137, 139, 149, 151,
	157, 163, 167, 173, 179, 181, 191, 193, 197, 199, 211, 223, 227, 229, 233,
	239, 241, 251, 257, 263, 269, 271, 277, 281, 283, 293, 307, 311, 313, 317,
}

// smallProduct is the product of smallPrimes; gcd with it is one big.Int
// operation instead of a loop of divisions.
var smallProduct = func() *big.Int {
	p := big.NewInt(1)
	for _, q := range smallPrimes {
		p.Mul(p, new(big.Int).SetUint64(q))
	}
	return p
}()

// DerivePrime deterministically searches for a Bits-sized prime from a
// stretched passphrase. Every participant holding the passphrase arrives at
// the same prime, so it is never transmitted.
//
// Candidates are filled from two interleaved keyed-BLAKE2b chains, forced
// to full length and odd, filtered by trial division and then tested with
// Miller-Rabin.
func DerivePrime(stretched []byte) *big.Int {
	seed := sum(stretched)
	hi := sum(seed)
	lo := sum(hi)

	buf := make([]byte, KeySize)
	candidate := new(big.Int)
	for {
		for off := 0; off < KeySize; {
			hi = sum(lo)
			lo = sum(hi)
			off += copy(buf[off:], hi)
			off += copy(buf[off:], lo)
		}
		buf[0] |= 0x80
		buf[KeySize-1] |= 0x01
		candidate.SetBytes(buf)
		if isPrime(candidate) {
			return candidate
		}
	}
}

func isPrime(n *big.Int) bool {
	if new(big.Int).GCD(nil, nil, n, smallProduct).Cmp(big.NewInt(1)) != 0 {
		return false
	}
	return n.ProbablyPrime(primalityRounds)
}

// sum is BLAKE2b-256 keyed with key over an empty message.
func sum(key []byte) []byte {
	h, err := blake2b.New256(key)
	if err != nil {
		panic("gka: " + err.Error())
	}
	return h.Sum(nil)
}

// PrimeCache memoizes DerivePrime per stretched key. The search is the
// expensive part of a (re)join and its result never changes for a
// passphrase. Safe for concurrent use.
type PrimeCache struct {
	mu     sync.Mutex
	primes map[[sha256.Size]byte]*big.Int
}

// NewPrimeCache returns an empty cache.
func NewPrimeCache() *PrimeCache {
	return &PrimeCache{primes: make(map[[sha256.Size]byte]*big.Int)}
}

// Get returns the prime for stretched, deriving it on first use.
func (c *PrimeCache) Get(stretched []byte) *big.Int {
	id := sha256.Sum256(stretched)

	c.mu.Lock()
	p, ok := c.primes[id]
	c.mu.Unlock()
	if ok {
		return new(big.Int).Set(p)
	}

	p = DerivePrime(stretched)

	c.mu.Lock()
	c.primes[id] = p
	c.mu.Unlock()
	return new(big.Int).Set(p)
}

// Len reports how many primes are cached.
func (c *PrimeCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.primes)
}

func modExp(base, exp, m *big.Int) (*big.Int, error) {
	if m == nil || m.Sign() <= 0 {
		return nil, ErrInvalidModulus
	}
	return new(big.Int).Exp(base, exp, m), nil
}

func modInverse(a, m *big.Int) (*big.Int, error) {
	if m == nil || m.Sign() <= 0 {
		return nil, ErrInvalidModulus
	}
	inv := new(big.Int).ModInverse(a, m)
	if inv == nil {
		return nil, errors.New("gka: value not invertible")
	}
	return inv, nil
}

func encode(x *big.Int) []byte {
	return x.FillBytes(make([]byte, KeySize))
}
