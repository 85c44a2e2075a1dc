package gka

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"sort"

	"mleschat/internal/domain"
	"mleschat/internal/util/memzero"
)

// State is the coarse phase of the agreement, derived from its tables.
type State int

const (
	NoKeys State = iota
	HavePublics
	HaveBD
	SecretDerived
	SecretAcked
	Rotating
)

func (s State) String() string {
	switch s {
	case NoKeys:
		return "no-keys"
	case HavePublics:
		return "have-publics"
	case HaveBD:
		return "have-bd"
	case SecretDerived:
		return "secret-derived"
	case SecretAcked:
		return "secret-acked"
	case Rotating:
		return "rotating"
	default:
		return "unknown"
	}
}

var one = big.NewInt(1)

// Material is what the agreement piggybacks on one outbound message.
type Material struct {
	// Keys is the local public value, optionally followed by the local BD
	// value, each KeySize bytes.
	Keys []byte
	// Flags carries BDOne/BDAck.
	Flags domain.Flags
	// Pad is extra padding standing in for key bytes not sent, so frame
	// length does not reveal the agreement phase.
	Pad int
	// UseGroup is set when the secret is confirmed and the message must be
	// encrypted under the group keys.
	UseGroup bool
	// Announce is set the first time UseGroup is reported after a secret
	// was confirmed.
	Announce bool
}

// Result reports the effect of one inbound message.
type Result struct {
	// Flags are the inbound flags, possibly with FlagPresAckReq added.
	Flags domain.Flags
	// Derived is set when a new secret was computed.
	Derived bool
	// Dropped is set when a previously derived secret was discarded.
	Dropped bool
	// Revoked is set when forward secrecy had been announced and no
	// longer holds.
	Revoked bool
}

// Agreement runs the Diffie-Hellman / Burmester-Desmedt group key agreement
// for one channel.
//
// Every participant's public value is g^x mod p. Participants are ordered
// into a ring by sorted id; each publishes BD = (next/prev)^x mod p and, once
// all BD values are known, computes
//
//	K = prev^(n*x) * BD_i^(n-1) * BD_{i+1}^(n-2) * ... * BD_{i+n-2} mod p
//
// which is identical for all n participants. With two participants BD is
// always 1 and K reduces to plain DH.
//
// Concurrency: Agreement is NOT safe for concurrent use. The channel engine
// serialises access.
type Agreement struct {
	self  string
	prime *big.Int

	private *big.Int
	public  *big.Int
	bd      *big.Int

	pubs map[string]*big.Int
	bds  map[string]*big.Int
	acks map[string]bool

	secret    *big.Int
	acked     bool
	announced bool
	rotating  bool
}

// New starts an agreement for self over prime with a fresh keypair.
func New(prime *big.Int, self string) (*Agreement, error) {
	if prime == nil || prime.Sign() <= 0 {
		return nil, ErrInvalidModulus
	}
	a := &Agreement{
		self:  self,
		prime: new(big.Int).Set(prime),
	}
	if err := a.generate(); err != nil {
		return nil, err
	}
	a.resetAll()
	return a, nil
}

// Rekey replaces the local keypair and restarts the agreement from scratch.
// It is used on every reconnect so each connection gets a fresh secret.
func (a *Agreement) Rekey() error {
	if err := a.generate(); err != nil {
		return err
	}
	a.resetAll()
	a.rotating = true
	return nil
}

// Reset drops all peer material and any secret, keeping the keypair.
// It reports whether forward secrecy had been announced.
func (a *Agreement) Reset() (revoked bool) {
	revoked = a.announced
	a.resetAll()
	return revoked
}

// State reports the current phase.
func (a *Agreement) State() State {
	switch {
	case a.secret != nil && a.acked:
		return SecretAcked
	case a.secret != nil:
		return SecretDerived
	case len(a.bds) > 0:
		return HaveBD
	case len(a.pubs) > 1:
		return HavePublics
	case a.rotating:
		return Rotating
	default:
		return NoKeys
	}
}

// Public returns the fixed-width local public value.
func (a *Agreement) Public() []byte { return encode(a.public) }

// Secret returns the fixed-width group secret, or nil if none is derived.
func (a *Agreement) Secret() []byte {
	if a.secret == nil {
		return nil
	}
	return encode(a.secret)
}

// Confirmed reports whether every known participant acknowledged the secret,
// making it usable for sending.
func (a *Agreement) Confirmed() bool { return a.secret != nil && a.acked }

// Participants returns the number of known public values, including self.
func (a *Agreement) Participants() int { return len(a.pubs) }

// Outbound returns the material to attach to the next message. presenceAck
// marks a presence acknowledgement, which never carries a BD value.
func (a *Agreement) Outbound(presenceAck bool) Material {
	m := Material{Keys: encode(a.public)}

	if a.bd != nil && !presenceAck {
		if a.bd.Cmp(one) == 0 {
			m.Flags |= domain.FlagBDOne
			m.Pad += KeySize
		} else {
			m.Keys = append(m.Keys, encode(a.bd)...)
		}
		if len(a.pubs) == len(a.bds) && a.secret != nil {
			m.Flags |= domain.FlagBDAck
			a.acks[a.self] = true
		}
	} else {
		m.Pad += KeySize
	}

	if a.Confirmed() {
		m.UseGroup = true
		if !a.announced {
			a.announced = true
			m.Announce = true
		}
	}
	return m
}

// Inbound processes the key material piggybacked on a message from sender.
// keys is the embedded key block (empty when none was attached).
func (a *Agreement) Inbound(sender string, flags domain.Flags, keys []byte) (res Result) {
	res.Flags = flags
	hadSecret := a.secret != nil
	defer func() {
		if hadSecret && a.secret == nil {
			res.Dropped = true
		}
	}()

	invalidate := func(full bool) {
		if a.announced {
			res.Revoked = true
		}
		if full {
			a.resetAll()
		} else {
			a.resetRound()
		}
	}
	requestAck := func() {
		if flags.Has(domain.FlagPresence) && !flags.Has(domain.FlagPresenceAck) {
			res.Flags |= domain.FlagPresAckReq
		}
	}

	if sender == a.self {
		// Our own frame echoed back: the relay replayed history after a
		// reconnect, so whatever we had is stale.
		invalidate(true)
		return res
	}
	if len(keys) != KeySize && len(keys) != 2*KeySize {
		return res
	}
	short := len(keys) == KeySize

	if short && !flags.Has(domain.FlagBDOne) && !flags.Has(domain.FlagBDAck) {
		// A bare public value: the peer (re)started its round.
		requestAck()
		invalidate(false)
	}

	pub := new(big.Int).SetBytes(keys[:KeySize])
	if !a.validPublic(pub) {
		return res
	}
	known, ok := a.pubs[sender]
	if !ok {
		a.pubs[sender] = pub
		a.rotating = false
		return res
	}
	if known.Cmp(pub) != 0 {
		invalidate(false)
		a.pubs[sender] = pub
		return res
	}

	prev, _, err := a.computeBD()
	if err != nil {
		invalidate(false)
		return res
	}

	if short && !flags.Has(domain.FlagBDOne) {
		return res
	}

	bd := new(big.Int).Set(one)
	if !short {
		bd.SetBytes(keys[KeySize:])
	}
	pubcnt := len(a.pubs)
	reset := false

	stored, haveBD := a.bds[sender]
	switch {
	case bd.Sign() <= 0 || bd.Cmp(a.prime) >= 0:
		invalidate(false)
		reset = true
	case haveBD && stored.Cmp(bd) != 0:
		invalidate(false)
		reset = true
	case (pubcnt > 2 && bd.Cmp(one) == 0) || (pubcnt == 2 && bd.Cmp(one) != 0):
		invalidate(false)
		requestAck()
		reset = true
	case haveBD:
		// Unchanged.
	default:
		a.bds[sender] = bd
		if len(a.bds) == pubcnt && prev != nil {
			if err := a.deriveSecret(prev); err != nil {
				invalidate(false)
				reset = true
			} else {
				res.Derived = true
			}
		}
	}

	if reset || !flags.Has(domain.FlagBDAck) || a.acked {
		return res
	}
	if a.pubs[sender] == nil || a.bds[sender] == nil {
		invalidate(false)
		return res
	}
	a.acks[sender] = true
	pubcnt, bdcnt, ackcnt := len(a.pubs), len(a.bds), len(a.acks)
	if pubcnt == bdcnt && ackcnt == pubcnt &&
		((short && flags.Has(domain.FlagBDOne) && pubcnt == 2) || (!short && pubcnt > 2)) {
		a.acked = true
	}
	return res
}

// Wipe zeroes private and secret material. The Agreement must not be used
// afterwards.
func (a *Agreement) Wipe() {
	memzero.ZeroBig(a.private)
	memzero.ZeroBig(a.secret)
	memzero.ZeroBig(a.bd)
	a.secret = nil
	a.bd = nil
	a.pubs, a.bds, a.acks = nil, nil, nil
}

func (a *Agreement) generate() error {
	// private in [1, p-2]
	limit := new(big.Int).Sub(a.prime, big.NewInt(2))
	if limit.Sign() <= 0 {
		return ErrInvalidModulus
	}
	x, err := rand.Int(rand.Reader, limit)
	if err != nil {
		return fmt.Errorf("gka: generate private: %w", err)
	}
	x.Add(x, one)

	pub, err := modExp(big.NewInt(Generator), x, a.prime)
	if err != nil {
		return err
	}
	memzero.ZeroBig(a.private)
	a.private, a.public = x, pub
	return nil
}

func (a *Agreement) validPublic(v *big.Int) bool {
	pm1 := new(big.Int).Sub(a.prime, one)
	return v.Cmp(one) > 0 && v.Cmp(pm1) < 0
}

// sortedIDs returns the keys of m in ring order and the index of self.
func sortedIDs(m map[string]*big.Int, self string) ([]string, int) {
	ids := make([]string, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	idx := sort.SearchStrings(ids, self)
	return ids, idx
}

// computeBD recomputes the local BD value from the current ring and records
// it. It returns the ring neighbours of self.
func (a *Agreement) computeBD() (prev, next *big.Int, err error) {
	ids, idx := sortedIDs(a.pubs, a.self)
	n := len(ids)
	if n < 2 || idx >= n || ids[idx] != a.self {
		return nil, nil, nil
	}
	prev = a.pubs[ids[(idx+n-1)%n]]
	next = a.pubs[ids[(idx+1)%n]]

	inv, err := modInverse(prev, a.prime)
	if err != nil {
		return nil, nil, err
	}
	ratio := inv.Mul(next, inv)
	ratio.Mod(ratio, a.prime)
	bd, err := modExp(ratio, a.private, a.prime)
	if err != nil {
		return nil, nil, err
	}
	a.bd = bd
	a.bds[a.self] = bd
	return prev, next, nil
}

func (a *Agreement) deriveSecret(prev *big.Int) error {
	ids, idx := sortedIDs(a.bds, a.self)
	n := len(ids)
	if idx >= n || ids[idx] != a.self {
		return errors.New("gka: self missing from BD table")
	}

	nBig := big.NewInt(int64(n))
	exp := new(big.Int).Mul(nBig, a.private)
	key, err := modExp(prev, exp, a.prime)
	if err != nil {
		return err
	}
	for i := 0; i < n; i++ {
		base := a.bds[ids[(i+idx)%n]]
		term, err := modExp(base, big.NewInt(int64(n-1-i)), a.prime)
		if err != nil {
			return err
		}
		key.Mul(key, term)
		key.Mod(key, a.prime)
	}
	memzero.ZeroBig(exp)
	memzero.ZeroBig(a.secret)
	a.secret = key
	a.acked = false
	return nil
}

// resetRound drops BD values, acks and the secret but keeps public values.
func (a *Agreement) resetRound() {
	a.bds = make(map[string]*big.Int)
	a.acks = make(map[string]bool)
	memzero.ZeroBig(a.secret)
	a.secret = nil
	a.acked = false
	a.announced = false
}

// resetAll also drops every peer public value and the local BD value.
func (a *Agreement) resetAll() {
	a.resetRound()
	a.pubs = map[string]*big.Int{a.self: a.public}
	a.bd = nil
}
