package kdf

import (
	"fmt"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/scrypt"

	"mleschat/internal/util/memzero"
)

// Domain tags separating the keys derived from one stretched passphrase.
const (
	DomainChannel = "Mles-WebWorkerCompChannelDom!v1"
	DomainMessage = "Mles-WebWorkerCompEncryptDom!v1"
	DomainAuth    = "Mles-WebWorkerCompAuthDom!v1"
)

// scrypt parameters. These are fixed by the protocol: every participant
// must stretch identically to arrive at the same keys and DH prime.
const (
	ScryptN = 1 << 15
	ScryptR = 8
	ScryptP = 1

	// KeySize is the stretched key length and the upper bound on any key
	// handed to Derive.
	KeySize = 32

	cipherKeySize = 7
	saltSize      = 8
	authKeySize   = 32
)

// Keys is the symmetric material for one channel: the identity cipher key
// and salt, the message cipher key and salt, and the MAC key.
type Keys struct {
	ChannelKey  []byte
	ChannelSalt []byte
	MessageKey  []byte
	MessageSalt []byte
	AuthKey     []byte
}

// Stretch hardens passphrase with scrypt. The salt is a hash of the
// passphrase itself so it never needs to be transmitted.
func Stretch(passphrase []byte) ([]byte, error) {
	h, _ := blake2b.New256(nil)
	h.Write(passphrase)
	h.Write([]byte("salty"))
	salt := h.Sum(nil)
	defer memzero.Zero(salt)

	key, err := scrypt.Key(passphrase, salt, ScryptN, ScryptR, ScryptP, KeySize)
	if err != nil {
		return nil, fmt.Errorf("kdf: stretch: %w", err)
	}
	return key, nil
}

// Derive expands a stretched key into the channel Keys.
//
// It panics if key is longer than KeySize.
func Derive(key []byte) *Keys {
	mustFit(key)

	chanRound := keyed(32, key, []byte(DomainChannel))
	chanSaltRound := keyed(32, key, []byte(DomainChannel), key)
	msgSaltRound := keyed(32, key, []byte(DomainMessage), key, key)
	defer memzero.Zero(chanRound)
	defer memzero.Zero(chanSaltRound)
	defer memzero.Zero(msgSaltRound)

	return &Keys{
		ChannelKey:  keyed(cipherKeySize, key, []byte(DomainChannel), chanRound),
		ChannelSalt: keyed(saltSize, key, []byte(DomainChannel), chanSaltRound),
		MessageKey:  keyed(cipherKeySize, key, []byte(DomainMessage)),
		MessageSalt: keyed(saltSize, key, msgSaltRound),
		AuthKey:     keyed(authKeySize, key, []byte(DomainAuth)),
	}
}

// DeriveGroup derives the group Keys seeded by a group secret. The seed is
// bound to the channel's baseline AuthKey so equal secrets on different
// channels do not collide.
func DeriveGroup(authKey, secret []byte) *Keys {
	mustFit(authKey)
	seed := keyed(KeySize, authKey, secret)
	defer memzero.Zero(seed)
	return Derive(seed)
}

// Clone returns a deep copy. Cipher constructors wipe what they are given,
// so callers hand out clones.
func (k *Keys) Clone() *Keys {
	if k == nil {
		return nil
	}
	return &Keys{
		ChannelKey:  clone(k.ChannelKey),
		ChannelSalt: clone(k.ChannelSalt),
		MessageKey:  clone(k.MessageKey),
		MessageSalt: clone(k.MessageSalt),
		AuthKey:     clone(k.AuthKey),
	}
}

// Wipe zeroes all key material.
func (k *Keys) Wipe() {
	if k == nil {
		return
	}
	memzero.Zero(k.ChannelKey)
	memzero.Zero(k.ChannelSalt)
	memzero.Zero(k.MessageKey)
	memzero.Zero(k.MessageSalt)
	memzero.Zero(k.AuthKey)
}

func keyed(size int, key []byte, parts ...[]byte) []byte {
	h, err := blake2b.New(size, key)
	if err != nil {
		panic("kdf: " + err.Error())
	}
	for _, p := range parts {
		h.Write(p)
	}
	return h.Sum(nil)
}

func mustFit(key []byte) {
	if len(key) > KeySize {
		panic(fmt.Sprintf("kdf: key material too large: %d bytes", len(key)))
	}
}

func clone(b []byte) []byte { return append([]byte(nil), b...) }
