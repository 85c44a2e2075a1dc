package store

import (
	"crypto/rand"
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/scrypt"

	"mleschat/internal/util/memzero"
)

const (
	// The current supported version of the sealed blob format.
	envelopeFormatVersion = 1
)

var (
	// ErrWrongPassphrase is returned when the passphrase is incorrect or the
	// ciphertext has been modified / corrupted.
	ErrWrongPassphrase = errors.New("store: wrong passphrase or corrupted blob")
)

// blob is the stored structure holding the ciphertext and KDF parameters.
type blob struct {
	V      int    `cbor:"v"`
	Salt   []byte `cbor:"salt"`
	N      int    `cbor:"n"`
	R      int    `cbor:"r"`
	P      int    `cbor:"p"`
	Cipher []byte `cbor:"cipher"`
}

// scryptParams are the tunables for scrypt key derivation.
type scryptParams struct {
	N, R, P int
}

func scryptParamsDefault() scryptParams { return scryptParams{N: 1 << 15, R: 8, P: 1} }

// seal derives a key from passphrase and seals raw into a CBOR blob. The
// channel id is bound as additional data so a blob cannot be replayed under
// another channel's key.
func seal(passphrase, channel string, raw []byte, sp scryptParams) ([]byte, error) {
	var salt [16]byte
	if _, err := rand.Read(salt[:]); err != nil {
		return nil, err
	}
	key, err := scrypt.Key([]byte(passphrase), salt[:], sp.N, sp.R, sp.P, chacha20poly1305.KeySize)
	if err != nil {
		return nil, err
	}
	defer memzero.Zero(key)
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, err
	}
	var nonce [chacha20poly1305.NonceSize]byte // zero nonce; salt-bound key guarantees uniqueness
	ct := aead.Seal(nil, nonce[:], raw, additionalData(salt[:], channel))

	return cbor.Marshal(blob{
		V:      envelopeFormatVersion,
		Salt:   salt[:],
		N:      sp.N,
		R:      sp.R,
		P:      sp.P,
		Cipher: ct,
	})
}

// open opens the CBOR blob using a key derived from passphrase.
func open(passphrase, channel string, b []byte) ([]byte, error) {
	var bl blob
	if err := cbor.Unmarshal(b, &bl); err != nil {
		return nil, fmt.Errorf("store: decode blob: %w", err)
	}
	if bl.V > envelopeFormatVersion {
		return nil, fmt.Errorf("store: unsupported blob version %d", bl.V)
	}

	key, err := scrypt.Key([]byte(passphrase), bl.Salt, bl.N, bl.R, bl.P, chacha20poly1305.KeySize)
	if err != nil {
		return nil, err
	}
	defer memzero.Zero(key)
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, err
	}
	var nonce [chacha20poly1305.NonceSize]byte
	pt, err := aead.Open(nil, nonce[:], bl.Cipher, additionalData(bl.Salt, channel))
	if err != nil {
		return nil, ErrWrongPassphrase
	}
	return pt, nil
}

func additionalData(salt []byte, channel string) []byte {
	ad := make([]byte, 0, len(salt)+len(channel))
	ad = append(ad, salt...)
	return append(ad, channel...)
}
