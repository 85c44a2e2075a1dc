package crypto

import (
	"bytes"
	"errors"
	"fmt"

	"golang.org/x/crypto/blowfish"

	"mleschat/internal/util/memzero"
)

const (
	// BlockSize is the block length of both cipher modes.
	BlockSize = blowfish.BlockSize

	// MaxKeySize bounds every key handed to a constructor in this package.
	MaxKeySize = 32
)

// ErrBadIdentity is returned by Reveal for input that cannot be an
// obfuscated identifier.
var ErrBadIdentity = errors.New("crypto: malformed obfuscated identifier")

// IdentityCipher obfuscates short identifiers (user and channel names). It is
// stateless and needs no nonce, so the same identifier always maps to the same
// obfuscated string under one key.
type IdentityCipher struct {
	block *blowfish.Cipher
}

// NewIdentityCipher builds the cipher from key and salt, then wipes both.
// The salted key schedule makes a partial key useless without the salt.
//
// It panics if key is empty or longer than MaxKeySize.
func NewIdentityCipher(key, salt []byte) *IdentityCipher {
	return &IdentityCipher{block: newBlock(key, salt)}
}

// Obfuscate zero-pads id to the block size, encrypts each block
// independently and returns base64.
func (c *IdentityCipher) Obfuscate(id string) string {
	buf := zeroPad([]byte(id))
	for off := 0; off < len(buf); off += BlockSize {
		c.block.Encrypt(buf[off:off+BlockSize], buf[off:off+BlockSize])
	}
	return B64(buf)
}

// Reveal inverts Obfuscate.
func (c *IdentityCipher) Reveal(s string) (string, error) {
	buf, err := UnB64(s)
	if err != nil || len(buf) == 0 || len(buf)%BlockSize != 0 {
		return "", ErrBadIdentity
	}
	for off := 0; off < len(buf); off += BlockSize {
		c.block.Decrypt(buf[off:off+BlockSize], buf[off:off+BlockSize])
	}
	return string(bytes.TrimRight(buf, "\x00")), nil
}

func newBlock(key, salt []byte) *blowfish.Cipher {
	if len(key) == 0 || len(key) > MaxKeySize {
		panic(fmt.Sprintf("crypto: invalid key length %d", len(key)))
	}
	var (
		b   *blowfish.Cipher
		err error
	)
	if len(salt) == 0 {
		b, err = blowfish.NewCipher(key)
	} else {
		b, err = blowfish.NewSaltedCipher(key, salt)
	}
	memzero.Zero(key)
	memzero.Zero(salt)
	if err != nil {
		panic("crypto: " + err.Error())
	}
	return b
}

func zeroPad(b []byte) []byte {
	n := len(b)
	if n == 0 || n%BlockSize != 0 {
		n += BlockSize - n%BlockSize
	}
	out := make([]byte, n)
	copy(out, b)
	return out
}
