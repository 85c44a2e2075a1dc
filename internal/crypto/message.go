package crypto

import (
	"crypto/cipher"
	"errors"
)

// ErrNotAligned is returned when input to the message cipher is not a
// multiple of BlockSize.
var ErrNotAligned = errors.New("crypto: input is not block aligned")

// MessageCipher encrypts message bodies in CBC mode. The IV is supplied per
// message by the caller, normally the leading bytes of the frame nonce.
type MessageCipher struct {
	block cipher.Block
}

// NewMessageCipher builds the cipher from key and salt, then wipes both.
// It panics if key is empty or longer than MaxKeySize.
func NewMessageCipher(key, salt []byte) *MessageCipher {
	return &MessageCipher{block: newBlock(key, salt)}
}

// Encrypt returns the CBC encryption of plaintext under iv. Only the first
// BlockSize bytes of iv are used.
func (c *MessageCipher) Encrypt(iv, plaintext []byte) ([]byte, error) {
	if len(plaintext)%BlockSize != 0 {
		return nil, ErrNotAligned
	}
	if len(iv) < BlockSize {
		return nil, errors.New("crypto: short iv")
	}
	out := make([]byte, len(plaintext))
	cipher.NewCBCEncrypter(c.block, iv[:BlockSize]).CryptBlocks(out, plaintext)
	return out, nil
}

// Decrypt reverses Encrypt.
func (c *MessageCipher) Decrypt(iv, ciphertext []byte) ([]byte, error) {
	if len(ciphertext) == 0 || len(ciphertext)%BlockSize != 0 {
		return nil, ErrNotAligned
	}
	if len(iv) < BlockSize {
		return nil, errors.New("crypto: short iv")
	}
	out := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(c.block, iv[:BlockSize]).CryptBlocks(out, ciphertext)
	return out, nil
}
