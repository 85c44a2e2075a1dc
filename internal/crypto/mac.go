package crypto

import (
	"crypto/subtle"
	"fmt"

	"golang.org/x/crypto/blake2b"
)

// MACSize is the truncated tag length appended to every frame.
const MACSize = 12

// MAC returns the keyed BLAKE2b tag over the concatenation of parts.
// It panics if key is longer than MaxKeySize.
func MAC(key []byte, parts ...[]byte) []byte {
	if len(key) > MaxKeySize {
		panic(fmt.Sprintf("crypto: invalid MAC key length %d", len(key)))
	}
	h, err := blake2b.New(MACSize, key)
	if err != nil {
		panic("crypto: " + err.Error())
	}
	for _, p := range parts {
		h.Write(p)
	}
	return h.Sum(nil)
}

// VerifyMAC recomputes the tag and compares it in constant time.
func VerifyMAC(key, tag []byte, parts ...[]byte) bool {
	return subtle.ConstantTimeCompare(MAC(key, parts...), tag) == 1
}
