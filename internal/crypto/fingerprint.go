package crypto

import (
	"encoding/binary"
	"encoding/hex"
	"strings"

	"golang.org/x/crypto/blake2b"
)

// FingerprintSize is the number of digest bytes shown.
const FingerprintSize = 10

// Fingerprint returns a short digest of parts for humans to compare, as
// groups of four hex digits.
//
// Parts are length-prefixed before hashing, so ("ab", "c") and ("a", "bc")
// differ.
func Fingerprint(parts ...[]byte) string {
	h, _ := blake2b.New256(nil)
	for _, p := range parts {
		var n [4]byte
		binary.BigEndian.PutUint32(n[:], uint32(len(p)))
		h.Write(n[:])
		h.Write(p)
	}
	digits := hex.EncodeToString(h.Sum(nil)[:FingerprintSize])

	var b strings.Builder
	for i := 0; i < len(digits); i += 4 {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(digits[i:min(i+4, len(digits))])
	}
	return b.String()
}
