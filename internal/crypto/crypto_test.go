package crypto_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"mleschat/internal/crypto"
)

func key(b byte, n int) []byte { return bytes.Repeat([]byte{b}, n) }

func TestIdentityCipher_RoundTrip(t *testing.T) {
	c := crypto.NewIdentityCipher(key(1, 7), key(2, 8))

	for _, id := range []string{"a", "alice", "exactly8", "a longer channel name"} {
		ob := c.Obfuscate(id)
		require.NotEqual(t, id, ob)

		got, err := c.Reveal(ob)
		require.NoError(t, err)
		require.Equal(t, id, got)
	}
}

func TestIdentityCipher_Deterministic(t *testing.T) {
	a := crypto.NewIdentityCipher(key(1, 7), key(2, 8))
	b := crypto.NewIdentityCipher(key(1, 7), key(2, 8))
	require.Equal(t, a.Obfuscate("lab42"), b.Obfuscate("lab42"))

	other := crypto.NewIdentityCipher(key(1, 7), key(3, 8))
	require.NotEqual(t, a.Obfuscate("lab42"), other.Obfuscate("lab42"))
}

func TestIdentityCipher_RejectsGarbage(t *testing.T) {
	c := crypto.NewIdentityCipher(key(1, 7), key(2, 8))
	_, err := c.Reveal("not base64!")
	require.ErrorIs(t, err, crypto.ErrBadIdentity)
	_, err = c.Reveal(crypto.B64([]byte{1, 2, 3}))
	require.ErrorIs(t, err, crypto.ErrBadIdentity)
}

func TestConstructors_WipeKeyMaterial(t *testing.T) {
	k, s := key(9, 7), key(8, 8)
	_ = crypto.NewMessageCipher(k, s)
	require.Equal(t, make([]byte, 7), k)
	require.Equal(t, make([]byte, 8), s)
}

func TestConstructors_PanicOnOversizedKey(t *testing.T) {
	require.Panics(t, func() { crypto.NewMessageCipher(key(1, 33), key(2, 8)) })
	require.Panics(t, func() { crypto.NewIdentityCipher(nil, key(2, 8)) })
	require.Panics(t, func() { crypto.MAC(key(1, 33), []byte("x")) })
}

func TestMessageCipher_RoundTrip(t *testing.T) {
	c := crypto.NewMessageCipher(key(4, 7), key(5, 8))
	iv := key(6, 32)
	pt := bytes.Repeat([]byte("0123456789abcdef"), 4)

	ct, err := c.Encrypt(iv, pt)
	require.NoError(t, err)
	require.NotEqual(t, pt, ct)

	got, err := c.Decrypt(iv, ct)
	require.NoError(t, err)
	require.Equal(t, pt, got)

	_, err = c.Encrypt(iv, []byte("short"))
	require.ErrorIs(t, err, crypto.ErrNotAligned)
	_, err = c.Decrypt(iv, nil)
	require.ErrorIs(t, err, crypto.ErrNotAligned)
}

func TestMAC_VerifyConstantResult(t *testing.T) {
	k := key(7, 32)
	tag := crypto.MAC(k, []byte("dom"), []byte("nonce"), []byte("ct"))
	require.Len(t, tag, crypto.MACSize)
	require.True(t, crypto.VerifyMAC(k, tag, []byte("dom"), []byte("nonce"), []byte("ct")))

	bad := append([]byte(nil), tag...)
	bad[len(bad)-1] ^= 1
	require.False(t, crypto.VerifyMAC(k, bad, []byte("dom"), []byte("nonce"), []byte("ct")))
	require.False(t, crypto.VerifyMAC(key(8, 32), tag, []byte("dom"), []byte("nonce"), []byte("ct")))
	require.False(t, crypto.VerifyMAC(k, tag[:4], []byte("dom"), []byte("nonce"), []byte("ct")))
}

func TestFingerprint(t *testing.T) {
	fp := crypto.Fingerprint([]byte("lab42"), key(3, 32))
	require.Len(t, fp, 2*crypto.FingerprintSize+crypto.FingerprintSize/2-1)
	require.Equal(t, fp, crypto.Fingerprint([]byte("lab42"), key(3, 32)))
	require.NotEqual(t, crypto.Fingerprint([]byte("ab"), []byte("c")), crypto.Fingerprint([]byte("a"), []byte("bc")))
}
