package kdf_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"mleschat/internal/protocol/kdf"
)

func TestStretch_Deterministic(t *testing.T) {
	a, err := kdf.Stretch([]byte("correct-horse"))
	require.NoError(t, err)
	b, err := kdf.Stretch([]byte("correct-horse"))
	require.NoError(t, err)
	require.Len(t, a, kdf.KeySize)
	require.Equal(t, a, b)

	c, err := kdf.Stretch([]byte("correct-horsE"))
	require.NoError(t, err)
	require.NotEqual(t, a, c)
}

func TestDerive_DomainSeparated(t *testing.T) {
	key := bytes.Repeat([]byte{0x11}, kdf.KeySize)
	k := kdf.Derive(key)

	require.Len(t, k.ChannelKey, 7)
	require.Len(t, k.MessageKey, 7)
	require.Len(t, k.ChannelSalt, 8)
	require.Len(t, k.MessageSalt, 8)
	require.Len(t, k.AuthKey, 32)

	require.NotEqual(t, k.ChannelKey, k.MessageKey)
	require.NotEqual(t, k.ChannelSalt, k.MessageSalt)
	require.Equal(t, k, kdf.Derive(key))
}

func TestDeriveGroup_DistinctFromBaseline(t *testing.T) {
	base := kdf.Derive(bytes.Repeat([]byte{0x22}, kdf.KeySize))
	secret := bytes.Repeat([]byte{0x33}, 64)

	g1 := kdf.DeriveGroup(base.AuthKey, secret)
	g2 := kdf.DeriveGroup(base.AuthKey, secret)
	require.Equal(t, g1, g2)
	require.NotEqual(t, base.AuthKey, g1.AuthKey)
	require.NotEqual(t, base.MessageKey, g1.MessageKey)

	other := kdf.DeriveGroup(bytes.Repeat([]byte{0x44}, 32), secret)
	require.NotEqual(t, g1.AuthKey, other.AuthKey)
}

func TestDerive_OversizedKeyPanics(t *testing.T) {
	require.Panics(t, func() { kdf.Derive(make([]byte, kdf.KeySize+1)) })
}

func TestKeys_CloneAndWipe(t *testing.T) {
	k := kdf.Derive(bytes.Repeat([]byte{0x55}, kdf.KeySize))
	c := k.Clone()
	k.Wipe()
	require.Equal(t, make([]byte, 32), k.AuthKey)
	require.NotEqual(t, make([]byte, 32), c.AuthKey)
}
