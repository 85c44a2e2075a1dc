package codec_test

import (
	"bytes"
	"crypto/rand"
	"encoding/binary"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"mleschat/internal/crypto"
	"mleschat/internal/domain"
	"mleschat/internal/protocol/codec"
	"mleschat/internal/protocol/kdf"
)

func keyset(seed byte) codec.Keyset {
	k := kdf.Derive(bytes.Repeat([]byte{seed}, kdf.KeySize))
	return codec.Keyset{
		Cipher:  crypto.NewMessageCipher(k.MessageKey, k.MessageSalt),
		AuthKey: k.AuthKey,
	}
}

func TestScatter_RoundTrip(t *testing.T) {
	buf := make([]byte, 8)
	for i := 0; i < 2000; i++ {
		_, err := rand.Read(buf)
		require.NoError(t, err)
		cover := binary.BigEndian.Uint32(buf)
		value := binary.BigEndian.Uint32(buf[4:])
		v := uint16(i * 7919)

		s := codec.Scatter(cover, value, v)
		require.Equal(t, v, codec.Unscatter(cover, s))
	}
}

func TestScatter_EdgeCovers(t *testing.T) {
	for _, cover := range []uint32{0, 0xffffffff, 0x0000ffff, 0xffff0000, 0x7fff0000, 0xaaaaaaaa} {
		for _, v := range []uint16{0, 1, 0x8000, 0xffff, 0x1234} {
			require.Equal(t, v, codec.Unscatter(cover, codec.Scatter(cover, 0x5a5a5a5a, v)))
		}
	}
}

func TestHeader_RoundTrip(t *testing.T) {
	now := time.Date(2026, 10, 19, 13, 37, 42, 0, time.UTC)
	h := codec.Header{
		MsgSize: 1234,
		KeySize: 128,
		Flags:   domain.FlagFull | domain.FlagMultipart | domain.FlagLast | domain.FlagBDAck,
	}
	h.SetTime(now)

	b, err := h.Marshal(nil)
	require.NoError(t, err)
	require.Len(t, b, codec.HeaderSize)

	got, err := codec.ParseHeader(b)
	require.NoError(t, err)
	require.Equal(t, h, got)
	require.True(t, now.Equal(got.Time()))
}

func TestHeader_LocalFlagsNotTransmitted(t *testing.T) {
	h := codec.Header{Flags: domain.FlagPresence | domain.FlagPresAckReq | domain.FlagFirst}
	b, err := h.Marshal(nil)
	require.NoError(t, err)
	got, err := codec.ParseHeader(b)
	require.NoError(t, err)
	// PresAckReq is local; First without Multipart is meaningless.
	require.Equal(t, domain.FlagPresence, got.Flags)
}

func TestStamp_ClampsBeforeEpoch(t *testing.T) {
	w, m, s := codec.Stamp(codec.Epoch.Add(-time.Hour))
	require.Zero(t, w)
	require.Zero(t, m)
	require.Zero(t, s)
}

func TestPad_SizeClasses(t *testing.T) {
	cases := map[int]int{0: 0, 1: 1, 9: 10, 40: 40, 100: 104, 1000: 1024, 50000: 51200}
	for in, want := range cases {
		require.Equal(t, want, codec.Pad(in), "Pad(%d)", in)
	}
	prev := 0
	for l := 1; l < 1<<16; l += 37 {
		p := codec.Pad(l)
		require.GreaterOrEqual(t, p, l)
		require.GreaterOrEqual(t, p, prev)
		require.LessOrEqual(t, p-l, l/8+1)
		prev = p
	}
}

func TestSealOpen_RoundTrip(t *testing.T) {
	ks := keyset(1)
	now := time.Now().UTC().Truncate(time.Second)
	keys := bytes.Repeat([]byte{0xab}, 64)

	for _, payload := range [][]byte{nil, []byte("hi"), bytes.Repeat([]byte("lorem ipsum "), 2000)} {
		msg, err := codec.Seal(ks, codec.Message{
			Flags:   domain.FlagFull | domain.FlagBDOne,
			Time:    now,
			Payload: payload,
			Keys:    keys,
			Pad:     64,
		})
		require.NoError(t, err)
		require.Zero(t, (len(msg)-codec.NonceSize-crypto.MACSize)%crypto.BlockSize)

		got, err := codec.Open(msg, ks)
		require.NoError(t, err)
		require.Equal(t, 0, got.Slot)
		require.Equal(t, len(payload), len(got.Payload))
		if len(payload) > 0 {
			require.Equal(t, payload, got.Payload)
		}
		require.Equal(t, keys, got.Keys)
		require.Equal(t, domain.FlagFull|domain.FlagBDOne, got.Flags())
		require.True(t, now.Equal(got.Time()))
	}
}

func TestOpen_CandidateOrder(t *testing.T) {
	group, prev, base := keyset(1), keyset(2), keyset(3)
	msg, err := codec.Seal(prev, codec.Message{Flags: domain.FlagFull, Time: time.Now(), Payload: []byte("x")})
	require.NoError(t, err)

	got, err := codec.Open(msg, group, prev, base)
	require.NoError(t, err)
	require.Equal(t, 1, got.Slot)

	got, err = codec.Open(msg, codec.Keyset{}, prev)
	require.NoError(t, err)
	require.Equal(t, 1, got.Slot)

	_, err = codec.Open(msg, group, base)
	require.ErrorIs(t, err, codec.ErrAuth)
}

func TestOpen_RejectsTamperingAndTruncation(t *testing.T) {
	ks := keyset(4)
	msg, err := codec.Seal(ks, codec.Message{Flags: domain.FlagFull, Time: time.Now(), Payload: []byte("payload")})
	require.NoError(t, err)

	for _, i := range []int{0, codec.NonceSize + 1, len(msg) - 1} {
		bad := append([]byte(nil), msg...)
		bad[i] ^= 0x01
		_, err := codec.Open(bad, ks)
		require.ErrorIs(t, err, codec.ErrAuth)
	}

	_, err = codec.Open(msg[:codec.NonceSize+4], ks)
	require.ErrorIs(t, err, codec.ErrMalformed)
	_, err = codec.Open(nil, ks)
	require.ErrorIs(t, err, codec.ErrMalformed)
}

func TestSeal_RejectsOversizedPayload(t *testing.T) {
	_, err := codec.Seal(keyset(5), codec.Message{Payload: make([]byte, codec.MaxPayload+1)})
	require.ErrorIs(t, err, codec.ErrTooLarge)
}

func TestFrame_CBOR(t *testing.T) {
	in := &domain.Frame{UID: "dWlk", Channel: "Y2hhbg==", Message: []byte{1, 2, 3}}
	b, err := codec.MarshalFrame(in)
	require.NoError(t, err)

	out, err := codec.UnmarshalFrame(b)
	require.NoError(t, err)
	require.Equal(t, in, out)

	_, err = codec.UnmarshalFrame([]byte{0xff, 0x00})
	require.ErrorIs(t, err, codec.ErrMalformed)

	b, err = codec.MarshalFrame(&domain.Frame{UID: "x"})
	require.NoError(t, err)
	_, err = codec.UnmarshalFrame(b)
	require.ErrorIs(t, err, codec.ErrMalformed)
}
