package ledger_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"mleschat/internal/protocol/ledger"
)

func TestAccept_Idempotent(t *testing.T) {
	l := ledger.New()
	require.True(t, l.Accept("alice", 100, 0xdead))
	require.Equal(t, 1, l.Len("alice"))

	require.False(t, l.Accept("alice", 100, 0xdead))
	require.Equal(t, 1, l.Len("alice"))
	newest, ok := l.Newest("alice")
	require.True(t, ok)
	require.EqualValues(t, 100, newest)

	// Same hash from another sender or at another time is a new message.
	require.True(t, l.Accept("bob", 100, 0xdead))
	require.True(t, l.Accept("alice", 101, 0xdead))
	require.True(t, l.Accept("alice", 100, 0xbeef))
}

func TestAdmit_Late(t *testing.T) {
	l := ledger.New()
	ok, late := l.Admit("alice", 200, 1)
	require.True(t, ok)
	require.False(t, late)

	ok, late = l.Admit("alice", 150, 2)
	require.True(t, ok)
	require.True(t, late)

	newest, _ := l.Newest("alice")
	require.EqualValues(t, 200, newest)

	ok, late = l.Admit("alice", 150, 2)
	require.False(t, ok)
	require.False(t, late)
}

func TestLedger_ReplayAfterManyAndClear(t *testing.T) {
	l := ledger.New()
	require.True(t, l.Accept("alice", 1000, 42))
	for i := 0; i < 4096; i++ {
		require.True(t, l.Accept("alice", int64(2000+i), uint64(i)))
	}
	require.Equal(t, 4097, l.Len("alice"))

	// A relay replay of the first message is refused however much came
	// after it.
	require.False(t, l.Accept("alice", 1000, 42))
	require.False(t, l.Accept("alice", 5000, 3000))

	l.Clear()
	require.Zero(t, l.Len("alice"))
	_, ok := l.Newest("alice")
	require.False(t, ok)
	require.True(t, l.Accept("alice", 5, 5))
}

func TestHash(t *testing.T) {
	k := ledger.KeyFrom("c2VjcmV0LWNoYW5uZWw=")
	a := ledger.Hash(k, "alice", 1, []byte("hello"), true)
	require.Equal(t, a, ledger.Hash(k, "alice", 1, []byte("hello"), true))
	require.NotEqual(t, a, ledger.Hash(k, "alice", 1, []byte("hello"), false))
	require.NotEqual(t, a, ledger.Hash(k, "alice", 2, []byte("hello"), true))
	require.NotEqual(t, a, ledger.Hash(ledger.KeyFrom("other"), "alice", 1, []byte("hello"), true))

	// Presence frames have no payload but still hash per timestamp.
	require.NotEqual(t,
		ledger.Hash(k, "alice", 1, nil, false),
		ledger.Hash(k, "alice", 2, nil, false))
}
