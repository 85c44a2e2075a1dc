package store_test

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"mleschat/internal/domain"
	"mleschat/internal/store"
)

func openBolt(t *testing.T) *store.Bolt {
	t.Helper()
	db, err := store.OpenBolt(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestBolt_GetSetRemove(t *testing.T) {
	var kv domain.KV = openBolt(t)

	_, ok, err := kv.Get("missing")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, kv.Set("k", []byte("v")))
	v, ok, err := kv.Get("k")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("v"), v)

	require.NoError(t, kv.Remove("k"))
	_, ok, err = kv.Get("k")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestBolt_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")
	db, err := store.OpenBolt(path)
	require.NoError(t, err)
	require.NoError(t, db.Set("addr/x", []byte("relay:8077")))
	require.NoError(t, db.Close())

	db, err = store.OpenBolt(path)
	require.NoError(t, err)
	defer db.Close()
	v, ok, err := db.Get("addr/x")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "relay:8077", string(v))
}

func TestPrevSecret_SaveLoad_OK(t *testing.T) {
	st := store.NewStateStore(openBolt(t))
	store.FastScrypt(st)

	secret := []byte("0123456789abcdef0123456789abcdef")
	require.NoError(t, st.SavePrevSecret("correct-horse", "lab42", secret))

	got, ok, err := st.LoadPrevSecret("correct-horse", "lab42")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, secret, got)

	require.NoError(t, st.RemovePrevSecret("lab42"))
	_, ok, err = st.LoadPrevSecret("correct-horse", "lab42")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestPrevSecret_WrongPassphraseOrChannel_Fails(t *testing.T) {
	kv := store.NewMemory()
	st := store.NewStateStore(kv)
	store.FastScrypt(st)

	require.NoError(t, st.SavePrevSecret("correct", "lab42", []byte("secret")))
	_, _, err := st.LoadPrevSecret("wrong", "lab42")
	require.ErrorIs(t, err, store.ErrWrongPassphrase)

	// A blob copied under another channel does not open.
	b, _, err := kv.Get("prev/lab42")
	require.NoError(t, err)
	require.NoError(t, kv.Set("prev/other", b))
	_, _, err = st.LoadPrevSecret("correct", "other")
	require.ErrorIs(t, err, store.ErrWrongPassphrase)
}

func TestJoinedAndTimestamps(t *testing.T) {
	st := store.NewStateStore(store.NewMemory())

	joined, err := st.Joined()
	require.NoError(t, err)
	require.Empty(t, joined)

	require.NoError(t, st.AddJoined("a"))
	require.NoError(t, st.AddJoined("b"))
	require.NoError(t, st.AddJoined("a"))
	joined, err = st.Joined()
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b"}, joined)

	require.NoError(t, st.RemoveJoined("a"))
	joined, err = st.Joined()
	require.NoError(t, err)
	require.Equal(t, []string{"b"}, joined)

	ts, err := st.LastRead("b")
	require.NoError(t, err)
	require.True(t, ts.IsZero())

	now := time.UnixMilli(time.Now().UnixMilli())
	require.NoError(t, st.SetLastRead("b", now))
	require.NoError(t, st.SetLastNotified("b", now.Add(time.Minute)))
	ts, err = st.LastRead("b")
	require.NoError(t, err)
	require.True(t, now.Equal(ts))
	ts, err = st.LastNotified("b")
	require.NoError(t, err)
	require.True(t, now.Add(time.Minute).Equal(ts))

	require.NoError(t, st.SaveAddress("b", "localhost:8077"))
	addr, ok, err := st.LoadAddress("b")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "localhost:8077", addr)
}
