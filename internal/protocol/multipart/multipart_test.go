package multipart_test

import (
	"crypto/rand"
	"crypto/sha256"
	"testing"

	"github.com/stretchr/testify/require"

	"mleschat/internal/domain"
	"mleschat/internal/protocol/multipart"
)

func image(t *testing.T, n int) []byte {
	t.Helper()
	b := make([]byte, n)
	_, err := rand.Read(b)
	require.NoError(t, err)
	return b
}

func TestSplit_FlagsAndIndices(t *testing.T) {
	var c multipart.Counter
	frags, err := multipart.Split(image(t, 20000), multipart.DefaultSlice, &c)
	require.NoError(t, err)
	require.Len(t, frags, 3)

	require.True(t, frags[0].Flags.Has(domain.FlagMultipart|domain.FlagFirst))
	require.False(t, frags[0].Flags.Has(domain.FlagLast))
	require.Equal(t, domain.FlagMultipart, frags[1].Flags)
	require.True(t, frags[2].Flags.Has(domain.FlagMultipart|domain.FlagLast))

	require.Equal(t, "00000000", string(frags[0].Data[:multipart.IndexWidth]))
	require.Equal(t, "00000002", string(frags[2].Data[:multipart.IndexWidth]))

	// The counter carries over to the next series.
	next, err := multipart.Split([]byte("x"), multipart.DefaultSlice, &c)
	require.NoError(t, err)
	require.Len(t, next, 1)
	require.Equal(t, "00000003", string(next[0].Data[:multipart.IndexWidth]))
	require.True(t, next[0].Flags.Has(domain.FlagFirst|domain.FlagLast))

	_, err = multipart.Split([]byte("x"), 0, &c)
	require.ErrorIs(t, err, multipart.ErrSliceSize)
}

func TestAssembler_ReassemblesImage(t *testing.T) {
	img := image(t, 50000)
	var c multipart.Counter
	frags, err := multipart.Split(img, multipart.DefaultSlice, &c)
	require.NoError(t, err)

	a := multipart.NewAssembler(0)
	var out []byte
	for i, f := range frags {
		got, st := a.Add("alice", f.Flags, f.Data)
		if i < len(frags)-1 {
			require.Equal(t, multipart.Pending, st)
			continue
		}
		require.Equal(t, multipart.Complete, st)
		out = got
	}
	require.Equal(t, sha256.Sum256(img), sha256.Sum256(out))
	require.Zero(t, a.Pending())
}

func TestAssembler_DroppedMiddleYieldsNothing(t *testing.T) {
	var c multipart.Counter
	frags, err := multipart.Split(image(t, 50000), multipart.DefaultSlice, &c)
	require.NoError(t, err)

	a := multipart.NewAssembler(0)
	for i, f := range frags {
		if i == 3 {
			continue
		}
		got, st := a.Add("alice", f.Flags, f.Data)
		if i == len(frags)-1 {
			require.Equal(t, multipart.Discarded, st)
			require.Nil(t, got)
		}
	}
	require.Zero(t, a.Pending())
}

func TestAssembler_RequiresFirst(t *testing.T) {
	var c multipart.Counter
	frags, err := multipart.Split(image(t, 20000), multipart.DefaultSlice, &c)
	require.NoError(t, err)

	a := multipart.NewAssembler(0)
	_, st := a.Add("bob", frags[1].Flags, frags[1].Data)
	require.Equal(t, multipart.Discarded, st)

	_, st = a.Add("bob", domain.FlagMultipart, []byte("zz"))
	require.Equal(t, multipart.Discarded, st)
	_, st = a.Add("bob", domain.FlagMultipart, []byte("notahex!data"))
	require.Equal(t, multipart.Discarded, st)
}

func TestAssembler_SendersAreIndependent(t *testing.T) {
	var ca, cb multipart.Counter
	fa, err := multipart.Split([]byte("aaaaaaaaaa"), 4, &ca)
	require.NoError(t, err)
	fb, err := multipart.Split([]byte("bbbbbbbbbb"), 4, &cb)
	require.NoError(t, err)

	a := multipart.NewAssembler(0)
	var gotA, gotB []byte
	for i := range fa {
		if p, st := a.Add("a", fa[i].Flags, fa[i].Data); st == multipart.Complete {
			gotA = p
		}
		if p, st := a.Add("b", fb[i].Flags, fb[i].Data); st == multipart.Complete {
			gotB = p
		}
	}
	require.Equal(t, "aaaaaaaaaa", string(gotA))
	require.Equal(t, "bbbbbbbbbb", string(gotB))
}

func TestAssembler_SizeBound(t *testing.T) {
	var c multipart.Counter
	frags, err := multipart.Split(image(t, 100), 10, &c)
	require.NoError(t, err)

	a := multipart.NewAssembler(50)
	var last multipart.Status
	for _, f := range frags {
		_, last = a.Add("x", f.Flags, f.Data)
		if last == multipart.Discarded {
			break
		}
	}
	require.Equal(t, multipart.Discarded, last)
}
