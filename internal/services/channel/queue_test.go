package channel_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"mleschat/internal/services/channel"
)

func hashes(q *channel.OutboundQueue) []uint64 {
	var out []uint64
	q.Sweep(func(e *channel.QueueEntry) bool {
		out = append(out, e.Hash)
		return true
	})
	return out
}

func TestOutboundQueue_Evicts(t *testing.T) {
	q := channel.NewOutboundQueue(2)
	payload := []byte("first")
	require.False(t, q.Push(channel.QueueEntry{Hash: 1, Payload: payload}))
	require.False(t, q.Push(channel.QueueEntry{Hash: 2}))
	require.True(t, q.Push(channel.QueueEntry{Hash: 3}))
	require.Equal(t, []uint64{2, 3}, hashes(q))
	require.Equal(t, make([]byte, 5), payload)
}

func TestOutboundQueue_FlushThrough(t *testing.T) {
	q := channel.NewOutboundQueue(8)
	for _, h := range []uint64{1, 2, 3, 2, 4} {
		q.Push(channel.QueueEntry{Hash: h})
	}
	require.Equal(t, 0, q.FlushThrough(9))
	require.Equal(t, 4, q.FlushThrough(2))
	require.Equal(t, []uint64{4}, hashes(q))
}

func TestOutboundQueue_SweepAndMark(t *testing.T) {
	q := channel.NewOutboundQueue(8)
	for _, h := range []uint64{1, 2, 3} {
		q.Push(channel.QueueEntry{Hash: h})
	}
	q.Mark(2, true, 7)
	q.Sweep(func(e *channel.QueueEntry) bool {
		if e.Hash == 2 {
			require.True(t, e.Group)
			require.Equal(t, uint64(7), e.Epoch)
			return false
		}
		return true
	})
	require.Equal(t, []uint64{1, 3}, hashes(q))

	q.Clear()
	require.Zero(t, q.Len())
}
