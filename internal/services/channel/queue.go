package channel

import (
	"time"

	"mleschat/internal/util/memzero"
)

// DefaultQueueLen is the number of unacknowledged messages kept per channel.
const DefaultQueueLen = 32

// QueueEntry is one locally sent message awaiting its echo from the relay.
type QueueEntry struct {
	Time    time.Time
	Payload []byte
	Hash    uint64
	Image   bool

	// Group is set when the message was last sent under group keys, and
	// Epoch names those keys.
	Group bool
	Epoch uint64
}

// OutboundQueue remembers recently sent messages so they can be re-sent
// after a reconnect. It holds at most Max entries; pushing beyond that
// evicts the oldest.
type OutboundQueue struct {
	Max     int
	entries []QueueEntry
}

func NewOutboundQueue(max int) *OutboundQueue {
	if max <= 0 {
		max = DefaultQueueLen
	}
	return &OutboundQueue{Max: max}
}

// Push appends e and reports whether the oldest entry was evicted.
func (q *OutboundQueue) Push(e QueueEntry) (evicted bool) {
	q.entries = append(q.entries, e)
	if len(q.entries) > q.Max {
		memzero.Zero(q.entries[0].Payload)
		q.entries = q.entries[1:]
		evicted = true
	}
	return evicted
}

// FlushThrough drops every entry up to and including the last one whose
// hash matches. The relay delivers in order, so an echo of a message means
// everything sent before it went through too. It returns the number of
// entries removed.
func (q *OutboundQueue) FlushThrough(hash uint64) int {
	last := -1
	for i, e := range q.entries {
		if e.Hash == hash {
			last = i
		}
	}
	if last < 0 {
		return 0
	}
	for i := 0; i <= last; i++ {
		memzero.Zero(q.entries[i].Payload)
	}
	q.entries = append([]QueueEntry(nil), q.entries[last+1:]...)
	return last + 1
}

// Sweep calls fn on every entry in order. Entries for which fn returns
// false are removed.
func (q *OutboundQueue) Sweep(fn func(e *QueueEntry) (keep bool)) {
	kept := q.entries[:0]
	for i := range q.entries {
		e := q.entries[i]
		if fn(&e) {
			kept = append(kept, e)
		} else {
			memzero.Zero(e.Payload)
		}
	}
	for i := len(kept); i < len(q.entries); i++ {
		q.entries[i] = QueueEntry{}
	}
	q.entries = kept
}

// Mark records which keys the entry with hash was last sent under.
func (q *OutboundQueue) Mark(hash uint64, group bool, epoch uint64) {
	for i := range q.entries {
		if q.entries[i].Hash == hash {
			q.entries[i].Group = group
			q.entries[i].Epoch = epoch
		}
	}
}

func (q *OutboundQueue) Len() int { return len(q.entries) }

// Clear wipes and drops every entry.
func (q *OutboundQueue) Clear() {
	for i := range q.entries {
		memzero.Zero(q.entries[i].Payload)
	}
	q.entries = nil
}
