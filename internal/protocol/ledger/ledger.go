package ledger

import (
	"encoding/binary"
	"strconv"

	"github.com/dchest/siphash"
)

// Key is a SipHash-2-4 key.
type Key struct {
	k0, k1 uint64
}

// KeyFrom builds a hash key from the first 16 bytes of label, zero-filled
// when shorter. Channels key their ledger with the obfuscated channel id so
// that every participant hashes identically.
func KeyFrom(label string) Key {
	var b [16]byte
	copy(b[:], label)
	return Key{
		k0: binary.LittleEndian.Uint64(b[0:8]),
		k1: binary.LittleEndian.Uint64(b[8:16]),
	}
}

// Hash identifies one message from sender. Full messages hash with a
// trailing newline so that a full and a non-full frame with the same body
// never collide. Presence frames (empty payload) hash the same way.
func Hash(k Key, sender string, ts int64, payload []byte, full bool) uint64 {
	b := make([]byte, 0, len(sender)+20+len(payload)+1)
	b = append(b, sender...)
	b = strconv.AppendInt(b, ts, 10)
	b = append(b, payload...)
	if full {
		b = append(b, '\n')
	}
	return siphash.Hash(k.k0, k.k1, b)
}

type entry struct {
	ts   int64
	hash uint64
}

type history struct {
	seen   map[entry]struct{}
	newest int64
	any    bool
}

// Ledger is the admission gate for inbound messages. Entries are never
// forgotten until Clear, so a message replayed by the relay at any point in
// the session is refused. It is not safe for concurrent use; each channel
// session owns one.
type Ledger struct {
	senders map[string]*history
}

// New returns an empty Ledger.
func New() *Ledger {
	return &Ledger{senders: make(map[string]*history)}
}

// Accept records (sender, ts, hash) and reports whether this is its first
// sight. A repeated call returns false and changes nothing.
func (l *Ledger) Accept(sender string, ts int64, hash uint64) bool {
	ok, _ := l.Admit(sender, ts, hash)
	return ok
}

// Admit is Accept that also reports whether an accepted message is older
// than the newest one already accepted from the same sender.
func (l *Ledger) Admit(sender string, ts int64, hash uint64) (accepted, late bool) {
	h := l.senders[sender]
	if h == nil {
		h = &history{seen: make(map[entry]struct{})}
		l.senders[sender] = h
	}
	e := entry{ts: ts, hash: hash}
	if _, dup := h.seen[e]; dup {
		return false, false
	}

	late = h.any && ts < h.newest
	if !h.any || ts > h.newest {
		h.newest, h.any = ts, true
	}
	h.seen[e] = struct{}{}
	return true, late
}

// Newest returns the newest timestamp accepted from sender.
func (l *Ledger) Newest(sender string) (int64, bool) {
	h := l.senders[sender]
	if h == nil || !h.any {
		return 0, false
	}
	return h.newest, true
}

// Len returns the number of entries held for sender.
func (l *Ledger) Len(sender string) int {
	if h := l.senders[sender]; h != nil {
		return len(h.seen)
	}
	return 0
}

// Clear forgets everything.
func (l *Ledger) Clear() {
	l.senders = make(map[string]*history)
}
