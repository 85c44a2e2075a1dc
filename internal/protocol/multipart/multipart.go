package multipart

import (
	"errors"
	"fmt"
	"strconv"

	"mleschat/internal/domain"
)

const (
	// IndexWidth is the number of hex digits prefixing every fragment.
	IndexWidth = 8

	// DefaultSlice is the payload carried by one fragment.
	DefaultSlice = 8 * 1024

	// DefaultMaxSize bounds a reassembled payload.
	DefaultMaxSize = 16 << 20
)

// ErrSliceSize is returned by Split for a non-positive slice size.
var ErrSliceSize = errors.New("multipart: slice size must be positive")

// Fragment is one piece of a split payload, ready to be sealed.
type Fragment struct {
	Data  []byte
	Flags domain.Flags
}

// Counter hands out fragment indices. One Counter is kept per session so
// indices never repeat while a series could still be in flight.
type Counter struct {
	next uint32
}

// Split cuts payload into fragments of at most slice bytes, each prefixed
// with its index as IndexWidth hex digits. Indices are consecutive, drawn
// from c.
func Split(payload []byte, slice int, c *Counter) ([]Fragment, error) {
	if slice <= 0 {
		return nil, ErrSliceSize
	}
	n := (len(payload) + slice - 1) / slice
	if n == 0 {
		n = 1
	}
	out := make([]Fragment, 0, n)
	for i := 0; i < n; i++ {
		lo, hi := i*slice, (i+1)*slice
		if hi > len(payload) {
			hi = len(payload)
		}
		flags := domain.FlagMultipart
		if i == 0 {
			flags |= domain.FlagFirst
		}
		if i == n-1 {
			flags |= domain.FlagLast
		}
		data := make([]byte, 0, IndexWidth+hi-lo)
		data = fmt.Appendf(data, "%0*x", IndexWidth, c.next)
		data = append(data, payload[lo:hi]...)
		c.next++
		out = append(out, Fragment{Data: data, Flags: flags})
	}
	return out, nil
}

// Status is the outcome of Assembler.Add.
type Status int

const (
	// Pending: the fragment was stored, the series is not complete.
	Pending Status = iota
	// Complete: the series is whole and its payload returned.
	Complete
	// Discarded: the fragment or the series was invalid and dropped.
	Discarded
)

type series struct {
	first uint32
	parts map[uint32][]byte
	size  int
}

// Assembler collects fragment series per sender.
//
// A series starts with a First fragment and completes on its Last fragment
// only if every index between the two was received. Any gap, an index
// before the first, or a fragment with no series in progress discards the
// series; a partial payload is never emitted.
type Assembler struct {
	MaxSize int

	inflight map[string]*series
}

// NewAssembler returns an Assembler bounding payloads to maxSize bytes
// (DefaultMaxSize if <= 0).
func NewAssembler(maxSize int) *Assembler {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	return &Assembler{MaxSize: maxSize, inflight: make(map[string]*series)}
}

// Add feeds one fragment from sender.
func (a *Assembler) Add(sender string, flags domain.Flags, frag []byte) ([]byte, Status) {
	if len(frag) < IndexWidth {
		delete(a.inflight, sender)
		return nil, Discarded
	}
	idx64, err := strconv.ParseUint(string(frag[:IndexWidth]), 16, 32)
	if err != nil {
		delete(a.inflight, sender)
		return nil, Discarded
	}
	idx := uint32(idx64)
	data := frag[IndexWidth:]

	s := a.inflight[sender]
	if flags.Has(domain.FlagFirst) {
		s = &series{first: idx, parts: make(map[uint32][]byte)}
		a.inflight[sender] = s
	}
	if s == nil || idx < s.first {
		delete(a.inflight, sender)
		return nil, Discarded
	}
	if old, ok := s.parts[idx]; ok {
		s.size -= len(old)
	}
	s.parts[idx] = append([]byte(nil), data...)
	s.size += len(data)
	if s.size > a.MaxSize {
		delete(a.inflight, sender)
		return nil, Discarded
	}

	if !flags.Has(domain.FlagLast) {
		return nil, Pending
	}
	delete(a.inflight, sender)

	out := make([]byte, 0, s.size)
	for i := s.first; ; i++ {
		part, ok := s.parts[i]
		if !ok {
			return nil, Discarded
		}
		out = append(out, part...)
		if i == idx {
			break
		}
	}
	return out, Complete
}

// Pending reports how many senders have a series in progress.
func (a *Assembler) Pending() int { return len(a.inflight) }

// Clear drops every series in progress.
func (a *Assembler) Clear() { a.inflight = make(map[string]*series) }
