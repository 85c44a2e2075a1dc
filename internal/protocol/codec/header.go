package codec

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"io"
	"time"

	"mleschat/internal/domain"
)

// HeaderSize is the encoded header length: five (cover, scattered) pairs of
// big-endian uint32.
const HeaderSize = 40

// Wire flag bits of the flagstamp field. The low seven bits carry seconds.
const (
	wireFull        = 0x8000
	wireData        = 0x4000
	wirePresence    = 0x2000
	wirePresenceAck = 0x1000
	wireMulti       = 0x0800
	wireFirst       = 0x0400
	wireLast        = 0x0200
	wireBDOne       = 0x0100
	wireBDAck       = 0x0080
	secondsMask     = 0x007f
)

// Epoch is the origin of header timestamps.
var Epoch = time.Date(2018, time.January, 1, 0, 0, 0, 0, time.UTC)

const week = 7 * 24 * time.Hour

// Header is the decoded message header.
type Header struct {
	// MsgSize is HeaderSize plus the payload length.
	MsgSize uint16
	// KeySize is the length of the key block following the payload.
	KeySize uint16
	Minutes uint16
	Weeks   uint16
	Seconds uint8
	Flags   domain.Flags
}

// Stamp splits t into the week, minute-of-week and second-of-minute fields.
// Times before Epoch clamp to Epoch.
func Stamp(t time.Time) (weeks, minutes uint16, seconds uint8) {
	d := t.Sub(Epoch)
	if d < 0 {
		d = 0
	}
	w := d / week
	rem := d - w*week
	m := rem / time.Minute
	s := (rem - m*time.Minute) / time.Second
	return uint16(w), uint16(m), uint8(s)
}

// SetTime fills the timestamp fields from t.
func (h *Header) SetTime(t time.Time) {
	h.Weeks, h.Minutes, h.Seconds = Stamp(t)
}

// Time reassembles the header timestamp at second precision.
func (h Header) Time() time.Time {
	return Epoch.
		Add(time.Duration(h.Weeks) * week).
		Add(time.Duration(h.Minutes) * time.Minute).
		Add(time.Duration(h.Seconds) * time.Second)
}

// Marshal encodes h, drawing cover bits from rand.
func (h Header) Marshal(rnd io.Reader) ([]byte, error) {
	if rnd == nil {
		rnd = rand.Reader
	}
	out := make([]byte, HeaderSize)
	if _, err := io.ReadFull(rnd, out); err != nil {
		return nil, fmt.Errorf("codec: header cover: %w", err)
	}
	fields := [5]uint16{
		h.MsgSize,
		h.KeySize,
		h.Minutes,
		h.Weeks,
		flagsToWire(h.Flags) | uint16(h.Seconds)&secondsMask,
	}
	for i, v := range fields {
		off := i * 8
		cover := binary.BigEndian.Uint32(out[off:])
		value := binary.BigEndian.Uint32(out[off+4:])
		binary.BigEndian.PutUint32(out[off+4:], Scatter(cover, value, v))
	}
	return out, nil
}

// ParseHeader decodes the first HeaderSize bytes of b.
func ParseHeader(b []byte) (Header, error) {
	if len(b) < HeaderSize {
		return Header{}, ErrMalformed
	}
	var fields [5]uint16
	for i := range fields {
		off := i * 8
		fields[i] = Unscatter(binary.BigEndian.Uint32(b[off:]), binary.BigEndian.Uint32(b[off+4:]))
	}
	return Header{
		MsgSize: fields[0],
		KeySize: fields[1],
		Minutes: fields[2],
		Weeks:   fields[3],
		Seconds: uint8(fields[4] & secondsMask),
		Flags:   flagsFromWire(fields[4]),
	}, nil
}

func flagsToWire(f domain.Flags) uint16 {
	var w uint16
	if f.Has(domain.FlagFull) {
		w |= wireFull
	}
	if f.Has(domain.FlagData) {
		w |= wireData
	}
	if f.Has(domain.FlagPresence) {
		w |= wirePresence
	}
	if f.Has(domain.FlagPresenceAck) {
		w |= wirePresenceAck
	}
	if f.Has(domain.FlagMultipart) {
		w |= wireMulti
		if f.Has(domain.FlagFirst) {
			w |= wireFirst
		}
		if f.Has(domain.FlagLast) {
			w |= wireLast
		}
	}
	if f.Has(domain.FlagBDOne) {
		w |= wireBDOne
	}
	if f.Has(domain.FlagBDAck) {
		w |= wireBDAck
	}
	return w
}

func flagsFromWire(w uint16) domain.Flags {
	var f domain.Flags
	pairs := []struct {
		w uint16
		f domain.Flags
	}{
		{wireFull, domain.FlagFull},
		{wireData, domain.FlagData},
		{wirePresence, domain.FlagPresence},
		{wirePresenceAck, domain.FlagPresenceAck},
		{wireMulti, domain.FlagMultipart},
		{wireFirst, domain.FlagFirst},
		{wireLast, domain.FlagLast},
		{wireBDOne, domain.FlagBDOne},
		{wireBDAck, domain.FlagBDAck},
	}
	for _, p := range pairs {
		if w&p.w != 0 {
			f |= p.f
		}
	}
	return f
}
