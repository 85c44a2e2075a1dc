package domain

import (
	"strings"
	"time"
)

// Flags is the message-type bitset exchanged between the protocol engine and
// the application. The low bits mirror the header flags carried on the wire;
// PresAckReq is local-only and never transmitted.
type Flags uint16

const (
	FlagFull Flags = 1 << iota
	FlagPresence
	FlagData
	FlagMultipart
	FlagFirst
	FlagLast
	FlagPresenceAck
	FlagPresAckReq
	FlagBDOne
	FlagBDAck
)

// Has reports whether every bit of want is set in f.
func (f Flags) Has(want Flags) bool { return f&want == want }

func (f Flags) String() string {
	names := []struct {
		f Flags
		s string
	}{
		{FlagFull, "full"},
		{FlagPresence, "presence"},
		{FlagData, "data"},
		{FlagMultipart, "multipart"},
		{FlagFirst, "first"},
		{FlagLast, "last"},
		{FlagPresenceAck, "presence-ack"},
		{FlagPresAckReq, "presack-req"},
		{FlagBDOne, "bd-one"},
		{FlagBDAck, "bd-ack"},
	}
	var parts []string
	for _, n := range names {
		if f.Has(n.f) {
			parts = append(parts, n.s)
		}
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "|")
}

// EventKind identifies an engine → application notification.
type EventKind int

const (
	EventInit EventKind = iota + 1
	EventData
	EventSend
	EventClose
	EventForwardSecrecyOn
	EventForwardSecrecyOff
)

func (k EventKind) String() string {
	switch k {
	case EventInit:
		return "init"
	case EventData:
		return "data"
	case EventSend:
		return "send"
	case EventClose:
		return "close"
	case EventForwardSecrecyOn:
		return "forward-secrecy-on"
	case EventForwardSecrecyOff:
		return "forward-secrecy-off"
	default:
		return "unknown"
	}
}

// Event is delivered on the engine's event channel. Only the fields relevant
// to Kind are populated.
type Event struct {
	Kind    EventKind
	Sender  string
	Channel string

	// Init
	OK bool

	// Data
	Timestamp      time.Time
	Payload        []byte
	Flags          Flags
	ForwardSecrecy bool
	Late           bool

	// Send
	MultipartContinue bool

	// ForwardSecrecyOn
	Secret []byte
}

// PresenceStatus classifies a participant by how recently they were seen.
type PresenceStatus int

const (
	PresenceUnavailable PresenceStatus = iota
	PresenceIdle
	PresenceActive
)

func (p PresenceStatus) String() string {
	switch p {
	case PresenceActive:
		return "active"
	case PresenceIdle:
		return "idle"
	default:
		return "unavailable"
	}
}
