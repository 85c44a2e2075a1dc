package relay

import (
	"context"
	"errors"
	"sync"

	"mleschat/internal/domain"
	"mleschat/internal/logging"
	"mleschat/internal/metrics"
	"mleschat/internal/protocol/codec"
)

// ErrOffline is returned by Hub.Dial while the hub is marked offline.
var ErrOffline = errors.New("relay: hub offline")

const outboxSize = 1024

// Hub is a dumb frame router. A connection subscribes to the channel named
// in its first frame; every later frame is delivered to all other
// subscribers of that channel. New subscribers first receive the channel's
// recent history, their own earlier frames included.
//
// The hub never decrypts anything; it reads only the obfuscated channel id.
type Hub struct {
	log     *logging.Logger
	history int

	mu       sync.Mutex
	channels map[string]*hubChannel
	members  map[*member]struct{}
	offline  bool
}

type hubChannel struct {
	members map[*member]struct{}
	history [][]byte
}

type member struct {
	conn    domain.Conn
	channel string
	out     chan []byte
	cancel  context.CancelFunc
}

// NewHub returns a Hub replaying up to history frames per channel to new
// subscribers. A history of 0 disables replay.
func NewHub(history int, log *logging.Logger) *Hub {
	return &Hub{
		log:      log,
		history:  history,
		channels: make(map[string]*hubChannel),
		members:  make(map[*member]struct{}),
	}
}

// Attach routes frames read from conn until it fails or ctx is done, then
// closes conn. transport labels the connection in metrics.
func (h *Hub) Attach(ctx context.Context, conn domain.Conn, transport string) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	m := &member{conn: conn, out: make(chan []byte, outboxSize), cancel: cancel}
	h.mu.Lock()
	h.members[m] = struct{}{}
	h.mu.Unlock()
	defer h.leave(m)

	go m.writeLoop(ctx)
	go func() {
		// Unblocks Recv on transports that ignore ctx.
		<-ctx.Done()
		_ = conn.Close()
	}()

	for {
		b, err := conn.Recv(ctx)
		if err != nil {
			if errors.Is(err, ErrClosed) || errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
		f, err := codec.UnmarshalFrame(b)
		if err != nil {
			h.log.Debugf("dropping undecodable frame: %v", err)
			metrics.Dropped("frame")
			continue
		}
		metrics.RelayFrame(transport)
		h.route(m, f.Channel, b)
	}
}

func (h *Hub) route(from *member, channel string, frame []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if from.channel == "" {
		from.channel = channel
		ch := h.channels[channel]
		if ch == nil {
			ch = &hubChannel{members: make(map[*member]struct{})}
			h.channels[channel] = ch
		}
		ch.members[from] = struct{}{}
		for _, old := range ch.history {
			h.enqueue(from, old)
		}
	}
	if channel != from.channel {
		h.log.Debugf("dropping frame for foreign channel")
		return
	}

	ch := h.channels[channel]
	for m := range ch.members {
		if m != from {
			h.enqueue(m, frame)
		}
	}
	if h.history > 0 {
		ch.history = append(ch.history, frame)
		if len(ch.history) > h.history {
			ch.history = ch.history[len(ch.history)-h.history:]
		}
	}
}

// enqueue must be called with h.mu held.
func (h *Hub) enqueue(m *member, frame []byte) {
	select {
	case m.out <- frame:
	default:
		h.log.Warningf("outbox full, dropping frame")
	}
}

func (h *Hub) leave(m *member) {
	h.mu.Lock()
	delete(h.members, m)
	if ch := h.channels[m.channel]; ch != nil {
		delete(ch.members, m)
	}
	h.mu.Unlock()
	_ = m.conn.Close()
}

func (m *member) writeLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case b := <-m.out:
			if err := m.conn.Send(ctx, b); err != nil {
				m.cancel()
				return
			}
		}
	}
}

// Dial connects to the hub in memory. addr is ignored.
func (h *Hub) Dial(ctx context.Context, addr string) (domain.Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	h.mu.Lock()
	offline := h.offline
	h.mu.Unlock()
	if offline {
		return nil, ErrOffline
	}

	client, server := newPipe()
	go func() { _ = h.Attach(context.Background(), server, "memory") }()
	return client, nil
}

// SetOffline makes Dial fail while offline is true. Going offline drops
// every connection.
func (h *Hub) SetOffline(offline bool) {
	h.mu.Lock()
	h.offline = offline
	h.mu.Unlock()
	if offline {
		h.DropAll()
	}
}

// DropAll closes every attached connection, as a relay restart would.
func (h *Hub) DropAll() {
	h.mu.Lock()
	members := make([]*member, 0, len(h.members))
	for m := range h.members {
		members = append(members, m)
	}
	h.mu.Unlock()

	for _, m := range members {
		_ = m.conn.Close()
	}
}

// Subscribers returns how many connections are subscribed to channel.
func (h *Hub) Subscribers(channel string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	if ch := h.channels[channel]; ch != nil {
		return len(ch.members)
	}
	return 0
}

var _ domain.Dialer = (*Hub)(nil)
