package relay_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"mleschat/internal/domain"
	"mleschat/internal/logging"
	"mleschat/internal/protocol/codec"
	"mleschat/internal/relay"
)

func frame(t *testing.T, uid, channel, msg string) []byte {
	t.Helper()
	b, err := codec.MarshalFrame(&domain.Frame{UID: uid, Channel: channel, Message: []byte(msg)})
	require.NoError(t, err)
	return b
}

func recv(t *testing.T, c domain.Conn) *domain.Frame {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	b, err := c.Recv(ctx)
	require.NoError(t, err)
	f, err := codec.UnmarshalFrame(b)
	require.NoError(t, err)
	return f
}

func dial(t *testing.T, d domain.Dialer, addr string) domain.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, err := d.Dial(ctx, addr)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func waitSubscribers(t *testing.T, hub *relay.Hub, channel string, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return hub.Subscribers(channel) == n },
		5*time.Second, 5*time.Millisecond)
}

// exercise runs the same routing scenario over any dialer reaching hub.
func exercise(t *testing.T, hub *relay.Hub, d domain.Dialer, addr string) {
	ctx := context.Background()

	a := dial(t, d, addr)
	require.NoError(t, a.Send(ctx, frame(t, "alice", "chan", "hello")))
	waitSubscribers(t, hub, "chan", 1)

	// A late joiner gets history first, then live traffic.
	b := dial(t, d, addr)
	require.NoError(t, b.Send(ctx, frame(t, "bob", "chan", "hi")))
	got := recv(t, b)
	require.Equal(t, "alice", got.UID)
	require.Equal(t, "hello", string(got.Message))

	got = recv(t, a)
	require.Equal(t, "bob", got.UID)

	// Other channels are isolated.
	c := dial(t, d, addr)
	require.NoError(t, c.Send(ctx, frame(t, "carol", "other", "psst")))
	waitSubscribers(t, hub, "other", 1)

	require.NoError(t, a.Send(ctx, frame(t, "alice", "chan", "again")))
	got = recv(t, b)
	require.Equal(t, "again", string(got.Message))
}

func TestHub_Memory(t *testing.T) {
	hub := relay.NewHub(16, logging.Discard().GetLogger("relay"))
	exercise(t, hub, hub, "")
}

func TestHub_OfflineAndDrop(t *testing.T) {
	hub := relay.NewHub(0, logging.Discard().GetLogger("relay"))
	ctx := context.Background()

	c := dial(t, hub, "")
	require.NoError(t, c.Send(ctx, frame(t, "alice", "chan", "x")))
	waitSubscribers(t, hub, "chan", 1)

	hub.SetOffline(true)
	_, err := c.Recv(ctx)
	require.ErrorIs(t, err, relay.ErrClosed)
	_, err = hub.Dial(ctx, "")
	require.ErrorIs(t, err, relay.ErrOffline)
	waitSubscribers(t, hub, "chan", 0)

	hub.SetOffline(false)
	dial(t, hub, "")
}

func TestWebSocket(t *testing.T) {
	log := logging.Discard().GetLogger("relay")
	hub := relay.NewHub(16, log)
	srv := httptest.NewServer(relay.WebSocketHandler(hub, log))
	defer srv.Close()

	exercise(t, hub, relay.WebSocketDialer{}, strings.TrimPrefix(srv.URL, "http://"))
}

func TestWebSocket_RequiresSubprotocol(t *testing.T) {
	log := logging.Discard().GetLogger("relay")
	srv := httptest.NewServer(relay.WebSocketHandler(relay.NewHub(0, log), log))
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestQUIC(t *testing.T) {
	log := logging.Discard().GetLogger("relay")
	hub := relay.NewHub(16, log)
	ln, err := relay.ListenQUIC("127.0.0.1:0", log)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = ln.Serve(ctx, hub) }()

	exercise(t, hub, relay.QUICDialer{}, ln.Addr().String())
}
