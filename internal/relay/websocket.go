package relay

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"slices"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"mleschat/internal/domain"
	"mleschat/internal/logging"
	"mleschat/internal/protocol/codec"
)

// Subprotocol is the WebSocket subprotocol spoken by mles relays.
const Subprotocol = "mles-websocket"

const handshakeTimeout = 10 * time.Second

// WebSocketDialer dials a relay over WebSocket.
type WebSocketDialer struct {
	// TLS selects wss:// instead of ws://.
	TLS bool
	// Path is appended to the address; "/" if empty.
	Path string
}

func (d WebSocketDialer) Dial(ctx context.Context, addr string) (domain.Conn, error) {
	u := url.URL{Scheme: "ws", Host: addr, Path: d.Path}
	if d.TLS {
		u.Scheme = "wss"
	}
	if u.Path == "" {
		u.Path = "/"
	}
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: handshakeTimeout,
		Subprotocols:     []string{Subprotocol},
	}
	ws, resp, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("relay: dial %s: %w", u.String(), err)
	}
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if ws.Subprotocol() != Subprotocol {
		ws.Close()
		return nil, fmt.Errorf("relay: %s did not accept subprotocol %q", u.String(), Subprotocol)
	}
	ws.SetReadLimit(codec.MaxMessageSize + frameOverhead)
	return &wsConn{ws: ws}, nil
}

// frameOverhead bounds the CBOR map around a sealed message.
const frameOverhead = 1024

type wsConn struct {
	ws *websocket.Conn
	wr sync.Mutex
}

func (c *wsConn) Send(ctx context.Context, frame []byte) error {
	c.wr.Lock()
	defer c.wr.Unlock()

	deadline, _ := ctx.Deadline()
	if err := c.ws.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return c.ws.WriteMessage(websocket.BinaryMessage, frame)
}

// Recv blocks until a binary message arrives. It honours a ctx deadline;
// otherwise it returns once Close is called.
func (c *wsConn) Recv(ctx context.Context) ([]byte, error) {
	deadline, _ := ctx.Deadline()
	if err := c.ws.SetReadDeadline(deadline); err != nil {
		return nil, err
	}
	for {
		kind, b, err := c.ws.ReadMessage()
		if err != nil {
			return nil, err
		}
		if kind == websocket.BinaryMessage {
			return b, nil
		}
	}
}

func (c *wsConn) Close() error {
	c.wr.Lock()
	_ = c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	c.wr.Unlock()
	return c.ws.Close()
}

var (
	_ domain.Dialer = WebSocketDialer{}
	_ domain.Conn   = (*wsConn)(nil)
)

// WebSocketHandler upgrades requests offering the mles subprotocol and
// attaches them to hub.
func WebSocketHandler(hub *Hub, log *logging.Logger) http.Handler {
	upgrader := websocket.Upgrader{
		HandshakeTimeout: handshakeTimeout,
		Subprotocols:     []string{Subprotocol},
		CheckOrigin:      func(*http.Request) bool { return true },
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !slices.Contains(websocket.Subprotocols(r), Subprotocol) {
			http.Error(w, "subprotocol "+Subprotocol+" required", http.StatusBadRequest)
			return
		}
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Debugf("upgrade from %s failed: %v", r.RemoteAddr, err)
			return
		}
		ws.SetReadLimit(codec.MaxMessageSize + frameOverhead)
		log.Debugf("websocket peer %s attached", r.RemoteAddr)
		if err := hub.Attach(r.Context(), &wsConn{ws: ws}, "websocket"); err != nil {
			log.Debugf("websocket peer %s: %v", r.RemoteAddr, err)
		}
	})
}
