// Package relay provides the transports between a channel engine and an mles
// relay, and a minimal relay of its own.
//
// Every transport carries opaque binary frames (CBOR-encoded domain.Frame
// values) and implements domain.Dialer / domain.Conn:
//   - WebSocketDialer speaks binary WebSocket messages under the
//     "mles-websocket" subprotocol.
//   - QUICDialer uses one bidirectional QUIC stream with big-endian uint32
//     length prefixes.
//   - Hub.Dial connects in memory.
//
// Hub is the relay itself: it subscribes each connection to the channel of
// its first frame, forwards frames to the other subscribers and replays
// recent history to newcomers. WebSocketHandler and QUICListener attach
// network peers to a Hub.
//
// A failed Send or Recv means the connection is gone; callers reconnect.
package relay
