// Package main runs the in-memory mles relay used by mleschat during
// development and tests.
//
// The relay routes opaque CBOR frames by their channel field. A connection
// subscribes to the channel named in its first frame; every later frame is
// delivered to all other subscribers of that channel, and the last --history
// frames of a channel are replayed to each new subscriber.
//
// Transports
//
//	ws://host:port/        WebSocket, subprotocol "mles-websocket"
//	quic://host:port       QUIC, ALPN "mles-quic", one stream per client
//
// Behaviour
//
//   - All state is held in memory and lost on process exit.
//   - The relay never sees plaintext: identities and channel names arrive
//     obfuscated and message bodies are encrypted.
//   - The QUIC certificate is a fixed development key; clients must dial
//     with Insecure set.
//   - Prometheus metrics are served on /metrics next to the WebSocket
//     endpoint.
package main
