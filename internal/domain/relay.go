package domain

import "context"

// Frame is the self-describing map carried by the transport. UID and Channel
// hold base64 of the identity-cipher obfuscation; the relay never sees
// plaintext identities.
type Frame struct {
	UID     string `cbor:"uid"`
	Channel string `cbor:"channel"`
	Message []byte `cbor:"message"`
}

// Conn is a duplex connection to the relay carrying opaque binary frames.
type Conn interface {
	Send(ctx context.Context, frame []byte) error
	Recv(ctx context.Context) ([]byte, error)
	Close() error
}

// Dialer opens a Conn to a relay address ("host:port").
type Dialer interface {
	Dial(ctx context.Context, addr string) (Conn, error)
}
