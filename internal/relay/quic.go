package relay

import (
	"context"
	"crypto/ed25519"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"encoding/binary"
	"fmt"
	"io"
	"math/big"
	"net"
	"sync"
	"time"

	quic "github.com/quic-go/quic-go"

	"mleschat/internal/domain"
	"mleschat/internal/logging"
	"mleschat/internal/protocol/codec"
)

// ALPN is the protocol negotiated on QUIC relay connections.
const ALPN = "mles-quic"

const maxQUICFrame = codec.MaxMessageSize + frameOverhead

type zeroReader struct{}

func (zeroReader) Read(p []byte) (int, error) {
	for i := range p {
		p[i] = 0
	}
	return len(p), nil
}

// devTLSCert returns a fixed self-signed certificate for localhost. It is
// only suitable for development relays.
func devTLSCert() (tls.Certificate, []byte, error) {
	seed := sha256.Sum256([]byte("mleschat-quic-dev-key"))
	priv := ed25519.NewKeyFromSeed(seed[:])
	template := x509.Certificate{
		SerialNumber: big.NewInt(1),
		NotBefore:    time.Unix(0, 0),
		NotAfter:     time.Unix(0, 0).Add(100 * 365 * 24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		DNSNames:     []string{"localhost"},
		IPAddresses:  []net.IP{net.ParseIP("127.0.0.1"), net.IPv6loopback},
	}
	der, err := x509.CreateCertificate(zeroReader{}, &template, &template, priv.Public(), priv)
	if err != nil {
		return tls.Certificate{}, nil, err
	}
	cert := tls.Certificate{
		Certificate: [][]byte{der},
		PrivateKey:  priv,
	}
	return cert, der, nil
}

func serverTLSConfig() (*tls.Config, error) {
	cert, _, err := devTLSCert()
	if err != nil {
		return nil, err
	}
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		NextProtos:   []string{ALPN},
	}, nil
}

func clientTLSConfig(insecure bool) (*tls.Config, error) {
	if insecure {
		return &tls.Config{
			InsecureSkipVerify: true,
			NextProtos:         []string{ALPN},
		}, nil
	}
	_, der, err := devTLSCert()
	if err != nil {
		return nil, err
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, err
	}
	pool := x509.NewCertPool()
	pool.AddCert(cert)
	return &tls.Config{
		RootCAs:    pool,
		NextProtos: []string{ALPN},
	}, nil
}

// QUICDialer dials a relay over QUIC. Frames travel on one bidirectional
// stream, each prefixed with its length as a big-endian uint32.
type QUICDialer struct {
	// Insecure skips certificate verification. Without it only the
	// built-in development certificate is trusted.
	Insecure bool
}

func (d QUICDialer) Dial(ctx context.Context, addr string) (domain.Conn, error) {
	tlsConf, err := clientTLSConfig(d.Insecure)
	if err != nil {
		return nil, err
	}
	conn, err := quic.DialAddr(ctx, addr, tlsConf, nil)
	if err != nil {
		return nil, fmt.Errorf("relay: dial %s: %w", addr, err)
	}
	stream, err := conn.OpenStreamSync(ctx)
	if err != nil {
		conn.CloseWithError(0, "")
		return nil, fmt.Errorf("relay: open stream to %s: %w", addr, err)
	}
	return &quicConn{conn: conn, stream: stream}, nil
}

type quicConn struct {
	conn   *quic.Conn
	stream *quic.Stream

	wr   sync.Mutex
	once sync.Once
}

func (c *quicConn) Send(ctx context.Context, frame []byte) error {
	if len(frame) > maxQUICFrame {
		return fmt.Errorf("relay: frame of %d bytes exceeds limit", len(frame))
	}
	c.wr.Lock()
	defer c.wr.Unlock()

	deadline, _ := ctx.Deadline()
	if err := c.stream.SetWriteDeadline(deadline); err != nil {
		return err
	}
	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(len(frame)))
	if _, err := c.stream.Write(hdr[:]); err != nil {
		return err
	}
	_, err := c.stream.Write(frame)
	return err
}

func (c *quicConn) Recv(ctx context.Context) ([]byte, error) {
	deadline, _ := ctx.Deadline()
	if err := c.stream.SetReadDeadline(deadline); err != nil {
		return nil, err
	}
	var hdr [4]byte
	if _, err := io.ReadFull(c.stream, hdr[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(hdr[:])
	if n > maxQUICFrame {
		return nil, fmt.Errorf("relay: peer announced %d byte frame", n)
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(c.stream, b); err != nil {
		return nil, err
	}
	return b, nil
}

func (c *quicConn) Close() error {
	var err error
	c.once.Do(func() {
		_ = c.stream.Close()
		err = c.conn.CloseWithError(0, "")
	})
	return err
}

var (
	_ domain.Dialer = QUICDialer{}
	_ domain.Conn   = (*quicConn)(nil)
)

// QUICListener accepts relay connections over QUIC.
type QUICListener struct {
	ln  *quic.Listener
	log *logging.Logger
}

// ListenQUIC listens on addr with the development certificate.
func ListenQUIC(addr string, log *logging.Logger) (*QUICListener, error) {
	tlsConf, err := serverTLSConfig()
	if err != nil {
		return nil, err
	}
	ln, err := quic.ListenAddr(addr, tlsConf, nil)
	if err != nil {
		return nil, fmt.Errorf("relay: quic listen %s: %w", addr, err)
	}
	return &QUICListener{ln: ln, log: log}, nil
}

// Addr returns the bound address.
func (l *QUICListener) Addr() net.Addr { return l.ln.Addr() }

// Serve attaches every accepted connection's first stream to hub until ctx
// is done or the listener fails.
func (l *QUICListener) Serve(ctx context.Context, hub *Hub) error {
	go func() {
		<-ctx.Done()
		l.ln.Close()
	}()
	for {
		conn, err := l.ln.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		go func() {
			stream, err := conn.AcceptStream(ctx)
			if err != nil {
				l.log.Debugf("quic peer %s: accept stream: %v", conn.RemoteAddr(), err)
				conn.CloseWithError(0, "")
				return
			}
			l.log.Debugf("quic peer %s attached", conn.RemoteAddr())
			if err := hub.Attach(ctx, &quicConn{conn: conn, stream: stream}, "quic"); err != nil {
				l.log.Debugf("quic peer %s: %v", conn.RemoteAddr(), err)
			}
		}()
	}
}

// Close stops accepting connections.
func (l *QUICListener) Close() error { return l.ln.Close() }
