package app

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"mleschat/internal/domain"
	"mleschat/internal/logging"
	"mleschat/internal/metrics"
	"mleschat/internal/relay"
)

// NewDialer returns the relay dialer selected by r.
func NewDialer(r *Relay) (domain.Dialer, error) {
	switch r.Transport {
	case TransportWebSocket, "":
		return relay.WebSocketDialer{TLS: r.TLS, Path: r.Path}, nil
	case TransportQUIC:
		return relay.QUICDialer{Insecure: r.Insecure}, nil
	default:
		return nil, errors.New("app: unknown relay transport " + r.Transport)
	}
}

// ServeMetrics serves the Prometheus endpoint on addr until ctx is done.
// It returns the bound address.
func ServeMetrics(ctx context.Context, addr string, log *logging.Backend) (net.Addr, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		ErrorLog:          log.GetGoLogger("metrics", "WARNING"),
	}
	l := log.GetLogger("metrics")
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			l.Errorf("serve: %v", err)
		}
	}()
	go func() {
		<-ctx.Done()
		_ = srv.Close()
	}()
	l.Noticef("serving metrics on %s", ln.Addr())
	return ln.Addr(), nil
}
