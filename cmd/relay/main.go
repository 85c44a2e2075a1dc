package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"mleschat/internal/logging"
	"mleschat/internal/metrics"
	"mleschat/internal/relay"
)

var (
	wsAddr    string
	wsPath    string
	quicAddr  string
	history   int
	logFile   string
	logLevel  string
	metricsOn bool
)

func main() {
	root := &cobra.Command{
		Use:          "relay",
		Short:        "Development mles relay over WebSocket and QUIC",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx)
		},
	}
	root.Flags().StringVar(&wsAddr, "ws", ":8077", "WebSocket listen address (empty disables)")
	root.Flags().StringVar(&wsPath, "path", "/", "WebSocket request path")
	root.Flags().StringVar(&quicAddr, "quic", "", "QUIC listen address (empty disables)")
	root.Flags().IntVar(&history, "history", 256, "frames of history replayed per channel")
	root.Flags().StringVar(&logFile, "log", "", "log file (default stdout)")
	root.Flags().StringVar(&logLevel, "level", "NOTICE", "log level")
	root.Flags().BoolVar(&metricsOn, "metrics", true, "serve /metrics next to the WebSocket endpoint")

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	backend, err := logging.New(logFile, logLevel, false)
	if err != nil {
		return err
	}
	defer backend.Close()
	log := backend.GetLogger("relay")

	hub := relay.NewHub(history, backend.GetLogger("hub"))
	errCh := make(chan error, 2)

	if quicAddr != "" {
		ln, err := relay.ListenQUIC(quicAddr, backend.GetLogger("quic"))
		if err != nil {
			return err
		}
		defer ln.Close()
		log.Noticef("QUIC listening on %s", ln.Addr())
		go func() { errCh <- ln.Serve(ctx, hub) }()
	}

	var srv *http.Server
	if wsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle(wsPath, relay.WebSocketHandler(hub, backend.GetLogger("websocket")))
		if metricsOn {
			mux.Handle("/metrics", metrics.Handler())
		}
		srv = &http.Server{
			Addr:              wsAddr,
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
			ErrorLog:          backend.GetGoLogger("http", "WARNING"),
		}
		log.Noticef("WebSocket listening on %s%s", wsAddr, wsPath)
		go func() {
			if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
		}()
	}
	if srv == nil && quicAddr == "" {
		return errors.New("relay: nothing to listen on")
	}

	select {
	case <-ctx.Done():
		log.Notice("shutting down")
	case err = <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			log.Errorf("listener failed: %v", err)
		}
	}
	if srv != nil {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(sctx)
	}
	hub.DropAll()
	return err
}
