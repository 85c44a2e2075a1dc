package app_test

import (
	"context"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"mleschat/internal/app"
	"mleschat/internal/relay"
	"mleschat/internal/services/channel"
)

const sample = `
[Logging]
  Level = "debug"
  File = "client.log"

[Relay]
  Address = "127.0.0.1:8077"
  Transport = "quic"
  Insecure = true

[Engine]
  ResyncDelay = 2500
  QueueLen = 8

[Store]
  Path = "chat.db"

[Metrics]
  Address = "127.0.0.1:0"
`

func TestConfig_LoadAndFixup(t *testing.T) {
	home := t.TempDir()
	cfg, err := app.Load([]byte(sample))
	require.NoError(t, err)
	require.NoError(t, cfg.FixupAndValidate(home))

	require.Equal(t, "DEBUG", cfg.Logging.Level)
	require.Equal(t, filepath.Join(home, "client.log"), cfg.Logging.File)
	require.Equal(t, app.TransportQUIC, cfg.Relay.Transport)
	require.Equal(t, filepath.Join(home, "chat.db"), cfg.Store.Path)

	cc := cfg.Engine.ChannelConfig()
	require.Equal(t, 2500*time.Millisecond, cc.ResyncDelay)
	require.Equal(t, 8, cc.QueueLen)
	require.Zero(t, cc.PresenceInterval)

	d, err := app.NewDialer(cfg.Relay)
	require.NoError(t, err)
	require.IsType(t, relay.QUICDialer{}, d)
}

func TestConfig_Defaults(t *testing.T) {
	cfg, err := app.LoadFile(filepath.Join(t.TempDir(), "missing.toml"))
	require.NoError(t, err)
	require.NoError(t, cfg.FixupAndValidate("/home/alice/.mleschat"))
	require.Equal(t, "NOTICE", cfg.Logging.Level)
	require.Equal(t, app.TransportWebSocket, cfg.Relay.Transport)
	require.Equal(t, "/home/alice/.mleschat/state.db", cfg.Store.Path)
	require.Equal(t, channel.Config{}, cfg.Engine.ChannelConfig())
}

func TestConfig_Rejects(t *testing.T) {
	_, err := app.Load([]byte("[Relay]\nBogus = 1\n"))
	require.Error(t, err)

	for _, body := range []string{
		"[Logging]\nLevel = \"loud\"\n",
		"[Relay]\nTransport = \"carrier-pigeon\"\n",
		"[Engine]\nQueueLen = -1\n",
		"[Engine]\nReconnectInitial = 500\nReconnectMax = 100\n",
		"[Engine]\nSliceSize = 70000\n",
	} {
		cfg, err := app.Load([]byte(body))
		require.NoError(t, err)
		require.Error(t, cfg.FixupAndValidate(t.TempDir()), body)
	}
}

func TestWire(t *testing.T) {
	home := t.TempDir()
	cfg, err := app.Load([]byte("[Logging]\nDisable = true\n"))
	require.NoError(t, err)
	require.NoError(t, cfg.FixupAndValidate(home))

	w, err := app.NewWire(cfg)
	require.NoError(t, err)
	require.NoError(t, w.State.AddJoined("lab42"))
	require.NoError(t, w.Close())

	_, err = os.Stat(cfg.Store.Path)
	require.NoError(t, err)

	w, err = app.NewWire(cfg)
	require.NoError(t, err)
	defer w.Close()
	joined, err := w.State.Joined()
	require.NoError(t, err)
	require.Equal(t, []string{"lab42"}, joined)
}

func TestServeMetrics(t *testing.T) {
	cfg, err := app.Load([]byte("[Logging]\nDisable = true\n[Store]\nMemory = true\n"))
	require.NoError(t, err)
	require.NoError(t, cfg.FixupAndValidate(""))
	w, err := app.NewWire(cfg)
	require.NoError(t, err)
	defer w.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	addr, err := app.ServeMetrics(ctx, "127.0.0.1:0", w.Log)
	require.NoError(t, err)

	resp, err := http.Get("http://" + addr.String() + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Contains(t, string(body), "mleschat_frames_received_total")
}
