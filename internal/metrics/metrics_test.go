package metrics_test

import (
	"io"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"mleschat/internal/metrics"
)

func TestHandler_ExposesCounters(t *testing.T) {
	metrics.FrameIn()
	metrics.Dropped("auth")
	metrics.RelayFrame("websocket")

	srv := httptest.NewServer(metrics.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	require.Contains(t, string(body), "mleschat_frames_received_total")
	require.Contains(t, string(body), `mleschat_frames_dropped_total{reason="auth"}`)
	require.Contains(t, string(body), `mleschat_relay_frames_total{transport="websocket"}`)
}
