package logging_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"mleschat/internal/logging"
)

func TestBackend_FileAndLevel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mleschat.log")
	b, err := logging.New(path, "notice", false)
	require.NoError(t, err)

	log := b.GetLogger("channel")
	log.Debug("hidden")
	log.Noticef("joined %s", "lab42")
	b.GetGoLogger("relay", "WARNING").Print("accept failed")
	require.NoError(t, b.Close())

	out, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NotContains(t, string(out), "hidden")
	require.Contains(t, string(out), "NOTI channel: joined lab42")
	require.Contains(t, string(out), "WARN relay: accept failed")
}

func TestNew_RejectsBadLevel(t *testing.T) {
	_, err := logging.New("", "chatty", false)
	require.Error(t, err)
	require.False(t, logging.ValidLevel("chatty"))
	require.True(t, logging.ValidLevel("debug"))

	// A discarding backend accepts writes.
	logging.Discard().GetLogger("x").Error("dropped")
}
