package channel_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"mleschat/internal/domain"
	"mleschat/internal/services/channel"
)

func TestPresence_Classify(t *testing.T) {
	now := time.Now()
	p := channel.NewPresence()
	p.Seen("alice", now.Add(-30*time.Second))
	p.Seen("bob", now.Add(-5*time.Minute))
	p.Seen("carol", now.Add(-time.Hour))

	require.Equal(t, domain.PresenceActive, p.Status("alice", now))
	require.Equal(t, domain.PresenceIdle, p.Status("bob", now))
	require.Equal(t, domain.PresenceUnavailable, p.Status("carol", now))
	require.Equal(t, domain.PresenceUnavailable, p.Status("dave", now))

	// An older sighting does not move the clock back.
	p.Seen("alice", now.Add(-time.Hour))
	require.Equal(t, domain.PresenceActive, p.Status("alice", now))

	require.Len(t, p.Snapshot(now), 3)
	p.Clear()
	require.Empty(t, p.Snapshot(now))
}
