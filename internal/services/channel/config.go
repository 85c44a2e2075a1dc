package channel

import (
	"time"

	"mleschat/internal/protocol/codec"
	"mleschat/internal/protocol/multipart"
)

// MaxSliceSize is the largest image slice that still fits one message once
// the fragment index is prepended.
const MaxSliceSize = codec.MaxPayload - multipart.IndexWidth

const (
	DefaultResyncDelay      = 5 * time.Second
	DefaultPresenceInterval = 30 * time.Second
	DefaultWriteTimeout     = 10 * time.Second
	DefaultEventBuffer      = 1024
)

// Config tunes an Engine. Zero fields take the defaults.
type Config struct {
	// ResyncDelay is the quiet period after which unacknowledged messages
	// are re-sent.
	ResyncDelay time.Duration
	// PresenceInterval is the period of presence beacons. Key agreement
	// progresses on these, so it must not be disabled.
	PresenceInterval time.Duration
	ReconnectInitial time.Duration
	ReconnectMax     time.Duration
	WriteTimeout     time.Duration

	QueueLen     int
	SliceSize    int
	MaxImageSize int
	EventBuffer  int
}

func (c *Config) applyDefaults() {
	if c.ResyncDelay <= 0 {
		c.ResyncDelay = DefaultResyncDelay
	}
	if c.PresenceInterval <= 0 {
		c.PresenceInterval = DefaultPresenceInterval
	}
	if c.ReconnectInitial <= 0 {
		c.ReconnectInitial = DefaultReconnectInitial
	}
	if c.ReconnectMax < c.ReconnectInitial {
		c.ReconnectMax = DefaultReconnectMax
		if c.ReconnectMax < c.ReconnectInitial {
			c.ReconnectMax = c.ReconnectInitial
		}
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = DefaultWriteTimeout
	}
	if c.QueueLen <= 0 {
		c.QueueLen = DefaultQueueLen
	}
	if c.SliceSize <= 0 {
		c.SliceSize = multipart.DefaultSlice
	}
	if c.SliceSize > MaxSliceSize {
		c.SliceSize = MaxSliceSize
	}
	if c.MaxImageSize <= 0 {
		c.MaxImageSize = multipart.DefaultMaxSize
	}
	if c.EventBuffer <= 0 {
		c.EventBuffer = DefaultEventBuffer
	}
}
