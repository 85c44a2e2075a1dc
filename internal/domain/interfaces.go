package domain

import "time"

// KV is the opaque key/value store owned by the caller. Get reports ok=false
// for a missing key.
type KV interface {
	Get(key string) (value []byte, ok bool, err error)
	Set(key string, value []byte) error
	Remove(key string) error
}

// StateStore persists the per-channel session material the engine needs
// across restarts.
type StateStore interface {
	SaveAddress(channel, addr string) error
	LoadAddress(channel string) (string, bool, error)

	SavePrevSecret(passphrase, channel string, secret []byte) error
	LoadPrevSecret(passphrase, channel string) ([]byte, bool, error)
	RemovePrevSecret(channel string) error

	AddJoined(channel string) error
	RemoveJoined(channel string) error
	Joined() ([]string, error)

	SetLastNotified(channel string, ts time.Time) error
	LastNotified(channel string) (time.Time, error)
	SetLastRead(channel string, ts time.Time) error
	LastRead(channel string) (time.Time, error)
}
