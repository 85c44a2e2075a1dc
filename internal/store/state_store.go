package store

import (
	"encoding/binary"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"

	"mleschat/internal/domain"
)

const (
	addressPrefix  = "addr/"
	prevPrefix     = "prev/"
	notifiedPrefix = "notified/"
	readPrefix     = "read/"
	joinedKey      = "joined"
)

// StateStore persists per-channel session material over any domain.KV.
type StateStore struct {
	kv     domain.KV
	scrypt scryptParams
	mu     sync.Mutex // serialises read-modify-write of the joined list
}

// NewStateStore returns a StateStore writing through kv.
func NewStateStore(kv domain.KV) *StateStore {
	return &StateStore{kv: kv, scrypt: scryptParamsDefault()}
}

// ---------- Address ----------

func (s *StateStore) SaveAddress(channel, addr string) error {
	return s.kv.Set(addressPrefix+channel, []byte(addr))
}

func (s *StateStore) LoadAddress(channel string) (string, bool, error) {
	b, ok, err := s.kv.Get(addressPrefix + channel)
	if err != nil || !ok {
		return "", false, err
	}
	return string(b), true, nil
}

// ---------- Previous group secret ----------

// SavePrevSecret seals secret under passphrase before it touches the KV.
func (s *StateStore) SavePrevSecret(passphrase, channel string, secret []byte) error {
	b, err := seal(passphrase, channel, secret, s.scrypt)
	if err != nil {
		return fmt.Errorf("store: seal previous secret: %w", err)
	}
	return s.kv.Set(prevPrefix+channel, b)
}

func (s *StateStore) LoadPrevSecret(passphrase, channel string) ([]byte, bool, error) {
	b, ok, err := s.kv.Get(prevPrefix + channel)
	if err != nil || !ok {
		return nil, false, err
	}
	secret, err := open(passphrase, channel, b)
	if err != nil {
		return nil, false, err
	}
	return secret, true, nil
}

func (s *StateStore) RemovePrevSecret(channel string) error {
	return s.kv.Remove(prevPrefix + channel)
}

// ---------- Joined channels ----------

func (s *StateStore) AddJoined(channel string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	joined, err := s.joined()
	if err != nil {
		return err
	}
	if slices.Contains(joined, channel) {
		return nil
	}
	return s.writeJoined(append(joined, channel))
}

func (s *StateStore) RemoveJoined(channel string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	joined, err := s.joined()
	if err != nil {
		return err
	}
	return s.writeJoined(slices.DeleteFunc(joined, func(c string) bool { return c == channel }))
}

// Joined lists the channels in the order they were joined.
func (s *StateStore) Joined() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.joined()
}

func (s *StateStore) joined() ([]string, error) {
	b, ok, err := s.kv.Get(joinedKey)
	if err != nil || !ok {
		return nil, err
	}
	var out []string
	if err := cbor.Unmarshal(b, &out); err != nil {
		return nil, fmt.Errorf("store: decode joined list: %w", err)
	}
	return out, nil
}

func (s *StateStore) writeJoined(joined []string) error {
	b, err := cbor.Marshal(joined)
	if err != nil {
		return err
	}
	return s.kv.Set(joinedKey, b)
}

// ---------- Timestamps ----------

func (s *StateStore) SetLastNotified(channel string, ts time.Time) error {
	return s.setTime(notifiedPrefix+channel, ts)
}

func (s *StateStore) LastNotified(channel string) (time.Time, error) {
	return s.getTime(notifiedPrefix + channel)
}

func (s *StateStore) SetLastRead(channel string, ts time.Time) error {
	return s.setTime(readPrefix+channel, ts)
}

func (s *StateStore) LastRead(channel string) (time.Time, error) {
	return s.getTime(readPrefix + channel)
}

// Timestamps are stored as big-endian Unix milliseconds; a missing key
// reads as the zero time.
func (s *StateStore) setTime(key string, ts time.Time) error {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(ts.UnixMilli()))
	return s.kv.Set(key, b[:])
}

func (s *StateStore) getTime(key string) (time.Time, error) {
	b, ok, err := s.kv.Get(key)
	if err != nil || !ok {
		return time.Time{}, err
	}
	if len(b) != 8 {
		return time.Time{}, fmt.Errorf("store: malformed timestamp under %q", key)
	}
	return time.UnixMilli(int64(binary.BigEndian.Uint64(b))), nil
}

// Compile-time assertion that StateStore implements domain.StateStore.
var _ domain.StateStore = (*StateStore)(nil)
