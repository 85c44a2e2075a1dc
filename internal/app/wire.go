package app

import (
	"fmt"

	"mleschat/internal/domain"
	"mleschat/internal/logging"
	"mleschat/internal/services/channel"
	"mleschat/internal/store"
)

// Wire bundles the logging backend, the persisted state and the engine.
type Wire struct {
	Log    *logging.Backend
	State  *store.StateStore
	Engine *channel.Engine

	bolt *store.Bolt
}

// NewWire constructs the dependency graph from cfg, which must have been
// through FixupAndValidate.
func NewWire(cfg *Config) (*Wire, error) {
	backend, err := logging.New(cfg.Logging.File, cfg.Logging.Level, cfg.Logging.Disable)
	if err != nil {
		return nil, fmt.Errorf("app: logging: %w", err)
	}
	w := &Wire{Log: backend}

	var kv domain.KV
	if cfg.Store.Memory {
		kv = store.NewMemory()
	} else {
		w.bolt, err = store.OpenBolt(cfg.Store.Path)
		if err != nil {
			backend.Close()
			return nil, err
		}
		kv = w.bolt
	}
	w.State = store.NewStateStore(kv)

	dialer, err := NewDialer(cfg.Relay)
	if err != nil {
		w.Close()
		return nil, err
	}
	w.Engine = channel.New(cfg.Engine.ChannelConfig(), dialer, w.State, backend.GetLogger("channel"))
	return w, nil
}

// Close stops the engine and releases the store and log file.
func (w *Wire) Close() error {
	if w.Engine != nil {
		w.Engine.Shutdown()
	}
	var err error
	if w.bolt != nil {
		err = w.bolt.Close()
	}
	if cerr := w.Log.Close(); err == nil {
		err = cerr
	}
	return err
}
