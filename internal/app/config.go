package app

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"mleschat/internal/services/channel"
)

const (
	defaultLogLevel  = "NOTICE"
	defaultTransport = TransportWebSocket
	defaultStoreName = "state.db"

	TransportWebSocket = "websocket"
	TransportQUIC      = "quic"
)

// Config is the top level client configuration.
type Config struct {
	Logging *Logging
	Relay   *Relay
	Engine  *Engine
	Store   *Store
	Metrics *Metrics
}

// Logging is the logging configuration.
type Logging struct {
	// Disable disables logging entirely.
	Disable bool

	// File specifies the log file, if omitted stdout will be used.
	File string

	// Level specifies the log level.
	Level string
}

func (lCfg *Logging) validate() error {
	lvl := strings.ToUpper(lCfg.Level)
	switch lvl {
	case "ERROR", "WARNING", "NOTICE", "INFO", "DEBUG":
	case "":
		lvl = defaultLogLevel
	default:
		return fmt.Errorf("config: Logging: Level '%v' is invalid", lCfg.Level)
	}
	lCfg.Level = lvl
	return nil
}

// Relay selects the relay transport. Address is the default "host:port"
// for channels joined without one.
type Relay struct {
	Address   string
	Transport string

	// TLS selects wss:// for the WebSocket transport.
	TLS bool
	// Path is the WebSocket request path.
	Path string
	// Insecure skips QUIC certificate verification, for development relays.
	Insecure bool
}

func (rCfg *Relay) validate() error {
	switch rCfg.Transport {
	case TransportWebSocket, TransportQUIC:
	case "":
		rCfg.Transport = defaultTransport
	default:
		return fmt.Errorf("config: Relay: Transport '%v' is invalid", rCfg.Transport)
	}
	return nil
}

// Engine tunes the protocol engine. Durations are in milliseconds; zero
// takes the default.
type Engine struct {
	ResyncDelay      int
	PresenceInterval int
	ReconnectInitial int
	ReconnectMax     int
	WriteTimeout     int

	QueueLen     int
	SliceSize    int
	MaxImageSize int
}

func (eCfg *Engine) validate() error {
	for _, v := range []int{eCfg.ResyncDelay, eCfg.PresenceInterval, eCfg.ReconnectInitial,
		eCfg.ReconnectMax, eCfg.WriteTimeout, eCfg.QueueLen, eCfg.SliceSize, eCfg.MaxImageSize} {
		if v < 0 {
			return errors.New("config: Engine: values must not be negative")
		}
	}
	if eCfg.ReconnectMax != 0 && eCfg.ReconnectMax < eCfg.ReconnectInitial {
		return errors.New("config: Engine: ReconnectMax is below ReconnectInitial")
	}
	if eCfg.SliceSize > channel.MaxSliceSize {
		return fmt.Errorf("config: Engine: SliceSize %d exceeds %d", eCfg.SliceSize, channel.MaxSliceSize)
	}
	return nil
}

func ms(v int) time.Duration { return time.Duration(v) * time.Millisecond }

// ChannelConfig converts the section into the engine's Config.
func (eCfg *Engine) ChannelConfig() channel.Config {
	return channel.Config{
		ResyncDelay:      ms(eCfg.ResyncDelay),
		PresenceInterval: ms(eCfg.PresenceInterval),
		ReconnectInitial: ms(eCfg.ReconnectInitial),
		ReconnectMax:     ms(eCfg.ReconnectMax),
		WriteTimeout:     ms(eCfg.WriteTimeout),
		QueueLen:         eCfg.QueueLen,
		SliceSize:        eCfg.SliceSize,
		MaxImageSize:     eCfg.MaxImageSize,
	}
}

// Store is the persistence configuration.
type Store struct {
	// Path is the bbolt database file. Relative paths are resolved against
	// the home directory.
	Path string
	// Memory keeps state in memory only.
	Memory bool
}

// Metrics is the Prometheus endpoint configuration.
type Metrics struct {
	// Address is the "host:port" to serve /metrics on; empty disables it.
	Address string
}

// FixupAndValidate applies defaults to config entries and validates the
// configuration sections. home is the client's state directory.
func (c *Config) FixupAndValidate(home string) error {
	if c.Logging == nil {
		c.Logging = &Logging{}
	}
	if c.Relay == nil {
		c.Relay = &Relay{}
	}
	if c.Engine == nil {
		c.Engine = &Engine{}
	}
	if c.Store == nil {
		c.Store = &Store{}
	}
	if c.Metrics == nil {
		c.Metrics = &Metrics{}
	}

	if err := c.Logging.validate(); err != nil {
		return err
	}
	if err := c.Relay.validate(); err != nil {
		return err
	}
	if err := c.Engine.validate(); err != nil {
		return err
	}
	if !c.Store.Memory {
		if c.Store.Path == "" {
			c.Store.Path = defaultStoreName
		}
		if !filepath.IsAbs(c.Store.Path) {
			if home == "" {
				return errors.New("config: Store: relative Path needs a home directory")
			}
			c.Store.Path = filepath.Join(home, c.Store.Path)
		}
	}
	if !c.Logging.Disable && c.Logging.File != "" && !filepath.IsAbs(c.Logging.File) {
		if home == "" {
			return errors.New("config: Logging: relative File needs a home directory")
		}
		c.Logging.File = filepath.Join(home, c.Logging.File)
	}
	return nil
}

// Load parses the provided buffer b as a config file body and returns the
// Config. Defaults are not applied.
func Load(b []byte) (*Config, error) {
	cfg := new(Config)
	md, err := toml.Decode(string(b), cfg)
	if err != nil {
		return nil, err
	}
	if undecoded := md.Undecoded(); len(undecoded) != 0 {
		return nil, fmt.Errorf("config: Undecoded keys in config file: %v", undecoded)
	}
	return cfg, nil
}

// LoadFile loads and parses the provided file. A missing file yields an
// empty Config.
func LoadFile(f string) (*Config, error) {
	b, err := os.ReadFile(f)
	if errors.Is(err, os.ErrNotExist) {
		return new(Config), nil
	}
	if err != nil {
		return nil, err
	}
	return Load(b)
}
