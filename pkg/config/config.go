// Package config loads the vsockd TOML configuration file.
//
// The file is made of tables, for example:
//
//	[stack]
//	buffer_size = 262144
//	ports = [1024, 2048]
//
//	[transport]
//	kind = "stream"
//	address = "unix:///run/vsockmux/guest.sock"
//
//	[log]
//	level = "debug"
//
//	[metrics]
//	listen = ":9090"
package config

import (
	"time"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"vsockmux/pkg/socket"
)

// supported transport kinds
const (
	TransportLoopback = "loopback"
	TransportStream   = "stream"
)

const defaultDialTimeout = 30 * time.Second

type tomlConfig struct {
	Stack     stack     `toml:"stack"`
	Transport transport `toml:"transport"`
	Log       logging   `toml:"log"`
	Metrics   metrics   `toml:"metrics"`
}

type stack struct {
	BufferSize int      `toml:"buffer_size"`
	GuestCID   uint64   `toml:"guest_cid"`
	Ports      []uint32 `toml:"ports"`
}

type transport struct {
	Kind        string `toml:"kind"`
	Address     string `toml:"address"`
	DialTimeout string `toml:"dial_timeout"`
}

type logging struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

type metrics struct {
	Listen string `toml:"listen"`
}

// Config is the validated daemon configuration.
type Config struct {
	BufferSize int
	GuestCID   uint64
	Ports      []uint32

	Transport   string
	Address     string
	DialTimeout time.Duration

	LogLevel  logrus.Level
	LogFormat string

	MetricsListen string
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		BufferSize:  socket.DefaultBufferSize,
		GuestCID:    3,
		Transport:   TransportLoopback,
		DialTimeout: defaultDialTimeout,
		LogLevel:    logrus.WarnLevel,
		LogFormat:   "text",
	}
}

// Load reads and validates the file at path.
func Load(path string) (*Config, error) {
	var tc tomlConfig
	if _, err := toml.DecodeFile(path, &tc); err != nil {
		return nil, errors.Wrapf(err, "cannot parse configuration file %s", path)
	}
	return tc.resolve()
}

// Parse validates configuration text.
func Parse(data string) (*Config, error) {
	var tc tomlConfig
	if _, err := toml.Decode(data, &tc); err != nil {
		return nil, errors.Wrap(err, "cannot parse configuration")
	}
	return tc.resolve()
}

func (tc *tomlConfig) resolve() (*Config, error) {
	c := Default()

	if tc.Stack.BufferSize < 0 {
		return nil, errors.Errorf("invalid buffer_size %d", tc.Stack.BufferSize)
	}
	if tc.Stack.BufferSize > 0 {
		c.BufferSize = tc.Stack.BufferSize
	}
	if tc.Stack.GuestCID != 0 {
		c.GuestCID = tc.Stack.GuestCID
	}

	seen := make(map[uint32]bool, len(tc.Stack.Ports))
	for _, p := range tc.Stack.Ports {
		if seen[p] {
			return nil, errors.Errorf("port %d listed twice", p)
		}
		seen[p] = true
	}
	c.Ports = tc.Stack.Ports

	if tc.Transport.Kind != "" {
		c.Transport = tc.Transport.Kind
	}
	switch c.Transport {
	case TransportLoopback:
	case TransportStream:
		if tc.Transport.Address == "" {
			return nil, errors.New("stream transport requires an address")
		}
	default:
		return nil, errors.Errorf("unknown transport kind %q", c.Transport)
	}
	c.Address = tc.Transport.Address

	if tc.Transport.DialTimeout != "" {
		d, err := time.ParseDuration(tc.Transport.DialTimeout)
		if err != nil {
			return nil, errors.Wrap(err, "invalid dial_timeout")
		}
		c.DialTimeout = d
	}

	if tc.Log.Level != "" {
		level, err := logrus.ParseLevel(tc.Log.Level)
		if err != nil {
			return nil, errors.Wrap(err, "invalid log level")
		}
		c.LogLevel = level
	}
	switch tc.Log.Format {
	case "":
	case "text", "json":
		c.LogFormat = tc.Log.Format
	default:
		return nil, errors.Errorf("unknown log format %q", tc.Log.Format)
	}

	c.MetricsListen = tc.Metrics.Listen
	return c, nil
}
