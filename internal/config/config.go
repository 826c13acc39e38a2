// Package config loads the settings of a peer and of the signaling server.
//
// Values come from, in increasing priority: defaults, a YAML file, a .env file
// and ANNOSYNC_* environment variables.
package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

var ErrInvalidConfig = errors.New("invalid configuration")

type Config struct {
	Room   string `json:"room" yaml:"room"`
	Author string `json:"author,omitempty" yaml:"author,omitempty"`

	Log       LogConfig       `json:"log" yaml:"log"`
	Storage   StorageConfig   `json:"storage" yaml:"storage"`
	Transport TransportConfig `json:"transport" yaml:"transport"`
	Sync      SyncConfig      `json:"sync" yaml:"sync"`
	Signal    SignalConfig    `json:"signal" yaml:"signal"`
}

type LogConfig struct {
	Level string `json:"level" yaml:"level"`
}

type StorageConfig struct {
	// Path of the sqlite file. Empty keeps the replica in memory only.
	Path            string `json:"path" yaml:"path"`
	Codec           string `json:"codec" yaml:"codec"`
	CompactSchedule string `json:"compact_schedule" yaml:"compact_schedule"`
}

type TransportConfig struct {
	// Kind is one of none, websocket or redis.
	Kind      string `json:"kind" yaml:"kind"`
	URL       string `json:"url,omitempty" yaml:"url,omitempty"`
	Token     string `json:"token,omitempty" yaml:"token,omitempty"`
	RedisAddr string `json:"redis_addr,omitempty" yaml:"redis_addr,omitempty"`
	Codec     string `json:"codec" yaml:"codec"`
}

type SyncConfig struct {
	OutboundRelease time.Duration `json:"outbound_release" yaml:"outbound_release"`
	Settle          time.Duration `json:"settle" yaml:"settle"`
	PeerWait        time.Duration `json:"peer_wait" yaml:"peer_wait"`
}

type SignalConfig struct {
	Addr         string        `json:"addr" yaml:"addr"`
	Secret       string        `json:"secret,omitempty" yaml:"secret,omitempty"`
	PingInterval time.Duration `json:"ping_interval" yaml:"ping_interval"`
}

// Default returns a local-only peer configuration.
func Default() Config {
	return Config{
		Room: "default",
		Log:  LogConfig{Level: "info"},
		Storage: StorageConfig{
			Codec:           "lz4",
			CompactSchedule: "@every 1m",
		},
		Transport: TransportConfig{
			Kind:  "none",
			URL:   "ws://localhost:4444/ws",
			Codec: "lz4",
		},
		Sync: SyncConfig{
			Settle:   500 * time.Millisecond,
			PeerWait: 5 * time.Second,
		},
		Signal: SignalConfig{
			Addr:         ":4444",
			PingInterval: 30 * time.Second,
		},
	}
}

// LoadYAML overlays the YAML document read from r on the defaults.
func LoadYAML(r io.Reader) (Config, error) {
	c := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&c); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("decode yaml: %w", err)
	}
	return c, nil
}

// Load reads the YAML file at path (skipped when empty), the .env files in
// envFiles that exist, and the environment. The result is validated.
func Load(path string, envFiles ...string) (Config, error) {
	c := Default()
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return Config{}, err
		}
		c, err = LoadYAML(f)
		_ = f.Close()
		if err != nil {
			return Config{}, fmt.Errorf("%s: %w", path, err)
		}
	}
	for _, file := range envFiles {
		// variables already set win over the file
		if err := godotenv.Load(file); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("%s: %w", file, err)
		}
	}
	if err := c.ApplyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	return c, c.Validate()
}

// ApplyEnv overrides fields from ANNOSYNC_* variables found through lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	strs := map[string]*string{
		"ANNOSYNC_ROOM":             &c.Room,
		"ANNOSYNC_AUTHOR":           &c.Author,
		"ANNOSYNC_LOG_LEVEL":        &c.Log.Level,
		"ANNOSYNC_STORAGE_PATH":     &c.Storage.Path,
		"ANNOSYNC_STORAGE_CODEC":    &c.Storage.Codec,
		"ANNOSYNC_COMPACT_SCHEDULE": &c.Storage.CompactSchedule,
		"ANNOSYNC_TRANSPORT":        &c.Transport.Kind,
		"ANNOSYNC_SIGNAL_URL":       &c.Transport.URL,
		"ANNOSYNC_TOKEN":            &c.Transport.Token,
		"ANNOSYNC_REDIS_ADDR":       &c.Transport.RedisAddr,
		"ANNOSYNC_SIGNAL_ADDR":      &c.Signal.Addr,
		"ANNOSYNC_SIGNAL_SECRET":    &c.Signal.Secret,
	}
	for key, field := range strs {
		if v, ok := lookup(key); ok {
			*field = v
		}
	}

	durations := map[string]*time.Duration{
		"ANNOSYNC_OUTBOUND_RELEASE": &c.Sync.OutboundRelease,
		"ANNOSYNC_SETTLE":           &c.Sync.Settle,
		"ANNOSYNC_PEER_WAIT":        &c.Sync.PeerWait,
		"ANNOSYNC_PING_INTERVAL":    &c.Signal.PingInterval,
	}
	var errs []error
	for key, field := range durations {
		v, ok := lookup(key)
		if !ok {
			continue
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%w: %s: %v", ErrInvalidConfig, key, err))
			continue
		}
		*field = d
	}
	return errors.Join(errs...)
}

func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Room) == "" {
		errs = append(errs, errors.New("room is empty"))
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, fmt.Errorf("log level %q", c.Log.Level))
	}
	for name, codec := range map[string]string{"storage": c.Storage.Codec, "transport": c.Transport.Codec} {
		switch strings.ToLower(codec) {
		case "", "lz4", "none", "nop", "off":
		default:
			errs = append(errs, fmt.Errorf("%s codec %q", name, codec))
		}
	}
	switch strings.ToLower(c.Transport.Kind) {
	case "", "none":
	case "websocket":
		if c.Transport.URL == "" {
			errs = append(errs, errors.New("websocket transport needs a url"))
		}
	case "redis":
		if c.Transport.RedisAddr == "" {
			errs = append(errs, errors.New("redis transport needs an address"))
		}
	default:
		errs = append(errs, fmt.Errorf("transport kind %q", c.Transport.Kind))
	}
	if c.Sync.OutboundRelease < 0 || c.Sync.Settle < 0 || c.Sync.PeerWait < 0 {
		errs = append(errs, errors.New("negative sync duration"))
	}
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
}

// LocalOnly reports whether no peer transport is configured.
func (c *Config) LocalOnly() bool {
	kind := strings.ToLower(c.Transport.Kind)
	return kind == "" || kind == "none"
}
