package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `
room: contract-42
author: Ada
log:
  level: debug
storage:
  path: /tmp/annosync.db
  codec: none
transport:
  kind: websocket
  url: ws://signal.local:4444/ws
sync:
  outbound_release: 100ms
  peer_wait: 2s
`

func TestLoadYAML(t *testing.T) {
	c, err := LoadYAML(strings.NewReader(sample))
	require.NoError(t, err)
	assert.Equal(t, "contract-42", c.Room)
	assert.Equal(t, "Ada", c.Author)
	assert.Equal(t, "debug", c.Log.Level)
	assert.Equal(t, "none", c.Storage.Codec)
	assert.Equal(t, "websocket", c.Transport.Kind)
	assert.Equal(t, 100*time.Millisecond, c.Sync.OutboundRelease)
	assert.Equal(t, 2*time.Second, c.Sync.PeerWait)
	// untouched fields keep their defaults
	assert.Equal(t, 500*time.Millisecond, c.Sync.Settle)
	assert.Equal(t, "@every 1m", c.Storage.CompactSchedule)
	assert.NoError(t, c.Validate())
	assert.False(t, c.LocalOnly())
}

func TestLoadYAMLRejectsUnknownFields(t *testing.T) {
	_, err := LoadYAML(strings.NewReader("rooom: x\n"))
	assert.Error(t, err)
}

func TestLoadYAMLEmpty(t *testing.T) {
	c, err := LoadYAML(strings.NewReader(""))
	require.NoError(t, err)
	assert.Equal(t, Default(), c)
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"ANNOSYNC_ROOM":       "from-env",
		"ANNOSYNC_TRANSPORT":  "redis",
		"ANNOSYNC_REDIS_ADDR": "localhost:6379",
		"ANNOSYNC_PEER_WAIT":  "250ms",
	}
	c := Default()
	require.NoError(t, c.ApplyEnv(func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}))
	assert.Equal(t, "from-env", c.Room)
	assert.Equal(t, "redis", c.Transport.Kind)
	assert.Equal(t, 250*time.Millisecond, c.Sync.PeerWait)
	assert.NoError(t, c.Validate())

	bad := Default()
	err := bad.ApplyEnv(func(key string) (string, bool) {
		if key == "ANNOSYNC_SETTLE" {
			return "soon", true
		}
		return "", false
	})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"defaults", func(*Config) {}, true},
		{"empty room", func(c *Config) { c.Room = " " }, false},
		{"bad level", func(c *Config) { c.Log.Level = "loud" }, false},
		{"bad codec", func(c *Config) { c.Storage.Codec = "zstd" }, false},
		{"websocket without url", func(c *Config) { c.Transport.Kind = "websocket"; c.Transport.URL = "" }, false},
		{"redis without address", func(c *Config) { c.Transport.Kind = "redis" }, false},
		{"unknown transport", func(c *Config) { c.Transport.Kind = "webrtc" }, false},
		{"negative wait", func(c *Config) { c.Sync.PeerWait = -time.Second }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Default()
			tt.mutate(&c)
			err := c.Validate()
			if tt.ok {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "annosync.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0o600))
	envFile := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envFile, []byte("ANNOSYNC_AUTHOR=Grace\n"), 0o600))

	t.Setenv("ANNOSYNC_ROOM", "override")
	t.Cleanup(func() { _ = os.Unsetenv("ANNOSYNC_AUTHOR") })
	c, err := Load(path, envFile, filepath.Join(dir, "missing.env"))
	require.NoError(t, err)
	assert.Equal(t, "override", c.Room)
	assert.Equal(t, "Grace", c.Author)
	assert.Equal(t, "ws://signal.local:4444/ws", c.Transport.URL)

	_, err = Load(filepath.Join(dir, "nope.yaml"))
	assert.Error(t, err)
}
