package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envMap(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestDefault(t *testing.T) {
	a := Default()
	assert.Empty(t, a.Node.ID)
	assert.Equal(t, ":8080", a.Node.Listen)
	assert.Equal(t, 5*time.Second, a.Broadcast.PeerTimeout.Duration)
	assert.Equal(t, 1, a.Broadcast.Concurrency)
	assert.Equal(t, 64, a.Broadcast.History)
	assert.Equal(t, 30*time.Second, a.Announce.Interval.Duration)
	assert.Equal(t, 3, a.Health.MaxFailures)
	assert.False(t, a.Catalog.StrictDrop)
	assert.Equal(t, "info", a.Log.Level)
}

func TestLoadFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalogd.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[node]
id = "coord-1"
uri = "http://coord:8080"
coordinator = true

[broadcast]
peer_timeout = "2s"
concurrency = 4

[catalog]
dir = "/var/lib/catalogd"
`), 0o644))

	cfg, err := Load(path, envMap(map[string]string{
		"CATALOGD_BROADCAST_CONCURRENCY": "8",
		"CATALOGD_LOG_LEVEL":             "debug",
		"CATALOGD_CATALOG_STRICT_DROP":   "true",
	}))
	require.NoError(t, err)

	assert.Equal(t, "coord-1", cfg.Node.ID)
	assert.True(t, cfg.Node.Coordinator)
	assert.Equal(t, 2*time.Second, cfg.Broadcast.PeerTimeout.Duration)
	assert.Equal(t, 8, cfg.Broadcast.Concurrency, "environment overrides the file")
	assert.Equal(t, 64, cfg.Broadcast.History, "unset keys keep their default")
	assert.Equal(t, "/var/lib/catalogd", cfg.Catalog.Dir)
	assert.True(t, cfg.Catalog.StrictDrop)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "http://coord:8080", cfg.DiscoveryURI())
	require.NoError(t, cfg.Validate())
}

func TestLoadErrors(t *testing.T) {
	dir := t.TempDir()
	unknown := filepath.Join(dir, "unknown.toml")
	require.NoError(t, os.WriteFile(unknown, []byte("[node]\nname = \"x\"\n"), 0o644))
	badDuration := filepath.Join(dir, "duration.toml")
	require.NoError(t, os.WriteFile(badDuration, []byte("[health]\ninterval = \"soon\"\n"), 0o644))

	tests := []struct {
		name string
		path string
		env  map[string]string
	}{
		{name: "missing file", path: filepath.Join(dir, "nope.toml")},
		{name: "unknown key", path: unknown},
		{name: "bad duration", path: badDuration},
		{name: "bad env int", env: map[string]string{"CATALOGD_HEALTH_MAX_FAILURES": "many"}},
		{name: "bad env bool", env: map[string]string{"CATALOGD_NODE_COORDINATOR": "maybe"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(tt.path, envMap(tt.env))
			assert.Error(t, err)
		})
	}
}

func TestFlagsOverrideEnv(t *testing.T) {
	cfg, err := Load("", envMap(map[string]string{
		"CATALOGD_NODE_ID":       "from-env",
		"CATALOGD_DISCOVERY_URI": "http://coord:8080",
	}))
	require.NoError(t, err)

	fs := pflag.NewFlagSet("serve", pflag.ContinueOnError)
	RegisterFlags(fs)
	require.NoError(t, fs.Parse([]string{"--node-id=from-flag", "--coordinator", "--peer-timeout=750ms"}))
	require.NoError(t, ApplyFlags(fs, &cfg))

	assert.Equal(t, "from-flag", cfg.Node.ID)
	assert.True(t, cfg.Node.Coordinator)
	assert.Equal(t, 750*time.Millisecond, cfg.Broadcast.PeerTimeout.Duration)
	assert.Equal(t, "http://coord:8080", cfg.DiscoveryURI())
	assert.Equal(t, ":8080", cfg.Node.Listen, "unset flags do not reset values")

	fs = pflag.NewFlagSet("serve", pflag.ContinueOnError)
	RegisterFlags(fs)
	require.NoError(t, fs.Parse([]string{"--broadcast-history=lots"}))
	assert.Error(t, ApplyFlags(fs, &cfg))
}

func TestNodeID(t *testing.T) {
	at := func(uri, id string) Config {
		c := Default()
		c.Node.URI = uri
		c.Node.ID = id
		return c
	}
	tests := []struct {
		name string
		a, b Config
		same bool
	}{
		{name: "restart at same uri", a: at("http://w1:8080", ""), b: at("http://w1:8080", ""), same: true},
		{name: "different uri", a: at("http://w1:8080", ""), b: at("http://w2:8080", ""), same: false},
		{name: "explicit id wins", a: at("http://w1:8080", "w1"), b: at("http://w2:8080", "w1"), same: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, b := tt.a.NodeID(), tt.b.NodeID()
			assert.NotEmpty(t, a)
			assert.Equal(t, tt.same, a == b)
			assert.Equal(t, a, tt.a.Self().Identifier)
		})
	}
}

func TestValidate(t *testing.T) {
	worker := func() Config {
		c := Default()
		c.Discovery.URI = "http://coord:8080"
		return c
	}
	require.NoError(t, worker().Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{name: "worker without discovery", mutate: func(c *Config) { c.Discovery.URI = "" }},
		{name: "relative uri", mutate: func(c *Config) { c.Node.URI = "localhost:8080" }},
		{name: "zero peer timeout", mutate: func(c *Config) { c.Broadcast.PeerTimeout.Duration = 0 }},
		{name: "zero concurrency", mutate: func(c *Config) { c.Broadcast.Concurrency = 0 }},
		{name: "zero history", mutate: func(c *Config) { c.Broadcast.History = 0 }},
		{name: "zero failures", mutate: func(c *Config) { c.Health.MaxFailures = 0 }},
		{name: "bad level", mutate: func(c *Config) { c.Log.Level = "loud" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := worker()
			tt.mutate(&c)
			assert.Error(t, c.Validate())
		})
	}

	coord := Default()
	coord.Node.Coordinator = true
	require.NoError(t, coord.Validate(), "a coordinator discovers itself")
	assert.Equal(t, coord.Node.URI, coord.DiscoveryURI())
}

func TestDurationText(t *testing.T) {
	var d Duration
	require.NoError(t, d.UnmarshalText([]byte("1m30s")))
	assert.Equal(t, 90*time.Second, d.Duration)
	b, err := d.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "1m30s", string(b))
	assert.Error(t, d.UnmarshalText([]byte("90")))
}
