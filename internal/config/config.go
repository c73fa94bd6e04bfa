// Package config loads catalogd settings. Values are resolved from
// built-in defaults, an optional TOML file, CATALOGD_* environment
// variables and command-line flags, later sources winning.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/spf13/pflag"
	"go.uber.org/multierr"
	"go.uber.org/zap/zapcore"

	"github.com/dreamware/catalogd/internal/cluster"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "CATALOGD_"

// Duration is a time.Duration that reads and writes as "5s" in TOML.
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

type NodeConfig struct {
	ID          string `toml:"id"`
	Listen      string `toml:"listen"`
	URI         string `toml:"uri"`
	Version     string `toml:"version"`
	Coordinator bool   `toml:"coordinator"`
}

type DiscoveryConfig struct {
	// URI of the coordinator. Empty on a coordinator means itself.
	URI string `toml:"uri"`
}

type BroadcastConfig struct {
	PeerTimeout Duration `toml:"peer_timeout"`
	Concurrency int      `toml:"concurrency"`
	History     int      `toml:"history"`
}

type CatalogConfig struct {
	// Dir holds one TOML definition per catalog. Empty keeps
	// definitions in memory only.
	Dir        string `toml:"dir"`
	StrictDrop bool   `toml:"strict_drop"`
}

type AnnounceConfig struct {
	Interval Duration `toml:"interval"`
}

type HealthConfig struct {
	Interval    Duration `toml:"interval"`
	MaxFailures int      `toml:"max_failures"`
}

type MembershipConfig struct {
	Refresh Duration `toml:"refresh"`
}

type LogConfig struct {
	Level       string `toml:"level"`
	Development bool   `toml:"development"`
}

// Config is the complete node configuration.
type Config struct {
	Node       NodeConfig       `toml:"node"`
	Discovery  DiscoveryConfig  `toml:"discovery"`
	Log        LogConfig        `toml:"log"`
	Catalog    CatalogConfig    `toml:"catalog"`
	Broadcast  BroadcastConfig  `toml:"broadcast"`
	Announce   AnnounceConfig   `toml:"announce"`
	Health     HealthConfig     `toml:"health"`
	Membership MembershipConfig `toml:"membership"`
}

// Default returns the built-in configuration. The node id is left empty;
// see NodeID.
func Default() Config {
	return Config{
		Node: NodeConfig{
			Listen:  ":8080",
			URI:     "http://127.0.0.1:8080",
			Version: "dev",
		},
		Broadcast: BroadcastConfig{
			PeerTimeout: Duration{5 * time.Second},
			Concurrency: 1,
			History:     64,
		},
		Announce:   AnnounceConfig{Interval: Duration{30 * time.Second}},
		Health:     HealthConfig{Interval: Duration{5 * time.Second}, MaxFailures: 3},
		Membership: MembershipConfig{Refresh: Duration{5 * time.Second}},
		Log:        LogConfig{Level: "info"},
	}
}

// Load builds a Config from defaults, the TOML file at path (skipped when
// path is empty) and environment variables looked up with getenv.
// A nil getenv reads the process environment.
func Load(path string, getenv func(string) string) (Config, error) {
	cfg := Default()
	if path != "" {
		md, err := toml.DecodeFile(path, &cfg)
		if err != nil {
			return cfg, errors.Wrapf(err, "read config %s", path)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			return cfg, errors.Newf("config %s: unknown keys %v", path, undecoded)
		}
	}
	if getenv == nil {
		getenv = os.Getenv
	}
	for _, s := range settings {
		if v := getenv(s.env()); v != "" {
			if err := s.set(&cfg, v); err != nil {
				return cfg, errors.Wrapf(err, "%s", s.env())
			}
		}
	}
	return cfg, nil
}

// RegisterFlags adds one flag per setting to fs. Flag defaults are not
// applied; only flags set on the command line override the loaded
// configuration, see ApplyFlags.
func RegisterFlags(fs *pflag.FlagSet) {
	for _, s := range settings {
		if s.boolean {
			fs.Bool(s.flag, false, s.usage)
		} else {
			fs.String(s.flag, "", s.usage)
		}
	}
}

// ApplyFlags copies every flag of fs that was set on the command line
// into cfg.
func ApplyFlags(fs *pflag.FlagSet, cfg *Config) error {
	var errs error
	for _, s := range settings {
		f := fs.Lookup(s.flag)
		if f == nil || !f.Changed {
			continue
		}
		if err := s.set(cfg, f.Value.String()); err != nil {
			errs = multierr.Append(errs, errors.Wrapf(err, "--%s", s.flag))
		}
	}
	return errs
}

// DiscoveryURI returns the coordinator to register and announce with.
func (c Config) DiscoveryURI() string {
	if c.Discovery.URI == "" && c.Node.Coordinator {
		return c.Node.URI
	}
	return c.Discovery.URI
}

// NodeID returns node.id, or when it is unset a name-based UUID of
// node.uri. A node restarted at the same URI keeps its identity.
func (c Config) NodeID() string {
	if c.Node.ID != "" {
		return c.Node.ID
	}
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(c.Node.URI)).String()
}

// Self describes the local node.
func (c Config) Self() cluster.NodeInfo {
	return cluster.NodeInfo{
		Identifier:  c.NodeID(),
		URI:         c.Node.URI,
		Version:     c.Node.Version,
		Coordinator: c.Node.Coordinator,
		State:       cluster.NodeStateActive,
	}
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	switch {
	case c.Node.Listen == "":
		return errors.New("node.listen is required")
	case c.DiscoveryURI() == "":
		return errors.New("discovery.uri is required on worker nodes")
	case c.Broadcast.PeerTimeout.Duration <= 0:
		return errors.New("broadcast.peer_timeout must be positive")
	case c.Broadcast.Concurrency < 1:
		return errors.New("broadcast.concurrency must be at least 1")
	case c.Broadcast.History < 1:
		return errors.New("broadcast.history must be at least 1")
	case c.Announce.Interval.Duration <= 0:
		return errors.New("announce.interval must be positive")
	case c.Health.Interval.Duration <= 0:
		return errors.New("health.interval must be positive")
	case c.Health.MaxFailures < 1:
		return errors.New("health.max_failures must be at least 1")
	case c.Membership.Refresh.Duration <= 0:
		return errors.New("membership.refresh must be positive")
	}
	if _, err := cluster.JoinURL(c.Node.URI); err != nil {
		return errors.Wrap(err, "node.uri")
	}
	if _, err := cluster.JoinURL(c.DiscoveryURI()); err != nil {
		return errors.Wrap(err, "discovery.uri")
	}
	if _, err := zapcore.ParseLevel(c.Log.Level); err != nil {
		return errors.Wrap(err, "log.level")
	}
	return nil
}

// setting binds one configuration key to its environment variable and
// flag.
type setting struct {
	set     func(*Config, string) error
	key     string
	flag    string
	usage   string
	boolean bool
}

func (s setting) env() string {
	return EnvPrefix + strings.ToUpper(strings.ReplaceAll(s.key, ".", "_"))
}

var settings = []setting{
	{key: "node.id", flag: "node-id", usage: "node identifier (default derived from --uri)", set: str(func(c *Config) *string { return &c.Node.ID })},
	{key: "node.listen", flag: "listen", usage: "HTTP listen address", set: str(func(c *Config) *string { return &c.Node.Listen })},
	{key: "node.uri", flag: "uri", usage: "URI other nodes use to reach this node", set: str(func(c *Config) *string { return &c.Node.URI })},
	{key: "node.version", flag: "node-version", usage: "version reported to the cluster", set: str(func(c *Config) *string { return &c.Node.Version })},
	{key: "node.coordinator", flag: "coordinator", usage: "run as coordinator", boolean: true, set: boolean(func(c *Config) *bool { return &c.Node.Coordinator })},
	{key: "discovery.uri", flag: "discovery-uri", usage: "coordinator URI", set: str(func(c *Config) *string { return &c.Discovery.URI })},
	{key: "broadcast.peer_timeout", flag: "peer-timeout", usage: "timeout of a single peer request", set: duration(func(c *Config) *Duration { return &c.Broadcast.PeerTimeout })},
	{key: "broadcast.concurrency", flag: "broadcast-concurrency", usage: "peers contacted at once during a broadcast", set: integer(func(c *Config) *int { return &c.Broadcast.Concurrency })},
	{key: "broadcast.history", flag: "broadcast-history", usage: "broadcast results kept for inspection", set: integer(func(c *Config) *int { return &c.Broadcast.History })},
	{key: "catalog.strict_drop", flag: "strict-drop", usage: "fail when dropping an unknown catalog", boolean: true, set: boolean(func(c *Config) *bool { return &c.Catalog.StrictDrop })},
	{key: "catalog.dir", flag: "catalog-dir", usage: "directory of catalog definitions", set: str(func(c *Config) *string { return &c.Catalog.Dir })},
	{key: "announce.interval", flag: "announce-interval", usage: "period between announcements", set: duration(func(c *Config) *Duration { return &c.Announce.Interval })},
	{key: "health.interval", flag: "health-interval", usage: "period between health checks", set: duration(func(c *Config) *Duration { return &c.Health.Interval })},
	{key: "health.max_failures", flag: "health-max-failures", usage: "failed checks before a node is inactive", set: integer(func(c *Config) *int { return &c.Health.MaxFailures })},
	{key: "membership.refresh", flag: "membership-refresh", usage: "period between membership refreshes on workers", set: duration(func(c *Config) *Duration { return &c.Membership.Refresh })},
	{key: "log.level", flag: "log-level", usage: "debug, info, warn or error", set: str(func(c *Config) *string { return &c.Log.Level })},
	{key: "log.development", flag: "log-development", usage: "human-readable logs", boolean: true, set: boolean(func(c *Config) *bool { return &c.Log.Development })},
}

func str(field func(*Config) *string) func(*Config, string) error {
	return func(c *Config, v string) error {
		*field(c) = v
		return nil
	}
}

func boolean(field func(*Config) *bool) func(*Config, string) error {
	return func(c *Config, v string) error {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return err
		}
		*field(c) = b
		return nil
	}
}

func integer(field func(*Config) *int) func(*Config, string) error {
	return func(c *Config, v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		*field(c) = n
		return nil
	}
}

func duration(field func(*Config) *Duration) func(*Config, string) error {
	return func(c *Config, v string) error {
		return field(c).UnmarshalText([]byte(v))
	}
}
