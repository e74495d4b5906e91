// Package config holds OpenSet's TOML-tagged runtime configuration,
// following FeatureBase's top-level config.go: nested structs per
// concern, a Duration wrapper for TOML-friendly time.Duration fields,
// and a NewConfig constructor carrying defaults.
package config

import (
	"time"

	"github.com/perple-io/openset/errors"
)

// ClusterTypes enumerates the legal values of Cluster.Type, mirroring
// FeatureBase's ClusterTypes/StringInSlice validation idiom.
var ClusterTypes = []string{"static", "gossip"}

const (
	// DefaultHost is the default bind hostname.
	DefaultHost = "localhost"

	// DefaultPort is the default query-intake port.
	DefaultPort = "9191"

	// DefaultGossipPort is the default inter-node membership port.
	DefaultGossipPort = "9192"

	// DefaultWorkerCount of 0 means "use runtime.NumCPU()" -- resolved by
	// the caller, not by this package, so config stays dependency-free.
	DefaultWorkerCount = 0

	// DefaultMaxConcurrentQueries makes an originally hard-coded
	// "running queries >= 3" check configurable, keeping its old
	// ceiling as the default.
	DefaultMaxConcurrentQueries = 3

	// DefaultQueryDispatchThreads is the size of the intake's "query"
	// dispatch pool, distinct from DefaultMaxConcurrentQueries, which
	// further throttles how many of those threads may be doing useful
	// work at once.
	DefaultQueryDispatchThreads = 8

	// DefaultOtherDispatchThreads is the size of the non-query HTTP
	// intake's dispatch pool; /ping is the only route served through it.
	DefaultOtherDispatchThreads = 32

	// DefaultPartitionMax is the fixed partition count new clusters are
	// bootstrapped with.
	DefaultPartitionMax = 256
)

// Duration is a TOML wrapper type for time.Duration, following
// FeatureBase's config.Duration.
type Duration time.Duration

func (d Duration) String() string { return time.Duration(d).String() }

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

func (d Duration) MarshalText() ([]byte, error) { return []byte(d.String()), nil }

func (d Duration) MarshalTOML() ([]byte, error) { return []byte(d.String()), nil }

// Config is OpenSet's top-level configuration, loaded from a TOML file
// via github.com/pelletier/go-toml.
type Config struct {
	DataDir string `toml:"data-dir"`
	Bind    string `toml:"bind"`
	LogPath string `toml:"log-path"`
	Verbose bool   `toml:"verbose"`

	Cluster struct {
		PartitionMax int      `toml:"partition-max"`
		Type         string   `toml:"type"` // "static" or "gossip"
		Hosts        []string `toml:"hosts"`
		GossipPort   int      `toml:"gossip-port"`
	} `toml:"cluster"`

	Scheduler struct {
		WorkerCount     int      `toml:"worker-count"`
		DefaultInterval Duration `toml:"default-interval"`
	} `toml:"scheduler"`

	Ingress struct {
		// MaxConcurrentQueries bounds originator-side query dispatches
		// (event/segment/column/histogram/batch), replacing a fixed
		// compiled-in cap.
		MaxConcurrentQueries int `toml:"max-concurrent-queries"`
		QueryDispatchThreads int `toml:"query-dispatch-threads"`
		OtherDispatchThreads int `toml:"other-dispatch-threads"`
	} `toml:"ingress"`

	Metric struct {
		Service string `toml:"service"` // "prometheus" or "nop"
		Bind    string `toml:"bind"`
	} `toml:"metric"`

	TLS TLSConfig
}

// TLSConfig contains TLS configuration, following FeatureBase's
// identically-named type.
type TLSConfig struct {
	CertificatePath    string `toml:"certificate-path"`
	CertificateKeyPath string `toml:"certificate-key-path"`
	SkipVerify         bool   `toml:"skip-verify"`
}

// NewConfig returns a Config populated with defaults.
func NewConfig() *Config {
	c := &Config{
		Bind: DefaultHost + ":" + DefaultPort,
	}
	c.Cluster.PartitionMax = DefaultPartitionMax
	c.Cluster.Type = "gossip"
	c.Cluster.GossipPort = mustAtoi(DefaultGossipPort)
	c.Cluster.Hosts = []string{}
	c.Scheduler.WorkerCount = DefaultWorkerCount
	c.Scheduler.DefaultInterval = Duration(100 * time.Millisecond)
	c.Ingress.MaxConcurrentQueries = DefaultMaxConcurrentQueries
	c.Ingress.QueryDispatchThreads = DefaultQueryDispatchThreads
	c.Ingress.OtherDispatchThreads = DefaultOtherDispatchThreads
	c.Metric.Service = "nop"
	return c
}

// Validate checks that all configured permutations are compatible with
// each other.
func (c *Config) Validate() error {
	if !stringInSlice(c.Cluster.Type, ClusterTypes) {
		return errors.Newf(errors.CodeGeneralConfigError, "invalid cluster type: %q", c.Cluster.Type)
	}
	if c.Cluster.Type == "gossip" && len(c.Cluster.Hosts) == 0 {
		return errors.New(errors.CodeGeneralConfigError, "gossip cluster requires at least one seed host")
	}
	if c.Cluster.PartitionMax <= 0 {
		return errors.New(errors.CodeGeneralConfigError, "partition-max must be positive")
	}
	if c.Ingress.MaxConcurrentQueries < 0 {
		return errors.New(errors.CodeGeneralConfigError, "max-concurrent-queries must not be negative")
	}
	return nil
}

func stringInSlice(s string, list []string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func mustAtoi(s string) int {
	n := 0
	for _, r := range s {
		n = n*10 + int(r-'0')
	}
	return n
}
