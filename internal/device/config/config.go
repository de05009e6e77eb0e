package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/dmitrijs2005/fieldsync/internal/engine"
	"github.com/dmitrijs2005/fieldsync/internal/flagx"
	"github.com/dmitrijs2005/fieldsync/internal/session"
)

// Config holds runtime settings for a field device.
//
// DeviceID may be left empty: the device then generates one on first start
// and keeps it in its database.
type Config struct {
	DeviceID         string
	Role             string
	DatabaseDSN      string
	EndpointAddrGRPC string
	EndpointAddrHTTP string
	// AdvertiseAddr is the address other nodes use to reach this device.
	// Defaults to EndpointAddrGRPC.
	AdvertiseAddr string
	FacilityAddr  string
	// Peers are "device-id=host:port" pairs seeded into the directory.
	Peers []string

	SyncSchedule string
	// CompactionSchedule trims the change log once every known device has
	// acknowledged it; empty disables it.
	CompactionSchedule string
	ProbeInterval      time.Duration
	ProbeTimeout       time.Duration
	BatchSize          int
	BatchLimit         int
	MaxSessions        int
	NegotiateTimeout   time.Duration
	BatchTimeout       time.Duration
	BackoffBase        time.Duration
	BackoffCap         time.Duration
	TieBreak           string

	LogFile  string
	LogLevel string
}

// LoadDefaults populates c with defaults for a device on a local network.
func (c *Config) LoadDefaults() {
	sc := session.DefaultConfig()
	ec := engine.DefaultConfig()

	c.Role = "field-worker"
	c.DatabaseDSN = "fieldsync.db"
	c.EndpointAddrGRPC = ":50052"
	c.EndpointAddrHTTP = "127.0.0.1:8080"
	c.FacilityAddr = "127.0.0.1:50051"
	c.SyncSchedule = ec.Schedule
	c.CompactionSchedule = "@daily"
	c.ProbeInterval = 3 * time.Second
	c.ProbeTimeout = time.Second
	c.BatchSize = sc.BatchSize
	c.BatchLimit = sc.BatchLimit
	c.MaxSessions = int(ec.MaxSessions)
	c.NegotiateTimeout = sc.NegotiateTimeout
	c.BatchTimeout = sc.BatchTimeout
	c.BackoffBase = ec.BackoffBase
	c.BackoffCap = ec.BackoffCap
	c.TieBreak = "higher-origin"
	c.LogFile = "fieldsync.log"
	c.LogLevel = "info"
}

// LoadConfig applies defaults, then the JSON file named in args (if any),
// then the flags in args.
func LoadConfig(args []string) (*Config, error) {
	cfg := &Config{}
	cfg.LoadDefaults()
	if path := flagx.ConfigPath(args); path != "" {
		if err := parseJson(cfg, path); err != nil {
			return nil, err
		}
	}
	if err := parseFlags(cfg, args); err != nil {
		return nil, err
	}
	return cfg, nil
}

// MustLoad is LoadConfig over os.Args; it panics on a bad config.
func MustLoad() *Config {
	cfg, err := LoadConfig(os.Args[1:])
	if err != nil {
		panic(err)
	}
	return cfg
}

// Session returns the transfer settings.
func (c *Config) Session() session.Config {
	return session.Config{
		BatchSize:        c.BatchSize,
		BatchLimit:       c.BatchLimit,
		NegotiateTimeout: c.NegotiateTimeout,
		BatchTimeout:     c.BatchTimeout,
	}
}

// Engine returns the scheduler settings.
func (c *Config) Engine() engine.Config {
	return engine.Config{
		MaxSessions: int64(c.MaxSessions),
		Schedule:    c.SyncSchedule,
		BackoffBase: c.BackoffBase,
		BackoffCap:  c.BackoffCap,
		Session:     c.Session(),
	}
}

// Advertise is the address announced to other nodes.
func (c *Config) Advertise() string {
	if c.AdvertiseAddr != "" {
		return c.AdvertiseAddr
	}
	return c.EndpointAddrGRPC
}

// Peer is a statically configured neighbour.
type Peer struct {
	DeviceID string
	Address  string
}

// ParsePeers splits the "id=host:port" entries of c.Peers.
func (c *Config) ParsePeers() ([]Peer, error) {
	out := make([]Peer, 0, len(c.Peers))
	for _, p := range c.Peers {
		id, addr, ok := strings.Cut(strings.TrimSpace(p), "=")
		if !ok || id == "" || addr == "" {
			return nil, fmt.Errorf("invalid peer %q, want device-id=host:port", p)
		}
		out = append(out, Peer{DeviceID: id, Address: addr})
	}
	return out, nil
}
