// Package config loads the TOML configuration shared by the
// kvmesh-master and kvmesh-reader binaries (SPEC_FULL.md §6A).
package config

import (
	"fmt"
	"time"

	"github.com/BurntSushi/toml"
)

// MasterConfig is the top-level shape of a master node's config file.
type MasterConfig struct {
	Master  MasterSection  `toml:"master"`
	Logging LoggingSection `toml:"logging"`
}

// ReaderConfig is the top-level shape of a reader's config file.
type ReaderConfig struct {
	Reader  ReaderSection  `toml:"reader"`
	Logging LoggingSection `toml:"logging"`
}

// MasterSection is the [master] TOML table.
type MasterSection struct {
	ListenAddress              string   `toml:"listen_address"`
	GCTickInterval             duration `toml:"gc_tick_interval"`
	PingInterval               duration `toml:"ping_interval"`
	PingTimeout                duration `toml:"ping_timeout"`
	CompressionMinSavingBytes  int      `toml:"compression_min_saving_bytes"`
	Compress                   bool     `toml:"compress"`
}

// ReaderSection is the [reader] TOML table.
type ReaderSection struct {
	MasterAddress           string   `toml:"master_address"`
	Table                   string   `toml:"table"`
	Location                string   `toml:"location"`
	ConnectTimeoutDur       duration `toml:"connect_timeout"`
	PingTimeoutDur          duration `toml:"ping_timeout"`
	ReconnectInitialBackoff duration `toml:"reconnect_initial_backoff"`
	ReconnectMaxBackoff     duration `toml:"reconnect_max_backoff"`
}

// LoggingSection is the [logging] TOML table.
type LoggingSection struct {
	Level      string `toml:"level"`
	File       string `toml:"file_path"`
	MaxSizeMB  int    `toml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days"`
}

// duration wraps time.Duration so BurntSushi/toml can decode a
// quoted string like "3s" straight into it via TextUnmarshaler.
type duration struct{ time.Duration }

func (d *duration) UnmarshalText(text []byte) error {
	if len(text) == 0 {
		return nil
	}
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("config: invalid duration %q: %w", text, err)
	}
	d.Duration = parsed
	return nil
}

func orDuration(d duration, fallback time.Duration) time.Duration {
	if d.Duration <= 0 {
		return fallback
	}
	return d.Duration
}

// Defaults named in spec.md §4.9/§5: 3s ping interval, 9s ping
// timeout, 3s connect timeout.
const (
	defaultPingInterval  = 3 * time.Second
	defaultPingTimeout   = 9 * time.Second
	defaultGCInterval    = 1 * time.Second
	defaultConnectTimeout = 3 * time.Second
	defaultInitialBackoff = 200 * time.Millisecond
	defaultMaxBackoff     = 30 * time.Second
)

// GCInterval is the validated GC loop period.
func (m MasterSection) GCInterval() time.Duration {
	return orDuration(m.GCTickInterval, defaultGCInterval)
}

// Ping is the validated keepalive ping cadence. kvmesh-master passes it
// to master.NewServer, which stores it but sends no pings of its own.
func (m MasterSection) Ping() time.Duration { return orDuration(m.PingInterval, defaultPingInterval) }

// Timeout is the validated master ping timeout. The master's Server
// does not consult it and does not drop a connection for lack of
// incoming frames.
func (m MasterSection) Timeout() time.Duration { return orDuration(m.PingTimeout, defaultPingTimeout) }

// CompressionMinSaving is the configured minimum byte saving before a
// frame is sent as CompressedPayload, defaulting to 10. The master does
// not consult it: wire.MaybeCompress applies its own fixed margin.
func (m MasterSection) CompressionMinSaving() int {
	if m.CompressionMinSavingBytes <= 0 {
		return 10
	}
	return m.CompressionMinSavingBytes
}

// ConnectTimeout is the validated dial timeout.
func (r ReaderSection) ConnectTimeout() time.Duration {
	return orDuration(r.ConnectTimeoutDur, defaultConnectTimeout)
}

// PingTimeoutDuration is the validated reader ping timeout.
// kvmesh-reader passes it to reader.NewConnection as the interval
// between the pings the reader sends; the reader does not drop a
// connection for a missing pong.
func (r ReaderSection) PingTimeoutDuration() time.Duration {
	return orDuration(r.PingTimeoutDur, defaultPingTimeout)
}

// InitialBackoff is the validated starting reconnect delay.
func (r ReaderSection) InitialBackoff() time.Duration {
	return orDuration(r.ReconnectInitialBackoff, defaultInitialBackoff)
}

// MaxBackoff is the validated reconnect delay ceiling.
func (r ReaderSection) MaxBackoff() time.Duration {
	return orDuration(r.ReconnectMaxBackoff, defaultMaxBackoff)
}

// LoadMaster parses a master TOML config file at path.
func LoadMaster(path string) (*MasterConfig, error) {
	var cfg MasterConfig
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, fmt.Errorf("config: decode master config %s: %w", path, err)
	}
	if cfg.Master.ListenAddress == "" {
		return nil, fmt.Errorf("config: master.listen_address is required")
	}
	return &cfg, nil
}

// LoadReader parses a reader TOML config file at path.
func LoadReader(path string) (*ReaderConfig, error) {
	var cfg ReaderConfig
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, fmt.Errorf("config: decode reader config %s: %w", path, err)
	}
	if cfg.Reader.MasterAddress == "" {
		return nil, fmt.Errorf("config: reader.master_address is required")
	}
	if cfg.Reader.Table == "" {
		return nil, fmt.Errorf("config: reader.table is required")
	}
	return &cfg, nil
}
