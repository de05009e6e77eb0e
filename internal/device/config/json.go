package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/dmitrijs2005/fieldsync/internal/timex"
)

// JsonConfig is the on-disk shape of Config. Zero values leave the current
// setting alone.
type JsonConfig struct {
	DeviceID           string         `json:"device_id"`
	Role               string         `json:"role"`
	DatabaseDSN        string         `json:"database_dsn"`
	EndpointAddrGRPC   string         `json:"endpoint_addr_grpc"`
	EndpointAddrHTTP   string         `json:"endpoint_addr_http"`
	AdvertiseAddr      string         `json:"advertise_addr"`
	FacilityAddr       string         `json:"facility_addr"`
	Peers              []string       `json:"peers"`
	SyncSchedule       *string        `json:"sync_schedule"`
	CompactionSchedule *string        `json:"compaction_schedule"`
	ProbeInterval      timex.Duration `json:"probe_interval"`
	ProbeTimeout       timex.Duration `json:"probe_timeout"`
	BatchSize          int            `json:"batch_size"`
	BatchLimit         int            `json:"batch_limit"`
	MaxSessions        int            `json:"max_sessions"`
	NegotiateTimeout   timex.Duration `json:"negotiate_timeout"`
	BatchTimeout       timex.Duration `json:"batch_timeout"`
	BackoffBase        timex.Duration `json:"backoff_base"`
	BackoffCap         timex.Duration `json:"backoff_cap"`
	TieBreak           string         `json:"tie_break"`
	LogFile            string         `json:"log_file"`
	LogLevel           string         `json:"log_level"`
}

func parseJson(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	var jc JsonConfig
	if err := json.Unmarshal(data, &jc); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}

	setString(&cfg.DeviceID, jc.DeviceID)
	setString(&cfg.Role, jc.Role)
	setString(&cfg.DatabaseDSN, jc.DatabaseDSN)
	setString(&cfg.EndpointAddrGRPC, jc.EndpointAddrGRPC)
	setString(&cfg.EndpointAddrHTTP, jc.EndpointAddrHTTP)
	setString(&cfg.AdvertiseAddr, jc.AdvertiseAddr)
	setString(&cfg.FacilityAddr, jc.FacilityAddr)
	if jc.Peers != nil {
		cfg.Peers = jc.Peers
	}
	// an explicit "" turns scheduled sync off
	if jc.SyncSchedule != nil {
		cfg.SyncSchedule = *jc.SyncSchedule
	}
	if jc.CompactionSchedule != nil {
		cfg.CompactionSchedule = *jc.CompactionSchedule
	}
	setDuration(&cfg.ProbeInterval, jc.ProbeInterval)
	setDuration(&cfg.ProbeTimeout, jc.ProbeTimeout)
	setInt(&cfg.BatchSize, jc.BatchSize)
	setInt(&cfg.BatchLimit, jc.BatchLimit)
	setInt(&cfg.MaxSessions, jc.MaxSessions)
	setDuration(&cfg.NegotiateTimeout, jc.NegotiateTimeout)
	setDuration(&cfg.BatchTimeout, jc.BatchTimeout)
	setDuration(&cfg.BackoffBase, jc.BackoffBase)
	setDuration(&cfg.BackoffCap, jc.BackoffCap)
	setString(&cfg.TieBreak, jc.TieBreak)
	setString(&cfg.LogFile, jc.LogFile)
	setString(&cfg.LogLevel, jc.LogLevel)
	return nil
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setInt(dst *int, v int) {
	if v != 0 {
		*dst = v
	}
}

func setDuration(dst *time.Duration, v timex.Duration) {
	if v.Duration != 0 {
		*dst = v.Duration
	}
}
