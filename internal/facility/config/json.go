package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/dmitrijs2005/fieldsync/internal/timex"
)

// JsonConfig is the on-disk shape of Config. Durations accept "1h" style
// strings or integer nanoseconds.
type JsonConfig struct {
	FacilityID                  string         `json:"facility_id"`
	EndpointAddrGRPC            string         `json:"endpoint_addr_grpc"`
	DatabaseDSN                 string         `json:"database_dsn"`
	SecretKey                   string         `json:"secret_key"`
	AccessTokenValidityDuration timex.Duration `json:"access_token_validity_duration"`
	CompactionSchedule          *string        `json:"compaction_schedule"`
	S3RootUser                  string         `json:"s3_root_user"`
	S3RootPassword              string         `json:"s3_root_password"`
	S3Bucket                    *string        `json:"s3_bucket"`
	S3Region                    string         `json:"s3_region"`
	S3BaseEndpoint              string         `json:"s3_base_endpoint"`
	S3Prefix                    string         `json:"s3_prefix"`
	BatchSize                   int            `json:"batch_size"`
	NegotiateTimeout            timex.Duration `json:"negotiate_timeout"`
	BatchTimeout                timex.Duration `json:"batch_timeout"`
	TieBreak                    string         `json:"tie_break"`
}

func parseJson(config *Config, path string) error {
	file, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	c := &JsonConfig{}
	if err := json.Unmarshal(file, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}

	if c.FacilityID != "" {
		config.FacilityID = c.FacilityID
	}
	if c.EndpointAddrGRPC != "" {
		config.EndpointAddrGRPC = c.EndpointAddrGRPC
	}
	if c.DatabaseDSN != "" {
		config.DatabaseDSN = c.DatabaseDSN
	}
	if c.SecretKey != "" {
		config.SecretKey = c.SecretKey
	}
	if c.AccessTokenValidityDuration.Duration != 0 {
		config.AccessTokenValidityDuration = c.AccessTokenValidityDuration.Duration
	}
	if c.CompactionSchedule != nil {
		config.CompactionSchedule = *c.CompactionSchedule
	}
	if c.S3RootUser != "" {
		config.S3RootUser = c.S3RootUser
	}
	if c.S3RootPassword != "" {
		config.S3RootPassword = c.S3RootPassword
	}
	if c.S3Bucket != nil {
		config.S3Bucket = *c.S3Bucket
	}
	if c.S3Region != "" {
		config.S3Region = c.S3Region
	}
	if c.S3BaseEndpoint != "" {
		config.S3BaseEndpoint = c.S3BaseEndpoint
	}
	if c.S3Prefix != "" {
		config.S3Prefix = c.S3Prefix
	}
	if c.BatchSize != 0 {
		config.BatchSize = c.BatchSize
	}
	if c.NegotiateTimeout.Duration != 0 {
		config.NegotiateTimeout = c.NegotiateTimeout.Duration
	}
	if c.BatchTimeout.Duration != 0 {
		config.BatchTimeout = c.BatchTimeout.Duration
	}
	if c.TieBreak != "" {
		config.TieBreak = c.TieBreak
	}
	return nil
}
