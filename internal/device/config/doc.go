// Package config loads runtime configuration for a field device.
//
// Sources & precedence
//
//  1. Built-in defaults (see (*Config).LoadDefaults).
//  2. Optional JSON file selected with -c/-config or $FIELDSYNC_CONFIG.
//  3. Command-line flags, which override earlier values.
//
// # JSON schema
//
// Durations are strings like "3s" or integer nanoseconds:
//
//	{
//	  "device_id": "",
//	  "role": "field-worker",
//	  "database_dsn": "fieldsync.db",
//	  "endpoint_addr_grpc": ":50052",
//	  "endpoint_addr_http": "127.0.0.1:8080",
//	  "facility_addr": "127.0.0.1:50051",
//	  "peers": ["dev-b=192.168.4.12:50052"],
//	  "sync_schedule": "@every 1m",
//	  "compaction_schedule": "@daily",
//	  "probe_interval": "3s",
//	  "tie_break": "higher-origin",
//	  "log_file": "/var/log/fieldsync.log"
//	}
package config
