// Package metadata is a small key/value table for node identity and
// registration state (device id, facility id, access token).
package metadata

import (
	"context"
)

// Well-known keys.
const (
	KeyDeviceID   = "device_id"
	KeyFacilityID = "facility_id"
	KeyToken      = "access_token"
	KeyTokenUntil = "access_token_until"
)

type Repository interface {
	// Get returns (nil, nil) when the key is absent.
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	List(ctx context.Context) (map[string][]byte, error)
	Clear(ctx context.Context) error
}
