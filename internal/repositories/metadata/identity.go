package metadata

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// LoadDeviceID returns the id this node's log is written under. The id is
// fixed by the first start: configured if given, generated otherwise.
func LoadDeviceID(ctx context.Context, r Repository, configured string) (string, error) {
	stored, err := r.Get(ctx, KeyDeviceID)
	if err != nil {
		return "", fmt.Errorf("read device id: %w", err)
	}
	if stored != nil {
		if configured != "" && configured != string(stored) {
			return "", fmt.Errorf("database belongs to device %q, configured as %q", stored, configured)
		}
		return string(stored), nil
	}

	id := configured
	if id == "" {
		id = uuid.NewString()
	}
	if err := r.Set(ctx, KeyDeviceID, []byte(id)); err != nil {
		return "", fmt.Errorf("save device id: %w", err)
	}
	return id, nil
}
