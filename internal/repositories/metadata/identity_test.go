package metadata

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDeviceID(t *testing.T) {
	_, r := setupDB(t)
	ctx := context.Background()

	id, err := LoadDeviceID(ctx, r, "")
	require.NoError(t, err)
	_, err = uuid.Parse(id)
	require.NoError(t, err, "generated ids are uuids")

	again, err := LoadDeviceID(ctx, r, "")
	require.NoError(t, err)
	assert.Equal(t, id, again, "identity survives restarts")

	same, err := LoadDeviceID(ctx, r, id)
	require.NoError(t, err)
	assert.Equal(t, id, same)

	_, err = LoadDeviceID(ctx, r, "someone-else")
	assert.ErrorContains(t, err, "database belongs to device")
}

func TestLoadDeviceID_Configured(t *testing.T) {
	_, r := setupDB(t)

	id, err := LoadDeviceID(context.Background(), r, "asha-001")
	require.NoError(t, err)
	assert.Equal(t, "asha-001", id)
}
