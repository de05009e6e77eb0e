package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRecord_SameValue(t *testing.T) {
	base := &Record{ID: "p1", Version: 3, Payload: []byte(`{"name":"Sunita"}`), OriginDevice: "dev-A"}

	same := *base
	same.OriginDevice = "dev-B"
	same.HadConflict = true
	require.True(t, base.SameValue(&same), "origin and conflict flag are not part of the value")

	newer := *base
	newer.Version = 4
	require.False(t, base.SameValue(&newer))

	tomb := *base
	tomb.Deleted = true
	require.False(t, base.SameValue(&tomb))

	edited := *base
	edited.Payload = []byte(`{"name":"Sunita K"}`)
	require.False(t, base.SameValue(&edited))
}

func TestEntryRecordConversion(t *testing.T) {
	at := time.Date(2024, 1, 15, 9, 30, 0, 0, time.UTC)
	r := &Record{
		ID: "v1", Type: RecordTypeVisit, Payload: []byte("x"), Version: 2,
		OriginDevice: "asha-002", UpdatedAt: at, HadConflict: true,
	}

	e := EntryFromRecord(r, "phc-001")
	require.Equal(t, "phc-001", e.LogDevice)
	require.Equal(t, "asha-002", e.OriginDevice)
	require.Zero(t, e.SequenceNo)

	back := e.AsRecord()
	require.True(t, r.SameValue(back))
	require.Equal(t, r.OriginDevice, back.OriginDevice)
	require.Equal(t, r.Type, back.Type)
	require.Equal(t, at, back.UpdatedAt)
	require.True(t, back.HadConflict)
}

func TestReachability_Ordering(t *testing.T) {
	require.Greater(t, Online, PeerReachable)
	require.Greater(t, PeerReachable, Unreachable)

	for _, r := range []Reachability{Unreachable, PeerReachable, Online} {
		require.Equal(t, r, ParseReachability(r.String()))
	}
	require.Equal(t, Unreachable, ParseReachability("bogus"))

	require.Equal(t, Online, ReachabilityFor(RoleFacility))
	require.Equal(t, PeerReachable, ReachabilityFor(RoleFieldWorker))
}
