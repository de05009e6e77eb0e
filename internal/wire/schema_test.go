package wire

import (
	"os"
	"regexp"
	"slices"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"
)

var (
	protoMessage = regexp.MustCompile(`(?s)message (\w+) \{(.*?)\n\}`)
	protoField   = regexp.MustCompile(`\w+ = (\d+);`)
)

// schemaNumbers reads the field numbers of every message in sync.proto.
func schemaNumbers(t *testing.T) map[string][]int {
	t.Helper()
	src, err := os.ReadFile("sync.proto")
	require.NoError(t, err)

	out := map[string][]int{}
	for _, m := range protoMessage.FindAllStringSubmatch(string(src), -1) {
		for _, f := range protoField.FindAllStringSubmatch(m[2], -1) {
			n, err := strconv.Atoi(f[1])
			require.NoError(t, err)
			out[m[1]] = append(out[m[1]], n)
		}
		slices.Sort(out[m[1]])
	}
	return out
}

// encodedNumbers lists the distinct field numbers present in the encodings.
func encodedNumbers(t *testing.T, msgs ...Message) []int {
	t.Helper()
	var out []int
	for _, m := range msgs {
		b, err := m.MarshalWire()
		require.NoError(t, err)
		for len(b) > 0 {
			num, _, n := protowire.ConsumeField(b)
			require.GreaterOrEqual(t, n, 0)
			if !slices.Contains(out, int(num)) {
				out = append(out, int(num))
			}
			b = b[n:]
		}
	}
	slices.Sort(out)
	return out
}

func TestSchemaMatchesEncoding(t *testing.T) {
	schema := schemaNumbers(t)

	hello := &Hello{
		ProtocolVersion: 1, SessionID: "s", DeviceID: "d", Role: "r", Address: "a", Token: "t",
		ReceivedFromYou: 1, SentToYou: 2, HighestSeq: 3,
	}
	entry := &Entry{
		SequenceNo: 1, LogDevice: "l", RecordID: "r", RecordType: "visit", Version: 1, Payload: []byte("p"),
		Deleted: true, HadConflict: true, OriginDevice: "o", ProducedAtMs: 1, Digest: []byte("d"),
	}
	batch := &Batch{Entries: []*Entry{entry}, Snapshot: true, Final: true, UpTo: 1}

	tests := []struct {
		message string
		msgs    []Message
	}{
		{"PingRequest", []Message{&PingRequest{DeviceID: "d"}}},
		{"PingResponse", []Message{&PingResponse{DeviceID: "d", Role: "r"}}},
		{"RegisterRequest", []Message{&RegisterRequest{DeviceID: "d", Role: "r", Address: "a"}}},
		{"RegisterResponse", []Message{&RegisterResponse{FacilityID: "f", Token: "t", ExpiresAtMs: 1}}},
		{"Hello", []Message{hello}},
		{"Entry", []Message{entry}},
		{"Batch", []Message{batch}},
		{"Ack", []Message{&Ack{UpTo: 1}}},
		{"Fail", []Message{&Fail{Code: FailBusy, Reason: "r"}}},
		{"Frame", []Message{
			&Frame{Hello: hello}, &Frame{HelloAck: hello}, &Frame{Batch: batch},
			&Frame{Ack: &Ack{UpTo: 1}}, &Frame{Fail: &Fail{Code: FailBusy}},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.message, func(t *testing.T) {
			want, ok := schema[tt.message]
			require.True(t, ok, "message missing from sync.proto")
			assert.Equal(t, want, encodedNumbers(t, tt.msgs...))
		})
	}
	assert.Len(t, schema, len(tests), "every schema message is covered")
}
