package protocol

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/fxamacker/cbor/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeConsoleLog(t *testing.T) {
	data := []byte(`{
		"type": "console_log",
		"sessionId": "s1",
		"data": {
			"id": "l1",
			"timestamp": 1700000000000,
			"level": "info",
			"message": "hello",
			"args": ["hello", {"n": 1}],
			"source": {"file": "app.js", "line": 10, "column": 4},
			"origin": "https://spoofed.example"
		}
	}`)

	msg, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, TypeConsoleLog, msg.Type)
	assert.Equal(t, "s1", msg.SessionID)

	entry, ok := msg.Entry.(LogEntry)
	require.True(t, ok, "expected LogEntry, got %T", msg.Entry)
	assert.Equal(t, "l1", entry.ID)
	assert.Equal(t, LevelInfo, entry.Level)
	assert.Equal(t, "hello", entry.Message)
	assert.Len(t, entry.Args, 2)
	assert.JSONEq(t, `{"n":1}`, string(entry.Args[1]))
	require.NotNil(t, entry.Source)
	assert.Equal(t, 10, entry.Source.Line)
	assert.Empty(t, entry.Origin, "producer-supplied origin must be discarded")
}

func TestDecodeNetworkRequest(t *testing.T) {
	data := []byte(`{
		"type": "network_request",
		"sessionId": "s1",
		"data": {
			"id": "n1",
			"timestamp": 1700000000000,
			"url": "https://api.example/items",
			"headers": {"accept": "application/json"},
			"response": {"status": 200, "statusText": "OK", "headers": {}, "body": "[]"},
			"duration": 12.5
		}
	}`)

	msg, err := Decode(data)
	require.NoError(t, err)

	entry, ok := msg.Entry.(NetworkEntry)
	require.True(t, ok, "expected NetworkEntry, got %T", msg.Entry)
	assert.Equal(t, "GET", entry.Method)
	assert.Equal(t, "200 OK", entry.Status())
	require.NotNil(t, entry.Duration)
	assert.InDelta(t, 12.5, *entry.Duration, 0.001)
}

func TestDecodeRejects(t *testing.T) {
	tests := []struct {
		name string
		data string
		want error
	}{
		{"not json", `{not json`, ErrMalformed},
		{"array envelope", `[1,2]`, ErrMalformed},
		{"unknown type", `{"type":"error","sessionId":"s1","data":{"id":"x"}}`, ErrUnknownType},
		{"missing type", `{"sessionId":"s1","data":{"id":"x"}}`, ErrUnknownType},
		{"missing data", `{"type":"console_log","sessionId":"s1"}`, ErrMalformed},
		{"data not object", `{"type":"console_log","data":"hi"}`, ErrMalformed},
		{"missing id", `{"type":"console_log","data":{"level":"log","message":"m"}}`, ErrMalformed},
		{"numeric id", `{"type":"console_log","data":{"id":7,"level":"log"}}`, ErrMalformed},
		{"bad level", `{"type":"console_log","data":{"id":"a","level":"trace"}}`, ErrMalformed},
		{"bad field type", `{"type":"console_log","data":{"id":"a","level":"log","timestamp":"soon"}}`, ErrMalformed},
		{"network without url", `{"type":"network_request","data":{"id":"a","method":"GET"}}`, ErrMalformed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode([]byte(tt.data))
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
		})
	}
}

func TestDecodeBinary(t *testing.T) {
	data, err := cbor.Marshal(map[string]any{
		"type":      "console_log",
		"sessionId": "s1",
		"data": map[string]any{
			"id":        "b1",
			"timestamp": 1700000000000,
			"level":     "warn",
			"message":   "from cbor",
			"args":      []any{map[string]any{"k": "v"}},
		},
	})
	require.NoError(t, err)

	msg, err := DecodeBinary(data)
	require.NoError(t, err)
	entry := msg.Entry.(LogEntry)
	assert.Equal(t, "b1", entry.ID)
	assert.Equal(t, LevelWarn, entry.Level)
	assert.Equal(t, int64(1700000000000), entry.Timestamp)
	assert.JSONEq(t, `{"k":"v"}`, string(entry.Args[0]))

	_, err = DecodeBinary([]byte{0xff, 0x00})
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestEventMessageEncoding(t *testing.T) {
	entry := LogEntry{ID: "l1", Level: LevelLog, Message: "m", Args: []json.RawMessage{}}.WithOrigin("https://app.example")

	data, err := Encode(NewEventMessage("s1", entry))
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"type": "console_log",
		"sessionId": "s1",
		"data": {"id":"l1","timestamp":0,"level":"log","message":"m","args":[],"origin":"https://app.example"}
	}`, string(data))

	data, err = Encode(NewClientListMessage(nil))
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"client_list","data":[]}`, string(data))
}

func TestParseRole(t *testing.T) {
	tests := []struct {
		in   string
		want Role
		ok   bool
	}{
		{"", RoleProducer, true},
		{"producer", RoleProducer, true},
		{"client", RoleProducer, true},
		{"observer", RoleObserver, true},
		{"Debugger", RoleObserver, true},
		{"spectator", RoleProducer, false},
	}
	for _, tt := range tests {
		got, ok := ParseRole(tt.in)
		assert.Equal(t, tt.want, got, tt.in)
		assert.Equal(t, tt.ok, ok, tt.in)
	}
}
