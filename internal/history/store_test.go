package history

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dgca/mini-app-debugger/internal/protocol"
)

type staticOrigins map[string]string

func (o staticOrigins) Origin(sessionID string) string {
	if origin, ok := o[sessionID]; ok {
		return origin
	}
	return protocol.UnknownOrigin
}

func logEntry(id string) protocol.LogEntry {
	return protocol.LogEntry{ID: id, Level: protocol.LevelInfo, Message: "msg " + id}
}

func TestBufferKeepsArrivalOrderUnderCapacity(t *testing.T) {
	b := NewBuffer[int](3)
	for i := 1; i <= 7; i++ {
		require.True(t, b.Add(fmt.Sprint(i), i))
		assert.LessOrEqual(t, b.Len(), 3)
	}
	assert.Equal(t, []int{5, 6, 7}, b.All())
	assert.False(t, b.Contains("4"))
	assert.True(t, b.Contains("5"))
}

func TestBufferRejectsDuplicates(t *testing.T) {
	b := NewBuffer[string](3)
	require.True(t, b.Add("a", "first"))
	assert.False(t, b.Add("a", "second"))
	assert.Equal(t, []string{"first"}, b.All())
}

func TestBufferEvictionFreesID(t *testing.T) {
	b := NewBuffer[string](2)
	b.Add("a", "a1")
	b.Add("b", "b1")
	b.Add("c", "c1") // evicts a

	assert.True(t, b.Add("a", "a2"), "evicted id must be accepted again") // evicts b
	assert.Equal(t, []string{"c1", "a2"}, b.All())
	assert.False(t, b.Add("c", "c2"))
}

func TestBufferEmpty(t *testing.T) {
	b := NewBuffer[int](10)
	assert.Nil(t, b.All())
	assert.Equal(t, 0, b.Len())
}

func TestStoreRecordStampsOrigin(t *testing.T) {
	s := NewStore(DefaultLimit, staticOrigins{"s1": "https://app.example"})

	stored, ok := s.Record("s1", logEntry("l1"))
	require.True(t, ok)
	assert.Equal(t, "https://app.example", stored.(protocol.LogEntry).Origin)
	assert.Equal(t, "https://app.example", s.Logs("s1")[0].Origin)

	// Session torn down (or never registered): sentinel origin.
	stored, ok = s.Record("gone", protocol.NetworkEntry{ID: "n1", URL: "/x", Method: "GET"})
	require.True(t, ok)
	assert.Equal(t, protocol.UnknownOrigin, stored.(protocol.NetworkEntry).Origin)
}

func TestStoreDuplicateRejected(t *testing.T) {
	s := NewStore(DefaultLimit, nil)

	_, ok := s.Record("s1", logEntry("l1"))
	require.True(t, ok)
	stored, ok := s.Record("s1", logEntry("l1"))
	assert.False(t, ok)
	assert.Nil(t, stored)
	assert.Len(t, s.Logs("s1"), 1)
}

func TestStoreKindsAndSessionsAreIndependent(t *testing.T) {
	s := NewStore(DefaultLimit, nil)

	_, ok := s.Record("s1", logEntry("x"))
	require.True(t, ok)
	_, ok = s.Record("s1", protocol.NetworkEntry{ID: "x", URL: "/x"})
	assert.True(t, ok, "log and network ids share no namespace")
	_, ok = s.Record("s2", logEntry("x"))
	assert.True(t, ok, "sessions share no namespace")

	logs, network := s.Totals()
	assert.Equal(t, 2, logs)
	assert.Equal(t, 1, network)
	assert.Equal(t, []string{"s1", "s2"}, s.Sessions())
}

func TestStoreEvictsOldestAfterLimit(t *testing.T) {
	s := NewStore(DefaultLimit, nil)

	for i := 1; i <= 1001; i++ {
		_, ok := s.Record("s1", logEntry(fmt.Sprintf("log-%d", i)))
		require.True(t, ok)
	}

	logs := s.Logs("s1")
	require.Len(t, logs, 1000)
	assert.Equal(t, "log-2", logs[0].ID)
	assert.Equal(t, "log-1001", logs[999].ID)
	for i, e := range logs {
		assert.Equal(t, fmt.Sprintf("log-%d", i+2), e.ID)
	}

	h := s.sessions["s1"]
	assert.Len(t, h.logs.ids, 1000)
	assert.False(t, h.logs.Contains("log-1"))

	_, ok := s.Record("s1", logEntry("log-1"))
	assert.True(t, ok, "evicted id is new again")
	_, ok = s.Record("s1", logEntry("log-1001"))
	assert.False(t, ok)
}

func TestStoreEnsure(t *testing.T) {
	s := NewStore(0, nil)
	assert.Equal(t, DefaultLimit, s.limit)

	s.Ensure("s1")
	s.Ensure("s1")
	assert.Equal(t, 1, s.Len())
	assert.Empty(t, s.Logs("s1"))
	assert.Nil(t, s.Network("missing"))
}
