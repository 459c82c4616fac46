package hub

import (
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestHub(t *testing.T) *Hub {
	t.Helper()
	return NewHub(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func drain(o *Observer) []string {
	var out []string
	for {
		select {
		case data, ok := <-o.Send:
			if !ok {
				return out
			}
			out = append(out, string(data))
		default:
			return out
		}
	}
}

func TestBroadcastReachesEveryObserver(t *testing.T) {
	h := newTestHub(t)
	a, b := NewObserver(4), NewObserver(4)
	h.Add(a)
	h.Add(b)

	n, err := h.Broadcast(map[string]string{"type": "ping"})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []string{`{"type":"ping"}`}, drain(a))
	assert.Equal(t, []string{`{"type":"ping"}`}, drain(b))
}

func TestBroadcastRemovesSaturatedObserverOnly(t *testing.T) {
	h := newTestHub(t)
	slow, fast := NewObserver(1), NewObserver(8)
	h.Add(slow)
	h.Add(fast)

	assert.Equal(t, 2, h.BroadcastRaw([]byte("e1")))
	// slow's queue is now full; e2 fails for slow but still reaches fast.
	assert.Equal(t, 1, h.BroadcastRaw([]byte("e2")))

	assert.False(t, h.Has(slow))
	assert.True(t, h.Has(fast))
	assert.Equal(t, 1, h.Len())

	// slow's queue was closed after its buffered frame.
	data, ok := <-slow.Send
	assert.True(t, ok)
	assert.Equal(t, "e1", string(data))
	_, ok = <-slow.Send
	assert.False(t, ok)

	assert.Equal(t, 1, h.BroadcastRaw([]byte("e3")))
	assert.Equal(t, []string{"e1", "e2", "e3"}, drain(fast))
}

func TestRemoveIsIdempotent(t *testing.T) {
	h := newTestHub(t)
	o := NewObserver(1)
	h.Add(o)

	assert.True(t, h.Remove(o))
	assert.False(t, h.Remove(o))

	err := h.Send(o, []byte("late"))
	assert.True(t, errors.Is(err, ErrClosed))
	assert.Equal(t, 0, h.BroadcastRaw([]byte("x")))
}

func TestAddQueuesBacklogAheadOfLiveFrames(t *testing.T) {
	h := newTestHub(t)
	o := NewObserver(2)
	h.Add(o, []byte("r1"), []byte("r2"), []byte("r3"))
	assert.Equal(t, 5, cap(o.Send))

	// The live budget is untouched by the backlog.
	assert.Equal(t, 1, h.BroadcastRaw([]byte("e1")))
	assert.Equal(t, 1, h.BroadcastRaw([]byte("e2")))
	assert.Equal(t, 0, h.BroadcastRaw([]byte("e3")))
	assert.False(t, h.Has(o))

	var got []string
	for data := range o.Send {
		got = append(got, string(data))
	}
	assert.Equal(t, []string{"r1", "r2", "r3", "e1", "e2"}, got)
}

func TestSendBufferFull(t *testing.T) {
	h := newTestHub(t)
	o := NewObserver(1)
	h.Add(o)

	require.NoError(t, h.Send(o, []byte("1")))
	assert.Equal(t, ErrBufferFull, h.Send(o, []byte("2")))
	assert.True(t, h.Has(o), "direct sends never deregister")
}

func TestBroadcastEncodeError(t *testing.T) {
	h := newTestHub(t)
	h.Add(NewObserver(1))

	_, err := h.Broadcast(make(chan int))
	assert.Error(t, err)
}
