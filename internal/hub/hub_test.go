package hub

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testWriter struct {
	mu     sync.Mutex
	writes [][]byte
	fail   bool
	closed bool
	block  chan struct{}
}

func (w *testWriter) Write(message []byte) error {
	if w.block != nil {
		<-w.block
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.writes = append(w.writes, message)
	if w.fail {
		return errors.New("test")
	}
	return nil
}

func (w *testWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	return nil
}

func (w *testWriter) count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.writes)
}

func (w *testWriter) isClosed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closed
}

const wait = 2 * time.Second

func TestHub_RegisterBroadcastUnregister(t *testing.T) {
	h := New()
	w1 := &testWriter{}
	c1 := &Connection{Topic: UsersTopic, Writer: w1}

	h.Register(c1)
	assert.Equal(t, 1, h.subscribers(UsersTopic))
	h.Broadcast(UsersTopic, []byte("x"))
	assert.Eventually(t, func() bool { return w1.count() == 1 }, wait, time.Millisecond)

	h.Broadcast("other", []byte("x"))
	h.Unregister(c1)
	h.Unregister(c1)
	h.Broadcast(UsersTopic, []byte("x"))
	assert.Equal(t, 0, h.subscribers(UsersTopic))
	assert.Never(t, func() bool { return w1.count() != 1 }, 50*time.Millisecond, time.Millisecond)
}

func TestHub_RemovesFailedConnections(t *testing.T) {
	h := New()
	w1 := &testWriter{fail: true}
	h.Register(&Connection{Topic: UsersTopic, Writer: w1})

	h.Broadcast(UsersTopic, []byte("x"))
	assert.Eventually(t, w1.isClosed, wait, time.Millisecond)
	assert.Equal(t, 0, h.subscribers(UsersTopic))

	h.Broadcast(UsersTopic, []byte("x"))
	assert.Equal(t, 1, w1.count())
}

func TestHub_SlowSubscriberDoesNotBlockBroadcast(t *testing.T) {
	h := New()
	slow := &testWriter{block: make(chan struct{})}
	fast := &testWriter{}
	h.Register(&Connection{Topic: UsersTopic, Writer: slow})
	h.Register(&Connection{Topic: UsersTopic, Writer: fast})

	done := make(chan struct{})
	go func() {
		for i := 0; i < sendBuffer+2; i++ {
			h.Broadcast(UsersTopic, []byte("x"))
			// Let the healthy subscriber keep up so only the stalled one overflows.
			for deadline := time.Now().Add(wait); fast.count() <= i && time.Now().Before(deadline); {
				time.Sleep(time.Millisecond)
			}
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(wait):
		t.Fatal("Broadcast blocked on a stalled subscriber")
	}
	assert.True(t, slow.isClosed())
	assert.Equal(t, 1, h.subscribers(UsersTopic))
	assert.Eventually(t, func() bool { return fast.count() == sendBuffer+2 }, wait, time.Millisecond)
	close(slow.block)
}

func TestHub_Publish(t *testing.T) {
	h := New()
	w := &testWriter{}
	h.Register(&Connection{Topic: UsersTopic, Writer: w})

	require.NoError(t, h.Publish(UsersTopic, EventUserDeleted, map[string]string{"id": "u1"}))
	require.Eventually(t, func() bool { return w.count() == 1 }, wait, time.Millisecond)

	w.mu.Lock()
	raw := w.writes[0]
	w.mu.Unlock()

	var msg map[string]any
	require.NoError(t, json.Unmarshal(raw, &msg))
	assert.Equal(t, "update", msg["type"])
	assert.Equal(t, EventUserDeleted, msg["event"])
	assert.Equal(t, map[string]any{"id": "u1"}, msg["body"])
}

func TestHub_PublishNil(t *testing.T) {
	var h *Hub
	assert.NoError(t, h.Publish(UsersTopic, EventUserCreated, nil))
}
