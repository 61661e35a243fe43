package coordinator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeBroadcaster fans out synchronously on Broadcast by invoking onSend once
// with the configured agent names, letting tests trigger Deliver calls from
// "inside" the broadcast itself.
type fakeBroadcaster struct {
	mu      sync.Mutex
	names   []string
	onSend  func(names []string)
}

func (f *fakeBroadcaster) Broadcast(msg any) int {
	f.mu.Lock()
	names := append([]string(nil), f.names...)
	f.mu.Unlock()
	if f.onSend != nil {
		f.onSend(names)
	}
	return len(names)
}

func (f *fakeBroadcaster) SnapshotNames() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.names...)
}

// pendingRequestID waits until Dispatch has installed its pending entry and
// returns that entry's request_id. Dispatch installs the entry only after
// Broadcast returns, so the table is still empty while onSend runs.
func pendingRequestID(c *Coordinator) string {
	for {
		c.mu.RLock()
		for id := range c.table {
			c.mu.RUnlock()
			return id
		}
		c.mu.RUnlock()
		time.Sleep(time.Millisecond)
	}
}

func TestDispatchCompletesWhenAllAgentsRespond(t *testing.T) {
	b := &fakeBroadcaster{names: []string{"A", "B"}}
	c := New(b, zap.NewNop())

	b.onSend = func(names []string) {
		go func() {
			requestID := pendingRequestID(c)
			c.Deliver(requestID, "A", []string{"/images/a.jpg"})
			c.Deliver(requestID, "B", []string{"/images/b.jpg"})
		}()
	}

	result := c.Dispatch(context.Background(), time.Second)
	require.Equal(t, []string{"/images/a.jpg"}, result["A"])
	require.Equal(t, []string{"/images/b.jpg"}, result["B"])
	require.Equal(t, 0, c.PendingCount())
}

func TestDispatchReturnsPartialOnDeadline(t *testing.T) {
	b := &fakeBroadcaster{names: []string{"A", "B"}}
	c := New(b, zap.NewNop())

	b.onSend = func(names []string) {
		go func() {
			c.Deliver(pendingRequestID(c), "A", []string{"/images/a.jpg"})
		}()
		// B never responds.
	}

	result := c.Dispatch(context.Background(), 30*time.Millisecond)
	require.Equal(t, []string{"/images/a.jpg"}, result["A"])
	require.Equal(t, []string{}, result["B"])
	require.Equal(t, 0, c.PendingCount())
}

func TestDispatchWithNoAgentsReturnsEmptyImmediately(t *testing.T) {
	b := &fakeBroadcaster{}
	c := New(b, zap.NewNop())

	result := c.Dispatch(context.Background(), time.Second)
	require.Empty(t, result)
	require.Equal(t, 0, c.PendingCount())
}

func TestDeliverForUnknownRequestIsIgnored(t *testing.T) {
	b := &fakeBroadcaster{}
	c := New(b, zap.NewNop())

	require.NotPanics(t, func() {
		c.Deliver("does-not-exist", "A", []string{"/images/a.jpg"})
	})
}

func TestLateDeliveryAfterDeadlineDoesNotPanic(t *testing.T) {
	b := &fakeBroadcaster{names: []string{"A"}}
	c := New(b, zap.NewNop())

	done := make(chan struct{})
	b.onSend = func(names []string) {
		// Deliver after the deadline has already fired.
		go func() {
			requestID := pendingRequestID(c)
			<-done
			c.Deliver(requestID, "A", []string{"/images/late.jpg"})
		}()
	}

	result := c.Dispatch(context.Background(), 20*time.Millisecond)
	require.Equal(t, []string{}, result["A"])
	close(done)
	time.Sleep(20 * time.Millisecond) // let the late Deliver run without panicking
}
