// Package coordinator implements the per-request fan-out/aggregation
// barrier: broadcast a screenshot request to every connected agent, collect
// responses as they arrive, and return whatever was collected by the time
// every expected agent has answered or a deadline fires.
//
// This is the subsystem spec.md §4.6 calls out as the one around which
// correctness turns; see original_source/remoshot-server/src/state.rs
// (PendingRequest) and .../http.rs (screenshot_handler) for the ground-truth
// algorithm this package implements.
package coordinator

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/remoshot/coordinator/internal/protocol"
)

// Broadcaster is the subset of internal/registry.Registry the coordinator
// depends on, kept as an interface to avoid coupling the aggregation logic
// to the registry's concrete type.
type Broadcaster interface {
	Broadcast(msg any) int
	SnapshotNames() []string
}

// pendingRequest is one in-flight aggregation barrier. received and notify
// are guarded by mu; expected is set once at construction and never changes
// (spec.md §3 invariant 5).
type pendingRequest struct {
	mu       sync.Mutex
	expected int
	received map[string][]string
	notify   chan map[string][]string // closed-over-once: set to nil after firing
}

// Coordinator owns the table of in-flight requests and the logic to create,
// fulfil, and tear them down.
type Coordinator struct {
	broadcaster Broadcaster
	logger      *zap.Logger

	mu    sync.RWMutex
	table map[string]*pendingRequest
}

// New creates a Coordinator that broadcasts through b.
func New(b Broadcaster, logger *zap.Logger) *Coordinator {
	return &Coordinator{
		broadcaster: b,
		logger:      logger.Named("coordinator"),
		table:       make(map[string]*pendingRequest),
	}
}

// Dispatch broadcasts a fresh ScreenshotRequest to every connected agent and
// blocks until either every expected agent has responded or deadline
// elapses, whichever comes first. It always returns a non-nil map — timeout
// is not an error, per spec.md §4.6/§7.
//
// The returned map is enriched so every agent connected at completion time
// appears as a key (with an empty slice if it never answered in time).
func (c *Coordinator) Dispatch(ctx context.Context, deadline time.Duration) map[string][]string {
	requestID := newRequestID()

	expected := c.broadcaster.Broadcast(protocol.NewScreenshotRequest(requestID))
	if expected == 0 {
		c.logger.Warn("no agents available for screenshot request", zap.String("request_id", requestID))
		return map[string][]string{}
	}

	pr := &pendingRequest{
		expected: expected,
		received: make(map[string][]string),
		notify:   make(chan map[string][]string, 1),
	}

	c.mu.Lock()
	c.table[requestID] = pr
	c.mu.Unlock()

	c.logger.Info("broadcast screenshot request",
		zap.String("request_id", requestID),
		zap.Int("expected", expected),
	)

	timer := time.NewTimer(deadline)
	defer timer.Stop()

	var result map[string][]string
	select {
	case result = <-pr.notify:
		c.logger.Info("received all expected responses", zap.String("request_id", requestID))
	case <-timer.C:
		pr.mu.Lock()
		result = cloneMap(pr.received)
		pr.notify = nil // drop the still-pending notify; late deliveries fall through
		pr.mu.Unlock()
		c.logger.Warn("deadline elapsed, returning partial results",
			zap.String("request_id", requestID),
			zap.Int("received", len(result)),
			zap.Int("expected", expected),
		)
	case <-ctx.Done():
		pr.mu.Lock()
		result = cloneMap(pr.received)
		pr.notify = nil
		pr.mu.Unlock()
		c.logger.Warn("caller context cancelled, returning partial results",
			zap.String("request_id", requestID),
		)
	}

	for _, name := range c.broadcaster.SnapshotNames() {
		if _, ok := result[name]; !ok {
			result[name] = []string{}
		}
	}

	c.mu.Lock()
	delete(c.table, requestID)
	c.mu.Unlock()

	return result
}

// Deliver records an agent's response for an in-flight request. If the
// request is unknown (already completed and removed, or never existed —
// e.g. a forged request_id, see spec.md §9 Open Question), the delivery is
// silently dropped.
//
// Deliver does not verify that the delivering agent was actually sent this
// request_id; spec.md explicitly does not require that enforcement.
func (c *Coordinator) Deliver(requestID, agentName string, urls []string) {
	c.mu.RLock()
	pr, ok := c.table[requestID]
	c.mu.RUnlock()
	if !ok {
		c.logger.Warn("dropping late or unknown response",
			zap.String("request_id", requestID),
			zap.String("agent", agentName),
		)
		return
	}

	pr.mu.Lock()
	defer pr.mu.Unlock()

	pr.received[agentName] = urls

	if len(pr.received) >= pr.expected && pr.notify != nil {
		pr.notify <- cloneMap(pr.received)
		pr.notify = nil
	}
}

// PendingCount returns the number of in-flight requests.
func (c *Coordinator) PendingCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.table)
}

// newRequestID mints a fresh 128-bit random id, rendered as canonical
// (hyphenated) hex via uuid v4 — the representation spec.md §3 calls a
// "canonical hex string".
func newRequestID() string {
	return uuid.NewString()
}

func cloneMap(m map[string][]string) map[string][]string {
	out := make(map[string][]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
