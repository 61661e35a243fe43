// Package registry maintains the in-memory table of authenticated agent
// connections. Agents are keyed by a monotonic local id assigned at
// connection time; the agent-chosen name is carried only as the aggregation
// key used by internal/coordinator — it is not guaranteed unique (spec.md
// §3, §9).
package registry

import (
	"sync"

	"go.uber.org/zap"
)

// Outbound is the sink a session drains to forward messages to its agent.
// internal/session implements this over the WebSocket write pump with a
// bounded buffer; it is not lossless: a message that does not fit in the
// buffer is dropped.
type Outbound interface {
	// Enqueue attempts to hand msg to the session for delivery. It returns
	// false if the message was not accepted; for internal/session that means
	// its buffer was full, not that the session is gone. The caller does not
	// retry.
	Enqueue(msg any) bool
}

// client is one entry in the registry.
type client struct {
	id       uint64
	name     string
	outbound Outbound
}

// Registry is the table of connected, authenticated agents. Safe for
// concurrent use. The zero value is not usable — create instances with New.
type Registry struct {
	mu      sync.RWMutex
	clients map[uint64]*client

	idMu   sync.Mutex
	nextID uint64

	logger *zap.Logger
}

// New creates an empty Registry.
func New(logger *zap.Logger) *Registry {
	return &Registry{
		clients: make(map[uint64]*client),
		logger:  logger.Named("registry"),
	}
}

// NextID returns the next monotonically increasing client id. Process-local,
// never reused within a coordinator lifetime.
func (r *Registry) NextID() uint64 {
	r.idMu.Lock()
	defer r.idMu.Unlock()
	id := r.nextID
	r.nextID++
	return id
}

// Register inserts a newly authenticated agent. Called once per session
// after the HMAC challenge succeeds (internal/session).
func (r *Registry) Register(id uint64, name string, outbound Outbound) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[id] = &client{id: id, name: name, outbound: outbound}
	r.logger.Info("agent registered",
		zap.Uint64("client_id", id),
		zap.String("name", name),
		zap.Int("total_connected", len(r.clients)),
	)
}

// Unregister removes an agent by id. Idempotent — removing an id that is
// not present (or already removed) is a no-op.
func (r *Registry) Unregister(id uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.clients[id]; !ok {
		return
	}
	delete(r.clients, id)
	r.logger.Info("agent unregistered",
		zap.Uint64("client_id", id),
		zap.Int("total_connected", len(r.clients)),
	)
}

// Broadcast enqueues msg onto every currently connected agent's outbound
// sink and returns the number of successful enqueues. It holds only a read
// lock while cloning the client list and enqueueing — no network I/O or
// cross-lock acquisition happens under the lock (spec.md §5).
func (r *Registry) Broadcast(msg any) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	targets := make([]*client, 0, len(r.clients))
	for _, c := range r.clients {
		targets = append(targets, c)
	}

	count := 0
	for _, c := range targets {
		if c.outbound.Enqueue(msg) {
			count++
		}
	}
	return count
}

// SnapshotNames returns the set of agent names currently connected. Used by
// internal/coordinator to enrich a dispatch result with every agent that was
// connected at completion time, even if it never answered (spec.md §4.6
// step 7).
func (r *Registry) SnapshotNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.clients))
	for _, c := range r.clients {
		names = append(names, c.name)
	}
	return names
}

// Count returns the number of currently connected agents.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}
