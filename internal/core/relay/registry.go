package relay

import (
	"sort"
	"sync"

	"github.com/caboose014/Hue-Savant-Coprocessor/internal/core/queue"
)

// Sink receives every data message the dispatcher drains. Client
// connections are sinks, as are the optional mirrors (MQTT, history).
type Sink interface {
	ID() string
	Deliver(msg queue.Message) error
}

// ClientInfo describes a registered client for status reporting.
type ClientInfo struct {
	ID         string `json:"id"`
	RemoteAddr string `json:"remote_addr"`
	Transport  string `json:"transport"`
}

// Registry is the concurrency-safe set of connected clients.
type Registry struct {
	mu      sync.Mutex
	clients map[string]*Client
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{clients: make(map[string]*Client)}
}

// Add registers c.
func (r *Registry) Add(c *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[c.ID()] = c
}

// Remove deregisters the client with the given id. It reports whether the
// client was registered.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.clients[id]
	delete(r.clients, id)
	return ok
}

// Snapshot returns the registered clients. Callers write to them without
// holding the registry lock.
func (r *Registry) Snapshot() []*Client {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Client, 0, len(r.clients))
	for _, c := range r.clients {
		out = append(out, c)
	}
	return out
}

// Len returns the number of registered clients.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.clients)
}

// Clients describes the registered clients, ordered by remote address.
func (r *Registry) Clients() []ClientInfo {
	clients := r.Snapshot()
	out := make([]ClientInfo, 0, len(clients))
	for _, c := range clients {
		out = append(out, ClientInfo{ID: c.ID(), RemoteAddr: c.RemoteAddr(), Transport: c.kind})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].RemoteAddr != out[j].RemoteAddr {
			return out[i].RemoteAddr < out[j].RemoteAddr
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// CloseAll closes every registered client. Their handlers deregister them
// as their read loops fail.
func (r *Registry) CloseAll() {
	for _, c := range r.Snapshot() {
		c.Close()
	}
}
