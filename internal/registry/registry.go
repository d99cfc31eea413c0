// Package registry is the single source of truth for which connections
// are live right now. It exclusively owns Connection records; the broker
// holds only connection ids into it.
package registry

import (
	"errors"
	"sync"
	"time"

	"rdrelay/internal/protocol"
)

var (
	ErrDuplicateConnection = errors.New("connection already registered")
	ErrUnknownConnection   = errors.New("unknown connection")
)

// Sender is the write side of one transport connection. Implementations
// must serialise writes themselves (one writer goroutine per connection).
type Sender interface {
	Write(message []byte) error
	Close() error
}

// Connection is one live transport session. The registry owns these;
// accessors hand out copies.
type Connection struct {
	ID            string
	DeviceID      string
	Name          string
	Role          string
	Status        string
	Capabilities  map[string]string
	RegisteredAt  time.Time
	LastHeartbeat time.Time

	sender Sender
}

// Registry is lock-guarded shared state touched from every connection's
// read loop. Constructed per instance and passed by reference, never
// reached through package globals.
type Registry struct {
	mu    sync.RWMutex
	conns map[string]*Connection
	order []string // connection ids in registration order
	now   func() time.Time

	unregisterHooks []func(connectionID string)
}

func New() *Registry {
	return NewWithNow(time.Now)
}

func NewWithNow(now func() time.Time) *Registry {
	return &Registry{conns: make(map[string]*Connection), now: now}
}

// OnUnregister adds a hook run synchronously after a connection is
// removed. The assembling server wires session invalidation first, then
// broker pair teardown. Hooks run outside the registry lock so they may
// call back into it.
func (r *Registry) OnUnregister(hook func(connectionID string)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.unregisterHooks = append(r.unregisterHooks, hook)
}

func (r *Registry) Register(id, deviceID, name, role string, caps map[string]string, sender Sender) (Connection, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.conns[id]; ok {
		return Connection{}, ErrDuplicateConnection
	}

	now := r.now()
	conn := &Connection{
		ID:            id,
		DeviceID:      deviceID,
		Name:          name,
		Role:          role,
		Status:        protocol.StatusConnected,
		Capabilities:  caps,
		RegisteredAt:  now,
		LastHeartbeat: now,
		sender:        sender,
	}
	r.conns[id] = conn
	r.order = append(r.order, id)
	return *conn, nil
}

func (r *Registry) UpdateStatus(id, status string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, ok := r.conns[id]
	if !ok {
		return ErrUnknownConnection
	}
	conn.Status = status
	return nil
}

// Touch stamps the last-heartbeat time for the liveness monitor.
func (r *Registry) Touch(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, ok := r.conns[id]
	if !ok {
		return ErrUnknownConnection
	}
	conn.LastHeartbeat = r.now()
	return nil
}

func (r *Registry) Get(id string) (Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conn, ok := r.conns[id]
	if !ok {
		return Connection{}, false
	}
	return *conn, true
}

// Send writes an encoded message to the named connection.
func (r *Registry) Send(id string, message []byte) error {
	r.mu.RLock()
	conn, ok := r.conns[id]
	r.mu.RUnlock()

	if !ok {
		return ErrUnknownConnection
	}
	return conn.sender.Write(message)
}

// Unregister removes the record, closes the transport, and runs the
// cascade hooks (session invalidation, pair teardown). A stale half-pair
// must never survive one side vanishing, so the hooks run synchronously
// before Unregister returns.
func (r *Registry) Unregister(id string) error {
	r.mu.Lock()
	conn, ok := r.conns[id]
	if !ok {
		r.mu.Unlock()
		return ErrUnknownConnection
	}
	delete(r.conns, id)
	for i, oid := range r.order {
		if oid == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	hooks := append([]func(string){}, r.unregisterHooks...)
	r.mu.Unlock()

	_ = conn.sender.Close()
	for _, hook := range hooks {
		hook(id)
	}
	return nil
}

// ListControlledDevices returns controlled-role connections in
// registration order, for broadcast to controllers.
func (r *Registry) ListControlledDevices() []Connection {
	return r.listByRole(protocol.RoleControlled)
}

// ListControllers returns controller-role connections in registration order.
func (r *Registry) ListControllers() []Connection {
	return r.listByRole(protocol.RoleController)
}

func (r *Registry) listByRole(role string) []Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Connection, 0, len(r.order))
	for _, id := range r.order {
		if conn, ok := r.conns[id]; ok && conn.Role == role {
			out = append(out, *conn)
		}
	}
	return out
}

// Snapshot copies every live connection, for liveness scans and stats.
func (r *Registry) Snapshot() []Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Connection, 0, len(r.order))
	for _, id := range r.order {
		if conn, ok := r.conns[id]; ok {
			out = append(out, *conn)
		}
	}
	return out
}

// FindByDeviceID resolves a client-declared device id to its live
// connection, preferring the earliest registration.
func (r *Registry) FindByDeviceID(deviceID string) (Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, id := range r.order {
		if conn, ok := r.conns[id]; ok && conn.DeviceID == deviceID {
			return *conn, true
		}
	}
	return Connection{}, false
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}
