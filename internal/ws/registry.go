// Package ws owns the WebSocket side of the service: observer registries for
// the three broadcast buses and the request router that turns subscription
// commands into monitor loops.
package ws

import (
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/oakmere/fleettrack/internal/monitoring"
)

// client pairs a connection with its write lock; gorilla connections do not
// allow concurrent writers.
type client struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *client) write(messageType int, payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteMessage(messageType, payload)
}

// Registry tracks the observers of one bus. It satisfies broadcast.Sink.
type Registry struct {
	name string

	// PingInterval enables a keep-alive loop per connection when non-zero.
	PingInterval time.Duration

	// OnAttach, when set, runs after each observer registers. The response
	// bus hooks this to flush payloads retained while nobody listened.
	OnAttach func()

	mu      sync.Mutex
	clients map[string]*client
}

func NewRegistry(name string) *Registry {
	return &Registry{
		name:    name,
		clients: make(map[string]*client),
	}
}

// Add registers a connection and returns its id. The connection is in the
// broadcast set before the caller acknowledges the handshake, so a broadcast
// racing the accept cannot slip past a brand-new observer.
func (r *Registry) Add(conn *websocket.Conn) string {
	id := uuid.NewString()
	c := &client{conn: conn}

	r.mu.Lock()
	r.clients[id] = c
	n := len(r.clients)
	r.mu.Unlock()

	monitoring.Logf("%s observer %s connected (%d total)", r.name, id, n)
	if r.OnAttach != nil {
		r.OnAttach()
	}
	if r.PingInterval > 0 {
		go r.keepAlive(id, c)
	}
	return id
}

// Remove drops a connection from the registry and closes it. Safe to call
// more than once for the same id.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	c, ok := r.clients[id]
	if ok {
		delete(r.clients, id)
	}
	n := len(r.clients)
	r.mu.Unlock()

	if !ok {
		return
	}
	c.conn.Close()
	monitoring.Logf("%s observer %s disconnected (%d left)", r.name, id, n)
}

// ObserverCount reports the number of connected observers.
func (r *Registry) ObserverCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.clients)
}

// Broadcast sends payload to every observer. Iteration runs over a snapshot
// so a removal triggered by a failed write never disturbs the loop; the
// failing observer is unregistered and the rest are unaffected.
func (r *Registry) Broadcast(payload []byte) {
	r.mu.Lock()
	snapshot := make(map[string]*client, len(r.clients))
	for id, c := range r.clients {
		snapshot[id] = c
	}
	r.mu.Unlock()

	for id, c := range snapshot {
		if err := c.write(websocket.TextMessage, payload); err != nil {
			monitoring.Logf("%s broadcast to %s failed: %v", r.name, id, err)
			r.Remove(id)
		}
	}
}

// keepAlive pings the connection until a write fails or the connection is
// removed from the registry.
func (r *Registry) keepAlive(id string, c *client) {
	ticker := time.NewTicker(r.PingInterval)
	defer ticker.Stop()

	for range ticker.C {
		r.mu.Lock()
		_, present := r.clients[id]
		r.mu.Unlock()
		if !present {
			return
		}
		if err := c.write(websocket.PingMessage, nil); err != nil {
			r.Remove(id)
			return
		}
	}
}

// NewUpgrader builds the HTTP upgrader for observer endpoints. With no
// configured origins any origin is accepted, matching a tracker fleet that
// talks to the service directly rather than through browsers.
func NewUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin: func(req *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			origin := req.Header.Get("Origin")
			if origin == "" {
				return true
			}
			for _, o := range allowedOrigins {
				if o == origin || o == "*" {
					return true
				}
			}
			return false
		},
	}
}

// ServeObserver upgrades the request and parks the connection in the
// registry until the peer goes away. Observer endpoints are listen-only;
// inbound frames are drained and discarded.
func (r *Registry) ServeObserver(upgrader websocket.Upgrader, w http.ResponseWriter, req *http.Request) {
	conn, err := upgrader.Upgrade(w, req, nil)
	if err != nil {
		monitoring.Logf("%s observer upgrade failed: %v", r.name, err)
		return
	}
	id := r.Add(conn)
	defer r.Remove(id)

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
