package ws

import (
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"zchat_go/internal/event"
)

const writeWait = 10 * time.Second

// Conn serializes writes to one connection; gorilla allows a single
// concurrent writer.
type Conn struct {
	identity string
	conn     *websocket.Conn
	mu       sync.Mutex
}

func (c *Conn) write(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// Hub manages active WebSocket connections keyed by identity and provides
// helper methods to push events to one or more identities.
type Hub struct {
	mu    sync.RWMutex
	conns map[string]map[*Conn]struct{}
}

func NewHub() *Hub {
	return &Hub{
		conns: make(map[string]map[*Conn]struct{}),
	}
}

// Register adds a connection for the given identity.
func (h *Hub) Register(identity string, conn *websocket.Conn) *Conn {
	c := &Conn{identity: identity, conn: conn}
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.conns[identity] == nil {
		h.conns[identity] = make(map[*Conn]struct{})
	}
	h.conns[identity][c] = struct{}{}
	return c
}

// Unregister removes a connection for the given identity.
func (h *Hub) Unregister(c *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if conns, ok := h.conns[c.identity]; ok {
		delete(conns, c)
		if len(conns) == 0 {
			delete(h.conns, c.identity)
		}
	}
}

// Connected reports whether identity has at least one connection on this hub.
func (h *Hub) Connected(identity string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns[identity]) > 0
}

// SendTo pushes e to every connection of the given identities and returns how
// many connections it reached. Connections that fail are closed; their read
// loop unregisters them.
func (h *Hub) SendTo(identities []string, e event.Event) int {
	data, err := event.Encode(e)
	if err != nil {
		log.Printf("ws: encode %s: %v", e.Name(), err)
		return 0
	}

	h.mu.RLock()
	var targets []*Conn
	for _, id := range identities {
		for c := range h.conns[id] {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	return h.deliver(targets, data)
}

// Broadcast pushes e to every connection except those of the skipped identity.
func (h *Hub) Broadcast(e event.Event, skip string) {
	data, err := event.Encode(e)
	if err != nil {
		log.Printf("ws: encode %s: %v", e.Name(), err)
		return
	}

	h.mu.RLock()
	var targets []*Conn
	for id, conns := range h.conns {
		if id == skip {
			continue
		}
		for c := range conns {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	h.deliver(targets, data)
}

func (h *Hub) deliver(targets []*Conn, data []byte) int {
	sent := 0
	for _, c := range targets {
		if err := c.write(data); err != nil {
			log.Printf("ws: write to %s: %v", c.identity, err)
			c.conn.Close()
			continue
		}
		sent++
	}
	return sent
}
