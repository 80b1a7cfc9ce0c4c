package dashboard

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/caelum-labs/worchflow/internal/bus"
	"github.com/caelum-labs/worchflow/internal/logging"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// relayedEvent is the JSON shape sent to connected dashboard clients.
type relayedEvent struct {
	Event   string `json:"event"`
	Payload any    `json:"payload"`
}

// wsHub generalizes the teacher's JobWSHub from a single job-event type to
// every bus event worth showing live in a dashboard.
type wsHub struct {
	clients    map[*wsClient]bool
	broadcast  chan relayedEvent
	register   chan *wsClient
	unregister chan *wsClient
	done       chan struct{}
	mu         sync.RWMutex
	logger     *logging.Logger
}

type wsClient struct {
	hub  *wsHub
	conn *websocket.Conn
	send chan []byte
}

func newWSHub(logger *logging.Logger) *wsHub {
	return &wsHub{
		clients:    make(map[*wsClient]bool),
		broadcast:  make(chan relayedEvent, 256),
		register:   make(chan *wsClient),
		unregister: make(chan *wsClient),
		done:       make(chan struct{}),
		logger:     logger,
	}
}

// relayedEvents are the bus events surfaced to dashboard clients — the full
// lifecycle except schedule:registered, which is construction-time noise.
var relayedEvents = []string{
	bus.EventReady, bus.EventError,
	bus.EventExecutionStart, bus.EventExecutionComplete, bus.EventExecutionFailed, bus.EventExecutionUpdated,
	bus.EventStepComplete,
	bus.EventLeaderAcquired, bus.EventLeaderLost,
	bus.EventScheduleTriggered, bus.EventScheduleMissed,
	bus.EventStopped,
}

// subscribeToBus wires every relayed bus event into the hub's broadcast.
func (s *Server) subscribeToBus() {
	for _, name := range relayedEvents {
		eventName := name
		s.bus.On(eventName, func(payload any) {
			s.hub.broadcastEvent(eventName, payload)
		})
	}
}

func (h *wsHub) broadcastEvent(event string, payload any) {
	select {
	case h.broadcast <- relayedEvent{Event: event, Payload: payload}:
	default:
		if h.logger != nil {
			h.logger.Warn().Msg("dashboard websocket broadcast channel full, dropping event")
		}
	}
}

// run is the hub's event loop; call as a goroutine.
func (h *wsHub) run() {
	for {
		select {
		case <-h.done:
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()

		case event := <-h.broadcast:
			data, err := json.Marshal(event)
			if err != nil {
				if h.logger != nil {
					h.logger.Warn().Err(err).Msg("failed to marshal dashboard event")
				}
				continue
			}

			h.mu.RLock()
			var slow []*wsClient
			for client := range h.clients {
				select {
				case client.send <- data:
				default:
					slow = append(slow, client)
				}
			}
			h.mu.RUnlock()

			if len(slow) > 0 {
				h.mu.Lock()
				for _, c := range slow {
					delete(h.clients, c)
					close(c.send)
				}
				h.mu.Unlock()
			}
		}
	}
}

func (h *wsHub) stop() {
	select {
	case <-h.done:
	default:
		close(h.done)
	}
}

func (h *wsHub) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		if h.logger != nil {
			h.logger.Warn().Err(err).Msg("dashboard websocket upgrade failed")
		}
		return
	}

	client := &wsClient{hub: h, conn: conn, send: make(chan []byte, 256)}
	h.register <- client

	go client.writePump()
	go client.readPump()
}

func (c *wsClient) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *wsClient) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			break
		}
	}
}
