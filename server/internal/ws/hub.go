package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/obsidianstack/pagescore/pkg/types"
	"github.com/obsidianstack/pagescore/server/internal/api"
	"github.com/obsidianstack/pagescore/server/internal/store"
)

// Event names.
const (
	EventSummary = "summary"
	EventReport  = "report"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Origins are checked at the reverse proxy.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Message is the JSON envelope sent to clients.
type Message struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// ReportEvent is the payload of a "report" message.
type ReportEvent struct {
	Report      *types.Report        `json:"report"`
	Diagnostics []api.DiagnosticHint `json:"diagnostics"`
}

// Hub manages WebSocket client connections. It pushes every accepted report
// as it arrives and the full dashboard summary on every tick. Clients that
// connect with one or more url query parameters only receive report events
// for those pages.
type Hub struct {
	store    *store.Store
	interval time.Duration
	clients  prometheus.Gauge

	mu    sync.Mutex
	conns map[*client]struct{}
}

// New creates a Hub that reads from st and broadcasts a summary every
// interval. gauge tracks the number of connected clients and may be nil.
func New(st *store.Store, interval time.Duration, gauge prometheus.Gauge) *Hub {
	return &Hub{
		store:    st,
		interval: interval,
		clients:  gauge,
		conns:    make(map[*client]struct{}),
	}
}

// Run starts the summary ticker loop. Run blocks until ctx is cancelled,
// then closes all active connections.
func (h *Hub) Run(ctx context.Context) {
	t := time.NewTicker(h.interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case <-t.C:
			if h.Count() == 0 {
				continue
			}
			if data, err := h.summaryMessage(); err == nil {
				h.broadcast(data, "")
			}
		}
	}
}

// Publish pushes rep to every connected client. It has the signature of a
// receiver listener and never blocks on slow clients.
func (h *Hub) Publish(rep *types.Report) {
	data, err := json.Marshal(Message{
		Event: EventReport,
		Data:  ReportEvent{Report: rep, Diagnostics: api.Diagnose(rep)},
	})
	if err != nil {
		slog.Warn("ws: encode report", "id", rep.ID, "error", err)
		return
	}
	h.broadcast(data, rep.URL)
}

// ServeHTTP upgrades the HTTP connection to WebSocket and serves the client.
// The current summary is sent immediately on connect. Blocks until the
// connection closes.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// upgrader has already written the error response.
		return
	}

	c := newClient(conn, r.URL.Query()["url"])
	if data, err := h.summaryMessage(); err == nil {
		c.send <- data
	}
	h.register(c)
	defer h.unregister(c)

	go c.writeLoop()
	c.readLoop()
}

// Count returns the number of currently connected clients.
func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

// --- internal ---------------------------------------------------------------

func (h *Hub) register(c *client) {
	h.mu.Lock()
	h.conns[c] = struct{}{}
	h.setGauge()
	h.mu.Unlock()
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	h.drop(c)
	h.mu.Unlock()
}

// drop removes c and closes its send channel. h.mu must be held.
func (h *Hub) drop(c *client) {
	if _, ok := h.conns[c]; ok {
		delete(h.conns, c)
		close(c.send)
		h.setGauge()
	}
}

func (h *Hub) setGauge() {
	if h.clients != nil {
		h.clients.Set(float64(len(h.conns)))
	}
}

// broadcast queues data for every client interested in pageURL; an empty
// pageURL reaches everyone. Sends happen under the lock so a channel is never
// closed while being written to.
func (h *Hub) broadcast(data []byte, pageURL string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.conns {
		if pageURL != "" && !c.wants(pageURL) {
			continue
		}
		select {
		case c.send <- data:
		default:
			// Outgoing buffer is full; disconnect the client.
			h.drop(c)
		}
	}
}

func (h *Hub) summaryMessage() ([]byte, error) {
	return json.Marshal(Message{
		Event: EventSummary,
		Data:  api.BuildSummary(h.store, time.Now()),
	})
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.conns {
		h.drop(c)
	}
}
