package quotes

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"gannportal/internal/metrics"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Cookie auth happens before the upgrade; cross-origin dashboards
	// are allowed through here.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Hub manages WebSocket clients and the provider polling loop.
type Hub struct {
	provider Provider
	refresh  time.Duration
	metrics  *metrics.Metrics

	mu      sync.RWMutex
	clients map[*Client]bool
	latest  map[string]Quote
}

// NewHub creates a quote hub polling the provider every refresh.
func NewHub(p Provider, refresh time.Duration, m *metrics.Metrics) *Hub {
	if refresh <= 0 {
		refresh = 30 * time.Second
	}
	return &Hub{
		provider: p,
		refresh:  refresh,
		metrics:  m,
		clients:  make(map[*Client]bool),
		latest:   make(map[string]Quote),
	}
}

// Run polls the provider for every watched symbol until ctx is
// cancelled. Symbols nobody watches are skipped and dropped from the
// cache.
func (h *Hub) Run(ctx context.Context) {
	ticker := time.NewTicker(h.refresh)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.poll(ctx)
		}
	}
}

func (h *Hub) poll(ctx context.Context) {
	for _, symbol := range h.watchedSymbols() {
		q, err := h.provider.Latest(ctx, symbol)
		if err != nil {
			if h.metrics != nil {
				h.metrics.QuoteFetchFails.Inc()
			}
			log.Printf("[quotes] fetch %s: %v", symbol, err)
			continue
		}

		h.mu.Lock()
		prev, ok := h.latest[symbol]
		h.latest[symbol] = q
		h.mu.Unlock()

		if ok && prev.Price == q.Price && prev.Datetime == q.Datetime {
			continue
		}
		h.broadcast(q)
	}
	h.pruneCache()
}

func (h *Hub) watchedSymbols() []string {
	set := make(map[string]bool)
	h.mu.RLock()
	for c := range h.clients {
		for _, s := range c.symbols() {
			set[s] = true
		}
	}
	h.mu.RUnlock()

	out := make([]string, 0, len(set))
	for s := range set {
		out = append(out, s)
	}
	return out
}

func (h *Hub) pruneCache() {
	watched := make(map[string]bool)
	for _, s := range h.watchedSymbols() {
		watched[s] = true
	}
	h.mu.Lock()
	for s := range h.latest {
		if !watched[s] {
			delete(h.latest, s)
		}
	}
	h.mu.Unlock()
}

// broadcast fans a quote out to every client watching its symbol. Slow
// clients lose the update rather than blocking the poll loop.
func (h *Hub) broadcast(q Quote) {
	envelope, err := json.Marshal(map[string]interface{}{
		"type":  "quote",
		"quote": q,
	})
	if err != nil {
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if !c.watches(q.Symbol) {
			continue
		}
		select {
		case c.send <- envelope:
			if h.metrics != nil {
				h.metrics.QuotePushes.Inc()
			}
		default:
		}
	}
}

// HandleWS upgrades the request and registers the client.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[quotes] upgrade failed: %v", err)
		return
	}

	client := &Client{
		conn:    conn,
		send:    make(chan []byte, 64),
		hub:     h,
		watched: make(map[string]bool),
	}

	h.mu.Lock()
	h.clients[client] = true
	count := len(h.clients)
	h.mu.Unlock()
	if h.metrics != nil {
		h.metrics.QuoteClients.Set(float64(count))
	}

	log.Printf("[quotes] ws client connected (%d total)", count)

	go client.writePump()
	go client.readPump()
}

// RemoveClient removes a client from the hub.
func (h *Hub) RemoveClient(c *Client) {
	h.mu.Lock()
	delete(h.clients, c)
	count := len(h.clients)
	h.mu.Unlock()
	close(c.send)
	if h.metrics != nil {
		h.metrics.QuoteClients.Set(float64(count))
	}
}

// ClientCount returns the number of connected WS clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// cached returns the latest quote for a symbol, if the hub holds one.
func (h *Hub) cached(symbol string) (Quote, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	q, ok := h.latest[symbol]
	return q, ok
}
