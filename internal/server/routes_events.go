package server

import (
	"log"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/zphilip/anything-llm-nas/internal/bus"
	"github.com/zphilip/anything-llm-nas/internal/events"
)

func (s *Server) registerEventRoutes(r chi.Router) {
	r.Route("/events", func(r chi.Router) {
		r.Get("/", s.handleEventLog)
		r.Get("/ws", s.wsHub.handleWS)
	})
}

func (s *Server) handleEventLog(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := events.QueryFilter{
		SessionID:   q.Get("session"),
		SessionType: events.SessionType(q.Get("type")),
	}
	if v := q.Get("since"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			filter.Since = &t
		}
	}
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Limit = n
		}
	}
	entries, err := s.deps.Events.Query(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Internal", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

// wsFeed fans file metadata updates out to WebSocket clients. It holds
// one bus subscription regardless of how many clients are connected.
type wsFeed struct {
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*websocket.Conn]bool
}

func newWSFeed(b *bus.Bus) *wsFeed {
	f := &wsFeed{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		clients: make(map[*websocket.Conn]bool),
	}
	b.Subscribe(bus.ChannelFileMetadataUpdates, f.broadcast)
	return f
}

func (f *wsFeed) broadcast(payload []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for conn := range f.clients {
		conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			conn.Close()
			delete(f.clients, conn)
		}
	}
}

func (f *wsFeed) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := f.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("server: websocket upgrade: %v", err)
		return
	}

	f.mu.Lock()
	f.clients[conn] = true
	f.mu.Unlock()

	// Drain (and discard) client frames so pings and closes are
	// processed; the feed is one-way.
	go func() {
		defer func() {
			f.mu.Lock()
			delete(f.clients, conn)
			f.mu.Unlock()
			conn.Close()
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}
