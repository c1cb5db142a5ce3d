package server

import (
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"pulsemon/internal/models"
)

const (
	livePushInterval = 60 * time.Second
	liveWriteTimeout = 5 * time.Second
	liveSendBuffer   = 4
)

var liveUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		host := strings.ToLower(strings.TrimSpace(r.Host))
		originHost := strings.ToLower(strings.TrimSpace(u.Host))
		return host == originHost
	},
}

// liveHub pushes each round's summary to connected websocket clients.
type liveHub struct {
	mu    sync.Mutex
	conns map[chan models.StatusSummary]struct{}
}

func newLiveHub() *liveHub {
	return &liveHub{conns: make(map[chan models.StatusSummary]struct{})}
}

// Broadcast fans a summary out to every connection. Slow clients drop
// updates instead of blocking the round.
func (h *liveHub) Broadcast(summary models.StatusSummary) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.conns {
		select {
		case ch <- summary:
		default:
		}
	}
}

func (h *liveHub) register() chan models.StatusSummary {
	ch := make(chan models.StatusSummary, liveSendBuffer)
	h.mu.Lock()
	h.conns[ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

func (h *liveHub) unregister(ch chan models.StatusSummary) {
	h.mu.Lock()
	delete(h.conns, ch)
	h.mu.Unlock()
}

func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	conn, err := liveUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	s.serveLiveConnection(r, conn)
}

func (s *Server) serveLiveConnection(r *http.Request, conn *websocket.Conn) {
	defer conn.Close()

	updates := s.live.register()
	defer s.live.unregister(updates)

	if summary, err := s.runner.Summary(r.Context()); err == nil && summary != nil {
		if err := writeLivePayload(conn, *summary); err != nil {
			return
		}
	}

	ticker := time.NewTicker(livePushInterval)
	defer ticker.Stop()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case summary := <-updates:
			if err := writeLivePayload(conn, summary); err != nil {
				return
			}
		case <-ticker.C:
			summary, err := s.runner.Summary(r.Context())
			if err != nil || summary == nil {
				continue
			}
			if err := writeLivePayload(conn, *summary); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

func writeLivePayload(conn *websocket.Conn, payload models.StatusSummary) error {
	_ = conn.SetWriteDeadline(time.Now().Add(liveWriteTimeout))
	return conn.WriteJSON(payload)
}
