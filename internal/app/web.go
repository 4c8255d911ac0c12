package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/relabs-tech/joypose/internal/render"
	"github.com/relabs-tech/joypose/internal/transform"
)

const wsWriteTimeout = time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // browser front end may be served from elsewhere during development
	},
}

// WebServer serves the latest transform to browsers. It is a render sink:
// every Render call updates /api/transform and is pushed to /ws clients.
type WebServer struct {
	addr   string
	webDir string
	mesh   *render.Mesh
	status func() Status
	log    zerolog.Logger

	mu   sync.RWMutex
	last transform.Transform
	have bool

	hub *hub
}

// NewWebServer returns a server listening on port once Run is called.
// status may be nil, in which case /api/status is not served.
func NewWebServer(port int, webDir string, mesh *render.Mesh, status func() Status, log zerolog.Logger) *WebServer {
	return &WebServer{
		addr:   fmt.Sprintf(":%d", port),
		webDir: webDir,
		mesh:   mesh,
		status: status,
		log:    log,
		hub:    newHub(log),
	}
}

// Render stores t and broadcasts it to websocket clients.
func (s *WebServer) Render(_ *render.Mesh, t transform.Transform) error {
	payload, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("web: marshal transform: %w", err)
	}

	s.mu.Lock()
	s.last = t
	s.have = true
	s.mu.Unlock()

	s.hub.broadcast(payload)
	return nil
}

// Handler returns the HTTP routes.
func (s *WebServer) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/transform", func(w http.ResponseWriter, r *http.Request) {
		s.mu.RLock()
		t, have := s.last, s.have
		s.mu.RUnlock()

		if !have {
			http.Error(w, "no data yet", http.StatusServiceUnavailable)
			return
		}
		s.writeJSON(w, t)
	})

	if s.status != nil {
		mux.HandleFunc("/api/status", func(w http.ResponseWriter, r *http.Request) {
			s.writeJSON(w, s.status())
		})
	}

	mux.HandleFunc("/ws", s.handleWS)

	if s.mesh != nil {
		mux.HandleFunc("/model", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Model-Format", s.mesh.Format())
			http.ServeFile(w, r, s.mesh.Path())
		})
	}

	if s.webDir != "" {
		mux.Handle("/", http.FileServer(http.Dir(s.webDir)))
	}

	return mux
}

func (s *WebServer) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Debug().Err(err).Msg("json encode error")
	}
}

func (s *WebServer) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug().Err(err).Msg("websocket upgrade error")
		return
	}

	c := s.hub.add(conn)

	s.mu.RLock()
	t, have := s.last, s.have
	s.mu.RUnlock()
	if have {
		if payload, err := json.Marshal(t); err == nil {
			s.hub.send(c, payload)
		}
	}

	go c.writeLoop()
	// inbound messages are ignored; reading detects the peer going away
	go func() {
		defer s.hub.remove(c)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

// Run serves until ctx is cancelled.
func (s *WebServer) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		s.hub.closeAll()
	}()

	s.log.Info().Str("addr", s.addr).Str("web_dir", s.webDir).Msg("web server listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("web server: %w", err)
	}
	return nil
}

// hub fans transforms out to websocket clients. Each client holds at most one
// pending message; a slow client only ever receives the newest transform.
type hub struct {
	log     zerolog.Logger
	mu      sync.Mutex
	clients map[*wsClient]struct{}
}

type wsClient struct {
	conn *websocket.Conn
	send chan []byte
}

func newHub(log zerolog.Logger) *hub {
	return &hub{log: log, clients: make(map[*wsClient]struct{})}
}

func (h *hub) add(conn *websocket.Conn) *wsClient {
	c := &wsClient{conn: conn, send: make(chan []byte, 1)}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.log.Debug().Str("remote", conn.RemoteAddr().String()).Int("clients", n).Msg("websocket client connected")
	return c
}

func (h *hub) remove(c *wsClient) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
	_ = c.conn.Close()
}

func (h *hub) broadcast(payload []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		c.offer(payload)
	}
}

func (h *hub) send(c *wsClient, payload []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		c.offer(payload)
	}
}

func (h *hub) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *hub) closeAll() {
	h.mu.Lock()
	clients := make([]*wsClient, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()
	for _, c := range clients {
		h.remove(c)
	}
}

// offer replaces any undelivered message with payload. Callers hold hub.mu.
func (c *wsClient) offer(payload []byte) {
	select {
	case <-c.send:
	default:
	}
	c.send <- payload
}

func (c *wsClient) writeLoop() {
	for payload := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			_ = c.conn.Close()
			return
		}
	}
}
