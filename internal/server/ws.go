package server

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/ayusman/iriscope/internal/app"
	"github.com/ayusman/iriscope/internal/detector"
)

const (
	broadcastInterval = 66 * time.Millisecond // ~15 FPS
	writeWait         = time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow local connections
	},
}

// LandmarkMessage is one websocket broadcast.
type LandmarkMessage struct {
	Iris        *detector.IrisSnapshot `json:"iris"`
	BlendShapes string                 `json:"blend_shapes"`
	State       app.WebcamState        `json:"state"`
	Timestamp   int64                  `json:"timestamp"`
}

// LandmarksHandler broadcasts the iris snapshot and the video panel via WebSocket.
type LandmarksHandler struct {
	app     *app.App
	logger  *zap.Logger
	clients map[*websocket.Conn]bool
	mu      sync.RWMutex

	stop      chan struct{}
	closeOnce sync.Once
}

// NewLandmarksHandler creates a new LandmarksHandler and starts broadcasting.
func NewLandmarksHandler(a *app.App, logger *zap.Logger) *LandmarksHandler {
	h := &LandmarksHandler{
		app:     a,
		logger:  logger,
		clients: make(map[*websocket.Conn]bool),
		stop:    make(chan struct{}),
	}
	go h.broadcast()
	return h
}

// ServeHTTP handles WebSocket upgrade requests.
func (h *LandmarksHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	h.mu.Lock()
	h.clients[conn] = true
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		delete(h.clients, conn)
		h.mu.Unlock()
	}()

	// Keep connection alive by reading messages
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
}

// Clients returns the number of connected clients.
func (h *LandmarksHandler) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close stops the broadcaster.
func (h *LandmarksHandler) Close() {
	h.closeOnce.Do(func() { close(h.stop) })
}

// Message builds the current broadcast payload.
func (h *LandmarksHandler) Message() LandmarkMessage {
	msg := LandmarkMessage{
		BlendShapes: h.app.VideoPanel().HTML(),
		State:       h.app.WebcamStatus().State,
		Timestamp:   time.Now().UnixMilli(),
	}
	if snap, ok := h.app.IrisSnapshot(); ok {
		msg.Iris = &snap
	}
	return msg
}

// broadcast sends the latest landmarks to all connected clients.
func (h *LandmarksHandler) broadcast() {
	ticker := time.NewTicker(broadcastInterval)
	defer ticker.Stop()

	for {
		select {
		case <-h.stop:
			return
		case <-ticker.C:
		}

		if h.Clients() == 0 {
			continue
		}

		msg, err := json.Marshal(h.Message())
		if err != nil {
			h.logger.Warn("landmark encode failed", zap.Error(err))
			continue
		}

		h.mu.RLock()
		for conn := range h.clients {
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				h.logger.Debug("websocket write failed", zap.Error(err))
			}
		}
		h.mu.RUnlock()
	}
}
