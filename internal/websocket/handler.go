package websocket

import (
	"context"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/localclipper/clipper/internal/auth"
	"github.com/localclipper/clipper/internal/domain"
	"github.com/localclipper/clipper/internal/logger"
	"github.com/localclipper/clipper/internal/registry"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// JobLister provides the current jobs sent to a client on connect
type JobLister interface {
	All() []registry.Entry
}

// Handler handles WebSocket connections.
type Handler struct {
	hub         *Hub
	authService *auth.Service
	jobs        JobLister
	log         *logger.Logger
}

// NewHandler creates a new WebSocket handler.
func NewHandler(hub *Hub, authService *auth.Service, jobs JobLister) *Handler {
	return &Handler{
		hub:         hub,
		authService: authService,
		jobs:        jobs,
		log:         logger.Default().WithComponent("websocket"),
	}
}

// ServeWS handles WebSocket requests from clients.
// Authentication is done via query parameter: ?token=<jwt_token>
// This is necessary because browser WebSocket API doesn't support custom headers.
// An optional ?job=<id> restricts the feed to one job.
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		http.Error(w, `{"code":"UNAUTHORIZED","message":"missing token parameter"}`, http.StatusUnauthorized)
		return
	}

	claims, err := h.authService.ValidateViewToken(token)
	if err != nil {
		if err == auth.ErrTokenExpired {
			http.Error(w, `{"code":"TOKEN_EXPIRED","message":"access token has expired"}`, http.StatusUnauthorized)
			return
		}
		http.Error(w, `{"code":"UNAUTHORIZED","message":"invalid access token"}`, http.StatusUnauthorized)
		return
	}

	topic := r.URL.Query().Get("job")

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn(r.Context(), "websocket upgrade failed", err)
		return
	}

	client := NewClient(h.hub, conn, topic)
	// queue the snapshot before registering so it precedes any update
	client.send <- h.snapshot(topic)
	select {
	case h.hub.register <- client:
	case <-h.hub.done:
		conn.Close()
		return
	}

	h.log.Info(context.Background(), "live view connected", map[string]interface{}{
		"client_id": client.id,
		"viewer":    claims.ViewerID,
		"job":       topic,
	})

	go client.WritePump()
	go client.ReadPump()
}

func (h *Handler) snapshot(topic string) *Message {
	entries := h.jobs.All()
	jobs := make([]domain.Job, 0, len(entries))
	for _, e := range entries {
		if topic == allJobs || e.Job.ID == topic {
			jobs = append(jobs, e.Job)
		}
	}
	return &Message{Type: TypeSnapshot, JobID: topic, Jobs: jobs}
}

// GetHub returns the hub instance for external access.
func (h *Handler) GetHub() *Hub {
	return h.hub
}
