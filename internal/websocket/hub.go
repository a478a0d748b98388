package websocket

import (
	"context"
	"sync"

	"github.com/localclipper/clipper/internal/domain"
	"github.com/localclipper/clipper/internal/progress"
	"github.com/localclipper/clipper/internal/registry"
)

const (
	TypeSnapshot  = "snapshot"
	TypeJobUpdate = "job_update"
)

// allJobs is the topic of clients watching every job
const allJobs = ""

// Message is what live-view clients receive
type Message struct {
	Type  string       `json:"type"`
	Seq   uint64       `json:"seq,omitempty"`
	JobID string       `json:"job_id,omitempty"`
	Job   *domain.Job  `json:"job,omitempty"`
	Jobs  []domain.Job `json:"jobs,omitempty"`
}

// Hub maintains the set of active clients and broadcasts job updates to them.
type Hub struct {
	// Registered clients by topic; the empty topic receives every job
	clients map[string]map[*Client]bool

	register   chan *Client
	unregister chan *Client
	broadcast  chan *Message
	done       chan struct{}

	onConnect    func()
	onDisconnect func()

	mu sync.RWMutex
}

// NewHub creates a new Hub instance.
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[string]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *Message, 64),
		done:       make(chan struct{}),
	}
}

// OnConnectionChange sets callbacks for client connects and disconnects
func (h *Hub) OnConnectionChange(connect, disconnect func()) {
	h.onConnect = connect
	h.onDisconnect = disconnect
}

// Run starts the hub's main loop until ctx is done.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			close(h.done)
			h.mu.Lock()
			for topic, clients := range h.clients {
				for client := range clients {
					close(client.send)
				}
				delete(h.clients, topic)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			if h.clients[client.topic] == nil {
				h.clients[client.topic] = make(map[*Client]bool)
			}
			h.clients[client.topic][client] = true
			h.mu.Unlock()
			if h.onConnect != nil {
				h.onConnect()
			}

		case client := <-h.unregister:
			h.remove(client)

		case message := <-h.broadcast:
			h.mu.Lock()
			h.deliver(allJobs, message)
			if message.JobID != "" {
				h.deliver(message.JobID, message)
			}
			h.mu.Unlock()
		}
	}
}

func (h *Hub) remove(client *Client) {
	h.mu.Lock()
	removed := false
	if clients, ok := h.clients[client.topic]; ok {
		if _, ok := clients[client]; ok {
			delete(clients, client)
			close(client.send)
			removed = true
			if len(clients) == 0 {
				delete(h.clients, client.topic)
			}
		}
	}
	h.mu.Unlock()
	if removed && h.onDisconnect != nil {
		h.onDisconnect()
	}
}

// deliver must be called with h.mu held
func (h *Hub) deliver(topic string, message *Message) {
	clients, ok := h.clients[topic]
	if !ok {
		return
	}
	for client := range clients {
		select {
		case client.send <- message:
		default:
			// Client's buffer is full, close the connection
			close(client.send)
			delete(clients, client)
			if h.onDisconnect != nil {
				h.onDisconnect()
			}
		}
	}
	if len(clients) == 0 {
		delete(h.clients, topic)
	}
}

// BroadcastJob sends a job update to every client watching it.
func (h *Hub) BroadcastJob(seq uint64, job domain.Job) {
	j := job.Clone()
	select {
	case h.broadcast <- &Message{Type: TypeJobUpdate, Seq: seq, JobID: j.ID, Job: &j}:
	case <-h.done:
	}
}

// FollowRegistry forwards every change of reg to connected clients
func (h *Hub) FollowRegistry(reg *registry.Registry) (stop func()) {
	return reg.Subscribe(func(c registry.Change) {
		h.BroadcastJob(c.Seq, c.Job)
	})
}

// FollowEvents forwards events from a pub/sub subscription until it closes
func (h *Hub) FollowEvents(events <-chan progress.Event) {
	go func() {
		for ev := range events {
			h.BroadcastJob(ev.Seq, ev.Job)
		}
	}()
}

// ClientCount returns the number of clients watching one job.
func (h *Hub) ClientCount(jobID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[jobID])
}

// TotalClients returns the total number of connected clients.
func (h *Hub) TotalClients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	count := 0
	for _, clients := range h.clients {
		count += len(clients)
	}
	return count
}
