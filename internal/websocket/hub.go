package websocket

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/rs/zerolog"

	"github.com/designanalyzer/api/internal/model"
)

// ErrorCodeJobFailed is the error code pushed when a job ends Failed
const ErrorCodeJobFailed = model.WSErrorCodeJobFailed

// Client represents a WebSocket client
type Client struct {
	JobID string
	Conn  *websocket.Conn
	Send  chan []byte

	// Set for clients that must get their snapshot before any live event.
	// Live events seen earlier wait in pending. Both are owned by Run.
	awaitSnapshot bool
	pending       []*BroadcastMessage
}

// Hub maintains active WebSocket connections and pushes job events to them
type Hub struct {
	// Clients grouped by job ID
	clients map[string]map[*Client]bool

	// Register requests
	register chan *Client

	// Unregister requests
	unregister chan *Client

	// Broadcast messages to job subscribers
	broadcast chan *BroadcastMessage

	quit     chan struct{}
	stopOnce sync.Once

	logger zerolog.Logger
	mu     sync.RWMutex
}

// BroadcastMessage represents a message to broadcast. A non-nil Target limits
// delivery to that one client.
type BroadcastMessage struct {
	JobID   string
	Message []byte
	Target  *Client

	// Progress and Terminal describe the job state the message reports.
	// Snapshot marks the first message of a subscription.
	Progress int
	Terminal bool
	Snapshot bool
}

// NewHub creates a new Hub
func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		clients:    make(map[string]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *BroadcastMessage, 256),
		quit:       make(chan struct{}),
		logger:     logger,
	}
}

// Run starts the hub's main loop. It returns after Stop.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			if h.clients[client.JobID] == nil {
				h.clients[client.JobID] = make(map[*Client]bool)
			}
			h.clients[client.JobID][client] = true
			h.mu.Unlock()
			h.logger.Debug().Str("job_id", client.JobID).Msg("Client registered")

		case client := <-h.unregister:
			h.remove(client)
			h.logger.Debug().Str("job_id", client.JobID).Msg("Client unregistered")

		case msg := <-h.broadcast:
			h.mu.Lock()
			if clients, ok := h.clients[msg.JobID]; ok {
				for client := range clients {
					if msg.Target != nil && msg.Target != client {
						continue
					}
					switch {
					case msg.Snapshot:
						h.flush(clients, client, msg)
					case msg.Target == nil && client.awaitSnapshot:
						client.pending = append(client.pending, msg)
					default:
						h.deliver(clients, client, msg.Message)
					}
				}
				if len(clients) == 0 {
					delete(h.clients, msg.JobID)
				}
			}
			h.mu.Unlock()

		case <-h.quit:
			h.mu.Lock()
			for jobID, clients := range h.clients {
				for client := range clients {
					close(client.Send)
				}
				delete(h.clients, jobID)
			}
			h.mu.Unlock()
			return
		}
	}
}

// deliver queues data for client, dropping the client if it cannot keep up.
// Must hold h.mu.
func (h *Hub) deliver(clients map[*Client]bool, client *Client, data []byte) bool {
	if _, ok := clients[client]; !ok {
		return false
	}
	select {
	case client.Send <- data:
		return true
	default:
		// slow consumer
		close(client.Send)
		delete(clients, client)
		return false
	}
}

// flush sends a client its snapshot, then the live events held back while it
// was read. Events older than the snapshot are skipped; nothing follows a
// terminal snapshot. Must hold h.mu.
func (h *Hub) flush(clients map[*Client]bool, client *Client, snap *BroadcastMessage) {
	pending := client.pending
	client.pending = nil
	client.awaitSnapshot = false

	if !h.deliver(clients, client, snap.Message) || snap.Terminal {
		return
	}
	for _, msg := range pending {
		if !msg.Terminal && msg.Progress < snap.Progress {
			continue
		}
		if !h.deliver(clients, client, msg.Message) {
			return
		}
	}
}

func (h *Hub) remove(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if clients, ok := h.clients[client.JobID]; ok {
		if _, ok := clients[client]; ok {
			delete(clients, client)
			close(client.Send)
			if len(clients) == 0 {
				delete(h.clients, client.JobID)
			}
		}
	}
}

// Stop ends Run and closes every client's send channel
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.quit) })
}

// Register adds a new client
func (h *Hub) Register(client *Client) {
	select {
	case h.register <- client:
	case <-h.quit:
		close(client.Send)
	}
}

// Unregister removes a client
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.quit:
	}
}

// Subscribers returns how many clients follow jobID
func (h *Hub) Subscribers(jobID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[jobID])
}

func (h *Hub) sendTo(target *Client, jobID string, msg interface{}) {
	data, ok := h.encode(jobID, msg)
	if !ok {
		return
	}
	h.publish(&BroadcastMessage{JobID: jobID, Message: data, Target: target}, false)
}

func (h *Hub) encode(jobID string, msg interface{}) ([]byte, bool) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error().Err(err).Str("job_id", jobID).Msg("Failed to marshal websocket message")
		return nil, false
	}
	return data, true
}

// publish hands msg to Run. Progress updates are dropped when the buffer is
// full so the job goroutine never waits on websocket delivery; terminal events
// and snapshots wait for room instead.
func (h *Hub) publish(msg *BroadcastMessage, wait bool) {
	if wait {
		select {
		case h.broadcast <- msg:
		case <-h.quit:
		}
		return
	}

	select {
	case h.broadcast <- msg:
	default:
		h.logger.Warn().Str("job_id", msg.JobID).Msg("Websocket broadcast buffer full, dropping message")
	}
}

// publishJob sends the message describing job. A non-nil target makes it
// that client's snapshot.
func (h *Hub) publishJob(target *Client, job model.Job) {
	data, ok := h.encode(job.ID, model.NewJobEvent(job, time.Now()))
	if !ok {
		return
	}
	h.publish(&BroadcastMessage{
		JobID:    job.ID,
		Message:  data,
		Target:   target,
		Progress: job.Progress,
		Terminal: job.State.IsTerminal(),
		Snapshot: target != nil,
	}, true)
}

// BroadcastProgress sends a progress update to all job subscribers
func (h *Hub) BroadcastProgress(jobID string, progress int, state model.JobState, stage string) {
	data, ok := h.encode(jobID, model.NewProgressEvent(jobID, state, stage, progress, time.Now()))
	if !ok {
		return
	}
	h.publish(&BroadcastMessage{JobID: jobID, Message: data, Progress: progress}, false)
}

// JobSubmitted is a no-op; nobody can be subscribed before the id is returned
func (h *Hub) JobSubmitted(job model.Job) {}

func (h *Hub) JobStarted(job model.Job) {
	h.BroadcastProgress(job.ID, job.Progress, job.State, job.CurrentStage)
}

func (h *Hub) StageStarted(jobID, stage string, progress int) {
	h.BroadcastProgress(jobID, progress, model.JobStateRunning, stage)
}

func (h *Hub) JobFinished(job model.Job) {
	h.publishJob(nil, job)
}

// HandleConnection streams jobID's events to c. The client is registered
// before snapshot is read, so an event that lands in between is held and
// delivered after the snapshot instead of being lost. It returns once the
// writer goroutine has stopped using c.
func (h *Hub) HandleConnection(c *websocket.Conn, jobID string, snapshot func() (model.Job, error)) {
	client := &Client{
		JobID:         jobID,
		Conn:          c,
		Send:          make(chan []byte, 256),
		awaitSnapshot: true,
	}

	h.Register(client)

	writerDone := make(chan struct{})
	defer func() {
		h.Unregister(client)
		<-writerDone
	}()

	// Start writer goroutine
	go func() {
		defer close(writerDone)

		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()

		for {
			select {
			case message, ok := <-client.Send:
				if !ok {
					_ = c.WriteMessage(websocket.CloseMessage, []byte{})
					return
				}
				if err := c.WriteMessage(websocket.TextMessage, message); err != nil {
					return
				}

			case <-ticker.C:
				// Send ping for keep-alive
				if err := c.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}()

	job, err := snapshot()
	if err != nil {
		h.logger.Warn().Err(err).Str("job_id", jobID).Msg("Job lookup failed after websocket upgrade")
		return
	}
	h.publishJob(client, job)

	// Reader loop
	for {
		_, message, err := c.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Warn().Err(err).Str("job_id", jobID).Msg("WebSocket error")
			}
			break
		}

		// Handle client messages (ping/pong)
		var msg model.WSMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			continue
		}

		if msg.Type == model.WSMessageTypePing {
			h.sendTo(client, jobID, model.WSMessage{Type: model.WSMessageTypePong})
		}
	}
}
