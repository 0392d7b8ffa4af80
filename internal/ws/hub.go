package ws

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"wpdock/internal/logger"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Message is the envelope every pushed frame uses.
type Message struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

type Hub struct {
	clients    map[*Client]bool
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client
	stop       chan struct{}
	stopOnce   sync.Once

	history    [][]byte
	maxHistory int
	mu         sync.RWMutex

	log *slog.Logger
}

func NewHubWithHistorySize(maxHistory int, l *slog.Logger) *Hub {
	if maxHistory < 0 {
		maxHistory = 0
	}
	if l == nil {
		l = logger.Discard()
	}
	return &Hub{
		broadcast:  make(chan []byte, 1024),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		clients:    make(map[*Client]bool),
		stop:       make(chan struct{}),
		maxHistory: maxHistory,
		log:        l,
	}
}

func (h *Hub) HistorySnapshot() [][]byte {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if len(h.history) == 0 {
		return nil
	}
	out := make([][]byte, len(h.history))
	copy(out, h.history)
	return out
}

func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			// Replay before joining so history always precedes live frames.
			for _, msg := range h.HistorySnapshot() {
				select {
				case client.send <- msg:
				default:
				}
			}
			h.clients[client] = true

		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}

		case message := <-h.broadcast:
			if h.maxHistory > 0 {
				h.mu.Lock()
				h.history = append(h.history, message)
				if len(h.history) > h.maxHistory {
					h.history = h.history[1:]
				}
				h.mu.Unlock()
			}

			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					close(client.send)
					delete(h.clients, client)
				}
			}

		case <-h.stop:
			for client := range h.clients {
				close(client.send)
				delete(h.clients, client)
			}
			return
		}
	}
}

func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.stop) })
}

// Publish marshals v inside a Message and queues it for every client.
// Frames are dropped when the broadcast queue is full.
func (h *Hub) Publish(kind string, v any) {
	data, err := json.Marshal(Message{Type: kind, Data: v})
	if err != nil {
		h.log.Error("ws marshal failed", "type", kind, "error", err)
		return
	}
	select {
	case h.broadcast <- data:
	case <-h.stop:
	default:
		h.log.Warn("ws broadcast queue full, dropping frame", "type", kind)
	}
}

func (h *Hub) ServeWs(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("ws upgrade failed", "error", err)
		return
	}
	client := &Client{hub: h, conn: conn, send: make(chan []byte, 256)}

	select {
	case h.register <- client:
	case <-h.stop:
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}
