package ws

import (
	"log/slog"
	"sync"

	"wpdock/internal/logger"
)

// EventsTopic carries activity entries and job updates for every site.
const EventsTopic = "events"

// SiteTopic carries progress frames for one site's running job.
func SiteTopic(site string) string {
	return "site:" + site
}

type HubManager struct {
	hubs               map[string]*Hub
	mu                 sync.Mutex
	defaultHistorySize int
	log                *slog.Logger
}

func NewHubManager(defaultHistorySize int, l *slog.Logger) *HubManager {
	if l == nil {
		l = logger.Discard()
	}
	return &HubManager{
		hubs:               make(map[string]*Hub),
		defaultHistorySize: defaultHistorySize,
		log:                l,
	}
}

func (m *HubManager) GetHub(topic string) *Hub {
	m.mu.Lock()
	defer m.mu.Unlock()

	if hub, ok := m.hubs[topic]; ok {
		return hub
	}

	hub := NewHubWithHistorySize(m.defaultHistorySize, m.log.With("topic", topic))
	go hub.Run()
	m.hubs[topic] = hub
	return hub
}

// Publish sends to topic's hub, creating it on first use.
func (m *HubManager) Publish(topic, kind string, v any) {
	m.GetHub(topic).Publish(kind, v)
}

func (m *HubManager) RemoveHub(topic string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if hub, ok := m.hubs[topic]; ok {
		hub.Stop()
		delete(m.hubs, topic)
	}
}

func (m *HubManager) StopAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for topic, hub := range m.hubs {
		hub.Stop()
		delete(m.hubs, topic)
	}
}
