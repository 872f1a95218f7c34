package server

import (
	"context"
	"sync"

	log "github.com/sirupsen/logrus"

	"rexml/models"
	"rexml/poller"
)

// Broadcaster fans crossing events out to SSE clients
type Broadcaster struct {
	sync.RWMutex
	clients map[string]chan models.CrossingEvent
}

var _ poller.Sink = (*Broadcaster)(nil)

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		clients: make(map[string]chan models.CrossingEvent),
	}
}

// EmitCrossing hands the event to every connected client without blocking.
// Slow clients miss events.
func (b *Broadcaster) EmitCrossing(_ context.Context, event models.CrossingEvent) error {
	b.RLock()
	defer b.RUnlock()

	for key, client := range b.clients {
		select {
		case client <- event: // Non-blocking send
		default:
			log.Warnf("Client channel full, skipping crossing for client: %v", key)
		}
	}
	return nil
}

func (b *Broadcaster) AddClient(key string, client chan models.CrossingEvent) {
	b.Lock()
	defer b.Unlock()
	b.clients[key] = client
	log.WithFields(log.Fields{
		"key":   key,
		"count": len(b.clients),
	}).Info("Adding client to broadcaster")
}

func (b *Broadcaster) RemoveClient(key string) {
	b.Lock()
	defer b.Unlock()

	if client, ok := b.clients[key]; ok {
		close(client)
		delete(b.clients, key)
	}

	log.WithFields(log.Fields{
		"key":   key,
		"count": len(b.clients),
	}).Info("Removed client from broadcaster")
}

func (b *Broadcaster) Clients() int {
	b.RLock()
	defer b.RUnlock()
	return len(b.clients)
}

// Shutdown closes every client channel, ending their streams
func (b *Broadcaster) Shutdown() {
	log.Info("Shutting down broadcaster")
	b.Lock()
	defer b.Unlock()
	for key, client := range b.clients {
		close(client)
		delete(b.clients, key)
	}
}
