package sse

import (
	"context"
	"sync"
)

// Broadcaster fans availability changes out to SSE clients watching an
// event. A signal carries no payload: a client that wakes up re-reads the
// counts, so bursts of changes collapse into one refresh.
type Broadcaster struct {
	eventClients     map[string][]chan struct{}
	eventClientMutex sync.RWMutex
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		eventClients: make(map[string][]chan struct{}),
	}
}

// SubscribeToEvent registers a client until ctx is done, at which point
// the returned channel is closed.
func (b *Broadcaster) SubscribeToEvent(ctx context.Context, eventID string) <-chan struct{} {
	clientChan := make(chan struct{}, 1)

	b.eventClientMutex.Lock()
	b.eventClients[eventID] = append(b.eventClients[eventID], clientChan)
	b.eventClientMutex.Unlock()

	go func() {
		<-ctx.Done()
		b.removeEventClient(eventID, clientChan)
	}()

	return clientChan
}

// Notify wakes every client of the event without blocking.
func (b *Broadcaster) Notify(eventID string) {
	b.eventClientMutex.RLock()
	defer b.eventClientMutex.RUnlock()

	for _, clientChan := range b.eventClients[eventID] {
		select {
		case clientChan <- struct{}{}:
		default:
			// a refresh is already pending
		}
	}
}

func (b *Broadcaster) removeEventClient(eventID string, clientChan chan struct{}) {
	b.eventClientMutex.Lock()
	defer b.eventClientMutex.Unlock()

	clients := b.eventClients[eventID]
	for i, ch := range clients {
		if ch == clientChan {
			b.eventClients[eventID] = append(clients[:i], clients[i+1:]...)
			close(clientChan)
			break
		}
	}

	if len(b.eventClients[eventID]) == 0 {
		delete(b.eventClients, eventID)
	}
}

// GetEventClientCount returns the number of clients watching an event.
func (b *Broadcaster) GetEventClientCount(eventID string) int {
	b.eventClientMutex.RLock()
	defer b.eventClientMutex.RUnlock()
	return len(b.eventClients[eventID])
}
