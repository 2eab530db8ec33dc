package transport

import (
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
)

// Pub is the info/PUB socket from spec.md §6: a fan-out broadcast of
// VARIABLE/TASKEND/SHUTDOWN envelopes to every subscriber, with no
// per-subscriber state kept beyond the open connection itself.
//
// Grounded on TheEntropyCollective-noisefs's cmd/announce-webui/main.go,
// which keeps a map[*websocket.Conn]chan interface{} hub and fans every
// broadcast out to each client's channel so one slow client cannot block the
// others; Pub uses the same shape, keyed by a generated subscriber id.
type Pub struct {
	upgrader websocket.Upgrader

	mu          sync.RWMutex
	subscribers map[uint64]chan Envelope
	nextID      uint64
}

// NewPub constructs an empty Pub hub.
func NewPub() *Pub {
	return &Pub{
		upgrader:    websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
		subscribers: make(map[uint64]chan Envelope),
	}
}

// Handler upgrades the request to a websocket connection and streams every
// Publish'd Envelope to it until the client disconnects. Subscribers never
// send anything meaningful back (matching a PUB socket's one-way fan-out);
// any inbound frame is read and discarded only to detect disconnection.
func (p *Pub) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ws, err := p.upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()

		ch := make(chan Envelope, 64)
		p.mu.Lock()
		id := p.nextID
		p.nextID++
		p.subscribers[id] = ch
		p.mu.Unlock()

		defer func() {
			p.mu.Lock()
			delete(p.subscribers, id)
			p.mu.Unlock()
		}()

		// Detect disconnects without expecting meaningful client traffic.
		go func() {
			for {
				if _, _, err := ws.ReadMessage(); err != nil {
					ws.Close()
					return
				}
			}
		}()

		for env := range ch {
			data, err := json.Marshal(env)
			if err != nil {
				continue
			}
			if err := ws.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		}
	}
}

// Publish fans env out to every current subscriber. A subscriber whose
// buffer is full is skipped for this publication rather than blocking the
// publisher — delivery on the info channel is best-effort (spec.md §4.4).
func (p *Pub) Publish(env Envelope) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, ch := range p.subscribers {
		select {
		case ch <- env:
		default:
		}
	}
}

// Close stops accepting new subscribers' publications by closing every
// subscriber channel, which ends each Handler goroutine's range loop.
func (p *Pub) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for id, ch := range p.subscribers {
		close(ch)
		delete(p.subscribers, id)
	}
}
