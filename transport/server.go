package transport

import (
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
)

// Server is the ROUTER-equivalent side of the task socket: it accepts one
// websocket connection per peer (worker or federated broker), keys it by the
// identity the peer announces on connect, and lets the owner address
// messages back to a specific identity by name — exactly the addressing a
// ZeroMQ ROUTER socket gives for free via its identity frame.
type Server struct {
	upgrader websocket.Upgrader

	mu    sync.RWMutex
	conns map[string]*Conn

	// OnDisconnect notifies the owner (the broker) when an identity's
	// connection drops so it can evict that identity from available_workers.
	OnDisconnect func(identity string)
}

// NewServer constructs a Server. Cross-origin checks are disabled because
// this is a private cluster-internal protocol, not a browser-facing API.
func NewServer() *Server {
	return &Server{
		upgrader: websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
		conns:    make(map[string]*Conn),
	}
}

// Handler returns an http.Handler that upgrades the request to a websocket
// connection, registers it under the "identity" query parameter, and invokes
// onEnvelope for every Envelope received until the connection drops.
func (s *Server) Handler(onEnvelope func(Envelope)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identity := r.URL.Query().Get("identity")
		if identity == "" {
			http.Error(w, "missing identity", http.StatusBadRequest)
			return
		}

		ws, err := s.upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conn := NewConn(identity, ws)

		s.mu.Lock()
		s.conns[identity] = conn
		s.mu.Unlock()

		defer func() {
			s.mu.Lock()
			delete(s.conns, identity)
			s.mu.Unlock()
			conn.Close()
			if s.OnDisconnect != nil {
				s.OnDisconnect(identity)
			}
		}()

		for {
			env, err := conn.Recv()
			if err != nil {
				return
			}
			onEnvelope(env)
		}
	}
}

// Send routes env to the connection registered under identity. It returns
// ErrUnreachable if no such connection is currently open — the broker's
// policy on a dropped REPLY destination (spec.md §4.2 "At-most-once
// delivery": dropped, not retried).
func (s *Server) Send(identity string, env Envelope) error {
	s.mu.RLock()
	conn, ok := s.conns[identity]
	s.mu.RUnlock()
	if !ok {
		return ErrUnreachable
	}
	return conn.Send(env)
}

// Connected reports whether identity currently has an open connection.
func (s *Server) Connected(identity string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.conns[identity]
	return ok
}

// Identities returns every currently connected identity.
func (s *Server) Identities() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.conns))
	for id := range s.conns {
		out = append(out, id)
	}
	return out
}
