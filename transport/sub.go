package transport

import (
	"net/url"

	"github.com/gorilla/websocket"
)

// Sub is the worker-side subscriber to a broker's info/PUB socket.
type Sub struct {
	ws *websocket.Conn
}

// DialSub opens a websocket connection to the broker's meta address and
// returns a Sub ready to Recv broadcast envelopes.
func DialSub(addr string) (*Sub, error) {
	u := url.URL{Scheme: "ws", Host: addr, Path: "/taskmesh/info"}
	ws, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		return nil, ErrUnreachable
	}
	return &Sub{ws: ws}, nil
}

// Recv blocks for the next broadcast Envelope.
func (s *Sub) Recv() (Envelope, error) {
	_, data, err := s.ws.ReadMessage()
	if err != nil {
		return Envelope{}, ErrUnreachable
	}
	var env Envelope
	if unmarshalErr := json.Unmarshal(data, &env); unmarshalErr != nil {
		return Envelope{}, unmarshalErr
	}
	return env, nil
}

// Close closes the underlying connection.
func (s *Sub) Close() error { return s.ws.Close() }
