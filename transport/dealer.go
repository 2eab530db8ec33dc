package transport

import (
	"fmt"
	"net/url"

	"github.com/gorilla/websocket"
)

// Dealer is the DEALER-equivalent side of the task socket: a single outbound
// connection a worker (or a federated broker) opens to a broker's task
// socket, announcing its own identity on connect.
type Dealer struct {
	*Conn
}

// Dial opens a websocket connection to addr (host:port, no scheme) and
// announces identity via the same query-parameter convention Server.Handler
// expects.
func Dial(addr, identity string) (*Dealer, error) {
	u := url.URL{Scheme: "ws", Host: addr, Path: "/taskmesh"}
	q := u.Query()
	q.Set("identity", identity)
	u.RawQuery = q.Encode()

	ws, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrUnreachable, err)
	}
	return &Dealer{Conn: NewConn(identity, ws)}, nil
}
