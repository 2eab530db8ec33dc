package queue

import (
	"fmt"

	"github.com/taskmesh-go/taskmesh/future"
	"github.com/taskmesh-go/taskmesh/transport"
)

// InitReply is what the broker hands back on INIT: merged pool
// configuration, the current shared-variable snapshot, and the cluster peer
// list (sent in that order, per spec.md §3 "Lifecycle" and the scoop
// supplement documented in SPEC_FULL.md).
type InitReply struct {
	Config  map[string]any    `json:"config"`
	Shared  map[string]any    `json:"shared"`
	Peers   []string          `json:"peers"`
	Headers map[string]string `json:"headers,omitempty"`
}

// Client is a worker's transport client: one Dealer connection to the
// broker's task socket, one Sub connection to its info socket. It implements
// the append/pop/send_result/shutdown operations spec.md §4.2 assigns to the
// FutureQueue's remote side.
//
// The dealer connection carries both synchronous REQUEST/TASK round trips
// and unsolicited REPLY frames for tasks this worker previously forwarded to
// the broker and that finished on some other worker — they can arrive
// interleaved at arbitrary times. A single readLoop goroutine demultiplexes
// the two: TASK frames satisfy a pending Request() call, REPLY frames are
// published on Replies for the scheduler to drain.
type Client struct {
	Identity string
	Origin   bool

	dealer *transport.Dealer
	sub    *transport.Sub

	taskReplies chan transport.Envelope
	// Replies delivers REPLY envelopes for futures this worker dispatched
	// remotely, read continuously by the scheduler.
	Replies chan transport.Envelope
	readErr chan error
}

// Connect opens both sockets and performs the INIT handshake.
func Connect(taskAddr, metaAddr, identity string, origin bool) (*Client, InitReply, error) {
	dealer, err := transport.Dial(taskAddr, identity)
	if err != nil {
		return nil, InitReply{}, err
	}

	env, err := transport.NewEnvelope(transport.TypeInit, map[string]any{"origin": origin})
	if err != nil {
		dealer.Close()
		return nil, InitReply{}, err
	}
	if err := dealer.Send(env); err != nil {
		dealer.Close()
		return nil, InitReply{}, err
	}

	reply, err := dealer.Recv()
	if err != nil {
		dealer.Close()
		return nil, InitReply{}, err
	}
	var init InitReply
	if err := reply.Decode(0, &init); err != nil {
		dealer.Close()
		return nil, InitReply{}, err
	}

	sub, err := transport.DialSub(metaAddr)
	if err != nil {
		dealer.Close()
		return nil, InitReply{}, err
	}

	c := &Client{
		Identity:    identity,
		Origin:      origin,
		dealer:      dealer,
		sub:         sub,
		taskReplies: make(chan transport.Envelope),
		Replies:     make(chan transport.Envelope, 64),
		readErr:     make(chan error, 1),
	}
	go c.readLoop()

	return c, init, nil
}

// readLoop is the single reader of the dealer connection, demultiplexing TASK
// frames (replies to Request) from REPLY frames (results of tasks dispatched
// to other workers) so both can arrive in any order without racing on the
// underlying websocket.
func (c *Client) readLoop() {
	for {
		env, err := c.dealer.Recv()
		if err != nil {
			c.readErr <- err
			close(c.taskReplies)
			close(c.Replies)
			return
		}
		switch env.Type {
		case transport.TypeTask:
			c.taskReplies <- env
		case transport.TypeReply:
			c.Replies <- env
		}
	}
}

// Request sends REQUEST and blocks for the broker's TASK reply, returning
// the deserialized Future. It is the "pop from remote" half of
// FutureQueue.pop (spec.md §4.2).
func (c *Client) Request() (*future.Future, error) {
	env, err := transport.NewEnvelope(transport.TypeRequest)
	if err != nil {
		return nil, err
	}
	if err := c.dealer.Send(env); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrUnreachable, err)
	}

	reply, ok := <-c.taskReplies
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnreachable, <-c.readErr)
	}
	var w future.Wire
	if err := reply.Decode(0, &w); err != nil {
		return nil, err
	}
	return future.FromWire(w), nil
}

// SendTask serializes f and ships it to the broker as a TASK message — the
// overflow path of FutureQueue.append when the local high-water mark is
// exceeded.
func (c *Client) SendTask(f *future.Future) error {
	env, err := transport.NewEnvelope(transport.TypeTask, f.ToWire())
	if err != nil {
		return err
	}
	if err := c.dealer.Send(env); err != nil {
		return fmt.Errorf("%w: %s", ErrUnreachable, err)
	}
	return nil
}

// SendResult serializes f (terminal) and ships it to the broker as a REPLY
// addressed to its originating worker, per spec.md §4.2 send_result. The
// frame layout resolves Design Notes item 2 as
// [sender_id, REPLY, payload, destination_id].
func (c *Client) SendResult(f *future.Future) error {
	env, err := transport.NewEnvelope(transport.TypeReply, f.ToWire(), f.ID.Worker)
	if err != nil {
		return err
	}
	if err := c.dealer.Send(env); err != nil {
		return fmt.Errorf("%w: %s", ErrUnreachable, err)
	}
	return nil
}

// variablePayload is the wire shape handleVariable on the broker expects in
// frame 0: a single JSON object, not separate key/value/owner frames.
// GroupID is empty for an ordinary shared-variable publish and set only when
// the value is a partial contribution to a grouped operation (spec.md §4.4),
// which the broker buffers under GroupFence until EndGroup fences it.
type variablePayload struct {
	Key     string `json:"key"`
	Value   any    `json:"value"`
	Owner   string `json:"owner"`
	GroupID string `json:"group_id,omitempty"`
}

// PublishVariable sends a VARIABLE message for the given key/value, owned by
// this client's identity.
func (c *Client) PublishVariable(key string, value any) error {
	return c.publishVariable(variablePayload{Key: key, Value: value, Owner: c.Identity})
}

// PublishGroupVariable sends a VARIABLE message like PublishVariable, but
// tags it as a partial contribution to groupID (spec.md §4.4): the broker
// buffers it under GroupFence and releases every such partial for groupID
// the next time EndGroup fences that group.
func (c *Client) PublishGroupVariable(groupID, key string, value any) error {
	return c.publishVariable(variablePayload{Key: key, Value: value, Owner: c.Identity, GroupID: groupID})
}

func (c *Client) publishVariable(p variablePayload) error {
	env, err := transport.NewEnvelope(transport.TypeVariable, p)
	if err != nil {
		return err
	}
	if err := c.dealer.Send(env); err != nil {
		return fmt.Errorf("%w: %s", ErrUnreachable, err)
	}
	return nil
}

// taskEndPayload is the wire shape handleTaskEnd on the broker expects in
// frame 0.
type taskEndPayload struct {
	GroupID     string `json:"group_id"`
	FinalResult any    `json:"final_result"`
}

// EndGroup sends a TASKEND fencing the given group id with its final result.
func (c *Client) EndGroup(groupID string, finalResult any) error {
	env, err := transport.NewEnvelope(transport.TypeTaskEnd, taskEndPayload{GroupID: groupID, FinalResult: finalResult})
	if err != nil {
		return err
	}
	if err := c.dealer.Send(env); err != nil {
		return fmt.Errorf("%w: %s", ErrUnreachable, err)
	}
	return nil
}

// Shutdown sends SHUTDOWN to the broker. Only the origin worker is expected
// to call this (spec.md §4.2 shutdown).
func (c *Client) Shutdown() error {
	env, err := transport.NewEnvelope(transport.TypeShutdown)
	if err != nil {
		return err
	}
	return c.dealer.Send(env)
}

// Events returns the next broadcast envelope from the info/meta socket
// (VARIABLE, TASKEND, or SHUTDOWN). Callers are expected to loop on this from
// a dedicated goroutine and dispatch into the scheduler/sharedvar layers.
func (c *Client) Events() (transport.Envelope, error) {
	env, err := c.sub.Recv()
	if err != nil {
		return transport.Envelope{}, fmt.Errorf("%w: %s", ErrUnreachable, err)
	}
	return env, nil
}

// Close tears down both sockets.
func (c *Client) Close() error {
	subErr := c.sub.Close()
	dealerErr := c.dealer.Close()
	if dealerErr != nil {
		return dealerErr
	}
	return subErr
}
