package broker

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/taskmesh-go/taskmesh/future"
	"github.com/taskmesh-go/taskmesh/transport"
)

func startBroker(t *testing.T, opts ...Option) (*Broker, string) {
	t.Helper()
	b := New(opts...)
	ts := httptest.NewServer(b.Mux())
	t.Cleanup(ts.Close)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go b.Run(ctx)

	return b, strings.TrimPrefix(ts.URL, "http://")
}

func dial(t *testing.T, addr, identity string) *transport.Dealer {
	t.Helper()
	d, err := transport.Dial(addr, identity)
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })
	return d
}

func recvWithin(t *testing.T, d *transport.Dealer, d2 time.Duration) transport.Envelope {
	t.Helper()
	type result struct {
		env transport.Envelope
		err error
	}
	ch := make(chan result, 1)
	go func() {
		env, err := d.Recv()
		ch <- result{env, err}
	}()
	select {
	case r := <-ch:
		require.NoError(t, r.err)
		return r.env
	case <-time.After(d2):
		t.Fatal("timed out waiting for envelope")
		return transport.Envelope{}
	}
}

func newWire(worker string, seq int64, callable string) future.Wire {
	f := future.New(future.ID{Worker: worker, Seq: seq}, future.RootParent(worker), callable, nil, nil)
	return f.ToWire()
}

// TestMatchingAlgorithmRequestThenTask exercises the REQUEST-before-TASK
// half of spec.md §4.3's matching algorithm: a worker blocked on REQUEST
// with no unassigned tasks is immediately handed the next TASK to arrive.
func TestMatchingAlgorithmRequestThenTask(t *testing.T) {
	_, addr := startBroker(t)

	worker := dial(t, addr, "worker-1")
	require.NoError(t, worker.Send(mustEnvelope(t, transport.TypeRequest)))

	submitter := dial(t, addr, "origin")
	w := newWire("origin", 0, "square")
	require.NoError(t, submitter.Send(mustEnvelope(t, transport.TypeTask, w)))

	env := recvWithin(t, worker, time.Second)
	require.Equal(t, transport.TypeTask, env.Type)
	var got future.Wire
	require.NoError(t, env.Decode(0, &got))
	require.Equal(t, w.ID, got.ID)
}

// TestMatchingAlgorithmTaskThenRequest exercises the reverse ordering: a
// task submitted with no worker waiting sits in unassigned_tasks until a
// REQUEST arrives.
func TestMatchingAlgorithmTaskThenRequest(t *testing.T) {
	_, addr := startBroker(t)

	submitter := dial(t, addr, "origin")
	w := newWire("origin", 0, "square")
	require.NoError(t, submitter.Send(mustEnvelope(t, transport.TypeTask, w)))

	time.Sleep(20 * time.Millisecond) // let the broker absorb the TASK first

	worker := dial(t, addr, "worker-1")
	require.NoError(t, worker.Send(mustEnvelope(t, transport.TypeRequest)))

	env := recvWithin(t, worker, time.Second)
	require.Equal(t, transport.TypeTask, env.Type)
}

// TestUnassignedTasksLIFO verifies the broker hands out the most recently
// submitted task first when several are queued before any worker requests
// one (spec.md §4.3: unassigned_tasks is a LIFO deque).
func TestUnassignedTasksLIFO(t *testing.T) {
	_, addr := startBroker(t)
	submitter := dial(t, addr, "origin")

	w1 := newWire("origin", 0, "a")
	w2 := newWire("origin", 1, "b")
	require.NoError(t, submitter.Send(mustEnvelope(t, transport.TypeTask, w1)))
	require.NoError(t, submitter.Send(mustEnvelope(t, transport.TypeTask, w2)))
	time.Sleep(20 * time.Millisecond)

	worker := dial(t, addr, "worker-1")
	require.NoError(t, worker.Send(mustEnvelope(t, transport.TypeRequest)))
	env := recvWithin(t, worker, time.Second)
	var got future.Wire
	require.NoError(t, env.Decode(0, &got))
	require.Equal(t, w2.ID, got.ID, "the most recently submitted task should be handed out first")
}

// TestReplyRoutesBackToOrigin checks that a REPLY addressed via the
// destination frame (payload[1]) is routed to that connected identity.
func TestReplyRoutesBackToOrigin(t *testing.T) {
	_, addr := startBroker(t)

	origin := dial(t, addr, "origin")
	worker := dial(t, addr, "worker-1")

	w := newWire("origin", 0, "square")
	require.NoError(t, worker.Send(mustEnvelope(t, transport.TypeReply, w, "origin")))

	env := recvWithin(t, origin, time.Second)
	require.Equal(t, transport.TypeReply, env.Type)
	var got future.Wire
	require.NoError(t, env.Decode(0, &got))
	require.Equal(t, w.ID, got.ID)
}

// TestSharedVariableFanOut verifies a VARIABLE message is both recorded in
// shared_variables and fanned out over the info/PUB channel.
func TestSharedVariableFanOut(t *testing.T) {
	b, addr := startBroker(t)
	worker := dial(t, addr, "worker-1")

	metaURL := "ws://" + addr + "/taskmesh/info"
	wsConn, _, err := websocket.DefaultDialer.Dial(metaURL, nil)
	require.NoError(t, err)
	defer wsConn.Close()
	time.Sleep(20 * time.Millisecond) // let the info handler register the subscriber

	require.NoError(t, worker.Send(mustEnvelope(t, transport.TypeVariable, variablePayload{
		Key: "x", Value: float64(42), Owner: "worker-1",
	})))

	require.Eventually(t, func() bool {
		byName, ok := b.shared["worker-1"]
		return ok && byName["x"] == float64(42)
	}, time.Second, 10*time.Millisecond)

	require.NoError(t, wsConn.SetReadDeadline(time.Now().Add(time.Second)))
	_, data, err := wsConn.ReadMessage()
	require.NoError(t, err)
	var broadcast struct {
		Type transport.Type `json:"type"`
	}
	require.NoError(t, json.Unmarshal(data, &broadcast))
	require.Equal(t, transport.TypeVariable, broadcast.Type)
}

func mustEnvelope(t *testing.T, typ transport.Type, parts ...any) transport.Envelope {
	t.Helper()
	env, err := transport.NewEnvelope(typ, parts...)
	require.NoError(t, err)
	return env
}
