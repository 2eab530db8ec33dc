package queue

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/taskmesh-go/taskmesh/future"
	"github.com/taskmesh-go/taskmesh/transport"
)

// fakeBroker is the minimal broker double used to exercise Client/FutureQueue
// without depending on the broker package (avoids an import cycle with
// broker's own tests, and keeps this package's tests focused on the queue's
// contract with the transport wire protocol).
type fakeBroker struct {
	srv *transport.Server
	pub *transport.Pub

	mu         sync.Mutex
	tasksSeen  []transport.Envelope
	repliesSeen []transport.Envelope
}

func newFakeBroker(t *testing.T) (*fakeBroker, string, string) {
	fb := &fakeBroker{srv: transport.NewServer(), pub: transport.NewPub()}

	mux := http.NewServeMux()
	mux.Handle("/taskmesh", fb.srv.Handler(fb.onEnvelope))
	mux.Handle("/taskmesh/info", fb.pub.Handler())
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)

	addr := strings.TrimPrefix(ts.URL, "http://")
	return fb, addr, addr
}

func (fb *fakeBroker) onEnvelope(env transport.Envelope) {
	switch env.Type {
	case transport.TypeInit:
		reply, _ := transport.NewEnvelope(transport.TypeTask, InitReply{
			Config: map[string]any{},
			Shared: map[string]any{},
			Peers:  nil,
		})
		_ = fb.srv.Send(env.Sender, reply)
	case transport.TypeRequest:
		fw := future.New(future.ID{Worker: "origin", Seq: 99}, future.RootParent("origin"), "square", []any{float64(7)}, nil)
		reply, _ := transport.NewEnvelope(transport.TypeTask, fw.ToWire())
		_ = fb.srv.Send(env.Sender, reply)
	case transport.TypeTask:
		fb.mu.Lock()
		fb.tasksSeen = append(fb.tasksSeen, env)
		fb.mu.Unlock()
	case transport.TypeReply:
		fb.mu.Lock()
		fb.repliesSeen = append(fb.repliesSeen, env)
		fb.mu.Unlock()
	}
}

func (fb *fakeBroker) taskCount() int {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	return len(fb.tasksSeen)
}

func TestClientConnectAndRequest(t *testing.T) {
	_, taskAddr, metaAddr := newFakeBroker(t)

	client, init, err := Connect(taskAddr, metaAddr, "worker-1", false)
	require.NoError(t, err)
	defer client.Close()
	require.NotNil(t, init.Config)

	f, err := client.Request()
	require.NoError(t, err)
	require.Equal(t, "square", f.Callable)
}

func TestFutureQueueLocalPopLIFO(t *testing.T) {
	_, taskAddr, metaAddr := newFakeBroker(t)
	client, _, err := Connect(taskAddr, metaAddr, "worker-1", false)
	require.NoError(t, err)
	defer client.Close()

	q := New(client, 64)
	f1 := future.New(future.ID{Worker: "worker-1", Seq: 0}, future.RootParent("worker-1"), "a", nil, nil)
	f2 := future.New(future.ID{Worker: "worker-1", Seq: 1}, future.RootParent("worker-1"), "b", nil, nil)

	require.NoError(t, q.Append(f1))
	require.NoError(t, q.Append(f2))

	got, err := q.Pop()
	require.NoError(t, err)
	require.Equal(t, f2.ID, got.ID, "LIFO pop should return the most recently appended local future first")

	got, err = q.Pop()
	require.NoError(t, err)
	require.Equal(t, f1.ID, got.ID)
}

func TestFutureQueueOverflowsToBroker(t *testing.T) {
	fb, taskAddr, metaAddr := newFakeBroker(t)
	client, _, err := Connect(taskAddr, metaAddr, "worker-1", false)
	require.NoError(t, err)
	defer client.Close()

	q := New(client, 2)
	for i := 0; i < 5; i++ {
		f := future.New(future.ID{Worker: "worker-1", Seq: int64(i)}, future.RootParent("worker-1"), "x", nil, nil)
		require.NoError(t, q.Append(f))
	}

	require.Equal(t, 2, q.Len(), "local queue should be capped at the high-water mark")

	require.Eventually(t, func() bool {
		return fb.taskCount() == 3
	}, time.Second, 10*time.Millisecond, "3 surplus futures should have overflowed to the broker")
}

func TestFutureQueuePopFallsBackToRequest(t *testing.T) {
	_, taskAddr, metaAddr := newFakeBroker(t)
	client, _, err := Connect(taskAddr, metaAddr, "worker-1", false)
	require.NoError(t, err)
	defer client.Close()

	q := New(client, 64)
	got, err := q.Pop()
	require.NoError(t, err)
	require.Equal(t, "square", got.Callable)
}
