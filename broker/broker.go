// Package broker implements the central message router from spec.md §4.3:
// two matched queues (ready workers / unassigned tasks), on-demand task
// distribution, reply routing back to the originator, shared-variable
// fan-out, and cluster federation.
package broker

import (
	"container/list"
	"context"
	"net/http"
	"sync"

	"github.com/taskmesh-go/taskmesh/future"
	"github.com/taskmesh-go/taskmesh/logging"
	"github.com/taskmesh-go/taskmesh/metrics"
	"github.com/taskmesh-go/taskmesh/pool"
	"github.com/taskmesh-go/taskmesh/transport"
)

// maxConcurrentDials bounds how many cluster-peer connections handleConnect
// dials at once when a single CONNECT message names several peers.
const maxConcurrentDials = 4

type inboundEvent struct {
	env transport.Envelope
	// peerDial is set instead of env for a completed cluster-peer dial
	// result (see cluster.go handleConnect/dialPeer). Kept out of env
	// because *transport.Dealer isn't JSON-marshalable.
	peerDial *dialedPeer
}

// Broker is the single-threaded event loop described in spec.md §5 "Broker
// interior": every incoming message is processed atomically with respect to
// the two queues because there is exactly one goroutine (run) that ever
// touches them. Concurrency at the edges (many websocket connections) is
// funneled into that single goroutine through the inbox channel — the same
// re-architecture the Design Notes prescribe ("Implement the broker as a
// single event-loop task reading messages and dispatching synchronously").
type Broker struct {
	cfg      Config
	identity string
	metrics  metrics.Provider
	log      *logging.Logger

	srv *transport.Server
	pub *transport.Pub

	inbox chan inboundEvent
	done  chan struct{}
	once  sync.Once

	// available_workers: FIFO deque of worker identities blocked on REQUEST.
	availableWorkers *list.List

	// unassigned_tasks: LIFO deque of serialized Futures awaiting a taker.
	unassignedTasks []future.Wire

	shared     map[string]map[string]any // worker_id -> (name -> value)
	groupFence *GroupFence

	peers          map[string]*peerConn
	forwardedTasks map[future.ID]string // futureID -> peer identity it was forwarded through
	dialTokens     pool.Pool            // bounds concurrent outbound peer dials

	redis *redisMirror // optional, nil unless WithRedisMirror is set
}

// New constructs a Broker. Call Mux to obtain its HTTP handlers and Run to
// start its event loop.
func New(opts ...Option) *Broker {
	b := &Broker{
		cfg:              defaultConfig(),
		metrics:          metrics.NewNoopProvider(),
		log:              logging.Default().Named("broker"),
		srv:              transport.NewServer(),
		pub:              transport.NewPub(),
		done:             make(chan struct{}),
		availableWorkers: list.New(),
		shared:           make(map[string]map[string]any),
		groupFence:       NewGroupFence(),
		peers:            make(map[string]*peerConn),
		forwardedTasks:   make(map[future.ID]string),
		dialTokens:       pool.NewFixed(maxConcurrentDials, func() interface{} { return struct{}{} }),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.inbox = make(chan inboundEvent, b.cfg.InboxSize)
	b.srv.OnDisconnect = b.onDisconnect
	return b
}

// Mux returns the HTTP handlers for the task socket (ROUTER-equivalent,
// "/taskmesh") and the info socket (PUB-equivalent, "/taskmesh/info").
func (b *Broker) Mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/taskmesh", b.srv.Handler(b.enqueue))
	mux.Handle("/taskmesh/info", b.pub.Handler())
	return mux
}

func (b *Broker) enqueue(env transport.Envelope) {
	select {
	case b.inbox <- inboundEvent{env: env}:
	case <-b.done:
	}
}

func (b *Broker) enqueueDial(d *dialedPeer) {
	select {
	case b.inbox <- inboundEvent{peerDial: d}:
	case <-b.done:
	}
}

// Run drains the inbox and dispatches each message synchronously until ctx
// is canceled or a SHUTDOWN message is processed.
func (b *Broker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-b.done:
			return nil
		case ev := <-b.inbox:
			if ev.peerDial != nil {
				b.handleDialed(ev.peerDial)
				continue
			}
			b.dispatch(ev.env)
		}
	}
}

func (b *Broker) dispatch(env transport.Envelope) {
	switch env.Type {
	case transport.TypeInit:
		b.handleInit(env)
	case transport.TypeRequest:
		b.handleRequest(env)
	case transport.TypeTask:
		b.handleTask(env)
	case transport.TypeReply:
		b.handleReply(env)
	case transport.TypeVariable:
		b.handleVariable(env)
	case transport.TypeTaskEnd:
		b.handleTaskEnd(env)
	case transport.TypeConnect:
		b.handleConnect(env)
	case transport.TypeShutdown:
		b.handleShutdown()
	case typeLocalDisconnect:
		b.evictDisconnected(env.Sender)
	case typeLocalPeerDisconnect:
		b.evictPeer(env.Sender)
	default:
		// Transport framing error: logged and discarded, loop continues
		// (spec.md §7).
		b.log.Warnw("dropping envelope of unrecognized type", "type", string(env.Type))
	}
}

func (b *Broker) handleInit(env transport.Envelope) {
	b.log.Infow("worker announced", "identity", env.Sender)
	reply, err := transport.NewEnvelope(transport.TypeTask, initReplyPayload{
		Config: b.cfg.AsMap(),
		Shared: b.snapshotShared(),
		Peers:  b.peerAddrs(),
	})
	if err != nil {
		b.log.Warnw("failed to build INIT reply", "err", err)
		return
	}
	if err := b.srv.Send(env.Sender, reply); err != nil {
		b.log.Warnw("failed to send INIT reply", "identity", env.Sender, "err", err)
	}
}

type initReplyPayload struct {
	Config map[string]any `json:"config"`
	Shared map[string]any `json:"shared"`
	Peers  []string       `json:"peers"`
}

func (b *Broker) snapshotShared() map[string]any {
	flat := make(map[string]any)
	for _, byName := range b.shared {
		for name, val := range byName {
			flat[name] = val
		}
	}
	return flat
}

// handleRequest implements the REQUEST half of the matching algorithm
// (spec.md §4.3): pop the newest unassigned task (LIFO) if any, else park the
// requester in available_workers (FIFO).
func (b *Broker) handleRequest(env transport.Envelope) {
	if n := len(b.unassignedTasks); n > 0 {
		task := b.unassignedTasks[n-1]
		b.unassignedTasks = b.unassignedTasks[:n-1]
		b.sendTask(env.Sender, task)
		return
	}
	b.availableWorkers.PushBack(env.Sender)
	b.metrics.UpDownCounter("taskmesh.broker.available_workers").Add(1)
}

// handleTask implements the TASK half of the matching algorithm: hand it
// straight to a waiting worker (FIFO) if any, else push it onto
// unassigned_tasks.
func (b *Broker) handleTask(env transport.Envelope) {
	var w future.Wire
	if err := env.Decode(0, &w); err != nil {
		b.log.Warnw("malformed TASK payload", "err", err)
		return
	}

	// Remember whoever handed us this task, so a later REPLY whose
	// destination isn't connected to us can still find its way home. This
	// matters when the sender is a cluster peer's federation connection,
	// which looks just like an ordinary worker connection on our side — we
	// can't tell in advance, so we record the route unconditionally and
	// only ever consult it as a fallback once srv.Connected(destination)
	// fails.
	b.forwardedTasks[w.ID] = env.Sender

	if front := b.availableWorkers.Front(); front != nil {
		b.availableWorkers.Remove(front)
		b.metrics.UpDownCounter("taskmesh.broker.available_workers").Add(-1)
		b.sendTask(front.Value.(string), w)
		return
	}

	b.unassignedTasks = append(b.unassignedTasks, w)
	b.metrics.UpDownCounter("taskmesh.broker.unassigned_tasks").Add(1)
	b.maybeForward()
}

func (b *Broker) sendTask(identity string, w future.Wire) {
	env, err := transport.NewEnvelope(transport.TypeTask, w)
	if err != nil {
		b.log.Warnw("failed to encode TASK", "err", err)
		return
	}
	if err := b.srv.Send(identity, env); err != nil {
		// Connection gone; the task is lost with it (at-most-once, not
		// at-least-once — spec.md §4.2).
		b.log.Warnw("dropping task: destination unreachable", "identity", identity)
	}
}

// handleReply forwards a completed Future's result to its originating
// worker. Per spec.md §4.2, if the owner's connection is gone the reply is
// dropped — no retry.
func (b *Broker) handleReply(env transport.Envelope) {
	var w future.Wire
	if err := env.Decode(0, &w); err != nil {
		b.log.Warnw("malformed REPLY future payload", "err", err)
		return
	}
	var destination string
	if err := env.Decode(1, &destination); err != nil {
		// Design Notes item 2: this module normalizes the destination frame
		// as payload[1], i.e. [sender_id, REPLY, payload, destination_id].
		destination = w.ID.Worker
	}

	replyEnv, err := transport.NewEnvelope(transport.TypeReply, w)
	if err != nil {
		b.log.Warnw("failed to encode REPLY", "err", err)
		return
	}

	if b.srv.Connected(destination) {
		if err := b.srv.Send(destination, replyEnv); err != nil {
			b.log.Warnw("dropping reply: destination unreachable", "destination", destination)
		}
		return
	}

	if peerID, ok := b.forwardedTasks[w.ID]; ok {
		delete(b.forwardedTasks, w.ID)
		if err := b.srv.Send(peerID, replyEnv); err != nil {
			b.log.Warnw("dropping reply: forwarding peer unreachable", "peer", peerID)
		}
		return
	}

	b.log.Warnw("dropping reply: destination never connected", "destination", destination)
}

func (b *Broker) handleShutdown() {
	b.once.Do(func() {
		shutdownEnv, _ := transport.NewEnvelope(transport.TypeShutdown)
		b.pub.Publish(shutdownEnv)
		b.pub.Close()
		close(b.done)
	})
}

func (b *Broker) onDisconnect(identity string) {
	b.enqueue(transport.Envelope{Sender: identity, Type: "__disconnect__"})
}

// evictDisconnected removes identity from available_workers so a dead
// worker is never handed a task it can no longer receive.
func (b *Broker) evictDisconnected(identity string) {
	for e := b.availableWorkers.Front(); e != nil; e = e.Next() {
		if e.Value.(string) == identity {
			b.availableWorkers.Remove(e)
			b.metrics.UpDownCounter("taskmesh.broker.available_workers").Add(-1)
			return
		}
	}
}
