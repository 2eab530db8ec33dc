package broker

import (
	"github.com/taskmesh-go/taskmesh/transport"
)

// dialedPeer carries one handleConnect dial attempt back to the broker's
// single dispatch goroutine via inboundEvent.peerDial, so peers map mutation
// still only ever happens on that one goroutine even though the dials
// themselves run concurrently, bounded by dialTokens.
type dialedPeer struct {
	desc   peerDescriptor
	dealer *transport.Dealer
	err    error
}

// Pseudo message types used only on the broker's internal inbox, never sent
// over the wire, to fold connection lifecycle events through the same
// single-threaded dispatch loop as everything else.
const (
	typeLocalDisconnect     transport.Type = "__disconnect__"
	typeLocalPeerDisconnect transport.Type = "__peer_disconnect__"
)

// peerDescriptor is the wire shape of one entry in a CONNECT message's peer
// list (spec.md §9 Design Notes, cluster federation supplement).
type peerDescriptor struct {
	ID   string `json:"id"`
	Addr string `json:"addr"`
}

// peerConn is an outbound connection this broker dialed to a cluster peer,
// using its own identity the way a worker dials a broker's task socket.
type peerConn struct {
	id     string
	addr   string
	dealer *transport.Dealer
}

// Connect dials the given peer addresses and federates with them, the same
// path a CONNECT message over the wire takes. Intended for process startup,
// before Run's caller starts accepting worker connections; ids are derived
// from addr since no separate identity is known yet.
func (b *Broker) Connect(addrs []string) {
	descs := make([]peerDescriptor, len(addrs))
	for i, addr := range addrs {
		descs[i] = peerDescriptor{ID: addr, Addr: addr}
	}
	env, err := transport.NewEnvelope(transport.TypeConnect, descs)
	if err != nil {
		b.log.Warnw("failed to encode bootstrap CONNECT", "err", err)
		return
	}
	b.enqueue(env)
}

func (b *Broker) isPeer(identity string) bool {
	_, ok := b.peers[identity]
	return ok
}

func (b *Broker) peerAddrs() []string {
	addrs := make([]string, 0, len(b.peers))
	for _, p := range b.peers {
		addrs = append(addrs, p.addr)
	}
	return addrs
}

// handleConnect dials any newly introduced peers as a DEALER under this
// broker's own identity (WithIdentity), so the peer's Server treats the
// connection exactly like a worker connection — the minimum-conformant
// cluster federation policy this module ships. Dials run concurrently,
// bounded by dialTokens, so a CONNECT naming many peers doesn't stall the
// single dispatch goroutine for the sum of every dial's latency; each dial's
// outcome is funneled back through enqueueDial to keep all peers map
// mutation on that one goroutine.
func (b *Broker) handleConnect(env transport.Envelope) {
	var descs []peerDescriptor
	if err := env.Decode(0, &descs); err != nil {
		b.log.Warnw("malformed CONNECT payload", "err", err)
		return
	}
	for _, d := range descs {
		if d.ID == "" || d.ID == b.identity {
			continue
		}
		if _, exists := b.peers[d.ID]; exists {
			continue
		}
		go b.dialPeer(d)
	}
}

// dialPeer acquires a dial token (blocking if maxConcurrentDials dials are
// already in flight), dials d, releases the token, and reports the outcome
// back to the dispatch goroutine.
func (b *Broker) dialPeer(d peerDescriptor) {
	token := b.dialTokens.Get()
	dealer, err := transport.Dial(d.Addr, b.identity)
	b.dialTokens.Put(token)
	b.enqueueDial(&dialedPeer{desc: d, dealer: dealer, err: err})
}

// handleDialed registers a successfully dialed peer connection and starts
// draining it, or logs a failed dial. Runs on the single dispatch goroutine.
func (b *Broker) handleDialed(d *dialedPeer) {
	if d.err != nil {
		b.log.Warnw("failed to dial cluster peer", "peer", d.desc.ID, "addr", d.desc.Addr, "err", d.err)
		return
	}
	if _, exists := b.peers[d.desc.ID]; exists {
		_ = d.dealer.Close()
		return
	}
	pc := &peerConn{id: d.desc.ID, addr: d.desc.Addr, dealer: d.dealer}
	b.peers[d.desc.ID] = pc
	b.log.Infow("connected to cluster peer", "peer", d.desc.ID, "addr", d.desc.Addr)
	go b.readPeer(pc)
}

// readPeer feeds everything the peer connection produces back into this
// broker's single-threaded dispatch loop, relabeling Sender to the peer's
// cluster identity (Recv otherwise stamps it with our own dial identity).
func (b *Broker) readPeer(pc *peerConn) {
	for {
		env, err := pc.dealer.Recv()
		if err != nil {
			b.enqueue(transport.Envelope{Sender: pc.id, Type: typeLocalPeerDisconnect})
			return
		}
		env.Sender = pc.id
		b.enqueue(env)
	}
}

func (b *Broker) evictPeer(identity string) {
	if pc, ok := b.peers[identity]; ok {
		_ = pc.dealer.Close()
		delete(b.peers, identity)
		b.log.Warnw("lost connection to cluster peer", "peer", identity)
	}
}

// maybeForward implements the minimum-conformant forward policy: when
// unassigned_tasks grows past ClusterForwardThreshold and at least one peer
// is connected, push the oldest surplus task onto a peer instead of letting
// it sit unmatched locally.
func (b *Broker) maybeForward() {
	if len(b.unassignedTasks) <= b.cfg.ClusterForwardThreshold || len(b.peers) == 0 {
		return
	}

	task := b.unassignedTasks[0]
	var target *peerConn
	for _, pc := range b.peers {
		target = pc
		break
	}

	env, err := transport.NewEnvelope(transport.TypeTask, task)
	if err != nil {
		b.log.Warnw("failed to encode forwarded task", "err", err)
		return
	}
	if err := target.dealer.Send(env); err != nil {
		b.log.Warnw("failed to forward surplus task to peer", "peer", target.id, "err", err)
		return
	}

	b.unassignedTasks = b.unassignedTasks[1:]
	b.metrics.UpDownCounter("taskmesh.broker.unassigned_tasks").Add(-1)
	b.metrics.Counter("taskmesh.broker.tasks_forwarded").Add(1)
}
