package broker

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/taskmesh-go/taskmesh/transport"
)

// variablePayload is the wire shape of a VARIABLE message: one worker
// publishing a named value into the shared_variables space (spec.md §3
// "Broker state": shared_variables: map[worker_id]map[name]value). GroupID
// is set only when the publish is a grouped-operation partial (spec.md §4.4
// and the scoop reduction supplement in original_source/scoop/reduction.py),
// in which case it is also buffered under GroupFence until TASKEND fences it.
type variablePayload struct {
	Key     string `json:"key"`
	Value   any    `json:"value"`
	Owner   string `json:"owner"`
	GroupID string `json:"group_id,omitempty"`
}

func (b *Broker) handleVariable(env transport.Envelope) {
	var p variablePayload
	if err := env.Decode(0, &p); err != nil {
		b.log.Warnw("malformed VARIABLE payload", "err", err)
		return
	}

	byName, ok := b.shared[p.Owner]
	if !ok {
		byName = make(map[string]any)
		b.shared[p.Owner] = byName
	}
	byName[p.Key] = p.Value

	if p.GroupID != "" {
		b.groupFence.Buffer(p.GroupID, p.Value)
	}

	out, err := transport.NewEnvelope(transport.TypeVariable, p)
	if err != nil {
		b.log.Warnw("failed to encode VARIABLE fan-out", "err", err)
		return
	}
	b.pub.Publish(out)

	if b.redis != nil {
		b.redis.publish(p)
	}
}

type taskEndPayload struct {
	GroupID     string `json:"group_id"`
	FinalResult any    `json:"final_result"`
}

// handleTaskEnd fences a grouped operation: publishes the TASKEND marker and
// hands back whatever partial results this broker buffered for the group
// under GroupFence, generalizing scoop's numeric-reduction-specific
// buffering (original_source) to any grouped operation.
func (b *Broker) handleTaskEnd(env transport.Envelope) {
	var p taskEndPayload
	if err := env.Decode(0, &p); err != nil {
		b.log.Warnw("malformed TASKEND payload", "err", err)
		return
	}

	partials := b.groupFence.Fence(p.GroupID)

	out, err := transport.NewEnvelope(transport.TypeTaskEnd, p, partials)
	if err != nil {
		b.log.Warnw("failed to encode TASKEND fan-out", "err", err)
		return
	}
	b.pub.Publish(out)
}

// GroupFence buffers per-group partial results contributed before a TASKEND
// marker arrives, then releases them all at once when the group is fenced.
// Ordering across contributors is not guaranteed; only that every partial
// buffered before Fence is returned by it exactly once.
type GroupFence struct {
	mu      sync.Mutex
	pending map[string][]any
}

func NewGroupFence() *GroupFence {
	return &GroupFence{pending: make(map[string][]any)}
}

// Buffer records a partial result for groupID, to be released on Fence.
func (g *GroupFence) Buffer(groupID string, partial any) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.pending[groupID] = append(g.pending[groupID], partial)
}

// Fence releases and clears every partial result buffered for groupID.
func (g *GroupFence) Fence(groupID string) []any {
	g.mu.Lock()
	defer g.mu.Unlock()
	partials := g.pending[groupID]
	delete(g.pending, groupID)
	return partials
}

// redisMirror optionally re-publishes shared-variable updates through Redis
// Pub/Sub so independently-deployed broker processes (not wired together via
// the cluster CONNECT mechanism) can still observe each other's shared
// variables. Off by default; enabled with WithRedisMirror.
type redisMirror struct {
	client  *redis.Client
	channel string
}

func (r *redisMirror) publish(p variablePayload) {
	// Best-effort: shared_variables are already advisory (spec.md §3), so a
	// marshal or Redis publish error here is ignored, neither logged nor
	// retried.
	payload, err := json.Marshal(p)
	if err != nil {
		return
	}
	r.client.Publish(context.Background(), r.channel, payload)
}
