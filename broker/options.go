package broker

import (
	"github.com/redis/go-redis/v9"

	"github.com/taskmesh-go/taskmesh/metrics"
)

// Option configures a Broker, in the teacher's functional-options shape
// (ygrebnov-workers/options.go).
type Option func(*Broker)

// WithHeadless marks the pool headless in the merged configuration sent to
// workers on INIT.
func WithHeadless() Option {
	return func(b *Broker) { b.cfg.Headless = true }
}

// WithClusterForwardThreshold overrides the unassigned_tasks depth above
// which surplus tasks are forwarded to a connected peer.
func WithClusterForwardThreshold(n int) Option {
	return func(b *Broker) { b.cfg.ClusterForwardThreshold = n }
}

// WithInboxSize overrides the single event-loop channel's buffer size.
func WithInboxSize(n int) Option {
	return func(b *Broker) { b.cfg.InboxSize = n }
}

// WithMetrics installs a metrics.Provider used to instrument queue depths
// and message throughput. Defaults to metrics.NewNoopProvider().
func WithMetrics(p metrics.Provider) Option {
	return func(b *Broker) { b.metrics = p }
}

// WithIdentity sets this broker's own identity, used when it dials out to
// cluster peers as a DEALER (so a peer can address REPLYs back to it).
func WithIdentity(id string) Option {
	return func(b *Broker) { b.identity = id }
}

// WithRedisMirror mirrors shared-variable updates through Redis Pub/Sub on
// the given channel, letting independently-deployed broker processes observe
// each other's shared variables without a CONNECT-based cluster link.
func WithRedisMirror(client *redis.Client, channel string) Option {
	return func(b *Broker) { b.redis = &redisMirror{client: client, channel: channel} }
}
