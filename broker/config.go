package broker

// Config holds Broker configuration, in the same documented-struct shape the
// teacher uses for its own Config (ygrebnov-workers/workers.go).
type Config struct {
	// Headless marks this pool as not requiring an interactive console on
	// its workers (part of the merged pool configuration sent on INIT,
	// spec.md §3 "Broker state").
	// Default: false
	Headless bool

	// ClusterForwardThreshold is the unassigned_tasks depth above which
	// the broker starts forwarding its oldest surplus tasks to a connected
	// peer (spec.md §9 Design Notes: "forward when unassigned_tasks depth
	// exceeds K" — the minimum documented policy this module ships).
	// Default: 256
	ClusterForwardThreshold int

	// InboxSize bounds the broker's single event-loop channel. Because the
	// broker dispatches synchronously and never blocks the loop on I/O,
	// this only needs to absorb short bursts.
	// Default: 1024
	InboxSize int
}

// defaultConfig centralizes default values for Config, mirroring
// ygrebnov-workers/defaults.go.
func defaultConfig() Config {
	return Config{
		Headless:                false,
		ClusterForwardThreshold: 256,
		InboxSize:               1024,
	}
}

// AsMap renders the merged pool configuration the spec says travels on INIT
// (spec.md §3 "Broker state": config: merged pool configuration).
func (c Config) AsMap() map[string]any {
	return map[string]any{
		"headless": c.Headless,
	}
}
