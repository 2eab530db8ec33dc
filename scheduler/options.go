package scheduler

import (
	"github.com/taskmesh-go/taskmesh/logging"
	"github.com/taskmesh-go/taskmesh/metrics"
	"github.com/taskmesh-go/taskmesh/registry"
)

// Option configures a Controller, in the teacher's functional-options shape
// (ygrebnov-workers/options.go).
type Option func(*Controller)

// WithHighWaterMark overrides the local FutureQueue's overflow threshold.
func WithHighWaterMark(n int) Option {
	return func(c *Controller) { c.cfg.HighWaterMark = n }
}

// WithResultsBuffer sets Config.ResultsBufferSize, which the Controller
// stores but does not read.
func WithResultsBuffer(n int) Option {
	return func(c *Controller) { c.cfg.ResultsBufferSize = n }
}

// WithRegistry installs a custom callable registry. Defaults to
// registry.Default.
func WithRegistry(r *registry.Registry) Option {
	return func(c *Controller) { c.registry = r }
}

// WithMetrics installs a metrics.Provider on the Controller. Defaults to
// metrics.NewNoopProvider(). The Controller records no instruments through
// it.
func WithMetrics(p metrics.Provider) Option {
	return func(c *Controller) { c.metrics = p }
}

// WithLogger installs a logger. Defaults to logging.Default().Named("scheduler").
func WithLogger(l *logging.Logger) Option {
	return func(c *Controller) { c.log = l }
}
