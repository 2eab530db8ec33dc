package metrics

import (
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusProvider implements Provider on top of prometheus/client_golang,
// grounded on everyday-items-toolkit, which standardizes on the same client
// for its own instrumentation. Instruments are created once per name and
// registered against the supplied registerer (use prometheus.DefaultRegisterer
// to expose them on the default /metrics handler).
type PrometheusProvider struct {
	reg prometheus.Registerer

	mu         sync.Mutex
	counters   map[string]*promCounter
	updowns    map[string]*promUpDown
	histograms map[string]*promHistogram
}

// NewPrometheusProvider constructs a PrometheusProvider backed by reg.
func NewPrometheusProvider(reg prometheus.Registerer) *PrometheusProvider {
	return &PrometheusProvider{
		reg:        reg,
		counters:   make(map[string]*promCounter),
		updowns:    make(map[string]*promUpDown),
		histograms: make(map[string]*promHistogram),
	}
}

func metricName(name string) string {
	return strings.ReplaceAll(name, ".", "_")
}

func (p *PrometheusProvider) Counter(name string, opts ...InstrumentOption) Counter {
	p.mu.Lock()
	defer p.mu.Unlock()
	if c, ok := p.counters[name]; ok {
		return c
	}
	cfg := applyOptions(opts)
	vec := prometheus.NewCounter(prometheus.CounterOpts{
		Name: metricName(name),
		Help: helpOrDefault(cfg.Description, name),
	})
	_ = p.reg.Register(vec) // duplicate registration is not expected; ignore idempotently
	c := &promCounter{c: vec}
	p.counters[name] = c
	return c
}

func (p *PrometheusProvider) UpDownCounter(name string, opts ...InstrumentOption) UpDownCounter {
	p.mu.Lock()
	defer p.mu.Unlock()
	if u, ok := p.updowns[name]; ok {
		return u
	}
	cfg := applyOptions(opts)
	g := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: metricName(name),
		Help: helpOrDefault(cfg.Description, name),
	})
	_ = p.reg.Register(g)
	u := &promUpDown{g: g}
	p.updowns[name] = u
	return u
}

func (p *PrometheusProvider) Histogram(name string, opts ...InstrumentOption) Histogram {
	p.mu.Lock()
	defer p.mu.Unlock()
	if h, ok := p.histograms[name]; ok {
		return h
	}
	cfg := applyOptions(opts)
	hist := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    metricName(name),
		Help:    helpOrDefault(cfg.Description, name),
		Buckets: prometheus.DefBuckets,
	})
	_ = p.reg.Register(hist)
	h := &promHistogram{h: hist}
	p.histograms[name] = h
	return h
}

func helpOrDefault(desc, name string) string {
	if desc != "" {
		return desc
	}
	return name + " (taskmesh)"
}

type promCounter struct{ c prometheus.Counter }

func (p *promCounter) Add(n int64) { p.c.Add(float64(n)) }

type promUpDown struct{ g prometheus.Gauge }

func (p *promUpDown) Add(n int64) { p.g.Add(float64(n)) }

type promHistogram struct{ h prometheus.Histogram }

func (p *promHistogram) Record(v float64) { p.h.Observe(v) }
