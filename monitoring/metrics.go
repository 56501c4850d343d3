package monitoring

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/sarchlab/intersim/sim"
)

// MetricsHook is a hook that exports the progress of an engine as Prometheus
// metrics. Every hook owns its registry, so several simulations can live in
// one process.
type MetricsHook struct {
	registry *prometheus.Registry

	Ticks         prometheus.Counter
	Cycles        prometheus.Gauge
	Arrivals      prometheus.Gauge
	Crossed       prometheus.Gauge
	AvgWait       prometheus.Gauge
	QueueLength   *prometheus.GaugeVec
	Dispatched    *prometheus.CounterVec
	DegradedLanes *prometheus.CounterVec
	TickDuration  prometheus.Histogram

	lock        sync.Mutex
	tickStarted time.Time
}

// NewMetricsHook creates a MetricsHook with a fresh registry.
func NewMetricsHook() *MetricsHook {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)
	lanes := []string{"lane"}

	return &MetricsHook{
		registry: registry,

		Ticks: factory.NewCounter(prometheus.CounterOpts{
			Name: "intersim_ticks_total",
			Help: "Total number of ticks run",
		}),
		Cycles: factory.NewGauge(prometheus.GaugeOpts{
			Name: "intersim_cycles",
			Help: "Number of completed signal cycles",
		}),
		Arrivals: factory.NewGauge(prometheus.GaugeOpts{
			Name: "intersim_arrivals",
			Help: "Number of vehicles that arrived",
		}),
		Crossed: factory.NewGauge(prometheus.GaugeOpts{
			Name: "intersim_crossed",
			Help: "Number of vehicles that crossed the intersection",
		}),
		AvgWait: factory.NewGauge(prometheus.GaugeOpts{
			Name: "intersim_avg_wait_seconds",
			Help: "Average wait of the vehicles that crossed",
		}),
		QueueLength: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "intersim_queue_length",
			Help: "Number of vehicles waiting in a lane",
		}, lanes),
		Dispatched: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "intersim_dispatched_total",
			Help: "Number of vehicles dispatched per lane",
		}, lanes),
		DegradedLanes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "intersim_degraded_lane_ticks_total",
			Help: "Number of ticks in which a lane produced no result",
		}, lanes),
		TickDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "intersim_tick_duration_seconds",
			Help:    "Wall-clock time an engine spends in one tick",
			Buckets: []float64{.0001, .0005, .001, .005, .01, .05, .1, .5, 1, 5},
		}),
	}
}

// Registry returns the registry the metrics are registered to.
func (h *MetricsHook) Registry() *prometheus.Registry {
	return h.registry
}

// Func updates the metrics.
func (h *MetricsHook) Func(ctx sim.HookCtx) {
	switch ctx.Pos {
	case sim.HookPosTickStart:
		h.lock.Lock()
		h.tickStarted = time.Now()
		h.lock.Unlock()
	case sim.HookPosTickEnd:
		snapshot, ok := ctx.Item.(*sim.TrafficSnapshot)
		if !ok {
			return
		}

		h.observeTick(snapshot)
	case sim.HookPosLaneDegraded:
		lane, ok := ctx.Item.(sim.LaneID)
		if !ok {
			return
		}

		h.DegradedLanes.WithLabelValues(string(lane)).Inc()
	}
}

func (h *MetricsHook) observeTick(s *sim.TrafficSnapshot) {
	h.lock.Lock()
	started := h.tickStarted
	h.lock.Unlock()

	if !started.IsZero() {
		h.TickDuration.Observe(time.Since(started).Seconds())
	}

	h.Ticks.Inc()
	h.Cycles.Set(float64(s.Cycle))
	h.Arrivals.Set(float64(s.TotalArrivals))
	h.Crossed.Set(float64(s.Stats.TotalVehicles))
	h.AvgWait.Set(s.Stats.AvgWaitSeconds)

	for _, lane := range sim.AllLanes {
		label := string(lane)
		h.QueueLength.WithLabelValues(label).Set(float64(s.QueueLengths[lane]))
		h.Dispatched.WithLabelValues(label).Add(float64(len(s.InTransit[lane])))
	}
}
