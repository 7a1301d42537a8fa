package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var (
	// Registry is the dedicated Prometheus registry for the simulation
	Registry = prometheus.NewRegistry()

	// HTTPRequests counts requests by method, path, and status
	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "http_requests_total", Help: "Total HTTP requests."},
		[]string{"method", "path", "status"},
	)
	// HTTPDuration records request durations in seconds
	HTTPDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "http_request_duration_seconds", Help: "HTTP request duration in seconds.", Buckets: prometheus.DefBuckets},
		[]string{"method", "path", "status"},
	)

	// TasksAnnounced counts collection tasks announced to trucks
	TasksAnnounced = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "sim_tasks_announced_total", Help: "Collection tasks announced."},
	)
	// TasksExpired counts tasks that expired with no winner
	TasksExpired = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "sim_tasks_expired_total", Help: "Collection tasks expired without a contractor."},
	)
	// Collections counts completed collections
	Collections = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "sim_collections_total", Help: "Completed waste collections."},
	)
	// TaskWaitTicks tracks ticks from announcement to completion
	TaskWaitTicks = prometheus.NewHistogram(
		prometheus.HistogramOpts{Name: "sim_task_wait_ticks", Help: "Ticks between task announcement and completion.", Buckets: []float64{1, 2, 3, 5, 8, 12, 24, 48}},
	)
	// TickDuration records wall-clock time per simulation tick
	TickDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{Name: "sim_tick_duration_seconds", Help: "Wall-clock duration of one simulation tick.", Buckets: prometheus.DefBuckets},
	)
	// ActiveIncidents gauges currently active traffic incidents
	ActiveIncidents = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "sim_active_incidents", Help: "Traffic incidents currently active."},
	)
	// FuelConsumed counts total fuel burned by the fleet
	FuelConsumed = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "sim_fuel_consumed_total", Help: "Fuel units consumed by all trucks."},
	)
	// DistanceTraveled counts total grid cells traveled by the fleet
	DistanceTraveled = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "sim_distance_traveled_total", Help: "Grid cells traveled by all trucks."},
	)
)

// RegisterDefault registers collectors to the default registry.
func RegisterDefault() {
	regOnce.Do(func() {
		Registry.MustRegister(HTTPRequests)
		Registry.MustRegister(HTTPDuration)
		Registry.MustRegister(TasksAnnounced)
		Registry.MustRegister(TasksExpired)
		Registry.MustRegister(Collections)
		Registry.MustRegister(TaskWaitTicks)
		Registry.MustRegister(TickDuration)
		Registry.MustRegister(ActiveIncidents)
		Registry.MustRegister(FuelConsumed)
		Registry.MustRegister(DistanceTraveled)
		// Go/process collectors on our registry
		Registry.MustRegister(collectors.NewGoCollector())
		Registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	})
}

var regOnce sync.Once
