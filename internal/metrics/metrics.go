package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "notifyhub"

var (
	once sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by endpoint.",
		},
		[]string{"endpoint"},
	)

	tasksAdmitted = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "scheduler",
		Name:      "tasks_admitted_total",
		Help:      "Tasks admitted into the task store.",
	})

	tasksCancelled = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "scheduler",
		Name:      "tasks_cancelled_total",
		Help:      "Pending tasks whose timer was cancelled.",
	})

	fires = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "fires_total",
			Help:      "Task fires by outcome status.",
		},
		[]string{"status"},
	)

	reconciles = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "reconcile_cycles_total",
			Help:      "Reconciliation cycles by result.",
		},
		[]string{"result"},
	)

	activeTasks = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "scheduler",
		Name:      "active_tasks",
		Help:      "Tasks currently held by the task store.",
	})

	deliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "delivery",
			Name:      "events_total",
			Help:      "Push events by delivery result.",
		},
		[]string{"result"},
	)

	connections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "delivery",
		Name:      "connections",
		Help:      "Live subscriber connections.",
	})
)

// Delivery results.
const (
	DeliveryDelivered    = "delivered"
	DeliveryNoSubscriber = "no_subscriber"
	DeliveryBufferFull   = "buffer_full"
	DeliveryRelayed      = "relayed"
	DeliveryRelayFailed  = "relay_failed"
)

// Register registers Prometheus metrics. Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(
			httpRequests,
			tasksAdmitted,
			tasksCancelled,
			fires,
			reconciles,
			activeTasks,
			deliveries,
			connections,
		)
	})
}

// IncHTTP increments the counter for an endpoint label.
func IncHTTP(endpoint string) {
	httpRequests.WithLabelValues(endpoint).Inc()
}

func IncAdmitted(n int) {
	tasksAdmitted.Add(float64(n))
}

func IncCancelled(n int) {
	tasksCancelled.Add(float64(n))
}

func IncFire(status string) {
	fires.WithLabelValues(status).Inc()
}

func IncReconcile(result string) {
	reconciles.WithLabelValues(result).Inc()
}

func SetActiveTasks(n int) {
	activeTasks.Set(float64(n))
}

func IncDelivery(result string) {
	deliveries.WithLabelValues(result).Inc()
}

func AddConnections(delta int) {
	connections.Add(float64(delta))
}
