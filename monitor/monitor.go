// Package monitor exposes server metrics over prometheus.
package monitor

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nibblearena/gameserver/logger"
)

type Metrics struct {
	OnlinePlayers     prometheus.Gauge
	ActiveFoods       prometheus.Gauge
	MessagesReceived  prometheus.Counter
	FramesSent        prometheus.Counter
	FoodsEaten        prometheus.Counter
	RoundsCompleted   prometheus.Counter
	BroadcastDuration prometheus.Histogram
}

func NewMetrics(namespace string) *Metrics {
	m := &Metrics{
		OnlinePlayers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "online_players",
			Help:      "Number of joined players",
		}),
		ActiveFoods: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_foods",
			Help:      "Number of foods on the field",
		}),
		MessagesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_received_total",
			Help:      "Total inbound frames dispatched",
		}),
		FramesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_sent_total",
			Help:      "Total outbound frames enqueued",
		}),
		FoodsEaten: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "foods_eaten_total",
			Help:      "Total foods consumed",
		}),
		RoundsCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rounds_completed_total",
			Help:      "Total rounds played to completion",
		}),
		BroadcastDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "broadcast_duration_seconds",
			Help:      "Time to fan one state update out to all sessions",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 12),
		}),
	}

	prometheus.MustRegister(
		m.OnlinePlayers,
		m.ActiveFoods,
		m.MessagesReceived,
		m.FramesSent,
		m.FoodsEaten,
		m.RoundsCompleted,
		m.BroadcastDuration,
	)

	return m
}

// Monitor serves /metrics and wraps the metric updates the game server makes.
type Monitor struct {
	metrics   *Metrics
	startTime time.Time
	server    *http.Server
}

func NewMonitor(namespace string) *Monitor {
	return &Monitor{
		metrics:   NewMetrics(namespace),
		startTime: time.Now(),
	}
}

// StartServer serves the metrics endpoint in the background.
func (m *Monitor) StartServer(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	m.server = &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := m.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Log.Errorf("metrics server error: %v", err)
		}
	}()
}

// StopServer shuts the metrics endpoint down.
func (m *Monitor) StopServer() {
	if m.server != nil {
		_ = m.server.Close()
	}
}

func (m *Monitor) SetOnlinePlayers(n int) { m.metrics.OnlinePlayers.Set(float64(n)) }
func (m *Monitor) SetActiveFoods(n int)   { m.metrics.ActiveFoods.Set(float64(n)) }
func (m *Monitor) IncMessagesReceived()   { m.metrics.MessagesReceived.Inc() }
func (m *Monitor) AddFramesSent(n int)    { m.metrics.FramesSent.Add(float64(n)) }
func (m *Monitor) IncFoodsEaten()         { m.metrics.FoodsEaten.Inc() }
func (m *Monitor) IncRoundsCompleted()    { m.metrics.RoundsCompleted.Inc() }

func (m *Monitor) ObserveBroadcast(d time.Duration) {
	m.metrics.BroadcastDuration.Observe(d.Seconds())
}
