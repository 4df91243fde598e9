package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder owns the dashboard collectors on a private registry.
// A nil *Recorder is valid and records nothing.
type Recorder struct {
	registry *prometheus.Registry

	ticks        prometheus.Counter
	refreshes    prometheus.Counter
	alarmsRaised *prometheus.CounterVec
	acks         prometheus.Counter
	rejections   *prometheus.CounterVec

	ec          prometheus.Gauge
	waterLevel  prometheus.Gauge
	alarmActive prometheus.Gauge
	online      prometheus.Gauge
	subscribers prometheus.Gauge
}

func New() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		ticks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hydro_simulation_ticks_total",
			Help: "Periodic simulation ticks applied.",
		}),
		refreshes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hydro_manual_refreshes_total",
			Help: "Operator-triggered data refreshes completed.",
		}),
		alarmsRaised: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hydro_ec_alarms_raised_total",
			Help: "EC alarm episodes started, by direction.",
		}, []string{"direction"}),
		acks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hydro_ec_alarms_acknowledged_total",
			Help: "EC alarms acknowledged by an operator.",
		}),
		rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hydro_threshold_rejections_total",
			Help: "Threshold updates rejected by validation, by rule.",
		}, []string{"kind"}),
		ec: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "hydro_ec_ms_per_cm",
			Help: "Current simulated EC reading.",
		}),
		waterLevel: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "hydro_water_level_percent",
			Help: "Current simulated sump tank level.",
		}),
		alarmActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "hydro_ec_alarm_active",
			Help: "1 while the EC reading is outside the threshold range.",
		}),
		online: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "hydro_farm_online",
			Help: "1 while the simulated farm link is online.",
		}),
		subscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "hydro_live_subscribers",
			Help: "Open live-update subscriptions.",
		}),
	}

	r.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		r.ticks, r.refreshes, r.alarmsRaised, r.acks, r.rejections,
		r.ec, r.waterLevel, r.alarmActive, r.online, r.subscribers,
	)
	return r
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

// ObserveReadings sets the reading gauges.
func (r *Recorder) ObserveReadings(ec, waterLevel float64, online, alarm bool) {
	if r == nil {
		return
	}
	r.ec.Set(ec)
	r.waterLevel.Set(waterLevel)
	r.online.Set(boolGauge(online))
	r.alarmActive.Set(boolGauge(alarm))
}

func (r *Recorder) IncTick() {
	if r == nil {
		return
	}
	r.ticks.Inc()
}

func (r *Recorder) IncRefresh() {
	if r == nil {
		return
	}
	r.refreshes.Inc()
}

func (r *Recorder) IncAlarmRaised(direction string) {
	if r == nil {
		return
	}
	r.alarmsRaised.WithLabelValues(direction).Inc()
}

func (r *Recorder) IncAcknowledged() {
	if r == nil {
		return
	}
	r.acks.Inc()
}

func (r *Recorder) IncRejected(kind string) {
	if r == nil {
		return
	}
	r.rejections.WithLabelValues(kind).Inc()
}

func (r *Recorder) SetSubscribers(n int) {
	if r == nil {
		return
	}
	r.subscribers.Set(float64(n))
}

func boolGauge(v bool) float64 {
	if v {
		return 1
	}
	return 0
}
