package melcloud

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics tracks polling and command traffic of an engine.
type Metrics struct {
	pollSuccess  prometheus.Gauge
	lastSuccess  prometheus.Gauge
	pollDuration prometheus.Histogram
	commands     *prometheus.CounterVec
	discarded    prometheus.Counter
}

func NewMetrics() *Metrics {
	return &Metrics{
		pollSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gohome_melcloud_poll_success",
			Help: "Last poll success (1=ok, 0=error)",
		}),
		lastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gohome_melcloud_last_success_timestamp_seconds",
			Help: "Last successful poll timestamp (epoch seconds)",
		}),
		pollDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "gohome_melcloud_poll_duration_seconds",
			Help:    "Duration of MELCloud state fetches",
			Buckets: prometheus.DefBuckets,
		}),
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gohome_melcloud_commands_total",
			Help: "Commands by outcome (sent, skipped, queued, error)",
		}, []string{"result"}),
		discarded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gohome_melcloud_stale_snapshots_discarded_total",
			Help: "Polled snapshots dropped because a command was awaiting verification",
		}),
	}
}

func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{m.pollSuccess, m.lastSuccess, m.pollDuration, m.commands, m.discarded}
}

func (m *Metrics) observePoll(d time.Duration, err error) {
	m.pollDuration.Observe(d.Seconds())
	if err != nil {
		m.pollSuccess.Set(0)
		return
	}
	m.pollSuccess.Set(1)
	m.lastSuccess.Set(float64(time.Now().Unix()))
}

func (m *Metrics) command(result string) {
	m.commands.WithLabelValues(result).Inc()
}

func (m *Metrics) staleDiscarded() {
	m.discarded.Inc()
}

// UnitCollector exports the engine's view of every unit at scrape time.
type UnitCollector struct {
	engine *Engine

	power     *prometheus.Desc
	setpoint  *prometheus.Desc
	room      *prometheus.Desc
	fanSpeed  *prometheus.Desc
	connected *prometheus.Desc
	verifying *prometheus.Desc
	rssi      *prometheus.Desc
}

func NewUnitCollector(engine *Engine) *UnitCollector {
	labels := []string{"unit_id", "unit_name"}
	return &UnitCollector{
		engine: engine,
		power: prometheus.NewDesc("gohome_melcloud_power_on_bool",
			"Power setting per unit (1=on, 0=off)", labels, nil),
		setpoint: prometheus.NewDesc("gohome_melcloud_setpoint_celsius",
			"Target temperature per unit", labels, nil),
		room: prometheus.NewDesc("gohome_melcloud_room_temperature_celsius",
			"Room temperature per unit", labels, nil),
		fanSpeed: prometheus.NewDesc("gohome_melcloud_fan_speed",
			"Fan speed per unit (0=auto)", labels, nil),
		connected: prometheus.NewDesc("gohome_melcloud_connected_bool",
			"Cloud connectivity per unit (1=connected)", labels, nil),
		verifying: prometheus.NewDesc("gohome_melcloud_verification_pending_bool",
			"Command awaiting verification per unit", labels, nil),
		rssi: prometheus.NewDesc("gohome_melcloud_wifi_rssi_dbm",
			"Wi-Fi signal strength per unit", labels, nil),
	}
}

func (c *UnitCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.power
	ch <- c.setpoint
	ch <- c.room
	ch <- c.fanSpeed
	ch <- c.connected
	ch <- c.verifying
	ch <- c.rssi
}

func (c *UnitCollector) Collect(ch chan<- prometheus.Metric) {
	for _, v := range c.engine.Snapshots() {
		s := v.State
		labels := []string{s.ID, s.Name}
		ch <- prometheus.MustNewConstMetric(c.power, prometheus.GaugeValue, boolToFloat(s.Power()), labels...)
		ch <- prometheus.MustNewConstMetric(c.connected, prometheus.GaugeValue, boolToFloat(s.Connection.Connected), labels...)
		ch <- prometheus.MustNewConstMetric(c.verifying, prometheus.GaugeValue, boolToFloat(v.Verifying), labels...)
		ch <- prometheus.MustNewConstMetric(c.rssi, prometheus.GaugeValue, float64(s.Connection.RSSI), labels...)
		if t, ok := s.SetTemperature(); ok {
			ch <- prometheus.MustNewConstMetric(c.setpoint, prometheus.GaugeValue, t, labels...)
		}
		if t, ok := s.RoomTemperature(); ok {
			ch <- prometheus.MustNewConstMetric(c.room, prometheus.GaugeValue, t, labels...)
		}
		if f, ok := s.FanSpeed(); ok {
			ch <- prometheus.MustNewConstMetric(c.fanSpeed, prometheus.GaugeValue, float64(f), labels...)
		}
	}
}

func boolToFloat(v bool) float64 {
	if v {
		return 1
	}
	return 0
}
