package rate

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	remaining = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "gohome_rate_limit_remaining",
		Help: "Requests left in the local budget per window",
	}, []string{"provider", "window"})
	cooldown = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "gohome_rate_limit_retry_after_seconds",
		Help: "Last Retry-After cooldown requested by the provider",
	}, []string{"provider"})
	responses = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gohome_rate_limit_responses_total",
		Help: "Provider responses seen by the guard, by status class",
	}, []string{"provider", "class"})
	blocked = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gohome_rate_limit_blocked_total",
		Help: "Requests refused locally before reaching the provider",
	}, []string{"provider", "reason"})
)

func setRemaining(provider string, window Window, tokens float64) {
	remaining.WithLabelValues(provider, window.String()).Set(tokens)
}

func observeBlocked(provider, reason string) {
	blocked.WithLabelValues(provider, reason).Inc()
}

func observeResponse(provider string, status int) {
	responses.WithLabelValues(provider, strconv.Itoa(status/100)+"xx").Inc()
}

func observeCooldown(provider string, wait time.Duration) {
	cooldown.WithLabelValues(provider).Set(wait.Seconds())
}

// MetricsCollectors exposes the guard collectors of every provider.
func MetricsCollectors() []prometheus.Collector {
	return []prometheus.Collector{remaining, cooldown, responses, blocked}
}
