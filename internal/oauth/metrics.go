package oauth

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	refreshes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gohome_oauth_refreshes_total",
		Help: "Token exchanges by outcome (success, failure)",
	}, []string{"provider", "outcome"})
	rotations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gohome_oauth_refresh_token_rotations_total",
		Help: "Refresh tokens replaced by the provider",
	}, []string{"provider"})
	tokenValid = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "gohome_oauth_token_valid",
		Help: "1 while a usable access token is cached",
	}, []string{"provider"})
	tokenExpiry = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "gohome_oauth_token_expiry_timestamp_seconds",
		Help: "Unix time the cached access token expires, 0 when unknown",
	}, []string{"provider"})
	mirrorOK = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "gohome_oauth_remote_persist_ok",
		Help: "1 when the last blob mirror operation succeeded",
	}, []string{"provider"})
)

func observeRefresh(provider string, err error) {
	if err != nil {
		refreshes.WithLabelValues(provider, "failure").Inc()
		setTokenValid(provider, false, time.Time{})
		return
	}
	refreshes.WithLabelValues(provider, "success").Inc()
}

func setTokenValid(provider string, valid bool, expiresAt time.Time) {
	if !valid {
		tokenValid.WithLabelValues(provider).Set(0)
		tokenExpiry.WithLabelValues(provider).Set(0)
		return
	}
	tokenValid.WithLabelValues(provider).Set(1)
	if expiresAt.IsZero() {
		tokenExpiry.WithLabelValues(provider).Set(0)
	} else {
		tokenExpiry.WithLabelValues(provider).Set(float64(expiresAt.Unix()))
	}
}

func setMirrorOK(provider string, ok bool) {
	v := 0.0
	if ok {
		v = 1
	}
	mirrorOK.WithLabelValues(provider).Set(v)
}

// MetricsCollectors returns the token manager and persister collectors.
func MetricsCollectors() []prometheus.Collector {
	return []prometheus.Collector{refreshes, rotations, tokenValid, tokenExpiry, mirrorOK}
}
