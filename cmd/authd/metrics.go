package main

import (
	"github.com/prometheus/client_golang/prometheus"

	authcore "github.com/nkarsten/authcore"
)

// engineCollector exposes the engine's internal counters to Prometheus.
// The engine keeps metrics dependency-free; this bridge reads a snapshot
// on every scrape.
type engineCollector struct {
	engine *authcore.Engine
	desc   *prometheus.Desc
}

var metricNames = map[authcore.MetricID]string{
	authcore.MetricLoginSuccess:    "login_success",
	authcore.MetricLoginFailure:    "login_failure",
	authcore.MetricLoginLocked:     "login_locked",
	authcore.MetricLoginThrottled:  "login_throttled",
	authcore.MetricMFARequired:     "mfa_required",
	authcore.MetricMFASuccess:      "mfa_success",
	authcore.MetricMFAFailure:      "mfa_failure",
	authcore.MetricMFAExhausted:    "mfa_exhausted",
	authcore.MetricBackupCodeUsed:  "backup_code_used",
	authcore.MetricRefreshSuccess:  "refresh_success",
	authcore.MetricRefreshFailure:  "refresh_failure",
	authcore.MetricReplayDetected:  "replay_detected",
	authcore.MetricSessionCreated:  "session_created",
	authcore.MetricSessionEvicted:  "session_evicted",
	authcore.MetricSessionRevoked:  "session_revoked",
	authcore.MetricValidateSuccess: "validate_success",
	authcore.MetricValidateFailure: "validate_failure",
}

func newEngineCollector(engine *authcore.Engine) *engineCollector {
	return &engineCollector{
		engine: engine,
		desc: prometheus.NewDesc(
			"authd_engine_events_total",
			"Authentication engine event counters.",
			[]string{"event"},
			nil,
		),
	}
}

func (c *engineCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.desc
}

func (c *engineCollector) Collect(ch chan<- prometheus.Metric) {
	snapshot := c.engine.MetricsSnapshot()
	for id, name := range metricNames {
		ch <- prometheus.MustNewConstMetric(
			c.desc,
			prometheus.CounterValue,
			float64(snapshot.Counters[id]),
			name,
		)
	}
}
