// Package metrics exposes Prometheus counters for the authentication flows.
package metrics

import (
	"net/http"
	"strings"
	"time"

	"github.com/dalemusser/axiom/internal/app/system/accounts"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome labels.
const (
	OutcomeSuccess = "success"
	OutcomeError   = "error"
)

// Metrics owns a private registry so tests and multiple instances never
// collide on the global one. A nil *Metrics records nothing.
type Metrics struct {
	registry     *prometheus.Registry
	register     *prometheus.CounterVec
	login        *prometheus.CounterVec
	logout       prometheus.Counter
	rateLimited  *prometheus.CounterVec
	taskRuns     *prometheus.CounterVec
	taskDuration *prometheus.HistogramVec
}

// New creates the registry with Go and process collectors plus the
// application counters.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{
		registry: reg,
		register: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "axiom_auth_register_total",
				Help: "Registration attempts by outcome",
			},
			[]string{"outcome"},
		),
		login: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "axiom_auth_login_total",
				Help: "Login attempts by entry point and outcome",
			},
			[]string{"via", "outcome"},
		),
		logout: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "axiom_auth_logout_total",
			Help: "Logouts",
		}),
		rateLimited: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "axiom_ratelimit_rejected_total",
				Help: "Requests rejected by the per-client rate limiter",
			},
			[]string{"route"},
		),
		taskRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "axiom_task_runs_total",
				Help: "Background task runs by job and outcome",
			},
			[]string{"job", "outcome"},
		),
		taskDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "axiom_task_duration_seconds",
				Help:    "Background task run duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"job"},
		),
	}
	reg.MustRegister(m.register, m.login, m.logout, m.rateLimited, m.taskRuns, m.taskDuration)
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

// Outcome maps an accounts error to a label: "success" for nil, otherwise the
// lower-cased error code.
func Outcome(err error) string {
	if err == nil {
		return OutcomeSuccess
	}
	code := accounts.Code(err)
	if code == "" {
		return OutcomeError
	}
	return strings.ToLower(code)
}

// Register counts a registration attempt.
func (m *Metrics) Register(err error) {
	if m == nil {
		return
	}
	m.register.WithLabelValues(Outcome(err)).Inc()
}

// Login counts a login attempt through via ("form" or "api").
func (m *Metrics) Login(via string, err error) {
	if m == nil {
		return
	}
	m.login.WithLabelValues(via, Outcome(err)).Inc()
}

// Logout counts a logout.
func (m *Metrics) Logout() {
	if m == nil {
		return
	}
	m.logout.Inc()
}

// RateLimited counts a rejected request on route.
func (m *Metrics) RateLimited(route string) {
	if m == nil {
		return
	}
	m.rateLimited.WithLabelValues(route).Inc()
}

// TaskRun records one background task run. Its signature matches tasks.ResultFunc.
func (m *Metrics) TaskRun(job string, err error, took time.Duration) {
	if m == nil {
		return
	}
	outcome := OutcomeSuccess
	if err != nil {
		outcome = OutcomeError
	}
	m.taskRuns.WithLabelValues(job, outcome).Inc()
	m.taskDuration.WithLabelValues(job).Observe(took.Seconds())
}
