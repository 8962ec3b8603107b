// Package metrics exposes auth outcome counters and the revocation set size
// on a dedicated Prometheus registry.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Result label values.
const (
	ResultOK                 = "ok"
	ResultInvalidCredentials = "invalid_credentials"
	ResultUnauthenticated    = "unauthenticated"
	ResultRevoked            = "revoked"
	ResultExpired            = "expired"
	ResultError              = "error"
)

// Metrics is safe to use as a nil pointer; every method is then a no-op.
type Metrics struct {
	reg *prometheus.Registry

	login        *prometheus.CounterVec
	authenticate *prometheus.CounterVec
	logout       *prometheus.CounterVec
	rehash       *prometheus.CounterVec
}

// New registers the collectors. revokedEntries, when non-nil, backs the
// tvkeeper_revocation_entries gauge.
func New(revokedEntries func() int) *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		reg:          reg,
		login:        counter("login", "Login attempts by outcome."),
		authenticate: counter("authenticate", "Guarded request authentications by outcome."),
		logout:       counter("logout", "Logout requests by outcome."),
		rehash:       counter("rehash", "Background password rehashes by outcome."),
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.login, m.authenticate, m.logout, m.rehash,
	)
	if revokedEntries != nil {
		reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "tvkeeper",
			Subsystem: "revocation",
			Name:      "entries",
			Help:      "Tokens currently held in the revocation set.",
		}, func() float64 { return float64(revokedEntries()) }))
	}
	return m
}

func counter(name, help string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tvkeeper",
		Subsystem: "auth",
		Name:      name + "_total",
		Help:      help,
	}, []string{"result"})
}

// Login counts a login outcome.
func (m *Metrics) Login(result string) {
	if m != nil {
		m.login.WithLabelValues(result).Inc()
	}
}

// Authenticate counts a guard outcome.
func (m *Metrics) Authenticate(result string) {
	if m != nil {
		m.authenticate.WithLabelValues(result).Inc()
	}
}

// Logout counts a logout outcome.
func (m *Metrics) Logout(result string) {
	if m != nil {
		m.logout.WithLabelValues(result).Inc()
	}
}

// Rehash counts a background rehash outcome.
func (m *Metrics) Rehash(result string) {
	if m != nil {
		m.rehash.WithLabelValues(result).Inc()
	}
}

// Registry returns the underlying registry (nil for a nil Metrics).
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.reg
}

// Handler serves the exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}
