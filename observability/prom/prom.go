// Package prom exports session lifecycle events as Prometheus metrics.
package prom

import (
	"net/http"

	"github.com/hcnet/hcgo/observability"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRegistry returns a fresh Prometheus registry.
func NewRegistry() *prometheus.Registry {
	return prometheus.NewRegistry()
}

// Handler returns a Prometheus HTTP handler bound to the registry.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

// SessionObserver exports session lifecycle metrics to Prometheus. It
// satisfies session.Observer structurally.
type SessionObserver struct {
	connectTotal    *prometheus.CounterVec
	handshakeTotal  *prometheus.CounterVec
	keepaliveTotal  *prometheus.CounterVec
	macFailureTotal prometheus.Counter
	closeTotal      *prometheus.CounterVec
}

// NewSessionObserver registers session metrics on the registry.
func NewSessionObserver(reg *prometheus.Registry) *SessionObserver {
	o := &SessionObserver{
		connectTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hcgo_connect_total",
			Help: "Connect attempts by mode and result.",
		}, []string{"mode", "result"}),
		handshakeTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hcgo_handshake_step_total",
			Help: "Handshake steps by name and result.",
		}, []string{"step", "result"}),
		keepaliveTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hcgo_keepalive_probe_total",
			Help: "Keepalive probes by result.",
		}, []string{"result"}),
		macFailureTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hcgo_mac_failures_total",
			Help: "Inbound frames dropped for MAC verification failure.",
		}),
		closeTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hcgo_close_total",
			Help: "Session closes by result.",
		}, []string{"result"}),
	}
	reg.MustRegister(
		o.connectTotal,
		o.handshakeTotal,
		o.keepaliveTotal,
		o.macFailureTotal,
		o.closeTotal,
	)
	return o
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

func (o *SessionObserver) OnConnect(_ string, mode string, err error) {
	o.connectTotal.WithLabelValues(mode, result(err)).Inc()
}

func (o *SessionObserver) OnHandshakeStep(step string, err error) {
	o.handshakeTotal.WithLabelValues(step, result(err)).Inc()
}

func (o *SessionObserver) OnKeepaliveProbe(ok bool, _ error) {
	if ok {
		o.keepaliveTotal.WithLabelValues("ok").Inc()
		return
	}
	o.keepaliveTotal.WithLabelValues("error").Inc()
}

func (o *SessionObserver) OnMACFailure() {
	o.macFailureTotal.Inc()
}

func (o *SessionObserver) OnClose(err error) {
	o.closeTotal.WithLabelValues(result(err)).Inc()
}

var _ observability.SessionObserver = (*SessionObserver)(nil)
