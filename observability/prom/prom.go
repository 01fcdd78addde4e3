// Package prom exports tunnel core metrics via prometheus/client_golang.
package prom

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/floegence/rdsec/observability"
)

// NewRegistry returns a fresh Prometheus registry.
func NewRegistry() *prometheus.Registry {
	return prometheus.NewRegistry()
}

// Handler returns a Prometheus HTTP handler bound to the registry.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

// TunnelObserver exports tunnel metrics to Prometheus.
type TunnelObserver struct {
	tunnelGauge      prometheus.Gauge
	handshakeTotal   *prometheus.CounterVec
	handshakeLatency prometheus.Histogram
	encryptedTotal   prometheus.Counter
	decryptedTotal   prometheus.Counter
	closeTotal       *prometheus.CounterVec
}

// NewTunnelObserver registers tunnel metrics on the registry.
func NewTunnelObserver(reg *prometheus.Registry) *TunnelObserver {
	o := &TunnelObserver{
		tunnelGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "rdsec_tunnel_active",
			Help: "Current number of registered tunnels.",
		}),
		handshakeTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rdsec_handshake_total",
			Help: "Handshake attempts by result.",
		}, []string{"result"}),
		handshakeLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "rdsec_handshake_latency_seconds",
			Help:    "Handshake wall-clock latency.",
			Buckets: prometheus.DefBuckets,
		}),
		encryptedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rdsec_records_encrypted_total",
			Help: "Outbound AEAD records sealed.",
		}),
		decryptedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rdsec_records_decrypted_total",
			Help: "Inbound AEAD records opened.",
		}),
		closeTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rdsec_tunnel_close_total",
			Help: "Tunnel closes by reason.",
		}, []string{"reason"}),
	}
	reg.MustRegister(
		o.tunnelGauge,
		o.handshakeTotal,
		o.handshakeLatency,
		o.encryptedTotal,
		o.decryptedTotal,
		o.closeTotal,
	)
	return o
}

func (o *TunnelObserver) TunnelCount(n int) {
	o.tunnelGauge.Set(float64(n))
}

func (o *TunnelObserver) Handshake(result observability.HandshakeResult, d time.Duration) {
	o.handshakeTotal.WithLabelValues(string(result)).Inc()
	o.handshakeLatency.Observe(d.Seconds())
}

func (o *TunnelObserver) RecordEncrypted() {
	o.encryptedTotal.Inc()
}

func (o *TunnelObserver) RecordDecrypted() {
	o.decryptedTotal.Inc()
}

func (o *TunnelObserver) Close(reason observability.CloseReason) {
	o.closeTotal.WithLabelValues(string(reason)).Inc()
}

var _ observability.TunnelObserver = (*TunnelObserver)(nil)
