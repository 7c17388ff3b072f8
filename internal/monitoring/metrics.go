package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
)

var (
	InstancesProvisioned = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wa_instances_provisioned_total",
			Help: "Total number of instances provisioned by provider outcome",
		},
		[]string{"outcome"},
	)
	ProvisioningDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "wa_tenant_provisioning_duration_seconds",
			Help:    "Duration of tenant provisioning in seconds",
			Buckets: prometheus.LinearBuckets(0, 1, 10), // 0 to 10 seconds
		},
	)
	QRRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wa_qr_requests_total",
			Help: "Total number of QR requests by outcome and source",
		},
		[]string{"outcome", "source"},
	)
	WebhookEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wa_webhook_events_total",
			Help: "Total number of provider webhook events by result",
		},
		[]string{"event", "result"},
	)
)

func InitMetrics() {
	collectors := map[string]prometheus.Collector{
		"InstancesProvisioned": InstancesProvisioned,
		"ProvisioningDuration": ProvisioningDuration,
		"QRRequests":           QRRequests,
		"WebhookEvents":        WebhookEvents,
	}
	for name, c := range collectors {
		if err := prometheus.Register(c); err != nil {
			log.Error().Err(err).Msgf("Failed to register %s metric", name)
		}
	}
}
