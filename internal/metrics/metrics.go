// internal/metrics/metrics.go
package metrics

import (
	"net/http"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	registry = prom.NewRegistry()

	// DNSQueriesAnswered counts captive-portal DNS queries answered.
	DNSQueriesAnswered = prom.NewCounter(prom.CounterOpts{
		Namespace: "onboard", Name: "dns_queries_answered_total",
		Help: "DNS queries answered with the access point address",
	})

	// DHCPMessages counts parsed DHCP messages by type.
	DHCPMessages = prom.NewCounterVec(prom.CounterOpts{
		Namespace: "onboard", Name: "dhcp_messages_total",
		Help: "DHCP messages handled, by message type",
	}, []string{"type"})

	// DHCPActiveLeases tracks the current lease table size.
	DHCPActiveLeases = prom.NewGauge(prom.GaugeOpts{
		Namespace: "onboard", Name: "dhcp_active_leases",
		Help: "Leases currently held in the DHCP table",
	})

	// TimeSyncs counts NTP sync attempts by result.
	TimeSyncs = prom.NewCounterVec(prom.CounterOpts{
		Namespace: "onboard", Name: "timesync_total",
		Help: "NTP synchronization attempts, by result",
	}, []string{"result"})

	// Restarts counts state machine restarts by reason.
	Restarts = prom.NewCounterVec(prom.CounterOpts{
		Namespace: "onboard", Name: "restarts_total",
		Help: "Full restarts requested by the onboarding state machine, by reason",
	}, []string{"reason"})
)

func init() {
	registry.MustRegister(
		collectors.NewGoCollector(),
		DNSQueriesAnswered,
		DHCPMessages,
		DHCPActiveLeases,
		TimeSyncs,
		Restarts,
	)
}

// Handler serves the private registry for scraping.
func Handler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
