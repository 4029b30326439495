package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

type CampaignMetrics struct {
	campaignsCreated prometheus.Counter
	donations        prometheus.Counter
	bets             *prometheus.CounterVec
	conversions      prometheus.Counter
	settlements      *prometheus.CounterVec
	claims           prometheus.Counter
	rpcRequests      *prometheus.CounterVec
}

var (
	campaignOnce     sync.Once
	campaignRegistry *CampaignMetrics
)

func Campaign() *CampaignMetrics {
	campaignOnce.Do(func() {
		campaignRegistry = &CampaignMetrics{
			campaignsCreated: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "campaign_created_total",
				Help: "Count of campaigns registered.",
			}),
			donations: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "campaign_donations_total",
				Help: "Count of accepted donations.",
			}),
			bets: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "campaign_bets_total",
				Help: "Count of accepted bets by side.",
			}, []string{"side"}),
			conversions: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "campaign_conversions_total",
				Help: "Count of bet-to-donate conversions performed.",
			}),
			settlements: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "campaign_settlements_total",
				Help: "Count of settlements by outcome.",
			}, []string{"outcome"}),
			claims: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "campaign_claims_total",
				Help: "Count of nonzero claim payouts issued.",
			}),
			rpcRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "campaign_rpc_requests_total",
				Help: "Count of RPC requests by method.",
			}, []string{"method"}),
		}
		prometheus.MustRegister(
			campaignRegistry.campaignsCreated,
			campaignRegistry.donations,
			campaignRegistry.bets,
			campaignRegistry.conversions,
			campaignRegistry.settlements,
			campaignRegistry.claims,
			campaignRegistry.rpcRequests,
		)
	})
	return campaignRegistry
}

func (m *CampaignMetrics) ObserveCampaignCreated() {
	if m == nil {
		return
	}
	m.campaignsCreated.Inc()
}

func (m *CampaignMetrics) ObserveDonation() {
	if m == nil {
		return
	}
	m.donations.Inc()
}

func (m *CampaignMetrics) ObserveBet(side string) {
	if m == nil {
		return
	}
	m.bets.WithLabelValues(side).Inc()
}

func (m *CampaignMetrics) ObserveConversion() {
	if m == nil {
		return
	}
	m.conversions.Inc()
}

func (m *CampaignMetrics) ObserveSettlement(outcome string) {
	if m == nil {
		return
	}
	m.settlements.WithLabelValues(outcome).Inc()
}

func (m *CampaignMetrics) ObserveClaim() {
	if m == nil {
		return
	}
	m.claims.Inc()
}

func (m *CampaignMetrics) ObserveRPCRequest(method string) {
	if m == nil {
		return
	}
	m.rpcRequests.WithLabelValues(method).Inc()
}
