// Package metrics registers Prometheus instrumentation for the protocol.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the protocol. A nil *Metrics is
// safe to use; every recorder is a no-op.
type Metrics struct {
	// Claim outcomes by result ("ok", "rejected", "failed")
	Claims *prometheus.CounterVec

	// Achievement verifications by result
	Achievements *prometheus.CounterVec

	HarvestsTotal prometheus.Counter
	SlashesTotal  prometheus.Counter

	RewardsPool prometheus.Gauge
	TotalStaked prometheus.Gauge
	Paused      prometheus.Gauge
}

// New creates a new Metrics instance with all protocol metrics registered.
func New() *Metrics {
	return &Metrics{
		Claims: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "rewards_claims_total",
			Help: "Total reward claims by result",
		}, []string{"result"}),

		Achievements: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "rewards_achievement_verifications_total",
			Help: "Total achievement verifications by result",
		}, []string{"result"}),

		HarvestsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "rewards_harvests_total",
			Help: "Total successful yield harvests",
		}),

		SlashesTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "rewards_oracle_slashes_total",
			Help: "Total oracle slashing events",
		}),

		RewardsPool: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "rewards_user_pool_balance",
			Help: "Current user rewards pool balance",
		}),

		TotalStaked: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "rewards_total_staked",
			Help: "Total amount currently staked",
		}),

		Paused: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "rewards_protocol_paused",
			Help: "Whether the protocol is paused (1) or running (0)",
		}),
	}
}

// IncrementClaim records a claim outcome.
func (m *Metrics) IncrementClaim(result string) {
	if m != nil {
		m.Claims.WithLabelValues(result).Inc()
	}
}

// IncrementAchievement records an achievement verification outcome.
func (m *Metrics) IncrementAchievement(result string) {
	if m != nil {
		m.Achievements.WithLabelValues(result).Inc()
	}
}

// IncrementHarvest records a successful harvest.
func (m *Metrics) IncrementHarvest() {
	if m != nil {
		m.HarvestsTotal.Inc()
	}
}

// IncrementSlash records an oracle slash.
func (m *Metrics) IncrementSlash() {
	if m != nil {
		m.SlashesTotal.Inc()
	}
}

// SetRewardsPool updates the rewards pool gauge.
func (m *Metrics) SetRewardsPool(v uint64) {
	if m != nil {
		m.RewardsPool.Set(float64(v))
	}
}

// SetTotalStaked updates the total staked gauge.
func (m *Metrics) SetTotalStaked(v uint64) {
	if m != nil {
		m.TotalStaked.Set(float64(v))
	}
}

// SetPaused updates the pause gauge.
func (m *Metrics) SetPaused(paused bool) {
	if m != nil {
		if paused {
			m.Paused.Set(1)
		} else {
			m.Paused.Set(0)
		}
	}
}
