// Package metrics exposes prometheus instruments for the distribution engine.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/shopspring/decimal"
)

var (
	promClaims = promauto.NewCounterVec(prometheus.CounterOpts{
		Subsystem: "ubi",
		Name:      "claims_total",
		Help:      "Claim attempts by outcome.",
	}, []string{"result"})
	promClaimedAmount = promauto.NewCounter(prometheus.CounterOpts{
		Subsystem: "ubi",
		Name:      "claimed_amount_total",
		Help:      "Sum of committed claim amounts.",
	})
	promClaimDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Subsystem: "ubi",
		Name:      "claim_duration_seconds",
		Buckets:   prometheus.DefBuckets,
	})
	promPoolsFunded = promauto.NewCounter(prometheus.CounterOpts{
		Subsystem: "ubi",
		Name:      "pools_funded_total",
	})
	promFundedAmount = promauto.NewCounter(prometheus.CounterOpts{
		Subsystem: "ubi",
		Name:      "funded_amount_total",
	})
	promPoolsClosed = promauto.NewCounter(prometheus.CounterOpts{
		Subsystem: "ubi",
		Name:      "pools_closed_total",
	})
	promReturned = promauto.NewCounter(prometheus.CounterOpts{
		Subsystem: "ubi",
		Name:      "returned_to_treasury_total",
	})
	promCurrentCycle = promauto.NewGauge(prometheus.GaugeOpts{
		Subsystem: "ubi",
		Name:      "current_cycle",
	})
	promDiscrepancies = promauto.NewGauge(prometheus.GaugeOpts{
		Subsystem: "ubi",
		Name:      "reconciliation_discrepancies",
		Help:      "Discrepancies found by the most recent reconciliation run.",
	})
)

// ClaimSucceeded is the result label for committed claims.
const ClaimSucceeded = "ok"

// ObserveClaim records a claim attempt. result is ClaimSucceeded or an error kind.
func ObserveClaim(result string, amount decimal.Decimal, took time.Duration) {
	promClaims.WithLabelValues(result).Inc()
	promClaimDuration.Observe(took.Seconds())
	if result == ClaimSucceeded {
		promClaimedAmount.Add(amount.InexactFloat64())
	}
}

func PoolFunded(amount decimal.Decimal) {
	promPoolsFunded.Inc()
	promFundedAmount.Add(amount.InexactFloat64())
}

func PoolsClosed(n int, returned decimal.Decimal) {
	promPoolsClosed.Add(float64(n))
	promReturned.Add(returned.InexactFloat64())
}

func SetCurrentCycle(cycle int) {
	promCurrentCycle.Set(float64(cycle))
}

func SetDiscrepancies(n int) {
	promDiscrepancies.Set(float64(n))
}
