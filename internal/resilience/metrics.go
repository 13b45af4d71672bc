package resilience

import (
	"errors"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	BreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "breaker_state",
			Help: "Current breaker state: 0=closed,1=open,2=half-open",
		},
		[]string{"target"},
	)
	BreakerTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "breaker_transition_total",
			Help: "Count of breaker state transitions",
		},
		[]string{"target", "from", "to"},
	)
	BreakerOpenedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "breaker_open_total",
			Help: "Number of times a breaker transitioned into open state",
		},
		[]string{"target"},
	)
	HTTPAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_client_attempt_total",
			Help: "Outbound HTTP attempts by target and outcome (success, server_error, error, rejected)",
		},
		[]string{"target", "outcome"},
	)

	registerOnce sync.Once
)

// RegisterMetrics registers the breaker and client collectors once. Passing nil
// uses the default registerer.
func RegisterMetrics(reg prometheus.Registerer) {
	registerOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		for _, c := range []prometheus.Collector{BreakerState, BreakerTransitions, BreakerOpenedTotal, HTTPAttempts} {
			if err := reg.Register(c); err != nil {
				var already prometheus.AlreadyRegisteredError
				if !errors.As(err, &already) {
					panic(err)
				}
			}
		}
	})
}

func recordAttempt(b *Breaker, outcome string) {
	HTTPAttempts.WithLabelValues(b.Target(), outcome).Inc()
}
