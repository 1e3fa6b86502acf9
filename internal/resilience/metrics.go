package resilience

import "github.com/prometheus/client_golang/prometheus"

// Collectors for the outbound processor circuit. Registered at package load so
// every breaker in the process shares them.
var (
	CircuitState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "outbound_circuit_state",
			Help: "State of the outbound circuit per target: 0=closed, 1=open, 2=half-open.",
		},
		[]string{"target"},
	)
	CircuitTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outbound_circuit_transition_total",
			Help: "Circuit state transitions by target.",
		},
		[]string{"target", "from", "to"},
	)
	CircuitOpenTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outbound_circuit_open_total",
			Help: "Times the circuit for a target tripped open.",
		},
		[]string{"target"},
	)
)

func init() {
	prometheus.MustRegister(CircuitState, CircuitTransitions, CircuitOpenTotal)
}
