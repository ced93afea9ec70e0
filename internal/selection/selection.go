// Package selection implements the best-node scoring algorithm: panic
// override, eligibility filtering, and lowest-score-wins choice with a
// stable tie-break by configuration order.
package selection

import "github.com/nodemesh/meshlb/internal/meshapi"

// Outcome enumerates the result kinds of a selection attempt.
type Outcome string

const (
	OutcomeSelected  Outcome = "selected"
	OutcomePanic     Outcome = "panic"
	OutcomeNoServers Outcome = "no_servers"
)

// Result is the outcome of one selection attempt.
type Result struct {
	Outcome Outcome
	Node    meshapi.NodeConfig
	Panic   meshapi.PanicState
}

// Select runs the algorithm of spec.md §4.4 against a point-in-time
// snapshot. nodes establishes both the eligible-node universe and the
// tie-break order; it is never mutated.
func Select(nodes []meshapi.NodeConfig, status map[string]meshapi.NodeStatus, settings map[string]meshapi.OperatorSettings, panicState meshapi.PanicState) Result {
	if panicState.Enabled {
		return Result{Outcome: OutcomePanic, Panic: panicState}
	}

	var (
		best      meshapi.NodeConfig
		bestScore float64
		found     bool
	)

	for _, node := range nodes {
		st, ok := status[node.Name]
		if !ok || !st.Alive {
			continue
		}
		if settings[node.Name].Maintenance {
			continue
		}
		if st.CurrentUsers >= st.MaxUsers {
			continue
		}

		score := st.PingMS + st.CPULoad*2
		if !found || score < bestScore {
			best = node
			bestScore = score
			found = true
		}
	}

	if !found {
		return Result{Outcome: OutcomeNoServers}
	}
	return Result{Outcome: OutcomeSelected, Node: best}
}
