package correlation

import (
	"time"

	"github.com/opsgrid/alarmd/internal/domain/alarm"
	"github.com/opsgrid/alarmd/internal/domain/correlation"
)

// Factor weights. Each matched factor contributes its weight (graded for
// dependency, temporal and text factors); the pair score is the average of
// the matched contributions.
const (
	weightHost     = 0.8
	weightService  = 0.7
	weightNetwork  = 0.6
	weightTemporal = 0.5
	weightText     = 0.6
)

type pairScore struct {
	score      float64
	factorType string
}

// scorePair computes the multi-factor correlation score for an alarm pair
// that is already known to fall within the correlation window.
func (a *Analyzer) scorePair(x, y *alarm.Event, textSim float64, window time.Duration) pairScore {
	var sum float64
	var matched int
	best := pairScore{}

	record := func(contribution float64, factorType string) {
		sum += contribution
		matched++
		if contribution > best.score {
			best = pairScore{score: contribution, factorType: factorType}
		}
	}

	if x.Host != "" && x.Host == y.Host {
		record(weightHost, correlation.TypeHostLevel)
	}

	if strength := a.topology.DependencyStrength(x.Service, y.Service); strength > 0 {
		record(weightService*strength, correlation.TypeServiceLevel)
	}

	if seg := NetworkSegment(x.Host); seg != "" && seg == NetworkSegment(y.Host) && x.Host != y.Host {
		record(weightNetwork, correlation.TypeNetworkLevel)
	}

	gap := x.LastOccurrence.Sub(y.LastOccurrence)
	if gap < 0 {
		gap = -gap
	}
	if gap < window {
		proximity := 1 - float64(gap)/float64(window)
		record(weightTemporal*proximity, correlation.TypeTemporal)
	}

	if textSim > a.textSimThreshold {
		record(weightText*textSim, correlation.TypeContent)
	}

	if matched == 0 {
		return pairScore{}
	}
	return pairScore{score: sum / float64(matched), factorType: best.factorType}
}

var severityWeights = map[string]float64{
	alarm.SeverityCritical: 0.3,
	alarm.SeverityHigh:     0.2,
	alarm.SeverityMedium:   0.1,
	alarm.SeverityLow:      0.05,
	alarm.SeverityInfo:     0,
}

var typeWeights = map[string]float64{
	correlation.TypeHostLevel:    0.2,
	correlation.TypeServiceLevel: 0.15,
	correlation.TypeNetworkLevel: 0.1,
	correlation.TypeTemporal:     0.05,
	correlation.TypeContent:      0.05,
}

// rootCauseProbability estimates how likely the primary alarm is the root
// cause of its group.
func rootCauseProbability(primary *alarm.Event, groupType string, hasRelated bool) float64 {
	p := 0.5
	p += severityWeights[primary.Severity]
	p += typeWeights[groupType]
	if hasRelated {
		p += 0.1
	}
	if p > 1 {
		p = 1
	}
	return p
}

var actionChecklists = map[string][]string{
	correlation.TypeHostLevel: {
		"Check host resource utilization (CPU, memory, disk)",
		"Review recent deployments or changes on the host",
		"Inspect system logs for hardware or kernel errors",
	},
	correlation.TypeServiceLevel: {
		"Check upstream service health and dependencies",
		"Review service error rates and latency dashboards",
		"Verify recent configuration or release changes",
	},
	correlation.TypeNetworkLevel: {
		"Check switch and router status for the segment",
		"Verify network link utilization and packet loss",
		"Review recent network configuration changes",
	},
	correlation.TypeTemporal: {
		"Review events and changes around the common time window",
		"Check scheduled jobs and batch workloads",
	},
	correlation.TypeContent: {
		"Compare alarm payloads for a shared failure signature",
		"Check whether a single fault is reported by multiple sources",
	},
}

// recommendedActions returns the per-type checklist, prefixed with an
// urgency marker when the root-cause probability is high.
func recommendedActions(groupType string, probability float64) []string {
	base := actionChecklists[groupType]
	actions := make([]string, 0, len(base)+1)
	switch {
	case probability > 0.7:
		actions = append(actions, "URGENT: investigate the primary alarm first, it is the likely root cause")
	case probability > 0.5:
		actions = append(actions, "High priority: start with the primary alarm")
	}
	return append(actions, base...)
}
