package correlation

// Correlation types, in decreasing structural specificity
const (
	TypeHostLevel    = "host_level"
	TypeServiceLevel = "service_level"
	TypeNetworkLevel = "network_level"
	TypeTemporal     = "temporal"
	TypeContent      = "content"
)

// Group is a cluster of alarms believed to share a root cause. Groups are
// recomputed on every analysis pass and never persisted; consumers read a
// snapshot.
type Group struct {
	PrimaryAlarmID       int64    `json:"primary_alarm_id"`
	RelatedAlarmIDs      []int64  `json:"related_alarm_ids"`
	Type                 string   `json:"correlation_type"`
	Score                float64  `json:"correlation_score"`
	RootCauseProbability float64  `json:"root_cause_probability"`
	RecommendedActions   []string `json:"recommended_actions"`
}
