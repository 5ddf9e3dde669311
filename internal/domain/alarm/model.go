package alarm

import "time"

// Event represents one reported alarm condition
type Event struct {
	ID          int64  `json:"id"`
	Fingerprint string `json:"fingerprint"`

	Source      string `json:"source"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Category    string `json:"category,omitempty"`

	Severity string `json:"severity"`
	Status   string `json:"status"`

	Host        string            `json:"host,omitempty"`
	Service     string            `json:"service,omitempty"`
	Environment string            `json:"environment,omitempty"`
	Tags        map[string]string `json:"tags,omitempty"`

	Count           int        `json:"count"`
	FirstOccurrence time.Time  `json:"first_occurrence"`
	LastOccurrence  time.Time  `json:"last_occurrence"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
	ResolvedAt      *time.Time `json:"resolved_at,omitempty"`
	AcknowledgedAt  *time.Time `json:"acknowledged_at,omitempty"`

	// Dedup/correlation state. IsDuplicate implies ParentAlarmID is set;
	// the parent accumulates this alarm's count.
	IsDuplicate     bool    `json:"is_duplicate"`
	SimilarityScore float64 `json:"similarity_score,omitempty"`
	ParentAlarmID   *int64  `json:"parent_alarm_id,omitempty"`
	CorrelationID   string  `json:"correlation_id,omitempty"`
}

// Alarm severity levels
const (
	SeverityCritical = "critical"
	SeverityHigh     = "high"
	SeverityMedium   = "medium"
	SeverityLow      = "low"
	SeverityInfo     = "info"
)

// Alarm status
const (
	StatusActive       = "active"
	StatusAcknowledged = "acknowledged"
	StatusResolved     = "resolved"
	StatusSuppressed   = "suppressed"
)

// ValidSeverity reports whether s is a known severity level
func ValidSeverity(s string) bool {
	switch s {
	case SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow, SeverityInfo:
		return true
	default:
		return false
	}
}

// ValidStatus reports whether s is a known alarm status
func ValidStatus(s string) bool {
	switch s {
	case StatusActive, StatusAcknowledged, StatusResolved, StatusSuppressed:
		return true
	default:
		return false
	}
}

// FieldMap flattens the alarm into the record shape the condition engine
// evaluates against. Tags are exposed both as a nested map ("tags") and
// as dot-path keys ("tags.<key>").
func (e *Event) FieldMap() map[string]interface{} {
	tags := make(map[string]interface{}, len(e.Tags))
	m := map[string]interface{}{
		"id":          e.ID,
		"fingerprint": e.Fingerprint,
		"source":      e.Source,
		"title":       e.Title,
		"description": e.Description,
		"category":    e.Category,
		"severity":    e.Severity,
		"status":      e.Status,
		"host":        e.Host,
		"service":     e.Service,
		"environment": e.Environment,
		"count":       e.Count,
	}
	for k, v := range e.Tags {
		tags[k] = v
		m["tags."+k] = v
	}
	m["tags"] = tags
	return m
}

// Filter contains alarm listing options
type Filter struct {
	Status      string
	Severity    string
	Host        string
	Service     string
	Fingerprint string
	// NonDuplicate restricts to alarms with is_duplicate = false
	NonDuplicate bool
	Since        *time.Time
}
