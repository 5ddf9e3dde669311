package suppression

import (
	"fmt"
	"time"

	"github.com/opsgrid/alarmd/internal/engine/condition"
)

// Rule types
const (
	TypeManual      = "manual"
	TypeMaintenance = "maintenance"
	TypeDependency  = "dependency"
	TypeSchedule    = "schedule"
	TypeConditional = "conditional"
	TypeCascade     = "cascade"
)

// Rule status
const (
	StatusActive    = "active"
	StatusExpired   = "expired"
	StatusCancelled = "cancelled"
	StatusPaused    = "paused"
)

// Match modes for field matchers
const (
	MatchExact    = "exact"
	MatchRegex    = "regex"
	MatchWildcard = "wildcard"
	MatchTags     = "tags"
)

// MaintenancePriority is the priority assigned to rules synthesized from
// maintenance windows. It is the highest priority so maintenance always
// wins ties.
const MaintenancePriority = 1

// ShortCircuitPriority is the priority at or below which the first match
// ends rule evaluation.
const ShortCircuitPriority = 10

// Rule suppresses matching alarms while its time gate is open. Exactly one
// Conditions variant is populated, matching Type.
type Rule struct {
	ID         int64      `json:"id"`
	Name       string     `json:"name" validate:"required"`
	Type       string     `json:"type" validate:"required,oneof=manual maintenance dependency schedule conditional cascade"`
	Conditions Conditions `json:"conditions"`
	Status     string     `json:"status" validate:"required,oneof=active expired cancelled paused"`
	StartTime  time.Time  `json:"start_time"`
	// EndTime nil means open-ended
	EndTime      *time.Time  `json:"end_time,omitempty"`
	IsRecurring  bool        `json:"is_recurring"`
	Recurrence   *Recurrence `json:"recurrence_pattern,omitempty"`
	Priority     int         `json:"priority" validate:"gte=1"`
	ActionConfig Action      `json:"action_config"`

	SuppressedCount int64      `json:"suppressed_count"`
	LastMatch       *time.Time `json:"last_match,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Action describes what a matching rule does to the alarm
type Action struct {
	// SetStatus is the status applied to suppressed alarms; defaults to
	// "suppressed"
	SetStatus string `json:"set_status,omitempty"`
	// Notify, when true, still creates notifications for the suppressed
	// alarm (audit-style suppression)
	Notify bool `json:"notify,omitempty"`
	// Reason overrides the generated suppression reason
	Reason string `json:"reason,omitempty"`
}

// Conditions is the discriminated per-type variant. Validate enforces that
// exactly the variant matching the rule type is set.
type Conditions struct {
	Manual      *FieldMatcher          `json:"manual,omitempty"`
	Maintenance *MaintenanceConditions `json:"maintenance,omitempty"`
	Dependency  *DependencyConditions  `json:"dependency,omitempty"`
	Schedule    *FieldMatcher          `json:"schedule,omitempty"`
	Conditional *ConditionalConditions `json:"conditional,omitempty"`
	Cascade     *CascadeConditions     `json:"cascade,omitempty"`
}

// FieldMatcher matches alarm fields by one of the supported modes.
// Fields values may be a scalar or a list (list membership).
type FieldMatcher struct {
	Mode   string                 `json:"mode"`
	Fields map[string]interface{} `json:"fields,omitempty"`
	Tags   map[string]string      `json:"tags,omitempty"`
}

// MaintenanceConditions scope a maintenance window to systems, services
// and hosts. SuppressAll ignores the scoping lists; SeverityFilter, when
// set, limits suppression to the listed severities.
type MaintenanceConditions struct {
	Systems        []string `json:"systems,omitempty"`
	Services       []string `json:"services,omitempty"`
	Hosts          []string `json:"hosts,omitempty"`
	SuppressAll    bool     `json:"suppress_all,omitempty"`
	SeverityFilter []string `json:"severity_filter,omitempty"`
}

// DependencyConditions suppress alarms from resources that depend on a
// parent known to be down.
type DependencyConditions struct {
	ParentHost        string   `json:"parent_host,omitempty"`
	ParentService     string   `json:"parent_service,omitempty"`
	DependentHosts    []string `json:"dependent_hosts,omitempty"`
	DependentServices []string `json:"dependent_services,omitempty"`
}

// CascadeConditions suppress transitively: any alarm whose host or service
// appears as a dependent of a down parent in the declared map.
type CascadeConditions struct {
	// DependencyMap maps a parent resource to the resources that go down
	// with it
	DependencyMap map[string][]string `json:"dependency_map"`
	DownParents   []string            `json:"down_parents,omitempty"`
}

// ConditionalConditions carry a condition tree. Raw holds the stored
// loosely-typed shape; Node is the parsed form populated at load time.
type ConditionalConditions struct {
	Raw  map[string]interface{} `json:"expression"`
	Node *condition.Node        `json:"-"`
}

// Recurrence types
const (
	RecurrenceCron    = "cron"
	RecurrenceDaily   = "daily"
	RecurrenceWeekly  = "weekly"
	RecurrenceMonthly = "monthly"
	RecurrenceYearly  = "yearly"
)

// Recurrence describes a repeating active window. Cron recurrences use
// Expression; calendar recurrences use the explicit lists plus one or more
// time-of-day ranges.
type Recurrence struct {
	Type       string      `json:"type" validate:"required,oneof=cron daily weekly monthly yearly"`
	Expression string      `json:"expression,omitempty"`
	Days       []int       `json:"days,omitempty"`     // day of month, 1-31
	Weekdays   []int       `json:"weekdays,omitempty"` // 0 = Sunday
	Months     []int       `json:"months,omitempty"`   // 1-12
	TimeRanges []TimeRange `json:"time_ranges,omitempty"`
}

// TimeRange is a time-of-day window in "HH:MM" form. Ranges may wrap
// midnight (Start > End).
type TimeRange struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// Log records one applied suppression. Written asynchronously so
// persistence never delays the suppression decision.
type Log struct {
	ID            string                 `json:"id"`
	RuleID        int64                  `json:"rule_id"`
	AlarmID       int64                  `json:"alarm_id"`
	MatchedFields map[string]interface{} `json:"matched_fields,omitempty"`
	CreatedAt     time.Time              `json:"created_at"`
}

// MaintenanceWindow is the user-facing maintenance declaration. Creating
// one synthesizes exactly one maintenance Rule at MaintenancePriority.
type MaintenanceWindow struct {
	ID                  int64       `json:"id"`
	Name                string      `json:"name" validate:"required"`
	StartTime           time.Time   `json:"start_time"`
	EndTime             time.Time   `json:"end_time"`
	IsRecurring         bool        `json:"is_recurring"`
	Recurrence          *Recurrence `json:"recurrence,omitempty"`
	AffectedSystems     []string    `json:"affected_systems,omitempty"`
	AffectedServices    []string    `json:"affected_services,omitempty"`
	AffectedHosts       []string    `json:"affected_hosts,omitempty"`
	SuppressAll         bool        `json:"suppress_all"`
	SeverityFilter      []string    `json:"severity_filter,omitempty"`
	NotifyBeforeMinutes int         `json:"notify_before_minutes,omitempty"`
	RuleID              int64       `json:"rule_id,omitempty"`
	CreatedAt           time.Time   `json:"created_at"`
}

// Validate checks the structural invariant: exactly one conditions variant,
// matching the declared type.
func (r *Rule) Validate() error {
	if r.Priority < 1 {
		return fmt.Errorf("priority must be >= 1")
	}

	set := 0
	var matches bool
	check := func(present bool, typ string) {
		if present {
			set++
			if r.Type == typ {
				matches = true
			}
		}
	}
	check(r.Conditions.Manual != nil, TypeManual)
	check(r.Conditions.Maintenance != nil, TypeMaintenance)
	check(r.Conditions.Dependency != nil, TypeDependency)
	check(r.Conditions.Schedule != nil, TypeSchedule)
	check(r.Conditions.Conditional != nil, TypeConditional)
	check(r.Conditions.Cascade != nil, TypeCascade)

	if set != 1 {
		return fmt.Errorf("rule %q must set exactly one conditions variant, got %d", r.Name, set)
	}
	if !matches {
		return fmt.Errorf("rule %q conditions variant does not match type %q", r.Name, r.Type)
	}

	if fm := r.Conditions.Manual; fm != nil {
		if err := fm.validate(); err != nil {
			return err
		}
	}
	if fm := r.Conditions.Schedule; fm != nil && fm.Mode != "" {
		if err := fm.validate(); err != nil {
			return err
		}
	}
	if r.IsRecurring && r.Recurrence == nil {
		return fmt.Errorf("rule %q is recurring but has no recurrence pattern", r.Name)
	}
	return nil
}

func (m *FieldMatcher) validate() error {
	switch m.Mode {
	case MatchExact, MatchRegex, MatchWildcard:
		if len(m.Fields) == 0 {
			return fmt.Errorf("%s matcher requires fields", m.Mode)
		}
	case MatchTags:
		if len(m.Tags) == 0 {
			return fmt.Errorf("tags matcher requires tags")
		}
	default:
		return fmt.Errorf("unknown match mode %q", m.Mode)
	}
	return nil
}
