package suppression

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/opsgrid/alarmd/internal/domain/alarm"
	"github.com/opsgrid/alarmd/internal/domain/suppression"
	"github.com/opsgrid/alarmd/internal/engine/condition"
)

// ruleMatches applies the rule's type-specific matcher to an alarm whose
// time gate is already known to be open. Matcher faults (bad regex, bad
// glob) fail closed: the rule does not match.
func ruleMatches(r *suppression.Rule, e *alarm.Event, fields map[string]interface{}) bool {
	switch r.Type {
	case suppression.TypeManual:
		return fieldMatcherMatches(r.Conditions.Manual, e, fields)
	case suppression.TypeMaintenance:
		return maintenanceMatches(r.Conditions.Maintenance, e)
	case suppression.TypeDependency:
		return dependencyMatches(r.Conditions.Dependency, e)
	case suppression.TypeCascade:
		return cascadeMatches(r.Conditions.Cascade, e)
	case suppression.TypeSchedule:
		// Schedule rules suppress everything in their window unless
		// further scoped by a field matcher.
		if r.Conditions.Schedule == nil || r.Conditions.Schedule.Mode == "" {
			return true
		}
		return fieldMatcherMatches(r.Conditions.Schedule, e, fields)
	case suppression.TypeConditional:
		c := r.Conditions.Conditional
		if c == nil || c.Node == nil {
			return false
		}
		return condition.Evaluate(c.Node, fields)
	default:
		return false
	}
}

func fieldMatcherMatches(m *suppression.FieldMatcher, e *alarm.Event, fields map[string]interface{}) bool {
	if m == nil {
		return false
	}

	if m.Mode == suppression.MatchTags {
		return tagsSubset(m.Tags, e.Tags)
	}

	if len(m.Fields) == 0 {
		return false
	}
	for field, expected := range m.Fields {
		value, ok := fields[field]
		if !ok || value == nil {
			return false
		}
		if !valueMatches(m.Mode, stringValue(value), expected) {
			return false
		}
	}
	return true
}

func valueMatches(mode, value string, expected interface{}) bool {
	// A list of expected values matches on membership.
	if list, ok := expected.([]interface{}); ok {
		for _, candidate := range list {
			if valueMatches(mode, value, candidate) {
				return true
			}
		}
		return false
	}

	want := stringValue(expected)
	switch mode {
	case suppression.MatchExact:
		return strings.EqualFold(value, want)
	case suppression.MatchRegex:
		re, err := regexp.Compile(want)
		if err != nil {
			return false
		}
		return re.MatchString(value)
	case suppression.MatchWildcard:
		re, err := regexp.Compile(globToRegex(want))
		if err != nil {
			return false
		}
		return re.MatchString(strings.ToLower(value))
	default:
		return false
	}
}

// globToRegex translates a shell-style glob into an anchored,
// case-insensitive regular expression.
func globToRegex(glob string) string {
	var b strings.Builder
	b.WriteString("^")
	for _, r := range strings.ToLower(glob) {
		switch r {
		case '*':
			b.WriteString(".*")
		case '?':
			b.WriteString(".")
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	b.WriteString("$")
	return b.String()
}

// tagsSubset reports whether all wanted tags appear on the alarm with the
// same value.
func tagsSubset(want map[string]string, have map[string]string) bool {
	if len(want) == 0 {
		return false
	}
	for k, v := range want {
		actual, ok := have[k]
		if !ok || !strings.EqualFold(actual, v) {
			return false
		}
	}
	return true
}

func maintenanceMatches(m *suppression.MaintenanceConditions, e *alarm.Event) bool {
	if m == nil {
		return false
	}

	if len(m.SeverityFilter) > 0 && !containsFold(m.SeverityFilter, e.Severity) {
		return false
	}

	if m.SuppressAll {
		return true
	}

	if containsFold(m.Hosts, e.Host) {
		return true
	}
	if containsFold(m.Services, e.Service) {
		return true
	}
	if containsFold(m.Systems, e.Environment) || containsFold(m.Systems, e.Tags["system"]) {
		return true
	}
	return false
}

func dependencyMatches(d *suppression.DependencyConditions, e *alarm.Event) bool {
	if d == nil {
		return false
	}
	// The alarm's own parent resource is never suppressed by its own rule.
	if e.Host != "" && strings.EqualFold(e.Host, d.ParentHost) {
		return false
	}
	if e.Service != "" && strings.EqualFold(e.Service, d.ParentService) {
		return false
	}
	return containsFold(d.DependentHosts, e.Host) || containsFold(d.DependentServices, e.Service)
}

// cascadeMatches walks the declared dependency map transitively from each
// down parent and suppresses alarms on any resource reached.
func cascadeMatches(c *suppression.CascadeConditions, e *alarm.Event) bool {
	if c == nil || len(c.DependencyMap) == 0 || len(c.DownParents) == 0 {
		return false
	}

	affected := make(map[string]bool)
	queue := append([]string(nil), c.DownParents...)
	for len(queue) > 0 {
		parent := queue[0]
		queue = queue[1:]
		for _, child := range c.DependencyMap[parent] {
			key := strings.ToLower(child)
			if !affected[key] {
				affected[key] = true
				queue = append(queue, child)
			}
		}
	}

	// The down parent itself still alerts; only dependents are cascaded.
	if e.Host != "" && affected[strings.ToLower(e.Host)] {
		return true
	}
	if e.Service != "" && affected[strings.ToLower(e.Service)] {
		return true
	}
	return false
}

func containsFold(list []string, v string) bool {
	if v == "" {
		return false
	}
	for _, candidate := range list {
		if strings.EqualFold(candidate, v) {
			return true
		}
	}
	return false
}

func stringValue(v interface{}) string {
	switch s := v.(type) {
	case string:
		return s
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", v)
	}
}
