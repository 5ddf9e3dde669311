package match

import (
	"context"

	"github.com/opsgrid/alarmd/internal/domain/alarm"
	"github.com/opsgrid/alarmd/internal/domain/rule"
	"github.com/opsgrid/alarmd/internal/engine/condition"
)

// RuleOutcome is the accumulated effect of running the distribution rules
// against one alarm. Tag and status mutations are applied to the event in
// place; Mutated tells the caller it has to persist them.
type RuleOutcome struct {
	NotifyUserIDs     []int64
	NotifyGroupIDs    []int64
	NotifySubscribers bool
	MatchedRuleIDs    []int64
	Mutated           bool
	Stopped           bool
}

// ExecuteRules runs enabled rule groups by descending priority and, within
// each group, rules by descending priority. AddTags and UpdateStatus take
// effect immediately so later rules see the mutated alarm; notify targets
// accumulate across matches. A matching rule with StopProcessing ends
// evaluation entirely.
func (m *Matcher) ExecuteRules(ctx context.Context, e *alarm.Event) (*RuleOutcome, error) {
	groups, err := m.rules.ListEnabledGroups(ctx)
	if err != nil {
		return nil, err
	}

	out := &RuleOutcome{}
	userSet := make(map[int64]bool)
	groupSet := make(map[int64]bool)

	for _, g := range groups {
		rules, err := m.rules.ListEnabledRules(ctx, g.ID)
		if err != nil {
			return nil, err
		}
		for _, r := range rules {
			if !condition.Evaluate(r.Conditions, e.FieldMap()) {
				continue
			}
			out.MatchedRuleIDs = append(out.MatchedRuleIDs, r.ID)
			m.applyActions(e, r, out, userSet, groupSet)
			if r.Actions.StopProcessing {
				out.Stopped = true
				return out, nil
			}
		}
	}
	return out, nil
}

func (m *Matcher) applyActions(e *alarm.Event, r *rule.DistributionRule, out *RuleOutcome, userSet, groupSet map[int64]bool) {
	if len(r.Actions.AddTags) > 0 {
		if e.Tags == nil {
			e.Tags = make(map[string]string, len(r.Actions.AddTags))
		}
		for k, v := range r.Actions.AddTags {
			e.Tags[k] = v
		}
		out.Mutated = true
	}

	if s := r.Actions.UpdateStatus; s != "" && alarm.ValidStatus(s) && e.Status != s {
		e.Status = s
		out.Mutated = true
	}

	for _, id := range r.Actions.NotifyUserIDs {
		if !userSet[id] {
			userSet[id] = true
			out.NotifyUserIDs = append(out.NotifyUserIDs, id)
		}
	}
	for _, id := range r.Actions.NotifyGroupIDs {
		if !groupSet[id] {
			groupSet[id] = true
			out.NotifyGroupIDs = append(out.NotifyGroupIDs, id)
		}
	}
	if r.Actions.NotifySubscriberMatch {
		out.NotifySubscribers = true
	}
}
