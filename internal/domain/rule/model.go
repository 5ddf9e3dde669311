package rule

import (
	"time"

	"github.com/opsgrid/alarmd/internal/engine/condition"
)

// Group is a priority-ordered container of distribution rules.
// Higher priority groups are evaluated first.
type Group struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Priority  int       `json:"priority"`
	Enabled   bool      `json:"enabled"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DistributionRule routes matching alarms: it can tag them, mutate their
// status, and accumulate notify targets. Rules in a group are evaluated
// by descending priority; StopProcessing ends evaluation for the alarm.
type DistributionRule struct {
	ID         int64           `json:"id"`
	GroupID    int64           `json:"group_id"`
	Name       string          `json:"name"`
	Priority   int             `json:"priority"`
	Conditions *condition.Node `json:"conditions"`
	Actions    Actions         `json:"actions"`
	Enabled    bool            `json:"enabled"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// Actions are the side effects of a matched distribution rule
type Actions struct {
	NotifyUserIDs         []int64           `json:"notify_user_ids,omitempty"`
	NotifyGroupIDs        []int64           `json:"notify_group_ids,omitempty"`
	NotifySubscriberMatch bool              `json:"notify_subscriber_match,omitempty"`
	UpdateStatus          string            `json:"update_status,omitempty"`
	AddTags               map[string]string `json:"add_tags,omitempty"`
	StopProcessing        bool              `json:"stop_processing,omitempty"`
}
