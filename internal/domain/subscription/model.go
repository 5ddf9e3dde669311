package subscription

import (
	"time"

	"github.com/opsgrid/alarmd/internal/engine/condition"
)

// Subscription is a user's standing request to be notified about matching
// alarms through its contact points, subject to cooldown and an hourly
// rate limit.
type Subscription struct {
	ID                      int64           `json:"id"`
	UserID                  int64           `json:"user_id"`
	Name                    string          `json:"name"`
	Filters                 *condition.Node `json:"filters"`
	ContactPointIDs         []int64         `json:"contact_point_ids"`
	CooldownMinutes         int             `json:"cooldown_minutes"`
	MaxNotificationsPerHour int             `json:"max_notifications_per_hour"`
	Enabled                 bool            `json:"enabled"`

	LastNotificationAt     *time.Time `json:"last_notification_at,omitempty"`
	TotalNotificationsSent int64      `json:"total_notifications_sent"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Contact point channel types
const (
	ChannelEmail   = "email"
	ChannelWebhook = "webhook"
	ChannelSlack   = "slack"
	ChannelSMS     = "sms"
)

// ContactPoint is a configured delivery target behind a channel sender
type ContactPoint struct {
	ID        int64                  `json:"id"`
	UserID    int64                  `json:"user_id"`
	Name      string                 `json:"name"`
	Type      string                 `json:"type"`
	Config    map[string]interface{} `json:"config"`
	Enabled   bool                   `json:"enabled"`
	CreatedAt time.Time              `json:"created_at"`
	UpdatedAt time.Time              `json:"updated_at"`
}
