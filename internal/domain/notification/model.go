package notification

import (
	"context"
	"time"
)

// Task status values. State machine:
// pending → sent (terminal) | failed → retry (while retry_count < max)
// → pending (after the sweep re-queues it) → ... → failed (terminal).
const (
	StatusPending = "pending"
	StatusSent    = "sent"
	StatusFailed  = "failed"
	StatusRetry   = "retry"
)

// Task is one notification to deliver: a subscription × alarm × contact
// point, with rendered content and retry bookkeeping.
type Task struct {
	ID             string `json:"id"`
	SubscriptionID int64  `json:"subscription_id"`
	AlarmID        int64  `json:"alarm_id"`
	ContactPointID int64  `json:"contact_point_id"`
	Status         string `json:"status"`
	RetryCount     int    `json:"retry_count"`
	MaxRetries     int    `json:"max_retries"`

	Subject      string `json:"subject,omitempty"`
	Content      string `json:"content,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`

	SentAt    *time.Time `json:"sent_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// Message is the payload handed to a channel sender
type Message struct {
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	Severity  string    `json:"severity"`
	Timestamp time.Time `json:"timestamp"`
}

// Sender is the uniform channel delivery contract. Implementations own
// their delivery timeout; Send returns nil on success.
type Sender interface {
	Send(ctx context.Context, config map[string]interface{}, msg Message) error
	ValidateConfig(config map[string]interface{}) error
}

// Rendered is the output of template rendering
type Rendered struct {
	Subject     string `json:"subject"`
	Content     string `json:"content"`
	HTMLContent string `json:"html_content,omitempty"`
}

// Renderer produces message bodies from an alarm's field map. The dispatch
// pipeline treats rendering as an opaque collaborator.
type Renderer interface {
	Render(fields map[string]interface{}, templateID string) (*Rendered, error)
}
