package subscription

import (
	"context"
	"time"
)

// Repository defines the interface for subscription data access
type Repository interface {
	// Create creates a subscription; filters must already be validated
	Create(ctx context.Context, s *Subscription) (int64, error)

	// ListEnabled retrieves all enabled subscriptions
	ListEnabled(ctx context.Context) ([]*Subscription, error)

	// RecordNotification updates last_notification_at and increments
	// total_notifications_sent
	RecordNotification(ctx context.Context, id int64, at time.Time) error

	// GetContactPoint retrieves a contact point by ID
	GetContactPoint(ctx context.Context, id int64) (*ContactPoint, error)

	// CreateContactPoint creates a contact point
	CreateContactPoint(ctx context.Context, cp *ContactPoint) (int64, error)

	// ListContactPointsByUser retrieves a user's enabled contact points.
	// Distribution rules that notify users directly resolve their
	// delivery targets through this.
	ListContactPointsByUser(ctx context.Context, userID int64) ([]*ContactPoint, error)

	// ListGroupMembers retrieves the user IDs belonging to a
	// notification group
	ListGroupMembers(ctx context.Context, groupID int64) ([]int64, error)

	// AddGroupMember adds a user to a notification group
	AddGroupMember(ctx context.Context, groupID, userID int64) error
}
