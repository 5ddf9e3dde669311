package rule

import "context"

// Repository defines the interface for distribution rule data access
type Repository interface {
	// ListEnabledGroups retrieves enabled rule groups ordered by
	// descending priority
	ListEnabledGroups(ctx context.Context) ([]*Group, error)

	// ListEnabledRules retrieves enabled rules for a group ordered by
	// descending priority
	ListEnabledRules(ctx context.Context, groupID int64) ([]*DistributionRule, error)

	// CreateGroup creates a rule group
	CreateGroup(ctx context.Context, g *Group) (int64, error)

	// CreateRule creates a distribution rule; conditions must already be
	// validated by the caller
	CreateRule(ctx context.Context, r *DistributionRule) (int64, error)
}
