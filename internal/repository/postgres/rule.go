package postgres

import (
	"context"
	"time"

	"github.com/opsgrid/alarmd/internal/domain/rule"
	"github.com/opsgrid/alarmd/internal/engine/condition"
	"github.com/opsgrid/alarmd/internal/pkg/errors"
	"github.com/opsgrid/alarmd/internal/pkg/logger"
)

type RuleRepository struct {
	db  *DB
	log *logger.Logger
}

func NewRuleRepository(db *DB, log *logger.Logger) rule.Repository {
	return &RuleRepository{db: db, log: log}
}

func (r *RuleRepository) ListEnabledGroups(ctx context.Context) ([]*rule.Group, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, name, priority, enabled, created_at, updated_at
		FROM rule_groups WHERE enabled = ? ORDER BY priority DESC, id ASC`, true)
	if err != nil {
		return nil, errors.DatabaseError("Failed to list rule groups", err)
	}
	defer rows.Close()

	var out []*rule.Group
	for rows.Next() {
		var g rule.Group
		var createdAt, updatedAt string
		if err := rows.Scan(&g.ID, &g.Name, &g.Priority, &g.Enabled, &createdAt, &updatedAt); err != nil {
			return nil, errors.DatabaseError("Failed to scan rule group", err)
		}
		g.CreatedAt = parseTime(createdAt)
		g.UpdatedAt = parseTime(updatedAt)
		out = append(out, &g)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.DatabaseError("Failed to iterate rule groups", err)
	}
	return out, nil
}

func (r *RuleRepository) ListEnabledRules(ctx context.Context, groupID int64) ([]*rule.DistributionRule, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, group_id, name, priority, conditions, actions, enabled, created_at, updated_at
		FROM distribution_rules WHERE group_id = ? AND enabled = ?
		ORDER BY priority DESC, id ASC`, groupID, true)
	if err != nil {
		return nil, errors.DatabaseError("Failed to list distribution rules", err)
	}
	defer rows.Close()

	var out []*rule.DistributionRule
	for rows.Next() {
		var dr rule.DistributionRule
		var conditions, actions, createdAt, updatedAt string
		if err := rows.Scan(&dr.ID, &dr.GroupID, &dr.Name, &dr.Priority,
			&conditions, &actions, &dr.Enabled, &createdAt, &updatedAt); err != nil {
			return nil, errors.DatabaseError("Failed to scan distribution rule", err)
		}
		if conditions != "" {
			node, err := condition.ParseJSON([]byte(conditions))
			if err != nil {
				// Fail closed per rule: a malformed stored condition drops
				// that rule from the listing, never the whole listing.
				r.log.WithFields(map[string]interface{}{
					"rule_id":   dr.ID,
					"rule_name": dr.Name,
				}).WithError(err).Warn("Skipping distribution rule with invalid conditions")
				continue
			}
			dr.Conditions = node
		}
		if err := decodeJSON(actions, &dr.Actions); err != nil {
			r.log.WithFields(map[string]interface{}{
				"rule_id":   dr.ID,
				"rule_name": dr.Name,
			}).WithError(err).Warn("Skipping distribution rule with invalid actions")
			continue
		}
		dr.CreatedAt = parseTime(createdAt)
		dr.UpdatedAt = parseTime(updatedAt)
		out = append(out, &dr)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.DatabaseError("Failed to iterate distribution rules", err)
	}
	return out, nil
}

func (r *RuleRepository) CreateGroup(ctx context.Context, g *rule.Group) (int64, error) {
	now := time.Now()
	g.CreatedAt = now
	g.UpdatedAt = now

	id, err := r.db.InsertID(ctx, `
		INSERT INTO rule_groups (name, priority, enabled, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)`,
		g.Name, g.Priority, g.Enabled, timeStr(now), timeStr(now))
	if err != nil {
		return 0, errors.DatabaseError("Failed to create rule group", err)
	}
	g.ID = id
	return id, nil
}

func (r *RuleRepository) CreateRule(ctx context.Context, dr *rule.DistributionRule) (int64, error) {
	now := time.Now()
	dr.CreatedAt = now
	dr.UpdatedAt = now

	conditions, err := encodeJSON(dr.Conditions)
	if err != nil {
		return 0, errors.DatabaseError("Failed to encode rule conditions", err)
	}
	actions, err := encodeJSON(dr.Actions)
	if err != nil {
		return 0, errors.DatabaseError("Failed to encode rule actions", err)
	}

	id, err := r.db.InsertID(ctx, `
		INSERT INTO distribution_rules (group_id, name, priority, conditions, actions, enabled, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		dr.GroupID, dr.Name, dr.Priority, conditions, actions, dr.Enabled,
		timeStr(now), timeStr(now))
	if err != nil {
		return 0, errors.DatabaseError("Failed to create distribution rule", err)
	}
	dr.ID = id
	return id, nil
}
