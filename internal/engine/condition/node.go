// Package condition evaluates boolean expression trees against an alarm's
// field map. Trees arrive from configuration as loosely-typed JSON; Parse
// converts them once, at rule-load time, into a closed Node union and
// rejects malformed shapes there rather than at evaluation time.
package condition

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Logic connectives for composite nodes
const (
	LogicAnd = "AND"
	LogicOr  = "OR"
	LogicNot = "NOT"
)

// Leaf operators
const (
	OpEquals       = "equals"
	OpNotEquals    = "not_equals"
	OpContains     = "contains"
	OpNotContains  = "not_contains"
	OpStartsWith   = "starts_with"
	OpEndsWith     = "ends_with"
	OpRegex        = "regex"
	OpIn           = "in"
	OpNotIn        = "not_in"
	OpGreaterThan  = "greater_than"
	OpGreaterEqual = "greater_equal"
	OpLessThan     = "less_than"
	OpLessEqual    = "less_equal"
	OpBetween      = "between"
	OpIsNull       = "is_null"
	OpIsNotNull    = "is_not_null"
)

// Node is one node of a condition tree: either a leaf comparison
// (Field/Operator/Value) or a composite (Logic/Children). Exactly one of
// the two forms is populated; Parse enforces this.
type Node struct {
	// Leaf form
	Field    string        `json:"field,omitempty"`
	Operator string        `json:"operator,omitempty"`
	Value    interface{}   `json:"value,omitempty"`
	Values   []interface{} `json:"values,omitempty"`

	// Composite form
	Logic    string  `json:"logic,omitempty"`
	Children []*Node `json:"children,omitempty"`
}

// IsLeaf reports whether the node is a leaf comparison
func (n *Node) IsLeaf() bool {
	return n.Logic == ""
}

var validOperators = map[string]bool{
	OpEquals: true, OpNotEquals: true,
	OpContains: true, OpNotContains: true,
	OpStartsWith: true, OpEndsWith: true,
	OpRegex: true, OpIn: true, OpNotIn: true,
	OpGreaterThan: true, OpGreaterEqual: true,
	OpLessThan: true, OpLessEqual: true,
	OpBetween: true, OpIsNull: true, OpIsNotNull: true,
}

// Parse converts a loosely-typed condition map into a validated Node tree
func Parse(raw map[string]interface{}) (*Node, error) {
	if raw == nil {
		return nil, fmt.Errorf("condition is empty")
	}

	if logic, ok := raw["logic"].(string); ok && logic != "" {
		return parseComposite(logic, raw)
	}

	return parseLeaf(raw)
}

// ParseJSON parses a JSON-encoded condition tree
func ParseJSON(data []byte) (*Node, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("condition is empty")
	}
	var raw map[string]interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("invalid condition JSON: %w", err)
	}
	return Parse(raw)
}

func parseComposite(logic string, raw map[string]interface{}) (*Node, error) {
	logic = strings.ToUpper(logic)
	if logic != LogicAnd && logic != LogicOr && logic != LogicNot {
		return nil, fmt.Errorf("unknown logic %q", logic)
	}

	rawChildren, ok := raw["children"].([]interface{})
	if !ok && raw["children"] != nil {
		return nil, fmt.Errorf("children of %s must be a list", logic)
	}

	node := &Node{Logic: logic}
	for i, rc := range rawChildren {
		childMap, ok := rc.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("child %d of %s is not an object", i, logic)
		}
		child, err := Parse(childMap)
		if err != nil {
			return nil, fmt.Errorf("child %d of %s: %w", i, logic, err)
		}
		node.Children = append(node.Children, child)
	}

	if logic == LogicNot && len(node.Children) == 0 {
		return nil, fmt.Errorf("NOT requires a child")
	}

	return node, nil
}

func parseLeaf(raw map[string]interface{}) (*Node, error) {
	field, _ := raw["field"].(string)
	operator, _ := raw["operator"].(string)

	if field == "" {
		return nil, fmt.Errorf("leaf condition is missing field")
	}
	operator = strings.ToLower(operator)
	if !validOperators[operator] {
		return nil, fmt.Errorf("unknown operator %q on field %q", operator, field)
	}

	node := &Node{
		Field:    field,
		Operator: operator,
		Value:    raw["value"],
	}
	if vs, ok := raw["values"].([]interface{}); ok {
		node.Values = vs
	}

	switch operator {
	case OpIn, OpNotIn:
		if len(node.Values) == 0 {
			return nil, fmt.Errorf("%s on field %q requires values", operator, field)
		}
	case OpBetween:
		if len(node.Values) != 2 {
			return nil, fmt.Errorf("between on field %q requires exactly two values", field)
		}
	case OpIsNull, OpIsNotNull:
		// no value required
	default:
		if node.Value == nil {
			return nil, fmt.Errorf("%s on field %q requires a value", operator, field)
		}
	}

	return node, nil
}

// And builds an AND composite over the given children
func And(children ...*Node) *Node { return &Node{Logic: LogicAnd, Children: children} }

// Or builds an OR composite over the given children
func Or(children ...*Node) *Node { return &Node{Logic: LogicOr, Children: children} }

// Not negates the given child
func Not(child *Node) *Node { return &Node{Logic: LogicNot, Children: []*Node{child}} }

// Leaf builds a leaf comparison
func Leaf(field, operator string, value interface{}) *Node {
	return &Node{Field: field, Operator: operator, Value: value}
}
