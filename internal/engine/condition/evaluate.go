package condition

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Evaluate evaluates a condition tree against a record. A nil node matches
// everything. Composite nodes short-circuit; leaf evaluation never errors:
// malformed patterns and failed numeric coercions simply evaluate to false.
func Evaluate(n *Node, record map[string]interface{}) bool {
	if n == nil {
		return true
	}

	switch n.Logic {
	case LogicAnd:
		for _, c := range n.Children {
			if !Evaluate(c, record) {
				return false
			}
		}
		return true
	case LogicOr:
		for _, c := range n.Children {
			if Evaluate(c, record) {
				return true
			}
		}
		return false
	case LogicNot:
		if len(n.Children) == 0 {
			return false
		}
		return !Evaluate(n.Children[0], record)
	}

	return evaluateLeaf(n, record)
}

func evaluateLeaf(n *Node, record map[string]interface{}) bool {
	value, found := lookup(record, n.Field)

	switch n.Operator {
	case OpIsNull:
		return !found || value == nil
	case OpIsNotNull:
		return found && value != nil
	}

	if !found || value == nil {
		return false
	}

	switch n.Operator {
	case OpEquals:
		return strings.EqualFold(toString(value), toString(n.Value))
	case OpNotEquals:
		return !strings.EqualFold(toString(value), toString(n.Value))
	case OpContains:
		return strings.Contains(lower(value), lower(n.Value))
	case OpNotContains:
		return !strings.Contains(lower(value), lower(n.Value))
	case OpStartsWith:
		return strings.HasPrefix(lower(value), lower(n.Value))
	case OpEndsWith:
		return strings.HasSuffix(lower(value), lower(n.Value))
	case OpRegex:
		re, err := regexp.Compile(toString(n.Value))
		if err != nil {
			return false
		}
		return re.MatchString(toString(value))
	case OpIn:
		return containsFold(n.Values, value)
	case OpNotIn:
		return !containsFold(n.Values, value)
	case OpGreaterThan, OpGreaterEqual, OpLessThan, OpLessEqual:
		return compareNumeric(n.Operator, value, n.Value)
	case OpBetween:
		if len(n.Values) != 2 {
			return false
		}
		return compareNumeric(OpGreaterEqual, value, n.Values[0]) &&
			compareNumeric(OpLessEqual, value, n.Values[1])
	}

	return false
}

// lookup resolves a dot-path field against the record, descending into
// nested maps. A literal key containing dots wins over path navigation.
func lookup(record map[string]interface{}, field string) (interface{}, bool) {
	if v, ok := record[field]; ok {
		return v, true
	}

	parts := strings.Split(field, ".")
	if len(parts) < 2 {
		return nil, false
	}

	var current interface{} = record
	for _, part := range parts {
		switch m := current.(type) {
		case map[string]interface{}:
			v, ok := m[part]
			if !ok {
				return nil, false
			}
			current = v
		case map[string]string:
			v, ok := m[part]
			if !ok {
				return nil, false
			}
			current = v
		default:
			return nil, false
		}
	}
	return current, true
}

func toString(v interface{}) string {
	switch s := v.(type) {
	case string:
		return s
	case nil:
		return ""
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	default:
		return fmt.Sprintf("%v", v)
	}
}

func lower(v interface{}) string {
	return strings.ToLower(toString(v))
}

func containsFold(values []interface{}, v interface{}) bool {
	s := toString(v)
	for _, candidate := range values {
		if strings.EqualFold(toString(candidate), s) {
			return true
		}
	}
	return false
}

func compareNumeric(op string, left, right interface{}) bool {
	l, ok := toFloat(left)
	if !ok {
		return false
	}
	r, ok := toFloat(right)
	if !ok {
		return false
	}

	switch op {
	case OpGreaterThan:
		return l > r
	case OpGreaterEqual:
		return l >= r
	case OpLessThan:
		return l < r
	case OpLessEqual:
		return l <= r
	}
	return false
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}
