package scoring

import (
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/frauddetect/fraud-engine/internal/models"
)

// EvaluateGraphPair reports whether a graph rule triggers on a pair of user
// documents. field1 reads from the first document; the right-hand side is
// field2 on the second document when set, otherwise the rule's literal
// value. A side with a missing field never triggers.
func EvaluateGraphPair(rule *models.Rule, a, b map[string]any) bool {
	left, ok := a[rule.Field1]
	if !ok {
		return false
	}

	var right any
	if rule.Field2 != "" {
		right, ok = b[rule.Field2]
		if !ok {
			return false
		}
	} else {
		right = rule.Value
	}

	return applyGraphOperator(rule, left, right)
}

// EvaluateGraphValue reports whether a value-form graph rule (field1 against
// the literal value) triggers on a single document. Rules that compare two
// fields are not evaluable against one document and never trigger.
func EvaluateGraphValue(rule *models.Rule, doc map[string]any) bool {
	if rule.Field2 != "" || rule.Value == nil {
		return false
	}
	left, ok := doc[rule.Field1]
	if !ok {
		return false
	}
	return applyGraphOperator(rule, left, rule.Value)
}

func applyGraphOperator(rule *models.Rule, left, right any) bool {
	switch rule.Operator {
	case models.OpEqual:
		return compareEqual(left, right)
	case models.OpGreaterThan:
		return compareFloat(left, right, func(a, b float64) bool { return a > b })
	case models.OpLowerThan:
		return compareFloat(left, right, func(a, b float64) bool { return a < b })
	case models.OpContains:
		return strings.Contains(stringify(left), stringify(right))
	default:
		log.Warn().
			Str("rule_id", rule.RuleID).
			Str("operator", rule.Operator).
			Msg("Unknown graph rule operator")
		return false
	}
}
