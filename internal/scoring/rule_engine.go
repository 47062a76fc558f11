package scoring

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/frauddetect/fraud-engine/internal/models"
	"github.com/frauddetect/fraud-engine/internal/repositories"
)

// RuleEngine evaluates standard and velocity rules against a transaction
// document. Malformed rule configuration never fails an evaluation: it is
// logged and the rule does not trigger. Errors are returned only for store
// failures during velocity aggregation.
type RuleEngine struct {
	transactions *repositories.TransactionRepository
	now          func() time.Time
}

// NewRuleEngine creates a new rule engine
func NewRuleEngine(transactions *repositories.TransactionRepository) *RuleEngine {
	return &RuleEngine{
		transactions: transactions,
		now:          time.Now,
	}
}

// Evaluate reports whether the rule triggers against the document
func (e *RuleEngine) Evaluate(ctx context.Context, rule *models.Rule, doc map[string]any) (bool, error) {
	switch rule.RuleType {
	case models.RuleTypeStandard:
		return evaluateStandard(rule, doc), nil
	case models.RuleTypeVelocity:
		return e.evaluateVelocity(ctx, rule, doc)
	default:
		log.Warn().
			Str("rule_id", rule.RuleID).
			Str("rule_type", string(rule.RuleType)).
			Msg("Rule type not evaluable against transactions")
		return false, nil
	}
}

func evaluateStandard(rule *models.Rule, doc map[string]any) bool {
	fieldValue, ok := doc[rule.Field]
	if !ok {
		return false
	}

	switch rule.Operator {
	case models.OpEqual:
		return compareEqual(fieldValue, rule.Value)
	case models.OpNotEqual:
		return !compareEqual(fieldValue, rule.Value)
	case models.OpGreaterThan:
		return compareFloat(fieldValue, rule.Value, func(a, b float64) bool { return a > b })
	case models.OpGreaterThanEqual:
		return compareFloat(fieldValue, rule.Value, func(a, b float64) bool { return a >= b })
	case models.OpLowerThan:
		return compareFloat(fieldValue, rule.Value, func(a, b float64) bool { return a < b })
	case models.OpLowerThanEqual:
		return compareFloat(fieldValue, rule.Value, func(a, b float64) bool { return a <= b })
	case models.OpIn:
		list, ok := toList(rule.Value)
		if !ok {
			return false
		}
		return listContains(list, fieldValue)
	case models.OpNotIn:
		list, ok := toList(rule.Value)
		if !ok {
			return false
		}
		return !listContains(list, fieldValue)
	case models.OpContains:
		return strings.Contains(stringify(fieldValue), stringify(rule.Value))
	default:
		log.Warn().
			Str("rule_id", rule.RuleID).
			Str("operator", rule.Operator).
			Msg("Unknown rule operator")
		return false
	}
}

func (e *RuleEngine) evaluateVelocity(ctx context.Context, rule *models.Rule, doc map[string]any) (bool, error) {
	window, err := ParseTimeRange(rule.TimeRange)
	if err != nil {
		log.Warn().
			Err(err).
			Str("rule_id", rule.RuleID).
			Msg("Malformed velocity time range")
		return false, nil
	}
	if !models.ValidAggregation(rule.AggregationFunction) {
		log.Warn().
			Str("rule_id", rule.RuleID).
			Str("aggregation", rule.AggregationFunction).
			Msg("Unknown aggregation function")
		return false, nil
	}

	userID, _ := doc["user_id"].(string)
	if userID == "" {
		return false, nil
	}

	since := e.now().Add(-window)
	value, err := e.transactions.AggregateSince(ctx, userID, rule.Field, rule.AggregationFunction, since)
	if err != nil {
		return false, err
	}
	return value > rule.Threshold, nil
}

// ParseTimeRange converts a "<n> <unit>" window into a duration. Units are
// hour, day, week and month (plural accepted); a month counts as thirty days.
func ParseTimeRange(s string) (time.Duration, error) {
	parts := strings.Fields(s)
	if len(parts) != 2 {
		return 0, fmt.Errorf("time range %q: want \"<n> <unit>\"", s)
	}

	n, err := strconv.Atoi(parts[0])
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("time range %q: count must be a positive integer", s)
	}

	var base time.Duration
	switch strings.TrimSuffix(strings.ToLower(parts[1]), "s") {
	case "hour":
		base = time.Hour
	case "day":
		base = 24 * time.Hour
	case "week":
		base = 7 * 24 * time.Hour
	case "month":
		base = 30 * 24 * time.Hour
	default:
		return 0, fmt.Errorf("time range %q: unknown unit", s)
	}
	return time.Duration(n) * base, nil
}

func compareFloat(a, b interface{}, cmp func(float64, float64) bool) bool {
	aFloat, aOk := toFloat64(a)
	bFloat, bOk := toFloat64(b)
	if !aOk || !bOk {
		return false
	}
	return cmp(aFloat, bFloat)
}

func compareEqual(a, b interface{}) bool {
	// Handle bool comparison
	if aBool, ok := a.(bool); ok {
		if bBool, ok := b.(bool); ok {
			return aBool == bBool
		}
	}
	// Numeric comparison applies only when neither side is a string; a
	// string on either side coerces both to their string forms.
	_, aStr := a.(string)
	_, bStr := b.(string)
	if !aStr && !bStr {
		aFloat, aOk := toFloat64(a)
		bFloat, bOk := toFloat64(b)
		if aOk && bOk {
			return aFloat == bFloat
		}
	}
	return stringify(a) == stringify(b)
}

// toFloat64 coerces numeric values and numeric strings, so a rule stored
// with value "500" still orders against a float amount.
func toFloat64(v interface{}) (float64, bool) {
	switch val := v.(type) {
	case float64:
		return val, true
	case float32:
		return float64(val), true
	case int:
		return float64(val), true
	case int64:
		return float64(val), true
	case int32:
		return float64(val), true
	case json.Number:
		f, err := val.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(val, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func stringify(v interface{}) string {
	return fmt.Sprintf("%v", v)
}

func toList(v any) ([]any, bool) {
	switch list := v.(type) {
	case []any:
		return list, true
	case primitive.A:
		return []any(list), true
	case []string:
		out := make([]any, len(list))
		for i, s := range list {
			out[i] = s
		}
		return out, true
	default:
		return nil, false
	}
}

func listContains(list []any, v any) bool {
	for _, item := range list {
		if compareEqual(item, v) {
			return true
		}
	}
	return false
}
