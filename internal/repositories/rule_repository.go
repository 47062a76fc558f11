package repositories

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/frauddetect/fraud-engine/internal/models"
	"github.com/frauddetect/fraud-engine/internal/store"
)

var (
	ErrRuleNotFound = errors.New("rule not found")
)

// RuleRepository handles rule persistence. Standard, velocity and graph
// rules share one collection, discriminated by rule_type.
type RuleRepository struct {
	store store.Store
}

// NewRuleRepository creates a new rule repository
func NewRuleRepository(st store.Store) *RuleRepository {
	return &RuleRepository{store: st}
}

// Create inserts a new rule, assigning an identifier when absent
func (r *RuleRepository) Create(ctx context.Context, rule *models.Rule) error {
	if rule.RuleID == "" {
		rule.RuleID = uuid.NewString()
	}
	return r.store.InsertOne(ctx, store.CollectionRules, rule)
}

// GetByID retrieves a rule by identifier
func (r *RuleRepository) GetByID(ctx context.Context, ruleID string) (*models.Rule, error) {
	rule := &models.Rule{}
	err := r.store.FindOne(ctx, store.CollectionRules, bson.M{"rule_id": ruleID}, rule)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrRuleNotFound
		}
		return nil, err
	}
	return rule, nil
}

// GetByIDs retrieves every rule whose identifier is in ids. Missing
// identifiers are skipped rather than reported.
func (r *RuleRepository) GetByIDs(ctx context.Context, ids []string) ([]*models.Rule, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	return r.list(ctx, bson.M{"rule_id": bson.M{"$in": ids}})
}

// Update replaces the definition of a rule
func (r *RuleRepository) Update(ctx context.Context, rule *models.Rule) error {
	set := bson.M{
		"rule_type":            rule.RuleType,
		"name":                 rule.Name,
		"description":          rule.Description,
		"risk_point":           rule.RiskPoint,
		"field":                rule.Field,
		"operator":             rule.Operator,
		"value":                rule.Value,
		"time_range":           rule.TimeRange,
		"aggregation_function": rule.AggregationFunction,
		"threshold":            rule.Threshold,
		"field1":               rule.Field1,
		"field2":               rule.Field2,
	}

	matched, err := r.store.UpdateOne(ctx, store.CollectionRules, bson.M{"rule_id": rule.RuleID}, set)
	if err != nil {
		return err
	}
	if matched == 0 {
		return ErrRuleNotFound
	}
	return nil
}

// Delete removes a rule
func (r *RuleRepository) Delete(ctx context.Context, ruleID string) error {
	deleted, err := r.store.DeleteOne(ctx, store.CollectionRules, bson.M{"rule_id": ruleID})
	if err != nil {
		return err
	}
	if deleted == 0 {
		return ErrRuleNotFound
	}
	return nil
}

// List retrieves all rules, optionally restricted to one rule type
func (r *RuleRepository) List(ctx context.Context, ruleType models.RuleType) ([]*models.Rule, error) {
	filter := bson.M{}
	if ruleType != "" {
		filter["rule_type"] = ruleType
	}
	return r.list(ctx, filter)
}

func (r *RuleRepository) list(ctx context.Context, filter bson.M) ([]*models.Rule, error) {
	cur, err := r.store.Find(ctx, store.CollectionRules, filter)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var rules []*models.Rule
	for cur.Next(ctx) {
		rule := &models.Rule{}
		if err := cur.Decode(rule); err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	if err := cur.Err(); err != nil {
		return nil, err
	}
	return rules, nil
}
