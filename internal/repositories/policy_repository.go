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
	ErrPolicyNotFound = errors.New("policy not found")
)

// PolicyRepository handles policy persistence
type PolicyRepository struct {
	store store.Store
}

// NewPolicyRepository creates a new policy repository
func NewPolicyRepository(st store.Store) *PolicyRepository {
	return &PolicyRepository{store: st}
}

// Create inserts a new policy, assigning an identifier when absent
func (r *PolicyRepository) Create(ctx context.Context, policy *models.Policy) error {
	if policy.PolicyID == "" {
		policy.PolicyID = uuid.NewString()
	}
	return r.store.InsertOne(ctx, store.CollectionPolicies, policy)
}

// GetByID retrieves a policy by identifier
func (r *PolicyRepository) GetByID(ctx context.Context, policyID string) (*models.Policy, error) {
	policy := &models.Policy{}
	err := r.store.FindOne(ctx, store.CollectionPolicies, bson.M{"policy_id": policyID}, policy)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrPolicyNotFound
		}
		return nil, err
	}
	return policy, nil
}

// Update replaces the definition of a policy
func (r *PolicyRepository) Update(ctx context.Context, policy *models.Policy) error {
	set := bson.M{
		"name":        policy.Name,
		"description": policy.Description,
		"rule_ids":    policy.RuleIDs,
	}

	matched, err := r.store.UpdateOne(ctx, store.CollectionPolicies, bson.M{"policy_id": policy.PolicyID}, set)
	if err != nil {
		return err
	}
	if matched == 0 {
		return ErrPolicyNotFound
	}
	return nil
}

// Delete removes a policy
func (r *PolicyRepository) Delete(ctx context.Context, policyID string) error {
	deleted, err := r.store.DeleteOne(ctx, store.CollectionPolicies, bson.M{"policy_id": policyID})
	if err != nil {
		return err
	}
	if deleted == 0 {
		return ErrPolicyNotFound
	}
	return nil
}

// RemoveRuleRef pulls a rule identifier out of every policy referencing it
func (r *PolicyRepository) RemoveRuleRef(ctx context.Context, ruleID string) error {
	policies, err := r.List(ctx)
	if err != nil {
		return err
	}
	for _, policy := range policies {
		kept := policy.RuleIDs[:0:0]
		for _, id := range policy.RuleIDs {
			if id != ruleID {
				kept = append(kept, id)
			}
		}
		if len(kept) == len(policy.RuleIDs) {
			continue
		}
		policy.RuleIDs = kept
		if err := r.Update(ctx, policy); err != nil {
			return err
		}
	}
	return nil
}

// List retrieves all policies
func (r *PolicyRepository) List(ctx context.Context) ([]*models.Policy, error) {
	cur, err := r.store.Find(ctx, store.CollectionPolicies, bson.M{})
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var policies []*models.Policy
	for cur.Next(ctx) {
		policy := &models.Policy{}
		if err := cur.Decode(policy); err != nil {
			return nil, err
		}
		policies = append(policies, policy)
	}
	if err := cur.Err(); err != nil {
		return nil, err
	}
	return policies, nil
}
