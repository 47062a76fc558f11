package scoring

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/frauddetect/fraud-engine/internal/metrics"
	"github.com/frauddetect/fraud-engine/internal/models"
	"github.com/frauddetect/fraud-engine/internal/queue"
	"github.com/frauddetect/fraud-engine/internal/repositories"
)

// EventPublisher pushes scoring events onto the stats stream
type EventPublisher interface {
	PublishScoringEvent(ctx context.Context, event *models.ScoringEvent) error
}

// PolicyEngine evaluates every policy against a transaction and bands the
// summed risk points. A rule referenced by two policies contributes its
// points once per policy.
type PolicyEngine struct {
	policyRepo *repositories.PolicyRepository
	ruleRepo   *repositories.RuleRepository
	engine     *RuleEngine
	cache      *queue.CacheClient
	publisher  EventPublisher
	cacheTTL   time.Duration
}

// NewPolicyEngine creates a new policy engine
func NewPolicyEngine(
	policyRepo *repositories.PolicyRepository,
	ruleRepo *repositories.RuleRepository,
	engine *RuleEngine,
	cache *queue.CacheClient,
	publisher EventPublisher,
	cacheTTL time.Duration,
) *PolicyEngine {
	return &PolicyEngine{
		policyRepo: policyRepo,
		ruleRepo:   ruleRepo,
		engine:     engine,
		cache:      cache,
		publisher:  publisher,
		cacheTTL:   cacheTTL,
	}
}

// EvaluateTransaction runs the transaction through every policy. A rule
// that fails to evaluate is logged and treated as not triggered; the
// evaluation itself never fails on rule errors.
func (pe *PolicyEngine) EvaluateTransaction(ctx context.Context, tx *models.Transaction) (*models.EvaluationResult, error) {
	startTime := time.Now()
	doc := tx.Doc()

	policies, err := pe.policyRepo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("load policies: %w", err)
	}

	totalPoints := 0
	var triggered []models.TriggeredRule

	// Each rule evaluates once per transaction; policies sharing a rule
	// reuse the outcome.
	outcomes := make(map[string]bool)
	rulesByID := make(map[string]*models.Rule)

	for _, policy := range policies {
		rules, err := pe.ruleRepo.GetByIDs(ctx, policy.RuleIDs)
		if err != nil {
			log.Warn().
				Err(err).
				Str("policy_id", policy.PolicyID).
				Msg("Failed to resolve policy rules")
			continue
		}
		for _, rule := range rules {
			rulesByID[rule.RuleID] = rule
		}

		for _, ruleID := range policy.RuleIDs {
			rule, ok := rulesByID[ruleID]
			if !ok {
				log.Warn().
					Str("policy_id", policy.PolicyID).
					Str("rule_id", ruleID).
					Msg("Policy references unknown rule")
				continue
			}

			hit, seen := outcomes[ruleID]
			if !seen {
				hit, err = pe.engine.Evaluate(ctx, rule, doc)
				if err != nil {
					log.Warn().
						Err(err).
						Str("rule_id", ruleID).
						Str("transaction_id", tx.TransactionID).
						Msg("Rule evaluation failed")
					hit = false
				}
				outcomes[ruleID] = hit
			}

			if hit {
				totalPoints += rule.RiskPoint
				triggered = append(triggered, models.TriggeredRule{
					RuleID:    rule.RuleID,
					Name:      rule.Name,
					RiskPoint: rule.RiskPoint,
				})
			}
		}
	}

	result := &models.EvaluationResult{
		TransactionID:  tx.TransactionID,
		UserID:         tx.UserID,
		RiskPoints:     totalPoints,
		RiskLevel:      models.VerdictFor(float64(totalPoints)),
		TriggeredRules: triggered,
	}

	pe.cacheVerdict(ctx, result)
	pe.publishEvent(ctx, result)
	metrics.RecordEvaluation(result.RiskLevel)

	log.Info().
		Str("transaction_id", tx.TransactionID).
		Str("user_id", tx.UserID).
		Int("risk_points", totalPoints).
		Str("risk_level", result.RiskLevel).
		Int("triggered_rules", len(triggered)).
		Dur("took", time.Since(startTime)).
		Msg("Transaction evaluated")

	return result, nil
}

func (pe *PolicyEngine) cacheVerdict(ctx context.Context, result *models.EvaluationResult) {
	if pe.cache == nil {
		return
	}

	key := fmt.Sprintf("verdict:%s", result.TransactionID)
	if err := pe.cache.Set(ctx, key, result, pe.cacheTTL); err != nil {
		log.Warn().
			Err(err).
			Str("transaction_id", result.TransactionID).
			Msg("Failed to cache verdict")
	}
}

func (pe *PolicyEngine) publishEvent(ctx context.Context, result *models.EvaluationResult) {
	if pe.publisher == nil {
		return
	}

	ruleIDs := make([]string, 0, len(result.TriggeredRules))
	for _, tr := range result.TriggeredRules {
		ruleIDs = append(ruleIDs, tr.RuleID)
	}

	event := &models.ScoringEvent{
		EventID:          uuid.NewString(),
		TransactionID:    result.TransactionID,
		UserID:           result.UserID,
		RiskPoints:       result.RiskPoints,
		RiskLevel:        result.RiskLevel,
		TriggeredRuleIDs: ruleIDs,
		Source:           models.ScoringSourceTransactions,
		Timestamp:        time.Now(),
	}

	if err := pe.publisher.PublishScoringEvent(ctx, event); err != nil {
		log.Warn().
			Err(err).
			Str("transaction_id", result.TransactionID).
			Msg("Failed to publish scoring event")
	}
}
