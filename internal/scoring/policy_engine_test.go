package scoring

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/frauddetect/fraud-engine/internal/models"
	"github.com/frauddetect/fraud-engine/internal/repositories"
	"github.com/frauddetect/fraud-engine/internal/store"
)

type capturePublisher struct {
	mu     sync.Mutex
	events []*models.ScoringEvent
}

func (p *capturePublisher) PublishScoringEvent(ctx context.Context, event *models.ScoringEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

type policyFixture struct {
	st         *store.MemoryStore
	ruleRepo   *repositories.RuleRepository
	policyRepo *repositories.PolicyRepository
	publisher  *capturePublisher
	engine     *PolicyEngine
}

func newPolicyFixture(t *testing.T) *policyFixture {
	t.Helper()

	st := store.NewMemory()
	ruleRepo := repositories.NewRuleRepository(st)
	policyRepo := repositories.NewPolicyRepository(st)
	txRepo := repositories.NewTransactionRepository(st)
	publisher := &capturePublisher{}

	return &policyFixture{
		st:         st,
		ruleRepo:   ruleRepo,
		policyRepo: policyRepo,
		publisher:  publisher,
		engine: NewPolicyEngine(policyRepo, ruleRepo, NewRuleEngine(txRepo),
			nil, publisher, time.Minute),
	}
}

func (f *policyFixture) addRule(t *testing.T, rule *models.Rule) {
	t.Helper()
	require.NoError(t, f.ruleRepo.Create(context.Background(), rule))
}

func (f *policyFixture) addPolicy(t *testing.T, id string, ruleIDs ...string) {
	t.Helper()
	require.NoError(t, f.policyRepo.Create(context.Background(), &models.Policy{
		PolicyID: id,
		Name:     id,
		RuleIDs:  ruleIDs,
	}))
}

func highValueTransfer() *models.Transaction {
	return &models.Transaction{
		TransactionID:   "tx-1",
		UserID:          "user-1",
		Amount:          15000,
		TransactionType: models.TransactionTypeTransfer,
		Timestamp:       time.Now(),
	}
}

func TestEvaluateTransactionBandsScore(t *testing.T) {
	f := newPolicyFixture(t)
	f.addRule(t, &models.Rule{
		RuleID: "r-amount", RuleType: models.RuleTypeStandard, Name: "high amount",
		RiskPoint: 50, Field: "amount", Operator: models.OpGreaterThan, Value: 10000,
	})
	f.addRule(t, &models.Rule{
		RuleID: "r-type", RuleType: models.RuleTypeStandard, Name: "transfer",
		RiskPoint: 30, Field: "transaction_type", Operator: models.OpEqual, Value: "transfer",
	})
	f.addRule(t, &models.Rule{
		RuleID: "r-miss", RuleType: models.RuleTypeStandard, Name: "deposit only",
		RiskPoint: 80, Field: "transaction_type", Operator: models.OpEqual, Value: "deposit",
	})
	f.addPolicy(t, "p-1", "r-amount", "r-type", "r-miss")

	result, err := f.engine.EvaluateTransaction(context.Background(), highValueTransfer())
	require.NoError(t, err)

	assert.Equal(t, "tx-1", result.TransactionID)
	assert.Equal(t, 80, result.RiskPoints)
	assert.Equal(t, models.VerdictSuspect, result.RiskLevel)
	require.Len(t, result.TriggeredRules, 2)
	assert.Equal(t, "r-amount", result.TriggeredRules[0].RuleID)
	assert.Equal(t, "r-type", result.TriggeredRules[1].RuleID)
}

func TestEvaluateTransactionFraudConfirmAtHundred(t *testing.T) {
	f := newPolicyFixture(t)
	f.addRule(t, &models.Rule{
		RuleID: "r-1", RuleType: models.RuleTypeStandard, Name: "r1",
		RiskPoint: 60, Field: "amount", Operator: models.OpGreaterThan, Value: 1,
	})
	f.addRule(t, &models.Rule{
		RuleID: "r-2", RuleType: models.RuleTypeStandard, Name: "r2",
		RiskPoint: 40, Field: "amount", Operator: models.OpGreaterThan, Value: 2,
	})
	f.addPolicy(t, "p-1", "r-1", "r-2")

	result, err := f.engine.EvaluateTransaction(context.Background(), highValueTransfer())
	require.NoError(t, err)

	assert.Equal(t, 100, result.RiskPoints)
	assert.Equal(t, models.VerdictFraudConfirm, result.RiskLevel)
}

func TestEvaluateTransactionNoPolicies(t *testing.T) {
	f := newPolicyFixture(t)

	result, err := f.engine.EvaluateTransaction(context.Background(), highValueTransfer())
	require.NoError(t, err)

	assert.Equal(t, 0, result.RiskPoints)
	assert.Equal(t, models.VerdictNormal, result.RiskLevel)
	assert.Empty(t, result.TriggeredRules)
}

func TestEvaluateTransactionDanglingRuleRef(t *testing.T) {
	f := newPolicyFixture(t)
	f.addRule(t, &models.Rule{
		RuleID: "r-real", RuleType: models.RuleTypeStandard, Name: "real",
		RiskPoint: 10, Field: "amount", Operator: models.OpGreaterThan, Value: 1,
	})
	f.addPolicy(t, "p-1", "r-real", "r-ghost")

	result, err := f.engine.EvaluateTransaction(context.Background(), highValueTransfer())
	require.NoError(t, err)

	assert.Equal(t, 10, result.RiskPoints)
	require.Len(t, result.TriggeredRules, 1)
}

func TestEvaluateTransactionSharedRuleScoredPerPolicy(t *testing.T) {
	f := newPolicyFixture(t)
	f.addRule(t, &models.Rule{
		RuleID: "r-shared", RuleType: models.RuleTypeStandard, Name: "shared",
		RiskPoint: 25, Field: "amount", Operator: models.OpGreaterThan, Value: 1,
	})
	f.addPolicy(t, "p-1", "r-shared")
	f.addPolicy(t, "p-2", "r-shared")

	result, err := f.engine.EvaluateTransaction(context.Background(), highValueTransfer())
	require.NoError(t, err)

	assert.Equal(t, 50, result.RiskPoints)
	assert.Len(t, result.TriggeredRules, 2)
}

func TestEvaluateTransactionMalformedVelocityRuleIgnored(t *testing.T) {
	f := newPolicyFixture(t)
	f.addRule(t, &models.Rule{
		RuleID: "r-bad", RuleType: models.RuleTypeVelocity, Name: "bad window",
		RiskPoint: 90, Field: "amount", TimeRange: "forever", AggregationFunction: models.AggCount,
	})
	f.addPolicy(t, "p-1", "r-bad")

	result, err := f.engine.EvaluateTransaction(context.Background(), highValueTransfer())
	require.NoError(t, err)

	assert.Equal(t, 0, result.RiskPoints)
	assert.Equal(t, models.VerdictNormal, result.RiskLevel)
}

func TestEvaluateTransactionPublishesEvent(t *testing.T) {
	f := newPolicyFixture(t)
	f.addRule(t, &models.Rule{
		RuleID: "r-1", RuleType: models.RuleTypeStandard, Name: "r1",
		RiskPoint: 75, Field: "amount", Operator: models.OpGreaterThan, Value: 1,
	})
	f.addPolicy(t, "p-1", "r-1")

	_, err := f.engine.EvaluateTransaction(context.Background(), highValueTransfer())
	require.NoError(t, err)

	require.Len(t, f.publisher.events, 1)
	event := f.publisher.events[0]
	assert.NotEmpty(t, event.EventID)
	assert.Equal(t, "tx-1", event.TransactionID)
	assert.Equal(t, "user-1", event.UserID)
	assert.Equal(t, 75, event.RiskPoints)
	assert.Equal(t, models.VerdictSuspect, event.RiskLevel)
	assert.Equal(t, []string{"r-1"}, event.TriggeredRuleIDs)
	assert.Equal(t, models.ScoringSourceTransactions, event.Source)
}
