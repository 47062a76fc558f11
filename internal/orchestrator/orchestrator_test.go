package orchestrator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/frauddetect/fraud-engine/internal/apperr"
	"github.com/frauddetect/fraud-engine/internal/models"
	"github.com/frauddetect/fraud-engine/internal/repositories"
	"github.com/frauddetect/fraud-engine/internal/store"
)

type stubRules struct {
	result *models.EvaluationResult
	err    error
}

func (s stubRules) EvaluateTransaction(ctx context.Context, tx *models.Transaction) (*models.EvaluationResult, error) {
	return s.result, s.err
}

type stubGraph struct {
	result *models.AnalyzeResult
	err    error
}

func (s stubGraph) Analyze(ctx context.Context, userID string, tx *models.Transaction) (*models.AnalyzeResult, error) {
	return s.result, s.err
}

type stubNN struct {
	result *models.NNResult
	err    error
}

func (s stubNN) Score(ctx context.Context, tx *models.Transaction) (*models.NNResult, error) {
	return s.result, s.err
}

type stubText struct {
	result *models.TextResult
	err    error
}

func (s stubText) Analyze(ctx context.Context, tx *models.Transaction) (*models.TextResult, error) {
	return s.result, s.err
}

func storedTransaction(t *testing.T) *repositories.TransactionRepository {
	t.Helper()
	txRepo := repositories.NewTransactionRepository(store.NewMemory())
	require.NoError(t, txRepo.Create(context.Background(), &models.Transaction{
		TransactionID:   "tx-1",
		UserID:          "user-1",
		Amount:          15000,
		TransactionType: models.TransactionTypeTransfer,
		Timestamp:       time.Now(),
	}))
	return txRepo
}

func healthyDeps(t *testing.T) Deps {
	t.Helper()
	return Deps{
		Transactions: storedTransaction(t),
		Rules: stubRules{result: &models.EvaluationResult{
			TransactionID: "tx-1",
			UserID:        "user-1",
			RiskPoints:    50,
			RiskLevel:     models.VerdictNormal,
			TriggeredRules: []models.TriggeredRule{
				{RuleID: "r-1", Name: "high amount", RiskPoint: 50},
			},
		}},
		Graph: stubGraph{result: &models.AnalyzeResult{
			UserID:             "user-1",
			ProximityScore:     1.0 / 3.0,
			ShortestPathLength: 2,
			PathFound:          true,
		}},
		NN:            stubNN{result: &models.NNResult{FraudScore: 10}},
		Text:          stubText{result: &models.TextResult{FraudScore: 5}},
		BranchTimeout: time.Second,
		TotalTimeout:  5 * time.Second,
	}
}

func TestFraudCheckComposite(t *testing.T) {
	orch := New(healthyDeps(t))

	result, err := orch.FraudCheck(context.Background(), "tx-1")
	require.NoError(t, err)

	// 50 rules + floor(100/3)=33 graph + 10 nn + 5 text
	assert.Equal(t, 98.0, result.FraudScore)
	assert.Equal(t, models.VerdictSuspect, result.RiskLevel)
	assert.Equal(t, 50, result.Rules.RiskPoints)
	assert.InDelta(t, 1.0/3.0, result.Graph.ProximityScore, 1e-9)
	assert.Equal(t, 10.0, result.NN.FraudScore)
	assert.Equal(t, 5.0, result.Text.FraudScore)
	assert.Nil(t, result.Errors)
}

func TestFraudCheckDeterministic(t *testing.T) {
	orch := New(healthyDeps(t))

	first, err := orch.FraudCheck(context.Background(), "tx-1")
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		again, err := orch.FraudCheck(context.Background(), "tx-1")
		require.NoError(t, err)
		assert.Equal(t, first.FraudScore, again.FraudScore)
		assert.Equal(t, first.RiskLevel, again.RiskLevel)
	}
}

func TestFraudCheckDegradedComponent(t *testing.T) {
	deps := healthyDeps(t)
	deps.NN = stubNN{err: errors.New("connection refused")}
	orch := New(deps)

	result, err := orch.FraudCheck(context.Background(), "tx-1")
	require.NoError(t, err)

	// nn contributes zero; the check still succeeds
	assert.Equal(t, 88.0, result.FraudScore)
	assert.Equal(t, models.VerdictSuspect, result.RiskLevel)
	assert.Zero(t, result.NN.FraudScore)
	require.Contains(t, result.Errors, models.ComponentNN)
	assert.Contains(t, result.Errors[models.ComponentNN], "connection refused")
}

func TestFraudCheckAllComponentsDegraded(t *testing.T) {
	deps := healthyDeps(t)
	deps.Rules = stubRules{err: errors.New("rules down")}
	deps.Graph = stubGraph{err: errors.New("graph down")}
	deps.NN = stubNN{err: errors.New("nn down")}
	deps.Text = stubText{err: errors.New("text down")}
	orch := New(deps)

	result, err := orch.FraudCheck(context.Background(), "tx-1")
	require.NoError(t, err)

	assert.Zero(t, result.FraudScore)
	assert.Equal(t, models.VerdictNormal, result.RiskLevel)
	assert.Len(t, result.Errors, 4)
}

func TestFraudCheckFraudConfirmBand(t *testing.T) {
	deps := healthyDeps(t)
	deps.NN = stubNN{result: &models.NNResult{FraudScore: 12}}
	orch := New(deps)

	result, err := orch.FraudCheck(context.Background(), "tx-1")
	require.NoError(t, err)

	assert.Equal(t, 100.0, result.FraudScore)
	assert.Equal(t, models.VerdictFraudConfirm, result.RiskLevel)
}

func TestFraudCheckUnknownTransaction(t *testing.T) {
	orch := New(healthyDeps(t))

	_, err := orch.FraudCheck(context.Background(), "tx-ghost")
	assert.Equal(t, apperr.CodeNotFound, apperr.CodeOf(err))
}

func TestFraudCheckMissingID(t *testing.T) {
	orch := New(healthyDeps(t))

	_, err := orch.FraudCheck(context.Background(), "")
	assert.Equal(t, apperr.CodeBadRequest, apperr.CodeOf(err))
}
