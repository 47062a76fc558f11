// Package orchestrator aggregates the four scoring components (policy
// rules, graph proximity, neural net, text analyzer) into one verdict. A
// component failure contributes a zero sub-score and an entry in the errors
// map; it never fails the check itself.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/frauddetect/fraud-engine/internal/apperr"
	"github.com/frauddetect/fraud-engine/internal/graph"
	"github.com/frauddetect/fraud-engine/internal/metrics"
	"github.com/frauddetect/fraud-engine/internal/models"
	"github.com/frauddetect/fraud-engine/internal/queue"
	"github.com/frauddetect/fraud-engine/internal/repositories"
	"github.com/frauddetect/fraud-engine/internal/scoring"
)

// proximityScale converts the graph proximity score (0..1] into risk points
// comparable with the other components.
const proximityScale = 100

// RulesEvaluator scores a transaction against the rule policies. Satisfied
// by the in-process policy engine and by the remote rules client.
type RulesEvaluator interface {
	EvaluateTransaction(ctx context.Context, tx *models.Transaction) (*models.EvaluationResult, error)
}

// GraphAnalyzer runs a fraud proximity analysis for the transaction's user.
// Satisfied by LocalGraph and by the remote graph client.
type GraphAnalyzer interface {
	Analyze(ctx context.Context, userID string, tx *models.Transaction) (*models.AnalyzeResult, error)
}

// NNScorer scores a transaction with the neural-net service
type NNScorer interface {
	Score(ctx context.Context, tx *models.Transaction) (*models.NNResult, error)
}

// TextScorer scores a transaction with the text analyzer service
type TextScorer interface {
	Analyze(ctx context.Context, tx *models.Transaction) (*models.TextResult, error)
}

// LocalGraph adapts the in-process graph engine to the GraphAnalyzer
// signature used for remote calls
type LocalGraph struct {
	Engine *graph.Engine
}

// Analyze runs the engine analysis with the transaction document when given
func (g LocalGraph) Analyze(ctx context.Context, userID string, tx *models.Transaction) (*models.AnalyzeResult, error) {
	var doc map[string]any
	if tx != nil {
		doc = tx.Doc()
	}
	return g.Engine.Analyze(ctx, userID, doc)
}

// Deps wires an orchestrator
type Deps struct {
	Transactions *repositories.TransactionRepository
	Rules        RulesEvaluator
	Graph        GraphAnalyzer
	NN           NNScorer
	Text         TextScorer
	Cache        *queue.CacheClient
	Publisher    scoring.EventPublisher

	BranchTimeout time.Duration
	TotalTimeout  time.Duration
	CacheTTL      time.Duration
}

// Orchestrator fans a fraud check out to the scoring components
type Orchestrator struct {
	deps Deps
}

// New creates an orchestrator
func New(deps Deps) *Orchestrator {
	return &Orchestrator{deps: deps}
}

// FraudCheck runs the orchestrated scoring for a stored transaction. The
// four components run in parallel, each under its own deadline; the
// composite is a pure function of the sub-results, so completion order
// never changes the verdict.
func (o *Orchestrator) FraudCheck(ctx context.Context, transactionID string) (*models.FraudCheckResult, error) {
	if transactionID == "" {
		return nil, apperr.BadRequest("transaction_id is required")
	}

	ctx, cancel := context.WithTimeout(ctx, o.deps.TotalTimeout)
	defer cancel()

	if cached := o.cachedResult(ctx, transactionID); cached != nil {
		return cached, nil
	}

	tx, err := o.deps.Transactions.GetByID(ctx, transactionID)
	if err != nil {
		if errors.Is(err, repositories.ErrTransactionNotFound) {
			return nil, apperr.NotFound("transaction %s not found", transactionID)
		}
		return nil, apperr.Internal(err, "load transaction %s", transactionID)
	}

	startTime := time.Now()

	var (
		wg sync.WaitGroup

		rulesRes *models.EvaluationResult
		graphRes *models.AnalyzeResult
		nnRes    *models.NNResult
		textRes  *models.TextResult

		rulesErr, graphErr, nnErr, textErr error
	)

	wg.Add(4)
	go func() {
		defer wg.Done()
		branchCtx, cancel := context.WithTimeout(ctx, o.deps.BranchTimeout)
		defer cancel()
		rulesRes, rulesErr = o.deps.Rules.EvaluateTransaction(branchCtx, tx)
	}()
	go func() {
		defer wg.Done()
		branchCtx, cancel := context.WithTimeout(ctx, o.deps.BranchTimeout)
		defer cancel()
		graphRes, graphErr = o.deps.Graph.Analyze(branchCtx, tx.UserID, tx)
	}()
	go func() {
		defer wg.Done()
		branchCtx, cancel := context.WithTimeout(ctx, o.deps.BranchTimeout)
		defer cancel()
		nnRes, nnErr = o.deps.NN.Score(branchCtx, tx)
	}()
	go func() {
		defer wg.Done()
		branchCtx, cancel := context.WithTimeout(ctx, o.deps.BranchTimeout)
		defer cancel()
		textRes, textErr = o.deps.Text.Analyze(branchCtx, tx)
	}()
	wg.Wait()

	result := &models.FraudCheckResult{
		TransactionID: transactionID,
		Errors:        map[string]string{},
	}

	if rulesErr != nil {
		o.noteFailure(result, models.ComponentRules, transactionID, rulesErr)
	} else {
		result.Rules = *rulesRes
	}
	if graphErr != nil {
		o.noteFailure(result, models.ComponentGraph, transactionID, graphErr)
	} else {
		result.Graph = *graphRes
	}
	if nnErr != nil {
		o.noteFailure(result, models.ComponentNN, transactionID, nnErr)
	} else {
		result.NN = *nnRes
	}
	if textErr != nil {
		o.noteFailure(result, models.ComponentText, transactionID, textErr)
	} else {
		result.Text = *textRes
	}

	score := float64(result.Rules.RiskPoints) +
		math.Floor(result.Graph.ProximityScore*proximityScale) +
		result.NN.FraudScore +
		result.Text.FraudScore
	result.FraudScore = score
	result.RiskLevel = models.VerdictFor(score)

	partial := len(result.Errors) > 0
	if !partial {
		result.Errors = nil
		o.cacheResult(ctx, result)
	}
	o.publishEvent(ctx, result, tx)
	metrics.RecordFraudCheck(result.RiskLevel, partial)

	log.Info().
		Str("transaction_id", transactionID).
		Float64("fraud_score", score).
		Str("risk_level", result.RiskLevel).
		Int("failed_components", len(result.Errors)).
		Dur("took", time.Since(startTime)).
		Msg("Fraud check completed")

	return result, nil
}

func (o *Orchestrator) noteFailure(result *models.FraudCheckResult, component, transactionID string, err error) {
	result.Errors[component] = err.Error()
	metrics.RecordComponentFailure(component)
	log.Warn().
		Err(err).
		Str("component", component).
		Str("transaction_id", transactionID).
		Msg("Fraud check component failed")
}

func fraudCheckKey(transactionID string) string {
	return fmt.Sprintf("fraud_check:%s", transactionID)
}

func (o *Orchestrator) cachedResult(ctx context.Context, transactionID string) *models.FraudCheckResult {
	if o.deps.Cache == nil {
		return nil
	}

	var result models.FraudCheckResult
	if err := o.deps.Cache.Get(ctx, fraudCheckKey(transactionID), &result); err != nil {
		return nil
	}

	log.Debug().
		Str("transaction_id", transactionID).
		Msg("Fraud check served from cache")
	return &result
}

// cacheResult stores only complete results; a partial verdict should be
// recomputed once the failing component recovers.
func (o *Orchestrator) cacheResult(ctx context.Context, result *models.FraudCheckResult) {
	if o.deps.Cache == nil {
		return
	}

	if err := o.deps.Cache.Set(ctx, fraudCheckKey(result.TransactionID), result, o.deps.CacheTTL); err != nil {
		log.Warn().
			Err(err).
			Str("transaction_id", result.TransactionID).
			Msg("Failed to cache fraud check result")
	}
}

func (o *Orchestrator) publishEvent(ctx context.Context, result *models.FraudCheckResult, tx *models.Transaction) {
	if o.deps.Publisher == nil {
		return
	}

	ruleIDs := make([]string, 0, len(result.Rules.TriggeredRules))
	for _, tr := range result.Rules.TriggeredRules {
		ruleIDs = append(ruleIDs, tr.RuleID)
	}

	event := &models.ScoringEvent{
		EventID:          uuid.NewString(),
		TransactionID:    result.TransactionID,
		UserID:           tx.UserID,
		RiskPoints:       int(result.FraudScore),
		RiskLevel:        result.RiskLevel,
		TriggeredRuleIDs: ruleIDs,
		Source:           models.ScoringSourceFraudCheck,
		Timestamp:        time.Now(),
	}

	if err := o.deps.Publisher.PublishScoringEvent(ctx, event); err != nil {
		log.Warn().
			Err(err).
			Str("transaction_id", result.TransactionID).
			Msg("Failed to publish scoring event")
	}
}
