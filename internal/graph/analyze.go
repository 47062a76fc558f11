package graph

import (
	"context"

	"github.com/frauddetect/fraud-engine/internal/apperr"
	"github.com/frauddetect/fraud-engine/internal/models"
	"github.com/frauddetect/fraud-engine/internal/scoring"
)

// Analyze measures how close a user sits to known fraudsters. Distances are
// BFS hop counts on the unweighted graph; a fraudulent user is its own
// closest fraudster at distance zero. When txDoc is non-nil the value-form
// graph rules are evaluated against it instead of the user document.
func (e *Engine) Analyze(ctx context.Context, userID string, txDoc map[string]any) (*models.AnalyzeResult, error) {
	if userID == "" {
		return nil, apperr.BadRequest("user_id is required")
	}

	e.mu.RLock()
	defer e.mu.RUnlock()
	if err := e.readyErr(); err != nil {
		return nil, err
	}

	doc, ok := e.vertices[userID]
	if !ok {
		return nil, apperr.NotFound("user %s not found in graph", userID)
	}

	rules, err := e.rules.List(ctx, models.RuleTypeGraph)
	if err != nil {
		return nil, apperr.Internal(err, "load graph rules")
	}

	dist := e.bfs(userID)

	best := -1
	bestID := ""
	for id, d := range dist {
		if !isFraudDoc(e.vertices[id]) {
			continue
		}
		if best == -1 || d < best || (d == best && id < bestID) {
			best = d
			bestID = id
		}
	}

	result := &models.AnalyzeResult{
		UserID:           userID,
		TotalLinkedNodes: len(e.adj[userID]),
		TriggeredRules:   []string{},
	}
	for nbr := range e.adj[userID] {
		if isFraudDoc(e.vertices[nbr]) {
			result.LinkedFraudCount++
		}
	}
	if best >= 0 {
		result.PathFound = true
		result.ShortestPathLength = best
		result.ClosestFraudster = bestID
		result.ProximityScore = 1.0 / float64(best+1)
	}

	evalDoc := doc
	if txDoc != nil {
		evalDoc = txDoc
	}
	for _, rule := range rules {
		if scoring.EvaluateGraphValue(rule, evalDoc) {
			result.TriggeredRules = append(result.TriggeredRules, rule.Name)
		}
	}

	return result, nil
}

// bfs returns hop distances from start to every reachable vertex
func (e *Engine) bfs(start string) map[string]int {
	dist := map[string]int{start: 0}
	queue := []string{start}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for nbr := range e.adj[cur] {
			if _, seen := dist[nbr]; !seen {
				dist[nbr] = dist[cur] + 1
				queue = append(queue, nbr)
			}
		}
	}
	return dist
}
