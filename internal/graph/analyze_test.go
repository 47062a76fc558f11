package graph

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/frauddetect/fraud-engine/internal/apperr"
	"github.com/frauddetect/fraud-engine/internal/models"
)

func TestAnalyzeProximity(t *testing.T) {
	f := newGraphFixture(t)
	ctx := context.Background()
	f.addUser(t, "a", "", false)
	f.addUser(t, "b", "", false)
	f.addUser(t, "c", "", true)
	f.addLink(t, "a", "b")
	f.addLink(t, "b", "c")

	result, err := f.engine.Analyze(ctx, "a", nil)
	require.NoError(t, err)

	assert.Equal(t, "a", result.UserID)
	assert.True(t, result.PathFound)
	assert.Equal(t, 2, result.ShortestPathLength)
	assert.InDelta(t, 1.0/3.0, result.ProximityScore, 1e-9)
	assert.Equal(t, "c", result.ClosestFraudster)
	assert.Equal(t, 0, result.LinkedFraudCount)
	assert.Equal(t, 1, result.TotalLinkedNodes)
}

func TestAnalyzeDirectNeighborFraud(t *testing.T) {
	f := newGraphFixture(t)
	f.addUser(t, "a", "", false)
	f.addUser(t, "b", "", true)
	f.addLink(t, "a", "b")

	result, err := f.engine.Analyze(context.Background(), "a", nil)
	require.NoError(t, err)

	assert.Equal(t, 1, result.ShortestPathLength)
	assert.InDelta(t, 0.5, result.ProximityScore, 1e-9)
	assert.Equal(t, 1, result.LinkedFraudCount)
}

func TestAnalyzeFraudsterIsOwnClosest(t *testing.T) {
	f := newGraphFixture(t)
	f.addUser(t, "a", "", true)

	result, err := f.engine.Analyze(context.Background(), "a", nil)
	require.NoError(t, err)

	assert.True(t, result.PathFound)
	assert.Equal(t, 0, result.ShortestPathLength)
	assert.Equal(t, 1.0, result.ProximityScore)
	assert.Equal(t, "a", result.ClosestFraudster)
}

func TestAnalyzeNoPath(t *testing.T) {
	f := newGraphFixture(t)
	f.addUser(t, "a", "", false)
	f.addUser(t, "z", "", true)

	result, err := f.engine.Analyze(context.Background(), "a", nil)
	require.NoError(t, err)

	assert.False(t, result.PathFound)
	assert.Zero(t, result.ProximityScore)
	assert.Empty(t, result.ClosestFraudster)

	raw, err := json.Marshal(result)
	require.NoError(t, err)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, models.NoPath, decoded["shortest_path_length_to_fraudster"])
}

func TestAnalyzeTieBreaksOnSmallestID(t *testing.T) {
	f := newGraphFixture(t)
	f.addUser(t, "a", "", false)
	f.addUser(t, "f1", "", true)
	f.addUser(t, "f2", "", true)
	f.addLink(t, "a", "f2")
	f.addLink(t, "a", "f1")

	result, err := f.engine.Analyze(context.Background(), "a", nil)
	require.NoError(t, err)

	assert.Equal(t, "f1", result.ClosestFraudster)
	assert.Equal(t, 2, result.LinkedFraudCount)
	assert.Equal(t, 2, result.TotalLinkedNodes)
}

func TestAnalyzeTriggeredRules(t *testing.T) {
	f := newGraphFixture(t)
	ctx := context.Background()
	require.NoError(t, f.rules.Create(ctx, &models.Rule{
		RuleID:   "g-zip",
		RuleType: models.RuleTypeGraph,
		Name:     "hot zip",
		Field1:   "address_zip",
		Operator: models.OpEqual,
		Value:    "11111",
	}))
	require.NoError(t, f.rules.Create(ctx, &models.Rule{
		RuleID:   "g-amount",
		RuleType: models.RuleTypeGraph,
		Name:     "large amount",
		Field1:   "amount",
		Operator: models.OpGreaterThan,
		Value:    1000,
	}))
	f.addUser(t, "a", "11111", false)

	// user document drives value-form rules when no transaction is given
	result, err := f.engine.Analyze(ctx, "a", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"hot zip"}, result.TriggeredRules)

	// a transaction document replaces the user document entirely
	result, err = f.engine.Analyze(ctx, "a", map[string]any{"amount": 5000.0})
	require.NoError(t, err)
	assert.Equal(t, []string{"large amount"}, result.TriggeredRules)
}

func TestAnalyzeErrors(t *testing.T) {
	f := newGraphFixture(t)
	ctx := context.Background()

	_, err := f.engine.Analyze(ctx, "", nil)
	assert.Equal(t, apperr.CodeBadRequest, apperr.CodeOf(err))

	_, err = f.engine.Analyze(ctx, "ghost", nil)
	assert.Equal(t, apperr.CodeNotFound, apperr.CodeOf(err))
}
