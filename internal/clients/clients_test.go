package clients

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/frauddetect/fraud-engine/internal/models"
)

func sampleTx() *models.Transaction {
	return &models.Transaction{
		TransactionID:   "tx-1",
		UserID:          "u1",
		Amount:          500,
		TransactionType: models.TransactionTypeTransfer,
	}
}

func TestNNClientScore(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/score", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var tx models.Transaction
		require.NoError(t, json.NewDecoder(r.Body).Decode(&tx))
		assert.Equal(t, "tx-1", tx.TransactionID)

		json.NewEncoder(w).Encode(models.NNResult{FraudScore: 42})
	}))
	defer srv.Close()

	client := NewNNClient(srv.URL, time.Second)
	result, err := client.Score(context.Background(), sampleTx())
	require.NoError(t, err)
	assert.Equal(t, 42.0, result.FraudScore)
}

func TestNNClientErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := NewNNClient(srv.URL, time.Second)
	_, err := client.Score(context.Background(), sampleTx())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nn service")
	assert.Contains(t, err.Error(), "model not loaded")
}

func TestNNClientUnreachable(t *testing.T) {
	client := NewNNClient("http://127.0.0.1:1", 200*time.Millisecond)
	_, err := client.Score(context.Background(), sampleTx())
	assert.Error(t, err)
}

func TestTextClientAnalyze(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/analyze", r.URL.Path)
		json.NewEncoder(w).Encode(models.TextResult{FraudScore: 7, Justification: "urgent wording"})
	}))
	defer srv.Close()

	client := NewTextClient(srv.URL+"/", time.Second)
	result, err := client.Analyze(context.Background(), sampleTx())
	require.NoError(t, err)
	assert.Equal(t, 7.0, result.FraudScore)
	assert.Equal(t, "urgent wording", result.Justification)
}

func TestRulesClientEvaluate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/transactions", r.URL.Path)
		json.NewEncoder(w).Encode(models.EvaluationResult{
			TransactionID: "tx-1",
			RiskPoints:    80,
			RiskLevel:     models.VerdictSuspect,
		})
	}))
	defer srv.Close()

	client := NewRulesClient(srv.URL, time.Second)
	result, err := client.EvaluateTransaction(context.Background(), sampleTx())
	require.NoError(t, err)
	assert.Equal(t, 80, result.RiskPoints)
	assert.Equal(t, models.VerdictSuspect, result.RiskLevel)
}

func TestGraphClientAnalyzeGetWithBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/analyze", r.URL.Path)

		var payload map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		assert.Equal(t, "u1", payload["user_id"])
		assert.Contains(t, payload, "transaction")

		json.NewEncoder(w).Encode(models.AnalyzeResult{
			UserID:             "u1",
			ProximityScore:     0.5,
			ShortestPathLength: 1,
			PathFound:          true,
			TriggeredRules:     []string{},
		})
	}))
	defer srv.Close()

	client := NewGraphClient(srv.URL, time.Second)
	result, err := client.Analyze(context.Background(), "u1", sampleTx())
	require.NoError(t, err)
	assert.Equal(t, 0.5, result.ProximityScore)
	assert.True(t, result.PathFound)
	assert.Equal(t, 1, result.ShortestPathLength)
}

func TestGraphClientDecodesNoPathSentinel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"user_id":"u1","proximity_score":0,"shortest_path_length_to_fraudster":"No path","linked_fraud_count":0,"total_linked_nodes":0,"triggered_rules":[]}`))
	}))
	defer srv.Close()

	client := NewGraphClient(srv.URL, time.Second)
	result, err := client.Analyze(context.Background(), "u1", nil)
	require.NoError(t, err)
	assert.False(t, result.PathFound)
	assert.Zero(t, result.ProximityScore)
}
