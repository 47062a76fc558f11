package stats

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/frauddetect/fraud-engine/configs"
	"github.com/frauddetect/fraud-engine/internal/models"
	"github.com/frauddetect/fraud-engine/internal/queue"
	"github.com/frauddetect/fraud-engine/internal/repositories"
	"github.com/frauddetect/fraud-engine/internal/store"
)

func TestWorkerConsumesAndApplies(t *testing.T) {
	mr := miniredis.RunT(t)
	redisCfg := configs.RedisConfig{
		URL:           "redis://" + mr.Addr(),
		StreamName:    "scoring_events",
		ConsumerGroup: "stats_workers",
		MaxRetries:    3,
	}

	streamClient, err := queue.NewRedisStreamClient(redisCfg)
	require.NoError(t, err)
	t.Cleanup(func() { streamClient.Close() })

	cache, err := queue.NewCacheClient(redisCfg)
	require.NoError(t, err)
	t.Cleanup(func() { cache.Close() })

	ruleRepo := repositories.NewRuleRepository(store.NewMemory())
	require.NoError(t, ruleRepo.Create(context.Background(), &models.Rule{
		RuleID: "r-1", RuleType: models.RuleTypeStandard, Name: "high amount",
	}))
	svc := NewService(cache, ruleRepo)

	require.NoError(t, streamClient.PublishScoringEvent(context.Background(), &models.ScoringEvent{
		EventID:          "e-1",
		TransactionID:    "tx-1",
		UserID:           "u1",
		RiskPoints:       80,
		RiskLevel:        models.VerdictSuspect,
		TriggeredRuleIDs: []string{"r-1"},
		Source:           models.ScoringSourceTransactions,
		Timestamp:        time.Now().UTC(),
	}))

	worker := NewWorker("test", svc, streamClient, configs.WorkerConfig{
		Concurrency:  1,
		BatchSize:    10,
		PollInterval: 10 * time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- worker.Start(ctx) }()

	// wait for the event to land in the counters
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		info, err := svc.UserRiskInfo(context.Background(), "u1")
		require.NoError(t, err)
		if info.EvaluationCount > 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	cancel()
	require.NoError(t, <-done)

	info, err := svc.UserRiskInfo(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), info.EvaluationCount)
	assert.Equal(t, int64(80), info.TotalRiskPoints)

	stats, err := svc.RuleStatistics(context.Background())
	require.NoError(t, err)
	require.Len(t, stats, 1)
	assert.Equal(t, "high amount", stats[0].Name)
	assert.Equal(t, int64(1), stats[0].Count)
}
