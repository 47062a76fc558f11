// Package stats materializes scoring events into Redis counters and serves
// the rule statistics and per-user risk info views built from them.
package stats

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/frauddetect/fraud-engine/internal/models"
	"github.com/frauddetect/fraud-engine/internal/queue"
	"github.com/frauddetect/fraud-engine/internal/repositories"
)

const ruleStatsKey = "stats:rules"

func userStatsKey(userID string) string {
	return fmt.Sprintf("stats:user:%s", userID)
}

// Service maintains and serves scoring statistics
type Service struct {
	cache    *queue.CacheClient
	ruleRepo *repositories.RuleRepository
}

// NewService creates a new stats service
func NewService(cache *queue.CacheClient, ruleRepo *repositories.RuleRepository) *Service {
	return &Service{
		cache:    cache,
		ruleRepo: ruleRepo,
	}
}

// Apply folds one scoring event into the counters. Rule trigger counts only
// move on direct transaction evaluations so a fraud check, whose rules
// branch already emitted one, is not counted twice; the per-user view moves
// on every event.
func (s *Service) Apply(ctx context.Context, event *models.ScoringEvent) error {
	if event.Source == models.ScoringSourceTransactions {
		for _, ruleID := range event.TriggeredRuleIDs {
			if _, err := s.cache.HIncrBy(ctx, ruleStatsKey, ruleID, 1); err != nil {
				return fmt.Errorf("increment rule counter %s: %w", ruleID, err)
			}
		}
	}

	userKey := userStatsKey(event.UserID)
	if _, err := s.cache.HIncrBy(ctx, userKey, "evaluation_count", 1); err != nil {
		return fmt.Errorf("increment evaluation count: %w", err)
	}
	if _, err := s.cache.HIncrBy(ctx, userKey, "total_risk_points", int64(event.RiskPoints)); err != nil {
		return fmt.Errorf("increment total risk points: %w", err)
	}
	if err := s.cache.HSet(ctx, userKey, map[string]any{
		"last_risk_level":   event.RiskLevel,
		"last_evaluated_at": event.Timestamp.UTC().Format(time.RFC3339),
	}); err != nil {
		return fmt.Errorf("update user risk fields: %w", err)
	}

	log.Debug().
		Str("user_id", event.UserID).
		Str("source", event.Source).
		Int("triggered_rules", len(event.TriggeredRuleIDs)).
		Msg("Scoring event applied to stats")
	return nil
}

// RuleStatistics returns per-rule trigger counts, most triggered first.
// Counts survive rule deletion; such entries carry no name.
func (s *Service) RuleStatistics(ctx context.Context) ([]models.RuleStat, error) {
	fields, err := s.cache.HGetAll(ctx, ruleStatsKey)
	if err != nil {
		return nil, fmt.Errorf("read rule counters: %w", err)
	}

	stats := make([]models.RuleStat, 0, len(fields))
	ids := make([]string, 0, len(fields))
	for ruleID, raw := range fields {
		count, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			log.Warn().Str("rule_id", ruleID).Str("value", raw).Msg("Skipping malformed rule counter")
			continue
		}
		stats = append(stats, models.RuleStat{RuleID: ruleID, Count: count})
		ids = append(ids, ruleID)
	}

	rules, err := s.ruleRepo.GetByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("resolve rule names: %w", err)
	}
	names := make(map[string]string, len(rules))
	for _, rule := range rules {
		names[rule.RuleID] = rule.Name
	}
	for i := range stats {
		stats[i].Name = names[stats[i].RuleID]
	}

	sort.Slice(stats, func(i, j int) bool {
		if stats[i].Count != stats[j].Count {
			return stats[i].Count > stats[j].Count
		}
		return stats[i].RuleID < stats[j].RuleID
	})
	return stats, nil
}

// UserRiskInfo returns the accumulated risk view for one user. A user that
// was never scored yields the zero view.
func (s *Service) UserRiskInfo(ctx context.Context, userID string) (*models.UserRiskInfo, error) {
	fields, err := s.cache.HGetAll(ctx, userStatsKey(userID))
	if err != nil {
		return nil, fmt.Errorf("read user stats: %w", err)
	}

	info := &models.UserRiskInfo{UserID: userID}
	if raw, ok := fields["evaluation_count"]; ok {
		info.EvaluationCount, _ = strconv.ParseInt(raw, 10, 64)
	}
	if raw, ok := fields["total_risk_points"]; ok {
		info.TotalRiskPoints, _ = strconv.ParseInt(raw, 10, 64)
	}
	if info.EvaluationCount > 0 {
		info.AvgRiskPoints = float64(info.TotalRiskPoints) / float64(info.EvaluationCount)
	}
	info.LastRiskLevel = fields["last_risk_level"]
	if raw, ok := fields["last_evaluated_at"]; ok {
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			info.LastEvaluatedAt = &t
		}
	}
	return info, nil
}
