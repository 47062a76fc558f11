package graph

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/frauddetect/fraud-engine/internal/apperr"
	"github.com/frauddetect/fraud-engine/internal/models"
	"github.com/frauddetect/fraud-engine/internal/scoring"
)

// GenerateLinks evaluates every graph rule plus the zip-code heuristic over
// every unlinked pair of users and materializes a link for each pair with
// at least one match. Existing links are never touched, so repeated runs
// are additive and idempotent.
func (e *Engine) GenerateLinks(ctx context.Context) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.readyErr(); err != nil {
		return 0, err
	}

	rules, err := e.rules.List(ctx, models.RuleTypeGraph)
	if err != nil {
		return 0, apperr.Internal(err, "load graph rules")
	}

	ids := e.sortedVertexIDs()
	created := 0
	for i := 0; i < len(ids); i++ {
		for j := i + 1; j < len(ids); j++ {
			if e.edge(ids[i], ids[j]) != nil {
				continue
			}

			link := e.buildGeneratedLink(rules, ids[i], ids[j])
			if link == nil {
				continue
			}
			if err := e.links.Create(ctx, link); err != nil {
				return created, apperr.Internal(err, "persist generated link %s-%s", ids[i], ids[j])
			}
			e.addEdge(link)
			created++
		}
	}

	log.Info().
		Int("links_created", created).
		Msg("Link generation completed")
	return created, nil
}

func (e *Engine) buildGeneratedLink(rules []*models.Rule, a, b string) *models.Link {
	da, db := e.vertices[a], e.vertices[b]

	var reasons, ruleIDs []string
	for _, rule := range rules {
		if scoring.EvaluateGraphPair(rule, da, db) {
			reasons = append(reasons, rule.Name)
			ruleIDs = append(ruleIDs, rule.RuleID)
		}
	}
	if zipEqual(da, db) {
		reasons = append(reasons, models.ZipCodeMatch)
		ruleIDs = append(ruleIDs, models.ZipCodeMatch)
	}

	if len(reasons) == 0 {
		return nil
	}
	return &models.Link{
		Source:  a,
		Target:  b,
		Type:    models.LinkTypeGenerated,
		Weight:  0.5,
		Reasons: reasons,
		RuleIDs: ruleIDs,
	}
}
