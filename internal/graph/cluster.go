package graph

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/rs/zerolog/log"

	"github.com/frauddetect/fraud-engine/internal/apperr"
	"github.com/frauddetect/fraud-engine/internal/models"
	"github.com/frauddetect/fraud-engine/internal/repositories"
	"github.com/frauddetect/fraud-engine/internal/scoring"
)

// unionFind is a weighted disjoint-set forest with path halving
type unionFind struct {
	parent []int
	size   []int
}

func newUnionFind(n int) *unionFind {
	uf := &unionFind{
		parent: make([]int, n),
		size:   make([]int, n),
	}
	for i := range uf.parent {
		uf.parent[i] = i
		uf.size[i] = 1
	}
	return uf
}

func (uf *unionFind) find(x int) int {
	for uf.parent[x] != x {
		uf.parent[x] = uf.parent[uf.parent[x]]
		x = uf.parent[x]
	}
	return x
}

func (uf *unionFind) union(a, b int) {
	ra, rb := uf.find(a), uf.find(b)
	if ra == rb {
		return
	}
	if uf.size[ra] < uf.size[rb] {
		ra, rb = rb, ra
	}
	uf.parent[rb] = ra
	uf.size[ra] += uf.size[rb]
}

// ClusterNodes rederives all clusters from scratch and persists the
// non-singleton components
func (e *Engine) ClusterNodes(ctx context.Context) ([]models.Cluster, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.readyErr(); err != nil {
		return nil, err
	}

	clusters, err := e.reclusterLocked(ctx)
	if err != nil {
		return nil, apperr.Internal(err, "cluster nodes")
	}
	return clusters, nil
}

// reclusterLocked runs the union-find pass over every vertex pair, replaces
// the persisted snapshot and rebuilds the membership table. Must be called
// with the writer lock held.
func (e *Engine) reclusterLocked(ctx context.Context) ([]models.Cluster, error) {
	rules, err := e.rules.List(ctx, models.RuleTypeGraph)
	if err != nil {
		return nil, fmt.Errorf("load graph rules: %w", err)
	}

	ids := e.sortedVertexIDs()
	index := make(map[string]int, len(ids))
	for i, id := range ids {
		index[id] = i
	}

	uf := newUnionFind(len(ids))
	for i := 0; i < len(ids); i++ {
		for j := i + 1; j < len(ids); j++ {
			if e.pairMatches(rules, ids[i], ids[j]) {
				uf.union(i, j)
			}
		}
	}

	components := make(map[int][]string)
	for i, id := range ids {
		root := uf.find(i)
		components[root] = append(components[root], id)
	}

	var clusters []models.Cluster
	for _, members := range components {
		if len(members) < 2 {
			continue
		}
		sort.Strings(members)
		clusters = append(clusters, models.Cluster{
			ClusterID: members[0],
			Members:   members,
		})
	}
	sort.Slice(clusters, func(i, j int) bool { return clusters[i].ClusterID < clusters[j].ClusterID })

	if err := e.clusterRepo.ReplaceAll(ctx, clusters); err != nil {
		return nil, fmt.Errorf("persist clusters: %w", err)
	}

	table := make(map[string]string)
	for _, c := range clusters {
		for _, m := range c.Members {
			table[m] = c.ClusterID
		}
	}
	e.clusters = table

	log.Info().
		Int("clusters", len(clusters)).
		Int("vertices", len(ids)).
		Msg("Clusters rederived")
	return clusters, nil
}

// pairMatches reports whether two users belong in one cluster: equal
// non-empty zip codes or any triggered graph rule.
func (e *Engine) pairMatches(rules []*models.Rule, a, b string) bool {
	da, db := e.vertices[a], e.vertices[b]
	if zipEqual(da, db) {
		return true
	}
	for _, rule := range rules {
		if scoring.EvaluateGraphPair(rule, da, db) {
			return true
		}
	}
	return false
}

// AllClusters returns the persisted cluster snapshot
func (e *Engine) AllClusters(ctx context.Context) ([]*models.Cluster, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if err := e.readyErr(); err != nil {
		return nil, err
	}

	clusters, err := e.clusterRepo.List(ctx)
	if err != nil {
		return nil, apperr.Internal(err, "list clusters")
	}
	return clusters, nil
}

// ClusterByID returns one persisted cluster
func (e *Engine) ClusterByID(ctx context.Context, clusterID string) (*models.Cluster, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if err := e.readyErr(); err != nil {
		return nil, err
	}

	cluster, err := e.clusterRepo.GetByID(ctx, clusterID)
	if err != nil {
		if errors.Is(err, repositories.ErrClusterNotFound) {
			return nil, apperr.NotFound("cluster %s not found", clusterID)
		}
		return nil, apperr.Internal(err, "read cluster %s", clusterID)
	}
	return cluster, nil
}
