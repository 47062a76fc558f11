package graph

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/frauddetect/fraud-engine/internal/apperr"
	"github.com/frauddetect/fraud-engine/internal/models"
	"github.com/frauddetect/fraud-engine/internal/repositories"
)

// Engine holds the user relationship graph in memory, mirroring the store.
// Vertices carry the full user document, edges carry the link record, and a
// side table maps users to their cluster. One readers-writer lock serializes
// every mutation against every read so the store and the mirror never
// diverge for an observer. Until Initialize completes, all operations
// return unavailable.
type Engine struct {
	mu    sync.RWMutex
	ready bool

	vertices map[string]map[string]any
	adj      map[string]map[string]*models.Link
	clusters map[string]string

	users       *repositories.UserRepository
	links       *repositories.LinkRepository
	rules       *repositories.RuleRepository
	clusterRepo *repositories.ClusterRepository
}

// NodeInfo is the per-vertex view returned by AllNodes
type NodeInfo struct {
	UserID    string `json:"user_id"`
	ClusterID string `json:"cluster_id,omitempty"`
	Degree    int    `json:"degree"`
	IsFraud   bool   `json:"is_fraud"`
}

// NewEngine creates a graph engine over the given repositories. The engine
// is unusable until Initialize has loaded the store.
func NewEngine(
	users *repositories.UserRepository,
	links *repositories.LinkRepository,
	rules *repositories.RuleRepository,
	clusters *repositories.ClusterRepository,
) *Engine {
	return &Engine{
		users:       users,
		links:       links,
		rules:       rules,
		clusterRepo: clusters,
	}
}

// Initialize rebuilds the in-memory graph and cluster table from the store.
// It runs under the writer lock, so requests arriving mid-load block and
// then observe the fully loaded graph.
func (e *Engine) Initialize(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	users, err := e.users.List(ctx)
	if err != nil {
		return apperr.Internal(err, "load users")
	}
	links, err := e.links.List(ctx)
	if err != nil {
		return apperr.Internal(err, "load links")
	}
	clusters, err := e.clusterRepo.List(ctx)
	if err != nil {
		return apperr.Internal(err, "load clusters")
	}

	e.vertices = make(map[string]map[string]any, len(users))
	e.adj = make(map[string]map[string]*models.Link, len(users))
	for _, u := range users {
		e.vertices[u.UserID] = u.Doc()
		e.adj[u.UserID] = make(map[string]*models.Link)
	}

	loaded := 0
	for _, l := range links {
		if _, ok := e.vertices[l.Source]; !ok {
			log.Warn().Str("source", l.Source).Str("target", l.Target).Msg("Skipping link with missing source vertex")
			continue
		}
		if _, ok := e.vertices[l.Target]; !ok {
			log.Warn().Str("source", l.Source).Str("target", l.Target).Msg("Skipping link with missing target vertex")
			continue
		}
		e.addEdge(l)
		loaded++
	}

	e.clusters = make(map[string]string)
	for _, c := range clusters {
		for _, m := range c.Members {
			e.clusters[m] = c.ClusterID
		}
	}

	e.ready = true
	log.Info().
		Int("users", len(users)).
		Int("links", loaded).
		Int("clusters", len(clusters)).
		Msg("Graph engine initialized")
	return nil
}

// Ready reports whether Initialize has completed
func (e *Engine) Ready() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.ready
}

// Size reports the current vertex and edge counts
func (e *Engine) Size() (vertices, edges int) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	for _, nbrs := range e.adj {
		edges += len(nbrs)
	}
	return len(e.vertices), edges / 2
}

// readyErr must be called with either lock held
func (e *Engine) readyErr() error {
	if !e.ready {
		return apperr.Unavailable("graph engine not initialized")
	}
	return nil
}

// CreateUser persists a user, adds its vertex and rederives clusters
func (e *Engine) CreateUser(ctx context.Context, user *models.User) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.readyErr(); err != nil {
		return err
	}

	if err := e.users.Create(ctx, user); err != nil {
		if errors.Is(err, repositories.ErrUserExists) {
			return apperr.AlreadyExists("user %s already exists", user.UserID)
		}
		return apperr.Internal(err, "create user %s", user.UserID)
	}

	e.vertices[user.UserID] = user.Doc()
	if e.adj[user.UserID] == nil {
		e.adj[user.UserID] = make(map[string]*models.Link)
	}

	if _, err := e.reclusterLocked(ctx); err != nil {
		return apperr.Internal(err, "recluster after creating user %s", user.UserID)
	}
	return nil
}

// ReadUser returns the persisted user document
func (e *Engine) ReadUser(ctx context.Context, userID string) (*models.User, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if err := e.readyErr(); err != nil {
		return nil, err
	}

	user, err := e.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repositories.ErrUserNotFound) {
			return nil, apperr.NotFound("user %s not found", userID)
		}
		return nil, apperr.Internal(err, "read user %s", userID)
	}
	return user, nil
}

// UpdateUser persists the new attributes and refreshes the vertex in place.
// Cluster membership is not recomputed on attribute change.
func (e *Engine) UpdateUser(ctx context.Context, user *models.User) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.readyErr(); err != nil {
		return err
	}

	if err := e.users.Update(ctx, user); err != nil {
		if errors.Is(err, repositories.ErrUserNotFound) {
			return apperr.NotFound("user %s not found", user.UserID)
		}
		return apperr.Internal(err, "update user %s", user.UserID)
	}

	e.vertices[user.UserID] = user.Doc()
	if e.adj[user.UserID] == nil {
		e.adj[user.UserID] = make(map[string]*models.Link)
	}
	return nil
}

// DeleteUser removes the user, every incident link and its cluster
// membership from both the store and the graph. The cascade runs links,
// then cluster, then the user document, and each step mirrors into memory
// only after its store write succeeded, so a mid-cascade failure leaves
// the graph and the store agreeing on what was already removed.
func (e *Engine) DeleteUser(ctx context.Context, userID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.readyErr(); err != nil {
		return err
	}

	if _, ok := e.vertices[userID]; !ok {
		return apperr.NotFound("user %s not found", userID)
	}

	removed, err := e.links.DeleteByUser(ctx, userID)
	if err != nil {
		return apperr.Internal(err, "delete links of user %s", userID)
	}
	for nbr := range e.adj[userID] {
		delete(e.adj[nbr], userID)
	}
	delete(e.adj, userID)

	if err := e.clusterRepo.RemoveMember(ctx, userID); err != nil {
		return apperr.Internal(err, "remove user %s from cluster", userID)
	}
	e.dropClusterMemberLocked(userID)

	if err := e.users.Delete(ctx, userID); err != nil {
		if errors.Is(err, repositories.ErrUserNotFound) {
			return apperr.NotFound("user %s not found", userID)
		}
		return apperr.Internal(err, "delete user %s", userID)
	}
	delete(e.vertices, userID)

	log.Info().
		Str("user_id", userID).
		Int64("links_removed", removed).
		Msg("User deleted from graph")
	return nil
}

// dropClusterMemberLocked mirrors ClusterRepository.RemoveMember into the
// membership table: the user loses its entry, and when that leaves the
// cluster with a single member the store drops the record, so the survivor
// loses its entry too.
func (e *Engine) dropClusterMemberLocked(userID string) {
	clusterID, ok := e.clusters[userID]
	if !ok {
		return
	}
	delete(e.clusters, userID)

	var rest []string
	for member, id := range e.clusters {
		if id == clusterID {
			rest = append(rest, member)
		}
	}
	if len(rest) == 1 {
		delete(e.clusters, rest[0])
	}
}

// CreateLink persists and adds an edge between two existing users
func (e *Engine) CreateLink(ctx context.Context, link *models.Link) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.readyErr(); err != nil {
		return err
	}

	if link.Source == link.Target {
		return apperr.BadRequest("link endpoints must differ")
	}
	if _, ok := e.vertices[link.Source]; !ok {
		return apperr.NotFound("user %s not found", link.Source)
	}
	if _, ok := e.vertices[link.Target]; !ok {
		return apperr.NotFound("user %s not found", link.Target)
	}
	if e.edge(link.Source, link.Target) != nil {
		return apperr.AlreadyExists("link between %s and %s already exists", link.Source, link.Target)
	}

	if err := e.links.Create(ctx, link); err != nil {
		return apperr.Internal(err, "create link %s-%s", link.Source, link.Target)
	}
	e.addEdge(link)
	return nil
}

// ReadLink returns the persisted link for an unordered pair
func (e *Engine) ReadLink(ctx context.Context, source, target string) (*models.Link, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if err := e.readyErr(); err != nil {
		return nil, err
	}

	link, err := e.links.Get(ctx, source, target)
	if err != nil {
		if errors.Is(err, repositories.ErrLinkNotFound) {
			return nil, apperr.NotFound("link between %s and %s not found", source, target)
		}
		return nil, apperr.Internal(err, "read link %s-%s", source, target)
	}
	return link, nil
}

// DeleteLink removes a link from the store and the graph
func (e *Engine) DeleteLink(ctx context.Context, source, target string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.readyErr(); err != nil {
		return err
	}

	if err := e.links.Delete(ctx, source, target); err != nil {
		if errors.Is(err, repositories.ErrLinkNotFound) {
			return apperr.NotFound("link between %s and %s not found", source, target)
		}
		return apperr.Internal(err, "delete link %s-%s", source, target)
	}
	e.removeEdge(source, target)
	return nil
}

// DeleteGraphRule removes a graph rule and cascades to every link the rule
// contributed to, in the store and the graph alike
func (e *Engine) DeleteGraphRule(ctx context.Context, ruleID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.readyErr(); err != nil {
		return err
	}

	rule, err := e.rules.GetByID(ctx, ruleID)
	if err != nil {
		if errors.Is(err, repositories.ErrRuleNotFound) {
			return apperr.NotFound("rule %s not found", ruleID)
		}
		return apperr.Internal(err, "read rule %s", ruleID)
	}
	if rule.RuleType != models.RuleTypeGraph {
		return apperr.BadRequest("rule %s is not a graph rule", ruleID)
	}

	if err := e.rules.Delete(ctx, ruleID); err != nil {
		return apperr.Internal(err, "delete rule %s", ruleID)
	}
	removed, err := e.links.DeleteByRuleID(ctx, ruleID)
	if err != nil {
		return apperr.Internal(err, "delete links of rule %s", ruleID)
	}

	type pair struct{ a, b string }
	var doomed []pair
	for a, nbrs := range e.adj {
		for b, l := range nbrs {
			if a < b && containsString(l.RuleIDs, ruleID) {
				doomed = append(doomed, pair{a, b})
			}
		}
	}
	for _, p := range doomed {
		e.removeEdge(p.a, p.b)
	}

	log.Info().
		Str("rule_id", ruleID).
		Int64("links_removed", removed).
		Msg("Graph rule deleted with link cascade")
	return nil
}

// AllLinks returns every persisted link
func (e *Engine) AllLinks(ctx context.Context) ([]*models.Link, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if err := e.readyErr(); err != nil {
		return nil, err
	}

	links, err := e.links.List(ctx)
	if err != nil {
		return nil, apperr.Internal(err, "list links")
	}
	return links, nil
}

// LinksByCluster returns the links between members of one cluster
func (e *Engine) LinksByCluster(ctx context.Context, clusterID string) ([]*models.Link, error) {
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

	links, err := e.links.ListWithin(ctx, cluster.Members)
	if err != nil {
		return nil, apperr.Internal(err, "list links of cluster %s", clusterID)
	}
	return links, nil
}

// AllNodes returns every vertex with its degree and cluster membership
func (e *Engine) AllNodes(ctx context.Context) ([]NodeInfo, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if err := e.readyErr(); err != nil {
		return nil, err
	}

	nodes := make([]NodeInfo, 0, len(e.vertices))
	for id, doc := range e.vertices {
		nodes = append(nodes, NodeInfo{
			UserID:    id,
			ClusterID: e.clusters[id],
			Degree:    len(e.adj[id]),
			IsFraud:   isFraudDoc(doc),
		})
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].UserID < nodes[j].UserID })
	return nodes, nil
}

func (e *Engine) addEdge(link *models.Link) {
	if e.adj[link.Source] == nil {
		e.adj[link.Source] = make(map[string]*models.Link)
	}
	if e.adj[link.Target] == nil {
		e.adj[link.Target] = make(map[string]*models.Link)
	}
	e.adj[link.Source][link.Target] = link
	e.adj[link.Target][link.Source] = link
}

func (e *Engine) removeEdge(a, b string) {
	delete(e.adj[a], b)
	delete(e.adj[b], a)
}

func (e *Engine) edge(a, b string) *models.Link {
	return e.adj[a][b]
}

func (e *Engine) sortedVertexIDs() []string {
	ids := make([]string, 0, len(e.vertices))
	for id := range e.vertices {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func isFraudDoc(doc map[string]any) bool {
	fraud, _ := doc["is_fraud"].(bool)
	return fraud
}

func zipEqual(a, b map[string]any) bool {
	za, _ := a["address_zip"].(string)
	zb, _ := b["address_zip"].(string)
	return za != "" && za == zb
}

func containsString(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}
