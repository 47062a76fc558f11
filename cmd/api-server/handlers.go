package main

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/frauddetect/fraud-engine/internal/apperr"
	"github.com/frauddetect/fraud-engine/internal/graph"
	"github.com/frauddetect/fraud-engine/internal/metrics"
	"github.com/frauddetect/fraud-engine/internal/models"
	"github.com/frauddetect/fraud-engine/internal/orchestrator"
	"github.com/frauddetect/fraud-engine/internal/queue"
	"github.com/frauddetect/fraud-engine/internal/repositories"
	"github.com/frauddetect/fraud-engine/internal/scoring"
	"github.com/frauddetect/fraud-engine/internal/stats"
	"github.com/frauddetect/fraud-engine/internal/store"
)

// apiServer bundles the injected services the handlers close over
type apiServer struct {
	store        store.Store
	cache        *queue.CacheClient
	graph        *graph.Engine
	policyEngine *scoring.PolicyEngine
	orch         *orchestrator.Orchestrator
	stats        *stats.Service
	ruleRepo     *repositories.RuleRepository
	policyRepo   *repositories.PolicyRepository
}

func (s *apiServer) setupRoutes(router *gin.Engine) {
	router.GET("/health", s.healthHandler())
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	users := router.Group("/users")
	{
		users.POST("/", s.createUserHandler())
		users.GET("/:id", s.getUserHandler())
		users.PUT("/:id", s.updateUserHandler())
		users.DELETE("/:id", s.deleteUserHandler())
		users.GET("/:id/risk_info", s.userRiskInfoHandler())
	}

	router.GET("/nodes/", s.listNodesHandler())

	links := router.Group("/links")
	{
		links.POST("/", s.createLinkHandler())
		links.GET("/", s.listLinksHandler())
		links.GET("/:src/:tgt", s.getLinkHandler())
		links.DELETE("/:src/:tgt", s.deleteLinkHandler())
	}

	router.POST("/generate_links/", s.generateLinksHandler())
	router.POST("/cluster_nodes/", s.clusterNodesHandler())

	clusters := router.Group("/clusters")
	{
		clusters.GET("/", s.listClustersHandler())
		clusters.GET("/:id", s.getClusterHandler())
	}

	graphRules := router.Group("/graph_rules")
	{
		graphRules.POST("/", s.createRuleHandler(models.RuleTypeGraph))
		graphRules.GET("/", s.listRulesHandler(models.RuleTypeGraph))
		graphRules.GET("/:id", s.getRuleHandler(models.RuleTypeGraph))
		graphRules.PUT("/:id", s.updateRuleHandler(models.RuleTypeGraph))
		graphRules.DELETE("/:id", s.deleteGraphRuleHandler())
	}

	standardRules := router.Group("/standard_rules")
	{
		standardRules.POST("/", s.createRuleHandler(models.RuleTypeStandard))
		standardRules.GET("/", s.listRulesHandler(models.RuleTypeStandard))
		standardRules.GET("/:id", s.getRuleHandler(models.RuleTypeStandard))
		standardRules.PUT("/:id", s.updateRuleHandler(models.RuleTypeStandard))
		standardRules.DELETE("/:id", s.deleteRuleHandler(models.RuleTypeStandard))
	}

	velocityRules := router.Group("/velocity_rules")
	{
		velocityRules.POST("/", s.createRuleHandler(models.RuleTypeVelocity))
		velocityRules.GET("/", s.listRulesHandler(models.RuleTypeVelocity))
		velocityRules.GET("/:id", s.getRuleHandler(models.RuleTypeVelocity))
		velocityRules.PUT("/:id", s.updateRuleHandler(models.RuleTypeVelocity))
		velocityRules.DELETE("/:id", s.deleteRuleHandler(models.RuleTypeVelocity))
	}

	policies := router.Group("/policies")
	{
		policies.POST("/", s.createPolicyHandler())
		policies.GET("/", s.listPoliciesHandler())
		policies.GET("/:id", s.getPolicyHandler())
		policies.PUT("/:id", s.updatePolicyHandler())
		policies.DELETE("/:id", s.deletePolicyHandler())
	}

	router.POST("/transactions", s.scoreTransactionHandler())
	router.GET("/fraud_check/:transaction_id", s.fraudCheckHandler())
	router.GET("/analyze", s.analyzeHandler())
	router.GET("/rule_statistics/", s.ruleStatisticsHandler())
}

// respondErr maps a categorized error onto its HTTP status; anything
// uncategorized is an internal error and logged with full context.
func respondErr(c *gin.Context, err error) {
	status := apperr.HTTPStatus(err)
	if status == http.StatusInternalServerError {
		log.Error().
			Err(err).
			Str("path", c.Request.URL.Path).
			Str("request_id", c.GetString("request_id")).
			Msg("Request failed")
	}
	var e *apperr.Error
	if errors.As(err, &e) {
		c.JSON(status, gin.H{"error": e.Message, "code": string(e.Code)})
		return
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func (s *apiServer) publishGraphSize() {
	metrics.SetGraphSize(s.graph.Size())
}

// Health

func (s *apiServer) healthHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()

		storeOK := s.store.Ping(ctx) == nil
		graphOK := s.graph.Ready()
		redisState := "disabled"
		if s.cache != nil {
			if s.cache.Ping(ctx) == nil {
				redisState = "ok"
			} else {
				redisState = "down"
			}
		}

		body := gin.H{
			"store":     stateOf(storeOK),
			"graph":     stateOf(graphOK),
			"redis":     redisState,
			"timestamp": time.Now().Format(time.RFC3339),
		}
		if !storeOK || !graphOK {
			body["status"] = "unavailable"
			c.JSON(http.StatusServiceUnavailable, body)
			return
		}
		body["status"] = "healthy"
		c.JSON(http.StatusOK, body)
	}
}

func stateOf(ok bool) string {
	if ok {
		return "ok"
	}
	return "down"
}

// Users

func (s *apiServer) createUserHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var user models.User
		if err := c.ShouldBindJSON(&user); err != nil {
			respondErr(c, apperr.Validation("invalid user body: %v", err))
			return
		}
		if user.UserID == "" {
			respondErr(c, apperr.BadRequest("user_id is required"))
			return
		}

		if err := s.graph.CreateUser(c.Request.Context(), &user); err != nil {
			respondErr(c, err)
			return
		}
		s.publishGraphSize()
		c.JSON(http.StatusOK, user)
	}
}

func (s *apiServer) getUserHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		user, err := s.graph.ReadUser(c.Request.Context(), c.Param("id"))
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, user)
	}
}

func (s *apiServer) updateUserHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var user models.User
		if err := c.ShouldBindJSON(&user); err != nil {
			respondErr(c, apperr.Validation("invalid user body: %v", err))
			return
		}
		user.UserID = c.Param("id")

		if err := s.graph.UpdateUser(c.Request.Context(), &user); err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, user)
	}
}

func (s *apiServer) deleteUserHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.Param("id")
		if err := s.graph.DeleteUser(c.Request.Context(), userID); err != nil {
			respondErr(c, err)
			return
		}
		s.publishGraphSize()
		c.JSON(http.StatusOK, gin.H{"message": "user deleted", "user_id": userID})
	}
}

func (s *apiServer) userRiskInfoHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.cache == nil {
			respondErr(c, apperr.Unavailable("statistics backend not configured"))
			return
		}
		info, err := s.stats.UserRiskInfo(c.Request.Context(), c.Param("id"))
		if err != nil {
			respondErr(c, apperr.Internal(err, "read user risk info"))
			return
		}
		c.JSON(http.StatusOK, info)
	}
}

// Nodes and links

func (s *apiServer) listNodesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		nodes, err := s.graph.AllNodes(c.Request.Context())
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"nodes": nodes, "count": len(nodes)})
	}
}

func (s *apiServer) createLinkHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			Source  string   `json:"source"`
			Target  string   `json:"target"`
			Type    string   `json:"type"`
			Weight  *float64 `json:"weight"`
			Reasons []string `json:"reasons"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			respondErr(c, apperr.Validation("invalid link body: %v", err))
			return
		}
		if req.Source == "" || req.Target == "" {
			respondErr(c, apperr.BadRequest("source and target are required"))
			return
		}
		if req.Source == req.Target {
			respondErr(c, apperr.Validation("link endpoints must differ"))
			return
		}

		weight := 1.0
		if req.Weight != nil {
			weight = *req.Weight
		}
		if weight < 0 || weight > 1 {
			respondErr(c, apperr.Validation("weight must be between 0 and 1"))
			return
		}
		linkType := req.Type
		if linkType == "" {
			linkType = models.LinkTypeManual
		}

		link := &models.Link{
			Source:  req.Source,
			Target:  req.Target,
			Type:    linkType,
			Weight:  weight,
			Reasons: req.Reasons,
		}
		if err := s.graph.CreateLink(c.Request.Context(), link); err != nil {
			respondErr(c, err)
			return
		}
		s.publishGraphSize()
		c.JSON(http.StatusOK, link)
	}
}

func (s *apiServer) listLinksHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var (
			links []*models.Link
			err   error
		)
		if clusterID := c.Query("cluster_id"); clusterID != "" {
			links, err = s.graph.LinksByCluster(c.Request.Context(), clusterID)
		} else {
			links, err = s.graph.AllLinks(c.Request.Context())
		}
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"links": links, "count": len(links)})
	}
}

func (s *apiServer) getLinkHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		link, err := s.graph.ReadLink(c.Request.Context(), c.Param("src"), c.Param("tgt"))
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, link)
	}
}

func (s *apiServer) deleteLinkHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := s.graph.DeleteLink(c.Request.Context(), c.Param("src"), c.Param("tgt")); err != nil {
			respondErr(c, err)
			return
		}
		s.publishGraphSize()
		c.JSON(http.StatusOK, gin.H{"message": "link deleted"})
	}
}

func (s *apiServer) generateLinksHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		created, err := s.graph.GenerateLinks(c.Request.Context())
		if err != nil {
			respondErr(c, err)
			return
		}
		s.publishGraphSize()
		c.JSON(http.StatusOK, gin.H{"links_created": created})
	}
}

// Clusters

func (s *apiServer) clusterNodesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		clusters, err := s.graph.ClusterNodes(c.Request.Context())
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"clusters": clusters, "count": len(clusters)})
	}
}

func (s *apiServer) listClustersHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		clusters, err := s.graph.AllClusters(c.Request.Context())
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"clusters": clusters, "count": len(clusters)})
	}
}

func (s *apiServer) getClusterHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		cluster, err := s.graph.ClusterByID(c.Request.Context(), c.Param("id"))
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, cluster)
	}
}

// Rules. Standard, velocity and graph rules share the repository and most
// of the handler plumbing; each group binds its own validation.

func (s *apiServer) validateRule(rule *models.Rule) error {
	if rule.RiskPoint < 0 {
		return apperr.Validation("risk_point must not be negative")
	}

	switch rule.RuleType {
	case models.RuleTypeStandard:
		if rule.Field == "" {
			return apperr.BadRequest("field is required")
		}
		if !models.ValidStandardOperator(rule.Operator) {
			return apperr.Validation("unknown operator %q", rule.Operator)
		}
	case models.RuleTypeVelocity:
		if _, err := scoring.ParseTimeRange(rule.TimeRange); err != nil {
			return apperr.Validation("invalid time_range: %v", err)
		}
		if !models.ValidAggregation(rule.AggregationFunction) {
			return apperr.Validation("unknown aggregation_function %q", rule.AggregationFunction)
		}
		if rule.AggregationFunction != models.AggCount && rule.Field == "" {
			return apperr.BadRequest("field is required for %s", rule.AggregationFunction)
		}
	case models.RuleTypeGraph:
		if rule.Field1 == "" {
			return apperr.BadRequest("field1 is required")
		}
		if !models.ValidGraphOperator(rule.Operator) {
			return apperr.Validation("unknown graph operator %q", rule.Operator)
		}
		if rule.Field2 == "" && rule.Value == nil {
			return apperr.BadRequest("either field2 or value is required")
		}
		// Graph rules never contribute risk points directly
		rule.RiskPoint = 0
	}
	return nil
}

func (s *apiServer) createRuleHandler(ruleType models.RuleType) gin.HandlerFunc {
	return func(c *gin.Context) {
		var rule models.Rule
		if err := c.ShouldBindJSON(&rule); err != nil {
			respondErr(c, apperr.Validation("invalid rule body: %v", err))
			return
		}
		rule.RuleType = ruleType
		if rule.Name == "" {
			rule.Name = rule.Description
		}
		if err := s.validateRule(&rule); err != nil {
			respondErr(c, err)
			return
		}

		if err := s.ruleRepo.Create(c.Request.Context(), &rule); err != nil {
			respondErr(c, apperr.Internal(err, "create rule"))
			return
		}
		c.JSON(http.StatusOK, rule)
	}
}

func (s *apiServer) listRulesHandler(ruleType models.RuleType) gin.HandlerFunc {
	return func(c *gin.Context) {
		rules, err := s.ruleRepo.List(c.Request.Context(), ruleType)
		if err != nil {
			respondErr(c, apperr.Internal(err, "list rules"))
			return
		}
		c.JSON(http.StatusOK, gin.H{"rules": rules, "count": len(rules)})
	}
}

// findRule loads a rule and checks it belongs to the handler's type, so
// a velocity rule is not readable through /standard_rules/.
func (s *apiServer) findRule(c *gin.Context, ruleType models.RuleType) (*models.Rule, error) {
	ruleID := c.Param("id")
	rule, err := s.ruleRepo.GetByID(c.Request.Context(), ruleID)
	if err != nil {
		if errors.Is(err, repositories.ErrRuleNotFound) {
			return nil, apperr.NotFound("rule %s not found", ruleID)
		}
		return nil, apperr.Internal(err, "read rule %s", ruleID)
	}
	if rule.RuleType != ruleType {
		return nil, apperr.NotFound("%s rule %s not found", ruleType, ruleID)
	}
	return rule, nil
}

func (s *apiServer) getRuleHandler(ruleType models.RuleType) gin.HandlerFunc {
	return func(c *gin.Context) {
		rule, err := s.findRule(c, ruleType)
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, rule)
	}
}

func (s *apiServer) updateRuleHandler(ruleType models.RuleType) gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, err := s.findRule(c, ruleType); err != nil {
			respondErr(c, err)
			return
		}

		var rule models.Rule
		if err := c.ShouldBindJSON(&rule); err != nil {
			respondErr(c, apperr.Validation("invalid rule body: %v", err))
			return
		}
		rule.RuleID = c.Param("id")
		rule.RuleType = ruleType
		if rule.Name == "" {
			rule.Name = rule.Description
		}
		if err := s.validateRule(&rule); err != nil {
			respondErr(c, err)
			return
		}

		if err := s.ruleRepo.Update(c.Request.Context(), &rule); err != nil {
			respondErr(c, apperr.Internal(err, "update rule %s", rule.RuleID))
			return
		}
		c.JSON(http.StatusOK, rule)
	}
}

func (s *apiServer) deleteRuleHandler(ruleType models.RuleType) gin.HandlerFunc {
	return func(c *gin.Context) {
		rule, err := s.findRule(c, ruleType)
		if err != nil {
			respondErr(c, err)
			return
		}

		if err := s.ruleRepo.Delete(c.Request.Context(), rule.RuleID); err != nil {
			respondErr(c, apperr.Internal(err, "delete rule %s", rule.RuleID))
			return
		}
		if err := s.policyRepo.RemoveRuleRef(c.Request.Context(), rule.RuleID); err != nil {
			log.Warn().
				Err(err).
				Str("rule_id", rule.RuleID).
				Msg("Failed to remove rule reference from policies")
		}
		c.JSON(http.StatusOK, gin.H{"message": "rule deleted", "rule_id": rule.RuleID})
	}
}

// deleteGraphRuleHandler goes through the graph engine so every link the
// rule produced is cascaded out of the store and the mirror together.
func (s *apiServer) deleteGraphRuleHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ruleID := c.Param("id")
		if err := s.graph.DeleteGraphRule(c.Request.Context(), ruleID); err != nil {
			respondErr(c, err)
			return
		}
		s.publishGraphSize()
		c.JSON(http.StatusOK, gin.H{"message": "rule deleted", "rule_id": ruleID})
	}
}

// Policies

func (s *apiServer) createPolicyHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var policy models.Policy
		if err := c.ShouldBindJSON(&policy); err != nil {
			respondErr(c, apperr.Validation("invalid policy body: %v", err))
			return
		}
		if policy.Name == "" {
			respondErr(c, apperr.BadRequest("name is required"))
			return
		}

		if err := s.policyRepo.Create(c.Request.Context(), &policy); err != nil {
			respondErr(c, apperr.Internal(err, "create policy"))
			return
		}
		c.JSON(http.StatusOK, policy)
	}
}

func (s *apiServer) listPoliciesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		policies, err := s.policyRepo.List(c.Request.Context())
		if err != nil {
			respondErr(c, apperr.Internal(err, "list policies"))
			return
		}
		c.JSON(http.StatusOK, gin.H{"policies": policies, "count": len(policies)})
	}
}

func (s *apiServer) getPolicyHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		policyID := c.Param("id")
		policy, err := s.policyRepo.GetByID(c.Request.Context(), policyID)
		if err != nil {
			if errors.Is(err, repositories.ErrPolicyNotFound) {
				respondErr(c, apperr.NotFound("policy %s not found", policyID))
				return
			}
			respondErr(c, apperr.Internal(err, "read policy %s", policyID))
			return
		}
		c.JSON(http.StatusOK, policy)
	}
}

func (s *apiServer) updatePolicyHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var policy models.Policy
		if err := c.ShouldBindJSON(&policy); err != nil {
			respondErr(c, apperr.Validation("invalid policy body: %v", err))
			return
		}
		policy.PolicyID = c.Param("id")

		if err := s.policyRepo.Update(c.Request.Context(), &policy); err != nil {
			if errors.Is(err, repositories.ErrPolicyNotFound) {
				respondErr(c, apperr.NotFound("policy %s not found", policy.PolicyID))
				return
			}
			respondErr(c, apperr.Internal(err, "update policy %s", policy.PolicyID))
			return
		}
		c.JSON(http.StatusOK, policy)
	}
}

func (s *apiServer) deletePolicyHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		policyID := c.Param("id")
		if err := s.policyRepo.Delete(c.Request.Context(), policyID); err != nil {
			if errors.Is(err, repositories.ErrPolicyNotFound) {
				respondErr(c, apperr.NotFound("policy %s not found", policyID))
				return
			}
			respondErr(c, apperr.Internal(err, "delete policy %s", policyID))
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "policy deleted", "policy_id": policyID})
	}
}

// Scoring

func (s *apiServer) scoreTransactionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var tx models.Transaction
		if err := c.ShouldBindJSON(&tx); err != nil {
			respondErr(c, apperr.Validation("invalid transaction body: %v", err))
			return
		}
		if tx.UserID == "" {
			respondErr(c, apperr.BadRequest("user_id is required"))
			return
		}
		if tx.Amount <= 0 {
			respondErr(c, apperr.Validation("amount must be greater than zero"))
			return
		}
		if !models.ValidTransactionType(tx.TransactionType) {
			respondErr(c, apperr.Validation("unknown transaction_type %q", tx.TransactionType))
			return
		}
		if tx.TransactionID == "" {
			tx.TransactionID = uuid.NewString()
		}
		if tx.Timestamp.IsZero() {
			tx.Timestamp = time.Now()
		}

		result, err := s.policyEngine.EvaluateTransaction(c.Request.Context(), &tx)
		if err != nil {
			respondErr(c, apperr.Internal(err, "evaluate transaction %s", tx.TransactionID))
			return
		}
		c.JSON(http.StatusOK, result)
	}
}

func (s *apiServer) fraudCheckHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		result, err := s.orch.FraudCheck(c.Request.Context(), c.Param("transaction_id"))
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, result)
	}
}

func (s *apiServer) analyzeHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		// The analyze endpoint takes its arguments from a GET body,
		// matching the graph service wire contract.
		var req struct {
			UserID      string              `json:"user_id"`
			Transaction *models.Transaction `json:"transaction"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			respondErr(c, apperr.BadRequest("invalid analyze body: %v", err))
			return
		}

		var txDoc map[string]any
		if req.Transaction != nil {
			txDoc = req.Transaction.Doc()
		}
		result, err := s.graph.Analyze(c.Request.Context(), req.UserID, txDoc)
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, result)
	}
}

func (s *apiServer) ruleStatisticsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.cache == nil {
			respondErr(c, apperr.Unavailable("statistics backend not configured"))
			return
		}
		ruleStats, err := s.stats.RuleStatistics(c.Request.Context())
		if err != nil {
			respondErr(c, apperr.Internal(err, "read rule statistics"))
			return
		}
		c.JSON(http.StatusOK, gin.H{"rule_statistics": ruleStats, "count": len(ruleStats)})
	}
}
