package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/frauddetect/fraud-engine/configs"
	"github.com/frauddetect/fraud-engine/internal/clients"
	"github.com/frauddetect/fraud-engine/internal/graph"
	"github.com/frauddetect/fraud-engine/internal/metrics"
	"github.com/frauddetect/fraud-engine/internal/orchestrator"
	"github.com/frauddetect/fraud-engine/internal/queue"
	"github.com/frauddetect/fraud-engine/internal/repositories"
	"github.com/frauddetect/fraud-engine/internal/scoring"
	"github.com/frauddetect/fraud-engine/internal/stats"
	"github.com/frauddetect/fraud-engine/internal/store"
)

func main() {
	// Load .env file if exists
	_ = godotenv.Load()

	// Load configuration
	cfg := configs.Load()

	// Setup logging
	setupLogging(cfg.Server.Environment)

	log.Info().
		Str("environment", cfg.Server.Environment).
		Str("port", cfg.Server.Port).
		Msg("Starting Fraud Engine API Server")

	// Initialize store
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	st, err := store.Open(ctx, cfg.Store.URI, cfg.Store.Database, cfg.Store.Testing)
	cancel()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to store")
	}
	defer st.Close(context.Background())

	if err := st.EnsureIndexes(context.Background()); err != nil {
		log.Fatal().Err(err).Msg("Failed to ensure store indexes")
	}

	// Initialize Redis. The scoring-event pipeline and the verdict cache
	// are best-effort; the engine runs without them.
	streamClient, err := queue.NewRedisStreamClient(cfg.Redis)
	if err != nil {
		log.Warn().Err(err).Msg("Redis Stream unavailable, scoring events disabled")
		streamClient = nil
	} else {
		defer streamClient.Close()
	}

	cacheClient, err := queue.NewCacheClient(cfg.Redis)
	if err != nil {
		log.Warn().Err(err).Msg("Redis cache unavailable, verdict cache disabled")
		cacheClient = nil
	} else {
		defer cacheClient.Close()
	}

	// Initialize repositories
	userRepo := repositories.NewUserRepository(st)
	linkRepo := repositories.NewLinkRepository(st)
	ruleRepo := repositories.NewRuleRepository(st)
	policyRepo := repositories.NewPolicyRepository(st)
	clusterRepo := repositories.NewClusterRepository(st)
	txRepo := repositories.NewTransactionRepository(st)

	// Initialize engines
	ruleEngine := scoring.NewRuleEngine(txRepo)

	var publisher scoring.EventPublisher
	if streamClient != nil {
		publisher = streamClient
	}
	policyEngine := scoring.NewPolicyEngine(policyRepo, ruleRepo, ruleEngine, cacheClient, publisher, cfg.Redis.VerdictTTL)

	graphEngine := graph.NewEngine(userRepo, linkRepo, ruleRepo, clusterRepo)

	// Bulk-load the graph in the background; requests arriving before the
	// load completes receive 503.
	go func() {
		if err := graphEngine.Initialize(context.Background()); err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize graph engine")
		}
		metrics.SetGraphSize(graphEngine.Size())
	}()

	// Remote analyzers; the rules and graph branches switch to remote
	// deployments when their URLs are configured
	nnClient := clients.NewNNClient(cfg.Services.NNServiceURL, cfg.Services.RemoteTimeout)
	textClient := clients.NewTextClient(cfg.Services.TextAnalyzerURL, cfg.Services.RemoteTimeout)

	var rulesBranch orchestrator.RulesEvaluator = policyEngine
	if cfg.Services.RulesURL != "" {
		rulesBranch = clients.NewRulesClient(cfg.Services.RulesURL, cfg.Services.RemoteTimeout)
		log.Info().Str("url", cfg.Services.RulesURL).Msg("Using remote rules service")
	}
	var graphBranch orchestrator.GraphAnalyzer = orchestrator.LocalGraph{Engine: graphEngine}
	if cfg.Services.GraphServiceURL != "" {
		graphBranch = clients.NewGraphClient(cfg.Services.GraphServiceURL, cfg.Services.RemoteTimeout)
		log.Info().Str("url", cfg.Services.GraphServiceURL).Msg("Using remote graph service")
	}

	orch := orchestrator.New(orchestrator.Deps{
		Transactions:  txRepo,
		Rules:         rulesBranch,
		Graph:         graphBranch,
		NN:            nnClient,
		Text:          textClient,
		Cache:         cacheClient,
		Publisher:     publisher,
		BranchTimeout: cfg.Services.RemoteTimeout,
		TotalTimeout:  cfg.Services.OrchestratorTimeout,
		CacheTTL:      cfg.Redis.VerdictTTL,
	})

	statsService := stats.NewService(cacheClient, ruleRepo)

	// Setup Gin router
	if cfg.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestIDMiddleware())
	router.Use(loggingMiddleware())
	router.Use(corsMiddleware())

	rateLimiter := NewRateLimiter(cfg.Server.RateLimitRPS, cfg.Server.RateLimitBurst)
	router.Use(rateLimitMiddleware(rateLimiter))

	api := &apiServer{
		store:        st,
		cache:        cacheClient,
		graph:        graphEngine,
		policyEngine: policyEngine,
		orch:         orch,
		stats:        statsService,
		ruleRepo:     ruleRepo,
		policyRepo:   policyRepo,
	}
	api.setupRoutes(router)

	// Create HTTP server
	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Start server in goroutine
	go func() {
		log.Info().Str("port", cfg.Server.Port).Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server failed")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server exited")
}

func setupLogging(env string) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	if env == "development" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}

// Middleware

func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Set("request_id", requestID)
		c.Header("X-Request-ID", requestID)
		c.Next()
	}
}

func loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()
		metrics.ObserveHTTPRequest(c.Request.Method, c.FullPath(), status, latency)

		log.Info().
			Str("method", c.Request.Method).
			Str("path", path).
			Int("status", status).
			Dur("latency", latency).
			Str("request_id", c.GetString("request_id")).
			Str("client_ip", c.ClientIP()).
			Msg("Request completed")
	}
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, X-Request-ID")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// RateLimiter is a per-IP token bucket
type RateLimiter struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	rps      int
	burst    int
}

type visitor struct {
	tokens   float64
	lastSeen time.Time
}

// NewRateLimiter creates a limiter refilling rps tokens per second up to
// burst
func NewRateLimiter(rps, burst int) *RateLimiter {
	rl := &RateLimiter{
		visitors: make(map[string]*visitor),
		rps:      rps,
		burst:    burst,
	}
	go rl.cleanup()
	return rl
}

func (rl *RateLimiter) cleanup() {
	for {
		time.Sleep(time.Minute)
		rl.mu.Lock()
		for ip, v := range rl.visitors {
			if time.Since(v.lastSeen) > 2*time.Minute {
				delete(rl.visitors, ip)
			}
		}
		rl.mu.Unlock()
	}
}

func (rl *RateLimiter) Allow(ip string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	v, exists := rl.visitors[ip]
	if !exists {
		rl.visitors[ip] = &visitor{tokens: float64(rl.burst) - 1, lastSeen: now}
		return true
	}

	v.tokens += now.Sub(v.lastSeen).Seconds() * float64(rl.rps)
	if v.tokens > float64(rl.burst) {
		v.tokens = float64(rl.burst)
	}
	v.lastSeen = now

	if v.tokens >= 1 {
		v.tokens--
		return true
	}
	return false
}

func rateLimitMiddleware(limiter *RateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !limiter.Allow(c.ClientIP()) {
			c.Header("Retry-After", "1")
			c.JSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			c.Abort()
			return
		}
		c.Next()
	}
}
