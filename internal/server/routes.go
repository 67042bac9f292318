package server

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/ManageCommand/managecommand/internal/agent"
	"github.com/ManageCommand/managecommand/internal/auth"
	"github.com/ManageCommand/managecommand/internal/catalog"
	"github.com/ManageCommand/managecommand/internal/observability"
)

const componentName = "server"

// Config configures the dev control server.
type Config struct {
	ListenAddr  string
	APIKey      string
	CORSOrigins []string
}

func DefaultConfig() Config {
	return Config{ListenAddr: "127.0.0.1:8400"}
}

// Service binds control-plane state to an HTTP router.
type Service struct {
	cfg       Config
	state     *State
	router    *gin.Engine
	validator auth.Validator
	started   time.Time
}

func NewService(cfg Config) *Service {
	observability.RegisterMetrics()
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.RequestLogger(log.Logger))
	r.Use(observability.RequestMetricsMiddleware(componentName))
	r.Use(cors.New(cors.Config{
		AllowOrigins: normalizeOrigins(cfg.CORSOrigins),
		AllowMethods: []string{"GET", "POST"},
		AllowHeaders: []string{"Origin", "Content-Type", "Authorization"},
		MaxAge:       12 * time.Hour,
	}))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	s := &Service{
		cfg:       cfg,
		state:     NewState(),
		router:    r,
		validator: auth.StaticToken{Token: strings.TrimSpace(cfg.APIKey)},
		started:   time.Now(),
	}
	s.registerRoutes()
	return s
}

func (s *Service) State() *State {
	return s.state
}

func (s *Service) Router() *gin.Engine {
	return s.router
}

// Run serves the API until the listener fails.
func (s *Service) Run() error {
	log.Info().Str("addr", s.cfg.ListenAddr).Msg("control server listening")
	return s.router.Run(s.cfg.ListenAddr)
}

func (s *Service) registerRoutes() {
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "ok",
			"uptime":    time.Since(s.started).String(),
			"component": componentName,
			"version":   agent.Version,
		})
	})
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := s.router.Group("/api")
	api.Use(s.requireAuth())

	api.POST("/agent/sync", s.handleSync)
	api.POST("/agent/heartbeat", s.handleHeartbeat)
	api.GET("/agent/executions/pending", s.handlePending)
	api.POST("/agent/executions/:id/result", s.handleResult)

	api.POST("/executions", s.handleEnqueue)
	api.GET("/executions/:id", s.handleInspect)
	api.GET("/agents", s.handleAgents)
}

// requireAuth validates the bearer credential on every API request.
func (s *Service) requireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := auth.BearerToken(c.GetHeader("Authorization"))
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "bearer credential required"})
			return
		}
		if err := s.validator.Validate(token); err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid credential"})
			return
		}
		c.Next()
	}
}

type syncPayload struct {
	AgentID  string               `json:"agent_id"`
	Commands []catalog.Descriptor `json:"commands"`
	Hash     string               `json:"hash"`
}

func (s *Service) handleSync(c *gin.Context) {
	var payload syncPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	count := s.state.SyncAgent(payload.AgentID, payload.Commands, payload.Hash)
	c.JSON(http.StatusOK, gin.H{
		"synced_count":  count,
		"commands_hash": payload.Hash,
	})
}

type heartbeatPayload struct {
	AgentID      string `json:"agent_id"`
	AgentVersion string `json:"agent_version"`
	GoVersion    string `json:"go_version"`
	Hostname     string `json:"hostname"`
	CommandsHash string `json:"commands_hash"`
	InFlight     int    `json:"in_flight"`
}

func (s *Service) handleHeartbeat(c *gin.Context) {
	var payload heartbeatPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	inSync, pending := s.state.Heartbeat(
		payload.AgentID,
		payload.CommandsHash,
		payload.AgentVersion,
		payload.GoVersion,
		payload.Hostname,
	)
	observability.RecordHeartbeat(payload.AgentID)
	observability.SetPendingExecutions(pending)
	c.JSON(http.StatusOK, gin.H{
		"commands_in_sync":   inSync,
		"pending_executions": pending,
	})
}

func (s *Service) handlePending(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"executions": s.state.Pending()})
}

func (s *Service) handleResult(c *gin.Context) {
	var result agent.ExecutionResult
	if err := c.ShouldBindJSON(&result); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	result.ID = c.Param("id")
	first, err := s.state.AcceptResult(result)
	if err != nil {
		if errors.Is(err, ErrUnknownExecution) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if first {
		observability.RecordExecutionResult(agentIDOf(c), result.Status)
	}
	observability.SetPendingExecutions(s.state.PendingCount())
	c.JSON(http.StatusOK, gin.H{"accepted": true, "duplicate": !first})
}

func (s *Service) handleEnqueue(c *gin.Context) {
	var req agent.ExecutionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	queued, err := s.state.Enqueue(req)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	observability.SetPendingExecutions(s.state.PendingCount())
	c.JSON(http.StatusAccepted, gin.H{"execution": queued})
}

func (s *Service) handleInspect(c *gin.Context) {
	rec, ok := s.state.Execution(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "execution not found"})
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (s *Service) handleAgents(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"agents": s.state.Agents()})
}

func agentIDOf(c *gin.Context) string {
	if id := strings.TrimSpace(c.Query("agent_id")); id != "" {
		return id
	}
	return "unknown"
}

func normalizeOrigins(origins []string) []string {
	out := make([]string, 0, len(origins))
	for _, o := range origins {
		o = strings.TrimSpace(o)
		if o == "" {
			continue
		}
		out = append(out, o)
	}
	if len(out) == 0 {
		return []string{"http://localhost:5173"}
	}
	return out
}
