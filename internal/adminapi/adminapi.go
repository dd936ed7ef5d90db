// Package adminapi exposes the policy admin CRUD surface and the
// status/health endpoints over HTTP, plus a live event feed over
// websocket. Grounded on internal/gateway.Gateway's route/middleware
// layout and WSClient read/write pump pair, with the trading-domain
// handlers replaced by policy-admin and health handlers and an
// authn.Verifier standing in for the stubbed validateToken.
package adminapi

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/agentfabric/rrsc/internal/authn"
	"github.com/agentfabric/rrsc/internal/health"
	"github.com/agentfabric/rrsc/internal/policy"
)

// Server is the admin HTTP/WS API.
type Server struct {
	router   *gin.Engine
	policy   *policy.Engine
	health   *health.Aggregator
	verifier *authn.Verifier

	wsMu      sync.RWMutex
	wsClients map[uuid.UUID]*wsClient
}

// Config tunes rate limiting and timeouts for the admin server.
type Config struct {
	RateLimitWindow time.Duration
	RateLimitMax    int
}

type wsClient struct {
	id   uuid.UUID
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
}

// New builds a Server wired to policyEngine and healthAggregator, with
// verifier guarding every mutating route.
func New(cfg Config, policyEngine *policy.Engine, healthAggregator *health.Aggregator, verifier *authn.Verifier) *Server {
	s := &Server{
		router:    gin.Default(),
		policy:    policyEngine,
		health:    healthAggregator,
		verifier:  verifier,
		wsClients: make(map[uuid.UUID]*wsClient),
	}
	limiter := newRateLimiter(cfg.RateLimitMax, cfg.RateLimitWindow)
	s.router.Use(limiter.middleware())
	s.router.Use(correlationMiddleware())
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.GET("/healthz", s.getHealth)
	s.router.GET("/readyz", s.getReady)

	v1 := s.router.Group("/api/v1")
	v1.Use(s.authMiddleware())
	{
		v1.PUT("/rules/:id", s.putRule)
		v1.DELETE("/rules/:id", s.deleteRule)
		v1.PUT("/policies/:id", s.putPolicy)
		v1.DELETE("/policies/:id", s.deletePolicy)
		v1.POST("/evaluate", s.evaluate)
		v1.GET("/events", s.handleEventFeed)
	}
}

// Run starts the HTTP server on addr. Blocks until the listener errors.
func (s *Server) Run(addr string) error {
	return s.router.Run(addr)
}

func (s *Server) authMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.verifier == nil {
			c.Next()
			return
		}
		claims, err := s.verifier.Verify(c.GetHeader("Authorization"))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}
		c.Set("claims", claims)
		c.Next()
	}
}

func correlationMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Correlation-ID")
		if id == "" {
			id = uuid.New().String()
		}
		c.Set("correlation_id", id)
		c.Header("X-Correlation-ID", id)
		c.Next()
	}
}
