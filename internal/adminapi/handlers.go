package adminapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/agentfabric/rrsc/internal/policy"
)

// putRule registers a Rule built from the request body. The body carries
// no condition tree (the DSL has no wire-format parser in this core), so
// a rule stored through this route has a nil Condition.
func (s *Server) putRule(c *gin.Context) {
	id := c.Param("id")
	var req struct {
		Enabled   bool                  `json:"enabled"`
		Priority  int                   `json:"priority"`
		Condition *policy.ConditionTree `json:"-"`
		Action    policy.Action         `json:"action"`
		Strategy  policy.FilterStrategy `json:"strategy"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid rule body"})
		return
	}
	s.policy.PutRule(policy.Rule{
		ID: id, Enabled: req.Enabled, Priority: req.Priority,
		Condition: req.Condition, Action: req.Action, Strategy: req.Strategy,
	})
	c.JSON(http.StatusOK, gin.H{"id": id})
}

func (s *Server) deleteRule(c *gin.Context) {
	if err := s.policy.DeleteRule(c.Param("id")); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) putPolicy(c *gin.Context) {
	id := c.Param("id")
	var req struct {
		Enabled  bool          `json:"enabled"`
		Scope    policy.Scope  `json:"scope"`
		ScopeID  string        `json:"scope_id"`
		Priority int           `json:"priority"`
		RuleIDs  []string      `json:"rule_ids"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid policy body"})
		return
	}
	s.policy.PutPolicy(policy.Policy{
		ID: id, Enabled: req.Enabled, Scope: req.Scope, ScopeID: req.ScopeID,
		Priority: req.Priority, RuleIDs: req.RuleIDs,
	})
	c.JSON(http.StatusOK, gin.H{"id": id})
}

func (s *Server) deletePolicy(c *gin.Context) {
	if err := s.policy.DeletePolicy(c.Param("id")); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) evaluate(c *gin.Context) {
	var req struct {
		Context policy.Context `json:"context"`
		Content string         `json:"content"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid evaluate body"})
		return
	}
	result, err := s.policy.EvaluateAndEnforce(req.Context, req.Content)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) getHealth(c *gin.Context) {
	info := s.health.Info()
	c.JSON(http.StatusOK, gin.H{
		"status": info.OverallStatus.String(),
		"ready":  info.Ready,
		"uptime": info.Uptime.String(),
	})
}

func (s *Server) getReady(c *gin.Context) {
	info := s.health.Info()
	if !info.Ready {
		c.JSON(http.StatusServiceUnavailable, gin.H{"ready": false})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ready": true})
}
