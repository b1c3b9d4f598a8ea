package probeproto

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/nightwatch/nightwatch/pkg/auth"
	"github.com/nightwatch/nightwatch/pkg/database"
	"github.com/nightwatch/nightwatch/pkg/executor"
	"github.com/nightwatch/nightwatch/pkg/ingest"
)

// Server exposes the probe-facing HTTP surface, mounted under
// /v1/probe by cmd/core's router.
type Server struct {
	db        *database.DB
	auth      *auth.Auth
	ingest    *ingest.Ingest
	telemetry *telemetryStore
	log       *slog.Logger
}

// New constructs a Server.
func New(db *database.DB, a *auth.Auth, in *ingest.Ingest, log *slog.Logger) *Server {
	return &Server{db: db, auth: a, ingest: in, telemetry: newTelemetryStore(), log: log}
}

// RegisterRoutes binds every probe protocol endpoint onto a gin router
// group, the same grouping idiom the teacher's cmd/probe uses.
func (s *Server) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/register", s.handleRegister)

	authed := rg.Group("", s.requireProbeToken())
	authed.POST("/heartbeat", s.handleHeartbeat)
	authed.POST("/claim", s.handleClaim)
	authed.POST("/results", s.handleSubmitResult)
	authed.GET("/status", s.handleDetailedStatus)
}

// requireProbeToken validates the bearer token and stashes the claims
// and loaded Probe row on the gin context.
func (s *Server) requireProbeToken() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := extractBearer(c.GetHeader("Authorization"))
		if token == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			c.Abort()
			return
		}

		claims, err := s.auth.VerifyProbeToken(token)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid probe token"})
			c.Abort()
			return
		}

		probe, err := s.db.Probes().GetByID(claims.ProbeID)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unknown probe"})
			c.Abort()
			return
		}
		if probe.Status == database.ProbeStatusDisabled {
			c.JSON(http.StatusForbidden, gin.H{"error": "probe disabled"})
			c.Abort()
			return
		}

		c.Set("probe", probe)
		c.Next()
	}
}

func extractBearer(header string) string {
	const prefix = "Bearer "
	if len(header) > len(prefix) && header[:len(prefix)] == prefix {
		return header[len(prefix):]
	}
	return ""
}

func (s *Server) handleRegister(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	probe := &database.Probe{
		OrgID:  req.OrgID,
		Name:   req.Name,
		Status: database.ProbeStatusPending,
	}
	if err := s.db.Probes().Create(probe); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to register probe"})
		return
	}

	token, err := s.auth.IssueProbeToken(probe.ID, probe.OrgID, req.Region)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to issue probe token"})
		return
	}

	c.JSON(http.StatusCreated, RegisterResponse{ProbeID: probe.ID, Token: token})
}

func (s *Server) handleHeartbeat(c *gin.Context) {
	probe := c.MustGet("probe").(*database.Probe)

	var req HeartbeatRequest
	_ = c.ShouldBindJSON(&req) // telemetry fields are informational only; a malformed body shouldn't fail liveness

	now := time.Now()
	if err := s.db.Probes().Heartbeat(probe.ID, now); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to record heartbeat"})
		return
	}
	s.telemetry.record(probe.ID, ProbeHeartbeatSample{
		ReceivedAt:      now,
		CPUUsage:        req.CPUUsage,
		MemoryUsage:     req.MemoryUsage,
		ActiveJobs:      req.ActiveJobs,
		CompletedJobs:   req.CompletedJobs,
		FailedJobs:      req.FailedJobs,
		AvgResponseTime: req.AvgResponseTime,
		Version:         req.Version,
	})
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// handleDetailedStatus returns the calling probe's retained telemetry
// ring, the GetDetailedStatus-style operational view spec.md §10 calls
// for without re-deriving it from the heartbeat stream on every request.
func (s *Server) handleDetailedStatus(c *gin.Context) {
	probe := c.MustGet("probe").(*database.Probe)
	c.JSON(http.StatusOK, gin.H{
		"probeId": probe.ID,
		"status":  probe.Status,
		"history": s.telemetry.history(probe.ID),
	})
}

func (s *Server) handleClaim(c *gin.Context) {
	probe := c.MustGet("probe").(*database.Probe)

	var req ClaimRequest
	_ = c.ShouldBindJSON(&req)
	if req.BatchSize <= 0 {
		req.BatchSize = 10
	}

	pending, err := s.db.Probes().ClaimPendingJobs(probe.ID, req.BatchSize)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to claim jobs"})
		return
	}

	jobs := make([]ClaimedJob, 0, len(pending))
	for _, p := range pending {
		raw, err := json.Marshal(p.JobData)
		if err != nil {
			s.log.Error("probeproto: failed to marshal pending job data", "job_id", p.ID, "error", err)
			continue
		}
		var job executor.Job
		if err := json.Unmarshal(raw, &job); err != nil {
			s.log.Error("probeproto: malformed pending job data", "job_id", p.ID, "error", err)
			continue
		}
		jobs = append(jobs, ClaimedJob{JobID: p.ID, MonitorID: p.MonitorID, Job: job})
	}

	c.JSON(http.StatusOK, ClaimResponse{Jobs: jobs})
}

func (s *Server) handleSubmitResult(c *gin.Context) {
	probe := c.MustGet("probe").(*database.Probe)

	var req SubmitResultRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	monitor, err := s.db.Monitors().GetByID(req.MonitorID)
	if err != nil || monitor == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "monitor not found for submitted job"})
		return
	}

	if err := s.ingest.Ingest(c.Request.Context(), monitor, req.Region, req.Result); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to ingest result"})
		return
	}
	if err := s.db.Probes().CompleteJob(req.JobID); err != nil {
		s.log.Error("probeproto: failed to mark job complete", "job_id", req.JobID, "probe_id", probe.ID, "error", err)
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
