// Package probeproto implements the Remote Probe Protocol (spec.md §4.7):
// registration, heartbeat, exclusive job assignment, claim, and result
// submission between the core and a probe agent (cmd/probeagent),
// adapted from the teacher's pkg/auth bearer-token pattern and the
// request/response shape its pkg/probe handlers use for the gate-probe
// surface.
package probeproto

import (
	"time"

	"github.com/nightwatch/nightwatch/pkg/executor"
)

// RegisterRequest registers a new probe under an organization.
type RegisterRequest struct {
	OrgID  string `json:"orgId" binding:"required"`
	Name   string `json:"name" binding:"required"`
	Region string `json:"region" binding:"required"`
}

// RegisterResponse returns the bearer token the probe must present on
// every subsequent call — shown exactly once, same as the teacher's
// session-token issuance.
type RegisterResponse struct {
	ProbeID string `json:"probeId"`
	Token   string `json:"token"`
}

// HeartbeatRequest carries the probe's liveness + telemetry snapshot
// (spec.md §4.7/§10): resource usage plus a running count of the jobs
// the agent has in flight, has completed, and has failed since it
// started, and its rolling average check latency.
type HeartbeatRequest struct {
	CPUUsage        float64 `json:"cpuUsage"`
	MemoryUsage     float64 `json:"memoryUsage"`
	ActiveJobs      int     `json:"activeJobs"`
	CompletedJobs   int64   `json:"completedJobs"`
	FailedJobs      int64   `json:"failedJobs"`
	AvgResponseTime float64 `json:"avgResponseTime"`
	Version         string  `json:"version"`
}

// ClaimRequest asks for up to BatchSize pending jobs.
type ClaimRequest struct {
	BatchSize int `json:"batchSize"`
}

// ClaimedJob is one unit of work a probe must execute locally.
type ClaimedJob struct {
	JobID     string       `json:"jobId"`
	MonitorID string       `json:"monitorId"`
	Job       executor.Job `json:"job"`
}

// ClaimResponse returns whatever jobs the probe successfully claimed —
// zero is a normal "nothing pending" outcome, not an error.
type ClaimResponse struct {
	Jobs []ClaimedJob `json:"jobs"`
}

// SubmitResultRequest reports a completed job's outcome back to the core.
type SubmitResultRequest struct {
	JobID     string               `json:"jobId"`
	MonitorID string               `json:"monitorId"`
	Region    string               `json:"region"`
	Result    executor.CheckResult `json:"result"`
}

// jobExpiry is how long a pending job assignment stays claimable before
// the probe-health timer reaps it (spec.md §4.7).
const jobExpiry = 5 * time.Minute

// offlineAfter is how long a probe can go without a heartbeat before the
// probe-health timer marks it offline.
const offlineAfter = 2 * time.Minute
