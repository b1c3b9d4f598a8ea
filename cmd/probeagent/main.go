// cmd/probeagent runs the remote probe agent daemon (spec.md §4.7,
// §4.9): registers with the core, heartbeats on an interval, polls for
// jobs to claim on a fixed interval (the claim call does not long-poll),
// executes them locally through pkg/executor, and
// reports results back — the daemon-loop-plus-signal-handling shape of
// the teacher's cmd/probe/main.go, restructured around an outbound
// client instead of an inbound gin server.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/nightwatch/nightwatch/pkg/config"
	"github.com/nightwatch/nightwatch/pkg/executor"
	"github.com/nightwatch/nightwatch/pkg/probeproto"
)

const agentVersion = "1.0.0"

// jobStats tracks the counters the heartbeat payload reports (spec.md
// §4.7/§10: activeJobs/completedJobs/failedJobs/avgResponseTime),
// guarded by a mutex since the claim loop and the heartbeat ticker run
// on separate goroutines.
type jobStats struct {
	mu              sync.Mutex
	active          int
	completed       int64
	failed          int64
	totalResponseMs int64
	responseSamples int64
}

func (s *jobStats) begin() {
	s.mu.Lock()
	s.active++
	s.mu.Unlock()
}

func (s *jobStats) finish(success bool, responseTime time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active--
	if success {
		s.completed++
	} else {
		s.failed++
	}
	if responseTime > 0 {
		s.totalResponseMs += responseTime.Milliseconds()
		s.responseSamples++
	}
}

func (s *jobStats) snapshot() (active int, completed, failed int64, avgResponseMs float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	active, completed, failed = s.active, s.completed, s.failed
	if s.responseSamples > 0 {
		avgResponseMs = float64(s.totalResponseMs) / float64(s.responseSamples)
	}
	return
}

func main() {
	log := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	cfg, err := config.Load()
	if err != nil {
		log.Error("probeagent: failed to load configuration", "error", err)
		os.Exit(1)
	}

	orgID := os.Getenv("NIGHTWATCH_PROBE_ORG_ID")
	name := os.Getenv("NIGHTWATCH_PROBE_NAME")
	region := os.Getenv("NIGHTWATCH_PROBE_REGION")
	if orgID == "" || name == "" || region == "" {
		log.Error("probeagent: NIGHTWATCH_PROBE_ORG_ID, NIGHTWATCH_PROBE_NAME, and NIGHTWATCH_PROBE_REGION are required")
		os.Exit(1)
	}

	client := probeproto.NewClient(cfg.ProbeAgent.CoreURL, cfg.ProbeAgent.Token)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if client.Token() == "" {
		regCtx, regCancel := context.WithTimeout(ctx, 30*time.Second)
		err := client.Register(regCtx, orgID, name, region)
		regCancel()
		if err != nil {
			log.Error("probeagent: failed to register with core", "error", err)
			os.Exit(1)
		}
		log.Info("probeagent: registered", "name", name, "region", region)
	}

	registry := executor.NewRegistry()
	stats := &jobStats{}

	heartbeatInterval := time.Duration(cfg.ProbeAgent.HeartbeatMs) * time.Millisecond
	selfCheck := probeproto.NewSelfCheck(client, heartbeatInterval, log)
	selfCheck.Start(func() probeproto.HeartbeatRequest {
		return collectTelemetry(stats)
	})
	defer selfCheck.Stop()

	pollInterval := time.Duration(cfg.ProbeAgent.PollIntervalMs) * time.Millisecond
	batchSize := cfg.ProbeAgent.JobBatchSize
	if batchSize <= 0 {
		batchSize = 10
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	log.Info("probeagent: entering claim loop", "poll_interval", pollInterval, "region", region)

	for {
		select {
		case <-quit:
			log.Info("probeagent: shutting down")
			return
		case <-ticker.C:
			runClaimCycle(ctx, client, registry, region, batchSize, stats, log)
		}
	}
}

func runClaimCycle(ctx context.Context, client *probeproto.Client, registry *executor.Registry, region string, batchSize int, stats *jobStats, log *slog.Logger) {
	claimCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	resp, err := client.Claim(claimCtx, batchSize)
	cancel()
	if err != nil {
		log.Debug("probeagent: claim failed", "error", err)
		return
	}

	for _, job := range resp.Jobs {
		stats.begin()

		ex, cerr := registry.For(job.Job.Type)
		var result executor.CheckResult
		if cerr != nil {
			result = executor.CheckResult{
				Status:       executor.StatusError,
				ErrorCode:    cerr.Reason,
				ErrorMessage: cerr.Error(),
				CheckedAt:    time.Now(),
			}
		} else {
			runCtx, runCancel := context.WithTimeout(ctx, time.Duration(job.Job.TimeoutMs+5000)*time.Millisecond)
			var rerr *executor.ControlError
			result, rerr = executor.Run(runCtx, ex, job.Job)
			runCancel()
			if rerr != nil {
				result = executor.CheckResult{
					Status:       executor.StatusError,
					ErrorCode:    rerr.Reason,
					ErrorMessage: rerr.Error(),
					CheckedAt:    time.Now(),
				}
			}
		}
		stats.finish(result.Status == executor.StatusUp, result.ResponseTime)

		submitCtx, submitCancel := context.WithTimeout(ctx, 30*time.Second)
		err := client.SubmitResult(submitCtx, probeproto.SubmitResultRequest{
			JobID:     job.JobID,
			MonitorID: job.MonitorID,
			Region:    region,
			Result:    result,
		})
		submitCancel()
		if err != nil {
			log.Error("probeagent: failed to submit result", "job_id", job.JobID, "error", err)
		}
	}
}

func collectTelemetry(stats *jobStats) probeproto.HeartbeatRequest {
	req := probeproto.HeartbeatRequest{Version: agentVersion}

	if percents, err := cpu.Percent(0, false); err == nil && len(percents) > 0 {
		req.CPUUsage = percents[0]
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		req.MemoryUsage = vm.UsedPercent
	}

	active, completed, failed, avgResponseMs := stats.snapshot()
	req.ActiveJobs = active
	req.CompletedJobs = completed
	req.FailedJobs = failed
	req.AvgResponseTime = avgResponseMs
	return req
}
