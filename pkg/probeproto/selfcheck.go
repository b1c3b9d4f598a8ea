package probeproto

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// SelfCheck supervises the agent's own connectivity to the core,
// adapted from the teacher's HealthChecker ticker/waitgroup loop shape —
// here narrowed from "poll N registered services" down to "poll the one
// core this agent reports to", tracking consecutive failures so the
// agent can log a degraded-connectivity warning before a human notices
// missed checks.
type SelfCheck struct {
	client          *Client
	interval        time.Duration
	log             *slog.Logger
	ctx             context.Context
	cancel          context.CancelFunc
	wg              sync.WaitGroup
	consecutiveFail int
}

// NewSelfCheck constructs a SelfCheck that heartbeats the core every
// interval.
func NewSelfCheck(client *Client, interval time.Duration, log *slog.Logger) *SelfCheck {
	ctx, cancel := context.WithCancel(context.Background())
	return &SelfCheck{client: client, interval: interval, log: log, ctx: ctx, cancel: cancel}
}

// Start begins the background heartbeat loop.
func (s *SelfCheck) Start(telemetry func() HeartbeatRequest) {
	s.wg.Add(1)
	go s.run(telemetry)
}

// Stop halts the loop and waits for it to exit.
func (s *SelfCheck) Stop() {
	s.cancel()
	s.wg.Wait()
}

func (s *SelfCheck) run(telemetry func() HeartbeatRequest) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.beat(telemetry)
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.beat(telemetry)
		}
	}
}

func (s *SelfCheck) beat(telemetry func() HeartbeatRequest) {
	ctx, cancel := context.WithTimeout(s.ctx, s.interval)
	defer cancel()

	if err := s.client.Heartbeat(ctx, telemetry()); err != nil {
		s.consecutiveFail++
		if s.consecutiveFail == 3 {
			s.log.Warn("probeagent: lost connectivity to core", "consecutive_failures", s.consecutiveFail, "error", err)
		} else {
			s.log.Debug("probeagent: heartbeat failed", "error", err)
		}
		return
	}
	if s.consecutiveFail >= 3 {
		s.log.Info("probeagent: connectivity to core restored")
	}
	s.consecutiveFail = 0
}
