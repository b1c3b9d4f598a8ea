// Package scheduler implements the Scheduler component (spec.md §4.1):
// a main selection loop plus six independent timers (maintenance
// notifications, hourly/daily aggregation, certificate re-check, probe
// health, cleanup/retention), generalized from the teacher's
// `ProbeMonitor.monitoringLoop`/`alertingLoop`/`cleanupLoop` trio
// (pkg/probe/probe.go) into a single timer-table driven by a
// []scheduledTimer slice, each with its own jittered first-tick delay so
// six timers don't all fire in lockstep on startup.
package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/nightwatch/nightwatch/pkg/aggregator"
	"github.com/nightwatch/nightwatch/pkg/config"
	"github.com/nightwatch/nightwatch/pkg/credentials"
	"github.com/nightwatch/nightwatch/pkg/database"
	"github.com/nightwatch/nightwatch/pkg/executor"
	"github.com/nightwatch/nightwatch/pkg/maintenance"
	"github.com/nightwatch/nightwatch/pkg/queue"
)

// QueueNameForMonitorType returns the protocol queue a monitor's check
// job is enqueued onto — one queue per protocol family, each bound to
// its own WorkerPool and concurrency limit (spec.md §4.3's table).
func QueueNameForMonitorType(monitorType string) string {
	return "check:" + monitorType
}

// scheduledTimer is one independent ticker-driven loop the scheduler
// runs alongside the main selection loop.
type scheduledTimer struct {
	name     string
	interval time.Duration
	run      func(ctx context.Context, now time.Time)
}

// Scheduler runs the main due-monitor selection loop and every
// secondary timer.
type Scheduler struct {
	db          *database.DB
	registry    *queue.Registry
	aggregator  *aggregator.Aggregator
	maintenance *maintenance.Service
	credBox     *credentials.Box
	cfg         config.SchedulerConfig
	retention   config.RetentionConfig
	log         *slog.Logger

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// New constructs a Scheduler.
func New(db *database.DB, registry *queue.Registry, agg *aggregator.Aggregator, maint *maintenance.Service, credBox *credentials.Box, cfg config.SchedulerConfig, retention config.RetentionConfig, log *slog.Logger) *Scheduler {
	return &Scheduler{
		db:          db,
		registry:    registry,
		aggregator:  agg,
		maintenance: maint,
		credBox:     credBox,
		cfg:         cfg,
		retention:   retention,
		log:         log,
	}
}

// Start launches the main loop and every secondary timer, each in its
// own goroutine, with a jittered first tick so they don't all collide on
// startup.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.wg.Add(1)
	go s.runMainLoop(ctx, time.Duration(s.cfg.PollIntervalSeconds)*time.Second)

	for _, t := range s.timers() {
		s.wg.Add(1)
		go s.runTimer(ctx, t)
	}
}

// Stop cancels every running loop and waits for them to exit.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

func (s *Scheduler) timers() []scheduledTimer {
	return []scheduledTimer{
		{
			name:     "maintenance_notify",
			interval: time.Duration(s.cfg.MaintenanceNotifyIntervalSeconds) * time.Second,
			run: func(ctx context.Context, now time.Time) {
				if err := s.maintenance.Run(ctx, now); err != nil {
					s.log.Error("scheduler: maintenance notify failed", "error", err)
				}
			},
		},
		{
			name:     "hourly_aggregation",
			interval: time.Duration(s.cfg.HourlyAggregationIntervalSeconds) * time.Second,
			run: func(ctx context.Context, now time.Time) {
				bucket := now.Add(-time.Hour)
				if err := s.aggregator.RunHourly(ctx, bucket); err != nil {
					s.log.Error("scheduler: hourly aggregation failed", "error", err)
				}
			},
		},
		{
			name:     "daily_aggregation",
			interval: time.Duration(s.cfg.DailyAggregationIntervalSeconds) * time.Second,
			run: func(ctx context.Context, now time.Time) {
				bucket := now.AddDate(0, 0, -1)
				if err := s.aggregator.RunDaily(ctx, bucket); err != nil {
					s.log.Error("scheduler: daily aggregation failed", "error", err)
				}
			},
		},
		{
			name:     "certificate_recheck",
			interval: time.Duration(s.cfg.CertificateRecheckIntervalHours) * time.Hour,
			run:      s.runCertificateRecheck,
		},
		{
			name:     "probe_health",
			interval: time.Duration(s.cfg.ProbeHealthIntervalSeconds) * time.Second,
			run:      s.runProbeHealth,
		},
		{
			name:     "cleanup",
			interval: time.Duration(s.retention.CleanupIntervalMins) * time.Minute,
			run:      s.runCleanup,
		},
	}
}

func (s *Scheduler) runTimer(ctx context.Context, t scheduledTimer) {
	defer s.wg.Done()

	// Jittered first tick: up to one full interval, so six timers started
	// together don't all run on the same instant.
	jitter := time.Duration(rand.Int63n(int64(t.interval)))
	select {
	case <-ctx.Done():
		return
	case <-time.After(jitter):
	}

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	t.run(ctx, time.Now())
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			t.run(ctx, now)
		}
	}
}

// runMainLoop is the Scheduler's core cadence: every poll interval,
// select due monitors (excluding those under active maintenance),
// resolve each to a protocol queue or a probe assignment, and enqueue.
func (s *Scheduler) runMainLoop(ctx context.Context, interval time.Duration) {
	defer s.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	now := time.Now()

	excludeIDs, err := s.maintenanceExclusionSet(now)
	if err != nil {
		s.log.Error("scheduler: failed to build maintenance exclusion set", "error", err)
		excludeIDs = nil
	}

	monitors, err := s.db.Monitors().DueForCheck(now, excludeIDs)
	if err != nil {
		s.log.Error("scheduler: failed to select due monitors", "error", err)
		return
	}

	for _, m := range monitors {
		if m.IsPassive() {
			// Passive monitor types advance their schedule without ever being
			// enqueued onto a protocol queue (spec.md §4.1 step 4).
			if err := s.db.Monitors().AdvanceNextCheck(m.ID, now, m.IntervalSeconds); err != nil {
				s.log.Error("scheduler: failed to advance passive monitor schedule", "monitor_id", m.ID, "error", err)
			}
			continue
		}
		if err := s.dispatch(ctx, m, now); err != nil {
			s.log.Error("scheduler: failed to dispatch monitor check", "monitor_id", m.ID, "error", err)
			continue
		}
		if err := s.db.Monitors().AdvanceNextCheck(m.ID, now, m.IntervalSeconds); err != nil {
			s.log.Error("scheduler: failed to advance monitor schedule", "monitor_id", m.ID, "error", err)
		}
	}
}

// maintenanceExclusionSet collects every monitor id covered by a
// currently-active maintenance window.
func (s *Scheduler) maintenanceExclusionSet(now time.Time) ([]string, error) {
	active, err := s.db.MaintenanceWindows().Active(now)
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, w := range active {
		ids = append(ids, w.AffectedMonitors...)
	}
	return ids, nil
}

// dispatch resolves a monitor to either an in-process protocol queue job
// or an exclusive probe assignment, decrypting its credential fields
// before the job is ever enqueued (spec.md §4.2, §5 — plaintext must
// never be stored at rest).
func (s *Scheduler) dispatch(ctx context.Context, m *database.Monitor, now time.Time) error {
	cfg := map[string]interface{}(m.Config)
	if s.credBox != nil {
		decrypted, err := s.credBox.DecryptConfig(cfg)
		if err != nil {
			s.log.Error("scheduler: credential decrypt failed, falling back to platform defaults", "monitor_id", m.ID, "error", err)
		} else {
			cfg = decrypted
		}
	}

	job := executor.Job{
		MonitorID:  m.ID,
		Type:       m.Type,
		Target:     m.URL,
		TimeoutMs:  m.TimeoutMs,
		Config:     cfg,
		Assertions: parseAssertions(m.Assertions),
	}

	assignments, err := s.db.Monitors().Assignments(m.ID)
	if err != nil {
		return fmt.Errorf("failed to load probe assignments: %w", err)
	}
	if len(assignments) > 0 {
		return s.dispatchToAssignedProbes(m, assignments, job, now)
	}

	// Natural-dedupe job id: {monitorId}-{now.epochMs}. Adding the same id
	// again while that job is still pending does not enqueue it twice.
	jobID := fmt.Sprintf("%s-%d", m.ID, now.UnixMilli())
	_, err = s.registry.Add(ctx, QueueNameForMonitorType(m.Type), job, queue.AddOptions{
		JobID:            jobID,
		Attempts:         1,
		RemoveOnComplete: 100,
		RemoveOnFail:     100,
	})
	return err
}

// dispatchToAssignedProbes routes a monitor with one or more
// ProbeAssignment rows through the remote probe protocol instead of the
// local protocol queue (spec.md §4.7). An active exclusive assignee wins
// outright; with no exclusive assignee, every active assignee gets its
// own ProbePendingJob (redundant checks across all assigned regions); if
// every assignee is offline, no job is enqueued at all, but that is not
// treated as a dispatch failure so the caller still advances the
// monitor's nextCheckAt instead of retrying it every tick.
func (s *Scheduler) dispatchToAssignedProbes(m *database.Monitor, assignments []*database.ProbeAssignment, job executor.Job, now time.Time) error {
	var exclusive *database.ProbeAssignment
	var active []*database.ProbeAssignment
	for _, a := range assignments {
		probe, err := s.db.Probes().GetByID(a.ProbeID)
		if err != nil || probe == nil || probe.Status != database.ProbeStatusActive {
			continue
		}
		active = append(active, a)
		if a.Exclusive && exclusive == nil {
			exclusive = a
		}
	}

	if exclusive != nil {
		return s.dispatchToProbe(m, exclusive, job, now)
	}

	if len(active) == 0 {
		s.log.Warn("scheduler: all assigned probes offline, skipping check", "monitor_id", m.ID)
		return nil
	}

	var firstErr error
	for _, a := range active {
		if err := s.dispatchToProbe(m, a, job, now); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (s *Scheduler) dispatchToProbe(m *database.Monitor, a *database.ProbeAssignment, job executor.Job, now time.Time) error {
	data, err := jsonMap(job)
	if err != nil {
		return err
	}
	pending := &database.ProbePendingJob{
		ProbeID:   a.ProbeID,
		MonitorID: m.ID,
		JobData:   data,
		Status:    database.ProbeJobStatusPending,
		ExpiresAt: now.Add(5 * time.Minute),
	}
	return s.db.Probes().CreatePendingJob(pending)
}

func (s *Scheduler) runCertificateRecheck(ctx context.Context, now time.Time) {
	monitors, err := s.db.Monitors().ListForCertificateRecheck()
	if err != nil {
		s.log.Error("scheduler: failed to list certificate-recheck monitors", "error", err)
		return
	}
	for _, m := range monitors {
		job := executor.Job{MonitorID: m.ID, Type: "ssl", Target: m.URL, TimeoutMs: m.TimeoutMs, Config: map[string]interface{}(m.Config)}
		jobID := fmt.Sprintf("%s:ssl:%d", m.ID, now.Truncate(24*time.Hour).Unix())
		if _, err := s.registry.Add(ctx, QueueNameForMonitorType("ssl"), job, queue.AddOptions{JobID: jobID, Attempts: 1}); err != nil {
			s.log.Error("scheduler: failed to enqueue certificate recheck", "monitor_id", m.ID, "error", err)
		}
	}
}

func (s *Scheduler) runProbeHealth(ctx context.Context, now time.Time) {
	cutoff := now.Add(-2 * time.Minute)
	if n, err := s.db.Probes().MarkStaleOffline(cutoff); err != nil {
		s.log.Error("scheduler: failed to mark stale probes offline", "error", err)
	} else if n > 0 {
		s.log.Info("scheduler: marked probes offline", "count", n)
	}

	if n, err := s.db.Probes().ReapExpired(now); err != nil {
		s.log.Error("scheduler: failed to reap expired probe jobs", "error", err)
	} else if n > 0 {
		s.log.Info("scheduler: reaped expired probe jobs", "count", n)
	}
}

func (s *Scheduler) runCleanup(ctx context.Context, now time.Time) {
	if n, err := s.db.CheckResults().DeleteOlderThan(now.AddDate(0, 0, -s.retention.CheckResultDays)); err != nil {
		s.log.Error("scheduler: cleanup of check results failed", "error", err)
	} else if n > 0 {
		s.log.Info("scheduler: cleaned up check results", "count", n)
	}

	if n, err := s.db.Heartbeats().DeleteOlderThan(now.AddDate(0, 0, -s.retention.HeartbeatDays)); err != nil {
		s.log.Error("scheduler: cleanup of heartbeat pings failed", "error", err)
	} else if n > 0 {
		s.log.Info("scheduler: cleaned up heartbeat pings", "count", n)
	}

	if n, err := s.db.AlertHistoryRepo().DeleteResolvedOlderThan(now.AddDate(0, 0, -s.retention.ResolvedAlertDays)); err != nil {
		s.log.Error("scheduler: cleanup of resolved alerts failed", "error", err)
	} else if n > 0 {
		s.log.Info("scheduler: cleaned up resolved alerts", "count", n)
	}
}

// jsonMap round-trips an executor.Job through JSON into a database.JSONMap,
// the flat encoding handleClaim's counterpart on the probe side expects
// (pkg/probeproto/server.go's handleClaim unmarshals it straight back into
// an executor.Job).
func jsonMap(job executor.Job) (database.JSONMap, error) {
	raw, err := json.Marshal(job)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal job for probe dispatch: %w", err)
	}
	var m database.JSONMap
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("failed to decode job for probe dispatch: %w", err)
	}
	return m, nil
}

func parseAssertions(raw database.JSONArray) []executor.Assertion {
	assertions := make([]executor.Assertion, 0, len(raw))
	for _, item := range raw {
		m, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		a := executor.Assertion{}
		if v, ok := m["kind"].(string); ok {
			a.Kind = v
		}
		if v, ok := m["target"].(string); ok {
			a.Target = v
		}
		if v, ok := m["expected"].(string); ok {
			a.Expected = v
		}
		assertions = append(assertions, a)
	}
	return assertions
}
