package database

import (
	"fmt"
	"time"

	"github.com/nightwatch/nightwatch/internal/idgen"
)

// OrganizationRepository provides database operations for organizations,
// the same thin-repository shape as the teacher's UserRepository.
type OrganizationRepository struct{ db *DB }

func (r *OrganizationRepository) Create(o *Organization) error {
	if o.ID == "" {
		o.ID = idgen.New(idgen.KindOrg)
	}
	query := `INSERT INTO organizations (id, name, settings) VALUES (:id, :name, :settings)`
	_, err := r.db.NamedExec(query, o)
	if err != nil {
		return fmt.Errorf("failed to create organization: %w", err)
	}
	return nil
}

func (r *OrganizationRepository) GetByID(id string) (*Organization, error) {
	var o Organization
	if err := r.db.Get(&o, `SELECT * FROM organizations WHERE id = $1`, id); err != nil {
		return nil, fmt.Errorf("failed to get organization: %w", err)
	}
	return &o, nil
}

// MonitorRepository provides database operations for monitors, generalizing
// the teacher's probe CRUD (pkg/probe/probe.go's loadProbes/createProbe).
type MonitorRepository struct{ db *DB }

func (r *MonitorRepository) Create(m *Monitor) error {
	if m.ID == "" {
		m.ID = idgen.New(idgen.KindMonitor)
	}
	query := `
		INSERT INTO monitors (id, org_id, name, type, url, method, headers, body,
			interval_seconds, timeout_ms, degraded_threshold_ms, assertions, config,
			regions, paused, status, next_check_at)
		VALUES (:id, :org_id, :name, :type, :url, :method, :headers, :body,
			:interval_seconds, :timeout_ms, :degraded_threshold_ms, :assertions, :config,
			:regions, :paused, :status, :next_check_at)
	`
	_, err := r.db.NamedExec(query, m)
	if err != nil {
		return fmt.Errorf("failed to create monitor: %w", err)
	}
	return nil
}

func (r *MonitorRepository) GetByID(id string) (*Monitor, error) {
	var m Monitor
	if err := r.db.Get(&m, `SELECT * FROM monitors WHERE id = $1`, id); err != nil {
		return nil, fmt.Errorf("failed to get monitor: %w", err)
	}
	return &m, nil
}

// DueForCheck selects monitors ready for a regular scheduling tick,
// excluding ssl (its own 24h cadence, §4.1) and any monitor id present in
// excludeIDs (the maintenance-window exclusion set).
func (r *MonitorRepository) DueForCheck(now time.Time, excludeIDs []string) ([]*Monitor, error) {
	query := `
		SELECT * FROM monitors
		WHERE paused = FALSE AND next_check_at <= $1 AND type <> 'ssl'
		  AND NOT (id = ANY($2))
		ORDER BY next_check_at ASC
	`
	var monitors []*Monitor
	if excludeIDs == nil {
		excludeIDs = []string{}
	}
	if err := r.db.Select(&monitors, query, now, StringArray(excludeIDs)); err != nil {
		return nil, fmt.Errorf("failed to select due monitors: %w", err)
	}
	return monitors, nil
}

// AdvanceNextCheck sets nextCheckAt = now+interval and lastCheckedAt = now,
// the fence invariant from §4.1 that prevents double-enqueue within a tick.
func (r *MonitorRepository) AdvanceNextCheck(id string, now time.Time, intervalSeconds int) error {
	query := `
		UPDATE monitors
		SET next_check_at = $1 + ($2 * INTERVAL '1 second'), last_checked_at = $1
		WHERE id = $3
	`
	_, err := r.db.Exec(query, now, intervalSeconds, id)
	if err != nil {
		return fmt.Errorf("failed to advance monitor schedule: %w", err)
	}
	return nil
}

// UpdateStatus updates the coarse Monitor.status per Result Ingest step 3.
func (r *MonitorRepository) UpdateStatus(id, status string, checkedAt time.Time) error {
	query := `UPDATE monitors SET status = $1, last_checked_at = $2 WHERE id = $3`
	_, err := r.db.Exec(query, status, checkedAt, id)
	if err != nil {
		return fmt.Errorf("failed to update monitor status: %w", err)
	}
	return nil
}

// ListByIDs fetches monitors by id, used by the aggregate executor and the
// incident correlator.
func (r *MonitorRepository) ListByIDs(ids []string) ([]*Monitor, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var monitors []*Monitor
	query := `SELECT * FROM monitors WHERE id = ANY($1)`
	if err := r.db.Select(&monitors, query, StringArray(ids)); err != nil {
		return nil, fmt.Errorf("failed to list monitors: %w", err)
	}
	return monitors, nil
}

// ListForCertificateRecheck returns https/ssl monitors due for the 24h
// certificate re-check timer.
func (r *MonitorRepository) ListForCertificateRecheck() ([]*Monitor, error) {
	var monitors []*Monitor
	query := `SELECT * FROM monitors WHERE paused = FALSE AND (type = 'ssl' OR type = 'http') AND url LIKE 'https://%'`
	if err := r.db.Select(&monitors, query); err != nil {
		return nil, fmt.Errorf("failed to list certificate-recheck monitors: %w", err)
	}
	return monitors, nil
}

// ListActive returns all non-paused monitors, used by the hourly/daily
// aggregation timers to decide which (monitor, bucket) pairs to enqueue.
func (r *MonitorRepository) ListActive() ([]*Monitor, error) {
	var monitors []*Monitor
	if err := r.db.Select(&monitors, `SELECT * FROM monitors WHERE paused = FALSE`); err != nil {
		return nil, fmt.Errorf("failed to list active monitors: %w", err)
	}
	return monitors, nil
}

// Assignments returns the ProbeAssignment rows for a monitor.
func (r *MonitorRepository) Assignments(monitorID string) ([]*ProbeAssignment, error) {
	var rows []*ProbeAssignment
	query := `SELECT * FROM probe_assignments WHERE monitor_id = $1 ORDER BY priority DESC`
	if err := r.db.Select(&rows, query, monitorID); err != nil {
		return nil, fmt.Errorf("failed to list probe assignments: %w", err)
	}
	return rows, nil
}

// CheckResultRepository provides database operations for check results.
type CheckResultRepository struct{ db *DB }

func (r *CheckResultRepository) Insert(cr *CheckResult) error {
	if cr.ID == "" {
		cr.ID = idgen.New(idgen.KindCheckResult)
	}
	query := `
		INSERT INTO check_results (id, monitor_id, region, status, response_time_ms,
			dns_time_ms, tcp_time_ms, tls_time_ms, error_message, error_code, payload, incident_id)
		VALUES (:id, :monitor_id, :region, :status, :response_time_ms,
			:dns_time_ms, :tcp_time_ms, :tls_time_ms, :error_message, :error_code, :payload, :incident_id)
	`
	_, err := r.db.NamedExec(query, cr)
	if err != nil {
		return fmt.Errorf("failed to insert check result: %w", err)
	}
	return nil
}

func (r *CheckResultRepository) LinkIncident(id, incidentID string) error {
	_, err := r.db.Exec(`UPDATE check_results SET incident_id = $1 WHERE id = $2`, incidentID, id)
	if err != nil {
		return fmt.Errorf("failed to link check result to incident: %w", err)
	}
	return nil
}

// RecentForMonitor returns the last n CheckResults for a monitor, ordered
// newest-first, used by the alert evaluator's consecutiveFailures and
// consecutiveSuccesses conditions.
func (r *CheckResultRepository) RecentForMonitor(monitorID string, n int) ([]*CheckResult, error) {
	var results []*CheckResult
	query := `SELECT * FROM check_results WHERE monitor_id = $1 ORDER BY created_at DESC LIMIT $2`
	if err := r.db.Select(&results, query, monitorID, n); err != nil {
		return nil, fmt.Errorf("failed to select recent check results: %w", err)
	}
	return results, nil
}

// CountInWindow counts failing results within a trailing window, used by
// the failuresInWindow condition.
func (r *CheckResultRepository) CountInWindow(monitorID string, since time.Time) (int, error) {
	var count int
	query := `
		SELECT COUNT(*) FROM check_results
		WHERE monitor_id = $1 AND created_at >= $2 AND status IN ('failure','timeout','error')
	`
	if err := r.db.Get(&count, query, monitorID, since); err != nil {
		return 0, fmt.Errorf("failed to count check results in window: %w", err)
	}
	return count, nil
}

// WithinRange returns every check result for a monitor with created_at in
// [from, to), oldest first, used by degradedDuration evaluation and
// hourly aggregation.
func (r *CheckResultRepository) WithinRange(monitorID string, from, to time.Time) ([]*CheckResult, error) {
	var results []*CheckResult
	query := `
		SELECT * FROM check_results
		WHERE monitor_id = $1 AND created_at >= $2 AND created_at < $3
		ORDER BY created_at ASC
	`
	if err := r.db.Select(&results, query, monitorID, from, to); err != nil {
		return nil, fmt.Errorf("failed to select check results in range: %w", err)
	}
	return results, nil
}

// DeleteOlderThan deletes raw results beyond the retention cutoff.
func (r *CheckResultRepository) DeleteOlderThan(cutoff time.Time) (int64, error) {
	res, err := r.db.Exec(`DELETE FROM check_results WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old check results: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// HeartbeatRepository provides database operations for heartbeat pings.
type HeartbeatRepository struct{ db *DB }

func (r *HeartbeatRepository) Insert(hb *HeartbeatPing) error {
	if hb.ID == "" {
		hb.ID = idgen.New(idgen.KindHeartbeat)
	}
	query := `
		INSERT INTO heartbeat_pings (id, monitor_id, status, duration_ms, exit_code)
		VALUES (:id, :monitor_id, :status, :duration_ms, :exit_code)
	`
	_, err := r.db.NamedExec(query, hb)
	if err != nil {
		return fmt.Errorf("failed to insert heartbeat ping: %w", err)
	}
	return nil
}

func (r *HeartbeatRepository) Latest(monitorID string) (*HeartbeatPing, error) {
	var hb HeartbeatPing
	query := `SELECT * FROM heartbeat_pings WHERE monitor_id = $1 ORDER BY created_at DESC LIMIT 1`
	if err := r.db.Get(&hb, query, monitorID); err != nil {
		return nil, err
	}
	return &hb, nil
}

func (r *HeartbeatRepository) DeleteOlderThan(cutoff time.Time) (int64, error) {
	res, err := r.db.Exec(`DELETE FROM heartbeat_pings WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old heartbeat pings: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// RollupRepository provides the upsert-on-PK operations the aggregator
// needs for both hourly and daily rollups (spec.md §4.6, §8).
type RollupRepository struct{ db *DB }

func (r *RollupRepository) upsert(table string, row *RollupRow) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (monitor_id, region, bucket_start, avg_response_time_ms,
			min_response_time_ms, max_response_time_ms, p50_response_time_ms,
			p75_response_time_ms, p90_response_time_ms, p95_response_time_ms,
			p99_response_time_ms, success_count, degraded_count, failure_count,
			total_count, uptime_percentage)
		VALUES (:monitor_id, :region, :bucket_start, :avg_response_time_ms,
			:min_response_time_ms, :max_response_time_ms, :p50_response_time_ms,
			:p75_response_time_ms, :p90_response_time_ms, :p95_response_time_ms,
			:p99_response_time_ms, :success_count, :degraded_count, :failure_count,
			:total_count, :uptime_percentage)
		ON CONFLICT (monitor_id, region, bucket_start) DO UPDATE SET
			avg_response_time_ms = EXCLUDED.avg_response_time_ms,
			min_response_time_ms = EXCLUDED.min_response_time_ms,
			max_response_time_ms = EXCLUDED.max_response_time_ms,
			p50_response_time_ms = EXCLUDED.p50_response_time_ms,
			p75_response_time_ms = EXCLUDED.p75_response_time_ms,
			p90_response_time_ms = EXCLUDED.p90_response_time_ms,
			p95_response_time_ms = EXCLUDED.p95_response_time_ms,
			p99_response_time_ms = EXCLUDED.p99_response_time_ms,
			success_count = EXCLUDED.success_count,
			degraded_count = EXCLUDED.degraded_count,
			failure_count = EXCLUDED.failure_count,
			total_count = EXCLUDED.total_count,
			uptime_percentage = EXCLUDED.uptime_percentage
	`, table)
	_, err := r.db.NamedExec(query, row)
	return err
}

func (r *RollupRepository) UpsertHourly(row *RollupRow) error {
	if err := r.upsert("check_results_hourly", row); err != nil {
		return fmt.Errorf("failed to upsert hourly rollup: %w", err)
	}
	return nil
}

func (r *RollupRepository) UpsertDaily(row *RollupRow) error {
	if err := r.upsert("check_results_daily", row); err != nil {
		return fmt.Errorf("failed to upsert daily rollup: %w", err)
	}
	return nil
}

func (r *RollupRepository) HourlyInRange(monitorID string, from, to time.Time) ([]*RollupRow, error) {
	var rows []*RollupRow
	query := `
		SELECT * FROM check_results_hourly
		WHERE monitor_id = $1 AND bucket_start >= $2 AND bucket_start < $3
		ORDER BY region, bucket_start ASC
	`
	if err := r.db.Select(&rows, query, monitorID, from, to); err != nil {
		return nil, fmt.Errorf("failed to select hourly rollups: %w", err)
	}
	return rows, nil
}

// AlertPolicyRepository provides database operations for alert policies.
type AlertPolicyRepository struct{ db *DB }

func (r *AlertPolicyRepository) Create(p *AlertPolicy) error {
	if p.ID == "" {
		p.ID = idgen.New(idgen.KindAlertPolicy)
	}
	query := `
		INSERT INTO alert_policies (id, org_id, name, enabled, conditions, channels,
			cooldown_minutes, escalation_policy_id, oncall_rotation_id)
		VALUES (:id, :org_id, :name, :enabled, :conditions, :channels,
			:cooldown_minutes, :escalation_policy_id, :oncall_rotation_id)
	`
	_, err := r.db.NamedExec(query, p)
	if err != nil {
		return fmt.Errorf("failed to create alert policy: %w", err)
	}
	return nil
}

// ForMonitor selects all policies linked to the monitor UNIONed with all
// org-wide policies (those with no link rows at all), deduplicated by id —
// exactly the selection rule of spec.md §4.4.
func (r *AlertPolicyRepository) ForMonitor(monitorID, orgID string) ([]*AlertPolicy, error) {
	query := `
		SELECT p.* FROM alert_policies p
		JOIN monitor_alert_policies map ON map.policy_id = p.id
		WHERE map.monitor_id = $1 AND p.enabled = TRUE
		UNION
		SELECT p.* FROM alert_policies p
		WHERE p.org_id = $2 AND p.enabled = TRUE
		  AND NOT EXISTS (SELECT 1 FROM monitor_alert_policies map2 WHERE map2.policy_id = p.id)
	`
	var policies []*AlertPolicy
	if err := r.db.Select(&policies, query, monitorID, orgID); err != nil {
		return nil, fmt.Errorf("failed to select policies for monitor: %w", err)
	}
	return policies, nil
}

// AlertHistoryRepository provides database operations for alert history.
type AlertHistoryRepository struct{ db *DB }

// OpenAlert returns the current triggered AlertHistory for (policy, monitor),
// or nil if none is open.
func (r *AlertHistoryRepository) OpenAlert(policyID, monitorID string) (*AlertHistory, error) {
	var h AlertHistory
	query := `SELECT * FROM alert_history WHERE policy_id = $1 AND monitor_id = $2 AND status = 'triggered'`
	if err := r.db.Get(&h, query, policyID, monitorID); err != nil {
		return nil, err
	}
	return &h, nil
}

// LastResolved returns the most recently resolved AlertHistory for
// (policy, monitor), used by the cooldown check (measured from resolvedAt).
func (r *AlertHistoryRepository) LastResolved(policyID, monitorID string) (*AlertHistory, error) {
	var h AlertHistory
	query := `
		SELECT * FROM alert_history
		WHERE policy_id = $1 AND monitor_id = $2 AND status = 'resolved'
		ORDER BY resolved_at DESC LIMIT 1
	`
	if err := r.db.Get(&h, query, policyID, monitorID); err != nil {
		return nil, err
	}
	return &h, nil
}

// Fire inserts a new triggered AlertHistory and reports whether it did. If
// a concurrent writer beat this one to it, the ON CONFLICT clause (backed
// by the partial unique index in schema.sql) leaves the existing row's
// metadata unchanged and Fire returns false; the caller then coalesces
// into that row.
func (r *AlertHistoryRepository) Fire(h *AlertHistory) (bool, error) {
	if h.ID == "" {
		h.ID = idgen.New(idgen.KindAlertHistory)
	}
	query := `
		INSERT INTO alert_history (id, org_id, monitor_id, policy_id, status, triggered_at, metadata)
		VALUES (:id, :org_id, :monitor_id, :policy_id, 'triggered', :triggered_at, :metadata)
		ON CONFLICT (policy_id, monitor_id) WHERE status = 'triggered' DO UPDATE SET
			metadata = alert_history.metadata
		RETURNING (xmax = 0) AS inserted
	`
	rows, err := r.db.NamedQuery(query, h)
	if err != nil {
		return false, fmt.Errorf("failed to fire alert: %w", err)
	}
	defer rows.Close()
	inserted := false
	if rows.Next() {
		_ = rows.Scan(&inserted)
	}
	return inserted, nil
}

// Coalesce overwrites an open alert's metadata with the already-merged
// metadata it is given (§4.4 step 3); the merge itself is done by the
// caller (alertengine's mergeCoalesceMetadata).
func (r *AlertHistoryRepository) Coalesce(id string, metadata JSONMap) error {
	_, err := r.db.Exec(`UPDATE alert_history SET metadata = $1 WHERE id = $2`, metadata, id)
	if err != nil {
		return fmt.Errorf("failed to coalesce alert: %w", err)
	}
	return nil
}

// Resolve atomically transitions a triggered alert to resolved.
func (r *AlertHistoryRepository) Resolve(id, resolvedBy string, resolvedAt time.Time) error {
	query := `
		UPDATE alert_history SET status = 'resolved', resolved_at = $1, resolved_by = $2
		WHERE id = $3 AND status = 'triggered'
	`
	_, err := r.db.Exec(query, resolvedAt, resolvedBy, id)
	if err != nil {
		return fmt.Errorf("failed to resolve alert: %w", err)
	}
	return nil
}

// DeleteResolvedOlderThan deletes resolved alert history rows beyond the
// retention cutoff, used by the cleanup/retention timer.
func (r *AlertHistoryRepository) DeleteResolvedOlderThan(cutoff time.Time) (int64, error) {
	res, err := r.db.Exec(`DELETE FROM alert_history WHERE status = 'resolved' AND resolved_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old alert history: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// AlertChannelRepository provides database operations for alert channels.
type AlertChannelRepository struct{ db *DB }

func (r *AlertChannelRepository) GetByID(id string) (*AlertChannel, error) {
	var c AlertChannel
	if err := r.db.Get(&c, `SELECT * FROM alert_channels WHERE id = $1`, id); err != nil {
		return nil, fmt.Errorf("failed to get alert channel: %w", err)
	}
	return &c, nil
}

func (r *AlertChannelRepository) ListByIDs(ids []string) ([]*AlertChannel, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var channels []*AlertChannel
	query := `SELECT * FROM alert_channels WHERE id = ANY($1) AND enabled = TRUE`
	if err := r.db.Select(&channels, query, StringArray(ids)); err != nil {
		return nil, fmt.Errorf("failed to list alert channels: %w", err)
	}
	return channels, nil
}

// NotificationLogRepository provides database operations for notification
// delivery logs.
type NotificationLogRepository struct{ db *DB }

func (r *NotificationLogRepository) Insert(log *NotificationLog) error {
	if log.ID == "" {
		log.ID = idgen.New(idgen.KindNotificationLog)
	}
	query := `
		INSERT INTO notification_logs (id, alert_history_id, channel_id, success,
			response_code, error_message, retry_count)
		VALUES (:id, :alert_history_id, :channel_id, :success, :response_code, :error_message, :retry_count)
	`
	_, err := r.db.NamedExec(query, log)
	if err != nil {
		return fmt.Errorf("failed to insert notification log: %w", err)
	}
	return nil
}

// MaintenanceWindowRepository provides database operations for maintenance
// windows.
type MaintenanceWindowRepository struct{ db *DB }

func (r *MaintenanceWindowRepository) Active(now time.Time) ([]*MaintenanceWindow, error) {
	var windows []*MaintenanceWindow
	query := `SELECT * FROM maintenance_windows WHERE starts_at <= $1 AND ends_at > $1`
	if err := r.db.Select(&windows, query, now); err != nil {
		return nil, fmt.Errorf("failed to select active maintenance windows: %w", err)
	}
	return windows, nil
}

// Candidates returns windows whose beforeStart/onStart/onEnd slot could
// still fire around now (endsAt hasn't passed so far that onEnd already
// fired, or startsAt is close enough for a beforeStart notice).
func (r *MaintenanceWindowRepository) Candidates(now time.Time) ([]*MaintenanceWindow, error) {
	var windows []*MaintenanceWindow
	query := `
		SELECT * FROM maintenance_windows
		WHERE ends_at >= $1 - INTERVAL '1 day'
		  AND starts_at <= $1 + INTERVAL '1 day'
	`
	if err := r.db.Select(&windows, query, now); err != nil {
		return nil, fmt.Errorf("failed to select maintenance window candidates: %w", err)
	}
	return windows, nil
}

func (r *MaintenanceWindowRepository) MarkBeforeStartSent(id string, at time.Time) error {
	_, err := r.db.Exec(`UPDATE maintenance_windows SET before_start_sent_at = $1 WHERE id = $2 AND before_start_sent_at IS NULL`, at, id)
	return err
}

func (r *MaintenanceWindowRepository) MarkOnStartSent(id string, at time.Time) error {
	_, err := r.db.Exec(`UPDATE maintenance_windows SET on_start_sent_at = $1 WHERE id = $2 AND on_start_sent_at IS NULL`, at, id)
	return err
}

func (r *MaintenanceWindowRepository) MarkOnEndSent(id string, at time.Time) error {
	_, err := r.db.Exec(`UPDATE maintenance_windows SET on_end_sent_at = $1 WHERE id = $2 AND on_end_sent_at IS NULL`, at, id)
	return err
}

// IncidentRepository provides database operations for incidents.
type IncidentRepository struct{ db *DB }

func (r *IncidentRepository) Create(inc *Incident) error {
	if inc.ID == "" {
		inc.ID = idgen.New(idgen.KindIncident)
	}
	query := `
		INSERT INTO incidents (id, org_id, title, severity, status, started_at, affected_monitors)
		VALUES (:id, :org_id, :title, :severity, :status, :started_at, :affected_monitors)
	`
	_, err := r.db.NamedExec(query, inc)
	if err != nil {
		return fmt.Errorf("failed to create incident: %w", err)
	}
	return nil
}

// ActiveForMonitor returns the open (non-resolved) incident that already
// covers monitorID, if any — used by Result Ingest step 2's idempotent
// link.
func (r *IncidentRepository) ActiveForMonitor(orgID, monitorID string) (*Incident, error) {
	var inc Incident
	query := `
		SELECT * FROM incidents
		WHERE org_id = $1 AND status <> 'resolved' AND $2 = ANY(affected_monitors)
		ORDER BY started_at DESC LIMIT 1
	`
	if err := r.db.Get(&inc, query, orgID, monitorID); err != nil {
		return nil, err
	}
	return &inc, nil
}

// RecentlyDownMonitors returns monitor ids in the org that entered 'down'
// within the window, used by the auto-correlator (SPEC_FULL.md §10).
func (r *IncidentRepository) RecentlyDownMonitors(orgID string, since time.Time) ([]string, error) {
	var ids []string
	query := `
		SELECT DISTINCT monitor_id FROM check_results cr
		JOIN monitors m ON m.id = cr.monitor_id
		WHERE m.org_id = $1 AND cr.created_at >= $2 AND cr.status IN ('failure','timeout','error')
	`
	if err := r.db.Select(&ids, query, orgID, since); err != nil {
		return nil, fmt.Errorf("failed to select recently down monitors: %w", err)
	}
	return ids, nil
}

func (r *IncidentRepository) AddAffectedMonitor(id, monitorID string) error {
	query := `
		UPDATE incidents SET affected_monitors = array_append(affected_monitors, $1)
		WHERE id = $2 AND NOT ($1 = ANY(affected_monitors))
	`
	_, err := r.db.Exec(query, monitorID, id)
	return err
}

// ProbeRepository provides database operations for remote probes.
type ProbeRepository struct{ db *DB }

func (r *ProbeRepository) Create(p *Probe) error {
	if p.ID == "" {
		p.ID = idgen.New(idgen.KindProbe)
	}
	query := `
		INSERT INTO probes (id, org_id, name, token_hash, status)
		VALUES (:id, :org_id, :name, :token_hash, :status)
	`
	_, err := r.db.NamedExec(query, p)
	if err != nil {
		return fmt.Errorf("failed to create probe: %w", err)
	}
	return nil
}

func (r *ProbeRepository) GetByID(id string) (*Probe, error) {
	var p Probe
	if err := r.db.Get(&p, `SELECT * FROM probes WHERE id = $1`, id); err != nil {
		return nil, fmt.Errorf("failed to get probe: %w", err)
	}
	return &p, nil
}

func (r *ProbeRepository) Heartbeat(id string, at time.Time) error {
	query := `UPDATE probes SET last_heartbeat_at = $1, status = 'active' WHERE id = $2`
	_, err := r.db.Exec(query, at, id)
	return err
}

// MarkStaleOffline sets status=offline for probes whose last heartbeat is
// older than the offline threshold (§4.7).
func (r *ProbeRepository) MarkStaleOffline(cutoff time.Time) (int64, error) {
	query := `
		UPDATE probes SET status = 'offline'
		WHERE status = 'active' AND (last_heartbeat_at IS NULL OR last_heartbeat_at < $1)
	`
	res, err := r.db.Exec(query, cutoff)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func (r *ProbeRepository) CreatePendingJob(job *ProbePendingJob) error {
	if job.ID == "" {
		job.ID = idgen.New(idgen.KindProbePendingJob)
	}
	query := `
		INSERT INTO probe_pending_jobs (id, probe_id, monitor_id, job_data, status, expires_at)
		VALUES (:id, :probe_id, :monitor_id, :job_data, :status, :expires_at)
	`
	_, err := r.db.NamedExec(query, job)
	if err != nil {
		return fmt.Errorf("failed to create probe pending job: %w", err)
	}
	return nil
}

// ClaimPendingJobs claims up to batchSize pending jobs for a probe under a
// row lock, skipping rows other claimers already hold
// (`FOR UPDATE SKIP LOCKED`, per spec.md §4.7's claim semantics).
func (r *ProbeRepository) ClaimPendingJobs(probeID string, batchSize int) ([]*ProbePendingJob, error) {
	tx, err := r.db.Beginx()
	if err != nil {
		return nil, fmt.Errorf("failed to begin claim transaction: %w", err)
	}
	defer tx.Rollback()

	var jobs []*ProbePendingJob
	selectQuery := `
		SELECT * FROM probe_pending_jobs
		WHERE probe_id = $1 AND status = 'pending' AND expires_at > now()
		ORDER BY created_at ASC
		LIMIT $2
		FOR UPDATE SKIP LOCKED
	`
	if err := tx.Select(&jobs, selectQuery, probeID, batchSize); err != nil {
		return nil, fmt.Errorf("failed to select claimable jobs: %w", err)
	}
	if len(jobs) == 0 {
		return nil, tx.Commit()
	}

	ids := make([]string, len(jobs))
	for i, j := range jobs {
		ids[i] = j.ID
		j.Status = ProbeJobStatusClaimed
	}
	if _, err := tx.Exec(`UPDATE probe_pending_jobs SET status = 'claimed' WHERE id = ANY($1)`, StringArray(ids)); err != nil {
		return nil, fmt.Errorf("failed to mark jobs claimed: %w", err)
	}
	return jobs, tx.Commit()
}

func (r *ProbeRepository) CompleteJob(id string) error {
	_, err := r.db.Exec(`UPDATE probe_pending_jobs SET status = 'completed' WHERE id = $1`, id)
	return err
}

// ReapExpired deletes pending jobs whose expiry has passed without a claim
// completing, run from the probe-health timer alongside offline detection.
func (r *ProbeRepository) ReapExpired(now time.Time) (int64, error) {
	res, err := r.db.Exec(`DELETE FROM probe_pending_jobs WHERE status <> 'completed' AND expires_at < $1`, now)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return n, nil
}
